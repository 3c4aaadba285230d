package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"a11yscout-mcp-server/internal/llm"
	"a11yscout-mcp-server/internal/probe"
	"a11yscout-mcp-server/internal/recorder"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedLLM answers the intent prompt with intent and any other prompt with analysis.
type scriptedLLM struct {
	mu       sync.Mutex
	intent   string
	analysis string
	err      error
	prompts  []string
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if strings.HasPrefix(prompt, "You are an intent classification system.") {
		return s.intent, nil
	}
	return s.analysis, nil
}

func (s *scriptedLLM) synthesisPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prompts {
		if strings.HasPrefix(p, "You are an expert web accessibility auditor.") {
			return p
		}
	}
	return ""
}

type countingProbe struct {
	action probe.Action
	result any
	err    error
	mu     sync.Mutex
	calls  int
	target string
}

func (p *countingProbe) Action() probe.Action { return p.action }

func (p *countingProbe) Run(ctx context.Context, target string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.target = target
	return p.result, p.err
}

func newProbes() (probe.Set, map[probe.Action]*countingProbe) {
	byAction := map[probe.Action]*countingProbe{
		probe.Crawl:    {action: probe.Crawl, result: map[string]any{"totalLinks": 2}},
		probe.Axe:      {action: probe.Axe, result: map[string]any{"summary": map[string]int{"violations": 1}}},
		probe.Keyboard: {action: probe.Keyboard, result: map[string]any{"tool": "keyboard", "issues": []string{}}},
	}
	set := probe.Set{}
	for a, p := range byAction {
		set[a] = p
	}
	return set, byAction
}

func totalCalls(probes map[probe.Action]*countingProbe) int {
	n := 0
	for _, p := range probes {
		n += p.calls
	}
	return n
}

func newTestAgent(t *testing.T, client llm.Client, set probe.Set) *Agent {
	t.Helper()
	return New(Options{
		LLM:      client,
		Probes:   set,
		Target:   "https://site.test/",
		Archiver: NewArchiver(filepath.Join(t.TempDir(), "reports")),
		Logger:   zap.NewNop(),
	})
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		want      []probe.Action
		malformed bool
	}{
		{"single", `{"actions":["axe"]}`, []probe.Action{probe.Axe}, false},
		{"order kept", `{"actions":["keyboard","crawl"]}`, []probe.Action{probe.Keyboard, probe.Crawl}, false},
		{"duplicates dropped", `{"actions":["axe","crawl","axe"]}`, []probe.Action{probe.Axe, probe.Crawl}, false},
		{"unknown dropped", `{"actions":["screenshot","Keyboard "]}`, []probe.Action{probe.Keyboard}, false},
		{"fenced", "```json\n{ \"actions\": [\"crawl\"] }\n```", []probe.Action{probe.Crawl}, false},
		{"empty list", `{"actions":[]}`, nil, false},
		{"only unknown", `{"actions":["lighthouse", 3]}`, nil, false},
		{"empty object", `{}`, nil, true},
		{"not json", `I think you want an axe scan`, nil, true},
		{"actions not array", `{"actions":"axe"}`, nil, true},
		{"empty reply", ``, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIntent(tt.reply)
			if tt.want != nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrIntent)
			assert.Equal(t, tt.malformed, errors.Is(err, ErrMalformedIntent))
		})
	}
}

func TestResolveEmptyQuery(t *testing.T) {
	client := &scriptedLLM{intent: `{"actions":["axe"]}`}
	_, err := NewResolver(client).Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Empty(t, client.prompts)
}

func TestResolveCredentialError(t *testing.T) {
	client := &scriptedLLM{err: llm.ErrCredential}
	_, err := NewResolver(client).Resolve(context.Background(), "scan")
	assert.ErrorIs(t, err, llm.ErrCredential)
	assert.NotErrorIs(t, err, ErrIntent)
}

func TestDispatchSingleAction(t *testing.T) {
	set, probes := newProbes()
	d := NewDispatcher(set, "https://site.test/", false, nil, zap.NewNop())

	results, err := d.Dispatch(context.Background(), []probe.Action{probe.Axe})
	require.NoError(t, err)

	assert.Equal(t, 1, totalCalls(probes))
	assert.Equal(t, 1, probes[probe.Axe].calls)
	assert.Equal(t, "https://site.test/", probes[probe.Axe].target)
	require.Len(t, results, 1)
	assert.Contains(t, results, probe.Axe)
}

func TestDispatchFailFast(t *testing.T) {
	set, probes := newProbes()
	boom := errors.New("navigation timeout")
	probes[probe.Crawl].err = boom
	d := NewDispatcher(set, "u", false, nil, zap.NewNop())

	results, err := d.Dispatch(context.Background(), []probe.Action{probe.Crawl, probe.Axe, probe.Keyboard})
	require.Error(t, err)
	assert.Nil(t, results)

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, probe.Crawl, de.Action)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrDispatch)
	assert.Contains(t, err.Error(), "navigation timeout")

	assert.Zero(t, probes[probe.Axe].calls)
	assert.Zero(t, probes[probe.Keyboard].calls)
}

func TestDispatchMissingProbe(t *testing.T) {
	d := NewDispatcher(probe.Set{}, "u", false, nil, zap.NewNop())
	_, err := d.Dispatch(context.Background(), []probe.Action{probe.Keyboard})
	assert.ErrorIs(t, err, ErrDispatch)
}

func TestDispatchConcurrent(t *testing.T) {
	set, probes := newProbes()
	d := NewDispatcher(set, "u", true, nil, zap.NewNop())

	results, err := d.Dispatch(context.Background(), probe.Actions)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, p := range probes {
		assert.Equal(t, 1, p.calls)
	}

	probes[probe.Keyboard].err = errors.New("target closed")
	_, err = d.Dispatch(context.Background(), probe.Actions)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, probe.Keyboard, de.Action)
}

func TestDispatchNormalizesResults(t *testing.T) {
	type typed struct {
		Count int `json:"count"`
	}
	set := probe.Set{probe.Crawl: &countingProbe{action: probe.Crawl, result: typed{Count: 3}}}
	d := NewDispatcher(set, "u", false, nil, zap.NewNop())

	results, err := d.Dispatch(context.Background(), []probe.Action{probe.Crawl})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(3)}, results[probe.Crawl])
}

func TestSynthesizeUsesFullResults(t *testing.T) {
	client := &scriptedLLM{analysis: ""}
	results := map[probe.Action]any{probe.Crawl: map[string]any{"totalLinks": 7}}

	text, err := NewSynthesizer(client).Synthesize(context.Background(), "list links", results)
	require.NoError(t, err)
	assert.Empty(t, text)
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], `"totalLinks": 7`)
	assert.Contains(t, client.prompts[0], `"list links"`)
	assert.Contains(t, client.prompts[0], "Do NOT invent issues")
}

func TestRunCycleUnclassifiableQuery(t *testing.T) {
	for _, reply := range []string{`{}`, `not json at all`, `{"actions":[]}`} {
		set, probes := newProbes()
		client := &scriptedLLM{intent: reply}
		a := newTestAgent(t, client, set)

		rec, err := a.RunCycle(context.Background(), "what is the weather")
		assert.Nil(t, rec)
		assert.ErrorIs(t, err, ErrIntent, "reply %q", reply)
		assert.Zero(t, totalCalls(probes))
		assert.Len(t, client.prompts, 1, "synthesis must not run")

		reports, err := a.Archiver().List()
		require.NoError(t, err)
		assert.Empty(t, reports)
	}
}

func TestRunCycleEmptyQuery(t *testing.T) {
	set, probes := newProbes()
	client := &scriptedLLM{}
	a := newTestAgent(t, client, set)

	_, err := a.RunCycle(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Empty(t, client.prompts)
	assert.Zero(t, totalCalls(probes))
}

func TestRunCycleKeyboardOnly(t *testing.T) {
	set, probes := newProbes()
	client := &scriptedLLM{intent: `{"actions":["keyboard"]}`, analysis: "All controls reachable."}
	a := newTestAgent(t, client, set)

	rec, err := a.RunCycle(context.Background(), "check keyboard accessibility")
	require.NoError(t, err)

	assert.Equal(t, []probe.Action{probe.Keyboard}, rec.Actions)
	assert.Equal(t, 1, probes[probe.Keyboard].calls)
	assert.Equal(t, 1, totalCalls(probes))

	prompt := client.synthesisPrompt()
	assert.Contains(t, prompt, `"keyboard":`)
	assert.NotContains(t, prompt, `"crawl":`)
	assert.NotContains(t, prompt, `"axe":`)

	assert.Equal(t, "check keyboard accessibility", rec.Query)
	assert.Equal(t, "All controls reachable.", rec.Analysis)
	assert.Len(t, rec.Results, 1)

	reports, err := a.Archiver().List()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, fmt.Sprintf("accessibility-report-%d.json", rec.Timestamp.UnixNano()), reports[0].Name)
	stored, err := a.Archiver().Load(reports[0].Path)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}

func TestRunCycleFullAudit(t *testing.T) {
	set, probes := newProbes()
	client := &scriptedLLM{intent: `{"actions":["crawl","axe","keyboard"]}`, analysis: "summary"}
	a := newTestAgent(t, client, set)

	rec, err := a.RunCycle(context.Background(), "full accessibility audit")
	require.NoError(t, err)

	assert.Equal(t, []probe.Action{probe.Crawl, probe.Axe, probe.Keyboard}, rec.Actions)
	for _, p := range probes {
		assert.Equal(t, 1, p.calls, "probe %s", p.action)
	}
	assert.Len(t, rec.Results, 3)
}

func TestRunCycleDispatchFailureSavesNothing(t *testing.T) {
	set, probes := newProbes()
	probes[probe.Axe].err = errors.New("axe-core did not load")
	client := &scriptedLLM{intent: `{"actions":["axe","keyboard"]}`}
	a := newTestAgent(t, client, set)

	rec, err := a.RunCycle(context.Background(), "scan and tab")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrDispatch)
	assert.Zero(t, probes[probe.Keyboard].calls)

	reports, err := a.Archiver().List()
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestRunCyclePersistenceFailureKeepsRecord(t *testing.T) {
	set, _ := newProbes()
	client := &scriptedLLM{intent: `{"actions":["crawl"]}`, analysis: "ok"}

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	a := New(Options{LLM: client, Probes: set, Target: "u", Archiver: NewArchiver(blocker)})
	rec, err := a.RunCycle(context.Background(), "crawl it")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	var pe *PersistenceError
	assert.ErrorAs(t, err, &pe)
	require.NotNil(t, rec)
	assert.Equal(t, "ok", rec.Analysis)
}

func TestRunCycleMetricsAndTrace(t *testing.T) {
	set, _ := newProbes()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	rec, err := recorder.NewRecorder(filepath.Join(t.TempDir(), "traces"))
	require.NoError(t, err)

	a := New(Options{
		LLM:      &scriptedLLM{intent: `{"actions":["crawl"]}`},
		Probes:   set,
		Target:   "u",
		Archiver: NewArchiver(filepath.Join(t.TempDir(), "reports")),
		Recorder: rec,
		Metrics:  metrics,
	})

	_, err = a.RunCycle(context.Background(), "crawl")
	require.NoError(t, err)
	a.resolver = NewResolver(&scriptedLLM{intent: `{}`})
	_, err = a.RunCycle(context.Background(), "??")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cycles.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cycles.WithLabelValues("intent_error")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.probeDuration))

	traces, err := rec.Traces()
	require.NoError(t, err)
	require.Len(t, traces, 2)
	data, err := os.ReadFile(traces[1])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"to":"done"`)
}

func TestStateTransitions(t *testing.T) {
	path := []State{StateIdle, StateResolving, StateDispatching, StateSynthesizing, StateArchiving, StateDone}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, IsValidTransition(path[i], path[i+1]))
		assert.True(t, IsValidTransition(path[i], StateFailed))
	}

	assert.False(t, IsValidTransition(StateResolving, StateSynthesizing))
	assert.False(t, IsValidTransition(StateDispatching, StateResolving))
	assert.False(t, IsValidTransition(StateDone, StateFailed))
	assert.False(t, IsValidTransition(StateFailed, StateIdle))
	assert.True(t, StateDone.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateArchiving.IsTerminal())

	c := &cycle{state: StateIdle, logger: zap.NewNop()}
	err := c.transition(StateArchiving)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIdle, c.state)
}

func TestArchiverRoundTrip(t *testing.T) {
	arch := NewArchiver(filepath.Join(t.TempDir(), "nested", "reports"))
	rec := &AuditRecord{
		Query:   "full audit",
		Actions: []probe.Action{probe.Crawl, probe.Keyboard},
		Results: map[probe.Action]any{
			probe.Crawl:    map[string]any{"links": []any{map[string]any{"text": "Home", "href": "https://a.test/"}}, "totalLinks": float64(1)},
			probe.Keyboard: map[string]any{"keyboardTrapDetected": false, "issues": []any{}},
		},
		Analysis:  "Looks fine.\nNo blockers.",
		Timestamp: time.Date(2026, 3, 4, 5, 6, 7, 123000000, time.UTC),
	}

	path, err := arch.Archive(rec)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "accessibility-report-"))
	assert.Equal(t, ".json", filepath.Ext(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"query\": \"full audit\"")

	loaded, err := arch.Load(filepath.Base(path))
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestArchiverNamesReportAfterRecordTimestamp(t *testing.T) {
	arch := NewArchiver(t.TempDir())
	arch.now = func() time.Time { return time.Unix(1_900_000_000, 0) }
	stamp := time.Date(2026, 3, 4, 5, 6, 7, 123000000, time.UTC)

	path, err := arch.Archive(&AuditRecord{Query: "q", Timestamp: stamp})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("accessibility-report-%d.json", stamp.UnixNano()), filepath.Base(path))

	// zero timestamp falls back to the clock
	path, err = arch.Archive(&AuditRecord{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("accessibility-report-%d.json", time.Unix(1_900_000_000, 0).UnixNano()), filepath.Base(path))
}

func TestArchiverNeverOverwrites(t *testing.T) {
	arch := NewArchiver(t.TempDir())
	stamp := time.Unix(1_800_000_000, 0).UTC()

	first, err := arch.Archive(&AuditRecord{Query: "one", Timestamp: stamp})
	require.NoError(t, err)

	second, err := arch.Archive(&AuditRecord{Query: "two", Timestamp: stamp})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, fmt.Sprintf("accessibility-report-%d.json", stamp.UnixNano()+1), filepath.Base(second))

	kept, err := arch.Load(first)
	require.NoError(t, err)
	assert.Equal(t, "one", kept.Query)
	other, err := arch.Load(second)
	require.NoError(t, err)
	assert.Equal(t, "two", other.Query)
}

func TestArchiverList(t *testing.T) {
	dir := t.TempDir()
	arch := NewArchiver(dir)

	reports, err := NewArchiver(filepath.Join(dir, "missing")).List()
	require.NoError(t, err)
	assert.Empty(t, reports)

	for i, q := range []string{"old", "mid", "new"} {
		stamp := time.Unix(1_800_000_000+int64(i), 0)
		arch.now = func() time.Time { return stamp }
		_, err := arch.Archive(&AuditRecord{Query: q})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	reports, err = arch.List()
	require.NoError(t, err)
	require.Len(t, reports, 3)

	newest, err := arch.Load(reports[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "new", newest.Query)
	assert.True(t, reports[0].CreatedAt.After(reports[2].CreatedAt))
}
