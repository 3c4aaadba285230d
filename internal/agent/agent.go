// Package agent runs accessibility audit cycles: a query is classified into
// probe actions, the probes run against the target page, the results are
// explained by a language model, and the outcome is archived.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"a11yscout-mcp-server/internal/llm"
	"a11yscout-mcp-server/internal/probe"
	"a11yscout-mcp-server/internal/recorder"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options wires an Agent.
type Options struct {
	LLM        llm.Client
	Probes     probe.Set
	Target     string
	Concurrent bool
	Archiver   *Archiver
	Recorder   *recorder.Recorder // optional
	Metrics    *Metrics           // optional
	Logger     *zap.Logger
}

// Agent orchestrates audit cycles. Cycles share no mutable state, so one
// Agent may serve concurrent callers.
type Agent struct {
	resolver    *Resolver
	dispatcher  *Dispatcher
	synthesizer *Synthesizer
	archiver    *Archiver
	recorder    *recorder.Recorder
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		resolver:    NewResolver(opts.LLM),
		dispatcher:  NewDispatcher(opts.Probes, opts.Target, opts.Concurrent, opts.Metrics, logger),
		synthesizer: NewSynthesizer(opts.LLM),
		archiver:    opts.Archiver,
		recorder:    opts.Recorder,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Resolver exposes intent classification on its own.
func (a *Agent) Resolver() *Resolver { return a.resolver }

// Archiver exposes the report store.
func (a *Agent) Archiver() *Archiver { return a.archiver }

// RunCycle runs one audit for query. On a *PersistenceError the completed
// record is still returned so callers keep the analysis.
func (a *Agent) RunCycle(ctx context.Context, query string) (*AuditRecord, error) {
	id := uuid.NewString()
	c := &cycle{
		id:     id,
		state:  StateIdle,
		logger: a.logger.With(zap.String("cycle", id)),
	}
	if a.recorder != nil {
		tr, err := a.recorder.Begin(c.id)
		if err != nil {
			c.logger.Warn("trace unavailable", zap.Error(err))
		}
		c.trace = tr
	}
	defer func() { _ = c.trace.Close() }()

	rec, err := a.run(ctx, c, query)
	a.metrics.observeCycle(outcome(err))
	if err != nil {
		c.logger.Info("cycle failed", zap.String("state", string(c.state)), zap.Error(err))
	} else {
		c.logger.Info("cycle complete", zap.Strings("actions", actionStrings(rec.Actions)))
	}
	return rec, err
}

func (a *Agent) run(ctx context.Context, c *cycle, query string) (*AuditRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, c.fail(ErrEmptyQuery)
	}
	c.trace.Log("query", query)

	if err := c.transition(StateResolving); err != nil {
		return nil, c.fail(err)
	}
	actions, err := a.resolver.Resolve(ctx, query)
	if err != nil {
		return nil, c.fail(err)
	}

	if err := c.transition(StateDispatching, zap.Strings("actions", actionStrings(actions))); err != nil {
		return nil, c.fail(err)
	}
	results, err := a.dispatcher.Dispatch(ctx, actions)
	if err != nil {
		return nil, c.fail(err)
	}

	if err := c.transition(StateSynthesizing); err != nil {
		return nil, c.fail(err)
	}
	analysis, err := a.synthesizer.Synthesize(ctx, query, results)
	if err != nil {
		return nil, c.fail(err)
	}

	rec := &AuditRecord{
		Query:     query,
		Actions:   actions,
		Results:   results,
		Analysis:  analysis,
		Timestamp: a.now().UTC().Truncate(time.Millisecond),
	}

	if err := c.transition(StateArchiving); err != nil {
		return nil, c.fail(err)
	}
	path, err := a.archiver.Archive(rec)
	if err != nil {
		return rec, c.fail(err)
	}

	if err := c.transition(StateDone, zap.String("report", path)); err != nil {
		return rec, c.fail(err)
	}
	return rec, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, ErrIntent):
		return "intent_error"
	case errors.Is(err, ErrDispatch):
		return "dispatch_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, llm.ErrCredential):
		return "credential_error"
	default:
		return "error"
	}
}

func actionStrings(actions []probe.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
