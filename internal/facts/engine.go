// Package facts keeps probe findings in an embedded Mangle deductive store
// so that derived conditions can be queried across audit cycles.
package facts

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"a11yscout-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

//go:embed schema.mg
var schemaSource string

// ErrNotReady is returned by queries when the store is disabled.
var ErrNotReady = errors.New("findings store not ready")

// Fact is one normalized finding.
type Fact struct {
	Predicate string    `json:"predicate"`
	Args      []any     `json:"args"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]any

// Engine wraps the Mangle store with a bounded buffer of the raw facts.
type Engine struct {
	cfg config.MangleConfig
	mu  sync.RWMutex

	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	facts []Fact
	index map[string][]int
}

func NewEngine(cfg config.MangleConfig) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		facts: make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index: make(map[string][]int),
		store: factstore.NewSimpleInMemoryStore(),
	}
	if !cfg.Enable {
		return e, nil
	}
	if err := e.loadProgram(schemaSource); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadProgram(src string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}
	e.mu.Lock()
	e.programInfo = info
	e.mu.Unlock()
	return nil
}

// AddFacts appends facts to the buffer and re-evaluates rules over the
// whole buffer.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.facts = append(e.facts, facts...)
	return e.refresh()
}

// ReplaceFacts drops the buffered facts for url under any of predicates,
// then adds facts. A probe run replaces the previous run's findings for the
// same page, including when the new run found nothing.
func (e *Engine) ReplaceFacts(ctx context.Context, url string, predicates []string, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}

	drop := make(map[string]bool, len(predicates))
	for _, p := range predicates {
		drop[p] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.facts[:0]
	for _, f := range e.facts {
		if drop[f.Predicate] && len(f.Args) > 0 && f.Args[0] == url {
			continue
		}
		kept = append(kept, f)
	}
	e.facts = append(kept, facts...)
	return e.refresh()
}

// refresh trims the buffer, then rebuilds the store from it. Derived facts
// are recomputed from scratch since rules with negation are not monotonic.
// Callers hold e.mu.
func (e *Engine) refresh() error {
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		e.facts = append([]Fact(nil), e.facts[len(e.facts)-e.cfg.FactBufferLimit:]...)
	}
	e.rebuildIndex()

	store := factstore.NewSimpleInMemoryStore()
	for _, f := range e.facts {
		store.Add(factToAtom(f))
	}
	if err := engine.EvalProgram(e.programInfo, store); err != nil {
		return fmt.Errorf("eval program after fact insertion: %w", err)
	}
	e.store = store
	return nil
}

// Query evaluates a single atom such as `blocking_violation(URL, R).` and
// returns one binding per matching fact.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.Ready() {
		return nil, ErrNotReady
	}

	unit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, errors.New("no query found")
	}
	queryAtom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		row := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				row[v.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Evaluate returns every fact currently held for predicate, derived or not.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable {
		return nil, ErrNotReady
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	query := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	now := time.Now()
	out := make([]Fact, 0)
	err := e.store.GetFacts(query, func(atom ast.Atom) error {
		out = append(out, atomToFact(atom, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return out, nil
}

// FactsByPredicate returns buffered facts with the given predicate.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.facts) {
			out = append(out, e.facts[idx])
		}
	}
	return out
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Ready reports whether queries can be served.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.programInfo != nil || !e.cfg.Enable
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom, ts time.Time) Fact {
	args := make([]any, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: ts}
}

func toConstant(v any) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(t ast.BaseTerm) any {
	c, ok := t.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", t)
	}
	switch c.Type {
	case ast.StringType:
		val, _ := c.StringValue()
		return val
	case ast.NumberType:
		if val, err := c.NumberValue(); err == nil {
			return val
		}
	case ast.Float64Type:
		if val, err := c.Float64Value(); err == nil {
			return val
		}
	}
	return c.String()
}
