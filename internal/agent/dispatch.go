package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"a11yscout-mcp-server/internal/probe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher runs the probes for a resolved action list against one target.
type Dispatcher struct {
	probes     probe.Set
	target     string
	concurrent bool
	metrics    *Metrics
	logger     *zap.Logger
}

func NewDispatcher(probes probe.Set, target string, concurrent bool, metrics *Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		probes:     probes,
		target:     target,
		concurrent: concurrent,
		metrics:    metrics,
		logger:     logger,
	}
}

// Dispatch calls each action's probe exactly once. The first failure aborts
// the remaining probes and is returned as a *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []probe.Action) (map[probe.Action]any, error) {
	if d.concurrent {
		return d.dispatchConcurrent(ctx, actions)
	}
	results := make(map[probe.Action]any, len(actions))
	for _, a := range actions {
		out, err := d.run(ctx, a)
		if err != nil {
			return nil, err
		}
		results[a] = out
	}
	return results, nil
}

func (d *Dispatcher) dispatchConcurrent(ctx context.Context, actions []probe.Action) (map[probe.Action]any, error) {
	outs := make([]any, len(actions))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range actions {
		g.Go(func() error {
			out, err := d.run(gctx, a)
			if err != nil {
				return err
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	results := make(map[probe.Action]any, len(actions))
	for i, a := range actions {
		results[a] = outs[i]
	}
	return results, nil
}

func (d *Dispatcher) run(ctx context.Context, a probe.Action) (any, error) {
	p, ok := d.probes[a]
	if !ok {
		return nil, &DispatchError{Action: a, Err: errors.New("no probe registered")}
	}

	start := time.Now()
	out, err := p.Run(ctx, d.target)
	d.metrics.observeProbe(a, time.Since(start), err)
	if err != nil {
		d.logger.Warn("probe failed", zap.String("probe", string(a)), zap.Error(err))
		return nil, &DispatchError{Action: a, Err: err}
	}

	normalized, err := normalize(out)
	if err != nil {
		return nil, &DispatchError{Action: a, Err: fmt.Errorf("encode result: %w", err)}
	}
	d.logger.Debug("probe complete", zap.String("probe", string(a)), zap.Duration("took", time.Since(start)))
	return normalized, nil
}

// normalize converts a probe result to its generic JSON form so a record
// reads back from disk exactly as it was built.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
