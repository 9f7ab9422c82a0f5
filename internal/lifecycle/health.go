package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Dependencies reports the first failing dependency, if any.
type Dependencies interface {
	Err(ctx context.Context) error
}

// ErrShuttingDown is reported by Readiness once draining has begun.
var ErrShuttingDown = errors.New("shutting down")

// Probes backs /healthz and /readyz.
type Probes struct {
	deps     Dependencies
	draining atomic.Bool
	log      *slog.Logger
}

// NewProbes creates a new Probes instance. A nil deps makes Readiness depend only on draining.
func NewProbes(deps Dependencies, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{deps: deps, log: log}
}

// Liveness reports that the process is serving.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.DebugContext(ctx, "liveness probe called")
	return nil
}

// Readiness fails while draining or when a dependency is down.
func (p *Probes) Readiness(ctx context.Context) error {
	if p.draining.Load() {
		return ErrShuttingDown
	}
	if p.deps == nil {
		return nil
	}
	return p.deps.Err(ctx)
}

// Drain marks the process as not ready so load balancers stop routing to it.
func (p *Probes) Drain(context.Context) error {
	p.draining.Store(true)
	p.log.Info("readiness probe switched to draining")
	return nil
}
