package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Start launches the periodic health sweep. It is a no-op if the sweep is
// already running. The sweep stops when ctx is cancelled or Stop is called.
func (r *InMemory) Start(ctx context.Context) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, r.done)
}

// Stop cancels the sweep and waits for it to exit.
func (r *InMemory) Stop() {
	r.lifecycle.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.lifecycle.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (r *InMemory) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	r.logger.Info("Health sweep started", slog.Duration("interval", r.config.SweepInterval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Health sweep stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one health pass over every registered instance. Instances whose
// last heartbeat is older than HeartbeatTimeout are marked unhealthy; the
// rest are probed and take the probe's verdict. A failing probe only affects
// its own instance.
func (r *InMemory) Sweep(ctx context.Context) {
	now := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.SweepConcurrency)

	for _, instance := range r.AllServices() {
		if now.Sub(instance.LastHeartbeat) > r.config.HeartbeatTimeout {
			r.setStatus(instance.ID, StatusUnhealthy, "heartbeat expired")
			continue
		}

		if r.prober == nil {
			continue
		}

		g.Go(func() error {
			if err := r.probe(gctx, instance); err != nil {
				r.logger.Debug("Health probe failed",
					slog.String("service", instance.Name),
					slog.String("id", instance.ID),
					slog.String("error", err.Error()))
				r.setStatus(instance.ID, StatusUnhealthy, "probe failed")
				return nil
			}

			r.setStatus(instance.ID, StatusHealthy, "probe succeeded")
			return nil
		})
	}

	_ = g.Wait()
}

func (r *InMemory) probe(ctx context.Context, instance Instance) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("probe panicked: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.config.ProbeTimeout)
	defer cancel()

	return r.prober.Probe(ctx, instance)
}
