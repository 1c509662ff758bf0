package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultHeartbeatInterval is how often a Heartbeater reports liveness.
const DefaultHeartbeatInterval = 15 * time.Second

// Heartbeater keeps one instance registered for as long as its context lives.
type Heartbeater struct {
	registry *InMemory
	instance Instance
	interval time.Duration
	logger   *slog.Logger
}

func NewHeartbeater(registry *InMemory, instance Instance, interval time.Duration, logger *slog.Logger) *Heartbeater {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}

	return &Heartbeater{
		registry: registry,
		instance: instance,
		interval: interval,
		logger:   logger,
	}
}

// Run registers the instance, heartbeats every interval and deregisters it
// when ctx is cancelled. If the instance disappears from the registry it is
// registered again on the next tick.
func (h *Heartbeater) Run(ctx context.Context) error {
	if _, err := h.registry.Register(h.instance); err != nil {
		return err
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := h.registry.Deregister(h.instance.ID); err != nil && !errors.Is(err, ErrInstanceNotFound) {
				return err
			}
			return nil

		case <-ticker.C:
			err := h.registry.UpdateHeartbeat(h.instance.ID)
			if errors.Is(err, ErrInstanceNotFound) {
				h.logger.Warn("Instance vanished from registry, registering again",
					slog.String("service", h.instance.Name),
					slog.String("id", h.instance.ID))
				if _, err := h.registry.Register(h.instance); err != nil {
					return err
				}
			}
		}
	}
}

// ID returns the id the instance is registered under.
func (h *Heartbeater) ID() string {
	return h.instance.ID
}
