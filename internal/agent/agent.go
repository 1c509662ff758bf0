package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

// ErrNotRegistered is returned by Heartbeat when the gateway no longer knows
// the instance.
var ErrNotRegistered = errors.New("instance not registered with gateway")

type Config struct {
	GatewayURL        string
	HeartbeatInterval time.Duration
	// RegisterAttempts bounds the registration retries. Zero retries until
	// the context ends.
	RegisterAttempts uint64
	RetryDelay       time.Duration
}

// Agent is the remote counterpart of registry.Heartbeater.
type Agent struct {
	config   Config
	client   *http.Client
	instance registry.Instance
	logger   *slog.Logger
}

func New(config Config, instance registry.Instance, client *http.Client, logger *slog.Logger) *Agent {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = registry.DefaultHeartbeatInterval
	}
	config.GatewayURL = strings.TrimRight(config.GatewayURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}

	return &Agent{
		config:   config,
		client:   client,
		instance: instance,
		logger:   logger,
	}
}

func (a *Agent) ID() string {
	return a.instance.ID
}

// Register posts the instance to the gateway, retrying with exponential
// backoff while the gateway is unreachable. 4xx answers are not retried.
func (a *Agent) Register(ctx context.Context) error {
	body, err := json.Marshal(a.instance)
	if err != nil {
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.MaxElapsedTime = 0
	if a.config.RetryDelay > 0 {
		exp.InitialInterval = a.config.RetryDelay
	}

	var b backoff.BackOff = exp
	if a.config.RegisterAttempts > 0 {
		b = backoff.WithMaxRetries(b, a.config.RegisterAttempts-1)
	}

	return backoff.RetryNotify(func() error {
		status, err := a.do(ctx, http.MethodPost, "/services", body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		switch {
		case status == http.StatusCreated:
			return nil
		case status >= 400 && status < 500:
			return backoff.Permanent(fmt.Errorf("gateway rejected registration: status %d", status))
		default:
			return fmt.Errorf("gateway returned status %d", status)
		}
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		a.logger.Warn("Registration failed, retrying",
			slog.String("gateway", a.config.GatewayURL),
			slog.Duration("retry_in", next),
			slog.String("error", err.Error()))
	})
}

func (a *Agent) Heartbeat(ctx context.Context) error {
	status, err := a.do(ctx, http.MethodPut, "/services/instances/"+url.PathEscape(a.instance.ID)+"/heartbeat", nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotRegistered
	default:
		return fmt.Errorf("heartbeat returned status %d", status)
	}
}

func (a *Agent) Deregister(ctx context.Context) error {
	status, err := a.do(ctx, http.MethodDelete, "/services/instances/"+url.PathEscape(a.instance.ID), nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("deregistration returned status %d", status)
	}
	return nil
}

// Run registers, heartbeats every interval and deregisters when ctx ends. A
// heartbeat answered with 404 triggers a new registration; other heartbeat
// failures are logged and retried on the next tick.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Register(ctx); err != nil {
		return err
	}
	a.logger.Info("Registered with gateway",
		slog.String("gateway", a.config.GatewayURL),
		slog.String("service", a.instance.Name),
		slog.String("id", a.instance.ID))

	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.Deregister(shutdownCtx)

		case <-ticker.C:
			err := a.Heartbeat(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotRegistered):
				a.logger.Warn("Gateway forgot this instance, registering again", slog.String("id", a.instance.ID))
				if err := a.Register(ctx); err != nil && ctx.Err() == nil {
					return err
				}
			default:
				a.logger.Warn("Heartbeat failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Agent) do(ctx context.Context, method, path string, body []byte) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.GatewayURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
