package healthcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

const DefaultProbeTimeout = 5 * time.Second

// HTTPProber checks an instance by sending GET to its health endpoint. Any
// 2xx response means healthy.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, instance registry.Instance) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance.HealthURL(), nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("health endpoint %s returned %d", instance.HealthURL(), res.StatusCode)
	}

	return nil
}
