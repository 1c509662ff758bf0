package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/gateway"
)

const maxProxyBody = 10 << 20

// Hop-by-hop headers are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type upstreamResponse struct {
	server     string
	statusCode int
	header     http.Header
	body       []byte
}

// StatusError is returned for 5xx upstream responses so the gateway retries
// them and the breaker counts them. The last response is relayed as-is once
// retries are exhausted.
type StatusError struct {
	StatusCode int
	response   *upstreamResponse
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.response.server, e.StatusCode)
}

// Proxy forwards /proxy/{service}/{path...} to an instance of service chosen
// by the gateway. Request bodies are buffered so attempts can be replayed.
type Proxy struct {
	logger  *slog.Logger
	gateway *gateway.Gateway
	client  *http.Client
}

func NewProxy(logger *slog.Logger, gw *gateway.Gateway, client *http.Client) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}

	return &Proxy{
		logger:  logger,
		gateway: gw,
		client:  client,
	}
}

func (p *Proxy) Register(mux *http.ServeMux) {
	mux.Handle("/proxy/{service}/{path...}", p)
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	out := outbound{
		method: r.Method,
		path:   "/" + r.PathValue("path"),
		query:  r.URL.RawQuery,
		header: forwardHeaders(r),
		body:   body,
	}

	res, err := gateway.CallService(r.Context(), p.gateway, service,
		func(ctx context.Context, serviceURL string) (*upstreamResponse, error) {
			return p.forward(ctx, out, serviceURL)
		}, nil)
	if err != nil {
		p.fail(w, r, service, err)
		return
	}

	p.relay(w, res)
}

// outbound is the part of the inbound request replayed on every attempt.
// Attempts may outlive the handler, so they never touch the inbound request.
type outbound struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

func forwardHeaders(in *http.Request) http.Header {
	header := in.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}

	if ip := extractClientIP(in); ip != "" {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		header.Set("X-Forwarded-For", ip)
	}
	if traceID := TraceID(in.Context()); traceID != "" {
		header.Set(HeaderTraceID, traceID)
		header.Set(HeaderSpanID, SpanID(in.Context()))
	}

	return header
}

func (p *Proxy) forward(ctx context.Context, out outbound, serviceURL string) (*upstreamResponse, error) {
	target := serviceURL + out.path
	if out.query != "" {
		target += "?" + out.query
	}

	req, err := http.NewRequestWithContext(ctx, out.method, target, bytes.NewReader(out.body))
	if err != nil {
		return nil, err
	}
	req.Header = out.header.Clone()

	p.logger.Debug("Forwarding to instance",
		slog.String("target", target),
		slog.String("trace_id", out.header.Get(HeaderTraceID)))

	res, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	upstream := &upstreamResponse{
		server:     serviceURL,
		statusCode: res.StatusCode,
		header:     res.Header,
		body:       payload,
	}

	if res.StatusCode >= http.StatusInternalServerError {
		return nil, &StatusError{StatusCode: res.StatusCode, response: upstream}
	}

	return upstream, nil
}

func (p *Proxy) relay(w http.ResponseWriter, res *upstreamResponse) {
	for key, values := range res.header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.Header().Del("Content-Length")
	w.Header().Set("X-Backend-Server", res.server)

	w.WriteHeader(res.statusCode)
	_, _ = w.Write(res.body)
}

func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, service string, err error) {
	var (
		statusErr *StatusError
		openErr   *circuitbreaker.OpenError
	)

	attrs := []any{
		slog.String("service", service),
		slog.String("error", err.Error()),
		slog.String("trace_id", TraceID(r.Context())),
	}

	switch {
	case errors.As(err, &statusErr):
		p.logger.Warn("Upstream failed", attrs...)
		p.relay(w, statusErr.response)

	case errors.As(err, &openErr):
		p.logger.Warn("Circuit open, rejecting request", attrs...)
		seconds := int(math.Ceil(openErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
		writeError(w, r, http.StatusServiceUnavailable, err.Error())

	case errors.Is(err, gateway.ErrNoHealthyInstances), errors.Is(err, gateway.ErrSelectionFailed):
		p.logger.Warn("No instance available", attrs...)
		writeError(w, r, http.StatusServiceUnavailable, err.Error())

	case errors.Is(err, gateway.ErrOperationTimeout), errors.Is(err, context.DeadlineExceeded):
		p.logger.Warn("Upstream timed out", attrs...)
		writeError(w, r, http.StatusGatewayTimeout, err.Error())

	case errors.Is(err, context.Canceled):
		p.logger.Info("Client went away", attrs...)

	default:
		p.logger.Warn("Upstream unreachable", attrs...)
		writeError(w, r, http.StatusBadGateway, err.Error())
	}
}
