package main

import (
	"net/http"

	"github.com/angeloszaimis/mesh-gateway/internal/handler"
	"github.com/angeloszaimis/mesh-gateway/pkg/logger"
)

func setupRouter(m *mesh) http.Handler {
	mux := http.NewServeMux()

	handler.NewAdmin(logger.Component(m.log, "admin"), m.services, m.breakers, m.aggregator).Register(mux)
	handler.NewProxy(logger.Component(m.log, "proxy"), m.gateway, nil).Register(mux)

	mux.Handle("GET /metrics", m.exporter.Handler())
	mux.HandleFunc("GET /metrics/gateway", m.collector.Handler(m.strategy))

	return handler.Tracing(logger.Component(m.log, "http"), mux)
}
