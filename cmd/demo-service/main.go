// Demo-service is a sample backend for trying the gateway locally. It serves
// /appointments and /health and registers itself with the gateway's admin API.
//
// Usage:
//
//	go run ./cmd/demo-service -port 3002 -gateway http://localhost:8080
//	go run ./cmd/demo-service -port 3003 -fail-rate 0.5
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/mesh-gateway/internal/agent"
	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
	"github.com/angeloszaimis/mesh-gateway/pkg/logger"
)

func main() {
	port := flag.Int("port", 3002, "port to listen on")
	name := flag.String("name", "appointment-service", "service name to register under")
	host := flag.String("host", "localhost", "host the gateway should dial")
	gatewayURL := flag.String("gateway", "http://localhost:8080", "gateway base URL, empty to skip registration")
	failRate := flag.Float64("fail-rate", 0, "share of requests answered with 503")
	heartbeat := flag.Duration("heartbeat", registry.DefaultHeartbeatInterval, "heartbeat interval")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(*level, false, "dev")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instance := registry.Instance{
		Name:            *name,
		Version:         "1.0.0",
		Host:            *host,
		Port:            *port,
		HealthCheckPath: registry.DefaultHealthCheckPath,
	}
	registration := agent.New(agent.Config{
		GatewayURL:        *gatewayURL,
		HeartbeatInterval: *heartbeat,
	}, instance, nil, logger.Component(log, "agent"))

	config := httpserver.DefaultConfig()
	config.Addr = fmt.Sprintf(":%d", *port)

	srv, err := httpserver.New(config, newMux(registration.ID(), *failRate, log), log)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})
	if *gatewayURL != "" {
		g.Go(func() error {
			return registration.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Demo service stopped", slog.Any("err", err))
		os.Exit(1)
	}
}
