// Package service hosts the long-running HTTP side of cikit: a healthz
// endpoint and a Prometheus metrics endpoint. Only the standalone daemon
// mode uses it; one-shot invocations never bind ports.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/kubermatic/cikit/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"
)

// ServerConfig describes one listener.
type ServerConfig struct {
	Enabled bool
	Host    string
	Port    string
}

func (c ServerConfig) addr(defaultHost, defaultPort string) string {
	host := c.Host
	if host == "" {
		host = defaultHost
	}
	port := c.Port
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}

// Config enables and addresses the individual servers.
type Config struct {
	Healthz ServerConfig
	Metrics ServerConfig
}

type Service struct {
	log     *charmlog.Logger
	cfg     Config
	Healthz *HealthzServer
	Metrics *MetricsServer
}

// New assembles the service. The health check is consulted on every healthz
// request; nil means always healthy.
func New(logger *charmlog.Logger, cfg Config, check func(ctx context.Context) error) *Service {
	return &Service{
		log:     logger,
		cfg:     cfg,
		Healthz: &HealthzServer{log: logger, check: check},
		Metrics: &MetricsServer{},
	}
}

// Run starts the enabled servers and blocks until ctx ends or a server
// fails. Shutdown is graceful in both cases.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("service starting")

	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.Healthz.Enabled {
		addr := s.cfg.Healthz.addr(HealthzHost, HealthzPort)
		g.Go(func() error {
			s.log.Info("starting healthz server", "addr", addr)
			if err := s.Healthz.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metrics.RecordErrorDetails("error starting healthz server", err)
				return err
			}
			return nil
		})
	}

	if s.cfg.Metrics.Enabled {
		addr := s.cfg.Metrics.addr(MetricsHost, MetricsPort)
		g.Go(func() error {
			s.log.Info("starting metrics server", "addr", addr)
			if err := s.Metrics.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metrics.RecordErrorDetails("error starting metrics server", err)
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.Shutdown()
		return nil
	})

	s.log.Info("service started")
	return g.Wait()
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	if err := s.Healthz.Shutdown(); err != nil {
		s.log.Error("error stopping healthz server", "error", err)
	}
	if err := s.Metrics.Shutdown(); err != nil {
		s.log.Error("error stopping metrics server", "error", err)
	}

	s.log.Info("service stopped")
}
