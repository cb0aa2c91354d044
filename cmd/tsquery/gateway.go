package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tsquery/tsquery/pkg/config"
	"github.com/tsquery/tsquery/pkg/gateway"
	"github.com/tsquery/tsquery/pkg/queryconn"
	"github.com/tsquery/tsquery/pkg/secret"
	"github.com/tsquery/tsquery/pkg/tlsconfig"
)

// GatewayCLI serves POST /v1/command, /healthz and /metrics.
type GatewayCLI struct {
	Listen   string `help:"Address to listen on" short:"l" env:"PORT" default:""`
	TLSCert  string `help:"TLS certificate file" name:"tls-cert" type:"path"`
	TLSKey   string `help:"TLS key file" name:"tls-key" type:"path"`
	ClientCA string `help:"Require client certificates signed by this CA" name:"client-ca" type:"path"`
}

func (c *GatewayCLI) tls(file *config.File) tlsconfig.Config {
	cfg := tlsconfig.Config{
		CertFile:     file.Gateway.TLSCert,
		KeyFile:      file.Gateway.TLSKey,
		ClientCAFile: file.Gateway.ClientCA,
	}
	if c.TLSCert != "" || c.TLSKey != "" {
		cfg.CertFile, cfg.KeyFile = c.TLSCert, c.TLSKey
	}
	if c.ClientCA != "" {
		cfg.ClientCAFile = c.ClientCA
	}
	return cfg
}

func (c *GatewayCLI) Run(logger *slog.Logger, profile config.Profile, file *config.File) error {
	listen := c.Listen
	if listen == "" {
		listen = file.Gateway.Listen
	}
	if listen == "" {
		listen = "127.0.0.1:8080"
	}

	tlsCfg, err := c.tls(file).Server()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := connect(ctx, logger, profile, secret.NewResolver())
	if err != nil {
		return err
	}
	defer s.Close()
	s.keepAlive(profile)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := s.metrics.Register(reg); err != nil {
		return fmt.Errorf("unable to register metrics: %w", err)
	}

	gw := gateway.New(s.client, logger,
		gateway.WithGatherer(reg),
		gateway.WithHealth(func() error {
			if !s.conn.IsConnected() {
				return queryconn.ErrNotConnected
			}
			return nil
		}),
	)
	server := &http.Server{
		Addr:              listen,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         tlsCfg,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "address", listen, "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
