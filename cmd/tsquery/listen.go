package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tsquery/tsquery/pkg/config"
	"github.com/tsquery/tsquery/pkg/eventlog"
	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/secret"
	"github.com/tsquery/tsquery/pkg/serverquery"
)

// ListenCLI registers for notifications and prints them until interrupted
// or disconnected.
type ListenCLI struct {
	Events  []string `short:"e" help:"Event classes: server, channel, textserver, textchannel, textprivate, tokenused"`
	Channel int      `short:"c" help:"Channel id for the channel and textchannel classes"`
	Format  string   `short:"f" help:"Mustache template per record (default: JSON lines)"`
	Archive bool     `help:"Archive events to the S3 bucket from the config file" default:"true" negatable:""`
}

func (c *ListenCLI) Run(logger *slog.Logger, profile config.Profile, file *config.File) error {
	f, err := newFormatter(c.Format)
	if err != nil {
		return err
	}
	events := c.Events
	if len(events) == 0 {
		events = profile.Events
	}
	if len(events) == 0 {
		events = []string{string(serverquery.NotifyServer)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks := []query.EventSink{eventlog.NewSlogLogger(logger, slog.LevelDebug)}
	if c.Archive && file.Archive.Bucket != "" {
		archiver, err := newArchiver(ctx, logger, file.Archive, profileSource(profile))
		if err != nil {
			return err
		}
		defer func() {
			if err := archiver.Shutdown(10 * time.Second); err != nil {
				logger.Warn("event archive flush incomplete", "error", err)
			}
		}()
		sinks = append(sinks, archiver)
	}

	s, err := connect(ctx, logger, profile, secret.NewResolver(), query.WithEventSink(eventlog.NewMulti(sinks...)))
	if err != nil {
		return err
	}
	defer s.Close()
	s.keepAlive(profile)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.conn.OnDisconnect(cancel)

	s.client.RegisterHandler(printer(os.Stdout, f, logger))

	for _, ev := range events {
		if err := s.server.ServerNotifyRegister(ctx, serverquery.NotifyEvent(ev), c.Channel); err != nil {
			return fmt.Errorf("unable to register for %s events: %w", ev, err)
		}
		logger.Info("registered", "event", ev)
	}

	<-ctx.Done()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("connection lost: %w", cause)
	}
	return nil
}

// printer returns a handler that writes events to w. Handlers run
// concurrently so writes are serialized.
func printer(w io.Writer, f *formatter, logger *slog.Logger) query.Handler {
	var mu sync.Mutex
	return func(ev *query.Event) {
		mu.Lock()
		defer mu.Unlock()
		if err := f.event(w, ev); err != nil {
			logger.Warn("unable to print event", "kind", string(ev.Kind), "error", err)
		}
	}
}

func newArchiver(ctx context.Context, logger *slog.Logger, archive config.Archive, source string) (*eventlog.S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	logger.Info("archiving events", "bucket", archive.Bucket, "prefix", archive.Prefix)
	return eventlog.NewS3Archiver(eventlog.S3Config{
		Client:    s3.NewFromConfig(cfg),
		Bucket:    archive.Bucket,
		KeyPrefix: archive.Prefix,
		Source:    source,
		Logger:    logger,
	}), nil
}

func profileSource(p config.Profile) string {
	if p.Address != "" {
		return p.Address
	}
	if len(p.Endpoints) > 0 {
		return p.Endpoints[0].Address
	}
	return ""
}
