package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tsquery/tsquery/pkg/config"
	"github.com/tsquery/tsquery/pkg/metrics"
	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/queryconn"
	"github.com/tsquery/tsquery/pkg/secret"
	"github.com/tsquery/tsquery/pkg/serverquery"
)

// ConnectionFlags override values from the selected profile.
type ConnectionFlags struct {
	Address   []string      `short:"a" help:"Server address host[:port]; repeat for failover" env:"TSQUERY_ADDRESS"`
	Transport string        `short:"t" help:"Transport: raw or ssh"`
	User      string        `short:"u" help:"ServerQuery login name" env:"TSQUERY_USER"`
	Password  string        `help:"Password or secret reference (env:, file:, ssm:, secretsmanager:)" env:"TSQUERY_PASSWORD"`
	ServerID  int           `short:"s" help:"Virtual server id to select after login" env:"TSQUERY_SERVER_ID"`
	Nickname  string        `help:"Nickname to set after selecting the server"`
	Timeout   time.Duration `help:"Connect and write timeout" default:"0s"`
	Insecure  bool          `help:"Skip SSH host key verification"`
}

// resolve merges the flags over the named profile. A missing config file
// yields a profile built from flags alone.
func (f ConnectionFlags) resolve(file *config.File, name string) (config.Profile, error) {
	var p config.Profile
	if len(file.Profiles) > 0 || name != "" {
		var err error
		p, err = file.Profile(name)
		if err != nil {
			return config.Profile{}, err
		}
	}

	switch len(f.Address) {
	case 0:
	case 1:
		p.Address = f.Address[0]
		p.Endpoints = nil
	default:
		p.Address = ""
		p.Endpoints = make([]config.Endpoint, len(f.Address))
		for i, a := range f.Address {
			// Earlier addresses are preferred.
			p.Endpoints[i] = config.Endpoint{Address: a, Priority: len(f.Address) - i}
		}
	}
	switch f.Transport {
	case "":
	case "raw", "ssh":
		p.Transport = f.Transport
	default:
		return config.Profile{}, fmt.Errorf("unknown transport %q", f.Transport)
	}
	if f.User != "" {
		p.Username = f.User
	}
	if f.Password != "" {
		p.Password = f.Password
	}
	if f.ServerID != 0 {
		p.ServerID = f.ServerID
	}
	if f.Nickname != "" {
		p.Nickname = f.Nickname
	}
	if f.Timeout != 0 {
		p.TimeoutSeconds = f.Timeout.Seconds()
	}
	if f.Insecure {
		p.SSH.Insecure = true
	}

	if p.Address == "" && len(p.Endpoints) == 0 {
		return config.Profile{}, fmt.Errorf("no server address: use --address or a config profile")
	}
	return p, nil
}

// session is an open, logged in connection.
type session struct {
	conn    *queryconn.Conn
	client  *query.Client
	server  *serverquery.Server
	metrics *metrics.Metrics
}

// connect opens a connection for p, logs in and selects the virtual server.
func connect(ctx context.Context, logger *slog.Logger, p config.Profile, secrets *secret.Resolver, opts ...query.Option) (*session, error) {
	password := ""
	if p.Password != "" {
		var err error
		password, err = secrets.Resolve(ctx, p.Password)
		if err != nil {
			return nil, fmt.Errorf("unable to resolve password: %w", err)
		}
	}

	connOpts := []queryconn.Option{queryconn.WithLogger(logger)}
	if d := p.Timeout(); d > 0 {
		connOpts = append(connOpts, queryconn.WithTimeout(d))
	}
	if p.Transport == "ssh" {
		connOpts = append(connOpts, queryconn.WithDialer(&queryconn.SSHDialer{
			User:                        p.Username,
			Password:                    password,
			KeyPath:                     p.SSH.KeyPath,
			KnownHostsPath:              p.SSH.KnownHosts,
			InsecureSkipHostKeyChecking: p.SSH.Insecure,
		}))
	}

	conn, err := open(ctx, p, connOpts)
	if err != nil {
		return nil, err
	}
	logger.Info("connected", "address", conn.Addr())

	m := metrics.New(conn.Addr())
	conn.OnDisconnect(m.Disconnected)

	clientOpts := []query.Option{query.WithLogger(logger), query.WithObserver(m)}
	if p.RateLimit.PerSecond > 0 {
		burst := p.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		clientOpts = append(clientOpts, query.WithRateLimit(rate.Limit(p.RateLimit.PerSecond), burst))
	}
	client := query.New(conn, append(clientOpts, opts...)...)
	s := &session{
		conn:    conn,
		client:  client,
		server:  serverquery.New(client),
		metrics: m,
	}

	if err := s.setup(ctx, p, password); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func open(ctx context.Context, p config.Profile, opts []queryconn.Option) (*queryconn.Conn, error) {
	if len(p.Endpoints) == 0 {
		conn := queryconn.New(p.Address, opts...)
		if err := conn.Open(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}

	endpoints := make([]queryconn.Endpoint, len(p.Endpoints))
	for i, ep := range p.Endpoints {
		endpoints[i] = queryconn.Endpoint{Addr: ep.Address, Priority: ep.Priority}
	}
	return queryconn.NewFailover(endpoints, queryconn.DefaultBreakerSettings(), opts...).Open(ctx)
}

// setup logs in, selects the server and names the client. The ssh
// transport authenticates during the handshake.
func (s *session) setup(ctx context.Context, p config.Profile, password string) error {
	if p.Username != "" && p.Transport != "ssh" {
		if err := s.server.Login(ctx, p.Username, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}
	if p.ServerID > 0 {
		if err := s.server.Use(ctx, serverquery.UseOptions{ID: p.ServerID}); err != nil {
			return fmt.Errorf("unable to select server %d: %w", p.ServerID, err)
		}
	}
	if p.Nickname != "" {
		if err := s.server.ClientUpdate(ctx, map[string]any{"client_nickname": p.Nickname}); err != nil {
			return fmt.Errorf("unable to set nickname: %w", err)
		}
	}
	return nil
}

// keepAlive starts keep-alive beacons for long running commands. An unset
// interval uses the connection default.
func (s *session) keepAlive(p config.Profile) {
	s.conn.StartKeepAlive(p.KeepAlive())
}

func (s *session) Close() error {
	return s.client.Close()
}
