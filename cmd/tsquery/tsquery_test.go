package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsquery/tsquery/internal/querytest"
	"github.com/tsquery/tsquery/pkg/config"
	"github.com/tsquery/tsquery/pkg/query"
	"github.com/tsquery/tsquery/pkg/querystr"
	"github.com/tsquery/tsquery/pkg/secret"
)

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(tint.NewHandler(t.Output(), &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05",
	}))
}

func render(t *testing.T, req *querystr.Request) string {
	t.Helper()
	line, err := req.Render()
	require.NoError(t, err)
	return line
}

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest("sendtextmessage", []string{"targetmode=3", "target=1", "msg=hello world"})
	require.NoError(t, err)
	assert.Equal(t, `sendtextmessage targetmode=3 target=1 msg=hello\sworld`, render(t, req))

	req, err = buildRequest("clientmove", []string{"cid=4", "clid=10|clid=11"})
	require.NoError(t, err)
	assert.Equal(t, `clientmove cid=4 clid=10|clid=11`, render(t, req))

	req, err = buildRequest("clientlist", []string{"-uid", "-away"})
	require.NoError(t, err)
	assert.Equal(t, `clientlist -uid -away`, render(t, req))

	_, err = buildRequest("", nil)
	var te *query.TypeError
	assert.ErrorAs(t, err, &te)

	_, err = buildRequest("clientmove", []string{"clid=1||clid=2"})
	assert.Error(t, err)

	req, err = buildRequest("clientlist\nquit", []string{"-uid\rx"})
	require.NoError(t, err)
	assert.ErrorIs(t, req.Err(), querystr.ErrInvalidToken)
}

func TestParseLine(t *testing.T) {
	cases := map[string]string{
		"version":               "version",
		"clientlist -uid -away": "clientlist -uid -away",
		`sendtextmessage targetmode=3 msg=hi\sthere`: `sendtextmessage targetmode=3 msg=hi\sthere`,
		"clientmove cid=4 clid=10|clid=11":           "clientmove cid=4 clid=10|clid=11",
		"servernotifyregister event=channel id=0":    "servernotifyregister event=channel id=0",
		`clientupdate client_nickname=a\pb\/c -flag`: `clientupdate client_nickname=a\pb\/c -flag`,
	}
	for in, want := range cases {
		assert.Equal(t, want, render(t, parseLine(in)), in)
	}
}

func TestFormatter(t *testing.T) {
	resp := query.NewResponse("clientlist", []string{`clid=1 client_nickname=a\sb|clid=2 client_nickname=c`}, querytest.OK)

	var buf bytes.Buffer
	f, err := newFormatter("")
	require.NoError(t, err)
	require.NoError(t, f.response(&buf, resp))
	assert.Equal(t, "{\"clid\":\"1\",\"client_nickname\":\"a b\"}\n{\"clid\":\"2\",\"client_nickname\":\"c\"}\n", buf.String())

	buf.Reset()
	f, err = newFormatter("{{command}} {{clid}}: {{{client_nickname}}}")
	require.NoError(t, err)
	require.NoError(t, f.response(&buf, resp))
	assert.Equal(t, "clientlist 1: a b\nclientlist 2: c\n", buf.String())

	ev, err := query.ParseEvent("notifyclientleftview cfid=1 ctid=0 clid=5")
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, f.event(&buf, ev))

	buf.Reset()
	f, err = newFormatter("{{kind}} clid={{clid}}")
	require.NoError(t, err)
	require.NoError(t, f.event(&buf, ev))
	assert.Equal(t, "notifyclientleftview clid=5\n", buf.String())

	buf.Reset()
	f, err = newFormatter("")
	require.NoError(t, err)
	require.NoError(t, f.event(&buf, ev))
	assert.Equal(t, "{\"kind\":\"notifyclientleftview\",\"data\":[{\"cfid\":\"1\",\"ctid\":\"0\",\"clid\":\"5\"}]}\n", buf.String())

	_, err = newFormatter("{{#unclosed}}")
	assert.Error(t, err)
}

func TestResolveFlags(t *testing.T) {
	file := &config.File{Profiles: map[string]config.Profile{
		"local": {Address: "127.0.0.1", Username: "serveradmin", ServerID: 1},
		"ha": {Endpoints: []config.Endpoint{
			{Address: "a.example.com", Priority: 10},
			{Address: "b.example.com"},
		}},
	}}

	p, err := ConnectionFlags{}.resolve(file, "local")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", p.Address)
	assert.Equal(t, 1, p.ServerID)

	p, err = ConnectionFlags{Address: []string{"10.0.0.1"}, ServerID: 2, Timeout: 3 * time.Second}.resolve(file, "ha")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", p.Address)
	assert.Empty(t, p.Endpoints)
	assert.Equal(t, 2, p.ServerID)
	assert.Equal(t, 3*time.Second, p.Timeout())

	p, err = ConnectionFlags{Address: []string{"x", "y", "z"}}.resolve(&config.File{}, "")
	require.NoError(t, err)
	require.Len(t, p.Endpoints, 3)
	assert.Greater(t, p.Endpoints[0].Priority, p.Endpoints[1].Priority)
	assert.Greater(t, p.Endpoints[1].Priority, p.Endpoints[2].Priority)

	_, err = ConnectionFlags{}.resolve(&config.File{}, "")
	assert.Error(t, err)

	_, err = ConnectionFlags{Address: []string{"x"}, Transport: "telnet"}.resolve(&config.File{}, "")
	assert.ErrorContains(t, err, "unknown transport")

	_, err = ConnectionFlags{}.resolve(file, "")
	assert.ErrorIs(t, err, config.ErrUnknownProfile)
}

func TestConnect(t *testing.T) {
	srv := querytest.NewServer(t, nil)
	t.Setenv("TSQUERY_TEST_PASSWORD", "s3cret pw")

	profile := config.Profile{
		Address:  srv.Addr(),
		Username: "serveradmin",
		Password: "env:TSQUERY_TEST_PASSWORD",
		ServerID: 1,
		Nickname: "bot",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := connect(ctx, testLogger(t), profile, secret.NewResolver())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{
		`login client_login_name=serveradmin client_login_password=s3cret\spw`,
		`use sid=1`,
		`clientupdate client_nickname=bot`,
	}, srv.Received())
}

func TestConnect_Failover(t *testing.T) {
	srv := querytest.NewServer(t, nil)
	profile := config.Profile{Endpoints: []config.Endpoint{
		{Address: "127.0.0.1:1", Priority: 10},
		{Address: srv.Addr(), Priority: 1},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := connect(ctx, testLogger(t), profile, secret.NewResolver())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, srv.Addr(), s.conn.Addr())
}

func TestConnect_LoginRejected(t *testing.T) {
	srv := querytest.NewServer(t, func(string) []string {
		return []string{`error id=520 msg=invalid\sloginname\sor\spassword`}
	})
	profile := config.Profile{Address: srv.Addr(), Username: "serveradmin", Password: "wrong"}

	_, err := connect(context.Background(), testLogger(t), profile, secret.NewResolver())
	assert.True(t, query.IsStatus(err, query.StatusInvalidLogin))
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	f, err := newFormatter("{{kind}}")
	require.NoError(t, err)

	h := printer(&buf, f, testLogger(t))
	ev, err := query.ParseEvent("notifytextmessage targetmode=3 msg=hi invokerid=1")
	require.NoError(t, err)
	h(ev)
	assert.Equal(t, "notifytextmessage\n", buf.String())
}

func TestGatewayTLSOverrides(t *testing.T) {
	file := &config.File{Gateway: config.Gateway{TLSCert: "file.crt", TLSKey: "file.key", ClientCA: "file-ca.pem"}}

	cfg := (&GatewayCLI{}).tls(file)
	assert.Equal(t, "file.crt", cfg.CertFile)
	assert.Equal(t, "file-ca.pem", cfg.ClientCAFile)

	cfg = (&GatewayCLI{TLSCert: "flag.crt", TLSKey: "flag.key"}).tls(file)
	assert.Equal(t, "flag.crt", cfg.CertFile)
	assert.Equal(t, "flag.key", cfg.KeyFile)
	assert.Equal(t, "file-ca.pem", cfg.ClientCAFile)
}
