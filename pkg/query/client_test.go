package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tsquery/tsquery/internal/querytest"
	"github.com/tsquery/tsquery/pkg/queryconn"
	"github.com/tsquery/tsquery/pkg/querystr"
)

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(tint.NewHandler(t.Output(), &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05",
	}))
}

// echoServer answers "echo n=<x>" with "n=<x>" and runs extra for other
// commands.
func echoServer(t *testing.T, extra querytest.HandlerFunc) *querytest.Server {
	return querytest.NewServer(t, func(line string) []string {
		if rest, ok := strings.CutPrefix(line, "echo "); ok {
			return []string{rest, querytest.OK}
		}
		if extra != nil {
			return extra(line)
		}
		return []string{querytest.OK}
	})
}

func newClient(t *testing.T, srv *querytest.Server, opts ...Option) *Client {
	t.Helper()
	logger := testLogger(t)
	conn := queryconn.New(srv.Addr(), queryconn.WithLogger(logger))
	require.NoError(t, conn.Open(context.Background()))

	c := New(conn, append([]Option{WithLogger(logger), WithPollInterval(20 * time.Millisecond)}, opts...)...)
	t.Cleanup(func() { c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSend(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)

	resp, err := c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", 7))
	require.NoError(t, err)
	rec, ok := resp.Single()
	require.True(t, ok)
	assert.Equal(t, "7", rec.Value("n"))
	assert.Equal(t, 0, resp.Code())
	assert.Equal(t, "echo", resp.Command)
	assert.Equal(t, 0, c.Pending())
}

func TestSend_InvalidRequest(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)

	_, err := c.Send(testCtx(t), nil)
	var te *TypeError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.Send(testCtx(t), querystr.NewRequest("x").Param("f", 1.5))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, querystr.ErrUnsupportedType)
}

func TestDial(t *testing.T) {
	srv := echoServer(t, nil)
	c, err := Dial(testCtx(t), srv.Addr(), []queryconn.Option{queryconn.WithLogger(testLogger(t))}, WithLogger(testLogger(t)))
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", "x"))
	require.NoError(t, err)
	assert.Equal(t, "n=x", resp.Text())

	_, err = Dial(testCtx(t), "", nil)
	assert.ErrorIs(t, err, queryconn.ErrNoHost)
}

func TestSend_NotConnected(t *testing.T) {
	c := New(queryconn.New("127.0.0.1:1"))
	_, err := c.Send(context.Background(), querystr.NewRequest("version"))
	assert.ErrorIs(t, err, queryconn.ErrNotConnected)
}

func TestSend_ConcurrentFIFO(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)
	ctx := testCtx(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Send(ctx, querystr.NewRequest("echo").Param("n", i))
			if err != nil {
				errs <- err
				return
			}
			rec, _ := resp.Single()
			if got := rec.Value("n"); got != fmt.Sprint(i) {
				errs <- fmt.Errorf("request %d got reply %s", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, srv.Received(), n)
}

func TestSend_NotificationDuringRead(t *testing.T) {
	srv := echoServer(t, func(line string) []string {
		return []string{
			"notifycliententerview cfid=0 ctid=1 clid=9 client_nickname=bob",
			"virtualserver_name=Test",
			querytest.OK,
		}
	})
	c := newClient(t, srv)

	events := make(chan *Event, 1)
	c.RegisterHandler(func(ev *Event) { events <- ev })

	resp, err := c.Send(testCtx(t), querystr.NewRequest("serverinfo"))
	require.NoError(t, err)
	rec, ok := resp.Single()
	require.True(t, ok)
	assert.Equal(t, "Test", rec.Value("virtualserver_name"))
	assert.False(t, rec.Has("clid"))

	select {
	case ev := <-events:
		assert.Equal(t, EventClientEnterView, ev.Kind)
		rec, _ := ev.Single()
		assert.Equal(t, "bob", rec.Value("client_nickname"))
	case <-time.After(2 * time.Second):
		t.Fatal("event not dispatched")
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	srv := echoServer(t, func(string) []string {
		return []string{`error id=1024 msg=invalid\sserverID`}
	})
	c := newClient(t, srv)

	resp, err := c.Send(testCtx(t), querystr.NewRequest("use").Param("sid", 99))
	require.NoError(t, err)
	assert.True(t, IsStatus(resp.Err(), StatusInvalidServerID))
}

func TestSend_BlankLine(t *testing.T) {
	srv := echoServer(t, func(string) []string {
		return []string{"", querytest.OK}
	})
	c := newClient(t, srv)

	_, err := c.Send(testCtx(t), querystr.NewRequest("odd"))
	assert.ErrorIs(t, err, ErrResponseExpected)

	// The status line of the failed request is consumed before the next one.
	resp, err := c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", 1))
	require.NoError(t, err)
	rec, _ := resp.Single()
	assert.Equal(t, "1", rec.Value("n"))
}

func TestSend_UnknownNotification(t *testing.T) {
	srv := echoServer(t, func(string) []string {
		return []string{"notifybogus x=1", querytest.OK}
	})
	c := newClient(t, srv)

	_, err := c.Send(testCtx(t), querystr.NewRequest("odd"))
	assert.ErrorIs(t, err, ErrUnknownEventKind)

	resp, err := c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", 2))
	require.NoError(t, err)
	rec, _ := resp.Single()
	assert.Equal(t, "2", rec.Value("n"))
}

func TestSend_ResetFailsPending(t *testing.T) {
	srv := echoServer(t, func(string) []string { return nil })
	c := newClient(t, srv)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := c.Send(testCtx(t), querystr.NewRequest("hang"))
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return len(srv.Received()) >= 1 && c.Pending() == 3 }, 2*time.Second, 10*time.Millisecond)

	srv.Drop()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			var te *queryconn.TransportError
			assert.ErrorAs(t, err, &te)
		case <-time.After(3 * time.Second):
			t.Fatal("pending request was not failed")
		}
	}
	assert.False(t, c.Conn().IsConnected())
	assert.Equal(t, 0, c.Pending())
}

func TestSend_ResetFailsPendingWithReceiver(t *testing.T) {
	srv := echoServer(t, func(string) []string { return nil })
	c := newClient(t, srv)
	c.StartReceiver()

	errs := make(chan error, 1)
	go func() {
		_, err := c.Send(testCtx(t), querystr.NewRequest("hang"))
		errs <- err
	}()
	require.Eventually(t, func() bool { return len(srv.Received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.Drop()

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pending request was not failed")
	}
	require.Eventually(t, func() bool { return !c.ReceiverActive() }, 2*time.Second, 10*time.Millisecond)
}

func TestSend_ContextCanceled(t *testing.T) {
	var calls atomic.Int32
	srv := echoServer(t, func(line string) []string {
		if calls.Add(1) == 1 {
			return nil
		}
		return []string{querytest.OK}
	})
	c := newClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, querystr.NewRequest("hang"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, c.Conn().IsConnected())
}

func TestClose_FailsPending(t *testing.T) {
	srv := echoServer(t, func(string) []string { return nil })
	c := newClient(t, srv)
	c.StartReceiver()

	errs := make(chan error, 1)
	go func() {
		_, err := c.Send(testCtx(t), querystr.NewRequest("hang"))
		errs <- err
	}()
	require.Eventually(t, func() bool { return c.Pending() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("pending request was not failed")
	}
}

func TestHandlers(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)

	var count atomic.Int32
	h := func(*Event) { count.Add(1) }
	id1 := c.RegisterHandler(h)
	id2 := c.RegisterHandler(h)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, c.Handlers())

	c.StartReceiver()
	srv.Notify("notifyclientpoke invokerid=1 msg=hey")
	require.Eventually(t, func() bool { return count.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.UnregisterHandler(id1))
	assert.ErrorIs(t, c.UnregisterHandler(id1), ErrHandlerNotRegistered)
	assert.Equal(t, 1, c.Handlers())

	srv.Notify("notifyclientpoke invokerid=1 msg=again")
	require.Eventually(t, func() bool { return count.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_PanicRecovered(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)

	done := make(chan struct{})
	c.RegisterHandler(func(*Event) { panic("boom") })
	c.RegisterHandler(func(*Event) { close(done) })

	c.StartReceiver()
	srv.Notify("notifyserveredited reasonid=10")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler not invoked")
	}
}

func TestReceiver_StartStopIdempotent(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)

	c.StopReceiver()
	c.StartReceiver()
	c.StartReceiver()
	assert.True(t, c.ReceiverActive())

	resp, err := c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", 3))
	require.NoError(t, err)
	rec, _ := resp.Single()
	assert.Equal(t, "3", rec.Value("n"))

	c.StopReceiver()
	c.StopReceiver()
	assert.False(t, c.ReceiverActive())

	resp, err = c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", 4))
	require.NoError(t, err)
	rec, _ = resp.Single()
	assert.Equal(t, "4", rec.Value("n"))
}

// slowServer answers "slow" with nothing; the test writes the reply itself.
func slowServer(t *testing.T) *querytest.Server {
	return echoServer(t, func(line string) []string {
		if line == "slow" {
			return nil
		}
		return []string{querytest.OK}
	})
}

type result struct {
	resp *Response
	err  error
}

func sendAsync(ctx context.Context, c *Client, req *querystr.Request) <-chan result {
	ch := make(chan result, 1)
	go func() {
		resp, err := c.Send(ctx, req)
		ch <- result{resp, err}
	}()
	return ch
}

func awaitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("request still waiting")
		return result{}
	}
}

func TestReceiver_StopWithRequestInFlight(t *testing.T) {
	srv := slowServer(t)
	c := newClient(t, srv)
	c.StartReceiver()

	ch := sendAsync(context.Background(), c, querystr.NewRequest("slow"))
	require.Eventually(t, func() bool {
		return len(srv.Received()) == 1 && c.Pending() == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.StopReceiver()
	require.False(t, c.ReceiverActive())

	srv.Notify("n=9")
	srv.Notify(querytest.OK)

	r := awaitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, "n=9", r.resp.Text())
	assert.Equal(t, 0, c.Pending())

	resp, err := c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", 10))
	require.NoError(t, err)
	assert.Equal(t, "n=10", resp.Text())
}

func TestReceiver_StopWithRequestQueued(t *testing.T) {
	srv := echoServer(t, nil)
	// The receiver stays in one idle read until it is stopped.
	c := newClient(t, srv, WithPollInterval(time.Hour))
	c.StartReceiver()
	time.Sleep(50 * time.Millisecond)

	ch := sendAsync(context.Background(), c, querystr.NewRequest("echo").Param("n", 1))
	require.Eventually(t, func() bool { return c.Pending() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return len(srv.Received()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	c.StopReceiver()

	r := awaitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, "n=1", r.resp.Text())
	assert.Equal(t, []string{"echo n=1"}, srv.Received())
	assert.Equal(t, 0, c.Pending())
}

func TestReceiver_StartWhileCallerReads(t *testing.T) {
	srv := slowServer(t)
	c := newClient(t, srv)

	ch := sendAsync(context.Background(), c, querystr.NewRequest("slow"))
	require.Eventually(t, func() bool { return len(srv.Received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	c.StartReceiver()
	require.True(t, c.ReceiverActive())

	srv.Notify("n=5")
	srv.Notify(querytest.OK)

	r := awaitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, "n=5", r.resp.Text())

	poked := make(chan struct{}, 1)
	c.RegisterHandler(func(*Event) { poked <- struct{}{} })
	srv.Notify("notifyclientpoke invokerid=1 msg=hi")
	select {
	case <-poked:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not take over reading")
	}
}

func TestReceiver_StopDuringRateLimitWait(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv, WithRateLimit(rate.Every(300*time.Millisecond), 1))
	c.StartReceiver()

	_, err := c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", 1))
	require.NoError(t, err)

	// The next send waits on the limiter inside the receiver.
	ch := sendAsync(testCtx(t), c, querystr.NewRequest("echo").Param("n", 2))
	require.Eventually(t, func() bool { return c.Pending() == 1 }, 2*time.Second, 5*time.Millisecond)
	c.StopReceiver()

	r := awaitResult(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, "n=2", r.resp.Text())
}

func TestClose_QuitReplyNotDelivered(t *testing.T) {
	srv := slowServer(t)
	c := newClient(t, srv)

	ch := sendAsync(context.Background(), c, querystr.NewRequest("slow"))
	require.Eventually(t, func() bool { return len(srv.Received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())

	r := awaitResult(t, ch)
	assert.ErrorIs(t, r.err, ErrClosed)
	assert.Nil(t, r.resp)
	assert.Contains(t, srv.Received(), "quit")
}

func TestReceiver_AutoStart(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)
	require.False(t, c.ReceiverActive())

	_, err := c.Send(testCtx(t), querystr.NewRequest("servernotifyregister").Param("event", "server"))
	require.NoError(t, err)
	assert.True(t, c.ReceiverActive())
}

func TestReceiver_ConcurrentSenders(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)
	c.StartReceiver()
	ctx := testCtx(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Send(ctx, querystr.NewRequest("echo").Param("n", i))
			if !assert.NoError(t, err) {
				return
			}
			rec, _ := resp.Single()
			assert.Equal(t, fmt.Sprint(i), rec.Value("n"))
		}(i)
	}
	wg.Wait()
}

func TestPoll_UnexpectedLine(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv)

	srv.Notify("clid=1")

	var err error
	require.Eventually(t, func() bool {
		c.connMu.Lock()
		err = c.serve(context.Background())
		c.connMu.Unlock()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	var ul *UnexpectedLineError
	require.True(t, errors.As(err, &ul))
	assert.Equal(t, "clid=1", ul.Line)
}

func TestRateLimit(t *testing.T) {
	srv := echoServer(t, nil)
	c := newClient(t, srv, WithRateLimit(rate.Every(50*time.Millisecond), 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Send(testCtx(t), querystr.NewRequest("echo").Param("n", i))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

type recordingObserver struct {
	mu       sync.Mutex
	requests []string
	events   []EventKind
}

func (o *recordingObserver) RequestCompleted(command string, status int, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, fmt.Sprintf("%s:%d", command, status))
}

func (o *recordingObserver) EventDispatched(kind EventKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, kind)
}

func (o *recordingObserver) QueueDepth(int) {}

type chanSink chan *Event

func (s chanSink) LogEvent(_ context.Context, ev *Event) error {
	s <- ev
	return nil
}

func TestObserverAndSink(t *testing.T) {
	srv := echoServer(t, func(string) []string {
		return []string{"notifyclientleftview cfid=1 ctid=0 clid=4", querytest.OK}
	})
	obs := &recordingObserver{}
	sink := make(chanSink, 1)
	c := newClient(t, srv, WithObserver(obs), WithEventSink(sink))

	_, err := c.Send(testCtx(t), querystr.NewRequest("whoami"))
	require.NoError(t, err)

	select {
	case ev := <-sink:
		assert.Equal(t, EventClientLeftView, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("sink not called")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"whoami:0"}, obs.requests)
	assert.Equal(t, []EventKind{EventClientLeftView}, obs.events)
}
