package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsquery/tsquery/pkg/query"
)

func testEvent(t *testing.T) *query.Event {
	ev, err := query.ParseEvent(`notifytextmessage targetmode=3 msg=hello\sall invokerid=7 invokername=bob`)
	require.NoError(t, err)
	return ev
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, NewSlogLogger(logger, slog.LevelInfo).LogEvent(context.Background(), testEvent(t)))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "notification", out["msg"])
	assert.Equal(t, "notifytextmessage", out["kind"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "hello all", data["msg"])
}

type failingSink struct{ err error }

func (f failingSink) LogEvent(context.Context, *query.Event) error { return f.err }

type countingSink struct{ n int }

func (c *countingSink) LogEvent(context.Context, *query.Event) error {
	c.n++
	return nil
}

func TestMulti_CallsAll(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingSink{}
	m := NewMulti(failingSink{err: boom}, counter, Noop{})

	err := m.LogEvent(context.Background(), testEvent(t))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.n)
}

type fakeS3 struct {
	mu   sync.Mutex
	puts []*s3.PutObjectInput
	body []string
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, in)
	f.body = append(f.body, string(b))
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Archiver(t *testing.T) {
	fake := &fakeS3{}
	a := NewS3Archiver(S3Config{
		Client:    fake,
		Bucket:    "audit",
		KeyPrefix: "events",
		Source:    "ts.example.com:10011",
	})
	a.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	require.NoError(t, a.LogEvent(context.Background(), testEvent(t)))
	require.NoError(t, a.Shutdown(5*time.Second))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "audit", *fake.puts[0].Bucket)
	key := *fake.puts[0].Key
	assert.True(t, strings.HasPrefix(key, "events/year=2026/month=03/day=04/kind=notifytextmessage/"), key)
	assert.True(t, strings.HasSuffix(key, ".json"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(fake.body[0]), &rec))
	assert.Equal(t, "notifytextmessage", rec["kind"])
	assert.Equal(t, "ts.example.com:10011", rec["source"])
	data := rec["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "bob", data["invokername"])
}

func TestS3Archiver_BufferFull(t *testing.T) {
	block := make(chan struct{})
	a := NewS3Archiver(S3Config{Client: blockingS3{block}, Bucket: "b", BufferSize: 1})
	defer func() {
		close(block)
		a.Shutdown(time.Second)
	}()

	ev := testEvent(t)
	var dropped bool
	for i := 0; i < 10; i++ {
		if err := a.LogEvent(context.Background(), ev); err != nil {
			dropped = true
			break
		}
	}
	assert.True(t, dropped)
}

type blockingS3 struct{ block chan struct{} }

func (b blockingS3) PutObject(ctx context.Context, _ *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	<-b.block
	return &s3.PutObjectOutput{}, nil
}
