package eventlog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/tsquery/tsquery/pkg/query"
)

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes events to S3 as JSON objects partitioned by date and
// kind. Writes happen on a background goroutine; a full buffer drops events.
type S3Archiver struct {
	client    PutObjectAPI
	bucket    string
	keyPrefix string
	source    string
	logger    *slog.Logger
	now       func() time.Time

	events chan record
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// S3Config configures an S3Archiver.
type S3Config struct {
	Client     PutObjectAPI
	Bucket     string
	KeyPrefix  string // e.g. "events"
	Source     string // recorded with every event, typically the server address
	Logger     *slog.Logger
	BufferSize int // default 100
}

// NewS3Archiver starts an archiver. Call Shutdown to flush it.
func NewS3Archiver(config S3Config) *S3Archiver {
	if config.BufferSize == 0 {
		config.BufferSize = 100
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &S3Archiver{
		client:    config.Client,
		bucket:    config.Bucket,
		keyPrefix: config.KeyPrefix,
		source:    config.Source,
		logger:    config.Logger,
		now:       time.Now,
		events:    make(chan record, config.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.wg.Add(1)
	go a.writer()
	return a
}

// LogEvent queues ev for upload. It never blocks.
func (a *S3Archiver) LogEvent(ctx context.Context, ev *query.Event) error {
	select {
	case a.events <- newRecord(ev, a.source, a.now()):
		return nil
	default:
		a.logger.Warn("event archiver buffer full, dropping event", slog.String("kind", string(ev.Kind)))
		return fmt.Errorf("archiver buffer full")
	}
}

// Shutdown stops the writer after flushing queued events, or gives up after
// timeout.
func (a *S3Archiver) Shutdown(timeout time.Duration) error {
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

func (a *S3Archiver) writer() {
	defer a.wg.Done()

	for {
		select {
		case rec := <-a.events:
			a.write(rec)
		case <-a.ctx.Done():
			for {
				select {
				case rec := <-a.events:
					a.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (a *S3Archiver) write(rec record) {
	if err := a.put(rec); err != nil {
		a.logger.Error("failed to archive event to S3",
			slog.String("kind", rec.Kind),
			slog.String("error", err.Error()))
	}
}

func (a *S3Archiver) put(rec record) error {
	key := a.key(rec.Timestamp, rec.Kind)

	body, err := rec.toJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	body = append(body, '\n')

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write to S3: %w", err)
	}

	a.logger.Debug("archived event to S3", slog.String("bucket", a.bucket), slog.String("key", key))
	return nil
}

// key returns [prefix/]year=YYYY/month=MM/day=DD/kind=KIND/UUID.json.
func (a *S3Archiver) key(ts time.Time, kind string) string {
	year, month, day := ts.Date()
	key := fmt.Sprintf("year=%04d/month=%02d/day=%02d/kind=%s/%s.json",
		year, int(month), day, kind, uuid.NewString())
	if a.keyPrefix != "" {
		key = a.keyPrefix + "/" + key
	}
	return key
}
