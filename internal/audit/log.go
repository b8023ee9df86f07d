package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/ids"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 2 * time.Second
)

// Logger records audit entries asynchronously. Entries are stamped and queued
// by Record and written to the sink in FIFO order by a single worker, so the
// caller never blocks on storage and never sees a storage error.
type Logger struct {
	sink         Sink
	seq          *ids.Sequencer
	now          func() time.Time
	log          *zap.Logger
	queueSize    int
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan Entry
	done   chan struct{}
}

// Option configures Logger.
type Option func(*Logger)

// WithQueueSize bounds the number of entries waiting to be written.
func WithQueueSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Logger) {
		if d > 0 {
			l.writeTimeout = d
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithZapLogger sets the logger used to report dropped and failed entries.
func WithZapLogger(z *zap.Logger) Option {
	return func(l *Logger) {
		if z != nil {
			l.log = z
		}
	}
}

// NewLogger starts the background writer. Call Close to drain it.
func NewLogger(sink Sink, seq *ids.Sequencer, opts ...Option) *Logger {
	l := &Logger{
		sink:         sink,
		seq:          seq,
		now:          time.Now,
		log:          obs.Logger(),
		queueSize:    defaultQueueSize,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.queue = make(chan Entry, l.queueSize)
	l.done = make(chan struct{})
	go l.run()
	return l
}

// Record stamps the entry with its id and time and queues it. It never blocks
// on the sink; when the queue is full or the logger is closed the entry is
// dropped and logged.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Stamping under the lock keeps (OccurredAt, ID) in queue order.
	e.OccurredAt = l.now().UTC()
	e.ID = l.seq.Next()

	if l.closed {
		l.drop(e, "logger closed")
		return
	}
	select {
	case l.queue <- e:
	default:
		l.drop(e, "queue full")
	}
}

// Close stops intake and waits until queued entries are written or ctx ends.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.queue {
		l.write(e)
	}
}

func (l *Logger) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()
	if err := l.sink.Append(ctx, e); err != nil {
		obs.AuditEntry("failed")
		l.log.Error("audit write failed",
			zap.Error(err),
			zap.Int64("audit_id", e.ID),
			zap.String("action", string(e.Action)),
			zap.String("resource_type", e.ResourceType),
			zap.String("resource_id", e.ResourceID),
			zap.String("request_id", e.RequestID),
		)
		return
	}
	obs.AuditEntry("written")
}

func (l *Logger) drop(e Entry, reason string) {
	obs.AuditEntry("dropped")
	l.log.Warn("audit entry dropped",
		zap.String("reason", reason),
		zap.Int64("audit_id", e.ID),
		zap.String("action", string(e.Action)),
		zap.String("resource_type", e.ResourceType),
		zap.String("resource_id", e.ResourceID),
		zap.String("request_id", e.RequestID),
	)
}
