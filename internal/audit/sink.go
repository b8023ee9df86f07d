package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
)

// MultiSink writes every entry to each sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink emits each entry as a structured log line.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(l *zap.Logger) *LogSink {
	return &LogSink{log: l}
}

func (s *LogSink) Append(_ context.Context, e Entry) error {
	actor := ""
	if e.ActorUserID != nil {
		actor = *e.ActorUserID
	}
	s.log.Info("audit",
		zap.String("type", "audit"),
		zap.Int64("audit_id", e.ID),
		zap.Time("occurred_at", e.OccurredAt),
		zap.String("actor_user_id", actor),
		zap.String("action", string(e.Action)),
		zap.String("resource_type", e.ResourceType),
		zap.String("resource_id", e.ResourceID),
		zap.String("ip", e.IP),
		zap.String("user_agent", e.UserAgent),
		zap.String("request_id", e.RequestID),
	)
	return nil
}

// FileSink appends JSON lines to a time-rotated file.
type FileSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// FileSinkOptions controls rotation. Zero values use daily rotation and 90 day retention.
type FileSinkOptions struct {
	RotationTime time.Duration
	MaxAge       time.Duration
}

// NewFileSink opens path with a strftime suffix (path.YYYYMMDD) and a symlink at path.
func NewFileSink(path string, opts FileSinkOptions) (*FileSink, error) {
	if opts.RotationTime <= 0 {
		opts.RotationTime = 24 * time.Hour
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 90 * 24 * time.Hour
	}
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(opts.RotationTime),
		rotatelogs.WithMaxAge(opts.MaxAge),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: open file sink: %w", err)
	}
	return &FileSink{w: w}, nil
}

// NewWriterSink writes JSON lines to w.
func NewWriterSink(w io.WriteCloser) *FileSink {
	return &FileSink{w: w}
}

func (s *FileSink) Append(_ context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
