package memory

import (
	"context"
	"sync"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
)

var (
	_ audit.Sink   = (*AuditLog)(nil)
	_ audit.Reader = (*AuditLog)(nil)
)

// AuditLog is an append-only in-memory audit sink.
type AuditLog struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(_ context.Context, e audit.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// List returns up to limit entries, newest first.
func (l *AuditLog) List(_ context.Context, limit int) ([]audit.Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]audit.Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// All returns every entry in insertion order.
func (l *AuditLog) All() []audit.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]audit.Entry(nil), l.entries...)
}
