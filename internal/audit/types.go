package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Action names a security-relevant event.
type Action string

const (
	ActionLogin        Action = "LOGIN"
	ActionLoginFailed  Action = "LOGIN_FAILED"
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionAccessDenied Action = "ACCESS_DENIED"
)

// Entry is an immutable audit record. ID and OccurredAt are assigned by the
// Logger when the entry is recorded.
type Entry struct {
	ID           int64           `json:"id,string"`
	OccurredAt   time.Time       `json:"occurred_at"`
	ActorUserID  *string         `json:"actor_user_id"`
	Action       Action          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	OldValue     json.RawMessage `json:"old_value,omitempty"`
	NewValue     json.RawMessage `json:"new_value,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
}

// RequestMeta carries client details from the transport into audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}

// Apply copies the metadata onto e.
func (m RequestMeta) Apply(e *Entry) {
	e.IP = m.IP
	e.UserAgent = m.UserAgent
	e.RequestID = m.RequestID
}

// Actor returns a pointer suitable for Entry.ActorUserID; empty means unknown.
func Actor(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Snapshot marshals v for OldValue/NewValue. Unmarshalable values yield nil.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// Sink persists entries. Append must be safe to call from the logger worker.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Reader lists recent entries, newest first.
type Reader interface {
	List(ctx context.Context, limit int) ([]Entry, error)
}
