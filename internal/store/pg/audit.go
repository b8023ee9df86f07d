package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
)

var (
	_ audit.Sink   = (*AuditLog)(nil)
	_ audit.Reader = (*AuditLog)(nil)
)

// AuditLog appends to the audit_log table, which rejects updates and deletes.
type AuditLog struct {
	s *Store
}

// AuditLog returns the audit sink backed by this store.
func (s *Store) AuditLog() *AuditLog {
	return &AuditLog{s: s}
}

type auditRow struct {
	ID           int64     `db:"id"`
	OccurredAt   time.Time `db:"occurred_at"`
	ActorUserID  *string   `db:"actor_user_id"`
	Action       string    `db:"action"`
	ResourceType string    `db:"resource_type"`
	ResourceID   string    `db:"resource_id"`
	OldValue     []byte    `db:"old_value"`
	NewValue     []byte    `db:"new_value"`
	IP           string    `db:"ip"`
	UserAgent    string    `db:"user_agent"`
	RequestID    string    `db:"request_id"`
}

func (a *AuditLog) Append(ctx context.Context, e audit.Entry) error {
	_, err := a.s.db.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, actor_user_id, action, resource_type, resource_id,
			old_value, new_value, ip, user_agent, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.OccurredAt.UTC(), e.ActorUserID, string(e.Action), e.ResourceType, e.ResourceID,
		nullableJSON(e.OldValue), nullableJSON(e.NewValue), e.IP, e.UserAgent, e.RequestID)
	return err
}

// List returns up to limit entries, newest first.
func (a *AuditLog) List(ctx context.Context, limit int) ([]audit.Entry, error) {
	var rows []auditRow
	err := a.s.db.SelectContext(ctx, &rows, `
		select id, occurred_at, actor_user_id, action, resource_type, resource_id,
			old_value, new_value, ip, user_agent, request_id
		from audit_log
		order by occurred_at desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, audit.Entry{
			ID:           r.ID,
			OccurredAt:   r.OccurredAt.UTC(),
			ActorUserID:  r.ActorUserID,
			Action:       audit.Action(r.Action),
			ResourceType: r.ResourceType,
			ResourceID:   r.ResourceID,
			OldValue:     rawJSON(r.OldValue),
			NewValue:     rawJSON(r.NewValue),
			IP:           r.IP,
			UserAgent:    r.UserAgent,
			RequestID:    r.RequestID,
		})
	}
	return out, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
