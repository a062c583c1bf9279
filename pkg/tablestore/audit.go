package tablestore

import (
	"context"

	"github.com/hsgraph/hsg/pkg/errs"
)

// AuditEntry is a single append-only audit_log row (spec.md §6 durable
// schema). detail carries a short free-form description of the action.
type AuditEntry struct {
	ID        string
	TenantID  *string
	Actor     string
	Action    string
	SubjectID string
	Timestamp int64
	Detail    string
}

// AppendAudit writes an audit_log row. Core write operations call this
// best-effort; a failure here never blocks the operation it is auditing.
func (s *Store) AppendAudit(ctx context.Context, e *AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, actor, action, subject_id, ts, detail)
		VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.Actor, e.Action, e.SubjectID, e.Timestamp, e.Detail,
	)
	if err != nil {
		return errs.Internal("tablestore.AppendAudit", err)
	}
	return nil
}
