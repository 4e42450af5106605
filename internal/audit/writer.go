package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"guardpost/internal/domain"
)

// Writer appends immutable audit entries inside the caller's transaction so
// the record commits or rolls back together with the mutation it describes.
type Writer struct {
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append writes one audit entry. Entry ids are ULIDs, so ordering entries by
// id reproduces the order they were written.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) (domain.AuditEntry, error) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.TS == "" {
		e.TS = w.now().UTC().Format(time.RFC3339)
	}
	if e.ActorType == "" {
		e.ActorType = domain.ActorSystem
	}
	var details any
	if len(e.Details) > 0 {
		payload, err := json.Marshal(e.Details)
		if err != nil {
			return e, err
		}
		details = string(payload)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log(id,alert_id,action,actor_id,actor_type,from_status,to_status,details_json,ts)
VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.AlertID, e.Action, nullable(e.ActorID), e.ActorType, nullable(e.FromStatus), nullable(e.ToStatus), details, e.TS)
	return e, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
