package audit

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Writer appends workflow transition records. The table is append-only: rows
// are never updated or deleted, and a failed write must never block the state
// change it describes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Record is one transition attempt. Applied is false when the state machine
// rejected the transition.
type Record struct {
	DocumentID string
	FromStatus string
	ToStatus   string
	ActorID    string
	Comment    string
	Applied    bool
}

// AppendTx writes a record inside the transition's transaction so the audit
// row commits atomically with the status change.
func (w Writer) AppendTx(ctx context.Context, tx *sql.Tx, rec Record) error {
	ts := w.now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_transitions(ts,document_id,from_status,to_status,actor_id,comment,applied) VALUES (?,?,?,?,?,?,?)`,
		ts, rec.DocumentID, rec.FromStatus, rec.ToStatus, rec.ActorID, nullable(rec.Comment), appliedFlag(rec.Applied))
	return err
}

// Append writes a record outside any transaction, best effort. Used for
// rejected attempts, where there is no state change to keep atomic with.
// Failures are logged and swallowed.
func (w Writer) Append(ctx context.Context, rec Record) {
	ts := w.now().UTC().Format(time.RFC3339)
	_, err := w.DB.ExecContext(ctx, `INSERT INTO workflow_transitions(ts,document_id,from_status,to_status,actor_id,comment,applied) VALUES (?,?,?,?,?,?,?)`,
		ts, rec.DocumentID, rec.FromStatus, rec.ToStatus, rec.ActorID, nullable(rec.Comment), appliedFlag(rec.Applied))
	if err != nil {
		log.Printf("audit: append transition %s %s->%s: %v", rec.DocumentID, rec.FromStatus, rec.ToStatus, err)
	}
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func appliedFlag(applied bool) int {
	if applied {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
