package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/status"
)

// AppendOperation records one operation state transition. Appending the
// same (id, state) pair again is a silent no-op, so replayed tracker
// events are harmless.
func (j *Journal) AppendOperation(ctx context.Context, op status.Operation) error {
	var errText string
	if op.Err != nil {
		errText = op.Err.Error()
	}
	var finishedAt any
	if op.FinishedAt != nil {
		finishedAt = op.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO operations
		(id, logical_id, side, state, error, started_at, finished_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, state) DO NOTHING
	`,
		op.ID,
		op.LogicalID,
		string(op.Side),
		string(op.State),
		errText,
		op.StartedAt.UTC().Format(time.RFC3339Nano),
		finishedAt,
		j.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

// AppendConflict records one conflict. A record seen again, typically
// after resolution, overwrites its earlier row so the journal keeps the
// latest status.
func (j *Journal) AppendConflict(ctx context.Context, rec conflict.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("append conflict: encode record: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO conflicts
		(id, logical_id, status, detected_at, record, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record,
			recorded_at = excluded.recorded_at
	`,
		rec.ID,
		rec.LogicalID,
		string(rec.Status),
		rec.DetectedAt.UTC().Format(time.RFC3339Nano),
		string(body),
		j.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append conflict: %w", err)
	}
	return nil
}

// OperationHandler returns a tracker subscriber that journals every
// transition. Failures are logged and swallowed; journaling must never
// stall the pipeline that feeds it.
func (j *Journal) OperationHandler() status.Handler {
	return func(op status.Operation) {
		if err := j.AppendOperation(context.Background(), op); err != nil {
			j.logger.Warn("journal operation", "op", op.ID, "state", op.State, "error", err)
		}
	}
}

// ConflictCallback returns a notifier callback that journals every
// conflict record, including the refreshed copy after resolution.
func (j *Journal) ConflictCallback() func(conflict.Record) {
	return func(rec conflict.Record) {
		if err := j.AppendConflict(context.Background(), rec); err != nil {
			j.logger.Warn("journal conflict", "conflict", rec.ID, "error", err)
		}
	}
}
