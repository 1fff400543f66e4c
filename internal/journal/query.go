package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/status"
)

// Transition is one journaled operation state change.
type Transition struct {
	Seq        int64        `json:"seq"`
	ID         string       `json:"id"`
	LogicalID  string       `json:"logicalId"`
	Side       ir.Side      `json:"side"`
	State      status.State `json:"state"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	RecordedAt time.Time    `json:"recordedAt"`
}

// OperationFilter narrows an Operations query. Zero-value fields do not
// filter; Limit <= 0 means no limit.
type OperationFilter struct {
	ID        string
	LogicalID string
	State     status.State
	Limit     int
}

// ConflictFilter narrows a Conflicts query. Zero-value fields do not
// filter; Limit <= 0 means no limit.
type ConflictFilter struct {
	LogicalID string
	Status    conflict.Status
	Limit     int
}

// Operations returns journaled transitions matching the filter, oldest
// first. Returns an empty slice, not nil, when nothing matches.
func (j *Journal) Operations(ctx context.Context, f OperationFilter) ([]Transition, error) {
	query := `
		SELECT seq, id, logical_id, side, state, error, started_at, finished_at, recorded_at
		FROM operations`

	var conds []string
	var params []any
	if f.ID != "" {
		conds = append(conds, "id = ?")
		params = append(params, f.ID)
	}
	if f.LogicalID != "" {
		conds = append(conds, "logical_id = ?")
		params = append(params, f.LogicalID)
	}
	if f.State != "" {
		conds = append(conds, "state = ?")
		params = append(params, string(f.State))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		tr, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return transitions, nil
}

// Conflicts returns journaled conflict records matching the filter.
// Ordered by detection time with the id as a deterministic tiebreaker.
// Returns an empty slice, not nil, when nothing matches.
func (j *Journal) Conflicts(ctx context.Context, f ConflictFilter) ([]conflict.Record, error) {
	query := `SELECT record FROM conflicts`

	var conds []string
	var params []any
	if f.LogicalID != "" {
		conds = append(conds, "logical_id = ?")
		params = append(params, f.LogicalID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		params = append(params, string(f.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY detected_at ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	records := []conflict.Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		var rec conflict.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode conflict record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	return records, nil
}

func scanTransition(rows *sql.Rows) (Transition, error) {
	var (
		tr         Transition
		side       string
		state      string
		startedAt  string
		finishedAt sql.NullString
		recordedAt string
	)
	if err := rows.Scan(&tr.Seq, &tr.ID, &tr.LogicalID, &side, &state, &tr.Error, &startedAt, &finishedAt, &recordedAt); err != nil {
		return Transition{}, fmt.Errorf("scan operation: %w", err)
	}

	tr.Side = ir.Side(side)
	tr.State = status.State(state)

	var err error
	if tr.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Transition{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return Transition{}, fmt.Errorf("parse finished_at: %w", err)
		}
		tr.FinishedAt = &ts
	}
	if tr.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		return Transition{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	return tr, nil
}
