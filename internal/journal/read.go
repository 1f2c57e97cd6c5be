package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/evalbot/internal/engine"
)

// Filter narrows a List query. Zero fields match everything.
type Filter struct {
	ChatID    int64
	MessageID int64
	TraceID   string

	// Limit keeps only the most recent N transitions. 0 means no limit.
	Limit int
}

// List returns transitions matching f in (seq, id) order.
//
// Returns an empty slice (not nil) if nothing matches.
func (j *Journal) List(ctx context.Context, f Filter) ([]engine.Transition, error) {
	var (
		where []string
		args  []any
	)
	if f.ChatID != 0 {
		where = append(where, "chat_id = ?")
		args = append(args, f.ChatID)
	}
	if f.MessageID != 0 {
		where = append(where, "message_id = ?")
		args = append(args, f.MessageID)
	}
	if f.TraceID != "" {
		where = append(where, "trace_id = ?")
		args = append(args, f.TraceID)
	}

	query := `SELECT seq, trace_id, chat_id, message_id, version, action, reply_id, signature, detail, at
		FROM transitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	if f.Limit > 0 {
		// Newest N, then flipped back to ascending order.
		query = `SELECT * FROM (` + query + `
			ORDER BY seq DESC, id COLLATE BINARY DESC LIMIT ?)
			ORDER BY seq ASC`
		args = append(args, f.Limit)
	} else {
		query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := make([]engine.Transition, 0)
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest seq recorded, or 0 for an empty journal.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM transitions`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

// Count returns the number of stored transitions.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transitions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transitions: %w", err)
	}
	return n, nil
}

func scanTransition(rows *sql.Rows) (engine.Transition, error) {
	var (
		t       engine.Transition
		version int64
		action  string
		at      string
	)
	err := rows.Scan(&t.Seq, &t.TraceID, &t.ChatID, &t.MessageID, &version,
		&action, &t.ReplyID, &t.Signature, &t.Detail, &at)
	if err != nil {
		return t, fmt.Errorf("scan transition: %w", err)
	}
	t.Version = uint64(version)
	t.Action = engine.Action(action)
	t.At, err = time.Parse(timeFormat, at)
	if err != nil {
		return t, fmt.Errorf("parse transition time %q: %w", at, err)
	}
	return t, nil
}
