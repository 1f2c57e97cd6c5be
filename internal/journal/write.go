package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/evalbot/internal/engine"
)

// timeFormat is fixed-width so that stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Append inserts a transition. Each row gets a fresh UUIDv7 id, so the same
// transition appended twice is stored twice; the engine never does that.
func (j *Journal) Append(ctx context.Context, t engine.Transition) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO transitions
		(id, seq, trace_id, chat_id, message_id, version, action, reply_id, signature, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id.String(),
		t.Seq,
		t.TraceID,
		t.ChatID,
		t.MessageID,
		int64(t.Version),
		string(t.Action),
		t.ReplyID,
		t.Signature,
		t.Detail,
		at.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("append transition seq=%d: %w", t.Seq, err)
	}
	return nil
}

// Prune deletes transitions recorded before cutoff and returns how many
// rows were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM transitions WHERE at < ?`,
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return n, nil
}
