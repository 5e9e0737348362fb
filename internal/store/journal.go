package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/session"
)

var _ session.Journal = (*Journal)(nil)

// Journal records what a session.Store needs to survive a restart:
// conversation turns, preferences and bookings.
type Journal struct {
	db *DB
}

// NewJournal creates a journal using the given database.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// touch creates the session row or bumps its updated_at.
func touch(ctx context.Context, tx *sql.Tx, sessionID string) error {
	now := stamp(time.Now())
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now,
	)
	return err
}

// Restore implements session.Journal.
func (j *Journal) Restore(ctx context.Context, sessionID string) (session.Restored, bool, error) {
	var out session.Restored
	var createdAt string
	err := j.db.sql.QueryRowContext(ctx,
		`SELECT created_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return out, false, nil
	}
	if err != nil {
		return out, false, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	out.CreatedAt = parseStamp(createdAt)

	if out.History, err = j.turns(ctx, sessionID); err != nil {
		return out, false, err
	}

	var data string
	err = j.db.sql.QueryRowContext(ctx,
		`SELECT data FROM preferences WHERE session_id = ?`, sessionID,
	).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return out, false, fmt.Errorf("loading preferences for %s: %w", sessionID, err)
	default:
		if err := json.Unmarshal([]byte(data), &out.Preferences); err != nil {
			return out, false, fmt.Errorf("decoding preferences for %s: %w", sessionID, err)
		}
	}

	j.db.log.Debug().Str("sessionId", sessionID).Int("turns", len(out.History)).Msg("session restored")
	return out, true, nil
}

func (j *Journal) turns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := j.db.sql.QueryContext(ctx,
		`SELECT sender, text, run_id, timestamp FROM turns WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading turns for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var sender, ts string
		if err := rows.Scan(&sender, &t.Text, &t.RunID, &ts); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Sender = domain.Sender(sender)
		t.Timestamp = parseStamp(ts)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurns implements session.Journal.
func (j *Journal) AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error {
	return j.inTx(ctx, sessionID, func(tx *sql.Tx) error {
		for _, t := range turns {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO turns (session_id, sender, text, run_id, timestamp) VALUES (?, ?, ?, ?, ?)`,
				sessionID, string(t.Sender), t.Text, t.RunID, stamp(t.Timestamp),
			); err != nil {
				return fmt.Errorf("inserting turn: %w", err)
			}
		}
		return nil
	})
}

// SavePreferences implements session.Journal.
func (j *Journal) SavePreferences(ctx context.Context, sessionID string, prefs domain.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	return j.inTx(ctx, sessionID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO preferences (session_id, data, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			sessionID, string(data), stamp(time.Now()),
		)
		return err
	})
}

// SaveBooking implements session.Journal.
func (j *Journal) SaveBooking(ctx context.Context, b domain.Booking) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding booking: %w", err)
	}
	return j.inTx(ctx, b.SessionID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bookings (reference, session_id, kind, item_id, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			b.Reference, b.SessionID, string(b.Kind), b.ItemID, string(data), stamp(b.CreatedAt),
		)
		return err
	})
}

// Bookings returns a session's bookings, oldest first.
func (j *Journal) Bookings(ctx context.Context, sessionID string) ([]domain.Booking, error) {
	rows, err := j.db.sql.QueryContext(ctx,
		`SELECT data FROM bookings WHERE session_id = ? ORDER BY created_at, reference`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading bookings for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		var b domain.Booking
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return nil, fmt.Errorf("decoding booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Sessions lists journaled session ids, most recently updated first.
func (j *Journal) Sessions(ctx context.Context) ([]string, error) {
	rows, err := j.db.sql.QueryContext(ctx, `SELECT id FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (j *Journal) inTx(ctx context.Context, sessionID string, fn func(tx *sql.Tx) error) error {
	tx, err := j.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := touch(ctx, tx, sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording session %s: %w", sessionID, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
