package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

var (
	ErrNotFound     = errors.New("not_found")
	ErrUnknownGroup = errors.New("unknown_group")
	ErrDuplicate    = errors.New("duplicate")
)

const reminderCols = `id, text, due_time, is_completed, is_sending, claimed_at, sent_at, created_at,
	repeat_interval_minutes, repeat_count, max_repeats`

func scanReminder(row pgx.Row) (Reminder, error) {
	var r Reminder
	err := row.Scan(&r.ID, &r.Text, &r.DueTime, &r.IsCompleted, &r.IsSending, &r.ClaimedAt, &r.SentAt,
		&r.CreatedAt, &r.RepeatIntervalMinutes, &r.RepeatCount, &r.MaxRepeats)
	return r, err
}

// ClaimDue atomically flips every eligible reminder (due, not completed, not
// already claimed) to is_sending=true and returns the claimed set. SKIP LOCKED
// keeps two concurrent cycles from ever claiming overlapping subsets.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) ([]Reminder, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+reminderCols+` FROM reminders
		WHERE due_time <= $1 AND NOT is_completed AND NOT is_sending
		ORDER BY due_time
		FOR UPDATE SKIP LOCKED
	`, now)
	if err != nil {
		return nil, err
	}
	var claimed []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, len(claimed))
	for i, r := range claimed {
		ids[i] = r.ID
	}
	_, err = tx.Exec(ctx, `UPDATE reminders SET is_sending = true, claimed_at = $2 WHERE id = ANY($1)`, ids, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	at := now
	for i := range claimed {
		claimed[i].IsSending = true
		claimed[i].ClaimedAt = &at
	}
	return claimed, nil
}

// ClaimOne claims a single reminder for the send-now path. The cushion widens
// the due check so an externally scheduled near-due trigger does not race the
// periodic cycle on the due-time boundary. An empty SendStatus means the
// reminder was claimed; otherwise it reports why it was not.
func (s *Store) ClaimOne(ctx context.Context, id string, now time.Time, cushion time.Duration) (Reminder, SendStatus, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reminder{}, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := scanReminder(tx.QueryRow(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reminder{}, "", ErrNotFound
		}
		return Reminder{}, "", err
	}

	switch {
	case r.IsCompleted:
		return r, SendStatusAlreadyCompleted, tx.Commit(ctx)
	case r.IsSending:
		return r, SendStatusAlreadySending, tx.Commit(ctx)
	case r.DueTime.After(now.Add(cushion)):
		return r, SendStatusNotDueYet, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `UPDATE reminders SET is_sending = true, claimed_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return Reminder{}, "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reminder{}, "", err
	}
	r.IsSending = true
	at := now
	r.ClaimedAt = &at
	return r, "", nil
}

// Release clears the claim flag without advancing any state; due_time and
// repeat_count keep their values so the reminder is retried on a later cycle.
func (s *Store) Release(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.Exec(ctx, `UPDATE reminders SET is_sending = false, claimed_at = NULL WHERE id = ANY($1)`, ids)
	return err
}

// ReleaseStale frees claims older than the threshold. A crashed process
// leaves its reminders is_sending=true forever; this is the reconciliation
// pass that gets them moving again.
func (s *Store) ReleaseStale(ctx context.Context, now time.Time, olderThan time.Duration) (int, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE reminders SET is_sending = false, claimed_at = NULL
		WHERE is_sending AND claimed_at IS NOT NULL AND claimed_at < $1
	`, now.Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Finalize applies the reschedule policy to a claimed reminder after a
// successful dispatch: bump the counter, stamp sent_at, then either advance
// due_time and return to pending, or complete. Runs as one row-locked
// transaction so the counter never races a concurrent edit.
func (s *Store) Finalize(ctx context.Context, id string, now time.Time) (FinalizeResult, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var interval, count, max int
	err = tx.QueryRow(ctx, `
		SELECT repeat_interval_minutes, repeat_count, max_repeats FROM reminders WHERE id = $1 FOR UPDATE
	`, id).Scan(&interval, &count, &max)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}

	next := NextOccurrence(interval, count, max, now)
	if next.Repeat {
		_, err = tx.Exec(ctx, `
			UPDATE reminders SET repeat_count = $2, sent_at = $3, due_time = $4,
				is_sending = false, claimed_at = NULL
			WHERE id = $1
		`, id, next.RepeatCount, now, next.NextDue)
		if err != nil {
			return "", err
		}
		return FinalizeRepeated, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE reminders SET repeat_count = $2, sent_at = $3,
			is_completed = true, is_sending = false, claimed_at = NULL
		WHERE id = $1
	`, id, next.RepeatCount, now)
	if err != nil {
		return "", err
	}
	return FinalizeCompleted, tx.Commit(ctx)
}

// ResolveRecipients returns the de-duplicated chat ids of every recipient in
// any of the reminder's groups. Empty means "no users", not an error.
func (s *Store) ResolveRecipients(ctx context.Context, reminderID string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT DISTINCT rec.chat_id
		FROM recipients rec
		JOIN reminder_groups rg ON rg.group_id = rec.group_id
		WHERE rg.reminder_id = $1
		ORDER BY rec.chat_id
	`, reminderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chatIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chatIDs = append(chatIDs, id)
	}
	return chatIDs, rows.Err()
}
