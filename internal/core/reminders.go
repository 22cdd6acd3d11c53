package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ReminderParams carries the operator-editable fields of a reminder.
type ReminderParams struct {
	Text                  string
	DueTime               time.Time
	GroupIDs              []string
	RepeatIntervalMinutes int
	MaxRepeats            int
}

func (s *Store) CreateReminder(ctx context.Context, p ReminderParams) (Reminder, error) {
	if p.MaxRepeats <= 0 {
		p.MaxRepeats = 1
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reminder{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkGroupsExist(ctx, tx, p.GroupIDs); err != nil {
		return Reminder{}, err
	}

	r, err := scanReminder(tx.QueryRow(ctx, `
		INSERT INTO reminders(text, due_time, repeat_interval_minutes, max_repeats)
		VALUES($1, $2, $3, $4)
		RETURNING `+reminderCols,
		p.Text, p.DueTime, p.RepeatIntervalMinutes, p.MaxRepeats))
	if err != nil {
		return Reminder{}, err
	}
	if err := insertReminderGroups(ctx, tx, r.ID, p.GroupIDs); err != nil {
		return Reminder{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reminder{}, err
	}
	return s.GetReminder(ctx, r.ID)
}

func (s *Store) GetReminder(ctx context.Context, id string) (Reminder, error) {
	r, err := scanReminder(s.DB.QueryRow(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reminder{}, ErrNotFound
		}
		return Reminder{}, err
	}
	byID, err := s.reminderGroups(ctx, []string{id})
	if err != nil {
		return Reminder{}, err
	}
	r.Groups = byID[id]
	return r, nil
}

// ListReminders pages through all reminders, newest due first.
func (s *Store) ListReminders(ctx context.Context, page, pageSize int) ([]Reminder, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM reminders`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.Query(ctx, `
		SELECT `+reminderCols+` FROM reminders
		ORDER BY due_time DESC, id DESC
		LIMIT $1 OFFSET $2
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Reminder
	var ids []string
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	byID, err := s.reminderGroups(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Groups = byID[out[i].ID]
	}
	return out, total, nil
}

func (s *Store) UpdateReminder(ctx context.Context, id string, p ReminderParams) (Reminder, error) {
	if p.MaxRepeats <= 0 {
		p.MaxRepeats = 1
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Reminder{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkGroupsExist(ctx, tx, p.GroupIDs); err != nil {
		return Reminder{}, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE reminders SET text = $2, due_time = $3, repeat_interval_minutes = $4, max_repeats = $5
		WHERE id = $1
	`, id, p.Text, p.DueTime, p.RepeatIntervalMinutes, p.MaxRepeats)
	if err != nil {
		return Reminder{}, err
	}
	if tag.RowsAffected() == 0 {
		return Reminder{}, ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM reminder_groups WHERE reminder_id = $1`, id); err != nil {
		return Reminder{}, err
	}
	if err := insertReminderGroups(ctx, tx, id, p.GroupIDs); err != nil {
		return Reminder{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reminder{}, err
	}
	return s.GetReminder(ctx, id)
}

// SetCompleted toggles the terminal flag from the CRUD surface. Marking a
// reminder completed also drops any claim so the two flags are never both set.
func (s *Store) SetCompleted(ctx context.Context, id string, completed bool) (Reminder, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE reminders SET is_completed = $2,
			is_sending = is_sending AND NOT $2,
			claimed_at = CASE WHEN $2 THEN NULL ELSE claimed_at END
		WHERE id = $1
	`, id, completed)
	if err != nil {
		return Reminder{}, err
	}
	if tag.RowsAffected() == 0 {
		return Reminder{}, ErrNotFound
	}
	return s.GetReminder(ctx, id)
}

func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func checkGroupsExist(ctx context.Context, tx pgx.Tx, groupIDs []string) error {
	if len(groupIDs) == 0 {
		return nil
	}
	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM groups WHERE id = ANY($1)`, groupIDs).Scan(&n); err != nil {
		return err
	}
	if n != len(groupIDs) {
		return ErrUnknownGroup
	}
	return nil
}

func insertReminderGroups(ctx context.Context, tx pgx.Tx, reminderID string, groupIDs []string) error {
	for _, gid := range groupIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO reminder_groups(reminder_id, group_id) VALUES($1, $2) ON CONFLICT DO NOTHING
		`, reminderID, gid)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) reminderGroups(ctx context.Context, reminderIDs []string) (map[string][]Group, error) {
	byID := make(map[string][]Group, len(reminderIDs))
	if len(reminderIDs) == 0 {
		return byID, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT rg.reminder_id, g.id, g.name
		FROM reminder_groups rg
		JOIN groups g ON g.id = rg.group_id
		WHERE rg.reminder_id = ANY($1)
		ORDER BY g.name
	`, reminderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rid string
		var g Group
		if err := rows.Scan(&rid, &g.ID, &g.Name); err != nil {
			return nil, err
		}
		byID[rid] = append(byID[rid], g)
	}
	return byID, rows.Err()
}
