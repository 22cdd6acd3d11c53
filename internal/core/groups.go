package core

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) CreateGroup(ctx context.Context, name string) (Group, error) {
	var g Group
	err := s.DB.QueryRow(ctx, `INSERT INTO groups(name) VALUES($1) RETURNING id, name`, name).Scan(&g.ID, &g.Name)
	if isUniqueViolation(err) {
		return Group{}, ErrDuplicate
	}
	return g, err
}

func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) UpdateGroup(ctx context.Context, id, name string) (Group, error) {
	var g Group
	err := s.DB.QueryRow(ctx, `UPDATE groups SET name = $2 WHERE id = $1 RETURNING id, name`, id, name).Scan(&g.ID, &g.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	if isUniqueViolation(err) {
		return Group{}, ErrDuplicate
	}
	return g, err
}

// DeleteGroup removes the group, its recipients, and its reminder links
// (ON DELETE CASCADE). Reminders themselves stay.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateRecipient(ctx context.Context, name, chatID, groupID string) (Recipient, error) {
	var r Recipient
	err := s.DB.QueryRow(ctx, `
		INSERT INTO recipients(name, chat_id, group_id) VALUES($1, $2, $3)
		RETURNING id, name, chat_id, group_id
	`, name, chatID, groupID).Scan(&r.ID, &r.Name, &r.ChatID, &r.GroupID)
	if isUniqueViolation(err) {
		return Recipient{}, ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // fk violation
		return Recipient{}, ErrUnknownGroup
	}
	return r, err
}

func (s *Store) ListRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, chat_id, group_id FROM recipients ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.ID, &r.Name, &r.ChatID, &r.GroupID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRecipient(ctx context.Context, id, name, chatID, groupID string) (Recipient, error) {
	var r Recipient
	err := s.DB.QueryRow(ctx, `
		UPDATE recipients SET name = $2, chat_id = $3, group_id = $4 WHERE id = $1
		RETURNING id, name, chat_id, group_id
	`, id, name, chatID, groupID).Scan(&r.ID, &r.Name, &r.ChatID, &r.GroupID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipient{}, ErrNotFound
	}
	if isUniqueViolation(err) {
		return Recipient{}, ErrDuplicate
	}
	return r, err
}

func (s *Store) DeleteRecipient(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM recipients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
