package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/domain"
)

func scanTag(r rowScanner) (domain.Tag, error) {
	var (
		t          domain.Tag
		start, end int
	)
	if err := r.Scan(&t.ID, &t.UserID, &t.Name, &start, &end); err != nil {
		return domain.Tag{}, err
	}
	t.Window = domain.Window{Start: domain.TimeOfDay(start), End: domain.TimeOfDay(end)}
	return t, nil
}

// CreateTag stores a new tag. The reserved default name is a validation
// error; an existing (user, name) pair is domain.ErrDuplicate.
func (s *DB) CreateTag(ctx context.Context, userID int64, name string, w domain.Window) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" || domain.IsDefaultTag(name) {
		return domain.Tag{}, fmt.Errorf("%w: tag name %q is reserved or empty", domain.ErrValidation, name)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tags(user_id, name, start_min, end_min, created_at) VALUES(?,?,?,?,?)`,
		userID, name, int(w.Start), int(w.End), time.Now().Unix(),
	)
	if isUniqueViolation(err) {
		return domain.Tag{}, fmt.Errorf("tag %q: %w", name, domain.ErrDuplicate)
	}
	if err != nil {
		return domain.Tag{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Tag{}, err
	}
	return domain.Tag{ID: id, UserID: userID, Name: name, Window: w}, nil
}

func (s *DB) ListTags(ctx context.Context, userID int64) ([]domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, start_min, end_min FROM tags WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTagByName resolves a stored tag (case-insensitive). The virtual default
// tag is not stored and yields domain.ErrNotFound.
func (s *DB) GetTagByName(ctx context.Context, userID int64, name string) (domain.Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, start_min, end_min FROM tags WHERE user_id = ? AND name = ?`,
		userID, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tag{}, domain.ErrNotFound
	}
	return t, err
}
