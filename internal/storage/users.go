package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"remindbot/internal/domain"
)

const userCols = `id, full_name, COALESCE(username, ''), allowed, admin, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	if err := r.Scan(&u.ID, &u.FullName, &u.Username, &u.Allowed, &u.Admin, &created); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = unix(created)
	return u, nil
}

func (s *DB) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	return u, err
}

// EnsureUser creates the user on first contact and refreshes the name and
// handle afterwards. Permission flags are never touched here.
func (s *DB) EnsureUser(ctx context.Context, u domain.User) (domain.User, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, full_name, username, allowed, admin, created_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		u.ID, u.FullName, nullStr(u.Username), u.Allowed, u.Admin, time.Now().Unix(),
	)
	if err != nil {
		return domain.User{}, false, err
	}
	n, _ := res.RowsAffected()
	created := n > 0
	if !created {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE users SET full_name = ?, username = ? WHERE id = ?`,
			u.FullName, nullStr(u.Username), u.ID,
		); err != nil {
			return domain.User{}, false, err
		}
	}
	got, err := s.GetUser(ctx, u.ID)
	return got, created, err
}

func (s *DB) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetUserAllowed grants or revokes access. domain.ErrNotFound if the user
// never talked to the bot.
func (s *DB) SetUserAllowed(ctx context.Context, id int64, allowed bool) error {
	return mustAffect(s.db.ExecContext(ctx, `UPDATE users SET allowed = ? WHERE id = ?`, allowed, id))
}
