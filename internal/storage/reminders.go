package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"remindbot/internal/domain"
)

const reminderCols = `id, user_id, text, tag, due_at, completed, COALESCE(advisory, ''), created_at, updated_at`

func scanReminder(r rowScanner) (domain.Reminder, error) {
	var (
		rm                    domain.Reminder
		due, created, updated int64
	)
	if err := r.Scan(&rm.ID, &rm.UserID, &rm.Text, &rm.Tag, &due, &rm.Completed, &rm.Advisory, &created, &updated); err != nil {
		return domain.Reminder{}, err
	}
	rm.Due, rm.CreatedAt, rm.UpdatedAt = unix(due), unix(created), unix(updated)
	return rm, nil
}

func (s *DB) queryReminders(ctx context.Context, query string, args ...any) ([]domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderCols+` FROM reminders `+query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DB) CreateReminder(ctx context.Context, userID int64, text, tag string, due time.Time) (int64, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(user_id, text, tag, due_at, completed, created_at, updated_at) VALUES(?,?,?,?,0,?,?)`,
		userID, text, tag, due.Unix(), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) GetReminder(ctx context.Context, id int64) (domain.Reminder, error) {
	r, err := scanReminder(s.db.QueryRowContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reminder{}, domain.ErrNotFound
	}
	return r, err
}

// ListDue returns open reminders due at or before asOf, oldest first.
// Served by idx_reminders_due.
func (s *DB) ListDue(ctx context.Context, asOf time.Time) ([]domain.Reminder, error) {
	return s.queryReminders(ctx, `WHERE completed = 0 AND due_at <= ? ORDER BY due_at, id`, asOf.Unix())
}

// ListByTag returns every confirmed reminder of the user under tag,
// completed ones included.
func (s *DB) ListByTag(ctx context.Context, userID int64, tag string) ([]domain.Reminder, error) {
	return s.queryReminders(ctx, `WHERE user_id = ? AND tag = ? ORDER BY due_at, id`, userID, tag)
}

// ListOpen returns the user's open reminders by due time.
func (s *DB) ListOpen(ctx context.Context, userID int64) ([]domain.Reminder, error) {
	return s.queryReminders(ctx, `WHERE user_id = ? AND completed = 0 ORDER BY due_at, id`, userID)
}

// ListOpenAfter pages through open reminders of every user by id.
// Pass the last id of the previous page as afterID (0 for the first page).
func (s *DB) ListOpenAfter(ctx context.Context, afterID int64, limit int) ([]domain.Reminder, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.queryReminders(ctx, `WHERE completed = 0 AND id > ? ORDER BY id LIMIT ?`, afterID, limit)
}

func (s *DB) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reminders WHERE completed = 0`).Scan(&n)
	return n, err
}

// MarkCompleted archives the reminder. Repeating it is harmless.
func (s *DB) MarkCompleted(ctx context.Context, id int64) error {
	return mustAffect(s.db.ExecContext(ctx,
		`UPDATE reminders SET completed = 1, updated_at = ? WHERE id = ?`, time.Now().Unix(), id))
}

// Reschedule reopens the reminder at due in a single update. It is the only
// way a reminder becomes open again.
func (s *DB) Reschedule(ctx context.Context, id int64, due time.Time) error {
	return mustAffect(s.db.ExecContext(ctx,
		`UPDATE reminders SET completed = 0, due_at = ?, updated_at = ? WHERE id = ?`,
		due.Unix(), time.Now().Unix(), id))
}

// SetAdvisory overwrites the advisory text unconditionally.
func (s *DB) SetAdvisory(ctx context.Context, id int64, text string) error {
	return mustAffect(s.db.ExecContext(ctx,
		`UPDATE reminders SET advisory = ?, updated_at = ? WHERE id = ?`, nullStr(text), time.Now().Unix(), id))
}

// SetAdvisoryIfEmpty stores text only when no advisory exists yet and
// reports whether it did.
func (s *DB) SetAdvisoryIfEmpty(ctx context.Context, id int64, text string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET advisory = ?, updated_at = ? WHERE id = ? AND (advisory IS NULL OR advisory = '')`,
		nullStr(text), time.Now().Unix(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
