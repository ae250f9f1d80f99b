package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"remindbot/internal/domain"
)

const stagedCols = `id, user_id, text, tag, due_at, created_at`

func scanStaged(r rowScanner) (domain.StagedReminder, error) {
	var (
		st           domain.StagedReminder
		due, created int64
	)
	if err := r.Scan(&st.ID, &st.UserID, &st.Text, &st.Tag, &due, &created); err != nil {
		return domain.StagedReminder{}, err
	}
	st.Due, st.CreatedAt = unix(due), unix(created)
	return st, nil
}

// StageReminder appends one unconfirmed candidate.
func (s *DB) StageReminder(ctx context.Context, userID int64, text, tag string, due time.Time) (domain.StagedReminder, error) {
	out, err := s.StageReminders(ctx, userID, []domain.StagedReminder{{Text: text, Tag: tag, Due: due}})
	if err != nil {
		return domain.StagedReminder{}, err
	}
	return out[0], nil
}

// StageReminders appends one intake round in a single transaction: either
// every candidate is staged or none is. ID, UserID and CreatedAt of the
// input are ignored.
func (s *DB) StageReminders(ctx context.Context, userID int64, items []domain.StagedReminder) ([]domain.StagedReminder, error) {
	now := time.Now()
	out := make([]domain.StagedReminder, 0, len(items))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO staged_reminders(user_id, text, tag, due_at, created_at) VALUES(?,?,?,?,?)`,
				userID, it.Text, it.Tag, it.Due.Unix(), now.Unix(),
			)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			out = append(out, domain.StagedReminder{
				ID: id, UserID: userID, Text: it.Text, Tag: it.Tag, Due: unix(it.Due.Unix()), CreatedAt: unix(now.Unix()),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListStaged returns the user's staged rows by due time.
func (s *DB) ListStaged(ctx context.Context, userID int64) ([]domain.StagedReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stagedCols+` FROM staged_reminders WHERE user_id = ? ORDER BY due_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StagedReminder
	for rows.Next() {
		st, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *DB) GetStaged(ctx context.Context, id int64) (domain.StagedReminder, error) {
	st, err := scanStaged(s.db.QueryRowContext(ctx, `SELECT `+stagedCols+` FROM staged_reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StagedReminder{}, domain.ErrNotFound
	}
	return st, err
}

// PromoteStaged moves a staged row into reminders in one transaction.
// domain.ErrNotFound means it was already promoted or discarded.
func (s *DB) PromoteStaged(ctx context.Context, id int64) (domain.Reminder, error) {
	var r domain.Reminder
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		st, err := scanStaged(tx.QueryRowContext(ctx, `SELECT `+stagedCols+` FROM staged_reminders WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := mustAffect(tx.ExecContext(ctx, `DELETE FROM staged_reminders WHERE id = ?`, id)); err != nil {
			return err
		}
		now := time.Now().Unix()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO reminders(user_id, text, tag, due_at, completed, created_at, updated_at) VALUES(?,?,?,?,0,?,?)`,
			st.UserID, st.Text, st.Tag, st.Due.Unix(), now, now,
		)
		if err != nil {
			return err
		}
		rid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r = domain.Reminder{
			ID: rid, UserID: st.UserID, Text: st.Text, Tag: st.Tag, Due: st.Due,
			CreatedAt: unix(now), UpdatedAt: unix(now),
		}
		return nil
	})
	return r, err
}

// DiscardAllStaged deletes every staged row of the user and returns how many
// were removed.
func (s *DB) DiscardAllStaged(ctx context.Context, userID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM staged_reminders WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
