package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"

	"safechat/internal/apperr"
	"safechat/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// MySQL is a Store backed by MariaDB/MySQL. The schema lives in
// internal/database.
type MySQL struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQL wraps an open database handle.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close closes the underlying handle.
func (s *MySQL) Close() error { return s.db.Close() }

const messageColumns = `id, user_id, username, text, room, visibility, recipient_id, recipient_username,
	analysis, status, created_at, updated_at`

func (s *MySQL) CreateMessage(ctx context.Context, m *model.Message) error {
	analysis, err := json.Marshal(m.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Username, m.Text, m.Room, m.Visibility,
		nullString(m.RecipientID), nullString(m.RecipientUsername),
		analysis, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("message %s already exists: %w", m.ID, apperr.ErrConflict)
	}
	return err
}

func (s *MySQL) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row, id)
}

func (s *MySQL) SaveAnalysis(ctx context.Context, id string, a model.Analysis, status model.MessageStatus) (*model.Message, error) {
	analysis, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}

	var out *model.Message
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		m, err := scanMessage(tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE id = ? FOR UPDATE`, id), id)
		if err != nil {
			return err
		}
		if status != "" {
			if !m.Status.CanTransition(status) {
				return apperr.InvalidState("message %s cannot move from %s to %s", id, m.Status, status)
			}
			m.Status = status
		}
		m.Analysis = a
		m.UpdatedAt = s.now()

		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET analysis = ?, status = ?, updated_at = ? WHERE id = ?`,
			analysis, m.Status, m.UpdatedAt, id,
		); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (s *MySQL) TransitionMessage(ctx context.Context, id string, status model.MessageStatus) (model.MessageStatus, error) {
	var prev model.MessageStatus
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = ? FOR UPDATE`, id).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("message", id)
		}
		if err != nil {
			return err
		}
		if !prev.CanTransition(status) {
			return apperr.InvalidState("message %s cannot move from %s to %s", id, prev, status)
		}
		_, err = tx.ExecContext(ctx, `UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`, status, s.now(), id)
		return err
	})
	return prev, err
}

const flagColumns = `id, message_id, user_id, moderator_id, flag_type, reason, description, severity, status,
	action_taken, ai_confidence, reviewed_by, reviewer_notes, reviewed_at, metadata, created_at`

func (s *MySQL) CreateFlag(ctx context.Context, f *model.Flag) error {
	metadata, err := json.Marshal(f.Metadata)
	if err != nil {
		return fmt.Errorf("encode flag metadata: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var status model.MessageStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE id = ? FOR UPDATE`, f.MessageID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("message", f.MessageID)
		}
		if err != nil {
			return err
		}
		if status == model.MessageDeleted {
			return apperr.InvalidState("message %s is deleted", f.MessageID)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO flags (`+flagColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.MessageID, f.UserID, f.ModeratorID, f.Type, f.Reason, nullString(f.Description), f.Severity, f.Status,
			f.ActionTaken, f.AIConfidence, f.ReviewedBy, f.ReviewerNotes, f.ReviewedAt, metadata, f.CreatedAt,
		)
		if isDuplicate(err) {
			return fmt.Errorf("message %s already has an active flag: %w", f.MessageID, apperr.ErrConflict)
		}
		if err != nil {
			return err
		}

		if status == model.MessageFlagged {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE messages SET status = ?, updated_at = ? WHERE id = ?`,
			model.MessageFlagged, s.now(), f.MessageID)
		return err
	})
}

func (s *MySQL) GetFlag(ctx context.Context, id string) (*model.Flag, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM flags WHERE id = ?`, id)
	return scanFlag(row, "flag", id)
}

func (s *MySQL) ActiveFlagForMessage(ctx context.Context, messageID string) (*model.Flag, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM flags WHERE active_message_id = ?`, messageID)
	return scanFlag(row, "active flag for message", messageID)
}

func (s *MySQL) CountFlagsForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flags WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func (s *MySQL) ReviewFlag(ctx context.Context, id string, r model.Review) (*model.Flag, error) {
	var out *model.Flag
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		f, err := scanFlag(tx.QueryRowContext(ctx,
			`SELECT `+flagColumns+` FROM flags WHERE id = ? FOR UPDATE`, id), "flag", id)
		if err != nil {
			return err
		}
		if err := f.Apply(r); err != nil {
			return fmt.Errorf("%v: %w", err, apperr.ErrInvalidState)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE flags SET status = ?, action_taken = ?, reviewed_by = ?, reviewer_notes = ?, reviewed_at = ?
			 WHERE id = ?`,
			f.Status, f.ActionTaken, f.ReviewedBy, f.ReviewerNotes, f.ReviewedAt, id,
		); err != nil {
			return err
		}
		out = f
		return nil
	})
	return out, err
}

func (s *MySQL) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, role, is_active, suspended_until, total_messages, flagged_messages,
			warnings_received, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Role, u.IsActive, u.SuspendedUntil,
		u.Stats.TotalMessages, u.Stats.FlaggedMessages, u.Stats.WarningsReceived, u.CreatedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("user %s already exists: %w", u.ID, apperr.ErrConflict)
	}
	return err
}

const userColumns = `id, username, role, is_active, suspended_until, total_messages, flagged_messages,
	warnings_received, created_at`

func (s *MySQL) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user", id)
	}
	return u, err
}

// statColumns whitelists the counters IncrementStat may touch.
var statColumns = map[model.StatField]string{
	model.StatTotalMessages:    "total_messages",
	model.StatFlaggedMessages:  "flagged_messages",
	model.StatWarningsReceived: "warnings_received",
}

func (s *MySQL) IncrementStat(ctx context.Context, id string, field model.StatField, delta int) error {
	col, ok := statColumns[field]
	if !ok {
		return apperr.InvalidState("unknown user stat %q", field)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+col+` = `+col+` + ? WHERE id = ?`, delta, id)
	if err != nil {
		return err
	}
	return requireRow(res, "user", id)
}

func (s *MySQL) Deactivate(ctx context.Context, id string, until *time.Time) (*model.User, bool, error) {
	var (
		res sql.Result
		err error
	)
	if until == nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET is_active = FALSE, suspended_until = NULL
			 WHERE id = ? AND (is_active = TRUE OR suspended_until IS NOT NULL)`, id)
	} else {
		// 永久停止中、またはより長いタイムアウト中のユーザーは変更しない
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET is_active = FALSE, suspended_until = ?
			 WHERE id = ? AND (is_active = TRUE OR (suspended_until IS NOT NULL AND suspended_until < ?))`,
			*until, id, *until)
	}
	return s.userAfterUpdate(ctx, id, res, err)
}

func (s *MySQL) LiftTimeout(ctx context.Context, id string, now time.Time) (*model.User, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = TRUE, suspended_until = NULL
		 WHERE id = ? AND is_active = FALSE AND suspended_until IS NOT NULL AND suspended_until <= ?`,
		id, now)
	return s.userAfterUpdate(ctx, id, res, err)
}

// userAfterUpdate reloads a user after a conditional UPDATE. A missing user
// is reported by GetUser since zero affected rows also means "unchanged".
func (s *MySQL) userAfterUpdate(ctx context.Context, id string, res sql.Result, err error) (*model.User, bool, error) {
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return u, n > 0, nil
}

func (s *MySQL) ExpiredTimeouts(ctx context.Context, now time.Time) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_active = FALSE AND suspended_until IS NOT NULL AND suspended_until <= ?`,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *MySQL) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner, id string) (*model.Message, error) {
	var (
		m                          model.Message
		recipientID, recipientName sql.NullString
		analysis                   []byte
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Username, &m.Text, &m.Room, &m.Visibility, &recipientID, &recipientName,
		&analysis, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("message", id)
	}
	if err != nil {
		return nil, err
	}
	m.RecipientID = recipientID.String
	m.RecipientUsername = recipientName.String
	if err := json.Unmarshal(analysis, &m.Analysis); err != nil {
		return nil, fmt.Errorf("decode analysis of message %s: %w", m.ID, err)
	}
	return &m, nil
}

func scanFlag(row scanner, entity, id string) (*model.Flag, error) {
	var (
		f                                      model.Flag
		moderatorID, reviewedBy, reviewerNotes sql.NullString
		description                            sql.NullString
		reviewedAt                             sql.NullTime
		metadata                               []byte
	)
	err := row.Scan(&f.ID, &f.MessageID, &f.UserID, &moderatorID, &f.Type, &f.Reason, &description, &f.Severity,
		&f.Status, &f.ActionTaken, &f.AIConfidence, &reviewedBy, &reviewerNotes, &reviewedAt, &metadata, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(entity, id)
	}
	if err != nil {
		return nil, err
	}
	f.ModeratorID = stringPtr(moderatorID)
	f.ReviewedBy = stringPtr(reviewedBy)
	f.ReviewerNotes = stringPtr(reviewerNotes)
	f.Description = description.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		f.ReviewedAt = &t
	}
	if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of flag %s: %w", f.ID, err)
	}
	return &f, nil
}

func scanUser(row scanner) (*model.User, error) {
	var (
		u     model.User
		until sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Role, &u.IsActive, &until,
		&u.Stats.TotalMessages, &u.Stats.FlaggedMessages, &u.Stats.WarningsReceived, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if until.Valid {
		t := until.Time
		u.SuspendedUntil = &t
	}
	return &u, nil
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
