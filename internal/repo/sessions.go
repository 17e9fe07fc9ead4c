package repo

import (
	"context"
	"database/sql"

	"tasktrail/internal/domain"
)

func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(id,user_id,created_at,expires_at) VALUES (?,?,?,?)`,
		s.ID, s.UserID, s.CreatedAt, s.ExpiresAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,created_at,expires_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// GetSessionUser joins a non-expired session to its active user in one
// query. now is an RFC3339 timestamp.
func (r Repo) GetSessionUser(ctx context.Context, sessionID, now string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT u.id,u.username,u.email,COALESCE(u.full_name,''),u.password_hash,u.password_salt,u.team_id,u.is_team_admin,u.is_active,u.created_at,u.last_login
FROM sessions s
JOIN users u ON u.id=s.user_id
WHERE s.id=? AND s.expires_at > ? AND u.is_active=1`, sessionID, now)
	return scanUser(row.Scan)
}

func (r Repo) DeleteSession(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

func (r Repo) DeleteSessionsForUserTx(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, userID)
	return err
}

// DeleteExpiredSessions is the only bulk cleanup in the system; activity
// rows are never deleted.
func (r Repo) DeleteExpiredSessions(ctx context.Context, now string) (int, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
