package repo

import (
	"context"
	"database/sql"

	"tasktrail/internal/domain"
)

const userColumns = `id,username,email,COALESCE(full_name,''),password_hash,password_salt,team_id,is_team_admin,is_active,created_at,last_login`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var teamID, lastLogin sql.NullString
	err := scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.PasswordHash, &u.PasswordSalt, &teamID, &u.IsTeamAdmin, &u.IsActive, &u.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if teamID.Valid {
		u.TeamID = &teamID.String
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.String
	}
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,username,email,full_name,password_hash,password_salt,team_id,is_team_admin,is_active,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Username, u.Email, nullable(u.FullName), u.PasswordHash, u.PasswordSalt, nullableStringPtr(u.TeamID), u.IsTeamAdmin, u.IsActive, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=? LIMIT 1`, username)
	return scanUser(row.Scan)
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=? LIMIT 1`, email)
	return scanUser(row.Scan)
}

func (r Repo) listUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
}

// ListTeamMembers returns active members of a team, admins first.
func (r Repo) ListTeamMembers(ctx context.Context, teamID string) ([]domain.User, error) {
	return r.listUsers(ctx, `SELECT `+userColumns+` FROM users WHERE team_id=? AND is_active=1 ORDER BY is_team_admin DESC, created_at ASC`, teamID)
}

// FirstOtherActiveUser finds any active human besides the given one.
func (r Repo) FirstOtherActiveUser(ctx context.Context, excludeID string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id != ? AND is_active=1 ORDER BY created_at ASC LIMIT 1`, excludeID)
	return scanUser(row.Scan)
}

func (r Repo) UpdateLastLogin(ctx context.Context, userID, ts string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE users SET last_login=? WHERE id=?`, ts, userID)
	return err
}

func (r Repo) SetUserTeamTx(ctx context.Context, tx *sql.Tx, userID string, teamID *string, isAdmin bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET team_id=?, is_team_admin=? WHERE id=?`, nullableStringPtr(teamID), isAdmin, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteUserTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
