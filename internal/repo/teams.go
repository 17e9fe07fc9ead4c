package repo

import (
	"context"
	"database/sql"
	"strings"

	"tasktrail/internal/domain"
)

func (r Repo) InsertTeamTx(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO teams(id,name,created_by,created_at) VALUES (?,?,?,?)`,
		t.ID, t.Name, t.CreatedBy, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, id string) (domain.Team, error) {
	var t domain.Team
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_by,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTeamByName(ctx context.Context, name string) (domain.Team, error) {
	var t domain.Team
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_by,created_at FROM teams WHERE name=? LIMIT 1`, name).
		Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTeams(ctx context.Context) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_by,created_at FROM teams ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertTeamRequest(ctx context.Context, req domain.TeamRequest) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO team_requests(id,team_id,user_id,status,created_at) VALUES (?,?,?,?,?)`,
		req.ID, req.TeamID, req.UserID, req.Status, req.CreatedAt)
	return err
}

func (r Repo) GetTeamRequest(ctx context.Context, id string) (domain.TeamRequest, error) {
	var req domain.TeamRequest
	err := r.DB.QueryRowContext(ctx, `SELECT id,team_id,user_id,status,created_at FROM team_requests WHERE id=?`, id).
		Scan(&req.ID, &req.TeamID, &req.UserID, &req.Status, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	return req, err
}

// GetTeamRequestByPair returns the request for a (team, user) pair
// regardless of status; the pair is unique.
func (r Repo) GetTeamRequestByPair(ctx context.Context, teamID, userID string) (domain.TeamRequest, error) {
	var req domain.TeamRequest
	err := r.DB.QueryRowContext(ctx, `SELECT id,team_id,user_id,status,created_at FROM team_requests WHERE team_id=? AND user_id=? LIMIT 1`, teamID, userID).
		Scan(&req.ID, &req.TeamID, &req.UserID, &req.Status, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	return req, err
}

type TeamRequestFilters struct {
	TeamID string
	UserID string
	Status string
}

func (r Repo) ListTeamRequests(ctx context.Context, f TeamRequestFilters) ([]domain.TeamRequest, error) {
	var clauses []string
	var args []any
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,team_id,user_id,status,created_at FROM team_requests `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamRequest
	for rows.Next() {
		var req domain.TeamRequest
		if err := rows.Scan(&req.ID, &req.TeamID, &req.UserID, &req.Status, &req.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTeamRequestStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE team_requests SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
