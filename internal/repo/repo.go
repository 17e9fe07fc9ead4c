package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tasktrail/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

const projectColumns = `id,team_id,owner_id,created_by,name,COALESCE(description,''),status,created_at`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var teamID, ownerID sql.NullString
	err := scan(&p.ID, &teamID, &ownerID, &p.CreatedBy, &p.Name, &p.Description, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if teamID.Valid {
		p.TeamID = &teamID.String
	}
	if ownerID.Valid {
		p.OwnerID = &ownerID.String
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO projects(id,team_id,owner_id,created_by,name,description,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, nullableStringPtr(p.TeamID), nullableStringPtr(p.OwnerID), p.CreatedBy, p.Name, nullable(p.Description), p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name=? LIMIT 1`, name)
	return scanProject(row.Scan)
}

type ProjectFilters struct {
	TeamID  string
	OwnerID string
	Status  string
	Limit   int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListProjectsOwnedBy(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return r.ListProjects(ctx, ProjectFilters{OwnerID: ownerID})
}

func (r Repo) UpdateProject(ctx context.Context, id string, name, description, status *string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReassignProjectOwnerTx moves ownership of every project owned by from to
// to (nil clears ownership) and returns the number of rows touched.
func (r Repo) ReassignProjectOwnerTx(ctx context.Context, tx *sql.Tx, from string, to *string) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET owner_id=? WHERE owner_id=?`, nullableStringPtr(to), from)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
