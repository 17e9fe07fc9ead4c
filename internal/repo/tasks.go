package repo

import (
	"context"
	"database/sql"
	"strings"

	"tasktrail/internal/domain"
)

const taskColumns = `id,project_id,team_id,owner_id,assigned_to,title,COALESCE(description,''),status,created_at,updated_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var teamID, ownerID, assignedTo, completedAt sql.NullString
	err := scan(&t.ID, &t.ProjectID, &teamID, &ownerID, &assignedTo, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if teamID.Valid {
		t.TeamID = &teamID.String
	}
	if ownerID.Valid {
		t.OwnerID = &ownerID.String
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO tasks(id,project_id,team_id,owner_id,assigned_to,title,description,status,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.TeamID), nullableStringPtr(t.OwnerID), nullableStringPtr(t.AssignedTo),
		t.Title, nullable(t.Description), t.Status, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	ProjectID  string
	TeamID     string
	OwnerID    string
	AssignedTo string
	Status     string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.TeamID != "" {
		clauses = append(clauses, "team_id=?")
		args = append(args, f.TeamID)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET team_id=?, owner_id=?, assigned_to=?, title=?, description=?, status=?, updated_at=?, completed_at=? WHERE id=?`,
		nullableStringPtr(t.TeamID), nullableStringPtr(t.OwnerID), nullableStringPtr(t.AssignedTo),
		t.Title, nullable(t.Description), t.Status, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTaskIDsByProjectTx collects task ids under a project for an ordered
// cascade.
func (r Repo) ListTaskIDsByProjectTx(ctx context.Context, tx *sql.Tx, projectID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) DeleteTasksByProjectTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=?`, projectID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r Repo) ReassignTaskOwnerTx(ctx context.Context, tx *sql.Tx, from string, to *string) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET owner_id=? WHERE owner_id=?`, nullableStringPtr(to), from)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r Repo) ReassignTaskAssigneeTx(ctx context.Context, tx *sql.Tx, from string, to *string) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET assigned_to=? WHERE assigned_to=?`, nullableStringPtr(to), from)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListOrphanTaskIDsTx finds tasks whose project no longer exists.
func (r Repo) ListOrphanTaskIDsTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks t WHERE NOT EXISTS (SELECT 1 FROM projects p WHERE p.id=t.project_id)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
