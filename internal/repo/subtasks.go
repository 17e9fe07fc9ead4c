package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"tasktrail/internal/domain"
)

const subtaskColumns = `id,task_id,type,question,options_json,selected_option,answered,assigned_to,created_at`

func scanSubtask(scan func(dest ...any) error) (domain.Subtask, error) {
	var s domain.Subtask
	var optionsJSON string
	var selected, assignedTo sql.NullString
	err := scan(&s.ID, &s.TaskID, &s.Type, &s.Question, &optionsJSON, &selected, &s.Answered, &assignedTo, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(optionsJSON), &s.Options); err != nil {
		return s, fmt.Errorf("subtask %s options: %w", s.ID, err)
	}
	if selected.Valid {
		s.SelectedOption = &selected.String
	}
	if assignedTo.Valid {
		s.AssignedTo = &assignedTo.String
	}
	return s, nil
}

func (r Repo) InsertSubtask(ctx context.Context, tx *sql.Tx, s domain.Subtask) error {
	options, err := json.Marshal(s.Options)
	if err != nil {
		return err
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO subtasks(id,task_id,type,question,options_json,selected_option,answered,assigned_to,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.Type, s.Question, string(options), nullableStringPtr(s.SelectedOption), s.Answered, nullableStringPtr(s.AssignedTo), s.CreatedAt)
	return err
}

func (r Repo) GetSubtask(ctx context.Context, id string) (domain.Subtask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE id=?`, id)
	return scanSubtask(row.Scan)
}

type SubtaskFilters struct {
	TaskID     string
	AssignedTo string
	Answered   *bool
}

func (r Repo) ListSubtasks(ctx context.Context, f SubtaskFilters) ([]domain.Subtask, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Answered != nil {
		clauses = append(clauses, "answered=?")
		args = append(args, *f.Answered)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Subtask
	for rows.Next() {
		s, err := scanSubtask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSubtaskTx(ctx context.Context, tx *sql.Tx, s domain.Subtask) error {
	options, err := json.Marshal(s.Options)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE subtasks SET type=?, question=?, options_json=?, selected_option=?, answered=?, assigned_to=? WHERE id=?`,
		s.Type, s.Question, string(options), nullableStringPtr(s.SelectedOption), s.Answered, nullableStringPtr(s.AssignedTo), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSubtaskTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSubtasksByTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id=?`, taskID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteSubtasksByTasksTx removes subtasks under any of the given tasks.
func (r Repo) DeleteSubtasksByTasksTx(ctx context.Context, tx *sql.Tx, taskIDs []string) (int, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(taskIDs)), ",")
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r Repo) ReassignSubtaskAssigneeTx(ctx context.Context, tx *sql.Tx, from string, to *string) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE subtasks SET assigned_to=? WHERE assigned_to=?`, nullableStringPtr(to), from)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListOrphanSubtaskIDsTx finds subtasks whose task no longer exists.
func (r Repo) ListOrphanSubtaskIDsTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM subtasks s WHERE NOT EXISTS (SELECT 1 FROM tasks t WHERE t.id=s.task_id)`)
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
