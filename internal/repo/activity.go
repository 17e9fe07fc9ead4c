package repo

import (
	"context"
	"database/sql"
	"fmt"

	"tasktrail/internal/domain"
)

const activityColumns = `id,actor_id,actor_type,action_type,entity_type,entity_id,entity_name,details_json,created_at`

func scanActivity(scan func(dest ...any) error) (domain.ActivityEntry, error) {
	var e domain.ActivityEntry
	var actorID, actorType, entityName, details sql.NullString
	err := scan(&e.ID, &actorID, &actorType, &e.ActionType, &e.EntityType, &e.EntityID, &entityName, &details, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if actorID.Valid {
		e.ActorID = &actorID.String
	}
	if actorType.Valid {
		e.ActorType = &actorType.String
	}
	if entityName.Valid {
		e.EntityName = &entityName.String
	}
	if details.Valid {
		e.Details = details.String
	}
	return e, nil
}

func (r Repo) queryActivity(ctx context.Context, query string, args ...any) ([]domain.ActivityEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityEntry
	for rows.Next() {
		e, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// RecentActivity returns the newest entries first.
func (r Repo) RecentActivity(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryActivity(ctx, `SELECT `+activityColumns+` FROM activity_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// ActivitySince returns entries after the timestamp, optionally excluding
// one actor's own entries.
func (r Repo) ActivitySince(ctx context.Context, since, excludeActorID string) ([]domain.ActivityEntry, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_log WHERE created_at > ?`
	args := []any{since}
	if excludeActorID != "" {
		query += ` AND (actor_id IS NULL OR actor_id != ?)`
		args = append(args, excludeActorID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return r.queryActivity(ctx, query, args...)
}

// ActivityAssignedToUser returns entries relevant to a user's assignments:
// activity on tasks assigned to them, on subtasks whose parent task is
// assigned to them, or explicit assignment actions naming them.
func (r Repo) ActivityAssignedToUser(ctx context.Context, userID, since string) ([]domain.ActivityEntry, error) {
	namePattern := fmt.Sprintf(`%%"assigned_to":"%s"%%`, userID)
	return r.queryActivity(ctx, `
SELECT `+activityColumns+` FROM activity_log a
WHERE a.created_at > ?
AND (
    (a.entity_type='task' AND a.entity_id IN (SELECT id FROM tasks WHERE assigned_to=?))
    OR (a.entity_type='subtask' AND a.entity_id IN (
        SELECT s.id FROM subtasks s JOIN tasks t ON t.id=s.task_id WHERE t.assigned_to=?))
    OR (a.action_type IN ('task.assigned','subtask.assigned') AND a.details_json LIKE ?)
)
ORDER BY a.created_at DESC, a.id DESC`, since, userID, userID, namePattern)
}

// CountActivity returns how many entries exist for one entity.
func (r Repo) CountActivity(ctx context.Context, entityType, entityID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM activity_log WHERE entity_type=? AND entity_id=?`, entityType, entityID).Scan(&n)
	return n, err
}
