package engine

import (
	"context"
	"database/sql"

	"tasktrail/internal/activity"
	"tasktrail/internal/domain"
)

// cascadeDeleteProjectTx removes a project's subtasks, then its tasks, then
// the project row, in that order, all on the caller's transaction. The
// storage layer has no foreign-key cascades; the explicit order lets the
// caller report exact counts.
func (e Engine) cascadeDeleteProjectTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.DeleteSummary, error) {
	sum := domain.DeleteSummary{ID: projectID}
	taskIDs, err := e.Repo.ListTaskIDsByProjectTx(ctx, tx, projectID)
	if err != nil {
		return sum, err
	}
	sum.SubtasksDeleted, err = e.Repo.DeleteSubtasksByTasksTx(ctx, tx, taskIDs)
	if err != nil {
		return sum, err
	}
	sum.TasksDeleted, err = e.Repo.DeleteTasksByProjectTx(ctx, tx, projectID)
	if err != nil {
		return sum, err
	}
	if err := e.Repo.DeleteProjectTx(ctx, tx, projectID); err != nil {
		return sum, err
	}
	sum.Deleted = true
	return sum, nil
}

// OrphanSweep repairs rows whose parent disappeared through any path other
// than the engine itself. Safe to run repeatedly: a second run right after
// a first reports zero deletions. Inconsistencies are a repair outcome, not
// an error.
func (e Engine) OrphanSweep(ctx context.Context) (domain.SweepReport, error) {
	var report domain.SweepReport
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return report, err
	}
	defer tx.Rollback()

	orphanTasks, err := e.Repo.ListOrphanTaskIDsTx(ctx, tx)
	if err != nil {
		return report, err
	}
	for _, id := range orphanTasks {
		if _, err := e.Repo.DeleteSubtasksByTaskTx(ctx, tx, id); err != nil {
			return report, err
		}
		if err := e.Repo.DeleteTaskTx(ctx, tx, id); err != nil {
			return report, err
		}
		report.OrphanTasks++
	}
	orphanSubtasks, err := e.Repo.ListOrphanSubtaskIDsTx(ctx, tx)
	if err != nil {
		return report, err
	}
	for _, id := range orphanSubtasks {
		if err := e.Repo.DeleteSubtaskTx(ctx, tx, id); err != nil {
			return report, err
		}
		report.OrphanSubtasks++
	}
	if report.OrphanTasks > 0 || report.OrphanSubtasks > 0 {
		if err := e.Activity.Append(ctx, tx, activity.Entry{
			ActionType: "integrity.sweep",
			EntityType: "system",
			EntityID:   "orphan-sweep",
			Details: activity.Payload{
				"orphan_tasks":    report.OrphanTasks,
				"orphan_subtasks": report.OrphanSubtasks,
			},
		}); err != nil {
			return report, err
		}
	}
	if err := tx.Commit(); err != nil {
		return report, err
	}
	if report.OrphanTasks > 0 || report.OrphanSubtasks > 0 {
		e.Log.WithFields(map[string]any{
			"orphan_tasks":    report.OrphanTasks,
			"orphan_subtasks": report.OrphanSubtasks,
		}).Info("orphan sweep repaired rows")
	}
	return report, nil
}

// CleanupSessions bulk-deletes expired sessions. Activity rows are never
// cleaned up.
func (e Engine) CleanupSessions(ctx context.Context) (int, error) {
	n, err := e.Repo.DeleteExpiredSessions(ctx, e.nowString())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.Log.WithField("sessions_deleted", n).Info("expired sessions removed")
	}
	return n, nil
}
