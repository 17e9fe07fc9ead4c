package engine

import (
	"context"
	"errors"
	"fmt"

	"tasktrail/internal/activity"
	"tasktrail/internal/auth"
	"tasktrail/internal/domain"
	"tasktrail/internal/repo"
)

func validTaskStatus(s string) bool {
	switch s {
	case "pending", "in-progress", "done":
		return true
	}
	return false
}

type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	AssignedTo  string
	OwnerID     string
}

func (e Engine) CreateTask(ctx context.Context, actor auth.Principal, opts TaskCreateOptions) (domain.Task, error) {
	if err := auth.Require(actor, auth.CapCreateTasks); err != nil {
		return domain.Task{}, err
	}
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, fmt.Errorf("project %s not found: %w", opts.ProjectID, repo.ErrNotFound)
		}
		return domain.Task{}, err
	}
	ownerID := opts.OwnerID
	if ownerID == "" {
		ownerID = actor.ID
	}
	now := e.nowString()
	t := domain.Task{
		ID:          auth.NewID(),
		ProjectID:   p.ID,
		TeamID:      p.TeamID,
		OwnerID:     optionalString(ownerID),
		AssignedTo:  optionalString(opts.AssignedTo),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      "pending",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	details := activity.Payload{"project_id": p.ID}
	if t.AssignedTo != nil {
		details["assigned_to"] = *t.AssignedTo
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "task.created",
		EntityType: "task",
		EntityID:   t.ID,
		EntityName: t.Title,
		Details:    details,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type TaskUpdateOptions struct {
	Title       *string
	Description *string
	Status      *string
	// AssignedTo: nil leaves assignment alone; pointer to "" clears it.
	AssignedTo *string
}

// UpdateTask applies field changes. completed_at is set exactly when the
// status enters done and cleared exactly when it leaves done.
func (e Engine) UpdateTask(ctx context.Context, actor auth.Principal, id string, opts TaskUpdateOptions) (domain.Task, error) {
	if err := auth.Require(actor, auth.CapUpdateTasks); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	oldStatus := t.Status
	changes := activity.Payload{}
	actionType := "task.updated"

	if opts.Title != nil {
		if *opts.Title == "" {
			return t, errors.New("title cannot be empty")
		}
		if *opts.Title != t.Title {
			changes["title"] = map[string]string{"old": t.Title, "new": *opts.Title}
			t.Title = *opts.Title
		}
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.AssignedTo != nil {
		newAssignee := optionalString(*opts.AssignedTo)
		if newAssignee != nil {
			if _, err := e.Repo.GetUser(ctx, *newAssignee); err != nil {
				if !errors.Is(err, repo.ErrNotFound) {
					return t, err
				}
				if _, err := e.Repo.GetBot(ctx, *newAssignee); err != nil {
					return t, fmt.Errorf("assignee %s not found", *newAssignee)
				}
			}
			changes["assigned_to"] = *newAssignee
			actionType = "task.assigned"
		} else if t.AssignedTo != nil {
			changes["unassigned_from"] = *t.AssignedTo
		}
		t.AssignedTo = newAssignee
	}
	if opts.Status != nil && *opts.Status != oldStatus {
		if !validTaskStatus(*opts.Status) {
			return t, fmt.Errorf("invalid task status %q", *opts.Status)
		}
		t.Status = *opts.Status
		changes["old_status"] = oldStatus
		changes["new_status"] = t.Status
		if t.Status == "done" {
			now := e.nowString()
			t.CompletedAt = &now
		} else if oldStatus == "done" {
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: actionType,
		EntityType: "task",
		EntityID:   t.ID,
		EntityName: t.Title,
		Details:    activity.Payload{"changes": changes},
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// DeleteTask removes the task's subtasks then the task in one transaction.
func (e Engine) DeleteTask(ctx context.Context, actor auth.Principal, id string) (domain.DeleteSummary, error) {
	if err := auth.Require(actor, auth.CapDeleteTasks); err != nil {
		return domain.DeleteSummary{}, err
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DeleteSummary{}, fmt.Errorf("task %s not found: %w", id, repo.ErrNotFound)
		}
		return domain.DeleteSummary{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeleteSummary{}, err
	}
	defer tx.Rollback()
	subtasks, err := e.Repo.DeleteSubtasksByTaskTx(ctx, tx, t.ID)
	if err != nil {
		return domain.DeleteSummary{}, err
	}
	if err := e.Repo.DeleteTaskTx(ctx, tx, t.ID); err != nil {
		return domain.DeleteSummary{}, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "task.deleted",
		EntityType: "task",
		EntityID:   t.ID,
		EntityName: t.Title,
		Details:    activity.Payload{"subtasks_deleted": subtasks},
	}); err != nil {
		return domain.DeleteSummary{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeleteSummary{}, err
	}
	return domain.DeleteSummary{ID: t.ID, Deleted: true, SubtasksDeleted: subtasks}, nil
}
