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

type ProjectCreateOptions struct {
	Name        string
	Description string
	TeamID      string
	OwnerID     string
}

func (e Engine) CreateProject(ctx context.Context, actor auth.Principal, opts ProjectCreateOptions) (domain.Project, error) {
	if err := auth.Require(actor, auth.CapCreateProjects); err != nil {
		return domain.Project{}, err
	}
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	teamID := opts.TeamID
	if teamID == "" && actor.TeamID != nil {
		teamID = *actor.TeamID
	}
	if teamID != "" {
		if _, err := e.Repo.GetTeam(ctx, teamID); err != nil {
			return domain.Project{}, err
		}
	}
	ownerID := opts.OwnerID
	if ownerID == "" {
		ownerID = actor.ID
	}
	p := domain.Project{
		ID:          auth.NewID(),
		TeamID:      optionalString(teamID),
		OwnerID:     optionalString(ownerID),
		CreatedBy:   actor.ID,
		Name:        opts.Name,
		Description: opts.Description,
		Status:      "active",
		CreatedAt:   e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "project.created",
		EntityType: "project",
		EntityID:   p.ID,
		EntityName: p.Name,
		Details:    activity.Payload{"team_id": teamID, "owner_id": ownerID},
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type ProjectUpdateOptions struct {
	Name        *string
	Description *string
	Status      *string
}

func (e Engine) UpdateProject(ctx context.Context, actor auth.Principal, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	if err := auth.Require(actor, auth.CapCreateProjects); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	if opts.Status != nil && *opts.Status != "active" && *opts.Status != "archived" {
		return p, fmt.Errorf("invalid project status %q", *opts.Status)
	}
	if opts.Name != nil && *opts.Name == "" {
		return p, errors.New("name cannot be empty")
	}
	changes := activity.Payload{}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if opts.Name != nil && *opts.Name != p.Name {
		changes["name"] = map[string]string{"old": p.Name, "new": *opts.Name}
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Status != nil && *opts.Status != p.Status {
		changes["status"] = map[string]string{"old": p.Status, "new": *opts.Status}
		p.Status = *opts.Status
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, status=? WHERE id=?`,
		p.Name, p.Description, p.Status, p.ID); err != nil {
		return p, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "project.updated",
		EntityType: "project",
		EntityID:   p.ID,
		EntityName: p.Name,
		Details:    activity.Payload{"changes": changes},
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// DeleteProject cascades subtasks then tasks then the project, all in one
// transaction, and logs a single entry for the project with dependent
// counts in its details.
func (e Engine) DeleteProject(ctx context.Context, actor auth.Principal, id string) (domain.DeleteSummary, error) {
	if err := auth.Require(actor, auth.CapDeleteTasks); err != nil {
		return domain.DeleteSummary{}, err
	}
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DeleteSummary{}, fmt.Errorf("project %s not found: %w", id, repo.ErrNotFound)
		}
		return domain.DeleteSummary{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeleteSummary{}, err
	}
	defer tx.Rollback()
	sum, err := e.cascadeDeleteProjectTx(ctx, tx, p.ID)
	if err != nil {
		return domain.DeleteSummary{}, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "project.deleted",
		EntityType: "project",
		EntityID:   p.ID,
		EntityName: p.Name,
		Details: activity.Payload{
			"tasks_deleted":    sum.TasksDeleted,
			"subtasks_deleted": sum.SubtasksDeleted,
		},
	}); err != nil {
		return domain.DeleteSummary{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeleteSummary{}, err
	}
	return sum, nil
}
