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

type SubtaskCreateOptions struct {
	TaskID     string
	Type       string
	Question   string
	Options    []string
	AssignedTo string
}

func (e Engine) CreateSubtask(ctx context.Context, actor auth.Principal, opts SubtaskCreateOptions) (domain.Subtask, error) {
	if err := auth.Require(actor, auth.CapCreateTasks); err != nil {
		return domain.Subtask{}, err
	}
	if opts.TaskID == "" {
		return domain.Subtask{}, errors.New("task is required")
	}
	if opts.Question == "" {
		return domain.Subtask{}, errors.New("question is required")
	}
	switch opts.Type {
	case "multiple_choice":
		if len(opts.Options) == 0 {
			return domain.Subtask{}, errors.New("multiple_choice requires at least one option")
		}
	case "open_answer":
	default:
		return domain.Subtask{}, fmt.Errorf("invalid subtask type %q", opts.Type)
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Subtask{}, fmt.Errorf("task %s not found: %w", opts.TaskID, repo.ErrNotFound)
		}
		return domain.Subtask{}, err
	}
	s := domain.Subtask{
		ID:         auth.NewID(),
		TaskID:     t.ID,
		Type:       opts.Type,
		Question:   opts.Question,
		Options:    opts.Options,
		AssignedTo: optionalString(opts.AssignedTo),
		CreatedAt:  e.nowString(),
	}
	if s.Options == nil {
		s.Options = []string{}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSubtask(ctx, tx, s); err != nil {
		return domain.Subtask{}, fmt.Errorf("insert subtask: %w", err)
	}
	details := activity.Payload{"task_id": t.ID, "type": s.Type}
	if s.AssignedTo != nil {
		details["assigned_to"] = *s.AssignedTo
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "subtask.created",
		EntityType: "subtask",
		EntityID:   s.ID,
		EntityName: s.Question,
		Details:    details,
	}); err != nil {
		return domain.Subtask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subtask{}, err
	}
	return s, nil
}

// AnswerSubtask records an answer. For multiple_choice the answer must be
// one of the stored options; a failed validation leaves answered=false.
func (e Engine) AnswerSubtask(ctx context.Context, actor auth.Principal, id, answer string) (domain.Subtask, error) {
	if err := auth.Require(actor, auth.CapUpdateTasks); err != nil {
		return domain.Subtask{}, err
	}
	s, err := e.Repo.GetSubtask(ctx, id)
	if err != nil {
		return s, err
	}
	if answer == "" {
		return s, errors.New("answer is required")
	}
	if s.Type == "multiple_choice" {
		found := false
		for _, opt := range s.Options {
			if opt == answer {
				found = true
				break
			}
		}
		if !found {
			return s, fmt.Errorf("answer %q is not one of the options", answer)
		}
	}
	s.SelectedOption = &answer
	s.Answered = true
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSubtaskTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "subtask.answered",
		EntityType: "subtask",
		EntityID:   s.ID,
		EntityName: s.Question,
		Details:    activity.Payload{"task_id": s.TaskID, "answer": answer},
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// AssignSubtask points assigned_to at a user or bot, or clears it.
func (e Engine) AssignSubtask(ctx context.Context, actor auth.Principal, id, assigneeID string) (domain.Subtask, error) {
	if err := auth.Require(actor, auth.CapUpdateTasks); err != nil {
		return domain.Subtask{}, err
	}
	s, err := e.Repo.GetSubtask(ctx, id)
	if err != nil {
		return s, err
	}
	actionType := "subtask.assigned"
	details := activity.Payload{"task_id": s.TaskID}
	if assigneeID != "" {
		if _, err := e.Repo.GetUser(ctx, assigneeID); err != nil {
			if !errors.Is(err, repo.ErrNotFound) {
				return s, err
			}
			if _, err := e.Repo.GetBot(ctx, assigneeID); err != nil {
				return s, fmt.Errorf("assignee %s not found", assigneeID)
			}
		}
		details["assigned_to"] = assigneeID
	} else {
		actionType = "subtask.updated"
		if s.AssignedTo != nil {
			details["unassigned_from"] = *s.AssignedTo
		}
	}
	s.AssignedTo = optionalString(assigneeID)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSubtaskTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: actionType,
		EntityType: "subtask",
		EntityID:   s.ID,
		EntityName: s.Question,
		Details:    details,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

func (e Engine) DeleteSubtask(ctx context.Context, actor auth.Principal, id string) error {
	if err := auth.Require(actor, auth.CapDeleteTasks); err != nil {
		return err
	}
	s, err := e.Repo.GetSubtask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSubtaskTx(ctx, tx, s.ID); err != nil {
		return err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "subtask.deleted",
		EntityType: "subtask",
		EntityID:   s.ID,
		EntityName: s.Question,
		Details:    activity.Payload{"task_id": s.TaskID},
	}); err != nil {
		return err
	}
	return tx.Commit()
}
