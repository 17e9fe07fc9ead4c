package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tasktrail/internal/activity"
	"tasktrail/internal/auth"
	"tasktrail/internal/domain"
	"tasktrail/internal/repo"
)

type UserCreateOptions struct {
	Username string
	Email    string
	FullName string
	Password string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if opts.Username == "" {
		return domain.User{}, errors.New("username is required")
	}
	if opts.Email == "" {
		return domain.User{}, errors.New("email is required")
	}
	if opts.Password == "" {
		return domain.User{}, errors.New("password is required")
	}
	if _, err := e.Repo.GetUserByUsername(ctx, opts.Username); err == nil {
		return domain.User{}, fmt.Errorf("username %s already taken", opts.Username)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if _, err := e.Repo.GetUserByEmail(ctx, opts.Email); err == nil {
		return domain.User{}, fmt.Errorf("email %s already registered", opts.Email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	hash, salt, err := auth.HashPassword(opts.Password)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           auth.NewID(),
		Username:     opts.Username,
		Email:        opts.Email,
		FullName:     opts.FullName,
		PasswordHash: hash,
		PasswordSalt: salt,
		IsActive:     true,
		CreatedAt:    e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO users(id,username,email,full_name,password_hash,password_salt,is_active,created_at) VALUES (?,?,?,?,?,?,1,?)`,
		u.ID, u.Username, u.Email, u.FullName, u.PasswordHash, u.PasswordSalt, u.CreatedAt); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    u.ID,
		ActorType:  string(auth.PrincipalHuman),
		ActionType: "user.created",
		EntityType: "user",
		EntityID:   u.ID,
		EntityName: u.Username,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

type BotCreateOptions struct {
	Username    string
	OwnerID     string
	Permissions []string
}

// CreateBot mints a bot_<hex> token. The plaintext token is returned once;
// callers must store it.
func (e Engine) CreateBot(ctx context.Context, actor auth.Principal, opts BotCreateOptions) (domain.Bot, error) {
	if opts.Username == "" {
		return domain.Bot{}, errors.New("username is required")
	}
	if opts.OwnerID == "" {
		return domain.Bot{}, errors.New("owner is required")
	}
	if _, err := auth.NewCapabilitySet(opts.Permissions); err != nil {
		return domain.Bot{}, err
	}
	if _, err := e.Repo.GetUser(ctx, opts.OwnerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Bot{}, fmt.Errorf("owner %s not found", opts.OwnerID)
		}
		return domain.Bot{}, err
	}
	if _, err := e.Repo.GetBotByUsername(ctx, opts.Username); err == nil {
		return domain.Bot{}, fmt.Errorf("bot username %s already taken", opts.Username)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Bot{}, err
	}
	token, err := auth.NewBotToken()
	if err != nil {
		return domain.Bot{}, err
	}
	b := domain.Bot{
		ID:          auth.NewID(),
		Username:    opts.Username,
		APIToken:    token,
		OwnerID:     opts.OwnerID,
		Permissions: opts.Permissions,
		IsActive:    true,
		CreatedAt:   e.nowString(),
	}
	if b.Permissions == nil {
		b.Permissions = []string{}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bot{}, err
	}
	defer tx.Rollback()
	if err := e.insertBotTx(ctx, tx, b); err != nil {
		return domain.Bot{}, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "bot.created",
		EntityType: "bot",
		EntityID:   b.ID,
		EntityName: b.Username,
		Details:    activity.Payload{"owner_id": b.OwnerID, "permissions": b.Permissions},
	}); err != nil {
		return domain.Bot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bot{}, err
	}
	return b, nil
}

func (e Engine) insertBotTx(ctx context.Context, tx *sql.Tx, b domain.Bot) error {
	perms, err := json.Marshal(b.Permissions)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO bots(id,username,api_token,owner_id,permissions_json,is_active,created_at) VALUES (?,?,?,?,?,1,?)`,
		b.ID, b.Username, b.APIToken, b.OwnerID, string(perms), b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

func (e Engine) SetBotPermissions(ctx context.Context, actor auth.Principal, botID string, permissions []string) (domain.Bot, error) {
	if _, err := auth.NewCapabilitySet(permissions); err != nil {
		return domain.Bot{}, err
	}
	b, err := e.Repo.GetBot(ctx, botID)
	if err != nil {
		return domain.Bot{}, err
	}
	if permissions == nil {
		permissions = []string{}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bot{}, err
	}
	defer tx.Rollback()
	perms, err := json.Marshal(permissions)
	if err != nil {
		return domain.Bot{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE bots SET permissions_json=? WHERE id=?`, string(perms), botID); err != nil {
		return domain.Bot{}, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "bot.permissions.updated",
		EntityType: "bot",
		EntityID:   b.ID,
		EntityName: b.Username,
		Details:    activity.Payload{"old": b.Permissions, "new": permissions},
	}); err != nil {
		return domain.Bot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bot{}, err
	}
	b.Permissions = permissions
	return b, nil
}

// RemovalTarget selects where a removed principal's content goes.
type RemovalTarget struct {
	// TransferTo is a caller-selected user id; empty means pick per policy.
	TransferTo string
	// DeleteContent cascades bot-owned content instead of transferring.
	// Only honored for bots.
	DeleteContent bool
}

// RemoveUser deletes a human account after reassigning everything it owns
// or is assigned. All steps share one transaction.
func (e Engine) RemoveUser(ctx context.Context, actor auth.Principal, userID string, target RemovalTarget) (domain.RemovalPlan, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.RemovalPlan{}, err
	}
	plan, err := e.RemovalPlanFor(ctx, userID)
	if err != nil {
		return plan, err
	}
	transferTo, err := e.resolveTransferTarget(ctx, u.TeamID, userID, target.TransferTo, plan)
	if err != nil {
		return plan, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return plan, err
	}
	defer tx.Rollback()
	if err := e.reassignAllTx(ctx, tx, userID, transferTo); err != nil {
		return plan, err
	}
	// Bots cannot outlive their owner. They follow the transfer target, or
	// go away with their assignments when ownership clears.
	for _, b := range plan.OwnedBots {
		if transferTo != nil {
			if err := e.Repo.SetBotOwnerTx(ctx, tx, b.ID, *transferTo); err != nil {
				return plan, err
			}
			continue
		}
		if err := e.reassignAllTx(ctx, tx, b.ID, nil); err != nil {
			return plan, err
		}
		if err := e.Repo.DeleteBotTx(ctx, tx, b.ID); err != nil {
			return plan, err
		}
	}
	if err := e.Repo.DeleteSessionsForUserTx(ctx, tx, userID); err != nil {
		return plan, err
	}
	if err := e.Repo.DeleteUserTx(ctx, tx, userID); err != nil {
		return plan, err
	}
	details := activity.Payload{
		"owned_projects":    len(plan.OwnedProjects),
		"owned_tasks":       len(plan.OwnedTasks),
		"assigned_tasks":    len(plan.AssignedTasks),
		"assigned_subtasks": len(plan.AssignedSubtasks),
		"owned_bots":        len(plan.OwnedBots),
	}
	if transferTo != nil {
		details["transferred_to"] = *transferTo
	} else {
		details["transferred_to"] = nil
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "user.removed",
		EntityType: "user",
		EntityID:   u.ID,
		EntityName: u.Username,
		Details:    details,
	}); err != nil {
		return plan, err
	}
	if err := tx.Commit(); err != nil {
		return plan, err
	}
	return plan, nil
}

// RemoveBot deletes a bot, either transferring its content like a human
// removal or cascading it away.
func (e Engine) RemoveBot(ctx context.Context, actor auth.Principal, botID string, target RemovalTarget) (domain.RemovalPlan, error) {
	b, err := e.Repo.GetBot(ctx, botID)
	if err != nil {
		return domain.RemovalPlan{}, err
	}
	plan, err := e.RemovalPlanFor(ctx, botID)
	if err != nil {
		return plan, err
	}
	if target.DeleteContent {
		return plan, e.removeBotCascading(ctx, actor, b, plan)
	}
	owner, err := e.Repo.GetUser(ctx, b.OwnerID)
	if err != nil {
		return plan, err
	}
	transferTo, err := e.resolveTransferTarget(ctx, owner.TeamID, botID, target.TransferTo, plan)
	if err != nil {
		return plan, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return plan, err
	}
	defer tx.Rollback()
	if err := e.reassignAllTx(ctx, tx, botID, transferTo); err != nil {
		return plan, err
	}
	if err := e.Repo.DeleteBotTx(ctx, tx, botID); err != nil {
		return plan, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "bot.removed",
		EntityType: "bot",
		EntityID:   b.ID,
		EntityName: b.Username,
		Details: activity.Payload{
			"owned_projects": len(plan.OwnedProjects),
			"owned_tasks":    len(plan.OwnedTasks),
			"transferred_to": derefOr(transferTo, ""),
		},
	}); err != nil {
		return plan, err
	}
	return plan, tx.Commit()
}

func (e Engine) removeBotCascading(ctx context.Context, actor auth.Principal, b domain.Bot, plan domain.RemovalPlan) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	tasksDeleted, subtasksDeleted := 0, 0
	for _, p := range plan.OwnedProjects {
		sum, err := e.cascadeDeleteProjectTx(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		tasksDeleted += sum.TasksDeleted
		subtasksDeleted += sum.SubtasksDeleted
	}
	for _, t := range plan.OwnedTasks {
		// skip tasks already removed with an owned project
		if _, err := e.Repo.GetTaskTx(ctx, tx, t.ID); errors.Is(err, repo.ErrNotFound) {
			continue
		} else if err != nil {
			return err
		}
		n, err := e.Repo.DeleteSubtasksByTaskTx(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteTaskTx(ctx, tx, t.ID); err != nil {
			return err
		}
		tasksDeleted++
		subtasksDeleted += n
	}
	if _, err := e.Repo.ReassignTaskAssigneeTx(ctx, tx, b.ID, nil); err != nil {
		return err
	}
	if _, err := e.Repo.ReassignSubtaskAssigneeTx(ctx, tx, b.ID, nil); err != nil {
		return err
	}
	if err := e.Repo.DeleteBotTx(ctx, tx, b.ID); err != nil {
		return err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "bot.removed",
		EntityType: "bot",
		EntityID:   b.ID,
		EntityName: b.Username,
		Details: activity.Payload{
			"content_deleted":  true,
			"projects_deleted": len(plan.OwnedProjects),
			"tasks_deleted":    tasksDeleted,
			"subtasks_deleted": subtasksDeleted,
		},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RemovalPlanFor enumerates all records owned by or assigned to a
// principal.
func (e Engine) RemovalPlanFor(ctx context.Context, principalID string) (domain.RemovalPlan, error) {
	var plan domain.RemovalPlan
	var err error
	if plan.OwnedProjects, err = e.Repo.ListProjectsOwnedBy(ctx, principalID); err != nil {
		return plan, err
	}
	if plan.OwnedTasks, err = e.Repo.ListTasks(ctx, repo.TaskFilters{OwnerID: principalID}); err != nil {
		return plan, err
	}
	if plan.AssignedTasks, err = e.Repo.ListTasks(ctx, repo.TaskFilters{AssignedTo: principalID}); err != nil {
		return plan, err
	}
	if plan.AssignedSubtasks, err = e.Repo.ListSubtasks(ctx, repo.SubtaskFilters{AssignedTo: principalID}); err != nil {
		return plan, err
	}
	if plan.OwnedBots, err = e.Repo.ListBots(ctx, principalID); err != nil {
		return plan, err
	}
	return plan, nil
}

// resolveTransferTarget applies the removal policy: teamless principals
// need an explicit or discoverable active human; team members prefer
// another admin, then any member; an empty team clears ownership instead.
// A nil result means "clear to unassigned".
func (e Engine) resolveTransferTarget(ctx context.Context, teamID *string, removedID, requested string, plan domain.RemovalPlan) (*string, error) {
	if requested != "" {
		target, err := e.Repo.GetUser(ctx, requested)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fmt.Errorf("transfer target %s not found", requested)
			}
			return nil, err
		}
		if !target.IsActive {
			return nil, fmt.Errorf("transfer target %s is not active", requested)
		}
		if target.ID == removedID {
			return nil, errors.New("cannot transfer to the account being removed")
		}
		return &target.ID, nil
	}
	hasContent := len(plan.OwnedProjects) > 0 || len(plan.OwnedTasks) > 0 ||
		len(plan.AssignedTasks) > 0 || len(plan.AssignedSubtasks) > 0 ||
		len(plan.OwnedBots) > 0
	if teamID == nil {
		if !hasContent {
			return nil, nil
		}
		other, err := e.Repo.FirstOtherActiveUser(ctx, removedID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrNoTransferTarget
			}
			return nil, err
		}
		return &other.ID, nil
	}
	members, err := e.Repo.ListTeamMembers(ctx, *teamID)
	if err != nil {
		return nil, err
	}
	var fallback *string
	for i := range members {
		m := members[i]
		if m.ID == removedID {
			continue
		}
		if m.IsTeamAdmin {
			return &m.ID, nil
		}
		if fallback == nil {
			fallback = &m.ID
		}
	}
	// No other member: content stays, ownership clears to unassigned.
	return fallback, nil
}

func (e Engine) reassignAllTx(ctx context.Context, tx *sql.Tx, principalID string, to *string) error {
	if _, err := e.Repo.ReassignProjectOwnerTx(ctx, tx, principalID, to); err != nil {
		return err
	}
	if _, err := e.Repo.ReassignTaskOwnerTx(ctx, tx, principalID, to); err != nil {
		return err
	}
	if _, err := e.Repo.ReassignTaskAssigneeTx(ctx, tx, principalID, to); err != nil {
		return err
	}
	if _, err := e.Repo.ReassignSubtaskAssigneeTx(ctx, tx, principalID, to); err != nil {
		return err
	}
	return nil
}
