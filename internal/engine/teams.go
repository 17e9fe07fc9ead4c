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

// CreateTeam makes the creator the team's first member and admin.
func (e Engine) CreateTeam(ctx context.Context, actor auth.Principal, name, ownerID string) (domain.Team, error) {
	if name == "" {
		return domain.Team{}, errors.New("team name is required")
	}
	owner, err := e.Repo.GetUser(ctx, ownerID)
	if err != nil {
		return domain.Team{}, err
	}
	if owner.TeamID != nil {
		return domain.Team{}, fmt.Errorf("user %s already belongs to a team", ownerID)
	}
	if _, err := e.Repo.GetTeamByName(ctx, name); err == nil {
		return domain.Team{}, ErrDuplicateTeamName
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Team{}, err
	}
	t := domain.Team{
		ID:        auth.NewID(),
		Name:      name,
		CreatedBy: owner.ID,
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTeamTx(ctx, tx, t); err != nil {
		return domain.Team{}, fmt.Errorf("insert team: %w", err)
	}
	if err := e.Repo.SetUserTeamTx(ctx, tx, owner.ID, &t.ID, true); err != nil {
		return domain.Team{}, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "team.created",
		EntityType: "team",
		EntityID:   t.ID,
		EntityName: t.Name,
		Details:    activity.Payload{"created_by": owner.ID},
	}); err != nil {
		return domain.Team{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

// RequestToJoin files a pending join request, unique per (team, user).
func (e Engine) RequestToJoin(ctx context.Context, actor auth.Principal, teamID, userID string) (domain.TeamRequest, error) {
	if _, err := e.Repo.GetTeam(ctx, teamID); err != nil {
		return domain.TeamRequest{}, err
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.TeamRequest{}, err
	}
	if u.TeamID != nil && *u.TeamID == teamID {
		return domain.TeamRequest{}, ErrAlreadyRequestedOrMember
	}
	if existing, err := e.Repo.GetTeamRequestByPair(ctx, teamID, userID); err == nil {
		if existing.Status == "pending" {
			return domain.TeamRequest{}, ErrAlreadyRequestedOrMember
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.TeamRequest{}, err
	}
	req := domain.TeamRequest{
		ID:        auth.NewID(),
		TeamID:    teamID,
		UserID:    userID,
		Status:    "pending",
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeamRequest{}, err
	}
	defer tx.Rollback()
	// The (team, user) pair is unique; a re-request after rejection reuses
	// the row.
	if _, err := tx.ExecContext(ctx, `INSERT INTO team_requests(id,team_id,user_id,status,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(team_id,user_id) DO UPDATE SET status='pending', created_at=excluded.created_at`,
		req.ID, req.TeamID, req.UserID, req.Status, req.CreatedAt); err != nil {
		return domain.TeamRequest{}, fmt.Errorf("insert team request: %w", err)
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "team.join.requested",
		EntityType: "team",
		EntityID:   teamID,
		Details:    activity.Payload{"user_id": userID},
	}); err != nil {
		return domain.TeamRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TeamRequest{}, err
	}
	stored, err := e.Repo.GetTeamRequestByPair(ctx, teamID, userID)
	if err != nil {
		return req, nil
	}
	return stored, nil
}

// requireTeamAdmin checks the acting user administers teamID.
func (e Engine) requireTeamAdmin(ctx context.Context, adminID, teamID string) (domain.User, error) {
	admin, err := e.Repo.GetUser(ctx, adminID)
	if err != nil {
		return admin, err
	}
	if !admin.IsTeamAdmin || admin.TeamID == nil || *admin.TeamID != teamID {
		return admin, ErrNotTeamAdmin
	}
	return admin, nil
}

// ApproveJoinRequest sets the requester's team and marks the request
// approved in one transaction.
func (e Engine) ApproveJoinRequest(ctx context.Context, actor auth.Principal, requestID, adminID string) (domain.TeamRequest, error) {
	req, err := e.Repo.GetTeamRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.Status != "pending" {
		return req, fmt.Errorf("request %s is already %s", requestID, req.Status)
	}
	if _, err := e.requireTeamAdmin(ctx, adminID, req.TeamID); err != nil {
		return req, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTeamRequestStatusTx(ctx, tx, req.ID, "approved"); err != nil {
		return req, err
	}
	if err := e.Repo.SetUserTeamTx(ctx, tx, req.UserID, &req.TeamID, false); err != nil {
		return req, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "team.join.approved",
		EntityType: "team",
		EntityID:   req.TeamID,
		Details:    activity.Payload{"user_id": req.UserID, "request_id": req.ID, "approved_by": adminID},
	}); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	req.Status = "approved"
	return req, nil
}

// RejectJoinRequest only flips the request status.
func (e Engine) RejectJoinRequest(ctx context.Context, actor auth.Principal, requestID, adminID string) (domain.TeamRequest, error) {
	req, err := e.Repo.GetTeamRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.Status != "pending" {
		return req, fmt.Errorf("request %s is already %s", requestID, req.Status)
	}
	if _, err := e.requireTeamAdmin(ctx, adminID, req.TeamID); err != nil {
		return req, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTeamRequestStatusTx(ctx, tx, req.ID, "rejected"); err != nil {
		return req, err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "team.join.rejected",
		EntityType: "team",
		EntityID:   req.TeamID,
		Details:    activity.Payload{"user_id": req.UserID, "request_id": req.ID, "rejected_by": adminID},
	}); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	req.Status = "rejected"
	return req, nil
}

// RemoveUserFromTeam clears the target's membership. The acting user must
// administer the same team.
func (e Engine) RemoveUserFromTeam(ctx context.Context, actor auth.Principal, userID, adminID string) error {
	target, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if target.TeamID == nil {
		return fmt.Errorf("user %s is not in a team", userID)
	}
	if _, err := e.requireTeamAdmin(ctx, adminID, *target.TeamID); err != nil {
		return err
	}
	teamID := *target.TeamID
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetUserTeamTx(ctx, tx, userID, nil, false); err != nil {
		return err
	}
	if err := e.Activity.Append(ctx, tx, activity.Entry{
		ActorID:    actor.ID,
		ActorType:  string(actor.Type),
		ActionType: "team.member.removed",
		EntityType: "team",
		EntityID:   teamID,
		Details:    activity.Payload{"user_id": userID, "removed_by": adminID},
	}); err != nil {
		return err
	}
	return tx.Commit()
}
