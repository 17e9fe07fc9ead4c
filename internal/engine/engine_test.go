package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tasktrail/internal/auth"
	"tasktrail/internal/db"
	"tasktrail/internal/domain"
	"tasktrail/internal/engine"
	"tasktrail/internal/migrate"
	"tasktrail/internal/repo"
)

type testEnv struct {
	Eng engine.Engine
	Ctx context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return testEnv{Eng: engine.New(conn, nil), Ctx: context.Background()}
}

func (env testEnv) mustUser(t *testing.T, username string) domain.User {
	t.Helper()
	u, err := env.Eng.CreateUser(env.Ctx, engine.UserCreateOptions{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret-" + username,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func human(u domain.User) auth.Principal {
	return auth.Principal{ID: u.ID, Username: u.Username, Type: auth.PrincipalHuman, TeamID: u.TeamID}
}

// mustBot creates a bot owned by owner and resolves its token into a
// principal, the same way the HTTP middleware would.
func (env testEnv) mustBot(t *testing.T, owner domain.User, username string, perms ...string) (domain.Bot, auth.Principal) {
	t.Helper()
	b, err := env.Eng.CreateBot(env.Ctx, human(owner), engine.BotCreateOptions{
		Username:    username,
		OwnerID:     owner.ID,
		Permissions: perms,
	})
	if err != nil {
		t.Fatalf("create bot %s: %v", username, err)
	}
	p, err := env.Eng.Auth.ResolveToken(env.Ctx, b.APIToken)
	if err != nil {
		t.Fatalf("resolve bot token: %v", err)
	}
	return b, p
}

func (env testEnv) mustProject(t *testing.T, actor auth.Principal, name string) domain.Project {
	t.Helper()
	p, err := env.Eng.CreateProject(env.Ctx, actor, engine.ProjectCreateOptions{Name: name, OwnerID: actor.ID})
	if err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	return p
}

func (env testEnv) mustTask(t *testing.T, actor auth.Principal, projectID, title string) domain.Task {
	t.Helper()
	tk, err := env.Eng.CreateTask(env.Ctx, actor, engine.TaskCreateOptions{ProjectID: projectID, Title: title})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return tk
}

func TestLoginAndSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	u := env.mustUser(t, "alice")

	sess, loggedIn, err := env.Eng.Auth.Login(env.Ctx, "alice", "secret-alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedIn.ID != u.ID {
		t.Fatalf("login returned user %s, want %s", loggedIn.ID, u.ID)
	}
	if sess.ExpiresAt <= sess.CreatedAt {
		t.Fatalf("session expiry %s not after creation %s", sess.ExpiresAt, sess.CreatedAt)
	}

	p, err := env.Eng.Auth.Resolve(env.Ctx, sess.ID)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if p.ID != u.ID || p.Type != auth.PrincipalHuman {
		t.Fatalf("resolved principal %+v, want human %s", p, u.ID)
	}

	if err := env.Eng.Auth.Logout(env.Ctx, sess.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := env.Eng.Auth.Resolve(env.Ctx, sess.ID); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("resolve after logout: got %v, want ErrUnauthenticated", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.mustUser(t, "alice")

	if _, _, err := env.Eng.Auth.Login(env.Ctx, "alice", "nope"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := env.Eng.Auth.Login(env.Ctx, "nobody", "nope"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("unknown user: got %v, want ErrInvalidCredentials", err)
	}
}

func TestBotTokenResolution(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustUser(t, "alice")
	b, p := env.mustBot(t, owner, "deploy-bot", "read")

	if !strings.HasPrefix(b.APIToken, "bot_") {
		t.Fatalf("token %q lacks bot_ prefix", b.APIToken)
	}
	if p.Type != auth.PrincipalBot || p.ID != b.ID || p.OwnerID != owner.ID {
		t.Fatalf("resolved principal %+v", p)
	}
	if !p.Permissions.Has(auth.CapRead) {
		t.Fatal("bot should hold the read capability")
	}

	if _, err := env.Eng.Auth.Resolve(env.Ctx, "bot_deadbeef"); !errors.Is(err, auth.ErrInvalidOrInactiveToken) {
		t.Fatalf("unknown token: got %v, want ErrInvalidOrInactiveToken", err)
	}

	if err := env.Eng.Repo.SetBotActive(env.Ctx, b.ID, false); err != nil {
		t.Fatalf("deactivate bot: %v", err)
	}
	if _, err := env.Eng.Auth.ResolveToken(env.Ctx, b.APIToken); !errors.Is(err, auth.ErrInvalidOrInactiveToken) {
		t.Fatalf("inactive bot: got %v, want ErrInvalidOrInactiveToken", err)
	}
}

func TestBotCapabilityEnforcement(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustUser(t, "alice")
	proj := env.mustProject(t, human(owner), "Platform")
	_, reader := env.mustBot(t, owner, "read-bot", "read")
	_, admin := env.mustBot(t, owner, "admin-bot", "admin")

	_, err := env.Eng.CreateTask(env.Ctx, reader, engine.TaskCreateOptions{ProjectID: proj.ID, Title: "x"})
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("read-only bot create task: got %v, want ForbiddenError", err)
	}
	if forbidden.Capability != auth.CapCreateTasks {
		t.Fatalf("missing capability %s, want %s", forbidden.Capability, auth.CapCreateTasks)
	}

	// admin stands in for every capability
	if _, err := env.Eng.CreateTask(env.Ctx, admin, engine.TaskCreateOptions{ProjectID: proj.ID, Title: "y"}); err != nil {
		t.Fatalf("admin bot create task: %v", err)
	}
	// humans are never capability-gated
	if _, err := env.Eng.CreateTask(env.Ctx, human(owner), engine.TaskCreateOptions{ProjectID: proj.ID, Title: "z"}); err != nil {
		t.Fatalf("human create task: %v", err)
	}
}

func TestProjectCascadeDelete(t *testing.T) {
	env := newTestEnv(t)
	u := env.mustUser(t, "alice")
	actor := human(u)
	proj := env.mustProject(t, actor, "Acme")
	t1 := env.mustTask(t, actor, proj.ID, "first")
	t2 := env.mustTask(t, actor, proj.ID, "second")
	st, err := env.Eng.CreateSubtask(env.Ctx, actor, engine.SubtaskCreateOptions{
		TaskID: t1.ID, Type: "open_answer", Question: "why?",
	})
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}

	sum, err := env.Eng.DeleteProject(env.Ctx, actor, proj.ID)
	if err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if !sum.Deleted || sum.TasksDeleted != 2 || sum.SubtasksDeleted != 1 {
		t.Fatalf("summary %+v, want 2 tasks and 1 subtask deleted", sum)
	}
	for _, id := range []string{t1.ID, t2.ID} {
		if _, err := env.Eng.Repo.GetTask(env.Ctx, id); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("task %s still present after cascade: %v", id, err)
		}
	}
	if _, err := env.Eng.Repo.GetSubtask(env.Ctx, st.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("subtask still present after cascade: %v", err)
	}
	if _, err := env.Eng.Repo.GetProject(env.Ctx, proj.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("project still present after cascade: %v", err)
	}

	// the cascade logs once, with counts, not per row
	entries, err := env.Eng.Repo.RecentActivity(env.Ctx, 50)
	if err != nil {
		t.Fatalf("recent activity: %v", err)
	}
	deletions := 0
	for _, e := range entries {
		switch e.ActionType {
		case "project.deleted":
			deletions++
		case "task.deleted", "subtask.deleted":
			t.Fatalf("cascade logged per-row entry %s", e.ActionType)
		}
	}
	if deletions != 1 {
		t.Fatalf("got %d project.deleted entries, want 1", deletions)
	}
}

func TestTaskCompletionTimestamps(t *testing.T) {
	env := newTestEnv(t)
	actor := human(env.mustUser(t, "alice"))
	proj := env.mustProject(t, actor, "Acme")
	task := env.mustTask(t, actor, proj.ID, "ship it")

	if task.Status != "pending" || task.CompletedAt != nil {
		t.Fatalf("new task %+v, want pending and no completion time", task)
	}

	// each status change appends exactly one task entry
	entries := func() int {
		n, err := env.Eng.Repo.CountActivity(env.Ctx, "task", task.ID)
		if err != nil {
			t.Fatalf("count activity: %v", err)
		}
		return n
	}
	if got := entries(); got != 1 {
		t.Fatalf("%d task entries after create, want 1", got)
	}

	status := "in-progress"
	task, err := env.Eng.UpdateTask(env.Ctx, actor, task.ID, engine.TaskUpdateOptions{Status: &status})
	if err != nil {
		t.Fatalf("update to in-progress: %v", err)
	}
	if task.CompletedAt != nil {
		t.Fatal("in-progress task must not carry a completion time")
	}
	if got := entries(); got != 2 {
		t.Fatalf("%d task entries after first change, want 2", got)
	}

	status = "done"
	task, err = env.Eng.UpdateTask(env.Ctx, actor, task.ID, engine.TaskUpdateOptions{Status: &status})
	if err != nil {
		t.Fatalf("update to done: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatal("done task must carry a completion time")
	}
	if got := entries(); got != 3 {
		t.Fatalf("%d task entries after completion, want 3", got)
	}

	status = "in-progress"
	task, err = env.Eng.UpdateTask(env.Ctx, actor, task.ID, engine.TaskUpdateOptions{Status: &status})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if task.CompletedAt != nil {
		t.Fatal("reopened task must clear its completion time")
	}
	if got := entries(); got != 4 {
		t.Fatalf("%d task entries after reopen, want 4", got)
	}
}

func TestTaskAssigneeMustExist(t *testing.T) {
	env := newTestEnv(t)
	actor := human(env.mustUser(t, "alice"))
	proj := env.mustProject(t, actor, "Acme")
	task := env.mustTask(t, actor, proj.ID, "ship it")

	ghost := "no-such-principal"
	if _, err := env.Eng.UpdateTask(env.Ctx, actor, task.ID, engine.TaskUpdateOptions{AssignedTo: &ghost}); err == nil {
		t.Fatal("assignment to unknown principal must fail")
	}
}

func TestAnswerSubtask(t *testing.T) {
	env := newTestEnv(t)
	actor := human(env.mustUser(t, "alice"))
	proj := env.mustProject(t, actor, "Acme")
	task := env.mustTask(t, actor, proj.ID, "decide")

	mc, err := env.Eng.CreateSubtask(env.Ctx, actor, engine.SubtaskCreateOptions{
		TaskID: task.ID, Type: "multiple_choice", Question: "which color?", Options: []string{"red", "blue"},
	})
	if err != nil {
		t.Fatalf("create multiple_choice: %v", err)
	}

	if _, err := env.Eng.AnswerSubtask(env.Ctx, actor, mc.ID, "green"); err == nil {
		t.Fatal("answer outside the option list must fail")
	}
	got, err := env.Eng.Repo.GetSubtask(env.Ctx, mc.ID)
	if err != nil {
		t.Fatalf("get subtask: %v", err)
	}
	if got.Answered {
		t.Fatal("rejected answer must not mark the subtask answered")
	}

	got, err = env.Eng.AnswerSubtask(env.Ctx, actor, mc.ID, "blue")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !got.Answered || got.SelectedOption == nil || *got.SelectedOption != "blue" {
		t.Fatalf("answered subtask %+v", got)
	}

	oa, err := env.Eng.CreateSubtask(env.Ctx, actor, engine.SubtaskCreateOptions{
		TaskID: task.ID, Type: "open_answer", Question: "details?",
	})
	if err != nil {
		t.Fatalf("create open_answer: %v", err)
	}
	if _, err := env.Eng.AnswerSubtask(env.Ctx, actor, oa.ID, ""); err == nil {
		t.Fatal("empty answer must fail")
	}
	if got, err = env.Eng.AnswerSubtask(env.Ctx, actor, oa.ID, "anything goes"); err != nil || !got.Answered {
		t.Fatalf("open answer: %v, %+v", err, got)
	}
}

func TestTeamJoinLifecycle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	team, err := env.Eng.CreateTeam(env.Ctx, human(alice), "Platform", alice.ID)
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if _, err := env.Eng.CreateTeam(env.Ctx, human(bob), "Platform", bob.ID); !errors.Is(err, engine.ErrDuplicateTeamName) {
		t.Fatalf("duplicate name: got %v, want ErrDuplicateTeamName", err)
	}

	alice, err = env.Eng.Repo.GetUser(env.Ctx, alice.ID)
	if err != nil {
		t.Fatalf("reload alice: %v", err)
	}
	if alice.TeamID == nil || *alice.TeamID != team.ID || !alice.IsTeamAdmin {
		t.Fatalf("creator %+v, want admin of %s", alice, team.ID)
	}

	req, err := env.Eng.RequestToJoin(env.Ctx, human(bob), team.ID, bob.ID)
	if err != nil {
		t.Fatalf("request join: %v", err)
	}
	if req.Status != "pending" {
		t.Fatalf("request status %s, want pending", req.Status)
	}
	if _, err := env.Eng.RequestToJoin(env.Ctx, human(bob), team.ID, bob.ID); !errors.Is(err, engine.ErrAlreadyRequestedOrMember) {
		t.Fatalf("duplicate request: got %v, want ErrAlreadyRequestedOrMember", err)
	}

	// only a team admin may decide
	if _, err := env.Eng.ApproveJoinRequest(env.Ctx, human(bob), req.ID, bob.ID); !errors.Is(err, engine.ErrNotTeamAdmin) {
		t.Fatalf("non-admin approve: got %v, want ErrNotTeamAdmin", err)
	}

	if _, err := env.Eng.RejectJoinRequest(env.Ctx, human(alice), req.ID, alice.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// a rejection does not bar a fresh request
	req, err = env.Eng.RequestToJoin(env.Ctx, human(bob), team.ID, bob.ID)
	if err != nil {
		t.Fatalf("re-request after rejection: %v", err)
	}
	if _, err := env.Eng.ApproveJoinRequest(env.Ctx, human(alice), req.ID, alice.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	bob, err = env.Eng.Repo.GetUser(env.Ctx, bob.ID)
	if err != nil {
		t.Fatalf("reload bob: %v", err)
	}
	if bob.TeamID == nil || *bob.TeamID != team.ID || bob.IsTeamAdmin {
		t.Fatalf("approved member %+v, want non-admin member of %s", bob, team.ID)
	}
	if _, err := env.Eng.RequestToJoin(env.Ctx, human(bob), team.ID, bob.ID); !errors.Is(err, engine.ErrAlreadyRequestedOrMember) {
		t.Fatalf("member re-request: got %v, want ErrAlreadyRequestedOrMember", err)
	}

	if err := env.Eng.RemoveUserFromTeam(env.Ctx, human(alice), bob.ID, alice.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	bob, _ = env.Eng.Repo.GetUser(env.Ctx, bob.ID)
	if bob.TeamID != nil {
		t.Fatalf("removed member still on team %v", *bob.TeamID)
	}
}

func TestRemoveUserTransfersContent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")
	proj := env.mustProject(t, human(alice), "Acme")
	task := env.mustTask(t, human(alice), proj.ID, "handover")

	sess, _, err := env.Eng.Auth.Login(env.Ctx, "alice", "secret-alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	plan, err := env.Eng.RemoveUser(env.Ctx, human(bob), alice.ID, engine.RemovalTarget{})
	if err != nil {
		t.Fatalf("remove user: %v", err)
	}
	if len(plan.OwnedProjects) != 1 || len(plan.OwnedTasks) != 1 {
		t.Fatalf("plan %+v, want 1 owned project and 1 owned task", plan)
	}

	if _, err := env.Eng.Repo.GetUser(env.Ctx, alice.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("removed user still present: %v", err)
	}
	if _, err := env.Eng.Auth.Resolve(env.Ctx, sess.ID); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("session survived removal: %v", err)
	}

	// teamless removal with content falls back to another active user
	got, err := env.Eng.Repo.GetProject(env.Ctx, proj.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.OwnerID == nil || *got.OwnerID != bob.ID {
		t.Fatalf("project owner %v, want %s", got.OwnerID, bob.ID)
	}
	gotTask, err := env.Eng.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if gotTask.OwnerID == nil || *gotTask.OwnerID != bob.ID {
		t.Fatalf("task owner %v, want %s", gotTask.OwnerID, bob.ID)
	}
}

func TestRemoveUserExplicitTarget(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	env.mustUser(t, "bob")
	carol := env.mustUser(t, "carol")
	proj := env.mustProject(t, human(alice), "Acme")

	if _, err := env.Eng.RemoveUser(env.Ctx, human(carol), alice.ID, engine.RemovalTarget{TransferTo: alice.ID}); err == nil {
		t.Fatal("transfer to the removed account must fail")
	}
	if _, err := env.Eng.RemoveUser(env.Ctx, human(carol), alice.ID, engine.RemovalTarget{TransferTo: "ghost"}); err == nil {
		t.Fatal("transfer to unknown account must fail")
	}
	if _, err := env.Eng.RemoveUser(env.Ctx, human(carol), alice.ID, engine.RemovalTarget{TransferTo: carol.ID}); err != nil {
		t.Fatalf("remove with explicit target: %v", err)
	}
	got, err := env.Eng.Repo.GetProject(env.Ctx, proj.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.OwnerID == nil || *got.OwnerID != carol.ID {
		t.Fatalf("project owner %v, want %s", got.OwnerID, carol.ID)
	}
}

func TestRemoveSoleUserWithContent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	env.mustProject(t, human(alice), "Acme")

	if _, err := env.Eng.RemoveUser(env.Ctx, human(alice), alice.ID, engine.RemovalTarget{}); !errors.Is(err, engine.ErrNoTransferTarget) {
		t.Fatalf("sole user with content: got %v, want ErrNoTransferTarget", err)
	}
}

func TestRemoveLastTeamMemberClearsOwnership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")
	if _, err := env.Eng.CreateTeam(env.Ctx, human(alice), "Solo", alice.ID); err != nil {
		t.Fatalf("create team: %v", err)
	}
	alice, _ = env.Eng.Repo.GetUser(env.Ctx, alice.ID)
	proj := env.mustProject(t, human(alice), "Acme")

	// team policy ignores teamless outsiders: no other member means
	// ownership clears to unassigned
	if _, err := env.Eng.RemoveUser(env.Ctx, human(bob), alice.ID, engine.RemovalTarget{}); err != nil {
		t.Fatalf("remove last member: %v", err)
	}
	got, err := env.Eng.Repo.GetProject(env.Ctx, proj.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.OwnerID != nil {
		t.Fatalf("project owner %v, want unassigned", *got.OwnerID)
	}
}

func TestRemoveBotDeletesContentWhenAsked(t *testing.T) {
	env := newTestEnv(t)
	owner := env.mustUser(t, "alice")
	b, bp := env.mustBot(t, owner, "builder", "admin")
	proj, err := env.Eng.CreateProject(env.Ctx, bp, engine.ProjectCreateOptions{Name: "BotWork", OwnerID: b.ID})
	if err != nil {
		t.Fatalf("bot create project: %v", err)
	}
	task := env.mustTask(t, bp, proj.ID, "generated")

	if _, err := env.Eng.RemoveBot(env.Ctx, human(owner), b.ID, engine.RemovalTarget{DeleteContent: true}); err != nil {
		t.Fatalf("remove bot: %v", err)
	}
	if _, err := env.Eng.Repo.GetProject(env.Ctx, proj.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bot project survived delete_content: %v", err)
	}
	if _, err := env.Eng.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bot task survived delete_content: %v", err)
	}
	if _, err := env.Eng.Auth.ResolveToken(env.Ctx, b.APIToken); !errors.Is(err, auth.ErrInvalidOrInactiveToken) {
		t.Fatalf("removed bot token still resolves: %v", err)
	}
}

func TestRemoveUserTransfersOwnedBots(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")
	b, _ := env.mustBot(t, alice, "worker", "read")

	plan, err := env.Eng.RemoveUser(env.Ctx, human(bob), alice.ID, engine.RemovalTarget{})
	if err != nil {
		t.Fatalf("remove user: %v", err)
	}
	if len(plan.OwnedBots) != 1 {
		t.Fatalf("plan %+v, want 1 owned bot", plan)
	}

	// the bot follows the transfer target; its token keeps working
	got, err := env.Eng.Repo.GetBot(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("get bot: %v", err)
	}
	if got.OwnerID != bob.ID {
		t.Fatalf("bot owner %s, want %s", got.OwnerID, bob.ID)
	}
	p, err := env.Eng.Auth.ResolveToken(env.Ctx, b.APIToken)
	if err != nil {
		t.Fatalf("resolve token after transfer: %v", err)
	}
	if p.OwnerID != bob.ID {
		t.Fatalf("resolved owner %s, want %s", p.OwnerID, bob.ID)
	}
}

func TestRemoveSoleUserWithOnlyBot(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	env.mustBot(t, alice, "worker", "read")

	// a bot is content: it needs a new owner, and there is nobody left
	if _, err := env.Eng.RemoveUser(env.Ctx, human(alice), alice.ID, engine.RemovalTarget{}); !errors.Is(err, engine.ErrNoTransferTarget) {
		t.Fatalf("sole owner removal: got %v, want ErrNoTransferTarget", err)
	}
}

func TestRemoveLastTeamMemberDeletesOwnedBots(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")
	if _, err := env.Eng.CreateTeam(env.Ctx, human(alice), "Solo", alice.ID); err != nil {
		t.Fatalf("create team: %v", err)
	}
	alice, _ = env.Eng.Repo.GetUser(env.Ctx, alice.ID)
	b, bp := env.mustBot(t, alice, "worker", "admin")
	proj, err := env.Eng.CreateProject(env.Ctx, bp, engine.ProjectCreateOptions{Name: "BotWork", OwnerID: b.ID})
	if err != nil {
		t.Fatalf("bot create project: %v", err)
	}

	// no other team member: ownership clears, so the bot cannot be re-homed
	if _, err := env.Eng.RemoveUser(env.Ctx, human(bob), alice.ID, engine.RemovalTarget{}); err != nil {
		t.Fatalf("remove last member: %v", err)
	}
	if _, err := env.Eng.Repo.GetBot(env.Ctx, b.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("bot survived owner removal: %v", err)
	}
	if _, err := env.Eng.Auth.ResolveToken(env.Ctx, b.APIToken); !errors.Is(err, auth.ErrInvalidOrInactiveToken) {
		t.Fatalf("dead bot token still resolves: %v", err)
	}
	got, err := env.Eng.Repo.GetProject(env.Ctx, proj.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.OwnerID != nil {
		t.Fatalf("bot project owner %v, want unassigned", *got.OwnerID)
	}
}

func TestOrphanSweepIdempotent(t *testing.T) {
	env := newTestEnv(t)
	actor := human(env.mustUser(t, "alice"))
	proj := env.mustProject(t, actor, "Acme")
	task := env.mustTask(t, actor, proj.ID, "doomed")
	if _, err := env.Eng.CreateSubtask(env.Ctx, actor, engine.SubtaskCreateOptions{
		TaskID: task.ID, Type: "open_answer", Question: "q",
	}); err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	keeper := env.mustTask(t, actor, proj.ID, "keeper")
	stray, err := env.Eng.CreateSubtask(env.Ctx, actor, engine.SubtaskCreateOptions{
		TaskID: keeper.ID, Type: "open_answer", Question: "q2",
	})
	if err != nil {
		t.Fatalf("create stray subtask: %v", err)
	}

	// break referential integrity behind the engine's back
	if _, err := env.Eng.DB.ExecContext(env.Ctx, `DELETE FROM projects WHERE id = ?`, proj.ID); err != nil {
		t.Fatalf("raw project delete: %v", err)
	}
	if _, err := env.Eng.DB.ExecContext(env.Ctx, `DELETE FROM tasks WHERE id = ?`, keeper.ID); err != nil {
		t.Fatalf("raw task delete: %v", err)
	}

	report, err := env.Eng.OrphanSweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// "doomed" and "keeper" are both gone with their subtasks; only the
	// subtask whose task vanished independently counts as an orphan subtask
	if report.OrphanTasks != 1 || report.OrphanSubtasks != 1 {
		t.Fatalf("report %+v, want 1 orphan task and 1 orphan subtask", report)
	}
	if _, err := env.Eng.Repo.GetSubtask(env.Ctx, stray.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("orphan subtask survived sweep: %v", err)
	}

	report, err = env.Eng.OrphanSweep(env.Ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.OrphanTasks != 0 || report.OrphanSubtasks != 0 {
		t.Fatalf("second sweep repaired %+v, want nothing", report)
	}
}

func TestActivityFeeds(t *testing.T) {
	env := newTestEnv(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")
	proj := env.mustProject(t, human(alice), "Acme")
	task := env.mustTask(t, human(alice), proj.ID, "review")

	assignee := bob.ID
	if _, err := env.Eng.UpdateTask(env.Ctx, human(alice), task.ID, engine.TaskUpdateOptions{AssignedTo: &assignee}); err != nil {
		t.Fatalf("assign task: %v", err)
	}

	since := "2000-01-01T00:00:00Z"
	updates, err := env.Eng.Repo.ActivitySince(env.Ctx, since, bob.ID)
	if err != nil {
		t.Fatalf("activity since: %v", err)
	}
	for _, e := range updates {
		if e.ActorID != nil && *e.ActorID == bob.ID {
			t.Fatalf("feed for %s includes their own entry %+v", bob.ID, e)
		}
	}
	if len(updates) == 0 {
		t.Fatal("expected activity from other actors")
	}

	mine, err := env.Eng.Repo.ActivityAssignedToUser(env.Ctx, bob.ID, since)
	if err != nil {
		t.Fatalf("assigned feed: %v", err)
	}
	found := false
	for _, e := range mine {
		if e.EntityType == "task" && e.EntityID == task.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("assigned feed %+v misses task %s", mine, task.ID)
	}
}
