package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"tasktrail/internal/db"
	"tasktrail/internal/domain"
	"tasktrail/internal/engine"
	"tasktrail/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil)
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// register creates an account and logs in, returning the Cookie header
// value for subsequent requests.
func register(t *testing.T, srv *testServer, username string) (domain.User, string) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/users", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret-" + username,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user status %d: %s", res.StatusCode, string(data))
	}
	var u domain.User
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"username": username,
		"password": "secret-" + username,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login LoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return u, SessionCookie + "=" + login.SessionID
}

func TestRegisterLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	u, cookie := register(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Cookie": cookie})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ID != u.ID || me.Type != "human" {
		t.Fatalf("me %+v, want human %s", me, u.ID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me status %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "unauthorized" {
		t.Fatalf("error code %q, want unauthorized", env.Error.Code)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, cookie := register(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/logout", nil, map[string]string{"Cookie": cookie})
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("logout status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Cookie": cookie})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status %d: %s", res.StatusCode, string(data))
	}
}

func TestBotBearerAuthAndCapabilities(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, cookie := register(t, srv, "alice")
	session := map[string]string{"Cookie": cookie}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/bots", map[string]any{
		"username":    "read-bot",
		"permissions": []string{"read"},
	}, session)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create bot status %d: %s", res.StatusCode, string(data))
	}
	var created BotCreatedResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal bot: %v", err)
	}
	if !strings.HasPrefix(created.APIToken, "bot_") {
		t.Fatalf("token %q lacks bot_ prefix", created.APIToken)
	}
	bearer := map[string]string{"Authorization": "Bearer " + created.APIToken}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bot me status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Type != "bot" || me.ID != created.Bot.ID {
		t.Fatalf("bot me %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "Acme"}, session)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var proj domain.Project
	if err := json.Unmarshal(data, &proj); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}

	// a read-only bot may look but not touch
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bot list tasks status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"project_id": proj.ID,
		"title":      "nope",
	}, bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("bot create task status %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Details["capability"] != "create_tasks" {
		t.Fatalf("error details %+v, want capability create_tasks", env.Error.Details)
	}

	// widen the grant and retry
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/bots/"+created.Bot.ID+"/permissions", map[string]any{
		"permissions": []string{"read", "create_tasks"},
	}, session)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set permissions status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"project_id": proj.ID,
		"title":      "allowed now",
	}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("bot create task after grant status %d: %s", res.StatusCode, string(data))
	}
}

func TestInvalidBearerToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer bot_deadbeef",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "invalid_credentials" {
		t.Fatalf("error code %q, want invalid_credentials", env.Error.Code)
	}
}

func TestProjectDeleteReportsCascade(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, cookie := register(t, srv, "alice")
	session := map[string]string{"Cookie": cookie}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "Doomed"}, session)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var proj domain.Project
	if err := json.Unmarshal(data, &proj); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"project_id": proj.ID,
		"title":      "only task",
	}, session)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/subtasks", map[string]any{
		"task_id":  task.ID,
		"type":     "open_answer",
		"question": "why?",
	}, session)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create subtask status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/projects/"+proj.ID, nil, session)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete project status %d: %s", res.StatusCode, string(data))
	}
	var sum domain.DeleteSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if !sum.Deleted || sum.TasksDeleted != 1 || sum.SubtasksDeleted != 1 {
		t.Fatalf("summary %+v, want 1 task and 1 subtask deleted", sum)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, session)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("task after cascade status %d, want 404", res.StatusCode)
	}
}

func TestUserRemovalOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice, _ := register(t, srv, "alice")
	_, bobCookie := register(t, srv, "bob")
	bobSession := map[string]string{"Cookie": bobCookie}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/"+alice.ID+"/removal-plan", nil, bobSession)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("removal plan status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/users/"+alice.ID, nil, bobSession)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove user status %d: %s", res.StatusCode, string(data))
	}
	var removal RemovalResponse
	if err := json.Unmarshal(data, &removal); err != nil {
		t.Fatalf("unmarshal removal: %v", err)
	}
	if removal.Removed != alice.ID {
		t.Fatalf("removed %q, want %s", removal.Removed, alice.ID)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/"+alice.ID, nil, bobSession)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("removed user status %d, want 404", res.StatusCode)
	}
}

func TestMaintenanceSweep(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, cookie := register(t, srv, "alice")
	session := map[string]string{"Cookie": cookie}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/maintenance/sweep", nil, session)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sweep status %d: %s", res.StatusCode, string(data))
	}
	var report domain.SweepReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.OrphanTasks != 0 || report.OrphanSubtasks != 0 {
		t.Fatalf("clean store reported %+v", report)
	}
}
