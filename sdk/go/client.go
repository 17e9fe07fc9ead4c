package tasktrailsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Tasktrail HTTP API client. Set BotToken for bot
// access or call Login for a human session.
type Client struct {
	BaseURL    string
	BotToken   string
	SessionID  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	TeamID  *string `json:"team_id,omitempty"`
	OwnerID *string `json:"owner_id,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Subtask represents the API subtask model (partial).
type Subtask struct {
	ID             string   `json:"id"`
	TaskID         string   `json:"task_id"`
	Type           string   `json:"type"`
	Question       string   `json:"question"`
	Options        []string `json:"options,omitempty"`
	SelectedOption *string  `json:"selected_option,omitempty"`
	Answered       bool     `json:"answered"`
}

// ActivityEntry represents one activity log row.
type ActivityEntry struct {
	ID         int64   `json:"id"`
	ActorID    *string `json:"actor_id,omitempty"`
	ActorType  *string `json:"actor_type,omitempty"`
	ActionType string  `json:"action_type"`
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	CreatedAt  string  `json:"created_at"`
}

// DeleteSummary reports what a cascade removed.
type DeleteSummary struct {
	ID              string `json:"id"`
	Deleted         bool   `json:"deleted"`
	TasksDeleted    int    `json:"tasks_deleted"`
	SubtasksDeleted int    `json:"subtasks_deleted"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login authenticates with a password and stores the session on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]any{"username": username, "password": password}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/login", body, &resp); err != nil {
		return err
	}
	c.SessionID = resp.SessionID
	return nil
}

// Logout discards the current session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "v0/auth/logout", nil, nil); err != nil {
		return err
	}
	c.SessionID = ""
	return nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name, "description": description}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// DeleteProject deletes a project and returns the cascade counts.
func (c *Client) DeleteProject(ctx context.Context, id string) (DeleteSummary, error) {
	var resp DeleteSummary
	err := c.do(ctx, http.MethodDelete, "v0/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	body := map[string]any{"project_id": projectID, "title": title}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to a new status.
func (c *Client) UpdateTaskStatus(ctx context.Context, id, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// AssignTask sets a task's assignee; pass "" to clear it.
func (c *Client) AssignTask(ctx context.Context, id, assignee string) (Task, error) {
	body := map[string]any{"assigned_to": assignee}
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// Tasks lists tasks for a project.
func (c *Client) Tasks(ctx context.Context, projectID string) ([]Task, error) {
	var resp []Task
	endpoint := "v0/tasks?project_id=" + url.QueryEscape(projectID)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AnswerSubtask answers a subtask.
func (c *Client) AnswerSubtask(ctx context.Context, id, answer string) (Subtask, error) {
	body := map[string]any{"answer": answer}
	var resp Subtask
	err := c.do(ctx, http.MethodPost, "v0/subtasks/"+url.PathEscape(id)+"/answer", body, &resp)
	return resp, err
}

// Activity returns recent activity entries.
func (c *Client) Activity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	endpoint := "v0/activity"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []ActivityEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ActivityUpdates returns activity by others since a timestamp.
func (c *Client) ActivityUpdates(ctx context.Context, since string) ([]ActivityEntry, error) {
	endpoint := "v0/activity/updates?since=" + url.QueryEscape(since)
	var resp []ActivityEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BotToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BotToken)
	case c.SessionID != "":
		req.AddCookie(&http.Cookie{Name: "tasktrail_session", Value: c.SessionID})
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
