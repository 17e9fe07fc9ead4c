package server

import (
	"tasktrail/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Password string `json:"password"`
}

type RemovePrincipalRequest struct {
	TransferTo    string `json:"transfer_to,omitempty"`
	DeleteContent bool   `json:"delete_content,omitempty"`
}

type CreateBotRequest struct {
	Username    string   `json:"username"`
	OwnerID     string   `json:"owner_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type SetBotPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type CreateTeamRequest struct {
	Name string `json:"name"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"active,archived"`
}

type CreateTaskRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"pending,in-progress,done"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
}

type CreateSubtaskRequest struct {
	TaskID     string   `json:"task_id"`
	Type       string   `json:"type" enum:"multiple_choice,open_answer"`
	Question   string   `json:"question"`
	Options    []string `json:"options,omitempty"`
	AssignedTo string   `json:"assigned_to,omitempty"`
}

type AnswerSubtaskRequest struct {
	Answer string `json:"answer"`
}

type AssignSubtaskRequest struct {
	AssignedTo string `json:"assigned_to"`
}

// Response payloads

type LoginResponse struct {
	SessionID string      `json:"session_id"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type MeResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	FullName    string   `json:"full_name,omitempty"`
	Type        string   `json:"type" enum:"human,bot"`
	TeamID      *string  `json:"team_id,omitempty"`
	OwnerID     string   `json:"owner_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// BotCreatedResponse carries the plaintext token. It is shown exactly once,
// at creation.
type BotCreatedResponse struct {
	Bot      domain.Bot `json:"bot"`
	APIToken string     `json:"api_token"`
}

type RemovalResponse struct {
	Removed string             `json:"removed"`
	Plan    domain.RemovalPlan `json:"plan"`
}

type SessionCleanupResponse struct {
	Deleted int `json:"deleted"`
}
