package domain

type User struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
	FullName     string  `json:"full_name,omitempty"`
	PasswordHash string  `json:"-"`
	PasswordSalt string  `json:"-"`
	TeamID       *string `json:"team_id,omitempty"`
	IsTeamAdmin  bool    `json:"is_team_admin"`
	IsActive     bool    `json:"is_active"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	LastLogin    *string `json:"last_login,omitempty" format:"date-time"`
}

type Bot struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	APIToken    string   `json:"-"`
	OwnerID     string   `json:"owner_id"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"is_active"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TeamRequest struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status" enum:"pending,approved,rejected"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string  `json:"id"`
	TeamID      *string `json:"team_id,omitempty"`
	OwnerID     *string `json:"owner_id,omitempty"`
	CreatedBy   string  `json:"created_by"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"active,archived"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	TeamID      *string `json:"team_id,omitempty"`
	OwnerID     *string `json:"owner_id,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"pending,in-progress,done"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type Subtask struct {
	ID             string   `json:"id"`
	TaskID         string   `json:"task_id"`
	Type           string   `json:"type" enum:"multiple_choice,open_answer"`
	Question       string   `json:"question"`
	Options        []string `json:"options,omitempty"`
	SelectedOption *string  `json:"selected_option,omitempty"`
	Answered       bool     `json:"answered"`
	AssignedTo     *string  `json:"assigned_to,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}

// ActivityEntry rows are append-only; normal operation never updates or
// deletes them.
type ActivityEntry struct {
	ID         int64   `json:"id"`
	ActorID    *string `json:"actor_id,omitempty"`
	ActorType  *string `json:"actor_type,omitempty" enum:"human,bot"`
	ActionType string  `json:"action_type"`
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	EntityName *string `json:"entity_name,omitempty"`
	Details    string  `json:"details_json,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// DeleteSummary reports what a cascade removed.
type DeleteSummary struct {
	ID              string `json:"id"`
	Deleted         bool   `json:"deleted"`
	TasksDeleted    int    `json:"tasks_deleted"`
	SubtasksDeleted int    `json:"subtasks_deleted"`
}

// SweepReport counts repairs performed by one orphan sweep run.
type SweepReport struct {
	OrphanTasks    int `json:"orphan_tasks"`
	OrphanSubtasks int `json:"orphan_subtasks"`
}

// RemovalPlan enumerates everything owned by or assigned to a principal
// before the account is removed.
type RemovalPlan struct {
	OwnedProjects    []Project `json:"owned_projects"`
	OwnedTasks       []Task    `json:"owned_tasks"`
	AssignedTasks    []Task    `json:"assigned_tasks"`
	AssignedSubtasks []Subtask `json:"assigned_subtasks"`
	OwnedBots        []Bot     `json:"owned_bots"`
}
