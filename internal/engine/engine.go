package engine

import (
	"database/sql"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"tasktrail/internal/activity"
	"tasktrail/internal/auth"
	"tasktrail/internal/repo"
)

// Engine coordinates mutations: every operation validates, executes inside
// one transaction, and appends exactly one activity entry per top-level
// mutation before commit.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Activity activity.Writer
	Auth     auth.Service
	Log      *logrus.Logger
	Now      func() time.Time
}

func New(db *sql.DB, log *logrus.Logger) Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Activity: activity.Writer{},
		Auth:     auth.Service{Repo: r},
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

var (
	ErrDuplicateTeamName        = errors.New("team name already exists")
	ErrAlreadyRequestedOrMember = errors.New("join already requested or user is already a member")
	ErrNotTeamAdmin             = errors.New("acting user is not an admin of this team")
	ErrNoTransferTarget         = errors.New("no transfer target available")
)

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
