package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"tasktrail/internal/config"
	"tasktrail/internal/db"
	"tasktrail/internal/engine"
	"tasktrail/internal/logging"
	"tasktrail/internal/migrate"
	"tasktrail/internal/repo"
)

// App bundles the opened database, config and engine for a workspace. It is
// the shared bootstrap for the CLI and the server.
type App struct {
	Workspace string
	Config    *config.Config
	Engine    engine.Engine
	Log       *logrus.Logger
}

// Open loads config, opens the workspace database, applies pending
// migrations and wires the engine.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		Workspace: workspace,
		Config:    cfg,
		Engine:    engine.New(conn, log),
		Log:       log,
	}, nil
}

// Repo exposes the underlying repository for read paths.
func (a *App) Repo() repo.Repo {
	return a.Engine.Repo
}

// Close releases the database connection.
func (a *App) Close() error {
	return a.Engine.DB.Close()
}
