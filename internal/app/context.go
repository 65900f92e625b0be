// Package app wires the workspace together: config, database, migrations,
// the reference snapshot and the engine. Both the CLI and the HTTP server
// bootstrap through it.
package app

import (
	"context"
	"database/sql"

	"controltower/internal/config"
	"controltower/internal/db"
	"controltower/internal/engine"
	"controltower/internal/migrate"
	"controltower/internal/refdata"
)

// App is a fully bootstrapped workspace.
type App struct {
	DB     *sql.DB
	Config *config.Config
	Ref    *refdata.ReferenceData
	Engine engine.Engine
}

// Open loads config (defaults when no file exists), opens the workspace
// database, applies migrations and loads the reference snapshot. A missing
// or malformed reference table surfaces as *refdata.DataSourceError; callers
// abort since nothing works without reference data.
func Open(ctx context.Context, workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	ref, err := refdata.Load(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &App{
		DB:     conn,
		Config: cfg,
		Ref:    ref,
		Engine: engine.New(conn, ref, cfg),
	}, nil
}

// OpenForImport opens the workspace without loading the reference snapshot,
// for the import command that is about to (re)populate the tables.
func OpenForImport(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &App{DB: conn, Config: cfg}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
