// Package storage opens the dashboard database and wires up the
// repositories. The database is a local sqlite file; schema changes go
// through embedded goose migrations.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/brightnest/haven/internal/storage/migrations"
	"github.com/brightnest/haven/internal/storage/repositories/incidents"
	"github.com/brightnest/haven/internal/storage/repositories/refreshtokens"
	"github.com/brightnest/haven/internal/storage/repositories/stats"
)

// Repositories bundles the dashboard data access layer.
type Repositories struct {
	Incidents     incidents.Repository
	Stats         stats.Repository
	RefreshTokens refreshtokens.Repository
	DB            *sql.DB
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the sqlite database at dsn, migrates it, and returns
// the repositories.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Repositories{
		Incidents:     incidents.NewSQLiteRepository(db),
		Stats:         stats.NewSQLiteRepository(db),
		RefreshTokens: refreshtokens.NewSQLiteRepository(db),
		DB:            db,
	}, nil
}

// Close releases the underlying database handle.
func (r *Repositories) Close() error {
	return r.DB.Close()
}
