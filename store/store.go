// Package store provides the recipient directory on a SQL database via
// bun. PostgreSQL is the production backend; SQLite covers single-node
// deployments and tests with the same queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store holds the directory tables for groups and users.
type Store struct {
	bun *bun.DB
}

// ConnectPostgres connects to PostgreSQL and pings the server to ensure
// the connection is working.
func ConnectPostgres(ctx context.Context, connStr string) (*Store, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{bun: bun.NewDB(sqlDB, pgdialect.New())}, nil
}

// OpenSQLite opens a SQLite database at the given DSN, ":memory:" for
// an in-memory one.
func OpenSQLite(dsn string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps in-memory databases from vanishing between
	// pooled connections.
	sqlDB.SetMaxOpenConns(1)
	return &Store{bun: bun.NewDB(sqlDB, sqlitedialect.New())}, nil
}

// CreateTables creates the directory tables if they do not exist yet.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, table := range []string{groupTable, userTable} {
		_, err := s.bun.NewCreateTable().
			Model((*recipient)(nil)).
			ModelTableExpr(table).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	return nil
}

// Groups returns the group directory.
func (s *Store) Groups() *Directory {
	return &Directory{db: s.bun, table: groupTable}
}

// Users returns the user directory.
func (s *Store) Users() *Directory {
	return &Directory{db: s.bun, table: userTable}
}

// A Directory is one recipient table. Groups and users have identical
// contracts over independent keyspaces.
type Directory struct {
	db    *bun.DB
	table string
}

// UpsertActive creates the recipient active with a join timestamp of
// now, or reactivates an existing one and overwrites its display name.
// Idempotent under repeated calls.
func (d *Directory) UpsertActive(ctx context.Context, id, displayName string) error {
	r := &recipient{
		ID:          id,
		DisplayName: displayName,
		JoinedAt:    time.Now().UTC(),
		Active:      true,
	}
	_, err := d.db.NewInsert().
		Model(r).
		ModelTableExpr(d.table).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("active = ?", true).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// Deactivate clears the recipient's active flag. Unknown ids are a
// no-op; historical fields are kept.
func (d *Directory) Deactivate(ctx context.Context, id string) error {
	_, err := d.db.NewUpdate().
		Model((*recipient)(nil)).
		ModelTableExpr(d.table + " AS recipient").
		Set("active = ?", false).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	return nil
}

// ListActiveIDs returns the ids of all active recipients.
func (d *Directory) ListActiveIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := d.db.NewSelect().
		Model((*recipient)(nil)).
		ModelTableExpr(d.table+" AS recipient").
		Column("id").
		Where("active = ?", true).
		Order("joined_at ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("select active ids: %w", err)
	}
	return ids, nil
}

// IsActive reports whether the recipient exists and is active.
func (d *Directory) IsActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := d.db.NewSelect().
		Model((*recipient)(nil)).
		ModelTableExpr(d.table+" AS recipient").
		Column("active").
		Where("id = ?", id).
		Scan(ctx, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select active: %w", err)
	}
	return active, nil
}
