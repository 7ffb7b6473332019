package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// DefaultSchema is used when a feed does not name a schema.
const DefaultSchema = "core"

// ErrUnknownSchema is returned for a schema id without embedded migrations.
var ErrUnknownSchema = errors.New("unknown schema")

//go:embed migrations
var migrationFS embed.FS

// Schemas returns the schema identifiers a store can be created from.
func Schemas() []string {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func newMigrator(conn *sql.DB, schema string) (*migrate.Migrate, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	dir := path.Join("migrations", schema)
	if _, err := fs.Stat(migrationFS, dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}

	source, err := iofs.New(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("creating iofs source: %w", err)
	}

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// applySchema brings the store up to the latest migration of schema.
// Migrations use idempotent DDL, so stores created before versioning
// was tracked are adopted as they are.
func applySchema(conn *sql.DB, schema string) error {
	m, err := newMigrator(conn, schema)
	if err != nil {
		return err
	}

	before, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}

	// m.Close is not called: it would close conn.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	after, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema %s is dirty at version %d", schema, after)
	}
	if after != before {
		slog.Debug("schema migrated", "schema", schema, "from", before, "to", after)
	}
	return nil
}

// SchemaVersion reports the applied migration version of the store.
func (db *DB) SchemaVersion(schema string) (uint, error) {
	m, err := newMigrator(db.conn, schema)
	if err != nil {
		return 0, err
	}
	version, _, err := m.Version()
	if err != nil {
		return 0, err
	}
	return version, nil
}
