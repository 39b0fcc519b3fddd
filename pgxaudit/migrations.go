package pgxaudit

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// MigrationFiles lists the embedded migration file names in apply order.
func MigrationFiles() ([]string, error) {
	matches, err := fs.Glob(embeddedMigrations, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing embedded migrations: %w", err)
	}
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = path.Base(m)
	}
	slices.Sort(files)
	return files, nil
}

// CopyMigrations writes the embedded migrations into dstDir for projects that
// run golang-migrate themselves. Existing files are never overwritten.
func CopyMigrations(dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dstDir, err)
	}
	files, err := MigrationFiles()
	if err != nil {
		return err
	}
	for _, name := range files {
		if err := copyMigration(name, filepath.Join(dstDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyMigration(name, target string) error {
	content, err := embeddedMigrations.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("reading embedded migration %s: %w", name, err)
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("migration already exists: %s", target)
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return f.Close()
}

// Migrate applies every pending embedded migration to the database behind
// pool. It is a no-op when the schema is current.
func Migrate(pool *pgxpool.Pool) error {
	m, closeFn, err := newMigrator(pool)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying audit migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func MigrationVersion(pool *pgxpool.Pool) (version uint, dirty bool, err error) {
	m, closeFn, err := newMigrator(pool)
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("reading audit migration version: %w", err)
	}
	return version, dirty, nil
}

func newMigrator(pool *pgxpool.Pool) (*migrate.Migrate, func(), error) {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{MigrationsTable: "audit_schema_migrations"})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migration driver: %w", err)
	}

	source, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, func() { m.Close() }, nil
}
