package storage

import (
	"cmp"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrMigrationChanged is returned when a migration already applied to the
// database no longer matches the file of the same version.
var ErrMigrationChanged = errors.New("applied migration changed")

// migration is one numbered schema change, "<version>_<name>.sql".
type migration struct {
	version  int
	name     string
	body     string
	checksum string
}

// appliedMigration is a row of schema_migrations.
type appliedMigration struct {
	Version  int    `db:"version"`
	Name     string `db:"name"`
	Checksum string `db:"checksum"`
}

// loadMigrations reads the .sql files of dir in version order. Every file
// must start with a unique numeric version.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var out []migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, name, _ := strings.Cut(strings.TrimSuffix(entry.Name(), ".sql"), "_")
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: file name must start with a version number", entry.Name())
		}
		if other, ok := seen[version]; ok {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, entry.Name(), version)
		}
		seen[version] = entry.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			version:  version,
			name:     name,
			body:     string(body),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

// runMigrations brings the schema up to date with the migrations in fsys.
// Each pending migration runs in its own transaction together with its
// schema_migrations row. Applied migrations are checked against their
// recorded checksum first, and nothing runs if one was edited.
func runMigrations(ctx context.Context, db *sqlx.DB, fsys fs.FS, logger *slog.Logger) error {
	migrations, err := loadMigrations(fsys, "migrations")
	if err != nil {
		return err
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		prev, ok := applied[m.version]
		if ok && prev.Checksum != m.checksum {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, ErrMigrationChanged)
		}
	}

	for _, m := range migrations {
		if _, ok := applied[m.version]; ok {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return err
		}
		logger.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sqlx.DB, m migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.body); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
		m.version, m.name, m.checksum); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sqlx.DB) (map[int]appliedMigration, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	var rows []appliedMigration
	if err := db.SelectContext(ctx, &rows, "SELECT version, name, checksum FROM schema_migrations"); err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	applied := make(map[int]appliedMigration, len(rows))
	for _, r := range rows {
		applied[r.Version] = r
	}
	return applied, nil
}
