// Package migrate implements the schema migrator from spec.md §4.3: an
// ordered list of (version, name, up_sql) compiled into the binary via
// go:embed. On startup it creates _migrations(version, name, applied_at)
// if absent, then runs every migration newer than MAX(applied) inside its
// own transaction, recording success before moving on. Crashing mid
// migration leaves no partial record because the insert into _migrations
// happens in the same transaction as the migration's SQL.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedSQL embed.FS

// Migration is one compiled-in schema step.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// Load parses every sql/NNNN_name.sql file embedded in the binary into an
// ordered migration list.
func Load() ([]Migration, error) {
	entries, err := fs.ReadDir(embeddedSQL, "sql")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, name, err := parseFilename(e.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(embeddedSQL, "sql/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, UpSQL: string(body)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func parseFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("migration filename %q must be NNNN_name.sql", filename)
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("migration filename %q has non-numeric version: %w", filename, err)
	}
	return version, parts[1], nil
}

// Apply creates _migrations if absent and runs every pending migration in
// its own transaction, recording it on success. Idempotent: running twice
// leaves _migrations unchanged after the first run.
func Apply(db *sql.DB, migrations []Migration) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (
		version     INTEGER PRIMARY KEY,
		name        TEXT NOT NULL,
		applied_at  TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}

	var maxApplied int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM _migrations`)
	if err := row.Scan(&maxApplied); err != nil {
		return fmt.Errorf("read max applied version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= maxApplied {
			continue
		}
		if err := applyOne(db, m); err != nil {
			return fmt.Errorf("migration %d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func applyOne(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.UpSQL); err != nil {
		return fmt.Errorf("run up_sql: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}
