package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

type Options struct {
	// Dialect is "mysql" or "postgres"; it picks placeholder style and DDL.
	Dialect string
	Logger  *zap.Logger
}

// ApplyDir applies every *.sql file in dir in lexical order, skipping files
// already recorded in schema_migrations.
func ApplyDir(ctx context.Context, db *sql.DB, dir string, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, filepath.Join(dir, name))
		}
	}

	sort.Strings(files)

	if err := ensureSchemaMigrations(ctx, db, opts.Dialect); err != nil {
		return err
	}

	for _, path := range files {
		name := filepath.Base(path)

		applied, err := isApplied(ctx, db, opts.Dialect, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		sqlBytes, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		for i, stmt := range SplitStatements(string(sqlBytes)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s statement %d failed: %w", name, i+1, err)
			}
		}

		if err := markApplied(ctx, db, opts.Dialect, name); err != nil {
			return err
		}
		log.Info("migration applied", zap.String("name", name))
	}

	return nil
}

// SplitStatements splits a migration file on semicolons that end a line.
// Lines starting with "--" are dropped.
func SplitStatements(src string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";")
			out = append(out, stmt)
			cur.Reset()
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}

func ensureSchemaMigrations(ctx context.Context, db *sql.DB, dialect string) error {
	ddl := `
CREATE TABLE IF NOT EXISTS schema_migrations (
  name VARCHAR(255) NOT NULL,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (name)
) ENGINE=InnoDB;
`
	if isPostgres(dialect) {
		ddl = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  name TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	}
	_, err := db.ExecContext(ctx, ddl)
	return err
}

func isApplied(ctx context.Context, db *sql.DB, dialect string, name string) (bool, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT name FROM schema_migrations WHERE name = `+placeholder(dialect), name).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func markApplied(ctx context.Context, db *sql.DB, dialect string, name string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (`+placeholder(dialect)+`)`, name)
	return err
}

func isPostgres(dialect string) bool {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql", "pg":
		return true
	}
	return false
}

func placeholder(dialect string) string {
	if isPostgres(dialect) {
		return "$1"
	}
	return "?"
}
