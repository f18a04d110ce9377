package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Direction selects which half of a migration pair runs
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func (d Direction) suffix() string {
	return "." + string(d) + ".sql"
}

// Migration is one SQL file to apply or revert
type Migration struct {
	Version string
	Path    string
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply provider schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("dsn", "", "PostgreSQL connection string (POSTGRES_DSN)")
	root.PersistentFlags().String("dir", "migrations", "directory holding *.up.sql and *.down.sql")
	root.PersistentFlags().Int("steps", 0, "number of migrations to run (0 = all)")
	_ = v.BindPFlag("POSTGRES_DSN", root.PersistentFlags().Lookup("dsn"))
	_ = v.BindPFlag("MIGRATIONS_DIR", root.PersistentFlags().Lookup("dir"))
	_ = v.BindPFlag("MIGRATION_STEPS", root.PersistentFlags().Lookup("steps"))

	run := func(dir Direction) *cobra.Command {
		return &cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Run %s migrations", dir),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), cmd, v, dir)
			},
		}
	}
	root.AddCommand(run(Up), run(Down))
	return root
}

func migrate(ctx context.Context, cmd *cobra.Command, v *viper.Viper, dir Direction) error {
	dsn := v.GetString("POSTGRES_DSN")
	if dsn == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	files, err := findMigrations(migrationsDir(v.GetString("MIGRATIONS_DIR")), dir)
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	todo := plan(files, applied, dir, v.GetInt("MIGRATION_STEPS"))
	for _, m := range todo {
		fmt.Fprintf(out, "Running migration: %s\n", filepath.Base(m.Path))
		if err := apply(ctx, pool, m, dir); err != nil {
			return err
		}
	}
	if len(todo) == 0 {
		fmt.Fprintln(out, "No migrations to apply")
	} else {
		fmt.Fprintf(out, "Applied %d migration(s)\n", len(todo))
	}
	return nil
}

// migrationsDir falls back to the directory next to the executable
func migrationsDir(dir string) string {
	if _, err := os.Stat(dir); err == nil || filepath.IsAbs(dir) {
		return dir
	}
	execPath, err := os.Executable()
	if err != nil {
		return dir
	}
	return filepath.Join(filepath.Dir(execPath), dir)
}

func findMigrations(dir string, d Direction) ([]Migration, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+d.suffix()))
	if err != nil {
		return nil, fmt.Errorf("find migration files: %w", err)
	}
	out := make([]Migration, 0, len(files))
	for _, f := range files {
		out = append(out, Migration{Version: strings.TrimSuffix(filepath.Base(f), d.suffix()), Path: f})
	}
	return out, nil
}

// plan orders migrations and keeps the ones still to run: unapplied ones
// going up, applied ones (newest first) going down
func plan(files []Migration, applied map[string]bool, d Direction, steps int) []Migration {
	sorted := append([]Migration(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	if d == Down {
		for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
			sorted[i], sorted[j] = sorted[j], sorted[i]
		}
	}

	var todo []Migration
	for _, m := range sorted {
		if applied[m.Version] != (d == Down) {
			continue
		}
		if steps > 0 && len(todo) >= steps {
			break
		}
		todo = append(todo, m)
	}
	return todo
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("get applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan migration versions: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, m Migration, d Direction) error {
	content, err := os.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.Path, err)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.Path, err)
		}
		var err error
		if d == Up {
			_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version)
		} else {
			_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.Version)
		}
		if err != nil {
			return fmt.Errorf("update migrations table: %w", err)
		}
		return nil
	})
}
