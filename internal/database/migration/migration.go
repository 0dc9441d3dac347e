package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Step is one idempotent DDL statement.
type Step struct {
	Name string
	SQL  string
}

// CreateTable returns the step creating table with ddl.
func CreateTable(table, ddl string) Step {
	return Step{Name: "create_table_" + table, SQL: ddl}
}

// EnsureMigrated runs steps in order, stopping at the first failure. Every
// step must be safe to re-run.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *slog.Logger, target string, steps []Step) error {
	start := time.Now()
	log = log.With("component", "database", "db_host", target)

	log.Info("migration starting", "event", "db_migration_start", "status", "in_progress", "steps", len(steps))

	for _, step := range steps {
		stepStart := time.Now()
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			log.Error("migration failed",
				"event", "db_migration_failed",
				"status", "error",
				"migration_step", step.Name,
				"error_message", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
				"step_duration_ms", time.Since(stepStart).Milliseconds(),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		log.Info("migration step applied",
			"event", "db_migration_step",
			"status", "success",
			"migration_step", step.Name,
			"step_duration_ms", time.Since(stepStart).Milliseconds(),
		)
	}

	log.Info("migration finished",
		"event", "db_migration_success",
		"status", "success",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
