package migration

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureMigrated(t *testing.T) {
	steps := []Step{
		CreateTable("items", `CREATE TABLE IF NOT EXISTS "items" (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`),
		{Name: "create_index_items_doc", SQL: `CREATE INDEX IF NOT EXISTS idx_items_doc ON "items" USING GIN (doc)`},
	}

	t.Run("applies every step", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		var buf bytes.Buffer
		log := slog.New(slog.NewJSONHandler(&buf, nil))

		for _, s := range steps {
			mock.ExpectExec(regexp.QuoteMeta(s.SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
		}

		require.NoError(t, EnsureMigrated(context.Background(), db, log, "db:5432", steps))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Contains(t, buf.String(), `"migration_step":"create_table_items"`)
		assert.Contains(t, buf.String(), `"event":"db_migration_success"`)
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		var buf bytes.Buffer
		log := slog.New(slog.NewJSONHandler(&buf, nil))

		mock.ExpectExec(regexp.QuoteMeta(steps[0].SQL)).WillReturnError(errors.New("permission denied"))

		err = EnsureMigrated(context.Background(), db, log, "db:5432", steps)
		assert.EqualError(t, err, "migration step create_table_items failed: permission denied")
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Contains(t, buf.String(), `"event":"db_migration_failed"`)
		assert.Contains(t, buf.String(), `"level":"ERROR"`)
	})
}
