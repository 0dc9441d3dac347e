package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"resourceapi/internal/schema"
)

// Dialect renders the SQL that differs between engines and classifies
// driver errors.
type Dialect struct {
	name    string
	docType string
	bind    func(n int) string
	extract func(field string, t schema.Type) string
	textual func(expr, param string, prefix bool) string
	// unbounded is the LIMIT clause used when only an offset is set.
	unbounded string
	unique    func(err error) bool
	transient func(err error) bool
}

func (d Dialect) String() string { return d.name }

// Postgres stores documents as JSONB and compares strings bytewise.
var Postgres = Dialect{
	name:    "postgres",
	docType: "JSONB",
	bind:    func(n int) string { return "$" + strconv.Itoa(n) },
	extract: func(field string, t schema.Type) string {
		raw := fmt.Sprintf("(doc->>'%s')", field)
		switch t {
		case schema.Int:
			return raw + "::bigint"
		case schema.Float:
			return raw + "::double precision"
		case schema.Bool:
			return raw + "::boolean"
		default:
			return raw + ` COLLATE "C"`
		}
	},
	textual: func(expr, param string, prefix bool) string {
		if prefix {
			return fmt.Sprintf("strpos(%s, %s::text) = 1", expr, param)
		}
		return fmt.Sprintf("strpos(%s, %s::text) > 0", expr, param)
	},
	unique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
	transient: func(err error) bool {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "53300", pgErr.Code == "57P01":
				return true
			case strings.HasPrefix(pgErr.Code, "08"):
				return true
			}
			return false
		}
		return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
	},
}

// SQLite stores documents as JSON text and relies on the BINARY collation.
var SQLite = Dialect{
	name:    "sqlite",
	docType: "TEXT",
	bind:    func(int) string { return "?" },
	extract: func(field string, _ schema.Type) string {
		return fmt.Sprintf("json_extract(doc, '$.%s')", field)
	},
	textual: func(expr, param string, prefix bool) string {
		if prefix {
			return fmt.Sprintf("instr(%s, %s) = 1", expr, param)
		}
		return fmt.Sprintf("instr(%s, %s) > 0", expr, param)
	},
	unbounded: "LIMIT -1",
	unique: func(err error) bool {
		var sqlErr *sqlite.Error
		if !errors.As(err, &sqlErr) {
			return false
		}
		code := sqlErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	},
	transient: func(err error) bool {
		var sqlErr *sqlite.Error
		if !errors.As(err, &sqlErr) {
			return false
		}
		primary := sqlErr.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	},
}

// retryable covers failures common to every driver.
func retryable(d Dialect, err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return true
	case errors.As(err, &netErr):
		return true
	}
	return d.transient(err)
}
