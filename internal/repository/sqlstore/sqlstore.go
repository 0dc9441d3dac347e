// Package sqlstore is the relational repository adapter. Each entity is one
// row keyed by id, with the typed record kept as a JSON document that filters
// and sort keys are extracted from.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
	"resourceapi/internal/schema"
)

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store implements repository.Repository over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	schema  *schema.Schema
	table   string
}

var _ repository.Repository = (*Store)(nil)

// New returns a store for entities of s kept in table.
func New(db *sql.DB, d Dialect, s *schema.Schema, table string) (*Store, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("sqlstore: invalid table name %q", table)
	}
	for _, f := range s.Fields() {
		if !identifier.MatchString(f.Name) {
			return nil, fmt.Errorf("sqlstore: field %q cannot be addressed in SQL", f.Name)
		}
	}
	return &Store{db: db, dialect: d, schema: s, table: table}, nil
}

// Table returns the table name.
func (s *Store) Table() string { return s.table }

// DDL returns the statement that creates the backing table.
func (s *Store) DDL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
	id TEXT PRIMARY KEY,
	doc %s NOT NULL
)`, s.table, s.dialect.docType)
}

func (s *Store) fail(op string, err error) error {
	err = fmt.Errorf("%s %s: %w", s.dialect, op, err)
	if retryable(s.dialect, err) {
		return outcome.Retryable(err)
	}
	return outcome.Fatal(err)
}

// encode renders the stored document. It is bound as text so both JSONB
// and SQLite's JSON functions read it.
func (s *Store) encode(e model.Entity) (string, error) {
	doc := make(map[string]any, len(e.Attributes)+1)
	doc[s.schema.IDField()] = s.schema.IDValue(e.ID)
	for k, v := range e.Attributes {
		doc[k] = param(v)
	}
	raw, err := json.Marshal(doc)
	return string(raw), err
}

func (s *Store) decode(raw []byte) (model.Entity, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return model.Entity{}, outcome.Fatal(fmt.Errorf("decode stored document: %w", err))
	}
	e, err := s.schema.Decode(doc)
	if err != nil {
		return model.Entity{}, outcome.Fatal(fmt.Errorf("stored document does not match schema: %w", err))
	}
	return e, nil
}

func param(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(timeLayout)
	}
	return v
}

func (s *Store) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %q (id, doc) VALUES (%s, %s)", s.table, s.dialect.bind(1), s.dialect.bind(2))
}

func (s *Store) updateSQL() string {
	return fmt.Sprintf("UPDATE %q SET doc = %s WHERE id = %s", s.table, s.dialect.bind(1), s.dialect.bind(2))
}

func (s *Store) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	doc, err := s.encode(e)
	if err != nil {
		return model.Entity{}, outcome.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx, s.insertSQL(), string(e.ID), doc); err != nil {
		if s.dialect.unique(err) {
			return model.Entity{}, outcome.Conflict(string(e.ID))
		}
		return model.Entity{}, s.fail("insert", err)
	}
	return e.Clone(), nil
}

func (s *Store) CreateMany(ctx context.Context, es []model.Entity) (out []model.Entity, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.insertSQL())
	if err != nil {
		return nil, s.fail("prepare", err)
	}
	defer stmt.Close()

	for _, e := range es {
		doc, err := s.encode(e)
		if err != nil {
			return nil, outcome.Fatal(err)
		}
		if _, err := stmt.ExecContext(ctx, string(e.ID), doc); err != nil {
			if s.dialect.unique(err) {
				return nil, outcome.Conflict(string(e.ID))
			}
			return nil, s.fail("insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if s.dialect.unique(err) {
			return nil, outcome.Conflict(string(es[0].ID))
		}
		return nil, s.fail("commit", err)
	}
	return model.CloneAll(es), nil
}

func (s *Store) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	q := fmt.Sprintf("SELECT doc FROM %q WHERE id = %s", s.table, s.dialect.bind(1))
	var raw []byte
	if err := s.db.QueryRowContext(ctx, q, string(id)).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Entity{}, outcome.NotFound(string(id))
		}
		return model.Entity{}, s.fail("select", err)
	}
	return s.decode(raw)
}

func (s *Store) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	doc, err := s.encode(e)
	if err != nil {
		return model.Entity{}, outcome.Fatal(err)
	}
	res, err := s.db.ExecContext(ctx, s.updateSQL(), doc, string(e.ID))
	if err != nil {
		return model.Entity{}, s.fail("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Entity{}, s.fail("update", err)
	}
	if n == 0 {
		return model.Entity{}, outcome.NotFound(string(e.ID))
	}
	return e.Clone(), nil
}

// UpdateMany replaces every row in one transaction; a missing id rolls the
// whole batch back.
func (s *Store) UpdateMany(ctx context.Context, es []model.Entity) (out []model.Entity, err error) {
	if err := repository.UniqueIDs(es); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.updateSQL())
	if err != nil {
		return nil, s.fail("prepare", err)
	}
	defer stmt.Close()

	for _, e := range es {
		doc, err := s.encode(e)
		if err != nil {
			return nil, outcome.Fatal(err)
		}
		res, err := stmt.ExecContext(ctx, doc, string(e.ID))
		if err != nil {
			return nil, s.fail("update", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, s.fail("update", err)
		}
		if n == 0 {
			return nil, outcome.NotFound(string(e.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, s.fail("commit", err)
	}
	return model.CloneAll(es), nil
}

func (s *Store) Delete(ctx context.Context, id model.ID) error {
	q := fmt.Sprintf("DELETE FROM %q WHERE id = %s", s.table, s.dialect.bind(1))
	res, err := s.db.ExecContext(ctx, q, string(id))
	if err != nil {
		return s.fail("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail("delete", err)
	}
	if n == 0 {
		return outcome.NotFound(string(id))
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id model.ID) (bool, error) {
	q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %q WHERE id = %s)", s.table, s.dialect.bind(1))
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, string(id)).Scan(&ok); err != nil {
		return false, s.fail("exists", err)
	}
	return ok, nil
}

func (s *Store) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	where, args := s.where(spec)

	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %q%s", s.table, where)
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return query.Page{}, s.fail("count", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT doc FROM %q%s ORDER BY %s", s.table, where, s.orderBy(spec))
	switch {
	case spec.Limit() > 0:
		args = append(args, spec.Limit())
		fmt.Fprintf(&b, " LIMIT %s", s.dialect.bind(len(args)))
	case spec.Offset() > 0 && s.dialect.unbounded != "":
		b.WriteString(" " + s.dialect.unbounded)
	}
	if spec.Offset() > 0 {
		args = append(args, spec.Offset())
		fmt.Fprintf(&b, " OFFSET %s", s.dialect.bind(len(args)))
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return query.Page{}, s.fail("select", err)
	}
	defer rows.Close()

	items := make([]model.Entity, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return query.Page{}, s.fail("scan", err)
		}
		e, err := s.decode(raw)
		if err != nil {
			return query.Page{}, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return query.Page{}, s.fail("rows", err)
	}
	return query.NewPage(spec, items, total), nil
}

func (s *Store) expr(field string) string {
	f, _ := s.schema.Field(field)
	return s.dialect.extract(field, f.Type)
}

func (s *Store) where(spec query.Spec) (string, []any) {
	filters := spec.Filters()
	if len(filters) == 0 {
		return "", nil
	}

	var args []any
	next := func(v any) string {
		args = append(args, param(v))
		return s.dialect.bind(len(args))
	}

	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		x := s.expr(f.Field)
		switch f.Op {
		case query.In:
			values := f.Value.([]any)
			ps := make([]string, len(values))
			for i, v := range values {
				ps[i] = next(v)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", x, strings.Join(ps, ", ")))
		case query.Contains:
			clauses = append(clauses, s.dialect.textual(x, next(f.Value), false))
		case query.Prefix:
			clauses = append(clauses, s.dialect.textual(x, next(f.Value), true))
		default:
			clauses = append(clauses, fmt.Sprintf("%s %s %s", x, comparison[f.Op], next(f.Value)))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var comparison = map[query.Operator]string{
	query.Eq:  "=",
	query.Ne:  "<>",
	query.Gt:  ">",
	query.Gte: ">=",
	query.Lt:  "<",
	query.Lte: "<=",
}

func (s *Store) orderBy(spec query.Spec) string {
	keys := spec.Sort()
	terms := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		if k.Dir == query.Descending {
			terms = append(terms, s.expr(k.Field)+" DESC NULLS LAST")
		} else {
			terms = append(terms, s.expr(k.Field)+" ASC NULLS FIRST")
		}
	}
	terms = append(terms, s.expr(s.schema.IDField())+" ASC")
	return strings.Join(terms, ", ")
}
