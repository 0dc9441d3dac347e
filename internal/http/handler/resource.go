package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
	"resourceapi/internal/schema"
)

// Resource is an immutable descriptor binding a name, a schema and a
// repository. Register turns it into routes; handlers keep no entity state.
type Resource struct {
	name         Name
	schema       *schema.Schema
	repo         repository.Repository
	defaultLimit int
	maxLimit     int
	errs         errorMapper
}

// ResourceOption configures NewResource.
type ResourceOption func(*Resource)

// WithPaging sets the page size used when a request has no limit and the
// largest limit a request may ask for. Zero disables either bound.
func WithPaging(defaultLimit, maxLimit int) ResourceOption {
	return func(r *Resource) {
		r.defaultLimit = defaultLimit
		r.maxLimit = maxLimit
	}
}

// WithLogger sets the logger for adapter failures.
func WithLogger(log *slog.Logger) ResourceOption {
	return func(r *Resource) { r.errs.log = log }
}

// NewResource checks its inputs once at startup.
func NewResource(name Name, s *schema.Schema, repo repository.Repository, opts ...ResourceOption) (*Resource, error) {
	switch {
	case name.Singular == "" || name.Plural == "":
		return nil, errors.New("resource: name requires singular and plural forms")
	case s == nil:
		return nil, fmt.Errorf("resource %s: nil schema", name.Plural)
	case repo == nil:
		return nil, fmt.Errorf("resource %s: nil repository", name.Plural)
	}
	if url.PathEscape(name.Plural) != name.Plural {
		return nil, fmt.Errorf("resource %s: plural must be a plain path segment", name.Plural)
	}

	r := &Resource{
		name:   name,
		schema: s,
		repo:   repo,
		errs:   errorMapper{name: name, schema: s, log: slog.Default()},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxLimit > 0 && r.defaultLimit > r.maxLimit {
		return nil, fmt.Errorf("resource %s: default limit %d exceeds max limit %d", name.Plural, r.defaultLimit, r.maxLimit)
	}
	return r, nil
}

// Name returns the resource name.
func (r *Resource) Name() Name { return r.name }

// Schema returns the resource schema.
func (r *Resource) Schema() *schema.Schema { return r.schema }

// Path is the collection path, e.g. "/items".
func (r *Resource) Path() string { return "/" + r.name.Plural }

// Register mounts the collection and item routes on router.
func (r *Resource) Register(router fiber.Router) {
	g := router.Group(r.Path())
	g.Post("/", r.create)
	g.Post("/batch", r.createMany)
	g.Put("/batch", r.replaceMany)
	g.Patch("/batch", r.patchMany)
	g.Get("/", r.list)
	g.Get("/:id", r.read)
	g.Put("/:id", r.update)
	g.Patch("/:id", r.patch)
	g.Delete("/:id", r.delete)
}

type pageResponse struct {
	Items      []map[string]any `json:"items"`
	Total      int              `json:"total"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type batchResponse struct {
	Items []map[string]any `json:"items"`
}

// body decodes the JSON request body keeping numbers exact.
func body(c *fiber.Ctx) (any, error) {
	raw := c.Body()
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, outcome.Invalid("body", "must not be empty")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, outcome.Invalid("body", "must be valid JSON")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, outcome.Invalid("body", "must hold a single JSON value")
	}
	return v, nil
}

func (r *Resource) object(c *fiber.Ctx) (model.Entity, error) {
	obj, err := rawObject(c)
	if err != nil {
		return model.Entity{}, err
	}
	return r.schema.Decode(obj)
}

func rawObject(c *fiber.Ctx) (map[string]any, error) {
	v, err := body(c)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, outcome.Invalid("body", "must be a JSON object")
	}
	return obj, nil
}

func rawArray(c *fiber.Ctx) ([]any, error) {
	v, err := body(c)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, outcome.Invalid("body", "must be a JSON array")
	}
	return items, nil
}

func (r *Resource) sendMany(c *fiber.Ctx, status int, es []model.Entity) error {
	wire, err := r.schema.EncodeMany(es)
	if err != nil {
		return r.errs.write(c, err)
	}
	return c.Status(status).JSON(batchResponse{Items: wire})
}

func (r *Resource) pathID(c *fiber.Ctx) (model.ID, error) {
	raw, err := url.PathUnescape(c.Params("id"))
	if err != nil {
		return "", outcome.Invalid(r.schema.IDField(), "is not a valid path segment")
	}
	return r.schema.ParseID(raw)
}

func (r *Resource) send(c *fiber.Ctx, status int, e model.Entity) error {
	wire, err := r.schema.Encode(e)
	if err != nil {
		return r.errs.write(c, err)
	}
	return c.Status(status).JSON(wire)
}

func (r *Resource) create(c *fiber.Ctx) error {
	e, err := r.object(c)
	if err != nil {
		return r.errs.write(c, err)
	}
	out, err := r.repo.Create(c.UserContext(), e)
	if err != nil {
		return r.errs.write(c, err)
	}
	return r.send(c, fiber.StatusCreated, out)
}

func (r *Resource) createMany(c *fiber.Ctx) error {
	items, err := rawArray(c)
	if err != nil {
		return r.errs.write(c, err)
	}
	es, err := r.schema.DecodeMany(items)
	if err != nil {
		return r.errs.write(c, err)
	}
	out, err := r.repo.CreateMany(c.UserContext(), es)
	if err != nil {
		return r.errs.write(c, err)
	}
	return r.sendMany(c, fiber.StatusCreated, out)
}

// replaceMany fully replaces every entity of the batch or none.
func (r *Resource) replaceMany(c *fiber.Ctx) error {
	items, err := rawArray(c)
	if err != nil {
		return r.errs.write(c, err)
	}
	es, err := r.schema.DecodeMany(items)
	if err != nil {
		return r.errs.write(c, err)
	}
	out, err := r.repo.UpdateMany(c.UserContext(), es)
	if err != nil {
		return r.errs.write(c, err)
	}
	return r.sendMany(c, fiber.StatusOK, out)
}

// patchMany merges each change set into the stored entity named by its id
// and stores the whole batch or none of it.
func (r *Resource) patchMany(c *fiber.Ctx) error {
	items, err := rawArray(c)
	if err != nil {
		return r.errs.write(c, err)
	}

	var errs outcome.Collector
	ids := make([]model.ID, len(items))
	changes := make([]map[string]any, len(items))
	for i, item := range items {
		prefix := "[" + strconv.Itoa(i) + "]"
		obj, ok := item.(map[string]any)
		if !ok {
			errs.Add(prefix, "must be an object")
			continue
		}
		raw, ok := obj[r.schema.IDField()]
		if !ok || raw == nil {
			errs.Add(prefix+"."+r.schema.IDField(), "is required")
			continue
		}
		id, err := r.schema.ParseID(fmt.Sprint(raw))
		if err != nil {
			errs.Merge(prefix, err)
			continue
		}
		ids[i], changes[i] = id, obj
	}
	if err := errs.Err(); err != nil {
		return r.errs.write(c, err)
	}

	ctx := c.UserContext()
	merged := make([]model.Entity, len(items))
	for i, id := range ids {
		stored, err := r.repo.Read(ctx, id)
		if err != nil {
			return r.errs.write(c, err)
		}
		e, err := r.schema.Merge(stored, changes[i])
		if outcome.KindOf(err) == outcome.KindValidation {
			errs.Merge("["+strconv.Itoa(i)+"]", err)
			continue
		}
		if err != nil {
			return r.errs.write(c, err)
		}
		merged[i] = e
	}
	if err := errs.Err(); err != nil {
		return r.errs.write(c, err)
	}

	out, err := r.repo.UpdateMany(ctx, merged)
	if err != nil {
		return r.errs.write(c, err)
	}
	return r.sendMany(c, fiber.StatusOK, out)
}

func (r *Resource) read(c *fiber.Ctx) error {
	id, err := r.pathID(c)
	if err != nil {
		return r.errs.write(c, err)
	}
	e, err := r.repo.Read(c.UserContext(), id)
	if err != nil {
		return r.errs.write(c, err)
	}
	return r.send(c, fiber.StatusOK, e)
}

func (r *Resource) list(c *fiber.Ctx) error {
	raw := c.Context().QueryArgs().PeekMulti("filter")
	filters := make([]string, len(raw))
	for i, f := range raw {
		filters[i] = string(f)
	}

	spec, err := query.Parse(r.schema, query.Params{
		Filters:      filters,
		Sort:         c.Query("sort"),
		Limit:        c.Query("limit"),
		Offset:       c.Query("offset"),
		Cursor:       c.Query("cursor"),
		DefaultLimit: r.defaultLimit,
		MaxLimit:     r.maxLimit,
	})
	if err != nil {
		return r.errs.write(c, err)
	}

	page, err := r.repo.Query(c.UserContext(), spec)
	if err != nil {
		return r.errs.write(c, err)
	}
	wire, err := r.schema.EncodeMany(page.Items)
	if err != nil {
		return r.errs.write(c, err)
	}
	return c.JSON(pageResponse{Items: wire, Total: page.Total, NextCursor: page.NextCursor})
}

func (r *Resource) update(c *fiber.Ctx) error {
	var errs outcome.Collector
	id, err := r.pathID(c)
	if err != nil {
		errs.Merge("", err)
	}
	e, err := r.object(c)
	if err != nil {
		errs.Merge("", err)
	}
	if errs.Len() == 0 && e.ID != "" && e.ID != id {
		errs.Add(r.schema.IDField(), "does not match the path id")
	}
	if err := errs.Err(); err != nil {
		return r.errs.write(c, err)
	}

	e.ID = id
	out, err := r.repo.Update(c.UserContext(), e)
	if err != nil {
		return r.errs.write(c, err)
	}
	return r.send(c, fiber.StatusOK, out)
}

// patch merges the fields of the body into the stored entity. Fields left
// out keep their stored values; null resets a field to its default.
func (r *Resource) patch(c *fiber.Ctx) error {
	var errs outcome.Collector
	id, err := r.pathID(c)
	if err != nil {
		errs.Merge("", err)
	}
	changes, err := rawObject(c)
	if err != nil {
		errs.Merge("", err)
	}
	if err := errs.Err(); err != nil {
		return r.errs.write(c, err)
	}

	ctx := c.UserContext()
	stored, err := r.repo.Read(ctx, id)
	if err != nil {
		return r.errs.write(c, err)
	}
	e, err := r.schema.Merge(stored, changes)
	if err != nil {
		return r.errs.write(c, err)
	}
	out, err := r.repo.Update(ctx, e)
	if err != nil {
		return r.errs.write(c, err)
	}
	return r.send(c, fiber.StatusOK, out)
}

func (r *Resource) delete(c *fiber.Ctx) error {
	id, err := r.pathID(c)
	if err != nil {
		return r.errs.write(c, err)
	}
	if err := r.repo.Delete(c.UserContext(), id); err != nil {
		return r.errs.write(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
