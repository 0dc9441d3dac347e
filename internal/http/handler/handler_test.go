package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"resourceapi/internal/http/middleware"
	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
	"resourceapi/internal/repository/memory"
	"resourceapi/internal/repository/mocks"
	"resourceapi/internal/schema"
)

var discard = slog.New(slog.NewJSONHandler(io.Discard, nil))

func itemSchema() *schema.Schema {
	return schema.MustNew([]schema.Field{
		{Name: "id", Type: schema.Int},
		{Name: "name", Type: schema.String, Required: true, Rules: "min=1,max=32"},
		{Name: "age", Type: schema.Int, Default: 0, Rules: "gte=0"},
	})
}

func newApp(t *testing.T, repo repository.Repository, opts ...ResourceOption) *fiber.App {
	t.Helper()
	res, err := NewResource(NewName("item"), itemSchema(), repo, append([]ResourceOption{WithLogger(discard)}, opts...)...)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(discard)})
	app.Use(middleware.RequestID())
	res.Register(app)
	return app
}

func do(t *testing.T, app *fiber.App, method, target, body string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db.PingContext))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, CodeUnavailable, body.Error)
	})

	t.Run("no backend to ping", func(t *testing.T) {
		app := fiber.New()
		app.Get("/health", HealthCheck(nil))

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestItemsScenario(t *testing.T) {
	repo, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)
	app := newApp(t, repo)

	resp, body := do(t, app, http.MethodPost, "/items", `{"id":1,"name":"a"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "a", "age": float64(0)}, body)

	resp, body = do(t, app, http.MethodPost, "/items", `{"id":1,"name":"b"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["error"])
	assert.Equal(t, float64(1), body["id"])

	resp, body = do(t, app, http.MethodGet, "/items?filter=name:eq:a", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, []any{map[string]any{"id": float64(1), "name": "a", "age": float64(0)}}, body["items"])

	resp, body = do(t, app, http.MethodPut, "/items/1", `{"id":1,"name":"a2","age":5}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "a2", "age": float64(5)}, body)

	resp, _ = do(t, app, http.MethodDelete, "/items/1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, app, http.MethodGet, "/items/1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "An item<Item> with id<1> does not exist.", body["message"])
}

func TestCreate(t *testing.T) {
	t.Run("validation happens before the repository", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo)

		resp, body := do(t, app, http.MethodPost, "/items", `{"id":"x","name":"","age":-1,"nick":"z"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "req-1", body["request_id"])
		assert.Equal(t, "validation_failed", body["error"])
		assert.Equal(t, []any{
			map[string]any{"field": "id", "message": "must be an integer"},
			map[string]any{"field": "name", "message": "must satisfy min=1"},
			map[string]any{"field": "age", "message": "must satisfy gte=0"},
			map[string]any{"field": "nick", "message": "unknown field"},
		}, body["details"])
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("malformed bodies", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo)

		for body, msg := range map[string]string{
			``:                   "must not be empty",
			`{"id":`:             "must be valid JSON",
			`[{"id":1}]`:         "must be a JSON object",
			`{"name":"a"} {"x"}`: "must hold a single JSON value",
		} {
			resp, out := do(t, app, http.MethodPost, "/items", body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)
			assert.Equal(t, []any{map[string]any{"field": "body", "message": msg}}, out["details"], body)
		}
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("stored entity is returned", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo)
		in := model.New("", map[string]any{"name": "a", "age": int64(0)})
		repo.On("Create", mock.Anything, in).
			Return(model.New("7", map[string]any{"name": "a", "age": int64(0)}), nil).Once()

		resp, body := do(t, app, http.MethodPost, "/items", `{"name":"a"}`)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, float64(7), body["id"])
		repo.AssertExpectations(t)
	})

	t.Run("adapter failures hide their cause", func(t *testing.T) {
		tests := []struct {
			err    error
			status int
			code   string
		}{
			{outcome.Retryable(errors.New("dial tcp 10.0.0.1:5432: i/o timeout")), http.StatusServiceUnavailable, "unavailable"},
			{outcome.Fatal(errors.New(`relation "items" does not exist`)), http.StatusInternalServerError, "internal"},
			{errors.New("unclassified"), http.StatusInternalServerError, "internal"},
		}
		for _, tt := range tests {
			repo := new(mocks.MockRepository)
			app := newApp(t, repo)
			repo.On("Create", mock.Anything, mock.Anything).Return(model.Entity{}, tt.err).Once()

			resp, body := do(t, app, http.MethodPost, "/items", `{"id":1,"name":"a"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"])
			assert.NotContains(t, body["message"], "10.0.0.1")
			assert.NotContains(t, body["message"], "relation")
		}
	})
}

func TestCreateMany(t *testing.T) {
	t.Run("requires an array", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo)

		resp, body := do(t, app, http.MethodPost, "/items/batch", `{"id":1,"name":"a"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, []any{map[string]any{"field": "body", "message": "must be a JSON array"}}, body["details"])
	})

	t.Run("reports every invalid item by index", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo)

		resp, body := do(t, app, http.MethodPost, "/items/batch", `[{"id":1,"name":"a"},{"id":2},3]`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, []any{
			map[string]any{"field": "[1].name", "message": "is required"},
			map[string]any{"field": "[2]", "message": "must be an object"},
		}, body["details"])
		repo.AssertNotCalled(t, "CreateMany", mock.Anything, mock.Anything)
	})

	t.Run("all or nothing", func(t *testing.T) {
		repo, err := repository.Bind(itemSchema(), memory.New())
		require.NoError(t, err)
		app := newApp(t, repo)

		resp, _ := do(t, app, http.MethodPost, "/items", `{"id":2,"name":"b"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp, body := do(t, app, http.MethodPost, "/items/batch", `[{"id":1,"name":"a"},{"id":2,"name":"b"}]`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, float64(2), body["id"])

		resp, _ = do(t, app, http.MethodGet, "/items/1", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, body = do(t, app, http.MethodPost, "/items/batch", `[{"id":1,"name":"a"},{"id":3,"name":"c","age":"4"}]`)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, []any{
			map[string]any{"id": float64(1), "name": "a", "age": float64(0)},
			map[string]any{"id": float64(3), "name": "c", "age": float64(4)},
		}, body["items"])
	})
}

func TestRead(t *testing.T) {
	repo := new(mocks.MockRepository)
	app := newApp(t, repo)

	t.Run("invalid id", func(t *testing.T) {
		resp, body := do(t, app, http.MethodGet, "/items/abc", "")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, []any{map[string]any{"field": "id", "message": "must be an integer"}}, body["details"])
		repo.AssertNotCalled(t, "Read", mock.Anything, mock.Anything)
	})

	t.Run("canonical id reaches the repository", func(t *testing.T) {
		repo.On("Read", mock.Anything, model.ID("5")).
			Return(model.New("5", map[string]any{"name": "e", "age": int64(2)}), nil).Once()

		resp, body := do(t, app, http.MethodGet, "/items/05", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, map[string]any{"id": float64(5), "name": "e", "age": float64(2)}, body)
	})

	t.Run("encoding failure is internal", func(t *testing.T) {
		repo.On("Read", mock.Anything, model.ID("6")).
			Return(model.New("6", map[string]any{"name": "f", "nickname": "x"}), nil).Once()

		resp, body := do(t, app, http.MethodGet, "/items/6", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "internal", body["error"])
	})

	repo.AssertExpectations(t)
}

func TestList(t *testing.T) {
	t.Run("rejects bad query parameters", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo, WithPaging(2, 10))

		resp, body := do(t, app, http.MethodGet, "/items?filter=height:gt:3&sort=name:sideways&limit=11", "")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, []any{
			map[string]any{"field": "filter.height", "message": "unknown field"},
			map[string]any{"field": "sort", "message": `"name:sideways" has unknown direction "sideways"`},
			map[string]any{"field": "limit", "message": "must not exceed 10"},
		}, body["details"])
		repo.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
	})

	t.Run("applies the default limit and returns a cursor", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo, WithPaging(2, 10))
		repo.On("Query", mock.Anything, mock.MatchedBy(func(spec query.Spec) bool {
			return spec.Limit() == 2 && len(spec.Filters()) == 2
		})).Return(query.Page{
			Items:      []model.Entity{model.New("1", map[string]any{"name": "a", "age": int64(1)})},
			Total:      3,
			HasMore:    true,
			NextCursor: "next",
		}, nil).Once()

		resp, body := do(t, app, http.MethodGet, "/items?filter=age:gte:1&filter=name:in:a,b", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(3), body["total"])
		assert.Equal(t, "next", body["next_cursor"])
		repo.AssertExpectations(t)
	})

	t.Run("cursor walks the collection", func(t *testing.T) {
		repo, err := repository.Bind(itemSchema(), memory.New())
		require.NoError(t, err)
		app := newApp(t, repo, WithPaging(2, 10))

		resp, _ := do(t, app, http.MethodPost, "/items/batch",
			`[{"id":1,"name":"e"},{"id":2,"name":"d"},{"id":3,"name":"c"},{"id":4,"name":"b"},{"id":5,"name":"a"}]`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var names []any
		target := "/items?sort=name"
		for i := 0; i < 5; i++ {
			resp, body := do(t, app, http.MethodGet, target, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			for _, it := range body["items"].([]any) {
				names = append(names, it.(map[string]any)["name"])
			}
			next, ok := body["next_cursor"].(string)
			if !ok {
				break
			}
			target = "/items?sort=name&cursor=" + next
		}
		assert.Equal(t, []any{"a", "b", "c", "d", "e"}, names)

		resp, body := do(t, app, http.MethodGet, "/items?sort=-name&cursor=bogus", "")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "validation_failed", body["error"])
	})
}

func TestUpdate(t *testing.T) {
	t.Run("body id must match the path", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo)

		resp, body := do(t, app, http.MethodPut, "/items/1", `{"id":2,"name":"a"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, []any{map[string]any{"field": "id", "message": "does not match the path id"}}, body["details"])
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("path and body errors are reported together", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo)

		resp, body := do(t, app, http.MethodPut, "/items/x", `{}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Len(t, body["details"], 2)
	})

	t.Run("path id fills a missing body id", func(t *testing.T) {
		repo := new(mocks.MockRepository)
		app := newApp(t, repo)
		want := model.New("9", map[string]any{"name": "n", "age": int64(0)})
		repo.On("Update", mock.Anything, want).Return(model.Entity{}, outcome.NotFound("9")).Once()

		resp, body := do(t, app, http.MethodPut, "/items/9", `{"name":"n"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, float64(9), body["id"])
		repo.AssertExpectations(t)
	})
}

func TestDelete(t *testing.T) {
	repo := new(mocks.MockRepository)
	app := newApp(t, repo)
	repo.On("Delete", mock.Anything, model.ID("3")).Return(nil).Once()
	repo.On("Delete", mock.Anything, model.ID("3")).Return(outcome.NotFound("3")).Once()

	resp, _ := do(t, app, http.MethodDelete, "/items/3", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := do(t, app, http.MethodDelete, "/items/3", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "An item<Item> with id<3> does not exist.", body["message"])
	repo.AssertExpectations(t)
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(discard)})
	app.Use(middleware.RequestID())
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("secret detail")
	})

	resp, body := do(t, app, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, map[string]any{"request_id": "req-1", "error": "not_found", "message": "route not found"}, body)

	resp, body = do(t, app, http.MethodGet, "/teapot", "")
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "short and stout", body["message"])

	resp, body = do(t, app, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", body["message"])
}

func TestNewResource(t *testing.T) {
	repo := new(mocks.MockRepository)

	_, err := NewResource(Name{Singular: "item"}, itemSchema(), repo)
	assert.Error(t, err)
	_, err = NewResource(NewName("item"), nil, repo)
	assert.Error(t, err)
	_, err = NewResource(NewName("item"), itemSchema(), nil)
	assert.Error(t, err)
	_, err = NewResource(Name{Singular: "item", Plural: "my items"}, itemSchema(), repo)
	assert.Error(t, err)
	_, err = NewResource(NewName("item"), itemSchema(), repo, WithPaging(20, 10))
	assert.EqualError(t, err, "resource items: default limit 20 exceeds max limit 10")

	res, err := NewResource(NewName("category"), itemSchema(), repo)
	require.NoError(t, err)
	assert.Equal(t, "/categories", res.Path())
}

func TestAsPlural(t *testing.T) {
	tests := map[string]string{
		"gas": "gases", "glass": "glasses", "class": "classes",
		"wolf": "wolves", "life": "lives",
		"box": "boxes", "buzz": "buzzes",
		"baby": "babies", "category": "categories",
		"church": "churches", "branch": "branches", "dish": "dishes",
		"cat": "cats", "unit": "units", "product": "products",
	}
	for singular, plural := range tests {
		assert.Equal(t, plural, AsPlural(singular), singular)
	}
	assert.Equal(t, "Item", NewName("item").Title())
}

func TestRegisterRoutes(t *testing.T) {
	res, err := NewResource(NewName("item"), itemSchema(), new(mocks.MockRepository))
	require.NoError(t, err)
	doc, err := OpenAPI("resourceapi", "1.0", res)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(discard)})
	require.NoError(t, RegisterRoutes(app, Routes{
		Health:    func(context.Context) error { return nil },
		OpenAPI:   doc,
		Resources: []*Resource{res},
	}))

	resp, body := do(t, app, http.MethodGet, "/openapi.json", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3.0.3", body["openapi"])
	assert.Contains(t, body["paths"], "/items/{id}")

	resp, body = do(t, app, http.MethodGet, "/swagger/doc.json", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["paths"], "/items/batch")

	resp, _ = do(t, app, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPatch(t *testing.T) {
	repo, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)
	app := newApp(t, repo)

	resp, _ := do(t, app, http.MethodPost, "/items", `{"id":1,"name":"a","age":5}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, app, http.MethodPatch, "/items/1", `{"name":"b"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "b", "age": float64(5)}, body)

	resp, body = do(t, app, http.MethodPatch, "/items/1", `{"age":null}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["age"])

	resp, body = do(t, app, http.MethodPatch, "/items/1", `{"age":-1,"colour":"red"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Len(t, body["details"], 2)

	resp, body = do(t, app, http.MethodPatch, "/items/1", `{"id":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, CodeValidation, body["error"])

	resp, body = do(t, app, http.MethodPatch, "/items/9", `{"name":"z"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, float64(9), body["id"])

	resp, _ = do(t, app, http.MethodPatch, "/items/1", `[1]`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	got, err := repo.Read(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "b", "age": int64(0)}, got.Attributes)
}

func TestBatchUpdates(t *testing.T) {
	repo, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)
	app := newApp(t, repo)
	ctx := context.Background()

	resp, _ := do(t, app, http.MethodPost, "/items/batch", `[{"id":1,"name":"a"},{"id":2,"name":"b","age":2}]`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	t.Run("replace", func(t *testing.T) {
		resp, body := do(t, app, http.MethodPut, "/items/batch", `[{"id":1,"name":"A","age":10},{"id":2,"name":"B"}]`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["items"], 2)

		got, err := repo.Read(ctx, "2")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "B", "age": int64(0)}, got.Attributes)
	})

	t.Run("replace with a missing id changes nothing", func(t *testing.T) {
		resp, body := do(t, app, http.MethodPut, "/items/batch", `[{"id":1,"name":"x"},{"id":3,"name":"y"}]`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, float64(3), body["id"])

		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "A", got.Attributes["name"])
	})

	t.Run("patch", func(t *testing.T) {
		resp, body := do(t, app, http.MethodPatch, "/items/batch", `[{"id":1,"age":11},{"id":2,"name":"bee"}]`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		items := body["items"].([]any)
		assert.Equal(t, map[string]any{"id": float64(1), "name": "A", "age": float64(11)}, items[0])
		assert.Equal(t, map[string]any{"id": float64(2), "name": "bee", "age": float64(0)}, items[1])
	})

	t.Run("patch validates every item before writing", func(t *testing.T) {
		resp, body := do(t, app, http.MethodPatch, "/items/batch", `[{"id":1,"age":12},{"name":"no id"},{"id":2,"age":-1}]`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, []any{map[string]any{"field": "[1].id", "message": "is required"}}, body["details"])

		resp, body = do(t, app, http.MethodPatch, "/items/batch", `[{"id":1,"age":12},{"id":2,"age":-1}]`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, []any{map[string]any{"field": "[1].age", "message": "must satisfy gte=0"}}, body["details"])

		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, int64(11), got.Attributes["age"])
	})

	t.Run("repeated ids are rejected", func(t *testing.T) {
		resp, _ := do(t, app, http.MethodPatch, "/items/batch", `[{"id":1,"age":1},{"id":1,"age":2}]`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		resp, _ = do(t, app, http.MethodPut, "/items/batch", `[{"id":2,"name":"p"},{"id":2,"name":"q"}]`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("patch of a missing id is not found", func(t *testing.T) {
		resp, body := do(t, app, http.MethodPatch, "/items/batch", `[{"id":1,"age":13},{"id":7,"age":1}]`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, float64(7), body["id"])
	})
}
