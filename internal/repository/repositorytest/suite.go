// Package repositorytest is the behavioural contract every repository
// adapter must satisfy. Adapter packages call Run from their tests.
package repositorytest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
	"resourceapi/internal/schema"
)

// Factory returns an empty adapter for s. It is called once per subtest.
type Factory func(t *testing.T, s *schema.Schema) repository.Repository

// Schema is the entity type the suite stores.
func Schema() *schema.Schema {
	return schema.MustNew([]schema.Field{
		{Name: "id", Type: schema.Int},
		{Name: "name", Type: schema.String, Required: true},
		{Name: "age", Type: schema.Int, Default: 0},
		{Name: "score", Type: schema.Float},
		{Name: "active", Type: schema.Bool},
		{Name: "joined", Type: schema.Time},
	})
}

func item(id int, name string, age int64) model.Entity {
	return model.New(model.ID(fmt.Sprint(id)), map[string]any{"name": name, "age": age})
}

// Run executes the contract against adapters produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	setup := func(t *testing.T) (*repository.Bound, context.Context) {
		s := Schema()
		repo, err := repository.Bind(s, newRepo(t, s))
		require.NoError(t, err)
		return repo, context.Background()
	}

	t.Run("create then read round trips", func(t *testing.T) {
		repo, ctx := setup(t)
		joined := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)
		in := model.New("1", map[string]any{
			"name": "Alice", "age": int64(30), "score": 9.5, "active": true, "joined": joined,
		})

		created, err := repo.Create(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, in, created)

		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, model.ID("1"), got.ID)
		assert.Equal(t, "Alice", got.Attributes["name"])
		assert.Equal(t, int64(30), got.Attributes["age"])
		assert.Equal(t, 9.5, got.Attributes["score"])
		assert.Equal(t, true, got.Attributes["active"])
		assert.True(t, joined.Equal(got.Attributes["joined"].(time.Time)))
		_, hasExtra := got.Attributes["id"]
		assert.False(t, hasExtra)
	})

	t.Run("defaults apply and unset optionals stay unset", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.Create(ctx, model.New("1", map[string]any{"name": "Alice"}))
		require.NoError(t, err)

		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "Alice", "age": int64(0)}, got.Attributes)
	})

	t.Run("duplicate create conflicts and keeps the original", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.Create(ctx, item(1, "Alice", 30))
		require.NoError(t, err)

		_, err = repo.Create(ctx, item(1, "Mallory", 99))
		require.Error(t, err)
		assert.Equal(t, outcome.KindConflict, outcome.KindOf(err))
		id, _ := outcome.IDOf(err)
		assert.Equal(t, "1", id)

		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.Attributes["name"])
	})

	t.Run("read of a missing id is not found", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.Read(ctx, "42")
		assert.Equal(t, outcome.KindNotFound, outcome.KindOf(err))
	})

	t.Run("create many stores every entity", func(t *testing.T) {
		repo, ctx := setup(t)
		out, err := repo.CreateMany(ctx, []model.Entity{item(1, "a", 1), item(2, "b", 2), item(3, "c", 3)})
		require.NoError(t, err)
		assert.Len(t, out, 3)

		page, err := repo.Query(ctx, query.All(repo.Schema()))
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
	})

	t.Run("create many is all or nothing against stored data", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.Create(ctx, item(2, "existing", 1))
		require.NoError(t, err)

		_, err = repo.CreateMany(ctx, []model.Entity{item(1, "a", 1), item(2, "b", 2), item(3, "c", 3)})
		require.Error(t, err)
		assert.Equal(t, outcome.KindConflict, outcome.KindOf(err))

		for _, id := range []model.ID{"1", "3"} {
			ok, err := repo.Exists(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok, "id %s must not be stored", id)
		}
		got, err := repo.Read(ctx, "2")
		require.NoError(t, err)
		assert.Equal(t, "existing", got.Attributes["name"])
	})

	t.Run("create many rejects duplicates inside the batch", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.CreateMany(ctx, []model.Entity{item(1, "a", 1), item(1, "b", 2)})
		assert.Equal(t, outcome.KindConflict, outcome.KindOf(err))

		ok, err := repo.Exists(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("create many with an invalid entity stores nothing", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.CreateMany(ctx, []model.Entity{item(1, "a", 1), model.New("2", map[string]any{})})
		require.Error(t, err)
		assert.Equal(t, []outcome.FieldError{{Field: "[1].name", Message: "is required"}}, outcome.FieldsOf(err))

		ok, err := repo.Exists(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update replaces the whole entity", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.Create(ctx, model.New("1", map[string]any{"name": "Alice", "score": 1.5}))
		require.NoError(t, err)

		out, err := repo.Update(ctx, item(1, "Alicia", 31))
		require.NoError(t, err)
		assert.Equal(t, "Alicia", out.Attributes["name"])

		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "Alicia", "age": int64(31)}, got.Attributes)
	})

	t.Run("update of a missing id is not found", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.Update(ctx, item(9, "ghost", 1))
		assert.Equal(t, outcome.KindNotFound, outcome.KindOf(err))

		ok, err := repo.Exists(ctx, "9")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update many replaces every entity", func(t *testing.T) {
		repo, ctx := setup(t)
		seed(t, repo)

		out, err := repo.UpdateMany(ctx, []model.Entity{item(1, "ALICE", 31), item(10, "BOB", 21)})
		require.NoError(t, err)
		require.Len(t, out, 2)

		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "ALICE", "age": int64(31)}, got.Attributes)
		got, err = repo.Read(ctx, "10")
		require.NoError(t, err)
		assert.Equal(t, "BOB", got.Attributes["name"])
	})

	t.Run("update many with a missing id changes nothing", func(t *testing.T) {
		repo, ctx := setup(t)
		seed(t, repo)

		_, err := repo.UpdateMany(ctx, []model.Entity{item(1, "changed", 1), item(99, "ghost", 1), item(2, "changed", 1)})
		assert.Equal(t, outcome.KindNotFound, outcome.KindOf(err))
		id, _ := outcome.IDOf(err)
		assert.Equal(t, "99", id)

		for _, id := range []model.ID{"1", "2"} {
			got, err := repo.Read(ctx, id)
			require.NoError(t, err)
			assert.NotEqual(t, "changed", got.Attributes["name"], id)
		}
		ok, err := repo.Exists(ctx, "99")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update many rejects repeated ids", func(t *testing.T) {
		repo, ctx := setup(t)
		seed(t, repo)

		_, err := repo.UpdateMany(ctx, []model.Entity{item(1, "a", 1), item(1, "b", 2)})
		assert.Equal(t, outcome.KindValidation, outcome.KindOf(err))

		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Attributes["name"])
	})

	t.Run("delete twice is not found the second time", func(t *testing.T) {
		repo, ctx := setup(t)
		_, err := repo.Create(ctx, item(1, "Alice", 30))
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, "1"))
		err = repo.Delete(ctx, "1")
		assert.Equal(t, outcome.KindNotFound, outcome.KindOf(err))

		_, err = repo.Read(ctx, "1")
		assert.Equal(t, outcome.KindNotFound, outcome.KindOf(err))
	})

	t.Run("exists", func(t *testing.T) {
		repo, ctx := setup(t)
		ok, err := repo.Exists(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = repo.Create(ctx, item(1, "Alice", 30))
		require.NoError(t, err)
		ok, err = repo.Exists(ctx, "01")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("query filters sort and total", func(t *testing.T) {
		repo, ctx := setup(t)
		seed(t, repo)
		s := repo.Schema()

		tests := []struct {
			name string
			spec func() (query.Spec, error)
			want []string
		}{
			{"eq", func() (query.Spec, error) { return query.NewBuilder(s).Where("age", query.Eq, 30).Build() }, []string{"1", "3"}},
			{"ne", func() (query.Spec, error) { return query.NewBuilder(s).Where("age", query.Ne, 30).Build() }, []string{"2", "10", "11"}},
			{"in", func() (query.Spec, error) {
				return query.NewBuilder(s).Where("name", query.In, []any{"bob", "alex"}).Build()
			}, []string{"2", "10"}},
			{"gt", func() (query.Spec, error) { return query.NewBuilder(s).Where("age", query.Gt, 20).Build() }, []string{"1", "2", "3"}},
			{"lte", func() (query.Spec, error) { return query.NewBuilder(s).Where("age", query.Lte, 20).Build() }, []string{"10", "11"}},
			{"prefix", func() (query.Spec, error) { return query.NewBuilder(s).Where("name", query.Prefix, "al").Build() }, []string{"1", "2"}},
			{"contains", func() (query.Spec, error) { return query.NewBuilder(s).Where("name", query.Contains, "o").Build() }, []string{"3", "10"}},
			{"float", func() (query.Spec, error) { return query.NewBuilder(s).Where("score", query.Gte, 2.5).Build() }, []string{"2", "3"}},
			{"bool", func() (query.Spec, error) { return query.NewBuilder(s).Where("active", query.Eq, true).Build() }, []string{"2", "3"}},
			{"time", func() (query.Spec, error) {
				return query.NewBuilder(s).Where("joined", query.Lt, "2024-01-02T00:00:00Z").Build()
			}, []string{"1"}},
			{"id", func() (query.Spec, error) { return query.NewBuilder(s).Where("id", query.Gt, 3).Build() }, []string{"10", "11"}},
			{"and", func() (query.Spec, error) {
				return query.NewBuilder(s).Where("age", query.Gte, 20).Where("name", query.Prefix, "b").Build()
			}, []string{"10"}},
			{"sort desc with id tie-break", func() (query.Spec, error) {
				return query.NewBuilder(s).OrderBy("age", query.Descending).Build()
			}, []string{"2", "1", "3", "10", "11"}},
			{"sort by name", func() (query.Spec, error) {
				return query.NewBuilder(s).OrderBy("name", query.Ascending).Build()
			}, []string{"11", "2", "1", "10", "3"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				spec, err := tt.spec()
				require.NoError(t, err)
				page, err := repo.Query(ctx, spec)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(page))
				assert.Equal(t, len(tt.want), page.Total)
				assert.False(t, page.HasMore)
			})
		}
	})

	t.Run("offset pagination is stable", func(t *testing.T) {
		repo, ctx := setup(t)
		seed(t, repo)

		var seen []string
		for offset := 0; ; offset += 2 {
			spec, err := query.NewBuilder(repo.Schema()).OrderBy("age", query.Ascending).Limit(2).Offset(offset).Build()
			require.NoError(t, err)
			page, err := repo.Query(ctx, spec)
			require.NoError(t, err)
			assert.Equal(t, 5, page.Total)
			assert.LessOrEqual(t, len(page.Items), 2)
			seen = append(seen, ids(page)...)
			if !page.HasMore {
				break
			}
		}
		assert.Equal(t, []string{"11", "10", "1", "3", "2"}, seen)
	})

	t.Run("cursor pagination is stable", func(t *testing.T) {
		repo, ctx := setup(t)
		seed(t, repo)

		var seen []string
		cursor := ""
		for i := 0; i < 10; i++ {
			b := query.NewBuilder(repo.Schema()).OrderBy("name", query.Descending).Limit(2)
			if cursor != "" {
				b.After(cursor)
			}
			spec, err := b.Build()
			require.NoError(t, err)
			page, err := repo.Query(ctx, spec)
			require.NoError(t, err)
			seen = append(seen, ids(page)...)
			if !page.HasMore {
				break
			}
			cursor = page.NextCursor
		}
		assert.Equal(t, []string{"3", "10", "1", "2", "11"}, seen)
	})

	t.Run("offset past the end is an empty page", func(t *testing.T) {
		repo, ctx := setup(t)
		seed(t, repo)

		spec, err := query.NewBuilder(repo.Schema()).Limit(2).Offset(50).Build()
		require.NoError(t, err)
		page, err := repo.Query(ctx, spec)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.NotNil(t, page.Items)
		assert.Equal(t, 5, page.Total)
		assert.False(t, page.HasMore)
	})

	t.Run("concurrent creates of one id have a single winner", func(t *testing.T) {
		repo, ctx := setup(t)

		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.Create(ctx, item(7, fmt.Sprintf("writer-%d", i), int64(i)))
				switch outcome.KindOf(err) {
				case outcome.KindUnknown:
					wins.Add(1)
				case outcome.KindConflict:
					conflicts.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(7), conflicts.Load())
	})

	t.Run("create racing create many keeps the batch whole or absent", func(t *testing.T) {
		repo, ctx := setup(t)

		for round := 0; round < 10; round++ {
			base := 100 * (round + 1)
			shared := item(base, "single", 1)
			batch := []model.Entity{item(base+1, "first", 1), item(base, "batch", 1), item(base+2, "last", 1)}

			start := make(chan struct{})
			var singleErr, batchErr error
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				_, singleErr = repo.Create(ctx, shared)
			}()
			go func() {
				defer wg.Done()
				<-start
				_, batchErr = repo.CreateMany(ctx, batch)
			}()
			close(start)
			wg.Wait()

			if batchErr == nil {
				assert.Equal(t, outcome.KindConflict, outcome.KindOf(singleErr), "round %d", round)
			} else {
				require.Equal(t, outcome.KindConflict, outcome.KindOf(batchErr), "round %d", round)
				require.NoError(t, singleErr, "round %d", round)
			}

			got, err := repo.Read(ctx, shared.ID)
			require.NoError(t, err)
			for _, e := range []model.Entity{batch[0], batch[2]} {
				ok, err := repo.Exists(ctx, e.ID)
				require.NoError(t, err)
				assert.Equal(t, batchErr == nil, ok, "round %d id %s", round, e.ID)
			}
			if batchErr == nil {
				assert.Equal(t, "batch", got.Attributes["name"])
			} else {
				assert.Equal(t, "single", got.Attributes["name"])
			}
		}
	})

	t.Run("string ids never collide with adapter bookkeeping", func(t *testing.T) {
		s := schema.MustNew([]schema.Field{
			{Name: "id", Type: schema.String},
			{Name: "title", Type: schema.String, Required: true},
		})
		repo, err := repository.Bind(s, newRepo(t, s))
		require.NoError(t, err)
		ctx := context.Background()

		keys := []model.ID{"ids", "b", "e:ids", "ids:b"}
		for _, id := range keys {
			_, err := repo.Create(ctx, model.New(id, map[string]any{"title": string(id)}))
			require.NoError(t, err, "create %s", id)
		}
		for _, id := range keys {
			got, err := repo.Read(ctx, id)
			require.NoError(t, err, "read %s", id)
			assert.Equal(t, string(id), got.Attributes["title"])
		}

		page, err := repo.Query(ctx, query.All(s))
		require.NoError(t, err)
		assert.Equal(t, len(keys), page.Total)
		assert.ElementsMatch(t, []string{"ids", "b", "e:ids", "ids:b"}, ids(page))

		require.NoError(t, repo.Delete(ctx, "ids"))
		page, err = repo.Query(ctx, query.All(s))
		require.NoError(t, err)
		assert.Equal(t, len(keys)-1, page.Total)
	})

	t.Run("items scenario", func(t *testing.T) {
		repo, ctx := setup(t)

		_, err := repo.Create(ctx, model.New("1", map[string]any{"name": "Alice"}))
		require.NoError(t, err)
		got, err := repo.Read(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Attributes["age"])

		_, err = repo.Create(ctx, model.New("1", map[string]any{"name": "Bob"}))
		assert.Equal(t, outcome.KindConflict, outcome.KindOf(err))

		_, err = repo.Update(ctx, model.New("1", map[string]any{"name": "Alice", "age": 30}))
		require.NoError(t, err)

		spec, err := query.NewBuilder(repo.Schema()).Where("age", query.Gte, 18).Build()
		require.NoError(t, err)
		page, err := repo.Query(ctx, spec)
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, ids(page))

		require.NoError(t, repo.Delete(ctx, "1"))
		assert.Equal(t, outcome.KindNotFound, outcome.KindOf(repo.Delete(ctx, "1")))
	})
}

// seed stores five entities:
//
//	id  name   age  score  active  joined
//	1   alice  30   1.0    false   2024-01-01
//	2   alex   40   2.5    true    2024-01-02
//	3   carol  30   3.0    true    2024-01-03
//	10  bob    20   -      -       -
//	11  adam   10   -      -       -
func seed(t *testing.T, repo repository.Repository) {
	t.Helper()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	_, err := repo.CreateMany(context.Background(), []model.Entity{
		model.New("1", map[string]any{"name": "alice", "age": int64(30), "score": 1.0, "active": false, "joined": day(1)}),
		model.New("2", map[string]any{"name": "alex", "age": int64(40), "score": 2.5, "active": true, "joined": day(2)}),
		model.New("3", map[string]any{"name": "carol", "age": int64(30), "score": 3.0, "active": true, "joined": day(3)}),
		model.New("10", map[string]any{"name": "bob", "age": int64(20)}),
		model.New("11", map[string]any{"name": "adam", "age": int64(10)}),
	})
	require.NoError(t, err)
}

func ids(p query.Page) []string {
	out := make([]string, 0, len(p.Items))
	for _, e := range p.Items {
		out = append(out, e.ID.String())
	}
	return out
}
