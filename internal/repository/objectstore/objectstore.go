// Package objectstore keeps one JSON object per entity in an S3-compatible
// bucket under "<prefix>/<escaped id>.json".
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
	"resourceapi/internal/repository/keylock"
	"resourceapi/internal/schema"
	"resourceapi/internal/storage"
)

const contentType = "application/json"

// Store implements repository.Repository over storage.Storage. Buckets have
// no conditional writes, so check-then-put sequences are serialised with
// in-process key locks; one Store must own a prefix.
type Store struct {
	bucket storage.Storage
	schema *schema.Schema
	prefix string
	keys   *keylock.Locker
}

var _ repository.Repository = (*Store)(nil)

// New returns a store for entities of s under prefix.
func New(bucket storage.Storage, s *schema.Schema, prefix string) *Store {
	return &Store{
		bucket: bucket,
		schema: s,
		prefix: strings.TrimSuffix(prefix, "/") + "/",
		keys:   keylock.New(),
	}
}

func (s *Store) key(id model.ID) string {
	return s.prefix + url.PathEscape(string(id)) + ".json"
}

func fail(op string, err error) error {
	err = fmt.Errorf("object storage %s: %w", op, err)
	if errors.Is(err, storage.ErrUnavailable) {
		return outcome.Retryable(err)
	}
	return outcome.Fatal(err)
}

func (s *Store) exists(ctx context.Context, id model.ID) (bool, error) {
	_, err := s.bucket.Stat(ctx, s.key(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotExist):
		return false, nil
	default:
		return false, fail("stat", err)
	}
}

func (s *Store) put(ctx context.Context, e model.Entity) error {
	wire, err := s.schema.Encode(e)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return outcome.Fatal(err)
	}
	_, err = s.bucket.Put(ctx, s.key(e.ID), bytes.NewReader(raw), storage.PutObjectOptions{
		Size:        int64(len(raw)),
		ContentType: contentType,
	})
	if err != nil {
		return fail("put", err)
	}
	return nil
}

// get returns found=false, err=nil when key has no object.
func (s *Store) get(ctx context.Context, key string) (e model.Entity, found bool, err error) {
	rc, _, err := s.bucket.Get(ctx, key)
	if errors.Is(err, storage.ErrNotExist) {
		return model.Entity{}, false, nil
	}
	if err != nil {
		return model.Entity{}, false, fail("get", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return model.Entity{}, false, fail("read", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return model.Entity{}, false, outcome.Fatal(fmt.Errorf("decode %s: %w", key, err))
	}
	e, err = s.schema.Decode(doc)
	if err != nil {
		return model.Entity{}, false, outcome.Fatal(fmt.Errorf("%s does not match schema: %w", key, err))
	}
	return e, true, nil
}

func (s *Store) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	defer s.keys.Lock(string(e.ID))()

	ok, err := s.exists(ctx, e.ID)
	if err != nil {
		return model.Entity{}, err
	}
	if ok {
		return model.Entity{}, outcome.Conflict(string(e.ID))
	}
	if err := s.put(ctx, e); err != nil {
		return model.Entity{}, err
	}
	return e.Clone(), nil
}

// CreateMany checks every id before writing and removes what it already
// wrote when a later put fails.
func (s *Store) CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	keys := make([]string, len(es))
	seen := make(map[model.ID]bool, len(es))
	for i, e := range es {
		if seen[e.ID] {
			return nil, outcome.Conflict(string(e.ID))
		}
		seen[e.ID] = true
		keys[i] = string(e.ID)
	}
	defer s.keys.Lock(keys...)()

	for _, e := range es {
		ok, err := s.exists(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, outcome.Conflict(string(e.ID))
		}
	}

	for i, e := range es {
		if err := s.put(ctx, e); err != nil {
			s.rollback(es[:i])
			return nil, err
		}
	}
	return model.CloneAll(es), nil
}

// rollback runs on a fresh context so a cancelled request still cleans up.
func (s *Store) rollback(written []model.Entity) {
	ctx := context.Background()
	for _, e := range written {
		_ = s.bucket.Delete(ctx, s.key(e.ID))
	}
}

func (s *Store) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	e, found, err := s.get(ctx, s.key(id))
	if err != nil {
		return model.Entity{}, err
	}
	if !found {
		return model.Entity{}, outcome.NotFound(string(id))
	}
	return e, nil
}

func (s *Store) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	defer s.keys.Lock(string(e.ID))()

	ok, err := s.exists(ctx, e.ID)
	if err != nil {
		return model.Entity{}, err
	}
	if !ok {
		return model.Entity{}, outcome.NotFound(string(e.ID))
	}
	if err := s.put(ctx, e); err != nil {
		return model.Entity{}, err
	}
	return e.Clone(), nil
}

// UpdateMany reads every prior version before writing and puts them back
// when a later put fails.
func (s *Store) UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	if err := repository.UniqueIDs(es); err != nil {
		return nil, err
	}
	keys := make([]string, len(es))
	for i, e := range es {
		keys[i] = string(e.ID)
	}
	defer s.keys.Lock(keys...)()

	prior := make([]model.Entity, len(es))
	for i, e := range es {
		old, found, err := s.get(ctx, s.key(e.ID))
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, outcome.NotFound(string(e.ID))
		}
		prior[i] = old
	}

	for i, e := range es {
		if err := s.put(ctx, e); err != nil {
			s.restore(prior[:i])
			return nil, err
		}
	}
	return model.CloneAll(es), nil
}

func (s *Store) restore(prior []model.Entity) {
	ctx := context.Background()
	for _, e := range prior {
		_ = s.put(ctx, e)
	}
}

func (s *Store) Delete(ctx context.Context, id model.ID) error {
	defer s.keys.Lock(string(id))()

	ok, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return outcome.NotFound(string(id))
	}
	if err := s.bucket.Delete(ctx, s.key(id)); err != nil {
		return fail("delete", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id model.ID) (bool, error) {
	return s.exists(ctx, id)
}

func (s *Store) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	keys, err := s.bucket.List(ctx, s.prefix)
	if err != nil {
		return query.Page{}, fail("list", err)
	}
	all := make([]model.Entity, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		e, found, err := s.get(ctx, key)
		if err != nil {
			return query.Page{}, err
		}
		// deleted after listing
		if found {
			all = append(all, e)
		}
	}
	return spec.Apply(all), nil
}
