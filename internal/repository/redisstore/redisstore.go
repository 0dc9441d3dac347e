// Package redisstore keeps entities in Redis: one JSON string per entity at
// <prefix>:e:<id> and the set of ids at <prefix>:ids. Writes use WATCH/MULTI
// optimistic transactions.
package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
	"resourceapi/internal/repository"
	"resourceapi/internal/schema"
)

// DefaultMaxRetries bounds retries of a transaction that lost a WATCH race.
const DefaultMaxRetries = 8

// Store implements repository.Repository over a Redis client.
type Store struct {
	client     redis.UniversalClient
	schema     *schema.Schema
	prefix     string
	maxRetries int
}

var _ repository.Repository = (*Store)(nil)

// Option configures New.
type Option func(*Store)

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// New returns a store for entities of sch under keys starting with prefix.
func New(client redis.UniversalClient, sch *schema.Schema, prefix string, opts ...Option) *Store {
	s := &Store{client: client, schema: sch, prefix: prefix, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(id model.ID) string { return s.prefix + ":e:" + string(id) }

func (s *Store) idsKey() string { return s.prefix + ":ids" }

func (s *Store) encode(e model.Entity) (string, error) {
	wire, err := s.schema.Encode(e)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", outcome.Fatal(err)
	}
	return string(raw), nil
}

func (s *Store) decode(raw string) (model.Entity, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return model.Entity{}, outcome.Fatal(fmt.Errorf("decode stored entity: %w", err))
	}
	e, err := s.schema.Decode(doc)
	if err != nil {
		return model.Entity{}, outcome.Fatal(fmt.Errorf("stored entity does not match schema: %w", err))
	}
	return e, nil
}

// checkIndex refuses to write when the id set key holds another type, so a
// MULTI never applies the entity SET without its SADD.
func (s *Store) checkIndex(ctx context.Context, tx *redis.Tx) error {
	typ, err := tx.Type(ctx, s.idsKey()).Result()
	if err != nil {
		return err
	}
	if typ != "set" && typ != "none" {
		return outcome.Fatal(fmt.Errorf("redis key %s holds a %s, want a set", s.idsKey(), typ))
	}
	return nil
}

// execErr reports a MULTI/EXEC whose queued commands only partly succeeded.
func execErr(cmds []redis.Cmder, err error) error {
	if err == nil || errors.Is(err, redis.TxFailedErr) {
		return err
	}
	applied := 0
	for _, c := range cmds {
		if c.Err() == nil {
			applied++
		}
	}
	if applied > 0 {
		return outcome.Fatal(fmt.Errorf("redis transaction partially applied (%d of %d commands): %w", applied, len(cmds), err))
	}
	return err
}

func fail(op string, err error) error {
	err = fmt.Errorf("redis %s: %w", op, err)
	if retryable(err) {
		return outcome.Retryable(err)
	}
	return outcome.Fatal(err)
}

func retryable(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	case errors.Is(err, redis.ErrPoolTimeout), errors.Is(err, redis.TxFailedErr):
		return true
	case errors.As(err, &netErr):
		return true
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		for _, p := range []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN"} {
			if strings.HasPrefix(msg, p) {
				return true
			}
		}
	}
	return false
}

// watch runs fn in an optimistic transaction over keys, retrying when a
// watched key changed before EXEC.
func (s *Store) watch(ctx context.Context, op string, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch outcome.KindOf(err) {
	case outcome.KindUnknown, outcome.KindNotFound, outcome.KindConflict, outcome.KindValidation:
		return err
	}
	var ae *outcome.AdapterError
	if errors.As(err, &ae) {
		return err
	}
	return fail(op, err)
}

func (s *Store) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	doc, err := s.encode(e)
	if err != nil {
		return model.Entity{}, err
	}
	key := s.key(e.ID)
	err = s.watch(ctx, "create", func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return outcome.Conflict(string(e.ID))
		}
		if err := s.checkIndex(ctx, tx); err != nil {
			return err
		}
		return execErr(tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			pipe.SAdd(ctx, s.idsKey(), string(e.ID))
			return nil
		}))
	}, key)
	if err != nil {
		return model.Entity{}, err
	}
	return e.Clone(), nil
}

func (s *Store) CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	docs := make([]string, len(es))
	keys := make([]string, len(es))
	seen := make(map[model.ID]bool, len(es))
	for i, e := range es {
		if seen[e.ID] {
			return nil, outcome.Conflict(string(e.ID))
		}
		seen[e.ID] = true
		doc, err := s.encode(e)
		if err != nil {
			return nil, err
		}
		docs[i], keys[i] = doc, s.key(e.ID)
	}

	err := s.watch(ctx, "create many", func(tx *redis.Tx) error {
		for i, key := range keys {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return outcome.Conflict(string(es[i].ID))
			}
		}
		if err := s.checkIndex(ctx, tx); err != nil {
			return err
		}
		return execErr(tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			members := make([]any, len(es))
			for i, key := range keys {
				pipe.Set(ctx, key, docs[i], 0)
				members[i] = string(es[i].ID)
			}
			pipe.SAdd(ctx, s.idsKey(), members...)
			return nil
		}))
	}, keys...)
	if err != nil {
		return nil, err
	}
	return model.CloneAll(es), nil
}

func (s *Store) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Entity{}, outcome.NotFound(string(id))
	}
	if err != nil {
		return model.Entity{}, fail("get", err)
	}
	return s.decode(raw)
}

func (s *Store) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	doc, err := s.encode(e)
	if err != nil {
		return model.Entity{}, err
	}
	key := s.key(e.ID)
	err = s.watch(ctx, "update", func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return outcome.NotFound(string(e.ID))
		}
		return execErr(tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		}))
	}, key)
	if err != nil {
		return model.Entity{}, err
	}
	return e.Clone(), nil
}

func (s *Store) UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	if err := repository.UniqueIDs(es); err != nil {
		return nil, err
	}
	docs := make([]string, len(es))
	keys := make([]string, len(es))
	for i, e := range es {
		doc, err := s.encode(e)
		if err != nil {
			return nil, err
		}
		docs[i], keys[i] = doc, s.key(e.ID)
	}

	err := s.watch(ctx, "update many", func(tx *redis.Tx) error {
		for i, key := range keys {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return outcome.NotFound(string(es[i].ID))
			}
		}
		return execErr(tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range keys {
				pipe.Set(ctx, key, docs[i], 0)
			}
			return nil
		}))
	}, keys...)
	if err != nil {
		return nil, err
	}
	return model.CloneAll(es), nil
}

func (s *Store) Delete(ctx context.Context, id model.ID) error {
	var del *redis.IntCmd
	err := execErr(s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.idsKey(), string(id))
		return nil
	}))
	var ae *outcome.AdapterError
	if errors.As(err, &ae) {
		return err
	}
	if err != nil {
		return fail("delete", err)
	}
	if del.Val() == 0 {
		return outcome.NotFound(string(id))
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id model.ID) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fail("exists", err)
	}
	return n > 0, nil
}

func (s *Store) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return query.Page{}, fail("smembers", err)
	}

	all := make([]model.Entity, 0, len(ids))
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.key(model.ID(id))
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return query.Page{}, fail("mget", err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				// deleted between SMEMBERS and MGET
				continue
			}
			e, err := s.decode(raw)
			if err != nil {
				return query.Page{}, err
			}
			all = append(all, e)
		}
	}
	return spec.Apply(all), nil
}
