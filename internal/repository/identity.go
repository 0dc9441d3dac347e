package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"resourceapi/internal/model"
	"resourceapi/internal/query"
	"resourceapi/internal/schema"
)

// Identity assigns ids to entities created without one.
type Identity interface {
	// Type is the id field type the policy produces.
	Type() schema.Type
	Next(ctx context.Context) (model.ID, error)
}

// UUIDIdentity issues random UUIDv4 strings.
type UUIDIdentity struct{}

func (UUIDIdentity) Type() schema.Type { return schema.String }

func (UUIDIdentity) Next(context.Context) (model.ID, error) {
	return model.ID(uuid.NewString()), nil
}

// SequenceIdentity issues increasing integers starting after a floor. The
// counter lives in process memory: after a restart call Resume, or ids
// already stored are only skipped through Bind's conflict retries.
type SequenceIdentity struct {
	last atomic.Int64
}

// NewSequence returns a sequence whose first id is start.
func NewSequence(start int64) *SequenceIdentity {
	s := &SequenceIdentity{}
	s.last.Store(start - 1)
	return s
}

func (*SequenceIdentity) Type() schema.Type { return schema.Int }

func (s *SequenceIdentity) Next(context.Context) (model.ID, error) {
	return model.ID(strconv.FormatInt(s.last.Add(1), 10)), nil
}

// Resume moves the sequence past the largest id stored in repo.
func (s *SequenceIdentity) Resume(ctx context.Context, repo Repository, sch *schema.Schema) error {
	spec, err := query.NewBuilder(sch).OrderBy(sch.IDField(), query.Descending).Limit(1).Build()
	if err != nil {
		return err
	}
	page, err := repo.Query(ctx, spec)
	if err != nil {
		return fmt.Errorf("resume sequence: %w", err)
	}
	if len(page.Items) == 0 {
		return nil
	}
	top, err := strconv.ParseInt(string(page.Items[0].ID), 10, 64)
	if err != nil {
		return fmt.Errorf("resume sequence: id %q is not an integer", page.Items[0].ID)
	}
	for {
		last := s.last.Load()
		if last >= top || s.last.CompareAndSwap(last, top) {
			return nil
		}
	}
}
