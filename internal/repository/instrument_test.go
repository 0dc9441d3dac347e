package repository_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourceapi/internal/model"
	"resourceapi/internal/repository"
	"resourceapi/internal/repository/memory"
)

func TestInstrumentCountsOutcomes(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics, err := repository.NewMetrics(reg)
	require.NoError(t, err)

	bound, err := repository.Bind(itemSchema(), memory.New())
	require.NoError(t, err)
	repo := repository.Instrument(bound, "items", metrics)

	_, err = repo.Create(ctx, model.New("1", map[string]any{"name": "a"}))
	require.NoError(t, err)
	_, err = repo.Create(ctx, model.New("1", map[string]any{"name": "a"}))
	require.Error(t, err)
	_, err = repo.Read(ctx, "2")
	require.Error(t, err)

	expected := `
# HELP repository_operations_total Repository operations by resource, operation and outcome.
# TYPE repository_operations_total counter
repository_operations_total{operation="create",outcome="conflict",resource="items"} 1
repository_operations_total{operation="create",outcome="success",resource="items"} 1
repository_operations_total{operation="read",outcome="not_found",resource="items"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "repository_operations_total"))
	n, err := testutil.GatherAndCount(reg, "repository_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repository.NewMetrics(reg)
	assert.Error(t, err)
}
