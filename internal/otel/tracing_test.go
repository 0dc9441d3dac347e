package otel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler(t *testing.T) {
	tests := []struct {
		name, arg, want string
	}{
		{"always_on", "", "AlwaysOnSampler"},
		{"always_off", "", "AlwaysOffSampler"},
		{"traceidratio", "0.5", "TraceIDRatioBased{0.5}"},
		{"traceidratio", "nope", "TraceIDRatioBased{1}"},
		{"parentbased_always_off", "", "ParentBased{root:AlwaysOffSampler,remoteParentSampled:AlwaysOnSampler,remoteParentNotSampled:AlwaysOffSampler,localParentSampled:AlwaysOnSampler,localParentNotSampled:AlwaysOffSampler}"},
		{"", "", "ParentBased{root:AlwaysOnSampler,remoteParentSampled:AlwaysOnSampler,remoteParentNotSampled:AlwaysOffSampler,localParentSampled:AlwaysOnSampler,localParentNotSampled:AlwaysOffSampler}"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.arg, func(t *testing.T) {
			assert.Equal(t, tt.want, sampler(tt.name, tt.arg).Description())
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("disabled sdk", func(t *testing.T) {
		t.Setenv("OTEL_SDK_DISABLED", "true")
		var buf bytes.Buffer

		shutdown, err := Init(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
		assert.Contains(t, buf.String(), `"tracing_enabled":false`)
	})

	t.Run("unsupported protocol degrades", func(t *testing.T) {
		t.Setenv("OTEL_SDK_DISABLED", "false")
		t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "carrier-pigeon")
		var buf bytes.Buffer

		shutdown, err := Init(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
		assert.Contains(t, buf.String(), "unsupported OTLP protocol: carrier-pigeon")
	})
}
