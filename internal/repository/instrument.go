package repository

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/query"
)

const tracerName = "resourceapi/repository"

// Metrics holds the repository collectors shared by every instrumented resource.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates and registers the repository collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repository_operations_total",
				Help: "Repository operations by resource, operation and outcome.",
			},
			[]string{"resource", "operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repository_operation_duration_seconds",
				Help:    "Repository operation latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource", "operation"},
		),
	}
	for _, c := range []prometheus.Collector{m.operations, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type instrumented struct {
	next     Repository
	resource string
	metrics  *Metrics
	tracer   trace.Tracer
}

// Instrument records a span, an outcome counter and a latency observation
// for every call to next.
func Instrument(next Repository, resource string, m *Metrics) Repository {
	return &instrumented{
		next:     next,
		resource: resource,
		metrics:  m,
		tracer:   otel.Tracer(tracerName),
	}
}

func (r *instrumented) start(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := r.tracer.Start(ctx, "repository."+op, trace.WithAttributes(
		attribute.String("resource.name", r.resource),
		attribute.String("repository.operation", op),
	))
	began := time.Now()

	return ctx, func(err error) {
		label := "success"
		if err != nil {
			label = outcome.KindOf(err).String()
			span.SetAttributes(attribute.String("repository.outcome", label))
			if k := outcome.KindOf(err); k == outcome.KindRetryable || k == outcome.KindFatal {
				span.RecordError(err)
				span.SetStatus(codes.Error, label)
			}
		}
		r.metrics.operations.WithLabelValues(r.resource, op, label).Inc()
		r.metrics.duration.WithLabelValues(r.resource, op).Observe(time.Since(began).Seconds())
		span.End()
	}
}

func (r *instrumented) Create(ctx context.Context, e model.Entity) (model.Entity, error) {
	ctx, done := r.start(ctx, "create")
	out, err := r.next.Create(ctx, e)
	done(err)
	return out, err
}

func (r *instrumented) CreateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	ctx, done := r.start(ctx, "create_many")
	out, err := r.next.CreateMany(ctx, es)
	done(err)
	return out, err
}

func (r *instrumented) Read(ctx context.Context, id model.ID) (model.Entity, error) {
	ctx, done := r.start(ctx, "read")
	out, err := r.next.Read(ctx, id)
	done(err)
	return out, err
}

func (r *instrumented) Update(ctx context.Context, e model.Entity) (model.Entity, error) {
	ctx, done := r.start(ctx, "update")
	out, err := r.next.Update(ctx, e)
	done(err)
	return out, err
}

func (r *instrumented) UpdateMany(ctx context.Context, es []model.Entity) ([]model.Entity, error) {
	ctx, done := r.start(ctx, "update_many")
	out, err := r.next.UpdateMany(ctx, es)
	done(err)
	return out, err
}

func (r *instrumented) Delete(ctx context.Context, id model.ID) error {
	ctx, done := r.start(ctx, "delete")
	err := r.next.Delete(ctx, id)
	done(err)
	return err
}

func (r *instrumented) Query(ctx context.Context, spec query.Spec) (query.Page, error) {
	ctx, done := r.start(ctx, "query")
	out, err := r.next.Query(ctx, spec)
	done(err)
	return out, err
}

func (r *instrumented) Exists(ctx context.Context, id model.ID) (bool, error) {
	ctx, done := r.start(ctx, "exists")
	out, err := r.next.Exists(ctx, id)
	done(err)
	return out, err
}
