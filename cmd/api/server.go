package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"resourceapi/internal/config"
	"resourceapi/internal/http/handler"
	"resourceapi/internal/http/middleware"
	"resourceapi/internal/repository"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// service is the assembled HTTP API.
type service struct {
	app *fiber.App
	// repos is keyed by resource plural.
	repos map[string]repository.Repository
	// resume moves integer sequences past the ids already stored.
	resume []func(context.Context) error
}

func (s *service) resumeSequences(ctx context.Context) error {
	for _, fn := range s.resume {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// newService builds one repository per declaration on b and mounts the
// resources with the operational endpoints.
func newService(cfg *config.AppConfig, log *slog.Logger, b *backend, reg *prometheus.Registry, decls []declaration) (*service, error) {
	metrics, err := repository.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register repository metrics: %w", err)
	}
	httpMetrics, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	svc := &service{repos: make(map[string]repository.Repository, len(decls))}
	resources := make([]*handler.Resource, 0, len(decls))
	for _, d := range decls {
		repo, err := wire(cfg, log, b, d, metrics)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", d.name.Plural, err)
		}
		r, err := handler.NewResource(d.name, d.schema, repo,
			handler.WithPaging(cfg.Paging.DefaultLimit, cfg.Paging.MaxLimit),
			handler.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		svc.repos[d.name.Plural] = repo
		resources = append(resources, r)
		if seq, ok := d.identity.(*repository.SequenceIdentity); ok {
			sch := d.schema
			svc.resume = append(svc.resume, func(ctx context.Context) error {
				return seq.Resume(ctx, repo, sch)
			})
		}
	}

	doc, err := handler.OpenAPI("Resource API", version, resources...)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          handler.ErrorHandler(log),
		BodyLimit:             cfg.BodyLimitByte,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.Logger(log))
	app.Use(httpMetrics.Handler())

	err = handler.RegisterRoutes(app, handler.Routes{
		Health:    b.ping,
		Gatherer:  reg,
		OpenAPI:   doc,
		Resources: resources,
	})
	if err != nil {
		return nil, err
	}
	svc.app = app
	return svc, nil
}

// wire stacks the decorators over the backend adapter for d:
// breaker, cache, schema binding, then instrumentation.
func wire(cfg *config.AppConfig, log *slog.Logger, b *backend, d declaration, m *repository.Metrics) (repository.Repository, error) {
	repo, err := b.open(d)
	if err != nil {
		return nil, err
	}

	if cfg.Breaker.Enabled {
		repo = repository.Guard(repo, repository.BreakerSettings{
			Name:                d.name.Plural,
			Timeout:             time.Duration(cfg.Breaker.TimeoutSec) * time.Second,
			ConsecutiveFailures: uint32(cfg.Breaker.ConsecutiveFailures),
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("storage breaker changed state",
					"component", "repository",
					"event", "breaker_state",
					"resource", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	if cfg.CacheSize > 0 {
		if repo, err = repository.Cache(repo, cfg.CacheSize); err != nil {
			return nil, err
		}
	}

	var opts []repository.BindOption
	if d.identity != nil {
		opts = append(opts, repository.WithIdentity(d.identity))
	}
	bound, err := repository.Bind(d.schema, repo, opts...)
	if err != nil {
		return nil, err
	}
	return repository.Instrument(bound, d.name.Plural, m), nil
}
