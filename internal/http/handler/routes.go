package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes is everything RegisterRoutes mounts.
type Routes struct {
	// Health pings the storage backend; nil reports healthy.
	Health    func(context.Context) error
	Gatherer  prometheus.Gatherer
	OpenAPI   *openapi3.T
	Resources []*Resource
}

// RegisterRoutes attaches operational endpoints and every resource to app.
func RegisterRoutes(app *fiber.App, rt Routes) error {
	app.Get("/health", HealthCheck(rt.Health))
	app.Get("/healthz", LivenessProbe())

	if rt.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{})))
	}

	if rt.OpenAPI != nil {
		if err := publishSwagger(rt.OpenAPI); err != nil {
			return fmt.Errorf("publish openapi: %w", err)
		}
		app.Get("/openapi.json", ServeOpenAPI(rt.OpenAPI))
		app.Get("/swagger/*", swagger.HandlerDefault)
	}

	for _, r := range rt.Resources {
		r.Register(app)
	}
	return nil
}

// HealthCheck reports 503 when ping fails within two seconds.
func HealthCheck(ping func(context.Context) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				return writeError(c, fiber.StatusServiceUnavailable, CodeUnavailable, "dependency unavailable")
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ServeOpenAPI serves doc as JSON.
func ServeOpenAPI(doc *openapi3.T) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(doc)
	}
}
