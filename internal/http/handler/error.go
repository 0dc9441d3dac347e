package handler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"resourceapi/internal/http/middleware"
	"resourceapi/internal/model"
	"resourceapi/internal/outcome"
	"resourceapi/internal/schema"
)

// Error codes carried in errorPayload.Error.
const (
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeValidation       = "validation_failed"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"
	CodeBadRequest       = "bad_request"
	CodeMethodNotAllowed = "method_not_allowed"
	CodePayloadTooLarge  = "payload_too_large"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string               `json:"request_id"`
	Error     string               `json:"error"`
	Message   string               `json:"message"`
	ID        any                  `json:"id,omitempty"`
	Details   []outcome.FieldError `json:"details,omitempty"`
}

// writeError writes a standardized JSON error response without leaking internal errors.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorPayload{
		RequestID: middleware.GetRequestID(c),
		Error:     code,
		Message:   message,
	})
}

// errorMapper turns repository outcomes into responses for one resource.
type errorMapper struct {
	name   Name
	schema *schema.Schema
	log    *slog.Logger
}

// write maps err to exactly one response. Adapter failures are logged with
// their cause; the client only sees a generic message.
func (m errorMapper) write(c *fiber.Ctx, err error) error {
	payload := errorPayload{RequestID: middleware.GetRequestID(c)}
	var status int

	switch outcome.KindOf(err) {
	case outcome.KindNotFound:
		id, _ := outcome.IDOf(err)
		status = fiber.StatusNotFound
		payload.Error = CodeNotFound
		payload.ID = m.schema.IDValue(model.ID(id))
		payload.Message = fmt.Sprintf("An item<%s> with id<%s> does not exist.", m.name.Title(), id)
	case outcome.KindConflict:
		id, _ := outcome.IDOf(err)
		status = fiber.StatusConflict
		payload.Error = CodeConflict
		payload.ID = m.schema.IDValue(model.ID(id))
		payload.Message = fmt.Sprintf("An item<%s> with id<%s> already exists.", m.name.Title(), id)
	case outcome.KindValidation:
		status = fiber.StatusUnprocessableEntity
		payload.Error = CodeValidation
		payload.Details = outcome.FieldsOf(err)
		payload.Message = fmt.Sprintf("The %s is invalid.", m.name.Singular)
	case outcome.KindRetryable:
		status = fiber.StatusServiceUnavailable
		payload.Error = CodeUnavailable
		payload.Message = "storage temporarily unavailable, retry later"
		m.log.WarnContext(c.UserContext(), "repository unavailable",
			"request_id", payload.RequestID, "resource", m.name.Plural, "error", err.Error())
	default:
		status = fiber.StatusInternalServerError
		payload.Error = CodeInternal
		payload.Message = "internal server error"
		m.log.ErrorContext(c.UserContext(), "repository failure",
			"request_id", payload.RequestID, "resource", m.name.Plural, "error", errString(err))
	}
	return c.Status(status).JSON(payload)
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, CodeBadRequest, "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, CodeNotFound, "route not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, CodeMethodNotAllowed, "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, CodePayloadTooLarge, "request body too large")
		case fiber.StatusServiceUnavailable:
			return writeError(c, status, CodeUnavailable, "service unavailable")
		}
		if fe != nil && status < fiber.StatusInternalServerError {
			return writeError(c, status, CodeBadRequest, fe.Message)
		}
		log.ErrorContext(c.UserContext(), "unhandled error",
			"request_id", middleware.GetRequestID(c), "path", c.Path(), "error", err.Error())
		return writeError(c, fiber.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
