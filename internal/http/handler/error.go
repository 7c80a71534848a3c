package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"docvault/internal/docerr"
	"docvault/internal/http/middleware"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// VersionID names the version a conflict or transition error is about.
	VersionID string `json:"version_id,omitempty"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorPayload{
		RequestID: requestIDFromCtx(c),
		Error:     errorEnvelope{Code: code, Message: message},
	})
}

type errorMapping struct {
	kind   error
	status int
	code   string
}

// Domain errors carry safe, structured messages; everything else is reported as internal.
var domainErrors = []errorMapping{
	{docerr.ErrInvalidArgument, fiber.StatusBadRequest, "INVALID_ARGUMENT"},
	{docerr.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{docerr.ErrIllegalTransition, fiber.StatusConflict, "ILLEGAL_TRANSITION"},
	{docerr.ErrLineageConflict, fiber.StatusConflict, "LINEAGE_CONFLICT"},
	{docerr.ErrConsistencyViolation, fiber.StatusConflict, "CONSISTENCY_VIOLATION"},
	{docerr.ErrStorageUnavailable, fiber.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
}

// classify maps err onto a status and error envelope.
func classify(err error) (int, errorEnvelope) {
	for _, m := range domainErrors {
		if !errors.Is(err, m.kind) {
			continue
		}
		env := errorEnvelope{Code: m.code, Message: err.Error()}
		if e, ok := docerr.As(err); ok {
			env.VersionID = e.VersionID
		}
		if m.status == fiber.StatusServiceUnavailable {
			env.Message = "storage unavailable"
		}
		return m.status, env
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fiber.StatusServiceUnavailable, errorEnvelope{Code: "SERVICE_UNAVAILABLE", Message: "request timed out"}
	}
	return fiber.StatusInternalServerError, errorEnvelope{Code: "INTERNAL_ERROR", Message: "internal server error"}
}

// writeServiceError translates a service error into the standardized response.
func writeServiceError(c *fiber.Ctx, err error) error {
	status, env := classify(err)
	return c.Status(status).JSON(errorPayload{RequestID: requestIDFromCtx(c), Error: env})
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "FILE_TOO_LARGE", "request body too large")
		default:
			return writeServiceError(c, err)
		}
	}
}
