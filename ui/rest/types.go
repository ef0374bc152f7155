package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leadengine/whatsapp-ingest/ui/rest/middleware"
)

// Response is the JSON envelope every endpoint answers with.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Meta    Meta       `json:"meta"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type Meta struct {
	TraceID   string    `json:"traceId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func successResponse(traceID string, data any) Response {
	return Response{
		Success: true,
		Data:    data,
		Meta:    Meta{TraceID: traceID, Timestamp: time.Now().UTC()},
	}
}

func errorResponse(traceID, code, message string, details any) Response {
	return Response{
		Error: &ErrorBody{Code: code, Message: message, Details: details},
		Meta:  Meta{TraceID: traceID, Timestamp: time.Now().UTC()},
	}
}

// NotFound terminates unmatched API routes with the standard envelope.
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).
		JSON(errorResponse(middleware.TraceID(c), "NOT_FOUND_ERROR", "API endpoint not found", fiber.Map{"path": c.Path()}))
}
