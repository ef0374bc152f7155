package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
)

// Recovery converts panics into the JSON error envelope. Typed errors
// from pkg/apperror keep their status and code; anything else becomes a
// 500.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			status := fiber.StatusInternalServerError
			code := "INTERNAL_SERVER_ERROR"
			message := fmt.Sprintf("%v", r)

			if typed, ok := r.(apperror.GenericError); ok {
				status = typed.StatusCode()
				code = typed.ErrCode()
				message = typed.Error()
			} else {
				logrus.Errorf("[REST] Panic recovered: %v", r)
			}

			_ = ctx.Status(status).JSON(fiber.Map{
				"success": false,
				"error":   fiber.Map{"code": code, "message": message},
				"meta": fiber.Map{
					"traceId":   TraceID(ctx),
					"timestamp": time.Now().UTC(),
				},
			})
		}()

		return ctx.Next()
	}
}

// TraceID returns the request id assigned by the requestid middleware.
func TraceID(ctx *fiber.Ctx) string {
	if id, ok := ctx.Locals("requestid").(string); ok {
		return id
	}
	return ""
}
