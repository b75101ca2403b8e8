package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
)

const maxRequestIDLength = 128

// RequestID reuses the caller's X-Request-ID or generates one, echoes it on
// the response and stores it in the request's user context for logging and
// queue correlation.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rid := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.NewString()
		}

		c.Set(fiber.HeaderXRequestID, rid)
		c.SetUserContext(observability.WithRequestID(c.UserContext(), rid))
		return c.Next()
	}
}
