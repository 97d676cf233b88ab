package middleware

import (
	"time"

	"github.com/formbridge/backend/pkg/logger"
	"github.com/gofiber/fiber/v2"
)

// RequestLogger emits one structured line per request after completion.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.Info("http_request", fields)

		return err
	}
}
