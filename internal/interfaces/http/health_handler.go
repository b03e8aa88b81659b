package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck sonda de una dependencia (Postgres, Redis).
type HealthCheck func(ctx context.Context) error

// HealthHandler GET /health: 200 si todas las sondas responden, 503 si alguna falla.
func HealthHandler(service string, checks map[string]HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		deps := make(map[string]string, len(checks))
		status := fiber.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = "down"
				status = fiber.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		state := "ok"
		if status != fiber.StatusOK {
			state = "degraded"
		}
		return c.Status(status).JSON(fiber.Map{"status": state, "service": service, "dependencies": deps})
	}
}
