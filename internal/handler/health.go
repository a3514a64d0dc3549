package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/modeltrainer/api/internal/health"
	"github.com/modeltrainer/api/pkg/response"
)

type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return response.OK(c, h.checker.Liveness(c.UserContext()))
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	result := h.checker.Readiness(c.UserContext())
	if !result.IsHealthy() {
		return response.Unavailable(c, result)
	}
	return response.OK(c, result)
}
