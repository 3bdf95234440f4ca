package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/craftstudio/craftstudio/internal/models"
)

// Health handles health check requests
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   h.version,
	})
}

// NotFound handles unmatched routes
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(errorBody(c, "NOT_FOUND", "Route not found"))
}
