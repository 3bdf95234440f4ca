package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/craftstudio/craftstudio/internal/appconfig"
	"github.com/craftstudio/craftstudio/internal/models"
)

// GetConfig returns the application config document
func (h *Handler) GetConfig(c *fiber.Ctx) error {
	return c.JSON(h.store.Get())
}

// PatchConfig updates global settings and UI preferences. Settings take
// effect for the next registry operation.
func (h *Handler) PatchConfig(c *fiber.Ctx) error {
	var req models.ConfigPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if req.Settings == nil && req.UI == nil {
		return badRequest(c, "EMPTY_PATCH", "Request changes no field")
	}
	if s := req.Settings; s != nil && s.RestartGracePeriodMs != nil && *s.RestartGracePeriodMs < 0 {
		return badRequest(c, "INVALID_SETTINGS", "restartGracePeriodMs must not be negative")
	}

	h.store.Update(appconfig.Patch{Settings: req.Settings, UI: req.UI})
	doc := h.store.Get()
	if req.Settings != nil {
		h.instances.ApplySettings(doc.Settings)
	}

	h.log(c).Info("Application config updated",
		"settings", req.Settings != nil,
		"ui", req.UI != nil,
	)
	return c.JSON(doc)
}

// ResetConfig restores defaults, keeping the registered instances
func (h *Handler) ResetConfig(c *fiber.Ctx) error {
	h.instances.ResetConfig()
	h.log(c).Info("Application config reset via API")
	return c.JSON(h.store.Get())
}
