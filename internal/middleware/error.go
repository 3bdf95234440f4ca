package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"

	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
)

// ErrorHandler renders errors that escape a handler as the API error body.
// Server errors are logged at Error, client errors at Debug.
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			message = fe.Message
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error("Request failed",
				"path", c.Path(),
				"method", c.Method(),
				"status", status,
				"error", err,
			)
		} else {
			logger.Debug("Request rejected",
				"path", c.Path(),
				"method", c.Method(),
				"status", status,
				"error", err,
			)
		}

		return c.Status(status).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    StatusCode(status),
				Message: message,
				Path:    c.Path(),
			},
		})
	}
}

// StatusCode turns an HTTP status into the error code used in bodies,
// e.g. 404 becomes NOT_FOUND
func StatusCode(status int) string {
	text := fiberutils.StatusMessage(status)
	if text == "" {
		return "ERROR"
	}
	text = strings.ToUpper(text)
	text = strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(text)
	return text
}
