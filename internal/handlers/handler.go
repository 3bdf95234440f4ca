package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/craftstudio/craftstudio/internal/appconfig"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/registry"
	"github.com/craftstudio/craftstudio/internal/tasks"
)

// Instances is the registry surface the API exposes
type Instances interface {
	List() []models.InstanceView
	Get(id string) (models.InstanceView, error)
	ActiveID() string
	Add(ctx context.Context, inst models.InstanceConfig, apiKey string) (models.InstanceConfig, *tasks.Task, error)
	Update(ctx context.Context, id string, patch models.InstancePatch) (*tasks.Task, error)
	Remove(ctx context.Context, id string) (*tasks.Task, error)
	RestartInstance(ctx context.Context, id string) (*tasks.Task, error)
	SetActive(id string) error
	Activity(id string) []models.ActivityEvent
	WorkerStatus(ctx context.Context, id string) (models.WorkerStatus, error)
	WorkerPeers(ctx context.Context, id string) ([]models.Peer, error)
	ApplySettings(s models.GlobalSettings)
	ResetConfig() *tasks.Task
}

// ConfigStore is the application config surface the API exposes
type ConfigStore interface {
	Get() models.ApplicationConfig
	Update(patch appconfig.Patch) *tasks.Task
}

// Handler contains all HTTP handlers
type Handler struct {
	logger    *logging.Logger
	instances Instances
	store     ConfigStore
	version   string
}

// New creates a new handler instance
func New(logger *logging.Logger, instances Instances, store ConfigStore, version string) *Handler {
	return &Handler{
		logger:    logger,
		instances: instances,
		store:     store,
		version:   version,
	}
}

// log returns the handler logger tagged with the request and, on instance
// routes, the instance id
func (h *Handler) log(c *fiber.Ctx) *logging.Logger {
	ctx := c.UserContext()
	if id := c.Params("id"); id != "" {
		ctx = logging.WithInstanceID(ctx, id)
	}
	return h.logger.WithContext(ctx)
}

func errorBody(c *fiber.Ctx, code, message string) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: message,
			Path:    c.Path(),
		},
	}
}

func badRequest(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorBody(c, code, message))
}

// fail renders registry errors with their HTTP status. Anything else is
// left to the app's error handler.
func fail(c *fiber.Ctx, err error) error {
	var status int
	var code string
	switch {
	case errors.Is(err, registry.ErrNotFound):
		status, code = fiber.StatusNotFound, "INSTANCE_NOT_FOUND"
	case errors.Is(err, registry.ErrDuplicateID):
		status, code = fiber.StatusConflict, "DUPLICATE_ID"
	case errors.Is(err, registry.ErrDuplicateDataDir):
		status, code = fiber.StatusConflict, "DUPLICATE_DATA_DIR"
	case errors.Is(err, registry.ErrDataDirRequired):
		status, code = fiber.StatusBadRequest, "INVALID_INSTANCE"
	case errors.Is(err, registry.ErrNotConnected):
		status, code = fiber.StatusServiceUnavailable, "NOT_CONNECTED"
	case errors.Is(err, registry.ErrClosed):
		status, code = fiber.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		return err
	}
	return c.Status(status).JSON(errorBody(c, code, err.Error()))
}
