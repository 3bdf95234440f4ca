package handlers

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/reconciler"
	"github.com/craftstudio/craftstudio/internal/registry"
)

// ListInstances returns every instance with its live state
func (h *Handler) ListInstances(c *fiber.Ctx) error {
	return c.JSON(models.InstanceListResponse{
		Instances:        h.instances.List(),
		ActiveInstanceID: h.instances.ActiveID(),
	})
}

// AddInstance registers a new instance. Its worker is started and
// connected in the background.
func (h *Handler) AddInstance(c *fiber.Ctx) error {
	req := models.AddInstanceRequest{Instance: models.DefaultInstanceConfig()}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}

	inst := req.Instance
	if strings.TrimSpace(inst.DataDir) == "" {
		root := h.store.Get().Settings.DefaultDataRoot
		if root == "" {
			return badRequest(c, "INVALID_INSTANCE", "dataDir is required when no default data root is set")
		}
		if inst.ID == "" {
			inst.ID = uuid.NewString()
		}
		inst.DataDir = filepath.Join(root, inst.ID)
	}

	added, _, err := h.instances.Add(c.Context(), inst, req.APIKey)
	if err != nil {
		return fail(c, err)
	}

	view, err := h.instances.Get(added.ID)
	if err != nil {
		return fail(c, err)
	}
	h.log(c).Info("Instance created via API", "instance_id", added.ID, "data_dir", added.DataDir)
	return c.Status(fiber.StatusCreated).JSON(models.AddInstanceResponse{Instance: view})
}

// GetInstance returns one instance with its live state
func (h *Handler) GetInstance(c *fiber.Ctx) error {
	view, err := h.instances.Get(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(view)
}

// UpdateInstance applies a partial update. The response tells whether the
// change is pushed live or needs a restart.
func (h *Handler) UpdateInstance(c *fiber.Ctx) error {
	id := c.Params("id")

	var patch models.InstancePatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(c, "INVALID_REQUEST", "Invalid request body: "+err.Error())
	}
	if patch.IsEmpty() {
		return badRequest(c, "EMPTY_PATCH", "Request changes no field")
	}
	if p := patch.Port; p != nil && (*p < 0 || *p > 65535) {
		return badRequest(c, "INVALID_PORT", "port must be between 0 and 65535")
	}
	if p := patch.ListenPort; p != nil && (*p < 0 || *p > 65535) {
		return badRequest(c, "INVALID_PORT", "listenPort must be between 0 and 65535")
	}

	if _, err := h.instances.Update(c.Context(), id, patch); err != nil {
		return fail(c, err)
	}
	action := reconciler.Classify(patch).String()
	h.log(c).Info("Instance update accepted", "fields", patch.Keys(), "action", action)
	return c.Status(fiber.StatusAccepted).JSON(models.AcceptedResponse{
		Accepted:   true,
		InstanceID: id,
		Action:     action,
	})
}

// DeleteInstance removes an instance
func (h *Handler) DeleteInstance(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.instances.Remove(c.Context(), id); err != nil {
		return fail(c, err)
	}
	h.log(c).Info("Instance removed via API")
	return c.Status(fiber.StatusAccepted).JSON(models.AcceptedResponse{
		Accepted:   true,
		InstanceID: id,
		Action:     "remove",
	})
}

// RestartInstance restarts an instance's worker
func (h *Handler) RestartInstance(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.instances.RestartInstance(c.Context(), id); err != nil {
		return fail(c, err)
	}
	h.log(c).Info("Restart requested via API")
	return c.Status(fiber.StatusAccepted).JSON(models.AcceptedResponse{
		Accepted:   true,
		InstanceID: id,
		Action:     "restart",
	})
}

// ActivateInstance makes an instance the active one
func (h *Handler) ActivateInstance(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.instances.SetActive(id); err != nil {
		return fail(c, err)
	}
	view, err := h.instances.Get(id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(view)
}

// InstanceActivity returns an instance's activity log, oldest first
func (h *Handler) InstanceActivity(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.instances.Get(id); err != nil {
		return fail(c, err)
	}
	return c.JSON(models.ActivityResponse{
		InstanceID: id,
		Events:     h.instances.Activity(id),
	})
}

// WorkerStatus proxies the worker's status call
func (h *Handler) WorkerStatus(c *fiber.Ctx) error {
	status, err := h.instances.WorkerStatus(c.Context(), c.Params("id"))
	if err != nil {
		return workerError(c, err)
	}
	return c.JSON(status)
}

// WorkerPeers proxies the worker's peer list
func (h *Handler) WorkerPeers(c *fiber.Ctx) error {
	peers, err := h.instances.WorkerPeers(c.Context(), c.Params("id"))
	if err != nil {
		return workerError(c, err)
	}
	if peers == nil {
		peers = []models.Peer{}
	}
	return c.JSON(models.PeerList{Peers: peers})
}

// workerError reports a failed control call as a bad gateway
func workerError(c *fiber.Ctx, err error) error {
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrNotConnected) {
		return fail(c, err)
	}
	return c.Status(fiber.StatusBadGateway).JSON(errorBody(c, "WORKER_ERROR", err.Error()))
}
