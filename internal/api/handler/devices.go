package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/lockbox/internal/api/response"
	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/device"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// DeviceRegistry is the part of device.Registry the handlers call.
type DeviceRegistry interface {
	Register(ctx context.Context, project *models.Project, p device.RegisterParams) (*models.Device, bool, error)
	Get(ctx context.Context, projectID, id string) (*models.Device, error)
	List(ctx context.Context, projectID, status string) ([]*models.Device, error)
	Authorize(ctx context.Context, projectID, id, actor string) (*models.Device, error)
	Reject(ctx context.Context, projectID, id string) error
	Delete(ctx context.Context, projectID, id string) error
}

// Devices serves device registration and approval.
type Devices struct {
	projects ProjectStore
	registry DeviceRegistry
}

func NewDevices(p ProjectStore, reg DeviceRegistry) *Devices {
	return &Devices{projects: p, registry: reg}
}

// RegisterRequest is the body of POST /api/v1/devices.
type RegisterRequest struct {
	ProjectName      string   `json:"project_name"`
	DeviceID         string   `json:"device_id"`
	Name             string   `json:"name"`
	Tags             []string `json:"tags,omitempty"`
	Description      string   `json:"description,omitempty"`
	UserAgent        string   `json:"user_agent,omitempty"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
}

// DeviceStatus is the public view of a device used while polling.
type DeviceStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	AuthorizedBy *string    `json:"authorized_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Register handles POST /api/v1/devices. It needs no credential: a new
// device is pending until approved. 201 for a new row, 200 when the device
// was already registered.
func (h *Devices) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProjectName) == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "project_name is required", nil)
		return
	}
	project, err := h.projects.GetProjectByName(r.Context(), req.ProjectName)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found", nil)
		return
	}
	if err != nil {
		internalError(w, "get project", err)
		return
	}

	ua := req.UserAgent
	if ua == "" {
		ua = r.UserAgent()
	}
	d, created, err := h.registry.Register(r.Context(), project, device.RegisterParams{
		DeviceID:         req.DeviceID,
		Name:             req.Name,
		Tags:             req.Tags,
		Description:      req.Description,
		WorkingDirectory: req.WorkingDirectory,
		UserAgent:        ua,
		ClientIP:         clientIP(r),
	})
	switch {
	case errors.Is(err, device.ErrInvalidDeviceID), errors.Is(err, device.ErrNameRequired):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	case errors.Is(err, device.ErrProjectMismatch):
		response.Error(w, http.StatusConflict, "DEVICE_PROJECT_MISMATCH",
			"Device is already registered to another project", nil)
		return
	case err != nil:
		internalError(w, "register device", err)
		return
	}

	if created {
		response.Created(w, d)
		return
	}
	response.JSON(w, d)
}

// Status handles GET /api/v1/projects/{project}/devices/{deviceID}/status.
// It is public so a pending device can poll; a rejected device reads 404.
func (h *Devices) Status(w http.ResponseWriter, r *http.Request) {
	project, ok := lookupProject(w, r, h.projects)
	if !ok {
		return
	}
	d, err := h.registry.Get(r.Context(), project.ID, chi.URLParam(r, "deviceID"))
	if err != nil {
		deviceError(w, "get device status", err)
		return
	}
	response.JSON(w, DeviceStatus{
		ID:           d.ID,
		Name:         d.Name,
		Status:       d.Status,
		AuthorizedAt: d.AuthorizedAt,
		AuthorizedBy: d.AuthorizedBy,
		CreatedAt:    d.CreatedAt,
	})
}

// List handles GET /api/v1/projects/{project}/devices?status=.
func (h *Devices) List(w http.ResponseWriter, r *http.Request) {
	p, c, ok := scopedProject(w, r, h.projects)
	if !ok || !requireTier(w, c, auth.TierMaster, auth.TierProject) {
		return
	}
	devices, err := h.registry.List(r.Context(), p.ID, r.URL.Query().Get("status"))
	if errors.Is(err, device.ErrInvalidStatus) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	if err != nil {
		internalError(w, "list devices", err)
		return
	}
	if devices == nil {
		devices = []*models.Device{}
	}
	response.JSON(w, devices)
}

// Get handles GET /api/v1/projects/{project}/devices/{deviceID}.
func (h *Devices) Get(w http.ResponseWriter, r *http.Request) {
	p, c, ok := scopedProject(w, r, h.projects)
	if !ok || !requireTier(w, c, auth.TierMaster, auth.TierProject) {
		return
	}
	d, err := h.registry.Get(r.Context(), p.ID, chi.URLParam(r, "deviceID"))
	if err != nil {
		deviceError(w, "get device", err)
		return
	}
	response.JSON(w, d)
}

// Authorize handles PATCH .../devices/{deviceID}/authorize.
func (h *Devices) Authorize(w http.ResponseWriter, r *http.Request) {
	p, c, ok := scopedProject(w, r, h.projects)
	if !ok || !requireTier(w, c, auth.TierMaster, auth.TierProject) {
		return
	}
	d, err := h.registry.Authorize(r.Context(), p.ID, chi.URLParam(r, "deviceID"), c.Actor())
	if err != nil {
		deviceError(w, "authorize device", err)
		return
	}
	response.JSON(w, d)
}

// Reject handles PATCH .../devices/{deviceID}/reject. The device row is
// removed; the response is the final snapshot so the audit log keeps it.
func (h *Devices) Reject(w http.ResponseWriter, r *http.Request) {
	p, c, ok := scopedProject(w, r, h.projects)
	if !ok || !requireTier(w, c, auth.TierMaster, auth.TierProject) {
		return
	}
	id := chi.URLParam(r, "deviceID")
	d, err := h.registry.Get(r.Context(), p.ID, id)
	if err != nil {
		deviceError(w, "reject device", err)
		return
	}
	if err := h.registry.Reject(r.Context(), p.ID, id); err != nil {
		deviceError(w, "reject device", err)
		return
	}

	now := time.Now().UTC()
	actor := c.Actor()
	d.Status = models.DeviceStatusRejected
	d.RejectedAt = &now
	d.RejectedBy = &actor
	response.JSON(w, d)
}

// Delete handles DELETE /api/v1/projects/{project}/devices/{deviceID}.
func (h *Devices) Delete(w http.ResponseWriter, r *http.Request) {
	p, c, ok := scopedProject(w, r, h.projects)
	if !ok || !requireTier(w, c, auth.TierMaster, auth.TierProject) {
		return
	}
	if err := h.registry.Delete(r.Context(), p.ID, chi.URLParam(r, "deviceID")); err != nil {
		deviceError(w, "delete device", err)
		return
	}
	response.NoContent(w)
}

func deviceError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, device.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found", nil)
		return
	}
	internalError(w, op, err)
}
