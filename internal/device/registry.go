// Package device implements device identity bootstrap: registration,
// auto-approval by tag, authorization, rejection, and the client-side
// poll-until-decided protocol.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/internal/telemetry"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// DeviceIDLength is the length of the client-generated hex fingerprint.
const DeviceIDLength = 32

var (
	ErrInvalidDeviceID = errors.New("device_id must be a 32-character hex string")
	ErrProjectMismatch = errors.New("device already registered for a different project")
	ErrInvalidStatus   = errors.New("status must be one of pending, authorized, rejected")
	ErrNameRequired    = errors.New("device name is required")

	// ErrNotFound is returned for absent devices, including rejected ones.
	ErrNotFound = store.ErrNotFound
)

// DeviceStore is the subset of store.Store the registry uses.
type DeviceStore interface {
	InsertDevice(ctx context.Context, d *models.Device) (*models.Device, bool, error)
	GetDevice(ctx context.Context, projectID, id string) (*models.Device, error)
	ListDevices(ctx context.Context, projectID, status string) ([]*models.Device, error)
	AuthorizeDevice(ctx context.Context, projectID, id, actor string, at time.Time) (*models.Device, error)
	DeleteDevice(ctx context.Context, projectID, id string) error
}

// RegisterParams is everything a registration needs, including the request
// metadata the transport observed.
type RegisterParams struct {
	DeviceID         string
	Name             string
	Tags             []string
	Description      string
	WorkingDirectory string
	UserAgent        string
	ClientIP         string
}

// Registry is the device state machine.
type Registry struct {
	store DeviceStore
	now   func() time.Time
}

// NewRegistry creates a new Registry.
func NewRegistry(s DeviceStore) *Registry {
	return &Registry{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// NormalizeDeviceID trims and lowercases id and validates its shape.
func NormalizeDeviceID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if len(id) != DeviceIDLength {
		return "", ErrInvalidDeviceID
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", ErrInvalidDeviceID
		}
	}
	return id, nil
}

// Register creates a device in project, or returns the existing one when the
// same fingerprint was already registered there. The returned bool reports
// whether a new row was created.
func (r *Registry) Register(ctx context.Context, project *models.Project, p RegisterParams) (*models.Device, bool, error) {
	deviceID, err := NormalizeDeviceID(p.DeviceID)
	if err != nil {
		return nil, false, err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, false, ErrNameRequired
	}

	now := r.now()
	d := &models.Device{
		ID:          store.NewID(),
		ProjectID:   project.ID,
		DeviceToken: auth.HashToken(deviceID),
		Name:        name,
		Status:      models.DeviceStatusPending,
		Info: models.DeviceInfo{
			OS:               DetectOS(p.UserAgent),
			IP:               p.ClientIP,
			UserAgent:        p.UserAgent,
			WorkingDirectory: p.WorkingDirectory,
			Tags:             p.Tags,
			Description:      p.Description,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if d.Info.IP == "" {
		d.Info.IP = "Unknown"
	}

	if project.AutoApprovalTagPattern != nil && len(p.Tags) > 0 {
		if MatchesAutoApproval(ParsePatterns(*project.AutoApprovalTagPattern), p.Tags) {
			actor := models.AutoApprovalActor
			d.Status = models.DeviceStatusAuthorized
			d.AuthorizedAt = &now
			d.AuthorizedBy = &actor
		}
	}

	stored, created, err := r.store.InsertDevice(ctx, d)
	if err != nil {
		return nil, false, fmt.Errorf("register device: %w", err)
	}
	if stored.ProjectID != project.ID {
		return nil, false, ErrProjectMismatch
	}
	if created {
		telemetry.DeviceRegistrationsTotal.WithLabelValues(stored.Status).Inc()
		slog.Info("device registered",
			"device_id", stored.ID, "project", project.Name, "status", stored.Status)
	}
	return stored, created, nil
}

func (r *Registry) Get(ctx context.Context, projectID, id string) (*models.Device, error) {
	return r.store.GetDevice(ctx, projectID, id)
}

// Status returns the device status. A rejected device is ErrNotFound.
func (r *Registry) Status(ctx context.Context, projectID, id string) (string, error) {
	d, err := r.store.GetDevice(ctx, projectID, id)
	if err != nil {
		return "", err
	}
	return d.Status, nil
}

// List returns the project's devices, optionally filtered by status.
func (r *Registry) List(ctx context.Context, projectID, status string) ([]*models.Device, error) {
	switch status {
	case "", models.DeviceStatusPending, models.DeviceStatusAuthorized, models.DeviceStatusRejected:
	default:
		return nil, ErrInvalidStatus
	}
	return r.store.ListDevices(ctx, projectID, status)
}

// Authorize moves a device to authorized, recording actor. Authorizing an
// already authorized device returns it unchanged, authorized_at included.
func (r *Registry) Authorize(ctx context.Context, projectID, id, actor string) (*models.Device, error) {
	d, err := r.store.AuthorizeDevice(ctx, projectID, id, actor, r.now())
	if err == nil {
		slog.Info("device authorized", "device_id", id, "project_id", projectID, "by", actor)
		return d, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// No row changed: either absent or already authorized.
	existing, err := r.store.GetDevice(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != models.DeviceStatusAuthorized {
		return nil, fmt.Errorf("authorize device %s: unexpected status %q", id, existing.Status)
	}
	return existing, nil
}

// Reject removes the device. Callers must record any audit entry first:
// afterwards the device is indistinguishable from one that never existed.
func (r *Registry) Reject(ctx context.Context, projectID, id string) error {
	if err := r.store.DeleteDevice(ctx, projectID, id); err != nil {
		return err
	}
	slog.Info("device rejected", "device_id", id, "project_id", projectID)
	return nil
}

// Delete removes a device regardless of status.
func (r *Registry) Delete(ctx context.Context, projectID, id string) error {
	return r.store.DeleteDevice(ctx, projectID, id)
}
