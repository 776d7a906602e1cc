package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/lockbox/pkg/models"
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxWait      = 300 * time.Second
)

// API is the remote side of the registration protocol. GetDevice returns
// ErrNotFound once a device has been rejected or deleted.
type API interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	RejectDevice(ctx context.Context, id string) error
}

// WaitParams configures WaitForAuthorization.
type WaitParams struct {
	Interval time.Duration
	MaxWait  time.Duration
	// CanReject is set when the caller holds a credential allowed to reject
	// the device once the wait is exhausted.
	CanReject bool
}

// Outcome is the terminal state of a registration wait.
type Outcome struct {
	Status string
	Waited time.Duration
	// Device is the last observed row; nil once the device is gone.
	Device *models.Device
	// AutoRejected is set when the timeout triggered a rejection.
	AutoRejected bool
	Note         string
}

// Authorized reports whether the device may now authenticate.
func (o Outcome) Authorized() bool {
	return o.Status == models.DeviceStatusAuthorized
}

// WaitForAuthorization polls the device every Interval until it is decided
// or MaxWait passes. A device still pending at the deadline is rejected if
// CanReject is set; otherwise it is reported pending. Poll errors other than
// ErrNotFound are logged and polling continues. Cancelling ctx returns
// ctx.Err() and leaves the device pending.
func WaitForAuthorization(ctx context.Context, api API, id string, p WaitParams) (Outcome, error) {
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	if p.MaxWait <= 0 {
		p.MaxWait = DefaultMaxWait
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	start := time.Now()
	var last *models.Device

	for time.Since(start) < p.MaxWait {
		select {
		case <-ctx.Done():
			return Outcome{
				Status: models.DeviceStatusPending,
				Waited: time.Since(start),
				Device: last,
				Note:   "wait cancelled; device is still pending",
			}, ctx.Err()
		case <-ticker.C:
		}

		d, err := api.GetDevice(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			return Outcome{
				Status: models.DeviceStatusRejected,
				Waited: time.Since(start),
				Note:   "device was deleted or rejected on the server",
			}, nil
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			slog.Warn("device status poll failed", "device_id", id, "error", err)
			continue
		}

		last = d
		switch d.Status {
		case models.DeviceStatusAuthorized:
			return Outcome{Status: d.Status, Waited: time.Since(start), Device: d}, nil
		case models.DeviceStatusRejected:
			return Outcome{
				Status: d.Status,
				Waited: time.Since(start),
				Device: d,
				Note:   "device registration was rejected",
			}, nil
		}
	}

	waited := time.Since(start)
	if p.CanReject {
		err := api.RejectDevice(ctx, id)
		if err == nil || errors.Is(err, ErrNotFound) {
			return Outcome{
				Status:       models.DeviceStatusRejected,
				Waited:       waited,
				AutoRejected: true,
				Note:         fmt.Sprintf("device was not authorized within %s and has been rejected", p.MaxWait),
			}, nil
		}
		slog.Warn("automatic rejection after timeout failed", "device_id", id, "error", err)
	}

	note := fmt.Sprintf("device was not authorized within %s; it is still pending and needs manual authorization or rejection", p.MaxWait)
	if !p.CanReject {
		note += "; supply an authorizing credential to reject automatically on timeout"
	}
	return Outcome{
		Status: models.DeviceStatusPending,
		Waited: waited,
		Device: last,
		Note:   note,
	}, nil
}

// LocalAPI serves the protocol from an in-process Registry for one project.
type LocalAPI struct {
	Registry  *Registry
	ProjectID string
}

func (l LocalAPI) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	return l.Registry.Get(ctx, l.ProjectID, id)
}

func (l LocalAPI) RejectDevice(ctx context.Context, id string) error {
	return l.Registry.Reject(ctx, l.ProjectID, id)
}
