// Package auth classifies bearer credentials into the master, project, and
// device tiers and checks that a classification may act on a project.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/internal/telemetry"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccessDenied         = errors.New("access denied")
)

// Tier is the credential class a bearer value resolves to.
type Tier string

const (
	TierMaster  Tier = "master"
	TierProject Tier = "project"
	TierDevice  Tier = "device"
	TierUnknown Tier = "unknown"
)

// Classification is the result of resolving a bearer credential.
type Classification struct {
	Tier Tier
	// ProjectID is empty for master credentials.
	ProjectID    string
	CredentialID string
	// Fingerprint is the stored hash the credential matched on.
	Fingerprint string
}

// Actor identifies the credential in authorized_by style audit fields.
func (c Classification) Actor() string {
	switch c.Tier {
	case TierMaster:
		return "master_token:" + c.CredentialID
	case TierProject:
		return "project_token:" + c.CredentialID
	case TierDevice:
		return "device:" + c.CredentialID
	}
	return string(TierUnknown)
}

// CredentialStore is the subset of store.Store the authority reads and writes.
type CredentialStore interface {
	GetMasterTokenByHash(ctx context.Context, hash string) (*models.MasterToken, error)
	GetAuthorizedDeviceByToken(ctx context.Context, token string) (*models.Device, error)
	GetProjectTokenByHash(ctx context.Context, hash string) (*models.ProjectToken, error)
	TouchMasterToken(ctx context.Context, id string) error
	TouchProjectToken(ctx context.Context, id string) error

	CreateMasterToken(ctx context.Context, t *models.MasterToken) error
	ListMasterTokens(ctx context.Context) ([]*models.MasterToken, error)
	CountMasterTokens(ctx context.Context) (int, error)
	DeleteMasterToken(ctx context.Context, id string) error

	CreateProjectToken(ctx context.Context, t *models.ProjectToken) error
	ListProjectTokens(ctx context.Context, projectID string) ([]*models.ProjectToken, error)
	DeleteProjectToken(ctx context.Context, projectID, id string) error
}

// Authority resolves and administers credentials.
type Authority struct {
	store CredentialStore
}

// NewAuthority creates a new Authority.
func NewAuthority(s CredentialStore) *Authority {
	return &Authority{store: s}
}

// Classify resolves raw to exactly one tier. Master hashes are checked first,
// then authorized device tokens when raw has the device token shape, then
// project hashes. An unmatched credential returns TierUnknown with
// ErrAuthenticationFailed.
func (a *Authority) Classify(ctx context.Context, raw string) (Classification, error) {
	c, err := a.classify(ctx, raw)
	if err == nil || errors.Is(err, ErrAuthenticationFailed) {
		telemetry.CredentialClassificationsTotal.WithLabelValues(string(c.Tier)).Inc()
	}
	return c, err
}

func (a *Authority) classify(ctx context.Context, raw string) (Classification, error) {
	unknown := Classification{Tier: TierUnknown}
	if raw == "" {
		return unknown, ErrAuthenticationFailed
	}
	hash := HashToken(raw)

	mt, err := a.store.GetMasterTokenByHash(ctx, hash)
	switch {
	case err == nil:
		a.touch(ctx, TierMaster, mt.ID, a.store.TouchMasterToken)
		return Classification{Tier: TierMaster, CredentialID: mt.ID, Fingerprint: hash}, nil
	case !errors.Is(err, store.ErrNotFound):
		return unknown, fmt.Errorf("lookup master token: %w", err)
	}

	if IsDeviceTokenShape(raw) {
		token := strings.ToLower(raw)
		d, err := a.store.GetAuthorizedDeviceByToken(ctx, token)
		switch {
		case err == nil:
			return Classification{
				Tier:         TierDevice,
				ProjectID:    d.ProjectID,
				CredentialID: d.ID,
				Fingerprint:  token,
			}, nil
		case !errors.Is(err, store.ErrNotFound):
			return unknown, fmt.Errorf("lookup device token: %w", err)
		}
	}

	pt, err := a.store.GetProjectTokenByHash(ctx, hash)
	switch {
	case err == nil:
		a.touch(ctx, TierProject, pt.ID, a.store.TouchProjectToken)
		return Classification{
			Tier:         TierProject,
			ProjectID:    pt.ProjectID,
			CredentialID: pt.ID,
			Fingerprint:  hash,
		}, nil
	case !errors.Is(err, store.ErrNotFound):
		return unknown, fmt.Errorf("lookup project token: %w", err)
	}

	return unknown, ErrAuthenticationFailed
}

// touch records last use. A failure does not fail classification.
func (a *Authority) touch(ctx context.Context, tier Tier, id string, fn func(context.Context, string) error) {
	if err := fn(ctx, id); err != nil {
		slog.Warn("failed to update credential last used",
			"tier", tier, "credential_id", id, "error", err)
	}
}

// VerifyScope allows master credentials everywhere and project or device
// credentials only on their own project.
func VerifyScope(c Classification, projectID string) error {
	switch c.Tier {
	case TierMaster:
		return nil
	case TierProject, TierDevice:
		if c.ProjectID != "" && c.ProjectID == projectID {
			return nil
		}
	}
	return ErrAccessDenied
}

// RequireMaster returns ErrAccessDenied unless c is a master credential.
func RequireMaster(c Classification) error {
	if c.Tier != TierMaster {
		return ErrAccessDenied
	}
	return nil
}
