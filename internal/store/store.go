package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kiranshivaraju/lockbox/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, id string, opts ...ProjectUpdateOption) (*models.Project, error)
	DeleteProject(ctx context.Context, id string) error

	CreateMasterToken(ctx context.Context, t *models.MasterToken) error
	GetMasterTokenByHash(ctx context.Context, hash string) (*models.MasterToken, error)
	ListMasterTokens(ctx context.Context) ([]*models.MasterToken, error)
	CountMasterTokens(ctx context.Context) (int, error)
	DeleteMasterToken(ctx context.Context, id string) error
	TouchMasterToken(ctx context.Context, id string) error

	CreateProjectToken(ctx context.Context, t *models.ProjectToken) error
	GetProjectTokenByHash(ctx context.Context, hash string) (*models.ProjectToken, error)
	ListProjectTokens(ctx context.Context, projectID string) ([]*models.ProjectToken, error)
	DeleteProjectToken(ctx context.Context, projectID, id string) error
	TouchProjectToken(ctx context.Context, id string) error

	UpsertSecret(ctx context.Context, s *models.Secret) (*models.Secret, error)
	GetSecret(ctx context.Context, projectID, key string) (*models.Secret, error)
	ListSecrets(ctx context.Context, projectID string) ([]*models.Secret, error)
	ListAllSecrets(ctx context.Context) ([]*models.StoredSecret, error)
	DeleteSecret(ctx context.Context, projectID, key string) error

	// InsertDevice inserts d unless its device token already exists. It returns
	// the stored row and whether this call created it.
	InsertDevice(ctx context.Context, d *models.Device) (*models.Device, bool, error)
	GetDevice(ctx context.Context, projectID, id string) (*models.Device, error)
	GetAuthorizedDeviceByToken(ctx context.Context, token string) (*models.Device, error)
	ListDevices(ctx context.Context, projectID, status string) ([]*models.Device, error)
	// AuthorizeDevice moves a device that is not yet authorized into the
	// authorized state. ErrNotFound is returned when no row changed.
	AuthorizeDevice(ctx context.Context, projectID, id, actor string, at time.Time) (*models.Device, error)
	DeleteDevice(ctx context.Context, projectID, id string) error

	CreateActivity(ctx context.Context, a *models.Activity) error
	DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type projectUpdateParams struct {
	Description            *string
	AutoApprovalTagPattern *string
	clearPattern           bool
}

type ProjectUpdateOption func(*projectUpdateParams)

func WithDescription(desc string) ProjectUpdateOption {
	return func(p *projectUpdateParams) {
		p.Description = &desc
	}
}

// WithAutoApprovalPattern sets the tag pattern. An empty pattern clears it.
func WithAutoApprovalPattern(pattern string) ProjectUpdateOption {
	return func(p *projectUpdateParams) {
		if pattern == "" {
			p.clearPattern = true
			return
		}
		p.AutoApprovalTagPattern = &pattern
	}
}

// ApplyProjectUpdate applies opts to p in memory.
func ApplyProjectUpdate(p *models.Project, opts ...ProjectUpdateOption) {
	params := &projectUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if params.Description != nil {
		p.Description = params.Description
	}
	if params.AutoApprovalTagPattern != nil {
		p.AutoApprovalTagPattern = params.AutoApprovalTagPattern
	} else if params.clearPattern {
		p.AutoApprovalTagPattern = nil
	}
}

// NewID returns a 16-character hex identifier.
func NewID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("store: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
