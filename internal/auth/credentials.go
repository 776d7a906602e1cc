package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// ErrRevokeCurrent is returned when a caller tries to revoke the master token it is using.
var ErrRevokeCurrent = errors.New("cannot revoke the token currently in use")

// IssuedToken carries a freshly generated raw token. This is the only time the raw value exists.
type IssuedToken struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// MasterTokenInfo is a master token listing entry.
type MasterTokenInfo struct {
	*models.MasterToken
	IsCurrent bool `json:"is_current"`
}

// IssueMasterToken generates and stores a new master token.
func (a *Authority) IssueMasterToken(ctx context.Context) (*IssuedToken, error) {
	count, err := a.store.CountMasterTokens(ctx)
	if err != nil {
		return nil, err
	}
	return a.createMasterToken(ctx, count == 0)
}

func (a *Authority) createMasterToken(ctx context.Context, isInit bool) (*IssuedToken, error) {
	raw, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	t := &models.MasterToken{
		ID:        store.NewID(),
		Name:      MaskToken(raw),
		TokenHash: HashToken(raw),
		IsInit:    isInit,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateMasterToken(ctx, t); err != nil {
		return nil, err
	}
	return &IssuedToken{ID: t.ID, Name: t.Name, Token: raw, CreatedAt: t.CreatedAt}, nil
}

// ListMasterTokens lists master tokens and marks the one current is using.
func (a *Authority) ListMasterTokens(ctx context.Context, current Classification) ([]MasterTokenInfo, error) {
	tokens, err := a.store.ListMasterTokens(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]MasterTokenInfo, 0, len(tokens))
	for _, t := range tokens {
		infos = append(infos, MasterTokenInfo{
			MasterToken: t,
			IsCurrent:   current.Tier == TierMaster && t.ID == current.CredentialID,
		})
	}
	return infos, nil
}

// RevokeMasterToken deletes a master token other than the one current is using.
func (a *Authority) RevokeMasterToken(ctx context.Context, id string, current Classification) error {
	if current.Tier == TierMaster && current.CredentialID == id {
		return ErrRevokeCurrent
	}
	return a.store.DeleteMasterToken(ctx, id)
}

// RotateMasterToken replaces the master token id with a newly generated one.
func (a *Authority) RotateMasterToken(ctx context.Context, id string) (*IssuedToken, error) {
	if err := a.store.DeleteMasterToken(ctx, id); err != nil {
		return nil, err
	}
	return a.createMasterToken(ctx, false)
}

// SeedInitToken stores raw as the initial master token when none exist.
// It reports whether a token was created.
func (a *Authority) SeedInitToken(ctx context.Context, raw string) (bool, error) {
	count, err := a.store.CountMasterTokens(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	err = a.store.CreateMasterToken(ctx, &models.MasterToken{
		ID:        store.NewID(),
		Name:      MaskToken(raw),
		TokenHash: HashToken(raw),
		IsInit:    true,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IssueProjectToken generates and stores a token scoped to projectID.
func (a *Authority) IssueProjectToken(ctx context.Context, projectID string) (*IssuedToken, error) {
	raw, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	t := &models.ProjectToken{
		ID:        store.NewID(),
		ProjectID: projectID,
		Name:      MaskToken(raw),
		TokenHash: HashToken(raw),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateProjectToken(ctx, t); err != nil {
		return nil, err
	}
	return &IssuedToken{ID: t.ID, ProjectID: projectID, Name: t.Name, Token: raw, CreatedAt: t.CreatedAt}, nil
}

func (a *Authority) ListProjectTokens(ctx context.Context, projectID string) ([]*models.ProjectToken, error) {
	return a.store.ListProjectTokens(ctx, projectID)
}

func (a *Authority) RevokeProjectToken(ctx context.Context, projectID, id string) error {
	return a.store.DeleteProjectToken(ctx, projectID, id)
}
