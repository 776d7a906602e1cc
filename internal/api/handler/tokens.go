package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/lockbox/internal/api/middleware"
	"github.com/kiranshivaraju/lockbox/internal/api/response"
	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/exposure"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// TokenIssuer is the credential administration part of auth.Authority.
type TokenIssuer interface {
	IssueMasterToken(ctx context.Context) (*auth.IssuedToken, error)
	ListMasterTokens(ctx context.Context, current auth.Classification) ([]auth.MasterTokenInfo, error)
	RevokeMasterToken(ctx context.Context, id string, current auth.Classification) error
	RotateMasterToken(ctx context.Context, id string) (*auth.IssuedToken, error)
	IssueProjectToken(ctx context.Context, projectID string) (*auth.IssuedToken, error)
	ListProjectTokens(ctx context.Context, projectID string) ([]*models.ProjectToken, error)
	RevokeProjectToken(ctx context.Context, projectID, id string) error
}

// Tokens serves master and project token administration. Issued tokens are
// returned once and annotated for the audit log.
type Tokens struct {
	projects ProjectStore
	issuer   TokenIssuer
}

func NewTokens(p ProjectStore, issuer TokenIssuer) *Tokens {
	return &Tokens{projects: p, issuer: issuer}
}

// CreateMaster handles POST /api/v1/master-tokens.
func (h *Tokens) CreateMaster(w http.ResponseWriter, r *http.Request) {
	t, err := h.issuer.IssueMasterToken(r.Context())
	if err != nil {
		internalError(w, "issue master token", err)
		return
	}
	annotateIssued(w, t, models.TokenTypeMaster, "")
	response.Created(w, t)
}

// ListMaster handles GET /api/v1/master-tokens.
func (h *Tokens) ListMaster(w http.ResponseWriter, r *http.Request) {
	c, _ := mw.GetClassification(r)
	tokens, err := h.issuer.ListMasterTokens(r.Context(), c)
	if err != nil {
		internalError(w, "list master tokens", err)
		return
	}
	response.JSON(w, tokens)
}

// RevokeMaster handles DELETE /api/v1/master-tokens/{tokenID}.
func (h *Tokens) RevokeMaster(w http.ResponseWriter, r *http.Request) {
	c, _ := mw.GetClassification(r)
	err := h.issuer.RevokeMasterToken(r.Context(), chi.URLParam(r, "tokenID"), c)
	switch {
	case errors.Is(err, auth.ErrRevokeCurrent):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "TOKEN_NOT_FOUND", "Token not found", nil)
	case err != nil:
		internalError(w, "revoke master token", err)
	default:
		response.NoContent(w)
	}
}

// RotateMaster handles POST /api/v1/master-tokens/{tokenID}/rotate.
func (h *Tokens) RotateMaster(w http.ResponseWriter, r *http.Request) {
	t, err := h.issuer.RotateMasterToken(r.Context(), chi.URLParam(r, "tokenID"))
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "TOKEN_NOT_FOUND", "Token not found", nil)
		return
	}
	if err != nil {
		internalError(w, "rotate master token", err)
		return
	}
	annotateIssued(w, t, models.TokenTypeMaster, "")
	response.JSON(w, t)
}

// CreateProject handles POST /api/v1/projects/{project}/tokens. Master only.
func (h *Tokens) CreateProject(w http.ResponseWriter, r *http.Request) {
	p, ok := lookupProject(w, r, h.projects)
	if !ok {
		return
	}
	t, err := h.issuer.IssueProjectToken(r.Context(), p.ID)
	if err != nil {
		internalError(w, "issue project token", err)
		return
	}
	annotateIssued(w, t, models.TokenTypeProject, p.Name)
	response.Created(w, t)
}

// ListProject handles GET /api/v1/projects/{project}/tokens.
func (h *Tokens) ListProject(w http.ResponseWriter, r *http.Request) {
	p, c, ok := scopedProject(w, r, h.projects)
	if !ok || !requireTier(w, c, auth.TierMaster, auth.TierProject) {
		return
	}
	tokens, err := h.issuer.ListProjectTokens(r.Context(), p.ID)
	if err != nil {
		internalError(w, "list project tokens", err)
		return
	}
	if tokens == nil {
		tokens = []*models.ProjectToken{}
	}
	response.JSON(w, tokens)
}

// RevokeProject handles DELETE /api/v1/projects/{project}/tokens/{tokenID}. Master only.
func (h *Tokens) RevokeProject(w http.ResponseWriter, r *http.Request) {
	p, ok := lookupProject(w, r, h.projects)
	if !ok {
		return
	}
	err := h.issuer.RevokeProjectToken(r.Context(), p.ID, chi.URLParam(r, "tokenID"))
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "TOKEN_NOT_FOUND", "Token not found", nil)
		return
	}
	if err != nil {
		internalError(w, "revoke project token", err)
		return
	}
	response.NoContent(w)
}

func annotateIssued(w http.ResponseWriter, t *auth.IssuedToken, tokenType, projectName string) {
	response.Annotate(w, "token", exposure.TokenDetails{
		TokenType:   tokenType,
		TokenName:   t.Name,
		TokenID:     t.ID,
		ProjectName: projectName,
	})
}
