package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/lockbox/internal/api/response"
	"github.com/kiranshivaraju/lockbox/internal/exposure"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/internal/vault"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

var secretKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,255}$`)

// SecretVault is the part of vault.Vault the handlers call.
type SecretVault interface {
	Put(ctx context.Context, projectID, key, plaintext string) (*models.Secret, error)
	Get(ctx context.Context, projectID, key string) (string, *models.Secret, error)
	ListKeys(ctx context.Context, projectID string) ([]*models.Secret, error)
	Delete(ctx context.Context, projectID, key string) error
}

// Secrets serves the secret endpoints.
type Secrets struct {
	projects ProjectStore
	vault    SecretVault
}

func NewSecrets(p ProjectStore, v SecretVault) *Secrets {
	return &Secrets{projects: p, vault: v}
}

type secretValue struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Put handles POST /api/v1/projects/{project}/secrets. The response echoes
// metadata only.
func (h *Secrets) Put(w http.ResponseWriter, r *http.Request) {
	p, _, ok := scopedProject(w, r, h.projects)
	if !ok {
		return
	}
	var req struct {
		Key   string  `json:"key"`
		Value *string `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !secretKeyPattern.MatchString(req.Key) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"key must be 1-255 letters, digits, '.', '_' or '-'", nil)
		return
	}
	if req.Value == nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "value is required", nil)
		return
	}

	secret, err := h.vault.Put(r.Context(), p.ID, req.Key, *req.Value)
	if err != nil {
		secretError(w, "put secret", err)
		return
	}
	response.Created(w, secret)
}

// Get handles GET /api/v1/projects/{project}/secrets/{key}. The decrypted
// value is annotated so the audit log redacts it.
func (h *Secrets) Get(w http.ResponseWriter, r *http.Request) {
	p, _, ok := scopedProject(w, r, h.projects)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	value, secret, err := h.vault.Get(r.Context(), p.ID, key)
	if err != nil {
		secretError(w, "get secret", err)
		return
	}
	response.Annotate(w, "value", exposure.SecretDetails{
		SecretKey:   secret.Key,
		ProjectName: p.Name,
		SecretID:    secret.ID,
	})
	response.JSON(w, secretValue{
		ID:        secret.ID,
		Key:       secret.Key,
		Value:     value,
		CreatedAt: secret.CreatedAt,
		UpdatedAt: secret.UpdatedAt,
	})
}

// List handles GET /api/v1/projects/{project}/secrets. Keys only.
func (h *Secrets) List(w http.ResponseWriter, r *http.Request) {
	p, _, ok := scopedProject(w, r, h.projects)
	if !ok {
		return
	}
	secrets, err := h.vault.ListKeys(r.Context(), p.ID)
	if err != nil {
		secretError(w, "list secrets", err)
		return
	}
	if secrets == nil {
		secrets = []*models.Secret{}
	}
	response.JSON(w, secrets)
}

// Delete handles DELETE /api/v1/projects/{project}/secrets/{key}.
func (h *Secrets) Delete(w http.ResponseWriter, r *http.Request) {
	p, _, ok := scopedProject(w, r, h.projects)
	if !ok {
		return
	}
	if err := h.vault.Delete(r.Context(), p.ID, chi.URLParam(r, "key")); err != nil {
		secretError(w, "delete secret", err)
		return
	}
	response.NoContent(w)
}

func secretError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "SECRET_NOT_FOUND", "Secret not found", nil)
	case errors.Is(err, vault.ErrEncryptionFailure):
		slog.Error("vault encryption failure", "op", op, "error", err)
		response.Error(w, http.StatusInternalServerError, "ENCRYPTION_FAILURE", "Secret could not be processed", nil)
	default:
		internalError(w, op, err)
	}
}
