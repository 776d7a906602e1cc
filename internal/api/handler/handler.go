// Package handler holds the HTTP handlers. Each handler decodes the request,
// calls one core operation, and maps its sentinel errors to the error envelope.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/lockbox/internal/api/middleware"
	"github.com/kiranshivaraju/lockbox/internal/api/response"
	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// ProjectStore is the project part of store.Store.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, id string, opts ...store.ProjectUpdateOption) (*models.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// scopedProject loads the {project} URL parameter and checks the caller may
// act on it. On failure it writes the error response and returns false.
func scopedProject(w http.ResponseWriter, r *http.Request, projects ProjectStore) (*models.Project, auth.Classification, bool) {
	c, ok := mw.GetClassification(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing credentials", nil)
		return nil, c, false
	}
	p, ok := lookupProject(w, r, projects)
	if !ok {
		return nil, c, false
	}
	if err := auth.VerifyScope(c, p.ID); err != nil {
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "Credential is not valid for this project", nil)
		return nil, c, false
	}
	return p, c, true
}

func lookupProject(w http.ResponseWriter, r *http.Request, projects ProjectStore) (*models.Project, bool) {
	name := chi.URLParam(r, "project")
	p, err := projects.GetProjectByName(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found", nil)
		return nil, false
	}
	if err != nil {
		internalError(w, "get project", err)
		return nil, false
	}
	return p, true
}

// requireTier writes 403 unless c is one of tiers.
func requireTier(w http.ResponseWriter, c auth.Classification, tiers ...auth.Tier) bool {
	for _, t := range tiers {
		if c.Tier == t {
			return true
		}
	}
	response.Error(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
	return false
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

func internalError(w http.ResponseWriter, op string, err error) {
	slog.Error("request failed", "op", op, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
