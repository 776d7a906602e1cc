package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	mw "github.com/kiranshivaraju/lockbox/internal/api/middleware"
	"github.com/kiranshivaraju/lockbox/internal/api/response"
	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Projects serves the project endpoints.
type Projects struct {
	store ProjectStore
}

func NewProjects(s ProjectStore) *Projects {
	return &Projects{store: s}
}

type projectRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Pattern     json.RawMessage `json:"auto_approval_tag_pattern"`
}

// Create handles POST /api/v1/projects. Master only.
func (h *Projects) Create(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !projectNamePattern.MatchString(req.Name) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"name must be 1-64 letters, digits, '.', '_' or '-'", nil)
		return
	}
	pattern, ok := normalizePattern(w, req.Pattern)
	if !ok {
		return
	}

	p := &models.Project{
		ID:                     store.NewID(),
		Name:                   req.Name,
		Description:            req.Description,
		AutoApprovalTagPattern: pattern,
		CreatedAt:              time.Now().UTC(),
	}
	err := h.store.CreateProject(r.Context(), p)
	if errors.Is(err, store.ErrDuplicateKey) {
		response.Error(w, http.StatusConflict, "PROJECT_EXISTS", "A project with this name already exists", nil)
		return
	}
	if err != nil {
		internalError(w, "create project", err)
		return
	}
	response.Created(w, p)
}

// List handles GET /api/v1/projects. Scoped credentials see only their own project.
func (h *Projects) List(w http.ResponseWriter, r *http.Request) {
	c, _ := mw.GetClassification(r)
	if c.Tier != auth.TierMaster {
		p, err := h.store.GetProject(r.Context(), c.ProjectID)
		if err != nil {
			internalError(w, "get project", err)
			return
		}
		response.JSON(w, []*models.Project{p})
		return
	}

	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		internalError(w, "list projects", err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	response.JSON(w, projects)
}

// Get handles GET /api/v1/projects/{project}.
func (h *Projects) Get(w http.ResponseWriter, r *http.Request) {
	p, _, ok := scopedProject(w, r, h.store)
	if !ok {
		return
	}
	response.JSON(w, p)
}

// Update handles PATCH /api/v1/projects/{project}. Master only. An empty or
// null auto_approval_tag_pattern clears the pattern.
func (h *Projects) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := lookupProject(w, r, h.store)
	if !ok {
		return
	}
	var req projectRequest
	if !decode(w, r, &req) {
		return
	}

	var opts []store.ProjectUpdateOption
	if req.Description != nil {
		opts = append(opts, store.WithDescription(*req.Description))
	}
	if req.Pattern != nil {
		pattern, ok := normalizePattern(w, req.Pattern)
		if !ok {
			return
		}
		if pattern == nil {
			opts = append(opts, store.WithAutoApprovalPattern(""))
		} else {
			opts = append(opts, store.WithAutoApprovalPattern(*pattern))
		}
	}

	updated, err := h.store.UpdateProject(r.Context(), p.ID, opts...)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found", nil)
		return
	}
	if err != nil {
		internalError(w, "update project", err)
		return
	}
	response.JSON(w, updated)
}

// Delete handles DELETE /api/v1/projects/{project}. Master only; cascades to
// tokens, secrets, and devices.
func (h *Projects) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := lookupProject(w, r, h.store)
	if !ok {
		return
	}
	err := h.store.DeleteProject(r.Context(), p.ID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found", nil)
		return
	}
	if err != nil {
		internalError(w, "delete project", err)
		return
	}
	response.NoContent(w)
}

// normalizePattern accepts a string or a list of strings and returns the
// stored form: the string itself, or the list as JSON.
func normalizePattern(w http.ResponseWriter, raw json.RawMessage) (*string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return nil, true
		}
		return &s, true
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"auto_approval_tag_pattern must be a string or a list of strings", nil)
		return nil, false
	}
	if len(list) == 0 {
		return nil, true
	}
	b, _ := json.Marshal(list)
	encoded := string(b)
	return &encoded, true
}
