package handler_test

import (
	"net/http"
	"testing"

	"github.com/kiranshivaraju/lockbox/internal/exposure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_MasterLifecycle(t *testing.T) {
	h := newHarness(t)

	w := h.do("POST", "/api/v1/master-tokens", masterRaw, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	issued := data(t, w)
	raw := issued["token"].(string)
	assert.Len(t, raw, 32)
	assert.Contains(t, issued["name"], "•")

	e := h.events.last(t)
	require.Len(t, e.Response.Annotations, 1)
	assert.Equal(t, "body.data.token", e.Response.Annotations[0].Path)
	assert.Equal(t, exposure.TokenDetails{
		TokenType: "master", TokenName: issued["name"].(string), TokenID: issued["id"].(string),
	}, e.Response.Annotations[0].Details)

	// The new token works and sees itself as current.
	w = h.do("GET", "/api/v1/master-tokens", raw, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := dataList(t, w)
	require.Len(t, list, 2)
	for _, item := range list {
		m := item.(map[string]any)
		assert.Equal(t, m["id"] == issued["id"], m["is_current"])
		assert.NotContains(t, m, "token_hash")
	}

	// A token cannot revoke itself.
	w = h.do("DELETE", "/api/v1/master-tokens/"+issued["id"].(string), raw, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusNoContent, h.do("DELETE", "/api/v1/master-tokens/"+issued["id"].(string), masterRaw, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do("GET", "/api/v1/master-tokens", raw, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do("DELETE", "/api/v1/master-tokens/missing", masterRaw, nil).Code)
}

func TestTokens_RotateMaster(t *testing.T) {
	h := newHarness(t)
	old := data(t, h.do("POST", "/api/v1/master-tokens", masterRaw, nil))

	w := h.do("POST", "/api/v1/master-tokens/"+old["id"].(string)+"/rotate", masterRaw, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rotated := data(t, w)
	assert.NotEqual(t, old["id"], rotated["id"])
	assert.NotEqual(t, old["token"], rotated["token"])

	assert.Equal(t, http.StatusUnauthorized, h.do("GET", "/api/v1/master-tokens", old["token"].(string), nil).Code)
	assert.Equal(t, http.StatusOK, h.do("GET", "/api/v1/master-tokens", rotated["token"].(string), nil).Code)
	assert.Len(t, h.events.last(t).Response.Annotations, 0)

	assert.Equal(t, http.StatusNotFound, h.do("POST", "/api/v1/master-tokens/missing/rotate", masterRaw, nil).Code)
}

func TestTokens_MasterRoutesRequireMaster(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusForbidden, h.do("POST", "/api/v1/master-tokens", projectRaw, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do("GET", "/api/v1/master-tokens", projectRaw, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do("DELETE", "/api/v1/master-tokens/m1", projectRaw, nil).Code)
}

func TestTokens_ProjectLifecycle(t *testing.T) {
	h := newHarness(t)

	w := h.do("POST", "/api/v1/projects/alpha/tokens", masterRaw, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	issued := data(t, w)
	raw := issued["token"].(string)
	assert.Equal(t, "p1", issued["project_id"])

	e := h.events.last(t)
	require.Len(t, e.Response.Annotations, 1)
	details := e.Response.Annotations[0].Details.(exposure.TokenDetails)
	assert.Equal(t, "project", details.TokenType)
	assert.Equal(t, "alpha", details.ProjectName)

	// The new token is scoped to alpha.
	assert.Equal(t, http.StatusOK, h.do("GET", "/api/v1/projects/alpha/secrets", raw, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do("GET", "/api/v1/projects/beta/secrets", raw, nil).Code)

	w = h.do("GET", "/api/v1/projects/alpha/tokens", projectRaw, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, dataList(t, w), 2)
	assert.NotContains(t, w.Body.String(), raw)

	assert.Equal(t, http.StatusForbidden, h.do("GET", "/api/v1/projects/beta/tokens", projectRaw, nil).Code)

	w = h.do("DELETE", "/api/v1/projects/alpha/tokens/"+issued["id"].(string), masterRaw, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusUnauthorized, h.do("GET", "/api/v1/projects/alpha/secrets", raw, nil).Code)

	// Revoking through the wrong project finds nothing.
	assert.Equal(t, http.StatusNotFound, h.do("DELETE", "/api/v1/projects/beta/tokens/t1", masterRaw, nil).Code)
}

func TestTokens_ProjectTokenCannotMintTokens(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusForbidden, h.do("POST", "/api/v1/projects/alpha/tokens", projectRaw, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do("DELETE", "/api/v1/projects/alpha/tokens/t1", projectRaw, nil).Code)
}
