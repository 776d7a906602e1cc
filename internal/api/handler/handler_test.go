package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/lockbox/internal/api"
	"github.com/kiranshivaraju/lockbox/internal/api/handler"
	mw "github.com/kiranshivaraju/lockbox/internal/api/middleware"
	"github.com/kiranshivaraju/lockbox/internal/audit"
	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/device"
	"github.com/kiranshivaraju/lockbox/internal/store/storetest"
	"github.com/kiranshivaraju/lockbox/internal/vault"
	"github.com/kiranshivaraju/lockbox/pkg/models"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	masterRaw  = "MasterTokenValue0123456789abcdef"
	projectRaw = "ProjectTokenValue0123456789abcde"
	betaRaw    = "BetaProjectToken0123456789abcdef"
	deviceID   = "0123456789abcdef0123456789abcdef"
)

type noLimit struct{}

func (noLimit) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) { return 1, nil }

type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *eventLog) Record(e audit.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return true
}

func (l *eventLog) last(t *testing.T) audit.Event {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.events)
	return l.events[len(l.events)-1]
}

type harness struct {
	t      *testing.T
	store  *storetest.MemStore
	events *eventLog
	router http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := storetest.New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateProject(ctx, &models.Project{ID: "p1", Name: "alpha", CreatedAt: now}))
	require.NoError(t, s.CreateProject(ctx, &models.Project{ID: "p2", Name: "beta", CreatedAt: now}))
	require.NoError(t, s.CreateMasterToken(ctx, &models.MasterToken{
		ID: "m1", Name: auth.MaskToken(masterRaw), TokenHash: auth.HashToken(masterRaw), IsInit: true, CreatedAt: now,
	}))
	require.NoError(t, s.CreateProjectToken(ctx, &models.ProjectToken{
		ID: "t1", ProjectID: "p1", Name: auth.MaskToken(projectRaw), TokenHash: auth.HashToken(projectRaw), CreatedAt: now,
	}))
	require.NoError(t, s.CreateProjectToken(ctx, &models.ProjectToken{
		ID: "t2", ProjectID: "p2", Name: auth.MaskToken(betaRaw), TokenHash: auth.HashToken(betaRaw), CreatedAt: now,
	}))

	authority := auth.NewAuthority(s)
	cipher, err := vault.NewCipher(testKey)
	require.NoError(t, err)
	v := vault.New(s, cipher)
	events := &eventLog{}

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(authority),
		RateLimit: mw.NewRateLimit(noLimit{}, 60),
		Audit:     mw.NewAudit(events, api.HealthPath),
		Projects:  handler.NewProjects(s),
		Secrets:   handler.NewSecrets(s, v),
		Devices:   handler.NewDevices(s, device.NewRegistry(s)),
		Tokens:    handler.NewTokens(s, authority),
	})
	return &harness{t: t, store: s, events: events, router: router}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body["data"].(map[string]any)
}

func dataList(t *testing.T, w *httptest.ResponseRecorder) []any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body["data"].([]any)
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body["error"].(map[string]any)["code"].(string)
}
