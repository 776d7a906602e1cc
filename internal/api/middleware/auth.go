package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/lockbox/internal/api/response"
	"github.com/kiranshivaraju/lockbox/internal/auth"
)

// Classifier resolves a bearer value to a credential tier.
type Classifier interface {
	Classify(ctx context.Context, raw string) (auth.Classification, error)
}

// tokenTyper is implemented by the audit capture writer.
type tokenTyper interface {
	SetTokenType(tier string)
}

// Auth provides authentication and tier-checking middleware.
type Auth struct {
	classifier Classifier
}

// NewAuth creates a new Auth middleware.
func NewAuth(c Classifier) *Auth {
	return &Auth{classifier: c}
}

// Authenticate classifies the Bearer token and stores the classification in
// the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			setTokenType(w, "none")
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		c, err := a.classifier.Classify(r.Context(), raw)
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			setTokenType(w, string(auth.TierUnknown))
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid token", nil)
			return
		}
		if err != nil {
			slog.Error("credential classification failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate token", nil)
			return
		}

		setTokenType(w, string(c.Tier))
		next.ServeHTTP(w, r.WithContext(SetClassification(r.Context(), c)))
	})
}

// RequireTier returns middleware that admits only the listed tiers.
func (a *Auth) RequireTier(tiers ...auth.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, _ := GetClassification(r)
			for _, t := range tiers {
				if c.Tier == t {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

// RequireMaster admits master credentials only.
func (a *Auth) RequireMaster(next http.Handler) http.Handler {
	return a.RequireTier(auth.TierMaster)(next)
}

func setTokenType(w http.ResponseWriter, tier string) {
	if t, ok := w.(tokenTyper); ok {
		t.SetTokenType(tier)
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
