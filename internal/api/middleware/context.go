package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/lockbox/internal/auth"
)

type contextKey string

const classificationKey contextKey = "classification"

// SetClassification stores the resolved credential in ctx.
func SetClassification(ctx context.Context, c auth.Classification) context.Context {
	return context.WithValue(ctx, classificationKey, c)
}

// GetClassification returns the credential resolved by Authenticate.
func GetClassification(r *http.Request) (auth.Classification, bool) {
	c, ok := r.Context().Value(classificationKey).(auth.Classification)
	return c, ok
}
