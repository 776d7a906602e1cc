package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/lockbox/internal/audit"
	"github.com/kiranshivaraju/lockbox/internal/exposure"
)

const maxCaptureBytes = 1 << 20

// auditedHeaders are the request headers copied into the activity log.
var auditedHeaders = []string{"Authorization", "Content-Type", "User-Agent", "X-Forwarded-For"}

// EventRecorder accepts activity events without blocking.
type EventRecorder interface {
	Record(e audit.Event) bool
}

// Audit captures every API exchange and hands it to the activity recorder.
type Audit struct {
	recorder EventRecorder
	skip     map[string]bool
}

// NewAudit creates the audit middleware. Requests to skipPaths are not recorded.
func NewAudit(rec EventRecorder, skipPaths ...string) *Audit {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &Audit{recorder: rec, skip: skip}
}

// Capture records the request and response once the handler returns.
func (a *Audit) Capture(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		reqBody := readBody(r)
		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK, tokenType: "none"}

		next.ServeHTTP(cw, r)

		var route, project string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
			project = rctx.URLParam("project")
		}

		e := audit.Event{
			Method:      r.Method,
			Path:        r.URL.Path,
			Route:       route,
			ProjectName: project,
			TokenType:   cw.tokenType,
			StatusCode:  cw.status,
			Duration:    time.Since(start),
			Request: exposure.Capture{
				Headers: requestHeaders(r),
				Body:    nilIfEmpty(reqBody),
			},
			Response: exposure.Capture{
				StatusCode:  cw.status,
				Body:        cw.captured(),
				Annotations: cw.annotations,
			},
			At: start.UTC(),
		}
		a.recorder.Record(e)
	})
}

func readBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxCaptureBytes))
	// Replay what was read followed by anything left unread.
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(b), r.Body))
	if err != nil {
		return nil
	}
	return b
}

func requestHeaders(r *http.Request) map[string]string {
	h := make(map[string]string, len(auditedHeaders))
	for _, name := range auditedHeaders {
		if v := r.Header.Get(name); v != "" {
			h[name] = v
		}
	}
	return h
}

func nilIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// captureWriter tees the response body and collects the exposure
// annotations and token tier set further down the chain.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
	overflow    bool
	tokenType   string
	annotations []exposure.Annotation
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.wroteHeader = true
	if !c.overflow {
		if c.body.Len()+len(p) > maxCaptureBytes {
			c.overflow = true
			c.body.Reset()
		} else {
			c.body.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) Annotate(path string, d exposure.Details) {
	c.annotations = append(c.annotations, exposure.Annotation{Path: path, Details: d})
}

func (c *captureWriter) SetTokenType(tier string) { c.tokenType = tier }

// captured returns the response body, or nil when it was empty or too large
// to keep.
func (c *captureWriter) captured() any {
	if c.overflow || c.body.Len() == 0 {
		return nil
	}
	return bytes.Clone(c.body.Bytes())
}
