// Package audit records API activity. Recording is fire-and-forget: events
// are queued to a bounded worker pool, redacted by the exposure guard, and
// persisted. A full queue or a failed write drops the event; neither is ever
// reported to the request that produced it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/lockbox/internal/exposure"
	"github.com/kiranshivaraju/lockbox/internal/telemetry"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

const (
	// MaxDataSize caps the stored size of each request and response payload.
	MaxDataSize = 10 * 1024

	listSummaryThreshold = 10
	listPreviewLength    = 5
	fallbackAlertTTL     = time.Hour
	persistTimeout       = 10 * time.Second
)

// Event is one API exchange to be recorded.
type Event struct {
	Method string
	Path   string
	// Route is the router pattern that matched, used to derive Action.
	Route       string
	ProjectName string
	TokenType   string
	StatusCode  int
	Duration    time.Duration
	Request     exposure.Capture
	Response    exposure.Capture
	At          time.Time
}

// ActivityStore persists activity rows.
type ActivityStore interface {
	CreateActivity(ctx context.Context, a *models.Activity) error
	DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scanner redacts a response before it is stored.
type Scanner interface {
	ScanAndRedact(ctx context.Context, req, resp exposure.Capture) (any, bool, exposure.Report)
}

// Deduper suppresses repeated alerts. SetNX reports whether key was newly set.
type Deduper interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Options configures a Recorder.
type Options struct {
	Workers      int
	QueueSize    int
	FallbackFile string
	// Deduper limits the unannotated-response warning to one per route per
	// hour. When nil every occurrence is logged.
	Deduper Deduper
}

// Recorder queues events and persists them from a fixed set of workers.
type Recorder struct {
	store   ActivityStore
	scanner Scanner
	opts    Options

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	fileMu sync.Mutex
}

// NewRecorder starts opts.Workers workers.
func NewRecorder(s ActivityStore, sc Scanner, opts Options) *Recorder {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	r := &Recorder{
		store:   s,
		scanner: sc,
		opts:    opts,
		queue:   make(chan Event, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Record enqueues e without blocking. It reports whether e was accepted.
func (r *Recorder) Record(e Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		telemetry.AuditEventsDroppedTotal.Inc()
		return false
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case r.queue <- e:
		return true
	default:
		telemetry.AuditEventsDroppedTotal.Inc()
		slog.Warn("audit queue full, dropping event", "method", e.Method, "path", e.Path)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be written or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain audit queue: %w", ctx.Err())
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for e := range r.queue {
		r.process(e)
	}
}

func (r *Recorder) process(e Event) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("recovered panic in audit worker", "panic", p, "path", e.Path)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	a := r.build(ctx, e)
	if err := r.store.CreateActivity(ctx, a); err != nil {
		r.fallback(e, err)
	}
}

// build turns e into a persistable row. Everything confidential is redacted
// or masked here, before the row leaves memory.
func (r *Recorder) build(ctx context.Context, e Event) *models.Activity {
	redacted, exposed, report := r.scanner.ScanAndRedact(ctx, e.Request, e.Response)
	if report.Fallback {
		r.alertUnannotated(ctx, e)
	}
	if exposed {
		slog.Warn("confidential data exposed in response; redacted before storage",
			"method", e.Method, "route", e.Route, "findings", len(report.ResponseFindings()))
	}

	a := &models.Activity{
		ID:                      uuid.New(),
		Method:                  e.Method,
		Path:                    e.Path,
		Action:                  ActionFor(e.Method, e.Route),
		TokenType:               e.TokenType,
		StatusCode:              e.StatusCode,
		ExecutionTimeMS:         e.Duration.Milliseconds(),
		ExposedConfidentialData: exposed,
		CreatedAt:               e.At,
	}
	if a.TokenType == "" {
		a.TokenType = models.TokenTypeNone
	}
	if e.ProjectName != "" {
		name := e.ProjectName
		a.ProjectName = &name
	}

	if reqDoc := e.Request.Document(); len(reqDoc) > 0 {
		a.RequestData = encode(exposure.MaskRequest(exposure.RedactRequest(reqDoc, report.Findings)))
	}

	respDoc, _ := redacted.(map[string]any)
	if respDoc == nil {
		respDoc = map[string]any{}
	}
	summarize(respDoc)
	respDoc["exposed_confidential_data"] = exposed
	a.ResponseData = encode(respDoc)
	return a
}

// alertUnannotated logs that a response reached the guard without
// annotations, at most once per route per hour when a Deduper is set.
func (r *Recorder) alertUnannotated(ctx context.Context, e Event) {
	if r.opts.Deduper != nil {
		key := fmt.Sprintf("audit:unannotated:%s:%s", e.Method, e.Route)
		first, err := r.opts.Deduper.SetNX(ctx, key, []byte("1"), fallbackAlertTTL)
		if err == nil && !first {
			return
		}
	}
	slog.Warn("response was not annotated; full-vault exposure scan ran",
		"method", e.Method, "route", e.Route, "status", e.StatusCode)
}

// summarize shortens long lists in a response body: a top-level list becomes
// a summary with a preview, and long lists inside an object are cut.
func summarize(doc map[string]any) {
	switch body := doc["body"].(type) {
	case []any:
		if len(body) > listSummaryThreshold {
			doc["body"] = map[string]any{
				"_summary": fmt.Sprintf("List with %d items", len(body)),
				"_preview": body[:listPreviewLength],
			}
		}
	case map[string]any:
		for k, v := range body {
			if list, ok := v.([]any); ok && len(list) > listSummaryThreshold {
				cut := append([]any{}, list[:listPreviewLength]...)
				body[k] = append(cut, fmt.Sprintf("... (%d more items)", len(list)-listPreviewLength))
			}
		}
	}
}

// encode marshals v, replacing it with a truncated text preview when the
// JSON exceeds MaxDataSize.
func encode(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": "failed to serialize: " + err.Error()})
		return raw
	}
	if len(raw) <= MaxDataSize {
		return raw
	}
	raw, _ = json.Marshal(map[string]any{
		"_truncated": true,
		"_preview":   string(raw[:MaxDataSize]),
	})
	return raw
}

// fallback reports a failed write to stderr and, when configured, appends a
// line to the fallback file. The event payload is not included.
func (r *Recorder) fallback(e Event, cause error) {
	telemetry.AuditWriteFailuresTotal.Inc()
	slog.Error("failed to record activity", "method", e.Method, "path", e.Path, "error", cause)

	if r.opts.FallbackFile == "" {
		return
	}
	line, _ := json.Marshal(map[string]any{
		"time":   time.Now().UTC().Format(time.RFC3339),
		"method": e.Method,
		"path":   e.Path,
		"status": e.StatusCode,
		"error":  cause.Error(),
	})

	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	f, err := os.OpenFile(r.opts.FallbackFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		slog.Error("failed to open audit fallback file", "file", r.opts.FallbackFile, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("failed to write audit fallback file", "file", r.opts.FallbackFile, "error", err)
	}
}

// Cleanup deletes activities older than retention.
func Cleanup(ctx context.Context, s ActivityStore, retention time.Duration) (int64, error) {
	n, err := s.DeleteActivitiesBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete old activities: %w", err)
	}
	if n > 0 {
		slog.Info("old activities removed", "count", n, "retention", retention.String())
	}
	return n, nil
}

// RunCleanup calls Cleanup immediately and then every interval until ctx ends.
func RunCleanup(ctx context.Context, s ActivityStore, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := Cleanup(ctx, s, retention); err != nil {
			slog.Error("activity cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
