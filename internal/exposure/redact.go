package exposure

import (
	"context"
	"strings"

	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/telemetry"
)

const (
	// SentinelExposed replaces a value found exposed in a response.
	SentinelExposed = "***EXPOSED***"
	// SentinelRedacted replaces secret values in request payloads.
	SentinelRedacted = "***REDACTED***"
)

var sentinels = map[string]bool{
	SentinelExposed:     true,
	SentinelRedacted:    true,
	"**** EXPOSED ****": true,
}

// IsRedacted reports whether s is a redaction sentinel or a heavily starred mask.
func IsRedacted(s string) bool {
	return sentinels[s] || (strings.Count(s, "*") > 3 && len(s) > 10)
}

// Redact returns a copy of doc with every response finding's value replaced
// by SentinelExposed. A finding whose path no longer resolves redacts its
// nearest surviving ancestor instead. doc itself is not modified, so the
// value already sent to the caller is unaffected.
func Redact(doc any, findings []Finding) any {
	return redactAt(doc, findings, LocationResponse, SentinelExposed)
}

// RedactRequest is Redact for the request side: request findings are
// replaced by SentinelRedacted. They never count as exposure.
func RedactRequest(doc map[string]any, findings []Finding) map[string]any {
	out, _ := redactAt(doc, findings, LocationRequest, SentinelRedacted).(map[string]any)
	return out
}

func redactAt(doc any, findings []Finding, loc Location, sentinel string) any {
	out := deepCopy(doc)
	for _, f := range findings {
		if f.Location != loc {
			continue
		}
		if !set(out, f.Path, sentinel) {
			setNearest(out, f.Path, sentinel)
		}
	}
	return out
}

// ScanAndRedact runs Detect and returns the response document safe for
// persistence, whether anything was exposed, and the full report.
func (g *Guard) ScanAndRedact(ctx context.Context, req, resp Capture) (any, bool, Report) {
	doc := resp.Document()
	report := g.detect(ctx, req, resp, doc)
	if !report.HasExposure {
		return doc, false, report
	}
	for _, f := range report.ResponseFindings() {
		telemetry.ExposuresDetectedTotal.WithLabelValues(string(f.Kind)).Inc()
	}
	return Redact(doc, report.ResponseFindings()), true, report
}

// MaskRequest returns a copy of a request document with the bearer token in
// the Authorization header and any token-like field shown in display form,
// and every "value" field replaced by SentinelRedacted. Values that are
// already redacted are kept.
func MaskRequest(doc map[string]any) map[string]any {
	out, _ := deepCopy(doc).(map[string]any)
	if out == nil {
		return nil
	}
	if headers, ok := out["headers"].(map[string]any); ok {
		for k, v := range headers {
			if !strings.EqualFold(k, "Authorization") {
				continue
			}
			if raw, ok := v.(string); ok {
				if token := bearerValue(raw); token != "" {
					headers[k] = "Bearer " + auth.MaskToken(token)
				}
			}
		}
	}
	maskFields(out)
	return out
}

func maskFields(node any) {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			lower := strings.ToLower(k)
			str, isStr := v.(string)
			switch {
			case isStr && isTokenField(lower):
				if !IsRedacted(str) {
					n[k] = auth.MaskToken(str)
				}
			case isStr && lower == "value":
				if str != "" && !IsRedacted(str) {
					n[k] = SentinelRedacted
				}
			default:
				maskFields(v)
			}
		}
	case []any:
		for _, item := range n {
			maskFields(item)
		}
	}
}
