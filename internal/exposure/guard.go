package exposure

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/internal/telemetry"
	"github.com/kiranshivaraju/lockbox/internal/vault"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// Location says which side of an exchange a finding came from.
type Location string

const (
	LocationRequest  Location = "request"
	LocationResponse Location = "response"
)

// longStringThreshold is the length above which any string field is compared
// during a fallback scan, whatever its key.
const longStringThreshold = 10

var tokenFields = []string{"token", "master_token", "api_token", "access_token", "bearer_token", "auth_token"}

var (
	textValueRe = regexp.MustCompile(`(?i)["']value["']\s*:\s*["']([^"']+)["']`)
	textTokenRe = regexp.MustCompile(`(?i)["']token["']\s*:\s*["']([^"']+)["']`)
)

// Finding is one confidential value observed unmasked.
type Finding struct {
	Kind     Kind     `json:"type"`
	Location Location `json:"location"`
	// Path is relative to the capture document, e.g. "body.data.value".
	Path    string  `json:"path"`
	Details Details `json:"details"`
}

// FieldPath is the path prefixed by its location, e.g. "response.body.value".
func (f Finding) FieldPath() string {
	return string(f.Location) + "." + f.Path
}

// Report is the result of Detect. Only response findings set HasExposure.
type Report struct {
	HasExposure bool      `json:"has_exposure"`
	Findings    []Finding `json:"findings"`
	// Fallback is set when the full-vault scan ran.
	Fallback bool `json:"fallback_scan"`
}

// ResponseFindings returns the findings that count as exposure.
func (r Report) ResponseFindings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Location == LocationResponse {
			out = append(out, f)
		}
	}
	return out
}

// SecretSource yields a decrypted snapshot of every stored secret.
type SecretSource interface {
	Plaintexts(ctx context.Context) ([]vault.Plaintext, error)
}

// CredentialSource resolves credential hashes for the fallback scan.
type CredentialSource interface {
	GetMasterTokenByHash(ctx context.Context, hash string) (*models.MasterToken, error)
	GetProjectTokenByHash(ctx context.Context, hash string) (*models.ProjectToken, error)
	GetAuthorizedDeviceByToken(ctx context.Context, token string) (*models.Device, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Guard detects and redacts exposed confidential values.
type Guard struct {
	secrets SecretSource
	creds   CredentialSource
}

// NewGuard creates a Guard backed by the vault and the credential store.
func NewGuard(secrets SecretSource, creds CredentialSource) *Guard {
	return &Guard{secrets: secrets, creds: creds}
}

// Detect reports confidential values left in resp. Annotated responses are
// checked only at their annotated paths. Unannotated responses
// are compared field by field against every stored secret and credential;
// req is scanned too, but request findings never set HasExposure.
func (g *Guard) Detect(ctx context.Context, req, resp Capture) Report {
	return g.detect(ctx, req, resp, resp.Document())
}

func (g *Guard) detect(ctx context.Context, req, resp Capture, respDoc map[string]any) Report {
	if len(resp.Annotations) > 0 {
		return detectAnnotated(respDoc, resp.Annotations)
	}

	telemetry.ExposureFallbackScansTotal.Inc()
	slog.Debug("running fallback exposure scan", "status", resp.StatusCode)

	s := &scan{ctx: ctx, guard: g, tokenCache: map[string]*TokenDetails{}}
	report := Report{Fallback: true}
	report.Findings = append(report.Findings, s.document(req.Document(), LocationRequest)...)
	report.Findings = append(report.Findings, s.document(respDoc, LocationResponse)...)
	report.HasExposure = len(report.ResponseFindings()) > 0
	return report
}

func detectAnnotated(doc map[string]any, anns []Annotation) Report {
	var report Report
	for _, a := range anns {
		v, ok := lookup(doc, a.Path)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" || IsRedacted(s) {
			continue
		}
		report.Findings = append(report.Findings, Finding{
			Kind:     a.Details.Kind(),
			Location: LocationResponse,
			Path:     a.Path,
			Details:  a.Details,
		})
	}
	report.HasExposure = len(report.Findings) > 0
	return report
}

// scan is the state of one fallback pass. The secret snapshot is loaded at
// most once, so every comparison in the pass sees the same vault contents.
type scan struct {
	ctx   context.Context
	guard *Guard

	loaded     bool
	secrets    map[string]vault.Plaintext
	tokenCache map[string]*TokenDetails
}

func (s *scan) document(doc map[string]any, loc Location) []Finding {
	if len(doc) == 0 {
		return nil
	}
	var findings []Finding
	if text, ok := doc["body"].(string); ok {
		findings = append(findings, s.text(text, loc)...)
		doc = withoutKey(doc, "body")
	}
	findings = append(findings, s.walkSecrets(doc, "", loc)...)
	if loc == LocationResponse {
		findings = append(findings, s.walkTokens(doc, "", loc)...)
	}
	return findings
}

func withoutKey(doc map[string]any, key string) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// text scans a non-JSON body for quoted value and token assignments. A match
// taints the whole body, so the finding path is "body".
func (s *scan) text(body string, loc Location) []Finding {
	var findings []Finding
	for _, m := range textValueRe.FindAllStringSubmatch(body, -1) {
		if looksMasked(m[1]) {
			continue
		}
		if d := s.secretInfo(m[1]); d != nil {
			findings = append(findings, Finding{Kind: KindSecret, Location: loc, Path: "body", Details: *d})
		}
	}
	if loc != LocationResponse {
		return findings
	}
	for _, m := range textTokenRe.FindAllStringSubmatch(body, -1) {
		if looksMasked(m[1]) || strings.Contains(m[1], "...") || len(m[1]) <= 8 {
			continue
		}
		if d := s.tokenInfo(m[1]); d != nil {
			findings = append(findings, Finding{Kind: KindToken, Location: loc, Path: "body", Details: *d})
		}
	}
	return findings
}

func (s *scan) walkSecrets(node any, path string, loc Location) []Finding {
	var findings []Finding
	switch n := node.(type) {
	case map[string]any:
		if v, ok := n["value"].(string); ok && v != "" && !looksMasked(v) {
			if d := s.secretInfo(v); d != nil {
				findings = append(findings, Finding{Kind: KindSecret, Location: loc, Path: joinKey(path, "value"), Details: *d})
			}
		}
		for k, v := range n {
			if k == "value" {
				continue
			}
			switch val := v.(type) {
			case map[string]any, []any:
				findings = append(findings, s.walkSecrets(val, joinKey(path, k), loc)...)
			case string:
				if len(val) > longStringThreshold && !looksMasked(val) {
					if d := s.secretInfo(val); d != nil {
						findings = append(findings, Finding{Kind: KindSecret, Location: loc, Path: joinKey(path, k), Details: *d})
					}
				}
			}
		}
	case []any:
		for i, item := range n {
			p := joinIndex(path, i)
			if str, ok := item.(string); ok {
				if len(str) > longStringThreshold && !looksMasked(str) {
					if d := s.secretInfo(str); d != nil {
						findings = append(findings, Finding{Kind: KindSecret, Location: loc, Path: p, Details: *d})
					}
				}
				continue
			}
			findings = append(findings, s.walkSecrets(item, p, loc)...)
		}
	}
	return findings
}

func (s *scan) walkTokens(node any, path string, loc Location) []Finding {
	var findings []Finding
	check := func(p, v string) {
		if looksMasked(v) || strings.Contains(v, "...") {
			return
		}
		if d := s.tokenInfo(v); d != nil {
			findings = append(findings, Finding{Kind: KindToken, Location: loc, Path: p, Details: *d})
		}
	}

	switch n := node.(type) {
	case map[string]any:
		for _, f := range tokenFields {
			if v, ok := n[f].(string); ok && len(v) > 8 {
				check(joinKey(path, f), v)
			}
		}
		if headers, ok := n["headers"].(map[string]any); ok {
			for k, v := range headers {
				if !strings.EqualFold(k, "Authorization") {
					continue
				}
				if raw, ok := v.(string); ok {
					if token := bearerValue(raw); len(token) > 8 {
						check(joinKey(joinKey(path, "headers"), k), token)
					}
				}
			}
		}
		for k, v := range n {
			if k == "headers" || isTokenField(k) {
				continue
			}
			switch val := v.(type) {
			case map[string]any, []any:
				findings = append(findings, s.walkTokens(val, joinKey(path, k), loc)...)
			case string:
				if len(val) > longStringThreshold {
					check(joinKey(path, k), val)
				}
			}
		}
	case []any:
		for i, item := range n {
			p := joinIndex(path, i)
			if str, ok := item.(string); ok {
				if len(str) > longStringThreshold {
					check(p, str)
				}
				continue
			}
			findings = append(findings, s.walkTokens(item, p, loc)...)
		}
	}
	return findings
}

func (s *scan) secretInfo(v string) *SecretDetails {
	if !s.loaded {
		s.loaded = true
		s.secrets = map[string]vault.Plaintext{}
		if s.guard.secrets != nil {
			plaintexts, err := s.guard.secrets.Plaintexts(s.ctx)
			if err != nil {
				slog.Error("exposure scan could not load secret snapshot", "error", err)
			}
			for _, p := range plaintexts {
				if _, dup := s.secrets[p.Value]; !dup {
					s.secrets[p.Value] = p
				}
			}
		}
	}
	p, ok := s.secrets[v]
	if !ok {
		return nil
	}
	return &SecretDetails{SecretKey: p.Key, ProjectName: p.ProjectName, SecretID: p.SecretID}
}

func (s *scan) tokenInfo(v string) *TokenDetails {
	if s.guard.creds == nil {
		return nil
	}
	hash := auth.HashToken(v)
	if d, ok := s.tokenCache[hash]; ok {
		return d
	}
	d := s.lookupToken(v, hash)
	s.tokenCache[hash] = d
	return d
}

func (s *scan) lookupToken(raw, hash string) *TokenDetails {
	mt, err := s.guard.creds.GetMasterTokenByHash(s.ctx, hash)
	if err == nil {
		return &TokenDetails{TokenType: models.TokenTypeMaster, TokenName: mt.Name, TokenID: mt.ID}
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("exposure scan master token lookup failed", "error", err)
	}

	if auth.IsDeviceTokenShape(raw) {
		dev, err := s.guard.creds.GetAuthorizedDeviceByToken(s.ctx, strings.ToLower(raw))
		if err == nil {
			d := &TokenDetails{TokenType: models.TokenTypeDevice, TokenName: dev.Name, TokenID: dev.ID}
			s.projectName(dev.ProjectID, d)
			return d
		}
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("exposure scan device token lookup failed", "error", err)
		}
	}

	pt, err := s.guard.creds.GetProjectTokenByHash(s.ctx, hash)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("exposure scan project token lookup failed", "error", err)
		}
		return nil
	}
	d := &TokenDetails{TokenType: models.TokenTypeProject, TokenName: pt.Name, TokenID: pt.ID}
	s.projectName(pt.ProjectID, d)
	return d
}

func (s *scan) projectName(projectID string, d *TokenDetails) {
	if p, err := s.guard.creds.GetProject(s.ctx, projectID); err == nil {
		d.ProjectName = p.Name
	}
}

func isTokenField(k string) bool {
	for _, f := range tokenFields {
		if k == f {
			return true
		}
	}
	return false
}

func bearerValue(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 6 && strings.EqualFold(header[:6], "bearer") {
		return strings.TrimSpace(header[6:])
	}
	return ""
}

// looksMasked reports whether v has already been through masking or
// redaction and so cannot be a live value.
func looksMasked(v string) bool {
	return strings.Contains(v, "***") ||
		strings.Contains(v, "REDACTED") ||
		strings.Contains(v, "•")
}
