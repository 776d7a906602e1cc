// Package exposure detects confidential values (decrypted secrets, raw
// credentials) left unmasked in a response and redacts them before the
// response is handed to the audit log.
//
// Producers annotate the responses they know carry confidential values; the
// guard checks only those paths. A response with no annotation falls back to
// a full comparison against the vault and the credential tables, which is
// slow and counted by telemetry.ExposureFallbackScansTotal.
package exposure

import (
	"encoding/json"
)

// Kind is the class of confidential value a field holds.
type Kind string

const (
	KindSecret Kind = "secret"
	KindToken  Kind = "token"
)

// Details describes the confidential value behind a field. It is either
// SecretDetails or TokenDetails and never holds the value itself.
type Details interface {
	Kind() Kind
	isDetails()
}

// SecretDetails identifies a vault secret.
type SecretDetails struct {
	SecretKey   string `json:"secret_key"`
	ProjectName string `json:"project_name,omitempty"`
	SecretID    string `json:"secret_id,omitempty"`
}

func (SecretDetails) Kind() Kind { return KindSecret }
func (SecretDetails) isDetails() {}

// TokenDetails identifies a stored credential.
type TokenDetails struct {
	TokenType   string `json:"token_type"`
	TokenName   string `json:"token_name,omitempty"`
	TokenID     string `json:"token_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
}

func (TokenDetails) Kind() Kind { return KindToken }
func (TokenDetails) isDetails() {}

// Annotation marks Path in a capture document as holding a confidential value.
type Annotation struct {
	Path    string
	Details Details
}

// Capture is one side of an exchange as the audit log will see it. Paths in
// annotations are relative to Document, e.g. "body.data.value".
type Capture struct {
	Headers     map[string]string
	Body        any
	StatusCode  int
	Annotations []Annotation
}

// Annotate records that path holds the confidential value described by d.
func (c *Capture) Annotate(path string, d Details) {
	c.Annotations = append(c.Annotations, Annotation{Path: path, Details: d})
}

// Document returns the capture as a generic JSON tree: {"headers": ...,
// "body": ...}. Annotations are not part of it.
func (c Capture) Document() map[string]any {
	doc := map[string]any{}
	if len(c.Headers) > 0 {
		h := make(map[string]any, len(c.Headers))
		for k, v := range c.Headers {
			h[k] = v
		}
		doc["headers"] = h
	}
	if c.Body != nil {
		doc["body"] = normalize(c.Body)
	}
	return doc
}

// normalize converts body into map[string]any / []any / scalars. Raw bytes
// that are not JSON are kept as text.
func normalize(body any) any {
	switch b := body.(type) {
	case map[string]any, []any, string, float64, bool:
		return b
	case json.RawMessage:
		return decodeOrText(b)
	case []byte:
		return decodeOrText(b)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func decodeOrText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
