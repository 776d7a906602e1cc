// Package vaultclient is the HTTP client side of the lockbox API used by
// devices: registration, status polling, and secret reads.
package vaultclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/lockbox/internal/device"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// Sentinel errors for API failures.
var (
	ErrUnreachable  = errors.New("lockbox unreachable")
	ErrTimeout      = errors.New("lockbox request timeout")
	ErrUnauthorized = errors.New("credential rejected")
	ErrForbidden    = errors.New("credential not valid for this project")
	// ErrNotFound is device.ErrNotFound so WaitForAuthorization treats a
	// vanished device as rejected.
	ErrNotFound = device.ErrNotFound
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("lockbox api: status %d", e.Status)
	}
	return fmt.Sprintf("lockbox api: %s: %s (status %d)", e.Code, e.Message, e.Status)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	}
	return false
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	DeviceID         string   `json:"device_id"`
	Name             string   `json:"name"`
	Tags             []string `json:"tags,omitempty"`
	Description      string   `json:"description,omitempty"`
	UserAgent        string   `json:"user_agent,omitempty"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
}

// Secret is a decrypted secret as returned by the API.
type Secret struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client talks to one project on a lockbox server.
type Client struct {
	baseURL string
	project string
	token   string
	client  *http.Client
}

// New creates a Client. token may be empty for the public registration
// endpoints; it is a master/project token or a device token otherwise.
func New(baseURL, project, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		project: project,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Register registers the device in the client's project. The bool reports
// whether the server created a new row.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.Device, bool, error) {
	body := struct {
		ProjectName string `json:"project_name"`
		RegisterRequest
	}{c.project, req}

	var d models.Device
	status, err := c.do(ctx, http.MethodPost, "/api/v1/devices", body, &d)
	if err != nil {
		return nil, false, err
	}
	return &d, status == http.StatusCreated, nil
}

// GetDevice reads the public status of a device. A rejected or deleted
// device returns ErrNotFound.
func (c *Client) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var d models.Device
	if _, err := c.do(ctx, http.MethodGet, c.devicePath(id)+"/status", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// RejectDevice rejects a device. It needs a master or project token.
func (c *Client) RejectDevice(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPatch, c.devicePath(id)+"/reject", nil, nil)
	return err
}

// GetSecret reads and returns one secret.
func (c *Client) GetSecret(ctx context.Context, key string) (*Secret, error) {
	var s Secret
	p := fmt.Sprintf("/api/v1/projects/%s/secrets/%s", url.PathEscape(c.project), url.PathEscape(key))
	if _, err := c.do(ctx, http.MethodGet, p, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Ready checks the server health endpoint.
func (c *Client) Ready(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

func (c *Client) devicePath(id string) string {
	return fmt.Sprintf("/api/v1/projects/%s/devices/%s", url.PathEscape(c.project), url.PathEscape(id))
}

// do sends a request and decodes the "data" member of the envelope into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req, in != nil)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}

	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that Client speaks the registration protocol.
var _ device.API = (*Client)(nil)
