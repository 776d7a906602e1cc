package exposure_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/exposure"
	"github.com/kiranshivaraju/lockbox/internal/store/storetest"
	"github.com/kiranshivaraju/lockbox/internal/vault"
	"github.com/kiranshivaraju/lockbox/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey     = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	secretValue = "s3cr3t-database-password"
	projectRaw  = "ProjectTokenValue0123456789abcde"
	masterRaw   = "MasterTokenValue0123456789abcdef"
	deviceID    = "0123456789abcdef0123456789abcdef"
)

var deviceToken = auth.HashToken(deviceID)

// countingSource records how often the snapshot was loaded.
type countingSource struct {
	inner *vault.Vault
	calls int
}

func (c *countingSource) Plaintexts(ctx context.Context) ([]vault.Plaintext, error) {
	c.calls++
	return c.inner.Plaintexts(ctx)
}

func setup(t *testing.T) (*exposure.Guard, *countingSource) {
	t.Helper()
	ctx := context.Background()
	s := storetest.New()
	now := time.Now().UTC()

	require.NoError(t, s.CreateProject(ctx, &models.Project{ID: "p1", Name: "P", CreatedAt: now}))
	require.NoError(t, s.CreateMasterToken(ctx, &models.MasterToken{
		ID: "m1", Name: auth.MaskToken(masterRaw), TokenHash: auth.HashToken(masterRaw), CreatedAt: now,
	}))
	require.NoError(t, s.CreateProjectToken(ctx, &models.ProjectToken{
		ID: "t1", ProjectID: "p1", Name: auth.MaskToken(projectRaw), TokenHash: auth.HashToken(projectRaw), CreatedAt: now,
	}))

	authorizedBy := "master_token:m1"
	_, _, err := s.InsertDevice(ctx, &models.Device{
		ID: "d1", ProjectID: "p1", DeviceToken: deviceToken, Name: "ci-runner",
		Status: models.DeviceStatusAuthorized, AuthorizedAt: &now, AuthorizedBy: &authorizedBy, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	c, err := vault.NewCipher(testKey)
	require.NoError(t, err)
	v := vault.New(s, c)
	_, err = v.Put(ctx, "p1", "db_pass", secretValue)
	require.NoError(t, err)

	src := &countingSource{inner: v}
	return exposure.NewGuard(src, s), src
}

func secretResponse() exposure.Capture {
	resp := exposure.Capture{
		StatusCode: 200,
		Body: map[string]any{
			"data": map[string]any{"key": "db_pass", "value": secretValue},
		},
	}
	resp.Annotate("body.data.value", exposure.SecretDetails{SecretKey: "db_pass", ProjectName: "P", SecretID: "s1"})
	return resp
}

func TestDetect_AnnotatedExposure(t *testing.T) {
	g, src := setup(t)

	report := g.Detect(context.Background(), exposure.Capture{}, secretResponse())

	assert.True(t, report.HasExposure)
	assert.False(t, report.Fallback)
	require.Len(t, report.Findings, 1)
	f := report.Findings[0]
	assert.Equal(t, exposure.KindSecret, f.Kind)
	assert.Equal(t, exposure.LocationResponse, f.Location)
	assert.Equal(t, "response.body.data.value", f.FieldPath())
	assert.Equal(t, "db_pass", f.Details.(exposure.SecretDetails).SecretKey)
	assert.Zero(t, src.calls, "annotated path must not touch the vault")
}

func TestDetect_RescanAfterRedactIsClean(t *testing.T) {
	g, _ := setup(t)
	resp := secretResponse()

	redacted, exposed, _ := g.ScanAndRedact(context.Background(), exposure.Capture{}, resp)
	require.True(t, exposed)

	again := exposure.Capture{Body: redacted.(map[string]any)["body"], Annotations: resp.Annotations}
	report := g.Detect(context.Background(), exposure.Capture{}, again)
	assert.False(t, report.HasExposure)
}

func TestScanAndRedact_DoesNotTouchCallerValue(t *testing.T) {
	g, _ := setup(t)
	resp := exposure.Capture{Body: map[string]any{"data": map[string]any{"value": secretValue}}}
	resp.Annotate("body.data.value", exposure.SecretDetails{SecretKey: "db_pass"})

	redacted, exposed, _ := g.ScanAndRedact(context.Background(), exposure.Capture{}, resp)
	require.True(t, exposed)

	got := redacted.(map[string]any)["body"].(map[string]any)["data"].(map[string]any)["value"]
	assert.Equal(t, exposure.SentinelExposed, got)
	assert.Equal(t, secretValue, resp.Body.(map[string]any)["data"].(map[string]any)["value"])
}

func TestDetect_AnnotatedAlreadyRedacted(t *testing.T) {
	g, _ := setup(t)
	for _, v := range []string{exposure.SentinelExposed, exposure.SentinelRedacted, "abcd********wxyz", ""} {
		resp := exposure.Capture{Body: map[string]any{"value": v}}
		resp.Annotate("body.value", exposure.SecretDetails{SecretKey: "k"})
		assert.False(t, g.Detect(context.Background(), exposure.Capture{}, resp).HasExposure, v)
	}
}

func TestDetect_AnnotatedMissingPath(t *testing.T) {
	g, _ := setup(t)
	resp := exposure.Capture{Body: map[string]any{"other": "x"}}
	resp.Annotate("body.value", exposure.SecretDetails{SecretKey: "k"})

	assert.False(t, g.Detect(context.Background(), exposure.Capture{}, resp).HasExposure)
}

func TestDetect_RequestSecretIsNotExposure(t *testing.T) {
	g, _ := setup(t)
	req := exposure.Capture{Body: map[string]any{"key": "db_pass", "value": secretValue}}
	resp := exposure.Capture{StatusCode: 201, Body: map[string]any{"data": map[string]any{"key": "db_pass"}}}

	report := g.Detect(context.Background(), req, resp)

	assert.False(t, report.HasExposure)
	assert.True(t, report.Fallback)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, exposure.LocationRequest, report.Findings[0].Location)
	assert.Equal(t, "body.value", report.Findings[0].Path)
}

func TestDetect_FallbackFindsSecret(t *testing.T) {
	g, src := setup(t)
	resp := exposure.Capture{Body: map[string]any{
		"items": []any{
			map[string]any{"key": "other", "value": "not-a-secret"},
			map[string]any{"key": "db_pass", "value": secretValue},
		},
		"note": secretValue,
	}}

	report := g.Detect(context.Background(), exposure.Capture{}, resp)

	assert.True(t, report.HasExposure)
	assert.True(t, report.Fallback)
	paths := make([]string, 0, len(report.Findings))
	for _, f := range report.Findings {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"body.items[1].value", "body.note"}, paths)
	assert.Equal(t, 1, src.calls, "snapshot is loaded once per scan")
}

func TestDetect_FallbackFindsTokens(t *testing.T) {
	g, _ := setup(t)
	resp := exposure.Capture{Body: map[string]any{
		"data": map[string]any{
			"token":       projectRaw,
			"description": "master is " + masterRaw,
			"copy":        masterRaw,
		},
	}}

	report := g.Detect(context.Background(), exposure.Capture{}, resp)
	require.True(t, report.HasExposure)

	byPath := map[string]exposure.TokenDetails{}
	for _, f := range report.Findings {
		require.Equal(t, exposure.KindToken, f.Kind)
		byPath[f.Path] = f.Details.(exposure.TokenDetails)
	}
	require.Contains(t, byPath, "body.data.token")
	assert.Equal(t, models.TokenTypeProject, byPath["body.data.token"].TokenType)
	assert.Equal(t, "P", byPath["body.data.token"].ProjectName)
	require.Contains(t, byPath, "body.data.copy")
	assert.Equal(t, models.TokenTypeMaster, byPath["body.data.copy"].TokenType)
	assert.NotContains(t, byPath, "body.data.description")
}

func TestDetect_FallbackIgnoresMaskedTokens(t *testing.T) {
	g, _ := setup(t)
	resp := exposure.Capture{Body: map[string]any{"token": auth.MaskToken(projectRaw)}}

	assert.False(t, g.Detect(context.Background(), exposure.Capture{}, resp).HasExposure)
}

func TestDetect_FallbackPlainText(t *testing.T) {
	g, _ := setup(t)
	resp := exposure.Capture{Body: []byte(`not json but "value": "` + secretValue + `" and 'token': '` + projectRaw + `'`)}

	report := g.Detect(context.Background(), exposure.Capture{}, resp)

	require.True(t, report.HasExposure)
	require.Len(t, report.Findings, 2)
	for _, f := range report.Findings {
		assert.Equal(t, "body", f.Path)
	}
}

func TestScanAndRedact_EchoedDeviceDescription(t *testing.T) {
	g, src := setup(t)
	resp := exposure.Capture{StatusCode: 201, Body: map[string]any{"data": map[string]any{
		"id":     "dev1",
		"status": "pending",
		"device_info": map[string]any{
			"description":       secretValue,
			"working_directory": "/srv/app",
		},
	}}}

	redacted, exposed, report := g.ScanAndRedact(context.Background(), exposure.Capture{}, resp)

	require.True(t, exposed)
	assert.True(t, report.Fallback)
	assert.Equal(t, 1, src.calls)
	info := redacted.(map[string]any)["body"].(map[string]any)["data"].(map[string]any)["device_info"].(map[string]any)
	assert.Equal(t, exposure.SentinelExposed, info["description"])
	assert.Equal(t, "/srv/app", info["working_directory"])
}

func TestScanAndRedact_DottedKey(t *testing.T) {
	g, _ := setup(t)
	resp := exposure.Capture{Body: map[string]any{"env": map[string]any{
		"db.pass":  secretValue,
		"list[0]":  []any{secretValue},
		"harmless": "nothing-to-see-here",
	}}}

	redacted, exposed, report := g.ScanAndRedact(context.Background(), exposure.Capture{}, resp)

	require.True(t, exposed)
	require.Len(t, report.Findings, 2)
	env := redacted.(map[string]any)["body"].(map[string]any)["env"].(map[string]any)
	assert.Equal(t, exposure.SentinelExposed, env["db.pass"])
	assert.Equal(t, []any{exposure.SentinelExposed}, env["list[0]"])
	assert.Equal(t, "nothing-to-see-here", env["harmless"])
}

func TestDetect_FallbackFindsDeviceToken(t *testing.T) {
	g, _ := setup(t)
	for _, tok := range []string{deviceToken, strings.ToUpper(deviceToken)} {
		resp := exposure.Capture{Body: map[string]any{"data": map[string]any{"fingerprint": tok}}}

		report := g.Detect(context.Background(), exposure.Capture{}, resp)

		require.True(t, report.HasExposure, tok)
		require.Len(t, report.Findings, 1)
		assert.Equal(t, "body.data.fingerprint", report.Findings[0].Path)
		assert.Equal(t, exposure.TokenDetails{
			TokenType: models.TokenTypeDevice, TokenName: "ci-runner", TokenID: "d1", ProjectName: "P",
		}, report.Findings[0].Details)
	}

	// A hex string of the same shape that no device holds is not a credential.
	other := auth.HashToken("somebody-else")
	resp := exposure.Capture{Body: map[string]any{"fingerprint": other}}
	assert.False(t, g.Detect(context.Background(), exposure.Capture{}, resp).HasExposure)
}

func TestDetect_StructBody(t *testing.T) {
	g, _ := setup(t)
	body := struct {
		Data struct {
			Value string `json:"value"`
		} `json:"data"`
	}{}
	body.Data.Value = secretValue

	report := g.Detect(context.Background(), exposure.Capture{}, exposure.Capture{Body: body})
	require.True(t, report.HasExposure)
	assert.Equal(t, "body.data.value", report.Findings[0].Path)
}
