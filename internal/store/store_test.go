package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lockbox_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	return store.NewPostgresStore(setupTestDB(t))
}

func seedProject(t *testing.T, s store.Store, name string) *models.Project {
	t.Helper()
	p := &models.Project{ID: store.NewID(), Name: name, CreatedAt: time.Now().UTC().Truncate(time.Microsecond)}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

// --- Projects ---

func TestProject_CreateGetList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "alpha")
	seedProject(t, s, "beta")

	got, err := s.GetProjectByName(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Nil(t, got.Description)

	byID, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", byID.Name)

	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.GetProjectByName(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProject_DuplicateName(t *testing.T) {
	s := newStore(t)
	seedProject(t, s, "alpha")

	err := s.CreateProject(context.Background(), &models.Project{ID: store.NewID(), Name: "alpha", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestProject_Update(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "alpha")

	got, err := s.UpdateProject(ctx, p.ID, store.WithDescription("desc"), store.WithAutoApprovalPattern(`["ci"]`))
	require.NoError(t, err)
	require.NotNil(t, got.Description)
	assert.Equal(t, "desc", *got.Description)
	require.NotNil(t, got.AutoApprovalTagPattern)
	assert.Equal(t, `["ci"]`, *got.AutoApprovalTagPattern)

	got, err = s.UpdateProject(ctx, p.ID, store.WithAutoApprovalPattern(""))
	require.NoError(t, err)
	assert.Nil(t, got.AutoApprovalTagPattern)
	assert.Equal(t, "desc", *got.Description)

	_, err = s.UpdateProject(ctx, "missing", store.WithDescription("x"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProject_DeleteCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "alpha")
	now := time.Now().UTC()

	require.NoError(t, s.CreateProjectToken(ctx, &models.ProjectToken{
		ID: store.NewID(), ProjectID: p.ID, Name: "tok", TokenHash: "h1", CreatedAt: now,
	}))
	_, err := s.UpsertSecret(ctx, &models.Secret{
		ID: store.NewID(), ProjectID: p.ID, Key: "K", EncryptedValue: []byte{1}, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	_, _, err = s.InsertDevice(ctx, &models.Device{
		ID: store.NewID(), ProjectID: p.ID, DeviceToken: "dt", Name: "d", Status: models.DeviceStatusPending,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err = s.GetProjectTokenByHash(ctx, "h1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetSecret(ctx, p.ID, "K")
	assert.ErrorIs(t, err, store.ErrNotFound)
	devices, err := s.ListDevices(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Empty(t, devices)

	assert.ErrorIs(t, s.DeleteProject(ctx, p.ID), store.ErrNotFound)
}

// --- Tokens ---

func TestMasterToken_Lifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	tok := &models.MasterToken{ID: store.NewID(), Name: "ab••••yz", TokenHash: "hash-1", IsInit: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateMasterToken(ctx, tok))

	n, err := s.CountMasterTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetMasterTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, got.IsInit)
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, s.TouchMasterToken(ctx, tok.ID))
	got, err = s.GetMasterTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	dup := &models.MasterToken{ID: store.NewID(), Name: "x", TokenHash: "hash-1", CreatedAt: time.Now()}
	assert.ErrorIs(t, s.CreateMasterToken(ctx, dup), store.ErrDuplicateKey)

	require.NoError(t, s.DeleteMasterToken(ctx, tok.ID))
	assert.ErrorIs(t, s.DeleteMasterToken(ctx, tok.ID), store.ErrNotFound)
	_, err = s.GetMasterTokenByHash(ctx, "hash-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProjectToken_ScopedDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	alpha := seedProject(t, s, "alpha")
	beta := seedProject(t, s, "beta")

	tok := &models.ProjectToken{ID: store.NewID(), ProjectID: alpha.ID, Name: "t", TokenHash: "ph", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateProjectToken(ctx, tok))

	list, err := s.ListProjectTokens(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.ErrorIs(t, s.DeleteProjectToken(ctx, beta.ID, tok.ID), store.ErrNotFound)
	require.NoError(t, s.DeleteProjectToken(ctx, alpha.ID, tok.ID))
}

// --- Secrets ---

func TestSecret_UpsertKeepsIdentity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "alpha")
	created := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	first, err := s.UpsertSecret(ctx, &models.Secret{
		ID: store.NewID(), ProjectID: p.ID, Key: "K", EncryptedValue: []byte("one"), CreatedAt: created, UpdatedAt: created,
	})
	require.NoError(t, err)

	later := time.Now().UTC().Truncate(time.Microsecond)
	second, err := s.UpsertSecret(ctx, &models.Secret{
		ID: store.NewID(), ProjectID: p.ID, Key: "K", EncryptedValue: []byte("two"), CreatedAt: later, UpdatedAt: later,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.CreatedAt.Equal(created))
	assert.True(t, second.UpdatedAt.Equal(later))
	assert.Equal(t, []byte("two"), second.EncryptedValue)

	list, err := s.ListSecrets(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].EncryptedValue)

	all, err := s.ListAllSecrets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alpha", all[0].ProjectName)

	require.NoError(t, s.DeleteSecret(ctx, p.ID, "K"))
	assert.ErrorIs(t, s.DeleteSecret(ctx, p.ID, "K"), store.ErrNotFound)
}

// --- Devices ---

func TestDevice_InsertIsIdempotentByToken(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "alpha")
	now := time.Now().UTC()

	d := &models.Device{
		ID: store.NewID(), ProjectID: p.ID, DeviceToken: "tok", Name: "box", Status: models.DeviceStatusPending,
		Info:      models.DeviceInfo{OS: "Linux", Tags: []string{"ci"}},
		CreatedAt: now, UpdatedAt: now,
	}
	got, created, err := s.InsertDevice(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"ci"}, got.Info.Tags)

	again := *d
	again.ID = store.NewID()
	got, created, err = s.InsertDevice(ctx, &again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, d.ID, got.ID)
}

func TestDevice_AuthorizeAndLookup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p := seedProject(t, s, "alpha")
	now := time.Now().UTC()

	d := &models.Device{ID: store.NewID(), ProjectID: p.ID, DeviceToken: "tok", Name: "box",
		Status: models.DeviceStatusPending, CreatedAt: now, UpdatedAt: now}
	_, _, err := s.InsertDevice(ctx, d)
	require.NoError(t, err)

	_, err = s.GetAuthorizedDeviceByToken(ctx, "tok")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.AuthorizeDevice(ctx, p.ID, d.ID, "master_token:m1", now)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusAuthorized, got.Status)
	require.NotNil(t, got.AuthorizedBy)
	assert.Equal(t, "master_token:m1", *got.AuthorizedBy)

	// Already authorized rows are not touched.
	_, err = s.AuthorizeDevice(ctx, p.ID, d.ID, "other", now.Add(time.Minute))
	assert.ErrorIs(t, err, store.ErrNotFound)

	byToken, err := s.GetAuthorizedDeviceByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byToken.ID)

	pending, err := s.ListDevices(ctx, p.ID, models.DeviceStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.DeleteDevice(ctx, p.ID, d.ID))
	_, err = s.GetDevice(ctx, p.ID, d.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Activities ---

func TestActivity_CreateAndCleanup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	name := "alpha"

	old := &models.Activity{
		ID: uuid.New(), Method: "GET", Path: "/api/v1/projects/alpha/secrets/K", Action: "get_secret",
		ProjectName: &name, TokenType: models.TokenTypeMaster, StatusCode: 200,
		ResponseData:            json.RawMessage(`{"body":{"data":{"value":"***EXPOSED***"}}}`),
		ExposedConfidentialData: true, CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	recent := &models.Activity{
		ID: uuid.New(), Method: "GET", Path: "/api/v1/health", Action: "health",
		TokenType: models.TokenTypeNone, StatusCode: 200, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateActivity(ctx, old))
	require.NoError(t, s.CreateActivity(ctx, recent))

	n, err := s.DeleteActivitiesBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPing(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
