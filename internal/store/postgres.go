package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Projects ---

const projectColumns = `id, name, description, auto_approval_tag_pattern, created_at`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.AutoApprovalTagPattern, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, description, auto_approval_tag_pattern, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.Description, p.AutoApprovalTagPattern, p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id string, opts ...ProjectUpdateOption) (*models.Project, error) {
	params := &projectUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	sets := []string{}
	args := []any{id}
	argIdx := 2

	if params.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *params.Description)
		argIdx++
	}
	if params.AutoApprovalTagPattern != nil {
		sets = append(sets, fmt.Sprintf("auto_approval_tag_pattern = $%d", argIdx))
		args = append(args, *params.AutoApprovalTagPattern)
		argIdx++
	} else if params.clearPattern {
		sets = append(sets, "auto_approval_tag_pattern = NULL")
	}

	if len(sets) == 0 {
		return s.GetProject(ctx, id)
	}

	query := `UPDATE projects SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + projectColumns
	p, err := scanProject(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Master Tokens ---

func (s *PostgresStore) CreateMasterToken(ctx context.Context, t *models.MasterToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO master_tokens (id, name, token_hash, is_init, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Name, t.TokenHash, t.IsInit, t.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create master token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMasterTokenByHash(ctx context.Context, hash string) (*models.MasterToken, error) {
	var t models.MasterToken
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, token_hash, is_init, last_used_at, created_at
		 FROM master_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.Name, &t.TokenHash, &t.IsInit, &t.LastUsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get master token by hash: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListMasterTokens(ctx context.Context) ([]*models.MasterToken, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, token_hash, is_init, last_used_at, created_at
		 FROM master_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list master tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.MasterToken
	for rows.Next() {
		var t models.MasterToken
		if err := rows.Scan(&t.ID, &t.Name, &t.TokenHash, &t.IsInit, &t.LastUsedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan master token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

func (s *PostgresStore) CountMasterTokens(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM master_tokens`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count master tokens: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteMasterToken(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM master_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete master token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchMasterToken(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE master_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update master token last used: %w", err)
	}
	return nil
}

// --- Project Tokens ---

func (s *PostgresStore) CreateProjectToken(ctx context.Context, t *models.ProjectToken) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_tokens (id, project_id, name, token_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.ProjectID, t.Name, t.TokenHash, t.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProjectTokenByHash(ctx context.Context, hash string) (*models.ProjectToken, error) {
	var t models.ProjectToken
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, token_hash, last_used_at, created_at
		 FROM project_tokens WHERE token_hash = $1`, hash,
	).Scan(&t.ID, &t.ProjectID, &t.Name, &t.TokenHash, &t.LastUsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project token by hash: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListProjectTokens(ctx context.Context, projectID string) ([]*models.ProjectToken, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, token_hash, last_used_at, created_at
		 FROM project_tokens WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.ProjectToken
	for rows.Next() {
		var t models.ProjectToken
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.TokenHash, &t.LastUsedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

func (s *PostgresStore) DeleteProjectToken(ctx context.Context, projectID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM project_tokens WHERE id = $1 AND project_id = $2`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete project token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchProjectToken(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE project_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update project token last used: %w", err)
	}
	return nil
}

// --- Secrets ---

func (s *PostgresStore) UpsertSecret(ctx context.Context, secret *models.Secret) (*models.Secret, error) {
	var result models.Secret
	err := s.pool.QueryRow(ctx,
		`INSERT INTO secrets (id, project_id, key, encrypted_value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (project_id, key) DO UPDATE SET
		   encrypted_value = EXCLUDED.encrypted_value,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, project_id, key, encrypted_value, created_at, updated_at`,
		secret.ID, secret.ProjectID, secret.Key, secret.EncryptedValue, secret.CreatedAt, secret.UpdatedAt,
	).Scan(&result.ID, &result.ProjectID, &result.Key, &result.EncryptedValue, &result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert secret: %w", err)
	}
	return &result, nil
}

func (s *PostgresStore) GetSecret(ctx context.Context, projectID, key string) (*models.Secret, error) {
	var r models.Secret
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, key, encrypted_value, created_at, updated_at
		 FROM secrets WHERE project_id = $1 AND key = $2`, projectID, key,
	).Scan(&r.ID, &r.ProjectID, &r.Key, &r.EncryptedValue, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return &r, nil
}

// ListSecrets returns metadata only; EncryptedValue is left empty.
func (s *PostgresStore) ListSecrets(ctx context.Context, projectID string) ([]*models.Secret, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, key, created_at, updated_at
		 FROM secrets WHERE project_id = $1 ORDER BY key`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []*models.Secret
	for rows.Next() {
		var r models.Secret
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Key, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		secrets = append(secrets, &r)
	}
	return secrets, rows.Err()
}

// ListAllSecrets reads every secret in one statement, which Postgres serves
// from a single snapshot. Concurrent writes are not blocked.
func (s *PostgresStore) ListAllSecrets(ctx context.Context) ([]*models.StoredSecret, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.project_id, s.key, s.encrypted_value, s.created_at, s.updated_at, p.name
		 FROM secrets s JOIN projects p ON p.id = s.project_id`)
	if err != nil {
		return nil, fmt.Errorf("list all secrets: %w", err)
	}
	defer rows.Close()

	var secrets []*models.StoredSecret
	for rows.Next() {
		var r models.StoredSecret
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Key, &r.EncryptedValue,
			&r.CreatedAt, &r.UpdatedAt, &r.ProjectName); err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		secrets = append(secrets, &r)
	}
	return secrets, rows.Err()
}

func (s *PostgresStore) DeleteSecret(ctx context.Context, projectID, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM secrets WHERE project_id = $1 AND key = $2`, projectID, key)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Devices ---

const deviceColumns = `id, project_id, device_token, name, status, device_info,
	authorized_at, authorized_by, rejected_at, rejected_by, created_at, updated_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	if err := row.Scan(&d.ID, &d.ProjectID, &d.DeviceToken, &d.Name, &d.Status, &d.Info,
		&d.AuthorizedAt, &d.AuthorizedBy, &d.RejectedAt, &d.RejectedBy,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) InsertDevice(ctx context.Context, d *models.Device) (*models.Device, bool, error) {
	inserted, err := scanDevice(s.pool.QueryRow(ctx,
		`INSERT INTO devices (id, project_id, device_token, name, status, device_info,
		   authorized_at, authorized_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (device_token) DO NOTHING
		 RETURNING `+deviceColumns,
		d.ID, d.ProjectID, d.DeviceToken, d.Name, d.Status, d.Info,
		d.AuthorizedAt, d.AuthorizedBy, d.CreatedAt, d.UpdatedAt))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert device: %w", err)
	}

	// Conflict: another registration owns this token.
	existing, err := scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_token = $1`, d.DeviceToken))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("get device by token: %w", err)
	}
	return existing, false, nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, projectID, id string) (*models.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1 AND project_id = $2`, id, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) GetAuthorizedDeviceByToken(ctx context.Context, token string) (*models.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_token = $1 AND status = 'authorized'`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device by token: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDevices(ctx context.Context, projectID, status string) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE project_id = $1`
	args := []any{projectID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *PostgresStore) AuthorizeDevice(ctx context.Context, projectID, id, actor string, at time.Time) (*models.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		`UPDATE devices SET
		   status = 'authorized',
		   authorized_at = $3,
		   authorized_by = $4,
		   rejected_at = NULL,
		   rejected_by = NULL,
		   updated_at = $3
		 WHERE id = $1 AND project_id = $2 AND status <> 'authorized'
		 RETURNING `+deviceColumns,
		id, projectID, at, actor))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authorize device: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, projectID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM devices WHERE id = $1 AND project_id = $2`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Activities ---

func (s *PostgresStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activities (id, method, path, action, project_name, token_type, status_code,
		   execution_time_ms, request_data, response_data, exposed_confidential_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Method, a.Path, a.Action, a.ProjectName, a.TokenType, a.StatusCode,
		a.ExecutionTimeMS, jsonParam(a.RequestData), jsonParam(a.ResponseData),
		a.ExposedConfidentialData, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM activities WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete activities: %w", err)
	}
	return tag.RowsAffected(), nil
}

// jsonParam sends an empty payload as SQL NULL.
func jsonParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
