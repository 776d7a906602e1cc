// Package storetest provides an in-memory store.Store for unit tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// MemStore is a concurrency-safe in-memory store.Store. Set Fail[method] to
// make the named method return that error.
type MemStore struct {
	mu sync.RWMutex

	Projects      map[string]*models.Project
	MasterTokens  map[string]*models.MasterToken
	ProjectTokens map[string]*models.ProjectToken
	Secrets       map[string]*models.Secret
	Devices       map[string]*models.Device
	Activities    []*models.Activity

	Fail map[string]error

	Touched []string
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		Projects:      map[string]*models.Project{},
		MasterTokens:  map[string]*models.MasterToken{},
		ProjectTokens: map[string]*models.ProjectToken{},
		Secrets:       map[string]*models.Secret{},
		Devices:       map[string]*models.Device{},
		Fail:          map[string]error{},
	}
}

var _ store.Store = (*MemStore)(nil)

func (m *MemStore) fail(method string) error {
	return m.Fail[method]
}

func secretKey(projectID, key string) string { return projectID + "/" + key }

func (m *MemStore) Ping(_ context.Context) error { return m.fail("Ping") }

// --- Projects ---

func (m *MemStore) CreateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateProject"); err != nil {
		return err
	}
	for _, existing := range m.Projects {
		if existing.Name == p.Name {
			return store.ErrDuplicateKey
		}
	}
	cp := *p
	m.Projects[p.ID] = &cp
	return nil
}

func (m *MemStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetProject"); err != nil {
		return nil, err
	}
	p, ok := m.Projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) GetProjectByName(_ context.Context, name string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetProjectByName"); err != nil {
		return nil, err
	}
	for _, p := range m.Projects {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) ListProjects(_ context.Context) ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Project
	for _, p := range m.Projects {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) UpdateProject(ctx context.Context, id string, opts ...store.ProjectUpdateOption) (*models.Project, error) {
	m.mu.Lock()
	p, ok := m.Projects[id]
	if !ok {
		m.mu.Unlock()
		return nil, store.ErrNotFound
	}
	store.ApplyProjectUpdate(p, opts...)
	m.mu.Unlock()
	return m.GetProject(ctx, id)
}

func (m *MemStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Projects[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.Projects, id)
	for k, t := range m.ProjectTokens {
		if t.ProjectID == id {
			delete(m.ProjectTokens, k)
		}
	}
	for k, s := range m.Secrets {
		if s.ProjectID == id {
			delete(m.Secrets, k)
		}
	}
	for k, d := range m.Devices {
		if d.ProjectID == id {
			delete(m.Devices, k)
		}
	}
	return nil
}

// --- Master Tokens ---

func (m *MemStore) CreateMasterToken(_ context.Context, t *models.MasterToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateMasterToken"); err != nil {
		return err
	}
	for _, existing := range m.MasterTokens {
		if existing.TokenHash == t.TokenHash {
			return store.ErrDuplicateKey
		}
	}
	cp := *t
	m.MasterTokens[t.ID] = &cp
	return nil
}

func (m *MemStore) GetMasterTokenByHash(_ context.Context, hash string) (*models.MasterToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetMasterTokenByHash"); err != nil {
		return nil, err
	}
	for _, t := range m.MasterTokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) ListMasterTokens(_ context.Context) ([]*models.MasterToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.MasterToken
	for _, t := range m.MasterTokens {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) CountMasterTokens(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("CountMasterTokens"); err != nil {
		return 0, err
	}
	return len(m.MasterTokens), nil
}

func (m *MemStore) DeleteMasterToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.MasterTokens[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.MasterTokens, id)
	return nil
}

func (m *MemStore) TouchMasterToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TouchMasterToken"); err != nil {
		return err
	}
	if t, ok := m.MasterTokens[id]; ok {
		now := time.Now().UTC()
		t.LastUsedAt = &now
	}
	m.Touched = append(m.Touched, id)
	return nil
}

// --- Project Tokens ---

func (m *MemStore) CreateProjectToken(_ context.Context, t *models.ProjectToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.ProjectTokens {
		if existing.TokenHash == t.TokenHash {
			return store.ErrDuplicateKey
		}
	}
	cp := *t
	m.ProjectTokens[t.ID] = &cp
	return nil
}

func (m *MemStore) GetProjectTokenByHash(_ context.Context, hash string) (*models.ProjectToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetProjectTokenByHash"); err != nil {
		return nil, err
	}
	for _, t := range m.ProjectTokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) ListProjectTokens(_ context.Context, projectID string) ([]*models.ProjectToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.ProjectToken
	for _, t := range m.ProjectTokens {
		if t.ProjectID == projectID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) DeleteProjectToken(_ context.Context, projectID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ProjectTokens[id]
	if !ok || t.ProjectID != projectID {
		return store.ErrNotFound
	}
	delete(m.ProjectTokens, id)
	return nil
}

func (m *MemStore) TouchProjectToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("TouchProjectToken"); err != nil {
		return err
	}
	if t, ok := m.ProjectTokens[id]; ok {
		now := time.Now().UTC()
		t.LastUsedAt = &now
	}
	m.Touched = append(m.Touched, id)
	return nil
}

// --- Secrets ---

func (m *MemStore) UpsertSecret(_ context.Context, s *models.Secret) (*models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertSecret"); err != nil {
		return nil, err
	}
	k := secretKey(s.ProjectID, s.Key)
	if existing, ok := m.Secrets[k]; ok {
		existing.EncryptedValue = append([]byte(nil), s.EncryptedValue...)
		existing.UpdatedAt = s.UpdatedAt
		cp := *existing
		return &cp, nil
	}
	cp := *s
	cp.EncryptedValue = append([]byte(nil), s.EncryptedValue...)
	m.Secrets[k] = &cp
	out := cp
	return &out, nil
}

func (m *MemStore) GetSecret(_ context.Context, projectID, key string) (*models.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.Secrets[secretKey(projectID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemStore) ListSecrets(_ context.Context, projectID string) ([]*models.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Secret
	for _, s := range m.Secrets {
		if s.ProjectID == projectID {
			cp := *s
			cp.EncryptedValue = nil
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStore) ListAllSecrets(_ context.Context) ([]*models.StoredSecret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("ListAllSecrets"); err != nil {
		return nil, err
	}
	var out []*models.StoredSecret
	for _, s := range m.Secrets {
		ss := &models.StoredSecret{Secret: *s}
		if p, ok := m.Projects[s.ProjectID]; ok {
			ss.ProjectName = p.Name
		}
		out = append(out, ss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) DeleteSecret(_ context.Context, projectID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := secretKey(projectID, key)
	if _, ok := m.Secrets[k]; !ok {
		return store.ErrNotFound
	}
	delete(m.Secrets, k)
	return nil
}

// --- Devices ---

func (m *MemStore) InsertDevice(_ context.Context, d *models.Device) (*models.Device, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertDevice"); err != nil {
		return nil, false, err
	}
	for _, existing := range m.Devices {
		if existing.DeviceToken == d.DeviceToken {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *d
	m.Devices[d.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *MemStore) GetDevice(_ context.Context, projectID, id string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("GetDevice"); err != nil {
		return nil, err
	}
	d, ok := m.Devices[id]
	if !ok || d.ProjectID != projectID {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemStore) GetAuthorizedDeviceByToken(_ context.Context, token string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.Devices {
		if d.DeviceToken == token && d.Status == models.DeviceStatusAuthorized {
			cp := *d
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemStore) ListDevices(_ context.Context, projectID, status string) ([]*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Device
	for _, d := range m.Devices {
		if d.ProjectID != projectID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) AuthorizeDevice(_ context.Context, projectID, id, actor string, at time.Time) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Devices[id]
	if !ok || d.ProjectID != projectID || d.Status == models.DeviceStatusAuthorized {
		return nil, store.ErrNotFound
	}
	d.Status = models.DeviceStatusAuthorized
	d.AuthorizedAt = &at
	d.AuthorizedBy = &actor
	d.RejectedAt = nil
	d.RejectedBy = nil
	d.UpdatedAt = at
	cp := *d
	return &cp, nil
}

func (m *MemStore) DeleteDevice(_ context.Context, projectID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteDevice"); err != nil {
		return err
	}
	d, ok := m.Devices[id]
	if !ok || d.ProjectID != projectID {
		return store.ErrNotFound
	}
	delete(m.Devices, id)
	return nil
}

// --- Activities ---

func (m *MemStore) CreateActivity(_ context.Context, a *models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateActivity"); err != nil {
		return err
	}
	cp := *a
	m.Activities = append(m.Activities, &cp)
	return nil
}

func (m *MemStore) DeleteActivitiesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteActivitiesBefore"); err != nil {
		return 0, err
	}
	kept := m.Activities[:0]
	var removed int64
	for _, a := range m.Activities {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.Activities = kept
	return removed, nil
}

// ActivityList returns a snapshot of recorded activities.
func (m *MemStore) ActivityList() []*models.Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*models.Activity(nil), m.Activities...)
}
