// Package vault stores per-project secrets encrypted at rest.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

// SecretStore is the subset of store.Store the vault uses.
type SecretStore interface {
	UpsertSecret(ctx context.Context, s *models.Secret) (*models.Secret, error)
	GetSecret(ctx context.Context, projectID, key string) (*models.Secret, error)
	ListSecrets(ctx context.Context, projectID string) ([]*models.Secret, error)
	ListAllSecrets(ctx context.Context) ([]*models.StoredSecret, error)
	DeleteSecret(ctx context.Context, projectID, key string) error
}

// Vault encrypts values on the way in and decrypts them on the way out.
type Vault struct {
	store  SecretStore
	cipher *Cipher
}

// New creates a Vault over s.
func New(s SecretStore, c *Cipher) *Vault {
	return &Vault{store: s, cipher: c}
}

// Put creates or overwrites the secret (projectID, key).
func (v *Vault) Put(ctx context.Context, projectID, key, plaintext string) (*models.Secret, error) {
	ciphertext, err := v.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return v.store.UpsertSecret(ctx, &models.Secret{
		ID:             store.NewID(),
		ProjectID:      projectID,
		Key:            key,
		EncryptedValue: ciphertext,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

// Get returns the plaintext of (projectID, key) together with its metadata.
func (v *Vault) Get(ctx context.Context, projectID, key string) (string, *models.Secret, error) {
	secret, err := v.store.GetSecret(ctx, projectID, key)
	if err != nil {
		return "", nil, err
	}
	plaintext, err := v.cipher.Decrypt(secret.EncryptedValue)
	if err != nil {
		return "", nil, fmt.Errorf("decrypt secret %q: %w", key, err)
	}
	return plaintext, secret, nil
}

// ListKeys returns secret metadata for a project without values.
func (v *Vault) ListKeys(ctx context.Context, projectID string) ([]*models.Secret, error) {
	secrets, err := v.store.ListSecrets(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, s := range secrets {
		s.EncryptedValue = nil
	}
	return secrets, nil
}

// Delete removes (projectID, key). store.ErrNotFound is returned when absent.
func (v *Vault) Delete(ctx context.Context, projectID, key string) error {
	return v.store.DeleteSecret(ctx, projectID, key)
}

// Plaintext is a decrypted secret from a full-vault snapshot.
type Plaintext struct {
	SecretID    string
	Key         string
	ProjectName string
	Value       string
}

// Plaintexts decrypts every stored secret from a single read snapshot.
// Rows that fail to decrypt are skipped and logged.
func (v *Vault) Plaintexts(ctx context.Context) ([]Plaintext, error) {
	secrets, err := v.store.ListAllSecrets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Plaintext, 0, len(secrets))
	for _, s := range secrets {
		value, err := v.cipher.Decrypt(s.EncryptedValue)
		if err != nil {
			slog.Warn("skipping undecryptable secret in snapshot",
				"secret_id", s.ID, "project", s.ProjectName, "error", err)
			continue
		}
		out = append(out, Plaintext{
			SecretID:    s.ID,
			Key:         s.Key,
			ProjectName: s.ProjectName,
			Value:       value,
		})
	}
	return out, nil
}
