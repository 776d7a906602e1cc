package models

import "time"

// Secret is a key/value pair stored encrypted. (ProjectID, Key) is unique.
type Secret struct {
	ID             string    `db:"id"              json:"id"`
	ProjectID      string    `db:"project_id"      json:"project_id"`
	Key            string    `db:"key"             json:"key"`
	EncryptedValue []byte    `db:"encrypted_value" json:"-"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}

// StoredSecret joins a secret with its owning project name, for full-vault scans.
type StoredSecret struct {
	Secret
	ProjectName string `db:"project_name" json:"project_name"`
}
