package models

import "time"

// MasterToken grants access to every project.
// The raw value is shown once at creation; only the SHA-256 hash is stored.
type MasterToken struct {
	ID         string     `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	TokenHash  string     `db:"token_hash"   json:"-"`
	IsInit     bool       `db:"is_init"      json:"is_init"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}

// ProjectToken is scoped to exactly one project.
type ProjectToken struct {
	ID         string     `db:"id"           json:"id"`
	ProjectID  string     `db:"project_id"   json:"project_id"`
	Name       string     `db:"name"         json:"name"`
	TokenHash  string     `db:"token_hash"   json:"-"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
}
