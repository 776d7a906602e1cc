package models

import "time"

// Project owns tokens, secrets, and devices. Deleting a project cascades to all of them.
type Project struct {
	ID                     string    `db:"id"                        json:"id"`
	Name                   string    `db:"name"                      json:"name"`
	Description            *string   `db:"description"               json:"description,omitempty"`
	AutoApprovalTagPattern *string   `db:"auto_approval_tag_pattern" json:"auto_approval_tag_pattern,omitempty"`
	CreatedAt              time.Time `db:"created_at"                json:"created_at"`
}
