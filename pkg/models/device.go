package models

import "time"

const (
	DeviceStatusPending    = "pending"
	DeviceStatusAuthorized = "authorized"
	DeviceStatusRejected   = "rejected"
)

// AutoApprovalActor is recorded as authorized_by when a project's tag pattern approves a device.
const AutoApprovalActor = "auto_approval_policy"

// DeviceInfo is free-form metadata captured at registration.
type DeviceInfo struct {
	OS               string   `json:"os"`
	IP               string   `json:"ip"`
	UserAgent        string   `json:"user_agent"`
	WorkingDirectory string   `json:"working_directory"`
	Tags             []string `json:"tags,omitempty"`
	Description      string   `json:"description,omitempty"`
}

// Device is a client machine bootstrapping access to one project.
// DeviceToken is sha256(device_id); the raw fingerprint is never stored.
type Device struct {
	ID           string     `db:"id"            json:"id"`
	ProjectID    string     `db:"project_id"    json:"project_id"`
	DeviceToken  string     `db:"device_token"  json:"-"`
	Name         string     `db:"name"          json:"name"`
	Status       string     `db:"status"        json:"status"`
	Info         DeviceInfo `db:"device_info"   json:"device_info"`
	AuthorizedAt *time.Time `db:"authorized_at" json:"authorized_at,omitempty"`
	AuthorizedBy *string    `db:"authorized_by" json:"authorized_by,omitempty"`
	RejectedAt   *time.Time `db:"rejected_at"   json:"rejected_at,omitempty"`
	RejectedBy   *string    `db:"rejected_by"   json:"rejected_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
