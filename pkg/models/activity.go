package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TokenTypeMaster  = "master"
	TokenTypeProject = "project"
	TokenTypeDevice  = "device"
	TokenTypeUnknown = "unknown"
	TokenTypeNone    = "none"
)

// Activity is one audit-log row. RequestData and ResponseData are pre-redacted JSON.
type Activity struct {
	ID                      uuid.UUID       `db:"id"                        json:"id"`
	Method                  string          `db:"method"                    json:"method"`
	Path                    string          `db:"path"                      json:"path"`
	Action                  string          `db:"action"                    json:"action"`
	ProjectName             *string         `db:"project_name"              json:"project_name,omitempty"`
	TokenType               string          `db:"token_type"                json:"token_type"`
	StatusCode              int             `db:"status_code"               json:"status_code"`
	ExecutionTimeMS         int64           `db:"execution_time_ms"         json:"execution_time_ms"`
	RequestData             json.RawMessage `db:"request_data"              json:"request_data,omitempty"`
	ResponseData            json.RawMessage `db:"response_data"             json:"response_data,omitempty"`
	ExposedConfidentialData bool            `db:"exposed_confidential_data" json:"exposed_confidential_data"`
	CreatedAt               time.Time       `db:"created_at"                json:"created_at"`
}
