package response

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/lockbox/internal/exposure"
)

// DataPath is the capture path of the payload inside the response envelope.
const DataPath = "body.data"

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Annotator is implemented by response writers that capture the body for
// the audit log.
type Annotator interface {
	Annotate(path string, d exposure.Details)
}

// Annotate marks field (relative to the envelope payload) as holding the
// confidential value described by d. It is a no-op when w does not capture.
func Annotate(w http.ResponseWriter, field string, d exposure.Details) {
	if a, ok := w.(Annotator); ok {
		path := DataPath
		if field != "" {
			path += "." + field
		}
		a.Annotate(path, d)
	}
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
