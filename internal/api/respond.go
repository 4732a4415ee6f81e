package api

import (
	"encoding/json"
	"net/http"

	"github.com/clinicdesk/clinicdesk/internal/validate"
)

type ErrorResponse struct {
	Error   string                `json:"error"`
	Details string                `json:"details,omitempty"`
	Field   string                `json:"field,omitempty"`
	Fields  []validate.FieldError `json:"fields,omitempty"`
	Extra   map[string]any        `json:"extra,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeFieldError(w http.ResponseWriter, status int, code, details, field string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details, Field: field})
}

func writeValidationError(w http.ResponseWriter, ve *validate.Error) {
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "validation_failed",
		Details: ve.Error(),
		Fields:  ve.Fields,
	})
}
