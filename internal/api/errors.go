package api

import (
	"errors"
	"net/http"

	"github.com/clinicdesk/clinicdesk/internal/auth"
	"github.com/clinicdesk/clinicdesk/internal/validate"
)

// writeCommonError handles the cross-cutting error kinds every handler
// shares: identity, role and validation failures. Returns true if err was
// written.
func writeCommonError(w http.ResponseWriter, err error) bool {
	var ve *validate.Error

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "debe iniciar sesión")
		return true
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", "su rol no permite esta operación")
		return true
	case errors.As(err, &ve):
		writeValidationError(w, ve)
		return true
	}

	return false
}
