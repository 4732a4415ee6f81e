package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/cashbox"
	redisclient "github.com/clinicdesk/clinicdesk/internal/redis"
)

type cashboxHandlers struct {
	svc   *cashbox.Service
	reval redisclient.Revalidator
}

func parseModuleParam(w http.ResponseWriter, raw string) (cashbox.Module, bool) {
	module, ok := cashbox.ParseModule(raw)
	if !ok {
		writeFieldError(w, http.StatusBadRequest, "invalid_module", "modulo must be clinica or ventas", "modulo")
		return "", false
	}
	return module, true
}

func parseDateParam(w http.ResponseWriter, raw string) (time.Time, bool) {
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_date", "fecha must be YYYY-MM-DD", "fecha")
		return time.Time{}, false
	}
	return date, true
}

func (h *cashboxHandlers) summary(w http.ResponseWriter, r *http.Request) {
	module, ok := parseModuleParam(w, r.URL.Query().Get("modulo"))
	if !ok {
		return
	}
	date, ok := parseDateParam(w, r.URL.Query().Get("fecha"))
	if !ok {
		return
	}

	summary, err := h.svc.Summary(r.Context(), module, date)
	if err != nil {
		handleCashboxError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (h *cashboxHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req CreateClosingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	module, ok := parseModuleParam(w, req.Module)
	if !ok {
		return
	}
	date, ok := parseDateParam(w, req.Date)
	if !ok {
		return
	}

	closing, err := h.svc.CreateClosing(r.Context(), cashbox.CreateClosingInput{
		Module:                  module,
		Date:                    date,
		CountedCash:             req.CountedCash,
		DifferenceJustification: req.DifferenceJustification,
		EvidencePath:            req.EvidencePath,
	})
	if err != nil {
		handleCashboxError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewReports)
	writeJSON(w, http.StatusCreated, toClosingResponse(closing))
}

func (h *cashboxHandlers) reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req ReopenClosingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	closing, err := h.svc.Reopen(r.Context(), id, req.Reason)
	if err != nil {
		handleCashboxError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewReports)
	writeJSON(w, http.StatusOK, toClosingResponse(closing))
}

func (h *cashboxHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	closing, err := h.svc.Get(r.Context(), id)
	if err != nil {
		handleCashboxError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toClosingResponse(closing))
}

func (h *cashboxHandlers) list(w http.ResponseWriter, r *http.Request) {
	module, ok := parseModuleParam(w, r.URL.Query().Get("modulo"))
	if !ok {
		return
	}

	closings, err := h.svc.List(r.Context(), module, 50)
	if err != nil {
		handleCashboxError(w, err)
		return
	}

	out := make([]ClosingResponse, 0, len(closings))
	for i := range closings {
		out = append(out, toClosingResponse(&closings[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func handleCashboxError(w http.ResponseWriter, err error) {
	var dayClosed *cashbox.DayClosedError
	var state *cashbox.StateError

	switch {
	case writeCommonError(w, err):
	case errors.As(err, &dayClosed):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "day_already_closed",
			Details: dayClosed.Error(),
			Extra:   map[string]any{"cierre_existente_id": dayClosed.ExistingID},
		})
	case errors.As(err, &state):
		writeError(w, http.StatusConflict, "invalid_state", state.Error())
	case errors.Is(err, cashbox.ErrClosingInProgress):
		writeError(w, http.StatusConflict, "closing_in_progress", "otro cierre para esta fecha está en curso, intente de nuevo")
	case errors.Is(err, cashbox.ErrStateConflict):
		writeError(w, http.StatusConflict, "state_conflict", "el cierre fue modificado por otro usuario, recargue e intente de nuevo")
	case errors.Is(err, cashbox.ErrClosingNotFound):
		writeError(w, http.StatusNotFound, "closing_not_found", err.Error())
	case errors.Is(err, cashbox.ErrNumberingContention):
		writeError(w, http.StatusConflict, "numbering_conflict", "no se pudo asignar el número de cierre, intente de nuevo")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
