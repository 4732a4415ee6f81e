package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/appointment"
	redisclient "github.com/clinicdesk/clinicdesk/internal/redis"
)

const (
	viewAppointments = "appointments"
	viewPayments     = "payments"
	viewProducts     = "products"
	viewReports      = "reports"
)

type appointmentHandlers struct {
	svc   *appointment.Service
	reval redisclient.Revalidator
}

func (h *appointmentHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_patient_id", "paciente_id must be a valid UUID", "paciente_id")
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID", "doctor_id")
		return
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_start", "fecha_hora_inicio must be RFC 3339", "fecha_hora_inicio")
		return
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_end", "fecha_hora_fin must be RFC 3339", "fecha_hora_fin")
		return
	}

	appt, err := h.svc.Create(r.Context(), appointment.CreateInput{
		PatientID: patientID,
		DoctorID:  doctorID,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		Reason:    req.Reason,
		Notes:     req.Notes,
	})
	if err != nil {
		handleAppointmentError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewAppointments)
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_start", "fecha_hora_inicio must be RFC 3339", "fecha_hora_inicio")
		return
	}
	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_end", "fecha_hora_fin must be RFC 3339", "fecha_hora_fin")
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), id, startsAt, endsAt)
	if err != nil {
		handleAppointmentError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewAppointments)
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.ChangeStatus(r.Context(), id, appointment.Status(req.Status))
	if err != nil {
		handleAppointmentError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewAppointments)
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandlers) transitions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	available, err := h.svc.AvailableTransitions(r.Context(), id)
	if err != nil {
		handleAppointmentError(w, err)
		return
	}

	out := make([]string, 0, len(available))
	for _, s := range available {
		out = append(out, string(s))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"transiciones": out})
}

func (h *appointmentHandlers) attachService(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req AttachServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_service_id", "servicio_id must be a valid UUID", "servicio_id")
		return
	}

	line, err := h.svc.AttachService(r.Context(), id, serviceID, req.Quantity)
	if err != nil {
		handleAppointmentError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewAppointments)
	writeJSON(w, http.StatusCreated, toServiceLineResponse(*line))
}

func (h *appointmentHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	appt, lines, err := h.svc.Get(r.Context(), id)
	if err != nil {
		handleAppointmentError(w, err)
		return
	}

	resp := AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(appt),
		Services:            make([]ServiceLineResponse, 0, len(lines)),
	}
	for _, l := range lines {
		resp.Services = append(resp.Services, toServiceLineResponse(l))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *appointmentHandlers) listByDoctor(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(r.URL.Query().Get("doctor_id"))
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID", "doctor_id")
		return
	}

	day, err := time.Parse("2006-01-02", r.URL.Query().Get("fecha"))
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_date", "fecha must be YYYY-MM-DD", "fecha")
		return
	}

	appts, err := h.svc.ListByDoctorDay(r.Context(), doctorID, day)
	if err != nil {
		handleAppointmentError(w, err)
		return
	}

	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *appointmentHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		handleAppointmentError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewAppointments)
	w.WriteHeader(http.StatusNoContent)
}

func handleAppointmentError(w http.ResponseWriter, err error) {
	var slot *appointment.SlotUnavailableError
	var trans *appointment.TransitionError

	switch {
	case writeCommonError(w, err):
	case errors.As(err, &slot):
		writeFieldError(w, http.StatusConflict, "slot_unavailable", slot.Error(), slot.Field)
	case errors.As(err, &trans):
		writeError(w, http.StatusConflict, "invalid_transition", trans.Error())
	case errors.Is(err, appointment.ErrAppointmentFinished):
		writeError(w, http.StatusConflict, "invalid_state", "la cita ya finalizó y no puede ser reprogramada")
	case errors.Is(err, appointment.ErrStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", "la cita fue modificada por otro usuario, recargue e intente de nuevo")
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceInactive):
		writeError(w, http.StatusConflict, "service_inactive", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
