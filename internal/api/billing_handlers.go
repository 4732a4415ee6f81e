package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/billing"
	redisclient "github.com/clinicdesk/clinicdesk/internal/redis"
)

type billingHandlers struct {
	svc   *billing.Service
	reval redisclient.Revalidator
}

func (h *billingHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_patient_id", "paciente_id must be a valid UUID", "paciente_id")
		return
	}

	items := make([]billing.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		serviceID, err := uuid.Parse(it.ServiceID)
		if err != nil {
			writeFieldError(w, http.StatusBadRequest, "invalid_service_id", "servicio_id must be a valid UUID", "servicio_id")
			return
		}
		item := billing.ItemInput{ServiceID: serviceID, Quantity: it.Quantity}
		if it.ServiceLineID != nil {
			lineID, err := uuid.Parse(*it.ServiceLineID)
			if err != nil {
				writeFieldError(w, http.StatusBadRequest, "invalid_service_line_id", "cita_servicio_id must be a valid UUID", "cita_servicio_id")
				return
			}
			item.ServiceLineID = &lineID
		}
		items = append(items, item)
	}

	methods := make([]billing.MethodInput, 0, len(req.Methods))
	for _, m := range req.Methods {
		method, ok := billing.ParseMethod(m.Method)
		if !ok {
			writeFieldError(w, http.StatusBadRequest, "invalid_method", "metodo must be efectivo, tarjeta or transferencia", "metodo")
			return
		}
		methods = append(methods, billing.MethodInput{
			Method:      method,
			Amount:      m.Amount,
			ReceiptPath: m.ReceiptPath,
		})
	}

	payment, err := h.svc.Create(r.Context(), billing.CreateInput{
		PatientID:             patientID,
		Items:                 items,
		Methods:               methods,
		Discount:              req.Discount,
		DiscountJustification: req.DiscountJustification,
	})
	if err != nil {
		handleBillingError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewPayments, viewReports)
	writeJSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *billingHandlers) void(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req VoidPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	payment, err := h.svc.Void(r.Context(), id, req.Justification)
	if err != nil {
		handleBillingError(w, err)
		return
	}

	h.reval.Invalidate(r.Context(), viewPayments, viewReports)
	writeJSON(w, http.StatusOK, toPaymentResponse(payment))
}

func (h *billingHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	payment, items, methods, err := h.svc.Get(r.Context(), id)
	if err != nil {
		handleBillingError(w, err)
		return
	}

	type itemOut struct {
		ServiceName string `json:"nombre_servicio"`
		UnitPrice   string `json:"precio_unitario"`
		Quantity    int    `json:"cantidad"`
		Subtotal    string `json:"subtotal"`
	}
	type methodOut struct {
		Method      string  `json:"metodo"`
		Amount      string  `json:"monto"`
		ReceiptPath *string `json:"comprobante_path,omitempty"`
	}

	resp := struct {
		PaymentResponse
		Items   []itemOut   `json:"items"`
		Methods []methodOut `json:"metodos"`
	}{PaymentResponse: toPaymentResponse(payment)}

	for _, it := range items {
		resp.Items = append(resp.Items, itemOut{
			ServiceName: it.ServiceName,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Quantity:    it.Quantity,
			Subtotal:    it.Subtotal.StringFixed(2),
		})
	}
	for _, m := range methods {
		resp.Methods = append(resp.Methods, methodOut{
			Method:      string(m.Method),
			Amount:      m.Amount.StringFixed(2),
			ReceiptPath: m.ReceiptPath,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *billingHandlers) listByDay(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse("2006-01-02", r.URL.Query().Get("fecha"))
	if err != nil {
		writeFieldError(w, http.StatusBadRequest, "invalid_date", "fecha must be YYYY-MM-DD", "fecha")
		return
	}

	payments, err := h.svc.ListByDay(r.Context(), day)
	if err != nil {
		handleBillingError(w, err)
		return
	}

	out := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func handleBillingError(w http.ResponseWriter, err error) {
	switch {
	case writeCommonError(w, err):
	case errors.Is(err, billing.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "payment_not_found", err.Error())
	case errors.Is(err, billing.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, billing.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, billing.ErrServiceInactive):
		writeError(w, http.StatusConflict, "service_inactive", err.Error())
	case errors.Is(err, billing.ErrLineNotPayable):
		writeError(w, http.StatusConflict, "service_line_not_payable", "el servicio ya fue pagado o no existe")
	case errors.Is(err, billing.ErrAlreadyVoided):
		writeError(w, http.StatusConflict, "payment_already_voided", "el pago ya está anulado")
	case errors.Is(err, billing.ErrNumberingConflict):
		writeError(w, http.StatusConflict, "numbering_conflict", "no se pudo asignar el número de factura, intente nuevamente")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
