package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/appointment"
	"github.com/clinicdesk/clinicdesk/internal/billing"
	"github.com/clinicdesk/clinicdesk/internal/cashbox"
	"github.com/clinicdesk/clinicdesk/internal/inventory"
)

// -- Appointments --

type CreateAppointmentRequest struct {
	PatientID string  `json:"paciente_id"`
	DoctorID  string  `json:"doctor_id"`
	StartsAt  string  `json:"fecha_hora_inicio"` // RFC 3339
	EndsAt    string  `json:"fecha_hora_fin"`
	Reason    *string `json:"motivo,omitempty"`
	Notes     *string `json:"notas,omitempty"`
}

type RescheduleRequest struct {
	StartsAt string `json:"fecha_hora_inicio"`
	EndsAt   string `json:"fecha_hora_fin"`
}

type ChangeStatusRequest struct {
	Status string `json:"estado"`
}

type AttachServiceRequest struct {
	ServiceID string `json:"servicio_id"`
	Quantity  int    `json:"cantidad"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"paciente_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartsAt  time.Time `json:"fecha_hora_inicio"`
	EndsAt    time.Time `json:"fecha_hora_fin"`
	Status    string    `json:"estado"`
	Reason    *string   `json:"motivo,omitempty"`
	Notes     *string   `json:"notas,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		StartsAt:  a.StartsAt,
		EndsAt:    a.EndsAt,
		Status:    string(a.Status),
		Reason:    a.Reason,
		Notes:     a.Notes,
	}
}

type ServiceLineResponse struct {
	ID           uuid.UUID       `json:"id"`
	ServiceID    uuid.UUID       `json:"servicio_id"`
	ServiceName  string          `json:"nombre_servicio"`
	UnitPrice    decimal.Decimal `json:"precio_unitario"`
	Quantity     int             `json:"cantidad"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	PaymentState string          `json:"estado_pago"`
}

func toServiceLineResponse(l appointment.ServiceLine) ServiceLineResponse {
	return ServiceLineResponse{
		ID:           l.ID,
		ServiceID:    l.ServiceID,
		ServiceName:  l.ServiceName,
		UnitPrice:    l.UnitPrice,
		Quantity:     l.Quantity,
		Subtotal:     l.Subtotal,
		PaymentState: string(l.PaymentState),
	}
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Services []ServiceLineResponse `json:"servicios"`
}

// -- Payments --

type PaymentItemRequest struct {
	ServiceID     string  `json:"servicio_id"`
	Quantity      int     `json:"cantidad"`
	ServiceLineID *string `json:"cita_servicio_id,omitempty"`
}

type PaymentMethodRequest struct {
	Method      string          `json:"metodo"`
	Amount      decimal.Decimal `json:"monto"`
	ReceiptPath *string         `json:"comprobante_path,omitempty"`
}

type CreatePaymentRequest struct {
	PatientID             string                 `json:"paciente_id"`
	Items                 []PaymentItemRequest   `json:"items"`
	Methods               []PaymentMethodRequest `json:"metodos"`
	Discount              decimal.Decimal        `json:"descuento"`
	DiscountJustification string                 `json:"justificacion_descuento,omitempty"`
}

type VoidPaymentRequest struct {
	Justification string `json:"motivo_anulacion"`
}

type PaymentResponse struct {
	ID            uuid.UUID       `json:"id"`
	PatientID     uuid.UUID       `json:"paciente_id"`
	InvoiceNumber int64           `json:"numero_factura"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"descuento"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"estado"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toPaymentResponse(p *billing.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		PatientID:     p.PatientID,
		InvoiceNumber: p.InvoiceNumber,
		Subtotal:      p.Subtotal,
		Discount:      p.Discount,
		Total:         p.Total,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt,
	}
}

// -- Inventory --

type PurchaseItemRequest struct {
	ProductID string          `json:"producto_id"`
	Quantity  int             `json:"cantidad"`
	UnitCost  decimal.Decimal `json:"costo_unitario"`
}

type CreatePurchaseRequest struct {
	Supplier string                `json:"proveedor"`
	Items    []PurchaseItemRequest `json:"items"`
}

type CancelPurchaseRequest struct {
	Justification string `json:"justificacion_anulacion"`
}

type PurchaseResponse struct {
	ID       uuid.UUID `json:"id"`
	Number   int64     `json:"numero_compra"`
	Supplier string    `json:"proveedor"`
	Status   string    `json:"estado"`
}

func toPurchaseResponse(p *inventory.Purchase) PurchaseResponse {
	return PurchaseResponse{
		ID:       p.ID,
		Number:   p.Number,
		Supplier: p.Supplier,
		Status:   string(p.Status),
	}
}

type CreateReturnRequest struct {
	ProductID string `json:"producto_id"`
	Quantity  int    `json:"cantidad"`
	Reason    string `json:"motivo"`
}

type ResolveReturnRequest struct {
	Notes *string `json:"notas_resolucion,omitempty"`
}

type ReturnResponse struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"producto_id"`
	Quantity  int       `json:"cantidad"`
	Status    string    `json:"estado"`
}

func toReturnResponse(ret *inventory.Return) ReturnResponse {
	return ReturnResponse{
		ID:        ret.ID,
		ProductID: ret.ProductID,
		Quantity:  ret.Quantity,
		Status:    string(ret.Status),
	}
}

type SaleItemRequest struct {
	ProductID string `json:"producto_id"`
	Quantity  int    `json:"cantidad"`
}

type CreateSaleRequest struct {
	Method string            `json:"metodo_pago"`
	Items  []SaleItemRequest `json:"items"`
}

type SaleResponse struct {
	ID     uuid.UUID       `json:"id"`
	Number int64           `json:"numero_venta"`
	Total  decimal.Decimal `json:"total"`
	Method string          `json:"metodo_pago"`
}

// -- Cash closings --

type CreateClosingRequest struct {
	Module                  string          `json:"modulo"`
	Date                    string          `json:"fecha"` // YYYY-MM-DD
	CountedCash             decimal.Decimal `json:"efectivo_contado"`
	DifferenceJustification string          `json:"justificacion_diferencia,omitempty"`
	EvidencePath            *string         `json:"evidencia_path,omitempty"`
}

type ReopenClosingRequest struct {
	Reason string `json:"motivo_reapertura"`
}

type ClosingResponse struct {
	ID             uuid.UUID       `json:"id"`
	Number         int64           `json:"numero_cierre"`
	Module         string          `json:"modulo"`
	Date           string          `json:"fecha"`
	TotalCash      decimal.Decimal `json:"total_efectivo"`
	TotalCard      decimal.Decimal `json:"total_tarjeta"`
	TotalTransfer  decimal.Decimal `json:"total_transferencia"`
	TotalDiscounts decimal.Decimal `json:"total_descuentos"`
	TotalVoided    decimal.Decimal `json:"total_anulados"`
	GrandTotal     decimal.Decimal `json:"total_general"`
	CountedCash    decimal.Decimal `json:"efectivo_contado"`
	Difference     decimal.Decimal `json:"diferencia"`
	Status         string          `json:"estado"`
}

func toClosingResponse(c *cashbox.CashClosing) ClosingResponse {
	return ClosingResponse{
		ID:             c.ID,
		Number:         c.Number,
		Module:         string(c.Module),
		Date:           c.Date.Format("2006-01-02"),
		TotalCash:      c.TotalCash,
		TotalCard:      c.TotalCard,
		TotalTransfer:  c.TotalTransfer,
		TotalDiscounts: c.TotalDiscounts,
		TotalVoided:    c.TotalVoided,
		GrandTotal:     c.GrandTotal,
		CountedCash:    c.CountedCash,
		Difference:     c.Difference,
		Status:         string(c.Status),
	}
}

type SummaryResponse struct {
	Module         string          `json:"modulo"`
	Date           string          `json:"fecha"`
	TotalCash      decimal.Decimal `json:"total_efectivo"`
	TotalCard      decimal.Decimal `json:"total_tarjeta"`
	TotalTransfer  decimal.Decimal `json:"total_transferencia"`
	TotalDiscounts decimal.Decimal `json:"total_descuentos"`
	TotalVoided    decimal.Decimal `json:"total_anulados"`
	GrandTotal     decimal.Decimal `json:"total_general"`
}

func toSummaryResponse(s *cashbox.DailySummary) SummaryResponse {
	return SummaryResponse{
		Module:         string(s.Module),
		Date:           s.Date.Format("2006-01-02"),
		TotalCash:      s.TotalCash,
		TotalCard:      s.TotalCard,
		TotalTransfer:  s.TotalTransfer,
		TotalDiscounts: s.TotalDiscounts,
		TotalVoided:    s.TotalVoided,
		GrandTotal:     s.GrandTotal,
	}
}
