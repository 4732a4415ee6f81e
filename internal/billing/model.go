package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActivo  Status = "activo"
	StatusAnulado Status = "anulado"
)

type Method string

const (
	MethodEfectivo      Method = "efectivo"
	MethodTarjeta       Method = "tarjeta"
	MethodTransferencia Method = "transferencia"
)

// Electronic methods must carry a receipt path; only efectivo participates
// in the physical cash count at closing time.
func (m Method) Electronic() bool {
	return m == MethodTarjeta || m == MethodTransferencia
}

func ParseMethod(raw string) (Method, bool) {
	switch Method(raw) {
	case MethodEfectivo, MethodTarjeta, MethodTransferencia:
		return Method(raw), true
	default:
		return "", false
	}
}

// Payment is immutable once created: voiding flips the status and records
// the audit fields, nothing else ever changes and rows are never deleted.
type Payment struct {
	ID                    uuid.UUID
	PatientID             uuid.UUID
	InvoiceNumber         int64
	Subtotal              decimal.Decimal
	Discount              decimal.Decimal
	DiscountJustification *string
	Total                 decimal.Decimal
	Status                Status
	VoidedBy              *uuid.UUID
	VoidedAt              *time.Time
	VoidReason            *string
	CreatedBy             uuid.UUID
	CreatedAt             time.Time
}

// PaymentItem snapshots the billed service at payment time.
type PaymentItem struct {
	ID          uuid.UUID
	PaymentID   uuid.UUID
	ServiceID   uuid.UUID
	ServiceName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Subtotal    decimal.Decimal

	// ServiceLineID links back to the appointment service line this item
	// settles, if any. Not persisted on pago_items; used inside the
	// creation transaction to mark the line pagado.
	ServiceLineID *uuid.UUID
}

type PaymentMethod struct {
	ID          uuid.UUID
	PaymentID   uuid.UUID
	Method      Method
	Amount      decimal.Decimal
	ReceiptPath *string
}

// CatalogService is the mutable price catalog item snapshots are taken from.
type CatalogService struct {
	ID     uuid.UUID
	Name   string
	Price  decimal.Decimal
	Active bool
}

type EventLog struct {
	ID        int64
	EventType string
	EntityID  *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// BalanceEpsilon is the tolerance when checking that method amounts cover
// the payment total.
var BalanceEpsilon = decimal.NewFromFloat(0.01)
