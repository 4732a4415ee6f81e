package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/transition"
)

type PurchaseStatus string

const (
	PurchasePendienteRecepcion PurchaseStatus = "pendiente_recepcion"
	PurchaseRecibido           PurchaseStatus = "recibido"
	PurchaseAnulado            PurchaseStatus = "anulado"
)

var PurchaseLabels = map[PurchaseStatus]string{
	PurchasePendienteRecepcion: "Pendiente de Recepción",
	PurchaseRecibido:           "Recibido",
	PurchaseAnulado:            "Anulado",
}

// PurchaseTransitions: a purchase is received or cancelled; a received
// purchase can still be cancelled (with stock reversal); anulado is terminal.
var PurchaseTransitions = transition.Rules[PurchaseStatus]{
	PurchasePendienteRecepcion: {PurchaseRecibido, PurchaseAnulado},
	PurchaseRecibido:           {PurchaseAnulado},
	PurchaseAnulado:            {},
}

type ReturnStatus string

const (
	ReturnPendiente ReturnStatus = "pendiente"
	ReturnAprobada  ReturnStatus = "aprobada"
	ReturnRechazada ReturnStatus = "rechazada"
)

var ReturnLabels = map[ReturnStatus]string{
	ReturnPendiente: "Pendiente",
	ReturnAprobada:  "Aprobada",
	ReturnRechazada: "Rechazada",
}

var ReturnTransitions = transition.Rules[ReturnStatus]{
	ReturnPendiente: {ReturnAprobada, ReturnRechazada},
	ReturnAprobada:  {},
	ReturnRechazada: {},
}

// StateError reports an operation attempted against an entity that is not
// in the required precondition state.
type StateError struct {
	Current   string
	Requested string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("no se puede cambiar el estado de %s a %s", e.Current, e.Requested)
}

type Product struct {
	ID           uuid.UUID
	Name         string
	Price        decimal.Decimal
	Stock        int
	ReturnsStock int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Purchase struct {
	ID                  uuid.UUID
	Number              int64
	Supplier            string
	Status              PurchaseStatus
	ReceivedAt          *time.Time
	CancelJustification *string
	CancelledBy         *uuid.UUID
	CreatedBy           uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type PurchaseItem struct {
	ID         uuid.UUID
	PurchaseID uuid.UUID
	ProductID  uuid.UUID
	Quantity   int
	UnitCost   decimal.Decimal
}

type Return struct {
	ID              uuid.UUID
	ProductID       uuid.UUID
	Quantity        int
	Reason          string
	Status          ReturnStatus
	RequestedBy     uuid.UUID
	ResolvedBy      *uuid.UUID
	ResolutionNotes *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Sale struct {
	ID        uuid.UUID
	Number    int64
	Total     decimal.Decimal
	Method    string
	CreatedBy uuid.UUID
	CreatedAt time.Time
}

// SaleItem snapshots product name and price at sale time.
type SaleItem struct {
	ID          uuid.UUID
	SaleID      uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Subtotal    decimal.Decimal
}

// Stock movement types, one row per stock change.
const (
	MovementPurchaseReceived  = "compra_recibida"
	MovementPurchaseReversed  = "compra_anulada"
	MovementSale              = "venta"
	MovementReturnApproved    = "devolucion_aprobada"
)

type StockMovement struct {
	ID          int64
	ProductID   uuid.UUID
	Type        string
	Quantity    int
	StockBefore int
	StockAfter  int
	ReferenceID *uuid.UUID
	CreatedAt   time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	EntityID  *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
