package cashbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/transition"
)

// Module selects which till is being reconciled. The clinic till tracks
// discounts and voided payments alongside method totals; the sales till
// reconciles raw sale totals only, under the stricter zero-tolerance
// wording, though the enforced rule is the same.
type Module string

const (
	ModuleClinica Module = "clinica"
	ModuleVentas  Module = "ventas"
)

func ParseModule(raw string) (Module, bool) {
	switch Module(raw) {
	case ModuleClinica, ModuleVentas:
		return Module(raw), true
	default:
		return "", false
	}
}

type Status string

const (
	StatusCerrado   Status = "cerrado"
	StatusReabierto Status = "reabierto"
)

var Labels = map[Status]string{
	StatusCerrado:   "Cerrado",
	StatusReabierto: "Reabierto",
}

// Transitions: reabierto is terminal for the row. A later closing for the
// same date is a fresh row; the reopened one stays behind as audit history.
var Transitions = transition.Rules[Status]{
	StatusCerrado:   {StatusReabierto},
	StatusReabierto: {},
}

// DailySummary is the computed side of the reconciliation: expected totals
// per payment method for one date.
type DailySummary struct {
	Module         Module
	Date           time.Time
	TotalCash      decimal.Decimal
	TotalCard      decimal.Decimal
	TotalTransfer  decimal.Decimal
	TotalDiscounts decimal.Decimal
	TotalVoided    decimal.Decimal
	GrandTotal     decimal.Decimal
}

type CashClosing struct {
	ID                      uuid.UUID
	Number                  int64
	Module                  Module
	Date                    time.Time
	TotalCash               decimal.Decimal
	TotalCard               decimal.Decimal
	TotalTransfer           decimal.Decimal
	TotalDiscounts          decimal.Decimal
	TotalVoided             decimal.Decimal
	GrandTotal              decimal.Decimal
	CountedCash             decimal.Decimal
	Difference              decimal.Decimal
	DifferenceJustification *string
	EvidencePath            *string
	Status                  Status
	ReopenedBy              *uuid.UUID
	ReopenedAt              *time.Time
	ReopenReason            *string
	CreatedBy               uuid.UUID
	CreatedAt               time.Time
}

// DayClosedError rejects a second closing for an already-closed date,
// referencing the existing closing.
type DayClosedError struct {
	ExistingID uuid.UUID
	Date       time.Time
}

func (e *DayClosedError) Error() string {
	return fmt.Sprintf("el día %s ya tiene un cierre activo (%s)", e.Date.Format("2006-01-02"), e.ExistingID)
}

// StateError reports a reopen attempted on a row that is not cerrado.
type StateError struct {
	Current   Status
	Requested Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("no se puede cambiar el estado de %s a %s", Labels[e.Current], Labels[e.Requested])
}

type EventLog struct {
	ID        int64
	EventType string
	EntityID  *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
