package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/transition"
)

type Status string

const (
	StatusProgramada Status = "programada"
	StatusConfirmada Status = "confirmada"
	StatusEnSala     Status = "en_sala"
	StatusEnAtencion Status = "en_atencion"
	StatusCompletada Status = "completada"
	StatusCancelada  Status = "cancelada"
	StatusNoAsistio  Status = "no_asistio"
)

// Labels are the display names surfaced in transition errors.
var Labels = map[Status]string{
	StatusProgramada: "Programada",
	StatusConfirmada: "Confirmada",
	StatusEnSala:     "En Sala",
	StatusEnAtencion: "En Atención",
	StatusCompletada: "Completada",
	StatusCancelada:  "Cancelada",
	StatusNoAsistio:  "No Asistió",
}

// Transitions is the appointment state machine. Completada, cancelada and
// no_asistio are terminal.
var Transitions = transition.Rules[Status]{
	StatusProgramada: {StatusConfirmada, StatusCancelada, StatusNoAsistio},
	StatusConfirmada: {StatusEnSala, StatusCancelada, StatusNoAsistio},
	StatusEnSala:     {StatusEnAtencion, StatusCancelada},
	StatusEnAtencion: {StatusCompletada, StatusCancelada},
	StatusCompletada: {},
	StatusCancelada:  {},
	StatusNoAsistio:  {},
}

// Active reports whether s participates in the doctor no-overlap invariant.
func (s Status) Active() bool {
	return s != StatusCancelada && s != StatusNoAsistio
}

func (s Status) Label() string {
	if l, ok := Labels[s]; ok {
		return l
	}
	return string(s)
}

// TransitionError reports an illegal status move, carrying both display
// labels for the UI.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("no se puede cambiar el estado de %s a %s", e.From.Label(), e.To.Label())
}

// SlotUnavailableError is the domain translation of the storage-level
// exclusion conflict. Field names the form field the UI should highlight.
type SlotUnavailableError struct {
	DoctorID uuid.UUID
	Field    string
}

func (e *SlotUnavailableError) Error() string {
	return "el doctor ya tiene una cita en ese horario"
}

func newSlotUnavailable(doctorID uuid.UUID) *SlotUnavailableError {
	return &SlotUnavailableError{DoctorID: doctorID, Field: "fecha_hora_inicio"}
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     *string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	StartsAt  time.Time
	EndsAt    time.Time
	Status    Status
	Reason    *string
	Notes     *string
	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PaymentState string

const (
	PaymentPendiente PaymentState = "pendiente"
	PaymentPagado    PaymentState = "pagado"
)

// ServiceLine is a billable service attached to an appointment. Name and
// unit price are snapshotted at attachment time; later catalog edits never
// touch historical lines.
type ServiceLine struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	ServiceID     uuid.UUID
	ServiceName   string
	UnitPrice     decimal.Decimal
	Quantity      int
	Subtotal      decimal.Decimal
	PaymentState  PaymentState
	PaymentItemID *uuid.UUID
	CreatedAt     time.Time
}

// CatalogService is a row of the mutable service catalog the snapshot is
// taken from.
type CatalogService struct {
	ID     uuid.UUID
	Name   string
	Price  decimal.Decimal
	Active bool
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

type EventLog struct {
	ID        int64
	EventType string
	EntityID  *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
