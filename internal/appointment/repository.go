package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrServiceNotFound     = errors.New("service not found")

	// ErrStatusConflict means a compare-and-swap update matched zero rows:
	// someone else changed the status after we read it. Callers re-fetch
	// and retry; the stale write is never applied.
	ErrStatusConflict = errors.New("appointment status changed concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctorRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// CreateAppointment and UpdateSchedule are plain single-row writes; the
	// exclusion constraint on (doctor, time range) is what rejects overlaps.
	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)
	UpdateSchedule(ctx context.Context, id uuid.UUID, startsAt, endsAt time.Time) (*Appointment, error)

	// UpdateStatus writes only if the stored status still equals from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	// MarkNoShows flips every programada/confirmada appointment that ended
	// before cutoff to no_asistio and returns the affected IDs.
	MarkNoShows(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	GetCatalogService(ctx context.Context, id uuid.UUID) (*CatalogService, error)
	AddServiceLine(ctx context.Context, line *ServiceLine) (*ServiceLine, error)
	ListServiceLines(ctx context.Context, appointmentID uuid.UUID) ([]ServiceLine, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
