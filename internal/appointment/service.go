package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/auth"
	"github.com/clinicdesk/clinicdesk/internal/validate"
)

const (
	EventAppointmentCreated     = "CITA_CREADA"
	EventAppointmentRescheduled = "CITA_REPROGRAMADA"
	EventStatusChanged          = "CITA_ESTADO_CAMBIADO"
	EventAppointmentDeleted     = "CITA_ELIMINADA"
	EventServiceAttached        = "CITA_SERVICIO_AGREGADO"
)

var staffRoles = []auth.Role{auth.RoleAdmin, auth.RoleMedico, auth.RoleEnfermera, auth.RoleSecretaria}

var (
	ErrServiceInactive = errors.New("service is no longer offered")

	// ErrAppointmentFinished rejects rescheduling an appointment already in
	// a terminal status.
	ErrAppointmentFinished = errors.New("appointment is finished and can no longer be rescheduled")
)

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

type CreateInput struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	StartsAt  time.Time
	EndsAt    time.Time
	Reason    *string
	Notes     *string
}

// Create books an appointment. The write is attempted optimistically: the
// storage exclusion constraint is the only overlap check, so concurrent
// bookings for the same doctor cannot both succeed. A SlotUnavailableError
// is a business outcome, never retried here.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(staffRoles...); err != nil {
		return nil, err
	}

	var ve validate.Error
	if in.PatientID == uuid.Nil {
		ve.Add("paciente_id", "requerido")
	}
	if in.DoctorID == uuid.Nil {
		ve.Add("doctor_id", "requerido")
	}
	if !in.EndsAt.After(in.StartsAt) {
		ve.Add("fecha_hora_fin", "debe ser posterior al inicio")
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, in.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	appt := &Appointment{
		PatientID: in.PatientID,
		DoctorID:  in.DoctorID,
		StartsAt:  in.StartsAt,
		EndsAt:    in.EndsAt,
		Reason:    in.Reason,
		Notes:     in.Notes,
		CreatedBy: ac.UserID,
	}

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":   created.DoctorID.String(),
		"paciente_id": created.PatientID.String(),
		"inicio":      created.StartsAt,
		"fin":         created.EndsAt,
	})

	return created, nil
}

// Reschedule moves an appointment to a new time window. Same mechanism as
// Create: a plain write gated by the exclusion constraint.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, startsAt, endsAt time.Time) (*Appointment, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(staffRoles...); err != nil {
		return nil, err
	}

	if !endsAt.After(startsAt) {
		var ve validate.Error
		ve.Add("fecha_hora_fin", "debe ser posterior al inicio")
		return nil, ve.Err()
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if Transitions.IsTerminal(appt.Status) {
		return nil, ErrAppointmentFinished
	}

	updated, err := s.repo.UpdateSchedule(ctx, id, startsAt, endsAt)
	if err != nil {
		var slot *SlotUnavailableError
		if errors.As(err, &slot) {
			slot.DoctorID = appt.DoctorID
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentRescheduled, map[string]any{
		"inicio": updated.StartsAt,
		"fin":    updated.EndsAt,
	})

	return updated, nil
}

// ChangeStatus validates the requested transition against the freshly read
// status, then writes with a compare-and-swap so a concurrent change is
// surfaced instead of silently overwritten.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(staffRoles...); err != nil {
		return nil, err
	}

	if _, ok := Labels[to]; !ok {
		var ve validate.Error
		ve.Add("estado", fmt.Sprintf("estado desconocido %q", string(to)))
		return nil, ve.Err()
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !Transitions.Can(appt.Status, to) {
		return nil, &TransitionError{From: appt.Status, To: to}
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, to)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventStatusChanged, map[string]any{
		"de": string(appt.Status),
		"a":  string(to),
	})

	return updated, nil
}

// AvailableTransitions returns the legal next statuses for an appointment,
// for UI menus.
func (s *Service) AvailableTransitions(ctx context.Context, id uuid.UUID) ([]Status, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return Transitions.Available(appt.Status), nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	ac := auth.FromContext(ctx)
	if err := ac.Require(auth.RoleAdmin); err != nil {
		return err
	}

	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return err
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"eliminado_por": ac.UserID.String(),
	})

	return nil
}

// AttachService adds a billable service line, snapshotting the catalog name
// and price so later catalog edits never alter this appointment's billing.
func (s *Service) AttachService(ctx context.Context, appointmentID, serviceID uuid.UUID, quantity int) (*ServiceLine, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(staffRoles...); err != nil {
		return nil, err
	}

	if quantity <= 0 {
		var ve validate.Error
		ve.Add("cantidad", "debe ser mayor que cero")
		return nil, ve.Err()
	}

	if _, err := s.repo.GetAppointmentByID(ctx, appointmentID); err != nil {
		return nil, err
	}

	svc, err := s.repo.GetCatalogService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, ErrServiceInactive
	}

	line := &ServiceLine{
		AppointmentID: appointmentID,
		ServiceID:     svc.ID,
		ServiceName:   svc.Name,
		UnitPrice:     svc.Price,
		Quantity:      quantity,
		Subtotal:      svc.Price.Mul(decimalFromInt(quantity)),
		PaymentState:  PaymentPendiente,
	}

	created, err := s.repo.AddServiceLine(ctx, line)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, appointmentID, EventServiceAttached, map[string]any{
		"servicio": svc.Name,
		"cantidad": quantity,
	})

	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, []ServiceLine, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.repo.ListServiceLines(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list service lines: %w", err)
	}

	return appt, lines, nil
}

// SweepNoShows flips appointments that ended more than grace ago and were
// never moved past confirmada to no_asistio. Runs without an auth context;
// it is invoked by the background worker, not a user.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)

	ids, err := s.repo.MarkNoShows(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		s.logEvent(ctx, id, EventStatusChanged, map[string]any{
			"estado_nuevo": string(StatusNoAsistio),
			"automatico":   true,
		})
	}

	return len(ids), nil
}

func (s *Service) ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Appointment, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return s.repo.ListByDoctorRange(ctx, doctorID, dayStart, dayStart.AddDate(0, 0, 1))
}

func (s *Service) logEvent(ctx context.Context, entityID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	id := entityID
	ev := EventLog{
		EventType: eventType,
		EntityID:  &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Stringer("entity_id", entityID).Msg("insert event log")
	}
}
