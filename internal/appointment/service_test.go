package appointment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinicdesk/internal/appointment"
	"github.com/clinicdesk/clinicdesk/internal/auth"
	"github.com/clinicdesk/clinicdesk/internal/validate"
)

// fakeRepo is an in-memory Repository that reproduces the two storage
// behaviors the service leans on: the doctor no-overlap rejection and the
// compare-and-swap status write.
type fakeRepo struct {
	patients     map[uuid.UUID]*appointment.Patient
	doctors      map[uuid.UUID]*appointment.Doctor
	appointments map[uuid.UUID]*appointment.Appointment
	services     map[uuid.UUID]*appointment.CatalogService
	lines        map[uuid.UUID][]appointment.ServiceLine
	events       []appointment.EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:     make(map[uuid.UUID]*appointment.Patient),
		doctors:      make(map[uuid.UUID]*appointment.Doctor),
		appointments: make(map[uuid.UUID]*appointment.Appointment),
		services:     make(map[uuid.UUID]*appointment.CatalogService),
		lines:        make(map[uuid.UUID][]appointment.ServiceLine),
	}
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return p, nil
}

func (f *fakeRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	d, ok := f.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return d, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) ListByDoctorRange(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range f.appointments {
		if a.DoctorID == doctorID && a.StartsAt.Before(to) && a.EndsAt.After(from) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) overlaps(doctorID uuid.UUID, startsAt, endsAt time.Time, except uuid.UUID) bool {
	for _, other := range f.appointments {
		if other.ID == except || other.DoctorID != doctorID || !other.Status.Active() {
			continue
		}
		if startsAt.Before(other.EndsAt) && endsAt.After(other.StartsAt) {
			return true
		}
	}
	return false
}

func (f *fakeRepo) CreateAppointment(_ context.Context, appt *appointment.Appointment) (*appointment.Appointment, error) {
	if f.overlaps(appt.DoctorID, appt.StartsAt, appt.EndsAt, uuid.Nil) {
		return nil, &appointment.SlotUnavailableError{DoctorID: appt.DoctorID, Field: "fecha_hora_inicio"}
	}

	cp := *appt
	cp.ID = uuid.New()
	cp.Status = appointment.StatusProgramada
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.appointments[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (f *fakeRepo) UpdateSchedule(_ context.Context, id uuid.UUID, startsAt, endsAt time.Time) (*appointment.Appointment, error) {
	a, ok := f.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if f.overlaps(a.DoctorID, startsAt, endsAt, id) {
		// Storage does not know the doctor; the service fills it in.
		return nil, &appointment.SlotUnavailableError{Field: "fecha_hora_inicio"}
	}

	a.StartsAt = startsAt
	a.EndsAt = endsAt
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Appointment, error) {
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrStatusConflict
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) MarkNoShows(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, a := range f.appointments {
		if (a.Status == appointment.StatusProgramada || a.Status == appointment.StatusConfirmada) && a.EndsAt.Before(cutoff) {
			a.Status = appointment.StatusNoAsistio
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (f *fakeRepo) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	if _, ok := f.appointments[id]; !ok {
		return appointment.ErrAppointmentNotFound
	}
	delete(f.appointments, id)
	return nil
}

func (f *fakeRepo) GetCatalogService(_ context.Context, id uuid.UUID) (*appointment.CatalogService, error) {
	s, ok := f.services[id]
	if !ok {
		return nil, appointment.ErrServiceNotFound
	}
	return s, nil
}

func (f *fakeRepo) AddServiceLine(_ context.Context, line *appointment.ServiceLine) (*appointment.ServiceLine, error) {
	cp := *line
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	f.lines[cp.AppointmentID] = append(f.lines[cp.AppointmentID], cp)
	return &cp, nil
}

func (f *fakeRepo) ListServiceLines(_ context.Context, appointmentID uuid.UUID) ([]appointment.ServiceLine, error) {
	return f.lines[appointmentID], nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	f.events = append(f.events, ev)
	return nil
}

// Test setup

func newTestService(t *testing.T) (*appointment.Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	return appointment.NewService(repo, zerolog.Nop()), repo
}

func staffCtx(role auth.Role) context.Context {
	return auth.WithContext(context.Background(), auth.Context{UserID: uuid.New(), Role: role})
}

func (f *fakeRepo) addPatient() uuid.UUID {
	id := uuid.New()
	f.patients[id] = &appointment.Patient{ID: id, Name: "Ana Torres"}
	return id
}

func (f *fakeRepo) addDoctor() uuid.UUID {
	id := uuid.New()
	f.doctors[id] = &appointment.Doctor{ID: id, Name: "Dr. Luis Vega"}
	return id
}

func mustBook(t *testing.T, svc *appointment.Service, ctx context.Context, patientID, doctorID uuid.UUID, startsAt time.Time) *appointment.Appointment {
	t.Helper()
	appt, err := svc.Create(ctx, appointment.CreateInput{
		PatientID: patientID,
		DoctorID:  doctorID,
		StartsAt:  startsAt,
		EndsAt:    startsAt.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	return appt
}

var slot = time.Date(2026, time.September, 3, 10, 0, 0, 0, time.UTC)

// Booking

func TestCreate_Books(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()

	appt := mustBook(t, svc, staffCtx(auth.RoleSecretaria), patientID, doctorID, slot)

	assert.Equal(t, appointment.StatusProgramada, appt.Status)
	assert.Equal(t, doctorID, appt.DoctorID)
	assert.NotEqual(t, uuid.Nil, appt.ID)
}

func TestCreate_OverlapRejected(t *testing.T) {
	// Two bookings for the same doctor with overlapping windows: the second
	// fails with the slot error pointing at the start field.
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleSecretaria)

	mustBook(t, svc, ctx, patientID, doctorID, slot)

	_, err := svc.Create(ctx, appointment.CreateInput{
		PatientID: patientID,
		DoctorID:  doctorID,
		StartsAt:  slot.Add(15 * time.Minute),
		EndsAt:    slot.Add(45 * time.Minute),
	})

	var slotErr *appointment.SlotUnavailableError
	require.ErrorAs(t, err, &slotErr)
	assert.Equal(t, doctorID, slotErr.DoctorID)
	assert.Equal(t, "fecha_hora_inicio", slotErr.Field)
}

func TestCreate_CancelledSlotIsFree(t *testing.T) {
	// A cancelled appointment releases its window.
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleAdmin)

	first := mustBook(t, svc, ctx, patientID, doctorID, slot)
	_, err := svc.ChangeStatus(ctx, first.ID, appointment.StatusCancelada)
	require.NoError(t, err)

	mustBook(t, svc, ctx, patientID, doctorID, slot)
}

func TestCreate_Validation(t *testing.T) {
	svc, repo := newTestService(t)
	doctorID := repo.addDoctor()

	_, err := svc.Create(staffCtx(auth.RoleAdmin), appointment.CreateInput{
		DoctorID: doctorID,
		StartsAt: slot,
		EndsAt:   slot, // not after start
	})

	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	fields := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "paciente_id")
	assert.Contains(t, fields, "fecha_hora_fin")
}

func TestCreate_RequiresStaffRole(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()

	_, err := svc.Create(context.Background(), appointment.CreateInput{
		PatientID: patientID,
		DoctorID:  doctorID,
		StartsAt:  slot,
		EndsAt:    slot.Add(30 * time.Minute),
	})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestCreate_UnknownPatient(t *testing.T) {
	svc, repo := newTestService(t)
	doctorID := repo.addDoctor()

	_, err := svc.Create(staffCtx(auth.RoleMedico), appointment.CreateInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartsAt:  slot,
		EndsAt:    slot.Add(30 * time.Minute),
	})
	assert.ErrorIs(t, err, appointment.ErrPatientNotFound)
}

// Reschedule

func TestReschedule_Moves(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleSecretaria)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	moved, err := svc.Reschedule(ctx, appt.ID, slot.Add(2*time.Hour), slot.Add(2*time.Hour+30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, slot.Add(2*time.Hour), moved.StartsAt)
}

func TestReschedule_OverlapCarriesDoctor(t *testing.T) {
	// Storage reports the conflict without knowing the doctor; the service
	// fills DoctorID in before surfacing the error.
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleSecretaria)

	mustBook(t, svc, ctx, patientID, doctorID, slot)
	second := mustBook(t, svc, ctx, patientID, doctorID, slot.Add(time.Hour))

	_, err := svc.Reschedule(ctx, second.ID, slot, slot.Add(30*time.Minute))

	var slotErr *appointment.SlotUnavailableError
	require.ErrorAs(t, err, &slotErr)
	assert.Equal(t, doctorID, slotErr.DoctorID)
}

func TestReschedule_TerminalRejected(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleAdmin)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)
	_, err := svc.ChangeStatus(ctx, appt.ID, appointment.StatusCancelada)
	require.NoError(t, err)

	_, err = svc.Reschedule(ctx, appt.ID, slot.Add(time.Hour), slot.Add(90*time.Minute))

	assert.ErrorIs(t, err, appointment.ErrAppointmentFinished)
	// Not a transition problem: the slot is simply no longer movable.
	var trErr *appointment.TransitionError
	assert.NotErrorAs(t, err, &trErr)
}

// Status machine

func TestChangeStatus_FullVisitPath(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleEnfermera)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	path := []appointment.Status{
		appointment.StatusConfirmada,
		appointment.StatusEnSala,
		appointment.StatusEnAtencion,
		appointment.StatusCompletada,
	}
	for _, next := range path {
		updated, err := svc.ChangeStatus(ctx, appt.ID, next)
		require.NoError(t, err, "transition to %s", next)
		assert.Equal(t, next, updated.Status)
	}
}

func TestChangeStatus_IllegalJumpRejected(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleMedico)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	_, err := svc.ChangeStatus(ctx, appt.ID, appointment.StatusCompletada)

	var trErr *appointment.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, appointment.StatusProgramada, trErr.From)
	assert.Equal(t, "no se puede cambiar el estado de Programada a Completada", trErr.Error())
}

func TestChangeStatus_TerminalHasNoExit(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleAdmin)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)
	_, err := svc.ChangeStatus(ctx, appt.ID, appointment.StatusCancelada)
	require.NoError(t, err)

	for _, to := range []appointment.Status{
		appointment.StatusProgramada,
		appointment.StatusConfirmada,
		appointment.StatusCompletada,
	} {
		_, err := svc.ChangeStatus(ctx, appt.ID, to)
		var trErr *appointment.TransitionError
		assert.ErrorAs(t, err, &trErr, "cancelada -> %s must be illegal", to)
	}
}

func TestChangeStatus_ConcurrentMoveSurfaces(t *testing.T) {
	// GIVEN: the status moved between our read and our write
	// THEN: the stale write is rejected, never applied.
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleSecretaria)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	// Another session confirms underneath us.
	repo.appointments[appt.ID].Status = appointment.StatusConfirmada

	// Our session still believes programada and requests confirmada... which
	// the fresh read now validates against confirmada -> confirmada.
	_, err := svc.ChangeStatus(ctx, appt.ID, appointment.StatusConfirmada)
	var trErr *appointment.TransitionError
	assert.ErrorAs(t, err, &trErr, "self-transition after concurrent move")
}

func TestChangeStatus_UnknownStatus(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleAdmin)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	_, err := svc.ChangeStatus(ctx, appt.ID, appointment.Status("archivada"))
	var ve *validate.Error
	assert.ErrorAs(t, err, &ve)
}

func TestAvailableTransitions(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleAdmin)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	next, err := svc.AvailableTransitions(ctx, appt.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []appointment.Status{
		appointment.StatusCancelada,
		appointment.StatusConfirmada,
		appointment.StatusNoAsistio,
	}, next)
}

// Delete

func TestDelete_AdminOnly(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleSecretaria)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	assert.ErrorIs(t, svc.Delete(ctx, appt.ID), auth.ErrUnauthorized)
	assert.NoError(t, svc.Delete(staffCtx(auth.RoleAdmin), appt.ID))
}

// Service lines

func TestAttachService_SnapshotsPrice(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleMedico)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	serviceID := uuid.New()
	repo.services[serviceID] = &appointment.CatalogService{
		ID:     serviceID,
		Name:   "Consulta general",
		Price:  decimal.RequireFromString("150.00"),
		Active: true,
	}

	line, err := svc.AttachService(ctx, appt.ID, serviceID, 2)
	require.NoError(t, err)
	assert.Equal(t, "Consulta general", line.ServiceName)
	assert.True(t, line.Subtotal.Equal(decimal.RequireFromString("300.00")))
	assert.Equal(t, appointment.PaymentPendiente, line.PaymentState)

	// A later catalog price change must not touch the attached line.
	repo.services[serviceID].Price = decimal.RequireFromString("999.00")
	_, lines, err := svc.Get(ctx, appt.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].UnitPrice.Equal(decimal.RequireFromString("150.00")))
}

func TestAttachService_InactiveRejected(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleMedico)

	appt := mustBook(t, svc, ctx, patientID, doctorID, slot)

	serviceID := uuid.New()
	repo.services[serviceID] = &appointment.CatalogService{
		ID:     serviceID,
		Name:   "Servicio retirado",
		Price:  decimal.RequireFromString("10.00"),
		Active: false,
	}

	_, err := svc.AttachService(ctx, appt.ID, serviceID, 1)
	assert.ErrorIs(t, err, appointment.ErrServiceInactive)
}

// No-show sweep

func TestSweepNoShows(t *testing.T) {
	svc, repo := newTestService(t)
	patientID, doctorID := repo.addPatient(), repo.addDoctor()
	ctx := staffCtx(auth.RoleSecretaria)

	past := time.Now().Add(-24 * time.Hour)
	stale := mustBook(t, svc, ctx, patientID, doctorID, past)
	fresh := mustBook(t, svc, ctx, patientID, doctorID, time.Now().Add(time.Hour))

	swept, err := svc.SweepNoShows(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	assert.Equal(t, appointment.StatusNoAsistio, repo.appointments[stale.ID].Status)
	assert.Equal(t, appointment.StatusProgramada, repo.appointments[fresh.ID].Status)
}
