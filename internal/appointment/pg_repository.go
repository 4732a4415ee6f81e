package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Phone,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartsAt,
		&a.EndsAt,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanServiceLine(row pgx.Row) (*ServiceLine, error) {
	var l ServiceLine

	err := row.Scan(
		&l.ID,
		&l.AppointmentID,
		&l.ServiceID,
		&l.ServiceName,
		&l.UnitPrice,
		&l.Quantity,
		&l.Subtotal,
		&l.PaymentState,
		&l.PaymentItemID,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &l, nil
}

const appointmentColumns = `id, paciente_id, doctor_id, fecha_hora_inicio, fecha_hora_fin, estado, motivo, notas, creado_por, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, nombre, telefono, email, created_at, updated_at
		FROM pacientes
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, nombre, especialidad, created_at, updated_at
		FROM doctores
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM citas
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByDoctorRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM citas
		WHERE doctor_id = $1
		  AND fecha_hora_inicio >= $2
		  AND fecha_hora_inicio < $3
		ORDER BY fecha_hora_inicio
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO citas (id, paciente_id, doctor_id, fecha_hora_inicio, fecha_hora_fin, estado, motivo, notas, creado_por, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'programada', $6, $7, $8, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.PatientID, appt.DoctorID, appt.StartsAt, appt.EndsAt, appt.Reason, appt.Notes, appt.CreatedBy)

	created, err := scanAppointment(row)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return nil, newSlotUnavailable(appt.DoctorID)
		}
		if db.IsForeignKeyViolation(err) {
			return nil, foreignKeyToNotFound(err)
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, startsAt, endsAt time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE citas
		SET fecha_hora_inicio = $2,
		    fecha_hora_fin = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, startsAt, endsAt)

	updated, err := scanAppointment(row)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return nil, newSlotUnavailable(uuid.Nil)
		}
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE citas
		SET estado = $2,
		    updated_at = now()
		WHERE id = $1
		  AND estado = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Zero rows: either the row is gone or the status moved under us.
			return nil, ErrStatusConflict
		}
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) MarkNoShows(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE citas
		SET estado = $1,
		    updated_at = now()
		WHERE estado IN ($2, $3)
		  AND fecha_hora_fin < $4
		RETURNING id
	`, StatusNoAsistio, StatusProgramada, StatusConfirmada, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark no-shows: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM citas WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) GetCatalogService(ctx context.Context, id uuid.UUID) (*CatalogService, error) {
	var s CatalogService

	err := r.pool.QueryRow(ctx, `
		SELECT id, nombre, precio, activo
		FROM servicios
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Price, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRepository) AddServiceLine(ctx context.Context, line *ServiceLine) (*ServiceLine, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO cita_servicios (id, cita_id, servicio_id, nombre_servicio, precio_unitario, cantidad, subtotal, estado_pago, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pendiente', now())
		RETURNING id, cita_id, servicio_id, nombre_servicio, precio_unitario, cantidad, subtotal, estado_pago, pago_item_id, created_at
	`, id, line.AppointmentID, line.ServiceID, line.ServiceName, line.UnitPrice, line.Quantity, line.Subtotal)

	created, err := scanServiceLine(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, foreignKeyToNotFound(err)
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) ListServiceLines(ctx context.Context, appointmentID uuid.UUID) ([]ServiceLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, cita_id, servicio_id, nombre_servicio, precio_unitario, cantidad, subtotal, estado_pago, pago_item_id, created_at
		FROM cita_servicios
		WHERE cita_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ServiceLine
	for rows.Next() {
		l, err := scanServiceLine(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.EntityID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// foreignKeyToNotFound maps FK violations to the sentinel of the missing
// referenced entity based on the violated constraint.
func foreignKeyToNotFound(err error) error {
	switch name := db.ConstraintName(err); {
	case name == "citas_paciente_id_fkey":
		return ErrPatientNotFound
	case name == "citas_doctor_id_fkey":
		return ErrDoctorNotFound
	case name == "cita_servicios_servicio_id_fkey":
		return ErrServiceNotFound
	case name == "cita_servicios_cita_id_fkey":
		return ErrAppointmentNotFound
	default:
		return err
	}
}
