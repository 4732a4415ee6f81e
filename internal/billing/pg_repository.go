package billing

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

const invoiceCounter = "factura"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const paymentColumns = `id, paciente_id, numero_factura, subtotal, descuento, justificacion_descuento, total, estado, anulado_por, anulado_en, motivo_anulacion, creado_por, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment

	err := row.Scan(
		&p.ID,
		&p.PatientID,
		&p.InvoiceNumber,
		&p.Subtotal,
		&p.Discount,
		&p.DiscountJustification,
		&p.Total,
		&p.Status,
		&p.VoidedBy,
		&p.VoidedAt,
		&p.VoidReason,
		&p.CreatedBy,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) GetPatientExists(ctx context.Context, id uuid.UUID) error {
	var found bool
	err := r.pool.QueryRow(ctx, `SELECT true FROM pacientes WHERE id = $1`, id).Scan(&found)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPatientNotFound
		}
		return err
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

// nextCounter locks the counter row and returns the next value. Must run
// inside the transaction of the insert being numbered: a rollback releases
// the lock and the number is never consumed.
func nextCounter(ctx context.Context, tx pgx.Tx, name string) (int64, error) {
	var next int64
	err := tx.QueryRow(ctx, `
		UPDATE contadores
		SET valor = valor + 1
		WHERE nombre = $1
		RETURNING valor
	`, name).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("counter %q missing", name)
		}
		return 0, err
	}
	return next, nil
}

func (r *PgRepository) CreatePayment(ctx context.Context, p *Payment, items []PaymentItem, methods []PaymentMethod) (*Payment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	number, err := nextCounter(ctx, tx, invoiceCounter)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, fmt.Errorf("assign invoice number: %w", err)
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO pagos (id, paciente_id, numero_factura, subtotal, descuento, justificacion_descuento, total, estado, creado_por, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'activo', $8, now())
		RETURNING `+paymentColumns+`
	`, id, p.PatientID, number, p.Subtotal, p.Discount, p.DiscountJustification, p.Total, p.CreatedBy)

	created, err := scanPayment(row)
	if err != nil {
		if db.IsUniqueViolation(err) || db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		if db.IsForeignKeyViolation(err) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	for i := range items {
		item := &items[i]
		item.ID = uuid.New()
		item.PaymentID = created.ID

		_, err := tx.Exec(ctx, `
			INSERT INTO pago_items (id, pago_id, servicio_id, nombre_servicio, precio_unitario, cantidad, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.PaymentID, item.ServiceID, item.ServiceName, item.UnitPrice, item.Quantity, item.Subtotal)
		if err != nil {
			return nil, fmt.Errorf("insert payment item: %w", err)
		}

		if item.ServiceLineID != nil {
			tag, err := tx.Exec(ctx, `
				UPDATE cita_servicios
				SET estado_pago = 'pagado',
				    pago_item_id = $2
				WHERE id = $1
				  AND estado_pago = 'pendiente'
			`, *item.ServiceLineID, item.ID)
			if err != nil {
				return nil, fmt.Errorf("settle service line: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil, ErrLineNotPayable
			}
		}
	}

	for i := range methods {
		m := &methods[i]
		m.ID = uuid.New()
		m.PaymentID = created.ID

		_, err := tx.Exec(ctx, `
			INSERT INTO pago_metodos (id, pago_id, metodo, monto, comprobante_path)
			VALUES ($1, $2, $3, $4, $5)
		`, m.ID, m.PaymentID, m.Method, m.Amount, m.ReceiptPath)
		if err != nil {
			return nil, fmt.Errorf("insert payment method: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) VoidPayment(ctx context.Context, id, voidedBy uuid.UUID, reason string) (*Payment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE pagos
		SET estado = 'anulado',
		    anulado_por = $2,
		    anulado_en = now(),
		    motivo_anulacion = $3
		WHERE id = $1
		  AND estado = 'activo'
		RETURNING `+paymentColumns+`
	`, id, voidedBy, reason)

	voided, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			_, getErr := r.GetPaymentByID(ctx, id)
			return nil, classifyVoidMiss(getErr)
		}
		return nil, err
	}

	// The settled appointment services become payable again.
	_, err = tx.Exec(ctx, `
		UPDATE cita_servicios
		SET estado_pago = 'pendiente',
		    pago_item_id = NULL
		WHERE pago_item_id IN (SELECT id FROM pago_items WHERE pago_id = $1)
	`, id)
	if err != nil {
		return nil, fmt.Errorf("release service lines: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return voided, nil
}

// classifyVoidMiss maps the follow-up lookup after a zero-row void update:
// the payment exists but is no longer activo, it truly does not exist, or
// the lookup itself failed and that failure must not be reported as a
// missing payment.
func classifyVoidMiss(getErr error) error {
	switch {
	case getErr == nil:
		return ErrAlreadyVoided
	case errors.Is(getErr, ErrPaymentNotFound):
		return ErrPaymentNotFound
	default:
		return getErr
	}
}

func (r *PgRepository) GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM pagos
		WHERE id = $1
	`, id)
	return scanPayment(row)
}

func (r *PgRepository) ListItems(ctx context.Context, paymentID uuid.UUID) ([]PaymentItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, pago_id, servicio_id, nombre_servicio, precio_unitario, cantidad, subtotal
		FROM pago_items
		WHERE pago_id = $1
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PaymentItem
	for rows.Next() {
		var it PaymentItem
		if err := rows.Scan(&it.ID, &it.PaymentID, &it.ServiceID, &it.ServiceName, &it.UnitPrice, &it.Quantity, &it.Subtotal); err != nil {
			return nil, err
		}
		result = append(result, it)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListMethods(ctx context.Context, paymentID uuid.UUID) ([]PaymentMethod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, pago_id, metodo, monto, comprobante_path
		FROM pago_metodos
		WHERE pago_id = $1
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PaymentMethod
	for rows.Next() {
		var m PaymentMethod
		if err := rows.Scan(&m.ID, &m.PaymentID, &m.Method, &m.Amount, &m.ReceiptPath); err != nil {
			return nil, err
		}
		result = append(result, m)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListByDateRange(ctx context.Context, from, to time.Time) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM pagos
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY numero_factura
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	return result, rows.Err()
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
