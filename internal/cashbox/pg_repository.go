package cashbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const closingColumns = `id, numero_cierre, modulo, fecha, total_efectivo, total_tarjeta, total_transferencia, total_descuentos, total_anulados, total_general, efectivo_contado, diferencia, justificacion_diferencia, evidencia_path, estado, reabierto_por, reabierto_en, motivo_reapertura, creado_por, created_at`

func scanClosing(row pgx.Row) (*CashClosing, error) {
	var c CashClosing

	err := row.Scan(
		&c.ID,
		&c.Number,
		&c.Module,
		&c.Date,
		&c.TotalCash,
		&c.TotalCard,
		&c.TotalTransfer,
		&c.TotalDiscounts,
		&c.TotalVoided,
		&c.GrandTotal,
		&c.CountedCash,
		&c.Difference,
		&c.DifferenceJustification,
		&c.EvidencePath,
		&c.Status,
		&c.ReopenedBy,
		&c.ReopenedAt,
		&c.ReopenReason,
		&c.CreatedBy,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClosingNotFound
		}
		return nil, err
	}

	return &c, nil
}

func counterFor(module Module) string {
	if module == ModuleVentas {
		return "cierre_ventas"
	}
	return "cierre_clinica"
}

func (r *PgRepository) Summary(ctx context.Context, module Module, date time.Time) (*DailySummary, error) {
	if module == ModuleVentas {
		return r.summaryVentas(ctx, date)
	}
	return r.summaryClinica(ctx, date)
}

// summaryClinica totals the day's active payments by method and separately
// tracks discounts granted and amounts voided.
func (r *PgRepository) summaryClinica(ctx context.Context, date time.Time) (*DailySummary, error) {
	s := &DailySummary{
		Module:         ModuleClinica,
		Date:           date,
		TotalCash:      decimal.Zero,
		TotalCard:      decimal.Zero,
		TotalTransfer:  decimal.Zero,
		TotalDiscounts: decimal.Zero,
		TotalVoided:    decimal.Zero,
	}

	rows, err := r.pool.Query(ctx, `
		SELECT pm.metodo, COALESCE(SUM(pm.monto), 0)
		FROM pago_metodos pm
		JOIN pagos p ON p.id = pm.pago_id
		WHERE p.created_at::date = $1::date
		  AND p.estado = 'activo'
		GROUP BY pm.metodo
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var method string
		var total decimal.Decimal
		if err := rows.Scan(&method, &total); err != nil {
			return nil, err
		}
		switch method {
		case "efectivo":
			s.TotalCash = total
		case "tarjeta":
			s.TotalCard = total
		case "transferencia":
			s.TotalTransfer = total
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(descuento) FILTER (WHERE estado = 'activo'), 0),
			COALESCE(SUM(total) FILTER (WHERE estado = 'anulado'), 0)
		FROM pagos
		WHERE created_at::date = $1::date
	`, date).Scan(&s.TotalDiscounts, &s.TotalVoided)
	if err != nil {
		return nil, err
	}

	s.GrandTotal = s.TotalCash.Add(s.TotalCard).Add(s.TotalTransfer)
	return s, nil
}

// summaryVentas totals the day's counter sales by payment method. No
// discount or void tracking in this till.
func (r *PgRepository) summaryVentas(ctx context.Context, date time.Time) (*DailySummary, error) {
	s := &DailySummary{
		Module:         ModuleVentas,
		Date:           date,
		TotalCash:      decimal.Zero,
		TotalCard:      decimal.Zero,
		TotalTransfer:  decimal.Zero,
		TotalDiscounts: decimal.Zero,
		TotalVoided:    decimal.Zero,
	}

	rows, err := r.pool.Query(ctx, `
		SELECT metodo_pago, COALESCE(SUM(total), 0)
		FROM ventas
		WHERE created_at::date = $1::date
		GROUP BY metodo_pago
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var method string
		var total decimal.Decimal
		if err := rows.Scan(&method, &total); err != nil {
			return nil, err
		}
		switch method {
		case "efectivo":
			s.TotalCash = total
		case "tarjeta":
			s.TotalCard = total
		case "transferencia":
			s.TotalTransfer = total
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.GrandTotal = s.TotalCash.Add(s.TotalCard).Add(s.TotalTransfer)
	return s, nil
}

func (r *PgRepository) CreateClosing(ctx context.Context, c *CashClosing) (*CashClosing, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	number, err := nextCounter(ctx, tx, counterFor(c.Module))
	if err != nil {
		if db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, fmt.Errorf("assign closing number: %w", err)
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO cierres_caja (
			id, numero_cierre, modulo, fecha,
			total_efectivo, total_tarjeta, total_transferencia,
			total_descuentos, total_anulados, total_general,
			efectivo_contado, diferencia, justificacion_diferencia,
			evidencia_path, estado, creado_por, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 'cerrado', $15, now())
		RETURNING `+closingColumns+`
	`, id, number, c.Module, c.Date,
		c.TotalCash, c.TotalCard, c.TotalTransfer,
		c.TotalDiscounts, c.TotalVoided, c.GrandTotal,
		c.CountedCash, c.Difference, c.DifferenceJustification,
		c.EvidencePath, c.CreatedBy)

	created, err := scanClosing(row)
	if err != nil {
		if db.IsUniqueViolation(err) && db.ConstraintName(err) == "cierres_caja_fecha_activa_idx" {
			return nil, r.dayClosedError(ctx, c.Module, c.Date)
		}
		if db.IsUniqueViolation(err) || db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, fmt.Errorf("insert closing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, err
	}

	return created, nil
}

// dayClosedError looks up the closing that blocked the insert so the error
// can reference it.
func (r *PgRepository) dayClosedError(ctx context.Context, module Module, date time.Time) error {
	var existingID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM cierres_caja
		WHERE modulo = $1 AND fecha = $2::date AND estado = 'cerrado'
	`, module, date).Scan(&existingID)
	if err != nil {
		// The blocking row vanished; report a generic conflict.
		return ErrNumberingContention
	}
	return &DayClosedError{ExistingID: existingID, Date: date}
}

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

func (r *PgRepository) Reopen(ctx context.Context, id, reopenedBy uuid.UUID, reason string) (*CashClosing, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE cierres_caja
		SET estado = 'reabierto',
		    reabierto_por = $2,
		    reabierto_en = now(),
		    motivo_reapertura = $3
		WHERE id = $1
		  AND estado = 'cerrado'
		RETURNING `+closingColumns+`
	`, id, reopenedBy, reason)

	updated, err := scanClosing(row)
	if err != nil {
		if errors.Is(err, ErrClosingNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*CashClosing, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+closingColumns+`
		FROM cierres_caja
		WHERE id = $1
	`, id)
	return scanClosing(row)
}

func (r *PgRepository) ListByModule(ctx context.Context, module Module, limit int) ([]CashClosing, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+closingColumns+`
		FROM cierres_caja
		WHERE modulo = $1
		ORDER BY fecha DESC, created_at DESC
		LIMIT $2
	`, module, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CashClosing
	for rows.Next() {
		c, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
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
