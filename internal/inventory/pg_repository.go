package inventory

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

const (
	purchaseCounter = "compra"
	saleCounter     = "venta"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const purchaseColumns = `id, numero_compra, proveedor, estado, fecha_recepcion, justificacion_anulacion, anulado_por, creado_por, created_at, updated_at`

func scanPurchase(row pgx.Row) (*Purchase, error) {
	var p Purchase

	err := row.Scan(
		&p.ID,
		&p.Number,
		&p.Supplier,
		&p.Status,
		&p.ReceivedAt,
		&p.CancelJustification,
		&p.CancelledBy,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}

	return &p, nil
}

const returnColumns = `id, producto_id, cantidad, motivo, estado, solicitado_por, resuelto_por, notas_resolucion, created_at, updated_at`

func scanReturn(row pgx.Row) (*Return, error) {
	var ret Return

	err := row.Scan(
		&ret.ID,
		&ret.ProductID,
		&ret.Quantity,
		&ret.Reason,
		&ret.Status,
		&ret.RequestedBy,
		&ret.ResolvedBy,
		&ret.ResolutionNotes,
		&ret.CreatedAt,
		&ret.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReturnNotFound
		}
		return nil, err
	}

	return &ret, nil
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

// lockProductStock reads and locks one product's stock row for the rest of
// the transaction.
func lockProductStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID) (stock int, returnsStock int, err error) {
	err = tx.QueryRow(ctx, `
		SELECT stock, stock_devoluciones
		FROM productos
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&stock, &returnsStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrProductNotFound
		}
		return 0, 0, err
	}
	return stock, returnsStock, nil
}

func insertMovement(ctx context.Context, tx pgx.Tx, productID uuid.UUID, movType string, qty, before, after int, refID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO movimientos_stock (producto_id, tipo, cantidad, stock_anterior, stock_nuevo, referencia_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, productID, movType, qty, before, after, refID)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// Interface methods

func (r *PgRepository) GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	var p Product

	err := r.pool.QueryRow(ctx, `
		SELECT id, nombre, precio, stock, stock_devoluciones, activo, created_at, updated_at
		FROM productos
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.ReturnsStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) CreatePurchase(ctx context.Context, p *Purchase, items []PurchaseItem) (*Purchase, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	number, err := nextCounter(ctx, tx, purchaseCounter)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, fmt.Errorf("assign purchase number: %w", err)
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO compras (id, numero_compra, proveedor, estado, creado_por, created_at, updated_at)
		VALUES ($1, $2, $3, 'pendiente_recepcion', $4, now(), now())
		RETURNING `+purchaseColumns+`
	`, id, number, p.Supplier, p.CreatedBy)

	created, err := scanPurchase(row)
	if err != nil {
		return nil, fmt.Errorf("insert purchase: %w", err)
	}

	for i := range items {
		item := &items[i]
		item.ID = uuid.New()
		item.PurchaseID = created.ID

		_, err := tx.Exec(ctx, `
			INSERT INTO compra_items (id, compra_id, producto_id, cantidad, costo_unitario)
			VALUES ($1, $2, $3, $4, $5)
		`, item.ID, item.PurchaseID, item.ProductID, item.Quantity, item.UnitCost)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return nil, ErrProductNotFound
			}
			return nil, fmt.Errorf("insert purchase item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetPurchaseByID(ctx context.Context, id uuid.UUID) (*Purchase, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+purchaseColumns+`
		FROM compras
		WHERE id = $1
	`, id)
	return scanPurchase(row)
}

func (r *PgRepository) ListPurchaseItems(ctx context.Context, purchaseID uuid.UUID) ([]PurchaseItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, compra_id, producto_id, cantidad, costo_unitario
		FROM compra_items
		WHERE compra_id = $1
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PurchaseItem
	for rows.Next() {
		var it PurchaseItem
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.ProductID, &it.Quantity, &it.UnitCost); err != nil {
			return nil, err
		}
		result = append(result, it)
	}

	return result, rows.Err()
}

func (r *PgRepository) ConfirmReception(ctx context.Context, id uuid.UUID) (*Purchase, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE compras
		SET estado = 'recibido',
		    fecha_recepcion = now(),
		    updated_at = now()
		WHERE id = $1
		  AND estado = 'pendiente_recepcion'
		RETURNING `+purchaseColumns+`
	`, id)

	updated, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, ErrPurchaseNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}

	items, err := listPurchaseItemsTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		stock, _, err := lockProductStock(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}

		newStock := stock + item.Quantity
		if _, err := tx.Exec(ctx, `
			UPDATE productos SET stock = $2, updated_at = now() WHERE id = $1
		`, item.ProductID, newStock); err != nil {
			return nil, fmt.Errorf("increment stock: %w", err)
		}

		if err := insertMovement(ctx, tx, item.ProductID, MovementPurchaseReceived, item.Quantity, stock, newStock, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) CancelPurchase(ctx context.Context, id uuid.UUID, from PurchaseStatus, cancelledBy uuid.UUID, justification string) (*Purchase, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE compras
		SET estado = 'anulado',
		    justificacion_anulacion = $3,
		    anulado_por = $4,
		    updated_at = now()
		WHERE id = $1
		  AND estado = $2
		RETURNING `+purchaseColumns+`
	`, id, from, justification, cancelledBy)

	updated, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, ErrPurchaseNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}

	// Reverse the stock increments only if the goods had been received.
	if from == PurchaseRecibido {
		items, err := listPurchaseItemsTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}

		for _, item := range items {
			stock, _, err := lockProductStock(ctx, tx, item.ProductID)
			if err != nil {
				return nil, err
			}

			newStock := stock - item.Quantity
			if newStock < 0 {
				return nil, ErrStockWouldGoNegative
			}

			if _, err := tx.Exec(ctx, `
				UPDATE productos SET stock = $2, updated_at = now() WHERE id = $1
			`, item.ProductID, newStock); err != nil {
				return nil, fmt.Errorf("reverse stock: %w", err)
			}

			if err := insertMovement(ctx, tx, item.ProductID, MovementPurchaseReversed, -item.Quantity, stock, newStock, id); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return updated, nil
}

func listPurchaseItemsTx(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID) ([]PurchaseItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, compra_id, producto_id, cantidad, costo_unitario
		FROM compra_items
		WHERE compra_id = $1
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PurchaseItem
	for rows.Next() {
		var it PurchaseItem
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.ProductID, &it.Quantity, &it.UnitCost); err != nil {
			return nil, err
		}
		result = append(result, it)
	}

	return result, rows.Err()
}

func (r *PgRepository) CreateReturn(ctx context.Context, ret *Return) (*Return, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO devoluciones (id, producto_id, cantidad, motivo, estado, solicitado_por, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pendiente', $5, now(), now())
		RETURNING `+returnColumns+`
	`, id, ret.ProductID, ret.Quantity, ret.Reason, ret.RequestedBy)

	created, err := scanReturn(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetReturnByID(ctx context.Context, id uuid.UUID) (*Return, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+returnColumns+`
		FROM devoluciones
		WHERE id = $1
	`, id)
	return scanReturn(row)
}

func (r *PgRepository) ApproveReturn(ctx context.Context, id, resolvedBy uuid.UUID, notes *string) (*Return, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE devoluciones
		SET estado = 'aprobada',
		    resuelto_por = $2,
		    notas_resolucion = $3,
		    updated_at = now()
		WHERE id = $1
		  AND estado = 'pendiente'
		RETURNING `+returnColumns+`
	`, id, resolvedBy, notes)

	updated, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, ErrReturnNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}

	// Returned goods land in the separate returns bucket, never back in
	// sellable stock.
	_, returnsStock, err := lockProductStock(ctx, tx, updated.ProductID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE productos SET stock_devoluciones = $2, updated_at = now() WHERE id = $1
	`, updated.ProductID, returnsStock+updated.Quantity); err != nil {
		return nil, fmt.Errorf("increment returns stock: %w", err)
	}

	if err := insertMovement(ctx, tx, updated.ProductID, MovementReturnApproved, updated.Quantity, returnsStock, returnsStock+updated.Quantity, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) RejectReturn(ctx context.Context, id, resolvedBy uuid.UUID, notes *string) (*Return, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE devoluciones
		SET estado = 'rechazada',
		    resuelto_por = $2,
		    notas_resolucion = $3,
		    updated_at = now()
		WHERE id = $1
		  AND estado = 'pendiente'
		RETURNING `+returnColumns+`
	`, id, resolvedBy, notes)

	updated, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, ErrReturnNotFound) {
			return nil, ErrStateConflict
		}
		return nil, err
	}

	return updated, nil
}

func (r *PgRepository) CreateSale(ctx context.Context, sale *Sale, items []SaleItem) (*Sale, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	number, err := nextCounter(ctx, tx, saleCounter)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, fmt.Errorf("assign sale number: %w", err)
	}

	saleID := uuid.New()
	total := decimal.Zero

	// Snapshot and decrement per line under a row lock.
	for i := range items {
		item := &items[i]
		item.ID = uuid.New()
		item.SaleID = saleID

		var name string
		var price decimal.Decimal
		var stock int
		err := tx.QueryRow(ctx, `
			SELECT nombre, precio, stock
			FROM productos
			WHERE id = $1 AND activo
			FOR UPDATE
		`, item.ProductID).Scan(&name, &price, &stock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrProductNotFound
			}
			return nil, err
		}

		if stock < item.Quantity {
			return nil, ErrInsufficientStock
		}

		item.ProductName = name
		item.UnitPrice = price
		item.Subtotal = price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Subtotal)

		newStock := stock - item.Quantity
		if _, err := tx.Exec(ctx, `
			UPDATE productos SET stock = $2, updated_at = now() WHERE id = $1
		`, item.ProductID, newStock); err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}

		if err := insertMovement(ctx, tx, item.ProductID, MovementSale, -item.Quantity, stock, newStock, saleID); err != nil {
			return nil, err
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO ventas (id, numero_venta, total, metodo_pago, creado_por, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, numero_venta, total, metodo_pago, creado_por, created_at
	`, saleID, number, total, sale.Method, sale.CreatedBy)

	var created Sale
	if err := row.Scan(&created.ID, &created.Number, &created.Total, &created.Method, &created.CreatedBy, &created.CreatedAt); err != nil {
		if db.IsUniqueViolation(err) || db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	for _, item := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO venta_items (id, venta_id, producto_id, nombre_producto, precio_unitario, cantidad, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, item.SaleID, item.ProductID, item.ProductName, item.UnitPrice, item.Quantity, item.Subtotal)
		if err != nil {
			return nil, fmt.Errorf("insert sale item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if db.IsSerializationFailure(err) {
			return nil, ErrNumberingContention
		}
		return nil, err
	}

	return &created, nil
}

func (r *PgRepository) ListMovements(ctx context.Context, productID uuid.UUID, from, to time.Time) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, producto_id, tipo, cantidad, stock_anterior, stock_nuevo, referencia_id, created_at
		FROM movimientos_stock
		WHERE producto_id = $1
		  AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`, productID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.StockBefore, &m.StockAfter, &m.ReferenceID, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
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
