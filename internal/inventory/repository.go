package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrReturnNotFound   = errors.New("return not found")

	// ErrStateConflict means a compare-and-swap matched zero rows because
	// the entity's status moved between our read and our write.
	ErrStateConflict = errors.New("status changed concurrently")

	// ErrInsufficientStock rejects a sale line exceeding available stock.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStockWouldGoNegative aborts a purchase cancellation whose reversal
	// would take some product below zero.
	ErrStockWouldGoNegative = errors.New("stock reversal would go negative")

	ErrNumberingContention = errors.New("numbering contention")
)

// Repository owns all inventory DB work. Every stock-touching method runs
// as one transaction: status change, stock mutation and movement rows
// commit together or not at all.
type Repository interface {
	GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error)

	CreatePurchase(ctx context.Context, p *Purchase, items []PurchaseItem) (*Purchase, error)
	GetPurchaseByID(ctx context.Context, id uuid.UUID) (*Purchase, error)
	ListPurchaseItems(ctx context.Context, purchaseID uuid.UUID) ([]PurchaseItem, error)

	// ConfirmReception CAS-moves pendiente_recepcion -> recibido, adds each
	// item's quantity to normal stock and appends a movement row per item.
	ConfirmReception(ctx context.Context, id uuid.UUID) (*Purchase, error)

	// CancelPurchase CAS-moves from -> anulado; when from is recibido it
	// also reverses the stock increments, failing wholly if any product
	// would go negative.
	CancelPurchase(ctx context.Context, id uuid.UUID, from PurchaseStatus, cancelledBy uuid.UUID, justification string) (*Purchase, error)

	CreateReturn(ctx context.Context, ret *Return) (*Return, error)
	GetReturnByID(ctx context.Context, id uuid.UUID) (*Return, error)

	// ApproveReturn CAS-moves pendiente -> aprobada and adds the quantity
	// to the separate returns-stock bucket, never to sellable stock.
	ApproveReturn(ctx context.Context, id, resolvedBy uuid.UUID, notes *string) (*Return, error)
	RejectReturn(ctx context.Context, id, resolvedBy uuid.UUID, notes *string) (*Return, error)

	// CreateSale assigns the next gapless sale number and decrements stock
	// per line in one transaction.
	CreateSale(ctx context.Context, sale *Sale, items []SaleItem) (*Sale, error)

	ListMovements(ctx context.Context, productID uuid.UUID, from, to time.Time) ([]StockMovement, error)
	InsertEvent(ctx context.Context, ev EventLog) error
}
