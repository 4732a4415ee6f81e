package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrServiceNotFound = errors.New("service not found")
	ErrLineNotPayable  = errors.New("appointment service line is already paid or missing")
	ErrAlreadyVoided   = errors.New("payment is already voided")

	// ErrNumberingContention is returned by the repository when the invoice
	// counter transaction lost a serialization race. The service retries
	// once before surfacing ErrNumberingConflict.
	ErrNumberingContention = errors.New("invoice numbering contention")
	ErrNumberingConflict   = errors.New("could not assign invoice number, try again")
)

// Repository owns every payment DB interaction. CreatePayment and
// VoidPayment are single all-or-nothing transactions: the Go rendition of
// the stored-procedure boundary.
type Repository interface {
	GetPatientExists(ctx context.Context, id uuid.UUID) error
	GetCatalogService(ctx context.Context, id uuid.UUID) (*CatalogService, error)

	// CreatePayment assigns the next gapless invoice number under a row
	// lock and inserts the payment, its items and its methods in one
	// transaction. Linked appointment service lines are marked pagado in
	// the same transaction. A failed transaction never consumes a number.
	CreatePayment(ctx context.Context, p *Payment, items []PaymentItem, methods []PaymentMethod) (*Payment, error)

	// VoidPayment compare-and-swaps activo -> anulado with audit fields and
	// reverts linked service lines to pendiente, atomically.
	VoidPayment(ctx context.Context, id, voidedBy uuid.UUID, reason string) (*Payment, error)

	GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListItems(ctx context.Context, paymentID uuid.UUID) ([]PaymentItem, error)
	ListMethods(ctx context.Context, paymentID uuid.UUID) ([]PaymentMethod, error)
	ListByDateRange(ctx context.Context, from, to time.Time) ([]Payment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
