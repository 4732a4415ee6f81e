package cashbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrClosingNotFound = errors.New("cash closing not found")

	// ErrStateConflict: the closing's status moved between read and write.
	ErrStateConflict = errors.New("closing status changed concurrently")

	ErrNumberingContention = errors.New("closing numbering contention")
)

type Repository interface {
	// Summary computes expected totals for the module's till on a date:
	// clinic from active payments (plus discount and voided tracking),
	// sales from raw sale totals.
	Summary(ctx context.Context, module Module, date time.Time) (*DailySummary, error)

	// CreateClosing assigns the module's next gapless closing number and
	// inserts the row in one transaction. An existing non-reopened closing
	// for the date yields a *DayClosedError.
	CreateClosing(ctx context.Context, c *CashClosing) (*CashClosing, error)

	// Reopen CAS-moves cerrado -> reabierto with the audit fields.
	Reopen(ctx context.Context, id, reopenedBy uuid.UUID, reason string) (*CashClosing, error)

	GetByID(ctx context.Context, id uuid.UUID) (*CashClosing, error)
	ListByModule(ctx context.Context, module Module, limit int) ([]CashClosing, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
