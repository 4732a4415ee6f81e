package cashbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinicdesk/internal/auth"
	"github.com/clinicdesk/clinicdesk/internal/cashbox"
	redisclient "github.com/clinicdesk/clinicdesk/internal/redis"
	"github.com/clinicdesk/clinicdesk/internal/validate"
)

// passLocker runs the critical section inline; heldLocker simulates a lock
// already taken by another request.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type heldLocker struct{}

func (heldLocker) WithLock(context.Context, string, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type dayKey struct {
	module cashbox.Module
	date   string
}

// fakeRepo reproduces the partial-unique rule: at most one cerrado closing
// per module and date; reopened rows do not block a new closing.
type fakeRepo struct {
	summaries map[dayKey]*cashbox.DailySummary
	closings  map[uuid.UUID]*cashbox.CashClosing
	counters  map[cashbox.Module]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		summaries: make(map[dayKey]*cashbox.DailySummary),
		closings:  make(map[uuid.UUID]*cashbox.CashClosing),
		counters:  make(map[cashbox.Module]int64),
	}
}

func key(module cashbox.Module, date time.Time) dayKey {
	return dayKey{module: module, date: date.Format("2006-01-02")}
}

func (f *fakeRepo) Summary(_ context.Context, module cashbox.Module, date time.Time) (*cashbox.DailySummary, error) {
	if s, ok := f.summaries[key(module, date)]; ok {
		cp := *s
		return &cp, nil
	}
	return &cashbox.DailySummary{Module: module, Date: date}, nil
}

func (f *fakeRepo) CreateClosing(_ context.Context, c *cashbox.CashClosing) (*cashbox.CashClosing, error) {
	for _, existing := range f.closings {
		if key(existing.Module, existing.Date) == key(c.Module, c.Date) && existing.Status == cashbox.StatusCerrado {
			return nil, &cashbox.DayClosedError{ExistingID: existing.ID, Date: c.Date}
		}
	}

	cp := *c
	cp.ID = uuid.New()
	f.counters[c.Module]++
	cp.Number = f.counters[c.Module]
	cp.Status = cashbox.StatusCerrado
	cp.CreatedAt = time.Now()
	f.closings[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (f *fakeRepo) Reopen(_ context.Context, id, reopenedBy uuid.UUID, reason string) (*cashbox.CashClosing, error) {
	c, ok := f.closings[id]
	if !ok || c.Status != cashbox.StatusCerrado {
		return nil, cashbox.ErrStateConflict
	}
	now := time.Now()
	c.Status = cashbox.StatusReabierto
	c.ReopenedBy = &reopenedBy
	c.ReopenedAt = &now
	c.ReopenReason = &reason
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*cashbox.CashClosing, error) {
	c, ok := f.closings[id]
	if !ok {
		return nil, cashbox.ErrClosingNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) ListByModule(_ context.Context, module cashbox.Module, _ int) ([]cashbox.CashClosing, error) {
	var out []cashbox.CashClosing
	for _, c := range f.closings {
		if c.Module == module {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertEvent(context.Context, cashbox.EventLog) error { return nil }

// Test setup

var closeDay = time.Date(2026, time.September, 3, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*cashbox.Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	return cashbox.NewService(repo, passLocker{}, zerolog.Nop()), repo
}

func roleCtx(role auth.Role) context.Context {
	return auth.WithContext(context.Background(), auth.Context{UserID: uuid.New(), Role: role})
}

func (f *fakeRepo) setClinicDay(date time.Time, cash, card string) {
	c := decimal.RequireFromString(cash)
	cd := decimal.RequireFromString(card)
	f.summaries[key(cashbox.ModuleClinica, date)] = &cashbox.DailySummary{
		Module:     cashbox.ModuleClinica,
		Date:       date,
		TotalCash:  c,
		TotalCard:  cd,
		GrandTotal: c.Add(cd),
	}
}

func closingInput(counted string) cashbox.CreateClosingInput {
	return cashbox.CreateClosingInput{
		Module:      cashbox.ModuleClinica,
		Date:        closeDay,
		CountedCash: decimal.RequireFromString(counted),
	}
}

// Closing

func TestCreateClosing_ExactCount(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "420.00")

	closing, err := svc.CreateClosing(roleCtx(auth.RoleSecretaria), closingInput("850.00"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), closing.Number)
	assert.Equal(t, cashbox.StatusCerrado, closing.Status)
	assert.True(t, closing.Difference.IsZero())
	assert.Nil(t, closing.DifferenceJustification)
	assert.True(t, closing.TotalCard.Equal(decimal.RequireFromString("420.00")))
}

func TestCreateClosing_DifferenceNeedsJustification(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")

	in := closingInput("800.00")
	_, err := svc.CreateClosing(roleCtx(auth.RoleSecretaria), in)
	var ve *validate.Error
	require.ErrorAs(t, err, &ve)

	in.DifferenceJustification = "faltante reportado al turno anterior"
	closing, err := svc.CreateClosing(roleCtx(auth.RoleSecretaria), in)
	require.NoError(t, err)
	assert.True(t, closing.Difference.Equal(decimal.RequireFromString("-50.00")))
	require.NotNil(t, closing.DifferenceJustification)
}

func TestCreateClosing_SurplusAlsoNeedsJustification(t *testing.T) {
	// A positive difference is just as suspicious as a shortfall.
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")

	_, err := svc.CreateClosing(roleCtx(auth.RoleAdmin), closingInput("900.00"))
	var ve *validate.Error
	assert.ErrorAs(t, err, &ve)
}

func TestCreateClosing_SecondSameDayRejected(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")
	ctx := roleCtx(auth.RoleSecretaria)

	first, err := svc.CreateClosing(ctx, closingInput("850.00"))
	require.NoError(t, err)

	_, err = svc.CreateClosing(ctx, closingInput("850.00"))
	var dayErr *cashbox.DayClosedError
	require.ErrorAs(t, err, &dayErr)
	assert.Equal(t, first.ID, dayErr.ExistingID)
}

func TestCreateClosing_ModulesAreIndependent(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")
	ctx := roleCtx(auth.RoleSecretaria)

	_, err := svc.CreateClosing(ctx, closingInput("850.00"))
	require.NoError(t, err)

	// The sales till closes the same date with its own numbering.
	sales, err := svc.CreateClosing(ctx, cashbox.CreateClosingInput{
		Module:      cashbox.ModuleVentas,
		Date:        closeDay,
		CountedCash: decimal.Zero,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sales.Number, "per-module counter")
}

func TestCreateClosing_LockHeld(t *testing.T) {
	repo := newFakeRepo()
	svc := cashbox.NewService(repo, heldLocker{}, zerolog.Nop())

	_, err := svc.CreateClosing(roleCtx(auth.RoleSecretaria), closingInput("0.00"))
	assert.ErrorIs(t, err, cashbox.ErrClosingInProgress)
}

func TestCreateClosing_Roles(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")

	_, err := svc.CreateClosing(roleCtx(auth.RoleEnfermera), closingInput("850.00"))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = svc.CreateClosing(context.Background(), closingInput("850.00"))
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestCreateClosing_NegativeCountRejected(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateClosing(roleCtx(auth.RoleAdmin), closingInput("-1.00"))
	var ve *validate.Error
	assert.ErrorAs(t, err, &ve)
}

// Reopen

func TestReopen_AllowsCorrectedClosing(t *testing.T) {
	// GIVEN: a closed day whose totals turned out wrong
	// WHEN: an admin reopens it with a justification
	// THEN: the old row stays as audit history and the date accepts a
	// fresh closing with the next number.
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")

	first, err := svc.CreateClosing(roleCtx(auth.RoleSecretaria), closingInput("850.00"))
	require.NoError(t, err)

	reopened, err := svc.Reopen(roleCtx(auth.RoleAdmin), first.ID, "se registró un pago después del cierre")
	require.NoError(t, err)
	assert.Equal(t, cashbox.StatusReabierto, reopened.Status)
	require.NotNil(t, reopened.ReopenReason)

	second, err := svc.CreateClosing(roleCtx(auth.RoleSecretaria), closingInput("850.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Number)

	// The reopened row is untouched history.
	old, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, cashbox.StatusReabierto, old.Status)
	assert.Equal(t, int64(1), old.Number)
}

func TestReopen_AdminOnly(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")

	first, err := svc.CreateClosing(roleCtx(auth.RoleSecretaria), closingInput("850.00"))
	require.NoError(t, err)

	_, err = svc.Reopen(roleCtx(auth.RoleSecretaria), first.ID, "motivo suficientemente largo")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestReopen_RequiresJustification(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")

	first, err := svc.CreateClosing(roleCtx(auth.RoleSecretaria), closingInput("850.00"))
	require.NoError(t, err)

	_, err = svc.Reopen(roleCtx(auth.RoleAdmin), first.ID, "error")
	var ve *validate.Error
	assert.ErrorAs(t, err, &ve)
}

func TestReopen_TwiceRejected(t *testing.T) {
	svc, repo := newTestService(t)
	repo.setClinicDay(closeDay, "850.00", "0.00")
	ctx := roleCtx(auth.RoleAdmin)

	first, err := svc.CreateClosing(ctx, closingInput("850.00"))
	require.NoError(t, err)

	_, err = svc.Reopen(ctx, first.ID, "se registró un pago después del cierre")
	require.NoError(t, err)

	_, err = svc.Reopen(ctx, first.ID, "se registró un pago después del cierre")
	var state *cashbox.StateError
	require.ErrorAs(t, err, &state)
	assert.Equal(t, "no se puede cambiar el estado de Reabierto a Reabierto", state.Error())
}
