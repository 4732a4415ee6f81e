package billing_test

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
	"github.com/clinicdesk/clinicdesk/internal/billing"
	"github.com/clinicdesk/clinicdesk/internal/validate"
)

// fakeRepo keeps payments in memory and hands out sequential invoice
// numbers. failCreates makes the next N CreatePayment calls lose the
// numbering race, to exercise the retry.
type fakeRepo struct {
	patients    map[uuid.UUID]bool
	services    map[uuid.UUID]*billing.CatalogService
	payments    map[uuid.UUID]*billing.Payment
	items       map[uuid.UUID][]billing.PaymentItem
	methods     map[uuid.UUID][]billing.PaymentMethod
	nextInvoice int64
	failCreates int
	createCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:    make(map[uuid.UUID]bool),
		services:    make(map[uuid.UUID]*billing.CatalogService),
		payments:    make(map[uuid.UUID]*billing.Payment),
		items:       make(map[uuid.UUID][]billing.PaymentItem),
		methods:     make(map[uuid.UUID][]billing.PaymentMethod),
		nextInvoice: 1,
	}
}

func (f *fakeRepo) GetPatientExists(_ context.Context, id uuid.UUID) error {
	if !f.patients[id] {
		return billing.ErrPatientNotFound
	}
	return nil
}

func (f *fakeRepo) GetCatalogService(_ context.Context, id uuid.UUID) (*billing.CatalogService, error) {
	s, ok := f.services[id]
	if !ok {
		return nil, billing.ErrServiceNotFound
	}
	return s, nil
}

func (f *fakeRepo) CreatePayment(_ context.Context, p *billing.Payment, items []billing.PaymentItem, methods []billing.PaymentMethod) (*billing.Payment, error) {
	f.createCalls++
	if f.failCreates > 0 {
		f.failCreates--
		// The failed transaction rolls back; no number is consumed.
		return nil, billing.ErrNumberingContention
	}

	cp := *p
	cp.ID = uuid.New()
	cp.InvoiceNumber = f.nextInvoice
	f.nextInvoice++
	cp.Status = billing.StatusActivo
	cp.CreatedAt = time.Now()
	f.payments[cp.ID] = &cp
	f.items[cp.ID] = items
	f.methods[cp.ID] = methods

	out := cp
	return &out, nil
}

func (f *fakeRepo) VoidPayment(_ context.Context, id, voidedBy uuid.UUID, reason string) (*billing.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	if p.Status == billing.StatusAnulado {
		return nil, billing.ErrAlreadyVoided
	}
	now := time.Now()
	p.Status = billing.StatusAnulado
	p.VoidedBy = &voidedBy
	p.VoidedAt = &now
	p.VoidReason = &reason
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetPaymentByID(_ context.Context, id uuid.UUID) (*billing.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) ListItems(_ context.Context, paymentID uuid.UUID) ([]billing.PaymentItem, error) {
	return f.items[paymentID], nil
}

func (f *fakeRepo) ListMethods(_ context.Context, paymentID uuid.UUID) ([]billing.PaymentMethod, error) {
	return f.methods[paymentID], nil
}

func (f *fakeRepo) ListByDateRange(_ context.Context, from, to time.Time) ([]billing.Payment, error) {
	var out []billing.Payment
	for _, p := range f.payments {
		if !p.CreatedAt.Before(from) && p.CreatedAt.Before(to) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertEvent(context.Context, billing.EventLog) error { return nil }

// Test setup

func newTestService(t *testing.T) (*billing.Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	return billing.NewService(repo, zerolog.Nop()), repo
}

func staffCtx(role auth.Role) context.Context {
	return auth.WithContext(context.Background(), auth.Context{UserID: uuid.New(), Role: role})
}

func (f *fakeRepo) addPatient() uuid.UUID {
	id := uuid.New()
	f.patients[id] = true
	return id
}

func (f *fakeRepo) addService(price string) uuid.UUID {
	id := uuid.New()
	f.services[id] = &billing.CatalogService{
		ID:     id,
		Name:   "Consulta general",
		Price:  decimal.RequireFromString(price),
		Active: true,
	}
	return id
}

func cash(amount string) billing.MethodInput {
	return billing.MethodInput{Method: billing.MethodEfectivo, Amount: decimal.RequireFromString(amount)}
}

func hasField(ve *validate.Error, field string) bool {
	for _, f := range ve.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Creation

func TestCreate_AssignsSequentialInvoiceNumbers(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")
	ctx := staffCtx(auth.RoleSecretaria)

	for want := int64(1); want <= 3; want++ {
		p, err := svc.Create(ctx, billing.CreateInput{
			PatientID: patientID,
			Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
			Methods:   []billing.MethodInput{cash("150.00")},
		})
		require.NoError(t, err)
		assert.Equal(t, want, p.InvoiceNumber)
	}
}

func TestCreate_BalanceMustMatchTotal(t *testing.T) {
	// Methods summing to anything further than one cent from the total are
	// rejected before any write.
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")
	ctx := staffCtx(auth.RoleSecretaria)

	_, err := svc.Create(ctx, billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods:   []billing.MethodInput{cash("140.00")},
	})

	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	assert.True(t, hasField(ve, "metodos"))
	assert.Empty(t, repo.payments, "nothing persisted")
}

func TestCreate_BalanceToleratesOneCent(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")
	ctx := staffCtx(auth.RoleSecretaria)

	_, err := svc.Create(ctx, billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods:   []billing.MethodInput{cash("149.99")},
	})
	assert.NoError(t, err)
}

func TestCreate_SplitMethods(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("200.00")
	ctx := staffCtx(auth.RoleEnfermera)

	receipt := "vouchers/2026/v-1001.pdf"
	p, err := svc.Create(ctx, billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods: []billing.MethodInput{
			cash("80.00"),
			{Method: billing.MethodTarjeta, Amount: decimal.RequireFromString("120.00"), ReceiptPath: &receipt},
		},
	})
	require.NoError(t, err)
	assert.Len(t, repo.methods[p.ID], 2)
}

func TestCreate_ElectronicMethodRequiresReceipt(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")

	_, err := svc.Create(staffCtx(auth.RoleSecretaria), billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods: []billing.MethodInput{
			{Method: billing.MethodTransferencia, Amount: decimal.RequireFromString("150.00")},
		},
	})

	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	assert.True(t, hasField(ve, "metodos[0].comprobante"))
}

func TestCreate_DiscountNeedsJustification(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")
	ctx := staffCtx(auth.RoleAdmin)

	in := billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods:   []billing.MethodInput{cash("100.00")},
		Discount:  decimal.RequireFromString("50.00"),
	}

	_, err := svc.Create(ctx, in)
	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	assert.True(t, hasField(ve, "justificacion_descuento"))

	in.DiscountJustification = "corto" // under ten characters
	_, err = svc.Create(ctx, in)
	require.ErrorAs(t, err, &ve)
	assert.True(t, hasField(ve, "justificacion_descuento"))

	in.DiscountJustification = "paciente de convenio empresarial"
	p, err := svc.Create(ctx, in)
	require.NoError(t, err)
	assert.True(t, p.Total.Equal(decimal.RequireFromString("100.00")))
	require.NotNil(t, p.DiscountJustification)
}

func TestCreate_DiscountCannotExceedSubtotal(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")

	_, err := svc.Create(staffCtx(auth.RoleAdmin), billing.CreateInput{
		PatientID:             patientID,
		Items:                 []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods:               []billing.MethodInput{cash("150.00")},
		Discount:              decimal.RequireFromString("200.00"),
		DiscountJustification: "descuento autorizado por dirección",
	})

	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	assert.True(t, hasField(ve, "descuento"))
}

func TestCreate_SnapshotsCatalogPrice(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")
	ctx := staffCtx(auth.RoleSecretaria)

	p, err := svc.Create(ctx, billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 2}},
		Methods:   []billing.MethodInput{cash("300.00")},
	})
	require.NoError(t, err)

	repo.services[serviceID].Price = decimal.RequireFromString("500.00")

	_, items, _, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].UnitPrice.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, items[0].Subtotal.Equal(decimal.RequireFromString("300.00")))
}

func TestCreate_RetriesNumberingOnce(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")
	repo.failCreates = 1

	p, err := svc.Create(staffCtx(auth.RoleSecretaria), billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods:   []billing.MethodInput{cash("150.00")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.InvoiceNumber, "failed attempt consumed no number")
	assert.Equal(t, 2, repo.createCalls)
}

func TestCreate_SurfacesPersistentContention(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")
	repo.failCreates = 2

	_, err := svc.Create(staffCtx(auth.RoleSecretaria), billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods:   []billing.MethodInput{cash("150.00")},
	})
	assert.ErrorIs(t, err, billing.ErrNumberingConflict)
	assert.Equal(t, 2, repo.createCalls, "exactly one retry")
}

func TestCreate_InactiveServiceRejected(t *testing.T) {
	svc, repo := newTestService(t)
	patientID := repo.addPatient()
	serviceID := repo.addService("150.00")
	repo.services[serviceID].Active = false

	_, err := svc.Create(staffCtx(auth.RoleSecretaria), billing.CreateInput{
		PatientID: patientID,
		Items:     []billing.ItemInput{{ServiceID: serviceID, Quantity: 1}},
		Methods:   []billing.MethodInput{cash("150.00")},
	})
	assert.ErrorIs(t, err, billing.ErrServiceInactive)
}

// Voiding

func voidablePayment(t *testing.T, svc *billing.Service, repo *fakeRepo) *billing.Payment {
	t.Helper()
	p, err := svc.Create(staffCtx(auth.RoleSecretaria), billing.CreateInput{
		PatientID: repo.addPatient(),
		Items:     []billing.ItemInput{{ServiceID: repo.addService("150.00"), Quantity: 1}},
		Methods:   []billing.MethodInput{cash("150.00")},
	})
	require.NoError(t, err)
	return p
}

func TestVoid_RecordsAudit(t *testing.T) {
	svc, repo := newTestService(t)
	p := voidablePayment(t, svc, repo)

	voided, err := svc.Void(staffCtx(auth.RoleMedico), p.ID, "monto cobrado al paciente equivocado")
	require.NoError(t, err)

	assert.Equal(t, billing.StatusAnulado, voided.Status)
	require.NotNil(t, voided.VoidedBy)
	require.NotNil(t, voided.VoidReason)
	assert.Equal(t, p.InvoiceNumber, voided.InvoiceNumber, "number is kept, never reused")
}

func TestVoid_RequiresElevatedRole(t *testing.T) {
	svc, repo := newTestService(t)
	p := voidablePayment(t, svc, repo)

	_, err := svc.Void(staffCtx(auth.RoleSecretaria), p.ID, "motivo suficientemente largo")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestVoid_RequiresJustification(t *testing.T) {
	svc, repo := newTestService(t)
	p := voidablePayment(t, svc, repo)

	_, err := svc.Void(staffCtx(auth.RoleAdmin), p.ID, "error")
	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	assert.True(t, hasField(ve, "motivo_anulacion"))
}

func TestVoid_TwiceRejected(t *testing.T) {
	svc, repo := newTestService(t)
	p := voidablePayment(t, svc, repo)
	ctx := staffCtx(auth.RoleAdmin)

	_, err := svc.Void(ctx, p.ID, "duplicado del recibo anterior")
	require.NoError(t, err)

	_, err = svc.Void(ctx, p.ID, "duplicado del recibo anterior")
	assert.ErrorIs(t, err, billing.ErrAlreadyVoided)
}
