package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicdesk/clinicdesk/internal/auth"
	"github.com/clinicdesk/clinicdesk/internal/validate"
)

const (
	EventPaymentCreated = "PAGO_CREADO"
	EventPaymentVoided  = "PAGO_ANULADO"
)

var (
	createRoles = []auth.Role{auth.RoleAdmin, auth.RoleMedico, auth.RoleEnfermera, auth.RoleSecretaria}
	voidRoles   = []auth.Role{auth.RoleAdmin, auth.RoleMedico}
)

var ErrServiceInactive = errors.New("service is no longer offered")

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

type ItemInput struct {
	ServiceID     uuid.UUID
	Quantity      int
	ServiceLineID *uuid.UUID // appointment service line this item settles
}

type MethodInput struct {
	Method      Method
	Amount      decimal.Decimal
	ReceiptPath *string
}

type CreateInput struct {
	PatientID             uuid.UUID
	Items                 []ItemInput
	Methods               []MethodInput
	Discount              decimal.Decimal
	DiscountJustification string
}

// Create validates the payment shape locally, then delegates the whole
// multi-table mutation to one repository transaction. The invoice number is
// assigned inside that transaction; numbering contention is retried once.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Payment, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(createRoles...); err != nil {
		return nil, err
	}

	var ve validate.Error
	if in.PatientID == uuid.Nil {
		ve.Add("paciente_id", "requerido")
	}
	if len(in.Items) == 0 {
		ve.Add("items", "se requiere al menos un servicio")
	}
	if len(in.Methods) == 0 {
		ve.Add("metodos", "se requiere al menos un método de pago")
	}
	if in.Discount.IsNegative() {
		ve.Add("descuento", "no puede ser negativo")
	}
	if in.Discount.IsPositive() {
		validate.Justification(&ve, "justificacion_descuento", in.DiscountJustification)
	}
	for i, m := range in.Methods {
		if m.Amount.Sign() <= 0 {
			ve.Add(fmt.Sprintf("metodos[%d].monto", i), "debe ser mayor que cero")
		}
		if m.Method.Electronic() && (m.ReceiptPath == nil || *m.ReceiptPath == "") {
			ve.Add(fmt.Sprintf("metodos[%d].comprobante", i), "los métodos electrónicos requieren comprobante")
		}
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	if err := s.repo.GetPatientExists(ctx, in.PatientID); err != nil {
		return nil, err
	}

	// Snapshot each service from the catalog and price the payment.
	items := make([]PaymentItem, 0, len(in.Items))
	subtotal := decimal.Zero
	for i, it := range in.Items {
		if it.Quantity <= 0 {
			ve.Add(fmt.Sprintf("items[%d].cantidad", i), "debe ser mayor que cero")
			continue
		}
		svc, err := s.repo.GetCatalogService(ctx, it.ServiceID)
		if err != nil {
			return nil, err
		}
		if !svc.Active {
			return nil, ErrServiceInactive
		}
		lineSubtotal := svc.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		items = append(items, PaymentItem{
			ServiceID:     svc.ID,
			ServiceName:   svc.Name,
			UnitPrice:     svc.Price,
			Quantity:      it.Quantity,
			Subtotal:      lineSubtotal,
			ServiceLineID: it.ServiceLineID,
		})
		subtotal = subtotal.Add(lineSubtotal)
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	total := subtotal.Sub(in.Discount)
	if total.Sign() < 0 {
		ve.Add("descuento", "no puede superar el subtotal")
		return nil, ve.Err()
	}

	// Balance invariant: method amounts must cover the total exactly,
	// within a one-cent tolerance. Checked before any storage call.
	paid := decimal.Zero
	for _, m := range in.Methods {
		paid = paid.Add(m.Amount)
	}
	if paid.Sub(total).Abs().GreaterThan(BalanceEpsilon) {
		ve.Add("metodos", fmt.Sprintf("la suma de los métodos (%s) no coincide con el total (%s)", paid.StringFixed(2), total.StringFixed(2)))
		return nil, ve.Err()
	}

	payment := &Payment{
		PatientID: in.PatientID,
		Subtotal:  subtotal,
		Discount:  in.Discount,
		Total:     total,
		CreatedBy: ac.UserID,
	}
	if in.Discount.IsPositive() {
		just := in.DiscountJustification
		payment.DiscountJustification = &just
	}

	methods := make([]PaymentMethod, 0, len(in.Methods))
	for _, m := range in.Methods {
		methods = append(methods, PaymentMethod{
			Method:      m.Method,
			Amount:      m.Amount,
			ReceiptPath: m.ReceiptPath,
		})
	}

	created, err := s.repo.CreatePayment(ctx, payment, items, methods)
	if errors.Is(err, ErrNumberingContention) {
		// One internal retry under numbering contention, then surface.
		created, err = s.repo.CreatePayment(ctx, payment, items, methods)
		if errors.Is(err, ErrNumberingContention) {
			return nil, ErrNumberingConflict
		}
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventPaymentCreated, map[string]any{
		"numero_factura": created.InvoiceNumber,
		"total":          created.Total.StringFixed(2),
	})

	return created, nil
}

// Void flips an active payment to anulado. Requires an elevated role and a
// justification of at least ten characters; the payment row itself is never
// deleted or edited beyond the void audit fields.
func (s *Service) Void(ctx context.Context, id uuid.UUID, justification string) (*Payment, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(voidRoles...); err != nil {
		return nil, err
	}

	var ve validate.Error
	validate.Justification(&ve, "motivo_anulacion", justification)
	if err := ve.Err(); err != nil {
		return nil, err
	}

	voided, err := s.repo.VoidPayment(ctx, id, ac.UserID, justification)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, voided.ID, EventPaymentVoided, map[string]any{
		"numero_factura": voided.InvoiceNumber,
		"anulado_por":    ac.UserID.String(),
		"motivo":         justification,
	})

	return voided, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payment, []PaymentItem, []PaymentMethod, error) {
	p, err := s.repo.GetPaymentByID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}

	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list payment items: %w", err)
	}

	methods, err := s.repo.ListMethods(ctx, id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list payment methods: %w", err)
	}

	return p, items, methods, nil
}

func (s *Service) ListByDay(ctx context.Context, day time.Time) ([]Payment, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return s.repo.ListByDateRange(ctx, dayStart, dayStart.AddDate(0, 0, 1))
}

func (s *Service) logEvent(ctx context.Context, entityID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	id := entityID
	ev := EventLog{
		EventType: eventType,
		EntityID:  &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event", eventType).Stringer("entity_id", entityID).Msg("insert event log")
	}
}
