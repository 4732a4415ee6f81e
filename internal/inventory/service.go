package inventory

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
	EventPurchaseCreated   = "COMPRA_CREADA"
	EventPurchaseReceived  = "COMPRA_RECIBIDA"
	EventPurchaseCancelled = "COMPRA_ANULADA"
	EventReturnRequested   = "DEVOLUCION_SOLICITADA"
	EventReturnApproved    = "DEVOLUCION_APROBADA"
	EventReturnRejected    = "DEVOLUCION_RECHAZADA"
	EventSaleCreated       = "VENTA_CREADA"
)

var (
	staffRoles   = []auth.Role{auth.RoleAdmin, auth.RoleMedico, auth.RoleEnfermera, auth.RoleSecretaria}
	cancelRoles  = []auth.Role{auth.RoleAdmin, auth.RoleMedico}
	resolveRoles = []auth.Role{auth.RoleAdmin, auth.RoleMedico}
)

// ErrSameApprover enforces segregation of duties on returns: whoever filed
// the request cannot resolve it.
var ErrSameApprover = errors.New("a return cannot be resolved by its requester")

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

type PurchaseItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	UnitCost  decimal.Decimal
}

func (s *Service) CreatePurchase(ctx context.Context, supplier string, items []PurchaseItemInput) (*Purchase, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(staffRoles...); err != nil {
		return nil, err
	}

	var ve validate.Error
	if supplier == "" {
		ve.Add("proveedor", "requerido")
	}
	if len(items) == 0 {
		ve.Add("items", "se requiere al menos un producto")
	}
	for i, it := range items {
		if it.Quantity <= 0 {
			ve.Add(fmt.Sprintf("items[%d].cantidad", i), "debe ser mayor que cero")
		}
		if it.UnitCost.Sign() <= 0 {
			ve.Add(fmt.Sprintf("items[%d].costo_unitario", i), "debe ser mayor que cero")
		}
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	purchaseItems := make([]PurchaseItem, 0, len(items))
	for _, it := range items {
		purchaseItems = append(purchaseItems, PurchaseItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitCost:  it.UnitCost,
		})
	}

	created, err := s.repo.CreatePurchase(ctx, &Purchase{Supplier: supplier, CreatedBy: ac.UserID}, purchaseItems)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventPurchaseCreated, map[string]any{
		"numero_compra": created.Number,
		"proveedor":     created.Supplier,
	})

	return created, nil
}

// ConfirmReception moves a pending purchase to recibido, incrementing stock
// and writing one movement row per item, all in one transaction.
func (s *Service) ConfirmReception(ctx context.Context, id uuid.UUID) (*Purchase, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(staffRoles...); err != nil {
		return nil, err
	}

	purchase, err := s.repo.GetPurchaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !PurchaseTransitions.Can(purchase.Status, PurchaseRecibido) {
		return nil, &StateError{
			Current:   PurchaseLabels[purchase.Status],
			Requested: PurchaseLabels[PurchaseRecibido],
		}
	}

	updated, err := s.repo.ConfirmReception(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventPurchaseReceived, map[string]any{
		"numero_compra": updated.Number,
	})

	return updated, nil
}

// CancelPurchase voids a purchase. If the goods had already been received
// the stock increments are reversed in the same transaction, and the whole
// cancellation fails if any product would go negative.
func (s *Service) CancelPurchase(ctx context.Context, id uuid.UUID, justification string) (*Purchase, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(cancelRoles...); err != nil {
		return nil, err
	}

	var ve validate.Error
	validate.Justification(&ve, "justificacion_anulacion", justification)
	if err := ve.Err(); err != nil {
		return nil, err
	}

	purchase, err := s.repo.GetPurchaseByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !PurchaseTransitions.Can(purchase.Status, PurchaseAnulado) {
		return nil, &StateError{
			Current:   PurchaseLabels[purchase.Status],
			Requested: PurchaseLabels[PurchaseAnulado],
		}
	}

	updated, err := s.repo.CancelPurchase(ctx, id, purchase.Status, ac.UserID, justification)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventPurchaseCancelled, map[string]any{
		"numero_compra": updated.Number,
		"anulado_por":   ac.UserID.String(),
	})

	return updated, nil
}

func (s *Service) RequestReturn(ctx context.Context, productID uuid.UUID, quantity int, reason string) (*Return, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(staffRoles...); err != nil {
		return nil, err
	}

	var ve validate.Error
	if quantity <= 0 {
		ve.Add("cantidad", "debe ser mayor que cero")
	}
	if reason == "" {
		ve.Add("motivo", "requerido")
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateReturn(ctx, &Return{
		ProductID:   productID,
		Quantity:    quantity,
		Reason:      reason,
		RequestedBy: ac.UserID,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventReturnRequested, map[string]any{
		"producto_id": productID.String(),
		"cantidad":    quantity,
	})

	return created, nil
}

// ApproveReturn adds the returned quantity to the separate returns-stock
// bucket. The requester can never be the approver.
func (s *Service) ApproveReturn(ctx context.Context, id uuid.UUID, notes *string) (*Return, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(resolveRoles...); err != nil {
		return nil, err
	}

	ret, err := s.repo.GetReturnByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret.RequestedBy == ac.UserID {
		return nil, ErrSameApprover
	}
	if !ReturnTransitions.Can(ret.Status, ReturnAprobada) {
		return nil, &StateError{
			Current:   ReturnLabels[ret.Status],
			Requested: ReturnLabels[ReturnAprobada],
		}
	}

	updated, err := s.repo.ApproveReturn(ctx, id, ac.UserID, notes)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventReturnApproved, map[string]any{
		"resuelto_por": ac.UserID.String(),
	})

	return updated, nil
}

func (s *Service) RejectReturn(ctx context.Context, id uuid.UUID, notes *string) (*Return, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(resolveRoles...); err != nil {
		return nil, err
	}

	ret, err := s.repo.GetReturnByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret.RequestedBy == ac.UserID {
		return nil, ErrSameApprover
	}
	if !ReturnTransitions.Can(ret.Status, ReturnRechazada) {
		return nil, &StateError{
			Current:   ReturnLabels[ret.Status],
			Requested: ReturnLabels[ReturnRechazada],
		}
	}

	updated, err := s.repo.RejectReturn(ctx, id, ac.UserID, notes)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventReturnRejected, map[string]any{
		"resuelto_por": ac.UserID.String(),
	})

	return updated, nil
}

type SaleItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// CreateSale sells products over the counter: gapless sale number, price
// snapshots and stock decrements in one transaction. Numbering contention
// is retried once.
func (s *Service) CreateSale(ctx context.Context, method string, items []SaleItemInput) (*Sale, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(staffRoles...); err != nil {
		return nil, err
	}

	var ve validate.Error
	if method == "" {
		ve.Add("metodo_pago", "requerido")
	}
	if len(items) == 0 {
		ve.Add("items", "se requiere al menos un producto")
	}
	for i, it := range items {
		if it.Quantity <= 0 {
			ve.Add(fmt.Sprintf("items[%d].cantidad", i), "debe ser mayor que cero")
		}
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	saleItems := make([]SaleItem, 0, len(items))
	for _, it := range items {
		saleItems = append(saleItems, SaleItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	sale := &Sale{Method: method, CreatedBy: ac.UserID}

	created, err := s.repo.CreateSale(ctx, sale, saleItems)
	if errors.Is(err, ErrNumberingContention) {
		created, err = s.repo.CreateSale(ctx, sale, saleItems)
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventSaleCreated, map[string]any{
		"numero_venta": created.Number,
		"total":        created.Total.StringFixed(2),
	})

	return created, nil
}

func (s *Service) GetPurchase(ctx context.Context, id uuid.UUID) (*Purchase, []PurchaseItem, error) {
	p, err := s.repo.GetPurchaseByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.repo.ListPurchaseItems(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list purchase items: %w", err)
	}

	return p, items, nil
}

func (s *Service) ListMovements(ctx context.Context, productID uuid.UUID, day time.Time) ([]StockMovement, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return s.repo.ListMovements(ctx, productID, dayStart, dayStart.AddDate(0, 0, 1))
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
