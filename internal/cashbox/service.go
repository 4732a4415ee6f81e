package cashbox

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
	redisclient "github.com/clinicdesk/clinicdesk/internal/redis"
	"github.com/clinicdesk/clinicdesk/internal/validate"
)

const (
	EventClosingCreated  = "CIERRE_CREADO"
	EventClosingReopened = "CIERRE_REABIERTO"
)

var (
	closeRoles  = []auth.Role{auth.RoleAdmin, auth.RoleSecretaria}
	reopenRoles = []auth.Role{auth.RoleAdmin}
)

// ErrClosingInProgress means another request holds the per-date closing
// lock right now. The DB uniqueness rule is still the authority; the lock
// only turns a constraint bounce into a friendlier message.
var ErrClosingInProgress = errors.New("a closing for this date is already in progress")

type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, log zerolog.Logger) *Service {
	return &Service{repo: repo, locker: locker, log: log}
}

func (s *Service) Summary(ctx context.Context, module Module, date time.Time) (*DailySummary, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(auth.RoleAdmin, auth.RoleMedico, auth.RoleEnfermera, auth.RoleSecretaria); err != nil {
		return nil, err
	}
	return s.repo.Summary(ctx, module, date)
}

type CreateClosingInput struct {
	Module                  Module
	Date                    time.Time
	CountedCash             decimal.Decimal
	DifferenceJustification string
	EvidencePath            *string
}

// CreateClosing recomputes the day's expected totals, compares the counted
// cash against the expected cash (electronic methods are assumed correct
// via their receipts), gates a nonzero difference on a justification, and
// persists the closing with a gapless number.
func (s *Service) CreateClosing(ctx context.Context, in CreateClosingInput) (*CashClosing, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(closeRoles...); err != nil {
		return nil, err
	}

	if in.CountedCash.IsNegative() {
		var ve validate.Error
		ve.Add("efectivo_contado", "no puede ser negativo")
		return nil, ve.Err()
	}

	var created *CashClosing

	lockKey := fmt.Sprintf("cierre:%s:%s", in.Module, in.Date.Format("2006-01-02"))
	err := s.locker.WithLock(ctx, lockKey, func(lockCtx context.Context) error {
		summary, err := s.repo.Summary(lockCtx, in.Module, in.Date)
		if err != nil {
			return fmt.Errorf("compute daily summary: %w", err)
		}

		difference := in.CountedCash.Sub(summary.TotalCash)

		// Difference gate: any nonzero variance needs a justification.
		// The sales till presents this as zero tolerance; the rule is
		// the same for both.
		if !difference.IsZero() {
			var ve validate.Error
			validate.Justification(&ve, "justificacion_diferencia", in.DifferenceJustification)
			if err := ve.Err(); err != nil {
				return err
			}
		}

		closing := &CashClosing{
			Module:         in.Module,
			Date:           in.Date,
			TotalCash:      summary.TotalCash,
			TotalCard:      summary.TotalCard,
			TotalTransfer:  summary.TotalTransfer,
			TotalDiscounts: summary.TotalDiscounts,
			TotalVoided:    summary.TotalVoided,
			GrandTotal:     summary.GrandTotal,
			CountedCash:    in.CountedCash,
			Difference:     difference,
			EvidencePath:   in.EvidencePath,
			CreatedBy:      ac.UserID,
		}
		if !difference.IsZero() {
			just := in.DifferenceJustification
			closing.DifferenceJustification = &just
		}

		created, err = s.repo.CreateClosing(lockCtx, closing)
		if errors.Is(err, ErrNumberingContention) {
			created, err = s.repo.CreateClosing(lockCtx, closing)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrClosingInProgress
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventClosingCreated, map[string]any{
		"numero_cierre": created.Number,
		"modulo":        string(created.Module),
		"fecha":         created.Date.Format("2006-01-02"),
		"diferencia":    created.Difference.StringFixed(2),
	})

	return created, nil
}

// Reopen flips a closing to reabierto so a corrected closing can later be
// created for the same date. Admin only, justification mandatory.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, reason string) (*CashClosing, error) {
	ac := auth.FromContext(ctx)
	if err := ac.Require(reopenRoles...); err != nil {
		return nil, err
	}

	var ve validate.Error
	validate.Justification(&ve, "motivo_reapertura", reason)
	if err := ve.Err(); err != nil {
		return nil, err
	}

	closing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Transitions.Can(closing.Status, StatusReabierto) {
		return nil, &StateError{Current: closing.Status, Requested: StatusReabierto}
	}

	updated, err := s.repo.Reopen(ctx, id, ac.UserID, reason)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventClosingReopened, map[string]any{
		"reabierto_por": ac.UserID.String(),
		"motivo":        reason,
	})

	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*CashClosing, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, module Module, limit int) ([]CashClosing, error) {
	return s.repo.ListByModule(ctx, module, limit)
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
