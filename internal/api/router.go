package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/appointment"
	"github.com/clinicdesk/clinicdesk/internal/auth"
	"github.com/clinicdesk/clinicdesk/internal/billing"
	"github.com/clinicdesk/clinicdesk/internal/cashbox"
	"github.com/clinicdesk/clinicdesk/internal/inventory"
	redisclient "github.com/clinicdesk/clinicdesk/internal/redis"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Billing      *billing.Service
	Inventory    *inventory.Service
	Cashbox      *cashbox.Service

	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Verifier    *auth.Verifier
	Revalidator redisclient.Revalidator
	Logger      zerolog.Logger
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay outside auth so probes don't need tokens.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	reval := cfg.Revalidator
	if reval == nil {
		reval = redisclient.NopRevalidator{}
	}

	appts := &appointmentHandlers{svc: cfg.Appointments, reval: reval}
	payments := &billingHandlers{svc: cfg.Billing, reval: reval}
	inv := &inventoryHandlers{svc: cfg.Inventory, reval: reval}
	closings := &cashboxHandlers{svc: cfg.Cashbox, reval: reval}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Route("/citas", func(r chi.Router) {
			r.Post("/", appts.create)
			r.Get("/", appts.listByDoctor)
			r.Get("/{id}", appts.get)
			r.Delete("/{id}", appts.delete)
			r.Patch("/{id}/horario", appts.reschedule)
			r.Post("/{id}/estado", appts.changeStatus)
			r.Get("/{id}/transiciones", appts.transitions)
			r.Post("/{id}/servicios", appts.attachService)
		})

		r.Route("/pagos", func(r chi.Router) {
			r.Post("/", payments.create)
			r.Get("/", payments.listByDay)
			r.Get("/{id}", payments.get)
			r.Post("/{id}/anular", payments.void)
		})

		r.Route("/compras", func(r chi.Router) {
			r.Post("/", inv.createPurchase)
			r.Get("/{id}", inv.getPurchase)
			r.Post("/{id}/recibir", inv.receivePurchase)
			r.Post("/{id}/anular", inv.cancelPurchase)
		})

		r.Route("/devoluciones", func(r chi.Router) {
			r.Post("/", inv.createReturn)
			r.Post("/{id}/aprobar", inv.approveReturn)
			r.Post("/{id}/rechazar", inv.rejectReturn)
		})

		r.Post("/ventas", inv.createSale)

		r.Route("/cierres", func(r chi.Router) {
			r.Get("/resumen", closings.summary)
			r.Post("/", closings.create)
			r.Get("/", closings.list)
			r.Get("/{id}", closings.get)
			r.Post("/{id}/reabrir", closings.reopen)
		})
	})

	return r
}
