package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mateovidal/givebridge-backend/api/controllers"
	billingcontrollers "github.com/mateovidal/givebridge-backend/api/controllers/billing"
	webhookcontrollers "github.com/mateovidal/givebridge-backend/api/controllers/webhooks"
	"github.com/mateovidal/givebridge-backend/api/middleware"
	"github.com/mateovidal/givebridge-backend/internal/accounts"
	billingsvc "github.com/mateovidal/givebridge-backend/internal/billing"
	"github.com/mateovidal/givebridge-backend/internal/paymentmethods"
	"github.com/mateovidal/givebridge-backend/internal/subscriptions"
	"github.com/mateovidal/givebridge-backend/pkg/config"
	"github.com/mateovidal/givebridge-backend/pkg/db"
	"github.com/mateovidal/givebridge-backend/pkg/logger"
	"github.com/mateovidal/givebridge-backend/pkg/redis"
)

// RouterParams groups everything the HTTP surface depends on.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          *redis.Client
	Accounts       accounts.Service
	PaymentMethods paymentmethods.Service
	Billing        billingsvc.Repository
	Orchestrator   subscriptions.Orchestrator
	SquareWebhooks webhookcontrollers.SquareWebhookService
}

// NewRouter assembles the back-office API and the gateway webhook intake.
func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	readyDeps := map[string]controllers.HealthDep{
		"database": p.DB,
	}
	if p.Redis != nil {
		readyDeps["redis"] = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(p.SquareWebhooks, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		mutate := middleware.RequireBillingMutation(logg)

		r.Route("/billing/plans", func(r chi.Router) {
			r.Get("/", billingcontrollers.BillingPlansList(p.Billing, logg))
			r.With(mutate).Post("/", billingcontrollers.BillingPlanCreate(p.Billing, logg))
		})

		r.Route("/accounts", func(r chi.Router) {
			r.With(mutate).Post("/", controllers.AccountCreate(p.Accounts, logg))

			r.Route("/{accountID}", func(r chi.Router) {
				r.Get("/", controllers.AccountGet(p.Accounts, logg))
				r.With(mutate).Post("/cancel", controllers.AccountCancel(p.Accounts, logg))
				r.With(mutate).Post("/reactivate", controllers.AccountReactivate(p.Accounts, logg))

				r.Get("/billing-attempts", billingcontrollers.BillingAttemptsList(p.Billing, logg))
				r.With(mutate).Post("/billing/run", billingcontrollers.BillingCycleRun(p.Orchestrator, logg))

				r.Route("/payment-methods", func(r chi.Router) {
					r.Get("/", billingcontrollers.PaymentMethodsList(p.PaymentMethods, logg))
					r.With(mutate).Post("/", billingcontrollers.PaymentMethodCreate(p.PaymentMethods, logg))
					r.With(mutate).Post("/{methodID}/primary", billingcontrollers.PaymentMethodSetPrimary(p.PaymentMethods, logg))
					r.With(mutate).Post("/{methodID}/re-enable", billingcontrollers.PaymentMethodReEnable(p.PaymentMethods, logg))
				})
			})
		})
	})

	return r
}
