package apiapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authsvc "github.com/VghostS/backNotifications/internal/services/auth"
	httperrors "github.com/VghostS/backNotifications/internal/transport/http/errors"
	"github.com/VghostS/backNotifications/internal/transport/http/handlers"
)

type Dependencies struct {
	Purchases handlers.PurchaseReader
	History   handlers.HistoryReader
	Refunds   handlers.Refunder
	Ledger    handlers.LedgerCounter
	Retries   handlers.RetryQueue
	JWT       *authsvc.JWTManager
	Logger    *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.Ledger, deps.Retries)
	purchaseHandler := handlers.NewPurchaseHandler(deps.Purchases, deps.History, deps.Refunds, deps.Logger)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
			Code:    "NOT_FOUND",
			Message: "route not found",
		})
	})

	r.Get("/healthz", healthHandler.Get)
	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.JWT, deps.Logger))
		r.Get("/purchases/{id}", purchaseHandler.Get)
		r.Get("/purchases/{id}/history", purchaseHandler.History)
		r.Get("/charges/{charge_id}", purchaseHandler.GetByCharge)
		r.Post("/refunds", purchaseHandler.Refund)
	})
}
