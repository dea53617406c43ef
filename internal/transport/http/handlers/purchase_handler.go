package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/model"
	authsvc "github.com/VghostS/backNotifications/internal/services/auth"
	paymentsvc "github.com/VghostS/backNotifications/internal/services/payments"
	"github.com/VghostS/backNotifications/internal/transport/http/dto"
	httperrors "github.com/VghostS/backNotifications/internal/transport/http/errors"
)

type PurchaseReader interface {
	Get(ctx context.Context, purchaseID string) (model.PurchaseRecord, error)
	FindByCharge(ctx context.Context, chargeID string) (model.PurchaseRecord, error)
}

type HistoryReader interface {
	History(ctx context.Context, purchaseID string) ([]model.PurchaseEvent, error)
}

type Refunder interface {
	Refund(ctx context.Context, chargeID string) (paymentsvc.RefundResult, error)
}

type PurchaseHandler struct {
	purchases PurchaseReader
	history   HistoryReader
	refunds   Refunder
	logger    *zap.Logger
}

// history may be nil when no journal database is configured.
func NewPurchaseHandler(purchases PurchaseReader, history HistoryReader, refunds Refunder, logger *zap.Logger) *PurchaseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurchaseHandler{
		purchases: purchases,
		history:   history,
		refunds:   refunds,
		logger:    logger,
	}
}

func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.purchases == nil {
		writeInternal(w, "LEDGER_UNAVAILABLE", "purchase ledger is unavailable")
		return
	}

	purchaseID := strings.TrimSpace(chi.URLParam(r, "id"))
	if purchaseID == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "purchase id is required")
		return
	}

	rec, err := h.purchases.Get(r.Context(), purchaseID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, purchaseResponse(rec))
}

func (h *PurchaseHandler) GetByCharge(w http.ResponseWriter, r *http.Request) {
	if h.purchases == nil {
		writeInternal(w, "LEDGER_UNAVAILABLE", "purchase ledger is unavailable")
		return
	}

	chargeID := strings.TrimSpace(chi.URLParam(r, "charge_id"))
	if chargeID == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "charge id is required")
		return
	}

	rec, err := h.purchases.FindByCharge(r.Context(), chargeID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, purchaseResponse(rec))
}

func (h *PurchaseHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
			Code:    "JOURNAL_DISABLED",
			Message: "purchase journal is not configured",
		})
		return
	}

	purchaseID := strings.TrimSpace(chi.URLParam(r, "id"))
	if purchaseID == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "purchase id is required")
		return
	}

	events, err := h.history.History(r.Context(), purchaseID)
	if err != nil {
		h.logger.Error("load purchase history failed", zap.String("purchase_id", purchaseID), zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to load purchase history")
		return
	}
	if len(events) == 0 {
		writeNotFound(w, "PURCHASE_NOT_FOUND", "no journal entries for purchase")
		return
	}

	resp := dto.PurchaseHistoryResponse{
		PurchaseID: purchaseID,
		Events:     make([]dto.PurchaseEventResponse, 0, len(events)),
	}
	for _, ev := range events {
		item := dto.PurchaseEventResponse{
			Version:    ev.Version,
			Event:      ev.Event,
			FromState:  string(ev.FromState),
			ToState:    string(ev.ToState),
			OccurredAt: ev.OccurredAt,
		}
		if ev.ChargeID != nil {
			item.ChargeID = *ev.ChargeID
		}
		resp.Events = append(resp.Events, item)
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *PurchaseHandler) Refund(w http.ResponseWriter, r *http.Request) {
	if h.refunds == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	var req dto.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.refunds.Refund(r.Context(), req.ChargeID)
	if err != nil {
		switch {
		case errors.Is(err, paymentsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "charge_id is required")
		case errors.Is(err, paymentsvc.ErrNotFound):
			writeNotFound(w, "PURCHASE_NOT_FOUND", "no purchase for charge id")
		case errors.Is(err, paymentsvc.ErrStateConflict):
			writeConflict(w, "NOT_REFUNDABLE", "purchase is not in a refundable state")
		case errors.Is(err, paymentsvc.ErrRefundFailed):
			writeBadGateway(w, "REFUND_FAILED", "telegram refused the refund")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to refund purchase")
		}
		return
	}

	operatorID := int64(0)
	if identity, ok := authsvc.IdentityFromContext(r.Context()); ok {
		operatorID = identity.OperatorID
	}
	h.logger.Info("refund requested over api",
		zap.Int64("operator_id", operatorID),
		zap.String("purchase_id", result.Record.PurchaseID),
		zap.Bool("already_refunded", result.AlreadyRefunded),
	)

	httperrors.Write(w, http.StatusOK, dto.RefundResponse{
		OK:              true,
		AlreadyRefunded: result.AlreadyRefunded,
		Purchase:        purchaseResponse(result.Record),
	})
}

func (h *PurchaseHandler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, paymentsvc.ErrNotFound):
		writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
	default:
		h.logger.Error("purchase lookup failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to load purchase")
	}
}
