package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/enums"
	"github.com/VghostS/backNotifications/internal/domain/model"
)

type PaymentConfirmation struct {
	Payload          string
	ChargeID         string
	ProviderChargeID string
	SubscriberID     int64
	Currency         string
	TotalAmount      int
}

type ConfirmResult struct {
	Record     model.PurchaseRecord
	Idempotent bool
}

// ConfirmPayment records a captured charge and hands the purchase to
// fulfillment. A redelivered confirmation resolves to the same result
// without notifying fulfillment again.
func (s *Service) ConfirmPayment(ctx context.Context, event PaymentConfirmation) (ConfirmResult, error) {
	if s.ledger == nil {
		return ConfirmResult{}, fmt.Errorf("payments service dependencies are not configured")
	}

	chargeID := strings.TrimSpace(event.ChargeID)
	if chargeID == "" {
		return ConfirmResult{}, ErrValidation
	}

	purchaseID := strings.TrimSpace(event.Payload)
	record, err := s.ledger.Get(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Error("payment confirmation for unknown purchase",
				zap.String("payload", event.Payload),
				zap.String("charge_id", chargeID),
				zap.Int64("subscriber_id", event.SubscriberID),
			)
			return ConfirmResult{}, ErrPayloadMismatch
		}
		return ConfirmResult{}, fmt.Errorf("get purchase: %w", err)
	}

	if event.TotalAmount != 0 && event.TotalAmount != record.TotalAmount() {
		s.logger.Warn("payment amount differs from purchase",
			zap.String("purchase_id", record.PurchaseID),
			zap.Int("charged", event.TotalAmount),
			zap.Int("expected", record.TotalAmount()),
		)
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, s.cfg.Currency) {
		s.logger.Warn("payment currency differs from purchase",
			zap.String("purchase_id", record.PurchaseID),
			zap.String("currency", event.Currency),
		)
	}

	if err := s.ledger.AttachCharge(ctx, record.PurchaseID, chargeID); err != nil {
		if errors.Is(err, ErrDuplicateCharge) {
			current, getErr := s.ledger.Get(ctx, record.PurchaseID)
			if getErr != nil {
				current = record
			}
			s.logger.Info("duplicate payment confirmation ignored",
				zap.String("purchase_id", record.PurchaseID),
				zap.String("charge_id", chargeID),
			)
			return ConfirmResult{Record: current, Idempotent: true}, nil
		}
		s.logInconsistency("attach charge rejected", record, chargeID, err)
		return ConfirmResult{Record: record}, err
	}

	if err := s.ledger.Transition(ctx, record.PurchaseID, enums.PurchaseStateAwaitingCharge, enums.PurchaseStateFulfilled); err != nil {
		s.logInconsistency("charged purchase could not be fulfilled", record, chargeID, err)
		return ConfirmResult{Record: record}, err
	}

	fulfilled, err := s.ledger.Get(ctx, record.PurchaseID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("reload purchase: %w", err)
	}

	s.logger.Info("payment confirmed",
		zap.String("purchase_id", fulfilled.PurchaseID),
		zap.String("charge_id", chargeID),
		zap.String("provider_charge_id", event.ProviderChargeID),
		zap.Int64("subscriber_id", fulfilled.SubscriberID),
		zap.String("item_id", fulfilled.ItemID),
		zap.Int("quantity", fulfilled.Quantity),
	)

	if s.fulfiller != nil {
		s.fulfiller.Notify(ctx, fulfilled)
	}

	return ConfirmResult{Record: fulfilled}, nil
}

func (s *Service) logInconsistency(msg string, record model.PurchaseRecord, chargeID string, err error) {
	s.logger.Error(msg,
		zap.Error(err),
		zap.String("purchase_id", record.PurchaseID),
		zap.String("charge_id", chargeID),
		zap.String("state", string(record.State)),
		zap.Int64("subscriber_id", record.SubscriberID),
	)
}
