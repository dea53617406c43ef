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

type RefundResult struct {
	Record          model.PurchaseRecord
	AlreadyRefunded bool
}

// Refund returns the stars of a fulfilled purchase to the payer. Repeating
// it for an already refunded charge succeeds without calling the gateway.
func (s *Service) Refund(ctx context.Context, chargeID string) (RefundResult, error) {
	if s.ledger == nil || s.refunds == nil {
		return RefundResult{}, fmt.Errorf("payments service dependencies are not configured")
	}

	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return RefundResult{}, ErrValidation
	}

	// Callers racing on one charge share a single gateway call. The shared
	// call is detached from whichever caller started it, so one caller
	// going away does not fail the others.
	ch := s.refundCalls.DoChan(chargeID, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RefundTimeout)
		defer cancel()
		return s.refundOnce(callCtx, chargeID)
	})

	select {
	case <-ctx.Done():
		return RefundResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RefundResult{}, res.Err
		}
		return res.Val.(RefundResult), nil
	}
}

func (s *Service) refundOnce(ctx context.Context, chargeID string) (RefundResult, error) {
	record, err := s.ledger.FindByCharge(ctx, chargeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RefundResult{}, ErrNotFound
		}
		return RefundResult{}, fmt.Errorf("find purchase by charge: %w", err)
	}

	switch record.State {
	case enums.PurchaseStateRefunded:
		return RefundResult{Record: record, AlreadyRefunded: true}, nil
	case enums.PurchaseStateFulfilled:
	default:
		return RefundResult{Record: record}, fmt.Errorf("%w: purchase %s is %s", ErrStateConflict, record.PurchaseID, record.State)
	}

	if err := s.refunds.RefundStarPayment(ctx, record.SubscriberID, chargeID); err != nil {
		return RefundResult{Record: record}, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}

	if err := s.ledger.Transition(ctx, record.PurchaseID, enums.PurchaseStateFulfilled, enums.PurchaseStateRefunded); err != nil {
		s.logInconsistency("refunded purchase could not be marked", record, chargeID, err)
		return RefundResult{Record: record}, err
	}

	refunded, err := s.ledger.Get(ctx, record.PurchaseID)
	if err != nil {
		return RefundResult{}, fmt.Errorf("reload purchase: %w", err)
	}

	s.logger.Info("purchase refunded",
		zap.String("purchase_id", refunded.PurchaseID),
		zap.String("charge_id", chargeID),
		zap.Int64("subscriber_id", refunded.SubscriberID),
		zap.Int("total_amount", refunded.TotalAmount()),
	)

	return RefundResult{Record: refunded}, nil
}
