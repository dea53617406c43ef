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

type PreCheckoutQuery struct {
	QueryID      string
	SubscriberID int64
	Payload      string
	Currency     string
	TotalAmount  int
}

type Decision struct {
	PurchaseID string
	Approved   bool
	Reason     string
	Err        error
}

// ValidatePreCheckout decides on a pre-checkout query. Only an approval or a
// catalog price drift changes the record; every other rejection leaves it
// as it was.
func (s *Service) ValidatePreCheckout(ctx context.Context, query PreCheckoutQuery) Decision {
	if s.ledger == nil {
		return reject("", fmt.Errorf("payments service dependencies are not configured"))
	}

	purchaseID := strings.TrimSpace(query.Payload)
	record, err := s.ledger.Get(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject("", ErrPayloadMismatch)
		}
		return reject("", fmt.Errorf("get purchase: %w", err))
	}

	if record.State != enums.PurchaseStatePending {
		return reject(record.PurchaseID, ErrAlreadyProcessed)
	}

	if err := s.matchQuery(record, query); err != nil {
		return reject(record.PurchaseID, err)
	}

	if err := s.checkCatalogPrice(record); err != nil {
		if tErr := s.ledger.Transition(ctx, record.PurchaseID, enums.PurchaseStatePending, enums.PurchaseStateRejected); tErr != nil && !errors.Is(tErr, ErrStateConflict) {
			s.logger.Warn("reject stale purchase failed", zap.Error(tErr), zap.String("purchase_id", record.PurchaseID))
		}
		return reject(record.PurchaseID, err)
	}

	if err := s.ledger.Transition(ctx, record.PurchaseID, enums.PurchaseStatePending, enums.PurchaseStateAwaitingCharge); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return reject(record.PurchaseID, ErrAlreadyProcessed)
		}
		return reject(record.PurchaseID, fmt.Errorf("approve purchase: %w", err))
	}

	return Decision{PurchaseID: record.PurchaseID, Approved: true}
}

// AnswerPreCheckout validates the query and replies to the gateway before
// the configured deadline.
func (s *Service) AnswerPreCheckout(ctx context.Context, query PreCheckoutQuery) (Decision, error) {
	if s.preCheckout == nil {
		return Decision{}, fmt.Errorf("pre-checkout responder is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PreCheckoutTimeout)
	defer cancel()

	decision := s.ValidatePreCheckout(ctx, query)
	if decision.Approved {
		s.logger.Info("pre-checkout approved",
			zap.String("purchase_id", decision.PurchaseID),
			zap.Int64("subscriber_id", query.SubscriberID),
		)
	} else {
		s.logger.Info("pre-checkout rejected",
			zap.String("payload", query.Payload),
			zap.Int64("subscriber_id", query.SubscriberID),
			zap.Error(decision.Err),
		)
	}

	if err := s.preCheckout.AnswerPreCheckout(ctx, query.QueryID, decision.Approved, decision.Reason); err != nil {
		return decision, fmt.Errorf("answer pre-checkout query: %w", err)
	}
	return decision, nil
}

func (s *Service) matchQuery(record model.PurchaseRecord, query PreCheckoutQuery) error {
	if query.SubscriberID != 0 && query.SubscriberID != record.SubscriberID {
		return fmt.Errorf("%w: subscriber %d does not own purchase", ErrPayloadMismatch, query.SubscriberID)
	}
	if query.Currency != "" && !strings.EqualFold(query.Currency, s.cfg.Currency) {
		return fmt.Errorf("%w: currency %s", ErrPayloadMismatch, query.Currency)
	}
	if query.TotalAmount != 0 && query.TotalAmount != record.TotalAmount() {
		return fmt.Errorf("%w: amount %d, expected %d", ErrPayloadMismatch, query.TotalAmount, record.TotalAmount())
	}
	return nil
}

func (s *Service) checkCatalogPrice(record model.PurchaseRecord) error {
	if s.catalog == nil {
		return nil
	}
	item, err := s.catalog.Get(record.ItemID)
	if err != nil {
		return fmt.Errorf("%w: %s left the catalog", ErrInvalidPrice, record.ItemID)
	}
	if item.UnitPrice != record.UnitPrice {
		return fmt.Errorf("%w: %s now costs %d", ErrInvalidPrice, record.ItemID, item.UnitPrice)
	}
	return nil
}

func reject(purchaseID string, err error) Decision {
	return Decision{
		PurchaseID: purchaseID,
		Approved:   false,
		Reason:     UserMessage(err),
		Err:        err,
	}
}
