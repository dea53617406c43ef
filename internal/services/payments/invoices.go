package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/enums"
)

type IssueInput struct {
	SubscriberID int64
	ChatID       int64
	ItemID       string
	// Quantity left at zero means one item; callers parsing user input
	// reject explicit values below one themselves.
	Quantity int
}

type IssueResult struct {
	PurchaseID  string
	ItemID      string
	Quantity    int
	TotalAmount int
}

// Invoice is what the gateway needs to render a payment form. Payload is
// always the purchase id.
type Invoice struct {
	ChatID      int64
	Title       string
	Description string
	Payload     string
	Currency    string
	PriceLabel  string
	Amount      int
}

func (s *Service) Issue(ctx context.Context, input IssueInput) (IssueResult, error) {
	if s.ledger == nil || s.catalog == nil || s.invoices == nil {
		return IssueResult{}, fmt.Errorf("payments service dependencies are not configured")
	}
	if input.SubscriberID <= 0 {
		return IssueResult{}, ErrValidation
	}
	if input.ChatID == 0 {
		input.ChatID = input.SubscriberID
	}
	if input.Quantity == 0 {
		input.Quantity = 1
	}
	if input.Quantity < 0 || input.Quantity > s.cfg.MaxQuantity {
		return IssueResult{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrValidation, s.cfg.MaxQuantity)
	}

	item, err := s.catalog.Get(input.ItemID)
	if err != nil {
		if errors.Is(err, ErrUnknownItem) {
			return IssueResult{}, ErrUnknownItem
		}
		return IssueResult{}, fmt.Errorf("get catalog item: %w", err)
	}
	if item.UnitPrice <= 0 || item.UnitPrice > maxInvoiceAmount/input.Quantity {
		return IssueResult{}, ErrInvalidPrice
	}

	if s.limiter != nil {
		_, allowed, limitErr := s.limiter.AllowInvoice(ctx, input.SubscriberID)
		switch {
		case limitErr != nil:
			s.logger.Warn("invoice rate limiter unavailable", zap.Error(limitErr), zap.Int64("subscriber_id", input.SubscriberID))
		case !allowed:
			return IssueResult{}, ErrRateLimited
		}
	}

	purchaseID, err := s.ledger.Create(ctx, input.SubscriberID, item.ID, input.Quantity)
	if err != nil {
		if errors.Is(err, ErrUnknownItem) {
			return IssueResult{}, ErrUnknownItem
		}
		return IssueResult{}, fmt.Errorf("create purchase: %w", err)
	}

	total := item.UnitPrice * input.Quantity
	invoice := Invoice{
		ChatID:      input.ChatID,
		Title:       invoiceTitle(item.DisplayName, input.Quantity),
		Description: invoiceDescription(item.Description, item.DisplayName),
		Payload:     purchaseID,
		Currency:    s.cfg.Currency,
		PriceLabel:  invoiceTitle(item.DisplayName, input.Quantity),
		Amount:      total,
	}

	if err := s.invoices.SendInvoice(ctx, invoice); err != nil {
		// No pre-checkout will ever arrive for an invoice the payer never saw.
		if tErr := s.ledger.Transition(ctx, purchaseID, enums.PurchaseStatePending, enums.PurchaseStateRejected); tErr != nil {
			s.logger.Warn("reject unsent purchase failed", zap.Error(tErr), zap.String("purchase_id", purchaseID))
		}
		return IssueResult{}, fmt.Errorf("%w: %v", ErrInvoiceFailed, err)
	}

	s.logger.Info("invoice issued",
		zap.String("purchase_id", purchaseID),
		zap.Int64("subscriber_id", input.SubscriberID),
		zap.String("item_id", item.ID),
		zap.Int("quantity", input.Quantity),
		zap.Int("total_amount", total),
	)

	return IssueResult{
		PurchaseID:  purchaseID,
		ItemID:      item.ID,
		Quantity:    input.Quantity,
		TotalAmount: total,
	}, nil
}

func invoiceTitle(name string, quantity int) string {
	if quantity <= 1 {
		return name
	}
	return fmt.Sprintf("%s x%d", name, quantity)
}

func invoiceDescription(description, name string) string {
	if strings.TrimSpace(description) != "" {
		return description
	}
	return "Purchase " + name
}
