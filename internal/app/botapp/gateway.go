package botapp

import (
	"context"

	tginfra "github.com/VghostS/backNotifications/internal/infra/telegram"
	paymentsvc "github.com/VghostS/backNotifications/internal/services/payments"
)

type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendHTML(ctx context.Context, chatID int64, text string) error
	SendButtons(ctx context.Context, chatID int64, text string, rows [][]tginfra.Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

type telegramInvoiceSender interface {
	SendInvoice(ctx context.Context, invoice tginfra.Invoice) error
}

// invoiceGateway adds the provider token, which the payments service never
// sees. Stars invoices leave it empty.
type invoiceGateway struct {
	sender        telegramInvoiceSender
	providerToken string
}

func (g invoiceGateway) SendInvoice(ctx context.Context, invoice paymentsvc.Invoice) error {
	return g.sender.SendInvoice(ctx, tginfra.Invoice{
		ChatID:        invoice.ChatID,
		Title:         invoice.Title,
		Description:   invoice.Description,
		Payload:       invoice.Payload,
		ProviderToken: g.providerToken,
		Currency:      invoice.Currency,
		PriceLabel:    invoice.PriceLabel,
		Amount:        invoice.Amount,
	})
}
