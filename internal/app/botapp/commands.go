package botapp

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/model"
	tginfra "github.com/VghostS/backNotifications/internal/infra/telegram"
	paymentsvc "github.com/VghostS/backNotifications/internal/services/payments"
)

const (
	buyCallbackPrefix = "buy:"

	helpText = "Commands:\n" +
		"/items - show the shop\n" +
		"/buy <item> [quantity] - buy an item\n" +
		"/paysupport - help with payments\n" +
		"/stop - stop reminders"
	stoppedText      = "You will no longer receive reminders. Send /start to subscribe again."
	operatorOnlyText = "This command is available to operators only."
	emptyShopText    = "The shop is empty right now."
)

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	if a.messenger == nil {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "start":
		return a.handleStart(ctx, update)
	case "stop":
		if _, err := a.subscribers.Unsubscribe(ctx, update.UserID); err != nil {
			a.logger.Warn("unsubscribe failed", zap.Int64("subscriber_id", update.UserID), zap.Error(err))
		}
		return a.messenger.SendText(ctx, update.ChatID, stoppedText)
	case "items", "shop":
		return a.sendShop(ctx, update.ChatID)
	case "buy":
		itemID, quantity, ok := parseBuyArgs(update.Args)
		if !ok {
			return a.messenger.SendText(ctx, update.ChatID, "Usage: /buy <item> [quantity]")
		}
		return a.issueInvoice(ctx, update.ChatID, update.UserID, itemID, quantity)
	case "paysupport":
		return a.messenger.SendText(ctx, update.ChatID, a.cfg.Bot.SupportText)
	case "refund":
		return a.handleRefund(ctx, update)
	case "apitoken":
		return a.handleAPIToken(ctx, update)
	default:
		return a.messenger.SendText(ctx, update.ChatID, helpText)
	}
}

func (a *App) handleStart(ctx context.Context, update tginfra.CommandUpdate) error {
	if _, err := a.subscribers.Subscribe(ctx, update.UserID, update.Username); err != nil {
		a.logger.Warn("subscribe failed", zap.Int64("subscriber_id", update.UserID), zap.Error(err))
	}

	text := greeting(update)
	if strings.TrimSpace(a.cfg.Bot.WebAppURL) == "" {
		return a.messenger.SendText(ctx, update.ChatID, text)
	}
	return a.messenger.SendButtons(ctx, update.ChatID, text, [][]tginfra.Button{
		{{Text: "Launch 🎮", URL: a.cfg.Bot.WebAppURL}},
	})
}

func greeting(update tginfra.CommandUpdate) string {
	name := strings.TrimSpace(update.FirstName)
	if name == "" {
		name = strings.TrimSpace(update.Username)
	}
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hello, %s\nWish you a great Journey Ahead! \n \nTap Launch to Launch TLS", name)
}

func (a *App) sendShop(ctx context.Context, chatID int64) error {
	items := a.catalog.List()
	if len(items) == 0 {
		return a.messenger.SendText(ctx, chatID, emptyShopText)
	}

	rows := make([][]tginfra.Button, 0, len(items))
	for _, item := range items {
		rows = append(rows, []tginfra.Button{{
			Text: fmt.Sprintf("%s · %d🌟", item.DisplayName, item.UnitPrice),
			Data: buyCallbackPrefix + item.ID,
		}})
	}
	return a.messenger.SendButtons(ctx, chatID, "Pick an item:", rows)
}

func (a *App) handleCallback(ctx context.Context, update tginfra.CallbackUpdate) error {
	if a.messenger == nil {
		return nil
	}

	data := strings.TrimSpace(update.Data)
	if !strings.HasPrefix(data, buyCallbackPrefix) {
		return a.messenger.AnswerCallback(ctx, update.CallbackID, "Unknown action")
	}
	if err := a.messenger.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		a.logger.Debug("answer callback failed", zap.Error(err))
	}

	chatID := update.ChatID
	if chatID == 0 {
		chatID = update.UserID
	}
	return a.issueInvoice(ctx, chatID, update.UserID, strings.TrimPrefix(data, buyCallbackPrefix), 1)
}

func (a *App) issueInvoice(ctx context.Context, chatID, userID int64, itemID string, quantity int) error {
	_, err := a.payments.Issue(ctx, paymentsvc.IssueInput{
		SubscriberID: userID,
		ChatID:       chatID,
		ItemID:       itemID,
		Quantity:     quantity,
	})
	if err != nil {
		a.logger.Info("invoice not issued",
			zap.Int64("subscriber_id", userID),
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		return a.messenger.SendText(ctx, chatID, paymentsvc.UserMessage(err))
	}
	return nil
}

func (a *App) handlePreCheckout(ctx context.Context, update tginfra.PreCheckoutUpdate) error {
	_, err := a.payments.AnswerPreCheckout(ctx, paymentsvc.PreCheckoutQuery{
		QueryID:      update.QueryID,
		SubscriberID: update.UserID,
		Payload:      update.Payload,
		Currency:     update.Currency,
		TotalAmount:  update.TotalAmount,
	})
	return err
}

// handlePayment never tells the payer about ledger conflicts; those are
// logged by the payments service for manual follow-up.
func (a *App) handlePayment(ctx context.Context, update tginfra.PaymentUpdate) error {
	result, err := a.payments.ConfirmPayment(ctx, paymentsvc.PaymentConfirmation{
		Payload:          update.Payload,
		ChargeID:         update.ChargeID,
		ProviderChargeID: update.ProviderChargeID,
		SubscriberID:     update.UserID,
		Currency:         update.Currency,
		TotalAmount:      update.TotalAmount,
	})
	if err != nil {
		return err
	}
	if result.Idempotent || a.messenger == nil {
		return nil
	}
	return a.messenger.SendHTML(ctx, update.ChatID, a.successMessage(update.Username, result.Record))
}

func (a *App) successMessage(username string, rec model.PurchaseRecord) string {
	name := strings.TrimSpace(username)
	if name == "" {
		name = "Friend"
	}
	itemName := rec.ItemID
	if item, err := a.catalog.Get(rec.ItemID); err == nil && item.DisplayName != "" {
		itemName = item.DisplayName
	}
	return fmt.Sprintf("%s, wow, u have successfully purchased the item <b>%s</b> for %d🌟",
		html.EscapeString(name), html.EscapeString(itemName), rec.TotalAmount())
}

func (a *App) handleRefund(ctx context.Context, update tginfra.CommandUpdate) error {
	if !a.cfg.Bot.IsOperator(update.UserID) {
		return a.messenger.SendText(ctx, update.ChatID, operatorOnlyText)
	}
	chargeID := strings.TrimSpace(update.Args)
	if chargeID == "" {
		return a.messenger.SendText(ctx, update.ChatID, "Usage: /refund <charge_id>")
	}

	result, err := a.payments.Refund(ctx, chargeID)
	if err != nil {
		a.logger.Warn("operator refund failed",
			zap.Int64("operator_id", update.UserID),
			zap.String("charge_id", chargeID),
			zap.Error(err),
		)
		return a.messenger.SendText(ctx, update.ChatID, refundFailureText(err))
	}

	a.logger.Info("operator refund",
		zap.Int64("operator_id", update.UserID),
		zap.String("purchase_id", result.Record.PurchaseID),
		zap.Bool("already_refunded", result.AlreadyRefunded),
	)
	if result.AlreadyRefunded {
		return a.messenger.SendText(ctx, update.ChatID, fmt.Sprintf("Charge %s was already refunded.", chargeID))
	}
	return a.messenger.SendText(ctx, update.ChatID,
		fmt.Sprintf("Refunded %d🌟 for purchase %s.", result.Record.TotalAmount(), result.Record.PurchaseID))
}

func refundFailureText(err error) string {
	switch {
	case errors.Is(err, paymentsvc.ErrNotFound):
		return "No purchase found for this charge."
	case errors.Is(err, paymentsvc.ErrStateConflict):
		return "This purchase is not in a refundable state."
	case errors.Is(err, paymentsvc.ErrRefundFailed):
		return "Telegram refused the refund. Check the logs."
	default:
		return "Refund failed."
	}
}

func (a *App) handleAPIToken(ctx context.Context, update tginfra.CommandUpdate) error {
	if a.jwt == nil || !a.jwt.IsOperator(update.UserID) {
		return a.messenger.SendText(ctx, update.ChatID, operatorOnlyText)
	}

	token, expiresAt, err := a.jwt.GenerateOperatorToken(update.UserID)
	if err != nil {
		return fmt.Errorf("generate operator token: %w", err)
	}
	a.logger.Info("operator api token issued", zap.Int64("operator_id", update.UserID), zap.Time("expires_at", expiresAt))
	return a.messenger.SendText(ctx, update.ChatID,
		fmt.Sprintf("Operator API token, valid until %s UTC:\n%s", expiresAt.Format("2006-01-02 15:04"), token))
}

func parseBuyArgs(args string) (string, int, bool) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 1:
		return fields[0], 1, true
	case 2:
		quantity, err := strconv.Atoi(fields[1])
		if err != nil || quantity < 1 {
			return "", 0, false
		}
		return fields[0], quantity, true
	default:
		return "", 0, false
	}
}
