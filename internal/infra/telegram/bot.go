package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// defaultMaxInFlight caps concurrently handled updates other than
// pre-checkout queries.
const defaultMaxInFlight = 32

type Bot struct {
	api         *tgbotapi.BotAPI
	logger      *zap.Logger
	maxInFlight int
}

type CommandUpdate struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	Command   string
	Args      string
}

type CallbackUpdate struct {
	CallbackID string
	ChatID     int64
	UserID     int64
	Username   string
	Data       string
}

type PreCheckoutUpdate struct {
	QueryID     string
	UserID      int64
	Username    string
	Currency    string
	TotalAmount int
	Payload     string
}

type PaymentUpdate struct {
	ChatID           int64
	UserID           int64
	Username         string
	Currency         string
	TotalAmount      int
	Payload          string
	ChargeID         string
	ProviderChargeID string
}

type Handlers struct {
	OnCommand     func(context.Context, CommandUpdate) error
	OnCallback    func(context.Context, CallbackUpdate) error
	OnPreCheckout func(context.Context, PreCheckoutUpdate) error
	OnPayment     func(context.Context, PaymentUpdate) error
}

type Invoice struct {
	ChatID        int64
	Title         string
	Description   string
	Payload       string
	ProviderToken string
	Currency      string
	PriceLabel    string
	Amount        int
}

type Button struct {
	Text string
	Data string
	URL  string
}

func NewBot(token string, logger *zap.Logger) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}

	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}
	return newBot(api, logger), nil
}

// NewBotWithEndpoint talks to a Bot API compatible server at endpoint,
// formatted like tgbotapi.APIEndpoint.
func NewBotWithEndpoint(token, endpoint string, logger *zap.Logger) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(strings.TrimSpace(token), endpoint)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}
	return newBot(api, logger), nil
}

func newBot(api *tgbotapi.BotAPI, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{api: api, logger: logger, maxInFlight: defaultMaxInFlight}
}

func (b *Bot) Username() string {
	if b == nil || b.api == nil {
		return ""
	}
	return b.api.Self.UserName
}

// Listen polls updates until ctx is cancelled. A failing handler is logged
// and never stops the loop.
func (b *Bot) Listen(ctx context.Context, pollTimeout int, handlers Handlers) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if pollTimeout <= 0 {
		pollTimeout = 30
	}

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = pollTimeout
	updateCfg.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}
	updates := b.api.GetUpdatesChan(updateCfg)
	defer b.api.StopReceivingUpdates()

	return b.serve(ctx, updates, handlers)
}

// serve handles every update on its own goroutine, so one slow purchase
// never delays another user. Pre-checkout queries bypass the in-flight limit
// because Telegram drops the payment unless they are answered within seconds.
// serve returns once all started handlers have finished.
func (b *Bot) serve(ctx context.Context, updates <-chan tgbotapi.Update, handlers Handlers) error {
	limit := b.maxInFlight
	if limit <= 0 {
		limit = defaultMaxInFlight
	}
	slots := make(chan struct{}, limit)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram updates channel closed")
			}
			if update.PreCheckoutQuery != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.dispatch(ctx, update, handlers)
				}()
				continue
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-slots }()
				b.dispatch(ctx, update, handlers)
			}()
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update, handlers Handlers) {
	kind, err := route(ctx, update, handlers)
	if err != nil {
		b.logger.Error("telegram update handler failed",
			zap.Error(err),
			zap.Int("update_id", update.UpdateID),
			zap.String("kind", kind),
		)
	}
}

func route(ctx context.Context, update tgbotapi.Update, handlers Handlers) (string, error) {
	switch {
	case update.PreCheckoutQuery != nil && update.PreCheckoutQuery.From != nil:
		if handlers.OnPreCheckout == nil {
			return "pre_checkout", nil
		}
		q := update.PreCheckoutQuery
		return "pre_checkout", handlers.OnPreCheckout(ctx, PreCheckoutUpdate{
			QueryID:     q.ID,
			UserID:      q.From.ID,
			Username:    q.From.UserName,
			Currency:    q.Currency,
			TotalAmount: q.TotalAmount,
			Payload:     q.InvoicePayload,
		})

	case update.Message != nil && update.Message.From != nil && update.Message.SuccessfulPayment != nil:
		if handlers.OnPayment == nil {
			return "payment", nil
		}
		msg := update.Message
		p := msg.SuccessfulPayment
		return "payment", handlers.OnPayment(ctx, PaymentUpdate{
			ChatID:           msg.Chat.ID,
			UserID:           msg.From.ID,
			Username:         msg.From.UserName,
			Currency:         p.Currency,
			TotalAmount:      p.TotalAmount,
			Payload:          p.InvoicePayload,
			ChargeID:         p.TelegramPaymentChargeID,
			ProviderChargeID: p.ProviderPaymentChargeID,
		})

	case update.Message != nil && update.Message.From != nil && update.Message.IsCommand():
		if handlers.OnCommand == nil {
			return "command", nil
		}
		msg := update.Message
		return "command", handlers.OnCommand(ctx, CommandUpdate{
			ChatID:    msg.Chat.ID,
			UserID:    msg.From.ID,
			Username:  msg.From.UserName,
			FirstName: msg.From.FirstName,
			Command:   msg.Command(),
			Args:      strings.TrimSpace(msg.CommandArguments()),
		})

	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		if handlers.OnCallback == nil {
			return "callback", nil
		}
		cb := update.CallbackQuery
		chatID := int64(0)
		if cb.Message != nil {
			chatID = cb.Message.Chat.ID
		}
		return "callback", handlers.OnCallback(ctx, CallbackUpdate{
			CallbackID: cb.ID,
			ChatID:     chatID,
			UserID:     cb.From.ID,
			Username:   cb.From.UserName,
			Data:       cb.Data,
		})
	}
	return "ignored", nil
}

func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	return b.send(ctx, chatID, text, "", nil)
}

func (b *Bot) SendHTML(ctx context.Context, chatID int64, text string) error {
	return b.send(ctx, chatID, text, tgbotapi.ModeHTML, nil)
}

func (b *Bot) SendButtons(ctx context.Context, chatID int64, text string, rows [][]Button) error {
	return b.send(ctx, chatID, text, "", rows)
}

func (b *Bot) send(ctx context.Context, chatID int64, text, parseMode string, rows [][]Button) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if chatID == 0 {
		return fmt.Errorf("chat id is required")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	if len(rows) > 0 {
		msg.ReplyMarkup = keyboard(rows)
	}
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	_ = ctx
	return nil
}

func (b *Bot) SendInvoice(ctx context.Context, invoice Invoice) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if invoice.ChatID == 0 || strings.TrimSpace(invoice.Payload) == "" || invoice.Amount <= 0 {
		return fmt.Errorf("invalid invoice payload")
	}

	label := invoice.PriceLabel
	if strings.TrimSpace(label) == "" {
		label = invoice.Title
	}
	cfg := tgbotapi.NewInvoice(
		invoice.ChatID,
		invoice.Title,
		invoice.Description,
		invoice.Payload,
		invoice.ProviderToken,
		"",
		invoice.Currency,
		[]tgbotapi.LabeledPrice{{Label: label, Amount: invoice.Amount}},
	)
	cfg.SuggestedTipAmounts = []int{}

	if _, err := b.api.Send(cfg); err != nil {
		return fmt.Errorf("send telegram invoice: %w", err)
	}

	_ = ctx
	return nil
}

func (b *Bot) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, reason string) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if strings.TrimSpace(queryID) == "" {
		return fmt.Errorf("pre-checkout query id is required")
	}

	cfg := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
	}
	if !ok {
		cfg.ErrorMessage = reason
	}
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("answer pre-checkout query: %w", err)
	}

	_ = ctx
	return nil
}

// RefundStarPayment is not wrapped by the library version in use, so the
// raw method is called.
func (b *Bot) RefundStarPayment(ctx context.Context, userID int64, chargeID string) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if userID <= 0 || strings.TrimSpace(chargeID) == "" {
		return fmt.Errorf("invalid refund payload")
	}

	params := tgbotapi.Params{}
	params.AddNonZero64("user_id", userID)
	params["telegram_payment_charge_id"] = strings.TrimSpace(chargeID)

	if _, err := b.api.MakeRequest("refundStarPayment", params); err != nil {
		return fmt.Errorf("refund star payment: %w", err)
	}

	_ = ctx
	return nil
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if b == nil || b.api == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	if strings.TrimSpace(callbackID) == "" {
		return nil
	}

	cfg := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(cfg); err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}

	_ = ctx
	return nil
}

func keyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
