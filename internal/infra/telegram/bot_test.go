package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeBotAPI struct {
	mu    sync.Mutex
	calls map[string][]map[string]string
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	t.Helper()
	fake := &fakeBotAPI{calls: make(map[string][]map[string]string)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		form := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			form[key] = r.PostForm.Get(key)
		}
		fake.mu.Lock()
		fake.calls[method] = append(fake.calls[method], form)
		fake.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"shop","username":"shop_bot"}}`))
		case "sendMessage", "sendInvoice":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
		case "refundStarPayment":
			if form["telegram_payment_charge_id"] == "unknown" {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: CHARGE_NOT_FOUND"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		}
	}))
	t.Cleanup(server.Close)
	return fake, server
}

func (f *fakeBotAPI) last(method string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[method]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func newTestBot(t *testing.T) (*Bot, *fakeBotAPI) {
	t.Helper()
	fake, server := newFakeBotAPI(t)
	bot, err := NewBotWithEndpoint("123:abc", server.URL+"/bot%s/%s", nil)
	if err != nil {
		t.Fatalf("new bot: %v", err)
	}
	return bot, fake
}

func TestSendInvoiceUsesPurchasePayloadAndStars(t *testing.T) {
	bot, fake := newTestBot(t)

	err := bot.SendInvoice(context.Background(), Invoice{
		ChatID:      42,
		Title:       "Flask",
		Description: "One flask",
		Payload:     "purchase-1",
		Currency:    "XTR",
		Amount:      3,
	})
	if err != nil {
		t.Fatalf("send invoice: %v", err)
	}

	form := fake.last("sendInvoice")
	if form == nil {
		t.Fatalf("sendInvoice was not called")
	}
	if form["chat_id"] != "42" || form["payload"] != "purchase-1" || form["currency"] != "XTR" {
		t.Fatalf("unexpected invoice form: %v", form)
	}
	if form["provider_token"] != "" {
		t.Fatalf("stars invoices carry an empty provider token, got %q", form["provider_token"])
	}
	if !strings.Contains(form["prices"], `"amount":3`) || !strings.Contains(form["prices"], `"label":"Flask"`) {
		t.Fatalf("unexpected prices: %s", form["prices"])
	}
}

func TestAnswerPreCheckoutSendsReasonOnlyOnReject(t *testing.T) {
	bot, fake := newTestBot(t)
	ctx := context.Background()

	if err := bot.AnswerPreCheckout(ctx, "q1", true, "ignored"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	form := fake.last("answerPreCheckoutQuery")
	if form["pre_checkout_query_id"] != "q1" || form["ok"] != "true" || form["error_message"] != "" {
		t.Fatalf("unexpected approve form: %v", form)
	}

	if err := bot.AnswerPreCheckout(ctx, "q2", false, "expired"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	form = fake.last("answerPreCheckoutQuery")
	if form["ok"] == "true" || form["error_message"] != "expired" {
		t.Fatalf("unexpected reject form: %v", form)
	}
}

func TestRefundStarPayment(t *testing.T) {
	bot, fake := newTestBot(t)
	ctx := context.Background()

	if err := bot.RefundStarPayment(ctx, 42, "C1"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	form := fake.last("refundStarPayment")
	if form["user_id"] != "42" || form["telegram_payment_charge_id"] != "C1" {
		t.Fatalf("unexpected refund form: %v", form)
	}

	if err := bot.RefundStarPayment(ctx, 42, "unknown"); err == nil {
		t.Fatalf("expected refund error from api")
	}
}

func TestSendButtonsBuildsKeyboard(t *testing.T) {
	bot, fake := newTestBot(t)

	err := bot.SendButtons(context.Background(), 42, "pick", [][]Button{
		{{Text: "Buy", Data: "buy:flask_one"}},
		{{Text: "Launch", URL: "https://example.org/game"}},
	})
	if err != nil {
		t.Fatalf("send buttons: %v", err)
	}
	markup := fake.last("sendMessage")["reply_markup"]
	if !strings.Contains(markup, "buy:flask_one") || !strings.Contains(markup, "https://example.org/game") {
		t.Fatalf("unexpected reply markup: %s", markup)
	}
}

func TestRouteDispatchesPaymentEvents(t *testing.T) {
	var (
		gotPre     PreCheckoutUpdate
		gotPayment PaymentUpdate
		commands   int
	)
	handlers := Handlers{
		OnPreCheckout: func(_ context.Context, u PreCheckoutUpdate) error { gotPre = u; return nil },
		OnPayment:     func(_ context.Context, u PaymentUpdate) error { gotPayment = u; return nil },
		OnCommand:     func(context.Context, CommandUpdate) error { commands++; return nil },
	}
	from := &tgbotapi.User{ID: 42, UserName: "alice"}
	ctx := context.Background()

	kind, err := route(ctx, tgbotapi.Update{PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{
		ID: "q1", From: from, Currency: "XTR", TotalAmount: 1, InvoicePayload: "p1",
	}}, handlers)
	if err != nil || kind != "pre_checkout" {
		t.Fatalf("pre-checkout route: kind=%s err=%v", kind, err)
	}
	if gotPre.QueryID != "q1" || gotPre.Payload != "p1" || gotPre.UserID != 42 {
		t.Fatalf("unexpected pre-checkout update: %+v", gotPre)
	}

	kind, err = route(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		From: from,
		Chat: &tgbotapi.Chat{ID: 42},
		SuccessfulPayment: &tgbotapi.SuccessfulPayment{
			Currency: "XTR", TotalAmount: 1, InvoicePayload: "p1", TelegramPaymentChargeID: "C1",
		},
	}}, handlers)
	if err != nil || kind != "payment" {
		t.Fatalf("payment route: kind=%s err=%v", kind, err)
	}
	if gotPayment.ChargeID != "C1" || gotPayment.Payload != "p1" || gotPayment.ChatID != 42 {
		t.Fatalf("unexpected payment update: %+v", gotPayment)
	}
	if commands != 0 {
		t.Fatalf("payment messages must not reach the command handler")
	}
}

func TestDispatchLogsHandlerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bot := &Bot{logger: zap.New(core)}

	bot.dispatch(context.Background(), tgbotapi.Update{UpdateID: 9, PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{
		ID: "q1", From: &tgbotapi.User{ID: 1},
	}}, Handlers{
		OnPreCheckout: func(context.Context, PreCheckoutUpdate) error { return errors.New("boom") },
	})

	if logs.FilterMessage("telegram update handler failed").Len() != 1 {
		t.Fatalf("expected handler failure to be logged")
	}
}

func TestServeAnswersPreCheckoutWhilePaymentIsSlow(t *testing.T) {
	bot := &Bot{logger: zap.NewNop(), maxInFlight: 1}
	release := make(chan struct{})
	paymentStarted := make(chan struct{})
	preCheckoutDone := make(chan string, 1)

	handlers := Handlers{
		OnPayment: func(context.Context, PaymentUpdate) error {
			close(paymentStarted)
			<-release
			return nil
		},
		OnPreCheckout: func(_ context.Context, u PreCheckoutUpdate) error {
			preCheckoutDone <- u.QueryID
			return nil
		},
	}

	updates := make(chan tgbotapi.Update, 2)
	updates <- tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{
		From:              &tgbotapi.User{ID: 1},
		Chat:              &tgbotapi.Chat{ID: 1},
		SuccessfulPayment: &tgbotapi.SuccessfulPayment{InvoicePayload: "p1", TelegramPaymentChargeID: "C1"},
	}}
	updates <- tgbotapi.Update{UpdateID: 2, PreCheckoutQuery: &tgbotapi.PreCheckoutQuery{
		ID: "q2", From: &tgbotapi.User{ID: 2}, InvoicePayload: "p2",
	}}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- bot.serve(ctx, updates, handlers) }()

	<-paymentStarted
	select {
	case id := <-preCheckoutDone:
		if id != "q2" {
			t.Fatalf("unexpected pre-checkout query %q", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("pre-checkout waited for an unrelated payment")
	}

	close(release)
	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}

func TestServeLimitsInFlightUpdates(t *testing.T) {
	bot := &Bot{logger: zap.NewNop(), maxInFlight: 1}
	release := make(chan struct{})
	started := make(chan string, 2)

	handlers := Handlers{
		OnCommand: func(_ context.Context, u CommandUpdate) error {
			started <- u.Command
			<-release
			return nil
		},
	}

	command := func(id int, text string) tgbotapi.Update {
		return tgbotapi.Update{UpdateID: id, Message: &tgbotapi.Message{
			From:     &tgbotapi.User{ID: 1},
			Chat:     &tgbotapi.Chat{ID: 1},
			Text:     text,
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		}}
	}
	updates := make(chan tgbotapi.Update, 2)
	updates <- command(1, "/items")
	updates <- command(2, "/stop")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bot.serve(ctx, updates, handlers) }()

	if got := <-started; got != "items" {
		t.Fatalf("unexpected first command %q", got)
	}
	select {
	case got := <-started:
		t.Fatalf("command %q started above the in-flight limit", got)
	case <-time.After(50 * time.Millisecond):
	}

	release <- struct{}{}
	select {
	case got := <-started:
		if got != "stop" {
			t.Fatalf("unexpected second command %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("second command never started")
	}
	close(release)
}
