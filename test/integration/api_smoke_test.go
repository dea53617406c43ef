package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/app/apiapp"
	"github.com/VghostS/backNotifications/internal/config"
	"github.com/VghostS/backNotifications/internal/infra/gameserver"
	authsvc "github.com/VghostS/backNotifications/internal/services/auth"
	catalogsvc "github.com/VghostS/backNotifications/internal/services/catalog"
	"github.com/VghostS/backNotifications/internal/services/fulfillment"
	ledgersvc "github.com/VghostS/backNotifications/internal/services/ledger"
	paymentsvc "github.com/VghostS/backNotifications/internal/services/payments"
)

type telegramStub struct {
	refunds atomic.Int32
}

func (s *telegramStub) SendInvoice(context.Context, paymentsvc.Invoice) error { return nil }

func (s *telegramStub) AnswerPreCheckout(context.Context, string, bool, string) error { return nil }

func (s *telegramStub) RefundStarPayment(context.Context, int64, string) error {
	s.refunds.Add(1)
	return nil
}

type stack struct {
	api        *apiapp.App
	payments   *paymentsvc.Service
	telegram   *telegramStub
	deliveries *atomic.Int32
	jwt        *authsvc.JWTManager
}

func newStack(t *testing.T) *stack {
	t.Helper()

	var deliveries atomic.Int32
	game := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/deliveries" {
			t.Errorf("unexpected game server path %s", r.URL.Path)
		}
		deliveries.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(game.Close)

	cfg := config.Default()
	cfg.HTTP.Addr = ":0"

	items, err := catalogsvc.New(cfg.Catalog.Items)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	ledger := ledgersvc.New(items, zap.NewNop())

	client, err := gameserver.NewClient(game.URL, "test-key", time.Second)
	if err != nil {
		t.Fatalf("new game server client: %v", err)
	}
	notifier := fulfillment.NewNotifier(client, gameserver.IsRetryable, fulfillment.Config{}, zap.NewNop())

	tg := &telegramStub{}
	payments := paymentsvc.NewService(paymentsvc.Dependencies{
		Ledger:      ledger,
		Catalog:     items,
		Invoices:    tg,
		PreCheckout: tg,
		Refunds:     tg,
		Fulfiller:   notifier,
	}, paymentsvc.Config{Currency: cfg.Payments.Currency})

	jwt := authsvc.NewJWTManager(cfg.Auth.JWTSecret, time.Hour, []int64{900})
	app, err := apiapp.New(cfg.HTTP, apiapp.Dependencies{
		Purchases: ledger,
		Refunds:   payments,
		Ledger:    ledger,
		Retries:   notifier,
		JWT:       jwt,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("create app: %v", err)
	}

	return &stack{api: app, payments: payments, telegram: tg, deliveries: &deliveries, jwt: jwt}
}

func TestHealthz(t *testing.T) {
	s := newStack(t)
	ts := httptest.NewServer(s.api.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", resp.StatusCode, http.StatusOK)
	}

	var payload struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.OK {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	s := newStack(t)
	ts := httptest.NewServer(s.api.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/charges/C1")
	if err != nil {
		t.Fatalf("get charge: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestPurchaseFlowThenRefundOverAPI(t *testing.T) {
	s := newStack(t)
	ts := httptest.NewServer(s.api.Handler())
	defer ts.Close()
	ctx := context.Background()

	issued, err := s.payments.Issue(ctx, paymentsvc.IssueInput{SubscriberID: 42, ChatID: 42, ItemID: "flask_one", Quantity: 1})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	decision := s.payments.ValidatePreCheckout(ctx, paymentsvc.PreCheckoutQuery{
		QueryID:      "q1",
		SubscriberID: 42,
		Payload:      issued.PurchaseID,
		Currency:     "XTR",
		TotalAmount:  issued.TotalAmount,
	})
	if !decision.Approved {
		t.Fatalf("pre-checkout rejected: %v", decision.Err)
	}
	if _, err := s.payments.ConfirmPayment(ctx, paymentsvc.PaymentConfirmation{
		Payload:      issued.PurchaseID,
		ChargeID:     "C1",
		SubscriberID: 42,
		Currency:     "XTR",
		TotalAmount:  issued.TotalAmount,
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := s.deliveries.Load(); got != 1 {
		t.Fatalf("expected one game server delivery, got %d", got)
	}

	token, _, err := s.jwt.GenerateOperatorToken(900)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/refunds", bytes.NewBufferString(`{"charge_id":"C1"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("refund #%d: %v", i+1, err)
		}
		var body struct {
			OK              bool `json:"ok"`
			AlreadyRefunded bool `json:"already_refunded"`
			Purchase        struct {
				State string `json:"state"`
			} `json:"purchase"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode refund #%d: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusOK || body.Purchase.State != "refunded" {
			t.Fatalf("refund #%d: status=%d body=%+v", i+1, resp.StatusCode, body)
		}
		if body.AlreadyRefunded != (i == 1) {
			t.Fatalf("refund #%d: already_refunded=%v", i+1, body.AlreadyRefunded)
		}
	}
	if got := s.telegram.refunds.Load(); got != 1 {
		t.Fatalf("expected one gateway refund, got %d", got)
	}
}
