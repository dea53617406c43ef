package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/VghostS/backNotifications/internal/domain/enums"
	"github.com/VghostS/backNotifications/internal/domain/model"
	paymentsvc "github.com/VghostS/backNotifications/internal/services/payments"
	"github.com/VghostS/backNotifications/internal/transport/http/dto"
	httperrors "github.com/VghostS/backNotifications/internal/transport/http/errors"
)

type purchaseReaderStub struct {
	records map[string]model.PurchaseRecord
}

func (s purchaseReaderStub) Get(_ context.Context, purchaseID string) (model.PurchaseRecord, error) {
	rec, ok := s.records[purchaseID]
	if !ok {
		return model.PurchaseRecord{}, paymentsvc.ErrNotFound
	}
	return rec, nil
}

func (s purchaseReaderStub) FindByCharge(_ context.Context, chargeID string) (model.PurchaseRecord, error) {
	for _, rec := range s.records {
		if rec.HasCharge() && *rec.ChargeID == chargeID {
			return rec, nil
		}
	}
	return model.PurchaseRecord{}, paymentsvc.ErrNotFound
}

type historyStub struct {
	events []model.PurchaseEvent
	err    error
}

func (s historyStub) History(context.Context, string) ([]model.PurchaseEvent, error) {
	return s.events, s.err
}

type refunderStub struct {
	result paymentsvc.RefundResult
	err    error
	got    string
}

func (s *refunderStub) Refund(_ context.Context, chargeID string) (paymentsvc.RefundResult, error) {
	s.got = chargeID
	return s.result, s.err
}

func fulfilledPurchase() model.PurchaseRecord {
	charge := "C1"
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return model.PurchaseRecord{
		PurchaseID:   "p-1",
		SubscriberID: 42,
		ItemID:       "flask_one",
		Quantity:     2,
		UnitPrice:    3,
		State:        enums.PurchaseStateFulfilled,
		ChargeID:     &charge,
		CreatedAt:    created,
		UpdatedAt:    created.Add(time.Minute),
	}
}

func newPurchaseRouter(h *PurchaseHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/purchases/{id}", h.Get)
	r.Get("/v1/purchases/{id}/history", h.History)
	r.Get("/v1/charges/{charge_id}", h.GetByCharge)
	r.Post("/v1/refunds", h.Refund)
	return r
}

func TestPurchaseGetReturnsRecord(t *testing.T) {
	rec := fulfilledPurchase()
	h := NewPurchaseHandler(purchaseReaderStub{records: map[string]model.PurchaseRecord{"p-1": rec}}, nil, nil, nil)

	rr := httptest.NewRecorder()
	newPurchaseRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/purchases/p-1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
	}
	var resp dto.PurchaseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PurchaseID != "p-1" || resp.TotalAmount != 6 || resp.State != "fulfilled" || resp.ChargeID != "C1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPurchaseLookupNotFound(t *testing.T) {
	h := NewPurchaseHandler(purchaseReaderStub{}, nil, nil, nil)
	router := newPurchaseRouter(h)

	for _, path := range []string{"/v1/purchases/missing", "/v1/charges/missing"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: unexpected status: got %d want %d", path, rr.Code, http.StatusNotFound)
		}
	}
}

func TestPurchaseGetByCharge(t *testing.T) {
	rec := fulfilledPurchase()
	h := NewPurchaseHandler(purchaseReaderStub{records: map[string]model.PurchaseRecord{"p-1": rec}}, nil, nil, nil)

	rr := httptest.NewRecorder()
	newPurchaseRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/charges/C1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
	}
}

func TestPurchaseHistory(t *testing.T) {
	charge := "C1"
	events := []model.PurchaseEvent{
		{PurchaseID: "p-1", Version: 1, Event: "created", ToState: enums.PurchaseStatePending},
		{PurchaseID: "p-1", Version: 2, Event: "charge_attached", FromState: enums.PurchaseStateAwaitingCharge, ToState: enums.PurchaseStateAwaitingCharge, ChargeID: &charge},
	}

	t.Run("disabled journal", func(t *testing.T) {
		h := NewPurchaseHandler(purchaseReaderStub{}, nil, nil, nil)
		rr := httptest.NewRecorder()
		newPurchaseRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/purchases/p-1/history", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("events", func(t *testing.T) {
		h := NewPurchaseHandler(purchaseReaderStub{}, historyStub{events: events}, nil, nil)
		rr := httptest.NewRecorder()
		newPurchaseRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/purchases/p-1/history", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
		}
		var resp dto.PurchaseHistoryResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(resp.Events) != 2 || resp.Events[1].ChargeID != "C1" {
			t.Fatalf("unexpected history: %+v", resp)
		}
	})

	t.Run("query failure", func(t *testing.T) {
		h := NewPurchaseHandler(purchaseReaderStub{}, historyStub{err: fmt.Errorf("connection reset")}, nil, nil)
		rr := httptest.NewRecorder()
		newPurchaseRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/purchases/p-1/history", nil))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusInternalServerError)
		}
	})
}

func TestRefundMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "validation", err: paymentsvc.ErrValidation, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "not found", err: paymentsvc.ErrNotFound, status: http.StatusNotFound, code: "PURCHASE_NOT_FOUND"},
		{name: "conflict", err: fmt.Errorf("%w: pending", paymentsvc.ErrStateConflict), status: http.StatusConflict, code: "NOT_REFUNDABLE"},
		{name: "gateway", err: fmt.Errorf("%w: 400", paymentsvc.ErrRefundFailed), status: http.StatusBadGateway, code: "REFUND_FAILED"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &refunderStub{err: tc.err}
			h := NewPurchaseHandler(nil, nil, stub, nil)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/refunds", bytes.NewBufferString(`{"charge_id":"C1"}`))
			newPurchaseRouter(h).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("unexpected status: got %d want %d", rr.Code, tc.status)
			}
			var apiErr httperrors.APIError
			if err := json.Unmarshal(rr.Body.Bytes(), &apiErr); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if apiErr.Code != tc.code {
				t.Fatalf("unexpected error code: got %q want %q", apiErr.Code, tc.code)
			}
		})
	}
}

func TestRefundSucceeds(t *testing.T) {
	rec := fulfilledPurchase()
	rec.State = enums.PurchaseStateRefunded
	stub := &refunderStub{result: paymentsvc.RefundResult{Record: rec}}
	h := NewPurchaseHandler(nil, nil, stub, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/refunds", bytes.NewBufferString(`{"charge_id":"C1"}`))
	newPurchaseRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
	}
	if stub.got != "C1" {
		t.Fatalf("refund called with %q", stub.got)
	}
	var resp dto.RefundResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || resp.Purchase.State != "refunded" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRefundRejectsUnknownFields(t *testing.T) {
	stub := &refunderStub{}
	h := NewPurchaseHandler(nil, nil, stub, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/refunds", bytes.NewBufferString(`{"charge_id":"C1","amount":5}`))
	newPurchaseRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
	if stub.got != "" {
		t.Fatalf("refund must not be called for an invalid body")
	}
}

func TestHealthReportsCounters(t *testing.T) {
	h := NewHealthHandler(counterStub(3), counterStub(1))

	rr := httptest.NewRecorder()
	h.Get(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp dto.HealthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || resp.Purchases != 3 || resp.PendingRetries != 1 {
		t.Fatalf("unexpected health: %+v", resp)
	}
}

type counterStub int

func (c counterStub) Count() int   { return int(c) }
func (c counterStub) Pending() int { return int(c) }
