package reaper

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/VghostS/backNotifications/internal/domain/enums"
	"github.com/VghostS/backNotifications/internal/domain/model"
	catalogsvc "github.com/VghostS/backNotifications/internal/services/catalog"
	ledgersvc "github.com/VghostS/backNotifications/internal/services/ledger"
)

func TestRunReapsOnlyStalePurchases(t *testing.T) {
	items, err := catalogsvc.New([]model.CatalogItem{{ID: "flask_one", UnitPrice: 1, FulfillmentPayload: "flask"}})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	ledger := ledgersvc.New(items, nil)
	ctx := context.Background()

	stalePending := mustCreate(t, ledger, 1)
	staleAwaiting := mustCreate(t, ledger, 2)
	if err := ledger.Transition(ctx, staleAwaiting, enums.PurchaseStatePending, enums.PurchaseStateAwaitingCharge); err != nil {
		t.Fatalf("transition: %v", err)
	}

	job := New(ledger, time.Hour, 30*time.Minute, nil)
	job.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	// Created "now" from the job's point of view, so it must survive.
	freshJob := New(ledger, time.Hour, 30*time.Minute, nil)
	if res, err := freshJob.Run(ctx); err != nil || res.Rejected != 0 || res.Failed != 0 {
		t.Fatalf("fresh purchases must not be reaped: res=%+v err=%v", res, err)
	}

	res, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("run reaper: %v", err)
	}
	if res.Rejected != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	assertState(t, ledger, stalePending, enums.PurchaseStateRejected)
	assertState(t, ledger, staleAwaiting, enums.PurchaseStateFailed)

	res, err = job.Run(ctx)
	if err != nil || res.Rejected != 0 || res.Failed != 0 {
		t.Fatalf("second sweep must be a no-op: res=%+v err=%v", res, err)
	}
}

func TestRunLeavesFulfilledAlone(t *testing.T) {
	items, err := catalogsvc.New([]model.CatalogItem{{ID: "flask_one", UnitPrice: 1, FulfillmentPayload: "flask"}})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	ledger := ledgersvc.New(items, nil)
	ctx := context.Background()

	id := mustCreate(t, ledger, 3)
	_ = ledger.Transition(ctx, id, enums.PurchaseStatePending, enums.PurchaseStateAwaitingCharge)
	_ = ledger.AttachCharge(ctx, id, "C1")
	_ = ledger.Transition(ctx, id, enums.PurchaseStateAwaitingCharge, enums.PurchaseStateFulfilled)

	job := New(ledger, time.Minute, time.Minute, nil)
	job.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	if _, err := job.Run(ctx); err != nil {
		t.Fatalf("run reaper: %v", err)
	}
	assertState(t, ledger, id, enums.PurchaseStateFulfilled)
}

func TestRunLogsChargeOfReapedPendingPurchase(t *testing.T) {
	items, err := catalogsvc.New([]model.CatalogItem{{ID: "flask_one", UnitPrice: 1, FulfillmentPayload: "flask"}})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	ledger := ledgersvc.New(items, nil)
	ctx := context.Background()

	charged := mustCreate(t, ledger, 4)
	if err := ledger.AttachCharge(ctx, charged, "C-early"); err != nil {
		t.Fatalf("attach charge: %v", err)
	}
	uncharged := mustCreate(t, ledger, 5)

	core, logs := observer.New(zapcore.WarnLevel)
	job := New(ledger, time.Minute, time.Minute, zap.New(core))
	job.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := job.Run(ctx); err != nil {
		t.Fatalf("run reaper: %v", err)
	}

	reaped := logs.FilterMessage("stale purchase reaped")
	if reaped.Len() != 2 {
		t.Fatalf("expected two reaped log entries, got %d", reaped.Len())
	}
	for _, entry := range reaped.All() {
		fields := entry.ContextMap()
		switch fields["purchase_id"] {
		case charged:
			if fields["charge_id"] != "C-early" || fields["manual_refund"] != true {
				t.Fatalf("charged purchase must log its charge: %v", fields)
			}
		case uncharged:
			if _, ok := fields["charge_id"]; ok {
				t.Fatalf("uncharged purchase must not log a charge: %v", fields)
			}
		default:
			t.Fatalf("unexpected log entry: %v", fields)
		}
	}
	assertState(t, ledger, charged, enums.PurchaseStateRejected)
}

func mustCreate(t *testing.T, ledger *ledgersvc.Ledger, subscriberID int64) string {
	t.Helper()
	id, err := ledger.Create(context.Background(), subscriberID, "flask_one", 1)
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	return id
}

func assertState(t *testing.T, ledger *ledgersvc.Ledger, purchaseID string, want enums.PurchaseState) {
	t.Helper()
	rec, err := ledger.Get(context.Background(), purchaseID)
	if err != nil {
		t.Fatalf("get %s: %v", purchaseID, err)
	}
	if rec.State != want {
		t.Fatalf("purchase %s: got state %s, want %s", purchaseID, rec.State, want)
	}
}
