package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/enums"
	"github.com/VghostS/backNotifications/internal/domain/model"
	catalogsvc "github.com/VghostS/backNotifications/internal/services/catalog"
)

var (
	ErrUnknownItem       = catalogsvc.ErrUnknownItem
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("purchase not found")
	ErrStateConflict     = errors.New("purchase state conflict")
	ErrInvalidTransition = errors.New("invalid purchase state transition")
	ErrDuplicateCharge   = errors.New("charge id already attached")
)

type ItemResolver interface {
	Get(itemID string) (model.CatalogItem, error)
}

// Journal receives every accepted mutation. It is an audit trail only;
// the in-memory ledger stays authoritative when an append fails.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
}

type JournalEntry struct {
	Event     string
	Version   int64
	From      enums.PurchaseState
	To        enums.PurchaseState
	Record    model.PurchaseRecord
	Timestamp time.Time
}

const (
	EventCreated        = "created"
	EventTransitioned   = "transitioned"
	EventChargeAttached = "charge_attached"
)

type entry struct {
	mu      sync.Mutex
	version int64
	rec     model.PurchaseRecord
}

// Ledger owns every PurchaseRecord. Each record carries its own lock so
// operations on different purchases never serialize on each other; the
// maps are guarded separately and only held for lookups and inserts.
// journalTimeout bounds one audit append so a stalled database never holds
// up a payment callback.
const journalTimeout = 2 * time.Second

type Ledger struct {
	items          ItemResolver
	journal        Journal
	journalTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
	newID          func() string

	mu      sync.RWMutex
	records map[string]*entry

	chargeMu sync.Mutex
	charges  map[string]string
}

func New(items ItemResolver, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ledger{
		items:          items,
		journalTimeout: journalTimeout,
		logger:         logger,
		now:            time.Now,
		newID:          uuid.NewString,
		records:        make(map[string]*entry),
		charges:        make(map[string]string),
	}
}

func (l *Ledger) AttachJournal(journal Journal) {
	l.journal = journal
}

func (l *Ledger) Create(ctx context.Context, subscriberID int64, itemID string, quantity int) (string, error) {
	if subscriberID <= 0 || quantity <= 0 {
		return "", ErrValidation
	}
	if l.items == nil {
		return "", fmt.Errorf("item resolver is nil")
	}

	item, err := l.items.Get(itemID)
	if err != nil {
		if errors.Is(err, ErrUnknownItem) {
			return "", ErrUnknownItem
		}
		return "", fmt.Errorf("resolve catalog item: %w", err)
	}

	now := l.now().UTC()
	e := &entry{
		version: 1,
		rec: model.PurchaseRecord{
			SubscriberID:       subscriberID,
			ItemID:             item.ID,
			Quantity:           quantity,
			UnitPrice:          item.UnitPrice,
			FulfillmentPayload: item.FulfillmentPayload,
			State:              enums.PurchaseStatePending,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
	}

	l.mu.Lock()
	purchaseID := l.newID()
	for {
		if _, taken := l.records[purchaseID]; !taken && purchaseID != "" {
			break
		}
		purchaseID = l.newID()
	}
	e.rec.PurchaseID = purchaseID
	l.records[purchaseID] = e
	snapshot := cloneRecord(e.rec)
	l.mu.Unlock()

	l.appendJournal(ctx, JournalEntry{
		Event:     EventCreated,
		Version:   1,
		To:        enums.PurchaseStatePending,
		Record:    snapshot,
		Timestamp: now,
	})

	return purchaseID, nil
}

func (l *Ledger) Get(_ context.Context, purchaseID string) (model.PurchaseRecord, error) {
	e, ok := l.lookup(purchaseID)
	if !ok {
		return model.PurchaseRecord{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecord(e.rec), nil
}

// Transition is a compare-and-swap on the record state.
func (l *Ledger) Transition(ctx context.Context, purchaseID string, expected, next enums.PurchaseState) error {
	if !expected.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}

	e, ok := l.lookup(purchaseID)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	if e.rec.State != expected {
		current := e.rec.State
		e.mu.Unlock()
		return fmt.Errorf("%w: purchase %s is %s, expected %s", ErrStateConflict, purchaseID, current, expected)
	}
	now := l.now().UTC()
	e.rec.State = next
	e.rec.UpdatedAt = now
	e.version++
	version := e.version
	snapshot := cloneRecord(e.rec)
	e.mu.Unlock()

	l.appendJournal(ctx, JournalEntry{
		Event:     EventTransitioned,
		Version:   version,
		From:      expected,
		To:        next,
		Record:    snapshot,
		Timestamp: now,
	})

	return nil
}

// AttachCharge binds a gateway charge id to a purchase. A charge id is
// accepted exactly once across the whole ledger; any repeat, including a
// redelivery for the same purchase, yields ErrDuplicateCharge and leaves
// every record untouched.
func (l *Ledger) AttachCharge(ctx context.Context, purchaseID, chargeID string) error {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return ErrValidation
	}

	e, ok := l.lookup(purchaseID)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	if e.rec.State.Sealed() {
		state := e.rec.State
		e.mu.Unlock()
		return fmt.Errorf("%w: purchase %s is %s", ErrStateConflict, purchaseID, state)
	}

	l.chargeMu.Lock()
	if owner, taken := l.charges[chargeID]; taken {
		l.chargeMu.Unlock()
		e.mu.Unlock()
		return fmt.Errorf("%w: %s belongs to purchase %s", ErrDuplicateCharge, chargeID, owner)
	}
	if e.rec.HasCharge() {
		l.chargeMu.Unlock()
		e.mu.Unlock()
		return fmt.Errorf("%w: purchase %s already carries a different charge", ErrStateConflict, purchaseID)
	}
	l.charges[chargeID] = purchaseID
	l.chargeMu.Unlock()

	now := l.now().UTC()
	e.rec.ChargeID = &chargeID
	e.rec.UpdatedAt = now
	e.version++
	version := e.version
	state := e.rec.State
	snapshot := cloneRecord(e.rec)
	e.mu.Unlock()

	l.appendJournal(ctx, JournalEntry{
		Event:     EventChargeAttached,
		Version:   version,
		From:      state,
		To:        state,
		Record:    snapshot,
		Timestamp: now,
	})

	return nil
}

func (l *Ledger) FindByCharge(ctx context.Context, chargeID string) (model.PurchaseRecord, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return model.PurchaseRecord{}, ErrValidation
	}

	l.chargeMu.Lock()
	purchaseID, ok := l.charges[chargeID]
	l.chargeMu.Unlock()
	if !ok {
		return model.PurchaseRecord{}, ErrNotFound
	}

	return l.Get(ctx, purchaseID)
}

// ListByState returns records in state that have not changed since cutoff,
// oldest first.
func (l *Ledger) ListByState(_ context.Context, state enums.PurchaseState, cutoff time.Time) []model.PurchaseRecord {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.records))
	for _, e := range l.records {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]model.PurchaseRecord, 0)
	for _, e := range entries {
		e.mu.Lock()
		if e.rec.State == state && e.rec.UpdatedAt.Before(cutoff) {
			out = append(out, cloneRecord(e.rec))
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Ledger) lookup(purchaseID string) (*entry, bool) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return nil, false
	}

	l.mu.RLock()
	e, ok := l.records[purchaseID]
	l.mu.RUnlock()
	return e, ok
}

func (l *Ledger) appendJournal(ctx context.Context, je JournalEntry) {
	if l.journal == nil {
		return
	}
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.journalTimeout)
	defer cancel()
	if err := l.journal.Append(appendCtx, je); err != nil {
		l.logger.Warn("purchase journal append failed",
			zap.Error(err),
			zap.String("purchase_id", je.Record.PurchaseID),
			zap.String("event", je.Event),
			zap.Int64("version", je.Version),
		)
	}
}

func cloneRecord(rec model.PurchaseRecord) model.PurchaseRecord {
	if rec.ChargeID != nil {
		chargeID := *rec.ChargeID
		rec.ChargeID = &chargeID
	}
	return rec
}
