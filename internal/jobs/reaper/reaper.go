package reaper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/enums"
	"github.com/VghostS/backNotifications/internal/domain/model"
	ledgersvc "github.com/VghostS/backNotifications/internal/services/ledger"
)

type Ledger interface {
	ListByState(ctx context.Context, state enums.PurchaseState, cutoff time.Time) []model.PurchaseRecord
	Transition(ctx context.Context, purchaseID string, expected, next enums.PurchaseState) error
}

// Job moves purchases that no gateway callback will ever advance into
// their dead-end states.
type Job struct {
	ledger        Ledger
	pendingTTL    time.Duration
	chargeTimeout time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

type Result struct {
	Rejected int
	Failed   int
}

func New(ledger Ledger, pendingTTL, chargeTimeout time.Duration, logger *zap.Logger) *Job {
	if pendingTTL <= 0 {
		pendingTTL = time.Hour
	}
	if chargeTimeout <= 0 {
		chargeTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		ledger:        ledger,
		pendingTTL:    pendingTTL,
		chargeTimeout: chargeTimeout,
		now:           time.Now,
		logger:        logger,
	}
}

func (j *Job) Run(ctx context.Context) (Result, error) {
	var res Result
	if j.ledger == nil {
		return res, nil
	}

	now := j.now()
	var err error
	res.Rejected, err = j.sweep(ctx, enums.PurchaseStatePending, enums.PurchaseStateRejected, now.Add(-j.pendingTTL))
	if err != nil {
		return res, err
	}
	res.Failed, err = j.sweep(ctx, enums.PurchaseStateAwaitingCharge, enums.PurchaseStateFailed, now.Add(-j.chargeTimeout))
	if err != nil {
		return res, err
	}

	if res.Rejected > 0 || res.Failed > 0 {
		j.logger.Info("reaper sweep completed", zap.Int("rejected", res.Rejected), zap.Int("failed", res.Failed))
	}
	return res, nil
}

func (j *Job) sweep(ctx context.Context, from, to enums.PurchaseState, cutoff time.Time) (int, error) {
	moved := 0
	for _, rec := range j.ledger.ListByState(ctx, from, cutoff) {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		err := j.ledger.Transition(ctx, rec.PurchaseID, from, to)
		switch {
		case err == nil:
			moved++
			fields := []zap.Field{
				zap.String("purchase_id", rec.PurchaseID),
				zap.Int64("subscriber_id", rec.SubscriberID),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			}
			// A charge on a reaped record was paid for but never fulfilled;
			// operators refund it by hand.
			if rec.HasCharge() {
				fields = append(fields, zap.String("charge_id", *rec.ChargeID), zap.Bool("manual_refund", true))
			}
			j.logger.Warn("stale purchase reaped", fields...)
		case errors.Is(err, ledgersvc.ErrStateConflict):
			// A callback advanced it first.
		default:
			j.logger.Warn("reap purchase failed", zap.Error(err), zap.String("purchase_id", rec.PurchaseID))
		}
	}
	return moved, nil
}
