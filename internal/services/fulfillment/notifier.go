package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/model"
)

var ErrQueueFull = errors.New("fulfillment retry queue is full")

type Deliverer interface {
	Deliver(ctx context.Context, delivery model.Delivery) error
}

// RetryClassifier reports whether a failed delivery may succeed on a later
// attempt. Nil treats every failure as retryable.
type RetryClassifier func(err error) bool

type Config struct {
	AttemptTimeout  time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	QueueSize       int
	Workers         int
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 3 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Notifier delivers fulfilled purchases to the game server at least once.
// The first attempt runs inline; failures move to background workers that
// retry with exponential backoff. Nothing here ever touches the ledger.
type Notifier struct {
	deliverer  Deliverer
	retryable  RetryClassifier
	logger     *zap.Logger
	cfg        Config
	queue      chan model.Delivery
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

func NewNotifier(deliverer Deliverer, retryable RetryClassifier, cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	n := &Notifier{
		deliverer: deliverer,
		retryable: retryable,
		logger:    logger,
		cfg:       cfg,
		queue:     make(chan model.Delivery, cfg.QueueSize),
		now:       time.Now,
	}
	n.newBackOff = n.exponential
	return n
}

func (n *Notifier) Notify(ctx context.Context, record model.PurchaseRecord) {
	delivery := model.Delivery{
		PurchaseID: record.PurchaseID,
		PlayerID:   record.SubscriberID,
		ItemID:     record.FulfillmentPayload,
		Amount:     record.Quantity,
		Timestamp:  n.now().UTC(),
	}

	err := n.attempt(ctx, delivery)
	if err == nil {
		n.logger.Info("fulfillment delivered",
			zap.String("purchase_id", delivery.PurchaseID),
			zap.Int64("player_id", delivery.PlayerID),
			zap.String("item_id", delivery.ItemID),
			zap.Int("amount", delivery.Amount),
		)
		return
	}
	if !n.isRetryable(err) {
		n.logFailure(delivery, 1, err)
		return
	}

	select {
	case n.queue <- delivery:
		n.logger.Warn("fulfillment queued for retry", zap.String("purchase_id", delivery.PurchaseID), zap.Error(err))
	default:
		n.logFailure(delivery, 1, fmt.Errorf("%w: %v", ErrQueueFull, err))
	}
}

// Run drains the retry queue until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < n.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (n *Notifier) Pending() int {
	return len(n.queue)
}

func (n *Notifier) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery := <-n.queue:
			n.retry(ctx, delivery)
		}
	}
}

func (n *Notifier) retry(ctx context.Context, delivery model.Delivery) {
	// The inline attempt already used one try.
	maxTries := n.cfg.MaxAttempts - 1
	if maxTries <= 0 {
		n.logFailure(delivery, 1, errors.New("no retries configured"))
		return
	}

	attempts := 1
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := n.attempt(ctx, delivery); err != nil {
			if !n.isRetryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(n.newBackOff()),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			n.logger.Debug("fulfillment retry scheduled",
				zap.String("purchase_id", delivery.PurchaseID),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		n.logFailure(delivery, attempts, err)
		return
	}

	n.logger.Info("fulfillment delivered after retry",
		zap.String("purchase_id", delivery.PurchaseID),
		zap.Int("attempts", attempts),
	)
}

func (n *Notifier) attempt(ctx context.Context, delivery model.Delivery) error {
	if n.deliverer == nil {
		return errors.New("fulfillment deliverer is not configured")
	}
	attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.AttemptTimeout)
	defer cancel()
	return n.deliverer.Deliver(attemptCtx, delivery)
}

func (n *Notifier) isRetryable(err error) bool {
	if n.retryable == nil {
		return true
	}
	return n.retryable(err)
}

func (n *Notifier) exponential() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.cfg.InitialInterval
	b.MaxInterval = n.cfg.MaxInterval
	return b
}

// The payer has been charged; the item stays owed and support picks it up
// from this line.
func (n *Notifier) logFailure(delivery model.Delivery, attempts int, err error) {
	n.logger.Error("fulfillment delivery failed",
		zap.String("purchase_id", delivery.PurchaseID),
		zap.Int64("player_id", delivery.PlayerID),
		zap.String("item_id", delivery.ItemID),
		zap.Int("amount", delivery.Amount),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}
