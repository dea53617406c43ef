package broadcast

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/model"
)

type SubscriberLister interface {
	List(ctx context.Context) ([]model.Subscriber, error)
}

type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Job periodically sends one random friendly message to every subscriber.
// Each round is scheduled after a random delay within [minDelay, maxDelay].
type Job struct {
	subscribers SubscriberLister
	sender      Sender
	messages    []string
	minDelay    time.Duration
	maxDelay    time.Duration
	logger      *zap.Logger
	intn        func(n int64) int64
}

type Result struct {
	Sent   int
	Failed int
}

func New(subscribers SubscriberLister, sender Sender, messages []string, minDelay, maxDelay time.Duration, logger *zap.Logger) *Job {
	if minDelay <= 0 {
		minDelay = time.Hour
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		subscribers: subscribers,
		sender:      sender,
		messages:    append([]string(nil), messages...),
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		logger:      logger,
		intn:        rand.Int64N,
	}
}

func (j *Job) Run(ctx context.Context) error {
	timer := time.NewTimer(j.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if _, err := j.Broadcast(ctx); err != nil {
				j.logger.Warn("broadcast round failed", zap.Error(err))
			}
			timer.Reset(j.nextDelay())
		}
	}
}

// Broadcast sends one round. Failures for single recipients are logged and
// skipped.
func (j *Job) Broadcast(ctx context.Context) (Result, error) {
	var res Result
	if j.subscribers == nil || j.sender == nil || len(j.messages) == 0 {
		return res, nil
	}

	subs, err := j.subscribers.List(ctx)
	if err != nil {
		return res, err
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		text := j.messages[j.intn(int64(len(j.messages)))]
		if err := j.sender.SendText(ctx, sub.ID, text); err != nil {
			res.Failed++
			j.logger.Warn("broadcast send failed", zap.Error(err), zap.Int64("subscriber_id", sub.ID))
			continue
		}
		res.Sent++
	}

	j.logger.Info("broadcast round completed", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}

func (j *Job) nextDelay() time.Duration {
	spread := j.maxDelay - j.minDelay
	if spread <= 0 {
		return j.minDelay
	}
	return j.minDelay + time.Duration(j.intn(int64(spread)+1))
}
