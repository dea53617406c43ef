package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	invoiceMinuteWindow = time.Minute
	invoiceHourWindow   = time.Hour
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

// Limiter caps how many invoices one subscriber can request. A zero limit
// disables that window.
type Limiter struct {
	store     WindowStore
	perMinute int
	perHour   int
}

func NewLimiter(store WindowStore, perMinute, perHour int) *Limiter {
	if perMinute < 0 {
		perMinute = 0
	}
	if perHour < 0 {
		perHour = 0
	}

	return &Limiter{
		store:     store,
		perMinute: perMinute,
		perHour:   perHour,
	}
}

// AllowInvoice counts one invoice request and returns the seconds to wait
// when any window is exhausted.
func (l *Limiter) AllowInvoice(ctx context.Context, subscriberID int64) (int64, bool, error) {
	if subscriberID <= 0 {
		return 0, false, fmt.Errorf("invalid subscriber id")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)
	for _, w := range l.windows(subscriberID) {
		count, ttl, err := l.store.IncrementWindow(ctx, w.key, w.size)
		if err != nil {
			return 0, false, err
		}
		if count > int64(w.limit) {
			retryAfterSec = max(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}
	return 0, true, nil
}

func (l *Limiter) RetryAfterInvoice(ctx context.Context, subscriberID int64) (int64, error) {
	if subscriberID <= 0 {
		return 0, fmt.Errorf("invalid subscriber id")
	}
	if l.store == nil {
		return 0, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)
	for _, w := range l.windows(subscriberID) {
		count, ttl, err := l.store.WindowState(ctx, w.key)
		if err != nil {
			return 0, err
		}
		if count >= int64(w.limit) {
			retryAfterSec = max(retryAfterSec, ceilSeconds(ttl))
		}
	}
	return retryAfterSec, nil
}

type window struct {
	key   string
	size  time.Duration
	limit int
}

func (l *Limiter) windows(subscriberID int64) []window {
	id := strconv.FormatInt(subscriberID, 10)
	out := make([]window, 0, 2)
	if l.perMinute > 0 {
		out = append(out, window{key: "rate:invoice:min:" + id, size: invoiceMinuteWindow, limit: l.perMinute})
	}
	if l.perHour > 0 {
		out = append(out, window{key: "rate:invoice:hour:" + id, size: invoiceHourWindow, limit: l.perHour})
	}
	return out
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
