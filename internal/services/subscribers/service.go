package subscribers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VghostS/backNotifications/internal/domain/model"
)

var ErrInvalidInput = errors.New("invalid subscriber input")

type Store interface {
	Add(ctx context.Context, sub model.Subscriber) (bool, error)
	Remove(ctx context.Context, subscriberID int64) (bool, error)
	List(ctx context.Context) ([]model.Subscriber, error)
}

type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe reports false when the user was already subscribed.
func (s *Service) Subscribe(ctx context.Context, subscriberID int64, username string) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("subscriber store is nil")
	}
	if subscriberID <= 0 {
		return false, ErrInvalidInput
	}

	added, err := s.store.Add(ctx, model.Subscriber{
		ID:       subscriberID,
		Username: strings.TrimSpace(username),
		JoinedAt: s.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	if added {
		s.logger.Info("subscriber added", zap.Int64("subscriber_id", subscriberID))
	}
	return added, nil
}

func (s *Service) Unsubscribe(ctx context.Context, subscriberID int64) (bool, error) {
	if s.store == nil {
		return false, fmt.Errorf("subscriber store is nil")
	}
	if subscriberID <= 0 {
		return false, ErrInvalidInput
	}

	removed, err := s.store.Remove(ctx, subscriberID)
	if err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	if removed {
		s.logger.Info("subscriber removed", zap.Int64("subscriber_id", subscriberID))
	}
	return removed, nil
}

func (s *Service) List(ctx context.Context) ([]model.Subscriber, error) {
	if s.store == nil {
		return nil, fmt.Errorf("subscriber store is nil")
	}
	subs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return subs, nil
}
