package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/VghostS/backNotifications/internal/domain/model"
)

const (
	subscribersSetKey = "subscribers"
	subscriberPrefix  = "subscriber:"
)

type SubscriberRepo struct {
	client *goredis.Client
}

func NewSubscriberRepo(client *goredis.Client) *SubscriberRepo {
	return &SubscriberRepo{client: client}
}

// Add stores the subscriber unless it is already present. An existing
// entry keeps its original join time.
func (r *SubscriberRepo) Add(ctx context.Context, sub model.Subscriber) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if sub.ID <= 0 {
		return false, fmt.Errorf("invalid subscriber id")
	}

	added, err := r.client.SAdd(ctx, subscribersSetKey, sub.ID).Result()
	if err != nil {
		return false, fmt.Errorf("add subscriber id: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	if err := r.client.HSet(ctx, subscriberKey(sub.ID), map[string]interface{}{
		"username":  sub.Username,
		"joined_at": sub.JoinedAt.UTC().Unix(),
	}).Err(); err != nil {
		return false, fmt.Errorf("store subscriber: %w", err)
	}
	return true, nil
}

func (r *SubscriberRepo) Remove(ctx context.Context, subscriberID int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	var removed *goredis.IntCmd
	if _, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.SRem(ctx, subscribersSetKey, subscriberID)
		pipe.Del(ctx, subscriberKey(subscriberID))
		return nil
	}); err != nil {
		return false, fmt.Errorf("remove subscriber: %w", err)
	}
	return removed.Val() > 0, nil
}

func (r *SubscriberRepo) IsSubscribed(ctx context.Context, subscriberID int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SIsMember(ctx, subscribersSetKey, subscriberID).Result()
	if err != nil {
		return false, fmt.Errorf("check subscriber: %w", err)
	}
	return ok, nil
}

// List returns every subscriber ordered by id.
func (r *SubscriberRepo) List(ctx context.Context) ([]model.Subscriber, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	members, err := r.client.SMembers(ctx, subscribersSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list subscriber ids: %w", err)
	}
	if len(members) == 0 {
		return []model.Subscriber{}, nil
	}

	ids := make([]int64, 0, len(members))
	for _, raw := range members {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	if _, err := r.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, subscriberKey(id))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}

	out := make([]model.Subscriber, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		sub := model.Subscriber{ID: id, Username: fields["username"]}
		if ts, err := strconv.ParseInt(fields["joined_at"], 10, 64); err == nil {
			sub.JoinedAt = time.Unix(ts, 0).UTC()
		}
		out = append(out, sub)
	}
	return out, nil
}

func (r *SubscriberRepo) Count(ctx context.Context) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.SCard(ctx, subscribersSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}

func subscriberKey(subscriberID int64) string {
	return subscriberPrefix + strconv.FormatInt(subscriberID, 10)
}
