package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openimaging/upsd/pkg/api"
)

// RedisStore implements both repository contracts on a redis backend.
// The compare-and-swap uses an optimistic WATCH transaction on the
// workitem key: the pipelined write commits only if no other writer
// touched the key between read and write, which makes the stored version
// check race-free
type RedisStore struct {
	client *redis.Client
	prefix string
}

var (
	_ WorkitemRepository     = (*RedisStore)(nil)
	_ SubscriptionRepository = (*RedisStore)(nil)
)

// NewRedisStore creates a store using the provided client. Keys are
// namespaced under the prefix, e.g. "upsd"
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get returns the workitem stored under the UID
func (r *RedisStore) Get(
	ctx context.Context, uid api.WorkitemUID,
) (*api.Workitem, error) {
	data, err := r.client.Get(ctx, r.workitemKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: workitem %s", ErrNotFound, uid)
	}
	if err != nil {
		return nil, err
	}
	return decodeWorkitem(data)
}

// Create stores a new workitem record
func (r *RedisStore) Create(ctx context.Context, w *api.Workitem) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.workitemKey(w.UID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: workitem %s", ErrExists, w.UID)
	}
	return r.client.SAdd(ctx, r.indexKey(), string(w.UID)).Err()
}

// CompareAndSwap replaces the stored record when its version matches
func (r *RedisStore) CompareAndSwap(
	ctx context.Context, uid api.WorkitemUID, expected int64,
	w *api.Workitem,
) error {
	key := r.workitemKey(uid)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: workitem %s", ErrNotFound, uid)
		}
		if err != nil {
			return err
		}
		cur, err := decodeWorkitem(data)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return fmt.Errorf(
				"%w: workitem %s at version %d, expected %d",
				ErrVersionConflict, uid, cur.Version, expected,
			)
		}
		payload, err := json.Marshal(w)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: workitem %s", ErrVersionConflict, uid)
	}
	return err
}

// Query returns all stored workitems
func (r *RedisStore) Query(ctx context.Context) ([]*api.Workitem, error) {
	uids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*api.Workitem, 0, len(uids))
	for _, uid := range uids {
		w, err := r.Get(ctx, api.WorkitemUID(uid))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, nil
}

// Save stores or replaces a subscription record
func (r *RedisStore) Save(ctx context.Context, s *api.Subscription) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	field := subscriptionField(s.Scope, s.AETitle)
	return r.client.HSet(ctx, r.subscriptionKey(), field, data).Err()
}

// Delete removes the subscription for the AE title and scope
func (r *RedisStore) Delete(
	ctx context.Context, scope api.WorkitemUID, ae api.AETitle,
) error {
	field := subscriptionField(scope, ae)
	removed, err := r.client.HDel(ctx, r.subscriptionKey(), field).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%w: subscription %s/%s", ErrNotFound, scope, ae)
	}
	return nil
}

// GetByAETitle returns all subscriptions held by an AE title
func (r *RedisStore) GetByAETitle(
	ctx context.Context, ae api.AETitle,
) ([]*api.Subscription, error) {
	return r.filterSubscriptions(ctx, func(s *api.Subscription) bool {
		return s.AETitle == ae
	})
}

// GetByScope returns all subscriptions targeting a scope UID
func (r *RedisStore) GetByScope(
	ctx context.Context, scope api.WorkitemUID,
) ([]*api.Subscription, error) {
	return r.filterSubscriptions(ctx, func(s *api.Subscription) bool {
		return s.Scope == scope
	})
}

// All returns every stored subscription
func (r *RedisStore) All(ctx context.Context) ([]*api.Subscription, error) {
	return r.filterSubscriptions(ctx, func(*api.Subscription) bool {
		return true
	})
}

func (r *RedisStore) filterSubscriptions(
	ctx context.Context, keep func(*api.Subscription) bool,
) ([]*api.Subscription, error) {
	fields, err := r.client.HGetAll(ctx, r.subscriptionKey()).Result()
	if err != nil {
		return nil, err
	}
	var res []*api.Subscription
	for _, data := range fields {
		var s api.Subscription
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("corrupt subscription record: %w", err)
		}
		if keep(&s) {
			res = append(res, &s)
		}
	}
	return res, nil
}

func (r *RedisStore) workitemKey(uid api.WorkitemUID) string {
	return r.prefix + ":workitem:" + string(uid)
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":workitems"
}

func (r *RedisStore) subscriptionKey() string {
	return r.prefix + ":subscriptions"
}

func subscriptionField(scope api.WorkitemUID, ae api.AETitle) string {
	return string(scope) + "|" + string(ae)
}

func decodeWorkitem(data []byte) (*api.Workitem, error) {
	var w api.Workitem
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("corrupt workitem record: %w", err)
	}
	return &w, nil
}
