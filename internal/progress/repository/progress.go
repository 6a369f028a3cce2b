package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"judgebox/internal/common/cache"
	"judgebox/internal/progress/model"
	appErr "judgebox/pkg/errors"
)

const (
	progressKeyPrefix = "progress:"
	historyKeyPrefix  = "progress:history:"
	indexKeyPrefix    = "progress:index:"
	lockKeyPrefix     = "progress:lock:"

	defaultHistoryLimit = 20
	defaultLockTTL      = 5 * time.Second
	defaultLockWait     = 2 * time.Second
	lockRetryInterval   = 20 * time.Millisecond
)

// ProgressRepository persists progress records and submission history.
type ProgressRepository interface {
	// Get returns a NotStarted record when none is stored.
	Get(ctx context.Context, userID, problemID string) (*model.Progress, error)

	// Update loads the record, applies fn and saves it under a per-record lock.
	Update(ctx context.Context, userID, problemID string, fn func(p *model.Progress) error) (*model.Progress, error)

	AppendAttempt(ctx context.Context, userID, problemID string, attempt model.Attempt) error
	ListAttempts(ctx context.Context, userID, problemID string) ([]model.Attempt, error)
	ListProblems(ctx context.Context, userID string) ([]string, error)
}

// RedisProgressRepository stores one JSON document per record.
type RedisProgressRepository struct {
	cache        cache.Cache
	historyLimit int
	lockTTL      time.Duration
	lockWait     time.Duration
}

func NewRedisProgressRepository(cacheClient cache.Cache, historyLimit int) *RedisProgressRepository {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &RedisProgressRepository{
		cache:        cacheClient,
		historyLimit: historyLimit,
		lockTTL:      defaultLockTTL,
		lockWait:     defaultLockWait,
	}
}

func (r *RedisProgressRepository) Get(ctx context.Context, userID, problemID string) (*model.Progress, error) {
	raw, err := r.cache.Get(ctx, progressKey(userID, problemID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load progress: %v", err)
	}
	if raw == "" {
		return model.New(userID, problemID), nil
	}
	var p model.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode progress: %v", err)
	}
	return &p, nil
}

func (r *RedisProgressRepository) Update(ctx context.Context, userID, problemID string, fn func(p *model.Progress) error) (*model.Progress, error) {
	lockKey := lockKeyPrefix + userID + ":" + problemID
	token, err := r.acquire(ctx, lockKey)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.cache.Unlock(context.WithoutCancel(ctx), lockKey, token)
	}()

	p, err := r.Get(ctx, userID, problemID)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "encode progress: %v", err)
	}
	if err := r.cache.Set(ctx, progressKey(userID, problemID), payload, 0); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "save progress: %v", err)
	}
	if err := r.cache.SAdd(ctx, indexKeyPrefix+userID, problemID); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "index progress: %v", err)
	}
	return p, nil
}

func (r *RedisProgressRepository) AppendAttempt(ctx context.Context, userID, problemID string, attempt model.Attempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode attempt: %v", err)
	}
	key := historyKey(userID, problemID)
	if err := r.cache.LPush(ctx, key, payload); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "append attempt: %v", err)
	}
	if err := r.cache.LTrim(ctx, key, 0, int64(r.historyLimit-1)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "trim attempts: %v", err)
	}
	return nil
}

// ListAttempts returns the newest attempt first.
func (r *RedisProgressRepository) ListAttempts(ctx context.Context, userID, problemID string) ([]model.Attempt, error) {
	items, err := r.cache.LRange(ctx, historyKey(userID, problemID), 0, int64(r.historyLimit-1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "list attempts: %v", err)
	}
	attempts := make([]model.Attempt, 0, len(items))
	for _, item := range items {
		var a model.Attempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func (r *RedisProgressRepository) ListProblems(ctx context.Context, userID string) ([]string, error) {
	ids, err := r.cache.SMembers(ctx, indexKeyPrefix+userID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "list progress index: %v", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisProgressRepository) acquire(ctx context.Context, key string) (string, error) {
	deadline := time.Now().Add(r.lockWait)
	for {
		token, err := r.cache.TryLock(ctx, key, r.lockTTL)
		if err != nil {
			return "", appErr.Wrapf(err, appErr.CacheError, "lock progress: %v", err)
		}
		if token != "" {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", appErr.New(appErr.TooManyRequests).WithMessage("progress record is busy")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func progressKey(userID, problemID string) string {
	return fmt.Sprintf("%s%s:%s", progressKeyPrefix, userID, problemID)
}

func historyKey(userID, problemID string) string {
	return fmt.Sprintf("%s%s:%s", historyKeyPrefix, userID, problemID)
}
