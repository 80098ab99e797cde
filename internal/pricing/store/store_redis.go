package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"refaccess/internal/pricing/models"
	id "refaccess/pkg/domain"
	"refaccess/pkg/platform/sentinel"
)

// unlockScript deletes the lock only when it still carries the caller's token,
// so an owner whose lock already expired cannot release a newer holder's lock.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares quotes and locks across service instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the stored quote, or sentinel.ErrCacheMiss. The returned quote
// may be stale; callers check IsFresh.
func (s *RedisStore) Get(ctx context.Context, subjectID id.SubjectID) (*models.Quote, error) {
	data, err := s.client.Get(ctx, quoteKey(subjectID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrCacheMiss
		}
		return nil, fmt.Errorf("get quote: %w", err)
	}
	return decodeQuote(data)
}

// Put upserts the quote for its subject. Last writer wins.
func (s *RedisStore) Put(ctx context.Context, quote *models.Quote) error {
	if quote == nil {
		return fmt.Errorf("quote is required")
	}
	payload, err := encodeQuote(quote)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	if err := s.client.Set(ctx, quoteKey(quote.SubjectID), payload, entryTTL(quote)).Err(); err != nil {
		return fmt.Errorf("put quote: %w", err)
	}
	return nil
}

// TryLock takes the subject's computation lock with SET NX PX. It returns
// sentinel.ErrLockHeld when another owner holds it.
func (s *RedisStore) TryLock(ctx context.Context, subjectID id.SubjectID, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(subjectID), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire quote lock: %w", err)
	}
	if !ok {
		return "", sentinel.ErrLockHeld
	}
	return token, nil
}

// Unlock releases the lock if token still owns it.
func (s *RedisStore) Unlock(ctx context.Context, subjectID id.SubjectID, token string) error {
	if err := unlockScript.Run(ctx, s.client, []string{lockKey(subjectID)}, token).Err(); err != nil {
		return fmt.Errorf("release quote lock: %w", err)
	}
	return nil
}
