package redisclient

import (
	"context"
	"errors"
	"fmt"

	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrMutexNotAcquired = errors.New("practitioner mutex not acquired")
)

// PractitionerMutex serializes slot-lock acquisition per practitioner.
// It is a short-lived guard around the check-then-insert of a slot lock,
// not the negotiation hold itself.
type PractitionerMutex interface {
	WithPractitioner(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisPractitionerMutex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPractitionerMutex creates a mutex that uses a per-practitioner Redis key.
func NewPractitionerMutex(client *redis.Client, ttl time.Duration) PractitionerMutex {
	return &redisPractitionerMutex{
		client: client,
		ttl:    ttl,
	}
}

func (m *redisPractitionerMutex) WithPractitioner(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("mutex:practitioner:%s", practitionerID.String())
	token := uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire practitioner mutex: %w", err)
	}
	if !ok {
		return ErrMutexNotAcquired
	}

	defer func() {
		_ = m.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, m.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (m *redisPractitionerMutex) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, m.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release practitioner mutex: %w", err)
	}
	return nil
}
