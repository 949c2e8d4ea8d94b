package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseLua deletes the lease only when it still holds our token.
var releaseLua = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLease struct {
	client redis.UniversalClient
	prefix string
	cfg    Config
}

// NewRedis returns a Group that also takes a per-user lease in Redis
// (SET NX PX) so that only one instance rotates a user at a time.
func NewRedis(client redis.UniversalClient, prefix string, cfg Config) (*Group, error) {
	if client == nil {
		return nil, errors.New("lock: redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "gs:lock"
	}
	g := NewLocal(cfg)
	g.lease = &redisLease{client: client, prefix: prefix + ":", cfg: g.cfg}
	return g, nil
}

func (l *redisLease) acquire(ctx context.Context, userID string) (func(), error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, err
	}
	token := hex.EncodeToString(raw[:])
	key := l.prefix + userID

	deadline := time.NewTimer(l.cfg.AcquireTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.LeaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return nil, ErrLockTimeout
		case <-ctx.Done():
			return nil, ErrLockTimeout
		}
	}

	return func() {
		// The operation context may already be done; release on a short
		// context of its own.
		rctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseLua.Run(rctx, l.client, []string{key}, token).Err()
	}, nil
}
