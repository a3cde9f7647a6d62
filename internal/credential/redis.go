package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "speechkit:credential"

// RedisStore shares the credential between bot instances. The key expires
// together with the token.
type RedisStore struct {
	client goredis.Cmdable
	key    string
	now    func() time.Time
}

func NewRedisStore(client goredis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, now: time.Now}
}

func (s *RedisStore) Load(ctx context.Context) (*Credential, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("credential: redis get: %w", err)
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("credential: redis parse: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, c Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	ttl := c.Expiry().Sub(s.now())
	if ttl <= 0 {
		// already expired, store without expiry so the next Load refreshes
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("credential: redis set: %w", err)
	}
	return nil
}
