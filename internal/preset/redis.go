package preset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the store uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisStore keeps each profile as a JSON string under <prefix>profile:<name>
// and the names in the set <prefix>profiles.
type RedisStore struct {
	client RedisClient
	prefix string
}

// NewRedisStore connects to addr.
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreWithClient(rdb, prefix)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(c RedisClient, prefix string) *RedisStore {
	return &RedisStore{client: c, prefix: prefix}
}

func (s *RedisStore) key(name string) string { return s.prefix + "profile:" + name }

func (s *RedisStore) index() string { return s.prefix + "profiles" }

// List returns the indexed profile names.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.index()).Result()
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Get reads a profile.
func (s *RedisStore) Get(ctx context.Context, name string) (Profile, error) {
	if err := ValidName(name); err != nil {
		return Profile{}, err
	}
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read preset %s: %w", name, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("decode preset %s: %w", name, err)
	}
	p.Name = name
	return p, nil
}

// Put stores a profile and indexes its name.
func (s *RedisStore) Put(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preset: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.Name), data, 0).Err(); err != nil {
		return fmt.Errorf("write preset %s: %w", p.Name, err)
	}
	if err := s.client.SAdd(ctx, s.index(), p.Name).Err(); err != nil {
		return fmt.Errorf("index preset %s: %w", p.Name, err)
	}
	return nil
}

// Delete removes a profile and its index entry.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	n, err := s.client.Del(ctx, s.key(name)).Result()
	if err != nil {
		return fmt.Errorf("delete preset %s: %w", name, err)
	}
	if err := s.client.SRem(ctx, s.index(), name).Err(); err != nil {
		return fmt.Errorf("unindex preset %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Close releases the client if it owns a connection pool.
func (s *RedisStore) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
