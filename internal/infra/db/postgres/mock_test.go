//go:build !integration

package postgres

import (
	"context"
	"strconv"
	"sync"
	"time"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
	red "puzzlepass/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerEntitlementRepo mocks the database repository the decorator wraps.
type mockInnerEntitlementRepo struct {
	FindByUserFunc func(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error)
	GrantItemFunc  func(ctx context.Context, tx repository.Tx, userID, itemID string, customerID *string) error
	finds          int
}

func (m *mockInnerEntitlementRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	m.finds++
	return m.FindByUserFunc(ctx, tx, userID)
}
func (m *mockInnerEntitlementRepo) GrantItem(ctx context.Context, tx repository.Tx, userID, itemID string, customerID *string) error {
	return m.GrantItemFunc(ctx, tx, userID, itemID, customerID)
}
func (m *mockInnerEntitlementRepo) RevokeItem(ctx context.Context, tx repository.Tx, userID, itemID string) error {
	return nil
}
func (m *mockInnerEntitlementRepo) SetSubscriber(ctx context.Context, tx repository.Tx, userID string, subscriber bool) error {
	return nil
}

// mockRedisClient mocks red.RedisClient. Unset funcs behave like an empty cache.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = (*mockRedisClient)(nil)

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", errNil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error                      { return nil }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) { return 1, nil }
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedisClient) Close() error { return nil }

// memRedis is a map backed red.RedisClient. Expirations are ignored.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

var _ red.RedisClient = (*memRedis)(nil)

func newMemRedis() *memRedis { return &memRedis{data: map[string]string{}} }

func (m *memRedis) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", errNil
	}
	return v, nil
}
func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}
func (m *memRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if _, err := m.Get(ctx, key); err == nil {
		return false, nil
	}
	return true, m.Set(ctx, key, value, expiration)
}
func (m *memRedis) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(m.data[key], 10, 64)
	n++
	m.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}
func (m *memRedis) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *memRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *memRedis) Ping(ctx context.Context) error { return nil }
func (m *memRedis) Close() error                   { return nil }
