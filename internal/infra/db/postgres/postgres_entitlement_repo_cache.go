package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/metrics"
	red "puzzlepass/internal/infra/redis"
)

var (
	_ repository.EntitlementRepository  = (*entitlementRepoCacheDecorator)(nil)
	_ repository.EntitlementInvalidator = (*entitlementRepoCacheDecorator)(nil)
)

// entitlementRepoCacheDecorator caches reads made outside a transaction.
// Entries are keyed by a per-user generation that InvalidateUser bumps after
// each committed write. A reader that loaded pre-write state fills the old
// generation, which nobody reads again.
type entitlementRepoCacheDecorator struct {
	inner repository.EntitlementRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

// generationTTL outlives any entry so a lapsed counter cannot revive one.
const generationTTL = 24 * time.Hour

func NewEntitlementRepoCacheDecorator(inner repository.EntitlementRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) *entitlementRepoCacheDecorator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &entitlementRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func generationKey(userID string) string { return "entitlement:gen:" + userID }

func entitlementKey(userID, gen string) string { return "entitlement:" + userID + ":" + gen }

func (d *entitlementRepoCacheDecorator) generation(ctx context.Context, userID string) (string, error) {
	gen, err := d.cache.Get(ctx, generationKey(userID))
	if red.IsNil(err) {
		return "0", nil
	}
	return gen, err
}

func (d *entitlementRepoCacheDecorator) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	if tx != nil {
		return d.inner.FindByUser(ctx, tx, userID)
	}
	gen, err := d.generation(ctx, userID)
	if err != nil {
		logging.With(ctx, d.log).Warn().Err(err).Msg("entitlement cache generation read failed")
		metrics.IncCacheRequest("entitlement", "bypass")
		return d.inner.FindByUser(ctx, nil, userID)
	}
	key := entitlementKey(userID, gen)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var ent model.Entitlement
		if json.Unmarshal([]byte(val), &ent) == nil {
			metrics.IncCacheRequest("entitlement", "hit")
			return &ent, nil
		}
	} else if !red.IsNil(err) {
		logging.With(ctx, d.log).Warn().Err(err).Msg("entitlement cache read failed")
	}

	metrics.IncCacheRequest("entitlement", "miss")
	ent, err := d.inner.FindByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(ent); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return ent, nil
}

func (d *entitlementRepoCacheDecorator) GrantItem(ctx context.Context, tx repository.Tx, userID, itemID string, customerID *string) error {
	return d.inner.GrantItem(ctx, tx, userID, itemID, customerID)
}

func (d *entitlementRepoCacheDecorator) RevokeItem(ctx context.Context, tx repository.Tx, userID, itemID string) error {
	return d.inner.RevokeItem(ctx, tx, userID, itemID)
}

func (d *entitlementRepoCacheDecorator) SetSubscriber(ctx context.Context, tx repository.Tx, userID string, subscriber bool) error {
	return d.inner.SetSubscriber(ctx, tx, userID, subscriber)
}

func (d *entitlementRepoCacheDecorator) InvalidateUser(ctx context.Context, userID string) {
	l := logging.With(ctx, d.log)
	gen, err := d.cache.Incr(ctx, generationKey(userID))
	if err != nil {
		l.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache invalidation failed")
		return
	}
	if err := d.cache.Expire(ctx, generationKey(userID), generationTTL); err != nil {
		l.Warn().Err(err).Str("user_id", userID).Msg("entitlement cache generation expiry failed")
	}
	_ = d.cache.Del(ctx, entitlementKey(userID, strconv.FormatInt(gen-1, 10)))
}
