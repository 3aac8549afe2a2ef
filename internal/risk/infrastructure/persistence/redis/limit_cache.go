package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/cache"
	"github.com/wyfcoding/riskengine/pkg/logger"
)

const (
	keyPrefix     = "risk:"
	generationKey = keyPrefix + "limits:gen"
)

// CachedLimitRepository 在限额仓储外加一层适用限额缓存
// 任意限额变更使代数自增，旧代数的缓存自然失效；Redis 异常时直接回源
type CachedLimitRepository struct {
	domain.RiskLimitRepository
	cache *cache.RedisCache
	ttl   time.Duration
}

// NewCachedLimitRepository 创建带缓存的限额仓储
func NewCachedLimitRepository(next domain.RiskLimitRepository, c *cache.RedisCache, ttl time.Duration) *CachedLimitRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedLimitRepository{RiskLimitRepository: next, cache: c, ttl: ttl}
}

func (r *CachedLimitRepository) ApplicableLimits(ctx context.Context, accountCode, symbol string) ([]*domain.RiskLimit, error) {
	gen, err := r.cache.GetInt64(ctx, generationKey)
	if err != nil {
		logger.Warn(ctx, "limit cache unavailable, reading from store", "error", err)
		return r.RiskLimitRepository.ApplicableLimits(ctx, accountCode, symbol)
	}
	key := fmt.Sprintf("%sapplicable:%d:%s:%s", keyPrefix, gen, accountCode, symbol)

	var limits []*domain.RiskLimit
	err = r.cache.GetJSON(ctx, key, &limits)
	if err == nil {
		return limits, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		logger.Warn(ctx, "limit cache read failed", "key", key, "error", err)
	}

	limits, err = r.RiskLimitRepository.ApplicableLimits(ctx, accountCode, symbol)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, key, limits, r.ttl); err != nil {
		logger.Warn(ctx, "limit cache write failed", "key", key, "error", err)
	}
	return limits, nil
}

func (r *CachedLimitRepository) Create(ctx context.Context, limit *domain.RiskLimit) error {
	if err := r.RiskLimitRepository.Create(ctx, limit); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedLimitRepository) Update(ctx context.Context, limit *domain.RiskLimit) error {
	if err := r.RiskLimitRepository.Update(ctx, limit); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedLimitRepository) invalidate(ctx context.Context) {
	if _, err := r.cache.Incr(ctx, generationKey); err != nil {
		logger.Error(ctx, "failed to invalidate limit cache", "error", err)
	}
}
