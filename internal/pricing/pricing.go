/**
 * @description
 * Admin-set selling prices for VAS products. The user-facing selling price
 * may differ from the provider's retail price; the difference is platform
 * revenue. Overrides live in the kv_store table keyed by (network, plan id)
 * and are read on every purchase, so lookups go through a short-TTL redis
 * cache. Absence of an override means "charge provider retail".
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: cache-through reads.
 * - internal/store: durable override storage (kv_store table).
 */
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
)

const cacheTTL = 30 * time.Second

// Service resolves VAS selling prices.
type Service struct {
	repo   store.Repository
	rdb    *redis.Client
	logger *slog.Logger
}

// NewService creates a pricing service. rdb may be nil; reads then hit the
// store directly.
func NewService(repo store.Repository, rdb *redis.Client, logger *slog.Logger) *Service {
	return &Service{repo: repo, rdb: rdb, logger: logger}
}

func overrideKey(network, planID string) string {
	return fmt.Sprintf("price:%s:%s", network, planID)
}

// SellingPrice returns the user-facing price for a plan, falling back to the
// provider retail price when no override is set.
func (s *Service) SellingPrice(ctx context.Context, network, planID string, retail int64) (int64, error) {
	key := overrideKey(network, planID)

	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, key).Result()
		if err == nil {
			if price, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
				return price, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("price cache read failed", "key", key, "error", err)
		}
	}

	raw, ok, err := s.repo.GetKV(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read price override: %w", err)
	}
	price := retail
	if ok {
		price, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Error("corrupt price override, using retail", "key", key, "value", raw)
			price = retail
		}
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, strconv.FormatInt(price, 10), cacheTTL).Err(); err != nil {
			s.logger.Warn("price cache write failed", "key", key, "error", err)
		}
	}
	return price, nil
}

// SetOverride stores an admin price override and invalidates the cache entry.
func (s *Service) SetOverride(ctx context.Context, network, planID string, price int64) error {
	if price <= 0 {
		return fmt.Errorf("override price must be positive")
	}
	key := overrideKey(network, planID)
	if err := s.repo.SetKV(ctx, key, strconv.FormatInt(price, 10)); err != nil {
		return fmt.Errorf("failed to store price override: %w", err)
	}
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("price cache invalidation failed", "key", key, "error", err)
		}
	}
	return nil
}
