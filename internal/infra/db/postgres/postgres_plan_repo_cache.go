package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"immo-subscriptions/internal/domain/model"
	"immo-subscriptions/internal/domain/ports/repository"
	"immo-subscriptions/internal/infra/metrics"
	red "immo-subscriptions/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

const planListKey = "plans:all"

type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.PlanRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "PlanCache").Logger()
	return &planRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   &l,
	}
}

func planKey(id string) string { return fmt.Sprintf("plan:%s", id) }

// FindByID serves prices from the cache except inside a transaction, where
// the ledger needs the row as Postgres sees it.
func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := planKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var plan model.Plan
		if json.Unmarshal([]byte(val), &plan) == nil {
			metrics.IncCacheRequest("plan", "hit")
			return &plan, nil
		}
	} else if !errors.Is(err, red.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("plan cache read failed")
	}

	metrics.IncCacheRequest("plan", "miss")
	plan, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		bytes, _ := json.Marshal(plan)
		if err := d.cache.Set(ctx, key, bytes, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("plan cache write failed")
		}
	}
	return plan, nil
}

// For write operations, we must invalidate the cache.
func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	if err := d.inner.Save(ctx, tx, plan); err != nil {
		return err
	}
	d.invalidate(ctx, planKey(plan.ID), planListKey)
	return nil
}

func (d *planRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id string) error {
	if err := d.inner.Delete(ctx, tx, id); err != nil {
		return err
	}
	d.invalidate(ctx, planKey(id), planListKey)
	return nil
}

// Also cache the full list of plans
func (d *planRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	val, err := d.cache.Get(ctx, planListKey)
	if err == nil {
		var plans []*model.Plan
		if json.Unmarshal([]byte(val), &plans) == nil {
			metrics.IncCacheRequest("plan_list", "hit")
			return plans, nil
		}
	}

	metrics.IncCacheRequest("plan_list", "miss")
	plans, err := d.inner.ListAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		bytes, _ := json.Marshal(plans)
		if err := d.cache.Set(ctx, planListKey, bytes, d.ttl); err != nil {
			d.log.Warn().Err(err).Msg("plan list cache write failed")
		}
	}
	return plans, nil
}

func (d *planRepoCacheDecorator) invalidate(ctx context.Context, keys ...string) {
	if err := d.cache.Del(ctx, keys...); err != nil {
		d.log.Warn().Err(err).Strs("keys", keys).Msg("plan cache invalidation failed")
	}
}
