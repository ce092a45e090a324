/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"transfer-orchestrator-go/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check: *RedisStore must satisfy OrchestratorStore.
var _ OrchestratorStore = (*RedisStore)(nil)

// Key layout. Batches and monitors expire with the configured entity TTL;
// scheduled transactions are never hard-deleted so their keys carry no TTL.
const (
	keyBatch          = "batch:%s:%s"    // user id, batch id
	keyUserBatches    = "user:%s:batches"
	keySchedule       = "schedule:%s:%s" // user id, schedule id
	keyUserSchedules  = "user:%s:schedules"
	keyDispatchQueue  = "dispatch:queue" // zset scored by due unix time
	keyMonitor        = "monitor:%s:%s"  // user id, transfer id
	keyUserMonitors   = "user:%s:monitors"
	keyMonitorsIndex  = "monitors:index" // global set of "user/transfer"
	keyMonitoringConf = "monitorcfg:%s"
	keyWebhook        = "webhook:%s:%s" // user id, subscription id
	keyUserWebhooks   = "user:%s:webhooks"
)

// RedisStore implements OrchestratorStore on a Redis instance. Values are
// JSON blobs; per-user membership uses Redis sets and the dispatch queue a
// sorted set, so no manual list-of-ids bookkeeping records exist. Updates go
// through WATCH/MULTI so a concurrent writer loses with ErrVersionConflict
// instead of silently overwriting.
type RedisStore struct {
	client    *redis.Client
	entityTTL time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg models.RedisConfig, entityTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis at %s: %w", cfg.Addr, err)
	}

	zap.L().Info("Connected to Redis state store",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Duration("entity_ttl", entityTTL))

	return &RedisStore{client: client, entityTTL: entityTTL}, nil
}

func (r *RedisStore) Close() {
	if err := r.client.Close(); err != nil {
		zap.L().Warn("Failed to close Redis client", zap.Error(err))
	}
}

// ---------- low-level helpers ----------

// createJSON stores a new value under key, failing if the key already exists,
// and adds member to the index set.
func (r *RedisStore) createJSON(ctx context.Context, key, indexKey, member string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	ok, err := r.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	if !ok {
		return ErrAlreadyExists
	}

	if indexKey != "" {
		if err := r.client.SAdd(ctx, indexKey, member).Err(); err != nil {
			return fmt.Errorf("failed to index %s: %w", key, err)
		}
		if ttl > 0 {
			// Keep the index alive at least as long as its newest member.
			r.client.Expire(ctx, indexKey, ttl)
		}
	}
	return nil
}

// getJSON loads key into out, mapping absence to ErrNotFound.
func (r *RedisStore) getJSON(ctx context.Context, key string, out interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// casUpdate replaces key with value only if the stored record still carries
// expectVersion. The stored TTL is preserved via KEEPTTL semantics: we re-set
// with the remaining TTL read inside the transaction.
func (r *RedisStore) casUpdate(ctx context.Context, key string, expectVersion int64, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	txn := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var versioned struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(cur, &versioned); err != nil {
			return fmt.Errorf("failed to unmarshal stored version: %w", err)
		}
		if versioned.Version != expectVersion {
			return ErrVersionConflict
		}

		ttl, err := tx.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl < 0 {
			ttl = 0 // no expiry on the stored key
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txn, key)
	if err == redis.TxFailedErr {
		return ErrVersionConflict
	}
	return err
}

// listMembers reads an index set. Callers prune members whose value expired.
func (r *RedisStore) listMembers(ctx context.Context, indexKey string) ([]string, error) {
	members, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", indexKey, err)
	}
	return members, nil
}

// ---------- batches ----------

func (r *RedisStore) CreateBatch(ctx context.Context, batch *models.BatchJob) error {
	batch.Version = 1
	return r.createJSON(ctx,
		fmt.Sprintf(keyBatch, batch.UserId, batch.Id),
		fmt.Sprintf(keyUserBatches, batch.UserId),
		batch.Id, batch, r.entityTTL)
}

func (r *RedisStore) UpdateBatch(ctx context.Context, batch *models.BatchJob) error {
	expect := batch.Version
	batch.Version++
	if err := r.casUpdate(ctx, fmt.Sprintf(keyBatch, batch.UserId, batch.Id), expect, batch); err != nil {
		batch.Version = expect
		return err
	}
	return nil
}

func (r *RedisStore) GetBatch(ctx context.Context, userId, batchId string) (*models.BatchJob, error) {
	var batch models.BatchJob
	if err := r.getJSON(ctx, fmt.Sprintf(keyBatch, userId, batchId), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *RedisStore) ListUserBatches(ctx context.Context, userId string) ([]models.BatchJob, error) {
	ids, err := r.listMembers(ctx, fmt.Sprintf(keyUserBatches, userId))
	if err != nil {
		return nil, err
	}

	batches := make([]models.BatchJob, 0, len(ids))
	for _, id := range ids {
		batch, err := r.GetBatch(ctx, userId, id)
		if err == ErrNotFound {
			// Value expired; drop the stale index member.
			r.client.SRem(ctx, fmt.Sprintf(keyUserBatches, userId), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, *batch)
	}

	sort.Slice(batches, func(i, j int) bool { return batches[i].CreatedAt.Before(batches[j].CreatedAt) })
	return batches, nil
}

// ---------- scheduled transactions ----------

func (r *RedisStore) CreateSchedule(ctx context.Context, sched *models.ScheduledTransaction) error {
	sched.Version = 1
	return r.createJSON(ctx,
		fmt.Sprintf(keySchedule, sched.UserId, sched.Id),
		fmt.Sprintf(keyUserSchedules, sched.UserId),
		sched.Id, sched, 0)
}

func (r *RedisStore) UpdateSchedule(ctx context.Context, sched *models.ScheduledTransaction) error {
	expect := sched.Version
	sched.Version++
	if err := r.casUpdate(ctx, fmt.Sprintf(keySchedule, sched.UserId, sched.Id), expect, sched); err != nil {
		sched.Version = expect
		return err
	}
	return nil
}

func (r *RedisStore) GetSchedule(ctx context.Context, userId, scheduleId string) (*models.ScheduledTransaction, error) {
	var sched models.ScheduledTransaction
	if err := r.getJSON(ctx, fmt.Sprintf(keySchedule, userId, scheduleId), &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (r *RedisStore) ListUserSchedules(ctx context.Context, userId string) ([]models.ScheduledTransaction, error) {
	ids, err := r.listMembers(ctx, fmt.Sprintf(keyUserSchedules, userId))
	if err != nil {
		return nil, err
	}

	scheds := make([]models.ScheduledTransaction, 0, len(ids))
	for _, id := range ids {
		sched, err := r.GetSchedule(ctx, userId, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		scheds = append(scheds, *sched)
	}

	sort.Slice(scheds, func(i, j int) bool { return scheds[i].CreatedAt.Before(scheds[j].CreatedAt) })
	return scheds, nil
}

// ---------- dispatch queue ----------

func dispatchMember(userId, scheduleId string) string {
	return userId + "/" + scheduleId
}

func (r *RedisStore) EnqueueDispatch(ctx context.Context, entry models.DispatchEntry) error {
	err := r.client.ZAdd(ctx, keyDispatchQueue, redis.Z{
		Score:  float64(entry.Due.Unix()),
		Member: dispatchMember(entry.UserId, entry.ScheduleId),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue dispatch entry: %w", err)
	}
	return nil
}

func (r *RedisStore) DueDispatches(ctx context.Context, now time.Time) ([]models.DispatchEntry, error) {
	zs, err := r.client.ZRangeByScoreWithScores(ctx, keyDispatchQueue, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dispatch queue: %w", err)
	}

	entries := make([]models.DispatchEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		parts := strings.SplitN(member, "/", 2)
		if len(parts) != 2 {
			zap.L().Warn("Malformed dispatch queue member - removing", zap.String("member", member))
			r.client.ZRem(ctx, keyDispatchQueue, member)
			continue
		}
		entries = append(entries, models.DispatchEntry{
			UserId:     parts[0],
			ScheduleId: parts[1],
			Due:        time.Unix(int64(z.Score), 0).UTC(),
		})
	}
	return entries, nil
}

func (r *RedisStore) RemoveDispatch(ctx context.Context, userId, scheduleId string) error {
	if err := r.client.ZRem(ctx, keyDispatchQueue, dispatchMember(userId, scheduleId)).Err(); err != nil {
		return fmt.Errorf("failed to remove dispatch entry: %w", err)
	}
	return nil
}

// ---------- monitored transactions ----------

func (r *RedisStore) CreateMonitor(ctx context.Context, mon *models.MonitoredTransaction) error {
	mon.Version = 1
	err := r.createJSON(ctx,
		fmt.Sprintf(keyMonitor, mon.UserId, mon.TransferId),
		fmt.Sprintf(keyUserMonitors, mon.UserId),
		mon.TransferId, mon, r.entityTTL)
	if err != nil {
		return err
	}
	return r.client.SAdd(ctx, keyMonitorsIndex, dispatchMember(mon.UserId, mon.TransferId)).Err()
}

func (r *RedisStore) UpdateMonitor(ctx context.Context, mon *models.MonitoredTransaction) error {
	expect := mon.Version
	mon.Version++
	if err := r.casUpdate(ctx, fmt.Sprintf(keyMonitor, mon.UserId, mon.TransferId), expect, mon); err != nil {
		mon.Version = expect
		return err
	}
	return nil
}

func (r *RedisStore) GetMonitor(ctx context.Context, userId, transferId string) (*models.MonitoredTransaction, error) {
	var mon models.MonitoredTransaction
	if err := r.getJSON(ctx, fmt.Sprintf(keyMonitor, userId, transferId), &mon); err != nil {
		return nil, err
	}
	return &mon, nil
}

func (r *RedisStore) ListUserMonitors(ctx context.Context, userId string) ([]models.MonitoredTransaction, error) {
	ids, err := r.listMembers(ctx, fmt.Sprintf(keyUserMonitors, userId))
	if err != nil {
		return nil, err
	}

	mons := make([]models.MonitoredTransaction, 0, len(ids))
	for _, id := range ids {
		mon, err := r.GetMonitor(ctx, userId, id)
		if err == ErrNotFound {
			r.client.SRem(ctx, fmt.Sprintf(keyUserMonitors, userId), id)
			r.client.SRem(ctx, keyMonitorsIndex, dispatchMember(userId, id))
			continue
		}
		if err != nil {
			return nil, err
		}
		mons = append(mons, *mon)
	}
	return mons, nil
}

func (r *RedisStore) ListAllMonitors(ctx context.Context) ([]models.MonitoredTransaction, error) {
	members, err := r.listMembers(ctx, keyMonitorsIndex)
	if err != nil {
		return nil, err
	}

	mons := make([]models.MonitoredTransaction, 0, len(members))
	for _, member := range members {
		parts := strings.SplitN(member, "/", 2)
		if len(parts) != 2 {
			r.client.SRem(ctx, keyMonitorsIndex, member)
			continue
		}
		mon, err := r.GetMonitor(ctx, parts[0], parts[1])
		if err == ErrNotFound {
			r.client.SRem(ctx, keyMonitorsIndex, member)
			continue
		}
		if err != nil {
			return nil, err
		}
		mons = append(mons, *mon)
	}
	return mons, nil
}

func (r *RedisStore) DeleteMonitor(ctx context.Context, userId, transferId string) error {
	n, err := r.client.Del(ctx, fmt.Sprintf(keyMonitor, userId, transferId)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete monitor record: %w", err)
	}
	r.client.SRem(ctx, fmt.Sprintf(keyUserMonitors, userId), transferId)
	r.client.SRem(ctx, keyMonitorsIndex, dispatchMember(userId, transferId))
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------- monitoring config ----------

func (r *RedisStore) GetMonitoringConfig(ctx context.Context, userId string) (*models.MonitoringConfig, error) {
	var cfg models.MonitoringConfig
	if err := r.getJSON(ctx, fmt.Sprintf(keyMonitoringConf, userId), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *RedisStore) SetMonitoringConfig(ctx context.Context, cfg *models.MonitoringConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal monitoring config: %w", err)
	}
	if err := r.client.Set(ctx, fmt.Sprintf(keyMonitoringConf, cfg.UserId), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store monitoring config: %w", err)
	}
	return nil
}

// ---------- webhook subscriptions ----------

func (r *RedisStore) AddSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.createJSON(ctx,
		fmt.Sprintf(keyWebhook, sub.UserId, sub.Id),
		fmt.Sprintf(keyUserWebhooks, sub.UserId),
		sub.Id, sub, 0)
}

func (r *RedisStore) RemoveSubscription(ctx context.Context, userId, subId string) (bool, error) {
	n, err := r.client.Del(ctx, fmt.Sprintf(keyWebhook, userId, subId)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	r.client.SRem(ctx, fmt.Sprintf(keyUserWebhooks, userId), subId)
	return n > 0, nil
}

func (r *RedisStore) ListSubscriptions(ctx context.Context, userId string) ([]models.Subscription, error) {
	ids, err := r.listMembers(ctx, fmt.Sprintf(keyUserWebhooks, userId))
	if err != nil {
		return nil, err
	}

	subs := make([]models.Subscription, 0, len(ids))
	for _, id := range ids {
		var sub models.Subscription
		err := r.getJSON(ctx, fmt.Sprintf(keyWebhook, userId, id), &sub)
		if err == ErrNotFound {
			r.client.SRem(ctx, fmt.Sprintf(keyUserWebhooks, userId), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
