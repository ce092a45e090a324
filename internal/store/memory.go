package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"transfer-orchestrator-go/internal/models"
)

// Compile-time check: *MemoryStore must satisfy OrchestratorStore.
var _ OrchestratorStore = (*MemoryStore)(nil)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process OrchestratorStore with the same TTL and
// compare-and-set semantics as the Redis backend. Used by tests and local
// development; values round-trip through JSON so callers never share
// references with the store.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	indices   map[string]map[string]bool
	queue     map[string]time.Time // dispatch member -> due time
	entityTTL time.Duration
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(entityTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]memoryEntry),
		indices:   make(map[string]map[string]bool),
		queue:     make(map[string]time.Time),
		entityTTL: entityTTL,
		now:       time.Now,
	}
}

// SetClock overrides the store's notion of now, for TTL tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Close() {}

// ---------- low-level helpers (callers hold m.mu) ----------

func (m *MemoryStore) getEntry(key string) ([]byte, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return entry.data, true
}

func (m *MemoryStore) putEntry(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

func (m *MemoryStore) create(key, indexKey, member string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.getEntry(key); ok {
		return ErrAlreadyExists
	}
	if err := m.putEntry(key, value, ttl); err != nil {
		return err
	}
	if indexKey != "" {
		if m.indices[indexKey] == nil {
			m.indices[indexKey] = make(map[string]bool)
		}
		m.indices[indexKey][member] = true
	}
	return nil
}

func (m *MemoryStore) get(key string, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.getEntry(key)
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, out)
}

func (m *MemoryStore) casUpdate(key string, expectVersion int64, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.getEntry(key)
	if !ok {
		return ErrNotFound
	}

	var versioned struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &versioned); err != nil {
		return fmt.Errorf("failed to unmarshal stored version: %w", err)
	}
	if versioned.Version != expectVersion {
		return ErrVersionConflict
	}

	// Preserve the remaining TTL, as Redis does.
	prev := m.entries[key]
	newData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	m.entries[key] = memoryEntry{data: newData, expiresAt: prev.expiresAt}
	return nil
}

func (m *MemoryStore) members(indexKey string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.indices[indexKey]))
	for member := range m.indices[indexKey] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) dropMember(indexKey, member string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indices[indexKey], member)
}

// ---------- batches ----------

func (m *MemoryStore) CreateBatch(ctx context.Context, batch *models.BatchJob) error {
	batch.Version = 1
	return m.create(
		fmt.Sprintf(keyBatch, batch.UserId, batch.Id),
		fmt.Sprintf(keyUserBatches, batch.UserId),
		batch.Id, batch, m.entityTTL)
}

func (m *MemoryStore) UpdateBatch(ctx context.Context, batch *models.BatchJob) error {
	expect := batch.Version
	batch.Version++
	if err := m.casUpdate(fmt.Sprintf(keyBatch, batch.UserId, batch.Id), expect, batch); err != nil {
		batch.Version = expect
		return err
	}
	return nil
}

func (m *MemoryStore) GetBatch(ctx context.Context, userId, batchId string) (*models.BatchJob, error) {
	var batch models.BatchJob
	if err := m.get(fmt.Sprintf(keyBatch, userId, batchId), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (m *MemoryStore) ListUserBatches(ctx context.Context, userId string) ([]models.BatchJob, error) {
	indexKey := fmt.Sprintf(keyUserBatches, userId)
	batches := make([]models.BatchJob, 0)
	for _, id := range m.members(indexKey) {
		batch, err := m.GetBatch(ctx, userId, id)
		if err == ErrNotFound {
			m.dropMember(indexKey, id)
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

func (m *MemoryStore) CreateSchedule(ctx context.Context, sched *models.ScheduledTransaction) error {
	sched.Version = 1
	return m.create(
		fmt.Sprintf(keySchedule, sched.UserId, sched.Id),
		fmt.Sprintf(keyUserSchedules, sched.UserId),
		sched.Id, sched, 0)
}

func (m *MemoryStore) UpdateSchedule(ctx context.Context, sched *models.ScheduledTransaction) error {
	expect := sched.Version
	sched.Version++
	if err := m.casUpdate(fmt.Sprintf(keySchedule, sched.UserId, sched.Id), expect, sched); err != nil {
		sched.Version = expect
		return err
	}
	return nil
}

func (m *MemoryStore) GetSchedule(ctx context.Context, userId, scheduleId string) (*models.ScheduledTransaction, error) {
	var sched models.ScheduledTransaction
	if err := m.get(fmt.Sprintf(keySchedule, userId, scheduleId), &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (m *MemoryStore) ListUserSchedules(ctx context.Context, userId string) ([]models.ScheduledTransaction, error) {
	scheds := make([]models.ScheduledTransaction, 0)
	for _, id := range m.members(fmt.Sprintf(keyUserSchedules, userId)) {
		sched, err := m.GetSchedule(ctx, userId, id)
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

func (m *MemoryStore) EnqueueDispatch(ctx context.Context, entry models.DispatchEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[dispatchMember(entry.UserId, entry.ScheduleId)] = entry.Due
	return nil
}

func (m *MemoryStore) DueDispatches(ctx context.Context, now time.Time) ([]models.DispatchEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]models.DispatchEntry, 0)
	for member, due := range m.queue {
		if due.After(now) {
			continue
		}
		// member format: user/schedule
		var userId, scheduleId string
		for i := 0; i < len(member); i++ {
			if member[i] == '/' {
				userId, scheduleId = member[:i], member[i+1:]
				break
			}
		}
		if userId == "" {
			continue
		}
		entries = append(entries, models.DispatchEntry{UserId: userId, ScheduleId: scheduleId, Due: due})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Due.Before(entries[j].Due) })
	return entries, nil
}

func (m *MemoryStore) RemoveDispatch(ctx context.Context, userId, scheduleId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queue, dispatchMember(userId, scheduleId))
	return nil
}

// ---------- monitored transactions ----------

func (m *MemoryStore) CreateMonitor(ctx context.Context, mon *models.MonitoredTransaction) error {
	mon.Version = 1
	err := m.create(
		fmt.Sprintf(keyMonitor, mon.UserId, mon.TransferId),
		fmt.Sprintf(keyUserMonitors, mon.UserId),
		mon.TransferId, mon, m.entityTTL)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indices[keyMonitorsIndex] == nil {
		m.indices[keyMonitorsIndex] = make(map[string]bool)
	}
	m.indices[keyMonitorsIndex][dispatchMember(mon.UserId, mon.TransferId)] = true
	return nil
}

func (m *MemoryStore) UpdateMonitor(ctx context.Context, mon *models.MonitoredTransaction) error {
	expect := mon.Version
	mon.Version++
	if err := m.casUpdate(fmt.Sprintf(keyMonitor, mon.UserId, mon.TransferId), expect, mon); err != nil {
		mon.Version = expect
		return err
	}
	return nil
}

func (m *MemoryStore) GetMonitor(ctx context.Context, userId, transferId string) (*models.MonitoredTransaction, error) {
	var mon models.MonitoredTransaction
	if err := m.get(fmt.Sprintf(keyMonitor, userId, transferId), &mon); err != nil {
		return nil, err
	}
	return &mon, nil
}

func (m *MemoryStore) ListUserMonitors(ctx context.Context, userId string) ([]models.MonitoredTransaction, error) {
	indexKey := fmt.Sprintf(keyUserMonitors, userId)
	mons := make([]models.MonitoredTransaction, 0)
	for _, id := range m.members(indexKey) {
		mon, err := m.GetMonitor(ctx, userId, id)
		if err == ErrNotFound {
			m.dropMember(indexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		mons = append(mons, *mon)
	}
	return mons, nil
}

func (m *MemoryStore) ListAllMonitors(ctx context.Context) ([]models.MonitoredTransaction, error) {
	mons := make([]models.MonitoredTransaction, 0)
	for _, member := range m.members(keyMonitorsIndex) {
		var userId, transferId string
		for i := 0; i < len(member); i++ {
			if member[i] == '/' {
				userId, transferId = member[:i], member[i+1:]
				break
			}
		}
		if userId == "" {
			continue
		}
		mon, err := m.GetMonitor(ctx, userId, transferId)
		if err == ErrNotFound {
			m.dropMember(keyMonitorsIndex, member)
			continue
		}
		if err != nil {
			return nil, err
		}
		mons = append(mons, *mon)
	}
	return mons, nil
}

func (m *MemoryStore) DeleteMonitor(ctx context.Context, userId, transferId string) error {
	m.mu.Lock()
	key := fmt.Sprintf(keyMonitor, userId, transferId)
	_, existed := m.getEntry(key)
	delete(m.entries, key)
	delete(m.indices[fmt.Sprintf(keyUserMonitors, userId)], transferId)
	delete(m.indices[keyMonitorsIndex], dispatchMember(userId, transferId))
	m.mu.Unlock()

	if !existed {
		return ErrNotFound
	}
	return nil
}

// ---------- monitoring config ----------

func (m *MemoryStore) GetMonitoringConfig(ctx context.Context, userId string) (*models.MonitoringConfig, error) {
	var cfg models.MonitoringConfig
	if err := m.get(fmt.Sprintf(keyMonitoringConf, userId), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *MemoryStore) SetMonitoringConfig(ctx context.Context, cfg *models.MonitoringConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putEntry(fmt.Sprintf(keyMonitoringConf, cfg.UserId), cfg, 0)
}

// ---------- webhook subscriptions ----------

func (m *MemoryStore) AddSubscription(ctx context.Context, sub *models.Subscription) error {
	return m.create(
		fmt.Sprintf(keyWebhook, sub.UserId, sub.Id),
		fmt.Sprintf(keyUserWebhooks, sub.UserId),
		sub.Id, sub, 0)
}

func (m *MemoryStore) RemoveSubscription(ctx context.Context, userId, subId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf(keyWebhook, userId, subId)
	_, existed := m.getEntry(key)
	delete(m.entries, key)
	delete(m.indices[fmt.Sprintf(keyUserWebhooks, userId)], subId)
	return existed, nil
}

func (m *MemoryStore) ListSubscriptions(ctx context.Context, userId string) ([]models.Subscription, error) {
	indexKey := fmt.Sprintf(keyUserWebhooks, userId)
	subs := make([]models.Subscription, 0)
	for _, id := range m.members(indexKey) {
		var sub models.Subscription
		err := m.get(fmt.Sprintf(keyWebhook, userId, id), &sub)
		if err == ErrNotFound {
			m.dropMember(indexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
