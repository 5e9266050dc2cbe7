// Package store provides an in-memory tariff.Repository.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/coverage-engine/tariff"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	plans       map[string]tariff.Plan
	services    map[string]tariff.Service
	tariffs     []tariff.Tariff
	combos      map[comboKey]string
	idempotency map[string]idempotencyRecord
}

type comboKey struct {
	ServiceID     string
	PlanID        string
	PrimaryPlanID string
}

type idempotencyRecord struct {
	owner     string
	count     int
	completed bool
	claimedAt time.Time
}

func NewMemory() *Memory {
	m := &Memory{}
	m.resetLocked()
	return m
}

func (m *Memory) resetLocked() {
	m.plans = make(map[string]tariff.Plan)
	m.services = make(map[string]tariff.Service)
	m.tariffs = nil
	m.combos = make(map[comboKey]string)
	m.idempotency = make(map[string]idempotencyRecord)
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	return nil
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// PLANS
// =============================================================================

func (m *Memory) GetPlan(_ context.Context, id string) (*tariff.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, tariff.ErrPlanNotFound
	}
	return &p, nil
}

func (m *Memory) ListPlans(_ context.Context) ([]tariff.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]tariff.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) CreatePlan(_ context.Context, p tariff.Plan) (*tariff.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.plans[p.ID] = p
	return &p, nil
}

func (m *Memory) DeletePlan(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[id]; !ok {
		return tariff.ErrPlanNotFound
	}
	for _, t := range m.tariffs {
		if t.PlanID == id || t.PrimaryPlanID == id {
			return tariff.ErrPlanInUse
		}
	}
	delete(m.plans, id)
	return nil
}

// =============================================================================
// SERVICES
// =============================================================================

func (m *Memory) GetService(_ context.Context, id string) (*tariff.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.services[id]
	if !ok {
		return nil, tariff.ErrServiceNotFound
	}
	return &s, nil
}

func (m *Memory) ListServices(_ context.Context) ([]tariff.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servicesLocked(false), nil
}

func (m *Memory) CreateService(_ context.Context, s tariff.Service) (*tariff.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.services[s.ID] = s
	return &s, nil
}

func (m *Memory) DeleteService(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.services[id]
	if !ok {
		return tariff.ErrServiceNotFound
	}
	if s.DeletedAt == nil {
		at = at.UTC()
		s.DeletedAt = &at
		m.services[id] = s
	}
	return nil
}

func (m *Memory) ListActiveServices(_ context.Context) ([]tariff.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servicesLocked(true), nil
}

func (m *Memory) servicesLocked(eligibleOnly bool) []tariff.Service {
	result := make([]tariff.Service, 0, len(m.services))
	for _, s := range m.services {
		if eligibleOnly && !s.Eligible() {
			continue
		}
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// =============================================================================
// TARIFFS
// =============================================================================

func (m *Memory) AddTariff(_ context.Context, t tariff.Tariff) (*tariff.Tariff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved, err := m.addLocked(t)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (m *Memory) addLocked(t tariff.Tariff) (tariff.Tariff, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.PrimaryPlanID != "" {
		k := comboKey{ServiceID: t.ServiceID, PlanID: t.PlanID, PrimaryPlanID: t.PrimaryPlanID}
		if _, exists := m.combos[k]; exists {
			return tariff.Tariff{}, tariff.ErrDuplicateCombination
		}
		m.combos[k] = t.ID
	}
	m.tariffs = append(m.tariffs, t)
	return t, nil
}

func (m *Memory) IsDuplicateCombination(_ context.Context, serviceID, primaryPlanID, supplementaryPlanID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.combos[comboKey{ServiceID: serviceID, PlanID: supplementaryPlanID, PrimaryPlanID: primaryPlanID}]
	return exists, nil
}

func (m *Memory) ListTariffs(_ context.Context, f tariff.TariffFilter) ([]tariff.Tariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []tariff.Tariff
	for _, t := range m.tariffs {
		if f.Matches(t) {
			result = append(result, t)
		}
	}
	return result, nil
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// WithinTx runs fn holding the write lock.
// Rollback is simulated with a snapshot + restore on error.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, w tariff.TariffWriter) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()

	err := fn(ctx, &txView{parent: m})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	tariffs []tariff.Tariff
	combos  map[comboKey]string
}

func (m *Memory) snapshot() memorySnapshot {
	combos := make(map[comboKey]string, len(m.combos))
	for k, v := range m.combos {
		combos[k] = v
	}
	return memorySnapshot{
		tariffs: append([]tariff.Tariff(nil), m.tariffs...),
		combos:  combos,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.tariffs = s.tariffs
	m.combos = s.combos
}

type txView struct {
	parent *Memory
}

func (tv *txView) ListActiveServices(_ context.Context) ([]tariff.Service, error) {
	return tv.parent.servicesLocked(true), nil
}

func (tv *txView) AddTariffs(_ context.Context, tariffs []tariff.Tariff) error {
	for _, t := range tariffs {
		if _, err := tv.parent.addLocked(t); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func (m *Memory) CachedCount(_ context.Context, token string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.idempotency[token]
	if !ok || !rec.completed {
		return 0, false, nil
	}
	return rec.count, true, nil
}

func (m *Memory) Claim(_ context.Context, token, owner string, at, staleBefore time.Time) (tariff.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.idempotency[token]
	switch {
	case ok && rec.completed:
		return tariff.Claim{State: tariff.ClaimCompleted, Count: rec.count}, nil
	case ok && !rec.claimedAt.Before(staleBefore):
		return tariff.Claim{State: tariff.ClaimInFlight, Owner: rec.owner}, nil
	}

	m.idempotency[token] = idempotencyRecord{owner: owner, claimedAt: at}
	return tariff.Claim{State: tariff.ClaimAcquired, Owner: owner}, nil
}

func (m *Memory) SetCachedCount(_ context.Context, token, owner string, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.idempotency[token]
	if ok && (rec.completed || rec.owner != owner) {
		return tariff.ErrClaimLost
	}
	if !ok {
		rec.claimedAt = at
	}
	m.idempotency[token] = idempotencyRecord{owner: owner, count: count, completed: true, claimedAt: rec.claimedAt}
	return nil
}

func (m *Memory) Release(_ context.Context, token, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.idempotency[token]; ok && !rec.completed && rec.owner == owner {
		delete(m.idempotency, token)
	}
	return nil
}

func (m *Memory) PurgeStaleClaims(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for token, rec := range m.idempotency {
		if !rec.completed && rec.claimedAt.Before(before) {
			delete(m.idempotency, token)
			purged++
		}
	}
	return purged, nil
}

var _ tariff.Repository = (*Memory)(nil)
