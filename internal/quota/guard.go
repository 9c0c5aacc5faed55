// Package quota gatekeeps pipeline admission per tenant against a monthly
// usage allowance.
package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgarciaq/forms-auditor/internal/common"
)

// Store is the injected persistence abstraction for quota counters. Usage is
// keyed by (tenant, billing period), so a new period starts at zero without
// any explicit rollover write; applying Reset twice has no extra effect.
type Store interface {
	// GetQuota returns the tenant's plan allowance, or 0 when the tenant has
	// no explicit plan (the guard then applies its configured default).
	GetQuota(ctx context.Context, tenantID string) (int, error)
	// IncrementUsage adds n to the tenant's usage for the period only when
	// usage+n <= limit, as one atomic read-modify-write. It reports whether
	// the increment was applied.
	IncrementUsage(ctx context.Context, tenantID, period string, n, limit int) (bool, error)
	// Usage returns the tenant's current usage for the period.
	Usage(ctx context.Context, tenantID, period string) (int, error)
	// Reset zeroes the tenant's usage for the period. Idempotent.
	Reset(ctx context.Context, tenantID, period string) error
}

// Period names the billing period containing t, e.g. "2026-09".
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Guard admits or rejects extraction work per tenant.
type Guard struct {
	store        Store
	defaultQuota int
	now          func() time.Time
	logger       *slog.Logger
}

func NewGuard(store Store, defaultQuota int, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, defaultQuota: defaultQuota, now: time.Now, logger: logger}
}

// WithClock overrides the time source, for rollover tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Reserve atomically admits count documents against the tenant's remaining
// allowance for the current billing period. Concurrent reservations never
// over-admit: the store applies the check and the increment as one operation.
func (g *Guard) Reserve(ctx context.Context, tenantID string, count int) (bool, error) {
	if count <= 0 {
		return false, nil
	}
	limit, err := g.store.GetQuota(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if limit <= 0 {
		limit = g.defaultQuota
	}
	period := Period(g.now())
	granted, err := g.store.IncrementUsage(ctx, tenantID, period, count, limit)
	if err != nil {
		return false, err
	}
	if !granted {
		g.logger.Warn("quota.reservation_rejected",
			"request_id", common.RequestIDFromContext(ctx),
			"tenant_id", tenantID, "period", period, "count", count, "limit", limit)
	}
	return granted, nil
}

// Remaining returns the tenant's unreserved allowance for the current period.
func (g *Guard) Remaining(ctx context.Context, tenantID string) (int, error) {
	limit, err := g.store.GetQuota(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = g.defaultQuota
	}
	used, err := g.store.Usage(ctx, tenantID, Period(g.now()))
	if err != nil {
		return 0, err
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// MemoryStore is the in-process Store used by the local runner and tests.
type MemoryStore struct {
	mu     sync.Mutex
	quotas map[string]int
	usage  map[string]map[string]int // tenant -> period -> used
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotas: map[string]int{},
		usage:  map[string]map[string]int{},
	}
}

// SetQuota assigns a tenant's plan allowance.
func (s *MemoryStore) SetQuota(tenantID string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[tenantID] = limit
}

func (s *MemoryStore) GetQuota(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas[tenantID], nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, tenantID, period string, n, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	periods, ok := s.usage[tenantID]
	if !ok {
		periods = map[string]int{}
		s.usage[tenantID] = periods
	}
	if periods[period]+n > limit {
		return false, nil
	}
	periods[period] += n
	return true, nil
}

func (s *MemoryStore) Usage(_ context.Context, tenantID, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[tenantID][period], nil
}

func (s *MemoryStore) Reset(_ context.Context, tenantID, period string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if periods, ok := s.usage[tenantID]; ok {
		delete(periods, period)
	}
	return nil
}
