// Package budget implements the per-manifest daily action counter (spec
// §4.G): one row per (org_id, uapk_id, counter_date), incremented under a
// row lock so concurrent admissions never race past the configured limit.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// Store persists ActionCounter rows. Check must take the row lock (or
// create the row, on first use for a day) and return the count *before*
// any increment, so the caller can compare against the limit first.
// Increment applies only after the caller has decided to admit the action.
type Store interface {
	// Check locks (creating if absent) and returns the current count for
	// (org_id, uapk_id, date).
	Check(orgID, uapkID, date string) (*domain.ActionCounter, error)
	// Increment bumps the count for a row already locked by Check within
	// the same logical operation.
	Increment(orgID, uapkID, date string) error
}

// Decision is the outcome of evaluating one action against a daily limit.
type Decision string

const (
	DecisionUnderLimit       Decision = "under_limit"
	DecisionThresholdReached Decision = "threshold_reached"
	DecisionExceeded         Decision = "exceeded"
)

// Checker evaluates and, on admission, increments the per-day counter.
type Checker struct {
	store Store
	mu    sync.Mutex
}

func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// Today returns the UTC calendar date string used as counter_date.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// CheckParams bundles one evaluation's inputs.
type CheckParams struct {
	OrgID             string
	UAPKID            string
	MaxPerDay         int     // 0 means unlimited
	ThresholdFraction float64 // e.g. 0.8 for an 80% early-warning escalation; 0 disables
}

// Evaluate reads the counter under lock and classifies the action without
// mutating state; call Admit afterward only if the pipeline proceeds to
// decision=approved (spec §4.K step 9: "increment budget counter iff
// decision = approved").
func (c *Checker) Evaluate(p CheckParams) (Decision, *domain.ActionCounter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counter, err := c.store.Check(p.OrgID, p.UAPKID, Today())
	if err != nil {
		return "", nil, fmt.Errorf("budget: check counter: %w", err)
	}
	if p.MaxPerDay <= 0 {
		return DecisionUnderLimit, counter, nil
	}
	if counter.Count >= p.MaxPerDay {
		return DecisionExceeded, counter, nil
	}
	if p.ThresholdFraction > 0 && float64(counter.Count) >= p.ThresholdFraction*float64(p.MaxPerDay) {
		return DecisionThresholdReached, counter, nil
	}
	return DecisionUnderLimit, counter, nil
}

// Admit increments today's counter after a decision=approved admission.
func (c *Checker) Admit(orgID, uapkID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Increment(orgID, uapkID, Today())
}

// MemoryStore is an in-process Store, used by tests and demo mode. The
// package-level mutex in Checker already serializes Check+Increment pairs
// in a single process; a Postgres-backed Store would instead rely on
// `SELECT ... FOR UPDATE` per (org_id, uapk_id, counter_date) row.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*domain.ActionCounter // keyed by org_id|uapk_id|date
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*domain.ActionCounter)}
}

func counterKey(orgID, uapkID, date string) string {
	return orgID + "|" + uapkID + "|" + date
}

func (s *MemoryStore) Check(orgID, uapkID, date string) (*domain.ActionCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey(orgID, uapkID, date)
	c, ok := s.counters[key]
	if !ok {
		c = &domain.ActionCounter{
			ID: uuid.New().String(), OrgID: orgID, UAPKID: uapkID,
			CounterDate: date, Count: 0, UpdatedAt: time.Now().UTC(),
		}
		s.counters[key] = c
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Increment(orgID, uapkID, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey(orgID, uapkID, date)
	c, ok := s.counters[key]
	if !ok {
		c = &domain.ActionCounter{
			ID: uuid.New().String(), OrgID: orgID, UAPKID: uapkID, CounterDate: date,
		}
		s.counters[key] = c
	}
	c.Count++
	c.UpdatedAt = time.Now().UTC()
	return nil
}
