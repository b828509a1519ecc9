package pgstore

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// BudgetStore persists budget.Store rows in an `action_counters` table,
// row-locked with `SELECT ... FOR UPDATE` the way the teacher's comment in
// pkg/budget/budget.go anticipates for a Postgres-backed Store. Check opens
// the transaction and holds the lock; Increment, called afterward within
// the same admission (budget.Checker already serializes the pair with its
// own mutex), applies the update and commits.
type BudgetStore struct {
	db *sql.DB

	mu  sync.Mutex
	tx  *sql.Tx
	key string
}

func NewBudgetStore(db *sql.DB) *BudgetStore {
	return &BudgetStore{db: db}
}

func counterKey(orgID, uapkID, date string) string {
	return orgID + "|" + uapkID + "|" + date
}

// Check locks (creating if absent) and returns the current count. The
// locking transaction stays open until Increment commits it or the next
// Check, for any key, rolls it back.
func (s *BudgetStore) Check(orgID, uapkID, date string) (*domain.ActionCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("pgstore: begin budget tx: %w", err)
	}

	var c domain.ActionCounter
	row := tx.QueryRow(`
		SELECT id, org_id, uapk_id, counter_date, count, updated_at
		FROM action_counters WHERE org_id = $1 AND uapk_id = $2 AND counter_date = $3
		FOR UPDATE`, orgID, uapkID, date)
	err = row.Scan(&c.ID, &c.OrgID, &c.UAPKID, &c.CounterDate, &c.Count, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		c = domain.ActionCounter{ID: uuid.New().String(), OrgID: orgID, UAPKID: uapkID, CounterDate: date}
		_, err = tx.Exec(`
			INSERT INTO action_counters (id, org_id, uapk_id, counter_date, count, updated_at)
			VALUES ($1, $2, $3, $4, 0, now())`, c.ID, c.OrgID, c.UAPKID, c.CounterDate)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("pgstore: create action counter: %w", err)
		}
	} else if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("pgstore: lock action counter: %w", err)
	}

	s.tx = tx
	s.key = counterKey(orgID, uapkID, date)
	return &c, nil
}

// Increment applies to the row locked by the most recent Check for the
// same (org, uapk, date) key and commits. Calling it for a different key,
// or without a preceding Check, falls back to its own atomic upsert.
func (s *BudgetStore) Increment(orgID, uapkID, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(orgID, uapkID, date)
	if s.tx != nil && s.key == key {
		tx := s.tx
		s.tx, s.key = nil, ""
		if _, err := tx.Exec(`
			UPDATE action_counters SET count = count + 1, updated_at = now()
			WHERE org_id = $1 AND uapk_id = $2 AND counter_date = $3`, orgID, uapkID, date); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("pgstore: increment action counter: %w", err)
		}
		return tx.Commit()
	}

	_, err := s.db.Exec(`
		INSERT INTO action_counters (id, org_id, uapk_id, counter_date, count, updated_at)
		VALUES ($1, $2, $3, $4, 1, now())
		ON CONFLICT (org_id, uapk_id, counter_date) DO UPDATE SET
			count = action_counters.count + 1, updated_at = now()`,
		uuid.New().String(), orgID, uapkID, date)
	if err != nil {
		return fmt.Errorf("pgstore: upsert action counter: %w", err)
	}
	return nil
}
