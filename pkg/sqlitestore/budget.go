package sqlitestore

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// BudgetStore persists budget.Store rows in SQLite. SQLite serializes all
// writers against one file already, so Check holds a plain transaction
// (rather than Postgres's `SELECT ... FOR UPDATE`) until Increment commits
// it, mirroring pgstore.BudgetStore's held-tx shape for the same pair of
// Store calls.
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

func (s *BudgetStore) Check(orgID, uapkID, date string) (*domain.ActionCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: begin budget tx: %w", err)
	}

	var c domain.ActionCounter
	row := tx.QueryRow(`
		SELECT id, org_id, uapk_id, counter_date, count, updated_at
		FROM action_counters WHERE org_id = ? AND uapk_id = ? AND counter_date = ?`, orgID, uapkID, date)
	err = row.Scan(&c.ID, &c.OrgID, &c.UAPKID, &c.CounterDate, &c.Count, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		c = domain.ActionCounter{ID: uuid.New().String(), OrgID: orgID, UAPKID: uapkID, CounterDate: date}
		_, err = tx.Exec(`
			INSERT INTO action_counters (id, org_id, uapk_id, counter_date, count, updated_at)
			VALUES (?, ?, ?, ?, 0, CURRENT_TIMESTAMP)`, c.ID, c.OrgID, c.UAPKID, c.CounterDate)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("sqlitestore: create action counter: %w", err)
		}
	} else if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("sqlitestore: lock action counter: %w", err)
	}

	s.tx = tx
	s.key = counterKey(orgID, uapkID, date)
	return &c, nil
}

func (s *BudgetStore) Increment(orgID, uapkID, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(orgID, uapkID, date)
	if s.tx != nil && s.key == key {
		tx := s.tx
		s.tx, s.key = nil, ""
		if _, err := tx.Exec(`
			UPDATE action_counters SET count = count + 1, updated_at = CURRENT_TIMESTAMP
			WHERE org_id = ? AND uapk_id = ? AND counter_date = ?`, orgID, uapkID, date); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlitestore: increment action counter: %w", err)
		}
		return tx.Commit()
	}

	_, err := s.db.Exec(`
		INSERT INTO action_counters (id, org_id, uapk_id, counter_date, count, updated_at)
		VALUES (?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (org_id, uapk_id, counter_date) DO UPDATE SET
			count = count + 1, updated_at = CURRENT_TIMESTAMP`,
		uuid.New().String(), orgID, uapkID, date)
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert action counter: %w", err)
	}
	return nil
}
