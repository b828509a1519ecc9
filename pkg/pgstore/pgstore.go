// Package pgstore implements every domain Store interface
// (manifeststore.Store, captoken.Store, policy.Store, budget.Store,
// approval.Store, audit.Store) against PostgreSQL, the teacher's storage
// backend of choice (pkg/budget/postgres_store.go, pkg/tenants/provisioner.go).
// Schema migration is external to this package, as it is for the teacher's
// own Postgres stores; pkg/sqlitestore self-migrates instead, for the
// embedded single-node deployment spec §11 describes.
package pgstore

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
)

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (sqlstate 23505), the signal approval.Store.InsertUsedToken
// relies on.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// scanNullableString reads a nullable text column into a *string, leaving
// the target nil when the column was NULL.
func scanNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
