package db

import (
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
)

// NewMySQLStore is the third dialect option alongside the teacher's
// Postgres and SQLite backends, added so go-sql-driver/mysql (present
// in ToeiRei-Keymaster's dependency stack) has a home: spec.md §1
// deliberately leaves "persistent storage engine choice" out of scope
// for the core, so widening the dialect choice here does not change
// any core semantics.
func NewMySQLStore(connectionString string) (*Store, error) {
	conn, err := gorm.Open("mysql", connectionString)
	if err != nil {
		return nil, wrapPackageError(err)
	}
	return &Store{conn: conn}, nil
}
