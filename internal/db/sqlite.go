package db

import (
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// NewSQLiteStore mirrors the teacher's NewSQLiteDatabase in sqlite.go.
// Intended for development and single-node deployments.
func NewSQLiteStore(connectionString string) (*Store, error) {
	conn, err := gorm.Open("sqlite3", connectionString)
	if err != nil {
		return nil, wrapPackageError(err)
	}
	return &Store{conn: conn}, nil
}
