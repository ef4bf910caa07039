package db

import (
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
)

// NewPostgresStore mirrors the teacher's NewPostgresDatabase in
// postgres.go.
func NewPostgresStore(connectionString string) (*Store, error) {
	conn, err := gorm.Open("postgres", connectionString)
	if err != nil {
		return nil, wrapPackageError(err)
	}
	return &Store{conn: conn}, nil
}
