package db

import (
	"github.com/jinzhu/gorm"

	"github.com/defguard/core/internal/apierr"
)

// Store wraps a *gorm.DB and implements the Credential Store (C1) and
// the persistence half of the WireGuard Network Model (C7). It
// generalizes the teacher's dataOperations struct in
// dataoperations.go to every entity in spec.md §3.
type Store struct {
	conn *gorm.DB
}

// wrapPackageError mirrors the teacher's wrapPackageError in
// postgres.go/dataoperations.go: gorm's "not found" sentinel becomes
// apierr.NotFound, everything else becomes apierr.IntegrityViolation
// (a constraint failure is the only other way a write can fail once
// validation has already passed).
func wrapPackageError(err error) error {
	if err == nil {
		return nil
	}
	if gorm.IsRecordNotFoundError(err) {
		return apierr.Wrap(apierr.NotFound, "record not found", err)
	}
	return apierr.Wrap(apierr.IntegrityViolation, "database constraint failure", err)
}

// Conn exposes the underlying *gorm.DB for components (network, mfa,
// enrollment) that need to open their own transactions scoped to
// several Store methods at once.
func (s *Store) Conn() *gorm.DB { return s.conn }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return wrapPackageError(s.conn.Close())
}
