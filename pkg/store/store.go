// Package store persists bills, texts, analyses, and sync runs behind a
// small transactional API over gorm.
package store

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
)

// PersistenceError wraps a database failure with the operation and the
// upstream identifier being written, so sync error reports stay useful.
type PersistenceError struct {
	Op         string
	ExternalID string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("store: %s (bill %s): %v", e.Op, e.ExternalID, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the persistence facade. All multi-row writes run inside a single
// transaction so partial bill state never becomes visible.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps a gorm handle. A nil logger is replaced with a no-op.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates the schema for every model.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(models.All()...); err != nil {
		return &PersistenceError{Op: "migrate", Err: err}
	}
	return nil
}

// DB exposes the underlying handle for callers composing their own queries.
func (s *Store) DB() *gorm.DB { return s.db }
