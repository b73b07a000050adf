package repository

import (
	"context"

	"gorm.io/gorm"
)

// GormStore is a GORM implementation of Store
type GormStore struct {
	db      *gorm.DB
	tasks   TaskRepository
	history HistoryRepository
}

// NewStore creates a Store whose repositories share db
func NewStore(db *gorm.DB) Store {
	return &GormStore{
		db:      db,
		tasks:   NewTaskRepository(db),
		history: NewHistoryRepository(db),
	}
}

func (s *GormStore) Tasks() TaskRepository {
	return s.tasks
}

func (s *GormStore) History() HistoryRepository {
	return s.history
}

// Transaction runs fn with repositories bound to one database transaction
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
