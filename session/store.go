package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexedwards/scs/gormstore"
	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"gorm.io/gorm"
)

func NewMemoryStore() scs.Store {
	return memstore.New()
}

// NewDatabaseStore keeps sessions in the "sessions" table next to the login
// tokens, so logins survive a restart. The store runs no cleanup goroutine of
// its own; see DeleteExpiredSessions.
func NewDatabaseStore(db *gorm.DB) (scs.Store, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	store, err := gormstore.NewWithCleanupInterval(db, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create gorm session store: %w", err)
	}
	return store, nil
}

// DeleteExpiredSessions removes rows of the database store whose expiry has
// passed.
func DeleteExpiredSessions(ctx context.Context, db *gorm.DB) (int64, error) {
	result := db.WithContext(ctx).Exec("DELETE FROM sessions WHERE expiry < CURRENT_TIMESTAMP")
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
