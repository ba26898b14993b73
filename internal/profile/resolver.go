// Package profile resolves display names of chain owners from the application's
// profiles table.
package profile

import (
	"context"
	"sync"
	"time"

	"trustchain/internal/logger"
	"trustchain/internal/models"

	"gorm.io/gorm"
)

// Resolver fetches and caches the mapping from user id to full name.
// The whole table is reloaded at most once per ttl; misses inside the ttl
// fall back to a shortened id.
type Resolver struct {
	db        *gorm.DB
	log       *logger.Logger
	mu        sync.RWMutex
	cache     map[string]string // user_id -> full_name
	lastFetch time.Time
	ttl       time.Duration
}

func NewResolver(db *gorm.DB, log *logger.Logger) *Resolver {
	if db == nil {
		return nil
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{
		db:    db,
		log:   log,
		cache: map[string]string{},
		ttl:   5 * time.Minute, // names change rarely
	}
}

// Resolve returns the display name of userID
func (r *Resolver) Resolve(ctx context.Context, userID string) string {
	if r == nil || userID == "" {
		return ShortID(userID)
	}

	// Fast path: cached
	r.mu.RLock()
	if name, ok := r.cache[userID]; ok && name != "" {
		r.mu.RUnlock()
		return name
	}
	stale := time.Since(r.lastFetch) > r.ttl
	r.mu.RUnlock()

	if stale {
		r.refresh(ctx)
	}

	r.mu.RLock()
	name := r.cache[userID]
	r.mu.RUnlock()
	if name == "" {
		return ShortID(userID)
	}
	return name
}

func (r *Resolver) refresh(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check under lock
	if time.Since(r.lastFetch) <= r.ttl {
		return
	}

	var profiles []models.Profile
	if err := r.db.WithContext(ctx).Select("id", "full_name").Find(&profiles).Error; err != nil {
		r.log.Warnw("profile resolver: failed to load profiles", "error", err)
		return
	}

	mapping := make(map[string]string, len(profiles))
	for _, p := range profiles {
		mapping[p.ID] = p.FullName
	}
	r.cache = mapping
	r.lastFetch = time.Now()
	r.log.Printf("profile resolver: cached %d profiles", len(mapping))
}

// ShortID abbreviates an opaque id for display
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
