// Package catalog serves JobDefinition lookups with a short-TTL cache
// in front of the store, so the dispatcher's hot claim path and the
// payload validator don't hit Postgres on every job.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	apperrors "github.com/nrhinela/zoltag-sub001/pkg/errors"
	"github.com/nrhinela/zoltag-sub001/pkg/database/model"
	"gorm.io/gorm"
)

// Catalog answers GetByKey/ListActive against job_definitions, caching
// positive and negative lookups for ttl (spec §4.1: definitions are
// read far more often than written).
type Catalog struct {
	db  *gorm.DB
	ttl time.Duration
	c   *cache.Cache
}

const missSentinel = "__miss__"

func New(db *gorm.DB, ttl time.Duration) *Catalog {
	return &Catalog{
		db:  db,
		ttl: ttl,
		c:   cache.New(ttl, ttl*2),
	}
}

// GetByKey returns the active-or-not JobDefinition for key, using the
// cache when warm. A CodeNotFound error is itself cached (as a miss
// sentinel) so a misconfigured worker hammering an unknown key doesn't
// defeat the cache.
func (c *Catalog) GetByKey(ctx context.Context, key string) (*model.JobDefinition, error) {
	if cached, ok := c.c.Get(key); ok {
		if cached == missSentinel {
			return nil, apperrors.WrapMessage(fmt.Sprintf("job definition not found: %s", key), apperrors.CodeNotFound)
		}
		def := cached.(model.JobDefinition)
		return &def, nil
	}

	var def model.JobDefinition
	err := c.db.WithContext(ctx).Where("key = ?", key).First(&def).Error
	if err == gorm.ErrRecordNotFound {
		c.c.Set(key, missSentinel, cache.DefaultExpiration)
		return nil, apperrors.WrapMessage(fmt.Sprintf("job definition not found: %s", key), apperrors.CodeNotFound)
	}
	if err != nil {
		return nil, apperrors.WrapError(err, "query job definition", apperrors.CodeStoreError)
	}

	c.c.Set(key, def, cache.DefaultExpiration)
	return &def, nil
}

// ListActive returns every currently-active JobDefinition, always read
// through to the store (the catalog list is used for admin/control-plane
// surfaces where staleness is less tolerable than on the claim path).
func (c *Catalog) ListActive(ctx context.Context) ([]model.JobDefinition, error) {
	var defs []model.JobDefinition
	err := c.db.WithContext(ctx).Where("is_active = ?", true).Order("key ASC").Find(&defs).Error
	if err != nil {
		return nil, apperrors.WrapError(err, "list active job definitions", apperrors.CodeStoreError)
	}
	return defs, nil
}

// Invalidate drops a cached entry immediately, used after an admin
// updates or deactivates a definition so the change is visible without
// waiting out the TTL.
func (c *Catalog) Invalidate(key string) {
	c.c.Delete(key)
}
