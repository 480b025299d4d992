// Package reference resolves the importer, countries and ports that partner
// documents refer to by code.
package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a code has no matching record.
var ErrNotFound = errors.New("reference not found")

// Directory looks up reference rows and caches hits. Misses are not cached so
// that rows added by operators are picked up on the next document.
type Directory struct {
	db    *gorm.DB
	cache *cache.Cache
}

func NewDirectory(db *gorm.DB, ttl time.Duration) *Directory {
	return &Directory{
		db:    db,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Importer returns the company with the given system code.
func (d *Directory) Importer(ctx context.Context, systemCode string) (*model.Company, error) {
	return lookup[model.Company](ctx, d, "company", "system_code", systemCode)
}

// Country returns the country with the given ISO code.
func (d *Directory) Country(ctx context.Context, isoCode string) (*model.Country, error) {
	return lookup[model.Country](ctx, d, "country", "iso_code", strings.ToUpper(isoCode))
}

// Port returns the port with the given UN/LOCODE.
func (d *Directory) Port(ctx context.Context, unlocode string) (*model.Port, error) {
	return lookup[model.Port](ctx, d, "port", "unlocode", strings.ToUpper(unlocode))
}

func lookup[T any](ctx context.Context, d *Directory, kind, column, code string) (*T, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty %s code", ErrNotFound, kind)
	}
	cacheKey := kind + ":" + code
	if cached, ok := d.cache.Get(cacheKey); ok {
		v := cached.(T)
		return &v, nil
	}

	var v T
	if err := d.db.WithContext(ctx).Where(column+" = ?", code).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, code)
		}
		return nil, fmt.Errorf("failed to look up %s %s: %w", kind, code, err)
	}
	d.cache.SetDefault(cacheKey, v)
	return &v, nil
}

// EnsureImporter creates the importer company if it does not exist yet.
func (d *Directory) EnsureImporter(ctx context.Context, systemCode, name string) (*model.Company, error) {
	var company model.Company
	err := d.db.WithContext(ctx).
		Where(model.Company{SystemCode: systemCode}).
		Attrs(model.Company{Name: name, Importer: true}).
		FirstOrCreate(&company).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure importer %s: %w", systemCode, err)
	}
	return &company, nil
}

// EnsureCountry creates the country if it does not exist yet.
func (d *Directory) EnsureCountry(ctx context.Context, isoCode string) (*model.Country, error) {
	isoCode = strings.ToUpper(isoCode)
	var country model.Country
	err := d.db.WithContext(ctx).
		Where(model.Country{ISOCode: isoCode}).
		FirstOrCreate(&country).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure country %s: %w", isoCode, err)
	}
	return &country, nil
}

// EnsurePort creates the port if it does not exist yet.
func (d *Directory) EnsurePort(ctx context.Context, unlocode, name string) (*model.Port, error) {
	unlocode = strings.ToUpper(unlocode)
	var port model.Port
	err := d.db.WithContext(ctx).
		Where(model.Port{UNLocode: unlocode}).
		Attrs(model.Port{Name: name}).
		FirstOrCreate(&port).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure port %s: %w", unlocode, err)
	}
	return &port, nil
}
