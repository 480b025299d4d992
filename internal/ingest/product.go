package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductCache holds the products resolved while applying one transaction,
// keyed by unique identifier. A new cache is created for every transaction.
type ProductCache map[string]*model.Product

// ProductResolver finds or creates the product for a style and keeps its
// destination-country tariff numbers in line with the latest order.
type ProductResolver struct {
	deps Deps
}

func NewProductResolver(deps Deps) *ProductResolver {
	return &ProductResolver{deps: deps}
}

// UniqueIdentifier is the product key for a partner style.
func (r *ProductResolver) UniqueIdentifier(style string) string {
	return r.deps.Partner.Prefix + "-" + style
}

// Resolve returns the product for the IT-qualified style on styleSegment, or
// nil when the segment carries no style. tariffSegments are the TC2 segments
// that apply to the line; when there are none the classification is left
// as it is.
func (r *ProductResolver) Resolve(ctx context.Context, cache ProductCache, doc *document, country *model.Country, styleSegment edi.Segment, tariffSegments []edi.Segment) (*model.Product, error) {
	style := edi.Value(styleSegment, "IT")
	if style == "" {
		return nil, nil
	}
	uid := r.UniqueIdentifier(style)
	if p, ok := cache[uid]; ok {
		return p, nil
	}

	importerID := doc.importer.ID
	gate := &Gate[model.Product]{
		DB:      r.deps.DB,
		Named:   r.deps.Named,
		Rows:    r.deps.Rows,
		LockKey: "Product-" + uid,
		Find: func(ctx context.Context, tx *gorm.DB) (*model.Product, error) {
			return findOne[model.Product](tx, "importer_id = ? AND unique_identifier = ?", importerID, uid)
		},
		Create: func(ctx context.Context, tx *gorm.DB) (*model.Product, error) {
			return create(tx, &model.Product{ImporterID: importerID, UniqueIdentifier: uid})
		},
		ID:     func(p *model.Product) uuid.UUID { return p.ID },
		Accept: func(*model.Product) bool { return true },
	}

	product, _, err := gate.Admit(ctx)
	if err != nil {
		return nil, err
	}

	codes := htsCodes(tariffSegments)
	if len(codes) > 0 {
		_, err = gate.Commit(ctx, product, func(ctx context.Context, tx *gorm.DB, locked *model.Product) error {
			return r.reconcileTariffs(ctx, tx, doc, locked, country.ID, codes)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to classify product %s: %w", uid, err)
		}
	}

	cache[uid] = product
	return product, nil
}

// reconcileTariffs makes the product's classification for countryID hold
// exactly codes, numbered from 1 in order.
func (r *ProductResolver) reconcileTariffs(ctx context.Context, tx *gorm.DB, doc *document, product *model.Product, countryID uuid.UUID, codes []string) error {
	var changes changeSet

	classification, err := findOne[model.Classification](tx, "product_id = ? AND country_id = ?", product.ID, countryID)
	if err != nil {
		return err
	}
	if classification == nil {
		classification, err = create(tx, &model.Classification{ProductID: product.ID, CountryID: countryID})
		if err != nil {
			return err
		}
		changes.mark("classification")
	}

	var tariffs []model.Tariff
	if err := tx.Where("classification_id = ?", classification.ID).Order("line_number").Find(&tariffs).Error; err != nil {
		return err
	}
	byLine := make(map[int]*model.Tariff, len(tariffs))
	for i := range tariffs {
		byLine[tariffs[i].LineNumber] = &tariffs[i]
	}

	for i, code := range codes {
		line := i + 1
		existing, ok := byLine[line]
		if !ok {
			if _, err := create(tx, &model.Tariff{ClassificationID: classification.ID, LineNumber: line, HTSCode: code}); err != nil {
				return err
			}
			changes.mark("tariffs")
			continue
		}
		var tc changeSet
		set(&tc, "hts_code", &existing.HTSCode, code)
		if tc.dirty() {
			if err := tx.Model(existing).Update("hts_code", code).Error; err != nil {
				return err
			}
			changes.merge(tc)
		}
	}

	res := tx.Where("classification_id = ? AND line_number > ?", classification.ID, len(codes)).Delete(&model.Tariff{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		changes.mark("tariffs")
	}

	if !changes.dirty() {
		return nil
	}

	var snapshot model.Product
	err = tx.Preload("Classifications.Tariffs", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_number")
	}).First(&snapshot, "id = ?", product.ID).Error
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "product classification updated", "product", product.UniqueIdentifier, "tariffs", len(codes))
	return r.deps.Audit.Snapshot(ctx, tx, "Product", product.ID, doc.fileName, snapshot)
}

// htsCodes returns the distinct TC202 tariff numbers without periods, sorted.
func htsCodes(tariffSegments []edi.Segment) []string {
	var codes []string
	for _, tc2 := range tariffSegments {
		code := strings.ReplaceAll(tc2.Element(2), ".", "")
		if code == "" || slices.Contains(codes, code) {
			continue
		}
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// lineHTS is the HTS stored on an order line.
func lineHTS(codes []string) string {
	switch len(codes) {
	case 0:
		return ""
	case 1:
		return codes[0]
	}
	return model.HTSMultiple
}
