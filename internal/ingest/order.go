package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tags that end the PO1 loop.
var po1StopTags = []string{"CTT", "AMT", "SE"}

const (
	cancelPurpose = "01"
	prepackUOM    = "AS"
	eachUOM       = "EA"
	// sublineBand is the line number range reserved for the sublines of one
	// prepack PO line.
	sublineBand = 1000
)

type orderHeader struct {
	cancel              bool
	orderType           string
	poNumber            string
	revision            int
	revisionDate        *time.Time
	orderDate           *time.Time
	shipWindowStart     *time.Time
	shipWindowEnd       *time.Time
	customerOrderNumber string
	department          string
	paymentMethod       string
	termsOfSale         string
	mode                string
	forwarderCode       string
	forwarderName       string
}

// lineDraft is an order line as built from the current document.
type lineDraft struct {
	lineNumber int
	quantity   decimal.Decimal
	unitPrice  decimal.Decimal
	uom        string
	sku        string
	hts        string
	attributes map[string]string
	style      edi.Segment
	tariffs    []edi.Segment
	product    *model.Product
}

// OrderAssembler applies 850 purchase orders.
type OrderAssembler struct {
	deps     Deps
	products *ProductResolver
}

func NewOrderAssembler(deps Deps, products *ProductResolver) *OrderAssembler {
	return &OrderAssembler{deps: deps, products: products}
}

// OrderNumber is the stored order number for a partner PO number.
func (a *OrderAssembler) OrderNumber(poNumber string) string {
	return a.deps.Partner.Prefix + "-" + poNumber
}

// Apply builds or updates the order carried by an 850.
func (a *OrderAssembler) Apply(ctx context.Context, doc *document) (applyResult, error) {
	header, err := parseOrderHeader(doc.txn.Segments)
	if err != nil {
		return applyResult{}, err
	}
	orderNumber := a.OrderNumber(header.poNumber)
	result := applyResult{key: orderNumber}
	gate := a.gate(doc.importer.ID, orderNumber, header.revision)

	if header.cancel {
		order, accepted, err := gate.Admit(ctx)
		if err != nil || !accepted {
			return a.skipped(ctx, result, order, header, err)
		}
		result.applied, err = gate.Commit(ctx, order, func(ctx context.Context, tx *gorm.DB, locked *model.Order) error {
			return a.close(ctx, tx, doc, locked, header)
		})
		return result, err
	}

	drafts, err := buildLineDrafts(doc.txn.Segments, header)
	if err != nil {
		return result, err
	}

	order, accepted, err := gate.Admit(ctx)
	if err != nil || !accepted {
		return a.skipped(ctx, result, order, header, err)
	}

	// Products are resolved before the order row is locked.
	country, err := a.deps.Directory.Country(ctx, a.deps.Partner.DestinationCountry)
	if err != nil {
		return result, businessf("destination country %s: %w", a.deps.Partner.DestinationCountry, err)
	}
	cache := make(ProductCache)
	for i := range drafts {
		drafts[i].product, err = a.products.Resolve(ctx, cache, doc, country, drafts[i].style, drafts[i].tariffs)
		if err != nil {
			return result, err
		}
	}

	result.applied, err = gate.Commit(ctx, order, func(ctx context.Context, tx *gorm.DB, locked *model.Order) error {
		return a.apply(ctx, tx, doc, locked, header, drafts)
	})
	if err == nil && !result.applied {
		slog.InfoContext(ctx, "order revision superseded while waiting for lock", "order", orderNumber, "revision", header.revision)
	}
	return result, err
}

func (a *OrderAssembler) skipped(ctx context.Context, result applyResult, order *model.Order, header orderHeader, err error) (applyResult, error) {
	if err != nil {
		return result, err
	}
	slog.InfoContext(ctx, "skipping stale order revision",
		"order", result.key,
		"incoming", header.revision,
		"stored", order.Revision,
	)
	return result, nil
}

func (a *OrderAssembler) gate(importerID uuid.UUID, orderNumber string, revision int) *Gate[model.Order] {
	return &Gate[model.Order]{
		DB:      a.deps.DB,
		Named:   a.deps.Named,
		Rows:    a.deps.Rows,
		LockKey: "Order-" + orderNumber,
		Find: func(ctx context.Context, tx *gorm.DB) (*model.Order, error) {
			return findOne[model.Order](tx, "importer_id = ? AND order_number = ?", importerID, orderNumber)
		},
		Create: func(ctx context.Context, tx *gorm.DB) (*model.Order, error) {
			return create(tx, &model.Order{ImporterID: importerID, OrderNumber: orderNumber})
		},
		ID:     func(o *model.Order) uuid.UUID { return o.ID },
		Accept: func(o *model.Order) bool { return revision >= o.Revision },
	}
}

func (a *OrderAssembler) close(ctx context.Context, tx *gorm.DB, doc *document, order *model.Order, header orderHeader) error {
	var changes changeSet
	set(&changes, "revision", &order.Revision, header.revision)
	setTime(&changes, "revision_date", &order.RevisionDate, header.revisionDate)
	if !order.Closed {
		now := time.Now().UTC()
		order.Closed = true
		order.ClosedAt = &now
		changes.mark("closed")
	}
	if !changes.dirty() {
		return nil
	}
	if err := tx.Omit(clause.Associations).Save(order).Error; err != nil {
		return fmt.Errorf("failed to close order %s: %w", order.OrderNumber, err)
	}
	slog.InfoContext(ctx, "order closed", "order", order.OrderNumber, "revision", order.Revision)
	return a.snapshot(ctx, tx, doc, order.ID)
}

func (a *OrderAssembler) apply(ctx context.Context, tx *gorm.DB, doc *document, order *model.Order, header orderHeader, drafts []lineDraft) error {
	var changes changeSet
	if order.Closed {
		order.Closed = false
		order.ClosedAt = nil
		changes.mark("closed")
	}
	applyOrderHeader(&changes, order, header)
	if changes.dirty() {
		if err := tx.Omit(clause.Associations).Save(order).Error; err != nil {
			return fmt.Errorf("failed to save order %s: %w", order.OrderNumber, err)
		}
	}

	var existing []model.OrderLine
	if err := tx.Where("order_id = ?", order.ID).Find(&existing).Error; err != nil {
		return fmt.Errorf("failed to load lines of order %s: %w", order.OrderNumber, err)
	}
	byNumber := make(map[int]*model.OrderLine, len(existing))
	for i := range existing {
		byNumber[existing[i].LineNumber] = &existing[i]
	}

	seen := make(map[int]bool, len(drafts))
	for _, d := range drafts {
		seen[d.lineNumber] = true
		line, found := byNumber[d.lineNumber]
		if found && line.Shipping {
			slog.DebugContext(ctx, "order line is shipping, not updated", "order", order.OrderNumber, "line", d.lineNumber)
			continue
		}
		if !found {
			line = &model.OrderLine{OrderID: order.ID, LineNumber: d.lineNumber}
		}

		var lineChanges changeSet
		applyLineDraft(&lineChanges, line, d)
		switch {
		case !found:
			if err := tx.Omit(clause.Associations).Create(line).Error; err != nil {
				return fmt.Errorf("failed to create line %d of order %s: %w", d.lineNumber, order.OrderNumber, err)
			}
			changes.mark("lines")
		case lineChanges.dirty():
			updated, err := updateUnshippedLine(tx, line)
			if err != nil {
				return fmt.Errorf("failed to update line %d of order %s: %w", d.lineNumber, order.OrderNumber, err)
			}
			if !updated {
				slog.InfoContext(ctx, "order line started shipping, not updated", "order", order.OrderNumber, "line", d.lineNumber)
				continue
			}
			changes.merge(lineChanges)
		}
	}

	for i := range existing {
		line := &existing[i]
		if seen[line.LineNumber] || line.Shipping {
			continue
		}
		deleted, err := deleteUnshippedLine(tx, line)
		if err != nil {
			return fmt.Errorf("failed to delete line %d of order %s: %w", line.LineNumber, order.OrderNumber, err)
		}
		if !deleted {
			slog.InfoContext(ctx, "order line started shipping, not deleted", "order", order.OrderNumber, "line", line.LineNumber)
			continue
		}
		changes.mark("lines")
	}

	if !changes.dirty() {
		slog.DebugContext(ctx, "order unchanged", "order", order.OrderNumber, "revision", order.Revision)
		return nil
	}
	slog.InfoContext(ctx, "order updated", "order", order.OrderNumber, "revision", order.Revision, "lines", len(drafts))
	return a.snapshot(ctx, tx, doc, order.ID)
}

// Shipment assembly flags lines shipping without the order's row lock.
// Writes to an existing line only apply while the stored flag is false.
var lineUpdateColumns = []string{
	"product_id", "quantity", "unit_price", "unit_of_measure", "sku", "hts", "attributes", "updated_at",
}

func updateUnshippedLine(tx *gorm.DB, line *model.OrderLine) (bool, error) {
	res := tx.Model(line).
		Where("shipping = ?", false).
		Select(lineUpdateColumns).
		Updates(line)
	return res.RowsAffected > 0, res.Error
}

func deleteUnshippedLine(tx *gorm.DB, line *model.OrderLine) (bool, error) {
	res := tx.Where("id = ? AND shipping = ?", line.ID, false).Delete(&model.OrderLine{})
	return res.RowsAffected > 0, res.Error
}

func (a *OrderAssembler) snapshot(ctx context.Context, tx *gorm.DB, doc *document, orderID uuid.UUID) error {
	var order model.Order
	err := tx.Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_number")
	}).First(&order, "id = ?", orderID).Error
	if err != nil {
		return fmt.Errorf("failed to load order for snapshot: %w", err)
	}
	return a.deps.Audit.Snapshot(ctx, tx, "Order", order.ID, doc.fileName, order)
}

func applyOrderHeader(c *changeSet, o *model.Order, h orderHeader) {
	set(c, "revision", &o.Revision, h.revision)
	setTime(c, "revision_date", &o.RevisionDate, h.revisionDate)
	setTime(c, "order_date", &o.OrderDate, h.orderDate)
	setTime(c, "ship_window_start", &o.ShipWindowStart, h.shipWindowStart)
	setTime(c, "ship_window_end", &o.ShipWindowEnd, h.shipWindowEnd)
	set(c, "customer_order_number", &o.CustomerOrderNumber, h.customerOrderNumber)
	set(c, "order_type", &o.OrderType, h.orderType)
	set(c, "mode", &o.Mode, h.mode)
	set(c, "fob_payment_method", &o.FOBPaymentMethod, h.paymentMethod)
	set(c, "terms_of_sale", &o.TermsOfSale, h.termsOfSale)
	set(c, "forwarder_code", &o.ForwarderCode, h.forwarderCode)
	set(c, "forwarder_name", &o.ForwarderName, h.forwarderName)
}

func applyLineDraft(c *changeSet, l *model.OrderLine, d lineDraft) {
	setDecimal(c, "quantity", &l.Quantity, d.quantity)
	setDecimal(c, "unit_price", &l.UnitPrice, d.unitPrice)
	set(c, "unit_of_measure", &l.UnitOfMeasure, d.uom)
	set(c, "sku", &l.SKU, d.sku)
	set(c, "hts", &l.HTS, d.hts)
	setAttributes(c, "attributes", &l.Attributes, d.attributes)

	var productID *uuid.UUID
	if d.product != nil {
		id := d.product.ID
		productID = &id
	}
	setPtr(c, "product_id", &l.ProductID, productID)
}

func parseOrderHeader(segments []edi.Segment) (orderHeader, error) {
	beg, ok := edi.FindFirst(segments, "BEG")
	if !ok {
		return orderHeader{}, structuralf("850 has no BEG segment")
	}
	h := orderHeader{
		cancel:    beg.Element(1) == cancelPurpose,
		orderType: beg.Element(2),
		poNumber:  beg.Element(3),
	}
	if h.poNumber == "" {
		return h, structuralf("BEG03 purchase order number is empty")
	}
	if raw := beg.Element(4); raw != "" {
		rev, err := strconv.Atoi(raw)
		if err != nil || rev < 0 {
			return h, structuralf("BEG04 revision %q is not a number", raw)
		}
		h.revision = rev
	}
	h.orderDate, _ = parseDate(beg.Element(5), "")

	header := edi.Before(segments, "PO1")
	h.revisionDate = qualifiedDate(header, "097")
	h.shipWindowStart = qualifiedDate(header, "037")
	h.shipWindowEnd = qualifiedDate(header, "038")
	if ref, ok := edi.FindQualified(header, "REF", 1, "CO"); ok {
		h.customerOrderNumber = ref.Element(2)
	}
	if ref, ok := edi.FindQualified(header, "REF", 1, "DP"); ok {
		h.department = ref.Element(2)
	}
	if fob, ok := edi.FindFirst(header, "FOB"); ok {
		h.paymentMethod = fob.Element(1)
		h.termsOfSale = fob.Element(5)
	}
	if td5, ok := edi.FindFirst(header, "TD5"); ok {
		h.mode = td5.Element(4)
	}
	if n1, ok := edi.FindQualified(header, "N1", 1, "FW"); ok {
		h.forwarderName = n1.Element(2)
		h.forwarderCode = n1.Element(4)
	}
	return h, nil
}

// buildLineDrafts turns each PO1 loop into one standard line, or into one
// line per SLN subline when PO103 marks a prepack.
func buildLineDrafts(segments []edi.Segment, h orderHeader) ([]lineDraft, error) {
	var drafts []lineDraft
	seen := make(map[int]bool)
	add := func(d lineDraft) error {
		if seen[d.lineNumber] {
			return structuralf("duplicate order line number %d", d.lineNumber)
		}
		seen[d.lineNumber] = true
		drafts = append(drafts, d)
		return nil
	}

	for _, loop := range edi.ExtractLoop(segments, []string{"PO1"}, po1StopTags) {
		po1 := loop[0]
		lineNumber, err := strconv.Atoi(po1.Element(1))
		if err != nil || lineNumber < 1 {
			return nil, structuralf("PO101 line number %q is not a positive number", po1.Element(1))
		}
		quantity, err := parseDecimal("PO102", po1.Element(2))
		if err != nil {
			return nil, err
		}

		if po1.Element(3) == prepackUOM {
			sublines := edi.ExtractLoop(loop[1:], []string{"SLN"}, nil)
			if len(sublines) > 0 {
				packTariffs := edi.FindAll(edi.Before(loop[1:], "SLN"), "TC2")
				for _, sub := range sublines {
					d, err := sublineDraft(po1, lineNumber, quantity, sub, packTariffs, h)
					if err != nil {
						return nil, err
					}
					if err := add(d); err != nil {
						return nil, err
					}
				}
				continue
			}
		}

		price, err := parseDecimal("PO104", po1.Element(4))
		if err != nil {
			return nil, err
		}
		tariffs := edi.FindAll(loop, "TC2")
		d := lineDraft{
			lineNumber: lineNumber,
			quantity:   quantity,
			unitPrice:  price,
			uom:        po1.Element(3),
			sku:        edi.Value(po1, "UP"),
			hts:        lineHTS(htsCodes(tariffs)),
			attributes: attributes(
				model.AttrDepartment, h.department,
				model.AttrColor, edi.Value(po1, "BO"),
				model.AttrSize, edi.Value(po1, "IZ"),
				model.AttrBuyerItemNumber, edi.Value(po1, "IN"),
			),
			style:   po1,
			tariffs: tariffs,
		}
		if err := add(d); err != nil {
			return nil, err
		}
	}
	return drafts, nil
}

// sublineDraft explodes one SLN of a prepack: the line quantity is the number
// of packs ordered times the units of this style in one pack, in eaches.
func sublineDraft(po1 edi.Segment, lineNumber int, packs decimal.Decimal, sub []edi.Segment, packTariffs []edi.Segment, h orderHeader) (lineDraft, error) {
	sln := sub[0]
	subline, err := strconv.Atoi(sln.Element(1))
	if err != nil || subline < 1 || subline >= sublineBand {
		return lineDraft{}, structuralf("SLN01 subline number %q on PO line %d is out of range", sln.Element(1), lineNumber)
	}
	perPack, err := parseDecimal("SLN04", sln.Element(4))
	if err != nil {
		return lineDraft{}, err
	}
	price, err := parseDecimal("SLN06", sln.Element(6))
	if err != nil {
		return lineDraft{}, err
	}

	style := sln
	if edi.Value(sln, "IT") == "" {
		style = po1
	}
	tariffs := edi.FindAll(sub, "TC2")
	if len(tariffs) == 0 {
		tariffs = packTariffs
	}

	return lineDraft{
		lineNumber: lineNumber*sublineBand + subline,
		quantity:   packs.Mul(perPack),
		unitPrice:  price,
		uom:        eachUOM,
		sku:        edi.Value(sln, "UP"),
		hts:        lineHTS(htsCodes(tariffs)),
		attributes: attributes(
			model.AttrDepartment, h.department,
			model.AttrColor, edi.Value(sln, "BO"),
			model.AttrSize, edi.Value(sln, "IZ"),
			model.AttrBuyerItemNumber, edi.Value(sln, "IN"),
			model.AttrOuterPackID, edi.Value(po1, "IN"),
			model.AttrPrepackCount, packs.String(),
			model.AttrPrepackUnitQty, perPack.String(),
		),
		style:   style,
		tariffs: tariffs,
	}, nil
}

// attributes builds an attribute map from name/value pairs, leaving out
// empty values.
func attributes(pairs ...string) map[string]string {
	attrs := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			attrs[pairs[i]] = pairs[i+1]
		}
	}
	return attrs
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, structuralf("%s value %q is not a number", field, raw)
	}
	return d, nil
}
