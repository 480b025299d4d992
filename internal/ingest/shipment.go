package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/OpenNSW/edibridge/internal/reference"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tags that end the 856 hierarchy.
var hlStopTags = []string{"CTT", "SE"}

// R401 port roles.
const (
	portReceipt          = "R"
	portLading           = "L"
	portUnlading         = "D"
	portFinalDestination = "E"
)

type shipmentHeader struct {
	shipmentNumber string
	exportedAt     time.Time
	structure      string
	carrierCode    string
	mode           string
	ports          map[string]string // R401 role to R403 UN/LOCODE
	containers     []model.Container
	masterBill     string
	houseBill      string
	departure      *time.Time
	estArrival     *time.Time
	arrival        *time.Time
	estDelivery    *time.Time
}

// ShipmentAssembler applies 856 ship notices.
type ShipmentAssembler struct {
	deps Deps
}

func NewShipmentAssembler(deps Deps) *ShipmentAssembler {
	return &ShipmentAssembler{deps: deps}
}

// Reference is the stored shipment reference for a partner shipment number.
func (a *ShipmentAssembler) Reference(shipmentNumber string) string {
	return a.deps.Partner.Prefix + "-" + shipmentNumber
}

// Apply rebuilds the shipment carried by an 856. Structural problems are
// reported before anything is written.
func (a *ShipmentAssembler) Apply(ctx context.Context, doc *document) (applyResult, error) {
	root, err := edi.ExtractHierarchicalLoops(doc.txn.Segments, hlStopTags)
	if err != nil {
		return applyResult{}, structuralf("%w", err)
	}
	shipmentNode := firstChildAt(root, edi.LevelShipment)
	if shipmentNode == nil {
		return applyResult{}, structuralf("856 has no shipment level HL")
	}
	header, err := parseShipmentHeader(append(append([]edi.Segment{}, root.Segments...), shipmentNode.Segments...))
	if err != nil {
		return applyResult{}, err
	}
	if err := ValidateStructure(header.structure); err != nil {
		return applyResult{}, err
	}

	ref := a.Reference(header.shipmentNumber)
	result := applyResult{key: ref}
	ports := a.resolvePorts(ctx, ref, header.ports)

	importerID := doc.importer.ID
	exportedAt := header.exportedAt
	gate := &Gate[model.Shipment]{
		DB:      a.deps.DB,
		Named:   a.deps.Named,
		Rows:    a.deps.Rows,
		LockKey: "Shipment-" + ref,
		Find: func(ctx context.Context, tx *gorm.DB) (*model.Shipment, error) {
			return findOne[model.Shipment](tx, "importer_id = ? AND reference = ?", importerID, ref)
		},
		Create: func(ctx context.Context, tx *gorm.DB) (*model.Shipment, error) {
			return create(tx, &model.Shipment{ImporterID: importerID, Reference: ref})
		},
		ID: func(s *model.Shipment) uuid.UUID { return s.ID },
		Accept: func(s *model.Shipment) bool {
			return s.LastExportedFrom == nil || !exportedAt.Before(*s.LastExportedFrom)
		},
	}

	shipment, accepted, err := gate.Admit(ctx)
	if err != nil {
		return result, err
	}
	if !accepted {
		slog.InfoContext(ctx, "skipping stale ship notice",
			"shipment", ref,
			"incoming", exportedAt,
			"stored", shipment.LastExportedFrom,
		)
		return result, nil
	}

	result.applied, err = gate.Commit(ctx, shipment, func(ctx context.Context, tx *gorm.DB, locked *model.Shipment) error {
		return a.apply(ctx, tx, doc, locked, header, ports, root)
	})
	return result, err
}

// resolvePorts looks ports up outside of any transaction. Unknown ports are
// left empty on the shipment.
func (a *ShipmentAssembler) resolvePorts(ctx context.Context, shipmentRef string, codes map[string]string) map[string]*uuid.UUID {
	ports := make(map[string]*uuid.UUID, len(codes))
	for role, code := range codes {
		port, err := a.deps.Directory.Port(ctx, code)
		if err != nil {
			level := slog.LevelError
			if errors.Is(err, reference.ErrNotFound) {
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, "port not resolved", "shipment", shipmentRef, "role", role, "unlocode", code, "error", err)
			continue
		}
		id := port.ID
		ports[role] = &id
	}
	return ports
}

func (a *ShipmentAssembler) apply(ctx context.Context, tx *gorm.DB, doc *document, shipment *model.Shipment, h shipmentHeader, ports map[string]*uuid.UUID, root *edi.HLNode) error {
	exportedAt := h.exportedAt
	shipment.LastExportedFrom = &exportedAt
	shipment.CarrierCode = h.carrierCode
	shipment.Mode = h.mode
	shipment.ReceiptPortID = ports[portReceipt]
	shipment.LadingPortID = ports[portLading]
	shipment.UnladingPortID = ports[portUnlading]
	shipment.FinalDestinationPortID = ports[portFinalDestination]
	shipment.MasterBillOfLading = h.masterBill
	shipment.HouseBillOfLading = h.houseBill
	shipment.DepartureDate = h.departure
	shipment.EstArrivalPortDate = h.estArrival
	shipment.ArrivalPortDate = h.arrival
	shipment.EstDeliveryDate = h.estDelivery

	if err := tx.Where("shipment_id = ?", shipment.ID).Delete(&model.ShipmentLine{}).Error; err != nil {
		return fmt.Errorf("failed to clear shipment lines: %w", err)
	}
	if err := tx.Where("shipment_id = ?", shipment.ID).Delete(&model.Container{}).Error; err != nil {
		return fmt.Errorf("failed to clear containers: %w", err)
	}

	var containerID *uuid.UUID
	for i := range h.containers {
		c := h.containers[i]
		c.ShipmentID = shipment.ID
		if err := tx.Create(&c).Error; err != nil {
			return fmt.Errorf("failed to create container %s: %w", c.ContainerNumber, err)
		}
		if containerID == nil {
			id := c.ID
			containerID = &id
		}
	}

	orders := newOrderIndex(ctx, tx, doc.importer.ID, a.deps.Partner.Prefix)
	loops, err := Walk(root, h.structure, orders.prepackLines)
	if err != nil {
		return err
	}

	lineNumber := 0
	packages := 0
	gross := decimal.Zero
	for _, po := range loops {
		for _, item := range po.Items {
			orderLine, err := orders.lineFor(po.PONumber, item)
			if err != nil {
				return err
			}
			lineNumber++
			line := model.ShipmentLine{
				ShipmentID:  shipment.ID,
				LineNumber:  lineNumber,
				ProductID:   orderLine.ProductID,
				ContainerID: containerID,
				OrderLineID: &orderLine.ID,
				Quantity:    item.Quantity,
				CartonQty:   item.Cartons,
				GrossKgs:    item.Weight,
			}
			if err := tx.Create(&line).Error; err != nil {
				return fmt.Errorf("failed to create shipment line %d: %w", lineNumber, err)
			}
			if line.CartonQty != nil {
				packages += *line.CartonQty
				gross = gross.Add(line.GrossKgs)
			}
			if err := orders.markShipping(orderLine); err != nil {
				return err
			}
		}
	}

	shipment.NumberOfPackages = packages
	shipment.GrossWeight = gross
	if err := tx.Omit(clause.Associations).Save(shipment).Error; err != nil {
		return fmt.Errorf("failed to save shipment %s: %w", shipment.Reference, err)
	}
	slog.InfoContext(ctx, "shipment rebuilt",
		"shipment", shipment.Reference,
		"lines", lineNumber,
		"packages", packages,
		"grossWeight", gross.String(),
	)

	var snapshot model.Shipment
	err = tx.Preload("Containers").Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_number")
	}).First(&snapshot, "id = ?", shipment.ID).Error
	if err != nil {
		return fmt.Errorf("failed to load shipment for snapshot: %w", err)
	}
	return a.deps.Audit.Snapshot(ctx, tx, "Shipment", shipment.ID, doc.fileName, snapshot)
}

func parseShipmentHeader(segments []edi.Segment) (shipmentHeader, error) {
	bsn, ok := edi.FindFirst(segments, "BSN")
	if !ok {
		return shipmentHeader{}, structuralf("856 has no BSN segment")
	}
	h := shipmentHeader{
		shipmentNumber: bsn.Element(2),
		structure:      bsn.Element(5),
		ports:          make(map[string]string),
	}
	if h.shipmentNumber == "" {
		return h, structuralf("BSN02 shipment identification is empty")
	}
	exportedAt, ok := parseDate(bsn.Element(3), bsn.Element(4))
	if !ok {
		return h, structuralf("BSN03/BSN04 date %q %q is invalid", bsn.Element(3), bsn.Element(4))
	}
	h.exportedAt = *exportedAt

	if td5, ok := edi.FindFirst(segments, "TD5"); ok {
		h.carrierCode = td5.Element(3)
		h.mode = td5.Element(4)
	}
	for _, r4 := range edi.FindAll(segments, "R4") {
		switch role := r4.Element(1); role {
		case portReceipt, portLading, portUnlading, portFinalDestination:
			if code := r4.Element(3); code != "" {
				h.ports[role] = code
			}
		}
	}
	for _, td3 := range edi.FindAll(segments, "TD3") {
		number := td3.Element(2) + td3.Element(3)
		if number == "" {
			continue
		}
		h.containers = append(h.containers, model.Container{ContainerNumber: number, SealNumber: td3.Element(9)})
	}
	if ref, ok := edi.FindQualified(segments, "REF", 1, "BM"); ok {
		h.masterBill = ref.Element(2)
	}
	if ref, ok := edi.FindQualified(segments, "REF", 1, "CN"); ok {
		h.houseBill = ref.Element(2)
	}
	h.departure = qualifiedDate(segments, "011")
	h.estArrival = qualifiedDate(segments, "371")
	h.arrival = qualifiedDate(segments, "372")
	h.estDelivery = qualifiedDate(segments, "017")
	return h, nil
}

func firstChildAt(n *edi.HLNode, level string) *edi.HLNode {
	for _, c := range n.Children {
		if c.Level == level {
			return c
		}
	}
	return nil
}

// orderIndex loads the orders an 856 refers to, once each, inside the
// shipment's transaction.
type orderIndex struct {
	ctx        context.Context
	tx         *gorm.DB
	importerID uuid.UUID
	prefix     string
	orders     map[string]*indexedOrder
}

type indexedOrder struct {
	order model.Order
	lines []model.OrderLine
}

func newOrderIndex(ctx context.Context, tx *gorm.DB, importerID uuid.UUID, prefix string) *orderIndex {
	return &orderIndex{ctx: ctx, tx: tx, importerID: importerID, prefix: prefix, orders: make(map[string]*indexedOrder)}
}

func (x *orderIndex) get(poNumber string) (*indexedOrder, error) {
	if o, ok := x.orders[poNumber]; ok {
		return o, nil
	}
	orderNumber := x.prefix + "-" + poNumber
	order, err := findOne[model.Order](x.tx.WithContext(x.ctx), "importer_id = ? AND order_number = ?", x.importerID, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderNumber, err)
	}
	if order == nil {
		return nil, businessf("order %s not found", orderNumber)
	}
	o := &indexedOrder{order: *order}
	if err := x.tx.WithContext(x.ctx).Where("order_id = ?", order.ID).Order("line_number").Find(&o.lines).Error; err != nil {
		return nil, fmt.Errorf("failed to load lines of order %s: %w", orderNumber, err)
	}
	x.orders[poNumber] = o
	return o, nil
}

// prepackLines returns the prepack sublines of the order packed in the
// given outer pack, by line number.
func (x *orderIndex) prepackLines(poNumber, outerPackID string) ([]model.OrderLine, error) {
	o, err := x.get(poNumber)
	if err != nil {
		return nil, err
	}
	var lines []model.OrderLine
	for _, l := range o.lines {
		if outerPackID != "" && l.Attribute(model.AttrOuterPackID) == outerPackID && l.Attribute(model.AttrPrepackUnitQty) != "" {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].LineNumber < lines[j].LineNumber })
	return lines, nil
}

// lineFor finds the order line an item ships: the line it was recovered
// from, else the first line with its buyer item number, else with its sku.
func (x *orderIndex) lineFor(poNumber string, item *ShippedItem) (*model.OrderLine, error) {
	o, err := x.get(poNumber)
	if err != nil {
		return nil, err
	}
	if item.OrderLineID != nil {
		for i := range o.lines {
			if o.lines[i].ID == *item.OrderLineID {
				return &o.lines[i], nil
			}
		}
		return nil, businessf("order line %s not found on order %s", item.OrderLineID, o.order.OrderNumber)
	}
	if item.ItemID != "" {
		for i := range o.lines {
			if o.lines[i].Attribute(model.AttrBuyerItemNumber) == item.ItemID {
				return &o.lines[i], nil
			}
		}
		for i := range o.lines {
			if o.lines[i].SKU == item.ItemID {
				return &o.lines[i], nil
			}
		}
	}
	return nil, businessf("no line for item %s on order %s", item.ItemID, o.order.OrderNumber)
}

func (x *orderIndex) markShipping(line *model.OrderLine) error {
	if line.Shipping {
		return nil
	}
	res := x.tx.WithContext(x.ctx).Model(&model.OrderLine{}).Where("id = ?", line.ID).Update("shipping", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark order line %d shipping: %w", line.LineNumber, res.Error)
	}
	if res.RowsAffected == 0 {
		return businessf("order line %d (%s) no longer exists", line.LineNumber, line.ID)
	}
	line.Shipping = true
	return nil
}
