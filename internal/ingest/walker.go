package ingest

import (
	"strconv"

	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/OpenNSW/edibridge/internal/proration"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BSN05 hierarchical structure codes.
const (
	StructurePackItem = "0001" // Shipment, Order, Pack, Item
	StructureItemPack = "0002" // Shipment, Order, Item, Pack
)

// assortmentKeySep joins PO number and order line number in the key of an
// item recovered from the order's prepack lines.
const assortmentKeySep = "*~*"

// ShippedItem is the quantity of one style, or one order line, shipped on a PO.
type ShippedItem struct {
	Key      string
	ItemID   string // Buyer item number or UPC used to find the order line
	Quantity decimal.Decimal
	Cartons  *int // nil for styles sharing an outer carton credited to another style
	Weight   decimal.Decimal
	// OrderLineID is set when the item was recovered from the order itself.
	OrderLineID *uuid.UUID
}

// POLoop is everything shipped against one purchase order.
type POLoop struct {
	PONumber  string
	Weight    decimal.Decimal
	HasWeight bool
	Items     []*ShippedItem

	byKey map[string]*ShippedItem
}

func (p *POLoop) add(item ShippedItem) {
	if existing, ok := p.byKey[item.Key]; ok {
		existing.Quantity = existing.Quantity.Add(item.Quantity)
		if item.Cartons != nil {
			sum := *item.Cartons
			if existing.Cartons != nil {
				sum += *existing.Cartons
			}
			existing.Cartons = &sum
		}
		return
	}
	it := item
	p.byKey[item.Key] = &it
	p.Items = append(p.Items, &it)
}

// PrepackSource returns the order's prepack sublines packed in the outer
// pack with the given buyer item number.
type PrepackSource func(poNumber, outerPackID string) ([]model.OrderLine, error)

// ValidateStructure rejects BSN05 codes other than the two supported shapes.
func ValidateStructure(code string) error {
	switch code {
	case StructurePackItem, StructureItemPack:
		return nil
	}
	return structuralf("unsupported BSN05 hierarchical structure code %q", code)
}

// Walk reads the PO loops of an 856 tree. Items with the same key under one
// PO are merged and each PO's weight is spread over its items.
func Walk(root *edi.HLNode, structure string, prepacks PrepackSource) ([]*POLoop, error) {
	if err := ValidateStructure(structure); err != nil {
		return nil, err
	}

	var (
		loops []*POLoop
		byPO  = make(map[string]*POLoop)
	)
	for _, shipment := range childrenAt(root, edi.LevelShipment) {
		for _, orderNode := range childrenAt(shipment, edi.LevelOrder) {
			prf, _ := orderNode.FindFirst("PRF")
			poNumber := prf.Element(1)
			if poNumber == "" {
				return nil, structuralf("order HL %s has no PRF01 purchase order number", orderNode.ID)
			}
			po, ok := byPO[poNumber]
			if !ok {
				po = &POLoop{PONumber: poNumber, byKey: make(map[string]*ShippedItem)}
				byPO[poNumber] = po
				loops = append(loops, po)
			}
			if td1, ok := orderNode.FindFirst("TD1"); ok {
				if w, ok := proration.CalculateWeight(td1); ok {
					po.Weight = po.Weight.Add(w)
					po.HasWeight = true
				}
			}

			switch structure {
			case StructurePackItem:
				for _, pack := range childrenAt(orderNode, edi.LevelPack) {
					for _, item := range childrenAt(pack, edi.LevelItem) {
						if err := walkItem(po, item, 1, prepacks); err != nil {
							return nil, err
						}
					}
				}
			case StructureItemPack:
				for _, item := range childrenAt(orderNode, edi.LevelItem) {
					if err := walkItem(po, item, len(item.Children), prepacks); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	for _, po := range loops {
		if !po.HasWeight {
			continue
		}
		shares := make([]proration.Share, len(po.Items))
		for i, it := range po.Items {
			shares[i] = proration.Share{Key: it.Key, Quantity: it.Quantity}
		}
		for i, alloc := range proration.AllocatePO(po.Weight, shares) {
			po.Items[i].Weight = alloc.Weight
		}
	}
	return loops, nil
}

// walkItem reads one item loop. cartons is what the loop shape credits to it.
func walkItem(po *POLoop, node *edi.HLNode, cartons int, prepacks PrepackSource) error {
	lin, _ := node.FindFirst("LIN")
	itemID := itemIdentifier(lin)
	sn1, ok := node.FindFirst("SN1")
	if !ok {
		return structuralf("item HL %s has no SN1 segment", node.ID)
	}
	shipped, err := parseDecimal("SN102", sn1.Element(2))
	if err != nil {
		return err
	}

	if sn1.Element(3) != prepackUOM {
		if itemID == "" {
			return structuralf("item HL %s has no buyer item number or UPC", node.ID)
		}
		po.add(ShippedItem{Key: itemID, ItemID: itemID, Quantity: shipped, Cartons: &cartons})
		return nil
	}

	sublines := node.FindAll("SLN")
	if len(sublines) > 0 {
		// The outer carton is credited once, to the first style in it.
		for i, sln := range sublines {
			id := itemIdentifier(sln)
			if id == "" {
				return structuralf("SLN %s in item HL %s has no buyer item number or UPC", sln.Element(1), node.ID)
			}
			perPack, err := parseDecimal("SLN04", sln.Element(4))
			if err != nil {
				return err
			}
			var c *int
			if i == 0 {
				c = &cartons
			}
			po.add(ShippedItem{Key: id, ItemID: id, Quantity: shipped.Mul(perPack), Cartons: c})
		}
		return nil
	}

	// Assortment sent without sublines: recover the styles from the order.
	if prepacks == nil {
		return businessf("assortment %s on PO %s has no sublines", itemID, po.PONumber)
	}
	lines, err := prepacks(po.PONumber, itemID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return businessf("no prepack lines for outer pack %s on PO %s", itemID, po.PONumber)
	}
	for i, line := range lines {
		perPack, err := parseDecimal(model.AttrPrepackUnitQty, line.Attribute(model.AttrPrepackUnitQty))
		if err != nil {
			return err
		}
		var c *int
		if i == 0 {
			c = &cartons
		}
		id := line.ID
		po.add(ShippedItem{
			Key:         po.PONumber + assortmentKeySep + strconv.Itoa(line.LineNumber),
			ItemID:      line.Attribute(model.AttrBuyerItemNumber),
			Quantity:    shipped.Mul(perPack),
			Cartons:     c,
			OrderLineID: &id,
		})
	}
	return nil
}

// itemIdentifier is the IN-qualified buyer item number, or the UPC.
func itemIdentifier(s edi.Segment) string {
	if id := edi.Value(s, "IN"); id != "" {
		return id
	}
	return edi.Value(s, "UP")
}

func childrenAt(n *edi.HLNode, level string) []*edi.HLNode {
	var out []*edi.HLNode
	for _, c := range n.Children {
		if c.Level == level {
			out = append(out, c)
		}
	}
	return out
}
