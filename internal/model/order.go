package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HTSMultiple is stored on an order line that carries more than one distinct
// HTS number.
const HTSMultiple = "MULTI"

// Order line attribute names.
const (
	AttrDepartment      = "department"
	AttrColor           = "color"
	AttrSize            = "size"
	AttrBuyerItemNumber = "buyer_item_number"
	AttrOuterPackID     = "outer_pack_id"
	AttrPrepackCount    = "prepack_count"    // Outer packs ordered on the PO line
	AttrPrepackUnitQty  = "prepack_unit_qty" // Units of this subline in one outer pack
)

// Order is a purchase order received on an 850. OrderNumber is derived from
// the partner's PO number.
type Order struct {
	BaseModel
	ImporterID          uuid.UUID   `gorm:"type:uuid;column:importer_id;not null;uniqueIndex:idx_orders_importer_number" json:"importerId"`
	OrderNumber         string      `gorm:"type:varchar(100);column:order_number;not null;uniqueIndex:idx_orders_importer_number" json:"orderNumber"`
	CustomerOrderNumber string      `gorm:"type:varchar(100);column:customer_order_number" json:"customerOrderNumber"`
	Revision            int         `gorm:"column:revision;not null;default:0" json:"revision"`
	RevisionDate        *time.Time  `gorm:"column:revision_date" json:"revisionDate,omitempty"`
	OrderDate           *time.Time  `gorm:"column:order_date" json:"orderDate,omitempty"`
	ShipWindowStart     *time.Time  `gorm:"column:ship_window_start" json:"shipWindowStart,omitempty"`
	ShipWindowEnd       *time.Time  `gorm:"column:ship_window_end" json:"shipWindowEnd,omitempty"`
	OrderType           string      `gorm:"type:varchar(10);column:order_type" json:"orderType"`
	Mode                string      `gorm:"type:varchar(20);column:mode" json:"mode"`
	FOBPaymentMethod    string      `gorm:"type:varchar(10);column:fob_payment_method" json:"fobPaymentMethod"`
	TermsOfSale         string      `gorm:"type:varchar(10);column:terms_of_sale" json:"termsOfSale"`
	ForwarderCode       string      `gorm:"type:varchar(80);column:forwarder_code" json:"forwarderCode"`
	ForwarderName       string      `gorm:"type:varchar(255);column:forwarder_name" json:"forwarderName"`
	Closed              bool        `gorm:"type:boolean;column:closed;not null;default:false" json:"closed"`
	ClosedAt            *time.Time  `gorm:"column:closed_at" json:"closedAt,omitempty"`
	Lines               []OrderLine `gorm:"foreignKey:OrderID;references:ID" json:"lines,omitempty"`
}

func (o *Order) TableName() string {
	return "orders"
}

// OrderLine is one standard PO line or one exploded prepack subline.
type OrderLine struct {
	BaseModel
	OrderID       uuid.UUID         `gorm:"type:uuid;column:order_id;not null;uniqueIndex:idx_order_lines_order_line" json:"orderId"`
	LineNumber    int               `gorm:"column:line_number;not null;uniqueIndex:idx_order_lines_order_line" json:"lineNumber"`
	ProductID     *uuid.UUID        `gorm:"type:uuid;column:product_id" json:"productId,omitempty"`
	Quantity      decimal.Decimal   `gorm:"type:decimal(13,4);column:quantity;not null" json:"quantity"`
	UnitPrice     decimal.Decimal   `gorm:"type:decimal(13,4);column:unit_price;not null" json:"unitPrice"`
	UnitOfMeasure string            `gorm:"type:varchar(10);column:unit_of_measure" json:"unitOfMeasure"`
	SKU           string            `gorm:"type:varchar(100);column:sku" json:"sku"`
	HTS           string            `gorm:"type:varchar(20);column:hts" json:"hts"`
	Attributes    map[string]string `gorm:"type:jsonb;column:attributes;serializer:json" json:"attributes"`
	Shipping      bool              `gorm:"type:boolean;column:shipping;not null;default:false" json:"shipping"` // Set once a shipment line references it; never cleared
	Product       *Product          `gorm:"foreignKey:ProductID;references:ID" json:"product,omitempty"`
}

func (ol *OrderLine) TableName() string {
	return "order_lines"
}

// Attribute returns a named attribute or "".
func (ol *OrderLine) Attribute(name string) string {
	if ol.Attributes == nil {
		return ""
	}
	return ol.Attributes[name]
}
