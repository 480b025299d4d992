package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Shipment is built from an 856. Its containers and lines are rebuilt on
// every accepted re-send.
type Shipment struct {
	BaseModel
	ImporterID             uuid.UUID       `gorm:"type:uuid;column:importer_id;not null;uniqueIndex:idx_shipments_importer_reference" json:"importerId"`
	Reference              string          `gorm:"type:varchar(100);column:reference;not null;uniqueIndex:idx_shipments_importer_reference" json:"reference"`
	LastExportedFrom       *time.Time      `gorm:"column:last_exported_from" json:"lastExportedFrom,omitempty"`
	CarrierCode            string          `gorm:"type:varchar(10);column:carrier_code" json:"carrierCode"`
	Mode                   string          `gorm:"type:varchar(20);column:mode" json:"mode"`
	ReceiptPortID          *uuid.UUID      `gorm:"type:uuid;column:receipt_port_id" json:"receiptPortId,omitempty"`
	LadingPortID           *uuid.UUID      `gorm:"type:uuid;column:lading_port_id" json:"ladingPortId,omitempty"`
	UnladingPortID         *uuid.UUID      `gorm:"type:uuid;column:unlading_port_id" json:"unladingPortId,omitempty"`
	FinalDestinationPortID *uuid.UUID      `gorm:"type:uuid;column:final_destination_port_id" json:"finalDestinationPortId,omitempty"`
	MasterBillOfLading     string          `gorm:"type:varchar(100);column:master_bill_of_lading" json:"masterBillOfLading"`
	HouseBillOfLading      string          `gorm:"type:varchar(100);column:house_bill_of_lading" json:"houseBillOfLading"`
	DepartureDate          *time.Time      `gorm:"column:departure_date" json:"departureDate,omitempty"`
	EstArrivalPortDate     *time.Time      `gorm:"column:est_arrival_port_date" json:"estArrivalPortDate,omitempty"`
	ArrivalPortDate        *time.Time      `gorm:"column:arrival_port_date" json:"arrivalPortDate,omitempty"`
	EstDeliveryDate        *time.Time      `gorm:"column:est_delivery_date" json:"estDeliveryDate,omitempty"`
	NumberOfPackages       int             `gorm:"column:number_of_packages;not null;default:0" json:"numberOfPackages"`
	GrossWeight            decimal.Decimal `gorm:"type:decimal(13,2);column:gross_weight;not null" json:"grossWeight"`
	Containers             []Container     `gorm:"foreignKey:ShipmentID;references:ID" json:"containers,omitempty"`
	Lines                  []ShipmentLine  `gorm:"foreignKey:ShipmentID;references:ID" json:"lines,omitempty"`
}

func (s *Shipment) TableName() string {
	return "shipments"
}

// Container is identified by its number within a shipment.
type Container struct {
	BaseModel
	ShipmentID      uuid.UUID `gorm:"type:uuid;column:shipment_id;not null;index" json:"shipmentId"`
	ContainerNumber string    `gorm:"type:varchar(20);column:container_number;not null" json:"containerNumber"`
	SealNumber      string    `gorm:"type:varchar(50);column:seal_number" json:"sealNumber"`
}

func (c *Container) TableName() string {
	return "containers"
}

// ShipmentLine links shipped quantity to the order line it fulfils.
type ShipmentLine struct {
	BaseModel
	ShipmentID  uuid.UUID       `gorm:"type:uuid;column:shipment_id;not null;index" json:"shipmentId"`
	LineNumber  int             `gorm:"column:line_number;not null" json:"lineNumber"`
	ProductID   *uuid.UUID      `gorm:"type:uuid;column:product_id" json:"productId,omitempty"`
	ContainerID *uuid.UUID      `gorm:"type:uuid;column:container_id" json:"containerId,omitempty"`
	OrderLineID *uuid.UUID      `gorm:"type:uuid;column:order_line_id" json:"orderLineId,omitempty"`
	Quantity    decimal.Decimal `gorm:"type:decimal(13,4);column:quantity;not null" json:"quantity"`
	CartonQty   *int            `gorm:"column:carton_qty" json:"cartonQty,omitempty"`
	GrossKgs    decimal.Decimal `gorm:"type:decimal(13,2);column:gross_kgs;not null" json:"grossKgs"`
}

func (sl *ShipmentLine) TableName() string {
	return "shipment_lines"
}
