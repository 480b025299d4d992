package model

import "github.com/google/uuid"

// Product is created from the style carried on order lines. UniqueIdentifier
// is "<partner prefix>-<style>" and is unique per importer.
type Product struct {
	BaseModel
	ImporterID       uuid.UUID        `gorm:"type:uuid;column:importer_id;not null;uniqueIndex:idx_products_importer_uid" json:"importerId"`
	UniqueIdentifier string           `gorm:"type:varchar(255);column:unique_identifier;not null;uniqueIndex:idx_products_importer_uid" json:"uniqueIdentifier"`
	Name             string           `gorm:"type:varchar(255);column:name" json:"name"` // Never copied from order data
	Classifications  []Classification `gorm:"foreignKey:ProductID;references:ID" json:"classifications,omitempty"`
}

func (p *Product) TableName() string {
	return "products"
}

// Classification holds a product's tariff numbers for one country.
type Classification struct {
	BaseModel
	ProductID uuid.UUID `gorm:"type:uuid;column:product_id;not null;uniqueIndex:idx_classifications_product_country" json:"productId"`
	CountryID uuid.UUID `gorm:"type:uuid;column:country_id;not null;uniqueIndex:idx_classifications_product_country" json:"countryId"`
	Tariffs   []Tariff  `gorm:"foreignKey:ClassificationID;references:ID" json:"tariffs,omitempty"`
}

func (c *Classification) TableName() string {
	return "classifications"
}

// Tariff is one HTS number of a classification. Line numbers are contiguous
// starting at 1.
type Tariff struct {
	BaseModel
	ClassificationID uuid.UUID `gorm:"type:uuid;column:classification_id;not null;uniqueIndex:idx_tariffs_classification_line" json:"classificationId"`
	LineNumber       int       `gorm:"column:line_number;not null;uniqueIndex:idx_tariffs_classification_line" json:"lineNumber"`
	HTSCode          string    `gorm:"type:varchar(20);column:hts_code;not null" json:"htsCode"`
}

func (t *Tariff) TableName() string {
	return "tariffs"
}
