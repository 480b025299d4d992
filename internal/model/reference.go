package model

// Company is a trading party known to the system. The partner sending EDI is
// looked up by SystemCode and owns every order, product and shipment created
// from its documents.
type Company struct {
	BaseModel
	SystemCode string `gorm:"type:varchar(50);column:system_code;not null;unique" json:"systemCode"` // Fixed partner code
	Name       string `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Importer   bool   `gorm:"type:boolean;column:importer;not null;default:false" json:"importer"`
}

func (c *Company) TableName() string {
	return "companies"
}

// Country is looked up by its ISO 3166 alpha-2 code.
type Country struct {
	BaseModel
	ISOCode string `gorm:"type:varchar(2);column:iso_code;not null;unique" json:"isoCode"`
	Name    string `gorm:"type:varchar(255);column:name" json:"name"`
}

func (c *Country) TableName() string {
	return "countries"
}

// Port is looked up by UN/LOCODE.
type Port struct {
	BaseModel
	UNLocode string `gorm:"type:varchar(5);column:unlocode;not null;unique" json:"unlocode"`
	Name     string `gorm:"type:varchar(255);column:name" json:"name"`
}

func (p *Port) TableName() string {
	return "ports"
}
