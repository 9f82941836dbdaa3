package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusOccupied    Status = "occupied"
	StatusMaintenance Status = "maintenance"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusMaintenance:
		return true
	}
	return false
}

type Type string

const (
	TypeApartment  Type = "apartment"
	TypeHouse      Type = "house"
	TypeCondo      Type = "condo"
	TypeTownhouse  Type = "townhouse"
	TypeCommercial Type = "commercial"
)

func (t Type) Valid() bool {
	switch t {
	case TypeApartment, TypeHouse, TypeCondo, TypeTownhouse, TypeCommercial:
		return true
	}
	return false
}

type Property struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID  snowflake.ID `gorm:"not null;index" json:"company_id"`
	LandlordID snowflake.ID `gorm:"not null;index" json:"landlord_id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	Address    string       `gorm:"type:text;not null" json:"address"`
	City       string       `gorm:"type:text" json:"city"`
	State      string       `gorm:"type:text" json:"state"`
	PostalCode string       `gorm:"type:text" json:"postal_code"`
	Units      int          `gorm:"not null;default:1" json:"units"`
	Type       Type         `gorm:"type:text;not null" json:"type"`
	Status     Status       `gorm:"type:text;not null;default:'available'" json:"status"`
	RentCents  int64        `gorm:"not null;default:0" json:"monthly_rent_cents"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
}

func (Property) TableName() string { return "properties" }

func (p *Property) OwnerCompanyID() snowflake.ID   { return p.CompanyID }
func (p *Property) AssignCompany(id snowflake.ID) { p.CompanyID = id }
