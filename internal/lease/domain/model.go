package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
	StatusExpired    Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusTerminated, StatusExpired:
		return true
	}
	return false
}

// Blocking reports whether a lease in this status reserves its date range.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusActive
}

// Lease dates are whole days in UTC; both ends are inclusive.
// ux_leases_property_active allows one active lease per property.
type Lease struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID    snowflake.ID `gorm:"not null;index" json:"company_id"`
	PropertyID   snowflake.ID `gorm:"not null;index:idx_leases_property_dates,priority:1;uniqueIndex:ux_leases_property_active,where:status = 'active'" json:"property_id"`
	RenterID     snowflake.ID `gorm:"not null;index" json:"renter_id"`
	StartDate    time.Time    `gorm:"type:date;not null;index:idx_leases_property_dates,priority:2" json:"start_date"`
	EndDate      time.Time    `gorm:"type:date;not null" json:"end_date"`
	RentCents    int64        `gorm:"not null;default:0" json:"monthly_rent_cents"`
	DepositCents int64        `gorm:"not null;default:0" json:"deposit_cents"`
	Status       Status       `gorm:"type:text;not null" json:"status"`
	ActivatedAt  *time.Time   `json:"activated_at,omitempty"`
	TerminatedAt *time.Time   `json:"terminated_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (Lease) TableName() string { return "leases" }

func (l *Lease) OwnerCompanyID() snowflake.ID   { return l.CompanyID }
func (l *Lease) AssignCompany(id snowflake.ID) { l.CompanyID = id }
