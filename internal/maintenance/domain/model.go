package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// CanMoveTo reports the allowed transitions; resolved and cancelled are
// final.
func (s Status) CanMoveTo(next Status) bool {
	switch s {
	case StatusOpen:
		return next == StatusInProgress || next == StatusResolved || next == StatusCancelled
	case StatusInProgress:
		return next == StatusResolved || next == StatusCancelled
	}
	return false
}

type Request struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	CompanyID   snowflake.ID  `gorm:"not null;index:idx_maintenance_company_status,priority:1" json:"company_id"`
	PropertyID  snowflake.ID  `gorm:"not null;index" json:"property_id"`
	LeaseID     *snowflake.ID `json:"lease_id,omitempty"`
	ReporterID  snowflake.ID  `gorm:"not null" json:"reporter_id"`
	Title       string        `gorm:"type:text;not null" json:"title"`
	Description string        `gorm:"type:text" json:"description"`
	Priority    Priority      `gorm:"type:text;not null" json:"priority"`
	Status      Status        `gorm:"type:text;not null;index:idx_maintenance_company_status,priority:2" json:"status"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt   time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null" json:"updated_at"`
}

func (Request) TableName() string { return "maintenance_requests" }

func (r *Request) OwnerCompanyID() snowflake.ID   { return r.CompanyID }
func (r *Request) AssignCompany(id snowflake.ID) { r.CompanyID = id }
