package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusSuspended, StatusCancelled:
		return true
	default:
		return false
	}
}

// Company is a tenant. Rows are never hard-deleted and the subdomain never
// changes once assigned.
type Company struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	Subdomain    string       `gorm:"type:text;not null;uniqueIndex:ux_companies_subdomain" json:"subdomain"`
	Status       Status       `gorm:"type:text;not null;index" json:"status"`
	StatusReason string       `gorm:"type:text" json:"status_reason,omitempty"`
	ContactEmail string       `gorm:"type:text" json:"contact_email"`

	PropertiesUsed int64 `gorm:"not null;default:0" json:"properties_used"`
	UsersUsed      int64 `gorm:"not null;default:0" json:"users_used"`
	StorageUsedMB  int64 `gorm:"column:storage_used_mb;not null;default:0" json:"storage_used_mb"`
	APICallsUsed   int64 `gorm:"column:api_calls_used;not null;default:0" json:"api_calls_used"`

	MaxProperties int64 `gorm:"not null;default:0" json:"max_properties"`
	MaxUsers      int64 `gorm:"not null;default:0" json:"max_users"`
	MaxStorageMB  int64 `gorm:"column:max_storage_mb;not null;default:0" json:"max_storage_mb"`
	MaxAPICalls   int64 `gorm:"column:max_api_calls;not null;default:0" json:"max_api_calls"`

	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

func (Company) TableName() string { return "companies" }

// Counter names a usage counter paired with its quota column.
type Counter string

const (
	CounterProperties Counter = "properties"
	CounterUsers      Counter = "users"
	CounterStorageMB  Counter = "storage_mb"
	CounterAPICalls   Counter = "api_calls"
)

// Columns returns the used and limit columns for c.
func (c Counter) Columns() (used string, limit string, ok bool) {
	switch c {
	case CounterProperties:
		return "properties_used", "max_properties", true
	case CounterUsers:
		return "users_used", "max_users", true
	case CounterStorageMB:
		return "storage_used_mb", "max_storage_mb", true
	case CounterAPICalls:
		return "api_calls_used", "max_api_calls", true
	default:
		return "", "", false
	}
}

type CounterUsage struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

func (c *Company) Usage() map[Counter]CounterUsage {
	return map[Counter]CounterUsage{
		CounterProperties: {Used: c.PropertiesUsed, Limit: c.MaxProperties},
		CounterUsers:      {Used: c.UsersUsed, Limit: c.MaxUsers},
		CounterStorageMB:  {Used: c.StorageUsedMB, Limit: c.MaxStorageMB},
		CounterAPICalls:   {Used: c.APICallsUsed, Limit: c.MaxAPICalls},
	}
}
