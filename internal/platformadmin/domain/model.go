package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Notification is a platform broadcast. A nil CompanyID addresses every
// company.
type Notification struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	CompanyID      *snowflake.ID `gorm:"index" json:"company_id,omitempty"`
	Subject        string        `gorm:"type:text;not null" json:"subject"`
	Body           string        `gorm:"type:text;not null" json:"body"`
	CreatedBy      snowflake.ID  `gorm:"not null" json:"created_by"`
	RecipientCount int64         `gorm:"not null;default:0" json:"recipient_count"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
