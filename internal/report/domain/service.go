package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Occupancy summarizes the caller's company; platform admins get the
	// whole platform.
	Occupancy(ctx context.Context) (*Occupancy, error)
}

type Occupancy struct {
	CompanyID         *snowflake.ID    `json:"company_id,omitempty"`
	TotalProperties   int64            `json:"total_properties"`
	PropertiesByState map[string]int64 `json:"properties_by_status"`
	ActiveLeases      int64            `json:"active_leases"`
	OccupancyRate     float64          `json:"occupancy_rate"`
	GeneratedAt       time.Time        `json:"generated_at"`
}
