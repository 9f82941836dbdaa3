package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanCatalog lists the plans seeded on startup.
type PlanCatalog struct {
	Plans []PlanSpec `mapstructure:"plans"`
}

type PlanSpec struct {
	Code              string        `mapstructure:"code"`
	Name              string        `mapstructure:"name"`
	BillingType       string        `mapstructure:"billing_type"`
	Currency          string        `mapstructure:"currency"`
	BasePriceCents    int64         `mapstructure:"base_price_cents"`
	PerUnitPriceCents int64         `mapstructure:"per_unit_price_cents"`
	MaxProperties     int64         `mapstructure:"max_properties"`
	MaxUsers          int64         `mapstructure:"max_users"`
	MaxStorageMB      int64         `mapstructure:"max_storage_mb"`
	MaxAPICalls       int64         `mapstructure:"max_api_calls"`
	Features          []FeatureSpec `mapstructure:"features"`
}

type FeatureSpec struct {
	Module     string         `mapstructure:"module"`
	Enabled    bool           `mapstructure:"enabled"`
	UsageLimit int64          `mapstructure:"usage_limit"`
	Config     map[string]any `mapstructure:"config"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []PlanSpec{
			{
				Code:           "starter",
				Name:           "Starter",
				BillingType:    "flat",
				Currency:       "USD",
				BasePriceCents: 2900,
				MaxProperties:  10,
				MaxUsers:       5,
				MaxStorageMB:   1024,
				MaxAPICalls:    10_000,
				Features: []FeatureSpec{
					{Module: "PROPERTIES", Enabled: true},
					{Module: "LEASES", Enabled: true},
					{Module: "MAINTENANCE", Enabled: true},
					{Module: "MESSAGING", Enabled: false},
					{Module: "PAYMENTS", Enabled: false},
					{Module: "REPORTING", Enabled: false},
					{Module: "DOCUMENTS", Enabled: false},
				},
			},
			{
				Code:              "professional",
				Name:              "Professional",
				BillingType:       "per_unit",
				Currency:          "USD",
				PerUnitPriceCents: 300,
				MaxProperties:     100,
				MaxUsers:          25,
				MaxStorageMB:      10_240,
				MaxAPICalls:       100_000,
				Features: []FeatureSpec{
					{Module: "PROPERTIES", Enabled: true},
					{Module: "LEASES", Enabled: true},
					{Module: "MAINTENANCE", Enabled: true},
					{Module: "MESSAGING", Enabled: true},
					{Module: "PAYMENTS", Enabled: true},
					{Module: "REPORTING", Enabled: true, UsageLimit: 500},
					{Module: "DOCUMENTS", Enabled: true},
				},
			},
			{
				Code:              "enterprise",
				Name:              "Enterprise",
				BillingType:       "per_unit",
				Currency:          "USD",
				PerUnitPriceCents: 200,
				Features: []FeatureSpec{
					{Module: "PROPERTIES", Enabled: true},
					{Module: "LEASES", Enabled: true},
					{Module: "MAINTENANCE", Enabled: true},
					{Module: "MESSAGING", Enabled: true},
					{Module: "PAYMENTS", Enabled: true},
					{Module: "REPORTING", Enabled: true},
					{Module: "DOCUMENTS", Enabled: true},
				},
			},
		},
	}
}

// PlanCatalogHolder keeps the latest valid catalog; edits to plans.yml are
// picked up without a restart.
type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog

	mu        sync.Mutex
	listeners []func(PlanCatalog)
}

func NewPlanCatalogHolder(cfg Config) (*PlanCatalogHolder, error) {
	v := viper.New()

	if cfg.PlanCatalogPath != "" {
		v.SetConfigFile(cfg.PlanCatalogPath)
	} else {
		v.SetConfigName("plans")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/greenpm")
		v.AddConfigPath(".")
	}

	holder := &PlanCatalogHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.current.Store(DefaultPlanCatalog())
		return holder, nil
	}

	var catalog PlanCatalog
	if err := v.Unmarshal(&catalog); err != nil {
		return nil, err
	}
	if err := ValidatePlanCatalog(catalog); err != nil {
		return nil, err
	}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.Unmarshal(&updated); err != nil {
			zap.L().Warn("plan catalog reload failed", zap.Error(err))
			return
		}
		if err := ValidatePlanCatalog(updated); err != nil {
			zap.L().Warn("invalid plan catalog ignored", zap.Error(err))
			return
		}
		holder.set(updated)
		zap.L().Info("plan catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

// OnChange registers fn to run after every accepted reload.
func (h *PlanCatalogHolder) OnChange(fn func(PlanCatalog)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *PlanCatalogHolder) set(catalog PlanCatalog) {
	h.current.Store(catalog)
	h.mu.Lock()
	listeners := append([]func(PlanCatalog){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(catalog)
	}
}

func ValidatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	seen := make(map[string]struct{}, len(catalog.Plans))
	for _, plan := range catalog.Plans {
		code := strings.TrimSpace(plan.Code)
		if code == "" {
			return errors.New("plan code is required")
		}
		if _, ok := seen[code]; ok {
			return fmt.Errorf("duplicate plan code %q", code)
		}
		seen[code] = struct{}{}
		switch plan.BillingType {
		case "flat", "per_unit":
		default:
			return fmt.Errorf("plan %q: unsupported billing_type %q", code, plan.BillingType)
		}
		modules := make(map[string]struct{}, len(plan.Features))
		for _, feature := range plan.Features {
			module := strings.ToUpper(strings.TrimSpace(feature.Module))
			if module == "" {
				return fmt.Errorf("plan %q: feature module is required", code)
			}
			if _, ok := modules[module]; ok {
				return fmt.Errorf("plan %q: duplicate feature module %q", code, module)
			}
			modules[module] = struct{}{}
		}
	}
	return nil
}
