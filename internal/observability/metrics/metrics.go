package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	leaseConflicts     metric.Int64Counter
	featureResolutions metric.Int64Counter
	auditWrites        metric.Int64Counter
	quotaRejections    metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
	tenantResolutions  metric.Int64Counter
	schedulerJobs      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "greenpm"
	}
	meter := provider.Meter(name)

	var m Metrics
	counters := []struct {
		target *metric.Int64Counter
		name   string
	}{
		{&m.leaseConflicts, "greenpm_lease_conflicts_total"},
		{&m.featureResolutions, "greenpm_feature_resolutions_total"},
		{&m.auditWrites, "greenpm_audit_writes_total"},
		{&m.quotaRejections, "greenpm_quota_rejections_total"},
		{&m.rateLimitDenied, "greenpm_rate_limit_denied_total"},
		{&m.tenantResolutions, "greenpm_tenant_resolutions_total"},
		{&m.schedulerJobs, "greenpm_scheduler_jobs_total"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return &m, nil
}

// RecordLeaseConflict counts rejected lease writes by reason (overlap, active_exists).
func (m *Metrics) RecordLeaseConflict(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.leaseConflicts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

// RecordFeatureResolution counts module checks by where the answer came from.
func (m *Metrics) RecordFeatureResolution(ctx context.Context, module, source string, enabled bool) {
	if m == nil {
		return
	}
	m.featureResolutions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("module", strings.TrimSpace(module)),
		attribute.String("source", strings.TrimSpace(source)),
		attribute.Bool("enabled", enabled),
	)...))
}

func (m *Metrics) RecordAuditWrite(ctx context.Context, category string, success bool) {
	if m == nil {
		return
	}
	m.auditWrites.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("category", strings.TrimSpace(category)),
		attribute.Bool("success", success),
	)...))
}

func (m *Metrics) RecordQuotaRejection(ctx context.Context, counter string) {
	if m == nil {
		return
	}
	m.quotaRejections.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("counter", strings.TrimSpace(counter)),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

// RecordTenantResolution counts host resolutions by outcome (resolved, passthrough, unresolved).
func (m *Metrics) RecordTenantResolution(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.tenantResolutions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

// RecordSchedulerJob counts background job runs by outcome (success, timeout, error).
func (m *Metrics) RecordSchedulerJob(ctx context.Context, job, outcome string) {
	if m == nil {
		return
	}
	m.schedulerJobs.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Company and user ids are deliberately absent: they would make every
// series per-tenant.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint": {},
	"module":   {},
	"source":   {},
	"enabled":  {},
	"category": {},
	"success":  {},
	"counter":  {},
	"reason":   {},
	"outcome":  {},
	"job":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
