package observability

import (
	"strings"

	"github.com/smallbiznis/greenpm/internal/config"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "greenpm"
	}
	ratio := cfg.Telemetry.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}
	protocol := cfg.Telemetry.ExporterProtocol
	if protocol != "http" && protocol != "http/protobuf" {
		protocol = "grpc"
	}
	format := cfg.Telemetry.LogFormat
	if format != "console" {
		format = "json"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          cfg.Environment,
		Version:              cfg.AppVersion,
		LogLevel:             cfg.Telemetry.LogLevel,
		LogFormat:            format,
		OtelEnabled:          cfg.Telemetry.OtelEnabled,
		OtelExporterEndpoint: cfg.OTLPEndpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug enables verbose request logging.
func (c Config) Debug() bool {
	return c.LogLevel == "debug" || config.IsDevEnvironment(c.Environment)
}
