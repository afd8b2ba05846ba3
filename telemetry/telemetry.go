// Package telemetry wires OpenTelemetry metrics for the codec runtime.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const scopeName = "chassis-can"

type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Enabled:  false,
		Endpoint: "localhost:4318",
		Interval: time.Second,
	}
}

// Init installs a global meter provider exporting over OTLP/HTTP. The returned
// function flushes and stops it. When telemetry is disabled the global no-op
// provider is kept and the shutdown function does nothing.
func Init(ctx context.Context, serviceName string, cfg *Config) (func(context.Context) error, error) {
	if cfg == nil || !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "telemetry resource")
	}

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.Endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "otlp metric exporter")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)),
		),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// Meter creates counters named <kind>_<name>_<counter>.
type Meter struct {
	kind string
	name string

	l     *slog.Logger
	meter metric.Meter
}

type MeterOption func(*meterOptions)

type meterOptions struct {
	provider metric.MeterProvider
	logger   *slog.Logger
}

// WithProvider overrides the global meter provider.
func WithProvider(p metric.MeterProvider) MeterOption {
	return func(o *meterOptions) {
		o.provider = p
	}
}

func WithLogger(l *slog.Logger) MeterOption {
	return func(o *meterOptions) {
		o.logger = l
	}
}

func NewMeter(kind, name string, opts ...MeterOption) *Meter {
	o := meterOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.provider == nil {
		o.provider = otel.GetMeterProvider()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Meter{
		kind:  kind,
		name:  name,
		l:     o.logger,
		meter: o.provider.Meter(scopeName),
	}
}

func (m *Meter) metricName(name string) string {
	return fmt.Sprintf("%s_%s_%s", m.kind, m.name, name)
}

func (m *Meter) NewCounter(name string, opts ...metric.Int64CounterOption) metric.Int64Counter {
	counterName := m.metricName(name)
	counter, err := m.meter.Int64Counter(counterName, opts...)
	if err != nil {
		m.l.Error("failed to create counter", "name", counterName, "error", err)
		return noop.Int64Counter{}
	}

	m.l.Debug("created counter", "name", counterName)

	return counter
}
