package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func Test_Meter_Counter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m := NewMeter("registry", "devkit", WithProvider(provider))
	c := m.NewCounter("frames_dispatched")
	c.Add(ctx, 3)

	values := Collect(t, reader)
	assert.Equal(int64(3), values["registry_devkit_frames_dispatched"])
}

func Test_Init_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), "test", NewDefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

// Collect sums every Int64 sum exported by reader, keyed by metric name.
func Collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}
