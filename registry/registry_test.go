package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"chassis-can/chassis"
	"chassis-can/codec"
	"chassis-can/vehicle/devkit"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
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

func newTestRegistry(t *testing.T) (*Registry, *chassis.Detail, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	detail := chassis.NewDetail()
	reg := New(detail.Writer(), WithMeterProvider(provider), WithName("test"))
	reg.MustRegister(devkit.NewCodecs()...)

	return reg, detail, reader
}

func Test_Registry_Register(t *testing.T) {
	assert := assert.New(t)

	reg, _, _ := newTestRegistry(t)

	m, ok := reg.Lookup(devkit.SteeringCommandID)
	require.True(t, ok)
	assert.Equal("steering_command", m.Name())

	m, ok = reg.LookupName("vcu_report")
	require.True(t, ok)
	assert.Equal(devkit.VCUReportID, m.ID())

	_, ok = reg.Lookup(0x7FF)
	assert.False(ok)

	dup := codec.NewMessage(devkit.Messages()[0])
	assert.ErrorIs(reg.Register(dup), ErrDuplicateMessage)
	assert.Panics(func() { reg.MustRegister(dup) })

	all := reg.Messages()
	assert.Len(all, len(devkit.Messages()))
	for i := 1; i < len(all); i++ {
		assert.Less(all[i-1].ID(), all[i].ID())
	}
}

func Test_Registry_Periodic(t *testing.T) {
	assert := assert.New(t)

	reg, _, _ := newTestRegistry(t)

	var ids []codec.MessageID
	for _, m := range reg.Periodic() {
		ids = append(ids, m.ID())
	}
	assert.Equal([]codec.MessageID{
		devkit.ThrottleCommandID,
		devkit.BrakeCommandID,
		devkit.SteeringCommandID,
		devkit.GearCommandID,
		devkit.ParkCommandID,
	}, ids, "event-only and received messages are not scheduled")
}

func Test_Registry_Dispatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	reg, detail, reader := newTestRegistry(t)
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reg.now = func() time.Time { return seen }

	frame := can.Frame{ID: uint32(devkit.SteeringReportID), Length: 8, Data: can.Data{0x01, 0x00, 0x00, 0x02, 0x4E}}
	assert.True(reg.Dispatch(ctx, frame))

	angle, ok := detail.Value("steer_angle_actual")
	require.True(t, ok)
	assert.InDelta(90.0, angle, 1e-9)
	state, _ := detail.Enum("steer_en_state")
	assert.Equal("AUTO", state)

	st, ok := reg.Stats(devkit.SteeringReportID)
	require.True(t, ok)
	assert.Equal(uint64(1), st.Frames)
	assert.Equal(seen, st.LastSeen)

	// short frame: nothing decoded, the previous value stays
	short := can.Frame{ID: uint32(devkit.SteeringReportID), Length: 4, Data: can.Data{0x00, 0x00, 0x00, 0x03}}
	assert.False(reg.Dispatch(ctx, short))
	angle, _ = detail.Value("steer_angle_actual")
	assert.InDelta(90.0, angle, 1e-9)

	st, _ = reg.Stats(devkit.SteeringReportID)
	assert.Equal(uint64(1), st.Frames)
	assert.Equal(uint64(1), st.ShortFrames)

	assert.False(reg.Dispatch(ctx, can.Frame{ID: 0x7FF, Length: 8}))
	assert.False(reg.Dispatch(ctx, can.Frame{ID: uint32(devkit.SteeringReportID), IsRemote: true}))

	_, ok = reg.Stats(0x7FF)
	assert.False(ok)

	metrics := collect(t, reader)
	assert.Equal(int64(1), metrics["registry_test_frames_dispatched"])
	assert.Equal(int64(1), metrics["registry_test_frames_short"])
	assert.Equal(int64(1), metrics["registry_test_frames_unknown"])
}

func Test_Registry_ResetAll(t *testing.T) {
	assert := assert.New(t)

	reg, _, _ := newTestRegistry(t)

	m, _ := reg.Lookup(devkit.ThrottleCommandID)
	safe := m.State()

	require.NoError(t, m.SetFlag("throttle_en_ctrl", true))
	require.NoError(t, m.Set("throttle_pedal_target", 30))
	m.Frame()
	assert.NotEqual(safe, m.State())

	reg.ResetAll()
	assert.Equal(safe, m.State())
	v, _ := m.Command("throttle_pedal_target")
	assert.Zero(v)
}

func Test_Registry_Dispatch_IdentifierFormat(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	reg, detail, reader := newTestRegistry(t)

	// 29-bit frame with the number of the 11-bit vcu_report
	ext := can.Frame{ID: uint32(devkit.VCUReportID), IsExtended: true, Length: 8, Data: can.Data{0x27, 0x10}}
	assert.False(reg.Dispatch(ctx, ext))
	_, ok := detail.Value("vehicle_speed")
	assert.False(ok, "foreign frame reached the chassis detail")
	_, ok = reg.FrameStats(devkit.VCUReportID, true)
	assert.False(ok)

	// a 29-bit codec may share the number
	aux := codec.NewMessage(codec.MessageDescriptor{
		ID: devkit.VCUReportID, Name: "j1939_aux", Length: 2, Extended: true, Direction: codec.Rx,
		Signals: []codec.SignalDescriptor{{Name: "aux_level", Length: 16, Scale: 1}},
	})
	require.NoError(t, reg.Register(aux))
	assert.ErrorIs(reg.Register(codec.NewMessage(aux.Descriptor().Clone())), ErrDuplicateMessage)

	m, ok := reg.Lookup(devkit.VCUReportID)
	require.True(t, ok)
	assert.Equal("vcu_report", m.Name())
	m, ok = reg.LookupFrame(devkit.VCUReportID, true)
	require.True(t, ok)
	assert.Equal("j1939_aux", m.Name())

	assert.True(reg.Dispatch(ctx, ext))
	v, _ := detail.Value("aux_level")
	assert.Equal(float64(0x1027), v)
	_, ok = detail.Value("vehicle_speed")
	assert.False(ok)

	std := can.Frame{ID: uint32(devkit.VCUReportID), Length: 8, Data: can.Data{0x00, 0xFA, 0x24}}
	assert.True(reg.Dispatch(ctx, std))
	speed, _ := detail.Value("vehicle_speed")
	assert.InDelta(-1.5, speed, 1e-9)

	st, _ := reg.FrameStats(devkit.VCUReportID, true)
	assert.Equal(uint64(1), st.Frames)
	st, _ = reg.Stats(devkit.VCUReportID)
	assert.Equal(uint64(1), st.Frames)

	metrics := collect(t, reader)
	assert.Equal(int64(1), metrics["registry_test_frames_unknown"])
	assert.Equal(int64(2), metrics["registry_test_frames_dispatched"])
}
