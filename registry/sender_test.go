package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"chassis-can/chassis"
	"chassis-can/codec"
	"chassis-can/utils"
	"chassis-can/vehicle/devkit"
)

// frameLog records every frame seen on a bus endpoint.
type frameLog struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (f *frameLog) run(ctx context.Context, bus utils.Bus) {
	for {
		frame, err := bus.Receive(ctx)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.frames = append(f.frames, frame)
		f.mu.Unlock()
	}
}

func (f *frameLog) count(id codec.MessageID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, frame := range f.frames {
		if frame.ID == uint32(id) {
			n++
		}
	}
	return n
}

func (f *frameLog) last(id codec.MessageID) (can.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].ID == uint32(id) {
			return f.frames[i], true
		}
	}
	return can.Frame{}, false
}

func Test_Sender_Schedule(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	reg := New(chassis.NewDetail(), WithMeterProvider(provider), WithName("test"))
	reg.MustRegister(devkit.NewCodecs()...)

	bus := utils.NewLoopbackBus()
	defer bus.Close()

	log := &frameLog{}
	go log.run(ctx, bus.Open())

	sender := NewSender(reg, bus.Open(), nil, WithMeterProvider(provider), WithName("test"))
	done := make(chan error, 1)
	go func() { done <- sender.Run(ctx) }()

	assert.Eventually(func() bool {
		return log.count(devkit.SteeringCommandID) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	assert.Zero(log.count(devkit.BodyCommandID), "event-only message sent on a timer")
	assert.Zero(log.count(devkit.SteeringReportID), "received message transmitted")

	require.NoError(t, sender.Trigger(devkit.BodyCommandID))
	assert.Eventually(func() bool {
		return log.count(devkit.BodyCommandID) == 1
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(sender.Trigger(devkit.SteeringReportID), ErrNotTransmitted)
	assert.ErrorIs(sender.Trigger(0x7FF), ErrUnknownMessage)

	// staged commands reach the bus on the next period
	steer, _ := reg.Lookup(devkit.SteeringCommandID)
	require.NoError(t, steer.Set("steer_angle_target", 90))
	assert.Eventually(func() bool {
		f, ok := log.last(devkit.SteeringCommandID)
		return ok && f.Data[3] == 0x02 && f.Data[4] == 0x4E
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}

	metrics := collect(t, reader)
	assert.Positive(metrics["sender_test_frames_sent"])
	assert.Zero(metrics["sender_test_send_errors"])
}

func Test_Sender_BusClosed(t *testing.T) {
	reg := New(chassis.NewDetail())
	reg.MustRegister(codec.NewMessage(devkit.Messages()[0]))

	bus := utils.NewLoopbackBus()
	require.NoError(t, bus.Close())

	sender := NewSender(reg, bus.Open(), &SenderConfig{Tick: 5 * time.Millisecond})
	assert.ErrorIs(t, sender.Run(context.Background()), utils.ErrClosed)
}

func Test_Sender_TriggerBusy(t *testing.T) {
	reg := New(chassis.NewDetail())
	reg.MustRegister(devkit.NewCodecs()...)

	sender := NewSender(reg, utils.NewLoopbackBus().Open(), &SenderConfig{TriggerQueueSize: 1})
	require.NoError(t, sender.Trigger(devkit.BodyCommandID))
	assert.ErrorIs(t, sender.Trigger(devkit.BodyCommandID), ErrTriggerBusy)
}

func Test_SchedulerTick(t *testing.T) {
	assert := assert.New(t)

	msg := func(id codec.MessageID, cycle int) *codec.Message {
		return codec.NewMessage(codec.MessageDescriptor{
			ID: id, Name: "m" + id.String(), Length: 1, Direction: codec.Tx, CycleMS: cycle,
			Signals: []codec.SignalDescriptor{{Name: "s" + id.String(), Length: 8, Scale: 1}},
		})
	}

	assert.Equal(10*time.Millisecond, schedulerTick([]*codec.Message{msg(1, 20), msg(2, 50), msg(3, 100)}))
	assert.Equal(20*time.Millisecond, schedulerTick([]*codec.Message{msg(1, 20), msg(2, 40)}))
	assert.Equal(7*time.Millisecond, schedulerTick([]*codec.Message{msg(1, 7)}))
	assert.Equal(10*time.Millisecond, schedulerTick(nil))
}
