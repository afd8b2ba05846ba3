package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/metric"

	"chassis-can/codec"
	"chassis-can/utils"
)

var (
	ErrNotTransmitted = errors.New("message is not transmitted by this node")
	ErrTriggerBusy    = errors.New("trigger queue full")
)

// minTick bounds the scheduler resolution.
const minTick = time.Millisecond

type SenderConfig struct {
	// Tick is the scheduler resolution. Zero derives it from the GCD of the periods.
	Tick time.Duration `yaml:"tick"`
	// TriggerQueueSize bounds the pending event-only sends.
	TriggerQueueSize int `yaml:"trigger_queue_size"`
}

func NewDefaultSenderConfig() *SenderConfig {
	return &SenderConfig{
		Tick:             0,
		TriggerQueueSize: 16,
	}
}

// Sender transmits every periodic Tx codec at its period and event-only codecs
// on Trigger. Rx codecs and codecs with a zero period are never sent on a timer.
type Sender struct {
	l   *slog.Logger
	reg *Registry
	bus utils.Bus
	cfg SenderConfig

	trigger chan *codec.Message

	sent   metric.Int64Counter
	failed metric.Int64Counter
}

func NewSender(reg *Registry, bus utils.Bus, cfg *SenderConfig, opts ...Option) *Sender {
	if cfg == nil {
		cfg = NewDefaultSenderConfig()
	}
	queue := cfg.TriggerQueueSize
	if queue <= 0 {
		queue = 16
	}

	o := buildOptions(opts)
	m := o.meter("sender")

	return &Sender{
		l:   o.logger.With("component", "sender"),
		reg: reg,
		bus: bus,
		cfg: *cfg,

		trigger: make(chan *codec.Message, queue),

		sent:   m.NewCounter("frames_sent"),
		failed: m.NewCounter("send_errors"),
	}
}

// Trigger queues one transmission of a Tx message, periodic or not.
func (s *Sender) Trigger(id codec.MessageID) error {
	m, ok := s.reg.Lookup(id)
	if !ok {
		return errors.Wrapf(ErrUnknownMessage, "%s", id)
	}
	if m.Direction() != codec.Tx {
		return errors.Wrapf(ErrNotTransmitted, "%s (%s)", m.Name(), id)
	}

	select {
	case s.trigger <- m:
		return nil
	default:
		return errors.Wrapf(ErrTriggerBusy, "%s (%s)", m.Name(), id)
	}
}

type slot struct {
	m      *codec.Message
	period time.Duration
	next   time.Time
}

// Run sends until ctx is done or the bus is closed.
func (s *Sender) Run(ctx context.Context) error {
	periodic := s.reg.Periodic()

	tick := s.cfg.Tick
	if tick <= 0 {
		tick = schedulerTick(periodic)
	}
	tick = max(tick, minTick)

	start := time.Now()
	slots := make([]slot, len(periodic))
	for i, m := range periodic {
		slots[i] = slot{m: m, period: m.Period(), next: start}
	}

	s.l.Info("sender running", "periodic_messages", len(slots), "tick", tick)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var sent uint64
	defer func() {
		s.l.Info("sender stopped", "frames_sent", sent)
	}()

	// first round goes out immediately
	n, err := s.sendDue(ctx, slots, start)
	sent += n
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case m := <-s.trigger:
			if err := s.send(ctx, m); err != nil {
				return err
			}
			sent++

		case now := <-ticker.C:
			n, err := s.sendDue(ctx, slots, now)
			sent += n
			if err != nil {
				return err
			}
		}
	}
}

// sendDue sends every slot whose deadline has passed and moves it forward.
func (s *Sender) sendDue(ctx context.Context, slots []slot, now time.Time) (uint64, error) {
	var n uint64
	for i := range slots {
		sl := &slots[i]
		if sl.next.After(now) {
			continue
		}
		if err := s.send(ctx, sl.m); err != nil {
			return n, err
		}
		n++
		sl.next = sl.next.Add(sl.period)
		if !sl.next.After(now) {
			// overrun, skip the missed slots instead of bursting
			sl.next = now.Add(sl.period)
		}
	}
	return n, nil
}

// send encodes and transmits one frame. Only a closed bus or a done context
// stop the sender; other transmit errors are logged and counted.
func (s *Sender) send(ctx context.Context, m *codec.Message) error {
	frame := m.Frame()

	err := s.bus.Transmit(ctx, frame)
	switch {
	case err == nil:
		s.sent.Add(ctx, 1)
		s.l.Log(ctx, utils.LevelTrace, "tx", "can_id", m.ID().String(), "data", frame.Data[:frame.Length])
		return nil

	case ctx.Err() != nil:
		return ctx.Err()

	case errors.Is(err, utils.ErrClosed):
		return err
	}

	s.failed.Add(ctx, 1)
	s.l.Error("transmit failed", utils.Err(err), "message", m.Name(), "can_id", m.ID().String())
	return nil
}

// schedulerTick is the greatest common divisor of the periods.
func schedulerTick(ms []*codec.Message) time.Duration {
	var g time.Duration
	for _, m := range ms {
		g = gcd(g, m.Period())
	}
	if g == 0 {
		return 10 * time.Millisecond
	}
	return g
}

func gcd(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
