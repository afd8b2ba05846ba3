package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"chassis-can/chassis"
	"chassis-can/codec"
	"chassis-can/registry"
	"chassis-can/utils"
	"chassis-can/vehicle/devkit"
)

// staleSpeed is the report age after which the speed controller complains.
const staleSpeed = 500 * time.Millisecond

type Runner struct {
	cfg *Config
	l   *slog.Logger

	detail *chassis.Detail
	reg    *registry.Registry

	bus      utils.Bus
	closeBus func() error

	rx *registry.Receiver
	tx *registry.Sender

	scen *Scenario

	pid      *PIDController
	pidOut   *codec.Message
	pidBrake *codec.Message
}

func NewRunner(ctx context.Context, cfg *Config, l *slog.Logger) (*Runner, error) {
	codecs, err := loadCodecs(cfg, l)
	if err != nil {
		return nil, err
	}

	detail := chassis.NewDetail()
	opts := []registry.Option{registry.WithLogger(l), registry.WithName("chassisd")}

	reg := registry.New(detail.Writer(), opts...)
	for _, m := range codecs {
		if err := reg.Register(m); err != nil {
			return nil, errors.Wrap(err, "register codecs")
		}
	}

	r := &Runner{
		cfg:    cfg,
		l:      l,
		detail: detail,
		reg:    reg,
	}

	if cfg.Scenario != "" {
		r.scen, err = LoadScenario(cfg.Scenario)
		if err != nil {
			return nil, err
		}
		if r.scen.Meta.ControlMode == ModeVelocityPID {
			if err := r.setupPID(*r.scen.PIDConfig); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Interface == LoopbackInterface {
		lb := utils.NewLoopbackBus()
		r.bus, r.closeBus = lb.Open(), lb.Close
	} else {
		sc, err := utils.DialSocketCAN(ctx, cfg.Interface)
		if err != nil {
			return nil, err
		}
		r.bus, r.closeBus = sc, sc.Close
	}

	r.rx = registry.NewReceiver(reg, r.bus, opts...)
	r.tx = registry.NewSender(reg, r.bus, cfg.Sender, opts...)

	return r, nil
}

func loadCodecs(cfg *Config, l *slog.Logger) ([]*codec.Message, error) {
	if cfg.SignalMap == "" {
		return devkit.NewCodecs(codec.WithLogger(l)), nil
	}

	descs, err := codec.LoadSignalMapFile(cfg.SignalMap)
	if err != nil {
		return nil, err
	}
	out := make([]*codec.Message, len(descs))
	for i, d := range descs {
		out[i] = codec.NewMessage(d, codec.WithLogger(l))
	}
	return out, nil
}

func (r *Runner) setupPID(cfg PIDConfig) error {
	r.pid = NewPIDController(cfg)
	cfg = r.pid.Config()

	var ok bool
	r.pidOut, ok = r.reg.LookupName(cfg.Message)
	if !ok {
		return errors.Wrapf(registry.ErrUnknownMessage, "pid output %s", cfg.Message)
	}
	if err := checkWritable(r.pidOut, cfg.Signal); err != nil {
		return errors.Wrap(err, "pid output")
	}

	if cfg.BrakeMessage != "" {
		r.pidBrake, ok = r.reg.LookupName(cfg.BrakeMessage)
		if !ok {
			return errors.Wrapf(registry.ErrUnknownMessage, "pid brake %s", cfg.BrakeMessage)
		}
		if err := checkWritable(r.pidBrake, cfg.BrakeSignal); err != nil {
			return errors.Wrap(err, "pid brake")
		}
	}

	r.l.Info("speed controller ready",
		"target_mps", cfg.TargetSpeedMPS, "kp", cfg.Kp, "ki", cfg.Ki, "kd", cfg.Kd,
		"output", cfg.Message+"."+cfg.Signal)
	return nil
}

func checkWritable(m *codec.Message, name string) error {
	s, ok := m.Descriptor().Signal(name)
	if !ok {
		return errors.Wrapf(codec.ErrUnknownSignal, "%s.%s", m.Name(), name)
	}
	if !s.Writable() || m.Direction() != codec.Tx {
		return errors.Wrapf(codec.ErrReadOnlySignal, "%s.%s", m.Name(), name)
	}
	return nil
}

// Close puts every codec back into its safe state, sends one safe frame per
// periodic message and closes the bus.
func (r *Runner) Close() error {
	r.l.Debug("chassis detail at shutdown", "signals", r.detail.Names())
	r.reg.ResetAll()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for _, m := range r.reg.Periodic() {
		if err := r.bus.Transmit(ctx, m.Frame()); err != nil {
			r.l.Warn("safe frame not sent", utils.Err(err), "message", m.Name())
		}
	}

	return r.closeBus()
}

// Run receives, sends and replays the scenario until ctx is done or the
// scenario ends.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.rx.Run(gctx) })
	g.Go(func() error { return r.tx.Run(gctx) })
	g.Go(func() error {
		err := r.control(gctx)
		if err == nil {
			// scenario over, stop the bus loops
			cancel()
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) control(ctx context.Context) error {
	if r.scen == nil {
		r.l.Info("no scenario, sending safe defaults")
		<-ctx.Done()
		return ctx.Err()
	}

	if r.cfg.Startup > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.Startup):
		}
	}

	step := r.scen.Step()
	end := r.scen.Duration()

	r.l.Info("scenario started",
		"name", r.scen.Meta.Name, "mode", r.scen.Meta.ControlMode, "duration", end, "step", step)

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	start := time.Now()
	active := -2
	var steps uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed > end {
				r.l.Info("scenario completed", "steps", steps)
				return nil
			}
			t := elapsed.Seconds()

			seg := r.scen.Active(t)
			entered := seg != active
			if entered {
				active = seg
				r.enterSegment(seg, t)
			}

			if err := Apply(r.reg, r.tx, r.scen.Eval(t), entered); err != nil {
				return errors.Wrapf(err, "apply scenario at t=%.3f", t)
			}

			if r.pid != nil {
				if err := r.stepPID(now, step.Seconds(), steps); err != nil {
					return err
				}
			}
			steps++
		}
	}
}

// enterSegment restarts the speed controller so integral and derivative state
// from the previous segment do not carry over.
func (r *Runner) enterSegment(seg int, t float64) {
	if seg >= 0 {
		r.l.Info("segment", "index", seg, "t", t, "comment", r.scen.Segments[seg].Comment)
	}
	if r.pid != nil {
		r.pid.Reset()
	}
}

// stepPID runs the speed controller on the last reported speed and stages
// its output. Nothing is staged before the first speed report.
func (r *Runner) stepPID(now time.Time, dt float64, steps uint64) error {
	cfg := r.pid.Config()

	speed, ok := r.detail.Reader().Signal(cfg.SpeedSignal)
	if !ok {
		return nil
	}
	if age := now.Sub(speed.Updated); age > staleSpeed {
		r.l.Warn("speed report stale, controller output unreliable", "age", age)
	}

	out := r.pid.Update(speed.Value, dt)

	drive, brake := out, 0.0
	if out < 0 {
		drive, brake = 0, -out
	}
	if err := r.pidOut.Set(cfg.Signal, drive); err != nil {
		return err
	}
	if r.pidBrake != nil {
		if err := r.pidBrake.Set(cfg.BrakeSignal, brake); err != nil {
			return err
		}
	}

	if steps%50 == 0 {
		d := r.pid.Diagnostics()
		r.l.Debug("speed controller", "speed", speed.Value, "err", d.Error, "out", out, "p", d.P, "i", d.I)
	}
	return nil
}
