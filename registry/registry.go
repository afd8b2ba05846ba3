// Package registry dispatches received frames to their codecs and schedules
// periodic transmission.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"
	"go.opentelemetry.io/otel/metric"

	"chassis-can/codec"
	"chassis-can/telemetry"
	"chassis-can/utils"
)

var (
	ErrDuplicateMessage = errors.New("message already registered")
	ErrUnknownMessage   = errors.New("unknown message")
)

type options struct {
	logger   *slog.Logger
	provider metric.MeterProvider
	name     string
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeterProvider overrides the global OpenTelemetry meter provider.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithName sets the name used in metric names, "default" otherwise.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), name: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) meter(kind string) *telemetry.Meter {
	mopts := []telemetry.MeterOption{telemetry.WithLogger(o.logger)}
	if o.provider != nil {
		mopts = append(mopts, telemetry.WithProvider(o.provider))
	}
	return telemetry.NewMeter(kind, o.name, mopts...)
}

// RxStats is the receive bookkeeping of one identifier.
type RxStats struct {
	Frames      uint64
	ShortFrames uint64
	LastSeen    time.Time
}

// frameKey tells an 11-bit identifier apart from a 29-bit one with the same number.
type frameKey struct {
	id       codec.MessageID
	extended bool
}

func keyOf(m *codec.Message) frameKey {
	return frameKey{id: m.ID(), extended: m.Descriptor().Extended}
}

// Registry maps identifiers to codecs. Register everything at startup, then
// Dispatch may be called from the receive goroutine while the sender runs.
type Registry struct {
	l      *slog.Logger
	detail codec.DetailWriter
	now    func() time.Time

	mu     sync.RWMutex
	codecs map[frameKey]*codec.Message

	statsMu sync.Mutex
	stats   map[frameKey]*RxStats

	dispatched metric.Int64Counter
	unknown    metric.Int64Counter
	short      metric.Int64Counter
}

// New returns an empty registry writing decoded frames into detail.
func New(detail codec.DetailWriter, opts ...Option) *Registry {
	o := buildOptions(opts)
	m := o.meter("registry")

	return &Registry{
		l:      o.logger.With("component", "registry"),
		detail: detail,
		now:    time.Now,

		codecs: make(map[frameKey]*codec.Message),
		stats:  make(map[frameKey]*RxStats),

		dispatched: m.NewCounter("frames_dispatched"),
		unknown:    m.NewCounter("frames_unknown"),
		short:      m.NewCounter("frames_short"),
	}
}

// Register adds a codec. Identifiers must be unique.
func (r *Registry) Register(m *codec.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(m)
	if prev, ok := r.codecs[k]; ok {
		return errors.Wrapf(ErrDuplicateMessage, "%s (%s) clashes with %s", m.Name(), m.ID(), prev.Name())
	}
	r.codecs[k] = m

	r.l.Debug("registered message",
		"name", m.Name(), "can_id", m.ID().String(), "direction", m.Direction().String(), "period", m.Period())

	return nil
}

// MustRegister registers every codec and panics on a duplicate identifier.
func (r *Registry) MustRegister(ms ...*codec.Message) {
	for _, m := range ms {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Lookup finds a codec by identifier, the 11-bit one first when both exist.
func (r *Registry) Lookup(id codec.MessageID) (*codec.Message, bool) {
	if m, ok := r.LookupFrame(id, false); ok {
		return m, true
	}
	return r.LookupFrame(id, true)
}

// LookupFrame finds the codec of an 11-bit or a 29-bit identifier.
func (r *Registry) LookupFrame(id codec.MessageID, extended bool) (*codec.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.codecs[frameKey{id: id, extended: extended}]
	return m, ok
}

// LookupName finds a codec by message name.
func (r *Registry) LookupName(name string) (*codec.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.codecs {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Messages returns every codec sorted by identifier.
func (r *Registry) Messages() []*codec.Message {
	r.mu.RLock()
	out := make([]*codec.Message, 0, len(r.codecs))
	for _, m := range r.codecs {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID() != out[j].ID() {
			return out[i].ID() < out[j].ID()
		}
		return !out[i].Descriptor().Extended && out[j].Descriptor().Extended
	})
	return out
}

// Periodic returns the transmitted codecs with a non-zero period, sorted by identifier.
func (r *Registry) Periodic() []*codec.Message {
	var out []*codec.Message
	for _, m := range r.Messages() {
		if m.Direction() == codec.Tx && m.Period() > 0 {
			out = append(out, m)
		}
	}
	return out
}

// Dispatch decodes frame with its codec. It reports whether the frame was
// decoded; unknown identifiers, remote frames and short frames are dropped.
// A frame only matches a codec of the same identifier format.
func (r *Registry) Dispatch(ctx context.Context, frame can.Frame) bool {
	if frame.IsRemote {
		return false
	}

	k := frameKey{id: codec.MessageID(frame.ID), extended: frame.IsExtended}
	m, ok := r.LookupFrame(k.id, k.extended)
	if !ok {
		r.unknown.Add(ctx, 1)
		r.l.Log(ctx, utils.LevelTrace, "unknown message", "can_id", k.id.String(), "extended", k.extended)
		return false
	}

	length := min(int(frame.Length), len(frame.Data))
	decoded := m.Parse(frame.Data[:length], r.detail)

	r.statsMu.Lock()
	st, ok := r.stats[k]
	if !ok {
		st = &RxStats{}
		r.stats[k] = st
	}
	if decoded {
		st.Frames++
		st.LastSeen = r.now()
	} else {
		st.ShortFrames++
	}
	r.statsMu.Unlock()

	if decoded {
		r.dispatched.Add(ctx, 1)
	} else {
		r.short.Add(ctx, 1)
	}
	return decoded
}

// Stats returns the receive bookkeeping of an 11-bit identifier.
func (r *Registry) Stats(id codec.MessageID) (RxStats, bool) {
	return r.FrameStats(id, false)
}

// FrameStats returns the receive bookkeeping of an 11-bit or a 29-bit identifier.
func (r *Registry) FrameStats(id codec.MessageID, extended bool) (RxStats, bool) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	st, ok := r.stats[frameKey{id: id, extended: extended}]
	if !ok {
		return RxStats{}, false
	}
	return *st, true
}

// ResetAll puts every codec back into its safe state.
func (r *Registry) ResetAll() {
	for _, m := range r.Messages() {
		m.Reset()
	}
	r.l.Info("all messages reset to safe defaults")
}
