package codec

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can"
)

var (
	ErrUnknownSignal  = errors.New("unknown signal")
	ErrReadOnlySignal = errors.New("signal is not writable")
	ErrUnknownEnum    = errors.New("unknown enum label")
	ErrNotFinite      = errors.New("value is not a finite number")
)

// Message is the codec bound to one CAN identifier.
//
// Parse only reads the immutable descriptor and may run concurrently with
// UpdateData, Reset and the setters, which serialize on the codec mutex.
type Message struct {
	desc   MessageDescriptor
	fields []Field
	index  map[string]int
	l      *slog.Logger

	defaults [MaxFrameSize]byte

	mu      sync.Mutex
	state   [MaxFrameSize]byte
	staged  []float64
	counter uint64
}

// Option configures a Message.
type Option func(*Message)

// WithLogger sets the logger used for decode warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Message) {
		m.l = l
	}
}

// NewMessage builds the codec for desc and resets it to its safe state.
// It panics when the descriptor is invalid, descriptors are static data and a
// defect there can only be fixed by changing the table.
func NewMessage(desc MessageDescriptor, opts ...Option) *Message {
	desc = desc.Clone()

	fields, err := desc.compile()
	if err != nil {
		panic(errors.Wrap(err, "codec: invalid message descriptor"))
	}

	m := &Message{
		desc:   desc,
		fields: fields,
		index:  make(map[string]int, len(desc.Signals)),
		l:      slog.Default(),
		staged: make([]float64, len(desc.Signals)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.l = m.l.With("message", desc.Name, "can_id", desc.ID.String())

	for i, s := range desc.Signals {
		m.index[s.Name] = i
	}

	m.buildDefaults()
	m.Reset()

	return m
}

func (m *Message) buildDefaults() {
	var buf [MaxFrameSize]byte
	for i := range m.desc.Signals {
		s := &m.desc.Signals[i]
		if !s.Writable() {
			continue
		}
		m.fields[i].Insert(buf[:], toField(s.Encode(s.Default), s.Length))
	}
	m.fillComputed(buf[:], 0)
	m.defaults = buf
}

// ID returns the CAN identifier.
func (m *Message) ID() MessageID { return m.desc.ID }

// Name returns the message name.
func (m *Message) Name() string { return m.desc.Name }

// Length returns the payload size in bytes.
func (m *Message) Length() int { return m.desc.Length }

// Direction returns whether the message is sent or received by this node.
func (m *Message) Direction() Direction { return m.desc.Direction }

// Period returns the transmit interval, 0 for event-only messages.
func (m *Message) Period() time.Duration { return m.desc.Period() }

// Descriptor returns the message definition. It must not be modified.
func (m *Message) Descriptor() *MessageDescriptor { return &m.desc }

// Decode decodes every signal of frame. It returns false, without decoding
// anything, when frame is shorter than the message.
func (m *Message) Decode(frame []byte) ([]SignalValue, bool) {
	if len(frame) < m.desc.Length {
		return nil, false
	}

	values := make([]SignalValue, len(m.desc.Signals))
	for i := range m.desc.Signals {
		s := &m.desc.Signals[i]
		raw := fromField(m.fields[i].Extract(frame), s.Length, s.Signed)

		values[i] = SignalValue{
			Name:  s.Name,
			Kind:  s.Kind,
			Raw:   raw,
			Value: s.Decode(raw),
			Unit:  s.Unit,
		}
		switch s.Kind {
		case KindFlag:
			values[i].Flag = raw != 0
		case KindEnum:
			values[i].Enum = s.Enum[raw]
		}
	}
	return values, true
}

// Parse decodes frame and writes the values into out.
//
// A frame shorter than the message is skipped as a whole: nothing is written
// to out, a warning is logged and false is returned.
func (m *Message) Parse(frame []byte, out DetailWriter) bool {
	values, ok := m.Decode(frame)
	if !ok {
		m.l.Warn("short frame, decode skipped", "want", m.desc.Length, "got", len(frame))
		return false
	}
	if out != nil {
		out.WriteSignals(m.desc.ID, values)
	}
	return true
}

// UpdateData encodes the staged commands into the codec state and copies the
// state into frame, which must hold at least Length bytes.
func (m *Message) UpdateData(frame []byte) {
	if len(frame) < m.desc.Length {
		panic(errors.AssertionFailedf("codec: %s needs a %d byte buffer, got %d", m.desc.Name, m.desc.Length, len(frame)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.desc.Signals {
		s := &m.desc.Signals[i]
		if !s.Writable() {
			continue
		}
		m.fields[i].Insert(m.state[:], toField(s.Encode(m.staged[i]), s.Length))
	}
	m.fillComputed(m.state[:], m.counter)
	m.counter++

	copy(frame, m.state[:m.desc.Length])
}

// fillComputed writes rolling counters, then checksums, into buf.
func (m *Message) fillComputed(buf []byte, counter uint64) {
	for i := range m.desc.Signals {
		if m.desc.Signals[i].Role == RoleCounter {
			m.fields[i].Insert(buf, counter)
		}
	}
	for i := range m.desc.Signals {
		s := &m.desc.Signals[i]
		if s.Role != RoleChecksum {
			continue
		}
		skip := s.Start / 8
		var sum byte
		for b := 0; b < m.desc.Length; b++ {
			if b != skip {
				sum ^= buf[b]
			}
		}
		m.fields[i].Insert(buf, uint64(sum))
	}
}

// Frame runs UpdateData into a frame ready for transmission.
func (m *Message) Frame() can.Frame {
	f := can.Frame{
		ID:         uint32(m.desc.ID),
		Length:     uint8(m.desc.Length),
		IsExtended: m.desc.Extended,
	}
	m.UpdateData(f.Data[:])
	return f
}

// Reset restores the safe default state and staged commands.
func (m *Message) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = m.defaults
	for i := range m.desc.Signals {
		m.staged[i] = m.desc.Signals[i].Default
	}
	m.counter = 0
}

// State returns a copy of the last encoded payload.
func (m *Message) State() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]byte, m.desc.Length)
	copy(out, m.state[:])
	return out
}

func (m *Message) writable(name string) (int, error) {
	i, ok := m.index[name]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownSignal, "%s.%s", m.desc.Name, name)
	}
	if !m.desc.Signals[i].Writable() {
		return 0, errors.Wrapf(ErrReadOnlySignal, "%s.%s", m.desc.Name, name)
	}
	return i, nil
}

func (m *Message) finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Wrapf(ErrNotFinite, "%s.%s=%v", m.desc.Name, name, v)
	}
	return nil
}

// Set stages an engineering value for the next UpdateData. NaN and infinities
// are rejected, the staged value stays as it was.
func (m *Message) Set(name string, v float64) error {
	i, err := m.writable(name)
	if err != nil {
		return err
	}
	if err := m.finite(name, v); err != nil {
		return err
	}

	m.mu.Lock()
	m.staged[i] = v
	m.mu.Unlock()
	return nil
}

// SetFlag stages a boolean signal.
func (m *Message) SetFlag(name string, on bool) error {
	i, err := m.writable(name)
	if err != nil {
		return err
	}

	var raw int64
	if on {
		raw = 1
	}
	v := m.desc.Signals[i].Decode(raw)

	m.mu.Lock()
	m.staged[i] = v
	m.mu.Unlock()
	return nil
}

// SetEnum stages an enum signal by label.
func (m *Message) SetEnum(name, label string) error {
	i, err := m.writable(name)
	if err != nil {
		return err
	}
	s := &m.desc.Signals[i]
	raw, ok := s.EnumValue(label)
	if !ok {
		return errors.Wrapf(ErrUnknownEnum, "%s.%s=%q", m.desc.Name, name, label)
	}

	m.mu.Lock()
	m.staged[i] = s.Decode(raw)
	m.mu.Unlock()
	return nil
}

// SetCommands stages several values at once, either all of them or none.
func (m *Message) SetCommands(values map[string]float64) error {
	idx := make(map[int]float64, len(values))
	for name, v := range values {
		i, err := m.writable(name)
		if err != nil {
			return err
		}
		if err := m.finite(name, v); err != nil {
			return err
		}
		idx[i] = v
	}

	m.mu.Lock()
	for i, v := range idx {
		m.staged[i] = v
	}
	m.mu.Unlock()
	return nil
}

// Command returns the staged value of a signal.
func (m *Message) Command(name string) (float64, bool) {
	i, ok := m.index[name]
	if !ok {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staged[i], true
}
