// Package chassis holds the sensed and commanded vehicle state decoded from the bus.
package chassis

import (
	"sort"
	"sync"
	"time"

	"chassis-can/codec"
)

// Signal is the latest decoded value of one signal.
type Signal struct {
	codec.SignalValue

	MessageID codec.MessageID
	Updated   time.Time
}

// Writer is the handle the receive path uses to publish decoded frames.
type Writer interface {
	codec.DetailWriter
}

// Reader is the handle consumers use to read the current state.
type Reader interface {
	Signal(name string) (Signal, bool)
	Value(name string) (float64, bool)
	Flag(name string) (bool, bool)
	Enum(name string) (string, bool)
	Snapshot() map[string]Signal
}

// Detail is the union of every decoded signal, keyed by signal name.
// Signal names are unique across the vehicle protocol.
type Detail struct {
	mu      sync.RWMutex
	signals map[string]Signal
	now     func() time.Time
}

// NewDetail returns an empty Detail.
func NewDetail() *Detail {
	return &Detail{
		signals: make(map[string]Signal),
		now:     time.Now,
	}
}

// Writer returns the write handle.
func (d *Detail) Writer() Writer { return d }

// Reader returns the read-only handle.
func (d *Detail) Reader() Reader { return d }

// WriteSignals stores every value of one decoded frame under a single lock, so
// readers never observe half of a frame.
func (d *Detail) WriteSignals(id codec.MessageID, values []codec.SignalValue) {
	ts := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, v := range values {
		d.signals[v.Name] = Signal{SignalValue: v, MessageID: id, Updated: ts}
	}
}

func (d *Detail) Signal(name string) (Signal, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.signals[name]
	return s, ok
}

func (d *Detail) Value(name string) (float64, bool) {
	s, ok := d.Signal(name)
	return s.Value, ok
}

func (d *Detail) Flag(name string) (bool, bool) {
	s, ok := d.Signal(name)
	if !ok {
		return false, false
	}
	return s.Raw != 0, true
}

func (d *Detail) Enum(name string) (string, bool) {
	s, ok := d.Signal(name)
	if !ok || s.Kind != codec.KindEnum {
		return "", false
	}
	return s.SignalValue.Enum, true
}

// Snapshot copies the whole state.
func (d *Detail) Snapshot() map[string]Signal {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]Signal, len(d.signals))
	for k, v := range d.signals {
		out[k] = v
	}
	return out
}

// Names lists the signals seen so far, sorted.
func (d *Detail) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.signals))
	for k := range d.signals {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
