package codec

import (
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// MessageID is a CAN identifier, 11 or 29 bits.
type MessageID uint32

func (id MessageID) String() string {
	return fmt.Sprintf("0x%X", uint32(id))
}

// Direction tells whether this node sends or receives a message.
type Direction uint8

const (
	// Rx messages are reports decoded from the bus.
	Rx Direction = iota
	// Tx messages are commands encoded and transmitted by this node.
	Tx
)

func (d Direction) String() string {
	if d == Tx {
		return "tx"
	}
	return "rx"
}

// SignalKind selects how a raw field is presented to consumers.
type SignalKind uint8

const (
	KindFloat SignalKind = iota
	KindFlag
	KindEnum
)

func (k SignalKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindFlag:
		return "flag"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// SignalRole marks signals whose value is computed by the codec on encode.
type SignalRole uint8

const (
	RoleData SignalRole = iota
	// RoleChecksum signals hold the XOR of every other byte of the message.
	RoleChecksum
	// RoleCounter signals hold a rolling counter incremented on every encode.
	RoleCounter
)

// SignalDescriptor is the static layout and scaling of one signal.
type SignalDescriptor struct {
	Name   string
	Start  int
	Length int
	Order  ByteOrder
	Signed bool

	Scale  float64
	Offset float64
	Min    float64
	Max    float64
	// Default is the safe engineering value restored by Reset.
	Default float64
	Unit    string

	Kind SignalKind
	// Enum maps raw values to labels for KindEnum signals.
	Enum map[int64]string
	Role SignalRole

	// PackedIn names a larger signal of the same message this one is a sub-field of.
	PackedIn string
	Comment  string
}

// Encode converts v into the raw field value, saturating at [Min, Max] when a
// range is declared and then at the field's representable range. NaN encodes
// the signal's Default.
func (s *SignalDescriptor) Encode(v float64) int64 {
	if math.IsNaN(v) {
		v = s.Default
	}
	if s.Max > s.Min {
		v = clamp(v, s.Min, s.Max)
	}
	return Encode(v, s.Scale, s.Offset, s.Length, s.Signed)
}

// Decode converts a raw field value into engineering units.
func (s *SignalDescriptor) Decode(raw int64) float64 {
	return Decode(raw, s.Scale, s.Offset)
}

// Writable reports whether application code may stage values for the signal.
func (s *SignalDescriptor) Writable() bool {
	return s.Role == RoleData && s.PackedIn == ""
}

// EnumValue returns the raw value of an enum label.
func (s *SignalDescriptor) EnumValue(label string) (int64, bool) {
	for raw, l := range s.Enum {
		if l == label {
			return raw, true
		}
	}
	return 0, false
}

// MessageDescriptor is the static definition of one CAN message.
type MessageDescriptor struct {
	ID        MessageID
	Name      string
	Length    int
	Extended  bool
	Direction Direction
	// CycleMS is the transmit interval in milliseconds, 0 for event-only messages.
	CycleMS int
	Signals []SignalDescriptor
}

// Clone returns a deep copy, signal slice and enum tables included.
func (m *MessageDescriptor) Clone() MessageDescriptor {
	out := *m
	out.Signals = append([]SignalDescriptor(nil), m.Signals...)
	for i := range out.Signals {
		out.Signals[i].Enum = maps.Clone(out.Signals[i].Enum)
	}
	return out
}

// Period returns the declared transmit interval.
func (m *MessageDescriptor) Period() time.Duration {
	return time.Duration(m.CycleMS) * time.Millisecond
}

// Signal finds a signal by name.
func (m *MessageDescriptor) Signal(name string) (*SignalDescriptor, bool) {
	for i := range m.Signals {
		if m.Signals[i].Name == name {
			return &m.Signals[i], true
		}
	}
	return nil, false
}

// Validate checks the descriptor for layout and scaling defects.
func (m *MessageDescriptor) Validate() error {
	_, err := m.compile()
	return err
}

func (m *MessageDescriptor) compile() ([]Field, error) {
	if m.Name == "" {
		return nil, errors.Newf("message %s: empty name", m.ID)
	}
	if m.Length < 1 || m.Length > MaxFrameSize {
		return nil, errors.Newf("message %s (%s): invalid length %d", m.Name, m.ID, m.Length)
	}
	if m.CycleMS < 0 {
		return nil, errors.Newf("message %s (%s): negative cycle %d ms", m.Name, m.ID, m.CycleMS)
	}
	maxID := MessageID(0x7FF)
	if m.Extended {
		maxID = 0x1FFFFFFF
	}
	if m.ID > maxID {
		return nil, errors.Newf("message %s: identifier %s out of range", m.Name, m.ID)
	}

	fields := make([]Field, len(m.Signals))
	byName := make(map[string]int, len(m.Signals))

	for i := range m.Signals {
		s := &m.Signals[i]
		if s.Name == "" {
			return nil, errors.Newf("message %s: signal %d has no name", m.Name, i)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, errors.Newf("message %s: duplicate signal %q", m.Name, s.Name)
		}
		byName[s.Name] = i

		if err := checkLayout(s.Start, s.Length, s.Order, m.Length); err != nil {
			return nil, errors.Wrapf(err, "message %s signal %s", m.Name, s.Name)
		}
		if s.Scale == 0 {
			return nil, errors.Newf("message %s signal %s: zero scale", m.Name, s.Name)
		}
		if !s.Signed && s.Length > 63 {
			// raw values travel as int64
			return nil, errors.Newf("message %s signal %s: unsigned signal wider than 63 bits", m.Name, s.Name)
		}
		if !rangeFits(s) {
			return nil, errors.Newf("message %s signal %s: range [%g, %g] does not fit %d bits",
				m.Name, s.Name, s.Min, s.Max, s.Length)
		}
		if s.Kind == KindEnum && len(s.Enum) == 0 {
			return nil, errors.Newf("message %s signal %s: enum without value table", m.Name, s.Name)
		}
		switch s.Role {
		case RoleChecksum:
			if s.Length != 8 || s.Signed || s.Start%8 != 0 {
				return nil, errors.Newf("message %s signal %s: checksum must be an unsigned aligned byte", m.Name, s.Name)
			}
		case RoleCounter:
			if s.Signed {
				return nil, errors.Newf("message %s signal %s: rolling counter must be unsigned", m.Name, s.Name)
			}
		}

		fields[i] = NewField(s.Start, s.Length, s.Order, m.Length)
	}

	for i := range m.Signals {
		for j := i + 1; j < len(m.Signals); j++ {
			if !fields[i].Overlaps(fields[j]) {
				continue
			}
			if packedPair(m.Signals, fields, byName, i, j) || packedPair(m.Signals, fields, byName, j, i) {
				continue
			}
			return nil, errors.Newf("message %s: signals %s and %s overlap", m.Name, m.Signals[i].Name, m.Signals[j].Name)
		}
	}

	return fields, nil
}

// packedPair reports whether signal child is a declared sub-field of signal parent.
func packedPair(signals []SignalDescriptor, fields []Field, byName map[string]int, child, parent int) bool {
	p, ok := byName[signals[child].PackedIn]
	if !ok {
		return false
	}
	// follow the chain, a sub-field of a sub-field still lives in the outer field
	for hops := 0; hops < len(signals); hops++ {
		if p == parent {
			return fields[parent].Contains(fields[child])
		}
		next, ok := byName[signals[p].PackedIn]
		if !ok {
			return false
		}
		p = next
	}
	return false
}

// rangeFits reports whether the declared [Min, Max] encodes inside the raw
// range of the field. Signals without a declared range always fit.
func rangeFits(s *SignalDescriptor) bool {
	if s.Max <= s.Min {
		return true
	}
	lo, hi := RawRange(s.Length, s.Signed)
	a := math.Round((s.Min - s.Offset) / s.Scale)
	b := math.Round((s.Max - s.Offset) / s.Scale)
	return min(a, b) >= float64(lo) && max(a, b) <= float64(hi)
}
