package codec

import (
	"github.com/cockroachdb/errors"
)

// MaxFrameSize is the payload size of a classic CAN frame.
const MaxFrameSize = 8

// ByteOrder selects how a field's bits are numbered across byte boundaries.
type ByteOrder uint8

const (
	// LittleEndian (Intel): bit p is bit p%8 of byte p/8, the field's LSB sits at the start bit.
	LittleEndian ByteOrder = iota
	// BigEndian (Motorola): bits are numbered MSB-first, bit p is bit 7-p%8 of byte p/8,
	// and the field's MSB sits at the start bit.
	BigEndian
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return "unknown"
	}
}

// MotorolaStart converts a DBC Motorola start bit (position of the MSB, LSB0 numbering
// inside each byte) into the MSB-first numbering used by BigEndian fields.
func MotorolaStart(dbcStartBit int) int {
	return 8*(dbcStartBit/8) + 7 - dbcStartBit%8
}

// segment is the part of a field that lives inside a single byte.
type segment struct {
	index      int   // byte index in the frame
	lsb        uint8 // position of the segment's low bit inside the byte
	mask       uint8 // unshifted mask, width of the segment
	valueShift uint8 // position of the segment's low bit inside the field value
}

// Field is a precompiled bit field. The byte order is resolved once at construction,
// Extract and Insert only walk the segment table.
type Field struct {
	start    int
	length   int
	order    ByteOrder
	segments []segment
}

// NewField compiles a field of length bits at start for frames of frameSize bytes.
// An out-of-range layout is a descriptor defect and panics.
func NewField(start, length int, order ByteOrder, frameSize int) Field {
	if err := checkLayout(start, length, order, frameSize); err != nil {
		panic(err)
	}

	f := Field{start: start, length: length, order: order}

	switch order {
	case LittleEndian:
		// walk from the field LSB upwards
		pos, done := start, 0
		for done < length {
			bit := pos % 8
			n := min(8-bit, length-done)
			f.segments = append(f.segments, segment{
				index:      pos / 8,
				lsb:        uint8(bit),
				mask:       uint8(1<<n - 1),
				valueShift: uint8(done),
			})
			pos += n
			done += n
		}

	case BigEndian:
		// walk from the field MSB downwards, MSB-first numbering
		pos, remaining := start, length
		for remaining > 0 {
			fromMSB := pos % 8
			n := min(8-fromMSB, remaining)
			remaining -= n
			f.segments = append(f.segments, segment{
				index:      pos / 8,
				lsb:        uint8(8 - fromMSB - n),
				mask:       uint8(1<<n - 1),
				valueShift: uint8(remaining),
			})
			pos += n
		}
	}

	return f
}

func checkLayout(start, length int, order ByteOrder, frameSize int) error {
	switch {
	case order != LittleEndian && order != BigEndian:
		return errors.AssertionFailedf("bitfield: unknown byte order %d", order)
	case frameSize < 1 || frameSize > MaxFrameSize:
		return errors.AssertionFailedf("bitfield: frame size %d out of range [1,%d]", frameSize, MaxFrameSize)
	case start < 0:
		return errors.AssertionFailedf("bitfield: negative start bit %d", start)
	case length < 1 || length > 64:
		return errors.AssertionFailedf("bitfield: bit length %d out of range [1,64]", length)
	case start+length > 8*frameSize:
		return errors.AssertionFailedf("bitfield: bits [%d,%d) exceed %d-byte frame", start, start+length, frameSize)
	}
	return nil
}

// Start returns the field's start bit.
func (f Field) Start() int { return f.start }

// Len returns the field's width in bits.
func (f Field) Len() int { return f.length }

// Order returns the field's byte order.
func (f Field) Order() ByteOrder { return f.order }

// End returns the highest byte index touched by the field, plus one.
func (f Field) End() int {
	end := 0
	for _, s := range f.segments {
		end = max(end, s.index+1)
	}
	return end
}

// Extract reads the field as an unsigned integer.
func (f Field) Extract(frame []byte) uint64 {
	var v uint64
	for _, s := range f.segments {
		v |= uint64((frame[s.index]>>s.lsb)&s.mask) << s.valueShift
	}
	return v
}

// ExtractSigned reads the field as a two's complement integer sign-extended to 64 bits.
func (f Field) ExtractSigned(frame []byte) int64 {
	return signExtend(f.Extract(frame), f.length)
}

// Insert writes the low bits of v into the field, leaving the other bits of frame untouched.
func (f Field) Insert(frame []byte, v uint64) {
	for _, s := range f.segments {
		b := uint8(v>>s.valueShift) & s.mask
		frame[s.index] = frame[s.index]&^(s.mask<<s.lsb) | b<<s.lsb
	}
}

// Overlaps reports whether the two fields share at least one bit.
func (f Field) Overlaps(o Field) bool {
	for _, a := range f.segments {
		for _, b := range o.segments {
			if a.index == b.index && (a.mask<<a.lsb)&(b.mask<<b.lsb) != 0 {
				return true
			}
		}
	}
	return false
}

// Contains reports whether every bit of o is also a bit of f.
func (f Field) Contains(o Field) bool {
	var fb, ob [MaxFrameSize]uint8
	for _, s := range f.segments {
		fb[s.index] |= s.mask << s.lsb
	}
	for _, s := range o.segments {
		ob[s.index] |= s.mask << s.lsb
	}
	for i := range ob {
		if ob[i]&^fb[i] != 0 {
			return false
		}
	}
	return true
}

// Extract reads an unsigned field from frame. It compiles the layout on every call,
// hot paths should keep a Field instead.
func Extract(frame []byte, start, length int, order ByteOrder) uint64 {
	return NewField(start, length, order, min(len(frame), MaxFrameSize)).Extract(frame)
}

// Insert writes v into a field of frame.
func Insert(frame []byte, start, length int, order ByteOrder, v uint64) {
	NewField(start, length, order, min(len(frame), MaxFrameSize)).Insert(frame, v)
}

func mask(length int) uint64 {
	return ^uint64(0) >> (64 - length)
}

func signExtend(u uint64, length int) int64 {
	shift := 64 - length
	return int64(u<<shift) >> shift
}
