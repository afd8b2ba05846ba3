package codec

import "math"

// Decode converts a raw field value into engineering units. It never clamps.
func Decode(raw int64, scale, offset float64) float64 {
	return float64(raw)*scale + offset
}

// Encode converts an engineering value into a raw field value for a field of
// length bits, saturating at the field's representable range instead of wrapping.
func Encode(v, scale, offset float64, length int, signed bool) int64 {
	lo, hi := rawRange(length, signed)

	if math.IsNaN(v) || scale == 0 {
		return clampRaw(0, lo, hi)
	}

	r := math.Round((v - offset) / scale)
	// compare in float space, int64(r) is undefined outside the int64 range
	if r <= float64(lo) {
		return lo
	}
	if r >= float64(hi) {
		return hi
	}
	return int64(r)
}

// RawRange returns the smallest and largest raw values a field can hold.
func RawRange(length int, signed bool) (int64, int64) {
	return rawRange(length, signed)
}

func rawRange(length int, signed bool) (int64, int64) {
	if signed {
		if length >= 64 {
			return math.MinInt64, math.MaxInt64
		}
		return -int64(1) << (length - 1), int64(1)<<(length-1) - 1
	}
	if length >= 63 {
		// raw values travel as int64, wider unsigned fields saturate at MaxInt64.
		// Descriptors reject unsigned signals of 64 bits.
		return 0, math.MaxInt64
	}
	return 0, int64(1)<<length - 1
}

func clampRaw(raw, lo, hi int64) int64 {
	if raw < lo {
		return lo
	}
	if raw > hi {
		return hi
	}
	return raw
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toField turns a raw value into the bit pattern stored in the frame.
func toField(raw int64, length int) uint64 {
	return uint64(raw) & mask(length)
}

// fromField turns a stored bit pattern back into a raw value. An unsigned
// pattern with bit 63 set would wrap negative, descriptors never declare one.
func fromField(u uint64, length int, signed bool) int64 {
	if signed {
		return signExtend(u, length)
	}
	return int64(u)
}
