package iio

// MaxChannels is the widest device a ScanMask can describe
const MaxChannels = 32

// ScanMask is a bitmask of active channels, bit i selecting channel index i
type ScanMask uint32

// Has reports whether channel i is active
func (m ScanMask) Has(i int) bool {
	return i >= 0 && i < MaxChannels && m&(1<<uint(i)) != 0
}

// Count returns the number of active channels
func (m ScanMask) Count() int {
	n := 0
	for v := uint32(m); v != 0; v &= v - 1 {
		n++
	}
	return n
}

// Channels returns the active channel indices in ascending order
func (m ScanMask) Channels() []int {
	out := make([]int, 0, m.Count())
	for i := 0; i < MaxChannels; i++ {
		if m.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// Valid reports whether the mask is non-empty and within n channels
func (m ScanMask) Valid(n int) bool {
	if m == 0 {
		return false
	}
	if n >= MaxChannels {
		return true
	}
	return uint32(m)>>uint(n) == 0
}
