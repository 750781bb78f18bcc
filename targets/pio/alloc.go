//go:build rp2040

package pio

// RP2040 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
var (
	allocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum  = uint8(0)
	nextSMNum   = uint8(0)
)

// allocate hands out state machines round-robin across both blocks
func allocate() (uint8, uint8, bool) {
	for i := 0; i < 8; i++ {
		pioNum := nextPIONum
		smNum := nextSMNum

		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		if !allocations[pioNum][smNum] {
			allocations[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}
	return 0, 0, false
}

func release(pioNum, smNum uint8) {
	allocations[pioNum][smNum] = false
}
