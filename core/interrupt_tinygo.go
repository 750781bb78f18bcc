//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts masks interrupts so the BUSY or PWM handler cannot
// observe a half-linked timer list
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
