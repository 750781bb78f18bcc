//go:build !tinygo

package core

// irqState mirrors runtime/interrupt.State off the microcontroller
type irqState uintptr

// Host builds have no interrupts to mask; the sampling step of the
// simulator never touches the timer list.
func disableInterrupts() irqState { return 0 }

func restoreInterrupts(irqState) {}
