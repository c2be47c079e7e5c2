// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threads

// IntrLevel is the simulated CPU interrupt flag. There is no interrupt
// controller here: the sole interrupt source is the timer tick, delivered
// explicitly through Timer.Interrupt, and the flag gates whether delivery
// is legal and protects every queue check-and-mutate sequence.
type IntrLevel int8

const (
	IntrOff IntrLevel = iota // interrupts masked
	IntrOn                   // interrupts deliverable
)

// Disable masks interrupts and returns the previous level. The usual
// pattern brackets a queue mutation:
//
//	old := k.Disable()
//	... check and mutate ...
//	k.Restore(old)
func (k *Kernel) Disable() IntrLevel {
	old := k.level
	k.level = IntrOff
	return old
}

// Restore sets the interrupt level back to a value saved by Disable.
// Interrupts cannot be enabled from within a handler.
func (k *Kernel) Restore(level IntrLevel) {
	if level == IntrOn && k.inHandler {
		panic("interrupts enabled in interrupt handler")
	}
	k.level = level
}

// Level returns the current interrupt level.
func (k *Kernel) Level() IntrLevel { return k.level }

// InHandler reports whether the CPU is executing an interrupt handler.
// Operations that can suspend the caller must never run in that context.
func (k *Kernel) InHandler() bool { return k.inHandler }

// handlerEnter begins interrupt context: interrupts must have been
// deliverable, and are masked for the handler's duration.
func (k *Kernel) handlerEnter() {
	if k.level != IntrOn {
		panic("interrupt delivered with interrupts off")
	}
	if k.inHandler {
		panic("nested interrupt")
	}
	k.level = IntrOff
	k.inHandler = true
}

// handlerExit ends interrupt context and honors a pending yield-on-return:
// if the handler woke or outranked past the interrupted thread, that thread
// gives up the CPU now, at the first point where switching is legal again.
func (k *Kernel) handlerExit() {
	k.inHandler = false
	k.level = IntrOn
	if k.yieldPend {
		k.yieldPend = false
		if k.current != nil {
			k.Yield()
		}
	}
}

func (l IntrLevel) String() string {
	if l == IntrOff {
		return "off"
	}
	return "on"
}
