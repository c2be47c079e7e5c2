// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Sleepers sit in one queue ordered by absolute wakeup tick, and the tick
// interrupt pops the due prefix. Hardware configuration and calibrated
// busy-wait delays are out of scope; ticks arrive from the embedding
// driver through Interrupt.

package threads

import (
	"fmt"

	"go.uber.org/atomic"
)

// A Timer is the kernel's clock context: the monotonic tick counter, the
// sleep queue, and the tick interrupt handler, which is the counter's sole
// mutator.
type Timer struct {
	k *Kernel

	ticks    atomic.Int64
	sleepers []*Thread // ascending wakeup tick, FIFO among ties

	idleTicks   int64 // ticks that interrupted the idle driver
	threadTicks int64 // ticks that interrupted a running thread
}

// Ticks returns the number of timer ticks since the kernel booted.
func (tm *Timer) Ticks() int64 {
	return tm.ticks.Load()
}

// Elapsed returns the number of ticks since then, a value once returned
// by Ticks.
func (tm *Timer) Elapsed(then int64) int64 {
	return tm.Ticks() - then
}

// Sleep suspends the calling thread for at least n timer ticks; it returns
// immediately when n <= 0. The thread wakes on the first tick at or after
// its deadline, never before. Interrupts must be on: sleeping with them
// off would stop the only thing that can wake the sleeper.
func (tm *Timer) Sleep(n int64) {
	if n <= 0 {
		return
	}
	k := tm.k
	if k.inHandler {
		panic("sleep from interrupt handler")
	}
	if k.level != IntrOn {
		panic("sleep with interrupts off")
	}
	t := k.mustCurrent()

	old := k.Disable()
	t.wakeup = tm.ticks.Load() + n
	i := 0
	for i < len(tm.sleepers) && tm.sleepers[i].wakeup <= t.wakeup {
		i++
	}
	tm.sleepers = append(tm.sleepers, nil)
	copy(tm.sleepers[i+1:], tm.sleepers[i:])
	tm.sleepers[i] = t
	k.block(t)
	k.Restore(old)
}

// SleepMillis sleeps for approximately ms milliseconds.
func (tm *Timer) SleepMillis(ms int64) { tm.realTimeSleep(ms, 1000) }

// SleepMicros sleeps for approximately us microseconds.
func (tm *Timer) SleepMicros(us int64) { tm.realTimeSleep(us, 1000*1000) }

// SleepNanos sleeps for approximately ns nanoseconds.
func (tm *Timer) SleepNanos(ns int64) { tm.realTimeSleep(ns, 1000*1000*1000) }

/*
 * Sleep for approximately num/denom seconds:
 *
 *    (num / denom) s
 * ---------------------- = num * TickRate / denom ticks.
 * 1 s / TickRate ticks
 *
 * Requests shorter than one tick return at once; the calibrated busy-wait
 * the hardware timer uses for sub-tick delays has no equivalent here.
 */
func (tm *Timer) realTimeSleep(num, denom int64) {
	if tm.k.level != IntrOn {
		panic("sleep with interrupts off")
	}
	tm.Sleep(num * TickRate / denom)
}

// Interrupt is the timer interrupt handler, delivered once per hardware
// tick by the embedding driver (or by a running thread as an injected
// preemption point). It advances the clock, charges the tick to the
// running thread or the idle loop, and wakes every sleeper whose deadline
// has arrived. It runs in interrupt context and never blocks; waking
// threads is its only scheduler call.
func (tm *Timer) Interrupt() {
	k := tm.k
	k.handlerEnter()

	tm.ticks.Inc()
	k.tick()

	now := tm.ticks.Load()
	for len(tm.sleepers) > 0 && tm.sleepers[0].wakeup <= now {
		t := tm.sleepers[0]
		tm.sleepers[0] = nil
		tm.sleepers = tm.sleepers[1:]
		k.unblock(t)
		k.maybeYield(t)
	}

	k.handlerExit()
}

// tick is the per-tick scheduler accounting hook: it charges the tick and
// enforces the time slice on the running thread.
func (k *Kernel) tick() {
	tm := &k.Timer
	if k.current == nil {
		tm.idleTicks++
		return
	}
	tm.threadTicks++
	k.sliceLeft--
	if k.sliceLeft <= 0 {
		k.yieldPend = true
	}
}

// Stats returns a one-line tick count summary.
func (tm *Timer) Stats() string {
	return fmt.Sprintf("Timer: %d ticks (%d idle, %d thread)",
		tm.Ticks(), tm.idleTicks, tm.threadTicks)
}
