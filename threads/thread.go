// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threads

import (
	"fmt"
	"os"
)

// A Kernel is one simulated single-CPU machine: a thread arena, a scheduler,
// an interrupt flag, and a clock. Exactly one thread (or the external driver)
// executes at a time; the CPU moves between goroutines by channel handoff.
type Kernel struct {
	Threads []*Thread // arena; thread IDs index into creation order
	Timer   Timer     // scheduler clock context
	Trace   bool

	current   *Thread
	level     IntrLevel
	inHandler bool
	yieldPend bool   // set in a handler, honored at handler exit
	sliceLeft int    // ticks until the running thread is preempted
	readySeq  uint64 // stamps each transition to Ready; FIFO among equal priorities
	nextID    int

	idle chan struct{} // hands the CPU back to the driver
}

type threadStatus int8

const (
	statusNew threadStatus = iota
	statusReady
	statusRunning
	statusBlocked
	statusExited
)

// A Thread is one cooperative kernel thread. The scheduler owns its
// lifecycle; waiter queues hold references, never ownership.
type Thread struct {
	Sys  *Kernel
	ID   int
	Name string

	status    threadStatus
	priority  int // base priority, set by the thread's owner
	effective int // max(base, valid donations)

	held       []*Lock // locks currently held; their waiters are this thread's donors
	waitingFor *Lock   // lock this thread is blocked acquiring, for chain walks
	wakeup     int64   // absolute wakeup tick, valid only while in the sleep queue
	readyStamp uint64  // when the thread last became Ready

	fn    func()
	sched chan struct{} // receives the CPU
}

func NewKernel() *Kernel {
	k := &Kernel{
		level: IntrOn,
		idle:  make(chan struct{}),
	}
	k.Timer.k = k
	return k
}

// Spawn creates a thread and marks it ready. If the caller is itself a
// thread of lower priority than the new one, it yields, so the highest
// priority runnable thread keeps the CPU.
func (k *Kernel) Spawn(name string, pri int, fn func()) *Thread {
	if pri < PriMin || pri > PriMax {
		panic("thread priority out of range")
	}
	t := &Thread{
		Sys:       k,
		ID:        k.nextID,
		Name:      name,
		priority:  pri,
		effective: pri,
		status:    statusNew,
		fn:        fn,
		sched:     make(chan struct{}),
	}
	k.nextID++
	k.Threads = append(k.Threads, t)
	go t.run()

	old := k.Disable()
	k.setReady(t)
	k.Restore(old)
	if k.Trace {
		fmt.Fprintf(os.Stderr, "[kern] spawn %s pri=%d\n", t.Name, pri)
	}
	k.maybeYield(t)
	return t
}

// Current returns the running thread, or nil when the driver has the CPU
// (idle, or inside a driver-delivered interrupt).
func (k *Kernel) Current() *Thread { return k.current }

func (k *Kernel) mustCurrent() *Thread {
	t := k.current
	if t == nil {
		panic("no running thread")
	}
	return t
}

// Wait gives the CPU to the highest-priority ready thread and runs the
// kernel until no thread is runnable, then returns to the caller with
// interrupts on, the way an idle loop would. It is a no-op if nothing
// is ready.
func (k *Kernel) Wait() {
	if k.current != nil {
		panic("wait from a running thread")
	}
	next := k.pick()
	if next == nil {
		return
	}
	k.level = IntrOff // handoffs happen with interrupts masked
	next.sched <- struct{}{}
	<-k.idle
	k.level = IntrOn
}

// Done reports whether every thread has exited.
func (k *Kernel) Done() bool {
	for _, t := range k.Threads {
		if t.status != statusExited {
			return false
		}
	}
	return true
}

// Yield surrenders the CPU; the caller resumes once it is again the
// best-priority ready thread.
func (k *Kernel) Yield() {
	if k.inHandler {
		panic("yield from interrupt handler")
	}
	t := k.mustCurrent()
	old := k.Disable()
	k.setReady(t)
	t.swtch()
	k.Restore(old)
}

// threadExit unwinds a thread out of its function so deferred calls run
// while the thread still owns the CPU; run recovers it and finishes the exit.
var threadExit = new(int)

// Exit terminates the calling thread without returning from its function.
func (k *Kernel) Exit() {
	k.mustCurrent()
	panic(threadExit)
}

// block suspends the current thread. Interrupts must already be off: the
// caller has put the thread on some waiter queue and the enqueue-then-suspend
// sequence must be atomic with respect to the tick handler.
func (k *Kernel) block(t *Thread) {
	if k.level != IntrOff {
		panic("block with interrupts on")
	}
	if k.inHandler {
		panic("block from interrupt handler")
	}
	if t != k.current {
		panic("block of non-current thread")
	}
	t.status = statusBlocked
	t.swtch()
}

// unblock marks a blocked thread ready. Callable from the tick handler;
// it never blocks and never switches. Callers that can outrank the running
// thread decide whether to yield.
func (k *Kernel) unblock(t *Thread) {
	if t.status != statusBlocked {
		panic("unblock of non-blocked thread")
	}
	if k.level != IntrOff {
		panic("unblock with interrupts on")
	}
	k.setReady(t)
	if k.Trace {
		fmt.Fprintf(os.Stderr, "[kern] unblock %s pri=%d\n", t.Name, t.effective)
	}
}

// maybeYield is the scheduling point after waking woken: if the woken thread
// outranks the running one, the running thread gives up the CPU now, or at
// handler exit when called in interrupt context.
func (k *Kernel) maybeYield(woken *Thread) {
	if woken == nil {
		return
	}
	cur := k.current
	if cur == nil || woken.effective <= cur.effective {
		return
	}
	if k.inHandler {
		k.yieldPend = true
		return
	}
	k.Yield()
}

// setReady moves t into the Ready state and stamps it, so equal-priority
// threads run in the order they became ready (and a yielding thread goes
// behind its peers, giving round-robin).
func (k *Kernel) setReady(t *Thread) {
	t.status = statusReady
	t.readyStamp = k.readySeq
	k.readySeq++
}

/*
 * Search for the highest-priority ready thread,
 * earliest-ready among equals.
 */
func (k *Kernel) pick() *Thread {
	var next *Thread
	for _, t := range k.Threads {
		if t.status != statusReady {
			continue
		}
		if next == nil || t.effective > next.effective ||
			t.effective == next.effective && t.readyStamp < next.readyStamp {
			next = t
		}
	}
	return next
}

// swtch gives up the CPU. The caller has already moved t out of the Running
// state; t resumes here when it is next scheduled. With no ready thread the
// CPU goes back to the driver.
func (t *Thread) swtch() {
	k := t.Sys
	next := k.pick()
	if next == t {
		t.resume()
		return
	}
	k.current = nil
	if next != nil {
		next.sched <- struct{}{}
	} else {
		k.idle <- struct{}{}
	}
	<-t.sched
	t.resume()
}

func (t *Thread) resume() {
	k := t.Sys
	k.current = t
	t.status = statusRunning
	k.sliceLeft = timeSlice
	if k.Trace {
		fmt.Fprintf(os.Stderr, "[kern] run %s pri=%d\n", t.Name, t.effective)
	}
}

func (t *Thread) run() {
	<-t.sched
	t.resume()
	t.Sys.level = IntrOn // fresh threads start with interrupts on
	func() {
		defer func() {
			if e := recover(); e != nil && e != threadExit {
				panic(e)
			}
		}()
		t.fn()
	}()
	t.exit()
}

func (t *Thread) exit() {
	k := t.Sys
	k.Disable()
	t.status = statusExited
	if k.Trace {
		fmt.Fprintf(os.Stderr, "[kern] exit %s\n", t.Name)
	}
	next := k.pick()
	k.current = nil
	if next != nil {
		next.sched <- struct{}{}
	} else {
		k.idle <- struct{}{}
	}
	// goroutine falls off the end; nothing may resume an exited thread
}

// Priority returns the thread's effective priority: its base priority or
// the highest live donation, whichever is greater.
func (t *Thread) Priority() int { return t.effective }

// BasePriority returns the priority set by the thread's owner, ignoring
// donations.
func (t *Thread) BasePriority() int { return t.priority }

// SetPriority changes the thread's base priority. Donations still apply on
// top. A running thread that no longer outranks some ready thread yields.
func (t *Thread) SetPriority(pri int) {
	if pri < PriMin || pri > PriMax {
		panic("thread priority out of range")
	}
	k := t.Sys
	old := k.Disable()
	t.priority = pri
	t.recomputePriority()
	// A blocked donor's change flows up the wait-for chain: every holder
	// above recomputes from its own donors, so raises propagate and stale
	// donations fall away.
	wait := t.waitingFor
	for depth := 0; wait != nil && wait.holder != nil && depth < donationDepth; depth++ {
		h := wait.holder
		h.recomputePriority()
		wait = h.waitingFor
	}
	k.Restore(old)
	if t == k.current {
		if next := k.peekReady(); next != nil && next.effective > t.effective {
			k.Yield()
		}
	}
}

// peekReady returns the best ready thread without stamping anything.
func (k *Kernel) peekReady() *Thread {
	var best *Thread
	for _, t := range k.Threads {
		if t.status == statusReady && (best == nil || t.effective > best.effective) {
			best = t
		}
	}
	return best
}

// recomputePriority rebuilds t's effective priority from its base priority
// and the waiters of every lock it holds. Donation attributable to a lock
// disappears as soon as the lock does.
func (t *Thread) recomputePriority() {
	eff := t.priority
	for _, l := range t.held {
		for _, w := range l.sema.waiters {
			if w.effective > eff {
				eff = w.effective
			}
		}
	}
	t.effective = eff
}

// insertByPriority inserts t into a descending-priority queue, after any
// equal-priority threads already queued, so ties stay FIFO by arrival.
func insertByPriority(q []*Thread, t *Thread) []*Thread {
	i := 0
	for i < len(q) && q[i].effective >= t.effective {
		i++
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = t
	return q
}

// takeMax removes and returns the highest-priority thread, earliest arrival
// among ties. The queue was insert-ordered, but a donation can raise a
// thread after it queued, so the maximum is re-found at wake time.
func takeMax(q *[]*Thread) *Thread {
	best := 0
	for i, t := range *q {
		if t.effective > (*q)[best].effective {
			best = i
		}
	}
	t := (*q)[best]
	*q = append((*q)[:best], (*q)[best+1:]...)
	return t
}

func (ts threadStatus) String() string {
	switch ts {
	case statusNew:
		return "New"
	case statusReady:
		return "Ready"
	case statusRunning:
		return "Running"
	case statusBlocked:
		return "Blocked"
	case statusExited:
		return "Exited"
	}
	return fmt.Sprintf("threadStatus(%d)", int(ts))
}
