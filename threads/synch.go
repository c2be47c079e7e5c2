// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Counting semaphores, locks, and condition variables for the cooperative
// kernel, with waiter queues kept in effective-priority order and locks
// carrying full priority donation.

package threads

/*
 * A semaphore is a nonnegative count with two atomic operators:
 * Down ("P") waits for the count to become positive, then decrements it;
 * Up ("V") increments it and wakes one waiting thread, if any.
 */
type Semaphore struct {
	k       *Kernel
	value   int
	waiters []*Thread // descending effective priority, FIFO among ties
}

// NewSemaphore returns a semaphore with the given initial count.
func (k *Kernel) NewSemaphore(value int) *Semaphore {
	if value < 0 {
		panic("negative semaphore count")
	}
	return &Semaphore{k: k, value: value}
}

// Down waits for the count to become positive, then decrements it.
// It may suspend the calling thread, so it must not be called from an
// interrupt handler. The enqueue-then-suspend sequence runs with
// interrupts off so a wakeup cannot slip between the two.
func (s *Semaphore) Down() {
	k := s.k
	if k.inHandler {
		panic("sema down from interrupt handler")
	}
	t := k.mustCurrent()

	old := k.Disable()
	for s.value == 0 {
		s.waiters = insertByPriority(s.waiters, t)
		k.block(t)
		// Mesa wakeup: the count may already be gone again; recheck.
	}
	s.value--
	k.Restore(old)
}

// TryDown decrements the count and reports true if it was positive,
// without waiting. Callable from an interrupt handler.
func (s *Semaphore) TryDown() bool {
	k := s.k
	old := k.Disable()
	ok := s.value > 0
	if ok {
		s.value--
	}
	k.Restore(old)
	return ok
}

// Up increments the count and wakes the highest-priority waiter, if any.
// Callable from an interrupt handler; it never blocks. If the woken thread
// outranks the caller, the caller yields on the way out (or at handler
// exit), so Up is a scheduling point.
func (s *Semaphore) Up() {
	k := s.k
	old := k.Disable()
	var woken *Thread
	if len(s.waiters) > 0 {
		woken = takeMax(&s.waiters)
		k.unblock(woken)
	}
	s.value++
	k.Restore(old)
	k.maybeYield(woken)
}

/*
 * A lock is a semaphore with an initial count of one and an owner: only
 * the thread that acquired it may release it, and reacquiring a held lock
 * is an error. While the lock is contended, its waiters donate their
 * effective priority to the holder, transitively along the chain of locks
 * the holder itself is blocked on, so a high-priority waiter is never
 * stuck behind an unboosted low-priority holder.
 */
type Lock struct {
	holder *Thread
	sema   Semaphore
}

// NewLock returns an unheld lock.
func (k *Kernel) NewLock() *Lock {
	return &Lock{sema: Semaphore{k: k, value: 1}}
}

// Acquire takes the lock, suspending the caller until it is available.
// Not legal from an interrupt handler, nor for the current holder.
func (l *Lock) Acquire() {
	k := l.sema.k
	if k.inHandler {
		panic("lock acquire from interrupt handler")
	}
	if l.HeldByCurrent() {
		panic("recursive lock acquire")
	}
	t := k.mustCurrent()

	old := k.Disable()
	if l.holder != nil {
		t.waitingFor = l
		l.donate(t)
	}
	l.sema.Down()
	t.waitingFor = nil
	l.holder = t
	t.held = append(t.held, l)
	// Any threads still queued behind us are now our donors.
	t.recomputePriority()
	k.Restore(old)
}

// TryAcquire takes the lock and reports true if it is free, without
// waiting and without any donation side effect.
func (l *Lock) TryAcquire() bool {
	k := l.sema.k
	if l.HeldByCurrent() {
		panic("recursive lock acquire")
	}
	t := k.mustCurrent()

	old := k.Disable()
	ok := l.sema.TryDown()
	if ok {
		l.holder = t
		t.held = append(t.held, l)
	}
	k.Restore(old)
	return ok
}

// Release gives up the lock, which the calling thread must hold. Donation
// attributable to this lock is revoked: the caller's effective priority
// falls back to its base priority or the highest donor on another lock it
// still holds. The best-priority waiter, if any, is woken.
func (l *Lock) Release() {
	k := l.sema.k
	if !l.HeldByCurrent() {
		panic("lock release by non-holder")
	}
	t := k.mustCurrent()

	old := k.Disable()
	for i, h := range t.held {
		if h == l {
			t.held = append(t.held[:i], t.held[i+1:]...)
			break
		}
	}
	l.holder = nil
	t.recomputePriority()
	l.sema.Up()
	k.Restore(old)
}

// HeldByCurrent reports whether the calling thread holds the lock.
// (Asking about another thread's lock would be racy.)
func (l *Lock) HeldByCurrent() bool {
	return l.holder != nil && l.holder == l.sema.k.current
}

// Holder returns the thread currently holding the lock, or nil.
func (l *Lock) Holder() *Thread { return l.holder }

// donate raises the effective priority of every holder along the wait-for
// chain starting at this lock to at least the donor's. The chain is acyclic
// by construction (single ownership, no recursive acquire); the walk is
// bounded by donationDepth and checks for a cycle anyway, since a cycle
// here means the kernel is already deadlocked.
func (l *Lock) donate(donor *Thread) {
	pri := donor.effective
	wait := l
	for depth := 0; wait != nil && wait.holder != nil; depth++ {
		if depth >= donationDepth {
			break
		}
		h := wait.holder
		if h == donor {
			panic("cycle in lock wait-for graph")
		}
		if h.effective >= pri {
			break
		}
		h.effective = pri
		wait = h.waitingFor
	}
}

/*
 * A condition variable lets one piece of code signal a condition and
 * cooperating code wait for it, under an externally supplied lock. The
 * monitor is "Mesa" style, not "Hoare" style: sending and receiving a
 * signal are not atomic with the awaited predicate, so a woken waiter must
 * recheck its condition and wait again if it does not hold.
 *
 * A condition variable belongs to a single lock, but one lock may have any
 * number of condition variables.
 */
type Cond struct {
	k       *Kernel
	waiters []*condWaiter // descending priority tag, FIFO among ties
}

// Each waiter blocks on its own private binary semaphore, tagged with the
// waiter's effective priority at enqueue time so Signal can pick the
// highest-priority waiter.
type condWaiter struct {
	sema Semaphore
	pri  int
}

// NewCond returns a condition variable with no waiters.
func (k *Kernel) NewCond() *Cond {
	return &Cond{k: k}
}

// Wait atomically releases l and suspends the caller until the condition
// is signaled, then reacquires l before returning. The caller must hold l
// and must recheck its predicate after Wait returns.
func (c *Cond) Wait(l *Lock) {
	k := c.k
	if k.inHandler {
		panic("cond wait from interrupt handler")
	}
	if !l.HeldByCurrent() {
		panic("cond wait without lock")
	}
	t := k.mustCurrent()

	w := &condWaiter{sema: Semaphore{k: k}, pri: t.effective}
	old := k.Disable()
	i := 0
	for i < len(c.waiters) && c.waiters[i].pri >= w.pri {
		i++
	}
	c.waiters = append(c.waiters, nil)
	copy(c.waiters[i+1:], c.waiters[i:])
	c.waiters[i] = w
	k.Restore(old)

	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes the highest-priority waiter, if any. The caller must hold l.
// Signaling is advice, not a transfer of the predicate: the waiter still
// contends for l and rechecks.
func (c *Cond) Signal(l *Lock) {
	k := c.k
	if k.inHandler {
		panic("cond signal from interrupt handler")
	}
	if !l.HeldByCurrent() {
		panic("cond signal without lock")
	}
	old := k.Disable()
	var w *condWaiter
	if len(c.waiters) > 0 {
		w = c.waiters[0]
		c.waiters = c.waiters[1:]
	}
	k.Restore(old)
	if w != nil {
		w.sema.Up()
	}
}

// Broadcast wakes every waiter. The caller must hold l.
func (c *Cond) Broadcast(l *Lock) {
	for len(c.waiters) > 0 {
		c.Signal(l)
	}
}
