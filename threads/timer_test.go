// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package threads

import (
	"reflect"
	"strings"
	"testing"
)

func TestSleepWakeOrder(t *testing.T) {
	k := NewKernel()
	type wake struct {
		name string
		tick int64
	}
	var wakes []wake

	// Issued in call order 5, 1, 3: equal priorities run in spawn order,
	// so the sleep calls happen in this order on tick 0.
	for _, tc := range []struct {
		name  string
		ticks int64
	}{
		{"five", 5},
		{"one", 1},
		{"three", 3},
	} {
		tc := tc
		k.Spawn(tc.name, PriDefault, func() {
			start := k.Timer.Ticks()
			k.Timer.Sleep(tc.ticks)
			woke := k.Timer.Ticks()
			if k.Timer.Elapsed(start) < tc.ticks {
				t.Errorf("%s woke after %d ticks, want >= %d", tc.name, woke-start, tc.ticks)
			}
			if woke-start > tc.ticks+1 {
				t.Errorf("%s woke after %d ticks, want <= %d", tc.name, woke-start, tc.ticks+1)
			}
			wakes = append(wakes, wake{tc.name, woke})
		})
	}
	drive(t, k, 20)

	var names []string
	for _, w := range wakes {
		names = append(names, w.name)
	}
	want := []string{"one", "three", "five"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("wake order = %v, want %v", names, want)
	}
}

func TestSleepZeroAndNegative(t *testing.T) {
	k := NewKernel()
	ran := false

	k.Spawn("t", PriDefault, func() {
		k.Timer.Sleep(0)
		k.Timer.Sleep(-1)
		ran = true
	})
	k.Wait() // must finish without a single tick

	if !ran {
		t.Fatal("thread did not finish without ticks")
	}
	if got := k.Timer.Ticks(); got != 0 {
		t.Fatalf("ticks advanced to %d", got)
	}
}

// Sleepers with the same deadline wake FIFO by the order they slept.
func TestSleepTieOrder(t *testing.T) {
	k := NewKernel()
	var order []string

	for _, name := range []string{"a", "b", "c"} {
		name := name
		k.Spawn(name, PriDefault, func() {
			k.Timer.Sleep(2)
			order = append(order, name)
		})
	}
	drive(t, k, 10)

	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("wake order = %v, want %v", order, want)
	}
}

// A sleeper due on a tick wakes on that tick's interrupt, even when several
// are due at once.
func TestSleepBatchWake(t *testing.T) {
	k := NewKernel()
	woken := 0

	k.Spawn("short", PriDefault, func() {
		k.Timer.Sleep(1)
		woken++
	})
	k.Spawn("alsoShort", PriDefault, func() {
		k.Timer.Sleep(1)
		woken++
	})
	k.Spawn("long", PriDefault, func() {
		k.Timer.Sleep(3)
		woken++
	})
	k.Wait()
	k.Timer.Interrupt()
	k.Wait()
	if woken != 2 {
		t.Fatalf("after 1 tick, woken = %d, want 2", woken)
	}
	if n := len(k.Timer.sleepers); n != 1 {
		t.Fatalf("sleep queue has %d entries, want 1", n)
	}
	k.Timer.Interrupt()
	k.Timer.Interrupt()
	k.Wait()
	if woken != 3 {
		t.Fatalf("after 3 ticks, woken = %d, want 3", woken)
	}
}

func TestRealTimeSleepConversion(t *testing.T) {
	k := NewKernel()
	var start, afterSub, afterFull int64

	k.Spawn("t", PriDefault, func() {
		start = k.Timer.Ticks()
		k.Timer.SleepMicros(500) // well under one tick at TickRate=100: returns at once
		afterSub = k.Timer.Ticks()
		k.Timer.SleepMillis(20) // 2 ticks
		afterFull = k.Timer.Ticks()
	})
	drive(t, k, 10)

	if afterSub != start {
		t.Errorf("sub-tick sleep advanced clock from %d to %d", start, afterSub)
	}
	if got := afterFull - start; got < 2 {
		t.Errorf("20ms sleep took %d ticks, want >= 2", got)
	}
}

// A tick delivered while a thread is running charges its time slice and
// forces a yield once the slice is spent.
func TestTimeSlicePreemption(t *testing.T) {
	k := NewKernel()
	var order []string
	hog := func(name string) func() {
		return func() {
			for i := 0; i < timeSlice*2; i++ {
				order = append(order, name)
				k.Timer.Interrupt() // simulated tick arriving mid-run
			}
		}
	}
	k.Spawn("a", PriDefault, hog("a"))
	k.Spawn("b", PriDefault, hog("b"))
	drive(t, k, 100)

	want := []string{
		"a", "a", "a", "a",
		"b", "b", "b", "b",
		"a", "a", "a", "a",
		"b", "b", "b", "b",
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("schedule = %v, want %v", order, want)
	}
}

func TestTimerStats(t *testing.T) {
	k := NewKernel()
	k.Spawn("sleeper", PriDefault, func() { k.Timer.Sleep(2) })
	drive(t, k, 10)

	if got := k.Timer.Stats(); !strings.HasPrefix(got, "Timer: 2 ticks") {
		t.Errorf("Stats() = %q, want 2 ticks", got)
	}
	if k.Timer.idleTicks != 2 {
		t.Errorf("idleTicks = %d, want 2", k.Timer.idleTicks)
	}
}

func TestInterruptRequiresEnabled(t *testing.T) {
	k := NewKernel()
	k.Disable()
	defer func() {
		if recover() == nil {
			t.Error("Interrupt with interrupts off did not panic")
		}
	}()
	k.Timer.Interrupt()
}
