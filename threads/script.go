// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Scenario scripts drive a kernel from a txtar archive: a "script" file
// declares semaphores, locks, condition variables and threads, and a "run"
// directive drives the scheduler tick by tick. The scheduler is
// deterministic, so the produced output can be compared against the
// archive's "output" file.
//
// Grammar (line oriented, # comments):
//
//	sema <name> <count>
//	lock <name>
//	cond <name>
//	thread <name> <priority>: <op> [; <op>...]
//	run <maxticks>
//
// Ops: say <text...>, down/up/trydown <sema>, acquire/tryacquire/release
// <lock>, wait/signal/broadcast <cond> <lock>, sleep <ticks>, yield,
// setpri <n>, pri.

package threads

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/tools/txtar"
)

type Script struct {
	semas    map[string]int // name -> initial count
	locks    map[string]bool
	conds    map[string]bool
	threads  []scriptThread
	maxTicks int64
}

type scriptThread struct {
	name string
	pri  int
	ops  []scriptOp
}

type scriptOp struct {
	verb string
	args []string
}

// LoadArchive extracts the script and expected output (which may be absent)
// from a txtar archive.
func LoadArchive(data []byte) (script, output []byte, err error) {
	ar := txtar.Parse(data)
	for _, f := range ar.Files {
		switch f.Name {
		case "script":
			script = f.Data
		case "output":
			output = f.Data
		}
	}
	if script == nil {
		return nil, nil, fmt.Errorf("archive has no script file")
	}
	return script, output, nil
}

// ParseScript parses scenario script text, checking every declaration,
// reference, and op before anything runs.
func ParseScript(src []byte) (*Script, error) {
	s := &Script{
		semas: make(map[string]int),
		locks: make(map[string]bool),
		conds: make(map[string]bool),
	}
	sawRun := false
	for lineno, line := range strings.Split(string(src), "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if sawRun {
			return nil, fmt.Errorf("line %d: run must be the last directive", lineno+1)
		}
		var err error
		switch f[0] {
		case "sema":
			err = s.parseSema(f[1:])
		case "lock":
			err = s.parseResource(s.locks, f[1:])
		case "cond":
			err = s.parseResource(s.conds, f[1:])
		case "thread":
			err = s.parseThread(line)
		case "run":
			err = s.parseRun(f[1:])
			sawRun = err == nil
		default:
			err = fmt.Errorf("unknown directive %q", f[0])
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineno+1, err)
		}
	}
	if !sawRun {
		return nil, fmt.Errorf("script has no run directive")
	}
	return s, nil
}

func (s *Script) parseSema(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: sema <name> <count>")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 {
		return fmt.Errorf("bad sema count %q", args[1])
	}
	if s.declared(args[0]) {
		return fmt.Errorf("duplicate name %q", args[0])
	}
	s.semas[args[0]] = n
	return nil
}

func (s *Script) parseResource(m map[string]bool, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lock|cond <name>")
	}
	if s.declared(args[0]) {
		return fmt.Errorf("duplicate name %q", args[0])
	}
	m[args[0]] = true
	return nil
}

func (s *Script) declared(name string) bool {
	_, ok := s.semas[name]
	return ok || s.locks[name] || s.conds[name]
}

func (s *Script) parseThread(line string) error {
	head, body, ok := strings.Cut(line, ":")
	if !ok {
		return fmt.Errorf("usage: thread <name> <priority>: <op> [; <op>...]")
	}
	f := strings.Fields(head)
	if len(f) != 3 {
		return fmt.Errorf("usage: thread <name> <priority>: <op> [; <op>...]")
	}
	pri, err := strconv.Atoi(f[2])
	if err != nil || pri < PriMin || pri > PriMax {
		return fmt.Errorf("bad priority %q", f[2])
	}
	st := scriptThread{name: f[1], pri: pri}
	for _, part := range strings.Split(body, ";") {
		w := strings.Fields(part)
		if len(w) == 0 {
			continue
		}
		op := scriptOp{verb: w[0], args: w[1:]}
		if err := s.checkOp(op); err != nil {
			return err
		}
		st.ops = append(st.ops, op)
	}
	if len(st.ops) == 0 {
		return fmt.Errorf("thread %q has no ops", st.name)
	}
	s.threads = append(s.threads, st)
	return nil
}

func (s *Script) parseRun(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: run <maxticks>")
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("bad tick count %q", args[0])
	}
	s.maxTicks = n
	return nil
}

func (s *Script) checkOp(op scriptOp) error {
	switch op.verb {
	case "say":
		if len(op.args) == 0 {
			return fmt.Errorf("say needs text")
		}
	case "down", "up", "trydown":
		if len(op.args) != 1 {
			return fmt.Errorf("%s needs a semaphore", op.verb)
		}
		if _, ok := s.semas[op.args[0]]; !ok {
			return fmt.Errorf("%s: no sema %q", op.verb, op.args[0])
		}
	case "acquire", "tryacquire", "release":
		if len(op.args) != 1 || !s.locks[op.args[0]] {
			return fmt.Errorf("%s needs a lock", op.verb)
		}
	case "wait", "signal", "broadcast":
		if len(op.args) != 2 || !s.conds[op.args[0]] || !s.locks[op.args[1]] {
			return fmt.Errorf("%s needs a cond and a lock", op.verb)
		}
	case "sleep":
		if len(op.args) != 1 {
			return fmt.Errorf("sleep needs a tick count")
		}
		if _, err := strconv.ParseInt(op.args[0], 10, 64); err != nil {
			return fmt.Errorf("bad sleep count %q", op.args[0])
		}
	case "setpri":
		if len(op.args) != 1 {
			return fmt.Errorf("setpri needs a priority")
		}
		if n, err := strconv.Atoi(op.args[0]); err != nil || n < PriMin || n > PriMax {
			return fmt.Errorf("bad priority %q", op.args[0])
		}
	case "yield", "pri":
		if len(op.args) != 0 {
			return fmt.Errorf("%s takes no arguments", op.verb)
		}
	default:
		return fmt.Errorf("unknown op %q", op.verb)
	}
	return nil
}

// Run builds a kernel, spawns the script's threads, and drives the
// scheduler: drain the runnable threads, deliver one tick, repeat, until
// every thread exits. Output from the printing ops goes to w in execution
// order. Threads still alive after maxticks ticks are an error.
func (s *Script) Run(w io.Writer, trace bool) error {
	k := NewKernel()
	k.Trace = trace

	semas := make(map[string]*Semaphore, len(s.semas))
	for name, n := range s.semas {
		semas[name] = k.NewSemaphore(n)
	}
	locks := make(map[string]*Lock, len(s.locks))
	for name := range s.locks {
		locks[name] = k.NewLock()
	}
	conds := make(map[string]*Cond, len(s.conds))
	for name := range s.conds {
		conds[name] = k.NewCond()
	}

	for _, st := range s.threads {
		st := st
		k.Spawn(st.name, st.pri, func() {
			for _, op := range st.ops {
				runOp(k, op, st.name, semas, locks, conds, w)
			}
		})
	}

	for ticks := int64(0); !k.Done(); ticks++ {
		k.Wait()
		if k.Done() {
			break
		}
		if ticks >= s.maxTicks {
			return fmt.Errorf("threads still blocked after %d ticks", s.maxTicks)
		}
		k.Timer.Interrupt()
	}
	return nil
}

func runOp(k *Kernel, op scriptOp, thread string, semas map[string]*Semaphore, locks map[string]*Lock, conds map[string]*Cond, w io.Writer) {
	switch op.verb {
	case "say":
		fmt.Fprintln(w, strings.Join(op.args, " "))
	case "down":
		semas[op.args[0]].Down()
	case "up":
		semas[op.args[0]].Up()
	case "trydown":
		fmt.Fprintf(w, "%s: trydown %s = %v\n", thread, op.args[0], semas[op.args[0]].TryDown())
	case "acquire":
		locks[op.args[0]].Acquire()
	case "tryacquire":
		fmt.Fprintf(w, "%s: tryacquire %s = %v\n", thread, op.args[0], locks[op.args[0]].TryAcquire())
	case "release":
		locks[op.args[0]].Release()
	case "wait":
		conds[op.args[0]].Wait(locks[op.args[1]])
	case "signal":
		conds[op.args[0]].Signal(locks[op.args[1]])
	case "broadcast":
		conds[op.args[0]].Broadcast(locks[op.args[1]])
	case "sleep":
		n, _ := strconv.ParseInt(op.args[0], 10, 64)
		k.Timer.Sleep(n)
	case "yield":
		k.Yield()
	case "setpri":
		n, _ := strconv.Atoi(op.args[0])
		k.Current().SetPriority(n)
	case "pri":
		fmt.Fprintf(w, "%s: pri %d\n", thread, k.Current().Priority())
	}
}
