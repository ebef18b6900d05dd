// Copyright 2023 The Entrypoint Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sighandling parses signal names and holds the rewrite table
// consulted before a signal is forwarded to the supervised child.
package sighandling

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Drop is the rewrite target meaning the signal is not forwarded at all.
// Signal 0 is never deliverable, so it cannot collide with a real target.
const Drop = unix.Signal(0)

// NumSig matches the kernel's _NSIG; valid signal numbers are 1..NumSig-1.
const NumSig = 65

// ParseSignal returns the signal named by s. Names are case insensitive and
// the SIG prefix is optional. Numeric forms are rejected.
func ParseSignal(s string) (unix.Signal, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("bad signal name %q", s)
}

// Forwardable reports whether sig may be forwarded to the child. KILL and
// STOP cannot be caught, CHLD only drives reaping, and the synchronous
// faults stay with the runtime that raised them.
func Forwardable(sig unix.Signal) bool {
	switch sig {
	case unix.SIGKILL, unix.SIGSTOP, unix.SIGCHLD,
		unix.SIGSEGV, unix.SIGBUS, unix.SIGFPE, unix.SIGILL:
		return false
	}
	return sig > 0 && sig < NumSig
}

// Map is the rewrite function applied when forwarding. It is total: a signal
// without an explicit entry maps to itself. Built once at startup, read only
// afterwards.
type Map struct {
	rewrite map[unix.Signal]unix.Signal
}

// NewMap builds the rewrite table from FROM/TO name pairs. The job control
// defaults are installed first so an explicit pair can override them: in a
// new session the child's foreground group is orphaned and the kernel does
// not apply default TSTP/TTIN/TTOU behavior, so those become STOP.
func NewMap(pairs [][2]string) (*Map, error) {
	m := &Map{rewrite: map[unix.Signal]unix.Signal{
		unix.SIGTSTP: unix.SIGSTOP,
		unix.SIGTTIN: unix.SIGSTOP,
		unix.SIGTTOU: unix.SIGSTOP,
	}}
	for _, p := range pairs {
		if err := m.add(p[0], p[1]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Map) add(from, to string) error {
	src, err := ParseSignal(from)
	if err != nil {
		return err
	}
	if src == unix.SIGKILL || src == unix.SIGSTOP {
		return fmt.Errorf("%s cannot be caught, so cannot be rewritten", unix.SignalName(src))
	}
	dst := Drop
	if !strings.EqualFold(strings.TrimSpace(to), "NONE") {
		if dst, err = ParseSignal(to); err != nil {
			return err
		}
	}
	m.rewrite[src] = dst
	return nil
}

// Translate maps a delivered signal to the signal actually forwarded.
// A Drop result means nothing is sent.
func (m *Map) Translate(sig unix.Signal) unix.Signal {
	if out, ok := m.rewrite[sig]; ok {
		return out
	}
	return sig
}

// Equal reports whether two maps perform identical rewrites.
func (m *Map) Equal(o *Map) bool {
	if len(m.rewrite) != len(o.rewrite) {
		return false
	}
	for sig, out := range m.rewrite {
		if other, ok := o.rewrite[sig]; !ok || other != out {
			return false
		}
	}
	return true
}
