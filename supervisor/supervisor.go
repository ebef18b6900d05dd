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

// Package supervisor implements the PID 1 loop: it launches the one child
// command, forwards signals to it through the rewrite map, reaps every
// descendant the kernel reparents to it, and reports the child's fate.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/talismancer/entrypoint/sighandling"
)

// sigBacklog bounds how many undelivered signals the notify channel holds.
// While the channel is full, further deliveries are dropped by os/signal.
const sigBacklog = 128

// SpawnError reports a failed child launch. Exec distinguishes an exec-level
// failure (exit 127 by shell convention) from a fork-level one (exit 1).
type SpawnError struct {
	Exec bool
	Err  error
}

// Error implements error.Error.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting child: %v", e.Err)
}

// Unwrap implements error unwrapping.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Supervisor owns the supervised child and the installed signal stream for
// the lifetime of the process. Exactly one child is ever spawned.
type Supervisor struct {
	rewrites  *sighandling.Map
	useSetsid bool

	signals chan os.Signal
	pid     int
	exited  bool
	status  unix.WaitStatus
}

// New returns a supervisor that will forward through rewrites. With
// useSetsid the child becomes a session and group leader and signals go to
// its whole group.
func New(rewrites *sighandling.Map, useSetsid bool) *Supervisor {
	return &Supervisor{rewrites: rewrites, useSetsid: useSetsid}
}

// Run spawns argv and supervises it until it has been reaped, returning its
// wait status. The error is non-nil only when the spawn itself failed.
func (s *Supervisor) Run(argv []string) (unix.WaitStatus, error) {
	// The stream must exist before the child does, or a signal delivered
	// during spawn would be lost. The runtime handler only enqueues, which
	// keeps the async-signal-safety constraint out of our hands.
	s.signals = make(chan os.Signal, sigBacklog)
	signal.Notify(s.signals, notifySet()...)
	defer signal.Stop(s.signals)

	if err := s.start(argv); err != nil {
		return 0, err
	}
	s.loop()
	return s.status, nil
}

// start launches the child with inherited standard streams. The exec'd image
// starts with default dispositions since handlers are reset across exec.
func (s *Supervisor) start(argv []string) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return &SpawnError{Exec: true, Err: err}
	}
	cmd := exec.Command(path)
	cmd.Args = argv
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: s.useSetsid}
	if err := cmd.Start(); err != nil {
		return classifySpawnError(err)
	}
	s.pid = cmd.Process.Pid
	log.Debugf("Started child %d (setsid=%t)", s.pid, s.useSetsid)
	return nil
}

// classifySpawnError separates fork-level resource failures from exec-level
// ones; only the latter carry the 127 convention.
func classifySpawnError(err error) error {
	for _, errno := range []syscall.Errno{unix.EAGAIN, unix.ENOMEM} {
		if errors.Is(err, errno) {
			return &SpawnError{Err: err}
		}
	}
	return &SpawnError{Exec: true, Err: err}
}

// notifySet is every signal the loop consumes: all forwardable signals plus
// CHLD, which drives reaping. SIGURG is left out because the Go runtime
// raises it constantly for goroutine preemption; observing it would wake the
// loop thousands of times with nothing to do.
func notifySet() []os.Signal {
	set := []os.Signal{unix.SIGCHLD}
	for n := 1; n < sighandling.NumSig; n++ {
		sig := unix.Signal(n)
		if sig == unix.SIGURG || !sighandling.Forwardable(sig) {
			continue
		}
		set = append(set, sig)
	}
	return set
}

// loop processes one delivered signal at a time until the child has been
// reaped. Forwarding happens before the exit check, so a terminating signal
// reaches the child before the supervisor tears down.
func (s *Supervisor) loop() {
	for raw := range s.signals {
		if sig := raw.(syscall.Signal); sig == unix.SIGCHLD {
			s.reap()
		} else {
			s.forward(sig)
		}
		// reap drains fully before the child's exit is acted on, so no
		// reapable descendant outlives the loop.
		if s.exited {
			return
		}
	}
}

// forward translates sig and delivers it to the child or its group. For the
// job control signals the supervisor then stops itself, whatever the rewrite
// produced, so a later CONT resumes supervisor and group together.
func (s *Supervisor) forward(sig syscall.Signal) {
	if out := s.rewrites.Translate(sig); out == sighandling.Drop {
		log.Debugf("Dropping %s", unix.SignalName(sig))
	} else {
		target := forwardTarget(s.pid, s.useSetsid)
		if err := unix.Kill(target, out); err != nil && err != unix.ESRCH {
			log.Warningf("Forwarding %s to %d: %v", unix.SignalName(out), target, err)
		}
	}
	switch sig {
	case unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		if err := unix.Kill(os.Getpid(), unix.SIGSTOP); err != nil {
			log.Warningf("Stopping self: %v", err)
		}
	}
}

// forwardTarget is the kill target: the child itself, or its whole process
// group when it leads one. With setsid the child's pgid equals its pid.
func forwardTarget(pid int, useSetsid bool) int {
	if useSetsid {
		return -pid
	}
	return pid
}

// reap collects every descendant with a pending exit. ECHILD means nothing
// is left to wait for; other wait errors end the pass.
func (s *Supervisor) reap() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			return
		case err != nil:
			log.Warningf("Wait failed: %v", err)
			return
		case pid == 0:
			return
		case pid == s.pid:
			s.status = ws
			s.exited = true
			log.Debugf("Child %d exited with status %#x", pid, int(ws))
		default:
			log.Debugf("Reaped orphaned descendant %d", pid)
		}
	}
}

// ExitCode derives the supervisor's exit code from the child's wait status,
// emulating what the shell does for signal deaths.
func ExitCode(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}
