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

package supervisor

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/talismancer/entrypoint/sighandling"
)

func newMap(t *testing.T, pairs [][2]string) *sighandling.Map {
	t.Helper()
	m, err := sighandling.NewMap(pairs)
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}
	return m
}

func TestExitCode(t *testing.T) {
	// Linux wait status encoding: normal exit in the second byte, killing
	// signal in the low bits.
	exited := unix.WaitStatus(42 << 8)
	if !exited.Exited() || ExitCode(exited) != 42 {
		t.Errorf("ExitCode(exit 42) = %d", ExitCode(exited))
	}
	signaled := unix.WaitStatus(unix.SIGTERM)
	if !signaled.Signaled() || ExitCode(signaled) != 128+int(unix.SIGTERM) {
		t.Errorf("ExitCode(SIGTERM death) = %d", ExitCode(signaled))
	}
}

func TestForwardTarget(t *testing.T) {
	if got := forwardTarget(123, false); got != 123 {
		t.Errorf("forwardTarget(no-setsid) = %d", got)
	}
	if got := forwardTarget(123, true); got != -123 {
		t.Errorf("forwardTarget(setsid) = %d", got)
	}
}

func TestClassifySpawnError(t *testing.T) {
	var spawn *SpawnError
	if err := classifySpawnError(unix.EAGAIN); !errors.As(err, &spawn) || spawn.Exec {
		t.Errorf("EAGAIN classified as %+v, want fork failure", err)
	}
	if err := classifySpawnError(unix.ENOENT); !errors.As(err, &spawn) || !spawn.Exec {
		t.Errorf("ENOENT classified as %+v, want exec failure", err)
	}
}

func TestRunPropagatesExitCode(t *testing.T) {
	s := New(newMap(t, nil), true)
	ws, err := s.Run([]string{"sh", "-c", "exit 7"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ws.Exited() || ws.ExitStatus() != 7 {
		t.Errorf("status = %#x, want exit 7", int(ws))
	}
	if ExitCode(ws) != 7 {
		t.Errorf("ExitCode = %d, want 7", ExitCode(ws))
	}
}

func TestRunReportsSignalDeath(t *testing.T) {
	s := New(newMap(t, nil), true)
	ws, err := s.Run([]string{"sh", "-c", "kill -TERM $$"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ws.Signaled() || ws.Signal() != unix.SIGTERM {
		t.Errorf("status = %#x, want SIGTERM death", int(ws))
	}
	if ExitCode(ws) != 128+int(unix.SIGTERM) {
		t.Errorf("ExitCode = %d, want %d", ExitCode(ws), 128+int(unix.SIGTERM))
	}
}

func TestRunReapsIntermediateChildren(t *testing.T) {
	// The child leaves a background grandchild behind; its exit must still
	// be collected and acted on without waiting for the stragglers.
	s := New(newMap(t, nil), true)
	ws, err := s.Run([]string{"sh", "-c", "sleep 0.2 & exit 5"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ws.Exited() || ws.ExitStatus() != 5 {
		t.Errorf("status = %#x, want exit 5", int(ws))
	}
}

func TestRunExecFailure(t *testing.T) {
	s := New(newMap(t, nil), true)
	_, err := s.Run([]string{"/definitely/not/a/binary"})
	var spawn *SpawnError
	if !errors.As(err, &spawn) {
		t.Fatalf("Run = %v, want SpawnError", err)
	}
	if !spawn.Exec {
		t.Errorf("spawn failure not classified as exec-level: %+v", spawn)
	}
}
