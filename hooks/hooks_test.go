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

package hooks

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/talismancer/entrypoint/vars"
)

func writeHook(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "20-net.hook", "true")
	writeHook(t, dir, "10-db.prehook", "true")
	writeHook(t, dir, "10-db.posthook", "true")
	// Ignored: wrong extension, not executable, directory.
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "30-skip.hook"), []byte("#!/bin/sh\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.hook"), 0755); err != nil {
		t.Fatal(err)
	}

	units, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("Discover returned %d units: %+v", len(units), units)
	}
	if units[0].Name != "10-db" || units[1].Name != "20-net" {
		t.Errorf("unit order: %q, %q", units[0].Name, units[1].Name)
	}
	if units[0].Prehook == "" || units[0].Posthook == "" || units[0].Hook != "" {
		t.Errorf("10-db capabilities: %+v", units[0])
	}
	if units[1].Hook == "" || units[1].Prehook != "" || units[1].Posthook != "" {
		t.Errorf("20-net capabilities: %+v", units[1])
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	units, err := Discover(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if units != nil {
		t.Errorf("units = %v, want none", units)
	}
}

func TestRunPrehooksMutatesSpace(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "a.prehook", "echo 'ADDED: by-prehook'")
	// A silent prehook leaves the space alone.
	writeHook(t, dir, "b.prehook", "true")

	units, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	space := vars.Space{"KEPT": "yes"}
	if err := RunPrehooks(units, space); err != nil {
		t.Fatalf("RunPrehooks: %v", err)
	}
	if space["ADDED"] != "by-prehook" {
		t.Errorf("ADDED = %v", space["ADDED"])
	}
	if space["KEPT"] != "yes" {
		t.Errorf("KEPT = %v", space["KEPT"])
	}
}

func TestRunPrehookReceivesSpaceOnStdin(t *testing.T) {
	dir := t.TempDir()
	// Echo the incoming value back under a new key.
	writeHook(t, dir, "a.prehook", `printf 'SEEN: %s\n' "$(grep '^GIVEN:' - | cut -d' ' -f2)"`)

	units, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	space := vars.Space{"GIVEN": "value-in"}
	if err := RunPrehooks(units, space); err != nil {
		t.Fatalf("RunPrehooks: %v", err)
	}
	if space["SEEN"] != "value-in" {
		t.Errorf("SEEN = %v", space["SEEN"])
	}
}

func TestRunPhaseOrderAndError(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "order")
	writeHook(t, dir, "10-first.hook", "echo first >> "+marker)
	writeHook(t, dir, "20-second.hook", "echo second >> "+marker)

	units, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if err := RunPhase(units, PhaseHook, vars.Space{}); err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first\nsecond\n" {
		t.Errorf("order = %q", got)
	}

	writeHook(t, dir, "15-bad.hook", "exit 3")
	units, err = Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	err = RunPhase(units, PhaseHook, vars.Space{})
	var hookErr *HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("RunPhase = %v, want HookError", err)
	}
	if hookErr.Unit != "15-bad" || hookErr.Phase != PhaseHook {
		t.Errorf("HookError = %+v", hookErr)
	}
}
