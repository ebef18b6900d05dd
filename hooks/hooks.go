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

// Package hooks discovers and runs the user hook units that surround
// template rendering. A unit is a base name in the hooks directory;
// executables NAME.prehook, NAME.hook and NAME.posthook bind its optional
// entry points. The variable space is passed as YAML on stdin; a prehook may
// write an updated mapping to stdout.
package hooks

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/talismancer/entrypoint/vars"
)

// Phases a unit can bind.
const (
	PhasePrehook  = "prehook"
	PhaseHook     = "hook"
	PhasePosthook = "posthook"
)

// A Unit is one hook module. An empty path means the unit does not offer
// that entry point.
type Unit struct {
	Name     string
	Prehook  string
	Hook     string
	Posthook string
}

// entry returns the executable bound to phase.
func (u *Unit) entry(phase string) string {
	switch phase {
	case PhasePrehook:
		return u.Prehook
	case PhaseHook:
		return u.Hook
	case PhasePosthook:
		return u.Posthook
	}
	return ""
}

// HookError names the unit whose entry point failed.
type HookError struct {
	Unit  string
	Phase string
	Err   error
}

// Error implements error.Error.
func (e *HookError) Error() string {
	return fmt.Sprintf("hook unit %s: %s failed: %v", e.Unit, e.Phase, e.Err)
}

// Unwrap implements error unwrapping.
func (e *HookError) Unwrap() error {
	return e.Err
}

// Discover enumerates the hook units directly under dir, ordered
// lexicographically by unit name. Subdirectories are not entered. A missing
// directory yields no units.
func Discover(dir string) ([]Unit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	byName := make(map[string]*Unit)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		switch ext {
		case ".prehook", ".hook", ".posthook":
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if info.Mode()&0111 == 0 {
			log.Warningf("Ignoring non-executable hook file %q", name)
			continue
		}
		base := strings.TrimSuffix(name, ext)
		u := byName[base]
		if u == nil {
			u = &Unit{Name: base}
			byName[base] = u
		}
		path := filepath.Join(dir, name)
		switch ext {
		case ".prehook":
			u.Prehook = path
		case ".hook":
			u.Hook = path
		case ".posthook":
			u.Posthook = path
		}
	}

	units := make([]Unit, 0, len(byName))
	for _, u := range byName {
		units = append(units, *u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units, nil
}

// RunPrehooks invokes every prehook in unit order. A prehook receives the
// variable space as YAML on stdin and may emit an updated mapping on stdout;
// this is the only point where hooks mutate the space.
func RunPrehooks(units []Unit, space vars.Space) error {
	for _, u := range units {
		if u.Prehook == "" {
			continue
		}
		log.Debugf("Running prehook of unit %q", u.Name)

		in, err := yaml.Marshal(space)
		if err != nil {
			return &HookError{Unit: u.Name, Phase: PhasePrehook, Err: err}
		}
		cmd := exec.Command(u.Prehook)
		cmd.Stdin = bytes.NewReader(in)
		cmd.Stderr = os.Stderr
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return &HookError{Unit: u.Name, Phase: PhasePrehook, Err: err}
		}
		if strings.TrimSpace(out.String()) == "" {
			continue
		}

		updated := map[string]interface{}{}
		if err := yaml.Unmarshal(out.Bytes(), &updated); err != nil {
			return &HookError{Unit: u.Name, Phase: PhasePrehook, Err: fmt.Errorf("parsing updated variables: %w", err)}
		}
		for k, v := range updated {
			space[k] = vars.Normalize(v)
		}
	}
	return nil
}

// RunPhase invokes the named entry point of every unit offering it, in unit
// order, with the frozen variable space on stdin. Standard streams are
// inherited; the space can no longer change.
func RunPhase(units []Unit, phase string, space vars.Space) error {
	in, err := yaml.Marshal(space)
	if err != nil {
		return err
	}
	for _, u := range units {
		path := u.entry(phase)
		if path == "" {
			continue
		}
		log.Debugf("Running %s of unit %q", phase, u.Name)

		cmd := exec.Command(path)
		cmd.Stdin = bytes.NewReader(in)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return &HookError{Unit: u.Name, Phase: phase, Err: err}
		}
	}
	return nil
}
