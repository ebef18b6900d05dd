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

// Package boot drives the initialization work that runs before the child
// command: variable loading, user hooks, and template rendering, in a fixed
// order with no recovery.
package boot

import (
	"github.com/mohae/deepcopy"
	log "github.com/sirupsen/logrus"

	"github.com/talismancer/entrypoint/config"
	"github.com/talismancer/entrypoint/hooks"
	"github.com/talismancer/entrypoint/template"
	"github.com/talismancer/entrypoint/vars"
)

// Run performs the initialization sequence: load variables, run prehooks,
// freeze the variable space, render templates, run hooks, run posthooks.
// The first failure aborts; nothing has been launched at that point.
func Run(conf *config.Config) error {
	space, err := vars.Load(conf.VariablesPath, conf.VariablesSet)
	if err != nil {
		return err
	}
	log.Debugf("Variable space holds %d entries", len(space))

	units, err := hooks.Discover(conf.HooksDir)
	if err != nil {
		return err
	}
	log.Debugf("Discovered %d hook unit(s) in %s", len(units), conf.HooksDir)

	if err := hooks.RunPrehooks(units, space); err != nil {
		return err
	}

	// Prehooks are the only writers. Later phases get a private deep copy so
	// a unit that kept a reference cannot change what the templates saw.
	frozen := deepcopy.Copy(space).(vars.Space)

	if err := template.RenderTree(conf.TemplatesRoot, conf.JinjaRoot, conf.RootDir, frozen); err != nil {
		return err
	}

	if err := hooks.RunPhase(units, hooks.PhaseHook, frozen); err != nil {
		return err
	}
	return hooks.RunPhase(units, hooks.PhasePosthook, frozen)
}
