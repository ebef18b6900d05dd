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

// Package config holds the command line surface of the entrypoint binary.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Fixed locations inside the container image, overridable per flag.
const (
	DefaultTemplatesRoot = "/templates"
	DefaultJinjaRoot     = "/jinja"
	DefaultVariablesPath = "/variables.yml"
	DefaultHooksDir      = "/entrypoint_hooks"
)

// ErrMissingExecVector is returned when no command remains after flag parsing.
var ErrMissingExecVector = errors.New("no command to run, usage: entrypoint [flags] -- <cmd> [args...]")

// UnknownFlagError reports a flag the supervisor does not recognize.
type UnknownFlagError struct {
	Flag string
}

// Error implements error.Error.
func (e *UnknownFlagError) Error() string {
	return fmt.Sprintf("unknown flag --%s", e.Flag)
}

// BadRewriteError reports a malformed --rewrite argument.
type BadRewriteError struct {
	Arg string
}

// Error implements error.Error.
func (e *BadRewriteError) Error() string {
	return fmt.Sprintf("malformed rewrite %q, expected FROM:TO", e.Arg)
}

// Config is built once from the command line and read only afterwards.
type Config struct {
	// NoInit skips PID 1 responsibilities: after initialization the child
	// replaces the current process image.
	NoInit bool

	// NoSetsid keeps the child in the supervisor's session; signals are then
	// forwarded to the child pid only instead of its process group.
	NoSetsid bool

	// Debug raises the log level.
	Debug bool

	// Version requests the version stamp and exits.
	Version bool

	// Rewrites are the raw FROM/TO pairs collected from --rewrite flags, in
	// order. The signal map is built from them at startup.
	Rewrites [][2]string

	// RootDir is where rendered templates land. Always "/" in production;
	// tests point it elsewhere.
	RootDir string

	TemplatesRoot string
	JinjaRoot     string
	VariablesPath string
	HooksDir      string

	// VariablesSet records that --variables was given explicitly, which turns
	// a missing file into a hard error.
	VariablesSet bool

	// Exec is the argv of the child command.
	Exec []string
}

// Parse builds a Config from the argument list (without the program name).
// Flags accept both "--flag value" and "--flag=value" forms; the first
// non-flag argument or a "--" terminator starts the exec vector, which is
// never interpreted.
func Parse(args []string) (*Config, error) {
	c := &Config{
		RootDir:       "/",
		TemplatesRoot: DefaultTemplatesRoot,
		JinjaRoot:     DefaultJinjaRoot,
		VariablesPath: DefaultVariablesPath,
		HooksDir:      DefaultHooksDir,
	}

	i := 0
	for i < len(args) {
		arg := args[i]
		i++

		if arg == "--" {
			c.Exec = args[i:]
			break
		}
		if !strings.HasPrefix(arg, "--") {
			c.Exec = args[i-1:]
			break
		}

		name, inline, hasInline := strings.Cut(arg[2:], "=")
		value := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			if i >= len(args) {
				return "", fmt.Errorf("flag --%s requires a value", name)
			}
			v := args[i]
			i++
			return v, nil
		}
		boolean := func() error {
			if hasInline {
				return fmt.Errorf("flag --%s takes no value", name)
			}
			return nil
		}

		switch name {
		case "no-init":
			if err := boolean(); err != nil {
				return nil, err
			}
			c.NoInit = true
		case "no-setsid":
			if err := boolean(); err != nil {
				return nil, err
			}
			c.NoSetsid = true
		case "debug":
			if err := boolean(); err != nil {
				return nil, err
			}
			c.Debug = true
		case "version":
			if err := boolean(); err != nil {
				return nil, err
			}
			c.Version = true
		case "rewrite":
			v, err := value()
			if err != nil {
				return nil, err
			}
			from, to, ok := strings.Cut(v, ":")
			if !ok || from == "" || to == "" {
				return nil, &BadRewriteError{Arg: v}
			}
			c.Rewrites = append(c.Rewrites, [2]string{from, to})
		case "jinja":
			v, err := value()
			if err != nil {
				return nil, err
			}
			c.JinjaRoot = v
		case "variables":
			v, err := value()
			if err != nil {
				return nil, err
			}
			c.VariablesPath = v
			c.VariablesSet = true
		case "hooks":
			v, err := value()
			if err != nil {
				return nil, err
			}
			c.HooksDir = v
		default:
			return nil, &UnknownFlagError{Flag: name}
		}
	}

	if c.Version {
		return c, nil
	}
	if len(c.Exec) == 0 {
		return nil, ErrMissingExecVector
	}
	return c, nil
}
