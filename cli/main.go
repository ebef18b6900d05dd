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

// Package cli is the main entrypoint for the entrypoint binary.
package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/talismancer/entrypoint/boot"
	"github.com/talismancer/entrypoint/config"
	"github.com/talismancer/entrypoint/sighandling"
	"github.com/talismancer/entrypoint/supervisor"
	"github.com/talismancer/entrypoint/version"
)

// Main is the main entrypoint.
func Main() {
	conf, err := config.Parse(os.Args[1:])
	if err != nil {
		Fatalf("%v", err)
	}
	if conf.Version {
		fmt.Fprintf(os.Stdout, "entrypoint version %s\n", version.Version())
		os.Exit(0)
	}

	// Stdout belongs to the child; everything of ours goes to stderr.
	log.SetOutput(os.Stderr)
	if conf.Debug {
		log.SetLevel(log.DebugLevel)
	}

	// Build the signal map up front so a bad rewrite fails before any
	// initialization work has touched the filesystem.
	rewrites, err := sighandling.NewMap(conf.Rewrites)
	if err != nil {
		Fatalf("%v", err)
	}

	log.Debugf("Args: %s", os.Args)
	log.Debugf("Version %s", version.Version())
	log.Debugf("PID: %d", os.Getpid())

	if err := boot.Run(conf); err != nil {
		Fatalf("%v", err)
	}

	if conf.NoInit {
		execChild(conf.Exec)
	}

	sup := supervisor.New(rewrites, !conf.NoSetsid)
	ws, err := sup.Run(conf.Exec)
	if err != nil {
		var spawn *supervisor.SpawnError
		if errors.As(err, &spawn) && spawn.Exec {
			fmt.Fprintf(os.Stderr, "entrypoint: %v\n", err)
			os.Exit(127)
		}
		Fatalf("%v", err)
	}

	if ws.Signaled() {
		// Die of the same signal where possible, so whoever waits on the
		// supervisor sees the child's true fate; the exit below is the
		// fallback for a signal whose default does not terminate.
		sig := ws.Signal()
		signal.Reset(sig)
		unix.Kill(os.Getpid(), sig)
	}
	os.Exit(supervisor.ExitCode(ws))
}

// execChild replaces the current process image with argv, inheriting the
// environment. It only returns on failure.
func execChild(argv []string) {
	path, err := exec.LookPath(argv[0])
	if err == nil {
		err = unix.Exec(path, argv, os.Environ())
	}
	fmt.Fprintf(os.Stderr, "entrypoint: exec %s: %v\n", argv[0], err)
	os.Exit(127)
}

// Fatalf prints an error to stderr and exits with the setup failure code.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "entrypoint: "+format+"\n", args...)
	os.Exit(1)
}
