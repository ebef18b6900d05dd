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

// Package template renders the template tree onto the root filesystem.
// Destinations that already exist are left alone, so rendering is idempotent
// across container restarts.
package template

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/flosch/pongo2/v6"
	log "github.com/sirupsen/logrus"

	"github.com/talismancer/entrypoint/vars"
)

// RenderError names the template source that failed.
type RenderError struct {
	Path string
	Err  error
}

// Error implements error.Error.
func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering %s: %v", e.Path, e.Err)
}

// Unwrap implements error unwrapping.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// RenderTree renders every regular file under srcRoot to the mirrored path
// under dstRoot, preserving each source's mode and ownership. Includes and
// imports inside templates resolve against jinjaRoot. A missing srcRoot
// renders nothing.
func RenderTree(srcRoot, jinjaRoot, dstRoot string, space vars.Space) error {
	if _, err := os.Stat(srcRoot); os.IsNotExist(err) {
		log.Debugf("No template root at %s, nothing to render", srcRoot)
		return nil
	}

	// The include root is optional; without it templates still render, they
	// just cannot include anything.
	var loaders []pongo2.TemplateLoader
	if info, err := os.Stat(jinjaRoot); err == nil && info.IsDir() {
		loader, err := pongo2.NewLocalFileSystemLoader(jinjaRoot)
		if err != nil {
			return err
		}
		loaders = append(loaders, loader)
	}
	set := pongo2.NewSet("entrypoint", loaders...)
	ctx := pongo2.Context(space)

	return filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &RenderError{Path: path, Err: err}
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			log.Warningf("Skipping non-regular template source %s", path)
			return nil
		}

		sub, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return &RenderError{Path: path, Err: err}
		}
		dst := filepath.Join(dstRoot, sub)
		if _, err := os.Lstat(dst); err == nil {
			log.Debugf("Skipping %s, destination exists", dst)
			return nil
		} else if !os.IsNotExist(err) {
			return &RenderError{Path: path, Err: err}
		}

		if err := mkdirMirror(srcRoot, dstRoot, filepath.Dir(sub)); err != nil {
			return &RenderError{Path: path, Err: err}
		}
		if err := renderFile(set, ctx, path, dst); err != nil {
			return &RenderError{Path: path, Err: err}
		}
		log.Debugf("Rendered %s -> %s", path, dst)
		return nil
	})
}

// mkdirMirror creates the destination directories for sub level by level,
// copying mode and ownership from the corresponding source directory.
func mkdirMirror(srcRoot, dstRoot, sub string) error {
	if sub == "." || sub == "" {
		return nil
	}
	srcDir, dstDir := srcRoot, dstRoot
	for _, part := range strings.Split(sub, string(os.PathSeparator)) {
		srcDir = filepath.Join(srcDir, part)
		dstDir = filepath.Join(dstDir, part)
		if _, err := os.Lstat(dstDir); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		info, err := os.Stat(srcDir)
		if err != nil {
			return err
		}
		if err := os.Mkdir(dstDir, info.Mode().Perm()); err != nil {
			return err
		}
		// Mkdir's mode is masked by the umask; set it explicitly.
		if err := os.Chmod(dstDir, info.Mode().Perm()); err != nil {
			return err
		}
		if err := chownLike(dstDir, info); err != nil {
			return err
		}
	}
	return nil
}

func renderFile(set *pongo2.TemplateSet, ctx pongo2.Context, src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tpl, err := set.FromBytes(raw)
	if err != nil {
		return err
	}
	out, err := tpl.ExecuteBytes(ctx)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, out, info.Mode().Perm()); err != nil {
		return err
	}
	// WriteFile's mode is masked by umask; set it explicitly.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return chownLike(dst, info)
}

func chownLike(path string, info fs.FileInfo) error {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	return os.Chown(path, int(st.Uid), int(st.Gid))
}
