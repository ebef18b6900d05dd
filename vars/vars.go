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

// Package vars loads the variable space consumed by templates and hooks.
package vars

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// Space is the variable mapping handed to prehooks, templates and hooks.
type Space map[string]interface{}

// MissingError reports an explicitly requested variables file that does not
// exist. The default path missing is not an error.
type MissingError struct {
	Path string
}

// Error implements error.Error.
func (e *MissingError) Error() string {
	return fmt.Sprintf("variables file %s does not exist", e.Path)
}

// ParseError reports an unreadable variables file.
type ParseError struct {
	Path string
	Err  error
}

// Error implements error.Error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing variables file %s: %v", e.Path, e.Err)
}

// Unwrap implements error unwrapping.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load merges the process environment with the variables file at path; file
// keys win. A missing file is tolerated unless the path was set explicitly.
// The decoder is picked by extension: .toml is TOML, everything else YAML.
func Load(path string, explicit bool) (Space, error) {
	space := Space{}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		space[k] = v
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if explicit {
			return nil, &MissingError{Path: path}
		}
		return space, nil
	}

	file := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(raw, &file)
	default:
		err = yaml.Unmarshal(raw, &file)
	}
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	for k, v := range file {
		space[k] = Normalize(v)
	}
	return space, nil
}

// Normalize rewrites the interface-keyed maps the YAML decoder produces into
// string-keyed ones, recursively, so the renderer and the hook protocol
// always see the same shape.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = Normalize(val)
		}
		return m
	case map[string]interface{}:
		for k, val := range t {
			t[k] = Normalize(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = Normalize(val)
		}
		return t
	}
	return v
}
