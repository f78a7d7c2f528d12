// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads run files and decodes solver options.
//
// A run file names a solver, a problem, a starting point and the options
// handed to the solver plugin:
//
//	solver: derivcheck
//	problem: hs071
//	x0: [1, 5, 5, 1]
//	options:
//	  tolerance: 1e-6
//	  method: central
//
// Options stay untyped until the plugin decodes them into its own struct
// with Decode, which rejects unknown keys and runs the struct validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxFileSize bounds the size of a run file.
const MaxFileSize = 1 << 20

var (
	// ErrUnknownOption an option key is not recognised by the solver.
	ErrUnknownOption = errors.New("unknown option")
	// ErrInvalidOption an option value has the wrong type or is out of range.
	ErrInvalidOption = errors.New("invalid option")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report option names as written in yaml
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Options are solver options keyed by name.
type Options map[string]any

// File is a run file.
type File struct {
	Solver  string    `yaml:"solver" validate:"omitempty,max=64"`
	Problem string    `yaml:"problem" validate:"omitempty,max=64"`
	X0      []float64 `yaml:"x0" validate:"max=100000"`
	Options Options   `yaml:"options"`
}

// Load reads a yaml run file.
func Load(path string) (*File, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("config %s: file exceeds %d bytes", path, MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a run file from yaml.
func Parse(data []byte) (*File, error) {
	f := &File{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid run file: %w", err)
	}
	return f, nil
}

// Set stores a "key=value" assignment, the value being parsed as yaml.
func (o Options) Set(assignment string) error {
	key, raw, ok := strings.Cut(assignment, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("option %q: expected key=value", assignment)
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("option %s: %w", key, err)
	}
	o[key] = v
	return nil
}

// Merge returns a copy of o overridden by every entry of other.
func (o Options) Merge(other Options) Options {
	m := make(Options, len(o)+len(other))
	for k, v := range o {
		m[k] = v
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

// Decode fills dst, a pointer to a struct with yaml tags, from the options.
// Fields of dst not named by an option keep their value, so callers preset
// the defaults. Unknown keys fail with ErrUnknownOption, mistyped or out of
// range values with ErrInvalidOption.
func Decode(opts Options, dst any) error {
	if len(opts) > 0 {
		data, err := yaml.Marshal(map[string]any(opts))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOption, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(dst); err != nil {
			return classify(err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}
	return nil
}

func classify(err error) error {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		for _, msg := range te.Errors {
			if strings.Contains(msg, "not found in type") {
				return fmt.Errorf("%w: %s", ErrUnknownOption, msg)
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrInvalidOption, err)
}
