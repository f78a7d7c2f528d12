// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package derivcheck

import (
	"github.com/curioloop/nlpadapter/config"
	"github.com/curioloop/nlpadapter/nlp"
	"github.com/curioloop/nlpadapter/numdiff"
)

// Options configures the checker.
type Options struct {
	// Largest accepted relative deviation |d - d̃| / max(1, |d̃|).
	Tolerance float64 `yaml:"tolerance" validate:"gt=0"`
	// Absolute finite difference step, automatic when zero.
	Perturbation float64 `yaml:"perturbation" validate:"gte=0"`
	// Relative finite difference step, used when Perturbation is zero.
	RelStep float64 `yaml:"rel_step" validate:"gte=0"`
	// Optional [lower, upper] range per variable, .nan for an open side.
	// Finite difference points never leave it.
	Bounds []numdiff.Bound `yaml:"bounds"`
	// Finite difference method: forward or central.
	Method string `yaml:"method" validate:"oneof=forward central"`
	// Value of every constraint multiplier 𝛌ⱼ in the Hessian check.
	Multiplier float64 `yaml:"multiplier"`
	// Objective factor 𝛔 in the Hessian check.
	ObjectiveScale float64 `yaml:"objective_scale"`
	// Abort with an error on the first failed callback.
	EvalErrorsFatal bool `yaml:"eval_errors_fatal"`
	// Adapter log level, see nlp.LogLevel.
	PrintLevel int `yaml:"print_level" validate:"gte=-1,lte=101"`
	// Fixed parameters passed to the host functions.
	Param []float64 `yaml:"param"`
}

// DefaultOptions returns the options used for keys that are not set.
func DefaultOptions() Options {
	return Options{
		Tolerance:      1e-4,
		Method:         "forward",
		Multiplier:     1,
		ObjectiveScale: 1,
		PrintLevel:     int(nlp.LogNoop),
	}
}

// ParseOptions decodes opts over the defaults.
func ParseOptions(opts config.Options) (Options, error) {
	o := DefaultOptions()
	if err := config.Decode(opts, &o); err != nil {
		return o, err
	}
	return o, nil
}
