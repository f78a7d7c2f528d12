// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import "fmt"

// Solver drives an NLP through the evaluation callbacks.
//
// A solver instance is not safe for concurrent use; Clone gives an
// independent instance for another goroutine.
type Solver interface {
	Name() string
	Solve(x0 []float64) (*Result, error)
	Clone() Solver
}

// Status is the final status of a solve.
type Status int

const (
	// StatusOK the solve finished without complaint.
	StatusOK Status = iota
	// StatusFailed the solve finished but its acceptance test did not pass.
	StatusFailed
	// StatusEvalFailed a callback reported an evaluation failure.
	StatusEvalFailed
	// StatusBadArgument input dimension unacceptable.
	StatusBadArgument
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusEvalFailed:
		return "evaluation failed"
	case StatusBadArgument:
		return "bad argument"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result contains the results of a solve.
type Result struct {
	OK      bool      // Whether the solve succeeded.
	F       float64   // Final function value.
	X, G    []float64 // Final point and constraint values.
	Summary           // Solve summary.
}

// Summary contains a summary of the solve process.
type Summary struct {
	Status  Status // Final status after the solve.
	RunID   string // Unique id of the solve.
	NumEval int    // Number of callbacks performed.
	Details any    // Solver specific report.
}
