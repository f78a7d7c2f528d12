// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nlp

import (
	"errors"
	"fmt"
)

var (
	// ErrDimension a buffer or vector length disagrees with the problem dimensions.
	ErrDimension = errors.New("dimension mismatch")
	// ErrHostPanic a host function panicked.
	ErrHostPanic = errors.New("host function panic")
)

// EvalError is raised by a callback whose host evaluation failed.
type EvalError struct {
	Callback string
	Err      error
}

func (e *EvalError) Error() string {
	return e.Callback + " failed: " + e.Err.Error()
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

func dimError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has %d elements, expected %d", ErrDimension, what, got, want)
}

// Recover converts a fatal *EvalError panic into *err.
// It must be deferred directly; any other panic value is re-raised.
//
//	func (s *mySolver) Solve(x0 []float64) (res *Result, err error) {
//		defer nlp.Recover(&err)
//		...
//	}
func Recover(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(*EvalError); ok {
			*err = e
			return
		}
		panic(r)
	}
}
