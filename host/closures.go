// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"
	"fmt"

	"github.com/curioloop/nlpadapter/sparse"
)

// Closures assembles Functions from plain Go functions with analytic derivatives.
type Closures struct {
	N, M int
	F    func(x, p []float64) (float64, error)
	Grad func(x, p, g []float64) error
	G    func(x, p, g []float64) error
	Jac  func(x, p, values []float64) error
	Hess func(x, p []float64, sigma float64, lambda, values []float64) error
	// Optional patterns, dense when nil.
	JacPattern  *sparse.Pattern
	HessPattern *sparse.Pattern
}

// New validates the closures and fills in the default patterns.
func (c *Closures) New() (fn *Closures, err error) {

	d := *c
	switch {
	case c.N <= 0:
		err = errors.New("variable number must greater than 0")
	case c.M < 0:
		err = errors.New("constraint number must not less than 0")
	case c.F == nil:
		err = errors.New("objective function is required")
	case c.M > 0 && c.G == nil:
		err = errors.New("constraint function is required")
	case c.JacPattern != nil && (c.JacPattern.Rows != c.M || c.JacPattern.Cols != c.N):
		err = fmt.Errorf("jacobian pattern must be %d×%d", c.M, c.N)
	case c.HessPattern != nil && (c.HessPattern.Rows != c.N || c.HessPattern.Cols != c.N):
		err = fmt.Errorf("hessian pattern must be %d×%d", c.N, c.N)
	}
	if err != nil {
		return
	}

	if d.JacPattern == nil {
		d.JacPattern = sparse.Dense(d.M, d.N)
	}
	if d.HessPattern == nil {
		d.HessPattern = sparse.Dense(d.N, d.N)
	}
	return &d, nil
}

func (c *Closures) Dims() (n, m int) { return c.N, c.M }

func (c *Closures) Objective(x, p []float64) (float64, error) {
	return c.F(x, p)
}

func (c *Closures) Gradient(x, p, g []float64) error {
	if c.Grad == nil {
		return fmt.Errorf("gradient: %w", ErrNotProvided)
	}
	return c.Grad(x, p, g)
}

func (c *Closures) Constraints(x, p, g []float64) error {
	if c.M == 0 {
		return nil
	}
	return c.G(x, p, g)
}

func (c *Closures) JacobianPattern() *sparse.Pattern { return c.JacPattern }

func (c *Closures) Jacobian(x, p, values []float64) error {
	if c.Jac == nil {
		return fmt.Errorf("jacobian: %w", ErrNotProvided)
	}
	return c.Jac(x, p, values)
}

func (c *Closures) HessianPattern() *sparse.Pattern { return c.HessPattern }

func (c *Closures) Hessian(x, p []float64, sigma float64, lambda, values []float64) error {
	if c.Hess == nil {
		return fmt.Errorf("hessian: %w", ErrNotProvided)
	}
	return c.Hess(x, p, sigma, lambda, values)
}

// Clone returns a shallow copy; the closures themselves are expected to be stateless.
func (c *Closures) Clone() Functions {
	d := *c
	return &d
}
