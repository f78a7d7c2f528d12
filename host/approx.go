// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"

	"github.com/curioloop/nlpadapter/numdiff"
	"github.com/curioloop/nlpadapter/sparse"
)

// Approx provides derivatives of an objective and constraints by finite differences.
//
// The gradient and the Jacobian are first order differences of 𝒇 and 𝒈.
// The Hessian differences the Lagrangian gradient 𝛔𝜵𝒇 + 𝐉ᵀ𝛌 with central
// differences and is symmetrised as ½(𝐇 + 𝐇ᵀ). Patterns are dense.
type Approx struct {
	n, m   int
	f      func(x, p []float64) (float64, error)
	g      func(x, p, g []float64) error
	method numdiff.Method

	// parameters of the call in progress, read by the difference closures
	p      []float64
	sigma  float64
	lambda []float64

	grad, jac               *numdiff.Approx
	lagGrad, lagJac         *numdiff.Approx
	hess                    *numdiff.Approx
	gbuf, jbuf, hbuf        []float64
	jacPattern, hessPattern *sparse.Pattern
}

// NewApprox creates finite difference Functions for n variables and m constraints.
// g may be nil when m is zero.
func NewApprox(n, m int, f func(x, p []float64) (float64, error), g func(x, p, g []float64) error, method numdiff.Method) (*Approx, error) {

	switch {
	case n <= 0:
		return nil, errors.New("variable number must greater than 0")
	case m < 0:
		return nil, errors.New("constraint number must not less than 0")
	case f == nil:
		return nil, errors.New("objective function is required")
	case m > 0 && g == nil:
		return nil, errors.New("constraint function is required")
	case method != numdiff.Forward && method != numdiff.Central:
		return nil, errors.New("unknown difference method")
	}

	a := &Approx{
		n: n, m: m, f: f, g: g, method: method,
		jacPattern:  sparse.Dense(m, n),
		hessPattern: sparse.Dense(n, n),
	}
	a.init()
	return a, nil
}

func (a *Approx) init() {
	n, m := a.n, a.m

	objective := func(x, y []float64) (err error) {
		y[0], err = a.f(x, a.p)
		return
	}
	constraints := func(x, y []float64) error {
		return a.g(x, a.p, y)
	}

	a.grad = &numdiff.Approx{N: n, M: 1, Func: objective, Method: a.method}
	a.lagGrad = &numdiff.Approx{N: n, M: 1, Func: objective, Method: numdiff.Central}
	if m > 0 {
		a.jac = &numdiff.Approx{N: n, M: m, Func: constraints, Method: a.method, Layout: numdiff.ColMajor}
		a.lagJac = &numdiff.Approx{N: n, M: m, Func: constraints, Method: numdiff.Central, Layout: numdiff.ColMajor}
	}
	a.gbuf = make([]float64, n)
	a.jbuf = make([]float64, n*m)
	a.hbuf = make([]float64, n*n)

	// 𝜵ℒ(𝐱) = 𝛔𝜵𝒇(𝐱) + 𝐉(𝐱)ᵀ𝛌
	lagrangian := func(x, y []float64) error {
		if err := a.lagGrad.Jacobian(x, a.gbuf); err != nil {
			return err
		}
		for i, d := range a.gbuf {
			y[i] = a.sigma * d
		}
		if m == 0 {
			return nil
		}
		if err := a.lagJac.Jacobian(x, a.jbuf); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			col := a.jbuf[i*m : (i+1)*m]
			for j, l := range a.lambda {
				y[i] += l * col[j]
			}
		}
		return nil
	}
	a.hess = &numdiff.Approx{N: n, M: n, Func: lagrangian, Method: numdiff.Central, Layout: numdiff.ColMajor}
}

func (a *Approx) Dims() (n, m int) { return a.n, a.m }

func (a *Approx) Objective(x, p []float64) (float64, error) {
	return a.f(x, p)
}

func (a *Approx) Gradient(x, p, g []float64) error {
	a.p = p
	defer func() { a.p = nil }()
	return a.grad.Jacobian(x, g)
}

func (a *Approx) Constraints(x, p, g []float64) error {
	if a.m == 0 {
		return nil
	}
	return a.g(x, p, g)
}

func (a *Approx) JacobianPattern() *sparse.Pattern { return a.jacPattern }

func (a *Approx) Jacobian(x, p, values []float64) error {
	if a.m == 0 {
		return nil
	}
	a.p = p
	defer func() { a.p = nil }()
	return a.jac.Jacobian(x, values)
}

func (a *Approx) HessianPattern() *sparse.Pattern { return a.hessPattern }

func (a *Approx) Hessian(x, p []float64, sigma float64, lambda, values []float64) error {
	if len(lambda) != a.m {
		return errors.New("multiplier size must equal to m")
	}
	a.p, a.sigma, a.lambda = p, sigma, lambda
	defer func() { a.p, a.lambda = nil, nil }()

	if err := a.hess.Jacobian(x, a.hbuf); err != nil {
		return err
	}
	n := a.n
	for c := 0; c < n; c++ {
		for r := 0; r < n; r++ {
			values[c*n+r] = (a.hbuf[c*n+r] + a.hbuf[r*n+c]) / 2
		}
	}
	return nil
}

// Clone returns an instance with its own difference buffers.
func (a *Approx) Clone() Functions {
	c := &Approx{
		n: a.n, m: a.m, f: a.f, g: a.g, method: a.method,
		jacPattern:  a.jacPattern,
		hessPattern: a.hessPattern,
	}
	c.init()
	return c
}
