// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nlp adapts host differentiable functions to the callback convention of
// constrained NLP solvers.
//
// minimize 𝒇(𝐱;𝐩) subject to 𝒈ₗ ≤ 𝒈(𝐱;𝐩) ≤ 𝒈ᵤ and 𝐱ₗ ≤ 𝐱 ≤ 𝐱ᵤ
//
// A solver calls back for 𝒇, 𝜵𝒇, 𝒈, the constraint Jacobian 𝐉 and the Hessian of
// the Lagrangian ℒ(𝐱,𝛌) = 𝛔𝒇(𝐱) + 𝛌ᵀ𝒈(𝐱). The sparse matrices follow a two-phase
// protocol: the solver first calls with a nil value buffer to receive the
// (row, col) coordinates, allocates its storage once, and afterwards only asks
// for values, which are returned in exactly the same order.
//
// # Failure
//
// A host error or panic never crosses a callback as is. In the default mode
// the failure is logged and the callback returns false, so the solver may
// reject the step. With EvalErrorsFatal the callback panics with an *EvalError
// which the driver converts into an error with Recover.
package nlp

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/curioloop/nlpadapter/host"
	"github.com/curioloop/nlpadapter/sparse"
)

// Callback names used in log lines and metrics.
const (
	CallEvalF     = "eval_f"
	CallEvalGradF = "eval_grad_f"
	CallEvalG     = "eval_g"
	CallEvalJacG  = "eval_jac_g"
	CallEvalH     = "eval_h"
)

// Info describes the dimensions a solver needs to size its buffers.
type Info struct {
	N       int // number of variables
	M       int // number of constraints
	NnzJac  int // non-zeros of the constraint Jacobian
	NnzHess int // non-zeros of the Lagrangian Hessian with row ≤ col
}

// Provider is the evaluation interface an NLP driver depends on.
// The newX and newLambda hints may be ignored by implementations.
type Provider interface {
	Info() Info
	EvalF(x []float64, newX bool) (f float64, ok bool)
	EvalGradF(x []float64, newX bool, grad []float64) bool
	EvalG(x []float64, newX bool, g []float64) bool
	EvalJacG(x []float64, newX bool, iRow, jCol []int, values []float64) bool
	EvalH(x []float64, newX bool, objFactor float64, lambda []float64, newLambda bool, iRow, jCol []int, values []float64) bool
}

// Observer receives the outcome of every callback.
type Observer interface {
	Observe(callback string, ok bool, elapsed time.Duration)
}

// Problem specifies the adapter.
type Problem struct {
	Functions       host.Functions // Host differentiable functions
	Param           []float64      // Fixed parameters passed to every host call
	Logger          *Logger        // Optional logger
	EvalErrorsFatal bool           // Panic with *EvalError instead of returning false
	Observer        Observer       // Optional callback observer
}

// New creates an adapter for the given problem.
func (p *Problem) New() (adapter *Adapter, err error) {

	fn := p.Functions
	if fn == nil {
		return nil, errors.New("host functions are required")
	}

	n, m := fn.Dims()
	jac, hess := fn.JacobianPattern(), fn.HessianPattern()

	switch {
	case n <= 0:
		err = errors.New("variable number must greater than 0")
	case m < 0:
		err = errors.New("constraint number must not less than 0")
	case jac == nil || jac.Rows != m || jac.Cols != n:
		err = fmt.Errorf("jacobian pattern must be %d×%d", m, n)
	case hess == nil || hess.Rows != n || hess.Cols != n:
		err = fmt.Errorf("hessian pattern must be %d×%d", n, n)
	}
	if err != nil {
		return
	}

	if err = jac.Validate(); err != nil {
		return nil, fmt.Errorf("jacobian pattern: %w", err)
	}
	if err = hess.Validate(); err != nil {
		return nil, fmt.Errorf("hessian pattern: %w", err)
	}
	// Only row ≤ col reaches the driver, so a lower entry needs its mirror.
	if r, c, found := hess.Unmirrored(); found {
		return nil, fmt.Errorf("hessian pattern entry (%d,%d) has no mirror (%d,%d)", r, c, c, r)
	}

	logger := p.Logger
	if logger == nil {
		logger = &Logger{Level: LogNoop}
	}

	adapter = &Adapter{
		n: n, m: m,
		fn:       fn,
		jac:      jac,
		hess:     hess,
		nnzHess:  hess.NNZLower(),
		param:    slices.Clone(p.Param),
		logger:   logger,
		fatal:    p.EvalErrorsFatal,
		observer: p.Observer,
		hbuf:     make([]float64, hess.NNZ()),
	}
	return
}

// Adapter implements Provider on top of host functions.
//
// An adapter evaluates one callback at a time. To evaluate concurrently,
// give every goroutine its own Clone.
type Adapter struct {
	n, m      int
	fn        host.Functions
	jac, hess *sparse.Pattern
	nnzHess   int
	param     []float64
	logger    *Logger
	fatal     bool
	observer  Observer
	hbuf      []float64 // full hessian values
}

var _ Provider = (*Adapter)(nil)

// Info returns the problem dimensions.
func (a *Adapter) Info() Info {
	return Info{N: a.n, M: a.m, NnzJac: a.jac.NNZ(), NnzHess: a.nnzHess}
}

// Clone returns an adapter with the same settings and an independent instance of the host functions.
func (a *Adapter) Clone() *Adapter {
	c := *a
	c.fn = a.fn.Clone()
	c.jac, c.hess = c.fn.JacobianPattern(), c.fn.HessianPattern()
	c.hbuf = make([]float64, len(a.hbuf))
	return &c
}

// SetObserver replaces the callback observer, nil disables it.
func (a *Adapter) SetObserver(o Observer) {
	a.observer = o
}

// EvalF evaluates the objective 𝒇(𝐱).
func (a *Adapter) EvalF(x []float64, _ bool) (f float64, ok bool) {
	ok = a.call(CallEvalF, x, func() (err error) {
		if err = a.checkX(x); err != nil {
			return
		}
		f, err = a.fn.Objective(x, a.param)
		return
	})
	return
}

// EvalGradF evaluates the dense objective gradient 𝜵𝒇(𝐱) into grad.
func (a *Adapter) EvalGradF(x []float64, _ bool, grad []float64) bool {
	return a.call(CallEvalGradF, x, func() error {
		if err := a.checkX(x); err != nil {
			return err
		}
		if len(grad) != a.n {
			return dimError("gradient", len(grad), a.n)
		}
		return a.fn.Gradient(x, a.param, grad)
	})
}

// EvalG evaluates the constraints 𝒈(𝐱) into g.
// Without constraints it succeeds immediately.
func (a *Adapter) EvalG(x []float64, _ bool, g []float64) bool {
	return a.call(CallEvalG, x, func() error {
		if a.m == 0 {
			return nil
		}
		if err := a.checkX(x); err != nil {
			return err
		}
		if len(g) != a.m {
			return dimError("constraint vector", len(g), a.m)
		}
		return a.fn.Constraints(x, a.param, g)
	})
}

// EvalJacG implements both phases of the constraint Jacobian protocol.
//
// With values == nil the column-major coordinates are written into iRow and jCol
// and x is not used. Otherwise the values are written in the same order.
// Without constraints it succeeds immediately.
func (a *Adapter) EvalJacG(x []float64, _ bool, iRow, jCol []int, values []float64) bool {
	return a.call(CallEvalJacG, x, func() error {
		if a.m == 0 {
			a.logger.Logf(LogEval, "%s quick return (m==0)", CallEvalJacG)
			return nil
		}
		nnz := a.jac.NNZ()
		if values == nil {
			if len(iRow) != nnz || len(jCol) != nnz {
				return dimError("jacobian coordinates", min(len(iRow), len(jCol)), nnz)
			}
			a.jac.Coords(iRow, jCol)
			return nil
		}
		if err := a.checkX(x); err != nil {
			return err
		}
		if len(values) != nnz {
			return dimError("jacobian values", len(values), nnz)
		}
		return a.fn.Jacobian(x, a.param, values)
	})
}

// EvalH implements both phases of the Lagrangian Hessian protocol.
//
// Only the entries with row ≤ col are exchanged: for each column the rows in
// increasing order up to and including the diagonal. With values == nil the
// coordinates are written; otherwise 𝛔𝜵²𝒇(𝐱) + ∑𝛌ⱼ𝜵²𝒈ⱼ(𝐱) with 𝛔 = objFactor.
func (a *Adapter) EvalH(x []float64, _ bool, objFactor float64, lambda []float64, _ bool, iRow, jCol []int, values []float64) bool {
	return a.call(CallEvalH, x, func() error {
		if values == nil {
			if len(iRow) != a.nnzHess || len(jCol) != a.nnzHess {
				return dimError("hessian coordinates", min(len(iRow), len(jCol)), a.nnzHess)
			}
			a.hess.CoordsLower(iRow, jCol)
			return nil
		}
		if err := a.checkX(x); err != nil {
			return err
		}
		switch {
		case len(lambda) != a.m:
			return dimError("multipliers", len(lambda), a.m)
		case len(values) != a.nnzHess:
			return dimError("hessian values", len(values), a.nnzHess)
		}
		if err := a.fn.Hessian(x, a.param, objFactor, lambda, a.hbuf); err != nil {
			return err
		}
		a.hess.SelectLower(values, a.hbuf)
		return nil
	})
}

func (a *Adapter) checkX(x []float64) error {
	if len(x) != a.n {
		return dimError("x", len(x), a.n)
	}
	return nil
}

// call runs one callback body inside the failure boundary.
func (a *Adapter) call(name string, x []float64, body func() error) bool {
	start := time.Now()
	a.logger.Logf(LogEval, "%s started", name)
	if a.logger.enable(LogVerbose) && x != nil {
		a.logger.Logf(LogVerbose, "%s x = %v", name, x)
	}

	err := guard(body)
	if a.observer != nil {
		a.observer.Observe(name, err == nil, time.Since(start))
	}
	if err == nil {
		a.logger.Logf(LogEval, "%s ok", name)
		return true
	}

	e := &EvalError{Callback: name, Err: err}
	if a.fatal {
		panic(e)
	}
	a.logger.Logf(LogFailure, "%s", e)
	return false
}

func guard(body func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("%w: %w", ErrHostPanic, e)
			} else {
				err = fmt.Errorf("%w: %v", ErrHostPanic, r)
			}
		}
	}()
	return body()
}
