// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package derivcheck is a solver plugin that checks the derivatives of an NLP.
//
// The checker drives every evaluation callback at the starting point, then
// compares the gradient, the constraint Jacobian and the Lagrangian Hessian
// with finite differences of the lower order callbacks:
//
//	𝜵𝒇      ≈ δ𝒇/δ𝐱
//	𝐉       ≈ δ𝒈/δ𝐱            (entries outside the pattern must vanish)
//	𝜵²ℒ     ≈ δ(𝛔𝜵𝒇 + 𝐉ᵀ𝛌)/δ𝐱
//
// The three comparisons run concurrently, each on its own adapter clone.
package derivcheck

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/curioloop/nlpadapter/config"
	"github.com/curioloop/nlpadapter/host"
	"github.com/curioloop/nlpadapter/nlp"
	"github.com/curioloop/nlpadapter/numdiff"
	"github.com/curioloop/nlpadapter/plugin"
	"github.com/curioloop/nlpadapter/sparse"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Name of the plugin.
const Name = "derivcheck"

// Env carries the process wide collaborators of the checker.
type Env struct {
	Observer nlp.Observer // Optional callback observer, e.g. *metrics.Evaluations
	Log      io.Writer    // Log destination, stderr when nil
}

// Plugin returns the checker plugin bound to env.
func Plugin(env Env) plugin.Plugin {
	return plugin.Plugin{
		Name:    Name,
		Version: plugin.APIVersion,
		Doc:     "compare analytic derivatives with finite differences at x0",
		Creator: func(fn host.Functions, opts config.Options) (plugin.Solver, error) {
			o, err := ParseOptions(opts)
			if err != nil {
				return nil, err
			}
			return New(fn, o, env)
		},
	}
}

// Checker checks the derivatives of one NLP.
type Checker struct {
	opts    Options
	method  numdiff.Method
	logger  *nlp.Logger
	tally   *tally
	adapter *nlp.Adapter
}

var _ plugin.Solver = (*Checker)(nil)

// New creates a checker for fn.
func New(fn host.Functions, opts Options, env Env) (*Checker, error) {
	method, err := numdiff.ParseMethod(opts.Method)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidOption, err)
	}
	switch {
	case !(opts.Tolerance > 0):
		err = fmt.Errorf("%w: tolerance must be positive", config.ErrInvalidOption)
	case opts.Perturbation < 0:
		err = fmt.Errorf("%w: perturbation must not be negative", config.ErrInvalidOption)
	case opts.RelStep < 0:
		err = fmt.Errorf("%w: rel_step must not be negative", config.ErrInvalidOption)
	}
	if err != nil {
		return nil, err
	}
	if n, _ := fn.Dims(); len(opts.Bounds) != 0 && len(opts.Bounds) != n {
		return nil, fmt.Errorf("%w: %d bounds for %d variables", config.ErrInvalidOption, len(opts.Bounds), n)
	}
	for i, b := range opts.Bounds {
		if b[0] > b[1] {
			return nil, fmt.Errorf("%w: empty bound range at %d", config.ErrInvalidOption, i)
		}
	}

	logger := &nlp.Logger{Level: nlp.LogLevel(opts.PrintLevel), Msg: env.Log}
	t := &tally{next: env.Observer}
	adapter, err := (&nlp.Problem{
		Functions:       fn,
		Param:           opts.Param,
		Logger:          logger,
		EvalErrorsFatal: opts.EvalErrorsFatal,
		Observer:        t,
	}).New()
	if err != nil {
		return nil, err
	}
	return &Checker{opts: opts, method: method, logger: logger, tally: t, adapter: adapter}, nil
}

// Name returns the plugin name.
func (c *Checker) Name() string { return Name }

// Clone returns a checker evaluating an independent instance of the host functions.
func (c *Checker) Clone() plugin.Solver {
	d := *c
	d.tally = &tally{next: c.tally.next}
	d.adapter = c.adapter.Clone()
	d.adapter.SetObserver(d.tally)
	return &d
}

// Report lists the derivative entries that failed the check.
type Report struct {
	Deviations []Deviation
	Checked    int     // number of compared entries
	MaxRelErr  float64 // largest relative deviation seen
	Elapsed    time.Duration
}

// Deviation is a derivative entry whose relative error exceeds the tolerance.
type Deviation struct {
	Kind     string // gradient, jacobian or hessian
	Row, Col int
	Analytic float64
	Approx   float64
	RelErr   float64
}

func (d Deviation) String() string {
	return fmt.Sprintf("%s[%d,%d] analytic=% .8e approx=% .8e rel=%.3e", d.Kind, d.Row, d.Col, d.Analytic, d.Approx, d.RelErr)
}

// errCallback marks a callback that returned false in non-fatal mode.
var errCallback = errors.New("callback failed")

// Solve checks the derivatives at x0.
//
// A callback failure stops the check. Without EvalErrorsFatal the result has
// StatusEvalFailed, otherwise the *nlp.EvalError is returned.
func (c *Checker) Solve(x0 []float64) (res *plugin.Result, err error) {
	start := time.Now()
	info := c.adapter.Info()
	c.tally.calls.Store(0)

	res = &plugin.Result{X: slices.Clone(x0)}
	res.RunID = uuid.NewString()
	if len(x0) != info.N {
		res.Status = plugin.StatusBadArgument
		return res, fmt.Errorf("%w: x0 has %d elements, expected %d", nlp.ErrDimension, len(x0), info.N)
	}
	for i, b := range c.opts.Bounds {
		if x0[i] < b[0] || x0[i] > b[1] {
			res.Status = plugin.StatusBadArgument
			return res, fmt.Errorf("%w: x0[%d] = %g is outside [%g, %g]", config.ErrInvalidOption, i, x0[i], b[0], b[1])
		}
	}

	defer nlp.Recover(&err)

	pt, err := c.evaluate(c.adapter, x0)
	if err == nil {
		res.F, res.G = pt.f, pt.g
		err = c.compare(pt, res)
	}
	res.NumEval = int(c.tally.calls.Load())

	if errors.Is(err, errCallback) {
		c.logger.Logf(nlp.LogFailure, "%s: %v", Name, err)
		res.Status = plugin.StatusEvalFailed
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	report := res.Details.(*Report)
	report.Elapsed = time.Since(start)
	for _, d := range report.Deviations {
		c.logger.Logf(nlp.LogFailure, "%s: %v", Name, d)
	}
	res.OK = len(report.Deviations) == 0
	if !res.OK {
		res.Status = plugin.StatusFailed
	}
	return res, nil
}

// point holds every callback value at x0.
type point struct {
	x, g, grad []float64
	f          float64
	lambda     []float64
	jRow, jCol []int
	jac        []float64
	hRow, hCol []int
	hess       []float64
}

func failed(name string) error {
	return fmt.Errorf("%w: %s", errCallback, name)
}

func (c *Checker) evaluate(a *nlp.Adapter, x0 []float64) (*point, error) {
	info := a.Info()
	pt := &point{
		x:      x0,
		g:      make([]float64, info.M),
		grad:   make([]float64, info.N),
		lambda: make([]float64, info.M),
		jRow:   make([]int, info.NnzJac),
		jCol:   make([]int, info.NnzJac),
		jac:    make([]float64, info.NnzJac),
		hRow:   make([]int, info.NnzHess),
		hCol:   make([]int, info.NnzHess),
		hess:   make([]float64, info.NnzHess),
	}
	for j := range pt.lambda {
		pt.lambda[j] = c.opts.Multiplier
	}

	if !a.EvalJacG(nil, true, pt.jRow, pt.jCol, nil) {
		return nil, failed(nlp.CallEvalJacG)
	}
	if !a.EvalH(nil, true, 0, nil, true, pt.hRow, pt.hCol, nil) {
		return nil, failed(nlp.CallEvalH)
	}

	var ok bool
	if pt.f, ok = a.EvalF(x0, true); !ok {
		return nil, failed(nlp.CallEvalF)
	}
	if !a.EvalGradF(x0, false, pt.grad) {
		return nil, failed(nlp.CallEvalGradF)
	}
	if !a.EvalG(x0, false, pt.g) {
		return nil, failed(nlp.CallEvalG)
	}
	if !a.EvalJacG(x0, false, nil, nil, pt.jac) {
		return nil, failed(nlp.CallEvalJacG)
	}
	if !a.EvalH(x0, false, c.opts.ObjectiveScale, pt.lambda, true, nil, nil, pt.hess) {
		return nil, failed(nlp.CallEvalH)
	}
	return pt, nil
}

func (c *Checker) compare(pt *point, res *plugin.Result) error {
	n, m := len(pt.x), len(pt.g)
	jp, err := announced(nlp.CallEvalJacG, m, n, pt.jRow, pt.jCol)
	if err != nil {
		return err
	}
	hp, err := announced(nlp.CallEvalH, n, n, pt.hRow, pt.hCol)
	if err != nil {
		return err
	}

	results := make([][]entry, 3)

	var g errgroup.Group
	run := func(slot int, check func(a *nlp.Adapter) ([]entry, error)) {
		a := c.adapter.Clone()
		g.Go(func() (err error) {
			defer nlp.Recover(&err)
			results[slot], err = check(a)
			return
		})
	}

	run(0, func(a *nlp.Adapter) ([]entry, error) {
		fd, err := c.approx(n, 1, pt.x, func(x, y []float64) (err error) {
			var ok bool
			if y[0], ok = a.EvalF(x, true); !ok {
				err = failed(nlp.CallEvalF)
			}
			return
		})
		if err != nil {
			return nil, err
		}
		entries := make([]entry, n)
		for i := range n {
			entries[i] = entry{"gradient", 0, i, pt.grad[i], fd.At(0, i)}
		}
		return entries, nil
	})

	if m > 0 {
		run(1, func(a *nlp.Adapter) ([]entry, error) {
			fd, err := c.approx(n, m, pt.x, func(x, y []float64) error {
				if !a.EvalG(x, true, y) {
					return failed(nlp.CallEvalG)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			// zero outside the pattern
			jac := jp.ToDense(pt.jac)
			entries := make([]entry, 0, n*m)
			for col := range n {
				for row := range m {
					entries = append(entries, entry{"jacobian", row, col, jac.At(row, col), fd.At(row, col)})
				}
			}
			return entries, nil
		})
	}

	run(2, func(a *nlp.Adapter) ([]entry, error) {
		grad, jac := make([]float64, n), make([]float64, len(pt.jac))
		sigma := c.opts.ObjectiveScale
		fd, err := c.approx(n, n, pt.x, func(x, y []float64) error {
			if !a.EvalGradF(x, true, grad) {
				return failed(nlp.CallEvalGradF)
			}
			if m > 0 && !a.EvalJacG(x, false, nil, nil, jac) {
				return failed(nlp.CallEvalJacG)
			}
			for i := range y {
				y[i] = sigma * grad[i]
			}
			jp.Each(func(k, row, col int) {
				y[col] += pt.lambda[row] * jac[k]
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
		hess := hp.ToSym(pt.hess)
		entries := make([]entry, 0, n*(n+1)/2)
		for col := range n {
			for row := 0; row <= col; row++ {
				approx := (fd.At(row, col) + fd.At(col, row)) / 2
				entries = append(entries, entry{"hessian", row, col, hess.At(row, col), approx})
			}
		}
		return entries, nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	report := &Report{}
	for _, entries := range results {
		for _, e := range entries {
			rel := e.relErr()
			report.Checked++
			report.MaxRelErr = max(report.MaxRelErr, rel)
			if rel > c.opts.Tolerance || math.IsNaN(rel) {
				report.Deviations = append(report.Deviations, Deviation{
					Kind: e.kind, Row: e.row, Col: e.col,
					Analytic: e.analytic, Approx: e.approx, RelErr: rel,
				})
			}
		}
	}
	res.Details = report
	return nil
}

// announced rebuilds the pattern of a pattern query. The values of the value
// query are scattered through it, so the coordinates must already be in
// column-major order without duplicates.
func announced(callback string, rows, cols int, iRow, jCol []int) (*sparse.Pattern, error) {
	p, err := sparse.FromCoords(rows, cols, iRow, jCol)
	if err != nil {
		return nil, fmt.Errorf("%s pattern: %w", callback, err)
	}
	r, c := make([]int, p.NNZ()), make([]int, p.NNZ())
	p.Coords(r, c)
	if !slices.Equal(r, iRow) || !slices.Equal(c, jCol) {
		return nil, fmt.Errorf("%s pattern is not in column-major order", callback)
	}
	return p, nil
}

// approx returns the m×n finite difference Jacobian of fn at x0.
func (c *Checker) approx(n, m int, x0 []float64, fn func(x, y []float64) error) (*mat.Dense, error) {
	a := &numdiff.Approx{
		N: n, M: m,
		Func:    fn,
		Method:  c.method,
		RelStep: c.opts.RelStep,
		AbsStep: c.opts.Perturbation,
		Layout:  numdiff.RowMajor,
	}
	if len(c.opts.Bounds) > 0 {
		// x0 is checked by Solve
		a.Bounds, a.NoBoundCheck = c.opts.Bounds, true
	}
	dst := make([]float64, m*n)
	if err := a.Jacobian(x0, dst); err != nil {
		return nil, err
	}
	return mat.NewDense(m, n, dst), nil
}

type entry struct {
	kind             string
	row, col         int
	analytic, approx float64
}

func (e entry) relErr() float64 {
	return math.Abs(e.analytic-e.approx) / max(1, math.Abs(e.approx))
}

// tally counts callbacks and forwards them to the next observer.
type tally struct {
	calls atomic.Int64
	next  nlp.Observer
}

func (t *tally) Observe(callback string, ok bool, elapsed time.Duration) {
	t.calls.Add(1)
	if t.next != nil {
		t.next.Observe(callback, ok, elapsed)
	}
}
