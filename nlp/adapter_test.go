// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nlp

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/curioloop/nlpadapter/host"
	"github.com/curioloop/nlpadapter/sparse"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counting wraps host functions and records how often each one is reached.
type counting struct {
	host.Functions
	calls map[string]int
}

func newCounting(fn host.Functions) *counting {
	return &counting{Functions: fn, calls: map[string]int{}}
}

func (c *counting) Objective(x, p []float64) (float64, error) {
	c.calls["objective"]++
	return c.Functions.Objective(x, p)
}

func (c *counting) Gradient(x, p, g []float64) error {
	c.calls["gradient"]++
	return c.Functions.Gradient(x, p, g)
}

func (c *counting) Constraints(x, p, g []float64) error {
	c.calls["constraints"]++
	return c.Functions.Constraints(x, p, g)
}

func (c *counting) Jacobian(x, p, v []float64) error {
	c.calls["jacobian"]++
	return c.Functions.Jacobian(x, p, v)
}

func (c *counting) Hessian(x, p []float64, s float64, l, v []float64) error {
	c.calls["hessian"]++
	return c.Functions.Hessian(x, p, s, l, v)
}

func (c *counting) Clone() host.Functions {
	return newCounting(c.Functions.Clone())
}

func (c *counting) total() (n int) {
	for _, v := range c.calls {
		n += v
	}
	return
}

// unconstrained f = (x₀ - 1)² + p₀x₁²
func quadratic(t *testing.T) host.Functions {
	fn, err := (&host.Closures{
		N: 2,
		F: func(x, p []float64) (float64, error) {
			return (x[0]-1)*(x[0]-1) + p[0]*x[1]*x[1], nil
		},
		Grad: func(x, p, g []float64) error {
			g[0], g[1] = 2*(x[0]-1), 2*p[0]*x[1]
			return nil
		},
		Hess: func(x, p []float64, sigma float64, _, v []float64) error {
			v[0], v[1], v[2], v[3] = 2*sigma, 0, 0, 2*p[0]*sigma
			return nil
		},
	}).New()
	require.NoError(t, err)
	return fn
}

// g₀ = x₀x₁, g₁ = x₀ + x₂³ with sparse Jacobian {(0,0),(1,0),(0,1),(1,2)}
// and Lagrangian hessian 𝛔·0 + 𝛌₀[(0,1),(1,0)] + 𝛌₁·6x₂ at (2,2)
func sparseProblem(t *testing.T) host.Functions {
	jac, err := sparse.New(2, 3, []int{0, 2, 3, 4}, []int{0, 1, 0, 1})
	require.NoError(t, err)
	hess, err := sparse.FromCoords(3, 3, []int{0, 1, 2}, []int{1, 0, 2})
	require.NoError(t, err)

	fn, err := (&host.Closures{
		N: 3, M: 2,
		F: func(x, _ []float64) (float64, error) { return x[0] + x[1] + x[2], nil },
		Grad: func(_, _, g []float64) error {
			g[0], g[1], g[2] = 1, 1, 1
			return nil
		},
		G: func(x, _, g []float64) error {
			g[0], g[1] = x[0]*x[1], x[0]+x[2]*x[2]*x[2]
			return nil
		},
		Jac: func(x, _, v []float64) error {
			// column-major over the pattern
			v[0], v[1], v[2], v[3] = x[1], 1, x[0], 3*x[2]*x[2]
			return nil
		},
		Hess: func(x, _ []float64, _ float64, l, v []float64) error {
			// pattern entries (1,0), (0,1), (2,2)
			v[0], v[1], v[2] = l[0], l[0], 6*l[1]*x[2]
			return nil
		},
		JacPattern:  jac,
		HessPattern: hess,
	}).New()
	require.NoError(t, err)
	return fn
}

func TestProblemNew(t *testing.T) {
	_, err := (&Problem{}).New()
	assert.Error(t, err)

	bad := &host.Closures{N: 2, M: 1, F: func(_, _ []float64) (float64, error) { return 0, nil },
		JacPattern: sparse.Dense(1, 2), HessPattern: sparse.Dense(1, 1)}
	_, err = (&Problem{Functions: bad}).New()
	assert.Error(t, err)

	a, err := (&Problem{Functions: sparseProblem(t)}).New()
	require.NoError(t, err)
	assert.Equal(t, Info{N: 3, M: 2, NnzJac: 4, NnzHess: 2}, a.Info())
}

func TestProblemNewPatterns(t *testing.T) {
	closures := func(jac, hess *sparse.Pattern) host.Functions {
		return &host.Closures{
			N: 2, M: 1,
			F: func(x, _ []float64) (float64, error) {
				return x[0] * x[1], nil
			},
			G: func(x, _, g []float64) error {
				g[0] = x[0]
				return nil
			},
			JacPattern:  jac,
			HessPattern: hess,
		}
	}

	// hand-built without column pointers
	_, err := (&Problem{Functions: closures(&sparse.Pattern{Rows: 1, Cols: 2}, sparse.Dense(2, 2))}).New()
	assert.ErrorContains(t, err, "jacobian pattern")
	_, err = (&Problem{Functions: closures(sparse.Dense(1, 2), &sparse.Pattern{Rows: 2, Cols: 2})}).New()
	assert.ErrorContains(t, err, "hessian pattern")
	_, err = (&Problem{Functions: closures(sparse.Dense(1, 2),
		&sparse.Pattern{Rows: 2, Cols: 2, ColPtr: []int{0, 1, 2}, RowIdx: []int{0, 5}})}).New()
	assert.ErrorContains(t, err, "out of range")

	// x₀x₁ stored by its lower triangle alone
	lower, err := sparse.FromCoords(2, 2, []int{1}, []int{0})
	require.NoError(t, err)
	_, err = (&Problem{Functions: closures(sparse.Dense(1, 2), lower)}).New()
	assert.ErrorContains(t, err, "hessian pattern entry (1,0) has no mirror (0,1)")

	full, err := sparse.FromCoords(2, 2, []int{1, 0}, []int{0, 1})
	require.NoError(t, err)
	a, err := (&Problem{Functions: closures(sparse.Dense(1, 2), full)}).New()
	require.NoError(t, err)
	assert.Equal(t, 1, a.Info().NnzHess)

	upper, err := sparse.FromCoords(2, 2, []int{0}, []int{1})
	require.NoError(t, err)
	a, err = (&Problem{Functions: closures(sparse.Dense(1, 2), upper)}).New()
	require.NoError(t, err)
	assert.Equal(t, 1, a.Info().NnzHess)
}

func TestConcurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	a, err := (&Problem{
		Functions: quadratic(t),
		Param:     []float64{1},
		Logger:    &Logger{Level: LogVerbose, Msg: &buf},
	}).New()
	require.NoError(t, err)

	const workers, rounds = 8, 50
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func(c *Adapter) {
			defer wg.Done()
			x := []float64{1, 2}
			for range rounds {
				c.EvalF(x, true)
			}
		}(a.Clone())
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, workers*rounds*3)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "eval_f "), line)
	}
}

func TestEvalFDeterministic(t *testing.T) {
	fn := newCounting(quadratic(t))
	a, err := (&Problem{Functions: fn, Param: []float64{3}}).New()
	require.NoError(t, err)

	x := []float64{1.0, 2.0}
	f1, ok1 := a.EvalF(x, true)
	f2, ok2 := a.EvalF(x, false)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, 12.0, f1)
	assert.Equal(t, f1, f2)
	assert.Equal(t, []float64{1.0, 2.0}, x, "x is never written")
	assert.Equal(t, 2, fn.calls["objective"])

	grad := make([]float64, 2)
	require.True(t, a.EvalGradF(x, false, grad))
	assert.Equal(t, []float64{0, 12}, grad)
}

func TestZeroConstraints(t *testing.T) {
	fn := newCounting(quadratic(t))
	a, err := (&Problem{Functions: fn, Param: []float64{1}}).New()
	require.NoError(t, err)

	assert.True(t, a.EvalG([]float64{1, 2}, true, nil))

	iRow, jCol := []int{}, []int{}
	assert.True(t, a.EvalJacG(nil, true, iRow, jCol, nil))
	assert.Empty(t, iRow)
	assert.Empty(t, jCol)
	assert.True(t, a.EvalJacG([]float64{1, 2}, true, nil, nil, []float64{}))

	assert.Zero(t, fn.total(), "no host function is reached")
	assert.Zero(t, a.Info().NnzJac)
}

func TestJacobianProtocol(t *testing.T) {
	a, err := (&Problem{Functions: sparseProblem(t)}).New()
	require.NoError(t, err)

	nnz := a.Info().NnzJac
	iRow, jCol := make([]int, nnz), make([]int, nnz)
	require.True(t, a.EvalJacG(nil, true, iRow, jCol, nil))

	if diff := cmp.Diff([]int{0, 1, 0, 1}, iRow); diff != "" {
		t.Fatalf("row mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 0, 1, 2}, jCol); diff != "" {
		t.Fatalf("col mismatch (-want +got):\n%s", diff)
	}

	x := []float64{2, 3, 5}
	dense := [2][3]float64{
		{x[1], x[0], 0},
		{1, 0, 3 * x[2] * x[2]},
	}

	values := make([]float64, nnz)
	for range 3 {
		require.True(t, a.EvalJacG(x, false, nil, nil, values))
		for k := range values {
			assert.Equal(t, dense[iRow[k]][jCol[k]], values[k], "entry %d", k)
		}
	}

	g := make([]float64, 2)
	require.True(t, a.EvalG(x, true, g))
	assert.Equal(t, []float64{6, 127}, g)
}

func TestHessianProtocol(t *testing.T) {
	a, err := (&Problem{Functions: sparseProblem(t)}).New()
	require.NoError(t, err)

	nnz := a.Info().NnzHess
	iRow, jCol := make([]int, nnz), make([]int, nnz)
	require.True(t, a.EvalH(nil, true, 1, nil, true, iRow, jCol, nil))

	assert.Equal(t, []int{0, 2}, iRow)
	assert.Equal(t, []int{1, 2}, jCol)
	for k := range iRow {
		assert.LessOrEqual(t, iRow[k], jCol[k])
	}

	values := make([]float64, nnz)
	require.True(t, a.EvalH([]float64{1, 1, 2}, true, 1, []float64{4, 5}, true, nil, nil, values))
	assert.Equal(t, []float64{4, 60}, values)
}

func TestHessianDenseLower(t *testing.T) {
	a, err := (&Problem{Functions: quadratic(t), Param: []float64{3}}).New()
	require.NoError(t, err)

	info := a.Info()
	require.Equal(t, 3, info.NnzHess)

	iRow, jCol := make([]int, 3), make([]int, 3)
	require.True(t, a.EvalH(nil, true, 0, nil, true, iRow, jCol, nil))
	assert.Equal(t, []int{0, 0, 1}, iRow)
	assert.Equal(t, []int{0, 1, 1}, jCol)

	values := make([]float64, 3)
	require.True(t, a.EvalH([]float64{0, 0}, true, 0.5, []float64{}, true, nil, nil, values))
	assert.Equal(t, []float64{1, 0, 3}, values)
}

func failing(t *testing.T, err error) host.Functions {
	fn, e := (&host.Closures{
		N: 2,
		F: func(_, _ []float64) (float64, error) { return 0, err },
	}).New()
	require.NoError(t, e)
	return fn
}

func TestNonFatalFailure(t *testing.T) {
	var buf bytes.Buffer
	a, err := (&Problem{
		Functions: failing(t, errors.New("boom")),
		Logger:    &Logger{Level: LogFailure, Msg: &buf},
	}).New()
	require.NoError(t, err)

	_, ok := a.EvalF([]float64{1, 2}, true)
	assert.False(t, ok)
	assert.Equal(t, "eval_f failed: boom\n", buf.String())

	// missing derivative surfaces as failure too
	assert.False(t, a.EvalGradF([]float64{1, 2}, true, make([]float64, 2)))
	assert.Contains(t, buf.String(), "eval_grad_f failed: gradient: function not provided")
}

func TestFatalFailure(t *testing.T) {
	boom := errors.New("boom")
	a, err := (&Problem{Functions: failing(t, boom), EvalErrorsFatal: true}).New()
	require.NoError(t, err)

	assert.PanicsWithError(t, "eval_f failed: boom", func() {
		a.EvalF([]float64{1, 2}, true)
	})

	solve := func() (err error) {
		defer Recover(&err)
		a.EvalF([]float64{1, 2}, true)
		return nil
	}
	err = solve()
	require.ErrorIs(t, err, boom)

	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, CallEvalF, ee.Callback)
}

func TestRecoverRepanics(t *testing.T) {
	assert.PanicsWithValue(t, "other", func() {
		var err error
		defer Recover(&err)
		panic("other")
	})
}

func TestHostPanic(t *testing.T) {
	fn, err := (&host.Closures{
		N: 1,
		F: func(x, _ []float64) (float64, error) { return x[5], nil },
	}).New()
	require.NoError(t, err)

	a, err := (&Problem{Functions: fn, EvalErrorsFatal: true}).New()
	require.NoError(t, err)

	eval := func() (err error) {
		defer Recover(&err)
		a.EvalF([]float64{1}, true)
		return
	}
	assert.ErrorIs(t, eval(), ErrHostPanic)
}

func TestDimensionMismatch(t *testing.T) {
	var buf bytes.Buffer
	a, err := (&Problem{
		Functions: sparseProblem(t),
		Logger:    &Logger{Level: LogFailure, Msg: &buf},
	}).New()
	require.NoError(t, err)

	_, ok := a.EvalF([]float64{1, 2}, true)
	assert.False(t, ok)
	assert.False(t, a.EvalGradF([]float64{1, 2, 3}, true, make([]float64, 2)))
	assert.False(t, a.EvalG([]float64{1, 2, 3}, true, make([]float64, 3)))
	assert.False(t, a.EvalJacG(nil, true, make([]int, 3), make([]int, 4), nil))
	assert.False(t, a.EvalJacG([]float64{1, 2, 3}, true, nil, nil, make([]float64, 5)))
	assert.False(t, a.EvalH([]float64{1, 2, 3}, true, 1, []float64{1}, true, nil, nil, make([]float64, 2)))
	assert.False(t, a.EvalH(nil, true, 1, nil, true, make([]int, 1), make([]int, 1), nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	for _, l := range lines {
		assert.Contains(t, l, ErrDimension.Error())
	}

	a.fatal = true
	check := func() (err error) {
		defer Recover(&err)
		a.EvalF([]float64{1}, true)
		return
	}
	assert.ErrorIs(t, check(), ErrDimension)
}

type recorder struct {
	calls []string
	ok    []bool
}

func (r *recorder) Observe(callback string, ok bool, _ time.Duration) {
	r.calls = append(r.calls, callback)
	r.ok = append(r.ok, ok)
}

func TestObserverAndLog(t *testing.T) {
	var buf bytes.Buffer
	rec := &recorder{}
	a, err := (&Problem{
		Functions: quadratic(t),
		Param:     []float64{1},
		Logger:    &Logger{Level: LogEval, Msg: &buf},
		Observer:  rec,
	}).New()
	require.NoError(t, err)

	a.EvalF([]float64{0, 0}, true)
	a.EvalJacG(nil, true, nil, nil, nil)
	a.EvalGradF([]float64{0}, true, nil)

	assert.Equal(t, []string{CallEvalF, CallEvalJacG, CallEvalGradF}, rec.calls)
	assert.Equal(t, []bool{true, true, false}, rec.ok)
	assert.Equal(t, strings.Join([]string{
		"eval_f started",
		"eval_f ok",
		"eval_jac_g started",
		"eval_jac_g quick return (m==0)",
		"eval_jac_g ok",
		"eval_grad_f started",
		"eval_grad_f failed: dimension mismatch: x has 1 elements, expected 2",
	}, "\n")+"\n", buf.String())
}

func TestClone(t *testing.T) {
	fn := newCounting(quadratic(t))
	a, err := (&Problem{Functions: fn, Param: []float64{2}}).New()
	require.NoError(t, err)

	c := a.Clone()
	f, ok := c.EvalF([]float64{3, 1}, true)
	require.True(t, ok)
	assert.Equal(t, 6.0, f)

	assert.Zero(t, fn.total(), "clone evaluates its own host instance")
	assert.Equal(t, a.Info(), c.Info())
}
