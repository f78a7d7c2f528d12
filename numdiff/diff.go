// Package numdiff estimates derivatives of vector functions by finite differences.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// # License
//
//   - https://github.com/scipy/scipy/blob/main/LICENSE.txt
package numdiff

import (
	"errors"
	"fmt"
	"math"
)

var (
	machEps = math.Nextafter(1, 2) - 1
	sqrtEps = math.Sqrt(machEps)
	cubeEps = math.Cbrt(machEps)
)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use central difference in interior points and the second order accuracy
	// forward or backward difference near the boundary.
	Central
)

// ParseMethod maps "forward" and "central" to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "forward":
		return Forward, nil
	case "central":
		return Central, nil
	}
	return Forward, fmt.Errorf("unknown difference method %q", s)
}

// Layout selects how the m×n Jacobian is stored in a flat slice.
type Layout int

const (
	// RowMajor stores ∂yⱼ/∂xᵢ at j×n+i.
	RowMajor Layout = iota
	// ColMajor stores ∂yⱼ/∂xᵢ at i×m+j, which is the value order of a dense sparse.Pattern.
	ColMajor
)

// Bound is the [lower, upper] range of one variable. NaN means unbounded.
type Bound [2]float64

// Approx approximates the Jacobian 𝐉 ∈ ℝᵐˣⁿ of 𝒚 = 𝑭(𝐱).
//
// The scratch buffers are owned by the Approx, so a single value must not be used
// by several goroutines at once. Use Clone to get an independent copy.
type Approx struct {
	N, M int
	// Func evaluates 𝑭 at the n-vector x into the m-vector y.
	// A returned error aborts the approximation.
	Func func(x, y []float64) error
	// Finite difference method to use.
	Method Method
	// Optional lower and upper bounds on independent variables.
	// Function evaluations never leave this range.
	Bounds []Bound
	// Relative step size. The absolute step is h = RelStep × sign(x) × |x|.
	// When both RelStep and AbsStep are zero, h = ε × sign(x) × max(1, |x|)
	// with ε selected by Method.
	RelStep float64
	// Absolute step size, possibly adjusted to fit into the bounds.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	// Don't check if x0 is out of bounds.
	NoBoundCheck bool
	// Storage layout of the result.
	Layout Layout

	scratch
}

type scratch struct {
	x          []float64 // perturbed point
	y0, y1, y2 []float64
	h          []float64
	oneSided   []bool
	bounded    bool
}

// Clone returns a copy that shares the configuration but not the scratch buffers.
func (a *Approx) Clone() *Approx {
	c := *a
	c.scratch = scratch{}
	if a.Bounds != nil {
		c.Bounds = append([]Bound(nil), a.Bounds...)
	}
	return &c
}

func (a *Approx) prepare(x0, dst []float64) error {

	switch {
	case a.N <= 0 || a.M <= 0:
		return errors.New("dimensions must be positive")
	case a.Method != Forward && a.Method != Central:
		return errors.New("unknown method")
	case a.Layout != RowMajor && a.Layout != ColMajor:
		return errors.New("unknown layout")
	case a.Func == nil:
		return errors.New("function is required")
	case len(x0) != a.N:
		return errors.New("invalid x0 dimensions")
	case len(dst) != a.N*a.M:
		return errors.New("invalid jacobian dimensions")
	case a.Bounds != nil && len(a.Bounds) != a.N:
		return errors.New("invalid bound dimension")
	}

	a.bounded = false
	for i, b := range a.Bounds {
		lb, ub := b[0], b[1]
		if math.IsNaN(lb) {
			lb = math.Inf(-1)
		}
		if math.IsNaN(ub) {
			ub = math.Inf(1)
		}
		if lb > ub {
			return fmt.Errorf("invalid bound range at %d", i)
		}
		if !a.NoBoundCheck && (x0[i] < lb || x0[i] > ub) {
			return fmt.Errorf("x0 violates bound constraints at %d", i)
		}
		if !math.IsInf(lb, 0) || !math.IsInf(ub, 0) {
			a.bounded = true
		}
	}

	if len(a.x) != a.N {
		a.x = make([]float64, a.N)
		a.h = make([]float64, a.N)
		a.oneSided = make([]bool, a.N)
	}
	if len(a.y0) != a.M {
		a.y0 = make([]float64, a.M)
		a.y1 = make([]float64, a.M)
		a.y2 = make([]float64, a.M)
	}
	return nil
}

// Jacobian writes the approximation of 𝐉(x0) into dst using the configured Layout.
// x0 is left untouched.
func (a *Approx) Jacobian(x0, dst []float64) error {
	if err := a.prepare(x0, dst); err != nil {
		return err
	}

	a.chooseSteps(x0)
	a.fitBounds(x0)

	copy(a.x, x0)
	if err := a.Func(a.x, a.y0); err != nil {
		return err
	}

	for i, h := range a.h {
		var err error
		if a.Method == Forward {
			err = a.forward(dst, x0, i, h)
		} else {
			err = a.central(dst, x0, i, h)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// bound returns the effective range of variable i.
func (a *Approx) bound(i int) (lb, ub float64) {
	lb, ub = math.Inf(-1), math.Inf(1)
	if a.Bounds != nil {
		if b := a.Bounds[i]; !math.IsNaN(b[0]) {
			lb = b[0]
		}
		if b := a.Bounds[i]; !math.IsNaN(b[1]) {
			ub = b[1]
		}
	}
	return
}

func (a *Approx) chooseSteps(x0 []float64) {
	eps := sqrtEps
	if a.Method == Central {
		eps = cubeEps
	}
	auto := func(v float64) float64 {
		return math.Copysign(eps, v) * math.Max(1, math.Abs(v))
	}

	for i, v := range x0 {
		h := a.AbsStep
		switch {
		case a.AbsStep == 0 && a.RelStep == 0:
			h = auto(v)
		case h == 0:
			h = math.Copysign(a.RelStep, v) * math.Abs(v)
			fallthrough
		default:
			// the step vanishes in floating point
			if (v+h)-v == 0 {
				h = auto(v)
			}
		}
		a.h[i] = h
		a.oneSided[i] = false
	}

	if a.Method == Central {
		for i, h := range a.h {
			a.h[i] = math.Abs(h)
		}
	}
}

// fitBounds shrinks or flips the steps so that every evaluation stays within bounds.
func (a *Approx) fitBounds(x0 []float64) {
	if !a.bounded {
		return
	}
	for i, x := range x0 {
		lb, ub := a.bound(i)
		below, above := x-lb, ub-x
		h := a.h[i]

		if a.Method == Forward {
			room := math.Max(below, above)
			switch {
			case math.Abs(h) >= room:
				if above >= below {
					h = above
				} else {
					h = -below
				}
			case x+h < lb || x+h > ub:
				h = -h
			}
			a.h[i] = h
			continue
		}

		if below >= h && above >= h {
			continue
		}
		if above >= below {
			h = math.Min(h, above/2)
		} else {
			h = -math.Min(h, below/2)
		}
		a.oneSided[i] = true
		if near := math.Min(below, above); math.Abs(h) <= near {
			h = near
			a.oneSided[i] = false
		}
		a.h[i] = h
	}
}

func (a *Approx) store(dst []float64, row, col int, v float64) {
	if a.Layout == ColMajor {
		dst[col*a.M+row] = v
	} else {
		dst[row*a.N+col] = v
	}
}

func (a *Approx) forward(dst, x0 []float64, i int, h float64) error {
	a.x[i] = x0[i] + h
	err := a.Func(a.x, a.y1)
	a.x[i] = x0[i]
	if err != nil {
		return err
	}
	for j, y := range a.y1 {
		a.store(dst, j, i, (y-a.y0[j])/h)
	}
	return nil
}

func (a *Approx) central(dst, x0 []float64, i int, h float64) error {
	var lo, hi float64
	if a.oneSided[i] {
		lo, hi = x0[i]+h, x0[i]+2*h
	} else {
		lo, hi = x0[i]-h, x0[i]+h
	}

	a.x[i] = lo
	err := a.Func(a.x, a.y1)
	if err == nil {
		a.x[i] = hi
		err = a.Func(a.x, a.y2)
	}
	a.x[i] = x0[i]
	if err != nil {
		return err
	}

	d := 1 / (2 * h)
	for j := range a.y0 {
		if a.oneSided[i] {
			a.store(dst, j, i, (4*a.y1[j]-3*a.y0[j]-a.y2[j])*d)
		} else {
			a.store(dst, j, i, (a.y2[j]-a.y1[j])*d)
		}
	}
	return nil
}
