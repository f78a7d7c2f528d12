// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problems

import (
	"fmt"

	"github.com/curioloop/nlpadapter/host"
	"github.com/curioloop/nlpadapter/sparse"
)

// Rosenbrock minimizes the Rosenbrock function inside the unit disc.
//
//	𝒇(𝐱) = 100(x₁ - x₀²)² + (1 - x₀)²
//	𝒈(𝐱) = 1 - x₀² - x₁² ≥ 0
func Rosenbrock() (host.Functions, error) {
	return (&host.Closures{
		N: 2, M: 1,
		F: func(x, _ []float64) (float64, error) {
			a, b := x[1]-x[0]*x[0], 1-x[0]
			return 100*a*a + b*b, nil
		},
		Grad: func(x, _, d []float64) error {
			a := x[1] - x[0]*x[0]
			d[0] = -400*a*x[0] - 2*(1-x[0])
			d[1] = 200 * a
			return nil
		},
		G: func(x, _, g []float64) error {
			g[0] = 1 - x[0]*x[0] - x[1]*x[1]
			return nil
		},
		Jac: func(x, _, v []float64) error {
			v[0], v[1] = -2*x[0], -2*x[1]
			return nil
		},
		Hess: func(x, _ []float64, sigma float64, lambda, v []float64) error {
			h01 := sigma * -400 * x[0]
			v[0] = sigma*(1200*x[0]*x[0]-400*x[1]+2) - 2*lambda[0]
			v[1], v[2] = h01, h01
			v[3] = sigma*200 - 2*lambda[0]
			return nil
		},
	}).New()
}

// Chained is the chained Rosenbrock function of n variables subject to
// n-1 equality constraints. Both derivative patterns are sparse.
//
//	𝒇(𝐱) = ∑ 100(xᵢ₊₁ - xᵢ²)² + (1 - xᵢ)²
//	𝒈ₖ(𝐱) = xₖ² + xₖ₊₁
func Chained(n int) (host.Functions, error) {
	if n < 2 {
		return nil, fmt.Errorf("chained rosenbrock needs at least 2 variables, got %d", n)
	}
	m := n - 1

	// bidiagonal jacobian: 𝒈ₖ depends on xₖ and xₖ₊₁
	var iRow, jCol []int
	for k := range m {
		iRow = append(iRow, k, k)
		jCol = append(jCol, k, k+1)
	}
	jac, err := sparse.FromCoords(m, n, iRow, jCol)
	if err != nil {
		return nil, err
	}

	// tridiagonal hessian
	iRow, jCol = iRow[:0], jCol[:0]
	for i := range n {
		iRow, jCol = append(iRow, i), append(jCol, i)
		if i+1 < n {
			iRow = append(iRow, i, i+1)
			jCol = append(jCol, i+1, i)
		}
	}
	hess, err := sparse.FromCoords(n, n, iRow, jCol)
	if err != nil {
		return nil, err
	}

	return (&host.Closures{
		N: n, M: m,
		F: func(x, _ []float64) (f float64, _ error) {
			for i := range n - 1 {
				a, b := x[i+1]-x[i]*x[i], 1-x[i]
				f += 100*a*a + b*b
			}
			return
		},
		Grad: func(x, _, d []float64) error {
			clear(d)
			for i := range n - 1 {
				a := x[i+1] - x[i]*x[i]
				d[i] += -400*a*x[i] - 2*(1-x[i])
				d[i+1] += 200 * a
			}
			return nil
		},
		G: func(x, _, g []float64) error {
			for k := range m {
				g[k] = x[k]*x[k] + x[k+1]
			}
			return nil
		},
		Jac: func(x, _, v []float64) error {
			jac.Each(func(k, row, col int) {
				if row == col {
					v[k] = 2 * x[col]
				} else {
					v[k] = 1
				}
			})
			return nil
		},
		Hess: func(x, _ []float64, sigma float64, lambda, v []float64) error {
			hess.Each(func(k, row, col int) {
				switch {
				case row == col:
					var d float64
					if col+1 < n {
						d += sigma*(1200*x[col]*x[col]-400*x[col+1]+2) + 2*lambda[col]
					}
					if col > 0 {
						d += sigma * 200
					}
					v[k] = d
				default:
					v[k] = sigma * -400 * x[min(row, col)]
				}
			})
			return nil
		},
		JacPattern:  jac,
		HessPattern: hess,
	}).New()
}

// Square is 𝒇(x) = x² without constraints.
func Square() (host.Functions, error) {
	return (&host.Closures{
		N: 1,
		F: func(x, _ []float64) (float64, error) {
			return x[0] * x[0], nil
		},
		Grad: func(x, _, d []float64) error {
			d[0] = 2 * x[0]
			return nil
		},
		Hess: func(_, _ []float64, sigma float64, _, v []float64) error {
			v[0] = 2 * sigma
			return nil
		},
	}).New()
}
