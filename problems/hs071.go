// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problems

import "github.com/curioloop/nlpadapter/host"

// HS071 is Hock-Schittkowski problem 71 without its bounds.
//
//	𝒇(𝐱) = x₀x₃(x₀ + x₁ + x₂) + x₂
//	𝒈₀(𝐱) = x₀x₁x₂x₃ ≥ 25
//	𝒈₁(𝐱) = x₀² + x₁² + x₂² + x₃² = 40
//
// Jacobian and Hessian use dense patterns.
func HS071() (host.Functions, error) {
	return (&host.Closures{
		N: 4, M: 2,
		F: func(x, _ []float64) (float64, error) {
			return x[0]*x[3]*(x[0]+x[1]+x[2]) + x[2], nil
		},
		Grad: func(x, _, d []float64) error {
			d[0] = x[3] * (2*x[0] + x[1] + x[2])
			d[1] = x[0] * x[3]
			d[2] = x[0]*x[3] + 1
			d[3] = x[0] * (x[0] + x[1] + x[2])
			return nil
		},
		G: func(x, _, g []float64) error {
			g[0] = x[0] * x[1] * x[2] * x[3]
			g[1] = x[0]*x[0] + x[1]*x[1] + x[2]*x[2] + x[3]*x[3]
			return nil
		},
		Jac: func(x, _, v []float64) error {
			// column j holds ∂g₀/∂xⱼ, ∂g₁/∂xⱼ
			for j := range 4 {
				prod := 1.0
				for i := range 4 {
					if i != j {
						prod *= x[i]
					}
				}
				v[2*j], v[2*j+1] = prod, 2*x[j]
			}
			return nil
		},
		Hess: func(x, _ []float64, sigma float64, lambda, v []float64) error {
			var h [4][4]float64
			// objective
			h[0][0] = sigma * 2 * x[3]
			h[0][1] = sigma * x[3]
			h[0][2] = sigma * x[3]
			h[0][3] = sigma * (2*x[0] + x[1] + x[2])
			h[1][3] = sigma * x[0]
			h[2][3] = sigma * x[0]
			// 𝒈₀
			h[0][1] += lambda[0] * x[2] * x[3]
			h[0][2] += lambda[0] * x[1] * x[3]
			h[0][3] += lambda[0] * x[1] * x[2]
			h[1][2] += lambda[0] * x[0] * x[3]
			h[1][3] += lambda[0] * x[0] * x[2]
			h[2][3] += lambda[0] * x[0] * x[1]
			// 𝒈₁
			for i := range 4 {
				h[i][i] += lambda[1] * 2
			}
			for j := range 4 {
				for i := range 4 {
					if i <= j {
						v[i+4*j] = h[i][j]
					} else {
						v[i+4*j] = h[j][i]
					}
				}
			}
			return nil
		},
	}).New()
}
