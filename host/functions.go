// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package host provides the differentiable functions an NLP is made of.
//
// For a problem with n variables and m constraints the host supplies
//   - 𝒇(𝐱;𝐩) : ℝⁿ → ℝ (objective)
//   - 𝜵𝒇(𝐱;𝐩) : ℝⁿ → ℝⁿ (objective gradient)
//   - 𝒈(𝐱;𝐩) : ℝⁿ → ℝᵐ (constraints)
//   - 𝐉(𝐱;𝐩) : ℝⁿ → ℝᵐˣⁿ (constraint Jacobian, sparse)
//   - 𝜵²ℒ(𝐱,𝛌;𝐩,𝛔) = 𝛔𝜵²𝒇(𝐱) + ∑𝛌ⱼ𝜵²𝒈ⱼ(𝐱) (Lagrangian Hessian, sparse)
//
// where 𝐩 is a vector of fixed parameters. Every input and output is passed
// explicitly; results are written into caller owned slices.
package host

import (
	"errors"

	"github.com/curioloop/nlpadapter/sparse"
)

// ErrNotProvided is returned when a function of the set was not supplied.
var ErrNotProvided = errors.New("function not provided")

// Functions is the set of host differentiable functions.
//
// Sparse results are written as values of the corresponding pattern, i.e. in
// column-major order of JacobianPattern and HessianPattern. The Hessian values
// cover the full pattern (both triangles if stored).
//
// An implementation may keep scratch buffers, so a value must not be shared
// by concurrent callers. Clone returns an independent instance.
type Functions interface {
	// Dims returns the number of variables n and constraints m.
	Dims() (n, m int)
	Objective(x, p []float64) (float64, error)
	Gradient(x, p, g []float64) error
	Constraints(x, p, g []float64) error
	JacobianPattern() *sparse.Pattern
	Jacobian(x, p, values []float64) error
	HessianPattern() *sparse.Pattern
	Hessian(x, p []float64, sigma float64, lambda, values []float64) error
	Clone() Functions
}
