// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problems provides reference NLPs with analytic derivatives.
package problems

import (
	"fmt"
	"slices"

	"github.com/curioloop/nlpadapter/host"
	"github.com/curioloop/nlpadapter/numdiff"
)

// Entry describes a reference problem.
type Entry struct {
	Name string
	Doc  string
	X0   []float64 // standard starting point
	// Variable bounds of the problem statement, nil when unbounded.
	Bounds []numdiff.Bound
	New    func() (host.Functions, error)
}

var catalog = []Entry{
	{
		Name: "hs071",
		Doc:  "Hock-Schittkowski problem 71 (n=4, m=2, dense)",
		X0:   []float64{1, 5, 5, 1},
		// x0 touches both sides
		Bounds: []numdiff.Bound{{1, 5}, {1, 5}, {1, 5}, {1, 5}},
		New:    HS071,
	},
	{
		Name: "rosenbrock",
		Doc:  "Rosenbrock function inside the unit disc (n=2, m=1)",
		X0:   []float64{0.1, 0.1},
		// box around the disc
		Bounds: []numdiff.Bound{{-1, 1}, {-1, 1}},
		New:    Rosenbrock,
	},
	{
		Name: "chained",
		Doc:  "chained Rosenbrock with x²ₖ + xₖ₊₁ constraints (n=6, m=5, sparse)",
		X0:   []float64{-1.2, 1, -1.2, 1, -1.2, 1},
		New:  func() (host.Functions, error) { return Chained(6) },
	},
	{
		Name: "square",
		Doc:  "x² without constraints (n=1, m=0)",
		X0:   []float64{3},
		New:  Square,
	},
}

// All returns every reference problem.
func All() []Entry {
	return slices.Clone(catalog)
}

// Names returns the reference problem names.
func Names() []string {
	names := make([]string, len(catalog))
	for i, e := range catalog {
		names[i] = e.Name
	}
	return names
}

// Lookup returns the named problem.
func Lookup(name string) (Entry, error) {
	for _, e := range catalog {
		if e.Name == name {
			e.X0 = slices.Clone(e.X0)
			e.Bounds = slices.Clone(e.Bounds)
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("unknown problem %q (available: %v)", name, Names())
}
