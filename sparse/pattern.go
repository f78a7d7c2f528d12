// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sparse describes the structural non-zeros of Jacobian and Hessian matrices.
//
// A Pattern is stored in compressed column form: the rows of column 𝐜 are
// RowIdx[ColPtr[𝐜]:ColPtr[𝐜+1]], strictly increasing. Values that belong to a
// pattern are kept in a flat slice in the same column-major order, so the
// k-th value is the entry at (RowIdx[k], 𝐜) where ColPtr[𝐜] ≤ k < ColPtr[𝐜+1].
package sparse

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Pattern is the compressed column sparsity structure of a rows×cols matrix.
type Pattern struct {
	Rows, Cols int
	ColPtr     []int // cols+1
	RowIdx     []int // nnz
}

// New creates a pattern from compressed column arrays.
func New(rows, cols int, colPtr, rowIdx []int) (*Pattern, error) {
	p := &Pattern{
		Rows:   rows,
		Cols:   cols,
		ColPtr: slices.Clone(colPtr),
		RowIdx: slices.Clone(rowIdx),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the compressed column arrays of a pattern that was not built by this package.
func (p *Pattern) Validate() (err error) {

	rows, cols := p.Rows, p.Cols
	colPtr, rowIdx := p.ColPtr, p.RowIdx
	switch {
	case rows < 0 || cols < 0:
		err = errors.New("negative dimensions")
	case len(colPtr) != cols+1:
		err = errors.New("column pointer size must equal to cols+1")
	case colPtr[0] != 0:
		err = errors.New("column pointer must start at 0")
	case colPtr[cols] != len(rowIdx):
		err = errors.New("column pointer must end at nnz")
	}
	if err != nil {
		return
	}

	for c := 0; c < cols; c++ {
		lo, hi := colPtr[c], colPtr[c+1]
		if lo > hi || hi > len(rowIdx) {
			return fmt.Errorf("column pointer decreasing at %d", c)
		}
		for k := lo; k < hi; k++ {
			r := rowIdx[k]
			if r < 0 || r >= rows {
				return fmt.Errorf("row index %d out of range at column %d", r, c)
			}
			if k > lo && rowIdx[k-1] >= r {
				return fmt.Errorf("row indices not increasing at column %d", c)
			}
		}
	}
	return nil
}

// Dense creates the pattern where every entry of a rows×cols matrix is structurally non-zero.
func Dense(rows, cols int) *Pattern {
	if rows < 0 || cols < 0 {
		panic("negative dimensions")
	}
	p := &Pattern{
		Rows:   rows,
		Cols:   cols,
		ColPtr: make([]int, cols+1),
		RowIdx: make([]int, 0, rows*cols),
	}
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			p.RowIdx = append(p.RowIdx, r)
		}
		p.ColPtr[c+1] = len(p.RowIdx)
	}
	return p
}

// Empty creates a rows×cols pattern without any non-zero.
func Empty(rows, cols int) *Pattern {
	if rows < 0 || cols < 0 {
		panic("negative dimensions")
	}
	return &Pattern{Rows: rows, Cols: cols, ColPtr: make([]int, cols+1)}
}

// FromCoords builds a pattern from (row, col) pairs given in any order.
// Duplicated coordinates are merged.
func FromCoords(rows, cols int, iRow, jCol []int) (*Pattern, error) {
	if len(iRow) != len(jCol) {
		return nil, errors.New("coordinate size mismatch")
	}
	type coord struct{ r, c int }
	cs := make([]coord, len(iRow))
	for k := range iRow {
		r, c := iRow[k], jCol[k]
		if r < 0 || r >= rows || c < 0 || c >= cols {
			return nil, fmt.Errorf("coordinate (%d,%d) out of range", r, c)
		}
		cs[k] = coord{r, c}
	}
	sort.Slice(cs, func(a, b int) bool {
		if cs[a].c != cs[b].c {
			return cs[a].c < cs[b].c
		}
		return cs[a].r < cs[b].r
	})
	cs = slices.Compact(cs)

	colPtr := make([]int, cols+1)
	rowIdx := make([]int, len(cs))
	for k, e := range cs {
		rowIdx[k] = e.r
		colPtr[e.c+1]++
	}
	for c := 0; c < cols; c++ {
		colPtr[c+1] += colPtr[c]
	}
	return &Pattern{Rows: rows, Cols: cols, ColPtr: colPtr, RowIdx: rowIdx}, nil
}

// NNZ returns the number of structural non-zeros.
func (p *Pattern) NNZ() int {
	return len(p.RowIdx)
}

// NNZLower returns the number of structural non-zeros with row ≤ col.
func (p *Pattern) NNZLower() (nz int) {
	p.EachLower(func(_, _, _ int) { nz++ })
	return
}

// Each visits every entry in column-major order.
// k is the position of the entry in a value slice of this pattern.
func (p *Pattern) Each(fn func(k, row, col int)) {
	for c := 0; c < p.Cols; c++ {
		for k := p.ColPtr[c]; k < p.ColPtr[c+1]; k++ {
			fn(k, p.RowIdx[k], c)
		}
	}
}

// EachLower visits the entries with row ≤ col in column-major order,
// i.e. for each column the rows in increasing order up to and including the diagonal.
// k is the position of the entry in a value slice of the full pattern.
func (p *Pattern) EachLower(fn func(k, row, col int)) {
	for c := 0; c < p.Cols; c++ {
		for k := p.ColPtr[c]; k < p.ColPtr[c+1] && p.RowIdx[k] <= c; k++ {
			fn(k, p.RowIdx[k], c)
		}
	}
}

// Coords writes the coordinates of all entries into iRow and jCol and returns the count.
func (p *Pattern) Coords(iRow, jCol []int) int {
	if len(iRow) < p.NNZ() || len(jCol) < p.NNZ() {
		panic("bound check error")
	}
	nz := 0
	p.Each(func(_, r, c int) {
		iRow[nz], jCol[nz] = r, c
		nz++
	})
	return nz
}

// CoordsLower writes the coordinates of the entries with row ≤ col and returns the count.
func (p *Pattern) CoordsLower(iRow, jCol []int) int {
	nz := 0
	p.EachLower(func(_, r, c int) {
		iRow[nz], jCol[nz] = r, c
		nz++
	})
	return nz
}

// SelectLower copies the values with row ≤ col from full pattern values into dst
// in the order of CoordsLower and returns the count.
func (p *Pattern) SelectLower(dst, values []float64) int {
	if len(values) != p.NNZ() {
		panic("bound check error")
	}
	nz := 0
	p.EachLower(func(k, _, _ int) {
		dst[nz] = values[k]
		nz++
	})
	return nz
}

// Index returns the value position of entry (row, col), or -1 if it is structurally zero.
func (p *Pattern) Index(row, col int) int {
	if row < 0 || row >= p.Rows || col < 0 || col >= p.Cols {
		return -1
	}
	lo, hi := p.ColPtr[col], p.ColPtr[col+1]
	pos := sort.SearchInts(p.RowIdx[lo:hi], row) + lo
	if pos < hi && p.RowIdx[pos] == row {
		return pos
	}
	return -1
}

// Unmirrored finds an entry below the diagonal whose mirror (col, row) is missing.
// A symmetric matrix stored by its row > col triangle alone is reported this way.
func (p *Pattern) Unmirrored() (row, col int, found bool) {
	for c := 0; c < p.Cols; c++ {
		for k := p.ColPtr[c]; k < p.ColPtr[c+1]; k++ {
			if r := p.RowIdx[k]; r > c && p.Index(c, r) < 0 {
				return r, c, true
			}
		}
	}
	return
}

// ToDense scatters pattern values into a dense matrix.
// An empty matrix is returned when either dimension is zero.
func (p *Pattern) ToDense(values []float64) *mat.Dense {
	if len(values) != p.NNZ() {
		panic("bound check error")
	}
	if p.Rows == 0 || p.Cols == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(p.Rows, p.Cols, nil)
	p.Each(func(k, r, c int) {
		d.Set(r, c, values[k])
	})
	return d
}

// ToSym scatters the row ≤ col values of a square pattern into a symmetric matrix.
// lower holds the values in the order of CoordsLower.
func (p *Pattern) ToSym(lower []float64) *mat.SymDense {
	if p.Rows != p.Cols {
		panic("pattern is not square")
	}
	if p.Rows == 0 {
		return &mat.SymDense{}
	}
	s := mat.NewSymDense(p.Rows, nil)
	nz := 0
	p.EachLower(func(_, r, c int) {
		s.SetSym(r, c, lower[nz])
		nz++
	})
	return s
}
