/*
Copyright © 2024 the AtmCor authors.
This file is part of AtmCor.

AtmCor is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AtmCor is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AtmCor.  If not, see <http://www.gnu.org/licenses/>.
*/

package atmcor

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ctessum/sparse"
)

// AOTSource records where a pixel's aerosol optical thickness came from.
type AOTSource byte

const (
	// AOTSourceNone is the zero value; it never appears in a filled field.
	AOTSourceNone AOTSource = iota
	// AOTSourceDirect: the pixel itself was successfully retrieved.
	AOTSourceDirect
	// AOTSourceInterpolated: inverse-distance interpolation from retrieved
	// neighbors within the search radius.
	AOTSourceInterpolated
	// AOTSourceClimatology: no retrieved neighbor within the search radius;
	// the configured climatological default was substituted.
	AOTSourceClimatology
)

func (s AOTSource) String() string {
	switch s {
	case AOTSourceDirect:
		return "direct"
	case AOTSourceInterpolated:
		return "interpolated"
	case AOTSourceClimatology:
		return "climatology"
	}
	return fmt.Sprintf("aotsource(%d)", byte(s))
}

// AOTField is the dense per-pixel aerosol field produced by the fill stage.
// Every pixel holds a defined AOT value and a provenance flag; the
// correction stage may assume there are no gaps.
type AOTField struct {
	rows, cols int

	// AOT is the aerosol optical thickness at 550 nm per pixel.
	AOT *sparse.DenseArray

	source []AOTSource

	// LowConfidence marks pixels whose value derives (directly or through
	// interpolation alone) from low-confidence retrievals.
	lowConfidence []bool
}

// NewAOTField returns a field with every pixel unset.
func NewAOTField(rows, cols int) *AOTField {
	return &AOTField{
		rows:          rows,
		cols:          cols,
		AOT:           sparse.ZerosDense(rows, cols),
		source:        make([]AOTSource, rows*cols),
		lowConfidence: make([]bool, rows*cols),
	}
}

// At returns the AOT value at (row, col).
func (f *AOTField) At(row, col int) float64 { return f.AOT.Get(row, col) }

// Source returns the provenance of the value at (row, col).
func (f *AOTField) Source(row, col int) AOTSource { return f.source[row*f.cols+col] }

// IsLowConfidence reports whether the value at (row, col) traces back only
// to low-confidence retrievals.
func (f *AOTField) IsLowConfidence(row, col int) bool { return f.lowConfidence[row*f.cols+col] }

// siteGrid buckets the sparse retrievals into coarse cells of the aerosol
// window size so the fill stage only examines retrievals near each pixel.
type siteGrid struct {
	cell       int
	crows      int
	ccols      int
	retrievals [][]Retrieval
}

func newSiteGrid(retrievals []Retrieval, rows, cols, cell int) *siteGrid {
	g := &siteGrid{
		cell:  cell,
		crows: (rows + cell - 1) / cell,
		ccols: (cols + cell - 1) / cell,
	}
	g.retrievals = make([][]Retrieval, g.crows*g.ccols)
	for _, ret := range retrievals {
		i := (ret.Row/cell)*g.ccols + ret.Col/cell
		g.retrievals[i] = append(g.retrievals[i], ret)
	}
	return g
}

// near calls visit for every retrieval within radius (in pixels, Chebyshev
// pre-filter; the caller applies the exact Euclidean test).
func (g *siteGrid) near(row, col, radius int, visit func(Retrieval)) {
	cr0 := (row - radius) / g.cell
	cr1 := (row + radius) / g.cell
	cc0 := (col - radius) / g.cell
	cc1 := (col + radius) / g.cell
	if cr0 < 0 {
		cr0 = 0
	}
	if cc0 < 0 {
		cc0 = 0
	}
	if cr1 >= g.crows {
		cr1 = g.crows - 1
	}
	if cc1 >= g.ccols {
		cc1 = g.ccols - 1
	}
	for cr := cr0; cr <= cr1; cr++ {
		for cc := cc0; cc <= cc1; cc++ {
			for _, ret := range g.retrievals[cr*g.ccols+cc] {
				visit(ret)
			}
		}
	}
}

// fillAOT densifies the sparse retrieval set into a complete per-pixel AOT
// field. Directly retrieved pixels keep their value; all other pixels are
// interpolated by inverse-distance-squared weighting over the retrievals
// within cfg.FillSearchRadius; pixels with no retrieval in reach receive
// cfg.ClimatologyAOT. The returned field has a defined value and provenance
// at every pixel.
func fillAOT(retrievals []Retrieval, rows, cols int, cfg *Config) *AOTField {
	field := NewAOTField(rows, cols)
	radius := cfg.FillSearchRadius
	r2max := float64(radius) * float64(radius)
	grid := newSiteGrid(retrievals, rows, cols, cfg.AerosolWindow)

	for _, ret := range retrievals {
		field.AOT.Set(ret.AOT, ret.Row, ret.Col)
		i := ret.Row*cols + ret.Col
		field.source[i] = AOTSourceDirect
		field.lowConfidence[i] = ret.LowConfidence
	}

	nprocs := runtime.GOMAXPROCS(0)
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			defer wg.Done()
			for row := pp; row < rows; row += nprocs {
				for col := 0; col < cols; col++ {
					i := row*cols + col
					if field.source[i] == AOTSourceDirect {
						continue
					}
					var wsum, vsum float64
					allLow := true
					found := false
					grid.near(row, col, radius, func(ret Retrieval) {
						dr := float64(ret.Row - row)
						dc := float64(ret.Col - col)
						d2 := dr*dr + dc*dc
						if d2 > r2max {
							return
						}
						w := 1 / d2
						wsum += w
						vsum += w * ret.AOT
						allLow = allLow && ret.LowConfidence
						found = true
					})
					if found {
						field.AOT.Set(vsum/wsum, row, col)
						field.source[i] = AOTSourceInterpolated
						field.lowConfidence[i] = allLow
					} else {
						field.AOT.Set(cfg.ClimatologyAOT, row, col)
						field.source[i] = AOTSourceClimatology
					}
				}
			}
		}(pp)
	}
	wg.Wait()
	return field
}
