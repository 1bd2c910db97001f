/*
Copyright © 2023 the AtmCor authors.
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

	"github.com/ctessum/sparse"
)

// Dimension order of every LUT coefficient array. All 5-D indexing in this
// package goes through lutIndex so the order is fixed in one place.
const (
	dimSolarZenith = iota
	dimViewZenith
	dimRelAzimuth
	dimAOT
	dimElevation
	numLUTDims
)

var lutDimNames = [numLUTDims]string{
	"solar zenith", "view zenith", "relative azimuth", "AOT", "elevation",
}

// lutIndex is a position in the 5-D breakpoint grid.
type lutIndex [numLUTDims]int

// Coef identifies one of the four radiative-transfer coefficients stored
// per grid point.
type Coef int

const (
	PathReflectance Coef = iota // atmospheric path reflectance ρ_path
	TransUp                     // upward transmittance T↑
	TransDown                   // downward transmittance T↓
	SphericalAlbedo             // atmospheric spherical albedo s
	numCoefs
)

var coefNames = [numCoefs]string{"rhopath", "tup", "tdown", "sphalb"}

func (c Coef) String() string {
	if c >= 0 && int(c) < len(coefNames) {
		return coefNames[c]
	}
	return fmt.Sprintf("coef(%d)", int(c))
}

// LUTGrid holds the breakpoint axes shared by all bands' coefficient
// tables: solar zenith [deg], view zenith [deg], relative azimuth [deg],
// aerosol optical thickness at 550 nm [unitless], and surface elevation [m].
type LUTGrid struct {
	SolarZenith []float64
	ViewZenith  []float64
	RelAzimuth  []float64
	AOT         []float64
	Elevation   []float64
}

// NewLUTGrid validates the breakpoint axes: each must be non-empty and
// strictly increasing. A violation is fatal; it indicates a corrupt
// coefficient source.
func NewLUTGrid(solarZenith, viewZenith, relAzimuth, aot, elevation []float64) (*LUTGrid, error) {
	g := &LUTGrid{
		SolarZenith: solarZenith,
		ViewZenith:  viewZenith,
		RelAzimuth:  relAzimuth,
		AOT:         aot,
		Elevation:   elevation,
	}
	for d, axis := range g.axes() {
		if len(axis) == 0 {
			return nil, fmt.Errorf("atmcor: LUT %s axis is empty", lutDimNames[d])
		}
		for i := 1; i < len(axis); i++ {
			if axis[i] <= axis[i-1] {
				return nil, fmt.Errorf("atmcor: LUT %s axis is not strictly "+
					"increasing at index %d (%g then %g)",
					lutDimNames[d], i, axis[i-1], axis[i])
			}
		}
	}
	return g, nil
}

// axes returns the breakpoint slices in dimension order.
func (g *LUTGrid) axes() [numLUTDims][]float64 {
	return [numLUTDims][]float64{
		dimSolarZenith: g.SolarZenith,
		dimViewZenith:  g.ViewZenith,
		dimRelAzimuth:  g.RelAzimuth,
		dimAOT:         g.AOT,
		dimElevation:   g.Elevation,
	}
}

// Shape returns the coefficient array shape implied by the grid.
func (g *LUTGrid) Shape() []int {
	axes := g.axes()
	shape := make([]int, numLUTDims)
	for d, axis := range axes {
		shape[d] = len(axis)
	}
	return shape
}

// LUTTable holds one band's radiative-transfer coefficients on the shared
// breakpoint grid, plus the band's gaseous transmission coefficients.
type LUTTable struct {
	band  Band
	grid  *LUTGrid
	coefs [numCoefs]*sparse.DenseArray
	gas   GasCoefficients
}

// NewLUTTable validates that each coefficient array matches the grid shape
// exactly. The dimension order of the arrays is the package-wide LUT order;
// passing arrays built in any other order fails here rather than producing
// silently transposed interpolations.
func NewLUTTable(band Band, grid *LUTGrid, pathRefl, tUp, tDown, sphAlb *sparse.DenseArray, gas GasCoefficients) (*LUTTable, error) {
	t := &LUTTable{band: band, grid: grid, gas: gas}
	t.coefs = [numCoefs]*sparse.DenseArray{
		PathReflectance: pathRefl,
		TransUp:         tUp,
		TransDown:       tDown,
		SphericalAlbedo: sphAlb,
	}
	want := grid.Shape()
	for c, arr := range t.coefs {
		if arr == nil {
			return nil, fmt.Errorf("atmcor: band %s: missing %s coefficient array",
				band, Coef(c))
		}
		if len(arr.Shape) != numLUTDims {
			return nil, fmt.Errorf("atmcor: band %s: %s array has %d dimensions; want %d",
				band, Coef(c), len(arr.Shape), numLUTDims)
		}
		for d := 0; d < numLUTDims; d++ {
			if arr.Shape[d] != want[d] {
				return nil, fmt.Errorf("atmcor: band %s: %s array %s dimension "+
					"is %d; grid has %d breakpoints",
					band, Coef(c), lutDimNames[d], arr.Shape[d], want[d])
			}
		}
	}
	return t, nil
}

// Band returns the band this table belongs to.
func (t *LUTTable) Band() Band { return t.band }

// Grid returns the shared breakpoint grid.
func (t *LUTTable) Grid() *LUTGrid { return t.grid }

// Gas returns the band's gaseous transmission coefficients.
func (t *LUTTable) Gas() GasCoefficients { return t.gas }

// at reads one coefficient at a grid point. Bounds are enforced by the
// underlying array.
func (t *LUTTable) at(c Coef, i lutIndex) float64 {
	return t.coefs[c].Get(i[0], i[1], i[2], i[3], i[4])
}

// LUTStore is the immutable set of per-band coefficient tables for one
// sensor configuration. It is constructed once per run and shared read-only
// by all workers; it is deliberately a value passed into every stage rather
// than package state.
type LUTStore struct {
	grid   *LUTGrid
	tables map[Band]*LUTTable
}

// NewLUTStore assembles a store from tables that must all share grid.
func NewLUTStore(grid *LUTGrid, tables ...*LUTTable) (*LUTStore, error) {
	if grid == nil {
		return nil, fmt.Errorf("atmcor: nil LUT grid")
	}
	s := &LUTStore{grid: grid, tables: make(map[Band]*LUTTable, len(tables))}
	for _, t := range tables {
		if t.grid != grid {
			return nil, fmt.Errorf("atmcor: band %s table was built on a "+
				"different breakpoint grid", t.band)
		}
		if _, ok := s.tables[t.band]; ok {
			return nil, fmt.Errorf("atmcor: duplicate LUT table for band %s", t.band)
		}
		s.tables[t.band] = t
	}
	return s, nil
}

// Grid returns the shared breakpoint grid.
func (s *LUTStore) Grid() *LUTGrid { return s.grid }

// Table returns the coefficient table for band b. A missing band is an
// input-contract violation.
func (s *LUTStore) Table(b Band) (*LUTTable, error) {
	t, ok := s.tables[b]
	if !ok {
		return nil, fmt.Errorf("atmcor: no LUT table for band %s", b)
	}
	return t, nil
}

// HasBand reports whether the store holds a table for b.
func (s *LUTStore) HasBand(b Band) bool {
	_, ok := s.tables[b]
	return ok
}

// bands returns the stored bands in enumeration order.
func (s *LUTStore) bands() []Band {
	out := make([]Band, 0, len(s.tables))
	for _, b := range Bands {
		if _, ok := s.tables[b]; ok {
			out = append(out, b)
		}
	}
	return out
}
