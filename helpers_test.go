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
	"math"
	"reflect"
	"testing"

	"github.com/ctessum/sparse"
)

func different(a, b, tolerance float64) bool {
	if a == b {
		return false
	}
	return math.Abs(a-b) > tolerance
}

func arrayCompare(have, want *sparse.DenseArray, tolerance float64, name string, t *testing.T) {
	t.Helper()
	if !reflect.DeepEqual(want.Shape, have.Shape) {
		t.Errorf("%s: want shape %v but have shape %v", name, want.Shape, have.Shape)
		return
	}
	for i, wantv := range want.Elements {
		havev := have.Elements[i]
		if math.IsNaN(havev) || math.IsInf(havev, 0) {
			t.Errorf("%s, element %d: is %g", name, i, havev)
		}
		if different(havev, wantv, tolerance) {
			t.Errorf("%s, element %d: want %g but have %g", name, i, wantv, havev)
		}
	}
}

// testGrid returns a small but fully populated breakpoint grid.
func testGrid(t *testing.T) *LUTGrid {
	t.Helper()
	grid, err := NewLUTGrid(
		[]float64{0, 35, 70},                       // solar zenith
		[]float64{0, 10, 20},                       // view zenith
		[]float64{0, 90, 180},                      // relative azimuth
		[]float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.6},  // AOT
		[]float64{0, 1000, 2000},                   // elevation
	)
	if err != nil {
		t.Fatal(err)
	}
	return grid
}

// coeffsAt linearly blends two coefficient tuples by the position of aot
// within [axis[0], axis[len-1]].
func coeffsAt(c0, c1 Coeffs, axis []float64, aot float64) Coeffs {
	f := (aot - axis[0]) / (axis[len(axis)-1] - axis[0])
	return Coeffs{
		PathReflectance: c0.PathReflectance + f*(c1.PathReflectance-c0.PathReflectance),
		TransUp:         c0.TransUp + f*(c1.TransUp-c0.TransUp),
		TransDown:       c0.TransDown + f*(c1.TransDown-c0.TransDown),
		SphericalAlbedo: c0.SphericalAlbedo + f*(c1.SphericalAlbedo-c0.SphericalAlbedo),
	}
}

// linearAOTTable builds a table whose coefficients vary linearly in the AOT
// breakpoint value and are constant along all other dimensions, so
// multilinear interpolation reproduces coeffsAt exactly.
func linearAOTTable(t *testing.T, grid *LUTGrid, band Band, c0, c1 Coeffs, gas GasCoefficients) *LUTTable {
	t.Helper()
	shape := grid.Shape()
	arrays := make([]*sparse.DenseArray, numCoefs)
	for c := range arrays {
		arrays[c] = sparse.ZerosDense(shape...)
	}
	for i := range arrays[0].Elements {
		idx := arrays[0].IndexNd(i)
		c := coeffsAt(c0, c1, grid.AOT, grid.AOT[idx[dimAOT]])
		arrays[PathReflectance].Elements[i] = c.PathReflectance
		arrays[TransUp].Elements[i] = c.TransUp
		arrays[TransDown].Elements[i] = c.TransDown
		arrays[SphericalAlbedo].Elements[i] = c.SphericalAlbedo
	}
	table, err := NewLUTTable(band, grid, arrays[PathReflectance], arrays[TransUp],
		arrays[TransDown], arrays[SphericalAlbedo], gas)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

// uniform returns a rows×cols raster filled with v.
func uniform(rows, cols int, v float64) *sparse.DenseArray {
	d := sparse.ZerosDense(rows, cols)
	for i := range d.Elements {
		d.Elements[i] = v
	}
	return d
}

// testScene builds a clear-land scene with uniform geometry and elevation
// and the given uniform TOA reflectance per band.
func testScene(rows, cols int, toa map[Band]float64) *Scene {
	s := &Scene{
		Rows:      rows,
		Cols:      cols,
		TOA:       make(map[Band]*sparse.DenseArray),
		Elevation: uniform(rows, cols, 100),
		Geometry: &GeometryField{
			SolarZenith:  uniform(rows, cols, 30),
			SolarAzimuth: uniform(rows, cols, 120),
			ViewZenith:   uniform(rows, cols, 10),
			ViewAzimuth:  uniform(rows, cols, 60),
		},
		Classes:   NewClassMask(rows, cols),
		FillValue: -9999,
	}
	s.Classes.Fill(ClassClearLand)
	for b, v := range toa {
		s.TOA[b] = uniform(rows, cols, v)
	}
	return s
}
