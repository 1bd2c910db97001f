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
	"math"

	"gonum.org/v1/gonum/floats"
)

// LUTPoint is a query point in the 5-D LUT parameter space. Angles are in
// degrees, elevation in meters.
type LUTPoint struct {
	SolarZenith float64
	ViewZenith  float64
	RelAzimuth  float64
	AOT         float64
	Elevation   float64
}

func (p LUTPoint) coords() [numLUTDims]float64 {
	return [numLUTDims]float64{
		dimSolarZenith: p.SolarZenith,
		dimViewZenith:  p.ViewZenith,
		dimRelAzimuth:  p.RelAzimuth,
		dimAOT:         p.AOT,
		dimElevation:   p.Elevation,
	}
}

// Coeffs is the interpolated coefficient tuple for one pixel and band. It
// is ephemeral: produced by interpolation and consumed immediately by the
// retrieval or correction stage.
type Coeffs struct {
	PathReflectance float64
	TransUp         float64
	TransDown       float64
	SphericalAlbedo float64
}

// axisBracket locates a query value between two adjacent breakpoints of one
// axis: lo is the lower breakpoint index and frac the normalized position in
// [0,1] between breakpoints lo and lo+1. Out-of-range values clamp to the
// boundary; clamped reports whether the clamp distance was nonzero.
type axisBracket struct {
	lo      int
	frac    float64
	clamped bool
}

// bracketAxis brackets v on a strictly increasing axis. A query exactly on a
// breakpoint yields frac 0 or 1, which degenerates to nearest-neighbor on
// that axis through the general weighting formula.
func bracketAxis(axis []float64, v float64) axisBracket {
	n := len(axis)
	if math.IsNaN(v) {
		return axisBracket{lo: 0, frac: 0, clamped: true}
	}
	if n == 1 {
		return axisBracket{lo: 0, frac: 0, clamped: v != axis[0]}
	}
	if v <= axis[0] {
		return axisBracket{lo: 0, frac: 0, clamped: v < axis[0]}
	}
	if v >= axis[n-1] {
		return axisBracket{lo: n - 2, frac: 1, clamped: v > axis[n-1]}
	}
	lo := floats.Within(axis, v)
	return axisBracket{
		lo:   lo,
		frac: (v - axis[lo]) / (axis[lo+1] - axis[lo]),
	}
}

// axisCache remembers the last bracket computed for one axis so that
// consecutive pixels sharing a geometry bin skip the breakpoint search.
// This is an optimization only; results are identical with or without it.
type axisCache struct {
	value float64
	b     axisBracket
	ok    bool
}

// Interpolator evaluates one band's LUTTable at arbitrary points by
// multilinear interpolation over the 2^5 corners of the enclosing
// hyper-rectangle. It carries per-axis caches and is therefore not safe for
// concurrent use: each worker goroutine creates its own.
type Interpolator struct {
	table *LUTTable
	axes  [numLUTDims][]float64
	cache [numLUTDims]axisCache
}

// NewInterpolator returns an interpolator for t.
func NewInterpolator(t *LUTTable) *Interpolator {
	return &Interpolator{table: t, axes: t.grid.axes()}
}

// Table returns the table this interpolator reads.
func (in *Interpolator) Table() *LUTTable { return in.table }

func (in *Interpolator) bracket(d int, v float64) axisBracket {
	c := &in.cache[d]
	if c.ok && c.value == v {
		return c.b
	}
	c.value = v
	c.b = bracketAxis(in.axes[d], v)
	c.ok = true
	return c.b
}

// Interpolate returns the coefficient tuple at p. Queries outside the table
// bounds are clamped to the nearest boundary, never extrapolated; clamped
// reports whether any axis was clamped so callers can set the out-of-range
// QA bit.
func (in *Interpolator) Interpolate(p LUTPoint) (c Coeffs, clamped bool) {
	coords := p.coords()
	var brackets [numLUTDims]axisBracket
	for d := 0; d < numLUTDims; d++ {
		brackets[d] = in.bracket(d, coords[d])
		clamped = clamped || brackets[d].clamped
	}

	t := in.table
	for corner := 0; corner < 1<<numLUTDims; corner++ {
		w := 1.0
		var idx lutIndex
		for d := 0; d < numLUTDims; d++ {
			b := brackets[d]
			if corner&(1<<d) != 0 {
				w *= b.frac
				idx[d] = b.lo + 1
			} else {
				w *= 1 - b.frac
				idx[d] = b.lo
			}
		}
		if w == 0 {
			// Also keeps idx in bounds on single-breakpoint axes, where the
			// high corner does not exist but always has zero weight.
			continue
		}
		c.PathReflectance += w * t.at(PathReflectance, idx)
		c.TransUp += w * t.at(TransUp, idx)
		c.TransDown += w * t.at(TransDown, idx)
		c.SphericalAlbedo += w * t.at(SphericalAlbedo, idx)
	}
	return c, clamped
}
