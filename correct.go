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
	"runtime"
	"sync"

	"github.com/ctessum/sparse"
)

// invert solves the atmospheric equation for surface reflectance:
//
//	ρ_s = (ρ'_TOA − ρ_path) / (T↑·T↓ + s·(ρ'_TOA − ρ_path))
//
// where ρ'_TOA is the TOA reflectance divided by the total gaseous
// transmittance tgo. ok is false when the denominator is non-positive or
// smaller than eps; callers must then substitute a clamped value and flag
// the pixel rather than propagate the result.
func invert(toa, tgo float64, c Coeffs, eps float64) (rho float64, ok bool) {
	x := toa/tgo - c.PathReflectance
	den := c.TransUp*c.TransDown + c.SphericalAlbedo*x
	if den < eps {
		return 0, false
	}
	return x / den, true
}

// forwardTOA is the inverse of invert: it simulates the TOA reflectance
// that a surface of reflectance rho produces under the given coefficients
// and gaseous transmittance.
func forwardTOA(rho, tgo float64, c Coeffs) float64 {
	return tgo * (c.PathReflectance +
		rho*c.TransUp*c.TransDown/(1-rho*c.SphericalAlbedo))
}

// SurfaceReflectance holds the outputs of the correction stage: one
// surface-reflectance raster per band, the dense aerosol field used, and
// the consolidated per-pixel QA bits.
type SurfaceReflectance struct {
	// Bands maps each corrected band to its surface-reflectance raster.
	// Excluded pixels hold the scene fill value.
	Bands map[Band]*sparse.DenseArray

	// AOT is the dense aerosol field the correction used.
	AOT *AOTField

	// QA is the consolidated per-pixel quality bitfield.
	QA *QAMask
}

// correctScene inverts every band at every pixel. Pixels excluded by the
// classifier or saturated bypass correction and receive the fill value with
// the corresponding QA bit; everything else is corrected with the pixel's
// dense AOT and flagged for LUT clamping or numeric instability. Bands
// present in the scene but absent from the LUT store are an input-contract
// violation caught by the pipeline before this stage.
func correctScene(scene *Scene, store *LUTStore, aot *AOTField, cfg *Config) (*SurfaceReflectance, error) {
	out := &SurfaceReflectance{
		Bands: make(map[Band]*sparse.DenseArray),
		AOT:   aot,
		QA:    NewQAMask(scene.Rows, scene.Cols),
	}

	var bands []Band
	for _, b := range Bands {
		if scene.HasBand(b) {
			bands = append(bands, b)
			out.Bands[b] = sparse.ZerosDense(scene.Rows, scene.Cols)
		}
	}

	atm := cfg.atmosphere()
	nprocs := runtime.GOMAXPROCS(0)
	errs := make([]error, nprocs)
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			defer wg.Done()
			// Per-worker interpolators: their bracket caches are mutable.
			interps := make(map[Band]*Interpolator, len(bands))
			for _, b := range bands {
				t, err := store.Table(b)
				if err != nil {
					errs[pp] = err
					return
				}
				interps[b] = NewInterpolator(t)
			}
			for row := pp; row < scene.Rows; row += nprocs {
				for col := 0; col < scene.Cols; col++ {
					correctPixel(scene, interps, bands, aot, atm, cfg, out, row, col)
				}
			}
		}(pp)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// correctPixel corrects all bands at one pixel, or substitutes the fill
// value with QA bits when the pixel is excluded. Writes are confined to
// this pixel's positions; the caller partitions the grid by row so no two
// workers touch the same pixel.
func correctPixel(scene *Scene, interps map[Band]*Interpolator, bands []Band,
	aot *AOTField, atm Atmosphere, cfg *Config, out *SurfaceReflectance, row, col int) {

	class := scene.Classes.At(row, col)
	excluded := class != ClassClearLand
	saturated := scene.isSaturated(row, col)
	if excluded || saturated {
		out.QA.Or(classQA(class), row, col)
		if saturated {
			out.QA.Or(QASaturated, row, col)
		}
		out.QA.Or(QAFill, row, col)
		for _, b := range bands {
			out.Bands[b].Set(cfg.FillValue, row, col)
		}
		return
	}

	if !scene.validGeometry(row, col) {
		out.QA.Or(QAFill, row, col)
		for _, b := range bands {
			out.Bands[b].Set(cfg.FillValue, row, col)
		}
		return
	}

	out.QA.Or(aerosolSourceQA(aot.Source(row, col)), row, col)
	if aot.IsLowConfidence(row, col) {
		out.QA.Or(QALowConfidence, row, col)
	}

	g := scene.Geometry
	point := LUTPoint{
		SolarZenith: g.SolarZenith.Get(row, col),
		ViewZenith:  g.ViewZenith.Get(row, col),
		RelAzimuth:  g.RelativeAzimuth(row, col),
		AOT:         aot.At(row, col),
		Elevation:   scene.Elevation.Get(row, col),
	}

	for _, b := range bands {
		toa := scene.TOA[b].Get(row, col)
		if toa == scene.FillValue || math.IsNaN(toa) {
			out.Bands[b].Set(cfg.FillValue, row, col)
			out.QA.Or(QAFill, row, col)
			continue
		}
		in := interps[b]
		c, clamped := in.Interpolate(point)
		if clamped {
			out.QA.Or(QALUTClamped, row, col)
		}
		tgo := in.Table().Gas().Transmittance(point.SolarZenith, point.ViewZenith, atm)
		rho, ok := invert(toa, tgo, c, cfg.DenominatorEpsilon)
		if !ok {
			// Clamp by the sign of the numerator: a collapsing denominator
			// drives the inversion toward ±∞.
			clampTo := cfg.SRMax
			if toa/tgo-c.PathReflectance < 0 {
				clampTo = cfg.SRMin
			}
			out.Bands[b].Set(clampTo, row, col)
			out.QA.Or(QAUnstable, row, col)
			continue
		}
		if rho < cfg.SRMin {
			rho = cfg.SRMin
			out.QA.Or(QAUnstable, row, col)
		} else if rho > cfg.SRMax {
			rho = cfg.SRMax
			out.QA.Or(QAUnstable, row, col)
		}
		out.Bands[b].Set(rho, row, col)
	}
}
