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
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Retrieval is one successful sparse aerosol retrieval: the aerosol optical
// thickness at 550 nm resolved at a candidate pixel, the magnitude of the
// final model residual, and whether the result is degraded. LowConfidence
// means the search settled for the best available value instead of a true
// residual sign change, or a table look-up along the way had to clamp an
// axis.
type Retrieval struct {
	Row, Col      int
	AOT           float64
	Residual      float64
	LowConfidence bool
}

// Per-pixel retrieval failure reasons. Failures are non-fatal: the pixel is
// excluded from the sparse field and resolved by the fill stage.
var (
	errNotCandidate  = errors.New("pixel is not a retrieval candidate")
	errNotDarkTarget = errors.New("reference band is not a dark target")
	errTooDark       = errors.New("corrected reflectance below dark threshold")
	errUnstable      = errors.New("unstable atmospheric inversion")
	errNoRetrieval   = errors.New("no usable residual evaluation")
)

// aotSolution is the tagged outcome of the bounded search: a resolved AOT
// with its residual and confidence. Failure is reported through the error
// return, never through sentinel values.
type aotSolution struct {
	aot           float64
	residual      float64
	lowConfidence bool
}

// solveAOT performs the bounded 1-D search of the dark-target retrieval: march
// the LUT AOT breakpoints until the residual changes sign, then refine the
// root by secant steps between the bracketing values. Every call of
// residual counts against maxEval, so the search always terminates within a
// fixed budget. If the residual never changes sign over the axis, the AOT
// minimizing |residual| is returned with lowConfidence set.
//
// residual may return errTooDark to signal that this trial AOT overshoots
// (the corrected reflectance fell below the physical dark threshold); the
// march then backs off by halving toward the previous breakpoint, following
// the original dichotomy refinement.
func solveAOT(residual func(aot float64) (float64, error), axis []float64, maxEval int, tol float64) (aotSolution, error) {
	type point struct{ aot, res float64 }

	evals := 0
	// eval charges one residual call against the budget; ok is false once
	// the budget is exhausted.
	eval := func(a float64) (r float64, ok bool, err error) {
		if evals >= maxEval {
			return 0, false, nil
		}
		evals++
		r, err = residual(a)
		return r, true, err
	}

	var (
		prev, best  *point
		lo, hi      point
		haveBracket bool
	)

march:
	for k := 0; k < len(axis) && evals < maxEval; k++ {
		a := axis[k]
		r, ok, err := eval(a)
		if !ok {
			break
		}
		if err == errTooDark || err == errUnstable {
			if prev == nil {
				// Even the smallest AOT is unusable at this pixel.
				return aotSolution{}, err
			}
			// Back off toward the previous breakpoint.
			step := (a - prev.aot) / 2
			recovered := false
			for step > 0 && evals < maxEval {
				a = prev.aot + step
				r, ok, err = eval(a)
				if !ok {
					break
				}
				if err == nil {
					recovered = true
					break
				}
				step /= 2
			}
			if !recovered {
				// Larger AOT only darkens further; stop marching.
				break march
			}
		} else if err != nil {
			return aotSolution{}, err
		}

		pt := point{aot: a, res: r}
		if best == nil || math.Abs(r) < math.Abs(best.res) {
			b := pt
			best = &b
		}
		if prev != nil && r*prev.res <= 0 {
			lo, hi = *prev, pt
			haveBracket = true
			break
		}
		p := pt
		prev = &p
	}

	if !haveBracket {
		if best == nil {
			return aotSolution{}, errNoRetrieval
		}
		return aotSolution{aot: best.aot, residual: best.res, lowConfidence: true}, nil
	}

	// Secant refinement between the bracketing breakpoints.
	closest := lo
	if math.Abs(hi.res) < math.Abs(lo.res) {
		closest = hi
	}
	for evals < maxEval {
		if math.Abs(closest.res) <= tol {
			break
		}
		var a float64
		if hi.res == lo.res {
			a = (lo.aot + hi.aot) / 2
		} else {
			a = lo.aot - lo.res*(hi.aot-lo.aot)/(hi.res-lo.res)
		}
		if a <= math.Min(lo.aot, hi.aot) || a >= math.Max(lo.aot, hi.aot) {
			a = (lo.aot + hi.aot) / 2
		}
		r, ok, err := eval(a)
		if !ok || err != nil {
			break
		}
		pt := point{aot: a, res: r}
		if math.Abs(r) < math.Abs(closest.res) {
			closest = pt
		}
		if r*lo.res > 0 {
			lo = pt
		} else {
			hi = pt
		}
	}
	return aotSolution{aot: closest.aot, residual: closest.res}, nil
}

// retriever holds the per-worker state for aerosol retrieval: one
// interpolator per involved band, so workers never share mutable caches.
type retriever struct {
	scene *Scene
	cfg   *Config

	refIn *Interpolator // reference band (SWIR2)
	b1In  *Interpolator // first retrieval band (blue)
	b2In  *Interpolator // second retrieval band (red)
}

func newRetriever(scene *Scene, store *LUTStore, cfg *Config) (*retriever, error) {
	rt := &retriever{scene: scene, cfg: cfg}
	for _, bb := range []struct {
		b  Band
		in **Interpolator
	}{
		{referenceBand, &rt.refIn},
		{retrievalBand1, &rt.b1In},
		{retrievalBand2, &rt.b2In},
	} {
		t, err := store.Table(bb.b)
		if err != nil {
			return nil, err
		}
		*bb.in = NewInterpolator(t)
	}
	return rt, nil
}

// correct inverts one band's TOA reflectance at (row, col) for a trial AOT,
// without clamping: retrieval needs the raw value to judge darkness. The
// boolean reports whether the look-up clamped any table axis.
func (rt *retriever) correct(in *Interpolator, row, col int, aot float64) (float64, bool, error) {
	s := rt.scene
	g := s.Geometry
	sz := g.SolarZenith.Get(row, col)
	vz := g.ViewZenith.Get(row, col)
	c, clamped := in.Interpolate(LUTPoint{
		SolarZenith: sz,
		ViewZenith:  vz,
		RelAzimuth:  g.RelativeAzimuth(row, col),
		AOT:         aot,
		Elevation:   s.Elevation.Get(row, col),
	})
	tgo := in.Table().Gas().Transmittance(sz, vz, rt.cfg.atmosphere())
	rho, ok := invert(s.TOA[in.Table().Band()].Get(row, col), tgo, c, rt.cfg.DenominatorEpsilon)
	if !ok {
		return 0, clamped, errUnstable
	}
	return rho, clamped, nil
}

// retrievePixel runs the dark-target retrieval at one candidate pixel. The
// reference (SWIR2) surface reflectance is nearly aerosol-independent; the
// empirical regression predicts the visible-band surface reflectances from
// it, and the search finds the AOT that makes the corrected red/blue ratio
// match the predicted one.
func (rt *retriever) retrievePixel(row, col int) (Retrieval, error) {
	cfg := rt.cfg

	ref, clamped, err := rt.correct(rt.refIn, row, col, cfg.ClimatologyAOT)
	if err != nil {
		return Retrieval{}, err
	}
	if ref <= cfg.DarkThreshold || ref > cfg.MaxReferenceReflectance {
		return Retrieval{}, errNotDarkTarget
	}

	pred1 := cfg.RegressionSlope1*ref + cfg.RegressionIntercept1
	pred2 := cfg.RegressionSlope2*ref + cfg.RegressionIntercept2
	if pred1 <= cfg.DarkThreshold {
		return Retrieval{}, errNotDarkTarget
	}
	target := pred2 / pred1

	residual := func(aot float64) (float64, error) {
		r1, c1, err := rt.correct(rt.b1In, row, col, aot)
		if err != nil {
			return 0, err
		}
		r2, c2, err := rt.correct(rt.b2In, row, col, aot)
		if err != nil {
			return 0, err
		}
		clamped = clamped || c1 || c2
		if r1 < cfg.DarkThreshold || r2 < cfg.DarkThreshold {
			return 0, errTooDark
		}
		return r2/r1 - target, nil
	}

	sol, err := solveAOT(residual, rt.refIn.Table().Grid().AOT,
		cfg.MaxRetrievalIterations, cfg.ResidualTolerance)
	if err != nil {
		return Retrieval{}, err
	}
	return Retrieval{
		Row:      row,
		Col:      col,
		AOT:      sol.aot,
		Residual: math.Abs(sol.residual),
		// Clamped table look-ups degrade the retrieval the same way a failed
		// bracket does; the fill stage spreads the flag to its consumers.
		LowConfidence: sol.lowConfidence || clamped,
	}, nil
}

// candidate reports whether the pixel at (row, col) qualifies for direct
// retrieval: clear land, unsaturated, with finite geometry and valid TOA
// samples in the reference and both retrieval bands.
func (s *Scene) candidate(row, col int) bool {
	if s.Classes.At(row, col) != ClassClearLand || s.isSaturated(row, col) {
		return false
	}
	if !s.validGeometry(row, col) {
		return false
	}
	for _, b := range []Band{referenceBand, retrievalBand1, retrievalBand2} {
		if !s.validTOA(b, row, col) {
			return false
		}
	}
	return true
}

// pixel is a (row, col) position in the scene grid.
type pixel struct{ row, col int }

// retrievalSites returns the retrieval candidate pixels: within each full
// window×window block, the center pixel if it qualifies, otherwise the
// first qualifying pixel in the block. Blocks truncated by the image edge
// produce no candidate; edge pixels are resolved by the fill stage instead
// of being guessed from partial windows.
func retrievalSites(s *Scene, window int) []pixel {
	var sites []pixel
	half := window / 2
	for r0 := 0; r0+window <= s.Rows; r0 += window {
		for c0 := 0; c0+window <= s.Cols; c0 += window {
			cr, cc := r0+half, c0+half
			if s.candidate(cr, cc) {
				sites = append(sites, pixel{cr, cc})
				continue
			}
			found := false
			for r := r0; r < r0+window && !found; r++ {
				for c := c0; c < c0+window && !found; c++ {
					if s.candidate(r, c) {
						sites = append(sites, pixel{r, c})
						found = true
					}
				}
			}
		}
	}
	return sites
}

// retrieveScene runs the retrieval over all candidate sites in parallel and
// returns the sparse AOT field. Per-pixel failures are counted but not
// fatal.
func retrieveScene(scene *Scene, store *LUTStore, cfg *Config) ([]Retrieval, map[string]int, error) {
	sites := retrievalSites(scene, cfg.AerosolWindow)
	if len(sites) == 0 {
		return nil, nil, nil
	}

	nprocs := runtime.GOMAXPROCS(0)
	results := make([][]Retrieval, nprocs)
	failures := make([]map[string]int, nprocs)
	errs := make([]error, nprocs)

	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			defer wg.Done()
			rt, err := newRetriever(scene, store, cfg)
			if err != nil {
				errs[pp] = err
				return
			}
			fails := make(map[string]int)
			for ii := pp; ii < len(sites); ii += nprocs {
				site := sites[ii]
				ret, err := rt.retrievePixel(site.row, site.col)
				if err != nil {
					fails[err.Error()]++
					continue
				}
				results[pp] = append(results[pp], ret)
			}
			failures[pp] = fails
		}(pp)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, fmt.Errorf("atmcor: aerosol retrieval: %w", err)
		}
	}
	var out []Retrieval
	fails := make(map[string]int)
	for pp := 0; pp < nprocs; pp++ {
		out = append(out, results[pp]...)
		for reason, n := range failures[pp] {
			fails[reason] += n
		}
	}
	return out, fails, nil
}
