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
	"testing"
)

var testAOTAxis = []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.6}

func TestSolveAOTConverges(t *testing.T) {
	const root = 0.17
	evals := 0
	residual := func(aot float64) (float64, error) {
		evals++
		return aot - root, nil
	}
	sol, err := solveAOT(residual, testAOTAxis, 30, 1e-6)
	if err != nil {
		t.Fatal(err)
	}
	if different(sol.aot, root, 1e-4) {
		t.Errorf("root: want %g but have %g", root, sol.aot)
	}
	if sol.lowConfidence {
		t.Error("bracketed root marked low confidence")
	}
	if evals > 30 {
		t.Errorf("search used %d evaluations; budget is 30", evals)
	}
}

func TestSolveAOTNoSignChange(t *testing.T) {
	// Residual is positive over the whole range with its minimum at the
	// largest AOT: the search must settle for the best value and mark it.
	residual := func(aot float64) (float64, error) {
		return 1 - aot, nil
	}
	sol, err := solveAOT(residual, testAOTAxis, 30, 1e-6)
	if err != nil {
		t.Fatal(err)
	}
	if !sol.lowConfidence {
		t.Error("no-sign-change result not marked low confidence")
	}
	last := testAOTAxis[len(testAOTAxis)-1]
	if sol.aot != last {
		t.Errorf("best AOT: want %g but have %g", last, sol.aot)
	}
}

func TestSolveAOTBudget(t *testing.T) {
	const budget = 12
	evals := 0
	// A discontinuous residual that brackets but never meets the
	// tolerance: the refinement must stop at the budget.
	residual := func(aot float64) (float64, error) {
		evals++
		if aot < 0.15 {
			return 1, nil
		}
		return -1, nil
	}
	sol, err := solveAOT(residual, testAOTAxis, budget, 1e-9)
	if err != nil {
		t.Fatal(err)
	}
	if evals > budget {
		t.Errorf("search used %d evaluations; budget is %d", evals, budget)
	}
	if sol.aot < testAOTAxis[0] || sol.aot > testAOTAxis[len(testAOTAxis)-1] {
		t.Errorf("resolved AOT %g outside the search range", sol.aot)
	}
}

func TestSolveAOTAllDark(t *testing.T) {
	residual := func(aot float64) (float64, error) {
		return 0, errTooDark
	}
	if _, err := solveAOT(residual, testAOTAxis, 30, 1e-6); err != errTooDark {
		t.Errorf("want errTooDark but have %v", err)
	}
}

func TestSolveAOTDarkBackoff(t *testing.T) {
	// Usable at small AOT, too dark beyond 0.12: the march must back off
	// and still report the best value it saw instead of failing.
	residual := func(aot float64) (float64, error) {
		if aot > 0.12 {
			return 0, errTooDark
		}
		return 0.5 - aot, nil
	}
	sol, err := solveAOT(residual, testAOTAxis, 30, 1e-6)
	if err != nil {
		t.Fatal(err)
	}
	if !sol.lowConfidence {
		t.Error("unbracketed result not marked low confidence")
	}
	if sol.aot > 0.12 {
		t.Errorf("resolved AOT %g is in the too-dark region", sol.aot)
	}
}

// retrievalScene builds a scene whose TOA reflectances are forward-computed
// from known surface reflectances at the given true AOT, so the retrieval
// has an exact answer to find.
func retrievalScene(t *testing.T, store *LUTStore, rows, cols int, trueAOT, refSurface float64, cfg *Config) *Scene {
	t.Helper()
	scene := testScene(rows, cols, nil)

	surface := map[Band]float64{
		SWIR2: refSurface,
		Blue:  cfg.RegressionSlope1*refSurface + cfg.RegressionIntercept1,
		Red:   cfg.RegressionSlope2*refSurface + cfg.RegressionIntercept2,
	}
	for b, rho := range surface {
		table, err := store.Table(b)
		if err != nil {
			t.Fatal(err)
		}
		in := NewInterpolator(table)
		c, _ := in.Interpolate(LUTPoint{
			SolarZenith: 30, ViewZenith: 10, RelAzimuth: 60,
			AOT: trueAOT, Elevation: 100,
		})
		scene.TOA[b] = uniform(rows, cols, forwardTOA(rho, 1, c))
	}
	return scene
}

func TestRetrievePixel(t *testing.T) {
	store, _ := testStore(t)
	cfg := DefaultConfig()
	const trueAOT = 0.15
	scene := retrievalScene(t, store, 3, 3, trueAOT, 0.1, cfg)

	rt, err := newRetriever(scene, store, cfg)
	if err != nil {
		t.Fatal(err)
	}
	ret, err := rt.retrievePixel(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if different(ret.AOT, trueAOT, 0.01) {
		t.Errorf("AOT: want %g but have %g (residual %g)", trueAOT, ret.AOT, ret.Residual)
	}
	if ret.LowConfidence {
		t.Error("well-posed retrieval marked low confidence")
	}
}

// TestRetrievePixelClampedLowConfidence checks that a retrieval whose table
// look-ups clamp an axis is flagged low confidence even when the search
// itself converges.
func TestRetrievePixelClampedLowConfidence(t *testing.T) {
	store, grid := testStore(t)
	cfg := DefaultConfig()
	const trueAOT = 0.15
	scene := retrievalScene(t, store, 3, 3, trueAOT, 0.1, cfg)
	// Move the pixel above the elevation axis: the tables are constant along
	// elevation, so the search still converges, but every look-up clamps.
	scene.Elevation = uniform(3, 3, grid.Elevation[len(grid.Elevation)-1]+1000)

	rt, err := newRetriever(scene, store, cfg)
	if err != nil {
		t.Fatal(err)
	}
	ret, err := rt.retrievePixel(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if different(ret.AOT, trueAOT, 0.01) {
		t.Errorf("AOT: want %g but have %g (residual %g)", trueAOT, ret.AOT, ret.Residual)
	}
	if !ret.LowConfidence {
		t.Error("retrieval with clamped table look-ups not marked low confidence")
	}
}

func TestRetrievePixelRejectsBrightTarget(t *testing.T) {
	store, _ := testStore(t)
	cfg := DefaultConfig()
	// Reference surface reflectance above the dark-target limit.
	scene := retrievalScene(t, store, 1, 1, 0.15, cfg.MaxReferenceReflectance+0.1, cfg)

	rt, err := newRetriever(scene, store, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.retrievePixel(0, 0); err != errNotDarkTarget {
		t.Errorf("want errNotDarkTarget but have %v", err)
	}
}

func TestRetrievalSites(t *testing.T) {
	scene := testScene(9, 9, map[Band]float64{Blue: 0.1, Red: 0.1, SWIR2: 0.1})
	sites := retrievalSites(scene, 3)
	if len(sites) != 9 {
		t.Fatalf("have %d sites; want 9", len(sites))
	}
	// All-clear blocks use their centers.
	if sites[0] != (pixel{1, 1}) {
		t.Errorf("first site is %+v; want the block center {1 1}", sites[0])
	}

	// A cloudy center falls back to another pixel in the block; a fully
	// cloudy block produces no site.
	scene.Classes.Set(ClassCloud, 1, 1)
	for r := 3; r < 6; r++ {
		for c := 3; c < 6; c++ {
			scene.Classes.Set(ClassCloud, r, c)
		}
	}
	sites = retrievalSites(scene, 3)
	if len(sites) != 8 {
		t.Fatalf("have %d sites; want 8", len(sites))
	}
	if sites[0] == (pixel{1, 1}) {
		t.Error("cloudy center was kept as a site")
	}
	for _, s := range sites {
		if s.row >= 3 && s.row < 6 && s.col >= 3 && s.col < 6 {
			t.Errorf("site %+v inside the fully cloudy block", s)
		}
	}

	// Blocks truncated by the image edge produce no candidate.
	narrow := testScene(4, 9, map[Band]float64{Blue: 0.1, Red: 0.1, SWIR2: 0.1})
	sites = retrievalSites(narrow, 3)
	if len(sites) != 3 {
		t.Fatalf("truncated scene: have %d sites; want 3", len(sites))
	}
}

func TestRetrieveSceneParallel(t *testing.T) {
	store, _ := testStore(t)
	cfg := DefaultConfig()
	cfg.AerosolWindow = 3
	const trueAOT = 0.2
	scene := retrievalScene(t, store, 9, 9, trueAOT, 0.1, cfg)
	// One cloudy block: its site disappears but the run continues.
	for r := 3; r < 6; r++ {
		for c := 3; c < 6; c++ {
			scene.Classes.Set(ClassCloud, r, c)
		}
	}

	retrievals, _, err := retrieveScene(scene, store, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(retrievals) != 8 {
		t.Fatalf("have %d retrievals; want 8", len(retrievals))
	}
	for _, ret := range retrievals {
		if math.Abs(ret.AOT-trueAOT) > 0.01 {
			t.Errorf("site (%d,%d): AOT %g; want %g", ret.Row, ret.Col, ret.AOT, trueAOT)
		}
	}
}
