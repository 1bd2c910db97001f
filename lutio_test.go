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
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/cdf"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// float32 storage rounds the coefficients.
const lutFileTolerance = 1e-6

func writeTestStore(t *testing.T, store *LUTStore) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lut.nc")
	w, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := store.Write(w); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLUTStoreRoundTrip(t *testing.T) {
	grid := testGrid(t)
	table := linearAOTTable(t, grid, Red,
		Coeffs{PathReflectance: 0.005, TransUp: 0.95, TransDown: 0.95, SphericalAlbedo: 0.04},
		Coeffs{PathReflectance: 0.08, TransUp: 0.8, TransDown: 0.8, SphericalAlbedo: 0.18},
		testGas)
	store, err := NewLUTStore(grid, table)
	if err != nil {
		t.Fatal(err)
	}
	path := writeTestStore(t, store)

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	read, err := ReadLUTStore(r)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(grid, read.Grid()); diff != "" {
		t.Errorf("breakpoint grid changed through the file (-want +have):\n%s", diff)
	}
	readTable, err := read.Table(Red)
	if err != nil {
		t.Fatal(err)
	}
	if readTable.Gas() != testGas {
		t.Errorf("gas coefficients: want %+v but have %+v", testGas, readTable.Gas())
	}
	for c := Coef(0); c < numCoefs; c++ {
		arrayCompare(readTable.coefs[c], table.coefs[c], lutFileTolerance,
			"red "+coefNames[c], t)
	}
	if bands := read.bands(); len(bands) != 1 || bands[0] != Red {
		t.Errorf("bands through the file: want [red] but have %v", bands)
	}
}

func TestLUTStoreRoundTripInterpolates(t *testing.T) {
	store, _ := testStore(t)
	path := writeTestStore(t, store)

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	read, err := ReadLUTStore(r)
	if err != nil {
		t.Fatal(err)
	}

	// Interpolations through the written-and-read store must agree with the
	// in-memory store to float32 precision.
	point := LUTPoint{SolarZenith: 25, ViewZenith: 7, RelAzimuth: 45, AOT: 0.17, Elevation: 600}
	approx := cmpopts.EquateApprox(0, lutFileTolerance)
	for _, b := range []Band{Blue, Red, SWIR2} {
		want, _ := NewInterpolator(mustTable(t, store, b)).Interpolate(point)
		have, _ := NewInterpolator(mustTable(t, read, b)).Interpolate(point)
		if diff := cmp.Diff(want, have, approx); diff != "" {
			t.Errorf("%s coefficients changed through the file (-want +have):\n%s", b, diff)
		}
	}
}

func mustTable(t *testing.T, s *LUTStore, b Band) *LUTTable {
	t.Helper()
	table, err := s.Table(b)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestReadLUTStoreRejectsBadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.nc")
	w, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	h := cdf.NewHeader([]string{"x"}, []int{1})
	h.AddAttribute("", "data_version", "0.0.1")
	h.AddVariable("x_rhopath", []string{"x"}, []float32{0})
	h.Define()
	if _, err := cdf.Create(w, h); err != nil {
		t.Fatal(err)
	}
	w.Close()

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := ReadLUTStore(r); err == nil {
		t.Error("incompatible data version was accepted")
	}
}
