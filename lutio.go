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
	"os"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// LUTDataVersion is the version of the LUT coefficient file format. It
// must match the data_version attribute of any file being read.
const LUTDataVersion = "1.0.0"

var lutFileDims = []string{"solar_zenith", "view_zenith", "rel_azimuth", "aot", "elevation"}

// ReadLUTStore loads a LUT coefficient store from a NetCDF file. The file
// carries the breakpoint axes and data version as global attributes, the
// per-band gas coefficients as "<band>_gas" attributes, and one float32
// variable per band and coefficient named "<band>_<coef>".
func ReadLUTStore(rw cdf.ReaderWriterAt) (*LUTStore, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("atmcor: opening LUT file: %v", err)
	}

	version, ok := f.Header.GetAttribute("", "data_version").(string)
	if !ok || version != LUTDataVersion {
		return nil, fmt.Errorf("atmcor: LUT data version %q is incompatible "+
			"with the required version %q", version, LUTDataVersion)
	}

	axes := make([][]float64, len(lutFileDims))
	for d, name := range lutFileDims {
		axis, ok := f.Header.GetAttribute("", name).([]float64)
		if !ok {
			return nil, fmt.Errorf("atmcor: LUT file is missing the %s breakpoint attribute", name)
		}
		axes[d] = axis
	}
	grid, err := NewLUTGrid(axes[dimSolarZenith], axes[dimViewZenith],
		axes[dimRelAzimuth], axes[dimAOT], axes[dimElevation])
	if err != nil {
		return nil, err
	}

	// Collect the per-band coefficient arrays.
	arrays := make(map[Band][numCoefs]*sparse.DenseArray)
	for _, v := range f.Header.Variables() {
		i := strings.LastIndex(v, "_")
		if i < 0 {
			return nil, fmt.Errorf("atmcor: unexpected LUT variable %q", v)
		}
		band, err := bandFromName(v[:i])
		if err != nil {
			return nil, fmt.Errorf("atmcor: LUT variable %q: %v", v, err)
		}
		var coef Coef = -1
		for c, name := range coefNames {
			if name == v[i+1:] {
				coef = Coef(c)
			}
		}
		if coef < 0 {
			return nil, fmt.Errorf("atmcor: LUT variable %q has an unknown coefficient suffix", v)
		}

		dims := f.Header.Lengths(v)
		r := f.Reader(v, nil, nil)
		buf := r.Zero(-1)
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("atmcor: reading LUT variable %q: %v", v, err)
		}
		dat, ok := buf.([]float32)
		if !ok {
			return nil, fmt.Errorf("atmcor: LUT variable %q is not float32", v)
		}
		data := sparse.ZerosDense(dims...)
		for i, val := range dat {
			data.Elements[i] = float64(val)
		}
		set := arrays[band]
		set[coef] = data
		arrays[band] = set
	}

	var tables []*LUTTable
	for _, b := range Bands {
		set, ok := arrays[b]
		if !ok {
			continue
		}
		var gas GasCoefficients
		if gc, ok := f.Header.GetAttribute("", b.String()+"_gas").([]float64); ok {
			gas = gasCoefficientsFromSlice(gc)
		}
		t, err := NewLUTTable(b, grid, set[PathReflectance], set[TransUp],
			set[TransDown], set[SphericalAlbedo], gas)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("atmcor: LUT file holds no band tables")
	}
	return NewLUTStore(grid, tables...)
}

// Write writes the store to a NetCDF file in the format ReadLUTStore reads.
func (s *LUTStore) Write(w *os.File) error {
	shape := s.grid.Shape()
	h := cdf.NewHeader(lutFileDims, shape)
	h.AddAttribute("", "comment", "AtmCor radiative-transfer coefficient tables")
	h.AddAttribute("", "data_version", LUTDataVersion)
	axes := s.grid.axes()
	for d, name := range lutFileDims {
		h.AddAttribute("", name, axes[d])
	}

	bands := s.bands()
	var names []string
	byName := make(map[string]*sparse.DenseArray)
	for _, b := range bands {
		t := s.tables[b]
		h.AddAttribute("", b.String()+"_gas", t.gas.slice())
		for c, arr := range t.coefs {
			name := b.String() + "_" + coefNames[c]
			names = append(names, name)
			byName[name] = arr
		}
	}
	sort.Strings(names)
	for _, name := range names {
		h.AddVariable(name, lutFileDims, []float32{0})
	}
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("atmcor: creating LUT file: %v", err)
	}
	for _, name := range names {
		arr := byName[name]
		data32 := make([]float32, len(arr.Elements))
		for i, v := range arr.Elements {
			data32[i] = float32(v)
		}
		end := f.Header.Lengths(name)
		start := make([]int, len(end))
		if _, err := f.Writer(name, start, end).Write(data32); err != nil {
			return fmt.Errorf("atmcor: writing LUT variable %s: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}
