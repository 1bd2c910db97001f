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

// Package atmcor derives surface reflectance from top-of-atmosphere
// reflectance for Landsat-class multispectral imagery. It retrieves aerosol
// optical thickness from the imagery itself using a dark-target method,
// densifies the retrieved aerosol field, and inverts the atmospheric
// radiative-transfer equation per band using precomputed look-up tables.
//
// The package boundary is purely in-memory: raster decoding, reprojection,
// and cloud detection happen upstream and supply the typed arrays consumed
// here.
package atmcor

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

// Band identifies one spectral channel of the sensor. The set follows the
// Landsat 8 OLI reflective bands.
type Band int

const (
	CoastalAerosol Band = iota // band 1, 0.43-0.45 μm
	Blue                       // band 2, 0.45-0.51 μm
	Green                      // band 3, 0.53-0.59 μm
	Red                        // band 4, 0.64-0.67 μm
	NIR                        // band 5, 0.85-0.88 μm
	SWIR1                      // band 6, 1.57-1.65 μm
	SWIR2                      // band 7, 2.11-2.29 μm
	numBands
)

// Bands lists all spectral bands in order.
var Bands = []Band{CoastalAerosol, Blue, Green, Red, NIR, SWIR1, SWIR2}

var bandNames = map[Band]string{
	CoastalAerosol: "coastal",
	Blue:           "blue",
	Green:          "green",
	Red:            "red",
	NIR:            "nir",
	SWIR1:          "swir1",
	SWIR2:          "swir2",
}

func (b Band) String() string {
	if s, ok := bandNames[b]; ok {
		return s
	}
	return fmt.Sprintf("band(%d)", int(b))
}

// bandFromName is the inverse of Band.String.
func bandFromName(name string) (Band, error) {
	for b, s := range bandNames {
		if s == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("atmcor: unknown band name %q", name)
}

// Bands used by the dark-target aerosol retrieval: SWIR2 is nearly
// insensitive to aerosol loading and anchors the surface-reflectance
// prediction for the two visible bands.
const (
	referenceBand  = SWIR2
	retrievalBand1 = Blue
	retrievalBand2 = Red
)

// Class is the per-pixel surface classification supplied by the upstream
// classifier. The zero value is Fill so that an uninitialized mask excludes
// everything.
type Class byte

const (
	ClassFill Class = iota
	ClassClearLand
	ClassWater
	ClassCloud
	ClassCloudShadow
	ClassSnow
)

func (c Class) String() string {
	switch c {
	case ClassFill:
		return "fill"
	case ClassClearLand:
		return "clear-land"
	case ClassWater:
		return "water"
	case ClassCloud:
		return "cloud"
	case ClassCloudShadow:
		return "cloud-shadow"
	case ClassSnow:
		return "snow"
	}
	return fmt.Sprintf("class(%d)", byte(c))
}

// ClassMask holds the per-pixel classification for one scene.
type ClassMask struct {
	rows, cols int
	classes    []Class
}

// NewClassMask returns a mask with every pixel set to ClassFill.
func NewClassMask(rows, cols int) *ClassMask {
	return &ClassMask{rows: rows, cols: cols, classes: make([]Class, rows*cols)}
}

// At returns the class at (row, col).
func (m *ClassMask) At(row, col int) Class { return m.classes[row*m.cols+col] }

// Set sets the class at (row, col).
func (m *ClassMask) Set(c Class, row, col int) { m.classes[row*m.cols+col] = c }

// Fill sets every pixel to c.
func (m *ClassMask) Fill(c Class) {
	for i := range m.classes {
		m.classes[i] = c
	}
}

// Mask is a per-pixel boolean raster, used for the saturation mask.
type Mask struct {
	rows, cols int
	set        []bool
}

// NewMask returns a mask with every pixel unset.
func NewMask(rows, cols int) *Mask {
	return &Mask{rows: rows, cols: cols, set: make([]bool, rows*cols)}
}

// At reports whether the pixel at (row, col) is set.
func (m *Mask) At(row, col int) bool { return m.set[row*m.cols+col] }

// Set marks the pixel at (row, col).
func (m *Mask) Set(row, col int) { m.set[row*m.cols+col] = true }

// GeometryField holds the per-pixel solar and view angles. All angles are in
// degrees; degrees are the single angular unit used throughout this package,
// matching the look-up table breakpoint grids.
type GeometryField struct {
	SolarZenith  *sparse.DenseArray
	SolarAzimuth *sparse.DenseArray
	ViewZenith   *sparse.DenseArray
	ViewAzimuth  *sparse.DenseArray
}

// RelativeAzimuth returns the azimuthal difference between sun and view
// directions at (row, col), folded into [0, 180] degrees.
func (g *GeometryField) RelativeAzimuth(row, col int) float64 {
	d := math.Abs(g.SolarAzimuth.Get(row, col) - g.ViewAzimuth.Get(row, col))
	d = math.Mod(d, 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Scene bundles the read-only inputs for one image: per-band
// top-of-atmosphere reflectance, per-pixel geometry, elevation, and the
// classification and saturation masks. All rasters share the same
// dimensions.
type Scene struct {
	Rows, Cols int

	// TOA is scaled top-of-atmosphere reflectance per band. Pixels holding
	// the fill value are invalid.
	TOA map[Band]*sparse.DenseArray

	Geometry *GeometryField

	// Elevation is surface elevation above sea level [m].
	Elevation *sparse.DenseArray

	Classes *ClassMask

	// Saturated marks radiometrically saturated pixels. May be nil when the
	// upstream classifier reports no saturation.
	Saturated *Mask

	// FillValue marks invalid samples in the TOA rasters.
	FillValue float64
}

// checkShape verifies that a raster is 2-D with the scene's dimensions.
func (s *Scene) checkShape(name string, d *sparse.DenseArray) error {
	if d == nil {
		return fmt.Errorf("atmcor: scene is missing the %s raster", name)
	}
	if len(d.Shape) != 2 {
		return fmt.Errorf("atmcor: %s raster has %d dimensions; want 2",
			name, len(d.Shape))
	}
	if d.Shape[0] != s.Rows || d.Shape[1] != s.Cols {
		return fmt.Errorf("atmcor: %s raster is %d×%d; scene is %d×%d",
			name, d.Shape[0], d.Shape[1], s.Rows, s.Cols)
	}
	return nil
}

// Validate checks the scene against the input contract: every required
// raster present and dimension-matched. A violation here indicates a broken
// upstream pipeline and is fatal to the run.
func (s *Scene) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("atmcor: invalid scene dimensions %d×%d", s.Rows, s.Cols)
	}
	if len(s.TOA) == 0 {
		return fmt.Errorf("atmcor: scene has no TOA reflectance bands")
	}
	for b, d := range s.TOA {
		if err := s.checkShape("TOA "+b.String(), d); err != nil {
			return err
		}
	}
	if s.Geometry == nil {
		return fmt.Errorf("atmcor: scene is missing the geometry field")
	}
	for name, d := range map[string]*sparse.DenseArray{
		"solar zenith":  s.Geometry.SolarZenith,
		"solar azimuth": s.Geometry.SolarAzimuth,
		"view zenith":   s.Geometry.ViewZenith,
		"view azimuth":  s.Geometry.ViewAzimuth,
	} {
		if err := s.checkShape(name, d); err != nil {
			return err
		}
	}
	if err := s.checkShape("elevation", s.Elevation); err != nil {
		return err
	}
	if s.Classes == nil {
		return fmt.Errorf("atmcor: scene is missing the classification mask")
	}
	if s.Classes.rows != s.Rows || s.Classes.cols != s.Cols {
		return fmt.Errorf("atmcor: classification mask is %d×%d; scene is %d×%d",
			s.Classes.rows, s.Classes.cols, s.Rows, s.Cols)
	}
	if s.Saturated != nil && (s.Saturated.rows != s.Rows || s.Saturated.cols != s.Cols) {
		return fmt.Errorf("atmcor: saturation mask is %d×%d; scene is %d×%d",
			s.Saturated.rows, s.Saturated.cols, s.Rows, s.Cols)
	}
	return nil
}

// HasBand reports whether the scene carries TOA reflectance for b.
func (s *Scene) HasBand(b Band) bool {
	_, ok := s.TOA[b]
	return ok
}

// isSaturated reports saturation at (row, col), tolerating a nil mask.
func (s *Scene) isSaturated(row, col int) bool {
	return s.Saturated != nil && s.Saturated.At(row, col)
}

// validTOA reports whether band b holds a usable (non-fill) sample at
// (row, col).
func (s *Scene) validTOA(b Band, row, col int) bool {
	d, ok := s.TOA[b]
	if !ok {
		return false
	}
	v := d.Get(row, col)
	return v != s.FillValue && !math.IsNaN(v)
}

// validGeometry reports whether the angles and elevation at (row, col) are
// all finite. A NaN angle poisons the gas transmittance, so such pixels are
// dropped rather than clamped.
func (s *Scene) validGeometry(row, col int) bool {
	for _, v := range []float64{
		s.Geometry.SolarZenith.Get(row, col),
		s.Geometry.ViewZenith.Get(row, col),
		s.Geometry.RelativeAzimuth(row, col),
		s.Elevation.Get(row, col),
	} {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}
