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

// QA is the per-pixel quality bitfield produced by the correction stage. It
// merges the aerosol provenance from retrieval and fill with the
// correction-stage conditions.
type QA uint16

const (
	// QAFill marks pixels that received the fill value instead of a
	// corrected reflectance.
	QAFill QA = 1 << iota
	// QACloud, QACloudShadow, QAWater and QASnow record the classifier
	// exclusion that bypassed correction.
	QACloud
	QACloudShadow
	QAWater
	QASnow
	// QASaturated marks radiometrically saturated input pixels.
	QASaturated
	// QAAerosolDirect, QAAerosolInterp and QAAerosolClimatology record the
	// provenance of the pixel's aerosol optical thickness; exactly one is
	// set on every corrected pixel.
	QAAerosolDirect
	QAAerosolInterp
	QAAerosolClimatology
	// QALowConfidence marks pixels whose aerosol value came from a degraded
	// retrieval: the search found no residual sign change, or a table
	// look-up during the retrieval clamped an axis.
	QALowConfidence
	// QALUTClamped marks pixels whose look-up table query fell outside the
	// table bounds in at least one dimension and was clamped.
	QALUTClamped
	// QAUnstable marks pixels where the atmospheric inversion hit a
	// near-zero denominator or produced an out-of-range reflectance and
	// was clamped.
	QAUnstable
)

// aerosolSourceQA maps an AOTSource to its provenance bit.
func aerosolSourceQA(src AOTSource) QA {
	switch src {
	case AOTSourceDirect:
		return QAAerosolDirect
	case AOTSourceInterpolated:
		return QAAerosolInterp
	case AOTSourceClimatology:
		return QAAerosolClimatology
	}
	return 0
}

// classQA maps a classifier exclusion to its QA bit; clear land maps to 0.
func classQA(c Class) QA {
	switch c {
	case ClassFill:
		return QAFill
	case ClassWater:
		return QAWater
	case ClassCloud:
		return QACloud
	case ClassCloudShadow:
		return QACloudShadow
	case ClassSnow:
		return QASnow
	}
	return 0
}

// QAMask holds the per-pixel QA bitfield raster.
type QAMask struct {
	rows, cols int
	bits       []QA
}

// NewQAMask returns a QA raster with no bits set.
func NewQAMask(rows, cols int) *QAMask {
	return &QAMask{rows: rows, cols: cols, bits: make([]QA, rows*cols)}
}

// At returns the QA bits at (row, col).
func (m *QAMask) At(row, col int) QA { return m.bits[row*m.cols+col] }

// Or merges bits into the QA value at (row, col).
func (m *QAMask) Or(q QA, row, col int) { m.bits[row*m.cols+col] |= q }
