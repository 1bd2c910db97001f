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

import "math"

const deg2rad = math.Pi / 180

// Atmosphere holds the scene-wide gaseous column amounts used for the
// gas-absorption correction applied before the aerosol inversion.
type Atmosphere struct {
	// Ozone is the total column ozone [cm-atm].
	Ozone float64
	// WaterVapor is the total column precipitable water vapor [g/cm2].
	WaterVapor float64
	// Pressure is the surface pressure [atm].
	Pressure float64
}

// GasCoefficients are one band's empirical gaseous transmission
// coefficients: ozone, water vapor, and the combined remaining gases
// (O2, CO2, CH4...). The zero value is the identity: every transmittance
// evaluates to 1, so a LUT without gas coefficients corrects nothing.
type GasCoefficients struct {
	OzoneA  float64 // ozone exponent coefficient (negative)
	WaterA  float64 // water vapor coefficient a
	WaterB  float64 // water vapor exponent b
	OtherA1 float64 // other-gas pressure coefficient a1
	OtherB0 float64 // other-gas exponent coefficient b0
	OtherB1 float64 // other-gas exponent coefficient b1
}

// coefficient slice order used when serializing to the LUT file.
func (g GasCoefficients) slice() []float64 {
	return []float64{g.OzoneA, g.WaterA, g.WaterB, g.OtherA1, g.OtherB0, g.OtherB1}
}

func gasCoefficientsFromSlice(s []float64) GasCoefficients {
	var g GasCoefficients
	if len(s) == 6 {
		g.OzoneA, g.WaterA, g.WaterB = s[0], s[1], s[2]
		g.OtherA1, g.OtherB0, g.OtherB1 = s[3], s[4], s[5]
	}
	return g
}

// airMass is the two-way relative air mass for the given solar and view
// zenith angles [deg].
func airMass(solarZenith, viewZenith float64) float64 {
	return 1/math.Cos(solarZenith*deg2rad) + 1/math.Cos(viewZenith*deg2rad)
}

// Transmittance returns the total two-way gaseous transmittance
// tg = t(O3)·t(H2O)·t(other) for the given geometry and atmosphere. The
// functional forms follow the 6S gas-absorption parameterization: ozone is
// exponential in air mass times column amount, water vapor is a power law
// in air mass times column amount, and the remaining gases depend on
// surface pressure.
func (g GasCoefficients) Transmittance(solarZenith, viewZenith float64, atm Atmosphere) float64 {
	m := airMass(solarZenith, viewZenith)

	tOzone := math.Exp(g.OzoneA * m * atm.Ozone)

	tWater := 1.0
	if x := m * atm.WaterVapor; x > 1e-6 && g.WaterA != 0 {
		tWater = math.Exp(-g.WaterA * math.Pow(x, g.WaterB))
	}

	tOther := 1.0
	if g.OtherA1 != 0 {
		tOther = math.Exp(-(g.OtherA1 * atm.Pressure) *
			math.Pow(m, math.Exp(-(g.OtherB0+g.OtherB1*atm.Pressure))))
	}

	return tOzone * tWater * tOther
}
