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
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cast"
)

// Config holds the scalar tunables of the correction pipeline. The zero
// value is not usable; start from DefaultConfig or LoadConfig.
type Config struct {
	// ClimatologyAOT is the fallback aerosol optical thickness substituted
	// where no retrieval is reachable, and the background value used when
	// correcting the retrieval reference band.
	ClimatologyAOT float64

	// AerosolWindow is the edge length [pixels] of the blocks from whose
	// centers aerosol retrieval is attempted. Must be odd.
	AerosolWindow int

	// FillSearchRadius is the maximum distance [pixels] over which retrieved
	// aerosol values are interpolated before falling back to climatology.
	FillSearchRadius int

	// MaxRetrievalIterations bounds the number of residual evaluations in
	// one pixel's aerosol search.
	MaxRetrievalIterations int

	// ResidualTolerance is the band-ratio residual below which the aerosol
	// search is considered converged.
	ResidualTolerance float64

	// DarkThreshold is the surface reflectance below which a corrected
	// value is considered unphysically dark during retrieval.
	DarkThreshold float64

	// MaxReferenceReflectance is the largest reference-band (SWIR2) surface
	// reflectance still accepted as a dark target.
	MaxReferenceReflectance float64

	// RegressionSlope1/Intercept1 predict the first retrieval band's (blue)
	// surface reflectance from the reference band; 2 predicts the second
	// (red). Defaults follow the dark-vegetation ratios of the dark-target
	// method; they are empirical tunables, not derivable constants.
	RegressionSlope1     float64
	RegressionIntercept1 float64
	RegressionSlope2     float64
	RegressionIntercept2 float64

	// SRMin and SRMax clamp the corrected surface reflectance.
	SRMin float64
	SRMax float64

	// FillValue is written to output rasters for excluded pixels.
	FillValue float64

	// DenominatorEpsilon is the smallest inversion denominator accepted
	// before a pixel is declared numerically unstable.
	DenominatorEpsilon float64

	// Ozone [cm-atm], WaterVapor [g/cm2] and Pressure [atm] are the
	// scene-wide gaseous column amounts for the gas-absorption correction.
	Ozone      float64
	WaterVapor float64
	Pressure   float64

	// OutputExpressions are optional named spectral-index expressions
	// evaluated over the corrected bands, e.g.
	// NDVI = "(nir - red) / (nir + red)".
	OutputExpressions map[string]string
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		ClimatologyAOT:          0.05,
		AerosolWindow:           9,
		FillSearchRadius:        45,
		MaxRetrievalIterations:  30,
		ResidualTolerance:       1e-3,
		DarkThreshold:           0.01,
		MaxReferenceReflectance: 0.25,
		RegressionSlope1:        0.25,
		RegressionIntercept1:    0,
		RegressionSlope2:        0.5,
		RegressionIntercept2:    0,
		SRMin:                   -0.01,
		SRMax:                   1.6,
		FillValue:               -9999,
		DenominatorEpsilon:      1e-6,
		Ozone:                   0.3,
		WaterVapor:              2.0,
		Pressure:                1.0,
	}
}

// LoadConfig reads a TOML configuration file over the defaults, applies
// ATMCOR_* environment overrides, and validates the result.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(filename, cfg); err != nil {
		return nil, fmt.Errorf("atmcor: reading configuration %s: %v", filename, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides numeric fields from ATMCOR_-prefixed environment
// variables, e.g. ATMCOR_CLIMATOLOGY_AOT=0.08.
func (c *Config) applyEnv() error {
	for name, dst := range map[string]*float64{
		"ATMCOR_CLIMATOLOGY_AOT":    &c.ClimatologyAOT,
		"ATMCOR_RESIDUAL_TOLERANCE": &c.ResidualTolerance,
		"ATMCOR_OZONE":              &c.Ozone,
		"ATMCOR_WATER_VAPOR":        &c.WaterVapor,
		"ATMCOR_PRESSURE":           &c.Pressure,
	} {
		s, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		v, err := cast.ToFloat64E(s)
		if err != nil {
			return fmt.Errorf("atmcor: environment variable %s: %v", name, err)
		}
		*dst = v
	}
	for name, dst := range map[string]*int{
		"ATMCOR_AEROSOL_WINDOW":     &c.AerosolWindow,
		"ATMCOR_FILL_SEARCH_RADIUS": &c.FillSearchRadius,
	} {
		s, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		v, err := cast.ToIntE(s)
		if err != nil {
			return fmt.Errorf("atmcor: environment variable %s: %v", name, err)
		}
		*dst = v
	}
	return nil
}

// Validate checks the configuration for values that would corrupt a run.
func (c *Config) Validate() error {
	switch {
	case c.AerosolWindow < 1 || c.AerosolWindow%2 == 0:
		return fmt.Errorf("atmcor: AerosolWindow must be a positive odd number; got %d",
			c.AerosolWindow)
	case c.FillSearchRadius < 1:
		return fmt.Errorf("atmcor: FillSearchRadius must be positive; got %d",
			c.FillSearchRadius)
	case c.MaxRetrievalIterations < 1:
		return fmt.Errorf("atmcor: MaxRetrievalIterations must be positive; got %d",
			c.MaxRetrievalIterations)
	case c.ClimatologyAOT < 0:
		return fmt.Errorf("atmcor: ClimatologyAOT must not be negative; got %g",
			c.ClimatologyAOT)
	case c.ResidualTolerance <= 0:
		return fmt.Errorf("atmcor: ResidualTolerance must be positive; got %g",
			c.ResidualTolerance)
	case c.SRMin >= c.SRMax:
		return fmt.Errorf("atmcor: SRMin (%g) must be below SRMax (%g)",
			c.SRMin, c.SRMax)
	case c.DenominatorEpsilon <= 0:
		return fmt.Errorf("atmcor: DenominatorEpsilon must be positive; got %g",
			c.DenominatorEpsilon)
	case c.Pressure <= 0:
		return fmt.Errorf("atmcor: Pressure must be positive; got %g", c.Pressure)
	}
	for name := range c.OutputExpressions {
		if !validOutputName(name) {
			return fmt.Errorf("atmcor: output expression name %q includes "+
				"unsupported characters", name)
		}
		if isBandName(strings.ToLower(name)) {
			return fmt.Errorf("atmcor: output expression name %q shadows a band", name)
		}
	}
	return nil
}

func (c *Config) atmosphere() Atmosphere {
	return Atmosphere{Ozone: c.Ozone, WaterVapor: c.WaterVapor, Pressure: c.Pressure}
}
