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
	"fmt"
	"sort"
	"time"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

var log = logrus.StandardLogger()

// SetLogger replaces the logger used by the pipeline. The default is the
// logrus standard logger.
func SetLogger(l *logrus.Logger) { log = l }

// Result holds everything the pipeline produces for one scene.
type Result struct {
	*SurfaceReflectance

	// Retrievals is the sparse set of direct aerosol retrievals, before
	// densification.
	Retrievals []Retrieval

	// Derived holds the configured spectral-index rasters, if any.
	Derived map[string]*sparse.DenseArray
}

// Pipeline runs the staged atmospheric correction: aerosol retrieval over
// the whole scene, a barrier, aerosol fill, a barrier, then per-band
// correction. The LUT store is shared read-only across all stages and
// workers.
type Pipeline struct {
	cfg   *Config
	store *LUTStore
	out   *Outputter
}

// NewPipeline validates the configuration and prepares the pipeline.
func NewPipeline(cfg *Config, store *LUTStore) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("atmcor: nil LUT store")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out, err := NewOutputter(cfg.OutputExpressions)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, store: store, out: out}, nil
}

// checkScene verifies the cross-input contract beyond Scene.Validate:
// every scene band needs a LUT table, and the retrieval bands must be
// present in both the scene and the store.
func (p *Pipeline) checkScene(scene *Scene) error {
	if err := scene.Validate(); err != nil {
		return err
	}
	for _, b := range Bands {
		if scene.HasBand(b) && !p.store.HasBand(b) {
			return fmt.Errorf("atmcor: scene carries band %s but the LUT store has no table for it", b)
		}
	}
	for _, b := range []Band{referenceBand, retrievalBand1, retrievalBand2} {
		if !scene.HasBand(b) {
			return fmt.Errorf("atmcor: aerosol retrieval requires band %s, "+
				"which is missing from the scene", b)
		}
	}
	return nil
}

// Run corrects one scene. Fatal errors come only from input-contract
// violations; per-pixel failures degrade to QA flags.
func (p *Pipeline) Run(scene *Scene) (*Result, error) {
	if err := p.checkScene(scene); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"rows":  scene.Rows,
		"cols":  scene.Cols,
		"bands": len(scene.TOA),
	}).Info("starting atmospheric correction")

	// Stage 1: sparse aerosol retrieval. Must complete for the whole scene
	// before fill, since fill reads retrievals from neighboring windows.
	start := time.Now()
	retrievals, failures, err := retrieveScene(scene, p.store, p.cfg)
	if err != nil {
		return nil, err
	}
	logRetrievals(retrievals, failures, time.Since(start))

	// Stage 2: densify the aerosol field.
	start = time.Now()
	field := fillAOT(retrievals, scene.Rows, scene.Cols, p.cfg)
	logAOTField(field, time.Since(start))

	// Stage 3: per-band correction.
	start = time.Now()
	sr, err := correctScene(scene, p.store, field, p.cfg)
	if err != nil {
		return nil, err
	}
	log.WithField("elapsed", time.Since(start)).Info("correction finished")

	derived, err := p.out.Evaluate(sr, p.cfg.FillValue)
	if err != nil {
		return nil, err
	}

	return &Result{
		SurfaceReflectance: sr,
		Retrievals:         retrievals,
		Derived:            derived,
	}, nil
}

func logRetrievals(retrievals []Retrieval, failures map[string]int, elapsed time.Duration) {
	var residuals, lowConfidence stats.Stats
	for _, r := range retrievals {
		residuals.Update(r.Residual)
		if r.LowConfidence {
			lowConfidence.Update(1)
		}
	}
	f := logrus.Fields{
		"retrieved":     len(retrievals),
		"lowConfidence": lowConfidence.Count(),
		"elapsed":       elapsed,
	}
	if residuals.Count() > 0 {
		f["residualMean"] = residuals.Mean()
		f["residualMax"] = residuals.Max()
	}
	log.WithFields(f).Info("aerosol retrieval finished")
	for reason, n := range failures {
		log.WithFields(logrus.Fields{"reason": reason, "pixels": n}).
			Debug("aerosol retrieval failures")
	}
}

func logAOTField(field *AOTField, elapsed time.Duration) {
	counts := make(map[AOTSource]int)
	for _, s := range field.source {
		counts[s]++
	}
	values := append([]float64(nil), field.AOT.Elements...)
	sort.Float64s(values)
	log.WithFields(logrus.Fields{
		"direct":       counts[AOTSourceDirect],
		"interpolated": counts[AOTSourceInterpolated],
		"climatology":  counts[AOTSourceClimatology],
		"mean":         stat.Mean(values, nil),
		"median":       stat.Quantile(0.5, stat.Empirical, values, nil),
		"elapsed":      elapsed,
	}).Info("aerosol fill finished")
}
