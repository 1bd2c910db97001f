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
	"math"
	"regexp"
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
)

var outputNameRE = regexp.MustCompile(`^[A-Za-z]\w*$`)

func validOutputName(name string) bool { return outputNameRE.MatchString(name) }

func isBandName(name string) bool {
	_, err := bandFromName(name)
	return err == nil
}

// defaultOutputFuncs are the helper functions available inside output
// expressions.
var defaultOutputFuncs = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: need 1 argument but have %d", len(args))
		}
		return math.Abs(args[0].(float64)), nil
	},
	"sqrt": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("sqrt: need 1 argument but have %d", len(args))
		}
		return math.Sqrt(args[0].(float64)), nil
	},
	"log": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("log: need 1 argument but have %d", len(args))
		}
		return math.Log(args[0].(float64)), nil
	},
}

// Outputter evaluates named spectral-index expressions over the corrected
// bands, producing one derived raster per expression. Expressions refer to
// bands by their lower-case names ("blue", "red", "nir", ...), e.g.
//
//	NDVI = "(nir - red) / (nir + red)"
type Outputter struct {
	names []string
	exprs map[string]*govaluate.EvaluableExpression
	bands map[string][]Band // bands referenced per expression
}

// NewOutputter parses and validates the expressions. Unknown variable names
// and malformed expressions are rejected here, before any pixel work.
func NewOutputter(expressions map[string]string) (*Outputter, error) {
	o := &Outputter{
		exprs: make(map[string]*govaluate.EvaluableExpression, len(expressions)),
		bands: make(map[string][]Band, len(expressions)),
	}
	for name, text := range expressions {
		if !validOutputName(name) {
			return nil, fmt.Errorf("atmcor: output variable name %q includes "+
				"unsupported characters", name)
		}
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(text, defaultOutputFuncs)
		if err != nil {
			return nil, fmt.Errorf("atmcor: parsing output expression %s: %v", name, err)
		}
		seen := make(map[Band]bool)
		for _, v := range expr.Vars() {
			b, err := bandFromName(v)
			if err != nil {
				return nil, fmt.Errorf("atmcor: output expression %s refers to "+
					"unknown band %q", name, v)
			}
			if !seen[b] {
				seen[b] = true
				o.bands[name] = append(o.bands[name], b)
			}
		}
		o.exprs[name] = expr
		o.names = append(o.names, name)
	}
	sort.Strings(o.names)
	return o, nil
}

// Names returns the output variable names in sorted order.
func (o *Outputter) Names() []string { return o.names }

// Evaluate computes every expression at every pixel of the corrected scene.
// A pixel where any referenced band holds the fill value receives fillValue
// in every derived raster.
func (o *Outputter) Evaluate(sr *SurfaceReflectance, fillValue float64) (map[string]*sparse.DenseArray, error) {
	if len(o.exprs) == 0 {
		return nil, nil
	}
	var rows, cols int
	for _, d := range sr.Bands {
		rows, cols = d.Shape[0], d.Shape[1]
		break
	}
	out := make(map[string]*sparse.DenseArray, len(o.exprs))
	for _, name := range o.names {
		for _, b := range o.bands[name] {
			if _, ok := sr.Bands[b]; !ok {
				return nil, fmt.Errorf("atmcor: output expression %s needs band "+
					"%s, which was not corrected", name, b)
			}
		}
		out[name] = sparse.ZerosDense(rows, cols)
	}

	params := make(map[string]interface{}, len(Bands))
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			for _, name := range o.names {
				fill := false
				for _, b := range o.bands[name] {
					v := sr.Bands[b].Get(row, col)
					if v == fillValue {
						fill = true
						break
					}
					params[b.String()] = v
				}
				if fill {
					out[name].Set(fillValue, row, col)
					continue
				}
				v, err := o.exprs[name].Evaluate(params)
				if err != nil {
					return nil, fmt.Errorf("atmcor: evaluating output expression "+
						"%s at (%d,%d): %v", name, row, col, err)
				}
				f, ok := v.(float64)
				if !ok {
					return nil, fmt.Errorf("atmcor: output expression %s does not "+
						"evaluate to a number", name)
				}
				if math.IsNaN(f) || math.IsInf(f, 0) {
					f = fillValue
				}
				out[name].Set(f, row, col)
			}
		}
	}
	return out, nil
}
