package evaluate

import (
	"fmt"
	"math"
	"slices"

	"github.com/HatiCode/ridecast/pkg/frame"
	"github.com/HatiCode/ridecast/pkg/models"
)

// Transform maps the target into the space the predictor is fitted in and
// back. The zero value is the identity.
type Transform struct {
	Name    string
	Forward func(float64) float64
	Inverse func(float64) float64

	// Positive requires every target to be strictly positive.
	Positive bool
}

var (
	Identity = Transform{Name: "identity"}
	Log1p    = Transform{Name: "log1p", Forward: math.Log1p, Inverse: math.Expm1, Positive: true}
)

func (t Transform) forward(v float64) float64 {
	if t.Forward == nil {
		return v
	}
	return t.Forward(v)
}

func (t Transform) inverse(v float64) float64 {
	if t.Inverse == nil {
		return v
	}
	return t.Inverse(v)
}

// FeatureColumns lists the columns of t used as model inputs: everything
// except the time column, the target and the dropped columns.
func FeatureColumns(t *frame.Table, timeCol, target string, drop []string) []string {
	var out []string
	for _, name := range t.Names() {
		if name == timeCol || name == target || slices.Contains(drop, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// BuildDataset converts the feature columns of t into a model matrix.
// Categorical columns are dictionary encoded with codes assigned in sorted
// value order over all of t, so codes agree across splits.
func BuildDataset(t *frame.Table, names []string, categorical []string) (models.Dataset, error) {
	for _, c := range categorical {
		if !slices.Contains(names, c) {
			return models.Dataset{}, fmt.Errorf("categorical column %q is not a feature: %w", c, frame.ErrColumnNotFound)
		}
	}
	ds := models.Dataset{
		Names:       names,
		Categorical: make([]bool, len(names)),
		Columns:     make([][]float32, len(names)),
		Rows:        t.Len(),
	}
	for j, name := range names {
		c, err := t.Column(name)
		if err != nil {
			return models.Dataset{}, err
		}
		if slices.Contains(categorical, name) {
			ds.Categorical[j] = true
			codes, err := encodeCategorical(c)
			if err != nil {
				return models.Dataset{}, err
			}
			ds.Columns[j] = codes
			continue
		}
		if !c.IsNumeric() {
			return models.Dataset{}, fmt.Errorf("feature %q is %s; list it as categorical or drop it: %w",
				name, c.Kind(), frame.ErrColumnKind)
		}
		col := make([]float32, t.Len())
		for i := range col {
			v, ok := c.Float(i)
			if !ok {
				col[i] = float32(math.NaN())
				continue
			}
			col[i] = float32(v)
		}
		ds.Columns[j] = col
	}
	return ds, nil
}

func encodeCategorical(c *frame.Column) ([]float32, error) {
	if c.Kind() == frame.KindFloat || c.Kind() == frame.KindTime {
		return nil, fmt.Errorf("categorical column %q is %s: %w", c.Name(), c.Kind(), frame.ErrColumnKind)
	}
	idx := make([]int, 0, c.Len())
	for i := range c.Len() {
		if c.Valid(i) {
			idx = append(idx, i)
		}
	}
	slices.SortFunc(idx, c.Compare)
	codes := make(map[string]float32)
	for _, i := range idx {
		k := c.Key(i)
		if _, ok := codes[k]; !ok {
			codes[k] = float32(len(codes))
		}
	}
	out := make([]float32, c.Len())
	for i := range out {
		if !c.Valid(i) {
			out[i] = float32(math.NaN())
			continue
		}
		out[i] = codes[c.Key(i)]
	}
	return out, nil
}
