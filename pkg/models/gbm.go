package models

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Objectives supported by GBM.
const (
	ObjectiveSquaredError  = "squared_error"
	ObjectiveAbsoluteError = "absolute_error"
)

// GBMConfig holds the boosting hyperparameters. Names follow the usual
// gradient boosting vocabulary.
type GBMConfig struct {
	NEstimators     int
	LearningRate    float64
	MaxDepth        int
	Subsample       float64
	ColsampleByTree float64
	MinChildWeight  float64
	Gamma           float64
	Lambda          float64
	Objective       string
	MaxBins         int
	Seed            uint64
}

// DefaultGBMConfig returns the settings used for ridership forecasting.
func DefaultGBMConfig() GBMConfig {
	return GBMConfig{
		NEstimators:     300,
		LearningRate:    0.02,
		MaxDepth:        5,
		Subsample:       0.8,
		ColsampleByTree: 0.8,
		MinChildWeight:  10,
		Gamma:           3,
		Lambda:          1,
		Objective:       ObjectiveAbsoluteError,
		MaxBins:         64,
		Seed:            42,
	}
}

// GBMConfigFromParams overlays p on DefaultGBMConfig.
func GBMConfigFromParams(p Params) (GBMConfig, error) {
	cfg := DefaultGBMConfig()
	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"n_estimators", &cfg.NEstimators},
		{"max_depth", &cfg.MaxDepth},
		{"max_bin", &cfg.MaxBins},
	}
	for _, f := range ints {
		if *f.dst, err = p.Int(f.key, *f.dst); err != nil {
			return cfg, err
		}
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"learning_rate", &cfg.LearningRate},
		{"subsample", &cfg.Subsample},
		{"colsample_bytree", &cfg.ColsampleByTree},
		{"min_child_weight", &cfg.MinChildWeight},
		{"gamma", &cfg.Gamma},
		{"reg_lambda", &cfg.Lambda},
	}
	for _, f := range floats {
		if *f.dst, err = p.Float(f.key, *f.dst); err != nil {
			return cfg, err
		}
	}
	seed, err := p.Int("random_state", int(cfg.Seed))
	if err != nil {
		return cfg, err
	}
	cfg.Seed = uint64(seed)
	if cfg.Objective, err = p.String("objective", cfg.Objective); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c GBMConfig) Validate() error {
	switch {
	case c.NEstimators < 1:
		return fmt.Errorf("gbm: n_estimators must be positive, got %d", c.NEstimators)
	case c.MaxDepth < 1:
		return fmt.Errorf("gbm: max_depth must be positive, got %d", c.MaxDepth)
	case c.LearningRate <= 0:
		return fmt.Errorf("gbm: learning_rate must be positive, got %v", c.LearningRate)
	case c.Subsample <= 0 || c.Subsample > 1:
		return fmt.Errorf("gbm: subsample must be in (0, 1], got %v", c.Subsample)
	case c.ColsampleByTree <= 0 || c.ColsampleByTree > 1:
		return fmt.Errorf("gbm: colsample_bytree must be in (0, 1], got %v", c.ColsampleByTree)
	case c.MinChildWeight < 0 || c.Gamma < 0 || c.Lambda < 0:
		return fmt.Errorf("gbm: min_child_weight, gamma and reg_lambda must be non-negative")
	case c.MaxBins < 2 || c.MaxBins > maxBinLimit:
		return fmt.Errorf("gbm: max_bin must be in [2, %d], got %d", maxBinLimit, c.MaxBins)
	}
	switch c.Objective {
	case ObjectiveSquaredError, ObjectiveAbsoluteError:
	default:
		return fmt.Errorf("gbm: unknown objective %q", c.Objective)
	}
	return nil
}

// GBM is a gradient boosted ensemble of regression trees grown depth-wise
// on quantile-binned features. Missing values follow a learned default
// direction at every split. Categorical codes are split as ordinals.
type GBM struct {
	cfg   GBMConfig
	base  float64
	trees []tree
	edges [][]float32
	names []string
}

func NewGBM(cfg GBMConfig) *GBM {
	return &GBM{cfg: cfg}
}

func (m *GBM) Name() string { return "gbm" }

// Trees returns the number of fitted trees.
func (m *GBM) Trees() int { return len(m.trees) }

// Fit trains the ensemble. With the absolute error objective leaves hold the
// weighted median residual of their rows, scaled by the learning rate.
func (m *GBM) Fit(ctx context.Context, X Dataset, y, w []float64) error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}
	if err := checkFit(X, y, w); err != nil {
		return fmt.Errorf("gbm: %w", err)
	}
	n := X.Rows
	if w == nil {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1
		}
	}

	m.names = X.Names
	m.edges = makeEdges(X, m.cfg.MaxBins)
	bins := binColumns(X, m.edges)
	m.base = m.baseScore(y, w)
	m.trees = m.trees[:0]

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = m.base
	}
	g := make([]float64, n)
	h := make([]float64, n)
	resid := make([]float64, n)
	rng := rand.New(rand.NewPCG(m.cfg.Seed, m.cfg.Seed^0x9e3779b97f4a7c15))
	nfeat := len(X.Columns)
	ncols := max(1, int(math.Round(m.cfg.ColsampleByTree*float64(nfeat))))

	for round := range m.cfg.NEstimators {
		if round%10 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for i := range n {
			d := pred[i] - y[i]
			resid[i] = -d
			if m.cfg.Objective == ObjectiveAbsoluteError {
				g[i] = w[i] * sign(d)
			} else {
				g[i] = w[i] * d
			}
			h[i] = w[i]
		}

		rows := make([]int, 0, n)
		for i := range n {
			if m.cfg.Subsample >= 1 || rng.Float64() < m.cfg.Subsample {
				rows = append(rows, i)
			}
		}
		if len(rows) == 0 {
			continue
		}
		var feats []int
		if nfeat > 0 {
			feats = rng.Perm(nfeat)[:ncols]
			slices.Sort(feats)
		}

		b := &treeBuilder{
			cfg:   &m.cfg,
			bins:  bins,
			edges: m.edges,
			g:     g,
			h:     h,
			w:     w,
			resid: resid,
			feats: feats,
		}
		b.build(rows, 0)
		tr := tree(b.nodes)
		for i := range n {
			pred[i] += tr.evalBinned(bins, i)
		}
		m.trees = append(m.trees, tr)
	}
	return nil
}

func (m *GBM) Predict(ctx context.Context, X Dataset) ([]float64, error) {
	if m.edges == nil {
		return nil, fmt.Errorf("gbm: %w", ErrNotFitted)
	}
	if err := X.Validate(); err != nil {
		return nil, fmt.Errorf("gbm: %w", err)
	}
	if len(X.Columns) != len(m.edges) {
		return nil, fmt.Errorf("gbm: fitted on %d features, got %d", len(m.edges), len(X.Columns))
	}
	out := make([]float64, X.Rows)
	for i := range out {
		out[i] = m.base
	}
	for k, tr := range m.trees {
		if k%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for i := range out {
			out[i] += tr.eval(X, i)
		}
	}
	return out, nil
}

func (m *GBM) baseScore(y, w []float64) float64 {
	if m.cfg.Objective == ObjectiveAbsoluteError {
		return weightedMedian(y, w)
	}
	return stat.Mean(y, w)
}

func weightedMedian(v, w []float64) float64 {
	x := slices.Clone(v)
	ws := slices.Clone(w)
	stat.SortWeighted(x, ws)
	return stat.Quantile(0.5, stat.Empirical, x, ws)
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
