package models

import (
	"math"
	"slices"
)

const (
	maxBinLimit = 255
	missingBin  = uint8(255)
)

// makeEdges picks up to maxBins-1 cut points per column from the quantiles
// of its observed values. A value x falls in the first bin b with
// x <= edges[b], or in bin len(edges) when above every edge.
func makeEdges(X Dataset, maxBins int) [][]float32 {
	edges := make([][]float32, len(X.Columns))
	for j, col := range X.Columns {
		vals := make([]float32, 0, len(col))
		for _, v := range col {
			if !isNaN32(v) {
				vals = append(vals, v)
			}
		}
		slices.Sort(vals)
		uniq := slices.Compact(vals)
		if len(uniq) <= 1 {
			edges[j] = []float32{}
			continue
		}
		if len(uniq) <= maxBins {
			edges[j] = slices.Clone(uniq[:len(uniq)-1])
			continue
		}
		cuts := make([]float32, 0, maxBins-1)
		for k := 1; k < maxBins; k++ {
			c := uniq[k*len(uniq)/maxBins]
			if len(cuts) == 0 || c > cuts[len(cuts)-1] {
				cuts = append(cuts, c)
			}
		}
		edges[j] = cuts
	}
	return edges
}

func binColumns(X Dataset, edges [][]float32) [][]uint8 {
	bins := make([][]uint8, len(X.Columns))
	for j, col := range X.Columns {
		b := make([]uint8, len(col))
		for i, v := range col {
			if isNaN32(v) {
				b[i] = missingBin
				continue
			}
			k, _ := slices.BinarySearch(edges[j], v)
			b[i] = uint8(k)
		}
		bins[j] = b
	}
	return bins
}

func isNaN32(v float32) bool { return v != v }

type node struct {
	feature     int32 // -1 for leaves
	bin         uint8
	threshold   float32
	defaultLeft bool
	left, right int32
	value       float64
}

type tree []node

func (t tree) eval(X Dataset, i int) float64 {
	k := int32(0)
	for t[k].feature >= 0 {
		nd := &t[k]
		v := X.Columns[nd.feature][i]
		switch {
		case isNaN32(v):
			k = pick(nd.defaultLeft, nd)
		case v <= nd.threshold:
			k = nd.left
		default:
			k = nd.right
		}
	}
	return t[k].value
}

func (t tree) evalBinned(bins [][]uint8, i int) float64 {
	k := int32(0)
	for t[k].feature >= 0 {
		nd := &t[k]
		b := bins[nd.feature][i]
		switch {
		case b == missingBin:
			k = pick(nd.defaultLeft, nd)
		case b <= nd.bin:
			k = nd.left
		default:
			k = nd.right
		}
	}
	return t[k].value
}

func pick(left bool, nd *node) int32 {
	if left {
		return nd.left
	}
	return nd.right
}

type split struct {
	gain        float64
	feature     int
	bin         uint8
	defaultLeft bool
}

type treeBuilder struct {
	cfg   *GBMConfig
	bins  [][]uint8
	edges [][]float32
	g, h  []float64
	w     []float64
	resid []float64
	feats []int
	nodes []node
}

// build grows the subtree over rows and returns its node index.
func (b *treeBuilder) build(rows []int, depth int) int32 {
	var G, H float64
	for _, i := range rows {
		G += b.g[i]
		H += b.h[i]
	}
	idx := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{feature: -1})

	best := split{gain: b.cfg.Gamma}
	found := false
	if depth < b.cfg.MaxDepth && len(rows) >= 2 && H >= 2*b.cfg.MinChildWeight {
		best, found = b.bestSplit(rows, G, H)
	}
	if !found {
		b.nodes[idx].value = b.leafValue(rows, G, H)
		return idx
	}

	left := make([]int, 0, len(rows)/2)
	right := make([]int, 0, len(rows)/2)
	col := b.bins[best.feature]
	for _, i := range rows {
		bin := col[i]
		if (bin == missingBin && best.defaultLeft) || (bin != missingBin && bin <= best.bin) {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx] = node{
		feature:     int32(best.feature),
		bin:         best.bin,
		threshold:   b.edges[best.feature][best.bin],
		defaultLeft: best.defaultLeft,
		left:        l,
		right:       r,
	}
	return idx
}

func (b *treeBuilder) bestSplit(rows []int, G, H float64) (split, bool) {
	lambda := b.cfg.Lambda
	mcw := b.cfg.MinChildWeight
	parent := G * G / (H + lambda)
	best := split{gain: b.cfg.Gamma}
	found := false

	var hg, hh [maxBinLimit + 1]float64
	for _, f := range b.feats {
		nb := len(b.edges[f]) + 1
		if nb < 2 {
			continue
		}
		clear(hg[:])
		clear(hh[:])
		col := b.bins[f]
		for _, i := range rows {
			k := col[i]
			hg[k] += b.g[i]
			hh[k] += b.h[i]
		}
		gm, hm := hg[missingBin], hh[missingBin]

		var gl, hl float64
		for k := 0; k < nb-1; k++ {
			gl += hg[k]
			hl += hh[k]
			for _, missLeft := range []bool{true, false} {
				gL, hL := gl, hl
				if missLeft {
					gL += gm
					hL += hm
				}
				gR, hR := G-gL, H-hL
				if hL < mcw || hR < mcw || hL <= 0 || hR <= 0 {
					continue
				}
				gain := gL*gL/(hL+lambda) + gR*gR/(hR+lambda) - parent
				if gain > best.gain {
					best = split{gain: gain, feature: f, bin: uint8(k), defaultLeft: missLeft}
					found = true
				}
				if hm == 0 {
					break
				}
			}
		}
	}
	return best, found
}

func (b *treeBuilder) leafValue(rows []int, G, H float64) float64 {
	eta := b.cfg.LearningRate
	if b.cfg.Objective != ObjectiveAbsoluteError {
		return -G / (H + b.cfg.Lambda) * eta
	}
	r := make([]float64, len(rows))
	w := make([]float64, len(rows))
	for k, i := range rows {
		r[k] = b.resid[i]
		w[k] = b.w[i]
	}
	v := weightedMedian(r, w)
	if math.IsNaN(v) {
		return 0
	}
	return v * eta
}
