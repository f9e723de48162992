package model

import "math"

// BaselineStats is the running per-field statistic maintained by the
// anomaly detector via Welford's numerically stable online update.
type BaselineStats struct {
	Count int64 `json:"count"`
	Mean float64 `json:"mean"`
	M2 float64 `json:"m2"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Variance returns the population variance, 0 if fewer than 2 samples.
func (b BaselineStats) Variance() float64 {
	if b.Count < 2 {
		return 0
	}
	return b.M2 / float64(b.Count)
}

// StdDev returns the population standard deviation.
func (b BaselineStats) StdDev() float64 {
	v := b.Variance()
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Update folds a new observation into b using Welford's method.
func (b *BaselineStats) Update(x float64) {
	b.Count++
	if b.Count == 1 {
		b.Mean = x
		b.M2 = 0
		b.Min = x
		b.Max = x
		return
	}
	delta := x - b.Mean
	b.Mean += delta / float64(b.Count)
	delta2 := x - b.Mean
	b.M2 += delta * delta2
	if x < b.Min {
		b.Min = x
	}
	if x > b.Max {
		b.Max = x
	}
}
