package util

import (
	"math"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Distribution statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, standard deviation, minimum and maximum of values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

// ChainStats describes how entries are spread over the buckets of a hashtable.
type ChainStats struct {
	Stats
	Buckets      int     `json:"buckets"`
	UsedBuckets  int     `json:"used_buckets"`
	LongestChain int     `json:"longest_chain"`
	LoadFactor   float64 `json:"load_factor"`
}

// NewChainStats computes the chain statistics from per-bucket chain lengths.
// Empty buckets are part of Stats so that the mean equals the load factor.
func NewChainStats(chainLengths []int) ChainStats {
	values := make([]float64, len(chainLengths))
	used, longest, total := 0, 0, 0
	for i, l := range chainLengths {
		values[i] = float64(l)
		total += l
		if l > 0 {
			used++
		}
		if l > longest {
			longest = l
		}
	}

	var load float64
	if len(chainLengths) > 0 {
		load = float64(total) / float64(len(chainLengths))
	}

	return ChainStats{
		Stats:        NewStats(values),
		Buckets:      len(chainLengths),
		UsedBuckets:  used,
		LongestChain: longest,
		LoadFactor:   load,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets.
// Shadow data is usually a handful of words, so the resolution is highest there.
var sizeBoundaries = [...]int{8, 16, 32, 64, 128, 256, 512, 1024, 4096, 16384, 65536}

// SizeHistogram tracks the distribution of buffer sizes.
// Samples are added with atomic operations so it can be filled by
// concurrent readers without a lock.
type SizeHistogram struct {
	buckets [len(sizeBoundaries) + 1]atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// AddSample adds a size sample to the histogram
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) AddSample(size int) {
	idx := len(sizeBoundaries)
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			idx = i
			break
		}
	}
	h.buckets[idx].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// Count returns the total number of samples
func (h *SizeHistogram) Count() int64 {
	return h.count.Load()
}

// AverageSize returns the average size across all samples
func (h *SizeHistogram) AverageSize() int {
	n := h.count.Load()
	if n == 0 {
		return 0
	}
	return int(h.sum.Load() / n)
}

// PercentileEstimate returns the upper bound of the bucket holding the given
// percentile (0-100). Sizes above the last boundary report twice the last boundary.
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	n := h.count.Load()
	if n == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(n) * float64(percentile) / 100.0))
	var cumulative int64
	for i := range h.buckets {
		cumulative += h.buckets[i].Load()
		if cumulative >= target {
			if i < len(sizeBoundaries) {
				return sizeBoundaries[i]
			}
			break
		}
	}
	return sizeBoundaries[len(sizeBoundaries)-1] * 2
}

// Distribution returns the bucket boundaries and the share of samples (in percent)
// in each bucket. The last share covers everything above the last boundary.
func (h *SizeHistogram) Distribution() ([]int, []float64) {
	bounds := sizeBoundaries[:]
	shares := make([]float64, len(h.buckets))
	n := h.count.Load()
	if n == 0 {
		return bounds, shares
	}
	for i := range h.buckets {
		shares[i] = float64(h.buckets[i].Load()) * 100.0 / float64(n)
	}
	return bounds, shares
}
