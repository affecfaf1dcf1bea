package util

import (
	"math"
	"sync"
	"testing"
)

func TestHashOwnerDeterministic(t *testing.T) {
	seed := GenerateSeed()

	if HashOwner(0x1000, seed) != HashOwner(0x1000, seed) {
		t.Fatal("HashOwner should return the same hash for the same owner and seed")
	}

	if HashOwner(0x1000, seed) == HashOwner(0x1008, seed) {
		t.Error("Adjacent owners should not collide")
	}

	if HashOwner(0x1000, 1) == HashOwner(0x1000, 2) {
		t.Error("Different seeds should produce different hashes")
	}
}

func TestBucketIndexSpread(t *testing.T) {
	const bits = 6
	seed := GenerateSeed()
	counts := make([]int, 1<<bits)

	// aligned addresses as they would come from an allocator
	for i := 0; i < 64*1024; i++ {
		idx := BucketIndex(HashOwner(uintptr(0xc000000000+i*64), seed), bits)
		if idx >= 1<<bits {
			t.Fatalf("Bucket index %d out of range", idx)
		}
		counts[idx]++
	}

	stats := NewChainStats(counts)
	if stats.UsedBuckets != 1<<bits {
		t.Errorf("Expected all %d buckets to be used, got %d", 1<<bits, stats.UsedBuckets)
	}
	if stats.MinMaxRatio < 0.5 {
		t.Errorf("Distribution too uneven: min/max ratio %.2f", stats.MinMaxRatio)
	}

	if BucketIndex(math.MaxUint64, 0) != 0 {
		t.Error("A table with zero bits has exactly one bucket")
	}
}

func TestNewStats(t *testing.T) {
	stats := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	if stats.Mean != 5 {
		t.Errorf("Expected mean 5, got %f", stats.Mean)
	}
	if stats.StdDeviation != 2 {
		t.Errorf("Expected std deviation 2, got %f", stats.StdDeviation)
	}
	if stats.Min != 2 || stats.Max != 9 {
		t.Errorf("Expected min 2 and max 9, got %f and %f", stats.Min, stats.Max)
	}

	if empty := NewStats(nil); empty != (Stats{}) {
		t.Errorf("Expected zero stats for no values, got %+v", empty)
	}
}

func TestChainStats(t *testing.T) {
	stats := NewChainStats([]int{0, 3, 1, 0})

	if stats.Buckets != 4 || stats.UsedBuckets != 2 {
		t.Errorf("Expected 4 buckets with 2 used, got %d/%d", stats.Buckets, stats.UsedBuckets)
	}
	if stats.LongestChain != 3 {
		t.Errorf("Expected longest chain 3, got %d", stats.LongestChain)
	}
	if stats.LoadFactor != 1 {
		t.Errorf("Expected load factor 1, got %f", stats.LoadFactor)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()

	if h.AverageSize() != 0 || h.PercentileEstimate(50) != 0 {
		t.Fatal("Empty histogram should report zero")
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				h.AddSample(8)
			}
		}()
	}
	wg.Wait()
	h.AddSample(100000)

	if h.Count() != 1001 {
		t.Errorf("Expected 1001 samples, got %d", h.Count())
	}
	if p := h.PercentileEstimate(50); p != 8 {
		t.Errorf("Expected median bucket bound 8, got %d", p)
	}
	if p := h.PercentileEstimate(100); p != 65536*2 {
		t.Errorf("Expected overflow estimate %d, got %d", 65536*2, p)
	}

	bounds, shares := h.Distribution()
	if len(shares) != len(bounds)+1 {
		t.Fatalf("Expected %d shares, got %d", len(bounds)+1, len(shares))
	}
	if shares[0] < 99 {
		t.Errorf("Expected ~99.9%% in the first bucket, got %f", shares[0])
	}
}
