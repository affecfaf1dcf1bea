package lstore

import (
	"sort"

	"github.com/ValentinKolb/shadowvar/lib/shadow"
	"github.com/ValentinKolb/shadowvar/lib/shadow/lstore/internal"
	"github.com/ValentinKolb/shadowvar/lib/util"
)

// GetInfo implements shadow.IStore. The table is scanned inside one read
// section, so the entry based values are a consistent snapshot of the table.
// The counters are read separately and may be slightly ahead or behind.
//
// Thread-safety: This method is thread-safe and never takes the write lock.
func (s *storeImpl) GetInfo() shadow.StoreInfo {
	chainLengths := make([]int, s.table.Len())
	perType := make(map[shadow.TypeID]int)
	sizes := util.NewSizeHistogram()
	entries := 0

	g := s.reclaim.Enter()
	s.table.Scan(func(bucket int, e *internal.Entry) {
		chainLengths[bucket]++
		perType[e.ID]++
		sizes.AddSample(len(e.Data))
		entries++
	})
	g.Exit()

	var types []shadow.TypeInfo
	s.types.Range(func(id shadow.TypeID, reg *typeRegistration) bool {
		types = append(types, shadow.TypeInfo{
			ID:       id,
			RefCount: int(reg.refCount.Load()),
			Entries:  perType[id],
		})
		return true
	})
	sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })

	return shadow.StoreInfo{
		Entries:      entries,
		LiveBytes:    s.liveBytes.Load(),
		MaxBytes:     s.maxBytes,
		Types:        types,
		Chains:       util.NewChainStats(chainLengths),
		MedianSize:   sizes.PercentileEstimate(50),
		AverageSize:  sizes.AverageSize(),
		Reclaimer:    s.reclaim.Stats(),
		CallbackSlow: s.slowCallbacks.Load(),
	}
}
