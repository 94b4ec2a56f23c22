package vm

import (
	"sort"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// DefaultHotThreshold is the execution count at which a function turns hot.
const DefaultHotThreshold = 100

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	ExecutionCount uint64 // executions since the last reset or unmark
	TotalCount     uint64 // executions since the last Reset
	IsHot          bool   // set once ExecutionCount reaches the threshold
	HotTransitions int    // how many times the function turned hot
}

// HotspotProfiler counts interpreted executions per function id and marks
// a function hot the first time its count reaches the threshold. Each VM
// owns one; it is not safe for concurrent use.
type HotspotProfiler struct {
	profiles  map[bytecode.FunctionID]*FunctionProfile
	threshold uint64

	// OnHot is called when a function turns hot, from inside RecordExecution.
	OnHot func(id bytecode.FunctionID, profile *FunctionProfile)
}

// NewProfiler creates a profiler. A threshold of zero or less selects
// DefaultHotThreshold.
func NewProfiler(threshold int) *HotspotProfiler {
	if threshold <= 0 {
		threshold = DefaultHotThreshold
	}
	return &HotspotProfiler{
		profiles:  make(map[bytecode.FunctionID]*FunctionProfile),
		threshold: uint64(threshold),
	}
}

// Threshold returns the hot threshold.
func (p *HotspotProfiler) Threshold() int {
	return int(p.threshold)
}

func (p *HotspotProfiler) profile(id bytecode.FunctionID) *FunctionProfile {
	prof, ok := p.profiles[id]
	if !ok {
		prof = &FunctionProfile{}
		p.profiles[id] = prof
	}
	return prof
}

// RecordExecution increments the execution count for id.
// Returns true if this execution caused the function to become hot.
func (p *HotspotProfiler) RecordExecution(id bytecode.FunctionID) bool {
	prof := p.profile(id)
	prof.ExecutionCount++
	prof.TotalCount++

	if !prof.IsHot && prof.ExecutionCount >= p.threshold {
		prof.IsHot = true
		prof.HotTransitions++
		if p.OnHot != nil {
			p.OnHot(id, prof)
		}
		return true
	}
	return false
}

// IsHot reports whether id is currently marked hot.
func (p *HotspotProfiler) IsHot(id bytecode.FunctionID) bool {
	prof, ok := p.profiles[id]
	return ok && prof.IsHot
}

// MarkHot forces id hot without firing OnHot.
func (p *HotspotProfiler) MarkHot(id bytecode.FunctionID) {
	p.profile(id).IsHot = true
}

// UnmarkHot clears the hot mark and the execution count, so the function
// has to reach the threshold again before it turns hot.
func (p *HotspotProfiler) UnmarkHot(id bytecode.FunctionID) {
	if prof, ok := p.profiles[id]; ok {
		prof.IsHot = false
		prof.ExecutionCount = 0
	}
}

// Count returns the executions recorded for id since its last unmark.
func (p *HotspotProfiler) Count(id bytecode.FunctionID) uint64 {
	if prof, ok := p.profiles[id]; ok {
		return prof.ExecutionCount
	}
	return 0
}

// Profile returns a copy of the profile for id, or nil if not tracked.
func (p *HotspotProfiler) Profile(id bytecode.FunctionID) *FunctionProfile {
	prof, ok := p.profiles[id]
	if !ok {
		return nil
	}
	cp := *prof
	return &cp
}

// Reset clears all counts and hot marks.
func (p *HotspotProfiler) Reset() {
	p.profiles = make(map[bytecode.FunctionID]*FunctionProfile)
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Threshold       int    `json:"threshold"`
	TotalFunctions  int    `json:"totalFunctions"`
	HotFunctions    int    `json:"hotFunctions"`
	TotalExecutions uint64 `json:"totalExecutions"`
}

// Stats returns aggregate profiling statistics.
func (p *HotspotProfiler) Stats() ProfilerStats {
	stats := ProfilerStats{Threshold: int(p.threshold)}
	for _, prof := range p.profiles {
		stats.TotalFunctions++
		stats.TotalExecutions += prof.TotalCount
		if prof.IsHot {
			stats.HotFunctions++
		}
	}
	return stats
}

// HotFunctions returns the ids currently marked hot, ascending.
func (p *HotspotProfiler) HotFunctions() []bytecode.FunctionID {
	var hot []bytecode.FunctionID
	for id, prof := range p.profiles {
		if prof.IsHot {
			hot = append(hot, id)
		}
	}
	sort.Slice(hot, func(i, j int) bool { return hot[i] < hot[j] })
	return hot
}

// TopFunctions returns up to n ids ordered by total executions, highest
// first; ties break on the lower id.
func (p *HotspotProfiler) TopFunctions(n int) []bytecode.FunctionID {
	ids := make([]bytecode.FunctionID, 0, len(p.profiles))
	for id := range p.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := p.profiles[ids[i]].TotalCount, p.profiles[ids[j]].TotalCount
		if ci != cj {
			return ci > cj
		}
		return ids[i] < ids[j]
	})
	if n >= 0 && n < len(ids) {
		ids = ids[:n]
	}
	return ids
}
