package vm

import (
	"testing"

	"github.com/chazu/tiervm/pkg/bytecode"
)

func TestProfilerDefaultThreshold(t *testing.T) {
	if got := NewProfiler(0).Threshold(); got != DefaultHotThreshold {
		t.Errorf("Threshold() = %d, want %d", got, DefaultHotThreshold)
	}
	if got := NewProfiler(-5).Threshold(); got != DefaultHotThreshold {
		t.Errorf("Threshold() = %d, want %d", got, DefaultHotThreshold)
	}
}

func TestProfilerBecomesHotOnHundredthCall(t *testing.T) {
	p := NewProfiler(100)
	const id bytecode.FunctionID = 7

	for n := 1; n <= 99; n++ {
		if p.RecordExecution(id) {
			t.Fatalf("RecordExecution #%d reported hot, want not yet", n)
		}
		if p.IsHot(id) {
			t.Fatalf("IsHot after %d calls = true, want false", n)
		}
	}
	if !p.RecordExecution(id) {
		t.Error("100th RecordExecution should report the transition")
	}
	if !p.IsHot(id) {
		t.Error("IsHot after 100 calls = false, want true")
	}
	// Additional invocations should not re-trigger hot
	if p.RecordExecution(id) {
		t.Error("RecordExecution after hot should not re-trigger")
	}
}

func TestProfilerIndependentIDs(t *testing.T) {
	p := NewProfiler(3)
	for i := 0; i < 3; i++ {
		p.RecordExecution(1)
	}
	p.RecordExecution(2)
	if !p.IsHot(1) {
		t.Error("function 1 should be hot")
	}
	if p.IsHot(2) {
		t.Error("function 2 should not be hot")
	}
	if p.IsHot(3) {
		t.Error("untracked function should not be hot")
	}
	if got := p.HotFunctions(); len(got) != 1 || got[0] != 1 {
		t.Errorf("HotFunctions() = %v, want [1]", got)
	}
}

func TestProfilerOnHotFiresOnce(t *testing.T) {
	p := NewProfiler(2)
	var fired []bytecode.FunctionID
	p.OnHot = func(id bytecode.FunctionID, prof *FunctionProfile) {
		fired = append(fired, id)
		if !prof.IsHot {
			t.Error("OnHot profile should already be hot")
		}
	}
	for i := 0; i < 5; i++ {
		p.RecordExecution(4)
	}
	if len(fired) != 1 || fired[0] != 4 {
		t.Errorf("OnHot fired for %v, want [4]", fired)
	}
}

func TestProfilerUnmarkHotRequiresRewarm(t *testing.T) {
	p := NewProfiler(3)
	for i := 0; i < 3; i++ {
		p.RecordExecution(1)
	}
	p.UnmarkHot(1)
	if p.IsHot(1) {
		t.Fatal("IsHot after UnmarkHot = true")
	}
	if got := p.Count(1); got != 0 {
		t.Errorf("Count after UnmarkHot = %d, want 0", got)
	}
	p.RecordExecution(1)
	p.RecordExecution(1)
	if p.IsHot(1) {
		t.Error("function turned hot before re-earning the threshold")
	}
	if !p.RecordExecution(1) {
		t.Error("third execution after unmark should turn hot again")
	}
	if prof := p.Profile(1); prof.HotTransitions != 2 || prof.TotalCount != 6 {
		t.Errorf("profile = %+v, want 2 transitions and 6 total", prof)
	}
	// Unmarking an unknown id is a no-op.
	p.UnmarkHot(99)
}

func TestProfilerMarkHot(t *testing.T) {
	p := NewProfiler(10)
	fired := false
	p.OnHot = func(bytecode.FunctionID, *FunctionProfile) { fired = true }
	p.MarkHot(5)
	if !p.IsHot(5) {
		t.Error("MarkHot should mark the function hot")
	}
	if fired {
		t.Error("MarkHot should not fire OnHot")
	}
}

func TestProfilerReset(t *testing.T) {
	p := NewProfiler(1)
	p.RecordExecution(1)
	p.RecordExecution(2)
	p.Reset()
	if p.IsHot(1) || p.IsHot(2) {
		t.Error("Reset should clear hot marks")
	}
	if p.Count(1) != 0 {
		t.Error("Reset should clear counts")
	}
	if s := p.Stats(); s.TotalFunctions != 0 || s.TotalExecutions != 0 {
		t.Errorf("Stats after Reset = %+v", s)
	}
}

func TestProfilerStatsAndTop(t *testing.T) {
	p := NewProfiler(3)
	for i := 0; i < 5; i++ {
		p.RecordExecution(1)
	}
	for i := 0; i < 2; i++ {
		p.RecordExecution(2)
	}
	for i := 0; i < 5; i++ {
		p.RecordExecution(3)
	}
	s := p.Stats()
	if s.TotalFunctions != 3 || s.HotFunctions != 2 || s.TotalExecutions != 12 || s.Threshold != 3 {
		t.Errorf("Stats() = %+v", s)
	}
	top := p.TopFunctions(2)
	if len(top) != 2 || top[0] != 1 || top[1] != 3 {
		t.Errorf("TopFunctions(2) = %v, want [1 3]", top)
	}
	if got := p.TopFunctions(10); len(got) != 3 {
		t.Errorf("TopFunctions(10) len = %d, want 3", len(got))
	}
}
