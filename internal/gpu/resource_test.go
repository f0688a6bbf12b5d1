package gpu

import "testing"

func TestStateString(t *testing.T) {
	cases := []struct {
		s    State
		want string
	}{
		{0, "None"},
		{StateCommon, "Common"},
		{StateUnorderedAccess | StateShaderReadCompute, "UnorderedAccess|ShaderReadCompute"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("State(%#x).String() = %q, want %q", uint32(c.s), got, c.want)
		}
	}
}

func TestBarrierTransitionsAndRestoresResourceState(t *testing.T) {
	cl := NewSimpleCmdList()
	r := &Resource{State: StateCommon}

	Barrier(cl, r, StateUnorderedAccess)
	if r.State != StateUnorderedAccess {
		t.Fatalf("resource State = %v after Barrier, want %v", r.State, StateUnorderedAccess)
	}
	if len(cl.Transitions) != 1 {
		t.Fatalf("len(Transitions) = %d, want 1", len(cl.Transitions))
	}
	got := cl.Transitions[0]
	if got.From != StateCommon || got.To != StateUnorderedAccess {
		t.Errorf("transition = {From: %v, To: %v}, want {From: %v, To: %v}", got.From, got.To, StateCommon, StateUnorderedAccess)
	}

	Barrier(cl, r, StateCommon)
	if r.State != StateCommon {
		t.Fatalf("resource State = %v after restoring Barrier, want %v", r.State, StateCommon)
	}
}

func TestSimpleCmdListExecuteClearsJobsAndCountsCalls(t *testing.T) {
	cl := NewSimpleCmdList()
	cl.Schedule(Job{Kind: JobClear, Clear: &ClearJob{Target: &Resource{}}})
	cl.Schedule(Job{Kind: JobCompute, Compute: &ComputeJob{}})

	if len(cl.Jobs) != 2 {
		t.Fatalf("len(Jobs) before Execute = %d, want 2", len(cl.Jobs))
	}
	if err := cl.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(cl.Jobs) != 0 {
		t.Errorf("len(Jobs) after Execute = %d, want 0", len(cl.Jobs))
	}
	if cl.ExecuteCount != 1 {
		t.Errorf("ExecuteCount = %d, want 1", cl.ExecuteCount)
	}
	if cl.Native() != 0 {
		t.Errorf("Native() = %#x, want 0", cl.Native())
	}
}

func TestErrDimensionMismatchMessage(t *testing.T) {
	err := &ErrDimensionMismatch{
		Resource: "DilatedDepth",
		Want:     Dim2D{Width: 1920, Height: 1080},
		Got:      Dim2D{Width: 1280, Height: 720},
	}
	want := `gpu: resource "DilatedDepth" dimension mismatch: want 1920x1080, got 1280x720`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
