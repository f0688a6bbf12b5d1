package opticalflow

import (
	"testing"

	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

func TestSharedResourceDescsHalvesVectorFieldResolution(t *testing.T) {
	descs := SharedResourceDescs(gpu.Dim2D{Width: 1920, Height: 1080})
	if len(descs) != 2 {
		t.Fatalf("SharedResourceDescs returned %d entries, want 2", len(descs))
	}

	vector := descs[0]
	if vector.Name != "OpticalFlowVector" {
		t.Errorf("descs[0].Name = %q, want OpticalFlowVector", vector.Name)
	}
	if vector.Dim != (gpu.Dim2D{Width: 960, Height: 540}) {
		t.Errorf("vector field dim = %+v, want 960x540", vector.Dim)
	}
	if vector.Format != gpu.FormatOpticalFlowVector {
		t.Errorf("vector field format = %v, want FormatOpticalFlowVector", vector.Format)
	}

	scd := descs[1]
	if scd.Name != "OpticalFlowSCD" {
		t.Errorf("descs[1].Name = %q, want OpticalFlowSCD", scd.Name)
	}
	if scd.Dim != (gpu.Dim2D{Width: 1, Height: 1}) {
		t.Errorf("scd dim = %+v, want 1x1", scd.Dim)
	}
}

func TestSharedResourceDescsRoundsOddDimensionsUp(t *testing.T) {
	descs := SharedResourceDescs(gpu.Dim2D{Width: 1921, Height: 1081})
	if descs[0].Dim != (gpu.Dim2D{Width: 961, Height: 541}) {
		t.Errorf("vector field dim = %+v, want 961x541", descs[0].Dim)
	}
}

func TestStubEngineDispatchClearsBothOutputs(t *testing.T) {
	eng := NewStubEngine()
	ctx, err := eng.CreateContext(nil)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	cl := gpu.NewSimpleCmdList()
	vec := &gpu.Resource{Name: "OpticalFlowVector"}
	scd := &gpu.Resource{Name: "OpticalFlowSCD"}

	if err := ctx.Dispatch(Params{CmdList: cl, OutVector: vec, OutSCD: scd}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if cl.ExecuteCount != 1 {
		t.Errorf("ExecuteCount = %d, want 1", cl.ExecuteCount)
	}
}
