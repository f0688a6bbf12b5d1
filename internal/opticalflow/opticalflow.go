// Package opticalflow declares the narrow interface the orchestrator needs
// from a dense optical-flow engine. The real engine is a third-party
// collaborator reached only through this interface; NewStubEngine returns
// a minimal stand-in that clears both outputs so the pipeline can be
// exercised end to end without a proprietary flow estimator.
package opticalflow

import (
	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

// TransferFunction selects the luminance curve the flow estimator assumes
// of its color input.
type TransferFunction int

const (
	TransferSRGB TransferFunction = iota
	TransferPQ
)

// Params carries one dispatch's inputs, mirroring the "optical-flow
// parameters" block.
type Params struct {
	CmdList gpu.CmdList

	ColorInput      *gpu.Resource
	ColorInputState gpu.State

	OutVector *gpu.Resource
	OutSCD    *gpu.Resource

	Reset bool

	Transfer TransferFunction

	MinLuminance float32
	MaxLuminance float32
}

// Engine is the collaborator interface: construct a Context against a
// backend, then Dispatch it once per frame.
type Engine interface {
	CreateContext(be *backend.Backend) (Context, error)
}

// Context is one flow-estimation session, analogous to the dilation
// Effect's and interpolator Wrapper's per-handle state.
type Context interface {
	Dispatch(p Params) error
}

// SharedResourceDescs returns the two resource descriptions the
// orchestrator creates on the shared backend once per swapchain
// resolution: the flow vector field and the scene-change-detection
// scalar. Resolution and format are engine-defined; this stand-in uses a
// half-resolution gpu.FormatOpticalFlowVector field and a 1x1
// gpu.FormatOpticalFlowSCD scalar, plausible defaults for a block-based
// flow estimator.
func SharedResourceDescs(renderSize gpu.Dim2D) []backend.ResourceRequest {
	half := gpu.Dim2D{Width: (renderSize.Width + 1) / 2, Height: (renderSize.Height + 1) / 2}
	return []backend.ResourceRequest{
		{Logical: gpu.Logical2D, Format: gpu.FormatOpticalFlowVector, Dim: half, Usage: gpu.UsageUnorderedAccess | gpu.UsageShaderRead | gpu.UsageAliasable, Name: "OpticalFlowVector"},
		{Logical: gpu.Logical2D, Format: gpu.FormatOpticalFlowSCD, Dim: gpu.Dim2D{Width: 1, Height: 1}, Usage: gpu.UsageUnorderedAccess | gpu.UsageShaderRead | gpu.UsageAliasable, Name: "OpticalFlowSCD"},
	}
}

// stubEngine is the default Engine used when no real flow estimator is
// wired in: it schedules a clear of both outputs and nothing else, enough
// for the orchestrator's chained-dispatch sequencing to be fully
// exercised.
type stubEngine struct{}

// NewStubEngine returns the default, dependency-free Engine.
func NewStubEngine() Engine { return stubEngine{} }

func (stubEngine) CreateContext(be *backend.Backend) (Context, error) {
	return &stubContext{}, nil
}

type stubContext struct{}

func (c *stubContext) Dispatch(p Params) error {
	p.CmdList.Schedule(gpu.Job{
		Kind:  gpu.JobClear,
		Clear: &gpu.ClearJob{Target: p.OutVector, Value: gpu.ClearValue{}},
	})
	p.CmdList.Schedule(gpu.Job{
		Kind:  gpu.JobClear,
		Clear: &gpu.ClearJob{Target: p.OutSCD, Value: gpu.ClearValue{}},
	})
	return p.CmdList.Execute()
}
