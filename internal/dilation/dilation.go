// Package dilation implements the custom compute pass: motion-vector
// dilation, depth dilation, and previous-frame-nearest-depth
// reconstruction. Unlike optical flow and the interpolator, which are
// consumed from third-party engines, this pass is authored here, so it
// owns a real PipelineCache and its own resource-name-to-binding-index
// tables (internal/uimask is the other authored pass and does the same).
package dilation

import (
	"fmt"

	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

// Constants is the per-frame constant buffer: sizes, jitter offsets
// (current and previous, for delta cancellation), motion-vector scale, MV
// jitter cancellation, and a pre-exposure placeholder fixed at 1.0.
type Constants struct {
	RenderSize     gpu.Dim2D
	MaxRenderSize  gpu.Dim2D
	DisplaySize    gpu.Dim2D
	InputColorSize gpu.Dim2D

	JitterOffset     [2]float32
	PrevJitterOffset [2]float32

	MvecScale              [2]float32
	MvecJitterCancellation [2]float32

	PreExposure float32
}

// resourceIndex maps the shader-authored binding names this effect's
// shaders use to the orchestrator's internal resource slots. An unmatched
// name is fatal.
var resourceIndex = map[string]int{
	"input_depth":                      0,
	"input_motion_vectors":             1,
	"dilated_depth":                    2,
	"dilated_motion_vectors":           3,
	"reconstructed_prev_nearest_depth": 4,
}

func resolveBinding(name string) (int, error) {
	idx, ok := resourceIndex[name]
	if !ok {
		return 0, fmt.Errorf("dilation: unmatched resource binding name %q", name)
	}
	return idx, nil
}

// Effect holds the dilation pass's pipeline cache and double-buffered
// constants. A single Effect instance belongs to one orchestrator/feature
// handle.
type Effect struct {
	be     *backend.Backend
	cache  *gpu.PipelineCache
	consts [2]Constants
	curIdx int
}

// New creates the dilation effect against be. Pipelines are compiled
// lazily on first Dispatch.
func New(be *backend.Backend) *Effect {
	return &Effect{be: be, cache: gpu.NewPipelineCache()}
}

// SharedResourceDescs returns the three resource descriptions the
// orchestrator creates on the shared backend once per swapchain
// resolution: DilatedDepth, DilatedMotionVectors,
// ReconstructedPrevNearestDepth.
func SharedResourceDescs(swapchain gpu.Dim2D) []backend.ResourceRequest {
	return []backend.ResourceRequest{
		{Logical: gpu.Logical2D, Format: gpu.FormatR32Float, Dim: swapchain, Usage: gpu.UsageUnorderedAccess | gpu.UsageShaderRead | gpu.UsageAliasable, Name: "DilatedDepth"},
		{Logical: gpu.Logical2D, Format: gpu.FormatRG16Float, Dim: swapchain, Usage: gpu.UsageUnorderedAccess | gpu.UsageShaderRead | gpu.UsageAliasable, Name: "DilatedMotionVectors"},
		{Logical: gpu.Logical2D, Format: gpu.FormatR32UintAtomic, Dim: swapchain, Usage: gpu.UsageUnorderedAccess | gpu.UsageShaderRead | gpu.UsageAliasable, Name: "ReconstructedPrevNearestDepth"},
	}
}

// DeviceCaps reports the capability bits the dispatcher consults to pick
// the fp16/wave64 permutation flags.
type DeviceCaps struct {
	FP16Supported   bool
	Wave64Supported bool
}

// Params carries one dispatch's inputs and outputs ("dilation
// parameters").
type Params struct {
	CmdList gpu.CmdList

	InputDepth *gpu.Resource
	InputMVs   *gpu.Resource

	OutDilatedDepth           *gpu.Resource
	OutDilatedMotionVectors   *gpu.Resource
	OutReconstructedPrevDepth *gpu.Resource

	RenderSize gpu.Dim2D
	OutputSize gpu.Dim2D

	ColorBuffersHDR bool
	DepthInverted   bool
	MVecJittered    bool

	MvecScale    [2]float32
	JitterOffset [2]float32

	MVFullResolution bool

	Caps DeviceCaps
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Dispatch runs the five steps: update + swap constants,
// schedule the ReconstructedPrevNearestDepth clear, resolve the
// permutation's pipeline, schedule the compute dispatch, and execute.
func (e *Effect) Dispatch(p Params) error {
	if _, err := resolveBinding("input_depth"); err != nil {
		return err
	}

	prev := e.consts[e.curIdx]
	next := Constants{
		RenderSize:     p.RenderSize,
		MaxRenderSize:  p.RenderSize,
		DisplaySize:    p.OutputSize,
		InputColorSize: p.RenderSize,
		JitterOffset:   p.JitterOffset,
		PrevJitterOffset: prev.JitterOffset,
		MvecScale: [2]float32{
			p.MvecScale[0] / float32(p.RenderSize.Width),
			p.MvecScale[1] / float32(p.RenderSize.Height),
		},
		PreExposure: 1.0,
	}
	if p.MVecJittered {
		next.MvecJitterCancellation = [2]float32{
			prev.JitterOffset[0] - p.JitterOffset[0],
			prev.JitterOffset[1] - p.JitterOffset[1],
		}
	}

	nextIdx := 1 - e.curIdx
	e.consts[nextIdx] = next
	e.curIdx = nextIdx

	farthest := float32(1.0)
	if p.DepthInverted {
		farthest = 0.0
	}
	p.CmdList.Schedule(gpu.Job{
		Kind: gpu.JobClear,
		Clear: &gpu.ClearJob{
			Target: p.OutReconstructedPrevDepth,
			Value:  gpu.ClearValue{Float: [4]float32{farthest, farthest, farthest, farthest}},
		},
	})

	flags := gpu.PermutationFlags(0)
	if p.ColorBuffersHDR {
		flags |= gpu.PermHDR
	}
	if p.DepthInverted {
		flags |= gpu.PermDepthInverted
	}
	if p.MVFullResolution {
		flags |= gpu.PermDisplayResMotionVectors
	}
	if p.MVecJittered {
		flags |= gpu.PermMVJitterCancellation
	}
	if p.Caps.FP16Supported {
		flags |= gpu.PermFP16Allowed
	}
	if p.Caps.Wave64Supported {
		flags |= gpu.PermWave64Forced
	}

	pipeline, err := e.cache.GetOrCompile(flags, e.compile)
	if err != nil {
		return fmt.Errorf("dilation: pipeline compile: %w", err)
	}

	groupsX := ceilDiv(p.RenderSize.Width, 8)
	groupsY := ceilDiv(p.RenderSize.Height, 8)

	p.CmdList.Schedule(gpu.Job{
		Kind: gpu.JobCompute,
		Compute: &gpu.ComputeJob{
			Pipeline: pipeline,
			GroupsX:  groupsX,
			GroupsY:  groupsY,
			GroupsZ:  1,
			Resources: []*gpu.Resource{
				p.InputDepth, p.InputMVs,
				p.OutDilatedDepth, p.OutDilatedMotionVectors, p.OutReconstructedPrevDepth,
			},
		},
	})

	if err := p.CmdList.Execute(); err != nil {
		return fmt.Errorf("dilation: execute: %w", err)
	}
	return nil
}

// compile is the Compiler the PipelineCache invokes on first use of a
// given permutation. In this model "compiling" a pipeline is resolving its
// root-signature bindings against resourceIndex; a real implementation
// would additionally select and compile the HLSL/SPIR-V variant matching
// flags.
func (e *Effect) compile(flags gpu.PermutationFlags) (*gpu.Pipeline, error) {
	for name := range resourceIndex {
		if _, err := resolveBinding(name); err != nil {
			return nil, err
		}
	}
	return &gpu.Pipeline{Flags: flags}, nil
}

// PipelineCount exposes how many permutations have been compiled, for
// tests asserting "at most one pipeline object per permutation key".
func (e *Effect) PipelineCount() int { return e.cache.Len() }
