// Package uimask implements the optional HUD-aware refinement pass: given
// the present back-buffer and a UI mask, it produces a HUD-less color
// output, letting the interpolator use a cleaner input than the raw
// back-buffer when the host never supplies its own hudless surface. It is
// gated behind config.Debug.EnableUIMask and only ever adds a stage ahead
// of the existing pipeline; it never changes dilation, optical-flow, or
// interpolator behavior when disabled.
package uimask

import (
	"fmt"

	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

// resourceIndex mirrors the small static binding table a real
// implementation resolves shader-authored names against: input color,
// input UI mask, output HUD-less color.
var resourceIndex = map[string]int{
	"input_color":          0,
	"input_ui_mask":        1,
	"output_hudless_color": 2,
}

func resolveBinding(name string) (int, error) {
	idx, ok := resourceIndex[name]
	if !ok {
		return 0, fmt.Errorf("uimask: unmatched resource binding name %q", name)
	}
	return idx, nil
}

// Params carries one dispatch's inputs and output.
type Params struct {
	CmdList gpu.CmdList

	InputColor  *gpu.Resource
	InputUIMask *gpu.Resource

	OutputHUDLessColor *gpu.Resource

	RenderSize gpu.Dim2D

	HDR          bool
	MinLuminance float32
	MaxLuminance float32
}

// Effect holds the UI-mask pass's pipelines in a gpu.PipelineCache. The
// only permutation flag the pass sets is HDR, so at most two pipelines
// are compiled.
type Effect struct {
	be    *backend.Backend
	cache *gpu.PipelineCache
}

// New creates the UI-mask effect against be.
func New(be *backend.Backend) *Effect {
	return &Effect{be: be, cache: gpu.NewPipelineCache()}
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Dispatch resolves the pass's pipeline for the HDR flag and schedules a
// single compute dispatch producing OutputHUDLessColor.
func (e *Effect) Dispatch(p Params) error {
	for name := range resourceIndex {
		if _, err := resolveBinding(name); err != nil {
			return err
		}
	}

	flags := gpu.PermutationFlags(0)
	if p.HDR {
		flags |= gpu.PermHDR
	}

	pipeline, err := e.cache.GetOrCompile(flags, func(f gpu.PermutationFlags) (*gpu.Pipeline, error) {
		return &gpu.Pipeline{Flags: f}, nil
	})
	if err != nil {
		return fmt.Errorf("uimask: pipeline compile: %w", err)
	}

	p.CmdList.Schedule(gpu.Job{
		Kind: gpu.JobCompute,
		Compute: &gpu.ComputeJob{
			Pipeline: pipeline,
			GroupsX:  ceilDiv(p.RenderSize.Width, 8),
			GroupsY:  ceilDiv(p.RenderSize.Height, 8),
			GroupsZ:  1,
			Resources: []*gpu.Resource{
				p.InputColor, p.InputUIMask, p.OutputHUDLessColor,
			},
		},
	})
	return p.CmdList.Execute()
}
