// Package interpolator is a thin wrapper over the third-party temporal
// frame interpolator. It owns exactly two pieces of state the underlying
// effect does not manage itself: deferred context construction (the real
// context is expensive and many feature-create calls never evaluate) and
// the back-buffer-format-swap workaround described below.
package interpolator

import (
	"fmt"

	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

// PrepareDesc carries the inputs the underlying effect consumes once per
// dispatch before running.
type PrepareDesc struct {
	RenderSize gpu.Dim2D
	OutputSize gpu.Dim2D

	DilatedDepth         *gpu.Resource
	DilatedMotionVectors *gpu.Resource
	ReconstructedPrevDepth *gpu.Resource

	OpticalFlowVector *gpu.Resource
	OpticalFlowSCD    *gpu.Resource

	OpticalFlowBufferSize gpu.Dim2D
	OpticalFlowBlockSize  int
	OpticalFlowScaleX     float32
	OpticalFlowScaleY     float32

	CameraFOVRadians float32
	CameraNear       float32
	CameraFar        float32

	ColorBuffersHDR bool
	DepthInverted   bool
	Reset           bool

	MinLuminance float32
	MaxLuminance float32
}

// DispatchDesc carries the per-frame identity fields the underlying effect
// expects alongside the color and output surfaces.
type DispatchDesc struct {
	CmdList gpu.CmdList

	HudlessInput *gpu.Resource
	ColorInput   *gpu.Resource

	InterpolatedOutput *gpu.Resource

	FrameID        uint32
	FrameTimeDelta float32

	DebugView      bool
	DebugTearLines bool
}

// Engine is the collaborator interface for the real third-party
// interpolator.
type Engine interface {
	CreateContext(be *backend.Backend, flags gpu.PermutationFlags, backBufferFormat gpu.Format) (Context, error)
}

// Context is one interpolator session. PrevSourceFormat/SetPrevSource
// exist solely to support the format-swap workaround: the real effect
// asserts its internal "previous interpolation source" texture's format
// never changes underneath it.
type Context interface {
	Prepare(d PrepareDesc) error
	Dispatch(d DispatchDesc) error
	PrevSourceFormat() gpu.Format
	SetPrevSource(r *gpu.Resource)
}

// Wrapper defers context creation to first dispatch and manages the
// backup previous-interpolation-source texture used when the input format
// changes mid-session.
type Wrapper struct {
	engine Engine
	be     *backend.Backend

	ctx              Context
	backBufferFormat gpu.Format

	backup        *gpu.Resource
	usingBackup   bool
	originalPrev  *gpu.Resource
}

// New creates a Wrapper against be using engine. No interpolator context
// is created yet.
func New(be *backend.Backend, engine Engine) *Wrapper {
	return &Wrapper{be: be, engine: engine}
}

// deriveFlags builds the context-creation permutation from the first
// dispatch's parameters, per the flags the underlying effect reads at
// construction: HDR color, inverted depth, depth at infinity, MVs
// pre-dilated, MV jitter cancellation, MVs at display resolution.
func deriveFlags(p PrepareDesc, mvFullRes, mvJitterCancellation, mvPreDilated, depthAtInfinity bool) gpu.PermutationFlags {
	var f gpu.PermutationFlags
	if p.ColorBuffersHDR {
		f |= gpu.PermHDR
	}
	if p.DepthInverted {
		f |= gpu.PermDepthInverted
	}
	if depthAtInfinity {
		f |= gpu.PermDepthAtInfinity
	}
	if mvPreDilated {
		f |= gpu.PermMVPreDilated
	}
	if mvJitterCancellation {
		f |= gpu.PermMVJitterCancellation
	}
	if mvFullRes {
		f |= gpu.PermDisplayResMotionVectors
	}
	return f
}

// ensureContext lazily creates the underlying interpolator context on
// first dispatch. colorInputFormat is the format of whichever of
// hudless/color-input is present; it becomes the memorized back-buffer
// format the format-swap workaround compares future frames against.
func (w *Wrapper) ensureContext(p PrepareDesc, colorInputFormat gpu.Format, mvFullRes, mvJitterCancellation, mvPreDilated, depthAtInfinity bool) error {
	if w.ctx != nil {
		return nil
	}
	flags := deriveFlags(p, mvFullRes, mvJitterCancellation, mvPreDilated, depthAtInfinity)
	ctx, err := w.engine.CreateContext(w.be, flags, colorInputFormat)
	if err != nil {
		return fmt.Errorf("interpolator: context creation: %w", err)
	}
	w.ctx = ctx
	w.backBufferFormat = colorInputFormat
	return nil
}

// reconcileFormat implements the format-swap workaround: if source's
// format no longer matches the memorized back-buffer format, a backup
// previous-interpolation-source texture at the new format is allocated
// once and swapped into the context's slot by handle replacement, no
// content copy. When the original format returns, the original texture is
// swapped back in, also by handle replacement.
func (w *Wrapper) reconcileFormat(source *gpu.Resource) error {
	if source.Format == w.backBufferFormat {
		if w.usingBackup {
			w.ctx.SetPrevSource(w.originalPrev)
			w.usingBackup = false
		}
		return nil
	}

	if w.backup == nil || w.backup.Format != source.Format {
		req := backend.ResourceRequest{
			Logical: gpu.Logical2D,
			Format:  source.Format,
			Dim:     source.Dim,
			Usage:   gpu.UsageShaderRead | gpu.UsageUnorderedAccess,
			Name:    "InterpolatorPrevSourceBackup",
		}
		r, err := w.be.CreateResource(req, gpu.StateShaderReadCompute)
		if err != nil {
			return fmt.Errorf("interpolator: backup prev-source allocation: %w", err)
		}
		w.backup = &r
	}
	if !w.usingBackup {
		w.originalPrev = nil
	}
	w.ctx.SetPrevSource(w.backup)
	w.usingBackup = true
	return nil
}

// Dispatch runs one frame: ensures the context exists, reconciles the
// format-swap workaround against whichever of hudless/color input is
// present, then calls the underlying effect's Prepare then Dispatch.
func (w *Wrapper) Dispatch(prep PrepareDesc, disp DispatchDesc, mvFullRes, mvJitterCancellation, mvPreDilated, depthAtInfinity bool) error {
	source := disp.HudlessInput
	if source == nil {
		source = disp.ColorInput
	}
	if source == nil {
		return fmt.Errorf("interpolator: neither hudless-input nor color-input present")
	}

	if err := w.ensureContext(prep, source.Format, mvFullRes, mvJitterCancellation, mvPreDilated, depthAtInfinity); err != nil {
		return err
	}
	if err := w.reconcileFormat(source); err != nil {
		return err
	}

	if err := w.ctx.Prepare(prep); err != nil {
		return fmt.Errorf("interpolator: prepare: %w", err)
	}
	disp.FrameID = 0
	disp.FrameTimeDelta = 1000.0 / 60.0
	if err := w.ctx.Dispatch(disp); err != nil {
		return fmt.Errorf("interpolator: dispatch: %w", err)
	}
	return nil
}
