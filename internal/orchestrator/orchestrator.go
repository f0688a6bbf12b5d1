// Package orchestrator drives one feature handle's frame-interpolation
// pipeline: the dilation effect, the optical-flow context, and the
// interpolator wrapper, chained across five shared transient textures.
package orchestrator

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/bag"
	"github.com/ngx-compat/fsrg-interposer/internal/bridge"
	"github.com/ngx-compat/fsrg-interposer/internal/config"
	"github.com/ngx-compat/fsrg-interposer/internal/dilation"
	"github.com/ngx-compat/fsrg-interposer/internal/diag"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
	"github.com/ngx-compat/fsrg-interposer/internal/interpolator"
	"github.com/ngx-compat/fsrg-interposer/internal/ngxabi"
	"github.com/ngx-compat/fsrg-interposer/internal/opticalflow"
	"github.com/ngx-compat/fsrg-interposer/internal/uimask"
)

// scratchContextCount is N from construction step 1: the shared backend's
// scratch buffer is sized for this many simultaneous effect contexts.
const scratchContextCount = 3

// CmdListFactory opens a command list against the queue+allocator the bag
// names, for the Phase 0 "no command list yet" case.
type CmdListFactory func(device gpu.Device, queue, alloc uintptr) (gpu.CmdList, error)

// Orchestrator is one feature handle's pipeline state: construction-time
// resources plus the per-dispatch transient state reset each frame.
type Orchestrator struct {
	device     gpu.Device
	swapchain  gpu.Dim2D
	cmdFactory CmdListFactory
	log        *diag.Logger
	debug      *config.Debug

	sharedBackend      *backend.Backend
	interpolatorBackend *backend.Backend

	dilationFX *dilation.Effect
	dilatedDepth, dilatedMVs, reconstructedPrevDepth gpu.Resource

	flowEngine opticalflow.Engine
	flowCtx    opticalflow.Context
	flowVector, flowSCD gpu.Resource

	interp *interpolator.Wrapper

	// radianceHistory and varianceHistory are the interpolator's two
	// alternating radiance and variance buffers; the orchestrator owns
	// their allocation (alongside its other shared textures) purely so it
	// can schedule their first-dispatch clear per the "first evaluate
	// must clear the downstream effects' history buffers" invariant.
	radianceHistory [2]gpu.Resource
	varianceHistory [2]gpu.Resource

	uiMaskFX     *uimask.Effect
	uiMaskOutput gpu.Resource

	// bridge is non-nil only when the host runs Vulkan and the facade
	// found a LUID-matched D3D12 adapter for it: the dispatch chain below
	// then runs the cross-API handoff sequence around it instead of
	// dispatching directly against the host's own device.
	bridge *bridge.Bridge

	firstDispatch bool
}

// New performs construction steps 1-5: scratch buffers, the shared
// backend, the dilation effect and its three shared textures, the
// optical-flow context and its two shared textures, and the deferred
// interpolator wrapper.
func New(device gpu.Device, swapchain gpu.Dim2D, deviceAlloc backend.DeviceAllocator, b bag.Bag, cmdFactory CmdListFactory, log *diag.Logger, debug *config.Debug, flowEngine opticalflow.Engine, interpEngine interpolator.Engine, br *bridge.Bridge) (*Orchestrator, error) {
	scratchSize := scratchContextCount * estimateContextBytes(swapchain)

	sharedBE := backend.New(scratchSize, deviceAlloc)
	backend.Wrap(sharedBE, b)

	interpBE := backend.New(scratchSize, deviceAlloc)
	backend.Wrap(interpBE, b)

	o := &Orchestrator{
		device:              device,
		swapchain:            swapchain,
		cmdFactory:           cmdFactory,
		log:                  log,
		debug:                debug,
		sharedBackend:        sharedBE,
		interpolatorBackend:  interpBE,
		dilationFX:           dilation.New(sharedBE),
		flowEngine:           flowEngine,
		bridge:               br,
		firstDispatch:        true,
	}

	var eg errgroup.Group

	dilDescs := dilation.SharedResourceDescs(swapchain)
	eg.Go(func() error {
		r, err := sharedBE.CreateResource(dilDescs[0], gpu.StateUnorderedAccess)
		if err != nil {
			return fmt.Errorf("orchestrator: DilatedDepth: %w", err)
		}
		o.dilatedDepth = r
		return nil
	})
	eg.Go(func() error {
		r, err := sharedBE.CreateResource(dilDescs[1], gpu.StateUnorderedAccess)
		if err != nil {
			return fmt.Errorf("orchestrator: DilatedMotionVectors: %w", err)
		}
		o.dilatedMVs = r
		return nil
	})
	eg.Go(func() error {
		r, err := sharedBE.CreateResource(dilDescs[2], gpu.StateUnorderedAccess)
		if err != nil {
			return fmt.Errorf("orchestrator: ReconstructedPrevNearestDepth: %w", err)
		}
		o.reconstructedPrevDepth = r
		return nil
	})

	ofDescs := opticalflow.SharedResourceDescs(swapchain)
	eg.Go(func() error {
		r, err := sharedBE.CreateResource(ofDescs[0], gpu.StateUnorderedAccess)
		if err != nil {
			return fmt.Errorf("orchestrator: OpticalFlowVector: %w", err)
		}
		o.flowVector = r
		return nil
	})
	eg.Go(func() error {
		r, err := sharedBE.CreateResource(ofDescs[1], gpu.StateUnorderedAccess)
		if err != nil {
			return fmt.Errorf("orchestrator: OpticalFlowSCD: %w", err)
		}
		o.flowSCD = r
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	flowCtx, err := flowEngine.CreateContext(sharedBE)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: optical-flow context: %w", err)
	}
	o.flowCtx = flowCtx

	o.interp = interpolator.New(interpBE, interpEngine)

	radianceNames := [2]string{"InterpolatorRadianceHistory0", "InterpolatorRadianceHistory1"}
	for i, name := range radianceNames {
		r, err := interpBE.CreateResource(backend.ResourceRequest{
			Logical: gpu.Logical2D,
			Format:  gpu.FormatRGBA16Float,
			Dim:     swapchain,
			Usage:   gpu.UsageUnorderedAccess | gpu.UsageShaderRead | gpu.UsageAliasable,
			Name:    name,
		}, gpu.StateUnorderedAccess)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %s: %w", name, err)
		}
		o.radianceHistory[i] = r
	}

	varianceNames := [2]string{"InterpolatorVarianceHistory0", "InterpolatorVarianceHistory1"}
	for i, name := range varianceNames {
		r, err := interpBE.CreateResource(backend.ResourceRequest{
			Logical: gpu.Logical2D,
			Format:  gpu.FormatR32Float,
			Dim:     swapchain,
			Usage:   gpu.UsageUnorderedAccess | gpu.UsageShaderRead | gpu.UsageAliasable,
			Name:    name,
		}, gpu.StateUnorderedAccess)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %s: %w", name, err)
		}
		o.varianceHistory[i] = r
	}

	o.uiMaskFX = uimask.New(sharedBE)
	uiMaskOutputReq := backend.ResourceRequest{
		Logical: gpu.Logical2D,
		Format:  gpu.FormatRGBA8Unorm,
		Dim:     swapchain,
		Usage:   gpu.UsageUnorderedAccess | gpu.UsageShaderRead | gpu.UsageAliasable,
		Name:    "UIMaskHUDLessColor",
	}
	uiMaskOutput, err := sharedBE.CreateResource(uiMaskOutputReq, gpu.StateUnorderedAccess)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: UIMaskHUDLessColor: %w", err)
	}
	o.uiMaskOutput = uiMaskOutput

	return o, nil
}

// estimateContextBytes is a plausible per-context scratch-buffer sizing
// function: proportional to swapchain area, matching how a real compute
// effect's scratch requirement scales with resolution rather than a fixed
// constant.
func estimateContextBytes(swapchain gpu.Dim2D) int {
	const bytesPerPixel = 16
	return swapchain.Width * swapchain.Height * bytesPerPixel
}

// DispatchInput is everything Dispatch needs from its caller: cmd/core
// reads the resource pointers out of the bag and wraps them here, while
// Dispatch itself still reads the scalar keys (EnableInterp, IsRecording,
// camera, jitter and the rest) from Bag.
type DispatchInput struct {
	Bag     bag.Bag
	CmdList gpu.CmdList // nil if IsRecording == 0 and one must be opened
	Queue, Alloc uintptr

	Backbuffer *gpu.Resource
	HUDLess    *gpu.Resource
	OutputReal *gpu.Resource
	OutputInterpolated *gpu.Resource
	Depth      *gpu.Resource
	MVecs      *gpu.Resource

	// UIMask is supplemental: when present and config.Debug.EnableUIMask
	// is on, it is consumed by the UI-mask refinement pass to synthesize
	// a HUD-less color when the host supplies none.
	UIMask *gpu.Resource
}

func degreesToRadiansIfNeeded(v float32) float32 {
	if v <= 10.0 {
		return v
	}
	return v * float32(math.Pi) / 180.0
}

// Dispatch implements the per-frame phases: early gate, measure, build
// parameter blocks, chained dispatch, back-buffer copy, close.
func (o *Orchestrator) Dispatch(in DispatchInput) error {
	b := in.Bag

	enableInterp := bag.GetUint32Or(b, bag.KeyEnableInterp, 0)
	isRecording := bag.GetUint32Or(b, bag.KeyIsRecording, 0)

	cmdList := in.CmdList
	ownsCmdList := false
	if isRecording == 0 {
		cl, err := o.cmdFactory(o.device, in.Queue, in.Alloc)
		if err != nil {
			return &ngxabi.BackendFailureError{Msg: fmt.Sprintf("open command list: %v", err)}
		}
		cmdList = cl
		ownsCmdList = true
	}
	if cmdList == nil {
		return &ngxabi.InvalidArgumentError{Msg: "no command list available"}
	}

	backbufferFrom := in.Backbuffer.State
	gpu.Barrier(cmdList, in.Backbuffer, gpu.StateShaderReadCompute)
	var outputRealFrom gpu.State
	if in.OutputReal != nil {
		outputRealFrom = in.OutputReal.State
		gpu.Barrier(cmdList, in.OutputReal, gpu.StateUnorderedAccess)
	}
	// restoreIO undoes the transitions above, returning every registered
	// I/O resource to the state it carried on entry to Dispatch (P7:
	// "externally-observed state equals its pre-call state").
	restoreIO := func() {
		gpu.Barrier(cmdList, in.Backbuffer, backbufferFrom)
		if in.OutputReal != nil {
			gpu.Barrier(cmdList, in.OutputReal, outputRealFrom)
		}
	}

	if enableInterp == 0 {
		err := o.copyBackbuffer(cmdList, in)
		restoreIO()
		if ownsCmdList {
			if cerr := cmdList.Execute(); cerr != nil && err == nil {
				err = cerr
			}
		}
		b.Set5(bag.KeyFlushRequired, 0)
		return err
	}

	if in.Depth == nil {
		restoreIO()
		return &ngxabi.InvalidArgumentError{Msg: "DLSSG.Depth missing"}
	}
	depthFrom := in.Depth.State
	gpu.Barrier(cmdList, in.Depth, gpu.StateCopyDest)

	renderSize := gpu.Dim2D{
		Width:  int(bag.GetUint32Or(b, bag.KeyDepthSubrectWidth, uint32(in.Depth.Dim.Width))),
		Height: int(bag.GetUint32Or(b, bag.KeyDepthSubrectHeight, uint32(in.Depth.Dim.Height))),
	}
	if renderSize.Width <= 32 || renderSize.Height <= 32 {
		gpu.Barrier(cmdList, in.Depth, depthFrom)
		restoreIO()
		return &ngxabi.InvalidArgumentError{Msg: fmt.Sprintf("render size %dx%d too small", renderSize.Width, renderSize.Height)}
	}

	var status error
	if o.bridge != nil {
		status = o.bridge.Handoff(func() error {
			return o.dispatchChain(cmdList, in, b, renderSize)
		})
	} else {
		status = o.dispatchChain(cmdList, in, b, renderSize)
	}

	var copyErr error
	if status == nil {
		copyIn := in
		if in.OutputInterpolated != nil && o.debug != nil && (o.debug.EnableDebugOverlay || o.debug.EnableInterpolatedFramesOnly) {
			copyIn.Backbuffer = in.OutputInterpolated
		}
		copyErr = o.copyBackbuffer(cmdList, copyIn)
	}

	gpu.Barrier(cmdList, in.Depth, depthFrom)
	restoreIO()

	if ownsCmdList {
		if cerr := cmdList.Execute(); cerr != nil && status == nil {
			status = cerr
		}
	}
	b.Set5(bag.KeyFlushRequired, 0)

	if status != nil {
		return status
	}
	return copyErr
}

// dispatchChain runs Phase 2 and Phase 3: build each effect's parameter
// block and dispatch dilation -> optical flow -> interpolator in sequence,
// stopping at the first error.
func (o *Orchestrator) dispatchChain(cmdList gpu.CmdList, in DispatchInput, b bag.Bag, renderSize gpu.Dim2D) error {
	colorHDR := bag.GetUint32Or(b, bag.KeyColorBuffersHDR, 0) != 0
	depthInverted := bag.GetUint32Or(b, bag.KeyDepthInverted, 0) != 0
	mvJittered := bag.GetUint32Or(b, bag.KeyMVecJittered, 0) != 0
	reset := bag.GetUint32Or(b, bag.KeyReset, 0) != 0

	mvFullRes := in.MVecs != nil && in.MVecs.Dim == o.swapchain

	if o.firstDispatch {
		o.clearFirstFrameBuffers(cmdList)
		o.firstDispatch = false
	}

	if in.HUDLess == nil && in.UIMask != nil && o.debug != nil && o.debug.EnableUIMask {
		uiParams := uimask.Params{
			CmdList:            cmdList,
			InputColor:         in.Backbuffer,
			InputUIMask:        in.UIMask,
			OutputHUDLessColor: &o.uiMaskOutput,
			RenderSize:         renderSize,
			HDR:                colorHDR,
			MinLuminance:       0.00001,
			MaxLuminance:       1000.0,
		}
		if err := o.uiMaskFX.Dispatch(uiParams); err != nil {
			return fmt.Errorf("orchestrator: ui-mask pass: %w", err)
		}
		in.HUDLess = &o.uiMaskOutput
	}

	dilParams := dilation.Params{
		CmdList:                   cmdList,
		InputDepth:                in.Depth,
		InputMVs:                  in.MVecs,
		OutDilatedDepth:           &o.dilatedDepth,
		OutDilatedMotionVectors:   &o.dilatedMVs,
		OutReconstructedPrevDepth: &o.reconstructedPrevDepth,
		RenderSize:                renderSize,
		OutputSize:                o.swapchain,
		ColorBuffersHDR:           colorHDR,
		DepthInverted:             depthInverted,
		MVecJittered:              mvJittered,
		MvecScale: [2]float32{
			bag.GetFloat32Or(b, bag.KeyMvecScaleX, 1.0),
			bag.GetFloat32Or(b, bag.KeyMvecScaleY, 1.0),
		},
		JitterOffset: [2]float32{
			bag.GetFloat32Or(b, bag.KeyJitterOffsetX, 0),
			bag.GetFloat32Or(b, bag.KeyJitterOffsetY, 0),
		},
		MVFullResolution: mvFullRes,
	}
	if err := o.dilationFX.Dispatch(dilParams); err != nil {
		return err
	}

	colorInput := in.HUDLess
	colorState := gpu.StateCopyDest
	if colorInput == nil {
		colorInput = in.Backbuffer
		colorState = gpu.StateShaderReadCompute
	}
	transfer := opticalflow.TransferSRGB
	if colorHDR {
		transfer = opticalflow.TransferPQ
	}
	ofParams := opticalflow.Params{
		CmdList:         cmdList,
		ColorInput:      colorInput,
		ColorInputState: colorState,
		OutVector:       &o.flowVector,
		OutSCD:          &o.flowSCD,
		Reset:           reset,
		Transfer:        transfer,
		MinLuminance:    0.00001,
		MaxLuminance:    1000.0,
	}
	if err := o.flowCtx.Dispatch(ofParams); err != nil {
		return err
	}

	prep := interpolator.PrepareDesc{
		RenderSize:             renderSize,
		OutputSize:             o.swapchain,
		DilatedDepth:           &o.dilatedDepth,
		DilatedMotionVectors:   &o.dilatedMVs,
		ReconstructedPrevDepth: &o.reconstructedPrevDepth,
		OpticalFlowVector:      &o.flowVector,
		OpticalFlowSCD:         &o.flowSCD,
		OpticalFlowBufferSize:  o.flowVector.Dim,
		OpticalFlowBlockSize:   8,
		OpticalFlowScaleX:      1.0 / float32(o.swapchain.Width),
		OpticalFlowScaleY:      1.0 / float32(o.swapchain.Height),
		CameraFOVRadians:       degreesToRadiansIfNeeded(bag.GetFloat32Or(b, bag.KeyCameraFOV, 0)),
		CameraNear:             bag.GetFloat32Or(b, bag.KeyCameraNear, 0.1),
		CameraFar:              bag.GetFloat32Or(b, bag.KeyCameraFar, 1000.0),
		ColorBuffersHDR:        colorHDR,
		DepthInverted:          depthInverted,
		Reset:                  reset,
		MinLuminance:           0.00001,
		MaxLuminance:           1000.0,
	}

	disp := interpolator.DispatchDesc{
		CmdList:            cmdList,
		HudlessInput:       in.HUDLess,
		ColorInput:         in.Backbuffer,
		InterpolatedOutput: in.OutputInterpolated,
		DebugView:          o.debug != nil && o.debug.EnableDebugOverlay,
		DebugTearLines:     o.debug != nil && o.debug.EnableDebugTearLines,
	}

	mvPreDilated := true
	depthAtInfinity := math.IsInf(float64(prep.CameraFar), 1)
	if err := o.interp.Dispatch(prep, disp, mvFullRes, mvJittered, mvPreDilated, depthAtInfinity); err != nil {
		return err
	}
	return nil
}

// clearFirstFrameBuffers satisfies the invariant that the first evaluate
// of an orchestrator must clear the two alternating radiance and variance
// buffers owned by downstream effects: it schedules four CLEAR_FLOAT jobs,
// one per history buffer, before any effect in the chain dispatches.
func (o *Orchestrator) clearFirstFrameBuffers(cmdList gpu.CmdList) {
	o.log.Once("first-dispatch-clear", diag.LevelInfo, "orchestrator: first dispatch, clearing radiance/variance history buffers")
	for i := range o.radianceHistory {
		cmdList.Schedule(gpu.Job{Kind: gpu.JobClear, Clear: &gpu.ClearJob{Target: &o.radianceHistory[i]}})
	}
	for i := range o.varianceHistory {
		cmdList.Schedule(gpu.Job{Kind: gpu.JobClear, Clear: &gpu.ClearJob{Target: &o.varianceHistory[i]}})
	}
}

// copyBackbuffer implements Phase 4: transition (dest, src) into
// (CopyDest, CopySource), schedule the copy and execute it, transition
// back.
func (o *Orchestrator) copyBackbuffer(cmdList gpu.CmdList, in DispatchInput) error {
	if in.OutputReal == nil || in.Backbuffer == nil {
		return nil
	}
	dstFrom := in.OutputReal.State
	srcFrom := in.Backbuffer.State

	gpu.Barrier(cmdList, in.OutputReal, gpu.StateCopyDest)
	gpu.Barrier(cmdList, in.Backbuffer, gpu.StateCopySource)

	cmdList.Schedule(gpu.Job{
		Kind: gpu.JobCopy,
		Copy: &gpu.CopyJob{Dst: in.OutputReal, Src: in.Backbuffer},
	})
	err := cmdList.Execute()

	gpu.Barrier(cmdList, in.OutputReal, dstFrom)
	gpu.Barrier(cmdList, in.Backbuffer, srcFrom)
	return err
}
