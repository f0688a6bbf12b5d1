package orchestrator

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/bag"
	"github.com/ngx-compat/fsrg-interposer/internal/bridge"
	"github.com/ngx-compat/fsrg-interposer/internal/config"
	"github.com/ngx-compat/fsrg-interposer/internal/diag"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
	"github.com/ngx-compat/fsrg-interposer/internal/interpolator"
	"github.com/ngx-compat/fsrg-interposer/internal/opticalflow"
)

type fakeAdapterFinder struct{ device bridge.D3D12Device }

func (f fakeAdapterFinder) FindAdapterByLUID(luid [8]byte) (bridge.D3D12Device, error) {
	return f.device, nil
}

func newTestBridge(t *testing.T, onSignal, onWait func()) *bridge.Bridge {
	t.Helper()
	sync := bridge.SyncCallbacks{
		CreateTimelineObjects: func() error { return nil },
		Signal:                func(fenceID int, value uint64) error { onSignal(); return nil },
		Wait:                  func(fenceID int, value uint64) error { onWait(); return nil },
		Flush:                 func() error { return nil },
	}
	br, err := bridge.New(vk.PhysicalDevice(nil), vk.Device(nil), [8]byte{}, fakeAdapterFinder{}, sync)
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	return br
}

type fakeAllocator struct{}

func (fakeAllocator) CreateResource(req backend.ResourceRequest, state gpu.State) (gpu.Resource, error) {
	return gpu.Resource{Format: req.Format, Dim: req.Dim, Usage: req.Usage, State: state, Name: req.Name}, nil
}
func (fakeAllocator) DestroyResource(r *gpu.Resource) error { return nil }

type fakeBag struct {
	u32 map[string]uint32
	f32 map[string]float32
}

func newFakeBag() *fakeBag {
	return &fakeBag{u32: make(map[string]uint32), f32: make(map[string]float32)}
}

func (b *fakeBag) SetVoidPointer(string, unsafe.Pointer) bag.Status { return bag.StatusOK }
func (b *fakeBag) GetVoidPointer(string) (unsafe.Pointer, bag.Status) {
	return nil, bag.StatusNotFound
}
func (b *fakeBag) Set4(name string, v uint32) bag.Status { b.u32[name] = v; return bag.StatusOK }
func (b *fakeBag) Set5(name string, v uint32) bag.Status { b.u32[name] = v; return bag.StatusOK }
func (b *fakeBag) Get5(name string) (uint32, bag.Status) {
	v, ok := b.u32[name]
	if !ok {
		return 0, bag.StatusNotFound
	}
	return v, bag.StatusOK
}
func (b *fakeBag) Get7(name string) (float32, bag.Status) {
	v, ok := b.f32[name]
	if !ok {
		return 0, bag.StatusNotFound
	}
	return v, bag.StatusOK
}

func testCmdFactory(device gpu.Device, queue, alloc uintptr) (gpu.CmdList, error) {
	return gpu.NewSimpleCmdList(), nil
}

func newTestOrchestrator(t *testing.T, swapchain gpu.Dim2D, debug *config.Debug) (*Orchestrator, *fakeBag) {
	t.Helper()
	return newTestOrchestratorWithBridge(t, swapchain, debug, nil)
}

func newTestOrchestratorWithBridge(t *testing.T, swapchain gpu.Dim2D, debug *config.Debug, br *bridge.Bridge) (*Orchestrator, *fakeBag) {
	t.Helper()
	b := newFakeBag()
	log := diag.Open(t.TempDir())
	o, err := New(gpu.Device{}, swapchain, fakeAllocator{}, b, testCmdFactory, log, debug,
		opticalflow.NewStubEngine(), interpolator.NewStubEngine(), br)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, b
}

func basicInput(b bag.Bag, cl gpu.CmdList, swapchain gpu.Dim2D) DispatchInput {
	return DispatchInput{
		Bag:        b,
		CmdList:    cl,
		Backbuffer: &gpu.Resource{Dim: swapchain, Format: gpu.FormatRGBA8Unorm},
		OutputReal: &gpu.Resource{Dim: swapchain, Format: gpu.FormatRGBA8Unorm},
		Depth:      &gpu.Resource{Dim: swapchain, Format: gpu.FormatR32Float},
		MVecs:      &gpu.Resource{Dim: swapchain, Format: gpu.FormatRG16Float},
	}
}

func TestNewCreatesAllSharedResourcesAtSwapchainResolution(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 1920, Height: 1080}
	o, _ := newTestOrchestrator(t, swapchain, &config.Debug{})

	if o.dilatedDepth.Dim != swapchain {
		t.Errorf("dilatedDepth dim = %+v, want %+v", o.dilatedDepth.Dim, swapchain)
	}
	if o.flowVector.Dim.Width != (swapchain.Width+1)/2 {
		t.Errorf("flowVector width = %d, want half-resolution", o.flowVector.Dim.Width)
	}
}

func TestDispatchWithInterpolationDisabledOnlyCopiesBackbuffer(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestrator(t, swapchain, &config.Debug{})
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	b.Set5(bag.KeyIsRecording, 1)

	if err := o.Dispatch(in); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if cl.ExecuteCount == 0 {
		t.Error("ExecuteCount = 0, want at least 1 (back-buffer copy executed)")
	}
	if v, _ := b.Get5(bag.KeyFlushRequired); v != 0 {
		t.Errorf("KeyFlushRequired = %d, want 0", v)
	}
}

func TestDispatchWithInterpolationEnabledRunsFullChain(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestrator(t, swapchain, &config.Debug{})
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	in.OutputInterpolated = &gpu.Resource{Dim: swapchain, Format: gpu.FormatRGBA8Unorm}
	b.Set5(bag.KeyIsRecording, 1)
	b.Set5(bag.KeyEnableInterp, 1)

	if err := o.Dispatch(in); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestDispatchRejectsMissingDepthWhenInterpolationEnabled(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestrator(t, swapchain, &config.Debug{})
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	in.Depth = nil
	b.Set5(bag.KeyIsRecording, 1)
	b.Set5(bag.KeyEnableInterp, 1)

	if err := o.Dispatch(in); err == nil {
		t.Fatal("Dispatch returned nil error with Depth missing and interpolation enabled")
	}
}

func TestDispatchRejectsTooSmallRenderSize(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestrator(t, swapchain, &config.Debug{})
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	in.Depth = &gpu.Resource{Dim: gpu.Dim2D{Width: 16, Height: 16}, Format: gpu.FormatR32Float}
	b.Set5(bag.KeyIsRecording, 1)
	b.Set5(bag.KeyEnableInterp, 1)
	b.Set5(bag.KeyDepthSubrectWidth, 16)
	b.Set5(bag.KeyDepthSubrectHeight, 16)

	if err := o.Dispatch(in); err == nil {
		t.Fatal("Dispatch returned nil error for a 16x16 render size")
	}
}

func TestDispatchOpensOwnCmdListWhenNotRecording(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestrator(t, swapchain, &config.Debug{})
	in := basicInput(b, nil, swapchain)

	if err := o.Dispatch(in); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestClearFirstFrameBuffersSchedulesFourClearJobsAgainstHistoryBuffers(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, _ := newTestOrchestrator(t, swapchain, &config.Debug{})
	cl := gpu.NewSimpleCmdList()

	o.clearFirstFrameBuffers(cl)

	if len(cl.Jobs) != 4 {
		t.Fatalf("clearFirstFrameBuffers scheduled %d jobs, want 4", len(cl.Jobs))
	}
	wantTargets := map[*gpu.Resource]bool{
		&o.radianceHistory[0]: true, &o.radianceHistory[1]: true,
		&o.varianceHistory[0]: true, &o.varianceHistory[1]: true,
	}
	for _, j := range cl.Jobs {
		if j.Kind != gpu.JobClear {
			t.Errorf("job kind = %v, want JobClear", j.Kind)
		}
		if j.Clear == nil || !wantTargets[j.Clear.Target] {
			t.Errorf("clear target %p is not one of the radiance/variance history buffers", j.Clear.Target)
		}
	}
}

func TestDispatchWithInterpolationDisabledRestoresPreCallResourceStates(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestrator(t, swapchain, &config.Debug{})
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	in.Backbuffer.State = gpu.StateRenderTarget
	in.OutputReal.State = gpu.StateShaderReadPixel
	b.Set5(bag.KeyIsRecording, 1)

	if err := o.Dispatch(in); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if in.Backbuffer.State != gpu.StateRenderTarget {
		t.Errorf("Backbuffer.State = %v after Dispatch, want restored to RenderTarget", in.Backbuffer.State)
	}
	if in.OutputReal.State != gpu.StateShaderReadPixel {
		t.Errorf("OutputReal.State = %v after Dispatch, want restored to ShaderReadPixel", in.OutputReal.State)
	}
}

func TestDispatchWithInterpolationEnabledRestoresPreCallResourceStatesIncludingDepth(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestrator(t, swapchain, &config.Debug{})
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	in.OutputInterpolated = &gpu.Resource{Dim: swapchain, Format: gpu.FormatRGBA8Unorm}
	in.Backbuffer.State = gpu.StateRenderTarget
	in.OutputReal.State = gpu.StateShaderReadPixel
	in.Depth.State = gpu.StateShaderReadPixel
	b.Set5(bag.KeyIsRecording, 1)
	b.Set5(bag.KeyEnableInterp, 1)

	if err := o.Dispatch(in); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if in.Backbuffer.State != gpu.StateRenderTarget {
		t.Errorf("Backbuffer.State = %v after Dispatch, want restored to RenderTarget", in.Backbuffer.State)
	}
	if in.OutputReal.State != gpu.StateShaderReadPixel {
		t.Errorf("OutputReal.State = %v after Dispatch, want restored to ShaderReadPixel", in.OutputReal.State)
	}
	if in.Depth.State != gpu.StateShaderReadPixel {
		t.Errorf("Depth.State = %v after Dispatch, want restored to ShaderReadPixel", in.Depth.State)
	}
}

func TestDispatchWithBridgeRunsDispatchChainInsideHandoff(t *testing.T) {
	var signaled, waited bool
	br := newTestBridge(t, func() { signaled = true }, func() { waited = true })

	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestratorWithBridge(t, swapchain, &config.Debug{}, br)
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	in.OutputInterpolated = &gpu.Resource{Dim: swapchain, Format: gpu.FormatRGBA8Unorm}
	b.Set5(bag.KeyIsRecording, 1)
	b.Set5(bag.KeyEnableInterp, 1)

	if err := o.Dispatch(in); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !signaled {
		t.Error("bridge Signal (S1) was not called during Dispatch")
	}
	if !waited {
		t.Error("bridge Wait (S4) was not called during Dispatch")
	}
}

func TestDispatchWithoutInterpolationNeverTouchesBridge(t *testing.T) {
	var signaled bool
	br := newTestBridge(t, func() { signaled = true }, func() {})

	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestratorWithBridge(t, swapchain, &config.Debug{}, br)
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	b.Set5(bag.KeyIsRecording, 1)

	if err := o.Dispatch(in); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if signaled {
		t.Error("bridge Signal was called even though interpolation was disabled")
	}
}

func TestDispatchFirstCallClearsFirstFrameBuffersOnlyOnce(t *testing.T) {
	swapchain := gpu.Dim2D{Width: 256, Height: 256}
	o, b := newTestOrchestrator(t, swapchain, &config.Debug{})
	b.Set5(bag.KeyIsRecording, 1)
	b.Set5(bag.KeyEnableInterp, 1)

	if !o.firstDispatch {
		t.Fatal("firstDispatch false before any Dispatch call")
	}
	cl := gpu.NewSimpleCmdList()
	in := basicInput(b, cl, swapchain)
	in.OutputInterpolated = &gpu.Resource{Dim: swapchain, Format: gpu.FormatRGBA8Unorm}
	if err := o.Dispatch(in); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if o.firstDispatch {
		t.Error("firstDispatch still true after the first Dispatch call")
	}
}
