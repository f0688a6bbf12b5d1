// Package facade implements the vendor-ABI-compatible surface: a
// process-wide device-state slot and a feature-handle map keyed by a
// monotonically-increasing internal ID, backing the exported
// NVSDK_NGX_{D3D12,VULKAN,D3D11}_* functions in cmd/core.
package facade

import (
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/bag"
	"github.com/ngx-compat/fsrg-interposer/internal/bridge"
	"github.com/ngx-compat/fsrg-interposer/internal/config"
	"github.com/ngx-compat/fsrg-interposer/internal/diag"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
	"github.com/ngx-compat/fsrg-interposer/internal/interpolator"
	"github.com/ngx-compat/fsrg-interposer/internal/ngxabi"
	"github.com/ngx-compat/fsrg-interposer/internal/opticalflow"
	"github.com/ngx-compat/fsrg-interposer/internal/orchestrator"
)

// sentinelArchitecture is the fixed modern-GPU sentinel the facade reports
// out of GetFeatureRequirements, matching the value the vendor-API
// interceptor rewrites older architectures to.
const sentinelArchitecture = 0x190 // "Ada"-generation sentinel

const estimatedVRAMBytes = 300 * 1024 * 1024

// FeatureHandle identifies one orchestrator. Identity is InternalID alone;
// Kind is carried only for host-visible bookkeeping.
type FeatureHandle struct {
	InternalID uint32
	Kind       uint32
}

// Deps bundles the constructor inputs an Orchestrator needs that the
// facade itself does not own: the device allocator, command-list opener,
// logger, debug settings, and the two effect engines.
type Deps struct {
	DeviceAllocator backend.DeviceAllocator
	CmdFactory      orchestrator.CmdListFactory
	Log             *diag.Logger
	Debug           *config.Debug
	FlowEngine      opticalflow.Engine
	InterpEngine    interpolator.Engine

	// BridgeAdapterFinder and BridgeSync back the optional VK->DX bridge,
	// activated by InitVulkan when the host's Vulkan device reports a
	// valid LUID. Leaving BridgeAdapterFinder nil (the default, native
	// D3D12 hosts never set it) disables the bridge entirely: InitVulkan
	// then behaves exactly like Init plus the physical-device handle.
	BridgeAdapterFinder bridge.D3D12AdapterFinder
	BridgeSync          bridge.SyncCallbacks
}

// Facade holds the process-wide device state and the feature-handle map.
// Device state is write-once (by Init) and read-many thereafter; the map
// is reader/writer locked per the handle-lifecycle invariant: create and
// release are writer-locked, evaluate is reader-locked and holds its
// shared reference for the call's duration, which in Go falls out of the
// garbage collector keeping the orchestrator reachable through the local
// variable even if a concurrent Release removes the map entry underneath
// it.
type Facade struct {
	deps Deps

	deviceOnce sync.Once
	device     gpu.Device
	bridge     *bridge.Bridge

	mu       sync.RWMutex
	features map[uint32]*orchestrator.Orchestrator

	nextID uint32
}

// New creates a Facade. No device is known yet; Init must be called first.
func New(deps Deps) *Facade {
	return &Facade{
		deps:     deps,
		features: make(map[uint32]*orchestrator.Orchestrator),
	}
}

// Init stores the logical device (and, for Vulkan, the physical device)
// in the process-wide slot. It is a write-once operation: subsequent
// calls are accepted but do not change the stored device, matching "no
// allocation" and the single-process-lifetime assumption.
func (f *Facade) Init(native uintptr) ngxabi.Status {
	f.deviceOnce.Do(func() {
		f.device = gpu.Device{Native: native}
	})
	return ngxabi.Success
}

// InitVulkan is Init's Vulkan variant: it additionally records the
// physical device handle and, when the host has supplied a
// BridgeAdapterFinder, activates the VK->DX bridge for a LUID-matched
// D3D12 adapter.
func (f *Facade) InitVulkan(native, physicalNative uintptr) ngxabi.Status {
	f.deviceOnce.Do(func() {
		f.device = gpu.Device{Native: native, PhysicalNative: physicalNative}
		f.activateBridge(vk.Device(native), vk.PhysicalDevice(physicalNative))
	})
	return ngxabi.Success
}

// activateBridge builds the VK->DX bridge when the host runs Vulkan and
// reports a valid device LUID; failures are logged and leave the bridge
// disabled rather than failing InitVulkan, matching the ABI's "no
// allocation, no host-visible failure" contract for device registration.
func (f *Facade) activateBridge(vkDevice vk.Device, vkPhysicalDevice vk.PhysicalDevice) {
	if f.deps.BridgeAdapterFinder == nil {
		return
	}
	luid, ok := bridge.QueryPhysicalDeviceLUID(vkPhysicalDevice)
	if !ok {
		f.deps.Log.Warn("facade: Vulkan device reports no valid LUID, VK->DX bridge not activated")
		return
	}
	br, err := bridge.New(vkPhysicalDevice, vkDevice, luid, f.deps.BridgeAdapterFinder, f.deps.BridgeSync)
	if err != nil {
		f.deps.Log.Error("facade: VK->DX bridge activation: %v", err)
		return
	}
	f.bridge = br
}

// PopulateParameters writes MustCallEval = 1 and BurstCaptureRunning = 0
// into b. It installs no get-current-settings or estimate-vram callback
// pointer into b.
func (f *Facade) PopulateParameters(b bag.Bag) ngxabi.Status {
	b.Set5(bag.KeyMustCallEval, 1)
	b.Set5(bag.KeyBurstCaptureRunning, 0)
	return ngxabi.Success
}

// EstimateVRAMBytes returns the fixed VRAM estimate this facade reports.
// The value is not written into the parameter bag.
func (f *Facade) EstimateVRAMBytes() uint32 { return estimatedVRAMBytes }

// FeatureRequirements is what GetFeatureRequirements writes back.
type FeatureRequirements struct {
	Flags        uint32
	Architecture uint32
	OSVersion    string
}

// GetFeatureRequirements reports a zeroed flags field, the fixed
// architecture sentinel, and a fixed OS version string.
func (f *Facade) GetFeatureRequirements() (FeatureRequirements, ngxabi.Status) {
	return FeatureRequirements{
		Flags:        0,
		Architecture: sentinelArchitecture,
		OSVersion:    "10.0.0",
	}, ngxabi.Success
}

// GetScratchBufferSize always reports zero: this system never asks the
// host to pre-allocate scratch memory on its behalf.
func (f *Facade) GetScratchBufferSize() (uint32, ngxabi.Status) {
	return 0, ngxabi.Success
}

// CreateFeature reads Width/Height from b, constructs an orchestrator,
// assigns it a fresh handle, and writes DLSSG.MustCallEval=1. Any error
// (including a panic recovered from orchestrator construction) is logged
// and reported as FeatureNotFound, matching the ABI's "no feature created"
// contract — CreateFeature never partially registers a handle.
func (f *Facade) CreateFeature(b bag.Bag, kind uint32) (handle FeatureHandle, status ngxabi.Status) {
	defer func() {
		if r := recover(); r != nil {
			f.deps.Log.Error("facade: CreateFeature panic: %v", r)
			status = ngxabi.FeatureNotFound
		}
	}()

	width := bag.GetUint32Or(b, bag.KeyWidth, 0)
	height := bag.GetUint32Or(b, bag.KeyHeight, 0)
	if width == 0 || height == 0 {
		f.deps.Log.Warn("facade: CreateFeature missing Width/Height")
		return FeatureHandle{}, ngxabi.FeatureNotFound
	}
	swapchain := gpu.Dim2D{Width: int(width), Height: int(height)}

	orch, err := orchestrator.New(f.device, swapchain, f.deps.DeviceAllocator, b, f.deps.CmdFactory, f.deps.Log, f.deps.Debug, f.deps.FlowEngine, f.deps.InterpEngine, f.bridge)
	if err != nil {
		f.deps.Log.Error("facade: CreateFeature orchestrator construction: %v", err)
		return FeatureHandle{}, ngxabi.FeatureNotFound
	}

	id := atomic.AddUint32(&f.nextID, 1)

	f.mu.Lock()
	f.features[id] = orch
	f.mu.Unlock()

	b.Set5(bag.KeyMustCallEval, 1)

	return FeatureHandle{InternalID: id, Kind: kind}, ngxabi.Success
}

// EvaluateFeature looks up the orchestrator under a read lock, holding
// its reference for the call's duration, then dispatches one frame.
func (f *Facade) EvaluateFeature(handle FeatureHandle, in orchestrator.DispatchInput) ngxabi.Status {
	f.mu.RLock()
	orch, ok := f.features[handle.InternalID]
	f.mu.RUnlock()
	if !ok {
		return ngxabi.FeatureNotFound
	}

	err := orch.Dispatch(in)
	if err != nil {
		f.deps.Log.Warn("facade: EvaluateFeature(%d): %v", handle.InternalID, err)
	}
	return ngxabi.ToStatus(err)
}

// ReleaseFeature removes the handle's map entry. The Go garbage collector
// finalizes the orchestrator once every in-flight EvaluateFeature holding
// a local reference returns; the handle value itself is not reused or
// freed.
func (f *Facade) ReleaseFeature(handle FeatureHandle) ngxabi.Status {
	f.mu.Lock()
	delete(f.features, handle.InternalID)
	f.mu.Unlock()
	return ngxabi.Success
}

// Shutdown and Shutdown1 are no-ops; nothing process-wide needs tearing
// down between feature lifetimes.
func (f *Facade) Shutdown() ngxabi.Status  { return ngxabi.Success }
func (f *Facade) Shutdown1() ngxabi.Status { return ngxabi.Success }

// D3D11Stub answers every D3D11 entry point with success, since D3D11 is
// not supported as a backing API; returning an error here would abort the
// host rather than simply leave frame generation unavailable.
func D3D11Stub() ngxabi.Status { return ngxabi.Success }

// FeatureCount exposes the live handle count for tests and diagnostics.
func (f *Facade) FeatureCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.features)
}
