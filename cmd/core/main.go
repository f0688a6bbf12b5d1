//go:build windows

// Command core is the interposer's second stage: a c-shared library
// loaded in place of the vendor's frame-generation implementation DLL. It
// exports the vendor's ABI-compatible entry points and delegates every
// call to internal/facade.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/bag"
	"github.com/ngx-compat/fsrg-interposer/internal/config"
	"github.com/ngx-compat/fsrg-interposer/internal/diag"
	"github.com/ngx-compat/fsrg-interposer/internal/facade"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
	"github.com/ngx-compat/fsrg-interposer/internal/interpolator"
	"github.com/ngx-compat/fsrg-interposer/internal/ngxabi"
	"github.com/ngx-compat/fsrg-interposer/internal/opticalflow"
	"github.com/ngx-compat/fsrg-interposer/internal/orchestrator"
)

const coreFileName = "fsrg_interposer_core.dll"

var app *facade.Facade

// unsupportedAllocator is the fallback DeviceAllocator used only when the
// host has not supplied ResourceAllocCallback/ResourceReleaseCallback;
// this system's entire resource model assumes a host-provided allocator,
// so the fallback exists only to satisfy backend.New's constructor and
// reports a clear failure rather than touching any native device.
type unsupportedAllocator struct{}

func (unsupportedAllocator) CreateResource(req backend.ResourceRequest, state gpu.State) (gpu.Resource, error) {
	return gpu.Resource{}, &unsupportedAllocatorError{name: req.Name}
}

func (unsupportedAllocator) DestroyResource(r *gpu.Resource) error { return nil }

type unsupportedAllocatorError struct{ name string }

func (e *unsupportedAllocatorError) Error() string {
	return "backend: no host resource allocator installed for " + e.name
}

func modulePath() string {
	handle, err := windows.GetModuleHandle(coreFileName)
	if err != nil {
		return "."
	}
	var buf [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileName(handle, &buf[0], uint32(len(buf)))
	if err != nil || n == 0 {
		return "."
	}
	return filepath.Dir(windows.UTF16ToString(buf[:n]))
}

func init() {
	dir := modulePath()
	log := diag.Open(dir)
	debug, err := config.Load(dir)
	if err != nil {
		log.Warn("core: config load: %v", err)
		debug = &config.Debug{}
	}

	cmdFactory := func(device gpu.Device, queue, alloc uintptr) (gpu.CmdList, error) {
		return gpu.NewSimpleCmdList(), nil
	}

	app = facade.New(facade.Deps{
		DeviceAllocator: unsupportedAllocator{},
		CmdFactory:      cmdFactory,
		Log:             log,
		Debug:           debug,
		FlowEngine:      opticalflow.NewStubEngine(),
		InterpEngine:    interpolator.NewStubEngine(),
	})
}

func statusOf(s ngxabi.Status) C.uint32_t { return C.uint32_t(s) }

//export NVSDK_NGX_D3D12_Init
func NVSDK_NGX_D3D12_Init(device unsafe.Pointer) C.uint32_t {
	return statusOf(app.Init(uintptr(device)))
}

//export NVSDK_NGX_D3D12_Init_Ext
func NVSDK_NGX_D3D12_Init_Ext(device unsafe.Pointer) C.uint32_t {
	return statusOf(app.Init(uintptr(device)))
}

//export NVSDK_NGX_VULKAN_Init
func NVSDK_NGX_VULKAN_Init(device, physicalDevice unsafe.Pointer) C.uint32_t {
	return statusOf(app.InitVulkan(uintptr(device), uintptr(physicalDevice)))
}

//export NVSDK_NGX_VULKAN_Init_Ext
func NVSDK_NGX_VULKAN_Init_Ext(device, physicalDevice unsafe.Pointer) C.uint32_t {
	return statusOf(app.InitVulkan(uintptr(device), uintptr(physicalDevice)))
}

//export NVSDK_NGX_VULKAN_Init_Ext2
func NVSDK_NGX_VULKAN_Init_Ext2(device, physicalDevice unsafe.Pointer) C.uint32_t {
	return statusOf(app.InitVulkan(uintptr(device), uintptr(physicalDevice)))
}

//export NVSDK_NGX_D3D11_Init
func NVSDK_NGX_D3D11_Init(device unsafe.Pointer) C.uint32_t {
	return statusOf(facade.D3D11Stub())
}

func populateParameters(params unsafe.Pointer) C.uint32_t {
	return statusOf(app.PopulateParameters(newCgoBag(params)))
}

//export NVSDK_NGX_D3D12_PopulateParameters_Impl
func NVSDK_NGX_D3D12_PopulateParameters_Impl(params unsafe.Pointer) C.uint32_t {
	return populateParameters(params)
}

//export NVSDK_NGX_VULKAN_PopulateParameters_Impl
func NVSDK_NGX_VULKAN_PopulateParameters_Impl(params unsafe.Pointer) C.uint32_t {
	return populateParameters(params)
}

//export NVSDK_NGX_D3D11_PopulateParameters_Impl
func NVSDK_NGX_D3D11_PopulateParameters_Impl(params unsafe.Pointer) C.uint32_t {
	return statusOf(facade.D3D11Stub())
}

func getFeatureRequirements(outFlags, outArch *C.uint32_t, outOSVersion *C.char, outOSVersionLen C.int) C.uint32_t {
	reqs, status := app.GetFeatureRequirements()
	if outFlags != nil {
		*outFlags = C.uint32_t(reqs.Flags)
	}
	if outArch != nil {
		*outArch = C.uint32_t(reqs.Architecture)
	}
	if outOSVersion != nil && outOSVersionLen > 0 {
		copyStringToCBuf(outOSVersion, int(outOSVersionLen), reqs.OSVersion)
	}
	return statusOf(status)
}

func copyStringToCBuf(dst *C.char, n int, s string) {
	buf := (*[1 << 20]C.char)(unsafe.Pointer(dst))[:n:n]
	i := 0
	for ; i < len(s) && i < n-1; i++ {
		buf[i] = C.char(s[i])
	}
	if i < n {
		buf[i] = 0
	}
}

//export NVSDK_NGX_D3D12_GetFeatureRequirements
func NVSDK_NGX_D3D12_GetFeatureRequirements(outFlags, outArch *C.uint32_t, outOSVersion *C.char, outOSVersionLen C.int) C.uint32_t {
	return getFeatureRequirements(outFlags, outArch, outOSVersion, outOSVersionLen)
}

//export NVSDK_NGX_VULKAN_GetFeatureRequirements
func NVSDK_NGX_VULKAN_GetFeatureRequirements(outFlags, outArch *C.uint32_t, outOSVersion *C.char, outOSVersionLen C.int) C.uint32_t {
	return getFeatureRequirements(outFlags, outArch, outOSVersion, outOSVersionLen)
}

//export NVSDK_NGX_D3D11_GetFeatureRequirements
func NVSDK_NGX_D3D11_GetFeatureRequirements(outFlags, outArch *C.uint32_t, outOSVersion *C.char, outOSVersionLen C.int) C.uint32_t {
	return getFeatureRequirements(outFlags, outArch, outOSVersion, outOSVersionLen)
}

func getScratchBufferSize(outSize *C.uint64_t) C.uint32_t {
	size, status := app.GetScratchBufferSize()
	if outSize != nil {
		*outSize = C.uint64_t(size)
	}
	return statusOf(status)
}

//export NVSDK_NGX_D3D12_GetScratchBufferSize
func NVSDK_NGX_D3D12_GetScratchBufferSize(outSize *C.uint64_t) C.uint32_t {
	return getScratchBufferSize(outSize)
}

//export NVSDK_NGX_VULKAN_GetScratchBufferSize
func NVSDK_NGX_VULKAN_GetScratchBufferSize(outSize *C.uint64_t) C.uint32_t {
	return getScratchBufferSize(outSize)
}

//export NVSDK_NGX_D3D11_GetScratchBufferSize
func NVSDK_NGX_D3D11_GetScratchBufferSize(outSize *C.uint64_t) C.uint32_t {
	return getScratchBufferSize(outSize)
}

func createFeature(params unsafe.Pointer, kind C.uint32_t, outHandle *C.uint32_t) C.uint32_t {
	handle, status := app.CreateFeature(newCgoBag(params), uint32(kind))
	if outHandle != nil {
		*outHandle = C.uint32_t(handle.InternalID)
	}
	return statusOf(status)
}

//export NVSDK_NGX_D3D12_CreateFeature
func NVSDK_NGX_D3D12_CreateFeature(kind C.uint32_t, params unsafe.Pointer, outHandle *C.uint32_t) C.uint32_t {
	return createFeature(params, kind, outHandle)
}

//export NVSDK_NGX_VULKAN_CreateFeature
func NVSDK_NGX_VULKAN_CreateFeature(kind C.uint32_t, params unsafe.Pointer, outHandle *C.uint32_t) C.uint32_t {
	return createFeature(params, kind, outHandle)
}

//export NVSDK_NGX_VULKAN_CreateFeature1
func NVSDK_NGX_VULKAN_CreateFeature1(kind C.uint32_t, params unsafe.Pointer, outHandle *C.uint32_t) C.uint32_t {
	return createFeature(params, kind, outHandle)
}

//export NVSDK_NGX_D3D11_CreateFeature
func NVSDK_NGX_D3D11_CreateFeature(kind C.uint32_t, params unsafe.Pointer, outHandle *C.uint32_t) C.uint32_t {
	if outHandle != nil {
		*outHandle = 0
	}
	return statusOf(facade.D3D11Stub())
}

// optionalResource reads a host resource pointer out of b and wraps it as a
// *gpu.Resource with the given declared dimensions, or nil if the host
// never set that key. The vendor bag carries only the opaque handle, so
// format/usage/state are left at their zero values; the orchestrator
// transitions the back-buffer, real-output and depth resources from the
// state they carry and back, and hands the others to the effects as they
// are.
func optionalResource(b bag.Bag, key string, dim gpu.Dim2D) *gpu.Resource {
	ptr, st := b.GetVoidPointer(key)
	if st != bag.StatusOK || ptr == nil {
		return nil
	}
	return &gpu.Resource{Native: uintptr(ptr), Dim: dim}
}

// dispatchInputFor reads the well-known resource and scalar keys out of the
// host bag behind params and assembles an orchestrator.DispatchInput.
func dispatchInputFor(params unsafe.Pointer) orchestrator.DispatchInput {
	b := newCgoBag(params)

	swapchain := gpu.Dim2D{
		Width:  int(bag.GetUint32Or(b, bag.KeyWidth, 0)),
		Height: int(bag.GetUint32Or(b, bag.KeyHeight, 0)),
	}
	depthDim := gpu.Dim2D{
		Width:  int(bag.GetUint32Or(b, bag.KeyDepthSubrectWidth, uint32(swapchain.Width))),
		Height: int(bag.GetUint32Or(b, bag.KeyDepthSubrectHeight, uint32(swapchain.Height))),
	}
	mvecDim := gpu.Dim2D{
		Width:  int(bag.GetUint32Or(b, bag.KeyMVecsSubrectWidth, uint32(swapchain.Width))),
		Height: int(bag.GetUint32Or(b, bag.KeyMVecsSubrectHeight, uint32(swapchain.Height))),
	}

	queue, _ := b.GetVoidPointer(bag.KeyCmdQueue)
	alloc, _ := b.GetVoidPointer(bag.KeyCmdAlloc)

	return orchestrator.DispatchInput{
		Bag:                b,
		Queue:              uintptr(queue),
		Alloc:              uintptr(alloc),
		Backbuffer:         optionalResource(b, bag.KeyBackbuffer, swapchain),
		HUDLess:            optionalResource(b, bag.KeyHUDLess, swapchain),
		OutputReal:         optionalResource(b, bag.KeyOutputReal, swapchain),
		OutputInterpolated: optionalResource(b, bag.KeyOutputInterpolated, swapchain),
		Depth:              optionalResource(b, bag.KeyDepth, depthDim),
		MVecs:              optionalResource(b, bag.KeyMVecs, mvecDim),
		UIMask:             optionalResource(b, bag.KeyUIMask, swapchain),
	}
}

//export NVSDK_NGX_D3D12_EvaluateFeature
func NVSDK_NGX_D3D12_EvaluateFeature(handle C.uint32_t, params unsafe.Pointer) C.uint32_t {
	status := app.EvaluateFeature(facade.FeatureHandle{InternalID: uint32(handle)}, dispatchInputFor(params))
	return statusOf(status)
}

//export NVSDK_NGX_VULKAN_EvaluateFeature
func NVSDK_NGX_VULKAN_EvaluateFeature(handle C.uint32_t, params unsafe.Pointer) C.uint32_t {
	status := app.EvaluateFeature(facade.FeatureHandle{InternalID: uint32(handle)}, dispatchInputFor(params))
	return statusOf(status)
}

//export NVSDK_NGX_D3D11_EvaluateFeature
func NVSDK_NGX_D3D11_EvaluateFeature(handle C.uint32_t, params unsafe.Pointer) C.uint32_t {
	return statusOf(facade.D3D11Stub())
}

//export NVSDK_NGX_D3D12_ReleaseFeature
func NVSDK_NGX_D3D12_ReleaseFeature(handle C.uint32_t) C.uint32_t {
	return statusOf(app.ReleaseFeature(facade.FeatureHandle{InternalID: uint32(handle)}))
}

//export NVSDK_NGX_VULKAN_ReleaseFeature
func NVSDK_NGX_VULKAN_ReleaseFeature(handle C.uint32_t) C.uint32_t {
	return statusOf(app.ReleaseFeature(facade.FeatureHandle{InternalID: uint32(handle)}))
}

//export NVSDK_NGX_D3D11_ReleaseFeature
func NVSDK_NGX_D3D11_ReleaseFeature(handle C.uint32_t) C.uint32_t {
	return statusOf(facade.D3D11Stub())
}

//export NVSDK_NGX_D3D12_Shutdown
func NVSDK_NGX_D3D12_Shutdown() C.uint32_t { return statusOf(app.Shutdown()) }

//export NVSDK_NGX_D3D12_Shutdown1
func NVSDK_NGX_D3D12_Shutdown1() C.uint32_t { return statusOf(app.Shutdown1()) }

//export NVSDK_NGX_VULKAN_Shutdown
func NVSDK_NGX_VULKAN_Shutdown() C.uint32_t { return statusOf(app.Shutdown()) }

//export NVSDK_NGX_VULKAN_Shutdown1
func NVSDK_NGX_VULKAN_Shutdown1() C.uint32_t { return statusOf(app.Shutdown1()) }

//export NVSDK_NGX_D3D11_Shutdown
func NVSDK_NGX_D3D11_Shutdown() C.uint32_t { return statusOf(facade.D3D11Stub()) }

func main() {}
