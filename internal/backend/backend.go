// Package backend wraps the opaque third-party graphics backend: a
// function table plus a scratch buffer. It overrides resource creation and
// destruction so that, when the host supplies an allocator, textures are
// allocated through the host's resource allocator (discoverable only
// through the parameter bag) instead of by direct device calls — every
// other backend behavior is left untouched.
package backend

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ngx-compat/fsrg-interposer/internal/bag"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

// HeapKind selects the stock allocation path: upload-visible or
// device-default.
type HeapKind int

const (
	HeapDefault HeapKind = iota
	HeapUpload
)

// ResourceRequest mirrors the stock backend's resource-descriptor
// construction inputs: logical type, format/dims, usage and heap.
type ResourceRequest struct {
	Logical gpu.LogicalType
	Format  gpu.Format
	Dim     gpu.Dim2D
	Usage   gpu.Usage
	Heap    HeapKind
	Name    string
}

// DeviceAllocator is the stock (non-overridden) path: direct device calls,
// used whenever the host has not supplied both callbacks.
type DeviceAllocator interface {
	CreateResource(req ResourceRequest, initialState gpu.State) (gpu.Resource, error)
	DestroyResource(r *gpu.Resource) error
}

// Backend is the third-party backend's function table + scratch buffer:
// fpCreateResource and fpDestroyResource are the two functions this
// package may override. It carries no pre-header user-data slot; the
// override state lives in Wrapper.
type Backend struct {
	Scratch []byte

	device DeviceAllocator

	fpCreateResource func(req ResourceRequest, initialState gpu.State) (gpu.Resource, error)
	fpDestroyResource func(r *gpu.Resource) error
}

// New allocates the scratch buffer (sized by the caller, per the N
// simultaneous FFX contexts the orchestrator needs) and wires the stock
// function-table entries to device.
func New(scratchSize int, device DeviceAllocator) *Backend {
	b := &Backend{
		Scratch: make([]byte, scratchSize),
		device:  device,
	}
	b.fpCreateResource = device.CreateResource
	b.fpDestroyResource = device.DestroyResource
	return b
}

// Wrapper is the override layer. Rather than the
// original's 16-byte pre-header trick (acceptable only when the
// third-party struct layout cannot be touched), it keeps the two
// host callbacks and the resource counters as ordinary Go fields keyed by
// the Backend's identity, which the third-party struct layout here can
// accommodate.
type Wrapper struct {
	mu sync.Mutex

	be *Backend

	alloc   AllocCallback
	release ReleaseCallback

	staticResourceCounter int64
	aliasableBytes        int64
	totalBytes            int64
}

// Wrap installs the host's allocator callbacks (if both are present in
// bag) over be's fpCreateResource/fpDestroyResource. If either callback is
// absent, be's stock device-backed implementation is left untouched.
func Wrap(be *Backend, b bag.Bag) *Wrapper {
	w := &Wrapper{be: be}

	alloc, hasAlloc := loadAllocCallback(b)
	release, hasRelease := loadReleaseCallback(b)
	if hasAlloc && hasRelease {
		w.alloc = alloc
		w.release = release
		be.fpCreateResource = w.createResource
		be.fpDestroyResource = w.destroyResource
	}
	return w
}

func sizeOf(req ResourceRequest) int64 {
	bpp := map[gpu.Format]int64{
		gpu.FormatR32Float:     4,
		gpu.FormatRG16Float:    4,
		gpu.FormatR32UintAtomic: 4,
		gpu.FormatRGBA8Unorm:   4,
		gpu.FormatRGBA16Float:  8,
		gpu.FormatR8Unorm:      1,
	}[req.Format]
	if bpp == 0 {
		bpp = 4
	}
	return int64(req.Dim.Width) * int64(req.Dim.Height) * bpp
}

func usageFlags(u gpu.Usage) gpu.State {
	var s gpu.State
	if u&gpu.UsageShaderRead != 0 {
		s |= gpu.StateShaderReadCompute
	}
	if u&gpu.UsageUnorderedAccess != 0 {
		s |= gpu.StateUnorderedAccess
	}
	if u&gpu.UsageRenderTarget != 0 {
		s |= gpu.StateRenderTarget
	}
	if u&gpu.UsageCopySource != 0 {
		s |= gpu.StateCopySource
	}
	if u&gpu.UsageCopyDest != 0 {
		s |= gpu.StateCopyDest
	}
	return s
}

// createResource mirrors the original stock logic (heap properties,
// resource descriptor by logical type, resource flags from usage, a
// static-resource index, and the aliasable-bytes counter) and differs from
// it only in where the actual allocation is satisfied.
func (w *Wrapper) createResource(req ResourceRequest, initialState gpu.State) (gpu.Resource, error) {
	idx := atomic.AddInt64(&w.staticResourceCounter, 1)

	var state gpu.State
	var r gpu.Resource
	var err error

	switch req.Heap {
	case HeapUpload:
		state = gpu.StateGenericRead
		r, err = w.alloc(req, state)
	default:
		state = initialState | usageFlags(req.Usage)
		r, err = w.alloc(req, state)
	}
	if err != nil {
		return gpu.Resource{}, fmt.Errorf("backend: host allocator failed for resource #%d (%s): %w", idx, req.Name, err)
	}
	r.Name = req.Name
	r.State = state
	r.Usage = req.Usage

	if req.Usage&gpu.UsageAliasable != 0 {
		atomic.AddInt64(&w.aliasableBytes, sizeOf(req))
	}
	atomic.AddInt64(&w.totalBytes, sizeOf(req))

	return r, nil
}

// destroyResource mirrors the stock release path, decrementing the same
// counters createResource incremented, but calls the host release
// callback instead of a native Release().
func (w *Wrapper) destroyResource(r *gpu.Resource) error {
	if r.Usage&gpu.UsageAliasable != 0 {
		atomic.AddInt64(&w.aliasableBytes, -sizeOf(ResourceRequest{Format: r.Format, Dim: r.Dim}))
	}
	atomic.AddInt64(&w.totalBytes, -sizeOf(ResourceRequest{Format: r.Format, Dim: r.Dim}))
	return w.release(r)
}

// CreateResource is the public entry point effects call; it always goes
// through be's current function-table entry, whether stock or overridden.
func (b *Backend) CreateResource(req ResourceRequest, initialState gpu.State) (gpu.Resource, error) {
	return b.fpCreateResource(req, initialState)
}

// DestroyResource likewise always goes through the current table entry.
func (b *Backend) DestroyResource(r *gpu.Resource) error {
	return b.fpDestroyResource(r)
}

// Stats exposes the wrapper's resource-bookkeeping counters for tests and
// diagnostics.
func (w *Wrapper) Stats() (resources, aliasableBytes, totalBytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return atomic.LoadInt64(&w.staticResourceCounter), atomic.LoadInt64(&w.aliasableBytes), atomic.LoadInt64(&w.totalBytes)
}
