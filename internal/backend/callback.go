package backend

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ngx-compat/fsrg-interposer/internal/bag"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

// AllocCallback is the host's resource allocator: given a resource
// request and the initial logical state the wrapper computed, it returns a
// host-allocated resource.
type AllocCallback func(req ResourceRequest, initialState gpu.State) (gpu.Resource, error)

// ReleaseCallback is the host's matching release function.
type ReleaseCallback func(r *gpu.Resource) error

// Host callbacks are handed across the ABI boundary as raw pointers inside
// the bag (the bag's "opaque graphics-resource pointer" variant and the
// ResourceAllocCallback/ResourceReleaseCallback keys). Go function values
// are not safely addressable via unsafe.Pointer, so — the same trick the
// vendor ABI itself plays with its "*Data" user-context siblings — callers
// register a callback once and the bag carries only an opaque token
// pointing back into this registry.
var (
	registry   sync.Map // map[uintptr]interface{}
	nextToken  uintptr
)

func registerAlloc(cb AllocCallback) unsafe.Pointer {
	tok := atomic.AddUintptr(&nextToken, 1)
	registry.Store(tok, cb)
	return unsafe.Pointer(tok) //nolint:govet // opaque token, never dereferenced
}

func registerRelease(cb ReleaseCallback) unsafe.Pointer {
	tok := atomic.AddUintptr(&nextToken, 1)
	registry.Store(tok, cb)
	return unsafe.Pointer(tok) //nolint:govet
}

// StoreAllocCallback installs cb into b under the
// ResourceAllocCallback key.
func StoreAllocCallback(b bag.Bag, cb AllocCallback) {
	b.SetVoidPointer(bag.KeyResourceAllocCallback, registerAlloc(cb))
}

// StoreReleaseCallback installs cb into b under the
// ResourceReleaseCallback key.
func StoreReleaseCallback(b bag.Bag, cb ReleaseCallback) {
	b.SetVoidPointer(bag.KeyResourceReleaseCallback, registerRelease(cb))
}

func loadAllocCallback(b bag.Bag) (AllocCallback, bool) {
	p, ok := bag.GetPointer(b, bag.KeyResourceAllocCallback)
	if !ok {
		return nil, false
	}
	v, ok := registry.Load(uintptr(p))
	if !ok {
		return nil, false
	}
	cb, ok := v.(AllocCallback)
	return cb, ok
}

func loadReleaseCallback(b bag.Bag) (ReleaseCallback, bool) {
	p, ok := bag.GetPointer(b, bag.KeyResourceReleaseCallback)
	if !ok {
		return nil, false
	}
	v, ok := registry.Load(uintptr(p))
	if !ok {
		return nil, false
	}
	cb, ok := v.(ReleaseCallback)
	return cb, ok
}
