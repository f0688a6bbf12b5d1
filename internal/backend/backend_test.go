package backend

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/ngx-compat/fsrg-interposer/internal/bag"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

type fakeDeviceAllocator struct {
	created   []ResourceRequest
	destroyed []*gpu.Resource
}

func (f *fakeDeviceAllocator) CreateResource(req ResourceRequest, state gpu.State) (gpu.Resource, error) {
	f.created = append(f.created, req)
	return gpu.Resource{Format: req.Format, Dim: req.Dim, Usage: req.Usage, State: state, Name: req.Name}, nil
}

func (f *fakeDeviceAllocator) DestroyResource(r *gpu.Resource) error {
	f.destroyed = append(f.destroyed, r)
	return nil
}

// memBag is a minimal in-memory bag.Bag for backend tests; it does not
// depend on internal/bag's own unexported test fixture.
type memBag struct {
	pointers map[string]unsafe.Pointer
}

func newMemBag() *memBag { return &memBag{pointers: make(map[string]unsafe.Pointer)} }

func (b *memBag) SetVoidPointer(name string, v unsafe.Pointer) bag.Status {
	b.pointers[name] = v
	return bag.StatusOK
}
func (b *memBag) GetVoidPointer(name string) (unsafe.Pointer, bag.Status) {
	v, ok := b.pointers[name]
	if !ok {
		return nil, bag.StatusNotFound
	}
	return v, bag.StatusOK
}
func (b *memBag) Set4(string, uint32) bag.Status            { return bag.StatusOK }
func (b *memBag) Set5(string, uint32) bag.Status            { return bag.StatusOK }
func (b *memBag) Get5(string) (uint32, bag.Status)          { return 0, bag.StatusNotFound }
func (b *memBag) Get7(string) (float32, bag.Status)         { return 0, bag.StatusNotFound }

func TestCreateResourceUsesStockPathWhenNoCallbacksPresent(t *testing.T) {
	dev := &fakeDeviceAllocator{}
	be := New(1024, dev)
	b := newMemBag()
	Wrap(be, b)

	req := ResourceRequest{Format: gpu.FormatR32Float, Dim: gpu.Dim2D{Width: 64, Height: 64}, Name: "Test"}
	r, err := be.CreateResource(req, gpu.StateUnorderedAccess)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if r.Name != "Test" {
		t.Errorf("resource Name = %q, want %q", r.Name, "Test")
	}
	if len(dev.created) != 1 {
		t.Errorf("stock device allocator invoked %d times, want 1", len(dev.created))
	}
}

func TestWrapInstallsHostCallbacksOnlyWhenBothPresent(t *testing.T) {
	dev := &fakeDeviceAllocator{}
	be := New(1024, dev)
	b := newMemBag()

	var allocCalls int
	allocFn := AllocCallback(func(req ResourceRequest, state gpu.State) (gpu.Resource, error) {
		allocCalls++
		return gpu.Resource{Format: req.Format, Dim: req.Dim, Usage: req.Usage, State: state, Name: req.Name}, nil
	})
	StoreAllocCallback(b, allocFn)

	// Only the alloc callback is present; release is missing, so Wrap must
	// leave the stock device-backed path installed.
	Wrap(be, b)

	req := ResourceRequest{Format: gpu.FormatR32Float, Dim: gpu.Dim2D{Width: 32, Height: 32}, Name: "OnlyAlloc"}
	if _, err := be.CreateResource(req, gpu.StateUnorderedAccess); err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if allocCalls != 0 {
		t.Errorf("host alloc callback invoked %d times despite missing release callback, want 0", allocCalls)
	}
	if len(dev.created) != 1 {
		t.Errorf("stock device allocator invoked %d times, want 1", len(dev.created))
	}
}

func TestWrapperCreateResourceRoutesThroughHostCallbacksAndCountsBytes(t *testing.T) {
	dev := &fakeDeviceAllocator{}
	be := New(1024, dev)
	b := newMemBag()

	var allocCalls, releaseCalls int
	StoreAllocCallback(b, AllocCallback(func(req ResourceRequest, state gpu.State) (gpu.Resource, error) {
		allocCalls++
		return gpu.Resource{Format: req.Format, Dim: req.Dim, Usage: req.Usage, State: state, Name: req.Name}, nil
	}))
	StoreReleaseCallback(b, ReleaseCallback(func(r *gpu.Resource) error {
		releaseCalls++
		return nil
	}))

	w := Wrap(be, b)

	req := ResourceRequest{
		Format: gpu.FormatRGBA8Unorm,
		Dim:    gpu.Dim2D{Width: 100, Height: 100},
		Usage:  gpu.UsageAliasable | gpu.UsageUnorderedAccess,
		Name:   "Aliasable",
	}
	r, err := be.CreateResource(req, gpu.StateUnorderedAccess)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if allocCalls != 1 {
		t.Errorf("host alloc callback invoked %d times, want 1", allocCalls)
	}
	if len(dev.created) != 0 {
		t.Errorf("stock device allocator invoked %d times once host callbacks are wired, want 0", len(dev.created))
	}

	resources, aliasable, total := w.Stats()
	if resources != 1 {
		t.Errorf("resource counter = %d, want 1", resources)
	}
	wantBytes := int64(100 * 100 * 4)
	if aliasable != wantBytes {
		t.Errorf("aliasable bytes = %d, want %d", aliasable, wantBytes)
	}
	if total != wantBytes {
		t.Errorf("total bytes = %d, want %d", total, wantBytes)
	}

	if err := be.DestroyResource(&r); err != nil {
		t.Fatalf("DestroyResource: %v", err)
	}
	if releaseCalls != 1 {
		t.Errorf("host release callback invoked %d times, want 1", releaseCalls)
	}
	_, aliasableAfter, totalAfter := w.Stats()
	if aliasableAfter != 0 || totalAfter != 0 {
		t.Errorf("byte counters after destroy = (%d, %d), want (0, 0)", aliasableAfter, totalAfter)
	}
}

func TestCreateResourceWrapsHostAllocatorError(t *testing.T) {
	dev := &fakeDeviceAllocator{}
	be := New(1024, dev)
	b := newMemBag()

	wantErr := errors.New("device lost")
	StoreAllocCallback(b, AllocCallback(func(req ResourceRequest, state gpu.State) (gpu.Resource, error) {
		return gpu.Resource{}, wantErr
	}))
	StoreReleaseCallback(b, ReleaseCallback(func(r *gpu.Resource) error { return nil }))
	Wrap(be, b)

	_, err := be.CreateResource(ResourceRequest{Name: "Failing"}, gpu.StateUnorderedAccess)
	if err == nil {
		t.Fatal("CreateResource returned nil error, want a wrapped host-allocator error")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("CreateResource error = %v, want it to wrap %v", err, wantErr)
	}
}
