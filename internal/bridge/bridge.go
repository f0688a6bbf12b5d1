// Package bridge implements the optional Vulkan-to-D3D12 front end used
// when the host runs Vulkan but the frame-generation pipeline decides to
// run on D3D12: a LUID-matched D3D12 device, a pair of shared timeline
// fences, and shared-texture import/export between the two APIs.
package bridge

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

// D3D12Device is the narrow subset of a D3D12 device/queue/command-list
// surface this bridge needs, held as opaque native handles. There is no
// real cross-platform Go binding for D3D12 in the ecosystem this project
// draws on, so the value is obtained through D3D12AdapterFinder, an
// interface the host or a platform build supplies.
type D3D12Device struct {
	Native     uintptr
	LUID       [8]byte
	QueueNative uintptr
	CmdListNative uintptr
	AllocatorNatives [8]uintptr
}

// D3D12AdapterFinder locates the DXGI adapter whose LUID matches luid.
type D3D12AdapterFinder interface {
	FindAdapterByLUID(luid [8]byte) (D3D12Device, error)
}

// SyncCallbacks are the four host-provided callbacks pulled from the bag:
// create-timeline-objects, signal, wait, and flush.
type SyncCallbacks struct {
	CreateTimelineObjects func() error
	Signal                func(fenceID int, value uint64) error
	Wait                  func(fenceID int, value uint64) error
	Flush                 func() error
}

// TimelineFence is a monotonic counter shared between a Vulkan timeline
// semaphore and a D3D12 fence over the same NT handle.
type TimelineFence struct {
	VkSemaphore vk.Semaphore
	D3DNative   uintptr
	counter     uint64
}

// Next atomically increments and returns the fence's shared counter.
func (f *TimelineFence) Next() uint64 { return atomic.AddUint64(&f.counter, 1) }

// SharedTexture pairs a D3D12 committed shared texture with the Vulkan
// image/memory imported from its NT handle.
type SharedTexture struct {
	D3DNative  uintptr
	NTHandle   uintptr
	VkImage    vk.Image
	VkMemory   vk.DeviceMemory
}

// Bridge owns the D3D12 side discovered by LUID match plus the two
// shared timeline fences and the sync callbacks used for cross-queue
// handoff on every evaluate.
type Bridge struct {
	vkPhysicalDevice vk.PhysicalDevice
	vkDevice         vk.Device

	d3d D3D12Device

	s1, s4 TimelineFence

	sync SyncCallbacks
}

// QueryPhysicalDeviceLUID reads the LUID Vulkan reports for phys via the
// VkPhysicalDeviceIDProperties chain, matching
// FFFrameInterpolatorVK::GetActiveAdapterLUID. ok is false when the driver
// does not report a valid LUID, which happens on platforms without a
// matching DXGI adapter to bridge to.
func QueryPhysicalDeviceLUID(phys vk.PhysicalDevice) (luid [8]byte, ok bool) {
	idProps := vk.PhysicalDeviceIDProperties{
		SType: vk.StructureTypePhysicalDeviceIDProperties,
	}
	props2 := vk.PhysicalDeviceProperties2{
		SType: vk.StructureTypePhysicalDeviceProperties2,
		PNext: unsafe.Pointer(&idProps),
	}
	vk.GetPhysicalDeviceProperties2(phys, &props2)
	idProps.Deref()
	if idProps.DeviceLUIDValid == vk.False {
		return luid, false
	}
	copy(luid[:], idProps.DeviceLUID[:])
	return luid, true
}

// New performs construction: locate, through finder, the D3D12 adapter
// whose LUID matches the Vulkan physical device, then run the host's
// CreateTimelineObjects callback. It creates no compute queue, command
// allocators or command list itself; those handles are whatever the
// D3D12Device returned by finder carries. The S1/S4 fences start as
// zero-valued TimelineFence counters with no Vulkan semaphore or D3D12
// fence attached.
func New(vkPhysicalDevice vk.PhysicalDevice, vkDevice vk.Device, luid [8]byte, finder D3D12AdapterFinder, sync SyncCallbacks) (*Bridge, error) {
	d3d, err := finder.FindAdapterByLUID(luid)
	if err != nil {
		return nil, fmt.Errorf("bridge: LUID-matched adapter: %w", err)
	}

	if err := sync.CreateTimelineObjects(); err != nil {
		return nil, fmt.Errorf("bridge: create timeline objects: %w", err)
	}

	b := &Bridge{
		vkPhysicalDevice: vkPhysicalDevice,
		vkDevice:         vkDevice,
		d3d:              d3d,
		sync:             sync,
	}
	return b, nil
}

// CreateSharedTexture sequences shared-texture creation: a D3D12
// committed shared texture and its NT handle (from allocate), then a
// Vulkan image with device-local memory allocated and bound to it. The
// image and the allocation carry no external-memory chain, so the Vulkan
// memory is a separate allocation and is not imported from the NT handle;
// the handle is only recorded in the returned SharedTexture.
//
// allocate is the platform hook that performs the actual D3D12
// CreateCommittedResource + CreateSharedHandle call pair; this package
// only sequences the steps and performs the Vulkan half.
func (b *Bridge) CreateSharedTexture(desc gpu.Resource, allocate func(desc gpu.Resource) (d3dNative uintptr, ntHandle uintptr, err error)) (*SharedTexture, error) {
	d3dNative, ntHandle, err := allocate(desc)
	if err != nil {
		return nil, fmt.Errorf("bridge: d3d12 shared texture: %w", err)
	}

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  uint32(desc.Dim.Width),
			Height: uint32(desc.Dim.Height),
			Depth:  1,
		},
		MipLevels:   1,
		ArrayLayers: 1,
		Usage:       vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageSampledBit),
		Tiling:      vk.ImageTilingOptimal,
	}

	var image vk.Image
	if res := vk.CreateImage(b.vkDevice, &imageInfo, nil, &image); res != vk.Success {
		return nil, fmt.Errorf("bridge: vkCreateImage: result %d", res)
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(b.vkDevice, image, &memReqs)
	memReqs.Deref()

	typeIndex, err := selectMemoryType(b.vkPhysicalDevice, memReqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, fmt.Errorf("bridge: select memory type: %w", err)
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: typeIndex,
	}

	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(b.vkDevice, &allocInfo, nil, &memory); res != vk.Success {
		return nil, fmt.Errorf("bridge: vkAllocateMemory: result %d", res)
	}
	if res := vk.BindImageMemory(b.vkDevice, image, memory, 0); res != vk.Success {
		return nil, fmt.Errorf("bridge: vkBindImageMemory: result %d", res)
	}

	return &SharedTexture{D3DNative: d3dNative, NTHandle: ntHandle, VkImage: image, VkMemory: memory}, nil
}

// selectMemoryType chooses the first Vulkan memory type index satisfying
// both typeBits and every flag in want. It fails if none matches.
func selectMemoryType(phys vk.PhysicalDevice, typeBits uint32, want vk.MemoryPropertyFlags) (uint32, error) {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(phys, &props)
	props.Deref()

	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		if vk.MemoryPropertyFlags(props.MemoryTypes[i].PropertyFlags)&want == want {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type satisfies mask %#x and flags %#x", typeBits, want)
}

// Handoff runs the per-evaluate cross-queue sequence: increment S1 and
// signal it (the Vulkan side has recorded a command list that copies
// inputs into the shared textures), increment S4 and wait on it (the
// D3D12 side will signal it once its pipeline completes), then run the
// D3D12 pipeline via runD3D12.
func (b *Bridge) Handoff(runD3D12 func() error) error {
	s1Value := b.s1.Next()
	if err := b.sync.Signal(1, s1Value); err != nil {
		return fmt.Errorf("bridge: signal S1: %w", err)
	}

	s4Value := b.s4.Next()
	if err := b.sync.Wait(4, s4Value); err != nil {
		return fmt.Errorf("bridge: wait S4: %w", err)
	}

	if err := runD3D12(); err != nil {
		return fmt.Errorf("bridge: d3d12 pipeline: %w", err)
	}
	return nil
}
