// Package gpu defines the resource and pipeline vocabulary shared by every
// effect in the frame-interpolation pipeline. It models the GPU resource
// descriptor and state machine from the design (device handle, logical
// state bitset, format, dimensions) without binding to a concrete graphics
// API: D3D12 and Vulkan are external collaborators reached only through the
// CmdList and Device interfaces below.
package gpu

import "fmt"

// State is a bitset over the logical resource states a GPU resource can be
// transitioned through. Every resource handed to a compute dispatch has a
// known source State; the dispatcher transitions in, executes, and
// transitions back.
type State uint32

const (
	StateCommon State = 1 << iota
	StateUnorderedAccess
	StateCopySource
	StateCopyDest
	StateShaderReadCompute
	StateShaderReadPixel
	StateRenderTarget
	StateIndirectArgument
	StateGenericRead
	StateCompositeCopyDest
)

func (s State) String() string {
	names := []struct {
		bit  State
		name string
	}{
		{StateCommon, "Common"},
		{StateUnorderedAccess, "UnorderedAccess"},
		{StateCopySource, "CopySource"},
		{StateCopyDest, "CopyDest"},
		{StateShaderReadCompute, "ShaderReadCompute"},
		{StateShaderReadPixel, "ShaderReadPixel"},
		{StateRenderTarget, "RenderTarget"},
		{StateIndirectArgument, "IndirectArgument"},
		{StateGenericRead, "GenericRead"},
		{StateCompositeCopyDest, "CompositeCopyDest"},
	}
	if s == 0 {
		return "None"
	}
	out := ""
	for _, n := range names {
		if s&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

// Format enumerates the pixel/data formats used by the internal shared
// textures and the resources the host passes in.
type Format int

const (
	FormatUnknown Format = iota
	FormatR32Float
	FormatRG16Float
	FormatR32UintAtomic // atomic-packed min/max target (ReconstructedPrevNearestDepth)
	FormatRGBA8Unorm
	FormatRGBA16Float
	FormatR8Unorm
	FormatOpticalFlowVector // OF-library-defined; opaque to this package
	FormatOpticalFlowSCD    // OF-library-defined; opaque to this package
)

// Dim2D is a two-dimensional extent in texels.
type Dim2D struct {
	Width, Height int
}

// Usage is a mask of the ways a resource may be bound.
type Usage uint32

const (
	UsageShaderRead Usage = 1 << iota
	UsageUnorderedAccess
	UsageRenderTarget
	UsageCopySource
	UsageCopyDest
	// UsageAliasable marks resources that may share underlying memory with
	// other resources of the same lifetime (the five internal shared
	// textures are always aliasable).
	UsageAliasable
)

// LogicalType is the resource shape requested from the backend allocator
// buffer or a 1D/2D/3D/cube image.
type LogicalType int

const (
	LogicalBuffer LogicalType = iota
	Logical1D
	Logical2D
	Logical3D
	LogicalCube
)

// Device is an opaque handle to the host's graphics device, stashed at
// Init time by the facade and consulted read-only thereafter.
type Device struct {
	// Native holds the vendor ABI's raw device pointer (ID3D12Device* or
	// VkDevice), passed through unexamined.
	Native uintptr
	// PhysicalNative holds the Vulkan physical device handle when the host
	// is Vulkan; zero for D3D12 hosts.
	PhysicalNative uintptr
}

// Resource is the abstraction passed between the facade, the orchestrator,
// the effects and the backend wrapper. Its lifecycle is tied to the host's
// underlying resource: this package neither allocates nor frees memory,
// only tracks logical State across transitions.
type Resource struct {
	Native uintptr // opaque device-resource handle
	State  State
	Format Format
	Dim    Dim2D
	Usage  Usage
	// Name is a diagnostic label only, set by the backend from the
	// request's name; no code path depends on its value.
	Name string
}

// Transition records a matched in/out state change for a single dispatch;
// every dispatcher call must produce these in matched pairs.
type Transition struct {
	Resource *Resource
	From, To State
}

// ErrDimensionMismatch is fatal: shared internal textures must have
// the exact dimensions and formats declared at orchestrator construction.
type ErrDimensionMismatch struct {
	Resource      string
	Want, Got     Dim2D
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("gpu: resource %q dimension mismatch: want %dx%d, got %dx%d",
		e.Resource, e.Want.Width, e.Want.Height, e.Got.Width, e.Got.Height)
}
