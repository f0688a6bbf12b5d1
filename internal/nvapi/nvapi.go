// Package nvapi implements the vendor GPU-driver API interceptor: the
// small set of name-based driver queries this system must lie about or
// stub out so the host believes a sufficiently modern GPU is present and
// never issues the undocumented async-compute-priority call that would
// otherwise remove the device.
package nvapi

import "github.com/ngx-compat/fsrg-interposer/internal/diag"

// sentinelArchitecture, sentinelImplementation, and sentinelRevision are
// the fixed "Ada"-generation values older architectures are rewritten to.
const (
	sentinelArchitecture   = 0x190
	sentinelImplementation = 0x0
	sentinelRevision       = 0xA1
)

// adaArchitecture is the threshold below which an arch-query reply is
// rewritten; architectures at or above it are left untouched.
const adaArchitecture = sentinelArchitecture

// recognizedReplyVersions lists the only GPU-architecture-query reply
// structure versions this interceptor understands; any other version is
// passed through unexamined rather than risk misinterpreting an unknown
// layout.
var recognizedReplyVersions = map[uint32]bool{1: true, 2: true}

// ArchReply mirrors the fields of the vendor's GPU-architecture-query
// reply structure that this interceptor reads and may rewrite.
type ArchReply struct {
	Version        uint32
	Architecture   uint32
	Implementation uint32
	Revision       uint32
}

// RewriteArchReply rewrites reply in place to the sentinel values if its
// version is recognized and its reported architecture is older than the
// sentinel. It reports whether a rewrite occurred, for diagnostics.
func RewriteArchReply(reply *ArchReply) bool {
	if !recognizedReplyVersions[reply.Version] {
		return false
	}
	if reply.Architecture >= adaArchitecture {
		return false
	}
	reply.Architecture = sentinelArchitecture
	reply.Implementation = sentinelImplementation
	reply.Revision = sentinelRevision
	return true
}

// AsyncComputePriorityNoOp replaces the driver-private async-compute
// priority call: calling through would issue an undocumented driver
// command that removes the device, so this always reports success
// without touching the driver.
func AsyncComputePriorityNoOp() uint32 { return 0 /* success */ }

// FunctionID identifies one entry in the vendor's name-based function
// dispatcher (NV_INTERFACE in the vendor headers: a hash of the
// undocumented function's name, not a sequential index).
type FunctionID uint32

// Recognized function identifiers this interceptor wraps with its own
// hook instead of returning the vendor driver's implementation. The
// values are the vendor's own interface hashes, so a raw interface ID
// read off the wire can be cast directly to FunctionID and looked up.
const (
	FunctionGetArchInfo             FunctionID = 0xD8265D24
	FunctionSetAsyncComputePriority FunctionID = 0x5DB3048A
)

// Dispatcher wraps the vendor's own name-based function dispatcher: for
// each recognized identifier it substitutes a hook pointer; every other
// identifier is forwarded unchanged.
type Dispatcher struct {
	log      *diag.Logger
	original func(FunctionID) (uintptr, bool)
	hooks    map[FunctionID]uintptr
}

// NewDispatcher wraps original (the vendor dispatcher, given as a
// function-identifier-to-pointer resolver) with hooks for the recognized
// function identifiers.
func NewDispatcher(original func(FunctionID) (uintptr, bool), log *diag.Logger, archHook, asyncComputeHook uintptr) *Dispatcher {
	return &Dispatcher{
		log:      log,
		original: original,
		hooks: map[FunctionID]uintptr{
			FunctionGetArchInfo:             archHook,
			FunctionSetAsyncComputePriority: asyncComputeHook,
		},
	}
}

// Resolve returns the hook pointer for id if it is recognized, otherwise
// forwards to the wrapped dispatcher.
func (d *Dispatcher) Resolve(id FunctionID) (uintptr, bool) {
	if ptr, ok := d.hooks[id]; ok {
		return ptr, true
	}
	return d.original(id)
}
