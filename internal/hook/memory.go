//go:build windows

// Package hook implements the low-level memory-patching primitives the
// shim loader needs to rewrite a loaded module's import address table:
// toggling page protection, writing a pointer-sized slot, and flushing
// the instruction cache. It never touches a module on disk — only the
// copy already mapped into this process.
package hook

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// WritePointer overwrites the pointer-sized value at addr with value,
// temporarily switching the containing page to read/write/execute and
// restoring its original protection afterward, then flushing the
// instruction cache over the patched range. This is the same
// protect/write/restore/flush sequence as a native VirtualProtect-based
// patcher, expressed over x/sys/windows instead of cgo.
func WritePointer(addr uintptr, value uintptr) error {
	const size = unsafe.Sizeof(uintptr(0))

	var oldProtect uint32
	if err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &oldProtect); err != nil {
		return fmt.Errorf("hook: VirtualProtect(RWX) at %#x: %w", addr, err)
	}

	slot := (*uintptr)(unsafe.Pointer(addr))
	*slot = value

	var discard uint32
	if err := windows.VirtualProtect(addr, size, oldProtect, &discard); err != nil {
		return fmt.Errorf("hook: VirtualProtect(restore) at %#x: %w", addr, err)
	}

	if err := flushInstructionCache(addr, size); err != nil {
		return fmt.Errorf("hook: FlushInstructionCache at %#x: %w", addr, err)
	}
	return nil
}

// ReadPointer reads the pointer-sized value currently stored at addr,
// used to detect whether a slot already holds the hook pointer (the
// idempotent-write check) before taking the protect/write path.
func ReadPointer(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

var (
	kernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

func flushInstructionCache(addr uintptr, size uintptr) error {
	curProcess, err := windows.GetCurrentProcess()
	if err != nil {
		return err
	}
	r, _, callErr := procFlushInstructionCache.Call(uintptr(curProcess), addr, size)
	if r == 0 {
		return callErr
	}
	return nil
}
