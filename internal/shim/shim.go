//go:build windows

// Package shim implements the interception policy that decides which
// host modules get their import tables patched, which module loads get
// redirected to the sibling core library, and which overlay modules are
// blocked outright. internal/hook supplies the mechanics (memory
// patching, import-table walking); this package supplies the policy.
package shim

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/windows"

	"github.com/ngx-compat/fsrg-interposer/internal/diag"
	"github.com/ngx-compat/fsrg-interposer/internal/hook"
	"github.com/ngx-compat/fsrg-interposer/internal/nvapi"
)

// ptrOf reinterprets a raw trampoline argument as an unsafe.Pointer; the
// argument is always a pointer the OS loader itself constructed, never a
// value this package forges.
func ptrOf(p uintptr) unsafe.Pointer { return unsafe.Pointer(p) } //nolint:govet

// TargetModuleSuffixes lists the host modules whose import tables are
// candidates for patching, matched case-insensitively against the
// module's file name.
var TargetModuleSuffixes = []string{
	"nvngx.dll",
	"nvngx_dlssg.dll",
	"_nvngx.dll",
}

// BlacklistedOverlaySuffixes names modules whose LoadLibrary* requests
// must always fail with ERROR_MOD_NOT_FOUND, matching the behavior of a
// vendor overlay whose presence this system does not want detected.
var BlacklistedOverlaySuffixes = []string{
	"nvngx_update.dll",
}

// VendorImplSuffix is the module name whose load requests are redirected
// to CoreLibraryName instead of being satisfied by the OS loader.
const VendorImplSuffix = "nvngx_dlssg.dll"

// CoreLibraryName is the sibling library the shim loads in place of the
// vendor's implementation DLL.
const CoreLibraryName = "fsrg_interposer_core.dll"

// maxPatchedSetSize caps the patched-modules set; once reached the set is
// reset rather than grown further, since the overwhelming majority of
// hooking happens very early in process lifetime.
const maxPatchedSetSize = 100

// hookedImportNames are the import-table entries the shim redirects when
// found in a target module's IAT: the wide-character LoadLibrary variants,
// used to catch later module loads, and GetProcAddress, used by the
// vendor-API interceptor. The ANSI variants (LoadLibraryA/LoadLibraryExA)
// are deliberately left unhooked: onLoadLibraryW decodes its argument as a
// UTF-16 string, and feeding it an ANSI LPCSTR would misread the name.
var hookedImportNames = map[string]bool{
	"LoadLibraryW":   true,
	"LoadLibraryExW": true,
	"GetProcAddress": true,
}

func hasSuffixFold(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// Shim is the per-process interception state: the patched-modules set and
// the self-pin flag.
type Shim struct {
	log *diag.Logger

	shimDir string

	mu      sync.Mutex
	patched map[string]struct{}

	pinned bool

	loadLibraryWPtr uintptr
	getProcAddrPtr  uintptr

	nvMu           sync.Mutex
	nvDispatcher   *nvapi.Dispatcher
	nvQueryHookPtr uintptr
}

// nvapiModuleSuffixes names the vendor API driver modules whose
// nvapi_QueryInterface export is intercepted.
var nvapiModuleSuffixes = []string{
	"nvapi64.dll",
	"nvapi.dll",
}

// queryInterfaceExportName is the one NvAPI export resolved by name; every
// other entry point is reached only through its dispatcher, so this is the
// sole GetProcAddress call worth recognizing.
const queryInterfaceExportName = "nvapi_queryinterface"

// New creates a Shim rooted at shimDir, the directory the shim library
// itself was loaded from (where the sibling core library is expected).
func New(shimDir string, log *diag.Logger) *Shim {
	return &Shim{
		shimDir: shimDir,
		log:     log,
		patched: make(map[string]struct{}),
	}
}

// markPatched records name as patched, resetting the whole set first if
// it has grown past maxPatchedSetSize.
func (s *Shim) markPatched(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.patched) >= maxPatchedSetSize {
		s.patched = make(map[string]struct{})
	}
	s.patched[strings.ToLower(name)] = struct{}{}
}

func (s *Shim) alreadyPatched(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.patched[strings.ToLower(name)]
	return ok
}

// Attach runs the shim's attach-time algorithm: enumerate loaded modules,
// patch every target module's IAT slots that reference a hooked import,
// and pin the shim in memory if anything was patched.
func (s *Shim) Attach() error {
	s.loadLibraryWPtr = purego.NewCallback(s.onLoadLibraryW)
	s.getProcAddrPtr = purego.NewCallback(s.onGetProcAddress)

	modules, err := hook.LoadedModules()
	if err != nil {
		return fmt.Errorf("shim: enumerate modules: %w", err)
	}

	anyPatched := false
	for base, name := range modules {
		if !hasSuffixFold(name, TargetModuleSuffixes) {
			continue
		}
		if s.alreadyPatched(name) {
			continue
		}
		patched, err := s.patchModule(base, name)
		if err != nil {
			s.log.Warn("shim: patch %s: %v", name, err)
			continue
		}
		if patched {
			s.markPatched(name)
			anyPatched = true
		}
	}

	if anyPatched {
		s.pinSelf()
	}
	return nil
}

// patchModule walks base's import table and overwrites every slot whose
// (module, function) pair is one this package hooks. The IAT write itself
// is idempotent: a racing second writer writes the same pointer.
func (s *Shim) patchModule(base uintptr, name string) (bool, error) {
	entries := hook.WalkImports(base)
	patchedAny := false
	for _, e := range entries {
		if !strings.HasSuffix(strings.ToLower(e.ModuleName), "kernel32.dll") {
			continue
		}
		if !hookedImportNames[e.FunctionName] {
			continue
		}

		var target uintptr
		switch e.FunctionName {
		case "LoadLibraryW", "LoadLibraryExW":
			target = s.loadLibraryWPtr
		case "GetProcAddress":
			target = s.getProcAddrPtr
		default:
			continue
		}

		if hook.ReadPointer(e.SlotAddr) == target {
			patchedAny = true
			continue
		}
		if err := hook.WritePointer(e.SlotAddr, target); err != nil {
			return patchedAny, fmt.Errorf("patch %s!%s: %w", name, e.FunctionName, err)
		}
		patchedAny = true
	}
	return patchedAny, nil
}

// onLoadLibraryW is the hook installed in place of LoadLibraryW (and, via
// the same trampoline, LoadLibraryExW). It intercepts
// loads of the vendor's implementation DLL and of blacklisted overlay
// modules; every other name is passed through to the real loader.
func (s *Shim) onLoadLibraryW(namePtr uintptr) uintptr {
	name := windows.UTF16PtrToString((*uint16)(ptrOf(namePtr)))

	if hasSuffixFold(name, BlacklistedOverlaySuffixes) {
		windows.SetLastError(windows.ERROR_MOD_NOT_FOUND)
		return 0
	}

	if hasSuffixFold(name, []string{VendorImplSuffix}) {
		corePath := s.shimDir + "\\" + CoreLibraryName
		h, err := windows.LoadLibrary(corePath)
		if err != nil {
			s.log.Error("shim: redirect load of %s to %s: %v", name, corePath, err)
			return 0
		}
		return uintptr(h)
	}

	h, err := windows.LoadLibrary(name)
	if err != nil {
		return 0
	}

	if hasSuffixFold(name, TargetModuleSuffixes) && !s.alreadyPatched(name) {
		if patched, perr := s.patchModule(uintptr(h), name); perr == nil && patched {
			s.markPatched(name)
			s.pinSelf()
		}
	}
	return uintptr(h)
}

// onGetProcAddress is the hook installed in place of GetProcAddress. It
// always resolves and forwards the real proc, and additionally recognizes
// the one NvAPI export whose hash-dispatched entry points this system must
// lie to or stub out: nvapi_QueryInterface.
func (s *Shim) onGetProcAddress(module, name uintptr) uintptr {
	procName := windows.BytePtrToString((*byte)(ptrOf(name)))
	if procName == "" {
		return 0
	}

	real, err := windows.GetProcAddress(windows.Handle(module), procName)
	if err != nil || real == 0 {
		windows.SetLastError(windows.ERROR_PROC_NOT_FOUND)
		return 0
	}

	if strings.EqualFold(procName, queryInterfaceExportName) && hasSuffixFold(moduleFileName(module), nvapiModuleSuffixes) {
		return s.interceptQueryInterface(real)
	}
	return real
}

// moduleFileName resolves module's on-disk file name via
// GetModuleFileNameEx, returning "" on failure rather than erroring: a
// failed lookup just means the nvapi_QueryInterface module check below
// never matches, which is the safe default.
func moduleFileName(module uintptr) string {
	var buf [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileNameEx(windows.CurrentProcess(), windows.Handle(module), &buf[0], uint32(len(buf)))
	if err != nil || n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

// interceptQueryInterface returns the hook pointer to substitute for the
// real nvapi_QueryInterface proc (real), building the dispatcher that
// backs it on first use. Every recognized interface ID resolves to this
// package's own hook; every other ID is forwarded to the call-through
// resolver, matching the vendor wrapper's HookedNvAPI_QueryInterface.
func (s *Shim) interceptQueryInterface(real uintptr) uintptr {
	s.nvMu.Lock()
	defer s.nvMu.Unlock()

	if s.nvQueryHookPtr != 0 {
		return s.nvQueryHookPtr
	}

	resolveReal := func(id nvapi.FunctionID) (uintptr, bool) {
		ptr, _, _ := purego.SyscallN(real, uintptr(id))
		return ptr, ptr != 0
	}

	archHook := purego.NewCallback(func(gpuHandle, archInfo uintptr) uintptr {
		origArchInfo, ok := resolveReal(nvapi.FunctionGetArchInfo)
		if !ok {
			return 0xFFFFFFFF // NV_STATUS::Error
		}
		status, _, _ := purego.SyscallN(origArchInfo, gpuHandle, archInfo)
		if status == 0 && archInfo != 0 {
			nvapi.RewriteArchReply((*nvapi.ArchReply)(ptrOf(archInfo)))
		}
		return status
	})
	asyncComputeHook := purego.NewCallback(func(_ uintptr) uintptr {
		return uintptr(nvapi.AsyncComputePriorityNoOp())
	})

	s.nvDispatcher = nvapi.NewDispatcher(resolveReal, s.log, archHook, asyncComputeHook)
	s.nvQueryHookPtr = purego.NewCallback(func(interfaceID uintptr) uintptr {
		ptr, ok := s.nvDispatcher.Resolve(nvapi.FunctionID(interfaceID))
		if !ok {
			return 0
		}
		return ptr
	})
	return s.nvQueryHookPtr
}

// pinSelf prevents the shim's own module from being unloaded, via
// GetModuleHandleEx's pin flag — matching "if any target module was
// successfully patched, pin in memory".
func (s *Shim) pinSelf() {
	if s.pinned {
		return
	}
	var handle windows.Handle
	const getModuleHandleExFlagPin = 0x00000001
	if err := windows.GetModuleHandleEx(getModuleHandleExFlagPin, nil, &handle); err != nil {
		s.log.Warn("shim: pin self: %v", err)
		return
	}
	s.pinned = true
}
