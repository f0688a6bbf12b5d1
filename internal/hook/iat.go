//go:build windows

package hook

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Minimal PE structures, field-compatible with the Windows SDK's
// IMAGE_DOS_HEADER / IMAGE_NT_HEADERS64 / IMAGE_IMPORT_DESCRIPTOR, enough
// to walk one module's import table from its in-memory image. Only the
// fields this package reads are named; padding is modeled with raw byte
// arrays rather than the full struct layout.
type dosHeader struct {
	_      [60]byte
	LFAnew int32
}

type dataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

const imageDirectoryEntryImport = 1

type ntHeaders64 struct {
	Signature      uint32
	_              [20]byte // FileHeader
	_              [112]byte // OptionalHeader fields preceding the directory array
	DataDirectory  [16]dataDirectory
}

type importDescriptor struct {
	OriginalFirstThunk uint32 // RVA to INT (name/ordinal table); 0 if none
	TimeDateStamp      uint32
	ForwarderChain     uint32
	NameRVA            uint32
	FirstThunk         uint32 // RVA to IAT (the slots actually called through)
}

const ordinalFlag64 = uint64(1) << 63

// rva converts a relative virtual address to an absolute address within
// base's mapped image.
func rva(base uintptr, off uint32) uintptr { return base + uintptr(off) }

func cString(addr uintptr) string {
	var b strings.Builder
	p := (*byte)(unsafe.Pointer(addr))
	for i := uintptr(0); ; i++ {
		c := *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + i))
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ImportEntry identifies one IAT slot: the name of the module it imports
// from, the imported function's name (empty if imported by ordinal), and
// the absolute address of the slot itself.
type ImportEntry struct {
	ModuleName   string
	FunctionName string
	Ordinal      uint16
	SlotAddr     uintptr
}

// WalkImports enumerates every import-table slot in the module mapped at
// base, across all of its imported-module descriptors. A malformed or
// absent import directory yields an empty, non-error result: not every
// module has imports worth patching.
func WalkImports(base uintptr) []ImportEntry {
	dos := (*dosHeader)(unsafe.Pointer(base))
	nt := (*ntHeaders64)(unsafe.Pointer(base + uintptr(dos.LFAnew)))
	if nt.Signature != 0x00004550 { // "PE\0\0"
		return nil
	}

	dir := nt.DataDirectory[imageDirectoryEntryImport]
	if dir.VirtualAddress == 0 {
		return nil
	}

	var entries []ImportEntry
	descBase := rva(base, dir.VirtualAddress)
	for i := uintptr(0); ; i++ {
		desc := (*importDescriptor)(unsafe.Pointer(descBase + i*unsafe.Sizeof(importDescriptor{})))
		if desc.NameRVA == 0 && desc.FirstThunk == 0 {
			break
		}
		modName := cString(rva(base, desc.NameRVA))

		thunkRVA := desc.OriginalFirstThunk
		if thunkRVA == 0 {
			thunkRVA = desc.FirstThunk
		}
		intBase := rva(base, thunkRVA)
		iatBase := rva(base, desc.FirstThunk)

		for j := uintptr(0); ; j++ {
			thunk := *(*uint64)(unsafe.Pointer(intBase + j*8))
			if thunk == 0 {
				break
			}
			slot := iatBase + j*8

			if thunk&ordinalFlag64 != 0 {
				entries = append(entries, ImportEntry{
					ModuleName: modName,
					Ordinal:    uint16(thunk & 0xFFFF),
					SlotAddr:   slot,
				})
				continue
			}
			// thunk is an RVA to an IMAGE_IMPORT_BY_NAME{Hint uint16; Name[]byte}
			nameAddr := rva(base, uint32(thunk)) + 2
			entries = append(entries, ImportEntry{
				ModuleName:   modName,
				FunctionName: cString(nameAddr),
				SlotAddr:     slot,
			})
		}
	}
	return entries
}

// LoadedModules returns the base address and file name of every module
// currently mapped into this process, via EnumProcessModules/
// GetModuleFileNameEx.
func LoadedModules() (map[uintptr]string, error) {
	proc, err := windows.GetCurrentProcess()
	if err != nil {
		return nil, err
	}

	var handles [1024]windows.Handle
	var needed uint32
	if err := windows.EnumProcessModules(proc, &handles[0], uint32(len(handles))*8, &needed); err != nil {
		return nil, err
	}
	count := int(needed / 8)
	if count > len(handles) {
		count = len(handles)
	}

	out := make(map[uintptr]string, count)
	for i := 0; i < count; i++ {
		var buf [windows.MAX_PATH]uint16
		n, err := windows.GetModuleFileNameEx(proc, handles[i], &buf[0], uint32(len(buf)))
		if err != nil || n == 0 {
			continue
		}
		out[uintptr(handles[i])] = windows.UTF16ToString(buf[:n])
	}
	return out, nil
}
