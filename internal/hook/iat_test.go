//go:build windows

package hook

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

// buildFakeImage constructs a minimal in-memory PE64 image containing one
// imported module (KERNEL32.dll) with two imported-by-name functions and
// one imported-by-ordinal function, laid out at the fixed offsets computed
// below, enough to exercise WalkImports' pointer-chasing logic without a
// real loaded module.
func buildFakeImage() []byte {
	const (
		dosHeaderSize  = 64
		ntHeaderSize   = 264
		ntDataDirOff   = dosHeaderSize + 136 // offset of DataDirectory[0]
		importEntryOff = ntDataDirOff + 1*8  // DataDirectory[imageDirectoryEntryImport]

		descBase    = dosHeaderSize + ntHeaderSize // 328
		termBase    = descBase + 20                // 348
		moduleName  = termBase + 20                // 368
		thunkBase   = 400
		nameLLW     = 500
		nameGPA     = 520
		bufSize     = 600
	)

	buf := make([]byte, bufSize)
	le := binary.LittleEndian

	// DOS header: LFAnew at offset 60 points past the DOS header.
	le.PutUint32(buf[60:], dosHeaderSize)

	// NT headers: "PE\0\0" signature.
	le.PutUint32(buf[dosHeaderSize:], 0x00004550)

	// Import data directory entry: VirtualAddress -> descBase.
	le.PutUint32(buf[importEntryOff:], descBase)
	le.PutUint32(buf[importEntryOff+4:], 20)

	// Import descriptor 0: OriginalFirstThunk=0 (fall back to FirstThunk),
	// NameRVA -> moduleName, FirstThunk -> thunkBase.
	le.PutUint32(buf[descBase+0:], 0)
	le.PutUint32(buf[descBase+4:], 0)
	le.PutUint32(buf[descBase+8:], 0)
	le.PutUint32(buf[descBase+12:], moduleName)
	le.PutUint32(buf[descBase+16:], thunkBase)
	// termBase is left zeroed: the terminating descriptor.

	copy(buf[moduleName:], "KERNEL32.dll\x00")

	le.PutUint64(buf[thunkBase+0:], uint64(nameLLW))
	le.PutUint64(buf[thunkBase+8:], uint64(nameGPA))
	le.PutUint64(buf[thunkBase+16:], ordinalFlag64|5)
	// thunkBase+24 left zeroed: the terminating thunk.

	// IMAGE_IMPORT_BY_NAME: 2-byte hint, then a NUL-terminated name.
	copy(buf[nameLLW+2:], "LoadLibraryW\x00")
	copy(buf[nameGPA+2:], "GetProcAddress\x00")

	return buf
}

func TestWalkImportsEnumeratesNamedAndOrdinalEntries(t *testing.T) {
	img := buildFakeImage()
	base := uintptr(unsafe.Pointer(&img[0]))

	entries := WalkImports(base)
	if len(entries) != 3 {
		t.Fatalf("WalkImports returned %d entries, want 3: %+v", len(entries), entries)
	}

	for _, e := range entries {
		if e.ModuleName != "KERNEL32.dll" {
			t.Errorf("entry ModuleName = %q, want KERNEL32.dll", e.ModuleName)
		}
	}

	if entries[0].FunctionName != "LoadLibraryW" {
		t.Errorf("entries[0].FunctionName = %q, want LoadLibraryW", entries[0].FunctionName)
	}
	if entries[0].SlotAddr != base+400 {
		t.Errorf("entries[0].SlotAddr = %#x, want %#x", entries[0].SlotAddr, base+400)
	}

	if entries[1].FunctionName != "GetProcAddress" {
		t.Errorf("entries[1].FunctionName = %q, want GetProcAddress", entries[1].FunctionName)
	}
	if entries[1].SlotAddr != base+408 {
		t.Errorf("entries[1].SlotAddr = %#x, want %#x", entries[1].SlotAddr, base+408)
	}

	if entries[2].FunctionName != "" || entries[2].Ordinal != 5 {
		t.Errorf("entries[2] = %+v, want an ordinal-5 import with no name", entries[2])
	}
	if entries[2].SlotAddr != base+416 {
		t.Errorf("entries[2].SlotAddr = %#x, want %#x", entries[2].SlotAddr, base+416)
	}
}

func TestWalkImportsReturnsNilForBadSignature(t *testing.T) {
	img := make([]byte, 128)
	binary.LittleEndian.PutUint32(img[60:], 64)
	// Leave the signature at offset 64 zeroed, not "PE\0\0".
	base := uintptr(unsafe.Pointer(&img[0]))

	if entries := WalkImports(base); entries != nil {
		t.Errorf("WalkImports with a bad signature = %+v, want nil", entries)
	}
}

func TestWalkImportsReturnsNilForAbsentImportDirectory(t *testing.T) {
	const dosHeaderSize = 64
	img := make([]byte, dosHeaderSize+264)
	binary.LittleEndian.PutUint32(img[60:], dosHeaderSize)
	binary.LittleEndian.PutUint32(img[dosHeaderSize:], 0x00004550)
	// DataDirectory[imageDirectoryEntryImport].VirtualAddress left at 0.
	base := uintptr(unsafe.Pointer(&img[0]))

	if entries := WalkImports(base); entries != nil {
		t.Errorf("WalkImports with no import directory = %+v, want nil", entries)
	}
}
