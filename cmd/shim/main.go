//go:build windows

// Command shim is the interposer's first stage: a c-shared library that
// impersonates the vendor's thin loader DLL. Loaded into the host
// process, it patches the import tables of a fixed list of target
// modules, redirects loads of the vendor's implementation DLL to the
// sibling core library (cmd/core), and blocks a named overlay module.
package main

import (
	"C"
	"path/filepath"

	"golang.org/x/sys/windows"

	"github.com/ngx-compat/fsrg-interposer/internal/diag"
	"github.com/ngx-compat/fsrg-interposer/internal/shim"
)

var activeShim *shim.Shim

// shimFileName is this library's own output name, used to resolve its
// own module handle (and thus its directory) via GetModuleHandle rather
// than the FROM_ADDRESS variant, which needs a pointer into this module
// that cgo's calling convention does not make convenient to obtain.
const shimFileName = "fsrg_interposer_shim.dll"

func modulePath() string {
	handle, err := windows.GetModuleHandle(shimFileName)
	if err != nil {
		return "."
	}
	var buf [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileName(handle, &buf[0], uint32(len(buf)))
	if err != nil || n == 0 {
		return "."
	}
	return filepath.Dir(windows.UTF16ToString(buf[:n]))
}

//export ShimOnAttach
func ShimOnAttach() {
	dir := modulePath()
	log := diag.Open(dir)
	activeShim = shim.New(dir, log)
	if err := activeShim.Attach(); err != nil {
		log.Error("shim: attach: %v", err)
	}
}

func main() {}
