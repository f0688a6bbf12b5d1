//go:build windows

package main

/*
#include <stdint.h>

// NgxParameterVTable mirrors the layout of the vendor's parameter-bag
// interface: a vtable of function pointers, called through a small set of
// C bridge functions below since Go cannot invoke a raw C++ vtable slot
// directly. Only the six entries this system actually calls are named;
// the real interface has many more (Get1..Get9, Set1..Set9) that this
// bridge never touches.
typedef struct {
	void *(*setVoidPointer)(void *self, const char *name, void *value);
	void *(*getVoidPointer)(void *self, const char *name, void **out);
	void *(*set4)(void *self, const char *name, uint32_t value);
	void *(*set5)(void *self, const char *name, uint32_t value);
	void *(*get5)(void *self, const char *name, uint32_t *out);
	void *(*get7)(void *self, const char *name, float *out);
} NgxParameterVTable;

typedef struct {
	NgxParameterVTable *vtable;
} NgxParameterBag;

static int ngx_set_void_pointer(void *bag, const char *name, void *value) {
	NgxParameterBag *b = (NgxParameterBag *)bag;
	return b->vtable->setVoidPointer(bag, name, value) == 0;
}

static int ngx_get_void_pointer(void *bag, const char *name, void **out) {
	NgxParameterBag *b = (NgxParameterBag *)bag;
	return b->vtable->getVoidPointer(bag, name, out) == 0;
}

static int ngx_set4(void *bag, const char *name, uint32_t value) {
	NgxParameterBag *b = (NgxParameterBag *)bag;
	return b->vtable->set4(bag, name, value) == 0;
}

static int ngx_set5(void *bag, const char *name, uint32_t value) {
	NgxParameterBag *b = (NgxParameterBag *)bag;
	return b->vtable->set5(bag, name, value) == 0;
}

static int ngx_get5(void *bag, const char *name, uint32_t *out) {
	NgxParameterBag *b = (NgxParameterBag *)bag;
	return b->vtable->get5(bag, name, out) == 0;
}

static int ngx_get7(void *bag, const char *name, float *out) {
	NgxParameterBag *b = (NgxParameterBag *)bag;
	return b->vtable->get7(bag, name, out) == 0;
}
*/
import "C"

import (
	"unsafe"

	"github.com/ngx-compat/fsrg-interposer/internal/bag"
)

// cgoBag adapts the host's raw parameter-bag pointer (an opaque C struct
// whose layout is defined above) to bag.Bag. It is the only place in this
// module that reaches across the cgo boundary for bag access; every
// domain package downstream works against the plain bag.Bag interface.
type cgoBag struct {
	ptr unsafe.Pointer
}

func newCgoBag(ptr unsafe.Pointer) bag.Bag { return &cgoBag{ptr: ptr} }

func cName(name string) *C.char {
	cstr := C.CString(name)
	return cstr
}

func (b *cgoBag) SetVoidPointer(name string, v unsafe.Pointer) bag.Status {
	cn := cName(name)
	defer C.free(unsafe.Pointer(cn))
	if C.ngx_set_void_pointer(b.ptr, cn, v) != 0 {
		return bag.StatusOK
	}
	return bag.StatusNotFound
}

func (b *cgoBag) GetVoidPointer(name string) (unsafe.Pointer, bag.Status) {
	cn := cName(name)
	defer C.free(unsafe.Pointer(cn))
	var out unsafe.Pointer
	if C.ngx_get_void_pointer(b.ptr, cn, (*unsafe.Pointer)(unsafe.Pointer(&out))) != 0 {
		return out, bag.StatusOK
	}
	return nil, bag.StatusNotFound
}

func (b *cgoBag) Set4(name string, v uint32) bag.Status {
	cn := cName(name)
	defer C.free(unsafe.Pointer(cn))
	if C.ngx_set4(b.ptr, cn, C.uint32_t(v)) != 0 {
		return bag.StatusOK
	}
	return bag.StatusNotFound
}

func (b *cgoBag) Set5(name string, v uint32) bag.Status {
	cn := cName(name)
	defer C.free(unsafe.Pointer(cn))
	if C.ngx_set5(b.ptr, cn, C.uint32_t(v)) != 0 {
		return bag.StatusOK
	}
	return bag.StatusNotFound
}

func (b *cgoBag) Get5(name string) (uint32, bag.Status) {
	cn := cName(name)
	defer C.free(unsafe.Pointer(cn))
	var out C.uint32_t
	if C.ngx_get5(b.ptr, cn, &out) != 0 {
		return uint32(out), bag.StatusOK
	}
	return 0, bag.StatusNotFound
}

func (b *cgoBag) Get7(name string) (float32, bag.Status) {
	cn := cName(name)
	defer C.free(unsafe.Pointer(cn))
	var out C.float
	if C.ngx_get7(b.ptr, cn, &out) != 0 {
		return float32(out), bag.StatusOK
	}
	return 0, bag.StatusNotFound
}
