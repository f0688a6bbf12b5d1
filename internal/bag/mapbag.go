package bag

import "unsafe"

// MapBag is a minimal in-memory Bag, the same role audio_backend_headless
// plays for the audio chip in the teacher codebase: a host stand-in used
// by tests and examples, never by the real injected core.
type MapBag struct {
	ptrs  map[string]unsafe.Pointer
	u32s  map[string]uint32
	f32s  map[string]float32
}

func NewMapBag() *MapBag {
	return &MapBag{
		ptrs: make(map[string]unsafe.Pointer),
		u32s: make(map[string]uint32),
		f32s: make(map[string]float32),
	}
}

func (m *MapBag) SetVoidPointer(name string, v unsafe.Pointer) Status {
	m.ptrs[name] = v
	return StatusOK
}

func (m *MapBag) GetVoidPointer(name string) (unsafe.Pointer, Status) {
	v, ok := m.ptrs[name]
	if !ok {
		return nil, StatusNotFound
	}
	return v, StatusOK
}

func (m *MapBag) Set4(name string, v uint32) Status {
	m.u32s[name] = v
	return StatusOK
}

func (m *MapBag) Set5(name string, v uint32) Status {
	m.u32s[name] = v
	return StatusOK
}

func (m *MapBag) Get5(name string) (uint32, Status) {
	v, ok := m.u32s[name]
	if !ok {
		return 0, StatusNotFound
	}
	return v, StatusOK
}

func (m *MapBag) Get7(name string) (float32, Status) {
	v, ok := m.f32s[name]
	if !ok {
		return 0, StatusNotFound
	}
	return v, StatusOK
}

// SetFloat is a test convenience not part of the Bag interface proper.
func (m *MapBag) SetFloat(name string, v float32) { m.f32s[name] = v }
