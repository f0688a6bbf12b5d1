package gpu

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// PermutationFlags encodes the compile-time shader variant selected for a
// given dispatch. The same bitset is shared by the dilation effect and the
// interpolator wrapper's context-creation flags.
type PermutationFlags uint32

const (
	PermHDR PermutationFlags = 1 << iota
	PermDepthInverted
	PermDisplayResMotionVectors
	PermMVJitterCancellation
	PermMVPreDilated
	PermDepthAtInfinity
	PermFP16Allowed
	PermWave64Forced
	PermForkCustomizations
)

// Pipeline is an opaque compiled compute pipeline state object. Concrete
// backends (Vulkan, D3D12) populate Native; this package only tracks
// identity and permutation flags.
type Pipeline struct {
	Flags  PermutationFlags
	Native uintptr
}

// Compiler builds a Pipeline for one permutation. It is supplied by the
// effect that owns the shader (dilation, uimask).
type Compiler func(flags PermutationFlags) (*Pipeline, error)

// PipelineCache holds at most one compiled Pipeline per permutation key
// (invariant: "for each permutation key, at most one pipeline object
// exists"), compiling lazily on first use and never evicting.
//
// A singleflight.Group collapses concurrent first-evaluates of the same
// permutation onto a single compile, which is what lets Dispatch avoid its
// own locking around pipeline lookup.
type PipelineCache struct {
	mu    sync.RWMutex
	cache map[PermutationFlags]*Pipeline
	sfg   singleflight.Group
}

func NewPipelineCache() *PipelineCache {
	return &PipelineCache{cache: make(map[PermutationFlags]*Pipeline)}
}

// GetOrCompile returns the cached pipeline for flags, compiling it via
// compile if this is the first request for that permutation.
func (c *PipelineCache) GetOrCompile(flags PermutationFlags, compile Compiler) (*Pipeline, error) {
	c.mu.RLock()
	if p, ok := c.cache[flags]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	key := flags
	v, err, _ := c.sfg.Do(keyString(key), func() (interface{}, error) {
		c.mu.RLock()
		if p, ok := c.cache[flags]; ok {
			c.mu.RUnlock()
			return p, nil
		}
		c.mu.RUnlock()

		p, err := compile(flags)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[flags] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pipeline), nil
}

// Len reports how many permutations have been compiled; exposed for tests.
func (c *PipelineCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func keyString(f PermutationFlags) string {
	const hex = "0123456789abcdef"
	b := [8]byte{}
	for i := 7; i >= 0; i-- {
		b[i] = hex[f&0xF]
		f >>= 4
	}
	return string(b[:])
}
