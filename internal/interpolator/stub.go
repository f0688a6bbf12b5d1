package interpolator

import (
	"github.com/ngx-compat/fsrg-interposer/internal/backend"
	"github.com/ngx-compat/fsrg-interposer/internal/gpu"
)

// stubContext is the dependency-free Context used when no real
// interpolator engine is wired in: it schedules a clear of the
// interpolated output and records its memorized previous-source.
type stubContext struct {
	flags  gpu.PermutationFlags
	format gpu.Format
	prev   *gpu.Resource
}

func (c *stubContext) Prepare(d PrepareDesc) error { return nil }

func (c *stubContext) Dispatch(d DispatchDesc) error {
	d.CmdList.Schedule(gpu.Job{
		Kind:  gpu.JobClear,
		Clear: &gpu.ClearJob{Target: d.InterpolatedOutput, Value: gpu.ClearValue{}},
	})
	return d.CmdList.Execute()
}

func (c *stubContext) PrevSourceFormat() gpu.Format { return c.format }
func (c *stubContext) SetPrevSource(r *gpu.Resource) { c.prev = r }

type stubEngine struct{}

// NewStubEngine returns the default, dependency-free Engine, analogous to
// opticalflow.NewStubEngine.
func NewStubEngine() Engine { return stubEngine{} }

func (stubEngine) CreateContext(be *backend.Backend, flags gpu.PermutationFlags, backBufferFormat gpu.Format) (Context, error) {
	return &stubContext{flags: flags, format: backBufferFormat}, nil
}
