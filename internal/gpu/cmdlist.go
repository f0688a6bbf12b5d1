package gpu

// ClearValue is the value a CLEAR_FLOAT job writes. Only the float fields
// are meaningful for the resources this system clears.
type ClearValue struct {
	Float [4]float32
}

// Job is one deferred unit of GPU work queued against a CmdList. Note
// that implementers "need not replicate the job queue; a direct
// command-list recorder is equivalent" — CmdList.Execute simply walks the
// slice and issues the matching native call per job.
type Job struct {
	Kind    JobKind
	Clear   *ClearJob
	Compute *ComputeJob
	Copy    *CopyJob
}

type JobKind int

const (
	JobClear JobKind = iota
	JobCompute
	JobCopy
)

type ClearJob struct {
	Target *Resource
	Value  ClearValue
}

type ComputeJob struct {
	Pipeline   *Pipeline
	GroupsX    int
	GroupsY    int
	GroupsZ    int
	Resources  []*Resource // bound in the order the pipeline's root signature expects
}

type CopyJob struct {
	Dst, Src *Resource
}

// CmdList is the minimal command-recording surface every effect dispatches
// against. A concrete implementation wraps either a D3D12 command list or a
// Vulkan command buffer; this package never calls into either API
// directly, matching the Non-goal that native graphics APIs are external
// collaborators reached only through named interfaces.
type CmdList interface {
	// Transition records a resource-state transition. Implementations only
	// record it; callers pair it with a matching Transition back to the
	// original state before the CmdList is closed.
	Transition(t Transition)

	// Schedule appends a deferred job; jobs run, in order, when Execute is
	// called.
	Schedule(j Job)

	// Execute issues every scheduled job to the native command list and
	// clears the queue.
	Execute() error

	// Native returns the underlying D3D12/Vulkan command-list handle for
	// backend-specific code (e.g. the VK↔DX bridge) that must drop to the
	// native API.
	Native() uintptr
}

// SimpleCmdList is a dependency-free CmdList: it records transitions and
// jobs in memory and "executes" by simply clearing its queue. It stands
// in for a native D3D12/Vulkan command list wherever one isn't supplied,
// letting every effect's dispatch sequencing be exercised without a real
// device.
type SimpleCmdList struct {
	Transitions []Transition
	Jobs        []Job
	ExecuteCount int
}

func NewSimpleCmdList() *SimpleCmdList { return &SimpleCmdList{} }

func (c *SimpleCmdList) Transition(t Transition) { c.Transitions = append(c.Transitions, t) }
func (c *SimpleCmdList) Schedule(j Job)           { c.Jobs = append(c.Jobs, j) }

func (c *SimpleCmdList) Execute() error {
	c.ExecuteCount++
	c.Jobs = c.Jobs[:0]
	return nil
}

func (c *SimpleCmdList) Native() uintptr { return 0 }

// Barrier issues a Transition(from, to) immediately via cl, used for the
// simple in/execute/out pattern that every effect and the final back-buffer
// copy follow.
func Barrier(cl CmdList, r *Resource, to State) {
	from := r.State
	cl.Transition(Transition{Resource: r, From: from, To: to})
	r.State = to
}
