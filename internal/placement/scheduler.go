package placement

import (
	"runtime"
	"sync"
	"sync/atomic"

	"mdi/pkg/exception"

	"github.com/klauspost/cpuid/v2"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Topology describes the cores visible to the process.
type Topology struct {
	Logical  int `json:"logical"`
	Physical int `json:"physical"`
}

// Scheduler pins pipeline threads to cores.
//
// Binding is best effort: on platforms without an affinity call the thread is
// only locked to its OS thread and the scheduler reports itself as degraded.
type Scheduler struct {
	topology Topology
	degraded atomic.Bool
	warnOnce sync.Once
	setter   func(core int) error
}

// NewScheduler detects the topology of the host.
func NewScheduler() *Scheduler {
	return newScheduler(detectTopology(), setAffinity)
}

func newScheduler(topology Topology, setter func(core int) error) *Scheduler {
	return &Scheduler{topology: topology, setter: setter}
}

func detectTopology() Topology {
	t := Topology{
		Logical:  runtime.NumCPU(),
		Physical: cpuid.CPU.PhysicalCores,
	}
	if t.Physical <= 0 || t.Physical > t.Logical {
		t.Physical = t.Logical
	}
	return t
}

// Topology returns the detected core counts.
func (s *Scheduler) Topology() Topology {
	return s.topology
}

// Degraded reports whether any bind fell back to an unpinned thread.
func (s *Scheduler) Degraded() bool {
	return s.degraded.Load()
}

// BindCurrentThread locks the calling goroutine to its OS thread and pins that
// thread to core. The goroutine stays locked even when pinning fails.
func (s *Scheduler) BindCurrentThread(core int) error {
	if core < 0 || core >= s.topology.Logical {
		return errors.Wrapf(exception.ErrInvalidCore, "core %d of %d", core, s.topology.Logical)
	}

	runtime.LockOSThread()
	if s.setter == nil {
		s.degrade("thread affinity is not supported on " + runtime.GOOS)
		return nil
	}
	if err := s.setter(core); err != nil {
		s.degrade("set thread affinity: " + err.Error())
		return errors.Wrapf(exception.ErrPlacement, "core %d: %s", core, err)
	}
	return nil
}

func (s *Scheduler) degrade(reason string) {
	s.degraded.Store(true)
	s.warnOnce.Do(func() {
		logs.Infof("placement degraded, threads run unpinned: %s", reason)
	})
}

// Thread is a goroutine started by SpawnPinned.
type Thread struct {
	Name string
	Core int

	done    chan struct{}
	bindErr error
}

// Wait blocks until the work function returns.
func (t *Thread) Wait() {
	<-t.done
}

// Done is closed once the work function returns.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// BindErr returns the pinning error, if any. Read it after Wait returns or
// Done is closed.
func (t *Thread) BindErr() error {
	return t.bindErr
}

// SpawnPinned runs work on a new goroutine locked to its own OS thread and
// pinned to core. Work runs whether or not pinning succeeded.
func (s *Scheduler) SpawnPinned(core int, name string, work func()) *Thread {
	t := &Thread{Name: name, Core: core, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		// the goroutine exits locked, which retires its OS thread
		if err := s.BindCurrentThread(core); err != nil {
			t.bindErr = err
			logs.Errorf("pin thread %s to core %d, err: %+v", name, core, err)
		}
		work()
	}()
	return t
}

// RecommendedLayout returns one core per thread while threads fit on the
// logical cores, and assigns round-robin otherwise.
func (s *Scheduler) RecommendedLayout(threads int) []int {
	if threads <= 0 {
		return nil
	}
	logical := max(s.topology.Logical, 1)
	layout := make([]int, threads)
	for i := range layout {
		layout[i] = i % logical
	}
	return layout
}

// Plan assigns a core to each named role in order.
func (s *Scheduler) Plan(roles ...string) map[string]int {
	layout := s.RecommendedLayout(len(roles))
	plan := make(map[string]int, len(roles))
	for i, role := range roles {
		plan[role] = layout[i]
	}
	return plan
}
