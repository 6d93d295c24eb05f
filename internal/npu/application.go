package npu

import (
	"fmt"
	"sync"

	"github.com/flmrun/flm/internal/flmerr"
)

// RunState is the terminal state of a dispatched run.
type RunState int

const (
	RunPending RunState = iota
	RunComplete
	RunFailed
)

// Run is a handle to a dispatched, not-yet-awaited execution.
type Run struct {
	app  *Application
	args map[uint8]uint64

	mu    sync.Mutex
	state RunState
	err   error
}

// Wait blocks until the run reaches a terminal state and returns it.
func (r *Run) Wait() (RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunPending {
		return r.state, r.err
	}
	if err := r.app.ctxMgr.dev.Wait(r.app.ctxSlot); err != nil {
		r.state, r.err = RunFailed, flmerr.Wrap(flmerr.DeviceLaunchFailure, "wait for run", err)
		return r.state, r.err
	}
	r.state = RunComplete
	return r.state, nil
}

// cachedKernel is the compiled artifact bound to a sequence version.
type cachedKernel struct {
	version   uint64
	binHandle uint64
	obj       *ELFObject
}

// Application binds one command sequence to one hardware context. Its
// compiled kernel is cached and only rebuilt when the sequence has
// changed since the last launch.
type Application struct {
	mu       sync.Mutex
	ctxMgr   *HardwareContextManager
	ctxSlot  int
	sequence *CommandSequence
	cached   *cachedKernel
}

// CreateApplication returns a fresh application bound to the given
// hardware context slot, with an empty command sequence.
func (m *HardwareContextManager) CreateApplication(ctxSlot int, header Header) (*Application, error) {
	if _, ok := m.entryAt(ctxSlot); !ok {
		return nil, flmerr.New(flmerr.InvalidRequest, fmt.Sprintf("no hardware context at slot %d", ctxSlot))
	}
	return &Application{
		ctxMgr:   m,
		ctxSlot:  ctxSlot,
		sequence: NewCommandSequence(header),
	}, nil
}

// Sequence returns the application's mutable command sequence so callers
// can append instructions with the Builder helpers before launching.
func (a *Application) Sequence() *CommandSequence { return a.sequence }

// ensureCompiled rebuilds and reloads the kernel if the sequence has
// changed since the cache was last populated.
func (a *Application) ensureCompiled() error {
	if a.cached != nil && a.cached.version == a.sequence.Version() {
		return nil
	}
	obj, err := a.sequence.ToELF()
	if err != nil {
		return flmerr.Wrap(flmerr.DeviceLaunchFailure, "assemble kernel", err)
	}
	handle, err := a.ctxMgr.dev.LoadBinary(obj)
	if err != nil {
		return flmerr.Wrap(flmerr.DeviceLaunchFailure, "load kernel", err)
	}
	a.cached = &cachedKernel{version: a.sequence.Version(), binHandle: handle, obj: obj}
	return nil
}

// Launch reassembles and reloads the kernel if stale, submits a run with
// args bound as external DMA buffer handles, waits for its terminal
// state, and returns it.
func (a *Application) Launch(args map[uint8]uint64) (RunState, error) {
	run, err := a.CreateRun(args)
	if err != nil {
		return RunFailed, err
	}
	return run.Wait()
}

// CreateRun reassembles and reloads the kernel if stale, then submits a
// run without awaiting it.
func (a *Application) CreateRun(args map[uint8]uint64) (*Run, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureCompiled(); err != nil {
		return nil, err
	}
	if err := a.ctxMgr.dev.Launch(a.ctxSlot, a.cached.binHandle, args); err != nil {
		return nil, flmerr.Wrap(flmerr.DeviceLaunchFailure, "launch run", err)
	}
	return &Run{app: a, args: args, state: RunPending}, nil
}
