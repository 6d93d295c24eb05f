package npu

import (
	"sync"

	"github.com/flmrun/flm/internal/flmerr"
)

// Runlist groups several runs from the same application for batched
// dispatch. The hardware does not support batched dispatch and
// preemption at once, so a runlist cannot be created on an application
// whose context manager has preemption enabled.
type Runlist struct {
	app *Application

	mu   sync.Mutex
	runs []*Run
}

// CreateRunlist returns an empty runlist container for a, rejecting the
// request outright when preemption is enabled on a's context manager.
func (a *Application) CreateRunlist() (*Runlist, error) {
	if a.ctxMgr.PreemptionEnabled() {
		return nil, flmerr.New(flmerr.InvalidRequest,
			"runlists are not supported while preemption is enabled")
	}
	return &Runlist{app: a}, nil
}

// Add submits args as a new run and appends it to the runlist.
func (rl *Runlist) Add(args map[uint8]uint64) (*Run, error) {
	run, err := rl.app.CreateRun(args)
	if err != nil {
		return nil, err
	}
	rl.mu.Lock()
	rl.runs = append(rl.runs, run)
	rl.mu.Unlock()
	return run, nil
}

// Wait blocks until every run in the list has reached a terminal state,
// returning the first error encountered (if any) after all runs have
// been waited on.
func (rl *Runlist) Wait() error {
	rl.mu.Lock()
	runs := append([]*Run(nil), rl.runs...)
	rl.mu.Unlock()

	var first error
	for _, r := range runs {
		if _, err := r.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Len reports the number of runs currently grouped in the list.
func (rl *Runlist) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.runs)
}
