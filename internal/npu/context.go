package npu

import (
	"fmt"
	"sync"

	"github.com/flmrun/flm/internal/flmerr"
)

// maxHardwareContexts bounds the hardware-context table; the tiled
// accelerator's firmware only has room for this many resident binaries
// before one must be evicted, so registration past the limit fails
// rather than silently evicting.
const maxHardwareContexts = 16

// Device is the user-space driver's view of the character-device handle.
// A real implementation opens /dev/accel0 and issues ioctls through
// golang.org/x/sys/unix; tests substitute a fake.
type Device interface {
	// LoadBinary uploads an ELF object's text section to the accelerator
	// and returns an opaque binary handle.
	LoadBinary(obj *ELFObject) (uint64, error)
	// Launch starts execution of a previously loaded binary against the
	// given hardware-context slot, patching in external buffer
	// addresses per the object's patch table.
	Launch(ctxSlot int, binHandle uint64, argAddrs map[uint8]uint64) error
	// Wait blocks until the hardware context signals completion.
	Wait(ctxSlot int) error
	// Alloc requests a DMA-visible device allocation of n bytes.
	Alloc(n int) (data []byte, handle uint64, err error)
	// Free releases a device allocation obtained from Alloc.
	Free(handle uint64) error
}

// hardwareContextEntry is one resident binary slot.
type hardwareContextEntry struct {
	binaryPath string
	binHandle  uint64
	obj        *ELFObject
}

// PowerMode is a hint passed through to the kernel driver at context-
// manager construction; the accelerator does not report it back.
type PowerMode int

const (
	PowerModeBalanced PowerMode = iota
	PowerModeHighPerformance
	PowerModeLowPower
)

// HardwareContextManager owns the accelerator's device handle and the
// table mapping registered binary paths to resident hardware-context
// slots. Registration is idempotent: registering the same binary path
// twice returns the existing slot rather than consuming a second one.
// Power mode and the preemption toggle are fixed for the manager's
// lifetime, set once at construction and torn down at process exit.
type HardwareContextManager struct {
	mu        sync.Mutex
	dev       Device
	contexts  []hardwareContextEntry // slot index == position
	byPath    map[string]int
	power     PowerMode
	preempt   bool
}

// NewHardwareContextManager wraps dev with an empty context table. When
// preemptionEnabled is true, runlists are rejected. The flag does not
// reach the command builder: DMAMemcpyND emits a leading preemption
// marker only when its own preemptionEnabled argument is true.
func NewHardwareContextManager(dev Device, power PowerMode, preemptionEnabled bool) *HardwareContextManager {
	return &HardwareContextManager{
		dev:     dev,
		byPath:  make(map[string]int),
		power:   power,
		preempt: preemptionEnabled,
	}
}

// PowerMode reports the manager's fixed power-mode hint.
func (m *HardwareContextManager) PowerMode() PowerMode { return m.power }

// PreemptionEnabled reports whether preemption is on for this manager.
func (m *HardwareContextManager) PreemptionEnabled() bool { return m.preempt }

// RegisterBinary loads obj onto the device and returns its hardware
// context slot. If a binary with the same binaryPath is already
// resident, its existing slot is returned without re-uploading.
func (m *HardwareContextManager) RegisterBinary(binaryPath string, obj *ELFObject) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slot, ok := m.byPath[binaryPath]; ok {
		return slot, nil
	}
	if len(m.contexts) >= maxHardwareContexts {
		return 0, flmerr.New(flmerr.ContextLimitReached,
			fmt.Sprintf("hardware context table full (max %d)", maxHardwareContexts))
	}

	handle, err := m.dev.LoadBinary(obj)
	if err != nil {
		return 0, flmerr.Wrap(flmerr.DeviceLaunchFailure, "load binary", err)
	}

	slot := len(m.contexts)
	m.contexts = append(m.contexts, hardwareContextEntry{
		binaryPath: binaryPath,
		binHandle:  handle,
		obj:        obj,
	})
	m.byPath[binaryPath] = slot
	return slot, nil
}

// Slot looks up an already-registered binary's context slot.
func (m *HardwareContextManager) Slot(binaryPath string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.byPath[binaryPath]
	return slot, ok
}

// Count reports how many hardware-context slots are occupied.
func (m *HardwareContextManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

func (m *HardwareContextManager) entryAt(slot int) (hardwareContextEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < 0 || slot >= len(m.contexts) {
		return hardwareContextEntry{}, false
	}
	return m.contexts[slot], true
}
