// internal/driver/device/accel.go
// User-space driver for the tiled accelerator's character device,
// satisfying npu.Device over /dev/accel0 via ioctl and mmap.

package device

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/flmrun/flm/internal/npu"
)

// AccelDevicePath is the character device the tiled accelerator exposes.
const AccelDevicePath = "/dev/accel0"

// Accelerator magic number and command numbers for the ioctl encoding
// this driver issues against /dev/accel0.
const (
	accelMagic = 0x61 // 'a'

	cmdLoadBinary uint32 = 0x01
	cmdLaunch     uint32 = 0x02
	cmdWait       uint32 = 0x03
	cmdAlloc      uint32 = 0x04
	cmdFree       uint32 = 0x05
)

// loadBinaryArg mirrors the kernel driver's load_binary ioctl payload:
// a pointer/length pair for the ELF text bytes, and an out parameter
// for the resulting binary handle.
type loadBinaryArg struct {
	dataPtr uint64
	dataLen uint64
	handle  uint64
}

// launchArg mirrors the launch ioctl payload: which context slot, which
// resident binary, and the resolved external-buffer addresses to patch
// in, keyed by argument index.
type launchArg struct {
	ctxSlot   uint32
	_         uint32
	binHandle uint64
	argPtr    uint64 // *[8]uint64, indexed by argIndex
	argMask   uint64 // bit i set means argPtr[i] is valid
}

type waitArg struct {
	ctxSlot uint32
	_       uint32
}

type allocArg struct {
	size   uint64
	handle uint64
}

type freeArg struct {
	handle uint64
}

// AccelDevice opens the tiled accelerator's character device and issues
// ioctls directly, without going through the kernel module's packet
// framing the ASIC transport used — the tiled accelerator's driver
// accepts structured ioctl args instead of a byte-stream protocol.
type AccelDevice struct {
	mu   sync.Mutex
	file *os.File
	fd   uintptr

	allocs map[uint64][]byte // handle -> mmap'd region, for Free's munmap
}

// OpenAccelDevice opens AccelDevicePath for read/write. Callers are
// expected to have already confirmed the kernel module is loaded.
func OpenAccelDevice() (*AccelDevice, error) {
	file, err := os.OpenFile(AccelDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", AccelDevicePath, err)
	}
	return &AccelDevice{
		file:   file,
		fd:     file.Fd(),
		allocs: make(map[uint64][]byte),
	}, nil
}

func (d *AccelDevice) ioctl(cmd uintptr, arg unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, d.fd, cmd, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// LoadBinary uploads obj's text section and returns the device's
// opaque binary handle for it.
func (d *AccelDevice) LoadBinary(obj *npu.ELFObject) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	arg := loadBinaryArg{
		dataPtr: uint64(uintptr(unsafe.Pointer(&obj.Bytes[0]))),
		dataLen: uint64(len(obj.Bytes)),
	}
	cmd := IOWR(accelMagic, cmdLoadBinary, uint32(unsafe.Sizeof(arg)))
	if err := d.ioctl(cmd, unsafe.Pointer(&arg)); err != nil {
		return 0, fmt.Errorf("device: load binary: %w", err)
	}
	return arg.handle, nil
}

// Launch starts binHandle on ctxSlot, patching in up to 8 resolved
// external-buffer addresses keyed by argIndex.
func (d *AccelDevice) Launch(ctxSlot int, binHandle uint64, argAddrs map[uint8]uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var args [8]uint64
	var mask uint64
	for idx, addr := range argAddrs {
		if idx >= 8 {
			return fmt.Errorf("device: launch argument index %d out of range", idx)
		}
		args[idx] = addr
		mask |= 1 << idx
	}

	arg := launchArg{
		ctxSlot:   uint32(ctxSlot),
		binHandle: binHandle,
		argPtr:    uint64(uintptr(unsafe.Pointer(&args[0]))),
		argMask:   mask,
	}
	cmd := IOW(accelMagic, cmdLaunch, uint32(unsafe.Sizeof(arg)))
	if err := d.ioctl(cmd, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("device: launch context %d: %w", ctxSlot, err)
	}
	return nil
}

// Wait blocks until ctxSlot signals completion.
func (d *AccelDevice) Wait(ctxSlot int) error {
	arg := waitArg{ctxSlot: uint32(ctxSlot)}
	cmd := IOW(accelMagic, cmdWait, uint32(unsafe.Sizeof(arg)))
	if err := d.ioctl(cmd, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("device: wait context %d: %w", ctxSlot, err)
	}
	return nil
}

// Alloc requests n bytes of DMA-visible device memory via the ioctl
// and maps it into the process's address space with mmap so callers
// can read and write it directly.
func (d *AccelDevice) Alloc(n int) ([]byte, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	arg := allocArg{size: uint64(n)}
	cmd := IOWR(accelMagic, cmdAlloc, uint32(unsafe.Sizeof(arg)))
	if err := d.ioctl(cmd, unsafe.Pointer(&arg)); err != nil {
		return nil, 0, fmt.Errorf("device: alloc %d bytes: %w", n, err)
	}

	data, err := unix.Mmap(int(d.fd), int64(arg.handle), n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, 0, fmt.Errorf("device: mmap handle %#x: %w", arg.handle, err)
	}

	d.allocs[arg.handle] = data
	return data, arg.handle, nil
}

// Free unmaps and releases a device allocation obtained from Alloc.
func (d *AccelDevice) Free(handle uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if data, ok := d.allocs[handle]; ok {
		if err := unix.Munmap(data); err != nil {
			return fmt.Errorf("device: munmap handle %#x: %w", handle, err)
		}
		delete(d.allocs, handle)
	}

	arg := freeArg{handle: handle}
	cmd := IOW(accelMagic, cmdFree, uint32(unsafe.Sizeof(arg)))
	if err := d.ioctl(cmd, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("device: free handle %#x: %w", handle, err)
	}
	return nil
}

// Close releases the character-device handle, unmapping any device
// allocations the caller never explicitly freed.
func (d *AccelDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for handle, data := range d.allocs {
		unix.Munmap(data)
		delete(d.allocs, handle)
	}
	return d.file.Close()
}

// IsAccelDeviceAvailable reports whether the accelerator's character
// device node exists.
func IsAccelDeviceAvailable() bool {
	_, err := os.Stat(AccelDevicePath)
	return err == nil
}
