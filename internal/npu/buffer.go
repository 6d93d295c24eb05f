// Package npu implements the accelerator command-sequence assembler, the
// device-context manager, and the application/runlist layer that binds a
// command sequence to a hardware context and launches it.
//
// The tiled accelerator is a fixed 6x8 grid of compute, memory, and shim
// tiles reachable through a single user-space character-device handle.
// This package never talks to real hardware directly; device access is
// behind the Device interface in context.go so tests can substitute a
// fake.
package npu

import "fmt"

// Ownership describes how a Buffer's backing memory was obtained.
type Ownership int

const (
	// OwningHost is a host allocation owned by the Buffer.
	OwningHost Ownership = iota
	// View is a non-owning reference into memory owned elsewhere.
	View
	// OwningDevice is a DMA-visible allocation obtained from a hardware
	// context; the Buffer does not free it (that is Device.Free's job).
	OwningDevice
)

// Buffer is a length-tagged region of host or DMA-visible device memory.
// Buffers are move-only: Take transfers ownership and zeroes the source,
// so two goroutines can never hold a live reference to the same backing
// store. Concurrent mutation of a single Buffer is the caller's bug to
// avoid, not something this type defends against.
type Buffer struct {
	data      []byte
	ownership Ownership
	devHandle uint64 // opaque device-allocation handle, valid iff ownership == OwningDevice
	released  bool
}

// NewHostBuffer allocates an owning host buffer of n bytes.
func NewHostBuffer(n int) *Buffer {
	return &Buffer{data: make([]byte, n), ownership: OwningHost}
}

// NewView wraps existing memory without taking ownership of it.
func NewView(data []byte) *Buffer {
	return &Buffer{data: data, ownership: View}
}

// NewDeviceBuffer wraps a DMA-visible allocation obtained from a hardware
// context (see Device.Alloc).
func NewDeviceBuffer(data []byte, handle uint64) *Buffer {
	return &Buffer{data: data, ownership: OwningDevice, devHandle: handle}
}

// Len reports the buffer's length in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the backing slice. The caller must not retain it beyond
// the Buffer's lifetime when ownership is OwningDevice.
func (b *Buffer) Bytes() []byte { return b.data }

// DeviceHandle returns the opaque device-allocation handle. Only valid
// when Ownership() == OwningDevice.
func (b *Buffer) DeviceHandle() uint64 { return b.devHandle }

// Ownership reports how this buffer's memory was obtained.
func (b *Buffer) Ownership() Ownership { return b.ownership }

// Take moves ownership of b into a new Buffer value and invalidates b, so
// it can safely be handed across a goroutine boundary without risking a
// second live reference.
func (b *Buffer) Take() *Buffer {
	if b.released {
		panic("npu: Take of a released Buffer")
	}
	moved := &Buffer{data: b.data, ownership: b.ownership, devHandle: b.devHandle}
	b.data = nil
	b.released = true
	return moved
}

// TypedView wraps a Buffer with an element type, reporting Size in
// elements rather than bytes.
type TypedView struct {
	buf      *Buffer
	elemSize int
}

// NewTypedView wraps buf with elements of elemSize bytes. buf's length
// must be a multiple of elemSize.
func NewTypedView(buf *Buffer, elemSize int) (*TypedView, error) {
	if elemSize <= 0 {
		return nil, fmt.Errorf("npu: elemSize must be positive, got %d", elemSize)
	}
	if buf.Len()%elemSize != 0 {
		return nil, fmt.Errorf("npu: buffer length %d not a multiple of element size %d", buf.Len(), elemSize)
	}
	return &TypedView{buf: buf, elemSize: elemSize}, nil
}

// Size reports the number of elements the view covers.
func (v *TypedView) Size() int { return v.buf.Len() / v.elemSize }

// Buffer returns the underlying byte buffer.
func (v *TypedView) Buffer() *Buffer { return v.buf }
