package npu

import "sync/atomic"

// fakeDevice is an in-memory Device for exercising the assembler,
// context manager, and application layer without real hardware.
type fakeDevice struct {
	nextHandle  uint64
	loaded      map[uint64]*ELFObject
	launchCount int
	waitCount   int
	allocated   map[uint64][]byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		loaded:    make(map[uint64]*ELFObject),
		allocated: make(map[uint64][]byte),
	}
}

func (d *fakeDevice) LoadBinary(obj *ELFObject) (uint64, error) {
	h := atomic.AddUint64(&d.nextHandle, 1)
	d.loaded[h] = obj
	return h, nil
}

func (d *fakeDevice) Launch(ctxSlot int, binHandle uint64, argAddrs map[uint8]uint64) error {
	d.launchCount++
	return nil
}

func (d *fakeDevice) Wait(ctxSlot int) error {
	d.waitCount++
	return nil
}

func (d *fakeDevice) Alloc(n int) ([]byte, uint64, error) {
	h := atomic.AddUint64(&d.nextHandle, 1)
	buf := make([]byte, n)
	d.allocated[h] = buf
	return buf, h, nil
}

func (d *fakeDevice) Free(handle uint64) error {
	delete(d.allocated, handle)
	return nil
}
