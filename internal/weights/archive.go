// Package weights reads a model's weight archive, streams tensors into
// host or device buffers, and reorders quantized matmul weights into the
// tile-interleaved layout the accelerator's matmul kernels expect.
package weights

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flmrun/flm/internal/npu"
)

// TensorRecord describes one tensor's shape, storage dtype, and byte
// range within the archive's data section.
type TensorRecord struct {
	Shape   []int  `json:"shape"`
	Dtype   string `json:"dtype"`
	Offsets [2]int64 `json:"offsets"`
}

// Dtype names the archive knows how to read.
const (
	DtypeF16   = "f16"
	DtypeF32   = "f32"
	DtypeQ4_32 = "q4_32" // grouped int4, 32 elements per group
)

// Archive is an opened weight file: its JSON header plus a handle onto
// the raw data section that follows it.
type Archive struct {
	records map[string]TensorRecord
	data    *os.File
	dataOff int64
}

// Open reads path's JSON header and keeps the file open for streaming
// reads of tensor byte ranges.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("weights: open %s: %w", path, err)
	}

	var headerLen uint64
	if err := readHeaderLength(f, &headerLen); err != nil {
		f.Close()
		return nil, err
	}

	headerBytes := make([]byte, headerLen)
	if _, err := f.ReadAt(headerBytes, 8); err != nil {
		f.Close()
		return nil, fmt.Errorf("weights: read header: %w", err)
	}

	var records map[string]TensorRecord
	if err := json.Unmarshal(headerBytes, &records); err != nil {
		f.Close()
		return nil, fmt.Errorf("weights: parse header: %w", err)
	}

	return &Archive{
		records: records,
		data:    f,
		dataOff: 8 + int64(headerLen),
	}, nil
}

func readHeaderLength(f *os.File, out *uint64) error {
	var buf [8]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return fmt.Errorf("weights: read header length: %w", err)
	}
	*out = uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56
	return nil
}

// Close releases the underlying file handle.
func (a *Archive) Close() error { return a.data.Close() }

// Tensor looks up a tensor's record by name.
func (a *Archive) Tensor(name string) (TensorRecord, bool) {
	r, ok := a.records[name]
	return r, ok
}

// Names lists every tensor in the archive.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.records))
	for n := range a.records {
		names = append(names, n)
	}
	return names
}

func (a *Archive) byteLen(r TensorRecord) int64 { return r.Offsets[1] - r.Offsets[0] }

// Load blits name's raw bytes into dst. dst must be exactly the
// archive record's byte length.
func (a *Archive) Load(name string, dst *npu.Buffer) error {
	r, ok := a.records[name]
	if !ok {
		return fmt.Errorf("weights: no tensor named %q", name)
	}
	n := a.byteLen(r)
	if int64(dst.Len()) != n {
		return fmt.Errorf("weights: tensor %q is %d bytes, destination buffer is %d", name, n, dst.Len())
	}
	_, err := a.data.ReadAt(dst.Bytes(), a.dataOff+r.Offsets[0])
	if err != nil {
		return fmt.Errorf("weights: read tensor %q: %w", name, err)
	}
	return nil
}

// readRaw returns a tensor's raw bytes without touching a Buffer, used
// internally by the quantized-load and dequantize paths.
func (a *Archive) readRaw(name string) ([]byte, TensorRecord, error) {
	r, ok := a.records[name]
	if !ok {
		return nil, TensorRecord{}, fmt.Errorf("weights: no tensor named %q", name)
	}
	buf := make([]byte, a.byteLen(r))
	if _, err := a.data.ReadAt(buf, a.dataOff+r.Offsets[0]); err != nil {
		return nil, TensorRecord{}, fmt.Errorf("weights: read tensor %q: %w", name, err)
	}
	return buf, r, nil
}
