package npu

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Header is the 4-word (really 6-field, packed) preamble every serialized
// command sequence carries ahead of its instruction words.
type Header struct {
	DeviceMajor, DeviceMinor, DeviceGen uint8
	Rows, Cols                          uint8
	MemTileRows                         uint8
	InstrCount                          uint32
	InstrByteLen                        uint32
}

const headerWordCount = 4

func (h Header) encode() [headerWordCount]uint32 {
	var w [headerWordCount]uint32
	w[0] = uint32(h.DeviceMajor)<<16 | uint32(h.DeviceMinor)<<8 | uint32(h.DeviceGen)
	w[1] = uint32(h.Rows)<<16 | uint32(h.Cols)<<8 | uint32(h.MemTileRows)
	w[2] = h.InstrCount
	w[3] = h.InstrByteLen
	return w
}

func decodeHeader(w [headerWordCount]uint32) Header {
	return Header{
		DeviceMajor:  uint8(w[0] >> 16),
		DeviceMinor:  uint8(w[0] >> 8),
		DeviceGen:    uint8(w[0]),
		Rows:         uint8(w[1] >> 16),
		Cols:         uint8(w[1] >> 8),
		MemTileRows:  uint8(w[1]),
		InstrCount:   w[2],
		InstrByteLen: w[3],
	}
}

// CommandSequence is an ordered list of Commands plus a Header, forming
// the accelerator's wire-format instruction stream. It is bidirectional:
// any sequence it produces it can also consume, and any valid sequence it
// consumes it reproduces byte-identically on re-emission (modulo
// don't-care words, which are canonicalized to zero).
//
// Version is bumped on every mutation so an Application can detect that
// its cached compiled kernel is stale without re-walking the command
// list.
type CommandSequence struct {
	Header   Header
	Commands []*Command

	serialized []uint32
	isValid    bool
	version    uint64
}

// NewCommandSequence creates an empty sequence with the given device
// topology header fields.
func NewCommandSequence(h Header) *CommandSequence {
	return &CommandSequence{Header: h}
}

// Version reports the monotonically increasing mutation counter.
func (s *CommandSequence) Version() uint64 { return s.version }

func (s *CommandSequence) touch() {
	s.version++
	s.isValid = false
	s.serialized = nil
}

// ClearCmds empties the command list and bumps the version.
func (s *CommandSequence) ClearCmds() {
	s.Commands = nil
	s.touch()
}

// append adds a built command and invalidates the cached serialized form.
func (s *CommandSequence) append(c *Command) {
	s.Commands = append(s.Commands, c)
	s.touch()
}

// RegisterWrite emits a direct register-write instruction.
func (s *CommandSequence) RegisterWrite(f RegisterWriteFields) {
	s.append(&Command{Op: OpRegisterWrite, RegisterWrite: &f})
}

// MaskWriteOp emits a direct masked register-write instruction.
func (s *CommandSequence) MaskWriteOp(f MaskWriteFields) {
	s.append(&Command{Op: OpMaskWrite, MaskWrite: &f})
}

// Preemption emits a preemption marker at the given level (0..3). It
// always emits: the sequence does not know its hardware context's
// preemption setting, so skipping the marker when preemption is disabled
// is left to the caller (DMAMemcpyND does so through its
// preemptionEnabled argument).
func (s *CommandSequence) Preemption(level uint8) error {
	if level > 3 {
		return errMalformed("preemption level %d out of range [0,3]", level)
	}
	s.append(&Command{Op: OpPreemption, Preemption: &PreemptionFields{Level: level}})
	return nil
}

// DMAWait emits a single wait-sync (TCT) instruction for the given tile
// and channel/direction.
func (s *CommandSequence) DMAWait(row, col uint8, dir Direction, channel uint8) {
	s.append(&Command{Op: OpWaitSync, WaitSync: &WaitSyncFields{Row: row, Col: col, Direction: dir, Channel: channel}})
}

// DMAMemcpyNDParams describes an N-dimensional strided DMA transfer, the
// argument to the assembler's dma_memcpy_nd builder helper.
type DMAMemcpyNDParams struct {
	ElemSize   int // bytes per element: 1, 2, or 4
	ArgIndex   uint8
	Direction  Direction
	Row, Col   uint8
	BDID       uint8
	Channel    uint8
	Offset     [4]uint32
	Size       [4]uint32
	Stride     [4]uint32
	PacketID   uint16
	PacketType uint16
	IssueToken bool // forced true when Direction == DirS2MM
}

// DMAMemcpyND emits a block-DMA + address-patch + register-write
// (queue-push) triple, optionally preceded by a token-issue register
// write for S2MM transfers. Element sizes above 4 bytes are rejected, and
// strides/innermost size are divided by the element packing factor since
// the hardware's native unit is the 32-bit word.
func (s *CommandSequence) DMAMemcpyND(p DMAMemcpyNDParams, preemptionEnabled bool, preemptionLevel uint8) error {
	factor, err := packingFactor(p.ElemSize)
	if err != nil {
		return err
	}
	if p.Direction == DirS2MM {
		p.IssueToken = true
	}

	if preemptionEnabled {
		if err := s.Preemption(preemptionLevel); err != nil {
			return err
		}
	}

	if p.IssueToken {
		s.RegisterWrite(RegisterWriteFields{
			Row: p.Row, Col: p.Col, Direction: p.Direction, Channel: p.Channel,
			IssueToken: true, BDID: p.BDID,
		})
	}

	innermostSize := p.Size[3] / uint32(factor)
	innermostStride := p.Stride[3] / uint32(factor)

	s.append(&Command{Op: OpBlockDMA, BlockDMA: &BlockDMAFields{
		Row: p.Row, Col: p.Col, BDID: p.BDID, Direction: p.Direction, Channel: p.Channel,
		Length:     p.Size[0] * p.Size[1] * p.Size[2] * innermostSize * uint32(p.ElemSize),
		Offset:     p.Offset[3],
		PacketID:   p.PacketID,
		PacketType: p.PacketType,
		Sizes: [3]uint16{
			uint16(encodeMinusOne(p.Size[0])),
			uint16(encodeMinusOne(p.Size[1])),
			uint16(encodeMinusOne(p.Size[2])),
		},
		Strides: [3]uint16{
			uint16(encodeMinusOne(p.Stride[0] / uint32(factor))),
			uint16(encodeMinusOne(p.Stride[1] / uint32(factor))),
			uint16(encodeMinusOne(p.Stride[2] / uint32(factor))),
		},
		IterSize:   uint16(encodeMinusOne(innermostSize)),
		IterStride: uint16(encodeMinusOne(innermostStride)),
		Valid:      true,
		Lock:       LockSemantics{AcquireLock: true, ReleaseLock: true},
	}})

	s.append(&Command{Op: OpAddressPatch, AddressPatch: &AddressPatchFields{
		Row: p.Row, Col: p.Col, BDID: p.BDID, ArgIndex: p.ArgIndex, ArgOff: p.Offset[3],
	}})

	s.RegisterWrite(RegisterWriteFields{
		Row: p.Row, Col: p.Col, Direction: p.Direction, Channel: p.Channel,
		PushQueue: true, BDID: p.BDID,
	})
	return nil
}

// Serialize lazily rebuilds the u32 word stream from the command list,
// caching it until the next mutation.
func (s *CommandSequence) Serialize() ([]uint32, error) {
	if s.isValid && s.serialized != nil {
		return s.serialized, nil
	}
	out := make([]uint32, 0, headerWordCount)
	hw := s.Header.encode()
	out = append(out, hw[:]...)

	byteLen := 0
	for _, c := range s.Commands {
		words, err := c.Serialize()
		if err != nil {
			return nil, err
		}
		out = append(out, words...)
		byteLen += len(words) * 4
	}
	s.Header.InstrCount = uint32(len(s.Commands))
	s.Header.InstrByteLen = uint32(byteLen)
	hw = s.Header.encode()
	copy(out[:headerWordCount], hw[:])

	s.serialized = out
	s.isValid = true
	return out, nil
}

// IsValid reports whether the cached serialized form is current.
func (s *CommandSequence) IsValid() bool { return s.isValid }

// Interpret produces a human-readable dump of the sequence, for
// debugging.
func (s *CommandSequence) Interpret() string {
	var b strings.Builder
	fmt.Fprintf(&b, "header: major=%d minor=%d gen=%d rows=%d cols=%d mem_tile_rows=%d instr_count=%d instr_bytes=%d\n",
		s.Header.DeviceMajor, s.Header.DeviceMinor, s.Header.DeviceGen,
		s.Header.Rows, s.Header.Cols, s.Header.MemTileRows,
		s.Header.InstrCount, s.Header.InstrByteLen)
	for i, c := range s.Commands {
		fmt.Fprintf(&b, "%4d: %-14s %+v\n", i, c.Op, commandFields(c))
	}
	return b.String()
}

func commandFields(c *Command) any {
	switch c.Op {
	case OpRegisterWrite:
		return c.RegisterWrite
	case OpBlockDMA:
		return c.BlockDMA
	case OpMaskWrite:
		return c.MaskWrite
	case OpPreemption:
		return c.Preemption
	case OpWaitSync:
		return c.WaitSync
	case OpAddressPatch:
		return c.AddressPatch
	default:
		return nil
	}
}

// ParseWords parses a flat u32 word stream (header + instructions) into a
// CommandSequence. Fails with a *MalformedStreamError carrying the
// diverging word offset if an opcode doesn't match any known command.
func ParseWords(words []uint32) (*CommandSequence, error) {
	if len(words) < headerWordCount {
		return nil, errMalformed("stream too short for header: %d words", len(words))
	}
	var hw [headerWordCount]uint32
	copy(hw[:], words[:headerWordCount])
	header := decodeHeader(hw)
	body := words[headerWordCount:]

	seq := &CommandSequence{Header: header}
	i := 0
	for i < len(body) {
		op := headerOpcode(body[i])
		n, ok := WordCount[op]
		if !ok || n == 0 {
			return nil, &MalformedStreamError{WordOffset: headerWordCount + i, Msg: fmt.Sprintf("unknown opcode 0x%02x", uint8(op))}
		}
		if i+n > len(body) {
			return nil, &MalformedStreamError{WordOffset: headerWordCount + i, Msg: fmt.Sprintf("opcode 0x%02x needs %d words, only %d remain", uint8(op), n, len(body)-i)}
		}
		cmd, err := parseCommand(op, body[i:i+n])
		if err != nil {
			return nil, &MalformedStreamError{WordOffset: headerWordCount + i, Msg: err.Error()}
		}
		seq.Commands = append(seq.Commands, cmd)
		i += n
	}

	if uint32(len(seq.Commands)) != header.InstrCount {
		// Structural inconsistency: corrected in the header, not fatal —
		// parsing already succeeded on the body, so we proceed with what
		// we parsed.
		header.InstrCount = uint32(len(seq.Commands))
		seq.Header = header
	}

	return seq, nil
}

// FromFile loads a sequence from disk. asBinary selects raw native-order
// u32 words; when false, the file is parsed as hex-per-line text.
func FromFile(path string, asBinary bool) (*CommandSequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if asBinary {
		if len(data)%4 != 0 {
			return nil, errMalformed("file size %d is not a multiple of 4", len(data))
		}
		words := make([]uint32, len(data)/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		}
		return ParseWords(words)
	}

	var words []uint32
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 16, 32)
		if err != nil {
			return nil, errMalformed("invalid hex word %q: %v", line, err)
		}
		words = append(words, uint32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ParseWords(words)
}

// ToFile serializes and writes the sequence as a raw native-order u32
// stream.
func (s *CommandSequence) ToFile(path string) error {
	words, err := s.Serialize()
	if err != nil {
		return err
	}
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	return os.WriteFile(path, buf, 0o644)
}
