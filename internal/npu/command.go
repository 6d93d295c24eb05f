package npu

import "fmt"

func errMalformed(format string, args ...any) error {
	return &MalformedStreamError{Msg: fmt.Sprintf(format, args...)}
}

// MalformedStreamError reports where in the word stream parsing diverged.
type MalformedStreamError struct {
	WordOffset int
	Msg        string
}

func (e *MalformedStreamError) Error() string {
	if e.WordOffset > 0 {
		return fmt.Sprintf("npu: malformed stream at word %d: %s", e.WordOffset, e.Msg)
	}
	return fmt.Sprintf("npu: malformed stream: %s", e.Msg)
}

// LockSemantics captures a block-DMA buffer descriptor's lock acquire and
// release behavior around the transfer.
type LockSemantics struct {
	AcquireLock bool
	ReleaseLock bool
}

const (
	blockDMAValidBit   = 1 << 16
	blockDMAAcquireBit = 1 << 17
	blockDMAReleaseBit = 1 << 18

	regWritePushQueueBit = 1 << 0
	regWriteIssueTokBit  = 1 << 9
)

// RegisterWriteFields carries the decoded fields of a register-write
// instruction (opcode 0x00, 6 words).
type RegisterWriteFields struct {
	Row, Col   uint8
	Addr       uint32
	Value      uint32
	PushQueue  bool
	Channel    uint8
	Direction  Direction
	Repeat     uint8
	BDID       uint8
	IssueToken bool
}

// BlockDMAFields carries the decoded fields of a block-DMA instruction
// (opcode 0x01, 12 words): a buffer descriptor submission with up to
// three (size, stride) dimension pairs plus an outer iteration dimension.
type BlockDMAFields struct {
	Row, Col   uint8
	BDID       uint8
	Direction  Direction
	Channel    uint8
	Length     uint32
	Offset     uint32
	PacketID   uint16
	PacketType uint16
	Sizes      [3]uint16
	Strides    [3]uint16
	IterSize   uint16
	IterStride uint16
	NextBD     uint8
	Valid      bool
	Lock       LockSemantics
}

// MaskWriteFields carries the decoded fields of a mask-write instruction
// (opcode 0x03, 7 words).
type MaskWriteFields struct {
	Row, Col uint8
	Addr     uint32
	Value    uint32
	Mask     uint32
}

// PreemptionFields carries the decoded fields of a preemption marker
// (opcode 0x07, 1 word).
type PreemptionFields struct {
	Level uint8 // 0..3
}

// WaitSyncFields carries the decoded fields of a task-completion-token
// wait (opcode 0x80, 4 words).
type WaitSyncFields struct {
	Row, Col  uint8
	Direction Direction
	Channel   uint8
}

// AddressPatchFields carries the decoded fields of a DDR address patch
// (opcode 0x81, 12 words): binds a launch-time argument buffer's address
// into a previously-emitted block DMA's buffer descriptor.
type AddressPatchFields struct {
	Row, Col uint8
	BDID     uint8
	ArgIndex uint8
	ArgOff   uint32
}

// Command is a tagged variant over the accelerator's six instruction
// shapes. Exactly one of the typed fields is non-nil, matching Op.
type Command struct {
	Op            Opcode
	RegisterWrite *RegisterWriteFields
	BlockDMA      *BlockDMAFields
	MaskWrite     *MaskWriteFields
	Preemption    *PreemptionFields
	WaitSync      *WaitSyncFields
	AddressPatch  *AddressPatchFields
}

// WordCount reports the fixed serialized length of this command in u32
// words.
func (c *Command) WordCount() int { return WordCount[c.Op] }

// Serialize encodes c as its fixed-width u32 word sequence. Every word
// carries the opcode in its header's top byte so the stream is
// self-describing: a parser never needs side-channel framing to know how
// many words the next instruction occupies.
func (c *Command) Serialize() ([]uint32, error) {
	switch c.Op {
	case OpRegisterWrite:
		f := c.RegisterWrite
		w := make([]uint32, 6)
		w[0] = packHeader(c.Op, f.Row, f.Col, f.Direction, f.Channel, 0)
		w[1] = f.Addr
		w[2] = f.Value
		flags := uint32(0)
		if f.PushQueue {
			flags |= regWritePushQueueBit
		}
		flags |= uint32(f.Repeat) << 1
		if f.IssueToken {
			flags |= regWriteIssueTokBit
		}
		w[3] = flags
		w[4] = uint32(f.BDID)
		w[5] = 0 // don't-care
		return w, nil

	case OpBlockDMA:
		f := c.BlockDMA
		w := make([]uint32, 12)
		extra := uint32(0)
		if f.Valid {
			extra |= blockDMAValidBit
		}
		if f.Lock.AcquireLock {
			extra |= blockDMAAcquireBit
		}
		if f.Lock.ReleaseLock {
			extra |= blockDMAReleaseBit
		}
		w[0] = packHeader(c.Op, f.Row, f.Col, f.Direction, f.Channel, extra)
		w[1] = uint32(f.BDID)
		w[2] = f.Length
		w[3] = f.Offset
		w[4] = uint32(f.PacketID)<<16 | uint32(f.PacketType)
		w[5] = uint32(f.Sizes[0])<<16 | uint32(f.Strides[0])
		w[6] = uint32(f.Sizes[1])<<16 | uint32(f.Strides[1])
		w[7] = uint32(f.Sizes[2])<<16 | uint32(f.Strides[2])
		w[8] = uint32(f.IterSize)<<16 | uint32(f.IterStride)
		w[9] = uint32(f.NextBD)
		w[10] = 0 // don't-care
		w[11] = 0 // don't-care
		return w, nil

	case OpMaskWrite:
		f := c.MaskWrite
		w := make([]uint32, 7)
		w[0] = packHeader(c.Op, f.Row, f.Col, 0, 0, 0)
		w[1] = f.Addr
		w[2] = f.Value
		w[3] = f.Mask
		w[4], w[5], w[6] = 0, 0, 0 // don't-care
		return w, nil

	case OpPreemption:
		f := c.Preemption
		if f.Level > 3 {
			return nil, errMalformed("preemption level %d out of range [0,3]", f.Level)
		}
		return []uint32{packHeader(c.Op, 0, 0, 0, 0, uint32(f.Level))}, nil

	case OpWaitSync:
		f := c.WaitSync
		w := make([]uint32, 4)
		w[0] = packHeader(c.Op, f.Row, f.Col, f.Direction, f.Channel, 0)
		w[1], w[2], w[3] = 0, 0, 0 // don't-care
		return w, nil

	case OpAddressPatch:
		f := c.AddressPatch
		w := make([]uint32, 12)
		w[0] = packHeader(c.Op, f.Row, f.Col, 0, 0, 0)
		w[1] = uint32(f.BDID)
		w[2] = uint32(f.ArgIndex)
		w[3] = f.ArgOff
		for i := 4; i < 12; i++ {
			w[i] = 0 // don't-care
		}
		return w, nil

	default:
		return nil, errMalformed("unknown opcode 0x%02x", uint8(c.Op))
	}
}

// parseCommand decodes one command given its opcode (read from words[0]'s
// header by the caller) and the words belonging to it.
func parseCommand(op Opcode, words []uint32) (*Command, error) {
	n := WordCount[op]
	if n == 0 {
		return nil, errMalformed("unknown opcode 0x%02x", uint8(op))
	}
	if len(words) < n {
		return nil, errMalformed("opcode 0x%02x needs %d words, got %d", uint8(op), n, len(words))
	}
	words = words[:n]

	switch op {
	case OpRegisterWrite:
		row, col, dir, ch := unpackHeader(words[0])
		flags := words[3]
		return &Command{Op: op, RegisterWrite: &RegisterWriteFields{
			Row: row, Col: col, Direction: dir, Channel: ch,
			Addr:       words[1],
			Value:      words[2],
			PushQueue:  flags&regWritePushQueueBit != 0,
			Repeat:     uint8((flags >> 1) & 0xFF),
			IssueToken: flags&regWriteIssueTokBit != 0,
			BDID:       uint8(words[4]),
		}}, nil

	case OpBlockDMA:
		row, col, dir, ch := unpackHeader(words[0])
		return &Command{Op: op, BlockDMA: &BlockDMAFields{
			Row: row, Col: col, Direction: dir, Channel: ch,
			Valid: words[0]&blockDMAValidBit != 0,
			Lock: LockSemantics{
				AcquireLock: words[0]&blockDMAAcquireBit != 0,
				ReleaseLock: words[0]&blockDMAReleaseBit != 0,
			},
			BDID:       uint8(words[1]),
			Length:     words[2],
			Offset:     words[3],
			PacketID:   uint16(words[4] >> 16),
			PacketType: uint16(words[4]),
			Sizes:      [3]uint16{uint16(words[5] >> 16), uint16(words[6] >> 16), uint16(words[7] >> 16)},
			Strides:    [3]uint16{uint16(words[5]), uint16(words[6]), uint16(words[7])},
			IterSize:   uint16(words[8] >> 16),
			IterStride: uint16(words[8]),
			NextBD:     uint8(words[9]),
		}}, nil

	case OpMaskWrite:
		row, col, _, _ := unpackHeader(words[0])
		return &Command{Op: op, MaskWrite: &MaskWriteFields{
			Row: row, Col: col, Addr: words[1], Value: words[2], Mask: words[3],
		}}, nil

	case OpPreemption:
		level := uint8(words[0] & 0x3)
		if level > 3 {
			return nil, errMalformed("preemption level %d out of range [0,3]", level)
		}
		return &Command{Op: op, Preemption: &PreemptionFields{Level: level}}, nil

	case OpWaitSync:
		row, col, dir, ch := unpackHeader(words[0])
		return &Command{Op: op, WaitSync: &WaitSyncFields{Row: row, Col: col, Direction: dir, Channel: ch}}, nil

	case OpAddressPatch:
		row, col, _, _ := unpackHeader(words[0])
		return &Command{Op: op, AddressPatch: &AddressPatchFields{
			Row: row, Col: col, BDID: uint8(words[1]), ArgIndex: uint8(words[2]), ArgOff: words[3],
		}}, nil

	default:
		return nil, errMalformed("unknown opcode 0x%02x", uint8(op))
	}
}
