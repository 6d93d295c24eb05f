package npu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testHeader() Header {
	return Header{DeviceMajor: 1, DeviceMinor: 0, DeviceGen: 2, Rows: 6, Cols: 8, MemTileRows: 2}
}

func TestCommandSequenceRoundTrip(t *testing.T) {
	seq := NewCommandSequence(testHeader())
	seq.RegisterWrite(RegisterWriteFields{Row: 1, Col: 2, Direction: DirS2MM, Channel: 3, Addr: 0x1000, Value: 0x42, PushQueue: true, Repeat: 5, BDID: 7, IssueToken: true})
	seq.MaskWriteOp(MaskWriteFields{Row: 4, Col: 5, Addr: 0x2000, Value: 0xFF, Mask: 0x0F})
	require.NoError(t, seq.Preemption(2))
	seq.DMAWait(1, 1, DirMM2S, 2)
	require.NoError(t, seq.DMAMemcpyND(DMAMemcpyNDParams{
		ElemSize: 2, ArgIndex: 0, Direction: DirS2MM, Row: 2, Col: 3, BDID: 1, Channel: 0,
		Size:   [4]uint32{1, 1, 4, 8},
		Stride: [4]uint32{0, 0, 8, 2},
	}, false, 0))

	words, err := seq.Serialize()
	require.NoError(t, err)

	parsed, err := ParseWords(words)
	require.NoError(t, err)
	require.Equal(t, len(seq.Commands), len(parsed.Commands))

	reserialized, err := parsed.Serialize()
	require.NoError(t, err)
	require.Equal(t, words, reserialized)
}

func TestCommandSequenceHeaderCounts(t *testing.T) {
	seq := NewCommandSequence(testHeader())
	seq.MaskWriteOp(MaskWriteFields{Row: 1, Col: 1, Addr: 1, Value: 2, Mask: 3})
	seq.MaskWriteOp(MaskWriteFields{Row: 1, Col: 1, Addr: 1, Value: 2, Mask: 3})

	words, err := seq.Serialize()
	require.NoError(t, err)
	require.Equal(t, uint32(2), seq.Header.InstrCount)
	require.Equal(t, uint32(2*WordCount[OpMaskWrite]*4), seq.Header.InstrByteLen)
	require.Equal(t, len(words), headerWordCount+2*WordCount[OpMaskWrite])
}

func TestParseWordsUnknownOpcode(t *testing.T) {
	h := testHeader().encode()
	words := append(h[:], 0xFF000000) // opcode 0xFF is unknown
	_, err := ParseWords(words)
	require.Error(t, err)
	var malformed *MalformedStreamError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, headerWordCount, malformed.WordOffset)
}

func TestParseWordsTruncatedInstruction(t *testing.T) {
	h := testHeader().encode()
	// a block_dma header claims 12 words but only one word follows
	header := packHeader(OpBlockDMA, 0, 0, DirS2MM, 0, 0)
	words := append(h[:], header)
	_, err := ParseWords(words)
	require.Error(t, err)
}

func TestParseWordsCorrectsInstrCountMismatch(t *testing.T) {
	hdr := testHeader()
	hdr.InstrCount = 99 // deliberately wrong
	hw := hdr.encode()
	body := packHeader(OpPreemption, 0, 0, 0, 0, 1)
	words := append(hw[:], body)

	seq, err := ParseWords(words)
	require.NoError(t, err)
	require.Equal(t, uint32(1), seq.Header.InstrCount)
}

func TestPreemptionLevelOutOfRange(t *testing.T) {
	seq := NewCommandSequence(testHeader())
	require.Error(t, seq.Preemption(4))
}

func TestDMAMemcpyNDRejectsBadElemSize(t *testing.T) {
	seq := NewCommandSequence(testHeader())
	err := seq.DMAMemcpyND(DMAMemcpyNDParams{ElemSize: 3, Direction: DirS2MM}, false, 0)
	require.Error(t, err)
}

func TestDMAMemcpyNDForcesIssueTokenOnS2MM(t *testing.T) {
	seq := NewCommandSequence(testHeader())
	require.NoError(t, seq.DMAMemcpyND(DMAMemcpyNDParams{
		ElemSize: 4, Direction: DirS2MM, Size: [4]uint32{1, 1, 1, 1},
	}, false, 0))

	require.Equal(t, OpRegisterWrite, seq.Commands[0].Op)
	require.True(t, seq.Commands[0].RegisterWrite.IssueToken)
}

func TestSequenceVersionBumpsOnMutation(t *testing.T) {
	seq := NewCommandSequence(testHeader())
	v0 := seq.Version()
	seq.MaskWriteOp(MaskWriteFields{Row: 1, Col: 1})
	require.Greater(t, seq.Version(), v0)
}
