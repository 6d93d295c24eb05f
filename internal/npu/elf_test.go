package npu

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToELFProducesReadableObject(t *testing.T) {
	seq := NewCommandSequence(testHeader())
	require.NoError(t, seq.DMAMemcpyND(DMAMemcpyNDParams{
		ElemSize: 4, ArgIndex: 2, Direction: DirS2MM, Size: [4]uint32{1, 1, 1, 1},
	}, false, 0))

	obj, err := seq.ToELF()
	require.NoError(t, err)
	require.Len(t, obj.PatchTable, 1)
	require.Equal(t, uint8(2), obj.PatchTable[0].ArgIndex)

	f, err := elf.NewFile(bytes.NewReader(obj.Bytes))
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, elf.ET_REL, f.Type)

	sect := f.Section(elfTextSectionName)
	require.NotNil(t, sect)
	words, err := seq.Serialize()
	require.NoError(t, err)
	require.Equal(t, len(words)*4, int(sect.Size))
}
