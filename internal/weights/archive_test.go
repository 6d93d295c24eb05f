package weights

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/flmrun/flm/internal/npu"
	"github.com/stretchr/testify/require"
)

// writeArchive builds a minimal archive file: 8-byte LE header length,
// the JSON header, then the raw tensor bytes concatenated in the order
// given.
func writeArchive(t *testing.T, dir string, records map[string]TensorRecord, tensors map[string][]byte) string {
	t.Helper()
	header, err := json.Marshal(records)
	require.NoError(t, err)

	path := filepath.Join(dir, "model.flmw")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	_, err = f.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = f.Write(header)
	require.NoError(t, err)

	for name := range records {
		_, err = f.Write(tensors[name])
		require.NoError(t, err)
	}
	return path
}

func TestArchiveLoadPlainTensor(t *testing.T) {
	dir := t.TempDir()
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	records := map[string]TensorRecord{
		"embed": {Shape: []int{4}, Dtype: DtypeF16, Offsets: [2]int64{0, int64(len(data))}},
	}
	path := writeArchive(t, dir, records, map[string][]byte{"embed": data})

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	buf := npu.NewHostBuffer(len(data))
	require.NoError(t, a.Load("embed", buf))
	require.Equal(t, data, buf.Bytes())
}

func TestArchiveLoadWrongSizeRejected(t *testing.T) {
	dir := t.TempDir()
	data := []byte{1, 2, 3, 4}
	records := map[string]TensorRecord{
		"embed": {Shape: []int{2}, Dtype: DtypeF16, Offsets: [2]int64{0, 4}},
	}
	path := writeArchive(t, dir, records, map[string][]byte{"embed": data})

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	buf := npu.NewHostBuffer(8)
	require.Error(t, a.Load("embed", buf))
}

func buildQuantTensor(t *testing.T, rows, groupsPerRow int) []byte {
	t.Helper()
	var out []byte
	val := int8(-3)
	for r := 0; r < rows; r++ {
		for g := 0; g < groupsPerRow; g++ {
			var group Group
			for i := range group.Q {
				group.Q[i] = val
				val++
				if val > 7 {
					val = -8
				}
			}
			group.Scale = 0.5
			group.Zero = 1.0
			out = append(out, encodeGroup(group)...)
		}
	}
	return out
}

func TestLoadQuantizedMatmulInterleavesByTile(t *testing.T) {
	dir := t.TempDir()
	const rows = 4
	const columns = groupSize // 1 group per row
	data := buildQuantTensor(t, rows, 1)
	records := map[string]TensorRecord{
		"w": {Shape: []int{rows, columns}, Dtype: DtypeQ4_32, Offsets: [2]int64{0, int64(len(data))}},
	}
	path := writeArchive(t, dir, records, map[string][]byte{"w": data})

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	dst := npu.NewHostBuffer(len(data))
	require.NoError(t, a.LoadQuantizedMatmul("w", dst, columns, 2))

	// rows 0,2 go to tile 0 (first half of output); rows 1,3 go to tile 1.
	out := dst.Bytes()
	row0 := data[0*groupBytes : 1*groupBytes]
	row2 := data[2*groupBytes : 3*groupBytes]
	require.Equal(t, row0, out[0:groupBytes])
	require.Equal(t, row2, out[groupBytes:2*groupBytes])
}

func TestDequantizeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	data := buildQuantTensor(t, 1, 1)
	records := map[string]TensorRecord{
		"w": {Shape: []int{1, groupSize}, Dtype: DtypeQ4_32, Offsets: [2]int64{0, int64(len(data))}},
	}
	path := writeArchive(t, dir, records, map[string][]byte{"w": data})

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	out, err := a.Dequantize("w")
	require.NoError(t, err)
	require.Len(t, out, groupSize)
}

func TestHalfFloatRoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 0.5, -0.5, 3.140625, -127.5} {
		h := float32ToHalf(f)
		require.InDelta(t, f, halfToFloat32(h), 0.01)
	}
}
