package npu

import (
	"testing"

	"github.com/flmrun/flm/internal/flmerr"
	"github.com/stretchr/testify/require"
)

func TestRegisterBinaryIdempotent(t *testing.T) {
	mgr := NewHardwareContextManager(newFakeDevice(), PowerModeBalanced, false)
	obj := &ELFObject{}

	slot1, err := mgr.RegisterBinary("model.bin", obj)
	require.NoError(t, err)
	slot2, err := mgr.RegisterBinary("model.bin", obj)
	require.NoError(t, err)
	require.Equal(t, slot1, slot2)
	require.Equal(t, 1, mgr.Count())
}

func TestRegisterBinaryContextLimit(t *testing.T) {
	mgr := NewHardwareContextManager(newFakeDevice(), PowerModeBalanced, false)
	obj := &ELFObject{}
	for i := 0; i < maxHardwareContexts; i++ {
		path := string(rune('a' + i))
		_, err := mgr.RegisterBinary(path, obj)
		require.NoError(t, err)
	}
	_, err := mgr.RegisterBinary("one-too-many", obj)
	require.Error(t, err)
	fe, ok := flmerr.As(err)
	require.True(t, ok)
	require.Equal(t, flmerr.ContextLimitReached, fe.Code)
}

func TestApplicationLaunchRecompilesOnlyWhenStale(t *testing.T) {
	dev := newFakeDevice()
	mgr := NewHardwareContextManager(dev, PowerModeBalanced, false)
	slot, err := mgr.RegisterBinary("app.bin", &ELFObject{})
	require.NoError(t, err)

	app, err := mgr.CreateApplication(slot, testHeader())
	require.NoError(t, err)
	app.Sequence().MaskWriteOp(MaskWriteFields{Row: 1, Col: 1, Addr: 1, Value: 1, Mask: 1})

	_, err = app.Launch(nil)
	require.NoError(t, err)
	require.Equal(t, 2, len(dev.loaded)) // one from RegisterBinary, one from the first compile

	_, err = app.Launch(nil)
	require.NoError(t, err)
	require.Equal(t, 2, len(dev.loaded)) // unchanged sequence: no recompile

	app.Sequence().MaskWriteOp(MaskWriteFields{Row: 2, Col: 2, Addr: 2, Value: 2, Mask: 2})
	_, err = app.Launch(nil)
	require.NoError(t, err)
	require.Equal(t, 3, len(dev.loaded)) // sequence changed: recompiled
}

func TestRunlistRejectedWhenPreemptionEnabled(t *testing.T) {
	dev := newFakeDevice()
	mgr := NewHardwareContextManager(dev, PowerModeBalanced, true)
	slot, err := mgr.RegisterBinary("app.bin", &ELFObject{})
	require.NoError(t, err)
	app, err := mgr.CreateApplication(slot, testHeader())
	require.NoError(t, err)

	_, err = app.CreateRunlist()
	require.Error(t, err)
}

func TestRunlistBatchesRuns(t *testing.T) {
	dev := newFakeDevice()
	mgr := NewHardwareContextManager(dev, PowerModeBalanced, false)
	slot, err := mgr.RegisterBinary("app.bin", &ELFObject{})
	require.NoError(t, err)
	app, err := mgr.CreateApplication(slot, testHeader())
	require.NoError(t, err)
	app.Sequence().MaskWriteOp(MaskWriteFields{Row: 1, Col: 1, Addr: 1, Value: 1, Mask: 1})

	rl, err := app.CreateRunlist()
	require.NoError(t, err)
	_, err = rl.Add(nil)
	require.NoError(t, err)
	_, err = rl.Add(nil)
	require.NoError(t, err)
	require.Equal(t, 2, rl.Len())
	require.NoError(t, rl.Wait())
	require.Equal(t, 2, dev.waitCount)
}
