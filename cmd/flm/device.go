package main

import (
	"fmt"

	"github.com/flmrun/flm/internal/catalog"
	"github.com/flmrun/flm/internal/config"
	"github.com/flmrun/flm/internal/driver/device"
	"github.com/flmrun/flm/internal/npu"
)

// openAccelerator opens the accelerator's character device and wraps it
// in a hardware-context manager. preemption and pmode come straight
// from the matching CLI flags.
func openAccelerator(preemption bool, pmode string) (npu.Device, *npu.HardwareContextManager, func(), error) {
	if !device.IsAccelDeviceAvailable() {
		return nil, nil, nil, fmt.Errorf("accelerator device %s not found", device.AccelDevicePath)
	}
	dev, err := device.OpenAccelDevice()
	if err != nil {
		return nil, nil, nil, err
	}

	power, err := parsePowerMode(pmode)
	if err != nil {
		dev.Close()
		return nil, nil, nil, err
	}

	ctxMgr := npu.NewHardwareContextManager(dev, power, preemption)
	cleanup := func() { dev.Close() }
	return dev, ctxMgr, cleanup, nil
}

func parsePowerMode(s string) (npu.PowerMode, error) {
	switch s {
	case "", "balanced":
		return npu.PowerModeBalanced, nil
	case "performance":
		return npu.PowerModeHighPerformance, nil
	case "low-power":
		return npu.PowerModeLowPower, nil
	default:
		return 0, fmt.Errorf("unknown --pmode %q (want balanced, performance, or low-power)", s)
	}
}

// loadCatalog resolves the runtime config and opens its model catalog.
func loadCatalog() (config.Config, *catalog.Catalog, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, cat, nil
}
