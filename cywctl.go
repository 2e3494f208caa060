// Package cywctl drives the CYW43 wireless co-processor over a gSPI bus
// emulated by a programmable I/O engine. It brings the co-processor up with a
// firmware image and CLM blob and then exposes power mode and GPIO control.
//
// The bring-up order is:
//
//	bus, _ := cywctl.Open(platform, engine, busConfig)
//	bus.Start()
//	dev := cywctl.NewDevice(bus, cywctl.DeviceConfig{})
//	boot, _ := cywctl.NewBootstrap(dev, bootConfig)
//	err := boot.Run()
//	ctl := cywctl.NewControl(dev, boot, cywctl.ControlConfig{})
//	err = ctl.GPIOSet(0, true)
package cywctl

import "errors"

// Configuration errors. Fatal to Open.
var (
	ErrPinConflict       = errors.New("cywctl: pin already claimed")
	ErrEngineUnavailable = errors.New("cywctl: bus engine unavailable")
	ErrBadConfig         = errors.New("cywctl: invalid bus config")
)

// Bus errors. Transient: the caller may retry.
var (
	ErrBusBusy   = errors.New("cywctl: bus busy")
	ErrTimeout   = errors.New("cywctl: bus timeout")
	ErrBusClosed = errors.New("cywctl: bus stopped")
)

// Bootstrap errors. Leave the bootstrap in BootFailed.
var (
	ErrBootTimeout   = errors.New("cywctl: co-processor boot timeout")
	ErrChunkRejected = errors.New("cywctl: chunk write not acknowledged")
	ErrCLMRejected   = errors.New("cywctl: CLM load rejected")
	ErrVerify        = errors.New("cywctl: firmware readback mismatch")
	ErrEmptyImage    = errors.New("cywctl: empty firmware or CLM image")
)

// Control plane errors.
var (
	ErrInvalidPin = errors.New("cywctl: gpio index out of range")
	ErrNotReady   = errors.New("cywctl: co-processor not ready")
)

// errjoin returns an error that wraps the given errors, discarding nils.
func errjoin(errs ...error) error {
	return errors.Join(errs...)
}
