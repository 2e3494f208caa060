package cywctl_test

import (
	"testing"
	"time"

	"github.com/soypat/cywctl"
	"github.com/soypat/cywctl/internal/sim"
)

var testPins = cywctl.Pins{
	Clock:      2,
	DataIn:     3,
	DataOut:    3,
	ChipSelect: 4,
	Power:      5,
}

func testBusConfig() cywctl.BusConfig {
	return cywctl.BusConfig{
		ClockDivider: 2,
		Pins:         testPins,
		Program:      cywctl.SPIProgram,
	}
}

// testImage returns n bytes of deterministic non-repeating content.
func testImage(n int, seed byte) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) ^ byte(i>>8) ^ seed
	}
	return string(b)
}

var (
	testFirmware = testImage(64*1024, 0x5a)
	testCLM      = testImage(8*1024, 0xc3)
)

// Number of acknowledged chunk writes for testFirmware and testCLM.
const testChunks = 64*1024/64 + 8*1024/1024

type rig struct {
	board       *sim.Board
	plat        *cywctl.Platform
	bus         *cywctl.Bus
	dev         *cywctl.Device
	boot        *cywctl.Bootstrap
	ctl         *cywctl.Control
	transitions []cywctl.BootState
}

type rigOpts struct {
	sim  sim.Config
	bus  func(*cywctl.BusConfig)
	boot func(*cywctl.BootConfig)
	// engine wraps the simulated engine before the bus is opened.
	engine func(*sim.Engine) cywctl.Engine
}

func newRig(t *testing.T, opts rigOpts) *rig {
	t.Helper()
	if opts.sim.Pins == (cywctl.Pins{}) {
		opts.sim.Pins = testPins
	}
	if opts.sim.Firmware == "" {
		opts.sim.Firmware = testFirmware
	}
	if opts.sim.CLM == "" {
		opts.sim.CLM = testCLM
	}
	r := &rig{board: sim.NewBoard(opts.sim)}
	r.plat = r.board.Platform()

	buscfg := testBusConfig()
	if opts.bus != nil {
		opts.bus(&buscfg)
	}
	var eng cywctl.Engine = r.board.Engine
	if opts.engine != nil {
		eng = opts.engine(r.board.Engine)
	}
	bus, err := cywctl.Open(r.plat, eng, buscfg)
	if err != nil {
		t.Fatal("open:", err)
	}
	t.Cleanup(bus.Stop)
	err = bus.Start()
	if err != nil {
		t.Fatal("start:", err)
	}
	r.bus = bus
	r.dev = cywctl.NewDevice(bus, cywctl.DeviceConfig{})

	bootcfg := cywctl.DefaultBootConfig(testFirmware, testCLM)
	bootcfg.OnTransition = func(from, to cywctl.BootState) {
		r.transitions = append(r.transitions, to)
	}
	if opts.boot != nil {
		opts.boot(&bootcfg)
	}
	r.boot, err = cywctl.NewBootstrap(r.dev, bootcfg)
	if err != nil {
		t.Fatal("bootstrap:", err)
	}
	r.ctl = cywctl.NewControl(r.dev, r.boot, cywctl.ControlConfig{})
	return r
}

func (r *rig) mustBoot(t *testing.T) {
	t.Helper()
	err := r.boot.Run()
	if err != nil {
		t.Fatal("boot:", err)
	}
}

func (r *rig) elapsed(since time.Time) time.Duration {
	return r.board.Clock.Now().Sub(since)
}
