package cywctl_test

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"testing"

	"github.com/soypat/cywctl"
	"github.com/soypat/cywctl/internal/sim"
)

func TestControlNotReady(t *testing.T) {
	r := newRig(t, rigOpts{})
	err := r.ctl.GPIOSet(0, true)
	if !errors.Is(err, cywctl.ErrNotReady) {
		t.Errorf("gpioset: %v", err)
	}
	_, err = r.ctl.GPIOGet(0)
	if !errors.Is(err, cywctl.ErrNotReady) {
		t.Errorf("gpioget: %v", err)
	}
	err = r.ctl.SetPowerMode(cywctl.PowerSave)
	if !errors.Is(err, cywctl.ErrNotReady) {
		t.Errorf("setpowermode: %v", err)
	}
	if st := r.bus.Stats(); st != (cywctl.BusStats{}) {
		t.Errorf("bus used before ready: %+v", st)
	}
}

func TestGPIO(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.mustBoot(t)
	for pin := uint8(0); pin < cywctl.NumGPIO; pin++ {
		for _, level := range []bool{true, false, true} {
			err := r.ctl.GPIOSet(pin, level)
			if err != nil {
				t.Fatalf("set %d=%v: %s", pin, level, err)
			}
			got, err := r.ctl.GPIOGet(pin)
			if err != nil {
				t.Fatalf("get %d: %s", pin, err)
			}
			if got != level {
				t.Errorf("pin %d: got %v, want %v", pin, got, level)
			}
		}
	}
	if got := r.board.Chip.GPIO(); got != 0b111 {
		t.Errorf("chip gpio=%#b", got)
	}

	before := r.ctl.State()
	chipBefore := r.board.Chip.GPIO()
	stats := r.bus.Stats()
	err := r.ctl.GPIOSet(cywctl.NumGPIO, true)
	if !errors.Is(err, cywctl.ErrInvalidPin) {
		t.Errorf("set invalid pin: %v", err)
	}
	_, err = r.ctl.GPIOGet(cywctl.NumGPIO)
	if !errors.Is(err, cywctl.ErrInvalidPin) {
		t.Errorf("get invalid pin: %v", err)
	}
	if r.ctl.State() != before || r.board.Chip.GPIO() != chipBefore {
		t.Error("invalid pin changed state")
	}
	if r.bus.Stats() != stats {
		t.Error("invalid pin used the bus")
	}
}

func TestPowerMode(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.mustBoot(t)
	chip := r.board.Chip

	err := r.ctl.SetPowerMode(cywctl.PowerSave)
	if err != nil {
		t.Fatal(err)
	}
	if chip.PM() != 2 {
		t.Errorf("pm=%d, want 2", chip.PM())
	}
	for name, want := range map[string]uint32{
		"pm2_sleep_ret": 200,
		"bcn_li_bcn":    1,
		"bcn_li_dtim":   1,
		"assoc_listen":  10,
	} {
		if got, _ := chip.Var(name); got != want {
			t.Errorf("%s=%d, want %d", name, got, want)
		}
	}
	if r.ctl.State().PowerMode != cywctl.PowerSave {
		t.Errorf("state %s", r.ctl.State().PowerMode)
	}

	err = r.ctl.SetPowerMode(cywctl.PowerOff)
	if err != nil {
		t.Fatal(err)
	}
	if chip.RadioUp() {
		t.Error("radio up after PowerOff")
	}

	err = r.ctl.SetPowerMode(cywctl.PowerActive)
	if err != nil {
		t.Fatal(err)
	}
	if !chip.RadioUp() || chip.PM() != 0 {
		t.Errorf("active: up=%v pm=%d", chip.RadioUp(), chip.PM())
	}

	err = r.ctl.SetPowerMode(cywctl.PowerMode(7))
	if err == nil {
		t.Error("expected error for invalid power mode")
	}
	if r.ctl.State().PowerMode != cywctl.PowerActive {
		t.Error("invalid mode changed state")
	}
}

func TestControlConcurrent(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.mustBoot(t)
	ctx, cancel := context.WithCancel(context.Background())
	runner := r.ctl.Runner()
	done := make(chan error)
	go func() { done <- runner.Run(ctx) }()

	var wg sync.WaitGroup
	errs := make([]error, cywctl.NumGPIO)
	for pin := uint8(0); pin < cywctl.NumGPIO; pin++ {
		pin := pin
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[pin] = r.ctl.GPIOSet(pin, true)
		}()
	}
	wg.Wait()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("runner returned %v", err)
	}
	for pin, err := range errs {
		if err != nil {
			t.Errorf("pin %d: %s", pin, err)
		}
	}
	if got := r.board.Chip.GPIO(); got != 0b111 {
		t.Errorf("chip gpio=%#b", got)
	}
	st := runner.Stats()
	if st.Commands != cywctl.NumGPIO {
		t.Errorf("runner executed %d commands", st.Commands)
	}
	if r.ctl.Pending() != 0 {
		t.Errorf("%d commands left pending", r.ctl.Pending())
	}
}

func TestRunnerStep(t *testing.T) {
	r := newRig(t, rigOpts{})
	runner := r.ctl.Runner()
	if runner.Step() {
		t.Error("idle step reported work")
	}
	st := runner.Stats()
	if st.Steps != 1 || st.Idle != 1 || st.Commands != 0 {
		t.Errorf("stats %+v", st)
	}
}

func TestControlOrder(t *testing.T) {
	var eng *stallEngine
	r := newRig(t, rigOpts{
		engine: func(e *sim.Engine) cywctl.Engine {
			eng = &stallEngine{Engine: e}
			return eng
		},
		bus: func(c *cywctl.BusConfig) { c.Attempts = 1 << 30 },
	})
	r.mustBoot(t)
	booted := len(r.board.Chip.IoctlLog())

	cmds := []func() error{
		func() error { return r.ctl.GPIOSet(0, true) },
		func() error { return r.ctl.GPIOSet(1, true) },
		func() error { return r.ctl.SetPowerMode(cywctl.PowerSave) },
		func() error { return r.ctl.GPIOSet(1, false) },
		func() error { return r.ctl.SetPowerMode(cywctl.PowerOff) },
		func() error { return r.ctl.GPIOSet(2, true) },
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(cmds))
	submit := func(cmd func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- cmd()
		}()
	}
	// The first command stalls on the bus, the rest queue up behind it one
	// at a time so submission order is known.
	eng.polls.Store(0)
	eng.hold.Store(true)
	submit(cmds[0])
	for eng.polls.Load() == 0 {
		runtime.Gosched()
	}
	for i, cmd := range cmds[1:] {
		submit(cmd)
		for r.ctl.Pending() != i+1 {
			runtime.Gosched()
		}
	}
	eng.hold.Store(false)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	want := []string{
		"set_var gpioout 0x1 0x1",
		"set_var gpioout 0x2 0x2",
		"set_var pm2_sleep_ret",
		"set_var bcn_li_bcn",
		"set_var bcn_li_dtim",
		"set_var assoc_listen",
		"set_pm 2",
		"set_var gpioout 0x2 0x0",
		"down",
		"set_var gpioout 0x4 0x4",
	}
	got := r.board.Chip.IoctlLog()[booted:]
	if !slices.Equal(got, want) {
		t.Errorf("ioctls out of order:\ngot  %q\nwant %q", got, want)
	}
	if r.ctl.Pending() != 0 {
		t.Errorf("%d commands left pending", r.ctl.Pending())
	}
}

func TestControlStateAfterReboot(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.mustBoot(t)
	err := r.ctl.GPIOSet(0, true)
	if err != nil {
		t.Fatal(err)
	}
	err = r.ctl.SetPowerMode(cywctl.PowerOff)
	if err != nil {
		t.Fatal(err)
	}
	if st := r.ctl.State(); !st.GPIO[0] || st.PowerMode != cywctl.PowerOff {
		t.Fatalf("state before reboot %+v", st)
	}

	r.mustBoot(t)
	if st := r.ctl.State(); st != (cywctl.ControlState{}) {
		t.Errorf("state after reboot %+v, want power-on state", st)
	}
	if got := r.board.Chip.GPIO(); got != 0 {
		t.Errorf("chip gpio=%#b after reboot", got)
	}
	// The radio came back up with the chip, so no WLC_UP is sent.
	before := len(r.board.Chip.IoctlLog())
	err = r.ctl.SetPowerMode(cywctl.PowerSave)
	if err != nil {
		t.Fatal(err)
	}
	if slices.Contains(r.board.Chip.IoctlLog()[before:], "up") {
		t.Error("radio brought up twice after reboot")
	}
	if !r.board.Chip.RadioUp() || r.board.Chip.PM() != 2 {
		t.Errorf("up=%v pm=%d", r.board.Chip.RadioUp(), r.board.Chip.PM())
	}
}
