package cywctl

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/soypat/cywctl/whd"
)

var errBadPowerMode = errors.New("cywctl: invalid power mode")

// NumGPIO is the number of co-processor GPIOs. GPIO 0 drives the Pico W LED.
const NumGPIO = whd.NUM_GPIO

// PowerMode selects the co-processor radio power policy.
type PowerMode uint8

const (
	// PowerActive keeps the radio up with power management disabled.
	PowerActive PowerMode = iota
	// PowerSave keeps the radio up and lets the firmware sleep between beacons.
	PowerSave
	// PowerOff brings the radio interface down.
	PowerOff
)

func (pm PowerMode) IsValid() bool { return pm <= PowerOff }

func (pm PowerMode) String() string {
	switch pm {
	case PowerActive:
		return "active"
	case PowerSave:
		return "powersave"
	case PowerOff:
		return "off"
	}
	return "unknown"
}

// pm returns the firmware's WLC_SET_PM value.
func (pm PowerMode) pm() uint32 {
	if pm == PowerSave {
		return 2
	}
	return 0
}

// ControlState is the co-processor state as last commanded or observed.
type ControlState struct {
	PowerMode PowerMode
	GPIO      [NumGPIO]bool
}

// ControlConfig configures the control plane command queue.
type ControlConfig struct {
	// QueueLen bounds pending commands. Zero selects 8.
	QueueLen int
	// MaxSteps bounds how many runner iterations a caller waits for its
	// command to complete. Zero selects a value derived from QueueLen.
	MaxSteps int
	Logger   *slog.Logger
}

type opcode uint8

const (
	opSetPower opcode = iota
	opGPIOSet
	opGPIOGet
)

type command struct {
	op    opcode
	pin   uint8
	value bool
	mode  PowerMode
	done  bool
	err   error
}

// Control is the command interface available once Bootstrap is Ready.
// Commands from concurrent callers are queued and executed one at a time in
// submission order by the Runner.
type Control struct {
	slogger
	dev      *Device
	boot     *Bootstrap
	runner   *Runner
	maxSteps int

	mu    sync.Mutex
	queue []*command
	head  int
	n     int
	state ControlState
	// gen is the bootstrap generation state belongs to.
	gen uint64

	// exec is held while a command runs on the bus.
	exec sync.Mutex
}

func NewControl(dev *Device, boot *Bootstrap, cfg ControlConfig) *Control {
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 8
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 4*cfg.QueueLen + 16
	}
	c := &Control{
		slogger:  slogger{log: cfg.Logger},
		dev:      dev,
		boot:     boot,
		maxSteps: cfg.MaxSteps,
		queue:    make([]*command, cfg.QueueLen),
	}
	c.runner = &Runner{bus: dev.bus, ctl: c}
	return c
}

// Runner returns the loop that services the bus and executes queued commands.
func (c *Control) Runner() *Runner { return c.runner }

// State returns the last commanded power mode and GPIO levels. A new
// bring-up returns it to the power-on state: radio active, GPIOs low.
func (c *Control) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncLocked()
	return c.state
}

// syncLocked forgets state commanded before the last bring-up.
func (c *Control) syncLocked() {
	if gen := c.boot.generation(); gen != c.gen {
		c.state = ControlState{}
		c.gen = gen
	}
}

// Pending returns the number of queued commands.
func (c *Control) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// SetPowerMode changes the radio power policy.
func (c *Control) SetPowerMode(mode PowerMode) error {
	if !c.boot.Ready() {
		return ErrNotReady
	} else if !mode.IsValid() {
		return errBadPowerMode
	}
	cmd := command{op: opSetPower, mode: mode}
	return c.do(&cmd)
}

// GPIOSet drives co-processor GPIO pin to value.
func (c *Control) GPIOSet(pin uint8, value bool) error {
	if !c.boot.Ready() {
		return ErrNotReady
	} else if pin >= NumGPIO {
		return ErrInvalidPin
	}
	cmd := command{op: opGPIOSet, pin: pin, value: value}
	return c.do(&cmd)
}

// GPIOGet reads the level of co-processor GPIO pin.
func (c *Control) GPIOGet(pin uint8) (bool, error) {
	if !c.boot.Ready() {
		return false, ErrNotReady
	} else if pin >= NumGPIO {
		return false, ErrInvalidPin
	}
	cmd := command{op: opGPIOGet, pin: pin}
	err := c.do(&cmd)
	return cmd.value, err
}

// do queues cmd and steps the runner until cmd completes.
func (c *Control) do(cmd *command) error {
	c.mu.Lock()
	if c.n == len(c.queue) {
		c.mu.Unlock()
		return ErrBusBusy
	}
	c.queue[(c.head+c.n)%len(c.queue)] = cmd
	c.n++
	c.mu.Unlock()

	for i := 0; i < c.maxSteps; i++ {
		if done, err := c.result(cmd); done {
			return err
		}
		c.runner.Step()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cmd.done {
		return cmd.err
	}
	// Mark the command so dispatch skips it.
	cmd.done = true
	cmd.err = ErrTimeout
	return ErrTimeout
}

func (c *Control) result(cmd *command) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cmd.done, cmd.err
}

// dispatch executes the oldest pending command. It reports whether a command ran.
func (c *Control) dispatch() bool {
	c.exec.Lock()
	defer c.exec.Unlock()
	c.mu.Lock()
	var cmd *command
	for c.n > 0 && cmd == nil {
		cmd = c.queue[c.head]
		c.queue[c.head] = nil
		c.head = (c.head + 1) % len(c.queue)
		c.n--
		if cmd.done {
			cmd = nil // Abandoned by its caller.
		}
	}
	c.mu.Unlock()
	if cmd == nil {
		return false
	}
	err := c.execute(cmd)
	c.mu.Lock()
	if !cmd.done {
		cmd.err = err
		cmd.done = true
	}
	c.mu.Unlock()
	return true
}

func (c *Control) execute(cmd *command) (err error) {
	d := c.dev
	d.lock()
	defer d.unlock()
	// Bootstrap.Run holds the device lock, so readiness cannot change from here on.
	if !c.boot.Ready() {
		return ErrNotReady
	}
	switch cmd.op {
	case opSetPower:
		c.info("SetPowerMode", slog.String("mode", cmd.mode.String()))
		err = c.setPowerMode(cmd.mode)
		if err == nil {
			c.mu.Lock()
			c.syncLocked()
			c.state.PowerMode = cmd.mode
			c.mu.Unlock()
		}
	case opGPIOSet:
		c.debug("GPIOSet", slog.Uint64("pin", uint64(cmd.pin)), slog.Bool("value", cmd.value))
		val0 := uint32(1) << cmd.pin
		val1 := b2u32(cmd.value) << cmd.pin
		err = d.set_iovar2("gpioout", whd.WWD_STA_INTERFACE, val0, val1)
		if err == nil {
			c.mu.Lock()
			c.syncLocked()
			c.state.GPIO[cmd.pin] = cmd.value
			c.mu.Unlock()
		}
	case opGPIOGet:
		var v uint32
		v, err = d.get_iovar("ccgpioin", whd.WWD_STA_INTERFACE)
		if err == nil {
			cmd.value = v&(1<<cmd.pin) != 0
			c.mu.Lock()
			c.syncLocked()
			c.state.GPIO[cmd.pin] = cmd.value
			c.mu.Unlock()
		}
	}
	if err != nil {
		c.logerr("control:exec", slog.Int("op", int(cmd.op)), slog.String("err", err.Error()))
	}
	return err
}

// setPowerMode must be called with the device lock held.
func (c *Control) setPowerMode(mode PowerMode) error {
	d := c.dev
	const iface = whd.WWD_STA_INTERFACE
	if mode == PowerOff {
		return d.set_ioctl(whd.WLC_DOWN, iface, 0)
	}
	if c.State().PowerMode == PowerOff {
		err := d.set_ioctl(whd.WLC_UP, iface, 0)
		if err != nil {
			return err
		}
	}
	if mode == PowerSave {
		for _, v := range [...]struct {
			name string
			val  uint32
		}{
			{"pm2_sleep_ret", 200},
			{"bcn_li_bcn", 1},
			{"bcn_li_dtim", 1},
			{"assoc_listen", 10},
		} {
			err := d.set_iovar(v.name, iface, v.val)
			if err != nil {
				return err
			}
		}
	}
	return d.set_ioctl(whd.WLC_SET_PM, iface, mode.pm())
}

func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
