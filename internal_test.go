package cywctl

import (
	"errors"
	"runtime"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func TestPlatformClaim(t *testing.T) {
	var p Platform
	err := p.claim([]Pin{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	err = p.claim([]Pin{4, 3})
	if !errors.Is(err, ErrPinConflict) {
		t.Fatalf("got %v, want ErrPinConflict", err)
	}
	if p.Claimed(4) {
		t.Error("partial claim left pin 4 claimed")
	}
	p.release([]Pin{1, 2, 3})
	for pin := Pin(0); pin < 8; pin++ {
		if p.Claimed(pin) {
			t.Errorf("pin %d claimed after release", pin)
		}
	}
	if p.numPins() != MaxPins {
		t.Errorf("zero NumPins should select MaxPins, got %d", p.numPins())
	}
}

func TestPollConfigWait(t *testing.T) {
	errExhausted := errors.New("exhausted")
	clk := &fakeClock{}
	pc := PollConfig{Interval: 10 * time.Millisecond, Attempts: 5}

	calls := 0
	err := pc.wait(clk, errExhausted, func() (bool, error) {
		calls++
		return false, nil
	})
	if err != errExhausted || calls != 5 {
		t.Errorf("got err=%v calls=%d", err, calls)
	}
	// No sleep after the final attempt.
	if got := clk.now.Sub(time.Time{}); got != 40*time.Millisecond {
		t.Errorf("slept %s", got)
	}

	calls = 0
	err = pc.wait(clk, errExhausted, func() (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil || calls != 3 {
		t.Errorf("got err=%v calls=%d", err, calls)
	}

	errCond := errors.New("cond")
	err = pc.wait(clk, errExhausted, func() (bool, error) { return false, errCond })
	if err != errCond {
		t.Errorf("got %v, want condition error", err)
	}

	calls = 0
	PollConfig{}.wait(clk, errExhausted, func() (bool, error) {
		calls++
		return false, nil
	})
	if calls != 1 {
		t.Errorf("zero PollConfig made %d attempts", calls)
	}
}

// loopEngine echoes each byte incremented by one through FIFOs of depth 4.
type loopEngine struct {
	tx, rx []byte
}

func (e *loopEngine) Claim(Program, BusConfig) error { return nil }
func (e *loopEngine) Release()                       {}
func (e *loopEngine) SetEnabled(bool)                {}
func (e *loopEngine) SetClockDivider(uint32)         {}
func (e *loopEngine) ClearFIFOs()                    { e.tx, e.rx = nil, nil }
func (e *loopEngine) TxFull() bool                   { return len(e.tx) >= 4 }
func (e *loopEngine) RxEmpty() bool                  { return len(e.rx) == 0 }

func (e *loopEngine) Put(b byte) {
	e.tx = append(e.tx, b)
	if len(e.rx) < 4 {
		e.rx = append(e.rx, e.tx[0]+1)
		e.tx = e.tx[1:]
	}
}

func (e *loopEngine) Get() byte {
	b := e.rx[0]
	e.rx = e.rx[1:]
	if len(e.tx) > 0 {
		e.rx = append(e.rx, e.tx[0]+1)
		e.tx = e.tx[1:]
	}
	return b
}

func TestTransferDescriptorPump(t *testing.T) {
	eng := &loopEngine{}
	src := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	dst := make([]byte, len(src))
	var td TransferDescriptor
	td.reset(src, dst, len(src))
	for i := 0; !td.Complete; i++ {
		if i > 100 {
			t.Fatal("pump did not complete")
		}
		td.pump(eng)
	}
	for i := range dst {
		if dst[i] != src[i]+1 {
			t.Fatalf("dst[%d]=%d, want %d", i, dst[i], src[i]+1)
		}
	}
	// Nil source clocks zeros.
	td.reset(nil, dst, 3)
	td.pump(eng)
	if !td.Complete || dst[0] != 1 || dst[2] != 1 {
		t.Errorf("zero source: complete=%v dst=%v", td.Complete, dst[:3])
	}
}

func TestSwap16(t *testing.T) {
	if got := swap16(0xFEEDBEAD); got != 0xBEADFEED {
		t.Errorf("swap16=%#x", got)
	}
	if got := swap16(swap16(0x12345678)); got != 0x12345678 {
		t.Errorf("swap16 not involutive: %#x", got)
	}
}

func TestChecksum(t *testing.T) {
	// CRC-16/CCITT-FALSE check value.
	if got := Checksum([]byte("123456789")); got != 0x29B1 {
		t.Errorf("checksum=%#x, want 0x29b1", got)
	}
	crc := newImageCRC()
	crc.update([]byte("1234"))
	crc.update([]byte("56789"))
	if got := crc.sum(); got != 0x29B1 {
		t.Errorf("streamed checksum=%#x", got)
	}
}

func TestBusConfigValidate(t *testing.T) {
	cfg := BusConfig{
		ClockDivider: 1,
		Pins:         Pins{Clock: 0, DataIn: 1, DataOut: 2, ChipSelect: 3, Power: 4},
	}
	if err := cfg.validate(5); err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(4); !errors.Is(err, ErrBadConfig) {
		t.Errorf("pin out of range: %v", err)
	}
	cfg.Pins.DataOut = cfg.Pins.Power
	if err := cfg.validate(5); !errors.Is(err, ErrPinConflict) {
		t.Errorf("duplicate pin: %v", err)
	}
	if !(Pins{DataIn: 7, DataOut: 7}).Shared() {
		t.Error("equal data pins should be shared")
	}
}

func TestSPIProgramSideset(t *testing.T) {
	prog := SPIProgram
	if prog.SidesetBits != 1 {
		t.Fatalf("side-set bits=%d", prog.SidesetBits)
	}
	// Bits 12:8 hold side-set in the top SidesetBits and the delay below.
	delayBits := maxSidesetBits - prog.SidesetBits
	for i, want := range []struct{ side, delay uint16 }{
		{side: 0, delay: 1}, // out pins, 1
		{side: 1, delay: 1}, // in pins, 1
	} {
		field := prog.Instructions[i] >> 8 & 0x1f
		side := field >> delayBits
		delay := field & (1<<delayBits - 1)
		if side != want.side || delay != want.delay {
			t.Errorf("instruction %d (%#04x): side=%d delay=%d, want side=%d delay=%d",
				i, prog.Instructions[i], side, delay, want.side, want.delay)
		}
	}
}

type nopPins struct{}

func (nopPins) Set(Pin, bool) {}
func (nopPins) Get(Pin) bool  { return false }

func TestControlReadyUnderDeviceLock(t *testing.T) {
	plat := &Platform{Pins: nopPins{}, Clock: &fakeClock{}}
	bus, err := Open(plat, &loopEngine{}, BusConfig{
		ClockDivider: 1,
		Pins:         Pins{Clock: 0, DataIn: 1, DataOut: 1, ChipSelect: 2, Power: 3},
		Program:      SPIProgram,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Stop()
	bus.Start()
	dev := NewDevice(bus, DeviceConfig{})
	boot, err := NewBootstrap(dev, DefaultBootConfig("fwfw", "clm"))
	if err != nil {
		t.Fatal(err)
	}
	boot.state = BootReady
	c := NewControl(dev, boot, ControlConfig{})

	// Hold the device as a bring-up in progress would.
	dev.lock()
	done := make(chan error, 1)
	go func() { done <- c.GPIOSet(0, true) }()
	// Wait for the command to be dispatched and block on the device.
	for c.exec.TryLock() {
		c.exec.Unlock()
		runtime.Gosched()
	}
	boot.mu.Lock()
	boot.state = BootFailed
	boot.mu.Unlock()
	dev.unlock()

	err = <-done
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
	if st := bus.Stats(); st.Transfers != 0 {
		t.Errorf("command reached the bus: %+v", st)
	}
	if c.State() != (ControlState{}) {
		t.Errorf("state changed: %+v", c.State())
	}
}
