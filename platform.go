package cywctl

import (
	"sync"
	"time"
)

// Pin is a numbered hardware pin.
type Pin uint8

// MaxPins is the largest pin count a Platform can track.
const MaxPins = 64

// PinController asserts and reads logic levels on numbered pins.
type PinController interface {
	Set(pin Pin, high bool)
	Get(pin Pin) bool
}

// Clock is the timing source used for settle delays and bounded waits.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is a Clock backed by the runtime's time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Platform bundles the board collaborators and tracks which pins have been
// claimed by a bus.
type Platform struct {
	Pins  PinController
	Clock Clock
	// NumPins is the number of usable pins. Zero means MaxPins.
	NumPins int

	mu      sync.Mutex
	claimed uint64
}

func (p *Platform) clock() Clock {
	if p.Clock == nil {
		return SystemClock{}
	}
	return p.Clock
}

func (p *Platform) numPins() int {
	if p.NumPins <= 0 || p.NumPins > MaxPins {
		return MaxPins
	}
	return p.NumPins
}

// Claimed reports whether pin is owned by an open bus.
func (p *Platform) Claimed(pin Pin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pin < MaxPins && p.claimed&(1<<pin) != 0
}

// claim marks every pin in pins as owned. Either all pins are claimed or none.
func (p *Platform) claim(pins []Pin) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var mask uint64
	for _, pin := range pins {
		mask |= 1 << pin
	}
	if p.claimed&mask != 0 {
		return ErrPinConflict
	}
	p.claimed |= mask
	return nil
}

func (p *Platform) release(pins []Pin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pin := range pins {
		p.claimed &^= 1 << pin
	}
}

// PollConfig bounds a busy-wait: the condition is checked at most Attempts
// times with Interval between checks.
type PollConfig struct {
	Interval time.Duration
	Attempts int
}

// wait polls done until it reports true, returns an error, or the attempt
// budget runs out, in which case exhausted is returned.
func (p PollConfig) wait(clk Clock, exhausted error, done func() (bool, error)) error {
	attempts := max(p.Attempts, 1)
	for i := 0; i < attempts; i++ {
		ok, err := done()
		if err != nil {
			return err
		} else if ok {
			return nil
		}
		if i+1 < attempts && p.Interval > 0 {
			clk.Sleep(p.Interval)
		}
	}
	return exhausted
}

// PicoWPins is the Raspberry Pi Pico W wiring of the CYW43439. Data in and
// out share GPIO24.
var PicoWPins = Pins{
	Clock:      29,
	DataIn:     24,
	DataOut:    24,
	ChipSelect: 25,
	Power:      23, // WL_REG_ON
}

// PicoWClockDivider runs the bus at a quarter of the system clock.
const PicoWClockDivider = 4
