// Package sim simulates a board with a CYW43 co-processor attached over a
// FIFO bus engine, with a virtual clock so bring-up runs instantly on a host.
package sim

import (
	"sync"
	"time"

	"github.com/soypat/cywctl"
)

// Config describes the simulated board and the co-processor's behaviour.
type Config struct {
	Pins cywctl.Pins
	// NumPins is the board pin count. Zero selects 30.
	NumPins int
	// Firmware and CLM are the images the co-processor expects. The firmware
	// only starts and the CLM is only accepted when the uploaded bytes match.
	// Empty accepts anything.
	Firmware string
	CLM      string
	// ReadyAfter is how long after power up the co-processor starts
	// answering on the bus.
	ReadyAfter time.Duration
	// NeverReady keeps the co-processor silent.
	NeverReady bool
	// FailChunk rejects the n-th backplane RAM write after power up (1-based).
	FailChunk int
	// FIFODepth is the engine FIFO depth in bytes. Zero selects 8.
	FIFODepth int
	// OffloadBurst is the number of bytes the offload channel moves per poll.
	// Zero selects 32.
	OffloadBurst int
}

// Board holds the simulated collaborators.
type Board struct {
	Clock  *Clock
	Pins   *Pins
	Engine *Engine
	Chip   *Chip
	cfg    Config
}

func NewBoard(cfg Config) *Board {
	if cfg.NumPins == 0 {
		cfg.NumPins = 30
	}
	if cfg.FIFODepth <= 0 {
		cfg.FIFODepth = 8
	}
	if cfg.OffloadBurst <= 0 {
		cfg.OffloadBurst = 32
	}
	clk := NewClock()
	chip := newChip(cfg, clk)
	return &Board{
		Clock: clk,
		Chip:  chip,
		Pins:  &Pins{chip: chip, cs: cfg.Pins.ChipSelect, pwr: cfg.Pins.Power},
		Engine: &Engine{
			chip:  chip,
			depth: cfg.FIFODepth,
			burst: cfg.OffloadBurst,
		},
		cfg: cfg,
	}
}

// Platform returns a platform over the board's pins and clock.
func (b *Board) Platform() *cywctl.Platform {
	return &cywctl.Platform{Pins: b.Pins, Clock: b.Clock, NumPins: b.cfg.NumPins}
}

// Clock is a virtual monotonic clock. Sleep advances time without blocking.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Pins implements cywctl.PinController. Chip select and power changes are
// forwarded to the co-processor.
type Pins struct {
	mu     sync.Mutex
	levels [cywctl.MaxPins]bool
	writes int
	chip   *Chip
	cs     cywctl.Pin
	pwr    cywctl.Pin
}

func (p *Pins) Set(pin cywctl.Pin, high bool) {
	p.mu.Lock()
	p.levels[pin] = high
	p.writes++
	p.mu.Unlock()
	switch pin {
	case p.cs:
		p.chip.setSelect(!high)
	case p.pwr:
		p.chip.setPower(high)
	}
}

func (p *Pins) Get(pin cywctl.Pin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels[pin]
}

// Writes returns the number of Set calls.
func (p *Pins) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}
