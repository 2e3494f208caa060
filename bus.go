package cywctl

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	errBusNotStarted = errors.New("cywctl: bus not started")
	errTxLenMismatch = errors.New("cywctl: tx buffers differ in length")
)

const defaultBusAttempts = 1024

// MaxClockDivider is the largest integer divider an engine accepts.
const MaxClockDivider = 0xffff

// Pins assigns bus roles to hardware pins. DataIn equal to DataOut selects a
// shared (half duplex) data line.
type Pins struct {
	Clock      Pin
	DataIn     Pin
	DataOut    Pin
	ChipSelect Pin
	Power      Pin
}

// Shared reports whether the data line is shared between directions.
func (p Pins) Shared() bool { return p.DataIn == p.DataOut }

// list returns the distinct pins in use.
func (p Pins) list() []Pin {
	if p.Shared() {
		return []Pin{p.Clock, p.DataIn, p.ChipSelect, p.Power}
	}
	return []Pin{p.Clock, p.DataIn, p.DataOut, p.ChipSelect, p.Power}
}

// BusConfig is the static bus configuration supplied at startup.
type BusConfig struct {
	// ClockDivider divides the system clock to obtain the bus clock. Must be
	// in 1..MaxClockDivider.
	ClockDivider uint32
	Pins         Pins
	Program      Program
	// Attempts bounds how many times the driver polls the FIFOs without
	// progress before giving up. Zero selects a default.
	Attempts int
	// Offload hands transfers to the engine's bulk transfer channel when the
	// engine has one.
	Offload bool
	Logger  *slog.Logger
}

func (cfg BusConfig) validate(numPins int) error {
	if cfg.ClockDivider == 0 || cfg.ClockDivider > MaxClockDivider {
		return errjoin(ErrBadConfig, errors.New("clock divider out of range"))
	}
	if cfg.Program.SidesetBits > maxSidesetBits {
		return errjoin(ErrBadConfig, errors.New("side-set wider than 5 bits"))
	}
	if cfg.Attempts < 0 {
		return errjoin(ErrBadConfig, errors.New("negative attempts"))
	}
	pins := cfg.Pins.list()
	for i, a := range pins {
		if int(a) >= numPins {
			return errjoin(ErrBadConfig, errors.New("pin out of range"))
		}
		for _, b := range pins[i+1:] {
			if a == b {
				return errjoin(ErrPinConflict, errors.New("pin assigned to two roles"))
			}
		}
	}
	return nil
}

// BusStats counts completed bus activity.
type BusStats struct {
	Transfers uint64
	BytesOut  uint64
	BytesIn   uint64
	Aborts    uint64
}

// Bus is the exclusive handle over a bus engine and its pins. Only one
// transfer may be in flight at a time; a concurrent caller gets ErrBusBusy.
type Bus struct {
	slogger
	mu       sync.Mutex
	plat     *Platform
	eng      Engine
	off      Offloader
	pins     Pins
	owned    []Pin
	attempts int
	running  bool
	closed   bool
	inflight *TransferDescriptor
	desc     TransferDescriptor
	stats    BusStats
}

// Open claims the pins and engine named in cfg and loads the engine program.
// Nothing stays claimed when Open fails.
func Open(p *Platform, eng Engine, cfg BusConfig) (*Bus, error) {
	if p == nil || p.Pins == nil || eng == nil {
		return nil, errjoin(ErrBadConfig, errors.New("missing platform or engine"))
	}
	if err := cfg.validate(p.numPins()); err != nil {
		return nil, err
	}
	owned := cfg.Pins.list()
	if err := p.claim(owned); err != nil {
		return nil, err
	}
	if err := eng.Claim(cfg.Program, cfg); err != nil {
		p.release(owned)
		return nil, errjoin(ErrEngineUnavailable, err)
	}
	b := &Bus{
		slogger:  slogger{log: cfg.Logger},
		plat:     p,
		eng:      eng,
		pins:     cfg.Pins,
		owned:    owned,
		attempts: cfg.Attempts,
	}
	if b.attempts == 0 {
		b.attempts = defaultBusAttempts
	}
	if cfg.Offload {
		b.off, _ = eng.(Offloader)
	}
	eng.SetClockDivider(cfg.ClockDivider)
	p.Pins.Set(cfg.Pins.ChipSelect, true)
	b.debug("bus:open",
		slog.String("prog", cfg.Program.Name),
		slog.Uint64("div", uint64(cfg.ClockDivider)),
		slog.Bool("offload", b.off != nil),
	)
	return b, nil
}

// Start enables the engine.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.eng.SetEnabled(true)
	b.running = true
	return nil
}

// Stop halts the engine, aborts any transfer in flight and releases the engine
// and pins. It may be called at any time and more than once.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.inflight != nil {
		b.abortLocked(b.inflight)
	}
	b.eng.SetEnabled(false)
	b.eng.Release()
	b.plat.Pins.Set(b.pins.ChipSelect, true)
	b.plat.release(b.owned)
	b.running = false
	b.closed = true
	b.debug("bus:stop", slog.Uint64("transfers", b.stats.Transfers))
}

// SetClockDivider changes the bus clock divider.
func (b *Bus) SetClockDivider(div uint32) error {
	if div == 0 || div > MaxClockDivider {
		return ErrBadConfig
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.eng.SetClockDivider(div)
	return nil
}

// Select drives chip select. Enable pulls the line low.
func (b *Bus) Select(enable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.plat.Pins.Set(b.pins.ChipSelect, !enable)
	}
}

// SetPower drives the co-processor power enable line.
func (b *Bus) SetPower(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.plat.Pins.Set(b.pins.Power, on)
	}
}

// Clock returns the platform clock.
func (b *Bus) Clock() Clock { return b.plat.clock() }

// Stats returns the bus activity counters.
func (b *Bus) Stats() BusStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Write sends p and discards received bytes. It fails with ErrBusBusy when
// another transfer is in flight or the FIFO stops accepting bytes.
func (b *Bus) Write(p []byte) error {
	return b.exchange(p, nil, len(p), ErrBusBusy)
}

// Read clocks out zeros and fills p with the bytes received.
func (b *Bus) Read(p []byte) error {
	return b.exchange(nil, p, len(p), ErrTimeout)
}

// Transfer performs a full duplex exchange. The result has the length of out.
func (b *Bus) Transfer(out []byte) ([]byte, error) {
	in := make([]byte, len(out))
	if len(out) == 0 {
		return in, nil
	}
	err := b.exchange(out, in, len(out), ErrTimeout)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// Service advances the transfer in flight, if any, and reports whether any
// bytes moved or the transfer completed.
func (b *Bus) Service() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serviceLocked()
}

func (b *Bus) exchange(src, dst []byte, n int, exhausted error) error {
	if n == 0 {
		return nil
	}
	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return ErrBusClosed
	case b.inflight != nil:
		b.mu.Unlock()
		return ErrBusBusy
	case !b.running:
		b.mu.Unlock()
		return errBusNotStarted
	}
	if ta, ok := b.eng.(Turnaround); ok && b.pins.Shared() {
		ta.SetOutput(src != nil)
	}
	t := &b.desc
	t.reset(src, dst, n)
	if b.off != nil {
		if err := b.off.StartOffload(t); err != nil {
			b.mu.Unlock()
			return errjoin(ErrBusBusy, err)
		}
	}
	b.inflight = t
	b.mu.Unlock()

	idle := 0
	for {
		b.mu.Lock()
		if t.aborted {
			b.mu.Unlock()
			return ErrBusClosed
		}
		progressed := b.serviceLocked()
		if t.Complete {
			b.finishLocked(t)
			b.mu.Unlock()
			return nil
		}
		if progressed {
			idle = 0
		} else {
			idle++
		}
		if idle >= b.attempts {
			b.abortLocked(t)
			b.mu.Unlock()
			b.warn("bus:exhausted", slog.Int("len", n), slog.Int("recv", t.recv))
			return exhausted
		}
		b.mu.Unlock()
	}
}

func (b *Bus) serviceLocked() bool {
	t := b.inflight
	if t == nil || t.Complete {
		return false
	}
	if b.off != nil {
		received, done := b.off.OffloadProgress()
		progressed := received > t.recv || done
		t.recv = max(t.recv, received)
		t.sent = max(t.sent, t.recv)
		if done {
			t.Complete = true
		}
		return progressed
	}
	return t.pump(b.eng)
}

func (b *Bus) finishLocked(t *TransferDescriptor) {
	b.inflight = nil
	b.stats.Transfers++
	b.stats.BytesOut += uint64(t.Len)
	b.stats.BytesIn += uint64(t.Len)
}

func (b *Bus) abortLocked(t *TransferDescriptor) {
	if b.off != nil {
		b.off.AbortOffload()
	}
	b.eng.ClearFIFOs()
	t.aborted = true
	b.inflight = nil
	b.stats.Aborts++
}
