package sim

import (
	"errors"
	"sync"

	"github.com/soypat/cywctl"
)

var (
	errClaimed     = errors.New("sim: state machine already claimed")
	errBadProgram  = errors.New("sim: program does not fit instruction memory")
	errOffloadBusy = errors.New("sim: offload channel busy")
)

// Instruction memory size of an rp2 PIO block.
const instructionSlots = 32

// Engine is a FIFO bus engine with a bulk transfer channel. Each byte
// shifted out is exchanged with the co-processor.
type Engine struct {
	mu      sync.Mutex
	chip    *Chip
	depth   int
	burst   int
	claimed bool
	enabled bool
	div     uint32
	prog    cywctl.Program
	tx      []byte
	rx      []byte

	dma              *cywctl.TransferDescriptor
	dmaSent, dmaRecv int
	offloads         int
	turnarounds      int
	output           bool
}

var (
	_ cywctl.Engine     = (*Engine)(nil)
	_ cywctl.Offloader  = (*Engine)(nil)
	_ cywctl.Turnaround = (*Engine)(nil)
)

func (e *Engine) Claim(prog cywctl.Program, cfg cywctl.BusConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.claimed {
		return errClaimed
	}
	if len(prog.Instructions) == 0 || len(prog.Instructions) > instructionSlots {
		return errBadProgram
	}
	e.claimed = true
	e.prog = prog
	e.div = cfg.ClockDivider
	return nil
}

func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.claimed = false
	e.enabled = false
	e.tx = e.tx[:0]
	e.rx = e.rx[:0]
	e.dma = nil
}

func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled && e.claimed
	e.shift()
}

func (e *Engine) SetClockDivider(div uint32) {
	e.mu.Lock()
	e.div = div
	e.mu.Unlock()
}

func (e *Engine) ClearFIFOs() {
	e.mu.Lock()
	e.tx = e.tx[:0]
	e.rx = e.rx[:0]
	e.mu.Unlock()
}

func (e *Engine) TxFull() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tx) >= e.depth
}

func (e *Engine) Put(b byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tx) < e.depth {
		e.tx = append(e.tx, b)
	}
	e.shift()
}

func (e *Engine) RxEmpty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rx) == 0
}

func (e *Engine) Get() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rx) == 0 {
		return 0
	}
	b := e.rx[0]
	e.rx = append(e.rx[:0], e.rx[1:]...)
	e.shift()
	return b
}

// shift clocks queued bytes while the engine runs and the receive FIFO has room.
func (e *Engine) shift() {
	for e.enabled && len(e.tx) > 0 && len(e.rx) < e.depth {
		out := e.tx[0]
		e.tx = append(e.tx[:0], e.tx[1:]...)
		e.rx = append(e.rx, e.chip.exchange(out))
	}
}

func (e *Engine) StartOffload(t *cywctl.TransferDescriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dma != nil {
		return errOffloadBusy
	}
	e.dma = t
	e.dmaSent, e.dmaRecv = 0, 0
	e.offloads++
	return nil
}

// OffloadProgress moves up to one burst of bytes through the FIFOs.
func (e *Engine) OffloadProgress() (received int, done bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.dma
	if t == nil {
		return 0, false
	}
	for i := 0; i < e.burst && e.dmaRecv < t.Len; i++ {
		if e.dmaSent < t.Len && len(e.tx) < e.depth {
			var b byte
			if t.Src != nil {
				b = t.Src[e.dmaSent]
			}
			e.tx = append(e.tx, b)
			e.dmaSent++
			e.shift()
		}
		if len(e.rx) > 0 {
			b := e.rx[0]
			e.rx = append(e.rx[:0], e.rx[1:]...)
			if t.Dst != nil {
				t.Dst[e.dmaRecv] = b
			}
			e.dmaRecv++
			e.shift()
		} else if !e.enabled {
			break
		}
	}
	if e.dmaRecv == t.Len {
		t.Complete = true
		e.dma = nil
		return t.Len, true
	}
	return e.dmaRecv, false
}

func (e *Engine) AbortOffload() {
	e.mu.Lock()
	e.dma = nil
	e.mu.Unlock()
}

// Claimed reports whether a program is loaded.
func (e *Engine) Claimed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claimed
}

// Divider returns the configured clock divider.
func (e *Engine) Divider() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.div
}

// Offloads returns how many transfers went through the offload channel.
func (e *Engine) Offloads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offloads
}

// SetOutput records the direction of the shared data line.
func (e *Engine) SetOutput(out bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if out != e.output {
		e.turnarounds++
	}
	e.output = out
}

// Turnarounds counts data line direction changes.
func (e *Engine) Turnarounds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turnarounds
}
