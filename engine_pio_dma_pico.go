//go:build pico && !cywnopio

package cywctl

import (
	"device/rp"
	"errors"
	"runtime/volatile"
	"unsafe"
)

// The offload channel uses two fixed DMA channels, one per FIFO. They are
// taken from the top so they do not collide with piolib, which allocates
// from channel 0 upwards.
const (
	dmaTxChannel = 10
	dmaRxChannel = 11
	// dmaAbortPolls bounds the wait for CHAN_ABORT to clear.
	dmaAbortPolls = 1 << 16
)

var errOffloadBusy = errors.New("cywctl: offload already in flight")

// dmaChannelHW is one rp2040 DMA channel register block. See rp.DMA_Type.
type dmaChannelHW struct {
	READ_ADDR   volatile.Register32
	WRITE_ADDR  volatile.Register32
	TRANS_COUNT volatile.Register32
	CTRL_TRIG   volatile.Register32
	_           [12]volatile.Register32 // aliases
}

func dmaChannel(idx uint8) *dmaChannelHW {
	chans := (*[12]dmaChannelHW)(unsafe.Pointer(rp.DMA))
	return &chans[idx]
}

// dreqPIOTx returns the transmit DREQ of a PIO state machine. The receive
// DREQ is 4 above it.
func dreqPIOTx(block, sm uint8) uint32 {
	return uint32(block)*8 + uint32(sm)
}

func (ch *dmaChannelHW) busy() bool {
	return ch.CTRL_TRIG.Get()&rp.DMA_CH0_CTRL_TRIG_BUSY != 0
}

// start triggers a byte wide transfer of n bytes paced by dreq.
func (ch *dmaChannelHW) start(idx uint8, src, dst unsafe.Pointer, n int, dreq uint32, incrRead, incrWrite bool) {
	ch.CTRL_TRIG.ClearBits(rp.DMA_CH0_CTRL_TRIG_EN_Msk)
	ch.READ_ADDR.Set(uint32(uintptr(src)))
	ch.WRITE_ADDR.Set(uint32(uintptr(dst)))
	ch.TRANS_COUNT.Set(uint32(n))
	// DATA_SIZE of zero selects byte transfers. Chaining to itself disables chaining.
	ctrl := uint32(1)<<rp.DMA_CH0_CTRL_TRIG_EN_Pos |
		uint32(idx)<<rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Pos |
		dreq<<rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Pos
	if incrRead {
		ctrl |= 1 << rp.DMA_CH0_CTRL_TRIG_INCR_READ_Pos
	}
	if incrWrite {
		ctrl |= 1 << rp.DMA_CH0_CTRL_TRIG_INCR_WRITE_Pos
	}
	ch.CTRL_TRIG.Set(ctrl)
}

// StartOffload hands t to two DMA channels: one feeds the transmit FIFO and
// the other drains the receive FIFO. A byte write to TXF is replicated over
// all byte lanes, so the left shifting program sees it in bits 31:24.
func (e *PIOEngine) StartOffload(t *TransferDescriptor) error {
	if e.off != nil {
		return errOffloadBusy
	}
	src, incrRead := unsafe.Pointer(&e.zero), false
	if t.Src != nil {
		src, incrRead = unsafe.Pointer(&t.Src[0]), true
	}
	dst, incrWrite := unsafe.Pointer(&e.sink), false
	if t.Dst != nil {
		dst, incrWrite = unsafe.Pointer(&t.Dst[0]), true
	}
	e.off = t
	// Receive channel first so no byte is pushed before it is armed.
	dmaChannel(dmaRxChannel).start(dmaRxChannel, unsafe.Pointer(&e.sm.RxReg().Reg), dst, t.Len, e.dmaRxDREQ, false, incrWrite)
	dmaChannel(dmaTxChannel).start(dmaTxChannel, src, unsafe.Pointer(&e.sm.TxReg().Reg), t.Len, e.dmaTxDREQ, incrRead, false)
	return nil
}

// OffloadProgress reports the bytes the receive channel has stored so far.
func (e *PIOEngine) OffloadProgress() (received int, done bool) {
	t := e.off
	if t == nil {
		return 0, false
	}
	rx := dmaChannel(dmaRxChannel)
	remaining := int(rx.TRANS_COUNT.Get())
	if remaining == 0 && !rx.busy() {
		t.Complete = true
		e.off = nil
		return t.Len, true
	}
	return t.Len - remaining, false
}

// AbortOffload stops both channels and waits for in-flight bus transfers to
// drain. It is a no-op when nothing is in flight.
func (e *PIOEngine) AbortOffload() {
	if e.off == nil {
		return
	}
	const mask = 1<<dmaTxChannel | 1<<dmaRxChannel
	rp.DMA.CHAN_ABORT.Set(mask)
	for i := 0; i < dmaAbortPolls && rp.DMA.CHAN_ABORT.Get()&mask != 0; i++ {
	}
	dmaChannel(dmaTxChannel).CTRL_TRIG.ClearBits(rp.DMA_CH0_CTRL_TRIG_EN_Msk)
	dmaChannel(dmaRxChannel).CTRL_TRIG.ClearBits(rp.DMA_CH0_CTRL_TRIG_EN_Msk)
	e.off = nil
}
