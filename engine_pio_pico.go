//go:build pico && !cywnopio

package cywctl

import (
	"errors"
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"
)

var errEngineClaimed = errors.New("cywctl: state machine already claimed")

// PIOEngine runs the bus program on a state machine of an rp2 PIO block.
// Bytes travel MSB first, one per FIFO word.
type PIOEngine struct {
	Block *pio.PIO

	sm      pio.StateMachine
	offset  uint8
	prog    Program
	data    machine.Pin
	shared  bool
	claimed bool

	// Offload state, see engine_pio_dma_pico.go.
	off       *TransferDescriptor
	zero      byte
	sink      byte
	dmaTxDREQ uint32
	dmaRxDREQ uint32
}

var (
	_ Engine     = (*PIOEngine)(nil)
	_ Turnaround = (*PIOEngine)(nil)
	_ Offloader  = (*PIOEngine)(nil)
)

func newBoardEngine() Engine { return &PIOEngine{Block: pio.PIO0} }

func (e *PIOEngine) Claim(prog Program, cfg BusConfig) error {
	if e.claimed {
		return errEngineClaimed
	}
	sm, err := e.Block.ClaimStateMachine()
	if err != nil {
		return err
	}
	offset, err := e.Block.AddProgram(prog.Instructions, prog.Origin)
	if err != nil {
		sm.Unclaim()
		return err
	}
	clk := machine.Pin(cfg.Pins.Clock)
	dout := machine.Pin(cfg.Pins.DataOut)
	din := machine.Pin(cfg.Pins.DataIn)
	pinCfg := machine.PinConfig{Mode: e.Block.PinMode()}
	clk.Configure(pinCfg)
	dout.Configure(pinCfg)
	if din != dout {
		din.Configure(pinCfg)
	}

	smcfg := pio.DefaultStateMachineConfig()
	smcfg.SetWrap(offset+prog.WrapTarget, offset+prog.Wrap)
	smcfg.SetSidesetParams(prog.SidesetBits, false, false)
	smcfg.SetSidesetPins(clk)
	smcfg.SetOutPins(dout, 1)
	smcfg.SetInPins(din)
	smcfg.SetOutShift(false, true, 8)
	smcfg.SetInShift(false, true, 8)
	smcfg.SetClkDivIntFrac(uint16(cfg.ClockDivider), 0)
	sm.SetPindirsConsecutive(clk, 1, true)
	sm.SetPindirsConsecutive(dout, 1, true)
	sm.SetPinsConsecutive(clk, 1, false)
	sm.Init(offset, smcfg)

	e.sm = sm
	e.offset = offset
	e.prog = prog
	e.data = dout
	e.shared = din == dout
	e.dmaTxDREQ = dreqPIOTx(e.Block.BlockIndex(), sm.StateMachineIndex())
	e.dmaRxDREQ = e.dmaTxDREQ + 4
	e.claimed = true
	return nil
}

func (e *PIOEngine) Release() {
	if !e.claimed {
		return
	}
	e.AbortOffload()
	e.sm.SetEnabled(false)
	e.sm.ClearFIFOs()
	e.Block.ClearProgramSection(e.offset, uint8(len(e.prog.Instructions)))
	e.sm.Unclaim()
	e.claimed = false
}

func (e *PIOEngine) SetEnabled(enabled bool) { e.sm.SetEnabled(enabled) }

func (e *PIOEngine) SetClockDivider(div uint32) { e.sm.SetClkDiv(uint16(div), 0) }

func (e *PIOEngine) ClearFIFOs() { e.sm.ClearFIFOs() }

func (e *PIOEngine) TxFull() bool { return e.sm.IsTxFIFOFull() }

// Put left aligns b so the autopull threshold of 8 bits shifts it out MSB first.
func (e *PIOEngine) Put(b byte) { e.sm.TxPut(uint32(b) << 24) }

func (e *PIOEngine) RxEmpty() bool { return e.sm.IsRxFIFOEmpty() }

func (e *PIOEngine) Get() byte { return byte(e.sm.RxGet()) }

// SetOutput switches the direction of a shared data pin.
func (e *PIOEngine) SetOutput(out bool) {
	if e.shared {
		e.sm.SetPindirsConsecutive(e.data, 1, out)
	}
}
