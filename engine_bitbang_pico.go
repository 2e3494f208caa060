//go:build pico && cywnopio

package cywctl

import (
	"device"
	"errors"
	"machine"
)

var errEngineClaimed = errors.New("cywctl: bit-bang engine already claimed")

// BitBangEngine clocks bytes in software, SPI mode 0, MSB first. It ignores
// the program and stands in for the PIO when debugging the PIO engine.
type BitBangEngine struct {
	sck, sdi, sdo machine.Pin
	// delay is a quarter clock period in nops.
	delay   uint32
	enabled bool
	claimed bool
	rx      byte
	full    bool
}

var (
	_ Engine     = (*BitBangEngine)(nil)
	_ Turnaround = (*BitBangEngine)(nil)
)

func newBoardEngine() Engine { return &BitBangEngine{} }

func (s *BitBangEngine) Claim(_ Program, cfg BusConfig) error {
	if s.claimed {
		return errEngineClaimed
	}
	s.sck = machine.Pin(cfg.Pins.Clock)
	s.sdi = machine.Pin(cfg.Pins.DataIn)
	s.sdo = machine.Pin(cfg.Pins.DataOut)
	s.sck.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.sdo.Configure(machine.PinConfig{Mode: machine.PinOutput})
	if s.sdi != s.sdo {
		s.sdi.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	}
	s.sck.Low()
	s.sdo.Low()
	s.SetClockDivider(cfg.ClockDivider)
	s.claimed = true
	return nil
}

func (s *BitBangEngine) Release() {
	s.claimed = false
	s.enabled = false
	s.full = false
}

func (s *BitBangEngine) SetEnabled(enabled bool) { s.enabled = enabled }

func (s *BitBangEngine) SetClockDivider(div uint32) { s.delay = max(div/4, 1) }

func (s *BitBangEngine) ClearFIFOs() { s.full = false }

func (s *BitBangEngine) TxFull() bool { return !s.enabled || s.full }

// Put shifts b out immediately, holding the received byte until Get.
func (s *BitBangEngine) Put(b byte) {
	s.rx = s.transfer(b)
	s.full = true
}

func (s *BitBangEngine) RxEmpty() bool { return !s.full }

func (s *BitBangEngine) Get() byte {
	s.full = false
	return s.rx
}

func (s *BitBangEngine) SetOutput(out bool) {
	if s.sdi != s.sdo {
		return
	}
	if out {
		s.sdo.Configure(machine.PinConfig{Mode: machine.PinOutput})
	} else {
		s.sdo.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	}
}

func (s *BitBangEngine) transfer(b byte) (out byte) {
	for bit := 7; bit >= 0; bit-- {
		if s.bitTransfer(b&(1<<bit) != 0) {
			out |= 1 << bit
		}
	}
	return out
}

//go:inline
func (s *BitBangEngine) bitTransfer(b bool) bool {
	s.sdo.Set(b)
	s.wait()
	s.sck.High()
	s.wait()
	inputBit := s.sdi.Get()
	s.wait()
	s.sck.Low()
	s.wait()
	return inputBit
}

//go:inline
func (s *BitBangEngine) wait() {
	for i := uint32(0); i < s.delay; i++ {
		device.Asm("nop")
	}
}
