package whd

import "strconv"

type Function uint32

const (
	// All SPI-specific registers.
	FuncBus Function = 0b00
	// Registers and memories belonging to other blocks in the chip (64 bytes max).
	FuncBackplane Function = 0b01
	// DMA channel 1. WLAN packets up to 2048 bytes.
	FuncDMA1 Function = 0b10
	FuncWLAN          = FuncDMA1
	// DMA channel 2 (optional). Packets up to 2048 bytes.
	FuncDMA2 Function = 0b11
)

func (f Function) String() (s string) {
	switch f {
	case FuncBus:
		s = "bus"
	case FuncBackplane:
		s = "backplane"
	case FuncWLAN:
		s = "wlan"
	case FuncDMA2:
		s = "dma2"
	default:
		s = "unknown"
	}
	return s
}

// Cmd is a decoded gSPI command word. The word precedes every transaction
// and is sent little endian.
type Cmd struct {
	Write   bool
	AutoInc bool
	Fn      Function
	Addr    uint32 // 17 bits.
	Size    uint32 // 11 bits, in bytes.
}

const (
	cmdAddrMask = 0x1ffff
	cmdSizeMask = 1<<11 - 1
)

// Word encodes the command into its 32 bit wire form.
func (c Cmd) Word() uint32 {
	return b2u32(c.Write)<<31 | b2u32(c.AutoInc)<<30 | uint32(c.Fn&0b11)<<28 |
		(c.Addr&cmdAddrMask)<<11 | c.Size&cmdSizeMask
}

// DecodeCmd splits a command word into its fields.
func DecodeCmd(word uint32) Cmd {
	return Cmd{
		Write:   word&(1<<31) != 0,
		AutoInc: word&(1<<30) != 0,
		Fn:      Function(word>>28) & 0b11,
		Addr:    (word >> 11) & cmdAddrMask,
		Size:    word & cmdSizeMask,
	}
}

func (c Cmd) String() string {
	b := make([]byte, 0, 64)
	if c.Write {
		b = append(b, "wr "...)
	} else {
		b = append(b, "rd "...)
	}
	b = append(b, c.Fn.String()...)
	b = append(b, " addr=0x"...)
	b = strconv.AppendUint(b, uint64(c.Addr), 16)
	b = append(b, " sz="...)
	b = strconv.AppendUint(b, uint64(c.Size), 10)
	if c.AutoInc {
		b = append(b, " inc"...)
	}
	return string(b)
}

func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
