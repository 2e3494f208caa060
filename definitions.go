package cywctl

import (
	"golang.org/x/exp/constraints"

	"github.com/soypat/cywctl/whd"
)

// Status is the gSPI status register. It reports packet and protocol errors
// and whether F2 has a packet waiting.
type Status uint32

func (s Status) String() (str string) {
	if s == 0 {
		return "no status"
	}
	if s.HostCommandDataError() {
		str += "hostcmderr "
	}
	if s.DataUnavailable() {
		str += "dataunavailable "
	}
	if s.IsOverflow() {
		str += "overflow "
	}
	if s.IsUnderflow() {
		str += "underflow "
	}
	if s.F2PacketAvailable() {
		str += "packetavail "
	}
	if s.F2RxReady() {
		str += "rxready "
	}
	return str
}

// DataUnavailable returns true if requested read data is unavailable.
func (s Status) DataUnavailable() bool { return s&whd.STATUS_DATA_NOT_AVAILABLE != 0 }

// IsUnderflow returns true if FIFO underflow occurred due to current (F2, F3) read command.
func (s Status) IsUnderflow() bool { return s&whd.STATUS_UNDERFLOW != 0 }

// IsOverflow returns true if FIFO overflow occurred due to current (F1, F2, F3) write command.
func (s Status) IsOverflow() bool { return s&whd.STATUS_OVERFLOW != 0 }

// F2RxReady returns true if F2 FIFO is ready to receive data (FIFO empty).
func (s Status) F2RxReady() bool { return s&whd.STATUS_F2_RX_READY != 0 }

// HostCommandDataError is set when the last command or its data was malformed.
func (s Status) HostCommandDataError() bool { return s&whd.STATUS_HOST_CMD_DATA_ERR != 0 }

// F2PacketAvailable returns true if Packet is available/ready in F2 TX FIFO.
func (s Status) F2PacketAvailable() bool { return s&whd.STATUS_F2_PKT_AVAILABLE != 0 }

// F2PacketLength returns F2 packet length.
func (s Status) F2PacketLength() uint16 {
	return uint16((s & whd.STATUS_F2_PKT_LEN_MASK) >> whd.STATUS_F2_PKT_LEN_SHIFT)
}

// writeFailed reports whether the last write was not accepted.
func (s Status) writeFailed() bool {
	return s.HostCommandDataError() || s.IsOverflow() || s.DataUnavailable()
}

// Interrupts is the gSPI interrupt register.
type Interrupts uint16

func (Int Interrupts) IsBusOverflowedOrUnderflowed() bool {
	return Int&(whd.F2_F3_FIFO_RD_UNDERFLOW|whd.F2_F3_FIFO_WR_OVERFLOW|whd.F1_OVERFLOW) != 0
}

func (Int Interrupts) IsF2Available() bool {
	return Int&whd.F2_PACKET_AVAILABLE != 0
}

func (Int Interrupts) IsDataUnavailable() bool {
	return Int&whd.DATA_UNAVAILABLE != 0
}

func align[T constraints.Unsigned](v, alignment T) T {
	return (v + alignment - 1) &^ (alignment - 1)
}
