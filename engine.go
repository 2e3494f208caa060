package cywctl

// Program is the bus engine microprogram. The driver loads it as is.
type Program struct {
	// Name identifies the program and its revision, i.e: "spi_cpha0".
	Name         string
	Instructions []uint16
	// Origin is the load address, -1 lets the engine choose.
	Origin int8
	// WrapTarget and Wrap are relative to the first instruction.
	WrapTarget uint8
	Wrap       uint8
	// SidesetBits is the number of instruction bits 12:8 taken by side-set.
	// The remaining low bits encode delay.
	SidesetBits uint8
}

// maxSidesetBits is the widest side-set field an instruction can hold.
const maxSidesetBits = 5

// Engine is the fixed function unit that clocks bytes over the bus. Every byte
// put in the transmit FIFO produces one received byte in the receive FIFO once
// the engine is enabled.
type Engine interface {
	// Claim reserves the engine and loads prog configured with cfg.
	// It fails if the engine is already running a program.
	Claim(prog Program, cfg BusConfig) error
	// Release stops the engine and frees the execution slot.
	Release()
	SetEnabled(enabled bool)
	SetClockDivider(div uint32)
	// ClearFIFOs discards bytes queued in either direction.
	ClearFIFOs()
	TxFull() bool
	Put(b byte)
	RxEmpty() bool
	Get() byte
}

// Offloader is implemented by engines with a bulk transfer channel. At most
// one descriptor is in flight at a time.
type Offloader interface {
	StartOffload(t *TransferDescriptor) error
	// OffloadProgress advances the offload and returns how many bytes of the
	// descriptor have been received so far and whether it completed.
	OffloadProgress() (received int, done bool)
	AbortOffload()
}

// Turnaround is implemented by engines driving a shared data line. The bus
// calls SetOutput before each transfer, true when the host drives the line.
type Turnaround interface {
	SetOutput(out bool)
}

// TransferDescriptor describes one full duplex transfer. The bus owns it while
// the transfer is in flight.
type TransferDescriptor struct {
	// Src holds bytes to send. Nil sends zeros.
	Src []byte
	// Dst receives Len bytes. Nil discards them.
	Dst      []byte
	Len      int
	Complete bool

	sent, recv int
	aborted    bool
}

func (t *TransferDescriptor) reset(src, dst []byte, n int) {
	*t = TransferDescriptor{Src: src, Dst: dst, Len: n}
}

func (t *TransferDescriptor) out(i int) byte {
	if t.Src == nil {
		return 0
	}
	return t.Src[i]
}

// pump moves bytes between the descriptor and the engine FIFOs until neither
// FIFO can make progress.
func (t *TransferDescriptor) pump(eng Engine) (progressed bool) {
	for {
		moved := false
		if t.sent < t.Len && !eng.TxFull() {
			eng.Put(t.out(t.sent))
			t.sent++
			moved = true
		}
		if t.recv < t.sent && !eng.RxEmpty() {
			c := eng.Get()
			if t.Dst != nil {
				t.Dst[t.recv] = c
			}
			t.recv++
			moved = true
		}
		if !moved {
			break
		}
		progressed = true
	}
	if t.recv == t.Len {
		t.Complete = true
	}
	return progressed
}

// SPIProgram is the half duplex gSPI program for the rp2 PIO. Data is shifted
// out on the falling clock edge and sampled on the rising edge, 8 bits per
// FIFO word.
var SPIProgram = Program{
	Name: "spi_cpha0",
	Instructions: []uint16{
		0x6101, //  0: out    pins, 1         side 0 [1]
		0x5101, //  1: in     pins, 1         side 1 [1]
	},
	Origin:      -1,
	WrapTarget:  0,
	Wrap:        1,
	SidesetBits: 1,
}
