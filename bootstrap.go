package cywctl

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/soypat/cywctl/whd"
)

var (
	errBusSelfTest = errors.New("cywctl: bus read/write test failed")
	errCoreNotUp   = errors.New("cywctl: wlan core did not come up")
)

// BootState is the co-processor bring-up state.
type BootState uint8

const (
	BootPowerOff BootState = iota
	BootReset
	BootWaitReady
	BootUploadFirmware
	BootUploadCLM
	BootReady
	BootFailed
)

func (s BootState) String() string {
	switch s {
	case BootPowerOff:
		return "poweroff"
	case BootReset:
		return "reset"
	case BootWaitReady:
		return "waitready"
	case BootUploadFirmware:
		return "uploadfw"
	case BootUploadCLM:
		return "uploadclm"
	case BootReady:
		return "ready"
	case BootFailed:
		return "failed"
	}
	return "unknown"
}

// BootConfig holds the images and timing used to bring the co-processor up.
type BootConfig struct {
	// Firmware and CLM are uploaded as is. Neither may be empty.
	Firmware string
	CLM      string
	// NVRAM is optional board configuration placed at the top of chip RAM.
	NVRAM string
	// ChunkSize is the firmware write unit. Each chunk is acknowledged
	// before the next is sent. Must be a multiple of 4.
	ChunkSize int
	// PowerOffHold is how long power is held low before it is asserted.
	PowerOffHold time.Duration
	// PowerSettle is waited after asserting power.
	PowerSettle time.Duration
	// Ready bounds polling of the test register after power up.
	Ready PollConfig
	// Clocks bounds waits on clock, core and F2 readiness bits.
	Clocks PollConfig
	// Verify reads firmware back after upload and compares checksums.
	Verify bool
	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to BootState)
	Logger       *slog.Logger
}

// DefaultBootConfig returns the timing used on the Pico W.
func DefaultBootConfig(firmware, clm string) BootConfig {
	return BootConfig{
		Firmware:     firmware,
		CLM:          clm,
		ChunkSize:    whd.BUS_SPI_MAX_BACKPLANE_TRANSFER_SIZE,
		PowerOffHold: 20 * time.Millisecond,
		PowerSettle:  250 * time.Millisecond,
		Ready:        PollConfig{Interval: time.Millisecond, Attempts: 128},
		Clocks:       PollConfig{Interval: time.Millisecond, Attempts: 1000},
	}
}

// Bootstrap runs the co-processor bring-up sequence:
//
//	PowerOff → Reset → WaitReady → UploadFirmware → UploadCLM → Ready
//
// Any error moves it to Failed, from which only a new Run recovers.
type Bootstrap struct {
	slogger
	dev *Device
	cfg BootConfig

	mu     sync.Mutex
	state  BootState
	err    error
	chunks int
	fwcrc  uint16
	// boots counts runs that reached Ready.
	boots uint64

	chunk  []byte
	clmbuf [whd.DOWNLOAD_HEADER_LEN + whd.CLM_CHUNK_LEN]byte
}

func NewBootstrap(dev *Device, cfg BootConfig) (*Bootstrap, error) {
	if cfg.Firmware == "" || cfg.CLM == "" {
		return nil, ErrEmptyImage
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = whd.BUS_SPI_MAX_BACKPLANE_TRANSFER_SIZE
	}
	nvramLen := int(align(uint32(len(cfg.NVRAM)), 4))
	switch {
	case cfg.ChunkSize < 0 || cfg.ChunkSize%4 != 0 || cfg.ChunkSize > whd.MAX_PACKET_LEN-4:
		return nil, errjoin(ErrBadConfig, errors.New("bad chunk size"))
	case len(cfg.Firmware)+nvramLen+4 > whd.CHIP_RAM_SIZE:
		return nil, errjoin(ErrBadConfig, errors.New("firmware does not fit chip RAM"))
	}
	return &Bootstrap{
		slogger: slogger{log: cfg.Logger},
		dev:     dev,
		cfg:     cfg,
		chunk:   make([]byte, cfg.ChunkSize),
	}, nil
}

// State returns the current bring-up state.
func (b *Bootstrap) State() BootState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ready reports whether the co-processor accepts control commands.
func (b *Bootstrap) Ready() bool { return b.State() == BootReady }

// Err returns the error that moved the bootstrap to BootFailed.
func (b *Bootstrap) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// ChunkWrites returns the number of acknowledged firmware, NVRAM and CLM
// chunk writes performed by the last Run.
func (b *Bootstrap) ChunkWrites() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks
}

// FirmwareChecksum returns the checksum of the firmware sent by the last Run.
func (b *Bootstrap) FirmwareChecksum() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fwcrc
}

// generation changes every time the co-processor is brought up anew.
func (b *Bootstrap) generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.boots
}

func (b *Bootstrap) transition(to BootState) {
	b.mu.Lock()
	from := b.state
	b.state = to
	b.mu.Unlock()
	b.debug("boot:state", slog.String("from", from.String()), slog.String("to", to.String()))
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(from, to)
	}
}

func (b *Bootstrap) fail(err error) error {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	b.logerr("boot:failed", slog.String("err", err.Error()))
	b.transition(BootFailed)
	return err
}

// Run power cycles the co-processor and uploads firmware, NVRAM and CLM. It
// always starts from PowerOff so it doubles as the recovery path after a
// failure.
func (b *Bootstrap) Run() error {
	d := b.dev
	d.lock()
	defer d.unlock()
	b.mu.Lock()
	b.err = nil
	b.chunks = 0
	current := b.state
	b.mu.Unlock()
	if current != BootPowerOff {
		d.bus.SetPower(false)
		b.transition(BootPowerOff)
	}
	start := d.clock.Now()
	steps := [...]struct {
		state BootState
		run   func() error
	}{
		{BootReset, b.powerCycle},
		{BootWaitReady, b.waitReady},
		{BootUploadFirmware, b.uploadFirmware},
		{BootUploadCLM, b.uploadCLM},
	}
	for _, step := range steps {
		b.transition(step.state)
		if err := step.run(); err != nil {
			return b.fail(err)
		}
	}
	b.mu.Lock()
	b.boots++
	b.mu.Unlock()
	b.transition(BootReady)
	b.info("boot:ready",
		slog.Duration("elapsed", d.clock.Now().Sub(start)),
		slog.Int("chunks", b.ChunkWrites()),
		slog.Uint64("fwcrc", uint64(b.FirmwareChecksum())),
	)
	return nil
}

func (b *Bootstrap) powerCycle() error {
	d := b.dev
	d.bus.SetPower(false)
	d.clock.Sleep(b.cfg.PowerOffHold)
	d.bus.SetPower(true)
	d.clock.Sleep(b.cfg.PowerSettle)
	d.resetProtocol()
	return nil
}

func (b *Bootstrap) waitReady() error {
	d := b.dev
	attempts := 0
	err := b.cfg.Ready.wait(d.clock, ErrBootTimeout, func() (bool, error) {
		attempts++
		got, err := d.read32_swapped(whd.SPI_READ_TEST_REGISTER)
		return got == whd.TEST_PATTERN, err
	})
	if err != nil {
		return err
	}
	b.debug("boot:test pattern ok", slog.Int("attempts", attempts))

	err = d.write32_swapped(whd.SPI_BUS_CONTROL, whd.SETUP_WORD)
	if err != nil {
		return err
	}
	got, err := d.read32(whd.FuncBus, whd.SPI_READ_TEST_REGISTER)
	if err != nil {
		return err
	} else if got != whd.TEST_PATTERN {
		return errBusSelfTest
	}
	err = d.write32(whd.FuncBus, whd.SPI_READ_TEST_RW_REGISTER, whd.TEST_RW_PATTERN)
	if err != nil {
		return err
	}
	got, err = d.read32(whd.FuncBus, whd.SPI_READ_TEST_RW_REGISTER)
	if err != nil {
		return err
	} else if got != whd.TEST_RW_PATTERN {
		return errBusSelfTest
	}

	// Clear stale interrupts.
	err = d.write16(whd.FuncBus, whd.SPI_INTERRUPT_REGISTER, 0x99)
	if err != nil {
		return err
	}
	err = d.write8(whd.FuncBackplane, whd.SDIO_CHIP_CLOCK_CSR, whd.SBSDIO_ALP_AVAIL_REQ)
	if err != nil {
		return err
	}
	err = b.waitCSR(whd.SBSDIO_ALP_AVAIL)
	if err != nil {
		return err
	}
	err = d.write8(whd.FuncBackplane, whd.SDIO_CHIP_CLOCK_CSR, 0)
	if err != nil {
		return err
	}
	chipID, err := d.bp_read16(whd.CHIPCOMMON_BASE_ADDRESS)
	if err != nil {
		return err
	}
	b.info("boot:alp ready", slog.Uint64("chip_id", uint64(chipID)))
	return nil
}

func (b *Bootstrap) waitCSR(mask uint8) error {
	d := b.dev
	return b.cfg.Clocks.wait(d.clock, ErrBootTimeout, func() (bool, error) {
		got, err := d.read8(whd.FuncBackplane, whd.SDIO_CHIP_CLOCK_CSR)
		return got&mask != 0, err
	})
}

func (b *Bootstrap) uploadFirmware() error {
	d := b.dev
	err := d.core_disable(whd.CoreWLAN)
	if err != nil {
		return err
	}
	err = d.core_reset(whd.CoreSOCRAM)
	if err != nil {
		return err
	}
	// Disable remap for SRAM_3.
	err = d.bp_write32(whd.SOCSRAM_BANKX_INDEX, 0x3)
	if err == nil {
		err = d.bp_write32(whd.SOCSRAM_BANKX_PDA, 0)
	}
	if err != nil {
		return err
	}

	crc := newImageCRC()
	err = b.upload(0, b.cfg.Firmware, &crc)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.fwcrc = crc.sum()
	b.mu.Unlock()
	if b.cfg.Verify {
		err = b.verify(0, len(b.cfg.Firmware), b.fwcrc)
		if err != nil {
			return err
		}
	}

	if b.cfg.NVRAM != "" {
		err = b.uploadNVRAM()
		if err != nil {
			return err
		}
	}

	err = d.core_reset(whd.CoreWLAN)
	if err != nil {
		return err
	}
	up, err := d.core_is_up(whd.CoreWLAN)
	if err != nil {
		return err
	} else if !up {
		return errCoreNotUp
	}
	// Firmware sets HT clock available once it runs.
	err = b.waitCSR(whd.SBSDIO_HT_AVAIL)
	if err != nil {
		return err
	}
	return b.enableF2()
}

func (b *Bootstrap) enableF2() error {
	d := b.dev
	err := d.write16(whd.FuncBus, whd.SPI_INTERRUPT_ENABLE_REGISTER,
		whd.F2_F3_FIFO_RD_UNDERFLOW|whd.F2_F3_FIFO_WR_OVERFLOW|whd.COMMAND_ERROR|
			whd.DATA_ERROR|whd.F2_PACKET_AVAILABLE|whd.F1_OVERFLOW)
	if err != nil {
		return err
	}
	err = d.write8(whd.FuncBackplane, whd.SDIO_FUNCTION2_WATERMARK, whd.SPI_F2_WATERMARK)
	if err != nil {
		return err
	}
	err = b.cfg.Clocks.wait(d.clock, ErrBootTimeout, func() (bool, error) {
		st, err := d.status()
		return st.F2RxReady(), err
	})
	if err != nil {
		return err
	}
	err = d.write8(whd.FuncBackplane, whd.SDIO_PULL_UP, 0)
	if err != nil {
		return err
	}
	err = d.write8(whd.FuncBackplane, whd.SDIO_CHIP_CLOCK_CSR, whd.SBSDIO_HT_AVAIL_REQ)
	if err != nil {
		return err
	}
	return b.waitCSR(whd.SBSDIO_HT_AVAIL)
}

// upload writes image to chip RAM at addr one chunk at a time. The status
// register is read after every chunk and a rejected chunk aborts the upload.
func (b *Bootstrap) upload(addr uint32, image string, crc *imageCRC) error {
	d := b.dev
	for off := 0; off < len(image); {
		n := min(len(b.chunk), len(image)-off)
		buf := b.chunk[:align(uint32(n), 4)]
		copy(buf, image[off:off+n])
		clear(buf[n:])
		if crc != nil {
			crc.update(buf[:n])
		}
		err := d.bp_write(addr+uint32(off), buf)
		if err != nil {
			return err
		}
		st, err := d.status()
		if err != nil {
			return err
		} else if st.writeFailed() {
			b.logerr("boot:chunk rejected", slog.Int("offset", off), slog.String("status", st.String()))
			return errjoin(ErrChunkRejected, errors.New("chunk at offset "+strconv.Itoa(off)))
		}
		b.mu.Lock()
		b.chunks++
		b.mu.Unlock()
		off += n
	}
	return nil
}

// verify reads n bytes back from addr and compares their checksum to want.
func (b *Bootstrap) verify(addr uint32, n int, want uint16) error {
	crc := newImageCRC()
	for off := 0; off < n; {
		length := min(len(b.chunk), n-off)
		buf := b.chunk[:align(uint32(length), 4)]
		err := b.dev.bp_read(addr+uint32(off), buf)
		if err != nil {
			return err
		}
		crc.update(buf[:length])
		off += length
	}
	if got := crc.sum(); got != want {
		b.logerr("boot:verify", slog.Uint64("want", uint64(want)), slog.Uint64("got", uint64(got)))
		return ErrVerify
	}
	return nil
}

// uploadNVRAM places NVRAM at the top of RAM followed by its length word.
func (b *Bootstrap) uploadNVRAM() error {
	const ramTop = whd.CHIP_RAM_SIZE - 4
	nvramLen := align(uint32(len(b.cfg.NVRAM)), 4)
	err := b.upload(ramTop-nvramLen, b.cfg.NVRAM, nil)
	if err != nil {
		return err
	}
	words := nvramLen / 4
	return b.dev.bp_write32(ramTop, (^words<<16)|words)
}

func (b *Bootstrap) uploadCLM() error {
	d := b.dev
	clm := b.cfg.CLM
	for off := 0; off < len(clm); {
		n := min(whd.CLM_CHUNK_LEN, len(clm)-off)
		flag := uint16(whd.DOWNLOAD_FLAG_HANDLER_VER)
		if off == 0 {
			flag |= whd.DOWNLOAD_FLAG_BEGIN
		}
		if off+n >= len(clm) {
			flag |= whd.DOWNLOAD_FLAG_END
		}
		hdr := whd.DownloadHeader{Flags: flag, Type: whd.DOWNLOAD_TYPE_CLM, Len: uint32(n)}
		hdr.Put(b.clmbuf[:])
		copy(b.clmbuf[whd.DOWNLOAD_HEADER_LEN:], clm[off:off+n])
		err := d.set_iovar_n("clmload", whd.WWD_STA_INTERFACE, b.clmbuf[:whd.DOWNLOAD_HEADER_LEN+n])
		if err != nil {
			return err
		}
		b.mu.Lock()
		b.chunks++
		b.mu.Unlock()
		off += n
	}
	status, err := d.get_iovar("clmload_status", whd.WWD_STA_INTERFACE)
	if err != nil {
		return err
	} else if status != 0 {
		return errjoin(ErrCLMRejected, errors.New("clmload_status "+strconv.Itoa(int(status))))
	}
	return d.set_iovar("bus:txglom", whd.WWD_STA_INTERFACE, 0)
}
