package cywctl

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/cywctl/whd"
)

var _busOrder = binary.LittleEndian

var (
	errUnaligned      = errors.New("cywctl: backplane address must be 4-byte aligned")
	errCoreDisable    = errors.New("cywctl: core disable failed")
	errPacketTooLarge = errors.New("cywctl: wlan packet too large")
)

// DeviceConfig configures the co-processor protocol layer.
type DeviceConfig struct {
	Logger *slog.Logger
	// Ioctl bounds the wait for ioctl responses and transmit credit.
	// The zero value selects 10 attempts 10ms apart.
	Ioctl PollConfig
}

// Device speaks the co-processor's gSPI register protocol and SDPCM ioctl
// framing over a Bus. Methods serialize on an internal mutex.
type Device struct {
	slogger
	mu    sync.Mutex
	bus   *Bus
	clock Clock
	ioctl PollConfig

	backplaneWindow uint32
	ioctlID         uint16
	sdpcmSeq        uint8
	sdpcmSeqMax     uint8
	lastSDPCMHeader whd.SDPCMHeader
	auxCDCHeader    whd.CDCHeader

	cmdbuf        [4]byte
	rwbuf         [4 + whd.BUS_SPI_MAX_BACKPLANE_TRANSFER_SIZE]byte
	_sendIoctlBuf [whd.MAX_PACKET_LEN]byte
	_iovarBuf     [whd.MAX_PACKET_LEN - whd.SDPCM_HEADER_LEN - whd.CDC_HEADER_LEN]byte
	_rxBuf        [whd.MAX_PACKET_LEN]byte
}

func NewDevice(bus *Bus, cfg DeviceConfig) *Device {
	d := &Device{
		slogger: slogger{log: cfg.Logger},
		bus:     bus,
		clock:   bus.Clock(),
		ioctl:   cfg.Ioctl,
	}
	if d.ioctl.Attempts == 0 {
		d.ioctl = PollConfig{Interval: 10 * time.Millisecond, Attempts: 10}
	}
	d.resetProtocol()
	return d
}

// Bus returns the bus the device talks over.
func (d *Device) Bus() *Bus { return d.bus }

func (d *Device) lock()   { d.mu.Lock() }
func (d *Device) unlock() { d.mu.Unlock() }

// resetProtocol forgets state held about the co-processor. Called on power cycle.
func (d *Device) resetProtocol() {
	d.backplaneWindow = 0xaaaa_aaaa
	d.ioctlID = 0
	d.sdpcmSeq = 0
	d.sdpcmSeqMax = 1
}

func (d *Device) cmd_write(cmd uint32, data []byte) error {
	_busOrder.PutUint32(d.cmdbuf[:], cmd)
	if d.isTraceEnabled() {
		d.trace("cmd_write", slog.String("cmd", whd.DecodeCmd(cmd).String()))
	}
	d.bus.Select(true)
	err := d.bus.Write(d.cmdbuf[:])
	if err == nil && len(data) > 0 {
		err = d.bus.Write(data)
	}
	d.bus.Select(false)
	return err
}

func (d *Device) cmd_read(cmd uint32, dst []byte) error {
	_busOrder.PutUint32(d.cmdbuf[:], cmd)
	if d.isTraceEnabled() {
		d.trace("cmd_read", slog.String("cmd", whd.DecodeCmd(cmd).String()))
	}
	d.bus.Select(true)
	err := d.bus.Write(d.cmdbuf[:])
	if err == nil {
		err = d.bus.Read(dst)
	}
	d.bus.Select(false)
	return err
}

// readn reads a register of size 1, 2 or 4 bytes. Backplane reads are
// preceded by a 4 byte response delay.
func (d *Device) readn(fn whd.Function, addr, size uint32) (uint32, error) {
	padding := 0
	if fn == whd.FuncBackplane {
		padding = 4
	}
	buf := d.rwbuf[:padding+4]
	cmd := whd.Cmd{AutoInc: true, Fn: fn, Addr: addr, Size: size}
	err := d.cmd_read(cmd.Word(), buf)
	if err != nil {
		return 0, err
	}
	v := _busOrder.Uint32(buf[padding:])
	if size < 4 {
		v &= 1<<(8*size) - 1
	}
	return v, nil
}

func (d *Device) writen(fn whd.Function, addr, val, size uint32) error {
	var buf [4]byte
	_busOrder.PutUint32(buf[:], val)
	cmd := whd.Cmd{Write: true, AutoInc: true, Fn: fn, Addr: addr, Size: size}
	return d.cmd_write(cmd.Word(), buf[:])
}

func (d *Device) read32(fn whd.Function, addr uint32) (uint32, error) {
	return d.readn(fn, addr, 4)
}

func (d *Device) read16(fn whd.Function, addr uint32) (uint16, error) {
	v, err := d.readn(fn, addr, 2)
	return uint16(v), err
}

func (d *Device) read8(fn whd.Function, addr uint32) (uint8, error) {
	v, err := d.readn(fn, addr, 1)
	return uint8(v), err
}

func (d *Device) write32(fn whd.Function, addr, val uint32) error {
	return d.writen(fn, addr, val, 4)
}

func (d *Device) write16(fn whd.Function, addr uint32, val uint16) error {
	return d.writen(fn, addr, uint32(val), 2)
}

func (d *Device) write8(fn whd.Function, addr uint32, val uint8) error {
	return d.writen(fn, addr, uint32(val), 1)
}

func (d *Device) status() (Status, error) {
	v, err := d.read32(whd.FuncBus, whd.SPI_STATUS_REGISTER)
	return Status(v), err
}

func (d *Device) interrupts() (Interrupts, error) {
	v, err := d.read16(whd.FuncBus, whd.SPI_INTERRUPT_REGISTER)
	return Interrupts(v), err
}

func (d *Device) backplane_setwindow(addr uint32) (err error) {
	currentWindow := d.backplaneWindow
	addr = addr &^ whd.BACKPLANE_ADDR_MASK
	if addr == currentWindow {
		return nil
	}
	if (addr & 0xff000000) != currentWindow&0xff000000 {
		err = d.write8(whd.FuncBackplane, whd.SDIO_BACKPLANE_ADDRESS_HIGH, uint8(addr>>24))
	}
	if err == nil && (addr&0x00ff0000) != currentWindow&0x00ff0000 {
		err = d.write8(whd.FuncBackplane, whd.SDIO_BACKPLANE_ADDRESS_MID, uint8(addr>>16))
	}
	if err == nil && (addr&0x0000ff00) != currentWindow&0x0000ff00 {
		err = d.write8(whd.FuncBackplane, whd.SDIO_BACKPLANE_ADDRESS_LOW, uint8(addr>>8))
	}
	if err != nil {
		d.backplaneWindow = 0xaaaa_aaaa
		return err
	}
	d.backplaneWindow = addr
	return nil
}

func (d *Device) backplane_readn(addr, size uint32) (uint32, error) {
	err := d.backplane_setwindow(addr)
	if err != nil {
		return 0, err
	}
	addr &= whd.BACKPLANE_ADDR_MASK
	if size == 4 {
		addr |= whd.SBSDIO_SB_ACCESS_2_4B_FLAG
	}
	return d.readn(whd.FuncBackplane, addr, size)
}

func (d *Device) backplane_writen(addr, val, size uint32) error {
	err := d.backplane_setwindow(addr)
	if err != nil {
		return err
	}
	addr &= whd.BACKPLANE_ADDR_MASK
	if size == 4 {
		addr |= whd.SBSDIO_SB_ACCESS_2_4B_FLAG
	}
	return d.writen(whd.FuncBackplane, addr, val, size)
}

func (d *Device) bp_read8(addr uint32) (uint8, error) {
	v, err := d.backplane_readn(addr, 1)
	return uint8(v), err
}

func (d *Device) bp_write8(addr uint32, val uint8) error {
	return d.backplane_writen(addr, uint32(val), 1)
}

func (d *Device) bp_read16(addr uint32) (uint16, error) {
	v, err := d.backplane_readn(addr, 2)
	return uint16(v), err
}

func (d *Device) bp_read32(addr uint32) (uint32, error) {
	return d.backplane_readn(addr, 4)
}

func (d *Device) bp_write32(addr, val uint32) error {
	return d.backplane_writen(addr, val, 4)
}

// bp_write writes data to backplane memory in transactions that neither exceed
// the backplane burst size nor cross a window boundary. len(data) must be a
// multiple of 4.
func (d *Device) bp_write(addr uint32, data []byte) (err error) {
	if addr%4 != 0 {
		return errUnaligned
	}
	const maxTxSize = whd.BUS_SPI_MAX_BACKPLANE_TRANSFER_SIZE
	for err == nil && len(data) > 0 {
		windowOffset := addr & whd.BACKPLANE_ADDR_MASK
		windowRemaining := whd.BACKPLANE_WINDOW_SIZE - windowOffset
		length := min(uint32(len(data)), maxTxSize, windowRemaining)
		err = d.backplane_setwindow(addr)
		if err != nil {
			return err
		}
		cmd := whd.Cmd{Write: true, AutoInc: true, Fn: whd.FuncBackplane, Addr: windowOffset, Size: length}
		err = d.cmd_write(cmd.Word(), data[:length])
		addr += length
		data = data[length:]
	}
	return err
}

// bp_read reads len(dst) bytes of backplane memory starting at addr.
func (d *Device) bp_read(addr uint32, dst []byte) (err error) {
	if addr%4 != 0 {
		return errUnaligned
	}
	const maxTxSize = whd.BUS_SPI_MAX_BACKPLANE_TRANSFER_SIZE
	for err == nil && len(dst) > 0 {
		windowOffset := addr & whd.BACKPLANE_ADDR_MASK
		windowRemaining := whd.BACKPLANE_WINDOW_SIZE - windowOffset
		length := min(uint32(len(dst)), maxTxSize, windowRemaining)
		err = d.backplane_setwindow(addr)
		if err != nil {
			return err
		}
		// Response delay word precedes data.
		buf := d.rwbuf[:4+align(length, 4)]
		cmd := whd.Cmd{AutoInc: true, Fn: whd.FuncBackplane, Addr: windowOffset, Size: length}
		err = d.cmd_read(cmd.Word(), buf)
		copy(dst[:length], buf[4:])
		addr += length
		dst = dst[length:]
	}
	return err
}

// wlan_write sends an F2 packet. The transfer is padded to a 4 byte multiple.
func (d *Device) wlan_write(packet []byte, plen uint32) error {
	if plen > whd.MAX_PACKET_LEN-1 {
		return errPacketTooLarge
	}
	cmd := whd.Cmd{Write: true, AutoInc: true, Fn: whd.FuncWLAN, Size: plen}
	return d.cmd_write(cmd.Word(), packet[:align(plen, 4)])
}

// wlan_read reads an F2 packet of length bytes into dst.
func (d *Device) wlan_read(dst []byte, length uint32) error {
	if length > whd.MAX_PACKET_LEN-1 || int(align(length, 4)) > len(dst) {
		return errPacketTooLarge
	}
	cmd := whd.Cmd{AutoInc: true, Fn: whd.FuncWLAN, Size: length}
	return d.cmd_read(cmd.Word(), dst[:align(length, 4)])
}

func (d *Device) core_disable(core whd.Core) error {
	base := core.Base()
	// Dummy read.
	d.bp_read8(base + whd.AI_RESETCTRL_OFFSET)
	r, err := d.bp_read8(base + whd.AI_RESETCTRL_OFFSET)
	if err != nil {
		return err
	} else if r&whd.AIRC_RESET != 0 {
		return nil // Already in reset.
	}
	err = d.bp_write8(base+whd.AI_IOCTRL_OFFSET, 0)
	if err != nil {
		return err
	}
	d.bp_read8(base + whd.AI_IOCTRL_OFFSET)
	d.clock.Sleep(time.Millisecond)

	err = d.bp_write8(base+whd.AI_RESETCTRL_OFFSET, whd.AIRC_RESET)
	if err != nil {
		return err
	}
	r, err = d.bp_read8(base + whd.AI_RESETCTRL_OFFSET)
	if err != nil {
		return err
	} else if r&whd.AIRC_RESET == 0 {
		return errCoreDisable
	}
	return nil
}

func (d *Device) core_reset(core whd.Core) error {
	err := d.core_disable(core)
	if err != nil {
		return err
	}
	base := core.Base()
	err = d.bp_write8(base+whd.AI_IOCTRL_OFFSET, whd.SICF_FGC|whd.SICF_CLOCK_EN)
	if err != nil {
		return err
	}
	d.bp_read8(base + whd.AI_IOCTRL_OFFSET)

	err = d.bp_write8(base+whd.AI_RESETCTRL_OFFSET, 0)
	if err != nil {
		return err
	}
	d.clock.Sleep(time.Millisecond)

	err = d.bp_write8(base+whd.AI_IOCTRL_OFFSET, whd.SICF_CLOCK_EN)
	if err != nil {
		return err
	}
	d.bp_read8(base + whd.AI_IOCTRL_OFFSET)
	d.clock.Sleep(time.Millisecond)
	return nil
}

func (d *Device) core_is_up(core whd.Core) (bool, error) {
	base := core.Base()
	reg, err := d.bp_read8(base + whd.AI_IOCTRL_OFFSET)
	if err != nil || reg&(whd.SICF_FGC|whd.SICF_CLOCK_EN) != whd.SICF_CLOCK_EN {
		return false, err
	}
	reg, err = d.bp_read8(base + whd.AI_RESETCTRL_OFFSET)
	return err == nil && reg&whd.AIRC_RESET == 0, err
}

// read32_swapped reads a bus register while the bus is still in its power-on
// 16 bit word mode, where each 32 bit word travels with its halves swapped.
func (d *Device) read32_swapped(addr uint32) (uint32, error) {
	cmd := whd.Cmd{AutoInc: true, Fn: whd.FuncBus, Addr: addr, Size: 4}
	buf := d.rwbuf[:4]
	err := d.cmd_read(swap16(cmd.Word()), buf)
	return swap16(_busOrder.Uint32(buf)), err
}

func (d *Device) write32_swapped(addr, val uint32) error {
	var buf [4]byte
	_busOrder.PutUint32(buf[:], swap16(val))
	cmd := whd.Cmd{Write: true, AutoInc: true, Fn: whd.FuncBus, Addr: addr, Size: 4}
	return d.cmd_write(swap16(cmd.Word()), buf[:])
}

func swap16(v uint32) uint32 { return v<<16 | v>>16 }
