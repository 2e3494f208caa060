package sim

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/soypat/cywctl/whd"
)

var le = binary.LittleEndian

// BCME_UNSUPPORTED as reported in the CDC status field.
const statusUnsupported = ^uint32(22)

// Chip models the CYW43 co-processor as seen from its gSPI port. It answers
// bus register, backplane and F2 transactions, runs uploaded firmware only
// when it matches the expected image and services the ioctls used by the
// control path.
type Chip struct {
	mu    sync.Mutex
	cfg   Config
	clock *Clock

	powered   bool
	poweredAt time.Time

	// Transaction in progress while selected.
	selected bool
	nbytes   int
	raw      [4]byte
	cmd      whd.Cmd
	resp     []byte
	wdata    []byte
	word32   bool

	busRegs [0x20]byte
	sdio    map[uint32]byte
	window  uint32
	alpReq  bool
	htReq   bool
	ram     []byte
	regs    map[uint32]byte
	hostErr bool

	ramWrites  int
	fwChecked  bool
	fwOK       bool
	rxq        [][]byte
	txSeq      uint8
	hostSeq    uint8
	vars       map[string]uint32
	gpio       uint32
	pm         uint32
	radioUp    bool
	clm        []byte
	clmStatus  uint32
	clmLoaded  bool
	ioctls     int
	ioctlLog   []string
	powerCycle int
}

func newChip(cfg Config, clk *Clock) *Chip {
	c := &Chip{cfg: cfg, clock: clk, ram: make([]byte, whd.CHIP_RAM_SIZE)}
	c.reset()
	return c
}

// reset returns the chip to its power-on state.
func (c *Chip) reset() {
	c.nbytes = 0
	c.word32 = false
	c.busRegs = [0x20]byte{}
	c.sdio = make(map[uint32]byte)
	c.window = 0
	c.alpReq = false
	c.htReq = false
	clear(c.ram)
	c.regs = map[uint32]byte{
		whd.CoreWLAN.Base() + whd.AI_RESETCTRL_OFFSET:   whd.AIRC_RESET,
		whd.CoreSOCRAM.Base() + whd.AI_RESETCTRL_OFFSET: whd.AIRC_RESET,
	}
	c.putRegs(whd.CHIPCOMMON_BASE_ADDRESS, le.AppendUint16(nil, whd.CHIP_ID_43439))
	c.hostErr = false
	c.ramWrites = 0
	c.fwChecked = false
	c.fwOK = false
	c.rxq = nil
	c.txSeq = 0
	c.hostSeq = 0
	c.vars = make(map[string]uint32)
	c.gpio = 0
	c.pm = 0
	c.radioUp = true
	c.clm = c.clm[:0]
	c.clmStatus = 1
	c.clmLoaded = false
	c.ioctls = 0
	c.ioctlLog = nil
}

func (c *Chip) setPower(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on == c.powered {
		return
	}
	c.powered = on
	if on {
		c.poweredAt = c.clock.Now()
		c.powerCycle++
	} else {
		c.reset()
	}
}

func (c *Chip) setSelect(sel bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sel == c.selected {
		return
	}
	c.selected = sel
	if sel {
		c.nbytes = 0
		c.resp = c.resp[:0]
		c.wdata = c.wdata[:0]
		return
	}
	c.endTransaction()
}

func (c *Chip) ready() bool {
	return c.powered && !c.cfg.NeverReady && c.clock.Now().Sub(c.poweredAt) >= c.cfg.ReadyAfter
}

// exchange clocks one byte in each direction.
func (c *Chip) exchange(out byte) (in byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selected || !c.ready() {
		return 0
	}
	i := c.nbytes
	c.nbytes++
	if i < 4 {
		c.raw[i] = out
		if i == 3 {
			word := le.Uint32(c.raw[:])
			if !c.word32 {
				word = swap16(word)
			}
			c.cmd = whd.DecodeCmd(word)
			if !c.cmd.Write {
				c.prepareRead()
			}
		}
		return 0
	}
	if c.cmd.Write {
		c.wdata = append(c.wdata, out)
		return 0
	}
	if i-4 < len(c.resp) {
		return c.resp[i-4]
	}
	return 0
}

func (c *Chip) prepareRead() {
	size := int(c.cmd.Size)
	switch c.cmd.Fn {
	case whd.FuncBus:
		c.resp = append(c.resp[:0], c.busRead(c.cmd.Addr, size)...)
	case whd.FuncBackplane:
		c.resp = append(c.resp[:0], 0, 0, 0, 0) // Response delay.
		c.resp = append(c.resp, c.backplaneRead(c.cmd.Addr, size)...)
	case whd.FuncWLAN:
		c.resp = c.resp[:0]
		if len(c.rxq) > 0 {
			c.resp = append(c.resp, c.rxq[0]...)
		}
	}
	if !c.word32 {
		swapWords(c.resp)
	}
}

func (c *Chip) endTransaction() {
	if c.nbytes < 4 {
		return
	}
	if !c.cmd.Write {
		if c.cmd.Fn == whd.FuncWLAN && len(c.rxq) > 0 {
			c.rxq = c.rxq[1:]
		}
		return
	}
	data := c.wdata
	if !c.word32 {
		swapWords(data)
	}
	if len(data) > int(c.cmd.Size) {
		data = data[:c.cmd.Size]
	}
	switch c.cmd.Fn {
	case whd.FuncBus:
		c.busWrite(c.cmd.Addr, data)
	case whd.FuncBackplane:
		c.backplaneWrite(c.cmd.Addr, data)
	case whd.FuncWLAN:
		c.f2Write(data)
	}
}

func (c *Chip) busRead(addr uint32, size int) []byte {
	regs := c.busRegs
	le.PutUint32(regs[whd.SPI_STATUS_REGISTER:], c.status())
	le.PutUint16(regs[whd.SPI_INTERRUPT_REGISTER:], 0)
	le.PutUint32(regs[whd.SPI_READ_TEST_REGISTER:], whd.TEST_PATTERN)
	out := make([]byte, size)
	if int(addr) < len(regs) {
		copy(out, regs[addr:])
	}
	return out
}

func (c *Chip) busWrite(addr uint32, data []byte) {
	switch addr {
	case whd.SPI_INTERRUPT_REGISTER, whd.SPI_READ_TEST_REGISTER, whd.SPI_STATUS_REGISTER:
		return // Write-1-to-clear or read only.
	}
	if int(addr) < len(c.busRegs) {
		copy(c.busRegs[addr:], data)
	}
	if addr == whd.SPI_BUS_CONTROL && len(data) > 0 && data[0]&whd.WORD_LENGTH_32 != 0 {
		c.word32 = true
	}
}

// status computes the gSPI status register. Reading it clears a pending
// command data error.
func (c *Chip) status() uint32 {
	var st uint32
	if c.hostErr {
		st |= whd.STATUS_HOST_CMD_DATA_ERR
		c.hostErr = false
	}
	if c.running() {
		st |= whd.STATUS_F2_RX_READY
	}
	if len(c.rxq) > 0 {
		st |= whd.STATUS_F2_PKT_AVAILABLE
		st |= uint32(len(c.rxq[0])) << whd.STATUS_F2_PKT_LEN_SHIFT & whd.STATUS_F2_PKT_LEN_MASK
	}
	return st
}

func (c *Chip) backplaneRead(addr uint32, size int) []byte {
	out := make([]byte, size)
	if addr >= 0x10000 && addr&whd.SBSDIO_SB_ACCESS_2_4B_FLAG == 0 {
		for i := range out {
			out[i] = c.sdioRead(addr + uint32(i))
		}
		return out
	}
	full := c.window + addr&whd.BACKPLANE_ADDR_MASK
	for i := range out {
		out[i] = c.memRead(full + uint32(i))
	}
	return out
}

func (c *Chip) backplaneWrite(addr uint32, data []byte) {
	if addr >= 0x10000 && addr&whd.SBSDIO_SB_ACCESS_2_4B_FLAG == 0 {
		for i, b := range data {
			c.sdioWrite(addr+uint32(i), b)
		}
		return
	}
	full := c.window + addr&whd.BACKPLANE_ADDR_MASK
	if full < whd.CHIP_RAM_SIZE {
		c.ramWrites++
		if c.cfg.FailChunk > 0 && c.ramWrites == c.cfg.FailChunk {
			c.hostErr = true
			return
		}
		c.fwChecked = false
	}
	for i, b := range data {
		c.memWrite(full+uint32(i), b)
	}
}

func (c *Chip) sdioRead(addr uint32) byte {
	switch addr {
	case whd.SDIO_CHIP_CLOCK_CSR:
		v := c.sdio[addr]
		if c.alpReq {
			v |= whd.SBSDIO_ALP_AVAIL
		}
		if c.running() {
			v |= whd.SBSDIO_HT_AVAIL
		}
		return v
	case whd.SDIO_BACKPLANE_ADDRESS_LOW:
		return byte(c.window >> 8)
	case whd.SDIO_BACKPLANE_ADDRESS_MID:
		return byte(c.window >> 16)
	case whd.SDIO_BACKPLANE_ADDRESS_HIGH:
		return byte(c.window >> 24)
	}
	return c.sdio[addr]
}

func (c *Chip) sdioWrite(addr uint32, v byte) {
	switch addr {
	case whd.SDIO_CHIP_CLOCK_CSR:
		if v&whd.SBSDIO_ALP_AVAIL_REQ != 0 {
			c.alpReq = true
		}
		if v&whd.SBSDIO_HT_AVAIL_REQ != 0 {
			c.htReq = true
		}
		c.sdio[addr] = v &^ (whd.SBSDIO_ALP_AVAIL | whd.SBSDIO_HT_AVAIL)
	case whd.SDIO_BACKPLANE_ADDRESS_LOW:
		c.window = c.window&^0x0000ff00 | uint32(v)<<8
	case whd.SDIO_BACKPLANE_ADDRESS_MID:
		c.window = c.window&^0x00ff0000 | uint32(v)<<16
	case whd.SDIO_BACKPLANE_ADDRESS_HIGH:
		c.window = c.window&^0xff000000 | uint32(v)<<24
	default:
		c.sdio[addr] = v
	}
}

func (c *Chip) memRead(addr uint32) byte {
	if addr < whd.CHIP_RAM_SIZE {
		return c.ram[addr]
	}
	return c.regs[addr]
}

func (c *Chip) memWrite(addr uint32, v byte) {
	if addr < whd.CHIP_RAM_SIZE {
		c.ram[addr] = v
		return
	}
	c.regs[addr] = v
}

func (c *Chip) putRegs(addr uint32, b []byte) {
	for i, v := range b {
		c.regs[addr+uint32(i)] = v
	}
}

func (c *Chip) coreUp(core whd.Core) bool {
	base := core.Base()
	ioctrl := c.regs[base+whd.AI_IOCTRL_OFFSET]
	return ioctrl&(whd.SICF_FGC|whd.SICF_CLOCK_EN) == whd.SICF_CLOCK_EN &&
		c.regs[base+whd.AI_RESETCTRL_OFFSET]&whd.AIRC_RESET == 0
}

// running reports whether firmware is executing: the WLAN core is out of
// reset and RAM holds the expected image.
func (c *Chip) running() bool {
	if !c.coreUp(whd.CoreWLAN) {
		return false
	}
	if !c.fwChecked {
		fw := c.cfg.Firmware
		c.fwOK = len(fw) <= len(c.ram) && string(c.ram[:len(fw)]) == fw
		c.fwChecked = true
	}
	return c.fwOK
}

func (c *Chip) f2Write(packet []byte) {
	if !c.running() || len(packet) < whd.SDPCM_HEADER_LEN {
		c.hostErr = true
		return
	}
	hdr := whd.DecodeSDPCMHeader(packet)
	payload, err := hdr.Parse(packet)
	if err != nil || hdr.Type() != whd.SDPCMControl || len(payload) < whd.CDC_HEADER_LEN {
		c.hostErr = true
		return
	}
	c.hostSeq = hdr.Seq + 1
	cdc := whd.DecodeCDCHeader(payload)
	data, err := cdc.Parse(payload)
	if err != nil {
		c.hostErr = true
		return
	}
	c.ioctls++
	c.ioctlLog = append(c.ioctlLog, describeIoctl(cdc.Cmd, data))
	resp, status := c.ioctl(cdc, data)
	c.respond(cdc, resp, status)
}

func (c *Chip) ioctl(cdc whd.CDCHeader, data []byte) (resp []byte, status uint32) {
	switch cdc.Cmd {
	case whd.WLC_UP:
		c.radioUp = true
	case whd.WLC_DOWN:
		c.radioUp = false
	case whd.WLC_SET_PM:
		if len(data) < 4 {
			return nil, statusUnsupported
		}
		c.pm = le.Uint32(data)
	case whd.WLC_GET_PM:
		return le.AppendUint32(nil, c.pm), 0
	case whd.WLC_SET_VAR:
		name, val, ok := whd.SplitIovar(data)
		if !ok {
			return nil, statusUnsupported
		}
		return nil, c.setVar(name, val)
	case whd.WLC_GET_VAR:
		name, _, ok := whd.SplitIovar(data)
		if !ok {
			return nil, statusUnsupported
		}
		v, status := c.getVar(name)
		resp = make([]byte, max(len(data), 4))
		le.PutUint32(resp, v)
		return resp, status
	default:
		return nil, statusUnsupported
	}
	return nil, 0
}

func (c *Chip) setVar(name string, val []byte) uint32 {
	switch name {
	case "clmload":
		if len(val) < whd.DOWNLOAD_HEADER_LEN {
			return statusUnsupported
		}
		dh := whd.DecodeDownloadHeader(val)
		chunk := val[whd.DOWNLOAD_HEADER_LEN:]
		if dh.Type != whd.DOWNLOAD_TYPE_CLM || int(dh.Len) > len(chunk) {
			return statusUnsupported
		}
		if dh.Flags&whd.DOWNLOAD_FLAG_BEGIN != 0 {
			c.clm = c.clm[:0]
		}
		c.clm = append(c.clm, chunk[:dh.Len]...)
		if dh.Flags&whd.DOWNLOAD_FLAG_END != 0 {
			c.clmLoaded = c.cfg.CLM == "" || string(c.clm) == c.cfg.CLM
			c.clmStatus = 0
			if !c.clmLoaded {
				c.clmStatus = 1
			}
		}
		return 0
	case "gpioout":
		if len(val) < 8 {
			return statusUnsupported
		}
		mask := le.Uint32(val)
		c.gpio = c.gpio&^mask | le.Uint32(val[4:])&mask
		return 0
	}
	if len(val) < 4 {
		return statusUnsupported
	}
	c.vars[name] = le.Uint32(val)
	return 0
}

func (c *Chip) getVar(name string) (uint32, uint32) {
	switch name {
	case "clmload_status":
		return c.clmStatus, 0
	case "ccgpioin":
		return c.gpio, 0
	}
	v, ok := c.vars[name]
	if !ok {
		return 0, statusUnsupported
	}
	return v, 0
}

// respond queues a control packet answering cdc.
func (c *Chip) respond(cdc whd.CDCHeader, data []byte, status uint32) {
	size := whd.SDPCM_HEADER_LEN + whd.CDC_HEADER_LEN + len(data)
	pkt := make([]byte, size)
	hdr := whd.SDPCMHeader{
		Size:          uint16(size),
		SizeCom:       ^uint16(size),
		Seq:           c.txSeq,
		ChanAndFlags:  whd.CONTROL_HEADER,
		HeaderLength:  whd.SDPCM_HEADER_LEN,
		BusDataCredit: c.hostSeq + 8,
	}
	c.txSeq++
	hdr.Put(pkt)
	cdc.Length = uint32(len(data))
	cdc.Status = status
	cdc.Put(pkt[whd.SDPCM_HEADER_LEN:])
	copy(pkt[whd.SDPCM_HEADER_LEN+whd.CDC_HEADER_LEN:], data)
	c.rxq = append(c.rxq, pkt)
}

func swap16(v uint32) uint32 { return v<<16 | v>>16 }

// swapWords swaps the 16 bit halves of every whole 32 bit word in b.
func swapWords(b []byte) {
	for i := 0; i+4 <= len(b); i += 4 {
		le.PutUint32(b[i:], swap16(le.Uint32(b[i:])))
	}
}

// GPIO returns the co-processor GPIO output levels.
func (c *Chip) GPIO() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gpio
}

// PM returns the last WLC_SET_PM value.
func (c *Chip) PM() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pm
}

// RadioUp reports whether the interface is up.
func (c *Chip) RadioUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.radioUp
}

// Var returns an iovar stored by the host.
func (c *Chip) Var(name string) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vars[name]
	return v, ok
}

// Running reports whether firmware is executing.
func (c *Chip) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running()
}

// CLMLoaded reports whether a CLM matching the expected blob was loaded.
func (c *Chip) CLMLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clmLoaded
}

// Powered reports the level of the power enable line.
func (c *Chip) Powered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powered
}

// PowerCycles counts power-on edges.
func (c *Chip) PowerCycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerCycle
}

// Ioctls counts ioctls received since power up.
func (c *Chip) Ioctls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ioctls
}

// IoctlLog returns the ioctls received since power up in arrival order, i.e:
// "set_var gpioout 0x1 0x1", "set_pm 2", "get_var ccgpioin".
func (c *Chip) IoctlLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ioctlLog...)
}

func describeIoctl(cmd whd.SDPCMCommand, data []byte) string {
	switch cmd {
	case whd.WLC_SET_PM:
		if len(data) >= 4 {
			return fmt.Sprintf("%s %d", cmd, le.Uint32(data))
		}
	case whd.WLC_SET_VAR, whd.WLC_GET_VAR:
		name, val, ok := whd.SplitIovar(data)
		if !ok {
			break
		}
		if cmd == whd.WLC_SET_VAR && name == "gpioout" && len(val) >= 8 {
			return fmt.Sprintf("%s %s %#x %#x", cmd, name, le.Uint32(val), le.Uint32(val[4:]))
		}
		return cmd.String() + " " + name
	}
	return cmd.String()
}

// RAM returns a copy of n bytes of chip RAM at addr.
func (c *Chip) RAM(addr, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.ram[addr:addr+n]...)
}
