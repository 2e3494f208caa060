package cywctl

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/soypat/cywctl/whd"
)

var (
	errIOVarTooLarge     = errors.New("iovar too large")
	errIoctlDataTooLarge = errors.New("ioctl data too large")
	errRxIoctlStatus     = errors.New("non-zero ioctl status")
	errNoF2Avail         = errors.New("no packet available")
	errShortPacket       = errors.New("packet too short")
)

type ioctlKind uint8

const (
	ioctlGET ioctlKind = whd.SDPCM_GET
	ioctlSET ioctlKind = whd.SDPCM_SET
)

// update_credit refreshes the transmit window from a received header.
func (d *Device) update_credit(hdr *whd.SDPCMHeader) {
	switch hdr.Type() {
	case whd.SDPCMControl, whd.SDPCMEvent, whd.SDPCMData:
		max := hdr.BusDataCredit
		if (max - d.sdpcmSeq) > 0x40 {
			max = d.sdpcmSeq + 2
		}
		d.sdpcmSeqMax = max
	}
}

func (d *Device) has_credit() bool {
	return d.sdpcmSeq != d.sdpcmSeqMax && (d.sdpcmSeqMax-d.sdpcmSeq)&0x80 == 0
}

// waitForCredit polls for packets until the firmware grants credit for the
// next transmission.
func (d *Device) waitForCredit() error {
	if d.has_credit() {
		return nil
	}
	return d.ioctl.wait(d.clock, ErrTimeout, func() (bool, error) {
		_, _, err := d.tryPoll()
		if err != nil && err != errNoF2Avail {
			return false, err
		}
		return d.has_credit(), nil
	})
}

func (d *Device) get_iovar(VAR string, iface whd.IoctlInterface) (uint32, error) {
	var res [4]byte
	_, err := d.get_iovar_n(VAR, iface, res[:])
	return _busOrder.Uint32(res[:]), err
}

// get_iovar_n reads the variable VAR into res and returns the length of the
// response.
func (d *Device) get_iovar_n(VAR string, iface whd.IoctlInterface, res []byte) (plen int, err error) {
	buf := d._iovarBuf[:]
	if len(VAR)+1 > len(buf) || len(res) > len(buf) {
		return 0, errIOVarTooLarge
	}
	length := copy(buf, VAR)
	buf[length] = 0
	length++
	totalLen := max(length, len(res))
	clear(buf[length:totalLen])
	d.trace("get_iovar_n", slog.String("var", VAR), slog.Int("reslen", totalLen))
	packet, err := d.sendIoctlWait(ioctlGET, whd.WLC_GET_VAR, iface, buf[:totalLen])
	if err != nil {
		return 0, err
	}
	plen = copy(res, packet)
	return plen, nil
}

func (d *Device) set_ioctl(cmd whd.SDPCMCommand, iface whd.IoctlInterface, val uint32) error {
	var buf [4]byte
	_busOrder.PutUint32(buf[:], val)
	_, err := d.sendIoctlWait(ioctlSET, cmd, iface, buf[:])
	return err
}

func (d *Device) set_iovar(VAR string, iface whd.IoctlInterface, val uint32) error {
	var buf [4]byte
	_busOrder.PutUint32(buf[:], val)
	return d.set_iovar_n(VAR, iface, buf[:])
}

func (d *Device) set_iovar2(VAR string, iface whd.IoctlInterface, val0, val1 uint32) error {
	var buf [8]byte
	_busOrder.PutUint32(buf[:4], val0)
	_busOrder.PutUint32(buf[4:], val1)
	return d.set_iovar_n(VAR, iface, buf[:])
}

func (d *Device) set_iovar_n(VAR string, iface whd.IoctlInterface, val []byte) error {
	d.trace("set_iovar", slog.String("var", VAR))
	buf := d._iovarBuf[:]
	if len(val)+1+len(VAR) > len(buf) {
		return errIOVarTooLarge
	}
	length := copy(buf, VAR)
	buf[length] = 0
	length++
	length += copy(buf[length:], val)
	_, err := d.sendIoctlWait(ioctlSET, whd.WLC_SET_VAR, iface, buf[:length])
	return err
}

// sendIoctlWait sends an ioctl and waits for the matching response. The
// returned payload aliases the device receive buffer.
func (d *Device) sendIoctlWait(kind ioctlKind, cmd whd.SDPCMCommand, iface whd.IoctlInterface, data []byte) ([]byte, error) {
	err := d.waitForCredit()
	if err != nil {
		return nil, err
	}
	err = d.sendIoctl(kind, cmd, iface, data)
	if err != nil {
		return nil, err
	}
	packet, err := d.pollForIoctl()
	if err != nil {
		d.logerr("sendIoctlWait:poll", slog.String("cmd", cmd.String()), slog.String("err", err.Error()))
	}
	return packet, err
}

// sendIoctl sends a SDPCM+CDC ioctl command to the device with data.
func (d *Device) sendIoctl(kind ioctlKind, cmd whd.SDPCMCommand, iface whd.IoctlInterface, data []byte) error {
	buf := d._sendIoctlBuf[:]
	totalLen := uint32(whd.SDPCM_HEADER_LEN + whd.CDC_HEADER_LEN + len(data))
	if int(align(totalLen, 4)) > len(buf) {
		return errIoctlDataTooLarge
	}
	if d.logenabled(slog.LevelDebug) {
		d.debug("sendIoctl", slog.Int("kind", int(kind)), slog.String("cmd", cmd.String()), slog.Int("len", len(data)))
	}
	seq := d.sdpcmSeq
	d.sdpcmSeq++
	d.ioctlID++

	d.lastSDPCMHeader = whd.SDPCMHeader{
		Size:         uint16(totalLen),
		SizeCom:      ^uint16(totalLen),
		Seq:          seq,
		ChanAndFlags: whd.CONTROL_HEADER,
		HeaderLength: whd.SDPCM_HEADER_LEN,
	}
	d.lastSDPCMHeader.Put(buf[:whd.SDPCM_HEADER_LEN])

	d.auxCDCHeader = whd.CDCHeader{
		Cmd:    cmd,
		Length: uint32(len(data)),
		Flags:  uint16(kind) | uint16(iface)<<whd.CDCF_IOC_IF_SHIFT,
		ID:     d.ioctlID,
	}
	d.auxCDCHeader.Put(buf[whd.SDPCM_HEADER_LEN:])
	n := whd.SDPCM_HEADER_LEN + whd.CDC_HEADER_LEN
	n += copy(buf[n:], data)
	clear(buf[n:align(totalLen, 4)])
	return d.wlan_write(buf, totalLen)
}

// pollForIoctl polls until the response to the last ioctl arrives.
func (d *Device) pollForIoctl() (packet []byte, err error) {
	err = d.ioctl.wait(d.clock, ErrTimeout, func() (bool, error) {
		payload, hdr, err := d.tryPoll()
		if err == errNoF2Avail {
			return false, nil
		} else if err != nil {
			return false, err
		}
		if hdr == whd.SDPCMControl && d.auxCDCHeader.ID == d.ioctlID {
			packet = payload
			return true, nil
		}
		return false, nil
	})
	return packet, err
}

// f2PacketAvail checks if a packet is available, and if so, returns
// the packet length.
func (d *Device) f2PacketAvail() (bool, uint16, error) {
	status, err := d.status()
	if err != nil {
		return false, 0, err
	}
	if status.F2PacketAvailable() {
		return true, status.F2PacketLength(), nil
	}
	irq, err := d.interrupts()
	if err == nil && irq.IsDataUnavailable() {
		d.warn("irq data unavail, clearing")
		err = d.write16(whd.FuncBus, whd.SPI_INTERRUPT_REGISTER, whd.DATA_UNAVAILABLE)
	}
	return false, 0, err
}

// tryPoll reads a single SDPCM packet if one is available. It returns
// errNoF2Avail otherwise.
func (d *Device) tryPoll() ([]byte, whd.SDPCMHeaderType, error) {
	const noPacket = whd.SDPCMHeaderType(0xff)
	avail, length, err := d.f2PacketAvail()
	if err != nil {
		return nil, noPacket, err
	} else if !avail {
		return nil, noPacket, errNoF2Avail
	}
	err = d.wlan_read(d._rxBuf[:], uint32(length))
	if err != nil {
		return nil, noPacket, err
	}
	return d.rx(d._rxBuf[:length])
}

func (d *Device) rx(packet []byte) ([]byte, whd.SDPCMHeaderType, error) {
	const noPacket = whd.SDPCMHeaderType(0xff)
	if len(packet) < whd.SDPCM_HEADER_LEN {
		return nil, noPacket, errShortPacket
	}
	d.lastSDPCMHeader = whd.DecodeSDPCMHeader(packet)
	hdrType := d.lastSDPCMHeader.Type()
	payload, err := d.lastSDPCMHeader.Parse(packet)
	if err != nil {
		return nil, noPacket, err
	}
	d.update_credit(&d.lastSDPCMHeader)
	if hdrType != whd.SDPCMControl {
		// Events and data frames are not consumed by the control path.
		d.debug("rx:drop", slog.String("hdr", hdrType.String()), slog.Int("len", len(packet)))
		return nil, hdrType, nil
	}
	payload, err = d.rxControl(payload)
	return payload, hdrType, err
}

func (d *Device) rxControl(packet []byte) ([]byte, error) {
	if len(packet) < whd.CDC_HEADER_LEN {
		return nil, errShortPacket
	}
	d.auxCDCHeader = whd.DecodeCDCHeader(packet)
	if d.isTraceEnabled() {
		d.trace("rxControl",
			slog.Int("len", len(packet)),
			slog.Int("id", int(d.auxCDCHeader.ID)),
			slog.Int("cdc.Len", int(d.auxCDCHeader.Length)),
		)
	}
	if d.auxCDCHeader.ID == d.ioctlID && d.auxCDCHeader.Status != 0 {
		d.logerr("rxControl:ioctlerror", slog.Uint64("status", uint64(d.auxCDCHeader.Status)))
		return nil, errjoin(errRxIoctlStatus, errors.New("status "+strconv.Itoa(int(int32(d.auxCDCHeader.Status)))))
	}
	return d.auxCDCHeader.Parse(packet)
}
