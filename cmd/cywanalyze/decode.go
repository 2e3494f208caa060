package main

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/cywctl/whd"
)

// decoder follows bus state across transactions: the 16 bit word mode in
// effect after power up and the backplane window.
type decoder struct {
	word32 bool
	window uint32
}

type transaction struct {
	Cmd  whd.Cmd
	Data []byte
	Note string
	// Ioctl is set for F2 control packets.
	Ioctl      bool
	modeChange bool
}

func swap16(v uint32) uint32 { return v<<16 | v>>16 }

func (d *decoder) decode(raw []byte) (tx transaction) {
	if len(raw) < 4 {
		tx.Note = "short transaction"
		tx.Data = raw
		return tx
	}
	word := binary.LittleEndian.Uint32(raw)
	data := append([]byte{}, raw[4:]...)
	if !d.word32 {
		word = swap16(word)
		for i := 0; i+4 <= len(data); i += 4 {
			binary.LittleEndian.PutUint32(data[i:], swap16(binary.LittleEndian.Uint32(data[i:])))
		}
	}
	tx.Cmd = whd.DecodeCmd(word)
	if tx.Cmd.Fn == whd.FuncBackplane && !tx.Cmd.Write && len(data) >= 4 {
		data = data[4:] // Response delay.
	}
	if uint32(len(data)) > tx.Cmd.Size {
		data = data[:tx.Cmd.Size]
	}
	tx.Data = data
	switch tx.Cmd.Fn {
	case whd.FuncBus:
		d.bus(&tx)
	case whd.FuncBackplane:
		d.backplane(&tx)
	case whd.FuncWLAN:
		d.wlan(&tx)
	}
	return tx
}

func (d *decoder) bus(tx *transaction) {
	switch tx.Cmd.Addr {
	case whd.SPI_BUS_CONTROL:
		if tx.Cmd.Write && len(tx.Data) > 0 && tx.Data[0]&whd.WORD_LENGTH_32 != 0 && !d.word32 {
			d.word32 = true
			tx.modeChange = true
			tx.Note = "bus setup, 32 bit words"
		}
	case whd.SPI_READ_TEST_REGISTER:
		if len(tx.Data) == 4 && binary.LittleEndian.Uint32(tx.Data) == whd.TEST_PATTERN {
			tx.Note = "test pattern ok"
		} else {
			tx.Note = "test pattern"
		}
	case whd.SPI_STATUS_REGISTER:
		tx.Note = "status"
	case whd.SPI_INTERRUPT_REGISTER:
		tx.Note = "interrupts"
	}
}

func (d *decoder) backplane(tx *transaction) {
	addr := tx.Cmd.Addr
	if tx.Cmd.Write && len(tx.Data) > 0 {
		v := uint32(tx.Data[0])
		switch addr {
		case whd.SDIO_BACKPLANE_ADDRESS_LOW:
			d.window = d.window&^0x0000ff00 | v<<8
			tx.Note = fmt.Sprintf("window=%#08x", d.window)
			return
		case whd.SDIO_BACKPLANE_ADDRESS_MID:
			d.window = d.window&^0x00ff0000 | v<<16
			tx.Note = fmt.Sprintf("window=%#08x", d.window)
			return
		case whd.SDIO_BACKPLANE_ADDRESS_HIGH:
			d.window = d.window&^0xff000000 | v<<24
			tx.Note = fmt.Sprintf("window=%#08x", d.window)
			return
		}
	}
	switch addr {
	case whd.SDIO_CHIP_CLOCK_CSR:
		tx.Note = "clock csr"
		return
	case whd.SDIO_FUNCTION2_WATERMARK:
		tx.Note = "f2 watermark"
		return
	case whd.SDIO_PULL_UP:
		tx.Note = "pull up"
		return
	}
	if addr < 0x10000 {
		full := d.window + addr&whd.BACKPLANE_ADDR_MASK
		if full < whd.CHIP_RAM_SIZE {
			tx.Note = fmt.Sprintf("ram %#05x", full)
		} else {
			tx.Note = fmt.Sprintf("core %#08x", full)
		}
	}
}

func (d *decoder) wlan(tx *transaction) {
	pkt := tx.Data
	if len(pkt) < whd.SDPCM_HEADER_LEN {
		return
	}
	hdr := whd.DecodeSDPCMHeader(pkt)
	payload, err := hdr.Parse(pkt)
	if err != nil {
		tx.Note = "sdpcm: " + err.Error()
		return
	}
	if hdr.Type() != whd.SDPCMControl || len(payload) < whd.CDC_HEADER_LEN {
		tx.Note = "sdpcm " + hdr.Type().String()
		return
	}
	tx.Ioctl = true
	cdc := whd.DecodeCDCHeader(payload)
	data, _ := cdc.Parse(payload)
	kind := "get"
	if cdc.Kind() == whd.SDPCM_SET {
		kind = "set"
	}
	tx.Note = fmt.Sprintf("ioctl id=%d %s %s", cdc.ID, kind, cdc.Cmd.String())
	if cdc.Cmd == whd.WLC_SET_VAR || cdc.Cmd == whd.WLC_GET_VAR {
		if name, _, ok := whd.SplitIovar(data); ok && tx.Cmd.Write {
			tx.Note += " " + name
		}
	}
	if !tx.Cmd.Write && cdc.Status != 0 {
		tx.Note += fmt.Sprintf(" status=%d", int32(cdc.Status))
	}
}
