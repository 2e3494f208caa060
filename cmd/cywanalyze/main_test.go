package main

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/soypat/cywctl/whd"
)

func rawTx(word32 bool, cmd whd.Cmd, data []byte) []byte {
	w := cmd.Word()
	data = append([]byte{}, data...)
	if !word32 {
		w = swap16(w)
		for i := 0; i+4 <= len(data); i += 4 {
			binary.LittleEndian.PutUint32(data[i:], swap16(binary.LittleEndian.Uint32(data[i:])))
		}
	}
	return append(binary.LittleEndian.AppendUint32(nil, w), data...)
}

func TestDecodeBringup(t *testing.T) {
	var dec decoder
	testReg := whd.Cmd{AutoInc: true, Fn: whd.FuncBus, Addr: whd.SPI_READ_TEST_REGISTER, Size: 4}
	pattern := binary.LittleEndian.AppendUint32(nil, whd.TEST_PATTERN)

	tx := dec.decode(rawTx(false, testReg, pattern))
	if tx.Cmd != testReg || tx.Note != "test pattern ok" {
		t.Fatalf("swapped test read: %+v", tx)
	}
	setup := whd.Cmd{Write: true, AutoInc: true, Fn: whd.FuncBus, Addr: whd.SPI_BUS_CONTROL, Size: 4}
	tx = dec.decode(rawTx(false, setup, binary.LittleEndian.AppendUint32(nil, whd.SETUP_WORD)))
	if !tx.modeChange || !dec.word32 {
		t.Fatalf("setup word not detected: %+v", tx)
	}
	tx = dec.decode(rawTx(true, testReg, pattern))
	if tx.Note != "test pattern ok" {
		t.Fatalf("32 bit test read: %+v", tx)
	}

	for _, w := range []struct {
		addr uint32
		v    byte
	}{
		{whd.SDIO_BACKPLANE_ADDRESS_HIGH, 0x18},
		{whd.SDIO_BACKPLANE_ADDRESS_MID, 0x10},
		{whd.SDIO_BACKPLANE_ADDRESS_LOW, 0x00},
	} {
		cmd := whd.Cmd{Write: true, AutoInc: true, Fn: whd.FuncBackplane, Addr: w.addr, Size: 1}
		dec.decode(rawTx(true, cmd, []byte{w.v, 0, 0, 0}))
	}
	if dec.window != 0x18100000 {
		t.Fatalf("window=%#x", dec.window)
	}
	rd := whd.Cmd{AutoInc: true, Fn: whd.FuncBackplane, Addr: 0x3408, Size: 1}
	tx = dec.decode(rawTx(true, rd, []byte{0, 0, 0, 0, 1, 0, 0, 0}))
	if tx.Note != "core 0x18103408" || len(tx.Data) != 1 || tx.Data[0] != 1 {
		t.Fatalf("backplane read: %+v", tx)
	}
}

func TestDecodeIoctl(t *testing.T) {
	dec := decoder{word32: true}
	iovar := append([]byte("gpioout\x00"), 1, 0, 0, 0, 1, 0, 0, 0)
	size := whd.SDPCM_HEADER_LEN + whd.CDC_HEADER_LEN + len(iovar)
	pkt := make([]byte, size)
	hdr := whd.SDPCMHeader{Size: uint16(size), SizeCom: ^uint16(size), HeaderLength: whd.SDPCM_HEADER_LEN}
	hdr.Put(pkt)
	cdc := whd.CDCHeader{Cmd: whd.WLC_SET_VAR, Length: uint32(len(iovar)), Flags: whd.SDPCM_SET, ID: 7}
	cdc.Put(pkt[whd.SDPCM_HEADER_LEN:])
	copy(pkt[whd.SDPCM_HEADER_LEN+whd.CDC_HEADER_LEN:], iovar)

	cmd := whd.Cmd{Write: true, AutoInc: true, Fn: whd.FuncWLAN, Size: uint32(size)}
	tx := dec.decode(rawTx(true, cmd, pkt))
	if !tx.Ioctl {
		t.Fatalf("not decoded as ioctl: %+v", tx)
	}
	for _, want := range []string{"id=7", "set", "gpioout"} {
		if !strings.Contains(tx.Note, want) {
			t.Errorf("note %q missing %q", tx.Note, want)
		}
	}
}

func TestDecodeAllCollapse(t *testing.T) {
	status := whd.Cmd{AutoInc: true, Fn: whd.FuncBus, Addr: whd.SPI_STATUS_REGISTER, Size: 4}
	st := rawTx(true, status, make([]byte, 4))
	raw := [][]byte{
		rawTx(false, whd.Cmd{Write: true, AutoInc: true, Fn: whd.FuncBus, Addr: whd.SPI_BUS_CONTROL, Size: 4},
			binary.LittleEndian.AppendUint32(nil, whd.SETUP_WORD)),
		st, st, st,
	}
	var out strings.Builder
	sum, err := decodeAll(&out, raw, nil, options{Collapse: true})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Transactions != 4 {
		t.Errorf("transactions=%d", sum.Transactions)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got:\n%s", out.String())
	}
	if !strings.Contains(lines[1], "x3") {
		t.Errorf("status reads not collapsed: %s", lines[1])
	}
}
