package main

import (
	"testing"

	"github.com/soypat/cywctl/whd"
)

func TestParseWord(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint32
	}{
		{"0x4000a004", 0x4000a004},
		{"FEEDBEAD", 0xfeedbead},
		{"0XA0044000", 0xa0044000},
	} {
		got, err := parseWord(tc.in)
		if err != nil {
			t.Errorf("%s: %s", tc.in, err)
		} else if got != tc.want {
			t.Errorf("%s: got %#x, want %#x", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "0x", "xyz", "0x100000000"} {
		_, err := parseWord(bad)
		if err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
	// The power-on test register read as captured in 16 bit mode.
	w, _ := parseWord("0xa0044000")
	if got := whd.DecodeCmd(swap16(w)); got.Addr != whd.SPI_READ_TEST_REGISTER || got.Size != 4 || got.Write {
		t.Errorf("swapped decode %s", got)
	}
}

func TestEncodeArgs(t *testing.T) {
	cmd, err := encodeArgs([]string{"bp", "0x1000e", "1", "w", "inc"})
	if err != nil {
		t.Fatal(err)
	}
	want := whd.Cmd{Write: true, AutoInc: true, Fn: whd.FuncBackplane, Addr: whd.SDIO_CHIP_CLOCK_CSR, Size: 1}
	if cmd != want {
		t.Fatalf("got %+v, want %+v", cmd, want)
	}
	if whd.DecodeCmd(cmd.Word()) != cmd {
		t.Error("encoded command did not decode back")
	}

	cmd, err = encodeArgs([]string{"bus", "20", "4", "inc"})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Word() != 0x4000a004 {
		t.Errorf("test register read encoded as %#x", cmd.Word())
	}

	for _, args := range [][]string{
		{"bp", "0x1000e"},
		{"dma9", "0", "4"},
		{"wlan", "0x20000", "4"}, // Address wider than 17 bits.
		{"wlan", "0", "2048"},    // Size wider than 11 bits.
		{"wlan", "0", "4", "rw"},
	} {
		_, err := encodeArgs(args)
		if err == nil {
			t.Errorf("%q: expected error", args)
		}
	}
}
