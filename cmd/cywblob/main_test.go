package main

import (
	"strings"
	"testing"
)

func TestReport(t *testing.T) {
	got := report("123456789", 4)
	for _, want := range []string{"(9 bytes)", "chunks=3", "crc16=0x29b1"} {
		if !strings.Contains(got, want) {
			t.Errorf("report %q missing %q", got, want)
		}
	}
}
