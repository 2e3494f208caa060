package main

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soypat/cywctl"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func smallConfig() config {
	cfg := defaultConfig()
	cfg.Boot.FirmwareSize = "16KB"
	cfg.Boot.CLMSize = "2KB"
	return cfg
}

func TestRunDefaultScript(t *testing.T) {
	var buf bytes.Buffer
	err := run(&buf, smallConfig(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"boot ready", "power mode powersave", "gpio 0 blinked 3 times", "bus transfers="} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunScript(t *testing.T) {
	cfg := smallConfig()
	cfg.Script = `
# Comments and blank lines are skipped.
boot
gpio set 1 on
gpio get 1
sleep 2s
state
stop
gpio set 9 on
`
	var buf bytes.Buffer
	sh, err := newShell(&buf, cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.close()
	err = sh.runScript(cfg.Script)
	if err != nil {
		t.Fatal(err)
	}
	if sh.board.Chip.GPIO() != 0b10 {
		t.Errorf("chip gpio=%#b", sh.board.Chip.GPIO())
	}
	if got := sh.board.Clock.Now().Sub(sh.start); got < 2*time.Second {
		t.Errorf("sleep did not advance clock: %s", got)
	}
	if !strings.Contains(buf.String(), "gpio 1 is true") {
		t.Errorf("output:\n%s", buf.String())
	}
}

func TestRunScriptErrors(t *testing.T) {
	for _, script := range []string{
		"frobnicate",
		"gpio set 0 on",        // Not booted.
		"boot\ngpio set 3 on",  // Invalid pin.
		"boot\npower turbo",    // Bad mode.
		"gpio set 0 'unclosed", // Tokenizer error.
		"sleep",
	} {
		cfg := smallConfig()
		cfg.Script = script
		err := run(&bytes.Buffer{}, cfg, testLogger)
		if err == nil {
			t.Errorf("script %q: expected error", script)
		}
	}
	cfg := smallConfig()
	cfg.Script = "gpio set 0 on"
	err := run(&bytes.Buffer{}, cfg, testLogger)
	if !errors.Is(err, cywctl.ErrNotReady) {
		t.Errorf("want ErrNotReady, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	const doc = `
bus:
  clock_divider: 2
  offload: true
  pins: {clock: 2, data_in: 3, data_out: 3, chip_select: 4, power: 5}
chip:
  ready_after: 300ms
boot:
  firmware_size: 8KB
  clm_size: 1KB
  verify: true
script: |
  boot
  gpio set 0 on
`
	path := filepath.Join(t.TempDir(), "sim.yaml")
	err := os.WriteFile(path, []byte(doc), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chip.ReadyAfter != 300*time.Millisecond {
		t.Errorf("ready_after=%s", cfg.Chip.ReadyAfter)
	}
	if cfg.pins().ChipSelect != 4 || !cfg.Bus.Offload || cfg.Bus.ClockDivider != 2 {
		t.Errorf("bus config %+v", cfg.busConfig())
	}
	err = run(&bytes.Buffer{}, cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}

	err = os.WriteFile(path, []byte("bus:\n  bogus: 1\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, err = loadConfig(path)
	if err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestImage(t *testing.T) {
	img, err := image("", "1KB", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != 1024 {
		t.Errorf("len=%d", len(img))
	}
	_, err = image("", "1GB", 0)
	if err == nil {
		t.Error("expected error for oversized image")
	}
}
