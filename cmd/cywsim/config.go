package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/soypat/cywctl"
	"github.com/soypat/cywctl/internal/blob"
	"github.com/soypat/cywctl/internal/sim"
	"gopkg.in/yaml.v2"
)

// config is the on-disk simulation description.
type config struct {
	Bus struct {
		ClockDivider uint32 `yaml:"clock_divider"`
		Pins         *struct {
			Clock      uint8 `yaml:"clock"`
			DataIn     uint8 `yaml:"data_in"`
			DataOut    uint8 `yaml:"data_out"`
			ChipSelect uint8 `yaml:"chip_select"`
			Power      uint8 `yaml:"power"`
		} `yaml:"pins"`
		Attempts int  `yaml:"attempts"`
		Offload  bool `yaml:"offload"`
	} `yaml:"bus"`

	Chip struct {
		ReadyAfter time.Duration `yaml:"ready_after"`
		NeverReady bool          `yaml:"never_ready"`
		FailChunk  int           `yaml:"fail_chunk"`
		FIFODepth  int           `yaml:"fifo_depth"`
	} `yaml:"chip"`

	Boot struct {
		// Firmware and CLM are image paths. When empty an image of
		// FirmwareSize or CLMSize is synthesized.
		Firmware     string        `yaml:"firmware"`
		CLM          string        `yaml:"clm"`
		NVRAM        string        `yaml:"nvram"`
		FirmwareSize string        `yaml:"firmware_size"`
		CLMSize      string        `yaml:"clm_size"`
		ChunkSize    int           `yaml:"chunk_size"`
		Verify       bool          `yaml:"verify"`
		PowerSettle  time.Duration `yaml:"power_settle"`
		ReadyPolls   int           `yaml:"ready_polls"`
	} `yaml:"boot"`

	// Script holds commands run after setup, one per line.
	Script string `yaml:"script"`
}

func defaultConfig() config {
	var cfg config
	cfg.Bus.ClockDivider = cywctl.PicoWClockDivider
	cfg.Boot.FirmwareSize = "224KB"
	cfg.Boot.CLMSize = "984B"
	cfg.Boot.ChunkSize = 64
	cfg.Script = "boot\npower powersave\nblink 0 3 500ms\nstats\n"
	return cfg
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.UnmarshalStrict(data, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (cfg config) pins() cywctl.Pins {
	if cfg.Bus.Pins == nil {
		return cywctl.PicoWPins
	}
	p := cfg.Bus.Pins
	return cywctl.Pins{
		Clock:      cywctl.Pin(p.Clock),
		DataIn:     cywctl.Pin(p.DataIn),
		DataOut:    cywctl.Pin(p.DataOut),
		ChipSelect: cywctl.Pin(p.ChipSelect),
		Power:      cywctl.Pin(p.Power),
	}
}

func (cfg config) busConfig() cywctl.BusConfig {
	return cywctl.BusConfig{
		ClockDivider: cfg.Bus.ClockDivider,
		Pins:         cfg.pins(),
		Program:      cywctl.SPIProgram,
		Attempts:     cfg.Bus.Attempts,
		Offload:      cfg.Bus.Offload,
	}
}

func (cfg config) simConfig(fw, clm string) sim.Config {
	return sim.Config{
		Pins:       cfg.pins(),
		Firmware:   fw,
		CLM:        clm,
		ReadyAfter: cfg.Chip.ReadyAfter,
		NeverReady: cfg.Chip.NeverReady,
		FailChunk:  cfg.Chip.FailChunk,
		FIFODepth:  cfg.Chip.FIFODepth,
	}
}

func (cfg config) bootConfig(fw, clm, nvram string) cywctl.BootConfig {
	bc := cywctl.DefaultBootConfig(fw, clm)
	bc.NVRAM = nvram
	bc.Verify = cfg.Boot.Verify
	if cfg.Boot.ChunkSize > 0 {
		bc.ChunkSize = cfg.Boot.ChunkSize
	}
	if cfg.Boot.PowerSettle > 0 {
		bc.PowerSettle = cfg.Boot.PowerSettle
	}
	if cfg.Boot.ReadyPolls > 0 {
		bc.Ready.Attempts = cfg.Boot.ReadyPolls
	}
	return bc
}

// images loads or synthesizes the firmware, CLM and NVRAM images.
func (cfg config) images() (fw, clm, nvram string, err error) {
	fw, err = image(cfg.Boot.Firmware, cfg.Boot.FirmwareSize, 0x5a)
	if err != nil {
		return "", "", "", fmt.Errorf("firmware: %w", err)
	}
	clm, err = image(cfg.Boot.CLM, cfg.Boot.CLMSize, 0xc3)
	if err != nil {
		return "", "", "", fmt.Errorf("clm: %w", err)
	}
	if cfg.Boot.NVRAM != "" {
		nvram, err = blob.Load(cfg.Boot.NVRAM)
		if err != nil {
			return "", "", "", fmt.Errorf("nvram: %w", err)
		}
	}
	return fw, clm, nvram, nil
}

func image(path, size string, seed byte) (string, error) {
	if path != "" {
		return blob.Load(path)
	}
	if size == "" {
		return "", errors.New("need a path or a size")
	}
	bs, err := bytesize.Parse(size)
	if err != nil {
		return "", err
	}
	n := int(bs)
	if n <= 0 || n > blob.MaxSize {
		return "", fmt.Errorf("size %s out of range", size)
	}
	n = (n + 3) &^ 3
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) ^ byte(i>>8) ^ seed
	}
	return string(b), nil
}
