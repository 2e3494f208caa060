package cywctl_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/soypat/cywctl"
	"github.com/soypat/cywctl/internal/sim"
)

func TestBootstrap(t *testing.T) {
	r := newRig(t, rigOpts{})
	if r.boot.State() != cywctl.BootPowerOff {
		t.Fatalf("initial state %s", r.boot.State())
	}
	start := r.board.Clock.Now()
	r.mustBoot(t)

	want := []cywctl.BootState{
		cywctl.BootReset,
		cywctl.BootWaitReady,
		cywctl.BootUploadFirmware,
		cywctl.BootUploadCLM,
		cywctl.BootReady,
	}
	if !slices.Equal(r.transitions, want) {
		t.Errorf("transitions=%v, want %v", r.transitions, want)
	}
	if !r.boot.Ready() {
		t.Fatal("not ready after successful run")
	}
	if got := r.boot.ChunkWrites(); got != testChunks {
		t.Errorf("chunk writes=%d, want %d", got, testChunks)
	}
	if got, want := r.boot.FirmwareChecksum(), cywctl.Checksum([]byte(testFirmware)); got != want {
		t.Errorf("firmware checksum=%#x, want %#x", got, want)
	}
	if !r.board.Chip.Running() {
		t.Error("firmware not running")
	}
	if !r.board.Chip.CLMLoaded() {
		t.Error("CLM not loaded")
	}
	if v, ok := r.board.Chip.Var("bus:txglom"); !ok || v != 0 {
		t.Errorf("bus:txglom=%d,%v", v, ok)
	}
	// Power off hold plus settle time at the least.
	if el := r.elapsed(start); el < 270*time.Millisecond {
		t.Errorf("boot elapsed %s, too fast", el)
	}
	if st := r.bus.Stats(); st.Aborts != 0 {
		t.Errorf("bus aborts during boot: %d", st.Aborts)
	}
	if r.board.Engine.Turnarounds() == 0 {
		t.Error("shared data line never turned around")
	}
}

func TestBootstrapRerun(t *testing.T) {
	r := newRig(t, rigOpts{})
	r.mustBoot(t)
	first := r.boot.ChunkWrites()
	r.transitions = r.transitions[:0]
	r.mustBoot(t)
	if got := r.boot.ChunkWrites(); got != first {
		t.Errorf("second run chunk writes=%d, first=%d", got, first)
	}
	if r.transitions[0] != cywctl.BootPowerOff {
		t.Errorf("rerun did not start at poweroff: %v", r.transitions)
	}
	if got := r.board.Chip.PowerCycles(); got != 2 {
		t.Errorf("power cycles=%d, want 2", got)
	}
	if !r.board.Chip.Running() {
		t.Error("firmware not running after rerun")
	}
}

func TestBootstrapSlowReady(t *testing.T) {
	r := newRig(t, rigOpts{sim: sim.Config{ReadyAfter: 300 * time.Millisecond}})
	r.mustBoot(t)
}

func TestBootstrapNeverReady(t *testing.T) {
	r := newRig(t, rigOpts{sim: sim.Config{NeverReady: true}})
	err := r.boot.Run()
	if !errors.Is(err, cywctl.ErrBootTimeout) {
		t.Fatalf("got %v, want ErrBootTimeout", err)
	}
	if r.boot.State() != cywctl.BootFailed {
		t.Errorf("state=%s, want failed", r.boot.State())
	}
	if !errors.Is(r.boot.Err(), cywctl.ErrBootTimeout) {
		t.Errorf("Err()=%v", r.boot.Err())
	}
	last := r.transitions[len(r.transitions)-1]
	if last != cywctl.BootFailed {
		t.Errorf("last transition %s", last)
	}
	if r.boot.ChunkWrites() != 0 {
		t.Errorf("chunks written to a silent chip")
	}
	err = r.ctl.GPIOSet(0, true)
	if !errors.Is(err, cywctl.ErrNotReady) {
		t.Errorf("gpio after failed boot: %v", err)
	}
}

func TestBootstrapChunkRejected(t *testing.T) {
	const failAt = 10
	r := newRig(t, rigOpts{sim: sim.Config{FailChunk: failAt}})
	err := r.boot.Run()
	if !errors.Is(err, cywctl.ErrChunkRejected) {
		t.Fatalf("got %v, want ErrChunkRejected", err)
	}
	if r.boot.State() != cywctl.BootFailed {
		t.Errorf("state=%s, want failed", r.boot.State())
	}
	if got := r.boot.ChunkWrites(); got != failAt-1 {
		t.Errorf("chunk writes=%d, want %d", got, failAt-1)
	}
	if r.transitions[len(r.transitions)-2] != cywctl.BootUploadFirmware {
		t.Errorf("failed outside firmware upload: %v", r.transitions)
	}
}

func TestBootstrapVerify(t *testing.T) {
	r := newRig(t, rigOpts{boot: func(c *cywctl.BootConfig) { c.Verify = true }})
	r.mustBoot(t)
	fw := r.board.Chip.RAM(0, len(testFirmware))
	if string(fw) != testFirmware {
		t.Error("chip RAM does not hold firmware")
	}
}

func TestBootstrapNVRAM(t *testing.T) {
	const nvram = "boardtype=0x0887\x00boardrev=0x1101\x00\x00"
	r := newRig(t, rigOpts{boot: func(c *cywctl.BootConfig) { c.NVRAM = nvram }})
	r.mustBoot(t)
	words := (len(nvram) + 3) / 4
	top := 512*1024 - 4
	got := r.board.Chip.RAM(top-words*4, len(nvram))
	if string(got) != nvram {
		t.Errorf("nvram=%q", got)
	}
	lw := r.board.Chip.RAM(top, 4)
	w := uint32(lw[0]) | uint32(lw[1])<<8 | uint32(lw[2])<<16 | uint32(lw[3])<<24
	if w != (^uint32(words))<<16|uint32(words) {
		t.Errorf("nvram length word %#x", w)
	}
}

func TestBootstrapOffload(t *testing.T) {
	r := newRig(t, rigOpts{bus: func(c *cywctl.BusConfig) { c.Offload = true }})
	r.mustBoot(t)
	if r.board.Engine.Offloads() == 0 {
		t.Error("offload channel unused")
	}
	if got := r.boot.ChunkWrites(); got != testChunks {
		t.Errorf("chunk writes=%d, want %d", got, testChunks)
	}
}

func TestBootstrapOffloadByteAtATime(t *testing.T) {
	// An offload channel that moves one byte per poll, as a DMA channel
	// paced by a slow bus does, must not exhaust a tight attempt budget.
	r := newRig(t, rigOpts{
		sim: sim.Config{OffloadBurst: 1},
		bus: func(c *cywctl.BusConfig) {
			c.Offload = true
			c.Attempts = 4
		},
	})
	r.mustBoot(t)
	if st := r.bus.Stats(); st.Aborts != 0 {
		t.Errorf("aborted transfers during bring-up: %+v", st)
	}
	if r.board.Engine.Offloads() == 0 {
		t.Error("offload channel unused")
	}
}

func TestBootstrapCLMRejected(t *testing.T) {
	r := newRig(t, rigOpts{sim: sim.Config{CLM: testImage(8*1024, 0x11)}})
	err := r.boot.Run()
	if !errors.Is(err, cywctl.ErrCLMRejected) {
		t.Fatalf("got %v, want ErrCLMRejected", err)
	}
	if r.transitions[len(r.transitions)-2] != cywctl.BootUploadCLM {
		t.Errorf("failed outside CLM upload: %v", r.transitions)
	}
}

func TestBootstrapWrongFirmware(t *testing.T) {
	r := newRig(t, rigOpts{
		sim: sim.Config{Firmware: testImage(64*1024, 0x01)},
		boot: func(c *cywctl.BootConfig) {
			c.Clocks = cywctl.PollConfig{Interval: time.Millisecond, Attempts: 50}
		},
	})
	err := r.boot.Run()
	if !errors.Is(err, cywctl.ErrBootTimeout) {
		t.Fatalf("got %v, want ErrBootTimeout", err)
	}
}

func TestNewBootstrapErrors(t *testing.T) {
	r := newRig(t, rigOpts{})
	for _, tc := range []struct {
		name string
		cfg  cywctl.BootConfig
		want error
	}{
		{"no firmware", cywctl.DefaultBootConfig("", testCLM), cywctl.ErrEmptyImage},
		{"no clm", cywctl.DefaultBootConfig(testFirmware, ""), cywctl.ErrEmptyImage},
		{"odd chunk", func() cywctl.BootConfig {
			c := cywctl.DefaultBootConfig(testFirmware, testCLM)
			c.ChunkSize = 6
			return c
		}(), cywctl.ErrBadConfig},
		{"too large", cywctl.DefaultBootConfig(testImage(512*1024, 0), testCLM), cywctl.ErrBadConfig},
	} {
		_, err := cywctl.NewBootstrap(r.dev, tc.cfg)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}
