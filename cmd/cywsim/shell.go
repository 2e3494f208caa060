package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"
	"github.com/soypat/cywctl"
	"github.com/soypat/cywctl/internal/sim"
)

var errUsage = errors.New("bad usage")

// shell executes script commands against a simulated board.
type shell struct {
	w      io.Writer
	log    *slog.Logger
	board  *sim.Board
	bus    *cywctl.Bus
	boot   *cywctl.Bootstrap
	ctl    *cywctl.Control
	start  time.Time
	halted bool
}

func newShell(w io.Writer, cfg config, logger *slog.Logger) (*shell, error) {
	fw, clm, nvram, err := cfg.images()
	if err != nil {
		return nil, err
	}
	board := sim.NewBoard(cfg.simConfig(fw, clm))
	buscfg := cfg.busConfig()
	buscfg.Logger = logger
	bus, err := cywctl.Open(board.Platform(), board.Engine, buscfg)
	if err != nil {
		return nil, err
	}
	err = bus.Start()
	if err != nil {
		bus.Stop()
		return nil, err
	}
	dev := cywctl.NewDevice(bus, cywctl.DeviceConfig{Logger: logger})
	bootcfg := cfg.bootConfig(fw, clm, nvram)
	bootcfg.Logger = logger
	bootcfg.OnTransition = func(from, to cywctl.BootState) {
		logger.Debug("boot:transition", slog.String("from", from.String()), slog.String("to", to.String()))
	}
	boot, err := cywctl.NewBootstrap(dev, bootcfg)
	if err != nil {
		bus.Stop()
		return nil, err
	}
	return &shell{
		w:     w,
		log:   logger,
		board: board,
		bus:   bus,
		boot:  boot,
		ctl:   cywctl.NewControl(dev, boot, cywctl.ControlConfig{Logger: logger}),
		start: board.Clock.Now(),
	}, nil
}

func (sh *shell) close() { sh.bus.Stop() }

// runScript runs each line of script in order and stops at the first error
// or at a stop command.
func (sh *shell) runScript(script string) error {
	scanner := bufio.NewScanner(strings.NewReader(script))
	line := 0
	for scanner.Scan() && !sh.halted {
		line++
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(args) == 0 {
			continue
		}
		err = sh.exec(args)
		if err != nil {
			return fmt.Errorf("line %d %q: %w", line, strings.Join(args, " "), err)
		}
	}
	return scanner.Err()
}

func (sh *shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.w, "[%8s] ", sh.board.Clock.Now().Sub(sh.start).Truncate(time.Millisecond))
	fmt.Fprintf(sh.w, format, args...)
	fmt.Fprintln(sh.w)
}

func (sh *shell) exec(args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "boot":
		return sh.cmdBoot()
	case "gpio":
		return sh.cmdGPIO(args)
	case "power":
		if len(args) != 1 {
			return errUsage
		}
		mode, err := parsePowerMode(args[0])
		if err != nil {
			return err
		}
		err = sh.ctl.SetPowerMode(mode)
		if err == nil {
			sh.printf("power mode %s", mode)
		}
		return err
	case "sleep":
		if len(args) != 1 {
			return errUsage
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return err
		}
		sh.board.Clock.Sleep(d)
		return nil
	case "blink":
		return sh.cmdBlink(args)
	case "state":
		st := sh.ctl.State()
		sh.printf("boot=%s power=%s gpio=%v", sh.boot.State(), st.PowerMode, st.GPIO)
		return nil
	case "stats":
		sh.cmdStats()
		return nil
	case "stop":
		sh.halted = true
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (sh *shell) cmdBoot() error {
	start := sh.board.Clock.Now()
	err := sh.boot.Run()
	if err != nil {
		sh.printf("boot %s: %s", sh.boot.State(), err)
		return err
	}
	sh.printf("boot ready in %s, %d chunks, firmware crc16=%#04x",
		sh.board.Clock.Now().Sub(start).Truncate(time.Millisecond), sh.boot.ChunkWrites(), sh.boot.FirmwareChecksum())
	return nil
}

func (sh *shell) cmdGPIO(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	pin, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return err
	}
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return errUsage
		}
		level, err := parseLevel(args[2])
		if err != nil {
			return err
		}
		err = sh.ctl.GPIOSet(uint8(pin), level)
		if err == nil {
			sh.printf("gpio %d set %v", pin, level)
		}
		return err
	case "get":
		level, err := sh.ctl.GPIOGet(uint8(pin))
		if err == nil {
			sh.printf("gpio %d is %v", pin, level)
		}
		return err
	}
	return errUsage
}

// cmdBlink toggles a GPIO count times, waiting half period between edges.
func (sh *shell) cmdBlink(args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	pin, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	period, err := time.ParseDuration(args[2])
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		for _, level := range []bool{true, false} {
			err = sh.ctl.GPIOSet(uint8(pin), level)
			if err != nil {
				return err
			}
			sh.board.Clock.Sleep(period / 2)
		}
	}
	sh.printf("gpio %d blinked %d times", pin, count)
	return nil
}

func (sh *shell) cmdStats() {
	st := sh.bus.Stats()
	rs := sh.ctl.Runner().Stats()
	sh.printf("bus transfers=%d out=%s in=%s aborts=%d",
		st.Transfers, bytesize.New(float64(st.BytesOut)), bytesize.New(float64(st.BytesIn)), st.Aborts)
	sh.printf("runner steps=%d idle=%d commands=%d ioctls=%d",
		rs.Steps, rs.Idle, rs.Commands, sh.board.Chip.Ioctls())
}

func parseLevel(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "on", "high", "true":
		return true, nil
	case "0", "off", "low", "false":
		return false, nil
	}
	return false, fmt.Errorf("bad level %q", s)
}

func parsePowerMode(s string) (cywctl.PowerMode, error) {
	for pm := cywctl.PowerActive; pm.IsValid(); pm++ {
		if pm.String() == s {
			return pm, nil
		}
	}
	return 0, fmt.Errorf("bad power mode %q", s)
}
