//go:build pico

package cywctl

import (
	"log/slog"
	"machine"
)

// MachinePins drives board pins through the machine package.
type MachinePins struct{}

func (MachinePins) Set(pin Pin, high bool) { machine.Pin(pin).Set(high) }
func (MachinePins) Get(pin Pin) bool        { return machine.Pin(pin).Get() }

// OpenPicoW opens and starts the bus to the Pico W's on board CYW43439.
func OpenPicoW(logger *slog.Logger) (*Bus, *Platform, error) {
	pins := PicoWPins
	for _, pin := range []Pin{pins.ChipSelect, pins.Power} {
		machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	plat := &Platform{Pins: MachinePins{}, Clock: SystemClock{}, NumPins: 30}
	cfg := BusConfig{
		ClockDivider: PicoWClockDivider,
		Pins:         pins,
		Program:      SPIProgram,
		Logger:       logger,
	}
	bus, err := Open(plat, newBoardEngine(), cfg)
	if err != nil {
		return nil, nil, err
	}
	err = bus.Start()
	if err != nil {
		bus.Stop()
		return nil, nil, err
	}
	return bus, plat, nil
}
