// Package battery reads the charge level of an optional UPS HAT so it can be
// shown in the rendered footer and served over the status API.
package battery

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Status is a snapshot of the battery state. Percent is 0..100.
type Status struct {
	Percent   int `json:"percent"`
	VoltageMv int `json:"voltage_mv"`
}

// Reader reports battery state. Read should be cheap enough to call once per
// render cycle.
type Reader interface {
	Read() (Status, error)
}

// PiSugar3 register map (address 0x57 on i2c-1).
const (
	pisugarAddr       = 0x57
	regVoltageHigh    = 0x22
	regVoltageLow     = 0x23
	regBatteryPercent = 0x2A
)

// PiSugar3 reads a PiSugar 3 UPS over I2C.
type PiSugar3 struct {
	dev i2c.Dev
	bus i2c.BusCloser
}

func NewPiSugar3() (*PiSugar3, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("battery: periph host init: %w", err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("battery: I2C open: %w", err)
	}
	return &PiSugar3{dev: i2c.Dev{Bus: bus, Addr: pisugarAddr}, bus: bus}, nil
}

func (p *PiSugar3) Read() (Status, error) {
	pct, err := p.readReg(regBatteryPercent)
	if err != nil {
		return Status{}, fmt.Errorf("battery: read percent: %w", err)
	}
	hi, err := p.readReg(regVoltageHigh)
	if err != nil {
		return Status{}, fmt.Errorf("battery: read voltage: %w", err)
	}
	lo, err := p.readReg(regVoltageLow)
	if err != nil {
		return Status{}, fmt.Errorf("battery: read voltage: %w", err)
	}

	st := Status{
		Percent:   int(pct),
		VoltageMv: int(hi)<<8 | int(lo),
	}
	if st.Percent > 100 {
		st.Percent = 100
	}
	return st, nil
}

func (p *PiSugar3) Close() error {
	return p.bus.Close()
}

func (p *PiSugar3) readReg(reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := p.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Fixed is a Reader with a constant status, for hosts without a UPS and for
// tests.
type Fixed struct {
	Status Status
}

func (f Fixed) Read() (Status, error) {
	return f.Status, nil
}
