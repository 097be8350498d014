package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"inkcal/internal/convert"
	applog "inkcal/internal/log"
)

// UC8151-family command set used by Waveshare tri-color panels.
const (
	cmdPanelSetting     byte = 0x00
	cmdPowerOff         byte = 0x02
	cmdPowerOn          byte = 0x04
	cmdBoosterSoftStart byte = 0x06
	cmdDeepSleep        byte = 0x07
	cmdDataBlack        byte = 0x10
	cmdDisplayRefresh   byte = 0x12
	cmdDataRed          byte = 0x13
	cmdVCOMDataInterval byte = 0x50
	cmdResolution       byte = 0x61
)

// EPDConfig wires the panel: pin names are periph.io GPIO identifiers.
type EPDConfig struct {
	Width  int
	Height int

	DCPin   string
	CSPin   string
	RSTPin  string
	BUSYPin string

	SPIFrequency physic.Frequency
	SPIMode      spi.Mode

	ResetHoldTime  time.Duration
	BusyPollTime   time.Duration
	RefreshTimeout time.Duration
}

// DefaultEPDConfig matches the common Raspberry Pi HAT wiring.
func DefaultEPDConfig(width, height int) EPDConfig {
	return EPDConfig{
		Width:  width,
		Height: height,

		DCPin:   "GPIO25",
		CSPin:   "GPIO8",
		RSTPin:  "GPIO17",
		BUSYPin: "GPIO24",

		SPIFrequency: 2 * physic.MegaHertz,
		SPIMode:      spi.Mode0,

		ResetHoldTime:  20 * time.Millisecond,
		BusyPollTime:   10 * time.Millisecond,
		RefreshTimeout: 40 * time.Second,
	}
}

// EPD drives a tri-color e-paper panel over SPI and implements Sink. The
// panel consumes two packed 1bpp planes (black and red ink).
type EPD struct {
	port spi.PortCloser
	conn spi.Conn
	dc   gpio.PinOut
	cs   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	cfg EPDConfig
}

// NewEPD initializes periph.io, opens the SPI bus and configures the GPIO
// pins. It fails on non-Pi hosts; use a FileSink there.
func NewEPD(cfg EPDConfig) (*EPD, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init: %w", err)
	}

	port, err := spireg.Open("")
	if err != nil {
		return nil, fmt.Errorf("epd: SPI open: %w", err)
	}
	conn, err := port.Connect(cfg.SPIFrequency, cfg.SPIMode, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("epd: SPI connect: %w", err)
	}

	dc := gpioreg.ByName(cfg.DCPin)
	cs := gpioreg.ByName(cfg.CSPin)
	rst := gpioreg.ByName(cfg.RSTPin)
	busy := gpioreg.ByName(cfg.BUSYPin)
	if dc == nil || cs == nil || rst == nil || busy == nil {
		port.Close()
		return nil, errors.New("epd: failed to resolve GPIO pins")
	}

	d := &EPD{port: port, conn: conn, dc: dc, cs: cs, rst: rst, busy: busy, cfg: cfg}
	if err := d.init(); err != nil {
		d.port.Close()
		return nil, err
	}
	return d, nil
}

// Push packs the canvas into panel planes and performs a full refresh.
func (d *EPD) Push(ctx context.Context, img image.Image) error {
	black, red, err := convert.PackPlanes(img, d.cfg.Width, d.cfg.Height)
	if err != nil {
		return err
	}

	applog.Info("epd refresh start", "width", d.cfg.Width, "height", d.cfg.Height)
	start := time.Now()

	if err := d.sendCommand(cmdDataBlack); err != nil {
		return err
	}
	if err := d.sendBulk(black); err != nil {
		return err
	}
	if err := d.sendCommand(cmdDataRed); err != nil {
		return err
	}
	if err := d.sendBulk(red); err != nil {
		return err
	}

	if err := d.sendCommand(cmdDisplayRefresh); err != nil {
		return err
	}
	if err := d.waitBusy(ctx); err != nil {
		return err
	}

	applog.Info("epd refresh done", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Sleep puts the panel into deep sleep. E-paper keeps its image unpowered;
// leaving the panel powered degrades it.
func (d *EPD) Sleep() error {
	if err := d.sendCommand(cmdPowerOff); err != nil {
		return err
	}
	if err := d.sendCommand(cmdDeepSleep); err != nil {
		return err
	}
	return d.sendData(0xA5)
}

func (d *EPD) Close() error {
	if err := d.Sleep(); err != nil {
		applog.Error("epd sleep failed on close", err)
	}
	return d.port.Close()
}

func (d *EPD) init() error {
	if err := d.reset(); err != nil {
		return err
	}

	if err := d.sendCommand(cmdBoosterSoftStart); err != nil {
		return err
	}
	if err := d.sendData(0x17, 0x17, 0x17); err != nil {
		return err
	}

	if err := d.sendCommand(cmdPowerOn); err != nil {
		return err
	}
	if err := d.waitBusy(context.Background()); err != nil {
		return err
	}

	// KW/R mode, LUT from OTP.
	if err := d.sendCommand(cmdPanelSetting); err != nil {
		return err
	}
	if err := d.sendData(0x0F); err != nil {
		return err
	}

	if err := d.sendCommand(cmdResolution); err != nil {
		return err
	}
	if err := d.sendData(
		byte(d.cfg.Width>>8), byte(d.cfg.Width),
		byte(d.cfg.Height>>8), byte(d.cfg.Height),
	); err != nil {
		return err
	}

	if err := d.sendCommand(cmdVCOMDataInterval); err != nil {
		return err
	}
	return d.sendData(0x11)
}

func (d *EPD) reset() error {
	for _, level := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
		if err := d.rst.Out(level); err != nil {
			return fmt.Errorf("epd: reset pin: %w", err)
		}
		time.Sleep(d.cfg.ResetHoldTime)
	}
	return nil
}

// waitBusy polls the BUSY pin until the panel is idle, the refresh timeout
// elapses, or ctx is canceled.
func (d *EPD) waitBusy(ctx context.Context) error {
	deadline := time.Now().Add(d.cfg.RefreshTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.busy.Read() == gpio.High {
			return nil
		}
		time.Sleep(d.cfg.BusyPollTime)
	}
	return errors.New("epd: timeout waiting for panel")
}

func (d *EPD) sendCommand(cmd byte) error {
	return d.transfer(gpio.Low, []byte{cmd})
}

func (d *EPD) sendData(data ...byte) error {
	return d.transfer(gpio.High, data)
}

func (d *EPD) sendBulk(data []byte) error {
	// SPI transfers are chunked to stay under the driver's buffer limit.
	const chunk = 4096
	for len(data) > 0 {
		n := len(data)
		if n > chunk {
			n = chunk
		}
		if err := d.transfer(gpio.High, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (d *EPD) transfer(dcLevel gpio.Level, payload []byte) error {
	if err := d.dc.Out(dcLevel); err != nil {
		return fmt.Errorf("epd: DC pin: %w", err)
	}
	if err := d.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("epd: CS pin: %w", err)
	}
	if err := d.conn.Tx(payload, nil); err != nil {
		return fmt.Errorf("epd: SPI tx: %w", err)
	}
	return d.cs.Out(gpio.High)
}
