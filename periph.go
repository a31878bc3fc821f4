package dw1000

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// spiSpeed is safe for the slow SPI phase before the PLL locks; the chip
// accepts up to 20 MHz once running but register traffic here is tiny.
const spiSpeed = 3 * physic.MegaHertz

// Open connects to the transceiver using periph.io for both SPI and GPIO.
// Chip select is driven manually, so the port is opened with hardware CS
// disabled and csPin names a plain GPIO.
func Open(spiDev, csPin, rstPin, irqPin string) (*Device, error) {
	conn, closePort, err := openPort(spiDev)
	if err != nil {
		return nil, err
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		closePort()
		return nil, fmt.Errorf("dw1000: no such pin %q", csPin)
	}
	if err := cs.Out(gpio.High); err != nil {
		closePort()
		return nil, fmt.Errorf("dw1000: chip select %q: %w", csPin, err)
	}

	rst := gpioreg.ByName(rstPin)
	if rst == nil {
		closePort()
		return nil, fmt.Errorf("dw1000: no such pin %q", rstPin)
	}

	irq := gpioreg.ByName(irqPin)
	if irq == nil {
		closePort()
		return nil, fmt.Errorf("dw1000: no such pin %q", irqPin)
	}
	if err := irq.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		closePort()
		return nil, fmt.Errorf("dw1000: interrupt %q: %w", irqPin, err)
	}

	d := New(conn, &periphOut{cs}, &periphReset{rst}, &periphIRQ{irq})
	d.release = closePort
	return d, nil
}

func openPort(spiDev string) (spi.Conn, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("dw1000: host init: %w", err)
	}
	port, err := spireg.Open(spiDev)
	if err != nil {
		return nil, nil, fmt.Errorf("dw1000: open %q: %w", spiDev, err)
	}
	conn, err := port.Connect(spiSpeed, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("dw1000: connect %q: %w", spiDev, err)
	}
	return conn, port.Close, nil
}

type periphOut struct {
	pin gpio.PinIO
}

func (p *periphOut) Set(high bool) error {
	return p.pin.Out(gpio.Level(high))
}

type periphReset struct {
	pin gpio.PinIO
}

func (p *periphReset) AssertLow() error {
	return p.pin.Out(gpio.Low)
}

// Release puts the pin back to a floating input. The chip's internal pull-up
// brings the line high.
func (p *periphReset) Release() error {
	return p.pin.In(gpio.Float, gpio.NoEdge)
}

type periphIRQ struct {
	pin gpio.PinIO
}

func (p *periphIRQ) WaitForEdge(timeout time.Duration) bool {
	return p.pin.WaitForEdge(timeout)
}
