package dw1000

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const cdevConsumer = "dw1000"

// OpenCdev connects to the transceiver using the Linux GPIO character device
// for the host lines and periph.io for SPI. Preferred on hosts where the
// legacy sysfs GPIO interface is gone.
func OpenCdev(spiDev, gpioChip string, csOffset, rstOffset, irqOffset int) (*Device, error) {
	conn, closePort, err := openPort(spiDev)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Device, error) {
		closePort()
		return nil, err
	}

	csLine, err := gpiocdev.RequestLine(gpioChip, csOffset,
		gpiocdev.AsOutput(1), gpiocdev.WithConsumer(cdevConsumer))
	if err != nil {
		return fail(fmt.Errorf("dw1000: chip select line %d: %w", csOffset, err))
	}

	// The reset line starts as an input; AssertLow reconfigures it.
	rstLine, err := gpiocdev.RequestLine(gpioChip, rstOffset,
		gpiocdev.AsInput, gpiocdev.WithConsumer(cdevConsumer))
	if err != nil {
		csLine.Close()
		return fail(fmt.Errorf("dw1000: reset line %d: %w", rstOffset, err))
	}

	irq := &cdevIRQ{edges: make(chan struct{}, 1)}
	irqLine, err := gpiocdev.RequestLine(gpioChip, irqOffset,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(irq.handleEvent),
		gpiocdev.WithConsumer(cdevConsumer))
	if err != nil {
		csLine.Close()
		rstLine.Close()
		return fail(fmt.Errorf("dw1000: interrupt line %d: %w", irqOffset, err))
	}
	irq.line = irqLine

	d := New(conn, &cdevOut{csLine}, &cdevReset{rstLine}, irq)
	d.release = func() error {
		csLine.Close()
		rstLine.Close()
		irqLine.Close()
		return closePort()
	}
	return d, nil
}

type cdevOut struct {
	line *gpiocdev.Line
}

func (o *cdevOut) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	return o.line.SetValue(v)
}

type cdevReset struct {
	line *gpiocdev.Line
}

func (r *cdevReset) AssertLow() error {
	return r.line.Reconfigure(gpiocdev.AsOutput(0))
}

// Release reconfigures the line back to an input so the chip's internal
// pull-up can bring it high.
func (r *cdevReset) Release() error {
	return r.line.Reconfigure(gpiocdev.AsInput)
}

type cdevIRQ struct {
	line  *gpiocdev.Line
	edges chan struct{}
}

func (i *cdevIRQ) handleEvent(gpiocdev.LineEvent) {
	select {
	case i.edges <- struct{}{}:
	default:
	}
}

func (i *cdevIRQ) WaitForEdge(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-i.edges:
		return true
	case <-t.C:
		return false
	}
}
