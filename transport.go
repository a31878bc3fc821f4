package dw1000

import (
	"fmt"
	"time"
)

// Bus is the byte-level SPI transfer the driver is built on. A periph.io
// spi.Conn satisfies it directly; tests substitute a fake.
type Bus interface {
	Tx(w, r []byte) error
}

// DigitalOut drives one host output line, used for chip select.
type DigitalOut interface {
	Set(high bool) error
}

// ResetLine models the chip's open-drain reset input: it is either actively
// driven low or released to high impedance, never driven high.
type ResetLine interface {
	AssertLow() error
	Release() error
}

// IRQLine waits for a rising edge on the chip's interrupt output. It returns
// false if the timeout expires first.
type IRQLine interface {
	WaitForEdge(timeout time.Duration) bool
}

// buildHeader encodes the transaction header for a register access. One byte
// addresses the register file directly; a sub-register offset below 128 adds a
// second byte; larger offsets split across a second and third byte with the
// extension flag set.
func buildHeader(write bool, addr byte, sub uint16) ([3]byte, int) {
	var h [3]byte
	n := 1
	h[0] = addr
	if write {
		h[0] |= hdrWrite
	}
	if sub == noSub {
		return h, n
	}
	h[0] |= hdrSub
	if sub < 128 {
		h[1] = byte(sub)
		return h, 2
	}
	h[1] = byte(sub)&^hdrSubExt | hdrSubExt
	h[2] = byte(sub >> subExtShift)
	return h, 3
}

// xfer1 clocks a single byte and returns the byte shifted in.
func (d *Device) xfer1(b byte) (byte, error) {
	var r [1]byte
	if err := d.bus.Tx([]byte{b}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

// transaction runs fn as one indivisible bus session: the transaction mutex is
// held and chip select stays asserted for the whole header+payload exchange.
// A bus failure aborts mid-session and leaves chip state unspecified; the
// caller is expected to reset before continuing.
func (d *Device) transaction(write bool, addr byte, sub uint16, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.cs.Set(false); err != nil {
		return fmt.Errorf("dw1000: chip select assert: %w", err)
	}
	defer d.cs.Set(true)

	header, n := buildHeader(write, addr, sub)
	for i := 0; i < n; i++ {
		if _, err := d.xfer1(header[i]); err != nil {
			return fmt.Errorf("dw1000: register 0x%02x header: %w", addr, err)
		}
	}
	return fn()
}

// readBytes reads len(data) bytes from the addressed register into data.
func (d *Device) readBytes(addr byte, sub uint16, data []byte) error {
	return d.transaction(false, addr, sub, func() error {
		for i := range data {
			b, err := d.xfer1(junkByte)
			if err != nil {
				return fmt.Errorf("dw1000: register 0x%02x read: %w", addr, err)
			}
			data[i] = b
		}
		return nil
	})
}

// writeBytes writes data to the addressed register.
func (d *Device) writeBytes(addr byte, sub uint16, data []byte) error {
	return d.writeBytesMasked(addr, sub, data, nil)
}

// writeBytesMasked writes data, skipping any position whose present entry is
// false; skipped bytes are simply not clocked out. A nil mask writes
// everything.
func (d *Device) writeBytesMasked(addr byte, sub uint16, data []byte, present []bool) error {
	return d.transaction(true, addr, sub, func() error {
		for i := range data {
			if present != nil && !present[i] {
				continue
			}
			if _, err := d.xfer1(data[i]); err != nil {
				return fmt.Errorf("dw1000: register 0x%02x write: %w", addr, err)
			}
		}
		return nil
	})
}

// readRegister fills the register image from the chip.
func (d *Device) readRegister(r *Register) error {
	return d.readBytes(r.addr, r.sub, r.data)
}

// writeRegister commits the register image to the chip.
func (d *Device) writeRegister(r *Register) error {
	return d.writeBytes(r.addr, r.sub, r.data)
}
