package dw1000

import (
	"fmt"
	"strings"
)

// StatusString re-reads the event status register and renders the latched
// events, one flag per line.
func (d *Device) StatusString() (string, error) {
	if err := d.readRegister(d.sysstatus); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("system status:\n")
	flags := []struct {
		bit  int
		name string
	}{
		{irqsBit, "interrupt request"},
		{cplockBit, "clock PLL lock"},
		{txfrbBit, "transmit frame begins"},
		{txprsBit, "transmit preamble sent"},
		{txphsBit, "transmit PHY header sent"},
		{txfrsBit, "transmit frame sent"},
		{rxprdBit, "receiver preamble detected"},
		{rxsfddBit, "receiver SFD detected"},
		{ldedoneBit, "LDE processing done"},
		{rxphdBit, "receiver PHY header detected"},
		{rxpheBit, "receiver PHY header error"},
		{rxdfrBit, "receiver data frame ready"},
		{rxfcgBit, "receiver checksum good"},
		{rxfceBit, "receiver checksum error"},
		{rxrfslBit, "receiver Reed-Solomon error"},
		{rxrftoBit, "receive frame wait timeout"},
		{ldeerrBit, "leading edge detection error"},
		{rxovrrBit, "receiver overrun"},
		{rxptoBit, "preamble detection timeout"},
		{rxsfdtoBit, "SFD detection timeout"},
		{affrejBit, "frame filter rejection"},
	}
	for _, f := range flags {
		if d.sysstatus.GetBit(f.bit) {
			fmt.Fprintf(&b, "  %s\n", f.name)
		}
	}
	fmt.Fprintf(&b, "  receive buffer pointers host=%t chip=%t\n",
		d.sysstatus.GetBit(hsrbpBit), d.sysstatus.GetBit(icrbpBit))
	return b.String(), nil
}

// DeviceInfoString decodes the device identification register and appends the
// staged addressing.
func (d *Device) DeviceInfoString() (string, error) {
	id, err := d.DeviceID()
	if err != nil {
		return "", err
	}
	short := uint16(d.panadr.Byte(0)) | uint16(d.panadr.Byte(1))<<8
	pan := uint16(d.panadr.Byte(2)) | uint16(d.panadr.Byte(3))<<8
	return fmt.Sprintf("device id: tag 0x%04x model %d version %d revision %d, address 0x%04x, PAN 0x%04x",
		id>>16, id>>8&0xff, id>>4&0x0f, id&0x0f, short, pan), nil
}

// DeviceModeString renders the active operation mode.
func (d *Device) DeviceModeString() string {
	m := d.mode

	rate := "110 kbps"
	switch m.DataRate {
	case DataRate850K:
		rate = "850 kbps"
	case DataRate6800K:
		rate = "6800 kbps"
	}

	prf := "16 MHz"
	if m.PulseFrequency == PRF64MHz {
		prf = "64 MHz"
	}

	var preamble int
	switch m.PreambleLength {
	case PreambleLen64:
		preamble = 64
	case PreambleLen128:
		preamble = 128
	case PreambleLen256:
		preamble = 256
	case PreambleLen512:
		preamble = 512
	case PreambleLen1024:
		preamble = 1024
	case PreambleLen1536:
		preamble = 1536
	case PreambleLen2048:
		preamble = 2048
	case PreambleLen4096:
		preamble = 4096
	}

	return fmt.Sprintf("data rate %s, pulse frequency %s, preamble %d symbols (code %d, PAC %d), channel %d",
		rate, prf, preamble, m.PreambleCode, m.PACSize, m.Channel)
}
