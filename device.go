package dw1000

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	ErrBadDeviceID = errors.New("dw1000: unexpected device id")
	ErrNoMessage   = errors.New("dw1000: no frame in receive buffer")
)

// Device owns one DW1000 transceiver. All register transactions go through it
// and are serialized; the interrupt watcher is the only other goroutine that
// touches the chip and it is paused for the duration of every mask
// save/restore sequence.
type Device struct {
	bus Bus
	cs  DigitalOut
	rst ResetLine
	irq IRQLine

	mu sync.Mutex // one bus transaction at a time

	irqMu    sync.Mutex // held while interrupt delivery must not run
	irqStop  chan struct{}
	handler  func()
	release  func() error

	dblBuffOn bool
	seqNum    byte
	mode      OperationMode
	codec     FrameCodec

	sysctrl   *Register
	chanctrl  *Register
	syscfg    *Register
	sysmask   *Register
	txfctrl   *Register
	sysstatus *Register
	gpiomode  *Register
	pmscctrl0 *Register
	pmscledc  *Register
	otpctrl   *Register
	panadr    *Register
	eui       *Register
	ackrespt  *Register
	rxfinfo   *Register
}

// New wires a Device to an already-opened bus and host lines. Open is the
// periph.io convenience constructor; NewGPIOCdevLines provides the lines on
// hosts using the GPIO character device.
func New(bus Bus, cs DigitalOut, rst ResetLine, irq IRQLine) *Device {
	return &Device{
		bus: bus,
		cs:  cs,
		rst: rst,
		irq: irq,

		sysctrl:   NewRegister(regSysCtrl, noSub, 4),
		chanctrl:  NewRegister(regChanCtrl, noSub, 4),
		syscfg:    NewRegister(regSysCfg, noSub, 4),
		sysmask:   NewRegister(regSysMask, noSub, 4),
		txfctrl:   NewRegister(regTxFCtrl, noSub, 5),
		sysstatus: NewRegister(regSysStatus, noSub, 5),
		gpiomode:  NewRegister(regGPIOCtrl, subGPIOMode, 4),
		pmscctrl0: NewRegister(regPMSC, subPMSCCtrl0, 4),
		pmscledc:  NewRegister(regPMSC, subPMSCLEDC, 4),
		otpctrl:   NewRegister(regOTPIf, subOTPCtrl, 2),
		panadr:    NewRegister(regPANADR, noSub, 4),
		eui:       NewRegister(regEUI, noSub, 8),
		ackrespt:  NewRegister(regAckRespT, noSub, 4),
		rxfinfo:   NewRegister(regRxFInfo, noSub, 4),
	}
}

// Begin brings the chip from power-on to a configured idle state: hard reset,
// soft reset on the crystal clock, default system configuration, LED wiring,
// interrupt mask cleared, and the LDE microcode loaded.
func (d *Device) Begin() error {
	if err := d.HardReset(); err != nil {
		return err
	}
	time.Sleep(initDelay)

	if err := d.EnableClock(ClockAuto); err != nil {
		return err
	}
	if err := d.SoftReset(); err != nil {
		return err
	}

	id, err := d.DeviceID()
	if err != nil {
		return err
	}
	if id != expectedDeviceID {
		return fmt.Errorf("%w: 0x%08x", ErrBadDeviceID, id)
	}

	d.syscfg.Clear()
	d.syscfg.SetBits([]int{hirqPolBit, disDRXBBit}, true)
	if err := d.writeRegister(d.syscfg); err != nil {
		return err
	}

	if err := d.EnableLEDs(); err != nil {
		return err
	}

	d.sysmask.Clear()
	if err := d.writeRegister(d.sysmask); err != nil {
		return err
	}

	// The LDE microcode must be loaded on the crystal clock.
	if err := d.EnableClock(ClockXTI); err != nil {
		return err
	}
	if err := d.manageLDE(); err != nil {
		return err
	}
	if err := d.EnableClock(ClockAuto); err != nil {
		return err
	}

	log.Println("dw1000: started")
	return nil
}

// Stop shuts the chip down: interrupt delivery off, reset held low, host
// resources released.
func (d *Device) Stop() error {
	d.DisableInterrupt()
	if err := d.rst.AssertLow(); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if d.release != nil {
		if err := d.release(); err != nil {
			return err
		}
	}
	log.Println("dw1000: stopped")
	return nil
}

// DeviceID reads the 32-bit device identification register.
func (d *Device) DeviceID() (uint32, error) {
	devid := NewRegister(regDevID, noSub, 4)
	if err := d.readRegister(devid); err != nil {
		return 0, err
	}
	return uint32(devid.Value()), nil
}

// HardReset drives the reset line low and releases it to high impedance. The
// line is open drain on the chip side and must never be driven high.
func (d *Device) HardReset() error {
	if err := d.rst.AssertLow(); err != nil {
		return err
	}
	time.Sleep(resetHold)
	return d.rst.Release()
}

// SoftReset forces the system clocks through the power-management register's
// reset code sequence and leaves the transceiver off.
func (d *Device) SoftReset() error {
	if err := d.readRegister(d.pmscctrl0); err != nil {
		return err
	}
	d.pmscctrl0.SetByte(0, softResetSysClks)
	if err := d.writeRegister(d.pmscctrl0); err != nil {
		return err
	}
	d.pmscctrl0.SetByte(3, softResetClear)
	if err := d.writeRegister(d.pmscctrl0); err != nil {
		return err
	}
	d.pmscctrl0.SetByte(0, softResetClear)
	d.pmscctrl0.SetByte(3, softResetSet)
	if err := d.writeRegister(d.pmscctrl0); err != nil {
		return err
	}
	return d.Idle()
}

// RxReset resets only the receiver datapath.
func (d *Device) RxReset() error {
	if err := d.writeBytes(regPMSC, subPMSCCtrl0+3, []byte{softResetRx}); err != nil {
		return err
	}
	return d.writeBytes(regPMSC, subPMSCCtrl0+3, []byte{softResetSet})
}

// EnableClock selects the system clock source. Auto clears the manual
// override; XTI forces the crystal. Always read-modify-write: other PMSC
// fields share these bytes.
func (d *Device) EnableClock(mode ClockMode) error {
	if err := d.readRegister(d.pmscctrl0); err != nil {
		return err
	}
	switch mode {
	case ClockAuto:
		d.pmscctrl0.SetByte(0, byte(ClockAuto))
		d.pmscctrl0.SetByte(1, d.pmscctrl0.Byte(1)&clockAutoByte1Mask)
	case ClockXTI:
		d.pmscctrl0.SetByte(0, d.pmscctrl0.Byte(0)&clockXTIByte0Mask|byte(ClockXTI))
	}
	return d.writeRegister(d.pmscctrl0)
}

// manageLDE loads the leading-edge-detection microcode. Steps one and two
// stage the clock and kick the load through the OTP interface; the chip then
// needs at least 150 microseconds before the clock bytes are restored.
func (d *Device) manageLDE() error {
	if err := d.readRegister(d.pmscctrl0); err != nil {
		return err
	}
	if err := d.readRegister(d.otpctrl); err != nil {
		return err
	}

	d.pmscctrl0.SetByte(0, ldeClockByte0)
	d.pmscctrl0.SetByte(1, ldeClockByte1)
	d.otpctrl.SetByte(0, ldeKickByte0)
	d.otpctrl.SetByte(1, ldeKickByte1)
	if err := d.writeRegister(d.pmscctrl0); err != nil {
		return err
	}
	if err := d.writeRegister(d.otpctrl); err != nil {
		return err
	}

	time.Sleep(ldeLoadPause)

	d.pmscctrl0.SetByte(0, ldeRestoreByte0)
	d.pmscctrl0.SetByte(1, ldeRestoreByte1)
	return d.writeRegister(d.pmscctrl0)
}

// Idle unconditionally turns the transceiver off. Safe baseline before any
// reconfiguration.
func (d *Device) Idle() error {
	d.sysctrl.Clear()
	d.sysctrl.SetBit(trxoffBit, true)
	return d.writeRegister(d.sysctrl)
}

// withMaskSaved reads and saves the interrupt mask, holds interrupt delivery,
// runs fn, and restores the saved mask on every exit path. This closes the
// lost-update window between the main path and the interrupt watcher.
func (d *Device) withMaskSaved(fn func() error) error {
	if err := d.readRegister(d.sysmask); err != nil {
		return err
	}
	saved := d.sysmask.Bytes()

	d.irqMu.Lock()
	defer d.irqMu.Unlock()

	err := fn()

	d.sysmask.CopyFrom(saved)
	if werr := d.writeRegister(d.sysmask); err == nil {
		err = werr
	}
	return err
}

// ForceTRxOff aborts any transmit or receive in progress. The interrupt mask
// is zeroed for the duration so the abort cannot race a concurrently firing
// interrupt, all latched TX/RX status is cleared, and the receive buffer
// pointers are resynchronized before the mask comes back.
func (d *Device) ForceTRxOff() error {
	err := d.withMaskSaved(func() error {
		d.sysmask.SetAll(0x00)
		if err := d.writeRegister(d.sysmask); err != nil {
			return err
		}

		d.sysctrl.Clear()
		d.sysctrl.SetBit(trxoffBit, true)
		if err := d.writeRegister(d.sysctrl); err != nil {
			return err
		}

		if err := d.clearStatus(allTxRxStatusBits()); err != nil {
			return err
		}
		return d.syncHSRBPLocked()
	})
	if err != nil {
		return err
	}
	d.sysctrl.SetBit(wait4respBit, false)
	return nil
}

func allTxRxStatusBits() []int {
	return []int{
		txfrbBit, txprsBit, txphsBit, txfrsBit,
		rxpheBit, rxfceBit, rxrfslBit, ldeerrBit, affrejBit,
		rxrftoBit, rxptoBit, rxsfdtoBit,
		rxdfrBit, rxfcgBit, ldedoneBit,
	}
}

// ToggleHSRBP flips the host-side receive buffer pointer. The four
// receive-completion interrupt sources are masked during the flip so the
// watcher cannot re-enter on a stale buffer.
func (d *Device) ToggleHSRBP() error {
	if !d.dblBuffOn {
		return nil
	}
	return d.withMaskSaved(d.toggleHSRBPLocked)
}

// toggleHSRBPLocked is the flip itself. The caller holds the mask guard;
// withMaskSaved is not reentrant.
func (d *Device) toggleHSRBPLocked() error {
	d.sysmask.SetBits([]int{mrxfceBit, mrxfcgBit, mrxdfrBit, mldedoneBit}, false)
	if err := d.writeRegister(d.sysmask); err != nil {
		return err
	}
	d.sysctrl.SetBit(hrbptBit, true)
	err := d.writeRegister(d.sysctrl)
	d.sysctrl.SetBit(hrbptBit, false)
	return err
}

// SyncHSRBP aligns the host-side buffer pointer with the chip side. Equal
// pointer bits mean the host has not advanced past the chip yet and must
// catch up; unequal means the host is already ahead.
func (d *Device) SyncHSRBP() error {
	if err := d.readRegister(d.sysstatus); err != nil {
		return err
	}
	if d.sysstatus.GetBit(hsrbpBit) == d.sysstatus.GetBit(icrbpBit) {
		return d.ToggleHSRBP()
	}
	return nil
}

// syncHSRBPLocked is SyncHSRBP for callers already inside withMaskSaved.
func (d *Device) syncHSRBPLocked() error {
	if err := d.readRegister(d.sysstatus); err != nil {
		return err
	}
	if d.dblBuffOn && d.sysstatus.GetBit(hsrbpBit) == d.sysstatus.GetBit(icrbpBit) {
		return d.toggleHSRBPLocked()
	}
	return nil
}

// EnableDoubleBuffer turns on receive double buffering.
func (d *Device) EnableDoubleBuffer() error {
	d.dblBuffOn = true
	if err := d.SyncHSRBP(); err != nil {
		return err
	}
	d.syscfg.SetBit(disDRXBBit, false)
	return d.writeRegister(d.syscfg)
}

// DisableDoubleBuffer turns receive double buffering back off.
func (d *Device) DisableDoubleBuffer() error {
	d.dblBuffOn = false
	if err := d.SyncHSRBP(); err != nil {
		return err
	}
	d.syscfg.SetBit(disDRXBBit, true)
	return d.writeRegister(d.syscfg)
}

// SetInterruptHandler registers fn to run on each rising edge of the
// interrupt line. A nil fn removes the handler. The handler runs on the
// watcher goroutine and must be quick; register access from it is safe
// because transactions are serialized.
func (d *Device) SetInterruptHandler(fn func()) {
	d.irqMu.Lock()
	d.handler = fn
	d.irqMu.Unlock()
}

// EnableInterrupt starts the edge watcher goroutine.
func (d *Device) EnableInterrupt() {
	if d.irqStop != nil {
		return
	}
	stop := make(chan struct{})
	d.irqStop = stop
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if !d.irq.WaitForEdge(100 * time.Millisecond) {
				continue
			}
			d.irqMu.Lock()
			if d.handler != nil {
				d.handler()
			}
			d.irqMu.Unlock()
		}
	}()
}

// DisableInterrupt stops the edge watcher.
func (d *Device) DisableInterrupt() {
	if d.irqStop == nil {
		return
	}
	close(d.irqStop)
	d.irqStop = nil
}

// clearStatus writes a 1 to exactly the listed status bits. Write-1-to-clear:
// the write clears those events and touches nothing else. The local status
// image is invalid afterwards and must be re-read before the next decision.
func (d *Device) clearStatus(bits []int) error {
	d.sysstatus.Clear()
	d.sysstatus.SetBits(bits, true)
	return d.writeRegister(d.sysstatus)
}

// ClearAllStatus clears every latched event.
func (d *Device) ClearAllStatus() error {
	d.sysstatus.SetAll(0xff)
	return d.writeRegister(d.sysstatus)
}

// EnableLEDs routes the four diagnostic LEDs out through GPIO_MODE and turns
// on the PMSC blink engine.
func (d *Device) EnableLEDs() error {
	d.gpiomode.Clear()
	d.gpiomode.SetBits([]int{6, 8, 10, 12}, true)
	if err := d.writeRegister(d.gpiomode); err != nil {
		return err
	}
	if err := d.readRegister(d.pmscctrl0); err != nil {
		return err
	}
	d.pmscctrl0.SetByte(2, d.pmscctrl0.Byte(2)|pmscLEDClockByte)
	if err := d.writeRegister(d.pmscctrl0); err != nil {
		return err
	}
	d.pmscledc.Clear()
	d.pmscledc.SetByte(0, pmscLEDBlinkTim)
	d.pmscledc.SetBit(pmscLEDBlinkEn, true)
	return d.writeRegister(d.pmscledc)
}

// readOTP reads one 32-bit word from factory one-time-programmable memory.
func (d *Device) readOTP(address uint16) ([4]byte, error) {
	var word [4]byte
	addr := []byte{byte(address), byte(address >> 8)}
	if err := d.writeBytes(regOTPIf, subOTPAddr, addr); err != nil {
		return word, err
	}
	if err := d.writeBytes(regOTPIf, subOTPCtrl, []byte{otpCtrlPrime}); err != nil {
		return word, err
	}
	if err := d.writeBytes(regOTPIf, subOTPCtrl, []byte{otpCtrlRead}); err != nil {
		return word, err
	}
	if err := d.readBytes(regOTPIf, subOTPRdat, word[:]); err != nil {
		return word, err
	}
	return word, d.writeBytes(regOTPIf, subOTPCtrl, []byte{otpCtrlDone})
}

// SetEUI writes the extended unique identifier. The register stores it
// reversed.
func (d *Device) SetEUI(eui [8]byte) error {
	for i := 0; i < 8; i++ {
		d.eui.SetByte(i, eui[8-i-1])
	}
	return d.writeRegister(d.eui)
}

// SetDeviceAddress stages the 16-bit short address. Committed with the rest
// of the configuration registers.
func (d *Device) SetDeviceAddress(addr uint16) {
	d.panadr.SetByte(0, byte(addr))
	d.panadr.SetByte(1, byte(addr>>8))
}

// SetNetworkID stages the 16-bit PAN identifier.
func (d *Device) SetNetworkID(pan uint16) {
	d.panadr.SetByte(2, byte(pan))
	d.panadr.SetByte(3, byte(pan>>8))
}

// SetAntennaDelay programs the calibrated antenna delay into both the
// transmit side and the LDE receive side.
func (d *Device) SetAntennaDelay(delay uint16) error {
	buf := []byte{byte(delay), byte(delay >> 8)}
	if err := d.writeBytes(regTxAntD, noSub, buf); err != nil {
		return err
	}
	return d.writeBytes(regLDEIf, subLDERxAntD, buf)
}
