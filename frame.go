package dw1000

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

var (
	ErrFrameTooLarge   = errors.New("dw1000: frame exceeds buffer size")
	ErrTransmitTimeout = errors.New("dw1000: transmit did not complete")
	ErrFrameTooShort   = errors.New("dw1000: frame too short to decode")
)

const maxFrameLength = 127

// Address identifies a node: 16-bit short address within a 16-bit PAN.
type Address struct {
	Short uint16
	PAN   uint16
}

// FrameCodec maps between application payloads and on-air frames. The default
// codec produces IEEE 802.15.4 data frames with short addressing and PAN
// compression; SetFrameCodec swaps in another framing.
type FrameCodec interface {
	Encode(src, dst Address, seq byte, payload []byte) ([]byte, error)
	Decode(frame []byte) (src, dst Address, seq byte, payload []byte, err error)
}

// SetFrameCodec replaces the frame codec used by SendMessage and Listen.
func (d *Device) SetFrameCodec(c FrameCodec) {
	d.codec = c
}

type dataFrameCodec struct{}

func (dataFrameCodec) Encode(src, dst Address, seq byte, payload []byte) ([]byte, error) {
	frame := make([]byte, 0, 9+len(payload))
	// Data frame, PAN compression, 16-bit addresses on both sides.
	frame = append(frame, 0x41, 0x88, seq,
		byte(dst.PAN), byte(dst.PAN>>8),
		byte(dst.Short), byte(dst.Short>>8),
		byte(src.Short), byte(src.Short>>8))
	return append(frame, payload...), nil
}

func (dataFrameCodec) Decode(frame []byte) (src, dst Address, seq byte, payload []byte, err error) {
	if len(frame) < 9 {
		return src, dst, 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	seq = frame[2]
	dst.PAN = uint16(frame[3]) | uint16(frame[4])<<8
	dst.Short = uint16(frame[5]) | uint16(frame[6])<<8
	src.PAN = dst.PAN
	src.Short = uint16(frame[7]) | uint16(frame[8])<<8
	return src, dst, seq, frame[9:], nil
}

// NewTransmit moves the transceiver to idle and clears the control image and
// all latched transmit events, giving StartTransmit a clean slate.
func (d *Device) NewTransmit() error {
	if err := d.Idle(); err != nil {
		return err
	}
	d.sysctrl.Clear()
	return d.clearStatus([]int{txfrbBit, txprsBit, txphsBit, txfrsBit})
}

// NewReceive moves the transceiver to idle and clears the control image and
// all latched receive events.
func (d *Device) NewReceive() error {
	if err := d.Idle(); err != nil {
		return err
	}
	d.sysctrl.Clear()
	return d.clearStatus([]int{rxdfrBit, rxfcgBit, rxfceBit, rxpheBit,
		rxrfslBit, ldedoneBit, ldeerrBit})
}

// SetData loads the transmit buffer and stages the frame length including the
// two CRC bytes the chip appends.
func (d *Device) SetData(data []byte) error {
	if len(data)+crcLength > maxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	if err := d.writeBytes(regTxBuffer, noSub, data); err != nil {
		return err
	}
	length := len(data) + crcLength
	d.txfctrl.SetByte(0, byte(length))
	d.txfctrl.SetByte(1, d.txfctrl.Byte(1)&frameLenFieldMask|byte(length>>8)&frameLenHighMask)
	return d.writeRegister(d.txfctrl)
}

// TransmitOptions controls one transmission.
type TransmitOptions struct {
	// Delayed starts the transmission at the time previously programmed
	// with SetDelay instead of immediately.
	Delayed bool
	// WaitForResponse turns the receiver on as soon as the frame is sent.
	WaitForResponse bool
}

// StartTransmit kicks off the staged transmission.
func (d *Device) StartTransmit(opts TransmitOptions) error {
	d.sysctrl.SetBit(sfcstBit, false)
	d.sysctrl.SetBit(txdlysBit, opts.Delayed)
	d.sysctrl.SetBit(wait4respBit, opts.WaitForResponse)
	d.sysctrl.SetBit(txstrtBit, true)
	return d.writeRegister(d.sysctrl)
}

// StartReceive enables the receiver, delayed if requested.
func (d *Device) StartReceive(delayed bool) error {
	d.sysctrl.SetBit(rxdlyeBit, delayed)
	d.sysctrl.SetBit(rxenabBit, true)
	return d.writeRegister(d.sysctrl)
}

// SetDelay programs a future start time delay from now and returns the device
// time at which the antenna will actually fire, antenna delay included. The
// chip ignores the low nine bits of the programmed time, so the staged value
// is coarsened to its granularity.
func (d *Device) SetDelay(delay time.Duration) (Timestamp, error) {
	systime := NewRegister(regSysTime, noSub, 5)
	if err := d.readRegister(systime); err != nil {
		return 0, err
	}
	micros := float64(delay) / float64(time.Microsecond)
	future := int64(systime.Value()) + int64(math.Round(micros*timeUnitsPerMicro))
	future %= timeOverflow

	dxtime := NewRegister(regDXTime, noSub, 5)
	dxtime.WriteValue(uint64(future))
	dxtime.SetByte(0, 0)
	dxtime.SetByte(1, dxtime.Byte(1)&delayGranularity)
	if err := d.writeRegister(dxtime); err != nil {
		return 0, err
	}
	// Report the coarsened time actually programmed, not the requested one.
	return WrapTimestamp(Timestamp(dxtime.Value()) + DefaultAntennaDelay), nil
}

// SetFrameWaitTimeout arms the receive frame wait timeout, in units of about
// 1.026 microseconds. Zero disables it.
func (d *Device) SetFrameWaitTimeout(timeout uint16) error {
	if timeout > 0 {
		buf := []byte{byte(timeout), byte(timeout >> 8)}
		if err := d.writeBytes(regRxFWTO, noSub, buf); err != nil {
			return err
		}
	}
	d.syscfg.SetBit(rxwtoeBit, timeout > 0)
	return d.writeRegister(d.syscfg)
}

// SetReceiveAutoReenable stages whether the receiver re-arms itself after
// each frame. Committed with the configuration.
func (d *Device) SetReceiveAutoReenable(on bool) {
	d.syscfg.SetBit(rxautrBit, on)
}

func (d *Device) refreshStatus() error {
	return d.readRegister(d.sysstatus)
}

// IsTransmitDone re-reads the event status and reports frame-sent.
func (d *Device) IsTransmitDone() (bool, error) {
	if err := d.refreshStatus(); err != nil {
		return false, err
	}
	return d.sysstatus.GetBit(txfrsBit), nil
}

// IsReceiveDone re-reads the event status and reports a good frame. With
// double buffering on, frame-ready alone is enough.
func (d *Device) IsReceiveDone() (bool, error) {
	if err := d.refreshStatus(); err != nil {
		return false, err
	}
	if d.dblBuffOn {
		return d.sysstatus.GetBit(rxdfrBit), nil
	}
	return d.sysstatus.GetBit(rxdfrBit) && d.sysstatus.GetBit(rxfcgBit), nil
}

// IsReceiveFailed re-reads the event status and reports any receive error:
// leading edge, checksum, PHY header or Reed-Solomon.
func (d *Device) IsReceiveFailed() (bool, error) {
	if err := d.refreshStatus(); err != nil {
		return false, err
	}
	return d.sysstatus.GetBitsOr([]int{ldeerrBit, rxfceBit, rxpheBit, rxrfslBit}), nil
}

// IsReceiveTimeout re-reads the event status and reports any receive timeout:
// frame wait, preamble or SFD.
func (d *Device) IsReceiveTimeout() (bool, error) {
	if err := d.refreshStatus(); err != nil {
		return false, err
	}
	return d.sysstatus.GetBitsOr([]int{rxrftoBit, rxptoBit, rxsfdtoBit}), nil
}

// ReceiveFrameLength returns the payload length of the frame in the receive
// buffer, CRC excluded.
func (d *Device) ReceiveFrameLength() (int, error) {
	if err := d.readRegister(d.rxfinfo); err != nil {
		return 0, err
	}
	length := int(d.rxfinfo.Value()) & frameLengthMask
	if length >= crcLength {
		length -= crcLength
	}
	return length, nil
}

// GetData reads n bytes out of the receive buffer.
func (d *Device) GetData(n int) ([]byte, error) {
	data := make([]byte, n)
	if err := d.readBytes(regRxBuffer, noSub, data); err != nil {
		return nil, err
	}
	return data, nil
}

// GetMessage returns the received frame without its CRC. With double
// buffering on, the host-side buffer pointer advances afterwards.
func (d *Device) GetMessage() ([]byte, error) {
	length, err := d.ReceiveFrameLength()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, ErrNoMessage
	}
	data, err := d.GetData(length)
	if err != nil {
		return nil, err
	}
	if d.dblBuffOn {
		if err := d.ToggleHSRBP(); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// SendOptions controls SendMessage.
type SendOptions struct {
	// Delay defers the transmission by this much device-clock time. Zero
	// sends immediately.
	Delay time.Duration
	// WaitForResponse turns the receiver on right after the frame is sent.
	WaitForResponse bool
}

// SendMessage encodes payload for dst, transmits it and blocks until the
// frame is on the air. It returns the transmit timestamp: the programmed one
// for delayed sends, the chip-reported one otherwise. The source address
// comes from the staged PAN/address register; the sequence number increments
// per call.
func (d *Device) SendMessage(dst Address, payload []byte, opts SendOptions) (Timestamp, error) {
	codec := d.codec
	if codec == nil {
		codec = dataFrameCodec{}
	}
	src := Address{
		Short: uint16(d.panadr.Byte(0)) | uint16(d.panadr.Byte(1))<<8,
		PAN:   uint16(d.panadr.Byte(2)) | uint16(d.panadr.Byte(3))<<8,
	}
	frame, err := codec.Encode(src, dst, d.seqNum, payload)
	if err != nil {
		return 0, err
	}
	d.seqNum++

	if err := d.NewTransmit(); err != nil {
		return 0, err
	}
	if err := d.SetData(frame); err != nil {
		return 0, err
	}

	var programmed Timestamp
	if opts.Delay > 0 {
		programmed, err = d.SetDelay(opts.Delay)
		if err != nil {
			return 0, err
		}
	}
	err = d.StartTransmit(TransmitOptions{
		Delayed:         opts.Delay > 0,
		WaitForResponse: opts.WaitForResponse,
	})
	if err != nil {
		return 0, err
	}

	deadline := time.Now().Add(opts.Delay + time.Second)
	for {
		done, err := d.IsTransmitDone()
		if err != nil {
			return 0, err
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			return 0, ErrTransmitTimeout
		}
		time.Sleep(time.Millisecond)
	}
	if err := d.clearStatus([]int{txfrbBit, txprsBit, txphsBit, txfrsBit}); err != nil {
		return 0, err
	}
	if opts.Delay > 0 {
		return programmed, nil
	}
	return d.TransmitTimestamp()
}

// Listen runs the receiver until ctx is done, delivering each good frame
// (CRC stripped) on msgs. Receive errors reset the receiver datapath and
// listening continues.
func (d *Device) Listen(ctx context.Context, msgs chan<- []byte) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := d.receiveOne(ctx)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		select {
		case msgs <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// receiveOne arms the receiver and waits for one outcome. A good frame comes
// back as the message; an RX error or timeout resets the receiver and comes
// back as (nil, nil) so the caller re-arms.
func (d *Device) receiveOne(ctx context.Context) ([]byte, error) {
	if err := d.NewReceive(); err != nil {
		return nil, err
	}
	if err := d.StartReceive(false); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		done, err := d.IsReceiveDone()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		failed, err := d.IsReceiveFailed()
		if err != nil {
			return nil, err
		}
		timedOut, err := d.IsReceiveTimeout()
		if err != nil {
			return nil, err
		}
		if failed || timedOut {
			if err := d.ForceTRxOff(); err != nil {
				return nil, err
			}
			return nil, d.RxReset()
		}
	}

	msg, err := d.GetMessage()
	if err != nil {
		log.Printf("dw1000: receive: %v", err)
		return nil, nil
	}
	return msg, nil
}
