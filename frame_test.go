package dw1000

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestSetDataStagesFrameLength(t *testing.T) {
	d, h := newTestDevice(t)
	payload := bytes.Repeat([]byte{0x5a}, 10)
	if err := d.SetData(payload); err != nil {
		t.Fatal(err)
	}
	if got := h.lastWrite(t, regTxBuffer, noSub); !bytes.Equal(got, payload) {
		t.Errorf("transmit buffer % 02x", got)
	}
	fctrl := h.lastWrite(t, regTxFCtrl, noSub)
	if fctrl[0] != 12 {
		t.Errorf("frame length %d, want payload plus CRC", fctrl[0])
	}
}

func TestSetDataRejectsOversizedFrame(t *testing.T) {
	d, _ := newTestDevice(t)
	err := d.SetData(make([]byte, 126))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestStartTransmitControlBits(t *testing.T) {
	d, h := newTestDevice(t)
	if err := d.NewTransmit(); err != nil {
		t.Fatal(err)
	}
	err := d.StartTransmit(TransmitOptions{WaitForResponse: true})
	if err != nil {
		t.Fatal(err)
	}
	ctrl := h.lastWrite(t, regSysCtrl, noSub)
	want := byte(1<<txstrtBit | 1<<wait4respBit)
	if ctrl[0] != want {
		t.Errorf("SYS_CTRL 0x%02x, want 0x%02x", ctrl[0], want)
	}
}

func TestStartTransmitDelayed(t *testing.T) {
	d, h := newTestDevice(t)
	if err := d.NewTransmit(); err != nil {
		t.Fatal(err)
	}
	if err := d.StartTransmit(TransmitOptions{Delayed: true}); err != nil {
		t.Fatal(err)
	}
	ctrl := h.lastWrite(t, regSysCtrl, noSub)
	want := byte(1<<txstrtBit | 1<<txdlysBit)
	if ctrl[0] != want {
		t.Errorf("SYS_CTRL 0x%02x, want 0x%02x", ctrl[0], want)
	}
}

func TestSetDelayCoarsensProgrammedTime(t *testing.T) {
	d, h := newTestDevice(t)
	h.setReg(regSysTime, noSub, 0, 0, 0, 0, 0)
	ts, err := d.SetDelay(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	// 1000 us at 63897.6036 units/us, rounded, coarsened to the chip's
	// granularity, plus the antenna delay.
	if want := Timestamp(63897600 + DefaultAntennaDelay); ts != want {
		t.Errorf("timestamp %d, want %d", ts, want)
	}
	dx := h.lastWrite(t, regDXTime, noSub)
	if !bytes.Equal(dx, []byte{0x00, 0x00, 0xcf, 0x03, 0x00}) {
		t.Errorf("DX_TIME % 02x", dx)
	}
}

func TestSetDelayReportsProgrammedTime(t *testing.T) {
	d, h := newTestDevice(t)
	// The current time sits entirely in the bits the chip ignores.
	h.setReg(regSysTime, noSub, 0xff, 0x01, 0x00, 0x00, 0x00)
	ts, err := d.SetDelay(0)
	if err != nil {
		t.Fatal(err)
	}
	dx := h.lastWrite(t, regDXTime, noSub)
	if !bytes.Equal(dx, []byte{0, 0, 0, 0, 0}) {
		t.Fatalf("DX_TIME % 02x, want all zero", dx)
	}
	if ts != DefaultAntennaDelay {
		t.Fatalf("timestamp %d, want the programmed time plus antenna delay %d", ts, DefaultAntennaDelay)
	}
}

func TestSetFrameWaitTimeout(t *testing.T) {
	d, h := newTestDevice(t)
	if err := d.SetFrameWaitTimeout(1000); err != nil {
		t.Fatal(err)
	}
	if got := h.lastWrite(t, regRxFWTO, noSub); !bytes.Equal(got, []byte{0xe8, 0x03}) {
		t.Errorf("RX_FWTO % 02x", got)
	}
	cfg := h.lastWrite(t, regSysCfg, noSub)
	if cfg[3]&0x10 == 0 {
		t.Error("frame wait timeout enable not set")
	}

	if err := d.SetFrameWaitTimeout(0); err != nil {
		t.Fatal(err)
	}
	cfg = h.lastWrite(t, regSysCfg, noSub)
	if cfg[3]&0x10 != 0 {
		t.Error("frame wait timeout enable not cleared")
	}
}

func TestGetMessageStripsCRC(t *testing.T) {
	d, h := newTestDevice(t)
	frame := append(bytes.Repeat([]byte{0xab}, 10), 0xff, 0xff)
	h.setReg(regRxFInfo, noSub, byte(len(frame)), 0x00, 0x00, 0x00)
	h.setReg(regRxBuffer, noSub, frame...)

	msg, err := d.GetMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(msg, frame[:10]) {
		t.Fatalf("message % 02x", msg)
	}
}

func TestGetMessageEmptyBuffer(t *testing.T) {
	d, h := newTestDevice(t)
	h.setReg(regRxFInfo, noSub, 0x00, 0x00, 0x00, 0x00)
	if _, err := d.GetMessage(); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("err = %v, want ErrNoMessage", err)
	}
}

func TestDataFrameCodecRoundTrip(t *testing.T) {
	var c dataFrameCodec
	src := Address{Short: 0x1122, PAN: 0xdeca}
	dst := Address{Short: 0x3344, PAN: 0xdeca}
	payload := []byte("ranging poll")

	frame, err := c.Encode(src, dst, 42, payload)
	if err != nil {
		t.Fatal(err)
	}
	gotSrc, gotDst, seq, gotPayload, err := c.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if gotSrc.Short != src.Short || gotDst != dst || seq != 42 || !bytes.Equal(gotPayload, payload) {
		t.Fatalf("decoded src=%+v dst=%+v seq=%d payload=%q", gotSrc, gotDst, seq, gotPayload)
	}
}

func TestDataFrameCodecShortFrame(t *testing.T) {
	var c dataFrameCodec
	if _, _, _, _, err := c.Decode([]byte{0x41, 0x88}); !errors.Is(err, ErrFrameTooShort) {
		t.Fatalf("err = %v, want ErrFrameTooShort", err)
	}
}

func TestSendMessageIncrementsSequence(t *testing.T) {
	d, h := newTestDevice(t)
	h.onWrite = func(tx txn) {
		// Transmit start completes instantly.
		if tx.addr == regSysCtrl && len(tx.data) > 0 && tx.data[0]&(1<<txstrtBit) != 0 {
			h.raiseStatus(txfrsBit)
		}
	}

	dst := Address{Short: 0xbeef, PAN: 0xdeca}
	for want := byte(0); want < 2; want++ {
		if _, err := d.SendMessage(dst, []byte("ping"), SendOptions{}); err != nil {
			t.Fatal(err)
		}
		writes := h.writesTo(regTxBuffer, noSub)
		frame := writes[len(writes)-1]
		if frame[2] != want {
			t.Fatalf("sequence number %d, want %d", frame[2], want)
		}
		if frame[5] != 0xef || frame[6] != 0xbe {
			t.Fatalf("destination bytes % 02x", frame[3:9])
		}
	}
}

func TestListenDeliversFrames(t *testing.T) {
	d, h := newTestDevice(t)
	frame := append([]byte("hello uwb!"), 0xff, 0xff)
	h.setReg(regRxFInfo, noSub, byte(len(frame)), 0x00, 0x00, 0x00)
	h.setReg(regRxBuffer, noSub, frame...)
	h.onWrite = func(tx txn) {
		// A frame arrives as soon as the receiver is enabled.
		if tx.addr == regSysCtrl && len(tx.data) > 1 && tx.data[1]&0x01 != 0 {
			h.raiseStatus(rxdfrBit, rxfcgBit, ldedoneBit)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan []byte)
	done := make(chan error, 1)
	go func() {
		done <- d.Listen(ctx, msgs)
	}()

	select {
	case msg := <-msgs:
		if !bytes.Equal(msg, frame[:10]) {
			t.Errorf("message % 02x", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Listen returned %v", err)
	}
}
