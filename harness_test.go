package dw1000

import (
	"testing"
	"time"
)

type regKey struct {
	addr byte
	sub  uint16
}

// txn is one chip-select framed bus transaction as seen by the fake chip.
type txn struct {
	write bool
	addr  byte
	sub   uint16
	data  []byte
}

const (
	stageAddr = iota
	stageSubLow
	stageSubHigh
	stagePayload
)

// fakeHost stands in for the chip and every host line at once. It decodes
// transaction headers byte by byte, backs registers with a map so writes
// round-trip to reads, and keeps a full transaction log for sequence
// assertions. The event status register is write-1-to-clear like the real
// chip; onWrite lets a test react to control writes the way hardware would.
type fakeHost struct {
	t    *testing.T
	regs map[regKey][]byte
	log  []txn

	onWrite func(t txn)

	csHigh   bool
	open     bool
	stage    int
	write    bool
	addr     byte
	sub      uint16
	offset   int
	data     []byte
	resetLow bool
}

func newTestDevice(t *testing.T) (*Device, *fakeHost) {
	t.Helper()
	h := &fakeHost{t: t, regs: map[regKey][]byte{}, csHigh: true}
	return New(h, h, h, h), h
}

func (h *fakeHost) Tx(w, r []byte) error {
	if len(w) != 1 || len(r) != 1 {
		h.t.Fatalf("Tx of %d/%d bytes, want byte at a time", len(w), len(r))
	}
	if h.csHigh {
		h.t.Fatal("Tx while chip select deasserted")
	}
	b := w[0]
	r[0] = 0

	switch h.stage {
	case stageAddr:
		h.write = b&hdrWrite != 0
		h.addr = b & 0x3f
		if b&hdrSub != 0 {
			h.stage = stageSubLow
		} else {
			h.sub = noSub
			h.stage = stagePayload
		}
	case stageSubLow:
		h.sub = uint16(b & 0x7f)
		if b&hdrSubExt != 0 {
			h.stage = stageSubHigh
		} else {
			h.stage = stagePayload
		}
	case stageSubHigh:
		h.sub |= uint16(b) << subExtShift
		h.stage = stagePayload
	case stagePayload:
		if h.write {
			h.data = append(h.data, b)
		} else {
			r[0] = h.readByte()
			h.data = append(h.data, r[0])
		}
	}
	return nil
}

func (h *fakeHost) readByte() byte {
	store := h.regs[regKey{h.addr, h.sub}]
	var b byte
	if h.offset < len(store) {
		b = store[h.offset]
	}
	h.offset++
	return b
}

// Set is the chip select line. Deasserting finalizes the open transaction.
func (h *fakeHost) Set(high bool) error {
	if !high {
		h.csHigh = false
		h.open = true
		h.stage = stageAddr
		h.offset = 0
		h.data = nil
		return nil
	}
	if h.open {
		h.finalize()
	}
	h.csHigh = true
	h.open = false
	return nil
}

func (h *fakeHost) finalize() {
	entry := txn{write: h.write, addr: h.addr, sub: h.sub,
		data: append([]byte(nil), h.data...)}
	h.log = append(h.log, entry)
	if h.write {
		key := regKey{h.addr, h.sub}
		store := h.regs[key]
		for len(store) < len(h.data) {
			store = append(store, 0)
		}
		for i, b := range h.data {
			if h.addr == regSysStatus {
				store[i] &^= b
			} else {
				store[i] = b
			}
		}
		h.regs[key] = store
		if h.onWrite != nil {
			h.onWrite(entry)
		}
	}
}

func (h *fakeHost) AssertLow() error {
	h.resetLow = true
	return nil
}

func (h *fakeHost) Release() error {
	h.resetLow = false
	return nil
}

func (h *fakeHost) WaitForEdge(timeout time.Duration) bool {
	time.Sleep(timeout)
	return false
}

func (h *fakeHost) setReg(addr byte, sub uint16, data ...byte) {
	h.regs[regKey{addr, sub}] = data
}

func (h *fakeHost) reg(addr byte, sub uint16) []byte {
	return h.regs[regKey{addr, sub}]
}

// writesTo returns the payloads of all write transactions against one
// register, in order.
func (h *fakeHost) writesTo(addr byte, sub uint16) [][]byte {
	var out [][]byte
	for _, t := range h.log {
		if t.write && t.addr == addr && t.sub == sub {
			out = append(out, t.data)
		}
	}
	return out
}

func (h *fakeHost) lastWrite(t *testing.T, addr byte, sub uint16) []byte {
	t.Helper()
	writes := h.writesTo(addr, sub)
	if len(writes) == 0 {
		t.Fatalf("no write to register 0x%02x sub 0x%04x", addr, sub)
	}
	return writes[len(writes)-1]
}

// raiseStatus latches event bits directly in the backing store, the way the
// chip would on a hardware event.
func (h *fakeHost) raiseStatus(bits ...int) {
	key := regKey{regSysStatus, noSub}
	store := h.regs[key]
	for len(store) < 5 {
		store = append(store, 0)
	}
	for _, b := range bits {
		store[b/8] |= 1 << (b % 8)
	}
	h.regs[key] = store
}

func (h *fakeHost) presetDeviceID() {
	h.setReg(regDevID, noSub, 0x30, 0x01, 0xca, 0xde)
}
