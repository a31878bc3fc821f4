package dw1000

import "fmt"

// Register is the host-side image of one chip register: its file ID, optional
// sub-register offset and a fixed-size byte buffer. The buffer is what a
// transaction reads into or writes from; nothing here touches the bus.
type Register struct {
	addr byte
	sub  uint16
	data []byte
}

// NewRegister allocates a zeroed register image of the given size. The size is
// fixed for the lifetime of the register and every bit or byte index is
// checked against it; an out-of-range index is a programming error and panics.
func NewRegister(addr byte, sub uint16, size int) *Register {
	if size <= 0 {
		panic(fmt.Sprintf("dw1000: register 0x%02x: invalid size %d", addr, size))
	}
	return &Register{addr: addr, sub: sub, data: make([]byte, size)}
}

// Size returns the fixed byte width of the register.
func (r *Register) Size() int { return len(r.data) }

// Clear zero-fills the buffer.
func (r *Register) Clear() {
	for i := range r.data {
		r.data[i] = 0
	}
}

// SetAll fills every byte with v.
func (r *Register) SetAll(v byte) {
	for i := range r.data {
		r.data[i] = v
	}
}

func (r *Register) checkBit(index int) {
	if index < 0 || index >= len(r.data)*8 {
		panic(fmt.Sprintf("dw1000: register 0x%02x: bit %d out of range [0,%d)", r.addr, index, len(r.data)*8))
	}
}

func (r *Register) checkByte(index int) {
	if index < 0 || index >= len(r.data) {
		panic(fmt.Sprintf("dw1000: register 0x%02x: byte %d out of range [0,%d)", r.addr, index, len(r.data)))
	}
}

// SetBit sets or clears the bit at the given index (byte index/8, position
// index%8).
func (r *Register) SetBit(index int, v bool) {
	r.checkBit(index)
	mask := byte(1) << (index % 8)
	if v {
		r.data[index/8] |= mask
	} else {
		r.data[index/8] &^= mask
	}
}

// GetBit reports the bit at the given index.
func (r *Register) GetBit(index int) bool {
	r.checkBit(index)
	return r.data[index/8]&(1<<(index%8)) != 0
}

// SetBits applies the same value to every listed bit. All indices are
// validated before the first one is touched, so a bad index cannot leave the
// buffer partially updated.
func (r *Register) SetBits(indices []int, v bool) {
	for _, i := range indices {
		r.checkBit(i)
	}
	for _, i := range indices {
		r.SetBit(i, v)
	}
}

// GetBitsOr reports whether any of the listed bits is set.
func (r *Register) GetBitsOr(indices []int) bool {
	for _, i := range indices {
		if r.GetBit(i) {
			return true
		}
	}
	return false
}

// WriteValue scatters v little-endian across the whole buffer.
func (r *Register) WriteValue(v uint64) {
	for i := range r.data {
		r.data[i] = byte(v >> (8 * i))
	}
}

// Value gathers the buffer little-endian into an integer.
func (r *Register) Value() uint64 {
	var v uint64
	for i := range r.data {
		v |= uint64(r.data[i]) << (8 * i)
	}
	return v
}

// Byte returns the byte at index.
func (r *Register) Byte(index int) byte {
	r.checkByte(index)
	return r.data[index]
}

// SetByte stores b at index.
func (r *Register) SetByte(index int, b byte) {
	r.checkByte(index)
	r.data[index] = b
}

// Bytes returns a copy of the buffer.
func (r *Register) Bytes() []byte {
	return append([]byte(nil), r.data...)
}

// CopyFrom overwrites the buffer from src, which must have the register's
// exact size.
func (r *Register) CopyFrom(src []byte) {
	if len(src) != len(r.data) {
		panic(fmt.Sprintf("dw1000: register 0x%02x: copy of %d bytes into %d-byte register", r.addr, len(src), len(r.data)))
	}
	copy(r.data, src)
}
