package dw1000

import (
	"errors"
	"math"
)

var ErrShortTimestamp = errors.New("dw1000: buffer too short for timestamp")

// Timestamp is a device time value: a 40-bit counter in units of about
// 15.65 picoseconds. Arithmetic on timestamps must go through WrapTimestamp
// to stay inside the counter range.
type Timestamp int64

// TimestampLength is the wire width of an embedded timestamp.
const TimestampLength = 5

// WrapTimestamp folds t back into the 40-bit counter range. Differences
// across a counter overflow come out negative and are wrapped forward.
func WrapTimestamp(t Timestamp) Timestamp {
	t %= Timestamp(timeOverflow)
	if t < 0 {
		t += Timestamp(timeOverflow)
	}
	return t
}

// EmbedTimestamp appends t little-endian to a payload.
func EmbedTimestamp(payload []byte, t Timestamp) []byte {
	for i := 0; i < TimestampLength; i++ {
		payload = append(payload, byte(t>>(8*i)))
	}
	return payload
}

// ExtractTimestamp reads a timestamp embedded at the start of payload.
func ExtractTimestamp(payload []byte) (Timestamp, error) {
	if len(payload) < TimestampLength {
		return 0, ErrShortTimestamp
	}
	var t Timestamp
	for i := 0; i < TimestampLength; i++ {
		t |= Timestamp(payload[i]) << (8 * i)
	}
	return t, nil
}

func (d *Device) readTimestamp(addr byte, sub uint16) (Timestamp, error) {
	r := NewRegister(addr, sub, TimestampLength)
	if err := d.readRegister(r); err != nil {
		return 0, err
	}
	return Timestamp(r.Value()), nil
}

// TransmitTimestamp returns the raw marker time of the last transmitted
// frame.
func (d *Device) TransmitTimestamp() (Timestamp, error) {
	return d.readTimestamp(regTxTime, subTxStamp)
}

// ReceiveTimestamp returns the marker time of the last received frame with
// the signal-power range bias removed.
func (d *Device) ReceiveTimestamp() (Timestamp, error) {
	raw, err := d.readTimestamp(regRxTime, subRxStamp)
	if err != nil {
		return 0, err
	}
	power, err := d.ReceivePower()
	if err != nil {
		return 0, err
	}
	return correctTimestamp(raw, power, d.mode.Channel, d.mode.PulseFrequency), nil
}

// rxDiagnostics holds the quality readings latched for the last received
// frame.
type rxDiagnostics struct {
	stdNoise      float64
	fpAmpl1       float64
	fpAmpl2       float64
	fpAmpl3       float64
	cirPower      float64
	preambleCount float64
}

func (d *Device) readDiagnostics() (rxDiagnostics, error) {
	var diag rxDiagnostics

	fqual := NewRegister(regRxFQual, noSub, 8)
	if err := d.readRegister(fqual); err != nil {
		return diag, err
	}
	word := func(i int) float64 {
		return float64(uint16(fqual.Byte(i)) | uint16(fqual.Byte(i+1))<<8)
	}
	diag.stdNoise = word(int(subStdNoise))
	diag.fpAmpl2 = word(int(subFPAmpl2))
	diag.fpAmpl3 = word(int(subFPAmpl3))
	diag.cirPower = word(int(subCIRPwr))

	ampl1 := NewRegister(regRxTime, subFPAmpl1, 2)
	if err := d.readRegister(ampl1); err != nil {
		return diag, err
	}
	diag.fpAmpl1 = float64(ampl1.Value())

	if err := d.readRegister(d.rxfinfo); err != nil {
		return diag, err
	}
	// RXPACC spans the upper 12 bits of the register.
	diag.preambleCount = float64(int(d.rxfinfo.Byte(2))>>4&0xff | int(d.rxfinfo.Byte(3))<<4)
	return diag, nil
}

func powerAdjust(prf PulseFrequency) float64 {
	if prf == PRF64MHz {
		return powerAdjustPRF64
	}
	return powerAdjustPRF16
}

func corrFactor(prf PulseFrequency) float64 {
	if prf == PRF64MHz {
		return corrFactorPRF64
	}
	return corrFactorPRF16
}

// saturationCorrect compensates estimates above -88 dBm, where the estimator
// compresses.
func saturationCorrect(estimate float64, prf PulseFrequency) float64 {
	if estimate > -powerThreshold {
		estimate += (estimate + powerThreshold) * corrFactor(prf)
	}
	return estimate
}

// firstPathPower estimates the first-path signal power in dBm from the three
// first-path amplitudes and the preamble accumulation count.
func firstPathPower(f1, f2, f3, preambleCount float64, prf PulseFrequency) float64 {
	estimate := 10*math.Log10((f1*f1+f2*f2+f3*f3)/(preambleCount*preambleCount)) - powerAdjust(prf)
	return saturationCorrect(estimate, prf)
}

// receivePower estimates the overall receive power in dBm from the channel
// impulse response power and the preamble accumulation count. A non-positive
// log argument yields a zero estimate, which then goes through saturation
// correction like any other value.
func receivePower(cirPower, preambleCount float64, prf PulseFrequency) float64 {
	estimate := 0.0
	if arg := cirPower * twoPower17 / (preambleCount * preambleCount); arg > 0 {
		estimate = 10*math.Log10(arg) - powerAdjust(prf)
	}
	return saturationCorrect(estimate, prf)
}

// receiveQuality is the ratio of the squared mid first-path amplitude to the
// noise standard deviation.
func receiveQuality(fpAmpl2, stdNoise float64) float64 {
	return fpAmpl2 * fpAmpl2 / stdNoise
}

// FirstPathPower reads the diagnostics for the last frame and estimates its
// first-path power in dBm.
func (d *Device) FirstPathPower() (float64, error) {
	diag, err := d.readDiagnostics()
	if err != nil {
		return 0, err
	}
	return firstPathPower(diag.fpAmpl1, diag.fpAmpl2, diag.fpAmpl3,
		diag.preambleCount, d.mode.PulseFrequency), nil
}

// ReceivePower reads the diagnostics for the last frame and estimates its
// receive power in dBm.
func (d *Device) ReceivePower() (float64, error) {
	diag, err := d.readDiagnostics()
	if err != nil {
		return 0, err
	}
	return receivePower(diag.cirPower, diag.preambleCount, d.mode.PulseFrequency), nil
}

// ReceiveQuality reads the diagnostics for the last frame and returns its
// link quality figure.
func (d *Device) ReceiveQuality() (float64, error) {
	diag, err := d.readDiagnostics()
	if err != nil {
		return 0, err
	}
	return receiveQuality(diag.fpAmpl2, diag.stdNoise), nil
}

// Range bias magnitudes in quarter-centimeter steps, indexed by receive power
// bracket. Entries below the zero index are negative; sign is stored
// separately to keep the tables readable against the calibration data.
var (
	bias500MHz16 = biasTable{
		values: [18]float64{198, 187, 179, 163, 143, 127, 109, 84, 59, 31, 0, 36, 65, 84, 97, 106, 110, 112},
		zero:   10,
	}
	bias500MHz64 = biasTable{
		values: [18]float64{110, 105, 100, 93, 82, 69, 51, 27, 0, 21, 35, 42, 49, 62, 71, 76, 81, 86},
		zero:   8,
	}
	bias900MHz16 = biasTable{
		values: [18]float64{137, 122, 105, 88, 69, 47, 25, 0, 21, 48, 79, 105, 127, 147, 160, 169, 178, 197},
		zero:   7,
	}
	bias900MHz64 = biasTable{
		values: [18]float64{147, 133, 117, 99, 75, 50, 29, 0, 24, 45, 63, 76, 87, 98, 116, 122, 132, 142},
		zero:   7,
	}
)

type biasTable struct {
	values [18]float64
	zero   int
}

func (t biasTable) at(i int) float64 {
	v := t.values[i] * 2
	if i < t.zero {
		return -v
	}
	return v
}

func rangeBiasTable(ch Channel, prf PulseFrequency) biasTable {
	// Channels 4 and 7 run the 900 MHz bandwidth.
	wide := ch == Channel4 || ch == Channel7
	switch {
	case wide && prf == PRF64MHz:
		return bias900MHz64
	case wide:
		return bias900MHz16
	case prf == PRF64MHz:
		return bias500MHz64
	}
	return bias500MHz16
}

// correctTimestamp removes the signal-power dependent range bias from a raw
// receive timestamp. The bias is interpolated between calibration brackets
// spaced 2 dBm apart and converted from distance to device time.
func correctTimestamp(raw Timestamp, power float64, ch Channel, prf PulseFrequency) Timestamp {
	table := rangeBiasTable(ch, prf)

	base := -(power + 61) * 0.5
	low := int(math.Floor(base))
	high := int(math.Ceil(base))
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i > len(table.values)-1 {
			return len(table.values) - 1
		}
		return i
	}
	low, high = clamp(low), clamp(high)

	bias := table.at(low)
	if high != low {
		frac := base - math.Floor(base)
		bias += (table.at(high) - table.at(low)) * frac
	}

	adjustment := Timestamp(math.Round(bias * distanceOfRadioInv * biasToTimeFactor))
	return WrapTimestamp(raw + adjustment)
}
