package dw1000

import "fmt"

// OperationMode is a complete radio profile. The six dimensions are not
// independent: the preamble code must belong to the channel and pulse
// frequency, and the PAC size should track the preamble length. The named
// modes below are known-good combinations.
type OperationMode struct {
	DataRate       DataRate
	PulseFrequency PulseFrequency
	PreambleLength PreambleLength
	PreambleCode   PreambleCode
	Channel        Channel
	PACSize        PACSize
}

// Known-good operation modes on channel 5.
var (
	ModeLongDataRangeLowPower = OperationMode{
		DataRate: DataRate110K, PulseFrequency: PRF16MHz,
		PreambleLength: PreambleLen2048, PreambleCode: 4,
		Channel: Channel5, PACSize: PAC64,
	}
	ModeLongDataRangeAccuracy = OperationMode{
		DataRate: DataRate110K, PulseFrequency: PRF64MHz,
		PreambleLength: PreambleLen2048, PreambleCode: 9,
		Channel: Channel5, PACSize: PAC64,
	}
	ModeShortDataFastLowPower = OperationMode{
		DataRate: DataRate6800K, PulseFrequency: PRF16MHz,
		PreambleLength: PreambleLen128, PreambleCode: 4,
		Channel: Channel5, PACSize: PAC8,
	}
	ModeLongDataFastLowPower = OperationMode{
		DataRate: DataRate6800K, PulseFrequency: PRF16MHz,
		PreambleLength: PreambleLen1024, PreambleCode: 4,
		Channel: Channel5, PACSize: PAC32,
	}
	ModeShortDataFastAccuracy = OperationMode{
		DataRate: DataRate6800K, PulseFrequency: PRF64MHz,
		PreambleLength: PreambleLen128, PreambleCode: 9,
		Channel: Channel5, PACSize: PAC8,
	}
	ModeLongDataFastAccuracy = OperationMode{
		DataRate: DataRate6800K, PulseFrequency: PRF64MHz,
		PreambleLength: PreambleLen1024, PreambleCode: 9,
		Channel: Channel5, PACSize: PAC32,
	}
)

// NewConfiguration puts the transceiver in idle and refreshes the staged
// configuration images from the chip, so the setters below modify current
// state instead of stale host copies.
func (d *Device) NewConfiguration() error {
	if err := d.Idle(); err != nil {
		return err
	}
	for _, r := range []*Register{d.panadr, d.syscfg, d.chanctrl, d.txfctrl, d.sysmask} {
		if err := d.readRegister(r); err != nil {
			return err
		}
	}
	return nil
}

// CommitConfiguration writes the staged configuration back and retunes the
// analog registers. Tuning always runs: the tuned values depend on the mode
// registers just written and stale tuning silently degrades range and
// timestamp quality.
func (d *Device) CommitConfiguration() error {
	for _, r := range []*Register{d.panadr, d.syscfg, d.chanctrl, d.txfctrl, d.sysmask, d.ackrespt} {
		if err := d.writeRegister(r); err != nil {
			return err
		}
	}
	return d.Tune()
}

// Configure applies a complete node setup in one call: identity, network
// addressing, operation mode and antenna calibration, committed together.
func (d *Device) Configure(eui [8]byte, addr Address, mode OperationMode, antennaDelay uint16) error {
	if err := d.SetEUI(eui); err != nil {
		return err
	}
	if err := d.NewConfiguration(); err != nil {
		return err
	}
	d.SetDeviceAddress(addr.Short)
	d.SetNetworkID(addr.PAN)
	if err := d.EnableMode(mode); err != nil {
		return err
	}
	if err := d.CommitConfiguration(); err != nil {
		return err
	}
	return d.SetAntennaDelay(antennaDelay)
}

// EnableMode stages all six mode dimensions. Call between NewConfiguration
// and CommitConfiguration.
func (d *Device) EnableMode(m OperationMode) error {
	if err := d.SetDataRate(m.DataRate); err != nil {
		return err
	}
	d.SetPulseFrequency(m.PulseFrequency)
	d.SetPreambleLength(m.PreambleLength)
	d.SetChannel(m.Channel)
	d.SetPreambleCode(m.PreambleCode)
	d.mode = m
	return nil
}

// SetDataRate stages the transmit bit rate and everything coupled to it: the
// 110 kbps receiver mode, the non-standard SFD used below 6.8 Mbps, the SFD
// length and the auto-acknowledge turnaround time.
func (d *Device) SetDataRate(rate DataRate) error {
	d.txfctrl.SetByte(1, d.txfctrl.Byte(1)&dataRateFieldMask|byte(rate)<<5)
	d.syscfg.SetBit(rxm110kBit, rate == DataRate110K)

	nonStandardSFD := rate != DataRate6800K
	d.chanctrl.SetBits([]int{dwsfdBit, tnssfdBit, rnssfdBit}, nonStandardSFD)

	var sfdLen byte
	switch rate {
	case DataRate850K:
		sfdLen = sfdLength850K
	case DataRate6800K:
		sfdLen = sfdLength6800K
	default:
		sfdLen = sfdLengthDefault
	}
	if err := d.writeBytes(regUsrSFD, subSFDLength, []byte{sfdLen}); err != nil {
		return err
	}

	var ackTime byte
	switch rate {
	case DataRate850K:
		ackTime = 2
	case DataRate6800K:
		ackTime = 3
	}
	d.ackrespt.SetByte(3, ackTime)
	d.ackrespt.SetByte(0, 0)
	d.ackrespt.SetByte(1, 0)
	d.ackrespt.SetByte(2, 0)
	return nil
}

// SetPulseFrequency stages the pulse repetition frequency on both the
// transmit and receive sides.
func (d *Device) SetPulseFrequency(freq PulseFrequency) {
	d.txfctrl.SetByte(2, d.txfctrl.Byte(2)&pulseFreqTxMask|byte(freq))
	d.chanctrl.SetByte(2, d.chanctrl.Byte(2)&pulseFreqChanMask|byte(freq)<<2)
}

// SetPreambleLength stages the preamble symbol count. The PreambleLen codes
// already carry the PE/TXPSR field layout.
func (d *Device) SetPreambleLength(length PreambleLength) {
	d.txfctrl.SetByte(2, d.txfctrl.Byte(2)&preambleLenMask|byte(length)<<2)
}

// SetChannel stages the same channel for transmit and receive.
func (d *Device) SetChannel(ch Channel) {
	c := byte(ch) & 0x0f
	d.chanctrl.SetByte(0, c|c<<4)
}

// SetPreambleCode stages the same preamble code for transmit and receive.
// The code spans the CHAN_CTRL byte boundary.
func (d *Device) SetPreambleCode(code PreambleCode) {
	c := byte(code) & preambleCodeMask
	d.chanctrl.SetByte(2, d.chanctrl.Byte(2)&preambleCodeHiMask|c<<6)
	d.chanctrl.SetByte(3, c>>2&preambleCode3Mask|c<<3)
}

// tuneEntry is one analog tuning register write: target, width and the value
// scattered little-endian across it.
type tuneEntry struct {
	addr  byte
	sub   uint16
	size  int
	value uint64
}

// Tune reprograms the analog and leading-edge tuning registers for the staged
// operation mode. The crystal trim comes from factory OTP; an unprogrammed
// word falls back to the mid-range trim step.
func (d *Device) Tune() error {
	trim, err := d.xtalTrim()
	if err != nil {
		return err
	}
	profile, err := tuningProfile(d.mode, trim)
	if err != nil {
		return err
	}
	for _, e := range profile {
		r := NewRegister(e.addr, e.sub, e.size)
		r.WriteValue(e.value)
		if err := d.writeRegister(r); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) xtalTrim() (byte, error) {
	word, err := d.readOTP(otpXtalAddress)
	if err != nil {
		return 0, err
	}
	trim := word[0] & fsXtaltMask
	if trim == 0 {
		trim = fsXtaltMidrange
	}
	return trim, nil
}

// tuningProfile resolves the full tuning write list for a mode. Pure lookup,
// no bus access; the write order follows the register map.
func tuningProfile(m OperationMode, xtalTrim byte) ([]tuneEntry, error) {
	agcTune1, err := agcTune1Value(m.PulseFrequency)
	if err != nil {
		return nil, err
	}
	drxTune1a, err := drxTune1aValue(m.PulseFrequency)
	if err != nil {
		return nil, err
	}
	drxTune2, err := drxTune2Value(m.PACSize, m.PulseFrequency)
	if err != nil {
		return nil, err
	}
	rfTxCtrl, pgDelay, pllCfg, pllTune, txPower16, txPower64, err := channelValues(m.Channel)
	if err != nil {
		return nil, err
	}
	txPower := txPower16
	if m.PulseFrequency == PRF64MHz {
		txPower = txPower64
	}
	ldeCfg2 := uint64(0x1607)
	if m.PulseFrequency == PRF64MHz {
		ldeCfg2 = 0x0607
	}
	ldeRepC, err := ldeRepCValue(m.PreambleCode, m.DataRate)
	if err != nil {
		return nil, err
	}

	return []tuneEntry{
		{regAGCCtrl, subAGCTune1, 2, agcTune1},
		{regAGCCtrl, subAGCTune2, 4, 0x2502a907},
		{regAGCCtrl, subAGCTune3, 2, 0x0035},
		{regDRXConf, subDRXTune0b, 2, drxTune0bValue(m.DataRate)},
		{regDRXConf, subDRXTune1a, 2, drxTune1a},
		{regDRXConf, subDRXTune1b, 2, drxTune1bValue(m.PreambleLength, m.DataRate)},
		{regDRXConf, subDRXTune2, 4, drxTune2},
		{regDRXConf, subDRXTune4H, 2, drxTune4HValue(m.PreambleLength)},
		{regRFConf, subRFRxCtrlH, 1, rfRxCtrlHValue(m.Channel)},
		{regRFConf, subRFTxCtrl, 4, rfTxCtrl},
		{regTxCal, subTCPGDelay, 1, pgDelay},
		{regFSCtrl, subFSPLLCfg, 4, pllCfg},
		{regFSCtrl, subFSPLLTune, 1, pllTune},
		{regLDEIf, subLDECfg1, 1, 0x0d},
		{regLDEIf, subLDECfg2, 2, ldeCfg2},
		{regLDEIf, subLDERepC, 2, ldeRepC},
		{regTxPower, noSub, 4, txPower},
		{regFSCtrl, subFSXtalt, 1, uint64(xtalTrim&fsXtaltMask | fsXtaltBias)},
	}, nil
}

func agcTune1Value(prf PulseFrequency) (uint64, error) {
	switch prf {
	case PRF16MHz:
		return 0x8870, nil
	case PRF64MHz:
		return 0x889b, nil
	}
	return 0, fmt.Errorf("dw1000: unsupported pulse frequency 0x%02x", byte(prf))
}

func drxTune0bValue(rate DataRate) uint64 {
	switch rate {
	case DataRate850K:
		return 0x0006
	case DataRate6800K:
		return 0x0001
	}
	return 0x0016
}

func drxTune1aValue(prf PulseFrequency) (uint64, error) {
	switch prf {
	case PRF16MHz:
		return 0x0087, nil
	case PRF64MHz:
		return 0x008d, nil
	}
	return 0, fmt.Errorf("dw1000: unsupported pulse frequency 0x%02x", byte(prf))
}

func drxTune1bValue(length PreambleLength, rate DataRate) uint64 {
	longPreamble := length == PreambleLen1536 || length == PreambleLen2048 ||
		length == PreambleLen4096
	switch {
	case longPreamble && rate == DataRate110K:
		return 0x0064
	case !longPreamble && length != PreambleLen64 && rate != DataRate110K:
		return 0x0020
	case length == PreambleLen64 && rate == DataRate6800K:
		return 0x0010
	}
	return 0
}

func drxTune2Value(pac PACSize, prf PulseFrequency) (uint64, error) {
	type key struct {
		pac PACSize
		prf PulseFrequency
	}
	values := map[key]uint64{
		{PAC8, PRF16MHz}:  0x311a002d,
		{PAC8, PRF64MHz}:  0x313b006b,
		{PAC16, PRF16MHz}: 0x331a0052,
		{PAC16, PRF64MHz}: 0x333b00be,
		{PAC32, PRF16MHz}: 0x351a009a,
		{PAC32, PRF64MHz}: 0x353b015e,
		{PAC64, PRF16MHz}: 0x371a011d,
		{PAC64, PRF64MHz}: 0x373b0296,
	}
	v, ok := values[key{pac, prf}]
	if !ok {
		return 0, fmt.Errorf("dw1000: unsupported PAC size %d at pulse frequency 0x%02x", byte(pac), byte(prf))
	}
	return v, nil
}

func drxTune4HValue(length PreambleLength) uint64 {
	if length == PreambleLen64 {
		return 0x0010
	}
	return 0x0028
}

func rfRxCtrlHValue(ch Channel) uint64 {
	// Channels 4 and 7 use the wideband front end.
	if ch == Channel4 || ch == Channel7 {
		return 0xbc
	}
	return 0xd8
}

func channelValues(ch Channel) (rfTxCtrl, pgDelay, pllCfg, pllTune, txPower16, txPower64 uint64, err error) {
	switch ch {
	case Channel1:
		return 0x00005c40, 0xc9, 0x09000407, 0x1e, 0x75757575, 0x67676767, nil
	case Channel2:
		return 0x00045ca0, 0xc2, 0x08400508, 0x26, 0x75757575, 0x67676767, nil
	case Channel3:
		return 0x00086cc0, 0xc5, 0x08401009, 0x56, 0x6f6f6f6f, 0x8b8b8b8b, nil
	case Channel4:
		return 0x00045c80, 0x95, 0x08400508, 0x26, 0x5f5f5f5f, 0x9a9a9a9a, nil
	case Channel5:
		return 0x001e3fe0, 0xc0, 0x0800041d, 0xbe, 0x48484848, 0x85858585, nil
	case Channel7:
		return 0x001e7de0, 0x93, 0x0800041d, 0xbe, 0x92929292, 0xd1d1d1d1, nil
	}
	return 0, 0, 0, 0, 0, 0, fmt.Errorf("dw1000: unsupported channel %d", byte(ch))
}

func ldeRepCValue(code PreambleCode, rate DataRate) (uint64, error) {
	values := map[PreambleCode]uint64{
		1: 0x5998, 2: 0x5998, 3: 0x51ea, 4: 0x428e, 5: 0x451e,
		6: 0x2e14, 7: 0x8000, 8: 0x51ea, 9: 0x28f4, 10: 0x3332,
		11: 0x3ae0, 12: 0x3d70, 17: 0x3332, 18: 0x35c2, 19: 0x35c2,
		20: 0x47ae,
	}
	v, ok := values[code]
	if !ok {
		return 0, fmt.Errorf("dw1000: unsupported preamble code %d", byte(code))
	}
	// At 110 kbps the replica coefficient is reduced by a factor of 8.
	if rate == DataRate110K {
		v >>= 3
	}
	return v, nil
}
