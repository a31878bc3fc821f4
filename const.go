package dw1000

import "time"

type DataRate byte
type PulseFrequency byte
type PreambleLength byte
type PreambleCode byte
type Channel byte
type PACSize byte
type ClockMode byte

// Register file IDs.
const (
	regDevID     byte = 0x00
	regEUI       byte = 0x01
	regPANADR    byte = 0x03
	regSysCfg    byte = 0x04
	regSysTime   byte = 0x06
	regTxFCtrl   byte = 0x08
	regTxBuffer  byte = 0x09
	regDXTime    byte = 0x0a
	regRxFWTO    byte = 0x0c
	regSysCtrl   byte = 0x0d
	regSysMask   byte = 0x0e
	regSysStatus byte = 0x0f
	regRxFInfo   byte = 0x10
	regRxBuffer  byte = 0x11
	regRxFQual   byte = 0x12
	regRxTime    byte = 0x15
	regTxTime    byte = 0x17
	regTxAntD    byte = 0x18
	regAckRespT  byte = 0x1a
	regTxPower   byte = 0x1e
	regChanCtrl  byte = 0x1f
	regUsrSFD    byte = 0x21
	regAGCCtrl   byte = 0x23
	regGPIOCtrl  byte = 0x26
	regDRXConf   byte = 0x27
	regRFConf    byte = 0x28
	regTxCal     byte = 0x2a
	regFSCtrl    byte = 0x2b
	regOTPIf     byte = 0x2d
	regLDEIf     byte = 0x2e
	regPMSC      byte = 0x36
)

// Sub-register offsets. noSub marks registers addressed without an offset.
const (
	noSub uint16 = 0xffff

	subGPIOMode  uint16 = 0x00
	subPMSCCtrl0 uint16 = 0x00
	subPMSCLEDC  uint16 = 0x28

	subOTPAddr uint16 = 0x04
	subOTPCtrl uint16 = 0x06
	subOTPRdat uint16 = 0x0a

	subAGCTune1 uint16 = 0x04
	subAGCTune2 uint16 = 0x0c
	subAGCTune3 uint16 = 0x12

	subDRXTune0b uint16 = 0x02
	subDRXTune1a uint16 = 0x04
	subDRXTune1b uint16 = 0x06
	subDRXTune2  uint16 = 0x08
	subDRXTune4H uint16 = 0x26

	subRFRxCtrlH uint16 = 0x0b
	subRFTxCtrl  uint16 = 0x0c
	subTCPGDelay uint16 = 0x0b

	subFSPLLCfg  uint16 = 0x07
	subFSPLLTune uint16 = 0x0b
	subFSXtalt   uint16 = 0x0e

	// LDE interface offsets live past the 7-bit boundary and use the
	// extended three-byte transaction header.
	subLDECfg1   uint16 = 0x0806
	subLDERxAntD uint16 = 0x1804
	subLDECfg2   uint16 = 0x1806
	subLDERepC   uint16 = 0x2804

	subSFDLength uint16 = 0x00

	subRxStamp uint16 = 0x00
	subFPAmpl1 uint16 = 0x07

	subStdNoise uint16 = 0x00
	subFPAmpl2  uint16 = 0x02
	subFPAmpl3  uint16 = 0x04
	subCIRPwr   uint16 = 0x06

	subTxStamp uint16 = 0x00
)

// Transaction header flags.
const (
	hdrWrite  byte = 0x80
	hdrSub    byte = 0x40
	hdrSubExt byte = 0x80
	junkByte  byte = 0x00

	maxSubAddr  = 0x7fff
	subExtShift = 7
)

// SYS_CTRL bits.
const (
	sfcstBit     = 0
	txstrtBit    = 1
	txdlysBit    = 2
	trxoffBit    = 6
	wait4respBit = 7
	rxenabBit    = 8
	rxdlyeBit    = 9
	hrbptBit     = 24
)

// SYS_CFG bits.
const (
	hirqPolBit = 9
	disDRXBBit = 12
	rxm110kBit = 22
	rxwtoeBit  = 28
	rxautrBit  = 29
)

// SYS_STATUS bits. The register is five bytes wide.
const (
	irqsBit     = 0
	cplockBit   = 1
	esyncrBit   = 2
	aatBit      = 3
	txfrbBit    = 4
	txprsBit    = 5
	txphsBit    = 6
	txfrsBit    = 7
	rxprdBit    = 8
	rxsfddBit   = 9
	ldedoneBit  = 10
	rxphdBit    = 11
	rxpheBit    = 12
	rxdfrBit    = 13
	rxfcgBit    = 14
	rxfceBit    = 15
	rxrfslBit   = 16
	rxrftoBit   = 17
	ldeerrBit   = 18
	rxovrrBit   = 20
	rxptoBit    = 21
	gpioirqBit  = 22
	slp2initBit = 23
	rfpllllBit  = 24
	clkpllllBit = 25
	rxsfdtoBit  = 26
	hpdwarnBit  = 27
	txberrBit   = 28
	affrejBit   = 29
	hsrbpBit    = 30
	icrbpBit    = 31
	rxrscsBit   = 32
	rxprejBit   = 33
	txputeBit   = 34
)

// SYS_MASK bits share positions with the low SYS_STATUS word.
const (
	mldedoneBit = 10
	mrxdfrBit   = 13
	mrxfcgBit   = 14
	mrxfceBit   = 15
)

// CHAN_CTRL bits.
const (
	dwsfdBit  = 17
	tnssfdBit = 20
	rnssfdBit = 21
)

const (
	ClockAuto ClockMode = 0x00
	ClockXTI  ClockMode = 0x01
	ClockPLL  ClockMode = 0x02
)

// PMSC_CTRL0 soft reset and clock staging values.
const (
	softResetSysClks byte = 0x01
	softResetClear   byte = 0x00
	softResetSet     byte = 0xf0
	softResetRx      byte = 0xe0

	clockAutoByte1Mask byte = 0xfe
	clockXTIByte0Mask  byte = 0xfc
)

// LDE microcode load steps. The pause between the kick and the restore is a
// hardware requirement; shortening it corrupts timestamp calibration without
// any error indication.
const (
	ldeClockByte0   byte = 0x01
	ldeClockByte1   byte = 0x03
	ldeKickByte0    byte = 0x00
	ldeKickByte1    byte = 0x80
	ldeRestoreByte0 byte = 0x00
	ldeRestoreByte1 byte = 0x02

	ldeLoadPause = 150 * time.Microsecond
)

const (
	resetHold = 200 * time.Millisecond
	initDelay = 5 * time.Millisecond
)

const expectedDeviceID uint32 = 0xdeca0130

const (
	DataRate110K  DataRate = 0x00
	DataRate850K  DataRate = 0x01
	DataRate6800K DataRate = 0x02
)

const (
	PRF16MHz PulseFrequency = 0x01
	PRF64MHz PulseFrequency = 0x02
)

const (
	PreambleLen64   PreambleLength = 0x04
	PreambleLen128  PreambleLength = 0x14
	PreambleLen256  PreambleLength = 0x24
	PreambleLen512  PreambleLength = 0x34
	PreambleLen1024 PreambleLength = 0x08
	PreambleLen1536 PreambleLength = 0x18
	PreambleLen2048 PreambleLength = 0x28
	PreambleLen4096 PreambleLength = 0x0c
)

const (
	Channel1 Channel = 1
	Channel2 Channel = 2
	Channel3 Channel = 3
	Channel4 Channel = 4
	Channel5 Channel = 5
	Channel7 Channel = 7
)

const (
	PAC8  PACSize = 8
	PAC16 PACSize = 16
	PAC32 PACSize = 32
	PAC64 PACSize = 64
)

// SFD length codes written to USR_SFD, derived from the data rate.
const (
	sfdLength850K    byte = 0x10
	sfdLength6800K   byte = 0x08
	sfdLengthDefault byte = 0x40
)

// TX_FCTRL / CHAN_CTRL field masks used by the mode setters.
const (
	dataRateFieldMask  byte = 0x83
	pulseFreqTxMask    byte = 0xfc
	pulseFreqChanMask  byte = 0xf3
	preambleLenMask    byte = 0xc3
	preambleCodeMask   byte = 0x1f
	preambleCodeHiMask byte = 0x3f
	preambleCode3Mask  byte = 0x07
	frameLenHighMask   byte = 0x03
	frameLenFieldMask  byte = 0xfc
)

// FS_XTALT crystal trim packing and the nominal mid-range default used when
// the factory OTP word is unprogrammed.
const (
	fsXtaltMidrange byte = 0x10
	fsXtaltMask     byte = 0x1f
	fsXtaltBias     byte = 0x60
)

// OTP interface control sequence.
const (
	otpXtalAddress uint16 = 0x001e
	otpCtrlPrime   byte   = 0x03
	otpCtrlRead    byte   = 0x01
	otpCtrlDone    byte   = 0x00
)

// LED wiring through GPIO_MODE and PMSC.
const (
	pmscLEDClockByte byte = 0x84
	pmscLEDBlinkTim  byte = 0x20
	pmscLEDBlinkEn        = 8
)

// Receive power estimation constants (user manual §4.7). The adjustment A and
// the saturation correction factor depend on the pulse repetition frequency.
const (
	powerAdjustPRF16 = 113.77
	powerAdjustPRF64 = 121.74
	corrFactorPRF16  = 2.3334
	corrFactorPRF64  = 1.1667
	powerThreshold   = 88.0
	twoPower17       = 131072.0
)

// Device time base: 40-bit counter at 1/(128*499.2 MHz) per tick.
const (
	timeOverflow       = int64(1) << 40
	timeUnitsPerMicro  = 63897.6036
	distanceOfRadioInv = 213.139451293
	biasToTimeFactor   = 0.001

	delayGranularity byte = 0xfe
)

// DefaultAntennaDelay is the calibration offset applied to delayed-start
// times, in device time units.
const DefaultAntennaDelay = 16384

const (
	frameLengthMask = 0x03ff
	crcLength       = 2
)
