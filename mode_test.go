package dw1000

import (
	"bytes"
	"testing"
)

func findEntry(t *testing.T, profile []tuneEntry, addr byte, sub uint16) tuneEntry {
	t.Helper()
	for _, e := range profile {
		if e.addr == addr && e.sub == sub {
			return e
		}
	}
	t.Fatalf("no tuning entry for register 0x%02x sub 0x%04x", addr, sub)
	return tuneEntry{}
}

func TestTuningProfileFastAccuracyChannel5(t *testing.T) {
	profile, err := tuningProfile(ModeShortDataFastAccuracy, fsXtaltMidrange)
	if err != nil {
		t.Fatal(err)
	}
	if len(profile) != 18 {
		t.Fatalf("%d tuning entries, want 18", len(profile))
	}

	checks := []struct {
		addr byte
		sub  uint16
		want uint64
	}{
		{regAGCCtrl, subAGCTune1, 0x889b},
		{regAGCCtrl, subAGCTune2, 0x2502a907},
		{regDRXConf, subDRXTune1a, 0x008d},
		{regDRXConf, subDRXTune2, 0x313b006b},
		{regDRXConf, subDRXTune4H, 0x0028},
		{regRFConf, subRFRxCtrlH, 0xd8},
		{regRFConf, subRFTxCtrl, 0x001e3fe0},
		{regTxCal, subTCPGDelay, 0xc0},
		{regFSCtrl, subFSPLLCfg, 0x0800041d},
		{regFSCtrl, subFSPLLTune, 0xbe},
		{regLDEIf, subLDECfg2, 0x0607},
		{regLDEIf, subLDERepC, 0x28f4},
		{regTxPower, noSub, 0x85858585},
		{regFSCtrl, subFSXtalt, 0x70},
	}
	for _, c := range checks {
		if got := findEntry(t, profile, c.addr, c.sub); got.value != c.want {
			t.Errorf("register 0x%02x sub 0x%04x: 0x%x, want 0x%x", c.addr, c.sub, got.value, c.want)
		}
	}
}

func TestTuningProfileIsDeterministic(t *testing.T) {
	a, err := tuningProfile(ModeLongDataRangeLowPower, 0x0a)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tuningProfile(ModeLongDataRangeLowPower, 0x0a)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatal("profile length varies between calls")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("entry %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestReplicaCoefficientReducedAt110K(t *testing.T) {
	fast, err := ldeRepCValue(9, DataRate6800K)
	if err != nil {
		t.Fatal(err)
	}
	slow, err := ldeRepCValue(9, DataRate110K)
	if err != nil {
		t.Fatal(err)
	}
	if fast != 0x28f4 || slow != 0x28f4>>3 {
		t.Fatalf("replica coefficients 0x%x / 0x%x", fast, slow)
	}
}

func TestTuningProfileRejectsInvalidMode(t *testing.T) {
	bad := ModeShortDataFastAccuracy
	bad.Channel = 6
	if _, err := tuningProfile(bad, 0x10); err == nil {
		t.Error("channel 6 accepted")
	}
	bad = ModeShortDataFastAccuracy
	bad.PreambleCode = 13
	if _, err := tuningProfile(bad, 0x10); err == nil {
		t.Error("preamble code 13 accepted")
	}
	bad = ModeShortDataFastAccuracy
	bad.PACSize = 7
	if _, err := tuningProfile(bad, 0x10); err == nil {
		t.Error("PAC size 7 accepted")
	}
}

func TestModeSetterBitLayout(t *testing.T) {
	d, h := newTestDevice(t)
	if err := d.EnableMode(ModeShortDataFastAccuracy); err != nil {
		t.Fatal(err)
	}

	if got := d.txfctrl.Byte(1); got != 0x40 {
		t.Errorf("TX_FCTRL data rate byte 0x%02x, want 0x40", got)
	}
	if got := d.txfctrl.Byte(2); got != 0x52 {
		t.Errorf("TX_FCTRL PRF/preamble byte 0x%02x, want 0x52", got)
	}
	if got := d.chanctrl.Byte(0); got != 0x55 {
		t.Errorf("CHAN_CTRL channel byte 0x%02x, want 0x55", got)
	}
	if got := d.chanctrl.Byte(2); got != 0x48 {
		t.Errorf("CHAN_CTRL PRF/code byte 0x%02x, want 0x48", got)
	}
	if got := d.chanctrl.Byte(3); got != 0x4a {
		t.Errorf("CHAN_CTRL code byte 0x%02x, want 0x4a", got)
	}
	if d.syscfg.GetBit(rxm110kBit) {
		t.Error("110 kbps receiver mode set for 6800 kbps")
	}
	if d.chanctrl.GetBitsOr([]int{dwsfdBit, tnssfdBit, rnssfdBit}) {
		t.Error("non-standard SFD selected at 6800 kbps")
	}
	sfd := h.lastWrite(t, regUsrSFD, subSFDLength)
	if sfd[0] != sfdLength6800K {
		t.Errorf("SFD length 0x%02x, want 0x%02x", sfd[0], sfdLength6800K)
	}
	if got := d.ackrespt.Byte(3); got != 3 {
		t.Errorf("acknowledge time %d, want 3", got)
	}
}

func TestModeSetter110KCouplings(t *testing.T) {
	d, h := newTestDevice(t)
	if err := d.SetDataRate(DataRate110K); err != nil {
		t.Fatal(err)
	}
	if !d.syscfg.GetBit(rxm110kBit) {
		t.Error("110 kbps receiver mode not set")
	}
	if !d.chanctrl.GetBit(dwsfdBit) || !d.chanctrl.GetBit(tnssfdBit) || !d.chanctrl.GetBit(rnssfdBit) {
		t.Error("non-standard SFD not selected at 110 kbps")
	}
	sfd := h.lastWrite(t, regUsrSFD, subSFDLength)
	if sfd[0] != sfdLengthDefault {
		t.Errorf("SFD length 0x%02x, want 0x%02x", sfd[0], sfdLengthDefault)
	}
}

func TestTuneFallsBackToMidrangeTrim(t *testing.T) {
	d, h := newTestDevice(t)
	d.mode = ModeShortDataFastAccuracy
	// OTP reads as zero on an unprogrammed part.
	if err := d.Tune(); err != nil {
		t.Fatal(err)
	}
	got := h.lastWrite(t, regFSCtrl, subFSXtalt)
	if got[0] != 0x70 {
		t.Errorf("crystal trim 0x%02x, want midrange 0x70", got[0])
	}
}

func TestDRXTune1bDispatch(t *testing.T) {
	tests := []struct {
		length PreambleLength
		rate   DataRate
		want   uint64
	}{
		{PreambleLen2048, DataRate110K, 0x0064},
		{PreambleLen4096, DataRate110K, 0x0064},
		{PreambleLen128, DataRate850K, 0x0020},
		{PreambleLen1024, DataRate6800K, 0x0020},
		{PreambleLen64, DataRate6800K, 0x0010},
		{PreambleLen64, DataRate850K, 0},
		{PreambleLen128, DataRate110K, 0},
		// Long preambles at the faster rates fall through to zero.
		{PreambleLen2048, DataRate6800K, 0},
		{PreambleLen1536, DataRate850K, 0},
	}
	for _, tt := range tests {
		if got := drxTune1bValue(tt.length, tt.rate); got != tt.want {
			t.Errorf("preamble 0x%02x rate %d: 0x%04x, want 0x%04x",
				byte(tt.length), tt.rate, got, tt.want)
		}
	}
}

func TestConfigureAppliesFullSetup(t *testing.T) {
	d, h := newTestDevice(t)
	eui := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	addr := Address{Short: 0x1234, PAN: 0xcafe}
	err := d.Configure(eui, addr, ModeShortDataFastAccuracy, 16384)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.lastWrite(t, regEUI, noSub); !bytes.Equal(got, []byte{8, 7, 6, 5, 4, 3, 2, 1}) {
		t.Errorf("EUI % 02x", got)
	}
	pan := h.lastWrite(t, regPANADR, noSub)
	if !bytes.Equal(pan, []byte{0x34, 0x12, 0xfe, 0xca}) {
		t.Errorf("PANADR % 02x", pan)
	}
	if got := h.lastWrite(t, regFSCtrl, subFSPLLCfg); !bytes.Equal(got, []byte{0x1d, 0x04, 0x00, 0x08}) {
		t.Errorf("PLL configuration % 02x, not tuned for channel 5", got)
	}
	if got := h.lastWrite(t, regTxAntD, noSub); !bytes.Equal(got, []byte{0x00, 0x40}) {
		t.Errorf("antenna delay % 02x", got)
	}
	if d.mode != ModeShortDataFastAccuracy {
		t.Error("mode not recorded")
	}
}

func TestCommitConfigurationWritesStagedRegisters(t *testing.T) {
	d, h := newTestDevice(t)
	d.mode = ModeShortDataFastAccuracy
	d.SetDeviceAddress(0x1234)
	d.SetNetworkID(0xcafe)
	if err := d.CommitConfiguration(); err != nil {
		t.Fatal(err)
	}
	pan := h.lastWrite(t, regPANADR, noSub)
	if !bytes.Equal(pan, []byte{0x34, 0x12, 0xfe, 0xca}) {
		t.Errorf("PANADR % 02x", pan)
	}
	// Tuning always follows a commit.
	if len(h.writesTo(regFSCtrl, subFSPLLCfg)) == 0 {
		t.Error("commit did not retune")
	}
}
