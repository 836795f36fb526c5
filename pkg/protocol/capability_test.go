package protocol

import (
	"bytes"
	"testing"
)

func fullCaps() Capabilities {
	return Capabilities{
		Modems:      SupportV27ter | SupportV29 | SupportV17,
		Compression: SupportT41D | SupportT42D | SupportT6,
		Resolutions: SupportStandardResolution | SupportFineResolution | SupportSuperfineResolution | SupportR8Resolution,
		Sizes:       Support215mmWidth | SupportUnlimitedLength | SupportUSLetterLength | SupportUSLegalLength,
		ECM:         true,
	}
}

func TestCapabilityVector_BitAddressing(t *testing.T) {
	v := NewCapabilityVector(FCFDIS)

	// Bit n lives in octet 3+(n-1)/8 at position (n-1)%8.
	v.SetBit(1)
	if v.Bytes()[3]&0x01 == 0 {
		t.Error("Bit 1 should set octet 3 bit 0")
	}
	v.SetBit(16)
	if v.Bytes()[4]&0x80 == 0 {
		t.Error("Bit 16 should set octet 4 bit 7")
	}
	v.SetBit(27)
	if v.Bytes()[6]&0x04 == 0 {
		t.Error("Bit 27 should set octet 6 bit 2")
	}
	if !v.Bit(27) {
		t.Error("Bit(27) should report the bit just set")
	}
	v.ClearBit(27)
	if v.Bit(27) {
		t.Error("ClearBit(27) should clear the bit")
	}
}

func TestCapabilityVector_Prune(t *testing.T) {
	v := NewCapabilityVector(FCFDIS)
	v.SetBit(11)
	v.SetBit(27)

	length := v.Prune()

	// Highest content is bit 27 in octet 6, so the frame should shrink
	// to 7 octets.
	if length != 7 {
		t.Errorf("Expected pruned length 7, got %d", length)
	}
	frame := v.Bytes()
	// Octets 3 and 4 carry data in bit position 8; the extension chain
	// runs from octet 5 up to, but not including, the last octet.
	if frame[5]&DISBit8 == 0 {
		t.Error("Octet 5 should carry the extension bit")
	}
	if frame[6]&DISBit8 != 0 {
		t.Error("Final octet should not carry the extension bit")
	}
}

func TestCapabilityVector_PruneEmptyTail(t *testing.T) {
	v := NewCapabilityVector(FCFDIS)
	v.SetBit(11)
	// Simulate a stray extension bit left in a trailing empty octet.
	v.SetBit(120)
	v.ClearBit(120)

	// With nothing beyond octet 4, the frame shrinks to the 5 octet
	// floor of the prune scan.
	if length := v.Prune(); length != 5 {
		t.Errorf("Expected pruned length 5, got %d", length)
	}
}

func TestBuildDISDTC_RoundTrip(t *testing.T) {
	v := BuildDISDTC(fullCaps())
	RefreshDISDTC(&v, false, true, false)
	v.Prune()

	// The pruned frame must decode to the offered capabilities, and
	// rebuilding from the same capability flags must give back the
	// identical bit vector.
	frame := PadFrame(v.Bytes())

	if RateCode(frame) != (DISBit6 | DISBit4 | DISBit3) {
		t.Errorf("Expected V.17 rate code, got 0x%02X", RateCode(frame))
	}
	if !ECMCapable(frame) {
		t.Error("ECM bit should be set")
	}
	if !CanReceive(frame) {
		t.Error("Ready-to-receive bit should be set")
	}
	if CanTransmit(frame) {
		t.Error("Ready-to-transmit bit should be clear")
	}
	if !FrameBit(frame, 15) {
		t.Error("Fine resolution bit should be set")
	}
	if !FrameBit(frame, 16) {
		t.Error("2-D coding bit should be set")
	}
	if !FrameBit(frame, 31) {
		t.Error("T.6 bit should be set when ECM is offered")
	}

	rebuilt := BuildDISDTC(fullCaps())
	RefreshDISDTC(&rebuilt, false, true, false)
	rebuilt.Prune()
	if !bytes.Equal(rebuilt.Bytes(), v.Bytes()) {
		t.Errorf("Rebuild mismatch:\n got %X\nwant %X", rebuilt.Bytes(), v.Bytes())
	}
}

func TestBuildDISDTC_ExtensionIntegrity(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
	}{
		{"basic V.27ter", Capabilities{Modems: SupportV27ter, Sizes: Support215mmWidth}},
		{"V.29 ECM", Capabilities{Modems: SupportV29, ECM: true, Sizes: Support215mmWidth}},
		{"everything", fullCaps()},
		{"IAF flow control", Capabilities{Modems: SupportV17, IAF: IAFModeFlowControl | IAFModeContinuousFlow}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := BuildDISDTC(tt.caps)
			v.Prune()
			frame := v.Bytes()
			last := len(frame) - 1
			for i := 5; i < last; i++ {
				if frame[i]&DISBit8 == 0 {
					t.Errorf("Octet %d missing extension bit in %X", i, frame)
				}
			}
			if frame[last]&DISBit8 != 0 {
				t.Errorf("Last octet carries extension bit in %X", frame)
			}
		})
	}
}

func TestBuildDCS_V29Standard(t *testing.T) {
	dis := BuildDISDTC(fullCaps())
	RefreshDISDTC(&dis, false, true, false)
	dis.Prune()
	padded := PadFrame(dis.Bytes())

	v, err := BuildDCS(fullCaps(), padded, DCSParams{
		RateCode:     DISBit3, // V.29 9600
		LineEncoding: CompressionT41D,
		MinScanCode:  MinScan0ms,
		XResolution:  XResR8,
		YResolution:  YResStandard,
		ImageWidth:   WidthR8A4,
		DISReceived:  true,
	})
	if err != nil {
		t.Fatalf("BuildDCS failed: %v", err)
	}
	v.Prune()
	frame := PadFrame(v.Bytes())

	if v.FCF() != FCFDCS|DISReceivedBit {
		t.Errorf("Expected DCS FCF with DIS-received bit, got 0x%02X", v.FCF())
	}
	if RateCode(frame) != DISBit3 {
		t.Errorf("Expected rate code 0x04, got 0x%02X", RateCode(frame))
	}
	if !CanReceive(frame) {
		t.Error("DCS should command the far end into receive mode")
	}
	// The far end offered unlimited length, so the DCS should select it.
	if !FrameBit(frame, 20) {
		t.Error("Unlimited length bit should be selected")
	}
}

func TestBuildDCS_ResolutionNotSupported(t *testing.T) {
	dis := BuildDISDTC(fullCaps())
	dis.Prune()
	padded := PadFrame(dis.Bytes())

	caps := fullCaps()
	caps.Resolutions = SupportStandardResolution

	_, err := BuildDCS(caps, padded, DCSParams{
		LineEncoding: CompressionT41D,
		XResolution:  XResR8,
		YResolution:  YResFine,
		ImageWidth:   WidthR8A4,
	})
	if err != ErrResolutionNotSupported {
		t.Errorf("Expected ErrResolutionNotSupported, got %v", err)
	}

	// A combination outside the resolution table must fail regardless of
	// local support flags.
	_, err = BuildDCS(fullCaps(), padded, DCSParams{
		LineEncoding: CompressionT41D,
		XResolution:  XRes1200,
		YResolution:  YResStandard,
		ImageWidth:   Width1200A4,
	})
	if err != ErrResolutionNotSupported {
		t.Errorf("Expected ErrResolutionNotSupported for off-table pair, got %v", err)
	}
}

func TestBuildDCS_WidthNegotiation(t *testing.T) {
	// A remote that only takes 215mm paper.
	narrow := Capabilities{Modems: SupportV29, Sizes: Support215mmWidth}
	dis := BuildDISDTC(narrow)
	dis.Prune()
	padded := PadFrame(dis.Bytes())

	local := fullCaps()
	local.Sizes |= Support255mmWidth | Support303mmWidth

	_, err := BuildDCS(local, padded, DCSParams{
		LineEncoding: CompressionT41D,
		XResolution:  XResR8,
		YResolution:  YResStandard,
		ImageWidth:   WidthR8B4,
	})
	if err != ErrSizeNotSupported {
		t.Errorf("Expected ErrSizeNotSupported for B4 to a 215mm remote, got %v", err)
	}

	_, err = BuildDCS(local, padded, DCSParams{
		LineEncoding: CompressionT41D,
		XResolution:  XResR8,
		YResolution:  YResStandard,
		ImageWidth:   1000,
	})
	if err != ErrInvalidWidth {
		t.Errorf("Expected ErrInvalidWidth for a non-fax width, got %v", err)
	}
}

func TestDecodeDCS(t *testing.T) {
	dis := BuildDISDTC(fullCaps())
	dis.Prune()
	padded := PadFrame(dis.Bytes())

	v, err := BuildDCS(fullCaps(), padded, DCSParams{
		RateCode:     DISBit6, // V.17 14400
		LineEncoding: CompressionT42D,
		MinScanCode:  MinScan0ms,
		XResolution:  XResR8,
		YResolution:  YResFine,
		ImageWidth:   WidthR8A4,
		ECM:          true,
	})
	if err != nil {
		t.Fatalf("BuildDCS failed: %v", err)
	}
	v.Prune()
	frame := PadFrame(v.Bytes())

	x, y := DecodeDCSResolution(frame)
	if x != XResR8 || y != YResFine {
		t.Errorf("Expected R8 x fine, got %d x %d", x, y)
	}
	if w := DecodeDCSWidth(frame); w != WidthR8A4 {
		t.Errorf("Expected width %d, got %d", WidthR8A4, w)
	}
	if c := DecodeDCSCompression(frame); c != CompressionT42D {
		t.Errorf("Expected 2-D compression, got %v", c)
	}
	if !ECMCapable(frame) {
		t.Error("ECM bit should decode as set")
	}
	if ECMFrameSize(frame) != 64 {
		// Bit 28 is never set by our builder; 64 is the decode for a
		// clear bit, and the session always overrides to 256 for DIS
		// driven transfers.
		t.Errorf("Expected 64 octet frame size for clear bit 28, got %d", ECMFrameSize(frame))
	}
}

func TestSelectMinScanCode(t *testing.T) {
	dis := NewCapabilityVector(FCFDIS)
	dis.SetBit(15) // fine
	dis.SetBits(3, 21)
	dis.Prune()
	padded := PadFrame(dis.Bytes())

	code, err := SelectMinScanCode(0, padded, dis.Len(), YResFine)
	if err != nil {
		t.Fatalf("SelectMinScanCode failed: %v", err)
	}
	if code != MinScan10ms {
		t.Errorf("Expected 10ms code for fine row field 3, got %d", code)
	}

	// Superfine against a remote without the superfine bit must fail.
	if _, err := SelectMinScanCode(0, padded, dis.Len(), YResSuperfine); err == nil {
		t.Error("Expected error for unsupported superfine")
	}

	// No-fill-bits mode forces the 0ms code.
	code, err = SelectMinScanCode(IAFModeNoFillBits, padded, dis.Len(), YResStandard)
	if err != nil {
		t.Fatalf("SelectMinScanCode failed: %v", err)
	}
	if code != MinScan0ms {
		t.Errorf("Expected 0ms code in no-fill-bits mode, got %d", code)
	}
}
