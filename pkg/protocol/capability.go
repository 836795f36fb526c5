package protocol

import "errors"

// Errors surfaced while negotiating a DCS from local capabilities and a
// received DIS/DTC.
var (
	ErrShortFrame             = errors.New("DIS/DTC/DCS frame too short")
	ErrResolutionNotSupported = errors.New("image resolution not supported by both ends")
	ErrSizeNotSupported       = errors.New("image size not supported by both ends")
	ErrInvalidWidth           = errors.New("not a valid fax image width")
	ErrIncompatible           = errors.New("far end is not compatible")
)

// ModemSupport is a bitmask of the modulation families a terminal can use.
type ModemSupport int

const (
	SupportV27ter ModemSupport = 0x01
	SupportV29    ModemSupport = 0x02
	SupportV17    ModemSupport = 0x04
	SupportIAF    ModemSupport = 0x10
)

// CompressionSupport is a bitmask of the line encodings a terminal offers.
type CompressionSupport int

const (
	SupportNoCompression CompressionSupport = 0x01
	SupportT41D          CompressionSupport = 0x02
	SupportT42D          CompressionSupport = 0x04
	SupportT6            CompressionSupport = 0x08
)

// ResolutionSupport is a bitmask of the resolutions a terminal offers.
type ResolutionSupport int

const (
	SupportStandardResolution  ResolutionSupport = 0x01
	SupportFineResolution      ResolutionSupport = 0x02
	SupportSuperfineResolution ResolutionSupport = 0x04
	SupportR8Resolution        ResolutionSupport = 0x20000
	SupportR16Resolution       ResolutionSupport = 0x40000
	Support300x300Resolution   ResolutionSupport = 0x100000
	Support400x400Resolution   ResolutionSupport = 0x200000
	Support600x600Resolution   ResolutionSupport = 0x400000
	Support1200x1200Resolution ResolutionSupport = 0x800000
	Support300x600Resolution   ResolutionSupport = 0x1000000
	Support400x800Resolution   ResolutionSupport = 0x2000000
	Support600x1200Resolution  ResolutionSupport = 0x4000000
)

// SizeSupport is a bitmask of the paper widths and lengths a terminal
// offers.
type SizeSupport int

const (
	Support215mmWidth      SizeSupport = 0x01
	Support255mmWidth      SizeSupport = 0x02
	Support303mmWidth      SizeSupport = 0x04
	SupportUnlimitedLength SizeSupport = 0x10000
	SupportA4Length        SizeSupport = 0x20000
	SupportB4Length        SizeSupport = 0x40000
	SupportUSLetterLength  SizeSupport = 0x80000
	SupportUSLegalLength   SizeSupport = 0x100000
)

// PollingSupport is a bitmask of the selective polling features offered.
type PollingSupport int

const (
	SupportSEP PollingSupport = 0x01
	SupportPSA PollingSupport = 0x02
)

// IAFMode is a bitmask of Internet-aware fax behaviours.
type IAFMode int

const (
	IAFModeT37            IAFMode = 0x01
	IAFModeT38            IAFMode = 0x02
	IAFModeFlowControl    IAFMode = 0x04
	IAFModeContinuousFlow IAFMode = 0x08
	IAFModeNoTCF          IAFMode = 0x10
	IAFModeNoFillBits     IAFMode = 0x20
	IAFModeNoIndicators   IAFMode = 0x40
)

// Capabilities collects the local capability flags a DIS/DTC or DCS is
// built from.
type Capabilities struct {
	Modems      ModemSupport
	Compression CompressionSupport
	Resolutions ResolutionSupport
	Sizes       SizeSupport
	Polling     PollingSupport
	IAF         IAFMode
	ECM         bool
	FNV         bool
}

// CapabilityVector is a DIS, DTC or DCS frame under construction: the
// 3 octet HDLC header followed by up to 16 content octets. Bits are
// numbered from 1, with bit n living in octet 3+(n-1)/8 at position
// (n-1)%8. Octet content bits occupy positions 1..7; position 8 is the
// extension indicator chained across octets by Prune.
type CapabilityVector struct {
	frame  [MaxDISLength]byte
	length int
}

// NewCapabilityVector returns an empty final-frame vector carrying fcf.
func NewCapabilityVector(fcf byte) CapabilityVector {
	var v CapabilityVector
	v.frame[0] = AddressOctet
	v.frame[1] = ControlFinal
	v.frame[2] = fcf
	v.length = 19
	return v
}

// SetFCF replaces the frame's FCF octet.
func (v *CapabilityVector) SetFCF(fcf byte) {
	v.frame[2] = fcf
}

// FCF returns the frame's FCF octet.
func (v *CapabilityVector) FCF() byte {
	return v.frame[2]
}

// SetBit sets capability bit n.
func (v *CapabilityVector) SetBit(n int) {
	v.frame[3+(n-1)/8] |= 1 << ((n - 1) % 8)
}

// ClearBit clears capability bit n.
func (v *CapabilityVector) ClearBit(n int) {
	v.frame[3+(n-1)/8] &^= 1 << ((n - 1) % 8)
}

// SetBits ors a multi-bit value into the field starting at bit n.
func (v *CapabilityVector) SetBits(val uint8, n int) {
	v.frame[3+(n-1)/8] |= val << ((n - 1) % 8)
}

// Bit reports whether capability bit n is set.
func (v *CapabilityVector) Bit(n int) bool {
	return v.frame[3+(n-1)/8]&(1<<((n-1)%8)) != 0
}

// SetRateCode ors a signalling rate code (DCS bits 11-14) into octet 4.
func (v *CapabilityVector) SetRateCode(code byte) {
	v.frame[4] |= code
}

// Bytes returns the frame as currently sized. The returned slice aliases
// the vector's storage.
func (v *CapabilityVector) Bytes() []byte {
	return v.frame[:v.length]
}

// Len returns the current frame length in octets.
func (v *CapabilityVector) Len() int {
	return v.length
}

// Prune finds the last content octet with real payload, strips stray
// extension bits, trims the frame, and re-lights the extension bit in
// every retained content octet before the last.
func (v *CapabilityVector) Prune() int {
	i := 18
	for ; i > 4; i-- {
		v.frame[i] &^= DISBit8
		if v.frame[i] != 0 {
			break
		}
	}
	v.length = i + 1
	for i--; i > 4; i-- {
		v.frame[i] |= DISBit8
	}
	return v.length
}

// PadFrame copies a received DIS/DTC/DCS frame into a full-length buffer
// padded with zeros, so bits beyond the received length read as unset.
func PadFrame(msg []byte) []byte {
	padded := make([]byte, MaxDISLength)
	copy(padded, msg)
	return padded
}

// FrameBit reports whether capability bit n is set in a received frame.
// The frame must be at least as long as the octet holding the bit; use
// PadFrame first for frames of wire length.
func FrameBit(frame []byte, n int) bool {
	return frame[3+(n-1)/8]&(1<<((n-1)%8)) != 0
}

// Receiver readiness bits of octet 4.
const (
	bitReadyToTransmit = 9
	bitReadyToReceive  = 10
)

// CanReceive reports the ready-to-receive bit of a padded DIS/DTC.
func CanReceive(frame []byte) bool {
	return FrameBit(frame, bitReadyToReceive)
}

// CanTransmit reports the ready-to-transmit (polling) bit of a padded
// DIS/DTC.
func CanTransmit(frame []byte) bool {
	return FrameBit(frame, bitReadyToTransmit)
}

// RateCode extracts the signalling rate field (bits 11-14) from a padded
// DIS/DTC/DCS frame.
func RateCode(frame []byte) byte {
	return frame[4] & (DISBit6 | DISBit5 | DISBit4 | DISBit3)
}

// ECMCapable reports the error correction bit (27) of a padded frame.
func ECMCapable(frame []byte) bool {
	return FrameBit(frame, 27)
}

// ECMFrameSize returns the negotiated ECM frame payload size from a
// padded DCS: 256 octets when bit 28 is set, 64 octets when it is clear.
func ECMFrameSize(frame []byte) int {
	if FrameBit(frame, 28) {
		return 256
	}
	return 64
}

// BuildDISDTC builds the skeleton DIS/DTC for the given local
// capabilities. The ready-to-receive and ready-to-transmit bits are
// dynamic and left for RefreshDISDTC just before transmission.
func BuildDISDTC(caps Capabilities) CapabilityVector {
	v := NewCapabilityVector(FCFDIS)
	if caps.IAF&IAFModeT37 != 0 {
		v.SetBit(1)
	}
	if caps.IAF&IAFModeT38 != 0 {
		v.SetBit(3)
	}
	// With no modem bits set we are selecting V.27ter fallback at 2400bps.
	if caps.Modems&SupportV27ter != 0 {
		v.SetBit(12)
	}
	if caps.Modems&SupportV29 != 0 {
		v.SetBit(11)
	}
	// V.17 is only valid combined with V.29 and V.27ter.
	if caps.Modems&SupportV17 != 0 {
		v.SetRateCode(DISBit6 | DISBit4 | DISBit3)
	}
	if caps.Resolutions&SupportFineResolution != 0 {
		v.SetBit(15)
	}
	if caps.Compression&SupportT42D != 0 {
		v.SetBit(16)
	}
	// 215mm width and A4 length are always supported.
	if caps.Sizes&Support303mmWidth != 0 {
		v.SetBit(18)
	} else if caps.Sizes&Support255mmWidth != 0 {
		v.SetBit(17)
	}
	if caps.Sizes&SupportUnlimitedLength != 0 {
		v.SetBit(20)
	} else if caps.Sizes&SupportB4Length != 0 {
		v.SetBit(19)
	}
	// No scan-line padding required.
	v.SetBits(MinScan0ms, 21)
	if caps.Compression&SupportNoCompression != 0 {
		v.SetBit(26)
	}
	if caps.ECM {
		v.SetBit(27)
		// Only offer the fancier compressions along with the ECM they
		// depend on.
		if caps.Compression&SupportT6 != 0 {
			v.SetBit(31)
		}
	}
	if caps.FNV {
		v.SetBit(33)
	}
	if caps.Polling&SupportSEP != 0 {
		v.SetBit(34)
	}
	if caps.Polling&SupportPSA != 0 {
		v.SetBit(35)
	}
	if caps.Resolutions&SupportSuperfineResolution != 0 {
		v.SetBit(41)
	}
	if caps.Resolutions&Support300x300Resolution != 0 {
		v.SetBit(42)
	}
	if caps.Resolutions&(Support400x400Resolution|SupportR16Resolution) != 0 {
		v.SetBit(43)
	}
	// Metric based terminal.
	v.SetBit(45)
	if caps.Sizes&SupportUSLetterLength != 0 {
		v.SetBit(76)
	}
	if caps.Sizes&SupportUSLegalLength != 0 {
		v.SetBit(77)
	}
	if caps.Resolutions&Support600x600Resolution != 0 {
		v.SetBit(105)
	}
	if caps.Resolutions&Support1200x1200Resolution != 0 {
		v.SetBit(106)
	}
	if caps.Resolutions&Support300x600Resolution != 0 {
		v.SetBit(107)
	}
	if caps.Resolutions&Support400x800Resolution != 0 {
		v.SetBit(108)
	}
	if caps.Resolutions&Support600x1200Resolution != 0 {
		v.SetBit(109)
	}
	if caps.IAF&IAFModeFlowControl != 0 {
		v.SetBit(121)
	}
	if caps.IAF&IAFModeContinuousFlow != 0 {
		v.SetBit(123)
	}
	return v
}

// RefreshDISDTC edits the dynamic parts of a prebuilt DIS/DTC: the FCF
// coding for whether we have seen a DIS, and the readiness bits for
// whether we currently have a document to receive into or to offer for
// polling.
func RefreshDISDTC(v *CapabilityVector, disReceived, canReceive, canTransmit bool) {
	fcf := byte(FCFDIS)
	if disReceived {
		fcf |= DISReceivedBit
	}
	v.SetFCF(fcf)
	if canReceive {
		v.SetBit(bitReadyToReceive)
	} else {
		v.ClearBit(bitReadyToReceive)
	}
	if canTransmit {
		v.SetBit(bitReadyToTransmit)
	} else {
		v.ClearBit(bitReadyToTransmit)
	}
}

// DCSParams carries the negotiated transmit parameters a DCS is built
// from.
type DCSParams struct {
	RateCode     byte // signalling rate bits for the chosen fallback entry
	LineEncoding Compression
	MinScanCode  int
	XResolution  int
	YResolution  int
	ImageWidth   int
	ECM          bool
	IAF          IAFMode
	DISReceived  bool
}

// BuildDCS negotiates a DCS from local capabilities, the padded remote
// DIS/DTC, and the chosen transmit parameters.
func BuildDCS(caps Capabilities, dis []byte, p DCSParams) (CapabilityVector, error) {
	fcf := byte(FCFDCS)
	if p.DISReceived {
		fcf |= DISReceivedBit
	}
	v := NewCapabilityVector(fcf)
	v.SetRateCode(p.RateCode)

	switch p.LineEncoding {
	case CompressionT6:
		v.SetBit(31)
		v.SetBits(MinScan0ms, 21)
	case CompressionT42D:
		v.SetBit(16)
		v.SetBits(uint8(p.MinScanCode)&0x7, 21)
	default:
		v.SetBits(uint8(p.MinScanCode)&0x7, 21)
	}
	// We have a file to send, so tell the far end to go to receive mode.
	v.SetBit(bitReadyToReceive)

	if err := setDCSResolution(&v, caps, p); err != nil {
		return v, err
	}
	if err := setDCSWidth(&v, caps, dis, p); err != nil {
		return v, err
	}
	// Use unlimited length if the far end supports it, else B4 beats the
	// default A4.
	if FrameBit(dis, 20) {
		v.SetBit(20)
	} else if FrameBit(dis, 19) {
		v.SetBit(19)
	}
	if p.ECM {
		v.SetBit(27)
	}
	if p.IAF&IAFModeFlowControl != 0 && FrameBit(dis, 121) {
		v.SetBit(121)
	}
	if p.IAF&IAFModeContinuousFlow != 0 && FrameBit(dis, 123) {
		v.SetBit(123)
	}
	return v, nil
}

func setDCSResolution(v *CapabilityVector, caps Capabilities, p DCSParams) error {
	type key struct{ x, y int }
	// (x, y) resolution to DCS bit, gated on the matching local support
	// flag. Combinations outside the table are not valid fax resolutions.
	table := map[key]struct {
		bit     int
		support ResolutionSupport
	}{
		{XRes600, YRes1200}:          {109, Support600x1200Resolution},
		{XRes1200, YRes1200}:         {106, Support1200x1200Resolution},
		{XResR16, YRes800}:           {108, Support400x800Resolution},
		{XRes300, YRes600}:           {107, Support300x600Resolution},
		{XRes600, YRes600}:           {105, Support600x600Resolution},
		{XResR8, YResSuperfine}:      {41, SupportSuperfineResolution},
		{XResR16, YResSuperfine}:     {43, SupportSuperfineResolution},
		{XRes300, YRes300}:           {42, Support300x300Resolution},
		{XResR8, YResFine}:           {15, SupportFineResolution},
		{XResR8, YResStandard}:       {0, SupportStandardResolution},
	}
	entry, ok := table[key{p.XResolution, p.YResolution}]
	if !ok {
		return ErrResolutionNotSupported
	}
	if entry.support != 0 && caps.Resolutions&entry.support == 0 {
		return ErrResolutionNotSupported
	}
	if entry.bit > 0 {
		v.SetBit(entry.bit)
	}
	return nil
}

func setDCSWidth(v *CapabilityVector, caps Capabilities, dis []byte, p DCSParams) error {
	widthBits := dis[5] & (DISBit2 | DISBit1)
	switch p.ImageWidth {
	case WidthR8A4, Width300A4, WidthR16A4, Width600A4, Width1200A4:
		// A4 needs no width bits.
	case WidthR8B4, Width300B4, WidthR16B4, Width600B4, Width1200B4:
		if widthBits < 1 {
			return ErrSizeNotSupported
		}
		if caps.Sizes&Support255mmWidth == 0 {
			return ErrInvalidWidth
		}
		v.SetBit(17)
	case WidthR8A3, Width300A3, WidthR16A3, Width600A3, Width1200A3:
		if widthBits < 2 {
			return ErrSizeNotSupported
		}
		if caps.Sizes&Support303mmWidth == 0 {
			return ErrInvalidWidth
		}
		v.SetBit(18)
	default:
		return ErrInvalidWidth
	}
	// The remote must support the X resolution class implied by the
	// width.
	switch p.ImageWidth {
	case WidthR8A4, WidthR8B4, WidthR8A3:
		// Always OK.
	case Width300A4, Width300B4, Width300A3:
		if !FrameBit(dis, 42) && !FrameBit(dis, 107) {
			return ErrSizeNotSupported
		}
	case WidthR16A4, WidthR16B4, WidthR16A3:
		if !FrameBit(dis, 43) {
			return ErrSizeNotSupported
		}
	case Width600A4, Width600B4, Width600A3:
		if !FrameBit(dis, 105) && !FrameBit(dis, 109) {
			return ErrSizeNotSupported
		}
	case Width1200A4, Width1200B4, Width1200A3:
		if !FrameBit(dis, 106) {
			return ErrSizeNotSupported
		}
	}
	return nil
}

// SelectMinScanCode translates the minimum scan line time requested in a
// padded DIS into the code to signal in DCS for the given vertical
// resolution.
func SelectMinScanCode(iaf IAFMode, dis []byte, disLen int, yResolution int) (int, error) {
	minBitsField := MinScan0ms
	if iaf&IAFModeNoFillBits == 0 && disLen > 5 {
		minBitsField = int(dis[5]>>4) & 7
	}
	switch yResolution {
	case YResSuperfine:
		if disLen > 8 && dis[8]&DISBit1 != 0 {
			row := 1
			if dis[8]&DISBit6 != 0 {
				row = 2
			}
			return int(translateMinScanTime[row][minBitsField]), nil
		}
		return 0, ErrResolutionNotSupported
	case YResFine:
		if disLen > 4 && dis[4]&DISBit7 != 0 {
			return int(translateMinScanTime[1][minBitsField]), nil
		}
		return 0, ErrResolutionNotSupported
	default:
		return int(translateMinScanTime[0][minBitsField]), nil
	}
}

// DecodeDCSResolution extracts the negotiated (x, y) resolution from a
// padded DCS frame.
func DecodeDCSResolution(dcs []byte) (x, y int) {
	switch {
	case FrameBit(dcs, 106):
		x = XRes1200
	case FrameBit(dcs, 105) || FrameBit(dcs, 109):
		x = XRes600
	case FrameBit(dcs, 43) || FrameBit(dcs, 108):
		x = XResR16
	case FrameBit(dcs, 42) || FrameBit(dcs, 107):
		x = XRes300
	default:
		x = XResR8
	}
	switch {
	case FrameBit(dcs, 106) || FrameBit(dcs, 109):
		y = YRes1200
	case FrameBit(dcs, 108):
		y = YRes800
	case FrameBit(dcs, 105) || FrameBit(dcs, 107):
		y = YRes600
	case FrameBit(dcs, 41) || FrameBit(dcs, 43):
		y = YResSuperfine
	case FrameBit(dcs, 42):
		y = YRes300
	case FrameBit(dcs, 15):
		y = YResFine
	default:
		y = YResStandard
	}
	return x, y
}

// DecodeDCSWidth extracts the negotiated scan line width from a padded
// DCS frame, or -1 for an invalid combination.
func DecodeDCSWidth(dcs []byte) int {
	x, _ := DecodeDCSResolution(dcs)
	var class int
	switch x {
	case XRes1200:
		class = 5
	case XRes600:
		class = 4
	case XResR16:
		class = 3
	case XRes300:
		class = 2
	case XResR4:
		class = 0
	default:
		class = 1
	}
	return widthCodes[class][dcs[5]&(DISBit2|DISBit1)]
}

// DecodeDCSCompression extracts the negotiated line encoding from a
// padded DCS frame.
func DecodeDCSCompression(dcs []byte) Compression {
	switch {
	case FrameBit(dcs, 31):
		return CompressionT6
	case FrameBit(dcs, 16):
		return CompressionT42D
	default:
		return CompressionT41D
	}
}
