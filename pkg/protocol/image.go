package protocol

// Line encodings negotiable through DIS/DCS.
type Compression int

const (
	CompressionT41D Compression = iota // T.4 1-D (MH)
	CompressionT42D                    // T.4 2-D (MR)
	CompressionT6                      // T.6 (MMR), ECM only
)

func (c Compression) String() string {
	switch c {
	case CompressionT41D:
		return "T.4 1-D"
	case CompressionT42D:
		return "T.4 2-D"
	case CompressionT6:
		return "T.6"
	default:
		return "unknown"
	}
}

// Image resolutions, in pixels per metre.
const (
	XResR4   = 4019
	XResR8   = 8039
	XResR16  = 16074
	XRes300  = 11811
	XRes600  = 23622
	XRes1200 = 47244

	YResStandard  = 3850
	YResFine      = 7700
	YResSuperfine = 15400
	YRes300       = 11811
	YRes600       = 23622
	YRes800       = 31496
	YRes1200      = 47244
)

// Standard scan line widths in pixels, by resolution class and paper width.
const (
	WidthR8A4 = 1728
	WidthR8B4 = 2048
	WidthR8A3 = 2432

	Width300A4 = 2592
	Width300B4 = 3072
	Width300A3 = 3648

	WidthR16A4 = 3456
	WidthR16B4 = 4096
	WidthR16A3 = 4864

	Width600A4 = 5184
	Width600B4 = 6144
	Width600A3 = 7296

	Width1200A4 = 10368
	Width1200B4 = 12288
	Width1200A3 = 14592
)

// widthCodes maps an x-resolution class index and the two width bits of
// octet 5 to a scan line width. -1 marks an invalid combination.
var widthCodes = [6][4]int{
	{-1, -1, -1, -1}, // R4, no longer used in recent versions of T.30
	{WidthR8A4, WidthR8B4, WidthR8A3, -1},
	{Width300A4, Width300B4, Width300A3, -1},
	{WidthR16A4, WidthR16B4, WidthR16A3, -1},
	{Width600A4, Width600B4, Width600A3, -1},
	{Width1200A4, Width1200B4, Width1200A3, -1},
}

// Minimum scan line time codes, as used in bits 21-23 of DCS.
const (
	MinScan20ms = 0
	MinScan5ms  = 1
	MinScan10ms = 2
	MinScan40ms = 4
	MinScan0ms  = 7
)

// MinScanTimeMillis converts a minimum scan line time code into
// milliseconds. Unknown codes count as zero.
func MinScanTimeMillis(code int) int {
	switch code {
	case MinScan20ms:
		return 20
	case MinScan5ms:
		return 5
	case MinScan10ms:
		return 10
	case MinScan40ms:
		return 40
	default:
		return 0
	}
}

// translateMinScanTime converts the minimum scan time the far end asked
// for in DIS bits 21-23 into the code we will signal in DCS, per row:
// normal, fine, and superfine with the half-rate option.
var translateMinScanTime = [3][8]uint8{
	{MinScan20ms, MinScan5ms, MinScan10ms, MinScan20ms, MinScan40ms, MinScan40ms, MinScan10ms, MinScan0ms},
	{MinScan20ms, MinScan5ms, MinScan10ms, MinScan10ms, MinScan40ms, MinScan20ms, MinScan5ms, MinScan0ms},
	{MinScan10ms, MinScan5ms, MinScan5ms, MinScan5ms, MinScan20ms, MinScan10ms, MinScan5ms, MinScan0ms},
}
