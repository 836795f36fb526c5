package t30

import "github.com/fxnode/fax-nexus/pkg/protocol"

// ModemType selects what the front end should transmit or listen for.
// Pause encodes its duration in milliseconds through the shortTrain
// argument of the set-type callback.
type ModemType int

const (
	ModemNone ModemType = iota
	ModemPause
	ModemCED
	ModemCNG
	ModemV21
	ModemV27ter2400
	ModemV27ter4800
	ModemV297200
	ModemV299600
	ModemV177200
	ModemV179600
	ModemV1712000
	ModemV1714400
	ModemDone
)

func (m ModemType) String() string {
	switch m {
	case ModemNone:
		return "none"
	case ModemPause:
		return "pause"
	case ModemCED:
		return "CED"
	case ModemCNG:
		return "CNG"
	case ModemV21:
		return "V.21"
	case ModemV27ter2400:
		return "V.27ter 2400"
	case ModemV27ter4800:
		return "V.27ter 4800"
	case ModemV297200:
		return "V.29 7200"
	case ModemV299600:
		return "V.29 9600"
	case ModemV177200:
		return "V.17 7200"
	case ModemV179600:
		return "V.17 9600"
	case ModemV1712000:
		return "V.17 12000"
	case ModemV1714400:
		return "V.17 14400"
	case ModemDone:
		return "done"
	default:
		return "unknown"
	}
}

// FrontEndEvent is a notification from the modem front end delivered
// through FrontEndStatus.
type FrontEndEvent int

const (
	// FrontEndSendStepComplete reports that the current transmit step has
	// drained; the session moves to its next output or flips to receive.
	FrontEndSendStepComplete FrontEndEvent = iota
	// FrontEndSendComplete is equivalent to FrontEndSendStepComplete and
	// exists for front ends that distinguish the two.
	FrontEndSendComplete
	// FrontEndReceiveComplete reports an unexpected end of the receive
	// operation, as might happen with a packet stream dying.
	FrontEndReceiveComplete
	// FrontEndSignalPresent reports that the expected signal has been
	// seen, before any decoded output is available.
	FrontEndSignalPresent
	// FrontEndSignalAbsent reports that no signal is present.
	FrontEndSignalAbsent
)

// Special conditions delivered in place of a bit, byte or HDLC frame
// length by the modem layer.
const (
	SignalTrainingFailed    = -1
	SignalTrainingSucceeded = -2
	SignalCarrierUp         = -3
	SignalCarrierDown       = -4
	SignalEndOfData         = -5
	// SignalFramingOK reports a well formed HDLC flag sequence; T.30 5.4.3.1
	// stops T2 on it.
	SignalFramingOK = -6
	// SignalAbort reports an aborted HDLC frame. Ignored.
	SignalAbort = -7
)

// EndOfDataByte is the in-band end marker returned by NonECMGetByte, for
// front ends pulling whole octets.
const EndOfDataByte = 0x100

// FallbackEntry is one step of the modem fallback ladder.
type FallbackEntry struct {
	BitRate int
	Modem   ModemType
	Which   protocol.ModemSupport
	DCSCode byte
}

// fallbackLadder is ordered from the fastest modulation downwards. On a
// failed trainability test the session steps to the next entry whose
// family is still permitted by the remote capabilities.
var fallbackLadder = []FallbackEntry{
	{14400, ModemV1714400, protocol.SupportV17, protocol.DISBit6},
	{12000, ModemV1712000, protocol.SupportV17, protocol.DISBit6 | protocol.DISBit4},
	{9600, ModemV179600, protocol.SupportV17, protocol.DISBit6 | protocol.DISBit3},
	{9600, ModemV299600, protocol.SupportV29, protocol.DISBit3},
	{7200, ModemV177200, protocol.SupportV17, protocol.DISBit6 | protocol.DISBit4 | protocol.DISBit3},
	{7200, ModemV297200, protocol.SupportV29, protocol.DISBit4 | protocol.DISBit3},
	{4800, ModemV27ter4800, protocol.SupportV27ter, protocol.DISBit4},
	{2400, ModemV27ter2400, protocol.SupportV27ter, 0},
}

// Ladder start points for each top modulation family.
const (
	fallbackStartV17    = 0
	fallbackStartV29    = 3
	fallbackStartV27ter = 6
)

// findFallbackEntry locates the ladder entry carrying a DCS rate code.
// The table is short and seldom searched, so a linear scan is fine.
func findFallbackEntry(dcsCode byte) int {
	for i := range fallbackLadder {
		if fallbackLadder[i].DCSCode == dcsCode {
			return i
		}
	}
	return -1
}
