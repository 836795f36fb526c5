package protocol

import "fmt"

// SimpleFrame builds one of the 3 octet command/response frames. These
// are always final frames.
func SimpleFrame(fcf byte, disReceived bool) []byte {
	if disReceived {
		fcf |= DISReceivedBit
	}
	return []byte{AddressOctet, ControlFinal, fcf}
}

// IdentFrame builds a 20 character identifier frame (TSI, CSI, CIG, PWD,
// SUB, SEP, PSA, SID). The text rides backwards on the wire, right padded
// with spaces, and the frame is never final.
func IdentFrame(fcf byte, disReceived bool, msg string) []byte {
	if disReceived {
		fcf |= DISReceivedBit
	}
	frame := make([]byte, IdentFrameSize)
	frame[0] = AddressOctet
	frame[1] = ControlNonFinal
	frame[2] = fcf
	p := 3
	for i := len(msg) - 1; i >= 0 && p < IdentFrameSize; i-- {
		frame[p] = msg[i]
		p++
	}
	for ; p < IdentFrameSize; p++ {
		frame[p] = ' '
	}
	return frame
}

// DecodeIdent recovers an identifier string from a received frame,
// starting at the FCF octet. Trailing spaces are trimmed and the wire
// order reversed.
func DecodeIdent(pkt []byte) (string, error) {
	if len(pkt) > MaxIdentLength+1 {
		return "", fmt.Errorf("identifier frame too long: %d octets", len(pkt))
	}
	p := len(pkt)
	for p > 1 && pkt[p-1] == ' ' {
		p--
	}
	out := make([]byte, 0, p-1)
	for p > 1 {
		p--
		out = append(out, pkt[p])
	}
	return string(out), nil
}

// DecodeURL recovers an internet address payload (CSA, CIA, TSA, ISP,
// IRA) from a received frame starting after the FCF octet. The payload is
// prefixed by a sequence octet, an address type octet and a length octet.
func DecodeURL(pkt []byte) (string, error) {
	if len(pkt) < 3 || len(pkt) > 77+3 || len(pkt) != int(pkt[2])+3 {
		return "", fmt.Errorf("bad internet address frame length: %d octets", len(pkt))
	}
	return string(pkt[3:]), nil
}

// NSFFrame builds a non-standard facilities frame around a raw payload.
func NSFFrame(disReceived bool, payload []byte) []byte {
	fcf := byte(FCFNSF)
	if disReceived {
		fcf |= DISReceivedBit
	}
	frame := make([]byte, 3+len(payload))
	frame[0] = AddressOctet
	frame[1] = ControlNonFinal
	frame[2] = fcf
	copy(frame[3:], payload)
	return frame
}

// PPSFrame builds a partial page signal. FCF2 carries the post-page
// command once the page is complete, or NULL for an intermediate block.
// The frame count field holds count-1; zero counts stay zero.
func PPSFrame(disReceived bool, fcf2 byte, page, block, framesThisBurst int) []byte {
	fcf := byte(FCFPPS)
	if disReceived {
		fcf |= DISReceivedBit
	}
	count := 0
	if framesThisBurst > 0 {
		count = framesThisBurst - 1
	}
	return []byte{
		AddressOctet, ControlFinal, fcf,
		fcf2,
		byte(page & 0xFF),
		byte(block & 0xFF),
		byte(count),
	}
}

// EORFrame builds an end of retransmission frame with its embedded
// post-page command.
func EORFrame(disReceived bool, fcf2 byte) []byte {
	fcf := byte(FCFEOR)
	if disReceived {
		fcf |= DISReceivedBit
	}
	return []byte{AddressOctet, ControlFinal, fcf, fcf2}
}

// RCPFrame builds the return-to-control frame. RCP is the odd one out: a
// simple control frame specified with neither the final bit nor the
// DIS-received bit set.
func RCPFrame() []byte {
	return []byte{AddressOctet, ControlNonFinal, FCFRCP}
}

// FCDFrameOverhead is the header plus sequence octet preceding ECM image
// data in an FCD frame.
const FCDFrameOverhead = 4

// MaxECMFrameSize is the largest FCD frame: overhead plus a full 256
// octet payload.
const MaxECMFrameSize = FCDFrameOverhead + 256
