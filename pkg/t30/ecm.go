package t30

import (
	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/protocol"
)

// ecmSlots is the size of the partial page ring: T.4 annex A allows at
// most 256 frames per block.
const ecmSlots = 256

// ecmBuffer is the ECM partial page store: 256 slots of ready-to-send
// (or just-received) FCD frames, plus the bookkeeping selective repeat
// needs. A slot length of -1 marks an empty slot.
type ecmBuffer struct {
	data [ecmSlots][protocol.MaxECMFrameSize]byte
	len  [ecmSlots]int

	// frameMap is the PPR frame under construction: the 3 octet header
	// followed by the 32 octet bitmap, one bit per slot, set for frames
	// still missing.
	frameMap [protocol.PPRFrameSize]byte

	page            int // ECM page number within the call
	block           int // block number within the page
	frames          int // frames in the current block, -1 when unknown
	currentFrame    int // transmit cursor
	framesThisBurst int
	firstBadFrame   int
	atPageEnd       bool
	octetsPerFrame  int
	pprCount        int
}

func (e *ecmBuffer) clearSlots() {
	for i := range e.len {
		e.len[i] = -1
	}
}

// rxStartPage starts a fresh receive page and resets the ECM block
// accounting.
func (s *Session) rxStartPage() {
	if s.rxSink != nil {
		_ = s.rxSink.StartPage(PageInfo{
			Width:       s.imageWidth,
			XResolution: s.xResolution,
			YResolution: s.yResolution,
			Encoding:    s.lineEncoding,
			FarIdent:    s.farIdent,
			SubAddress:  s.farSubAddress,
			DCSTrace:    s.rxDCSTrace,
		})
	}
	s.ecm.clearSlots()
	s.ecm.page++
	s.ecm.block = 0
	s.ecm.frames = -1
	s.ecm.framesThisBurst = 0
}

// fillPartialECMPage fills the transmit buffer with complete FCD frames
// cut from the image at the negotiated frame size, and returns the
// number of frames buffered. The frames are not final; the following
// PPS carries the final tag.
func (s *Session) fillPartialECMPage() int {
	e := &s.ecm
	e.pprCount = 0
	for i := 3; i < protocol.PPRFrameSize; i++ {
		e.frameMap[i] = 0xFF
	}
	for i := 0; i < ecmSlots; i++ {
		e.len[i] = -1
		e.data[i][0] = protocol.AddressOctet
		e.data[i][1] = protocol.ControlNonFinal
		e.data[i][2] = protocol.FCFFCD
		// Each frame opens with its sequence number within the partial
		// page, then image data.
		e.data[i][3] = byte(i)
		n := s.txSource.NextChunk(e.data[i][4 : 4+e.octetsPerFrame])
		if n < e.octetsPerFrame {
			// The image did not fill the buffer. Pad the tail frame to a
			// full frame, as most receivers expect that.
			if n > 0 {
				for j := 4 + n; j < 4+e.octetsPerFrame; j++ {
					e.data[i][j] = 0
				}
				e.len[i] = e.octetsPerFrame + 4
				i++
			}
			e.frames = i
			s.log.Debug("Partial page buffered",
				logger.Int("frames", i),
				logger.Int("frame_size", e.octetsPerFrame))
			e.atPageEnd = true
			return i
		}
		e.len[i] = 4 + n
	}
	e.frames = ecmSlots
	s.log.Debug("Partial page buffer full", logger.Int("frame_size", e.octetsPerFrame))
	e.atPageEnd = s.txSource.AtPageEnd()
	return ecmSlots
}

// commitPartialPage feeds the received partial page into the image sink
// and clears the buffer.
func (s *Session) commitPartialPage() {
	e := &s.ecm
	s.log.Debug("Committing partial page", logger.Int("frames", e.frames))
	for i := 0; i < e.frames; i++ {
		if s.rxSink != nil && e.len[i] >= 0 {
			s.rxSink.PutChunk(e.data[i][:e.len[i]])
		}
	}
	e.clearSlots()
	e.frames = -1
}

// sendNextECMFrame sends the next untagged FCD frame, or one of the
// three trailing RCP frames once the data is out. It returns false when
// the burst is complete.
func (s *Session) sendNextECMFrame() bool {
	e := &s.ecm
	if e.currentFrame < e.frames {
		// Find the next frame in the partial page not yet transferred
		// OK.
		for i := e.currentFrame; i < e.frames; i++ {
			if e.len[i] >= 0 {
				s.sendFrame(e.data[i][:e.len[i]])
				e.currentFrame = i + 1
				e.framesThisBurst++
				return true
			}
		}
		e.currentFrame = e.frames
	}
	if e.currentFrame <= e.frames+2 {
		// All FCD frames are out. Send three RCP frames, to minimise the
		// risk of a bit error hiding the return to control.
		e.currentFrame++
		s.sendFrame(protocol.RCPFrame())
		// In case a CTC/CTR exchange dropped us back to long training.
		s.shortTrain = true
		return true
	}
	return false
}

func (s *Session) sendFirstECMFrame() bool {
	s.ecm.currentFrame = 0
	s.ecm.framesThisBurst = 0
	return s.sendNextECMFrame()
}

// sendDeferredPPSResponse answers the PPS we have been sitting on: MCF
// when the partial page is complete, the prepared PPR otherwise.
func (s *Session) sendDeferredPPSResponse() {
	e := &s.ecm
	s.queuePhase(PhaseDTx)
	if e.firstBadFrame >= e.frames {
		// Everything arrived. Accept the data and move on.
		switch s.lastPPSFCF2() {
		case protocol.FCFNull:
			// An intermediate block: commit and wait for more.
			s.commitPartialPage()
		default:
			// The whole page is in.
			s.nextRxStep = s.lastPPSFCF2()
			s.commitPartialPage()
			if s.rxSink != nil {
				_ = s.rxSink.EndPage()
			}
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(s.lastPPSFCF2())
			}
			s.rxStartPage()
		}
		s.setState(StateFPostRCPMCF)
		s.sendSimpleFrame(protocol.FCFMCF)
		return
	}
	// Ask for the missing or damaged frames again.
	s.setState(StateFPostRCPPPR)
	e.frameMap[0] = protocol.AddressOctet
	e.frameMap[1] = protocol.ControlFinal
	fcf := byte(protocol.FCFPPR)
	if s.disReceived {
		fcf |= protocol.DISReceivedBit
	}
	e.frameMap[2] = fcf
	s.sendFrame(e.frameMap[:])
}

func (s *Session) lastPPSFCF2() byte {
	return s.pendingPPSFCF2
}

// processRxPPS handles a received partial page signal: reconcile the
// frame count, build the missing-frame bitmap, and answer with MCF, PPR
// or RNR.
func (s *Session) processRxPPS(msg []byte) {
	e := &s.ecm
	if len(msg) < protocol.PPSFrameSize {
		s.log.Debug("Short PPS frame", logger.Int("len", len(msg)))
		return
	}
	s.pendingPPSFCF2 = msg[3] & 0xFE
	// The frame count field is not well specified in T.30: it may be the
	// frames in the block or just in this burst of retransmission. Only
	// accepting values that exceed the running count converges on the
	// real block size.
	frames := int(msg[6]) + 1
	switch {
	case e.frames < 0:
		// First time. Take the number at face value.
		e.frames = frames
	case msg[6] == 0xFF:
		// A far end with nothing left to send cannot represent zero in
		// this field and may roll it over to the maximum instead. Treat
		// it as zero and keep the running count.
	case frames > e.frames:
		e.frames = frames
	}
	s.log.Debug("Received PPS", logger.String("with", protocol.FrameTypeName(msg[3])))

	// Build the map of frames still missing from the announced block.
	frameNo := 0
	e.firstBadFrame = ecmSlots
	for i := 3; i < protocol.PPRFrameSize; i++ {
		e.frameMap[i] = 0
		for j := 0; j < 8; j++ {
			if frameNo < e.frames && e.len[frameNo] < 0 {
				e.frameMap[i] |= 1 << j
				if frameNo < e.firstBadFrame {
					e.firstBadFrame = frameNo
				}
			}
			frameNo++
		}
	}
	switch s.pendingPPSFCF2 {
	case protocol.FCFNull, protocol.FCFEOP, protocol.FCFEOM, protocol.FCFMPS,
		protocol.FCFPRIEOP, protocol.FCFPRIEOM, protocol.FCFPRIMPS:
		if s.receiverNotReadyCount > 0 {
			s.receiverNotReadyCount--
			s.queuePhase(PhaseDTx)
			s.setState(StateFPostRCPRNR)
			s.sendSimpleFrame(protocol.FCFRNR)
			return
		}
		s.sendDeferredPPSResponse()
	default:
		s.unexpectedFinalFrame(msg)
	}
}

// processRxPPR applies the receiver's selective repeat bitmap: slots the
// far end is happy with are released, the rest queue for resend. After
// four fruitless bursts the sender issues CTC and keeps correcting; the
// bit rate is not changed and the CTC frame carries no rate field.
func (s *Session) processRxPPR(msg []byte) {
	e := &s.ecm
	e.pprCount++
	if e.pprCount >= 4 {
		// Continue to correct, at the current rate.
		s.setState(StateIVCTC)
		s.sendSimpleFrame(protocol.FCFCTC)
		return
	}
	if len(msg) != protocol.PPRFrameSize {
		s.log.Debug("Bad PPR length", logger.Int("len", len(msg)))
		return
	}
	for i := 0; i < 32; i++ {
		if msg[i+3] == 0 {
			// A clean run of 8 frames.
			e.frameMap[i+3] = 0
			for j := 0; j < 8; j++ {
				e.len[i*8+j] = -1
			}
			continue
		}
		// Sift the good from the bad within the octet.
		for j := 0; j < 8; j++ {
			frameNo := i*8 + j
			if msg[i+3]&(1<<j) == 0 {
				e.len[frameNo] = -1
			} else if frameNo < e.frames {
				s.log.Debug("Frame to be resent", logger.Int("frame", frameNo))
			}
		}
	}
	// Resend what is left.
	s.setState(StateIV)
	s.queuePhase(PhaseCECMTx)
	s.sendFirstECMFrame()
}

// processRxFCD stores a facsimile coded data frame into its slot.
func (s *Session) processRxFCD(msg []byte) {
	switch s.state {
	case StateFDocECM:
		if len(msg) > protocol.MaxECMFrameSize {
			s.unexpectedFrameLength(msg)
			return
		}
		frameNo := int(msg[3])
		s.log.Debug("Storing ECM frame",
			logger.Int("frame", frameNo),
			logger.Int("len", len(msg)-4))
		copy(s.ecm.data[frameNo][:], msg[4:])
		s.ecm.len[frameNo] = len(msg) - 4
		// In case a CTC/CTR exchange dropped us back to long training.
		s.shortTrain = true
	default:
		s.unexpectedNonFinalFrame(msg)
	}
}

// processRxRCP handles return-to-control. RCP may arrive with or
// without the final tag; this is the non-final path.
func (s *Session) processRxRCP(msg []byte) {
	switch s.state {
	case StateFDocECM:
		s.setState(StateFPostDocECM)
		s.queuePhase(PhaseDRx)
	case StateFPostDocECM:
		// The source repeats RCP to be safe. Ignore the extras.
	default:
		s.unexpectedNonFinalFrame(msg)
	}
}
