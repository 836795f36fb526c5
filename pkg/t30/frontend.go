package t30

import (
	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/protocol"
)

// NonECMPutBit accepts one bit from the image modem during non-ECM
// reception, or one of the Signal* conditions in its place.
func (s *Session) NonECMPutBit(bit int) {
	if bit < 0 {
		s.nonECMSignal(bit)
		return
	}
	switch s.state {
	case StateFTCF:
		// Trainability test: track the longest run of zeros.
		if bit != 0 {
			if s.trainingCurrentZeros > s.trainingMostZeros {
				s.trainingMostZeros = s.trainingCurrentZeros
			}
			s.trainingCurrentZeros = 0
		} else {
			s.trainingCurrentZeros++
		}
	case StateFDocNonECM:
		if s.rxSink != nil && s.rxSink.PutBit(bit) {
			// That was the end of the page.
			s.setState(StateFPostDocNonECM)
			s.queuePhase(PhaseDRx)
			s.startCommandTimer()
		}
	}
}

// NonECMPutByte accepts one octet from the image modem during non-ECM
// reception. Counting training zeros by octet is approximate, which is
// fine for the trainability threshold.
func (s *Session) NonECMPutByte(octet int) {
	switch s.state {
	case StateFTCF:
		if octet != 0 {
			if s.trainingCurrentZeros > s.trainingMostZeros {
				s.trainingMostZeros = s.trainingCurrentZeros
			}
			s.trainingCurrentZeros = 0
		} else {
			s.trainingCurrentZeros += 8
		}
	case StateFDocNonECM:
		if s.rxSink != nil && s.rxSink.PutChunk([]byte{byte(octet)}) {
			s.setState(StateFPostDocNonECM)
			s.queuePhase(PhaseDRx)
			s.startCommandTimer()
		}
	}
}

// NonECMPutChunk accepts a block of octets from the image modem during
// non-ECM reception.
func (s *Session) NonECMPutChunk(data []byte) {
	switch s.state {
	case StateFTCF:
		for _, octet := range data {
			if octet != 0 {
				if s.trainingCurrentZeros > s.trainingMostZeros {
					s.trainingMostZeros = s.trainingCurrentZeros
				}
				s.trainingCurrentZeros = 0
			} else {
				s.trainingCurrentZeros += 8
			}
		}
	case StateFDocNonECM:
		if s.rxSink != nil && s.rxSink.PutChunk(data) {
			s.setState(StateFPostDocNonECM)
			s.queuePhase(PhaseDRx)
			s.startCommandTimer()
		}
	}
}

// nonECMSignal handles the out of band conditions of the non-ECM
// receive path.
func (s *Session) nonECMSignal(signal int) {
	switch signal {
	case SignalTrainingFailed:
		s.log.Debug("Non-ECM carrier training failed",
			logger.String("state", s.state.String()))
		s.rxTrained = false
		// We saw something. Stop the timer and wait for the carrier to
		// drop before deciding anything.
		s.timerT2T4 = 0
	case SignalTrainingSucceeded:
		s.log.Debug("Non-ECM carrier trained",
			logger.String("state", s.state.String()))
		// In case we are in trainability test mode.
		s.trainingCurrentZeros = 0
		s.trainingMostZeros = 0
		s.rxSignalPresent = true
		s.rxTrained = true
		s.timerT2T4 = 0
	case SignalCarrierUp:
		s.log.Debug("Non-ECM carrier up", logger.String("state", s.state.String()))
	case SignalCarrierDown:
		s.nonECMCarrierDown()
	default:
		s.log.Warn("Unexpected non-ECM signal", logger.Int("signal", signal))
	}
}

func (s *Session) nonECMCarrierDown() {
	s.log.Debug("Non-ECM carrier down", logger.String("state", s.state.String()))
	wasTrained := s.rxTrained
	s.rxSignalPresent = false
	s.rxTrained = false
	switch s.state {
	case StateFTCF:
		// Only respond if we actually synced with the source; clicks and
		// slow-modem tails often precede the real signal and must not
		// draw an answer.
		if wasTrained {
			// T.30 wants 1.5s of zeros, but some machines open with a
			// burst of ones. Tolerate that by scoring the longest run.
			if s.trainingCurrentZeros > s.trainingMostZeros {
				s.trainingMostZeros = s.trainingCurrentZeros
			}
			if s.trainingMostZeros < fallbackLadder[s.currentFallback].BitRate {
				s.log.Debug("Trainability test failed",
					logger.Int("zeros", s.trainingMostZeros))
				s.setPhase(PhaseBTx)
				s.setState(StateFFTT)
				s.sendSimpleFrame(protocol.FCFFTT)
			} else {
				s.shortTrain = true
				s.inMessage = true
				s.rxStartPage()
				s.setPhase(PhaseBTx)
				s.setState(StateFCFR)
				s.sendSimpleFrame(protocol.FCFCFR)
			}
		}
	case StateFPostDocNonECM:
		// Page ended cleanly.
		if s.currentStatus == StatusNoCarrierRx {
			s.currentStatus = StatusOK
		}
	default:
		if wasTrained {
			s.log.Warn("Page did not end cleanly")
			// We trained, so some kind of page should be in hand even
			// though it did not end cleanly.
			s.setState(StateFPostDocNonECM)
			s.setPhase(PhaseDRx)
			s.startCommandTimer()
			if s.currentStatus == StatusNoCarrierRx {
				s.currentStatus = StatusOK
			}
		} else {
			s.log.Warn("Non-ECM carrier not found")
			s.currentStatus = StatusNoCarrierRx
		}
	}
	if s.nextPhase != PhaseIdle {
		s.setPhase(s.nextPhase)
		s.nextPhase = PhaseIdle
	}
}

// NonECMGetBit supplies the next bit for the image modem to transmit:
// zeros during the trainability test, image data in state I, and
// SignalEndOfData past the end.
func (s *Session) NonECMGetBit() int {
	switch s.state {
	case StateDTCF:
		s.trainingTestBits--
		if s.trainingTestBits < 0 {
			return SignalEndOfData
		}
		return 0
	case StateI:
		bit, done := s.txSource.NextBit()
		if done {
			return SignalEndOfData
		}
		return bit
	case StateDPostTCF, StateIIQ:
		// Padding out a block of samples.
		return 0
	default:
		s.log.Warn("NonECMGetBit in bad state", logger.String("state", s.state.String()))
		return SignalEndOfData
	}
}

// NonECMGetByte supplies the next octet for the image modem to
// transmit, or EndOfDataByte past the end.
func (s *Session) NonECMGetByte() int {
	switch s.state {
	case StateDTCF:
		s.trainingTestBits -= 8
		if s.trainingTestBits < 0 {
			return EndOfDataByte
		}
		return 0
	case StateI:
		var buf [1]byte
		if s.txSource.NextChunk(buf[:]) == 0 {
			return EndOfDataByte
		}
		return int(buf[0])
	case StateDPostTCF, StateIIQ:
		return 0
	default:
		s.log.Warn("NonECMGetByte in bad state", logger.String("state", s.state.String()))
		return EndOfDataByte
	}
}

// NonECMGetChunk fills buf with transmit data and returns the count;
// zero means the data is exhausted.
func (s *Session) NonECMGetChunk(buf []byte) int {
	switch s.state {
	case StateDTCF:
		n := 0
		for ; n < len(buf); n++ {
			buf[n] = 0
			s.trainingTestBits -= 8
			if s.trainingTestBits < 0 {
				break
			}
		}
		return n
	case StateI:
		return s.txSource.NextChunk(buf)
	case StateDPostTCF, StateIIQ:
		return 0
	default:
		s.log.Warn("NonECMGetChunk in bad state", logger.String("state", s.state.String()))
		return 0
	}
}

// FrontEndStatus delivers a front end event: a completed transmit step,
// an aborted receive, or an explicit signal presence indication.
func (s *Session) FrontEndStatus(event FrontEndEvent) {
	switch event {
	case FrontEndSendStepComplete, FrontEndSendComplete:
		s.sendStepComplete()
	case FrontEndReceiveComplete:
		// Usually the carrier-down signal reports this, but a dying
		// packet stream needs an explicit way to stop things.
		switch s.phase {
		case PhaseCNonECMRx:
			s.NonECMPutBit(SignalCarrierDown)
		default:
			s.HDLCAccept(nil, SignalCarrierDown, true)
		}
	case FrontEndSignalPresent:
		// The front end says the expected signal is here before any
		// decoded output. Kill the receive timeout so slow trains and
		// flag idling do not time us out.
		switch s.phase {
		case PhaseACED, PhaseACNG, PhaseBRx, PhaseDRx:
			// A V.21 receiver gives no explicit training indication.
			s.HDLCAccept(nil, SignalCarrierUp, true)
			s.HDLCAccept(nil, SignalFramingOK, true)
		default:
			s.rxSignalPresent = true
			s.timerT2T4 = 0
		}
	case FrontEndSignalAbsent:
		s.log.Debug("No signal present")
	}
}

// sendStepComplete moves the session on once the front end has drained
// the current transmit step.
func (s *Session) sendStepComplete() {
	s.log.Debug("Send complete",
		logger.String("phase", s.phase.String()),
		logger.String("state", s.state.String()))
	switch s.state {
	case StateAnswering:
		s.log.Debug("Starting answer mode")
		s.setPhase(PhaseBTx)
		s.startCommandTimer()
		s.disReceived = false
		s.sendDISDTCSequence()
	case StateR:
		switch s.step {
		case 0:
			s.step++
			if s.sendIdentFrame(protocol.FCFCSI) {
				break
			}
			fallthrough
		case 1:
			s.step++
			s.refreshDISDTC()
			s.sendFrame(s.disDTC.Bytes())
		case 2:
			s.step++
			s.sendFlush()
		default:
			// Wait for an acknowledgement.
			s.setPhase(PhaseBRx)
			s.startResponseTimer()
		}
	case StateFCFR:
		if s.step == 0 {
			s.sendFlush()
			s.step++
			return
		}
		if s.errorCorrecting {
			s.setState(StateFDocECM)
			s.setPhase(PhaseCECMRx)
		} else {
			s.setState(StateFDocNonECM)
			s.setPhase(PhaseCNonECMRx)
		}
		s.nextRxStep = protocol.FCFMPS
	case StateFFTT:
		if s.step == 0 {
			s.sendFlush()
			s.step++
			return
		}
		s.setPhase(PhaseBRx)
		s.startResponseTimer()
	case StateIIIQMCF, StateIIIQRTP, StateIIIQRTN, StateFPostRCPPPR, StateFPostRCPMCF:
		if s.step == 0 {
			s.sendFlush()
			s.step++
			return
		}
		switch s.nextRxStep {
		case protocol.FCFMPS, protocol.FCFPRIMPS:
			if s.errorCorrecting {
				s.setState(StateFDocECM)
				s.setPhase(PhaseCECMRx)
			} else {
				s.setState(StateFDocNonECM)
				s.setPhase(PhaseCNonECMRx)
			}
		case protocol.FCFEOM, protocol.FCFPRIEOM:
			// The far end returns to phase B for the next document.
			s.disconnect()
		case protocol.FCFEOP, protocol.FCFPRIEOP:
			s.disconnect()
		default:
			s.log.Debug("Unknown next rx step", logger.Byte("fcf", s.nextRxStep))
			s.disconnect()
		}
	case StateIIQ, StateIVPPSNull, StateIVPPSQ, StateIVPPSRNR, StateIVEORRNR, StateFPostRCPRNR:
		if s.step == 0 {
			s.sendFlush()
			s.step++
			return
		}
		// The post image message is out. Wait for the acknowledgement.
		s.setPhase(PhaseDRx)
		s.startResponseTimer()
	case StateB:
		// The final flush has run, so it is safe to report the end of
		// the call.
		if s.cb.PhaseE != nil {
			s.cb.PhaseE(s.currentStatus)
		}
		s.setState(StateCallFinished)
		s.setPhase(PhaseCallFinished)
	case StateC:
		if s.step == 0 {
			s.sendFlush()
			s.step++
			return
		}
		// The disconnect message is out. Now disconnect for real.
		s.disconnect()
	case StateD:
		switch s.step {
		case 0:
			s.step++
			if s.sendSubAddressFrame() {
				break
			}
			fallthrough
		case 1:
			s.step++
			if s.sendIdentFrame(protocol.FCFTSI) {
				break
			}
			fallthrough
		case 2:
			s.step++
			s.sendFrame(s.dcs.Bytes())
		case 3:
			s.step++
			s.sendFlush()
		default:
			if s.caps.IAF&protocol.IAFModeNoTCF != 0 {
				// Skip the trainability test.
				s.retries = 0
				s.shortTrain = true
				if s.errorCorrecting {
					s.setState(StateIV)
					s.queuePhase(PhaseCECMTx)
				} else {
					s.setState(StateI)
					s.queuePhase(PhaseCNonECMTx)
				}
			} else {
				s.setState(StateDTCF)
				s.setPhase(PhaseCNonECMTx)
			}
		}
	case StateDTCF:
		// The training test is out. Listen for the verdict.
		s.setPhase(PhaseBRx)
		s.startResponseTimer()
		s.setState(StateDPostTCF)
	case StateI:
		// The page is out. Send the post-page command.
		s.setPhase(PhaseDTx)
		s.setState(StateIIQ)
		s.nextTxStep = s.checkNextTxStep()
		s.sendSimpleFrame(s.nextTxStep)
	case StateIV:
		if s.step == 0 {
			if !s.sendNextECMFrame() {
				s.sendFlush()
				s.step++
			}
			return
		}
		// The burst is out. Send the partial page signal.
		s.setPhase(PhaseDTx)
		s.nextTxStep = s.checkNextTxStep()
		if s.sendPPSFrame() == protocol.FCFNull {
			s.setState(StateIVPPSNull)
		} else {
			s.setState(StateIVPPSQ)
		}
	case StateCallFinished:
		// A premature disconnect from the far end can overlap something
		// still draining. Ignore it.
	default:
		s.log.Debug("Send complete in unexpected state",
			logger.String("state", s.state.String()))
	}
}
