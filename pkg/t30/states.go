package t30

import (
	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/protocol"
)

// processRxDISDTC negotiates against a received DIS or DTC: select
// compression, modem family and starting rate, then answer with DCS if
// we have a document to send, or DTC if we are polling.
func (s *Session) processRxDISDTC(msg []byte) {
	if len(msg) < 6 {
		s.log.Debug("Short DIS/DTC frame", logger.Int("len", len(msg)))
		return
	}
	if msg[2] == protocol.FCFDIS {
		s.disReceived = true
	}
	dis := protocol.PadFrame(msg)
	s.errorCorrecting = s.ecmAllowed && protocol.ECMCapable(dis)
	// 256 octets per ECM frame; the 64 octet option is never used in the
	// real world.
	s.ecm.octetsPerFrame = 256

	switch {
	case s.errorCorrecting && s.caps.Compression&protocol.SupportT6 != 0 && protocol.FrameBit(dis, 31):
		s.lineEncoding = protocol.CompressionT6
	case s.caps.Compression&protocol.SupportT42D != 0 && protocol.FrameBit(dis, 16):
		s.lineEncoding = protocol.CompressionT42D
	default:
		s.lineEncoding = protocol.CompressionT41D
	}
	s.log.Debug("Selected compression", logger.String("encoding", s.lineEncoding.String()))

	if !s.selectModems(protocol.RateCode(dis)) {
		s.log.Debug("Remote does not support a compatible modem")
		s.currentStatus = StatusIncompatible
		s.sendDCN()
		return
	}
	if s.cb.PhaseB != nil {
		s.cb.PhaseB(msg[2])
	}
	s.queuePhase(PhaseBTx)

	// Try to send something...
	if s.txSource != nil {
		s.log.Debug("Far end ready; starting document send")
		if !protocol.CanReceive(dis) {
			s.log.Debug("Far end cannot receive")
			s.currentStatus = StatusRxIncapable
			s.sendDCN()
			return
		}
		if !s.startSendingDocument(dis, len(msg)) {
			s.sendDCN()
			return
		}
		dcs, err := protocol.BuildDCS(s.caps, dis, protocol.DCSParams{
			RateCode:     fallbackLadder[s.currentFallback].DCSCode,
			LineEncoding: s.lineEncoding,
			MinScanCode:  s.minScanCode,
			XResolution:  s.xResolution,
			YResolution:  s.yResolution,
			ImageWidth:   s.imageWidth,
			ECM:          s.errorCorrecting,
			IAF:          s.caps.IAF,
			DISReceived:  s.disReceived,
		})
		if err != nil {
			s.log.Debug("The far end is incompatible", logger.Error(err))
			s.currentStatus = dcsBuildStatus(err)
			s.sendDCN()
			return
		}
		s.dcs = dcs
		s.retries = 0
		s.sendDCSSequence()
		return
	}
	s.log.Debug("Nothing to send")
	// ...then try to receive something.
	if s.rxSink != nil {
		if !protocol.CanTransmit(dis) {
			s.log.Debug("Far end cannot transmit")
			s.currentStatus = StatusTxIncapable
			s.sendDCN()
			return
		}
		// Poll the far end with DTC.
		s.disReceived = true
		s.queuePhase(PhaseBTx)
		s.ecm.page = 0
		s.ecm.block = 0
		s.retries = 0
		s.sendDISDTCSequence()
		return
	}
	s.log.Debug("Nothing to receive either")
	s.sendDCN()
}

func dcsBuildStatus(err error) Status {
	switch err {
	case protocol.ErrResolutionNotSupported:
		return StatusResolutionNotSupported
	case protocol.ErrSizeNotSupported:
		return StatusSizeNotSupported
	case protocol.ErrInvalidWidth:
		return StatusBadTiff
	default:
		return StatusIncompatible
	}
}

// selectModems picks the permitted modem families and the fallback
// start point from the remote's signalling rate field.
func (s *Session) selectModems(rate byte) bool {
	if rate == protocol.DISBit6|protocol.DISBit4|protocol.DISBit3 &&
		s.caps.Modems&protocol.SupportV17 != 0 {
		s.currentPermitted = protocol.SupportV17 | protocol.SupportV29 | protocol.SupportV27ter
		s.currentFallback = fallbackStartV17
		return true
	}
	switch rate {
	case protocol.DISBit6 | protocol.DISBit4 | protocol.DISBit3,
		protocol.DISBit4 | protocol.DISBit3:
		if s.caps.Modems&protocol.SupportV29 != 0 {
			s.currentPermitted = protocol.SupportV29 | protocol.SupportV27ter
			s.currentFallback = fallbackStartV29
			return true
		}
		fallthrough
	case protocol.DISBit4:
		s.currentPermitted = protocol.SupportV27ter
		s.currentFallback = fallbackStartV27ter
		return true
	case 0:
		s.currentPermitted = protocol.SupportV27ter
		s.currentFallback = fallbackStartV27ter + 1
		return true
	case protocol.DISBit3:
		if s.caps.Modems&protocol.SupportV29 != 0 {
			s.currentPermitted = protocol.SupportV29
			s.currentFallback = fallbackStartV29
			return true
		}
	}
	return false
}

// stepFallback moves to the next slower ladder entry still permitted by
// the remote capabilities. It returns false at the bottom of the
// ladder.
func (s *Session) stepFallback() bool {
	for i := s.currentFallback + 1; i < len(fallbackLadder); i++ {
		if fallbackLadder[i].Which&s.currentPermitted != 0 {
			s.currentFallback = i
			return true
		}
	}
	return false
}

// processRxDCS accepts the transmit parameters the far end selected and
// sets up for the trainability test.
func (s *Session) processRxDCS(msg []byte) {
	if len(msg) < 6 {
		s.log.Debug("Short DCS frame", logger.Int("len", len(msg)))
		return
	}
	s.rxDCSTrace = rxDCSHex(msg)
	dcs := protocol.PadFrame(msg)
	s.ecm.octetsPerFrame = protocol.ECMFrameSize(dcs)
	s.xResolution, s.yResolution = protocol.DecodeDCSResolution(dcs)
	s.imageWidth = protocol.DecodeDCSWidth(dcs)
	s.lineEncoding = protocol.DecodeDCSCompression(dcs)
	s.log.Debug("Selected compression", logger.String("encoding", s.lineEncoding.String()))
	if !protocol.CanReceive(dcs) {
		s.log.Debug("Remote cannot receive")
	}
	fallback := findFallbackEntry(protocol.RateCode(dcs))
	if fallback < 0 {
		s.log.Debug("Remote asked for a modem standard we do not support")
		s.currentStatus = StatusIncompatible
		s.sendDCN()
		return
	}
	s.currentFallback = fallback
	s.errorCorrecting = protocol.ECMCapable(dcs)

	if s.cb.PhaseB != nil {
		s.cb.PhaseB(protocol.FCFDCS)
	}
	s.log.Debug("Get document",
		logger.Int("bit_rate", fallbackLadder[s.currentFallback].BitRate),
		logger.String("modem", fallbackLadder[s.currentFallback].Modem.String()))
	if s.rxSink == nil {
		s.log.Debug("No document to receive")
		s.currentStatus = StatusFileError
		s.sendDCN()
		return
	}
	if s.caps.IAF&protocol.IAFModeNoTCF == 0 {
		s.setState(StateFTCF)
		s.setPhase(PhaseCNonECMRx)
	}
}

func (s *Session) processStateAnswering(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFDIS:
		// A far end that has already seen our answer tone by other means
		// may identify immediately.
		s.processRxDISDTC(msg)
	case protocol.FCFDCS:
		// Tolerate callers that skip DIS entirely.
		s.log.Debug("DCS before DIS")
		s.processRxDCS(msg)
	case protocol.FCFDCN:
		s.currentStatus = StatusGotDCNTx
		s.disconnect()
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateB(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFDCN:
		// DCNs at this stage are noise.
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateC(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFDCN:
		// We are on the way out anyway.
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateD(msg []byte) {
	// We should be sending the DCS sequence right now.
	switch msg[2] & 0xFE {
	case protocol.FCFDCN:
		s.currentStatus = StatusBadDCSTx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateDTCF(msg []byte) {
	// We should be sending the TCF data right now.
	switch msg[2] & 0xFE {
	case protocol.FCFDCN:
		s.currentStatus = StatusBadDCSTx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateDPostTCF(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFCFR:
		// Trainability test succeeded. Send the document.
		s.log.Debug("Trainability test succeeded")
		s.retries = 0
		s.shortTrain = true
		if s.errorCorrecting {
			s.setState(StateIV)
			s.queuePhase(PhaseCECMTx)
			s.sendFirstECMFrame()
		} else {
			s.setState(StateI)
			s.queuePhase(PhaseCNonECMTx)
		}
	case protocol.FCFFTT:
		// Trainability test failed. Fall back and try again.
		s.log.Debug("Trainability test failed")
		s.retries = 0
		s.shortTrain = false
		if !s.stepFallback() {
			// Nowhere lower to go. Give up.
			s.currentFallback = 0
			s.currentStatus = StatusCannotTrain
			s.sendDCN()
			return
		}
		s.rebuildDCSRate()
		s.queuePhase(PhaseBTx)
		s.sendDCSSequence()
	case protocol.FCFDIS:
		// They did not see what we sent. Retry the DCS and TCF.
		s.retries++
		if s.retries > MaxMessageTries {
			s.currentStatus = StatusRetryDCN
			s.sendDCN()
			return
		}
		s.queuePhase(PhaseBTx)
		s.sendDCSSequence()
	case protocol.FCFDCN:
		s.currentStatus = StatusBadDCSTx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

// rebuildDCSRate updates the signalling rate field of the prepared DCS
// for the current fallback entry.
func (s *Session) rebuildDCSRate() {
	frame := s.dcs.Bytes()
	frame[4] &^= protocol.DISBit6 | protocol.DISBit5 | protocol.DISBit4 | protocol.DISBit3
	s.dcs.SetRateCode(fallbackLadder[s.currentFallback].DCSCode)
}

func (s *Session) processStateFTCF(msg []byte) {
	// We should be receiving TCF right now, not HDLC.
	switch msg[2] & 0xFE {
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateFCFR(msg []byte) {
	// Waiting for a response to the CFR we sent.
	switch msg[2] & 0xFE {
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateFFTT(msg []byte) {
	// Waiting for a response to the FTT we sent.
	switch msg[2] & 0xFE {
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateFDocNonECM(msg []byte) {
	// HDLC here means we never saw the image carrier properly: treat any
	// post-page command as a bad quality page.
	switch fcf := msg[2] & 0xFE; fcf {
	case protocol.FCFDIS:
		s.processRxDISDTC(msg)
	case protocol.FCFDCS:
		s.processRxDCS(msg)
	case protocol.FCFMPS, protocol.FCFEOM, protocol.FCFEOP:
		if s.cb.PhaseD != nil {
			s.cb.PhaseD(fcf)
		}
		s.nextRxStep = fcf
		if fcf == protocol.FCFEOM {
			s.queuePhase(PhaseBTx)
		} else {
			s.queuePhase(PhaseDTx)
		}
		s.setState(StateIIIQRTN)
		s.sendSimpleFrame(protocol.FCFRTN)
	case protocol.FCFPRIMPS, protocol.FCFPRIEOM, protocol.FCFPRIEOP:
		s.notifyPhaseDWithT3(fcf)
		s.nextRxStep = fcf
		s.setState(StateIIIQRTN)
	case protocol.FCFDCN:
		s.currentStatus = StatusDCNDataRx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateFPostDocNonECM(msg []byte) {
	switch fcf := msg[2] & 0xFE; fcf {
	case protocol.FCFMPS, protocol.FCFEOM, protocol.FCFEOP:
		if s.cb.PhaseD != nil {
			s.cb.PhaseD(fcf)
		}
		s.nextRxStep = fcf
		if fcf == protocol.FCFEOM {
			// Return to phase B for the next document.
			s.queuePhase(PhaseBTx)
		} else {
			s.queuePhase(PhaseDTx)
		}
		lastPage := fcf == protocol.FCFEOP
		switch s.judgePage() {
		case QualityGood:
			s.finishRxPage(lastPage)
			s.setState(StateIIIQMCF)
			s.sendSimpleFrame(protocol.FCFMCF)
		case QualityPoor:
			s.finishRxPage(lastPage)
			s.setState(StateIIIQRTP)
			s.sendSimpleFrame(protocol.FCFRTP)
		case QualityBad:
			if !lastPage {
				s.rxStartPage()
			}
			s.setState(StateIIIQRTN)
			s.sendSimpleFrame(protocol.FCFRTN)
		}
	case protocol.FCFPRIMPS, protocol.FCFPRIEOM, protocol.FCFPRIEOP:
		s.notifyPhaseDWithT3(fcf)
		s.nextRxStep = fcf
		switch s.judgePage() {
		case QualityGood:
			s.finishRxPage(true)
			s.setState(StateIIIQMCF)
		case QualityPoor:
			s.finishRxPage(true)
			s.setState(StateIIIQRTP)
		case QualityBad:
			s.setState(StateIIIQRTN)
		}
	case protocol.FCFDCN:
		s.currentStatus = StatusDCNFaxRx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) judgePage() CopyQuality {
	var stats TransferStats
	if s.rxSink != nil {
		stats = s.rxSink.Stats()
	}
	quality := judgeCopyQuality(stats)
	s.log.Debug("Page quality",
		logger.String("quality", quality.String()),
		logger.Int("rows", stats.Length),
		logger.Int("bad_rows", stats.BadRows))
	return quality
}

// finishRxPage closes out an accepted page. On the last page of the
// document the sink is released; otherwise the next page starts.
func (s *Session) finishRxPage(lastPage bool) {
	if s.rxSink != nil {
		_ = s.rxSink.EndPage()
	}
	if lastPage {
		s.inMessage = false
		return
	}
	s.rxStartPage()
}

func (s *Session) processStateFDocECM(msg []byte) {
	// Handles both DOC-ECM and POST-DOC-ECM, which differ only in how
	// RCP is treated.
	switch msg[2] & 0xFE {
	case protocol.FCFDIS:
		s.processRxDISDTC(msg)
	case protocol.FCFDCS:
		s.processRxDCS(msg)
	case protocol.FCFRCP & 0xFE:
		if s.state == StateFDocECM {
			// Return to control for partial page.
			s.setState(StateFPostDocECM)
			s.queuePhase(PhaseDRx)
		}
		// Extra RCPs are the source hedging against bit errors.
	case protocol.FCFEOR:
		if len(msg) != 4 {
			s.unexpectedFrameLength(msg)
			return
		}
		fcf2 := msg[3] & 0xFE
		s.log.Debug("Received EOR", logger.String("with", protocol.FrameTypeName(msg[3])))
		switch fcf2 {
		case protocol.FCFNull:
		case protocol.FCFPRIEOM, protocol.FCFPRIMPS, protocol.FCFPRIEOP,
			protocol.FCFEOM, protocol.FCFMPS, protocol.FCFEOP:
			s.nextRxStep = fcf2
			s.sendSimpleFrame(protocol.FCFERR)
		default:
			s.unexpectedFinalFrame(msg)
		}
	case protocol.FCFPPS:
		s.processRxPPS(msg)
	case protocol.FCFCTC:
		s.sendSimpleFrame(protocol.FCFCTR)
		// T.30 says we change back to long training here.
		s.shortTrain = false
	case protocol.FCFRR:
		// Stray RR; our response is governed by the PPS handling.
	case protocol.FCFDCN:
		s.currentStatus = StatusDCNDataRx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateFPostRCPMCF(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateFPostRCPPPR(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateFPostRCPRNR(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFRR:
		if s.receiverNotReadyCount > 0 {
			s.receiverNotReadyCount--
			s.queuePhase(PhaseDTx)
			s.setState(StateFPostRCPRNR)
			s.sendSimpleFrame(protocol.FCFRNR)
			return
		}
		s.sendDeferredPPSResponse()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateR(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFDIS:
		s.processRxDISDTC(msg)
	case protocol.FCFDCS:
		s.processRxDCS(msg)
	case protocol.FCFDCN:
		// DCN while waiting for a DIS or DTC.
		s.currentStatus = StatusGotDCNTx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateT(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFDIS:
		s.processRxDISDTC(msg)
	case protocol.FCFDCN:
		s.currentStatus = StatusDCNWhyRx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
		s.currentStatus = StatusNoDISTx
	}
}

func (s *Session) processStateI(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateII(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateIIQ(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFMCF:
		switch s.nextTxStep {
		case protocol.FCFMPS, protocol.FCFPRIMPS:
			s.retries = 0
			_ = s.txSource.EndPage()
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(protocol.FCFMCF)
			}
			if err := s.txSource.StartPage(); err != nil {
				s.log.Warn("Cannot start next page", logger.Error(err))
				return
			}
			s.setState(StateI)
			s.queuePhase(PhaseCNonECMTx)
		case protocol.FCFEOM, protocol.FCFPRIEOM:
			s.retries = 0
			_ = s.txSource.EndPage()
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(protocol.FCFMCF)
			}
			s.logDelivered()
			_ = s.txSource.Close()
			s.setState(StateR)
		case protocol.FCFEOP, protocol.FCFPRIEOP:
			s.retries = 0
			_ = s.txSource.EndPage()
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(protocol.FCFMCF)
			}
			s.logDelivered()
			_ = s.txSource.Close()
			s.sendDCN()
		}
	case protocol.FCFRTP:
		switch s.nextTxStep {
		case protocol.FCFMPS, protocol.FCFPRIMPS:
			s.retries = 0
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(protocol.FCFRTP)
			}
			// Fresh training, then the next page.
			_ = s.txSource.EndPage()
			_ = s.txSource.StartPage()
			s.queuePhase(PhaseBTx)
			s.restartSendingDocument()
		case protocol.FCFEOM, protocol.FCFPRIEOM:
			s.retries = 0
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(protocol.FCFRTP)
			}
			s.setState(StateR)
		case protocol.FCFEOP, protocol.FCFPRIEOP:
			s.retries = 0
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(protocol.FCFRTP)
			}
			s.currentStatus = StatusInvalidResponseTx
			s.sendDCN()
		}
	case protocol.FCFRTN:
		switch s.nextTxStep {
		case protocol.FCFMPS, protocol.FCFPRIMPS:
			s.retries = 0
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(protocol.FCFRTN)
			}
			// Fresh training, then repeat the last page.
			s.queuePhase(PhaseBTx)
			s.restartSendingDocument()
		case protocol.FCFEOM, protocol.FCFPRIEOM, protocol.FCFEOP, protocol.FCFPRIEOP:
			s.retries = 0
			if s.cb.PhaseD != nil {
				s.cb.PhaseD(protocol.FCFRTN)
			}
			s.currentStatus = StatusInvalidResponseTx
			s.sendDCN()
		}
	case protocol.FCFPIP:
		s.retries = 0
		s.notifyPhaseDWithT3(protocol.FCFPIP)
	case protocol.FCFPIN:
		s.retries = 0
		s.notifyPhaseDWithT3(protocol.FCFPIN)
	case protocol.FCFDCN:
		switch s.nextTxStep {
		case protocol.FCFMPS, protocol.FCFPRIMPS, protocol.FCFEOM, protocol.FCFPRIEOM:
			// Unexpected DCN after an EOM or MPS sequence.
			s.currentStatus = StatusDCNPhaseDRx
		default:
			s.currentStatus = StatusBadPageTx
		}
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) logDelivered() {
	stats := s.txSource.Stats()
	s.log.Info("Document delivered", logger.Int("pages", stats.Pages))
}

func (s *Session) processStateIIIQMCF(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFMPS, protocol.FCFEOM, protocol.FCFEOP:
		// They did not see our signal. Repeat it.
		s.sendSimpleFrame(protocol.FCFMCF)
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateIIIQRTP(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFMPS, protocol.FCFEOM, protocol.FCFEOP:
		s.sendSimpleFrame(protocol.FCFRTP)
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateIIIQRTN(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFMPS, protocol.FCFEOM, protocol.FCFEOP:
		s.sendSimpleFrame(protocol.FCFRTN)
	case protocol.FCFDCN:
		s.currentStatus = StatusDCNNoRTNRx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateIV(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

// ecmAdvanceAfterConfirm moves on after the receiver confirmed a
// partial page: more blocks of the current page, the next page, or the
// end of the call, guided by the post-page command we signalled.
func (s *Session) ecmAdvanceAfterConfirm() {
	s.retries = 0
	s.timerT5 = 0
	if !s.ecm.atPageEnd && s.fillPartialECMPage() > 0 {
		s.log.Debug("More blocks of the current page to send")
		s.ecm.block++
		s.setState(StateIV)
		s.queuePhase(PhaseCECMTx)
		s.sendFirstECMFrame()
		return
	}
	s.log.Debug("Moving on to the next page")
	switch s.nextTxStep {
	case protocol.FCFMPS, protocol.FCFPRIMPS:
		_ = s.txSource.EndPage()
		if s.cb.PhaseD != nil {
			s.cb.PhaseD(protocol.FCFMCF)
		}
		if err := s.txSource.StartPage(); err != nil {
			s.log.Warn("Cannot start next page", logger.Error(err))
			return
		}
		s.ecm.page++
		s.ecm.block = 0
		if s.fillPartialECMPage() > 0 {
			s.setState(StateIV)
			s.queuePhase(PhaseCECMTx)
			s.sendFirstECMFrame()
		}
	case protocol.FCFEOM, protocol.FCFPRIEOM:
		_ = s.txSource.EndPage()
		if s.cb.PhaseD != nil {
			s.cb.PhaseD(protocol.FCFMCF)
		}
		s.logDelivered()
		_ = s.txSource.Close()
		s.setState(StateR)
	case protocol.FCFEOP, protocol.FCFPRIEOP:
		_ = s.txSource.EndPage()
		if s.cb.PhaseD != nil {
			s.cb.PhaseD(protocol.FCFMCF)
		}
		s.logDelivered()
		_ = s.txSource.Close()
		s.sendDCN()
	}
}

// ecmRespondRNR answers a receiver-not-ready with RR and starts T5 if
// it is not already running.
func (s *Session) ecmRespondRNR(next State) {
	if s.timerT5 == 0 {
		s.timerT5 = msToSamples(timerT5Millis)
	}
	s.setState(next)
	s.queuePhase(PhaseDTx)
	s.sendSimpleFrame(protocol.FCFRR)
}

func (s *Session) processStateIVPPSNull(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFMCF:
		s.ecmAdvanceAfterConfirm()
	case protocol.FCFPPR:
		s.processRxPPR(msg)
	case protocol.FCFRNR:
		s.ecmRespondRNR(StateIVPPSRNR)
	case protocol.FCFDCN:
		s.currentStatus = StatusBadPageTx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
		s.currentStatus = StatusECMPhaseDTx
	}
}

func (s *Session) processStateIVPPSQ(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFMCF:
		s.ecmAdvanceAfterConfirm()
	case protocol.FCFRNR:
		s.ecmRespondRNR(StateIVPPSRNR)
	case protocol.FCFPIP:
		s.retries = 0
		s.notifyPhaseDWithT3(protocol.FCFPIP)
	case protocol.FCFPIN:
		s.retries = 0
		s.notifyPhaseDWithT3(protocol.FCFPIN)
	case protocol.FCFPPR:
		s.processRxPPR(msg)
	case protocol.FCFDCN:
		s.currentStatus = StatusBadPageTx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
		s.currentStatus = StatusECMPhaseDTx
	}
}

func (s *Session) processStateIVPPSRNR(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFMCF:
		s.ecmAdvanceAfterConfirm()
	case protocol.FCFRNR:
		s.ecmRespondRNR(StateIVPPSRNR)
	case protocol.FCFPIP:
		s.retries = 0
		s.notifyPhaseDWithT3(protocol.FCFPIP)
	case protocol.FCFPIN:
		s.retries = 0
		s.notifyPhaseDWithT3(protocol.FCFPIN)
	case protocol.FCFDCN:
		s.currentStatus = StatusDCNRRDRx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateIVCTC(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFCTR:
		// Valid response to our CTC. T.30 says back to long training
		// here; the rate itself stays put, since a simple CTC carries no
		// new rate field for the far end to follow.
		s.shortTrain = false
		s.ecm.pprCount = 0
		s.setState(StateIV)
		s.queuePhase(PhaseCECMTx)
		s.sendFirstECMFrame()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateIVEOR(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFRNR:
		s.ecmRespondRNR(StateIVEORRNR)
	case protocol.FCFPIN:
		s.retries = 0
		s.notifyPhaseDWithT3(protocol.FCFPIN)
	case protocol.FCFERR:
		s.timerT5 = 0
		s.sendDCN()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

func (s *Session) processStateIVEORRNR(msg []byte) {
	switch msg[2] & 0xFE {
	case protocol.FCFRNR:
		s.ecmRespondRNR(StateIVEORRNR)
	case protocol.FCFPIN:
		s.retries = 0
		s.notifyPhaseDWithT3(protocol.FCFPIN)
	case protocol.FCFERR:
		s.timerT5 = 0
		s.sendDCN()
	case protocol.FCFDCN:
		s.currentStatus = StatusDCNRRDRx
		s.disconnect()
	case protocol.FCFCRP:
		s.repeatLastCommand()
	case protocol.FCFFNV:
		s.processRxFNV(msg)
	default:
		s.unexpectedFinalFrame(msg)
	}
}

// processRxFNV logs a field-not-valid report. We decode what the far
// end disliked but have no way to act on it, so it ends up handled as
// an unexpected frame.
func (s *Session) processRxFNV(msg []byte) {
	if len(msg) > 3 {
		flags := msg[3]
		notes := []struct {
			bit  byte
			text string
		}{
			{0x01, "incorrect password (PWD)"},
			{0x02, "selective polling reference (SEP) not known"},
			{0x04, "subaddress (SUB) not known"},
			{0x08, "sender identity (SID) not known"},
			{0x10, "secure fax error"},
			{0x20, "transmitting subscriber identity (TSI) not accepted"},
			{0x40, "polled subaddress (PSA) not known"},
		}
		for _, n := range notes {
			if flags&n.bit != 0 {
				s.log.Debug("FNV", logger.String("reason", n.text))
			}
		}
	}
	if len(msg) > 5 {
		s.log.Debug("FNV", logger.Int("sequence", int(msg[5])))
	}
	s.unexpectedFinalFrame(msg)
}
