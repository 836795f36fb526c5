package t30

import (
	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/protocol"
)

// HDLCAccept delivers a decoded HDLC frame from the V.21 or ECM modem.
// A negative signal value carries one of the Signal* conditions instead
// of a frame; crcOK reports the frame check sequence verdict.
func (s *Session) HDLCAccept(msg []byte, signal int, crcOK bool) {
	if signal < 0 {
		s.hdlcSignal(signal)
		return
	}
	// A command or response is not valid if any frame has an FCS error,
	// or the final frame is not tagged and recognised. A corrupt frame
	// draws CRP when enabled, else silence and a timeout.
	if !crcOK {
		s.log.Debug("Bad CRC received")
		if s.crpEnabled {
			s.sendSimpleFrame(protocol.FCFCRP)
		}
		return
	}
	// Cancel the command or response timer.
	s.timerT2T4 = 0
	if len(msg) < 3 {
		s.log.Debug("Bad HDLC frame length", logger.Int("len", len(msg)))
		return
	}
	if msg[0] != protocol.AddressOctet ||
		(msg[1] != protocol.ControlNonFinal && msg[1] != protocol.ControlFinal) {
		s.log.Debug("Bad HDLC frame header", logger.Hex("header", msg[:2]))
		return
	}
	s.log.Debug("Rx frame",
		logger.String("type", protocol.FrameTypeName(msg[2])),
		logger.Bool("final", msg[1]&protocol.FinalBit != 0),
		logger.Hex("data", msg))

	switch s.phase {
	case PhaseACED, PhaseACNG, PhaseBRx, PhaseCECMRx, PhaseDRx:
	default:
		s.log.Debug("HDLC frame in unexpected phase",
			logger.String("phase", s.phase.String()),
			logger.String("state", s.state.String()))
	}
	if msg[1]&protocol.FinalBit == 0 {
		s.acceptNonFinalFrame(msg)
	} else {
		s.acceptFinalFrame(msg)
	}
}

func (s *Session) hdlcSignal(signal int) {
	switch signal {
	case SignalTrainingFailed:
		s.log.Debug("HDLC carrier training failed",
			logger.String("state", s.state.String()))
		s.rxTrained = false
		// We saw something. Stop the timer and wait for the carrier to
		// drop before proceeding.
		s.timerT2T4 = 0
	case SignalTrainingSucceeded:
		s.log.Debug("HDLC carrier trained", logger.String("state", s.state.String()))
		s.rxSignalPresent = true
		s.rxTrained = true
	case SignalCarrierUp:
		s.log.Debug("HDLC carrier up", logger.String("state", s.state.String()))
		s.rxSignalPresent = true
	case SignalCarrierDown:
		s.log.Debug("HDLC carrier down", logger.String("state", s.state.String()))
		s.rxSignalPresent = false
		s.rxTrained = false
		// A queued phase change latches when the receive signal drops.
		if s.nextPhase != PhaseIdle {
			s.setPhase(s.nextPhase)
			s.nextPhase = PhaseIdle
		}
	case SignalFramingOK:
		s.log.Debug("HDLC framing OK", logger.String("state", s.state.String()))
		if !s.farEndDetected && s.timerT0T1 > 0 {
			s.timerT0T1 = msToSamples(timerT1Millis)
			s.farEndDetected = true
			if s.phase == PhaseACED || s.phase == PhaseACNG {
				s.setPhase(PhaseBRx)
			}
		}
		// T.30 5.4.3.1: T2 is reset when a flag is received.
		if !s.timerIsT4 && s.timerT2T4 > 0 {
			s.timerT2T4 = 0
		}
	case SignalAbort:
		// Aborted frames are harmless.
	default:
		s.log.Debug("Unexpected HDLC signal", logger.Int("signal", signal))
	}
}

// acceptNonFinalFrame handles the auxiliary frames delivered ahead of a
// final frame: identifiers, passwords, addresses and ECM image data.
// One arriving where T.30 does not expect it is harmless.
func (s *Session) acceptNonFinalFrame(msg []byte) {
	// Restart the command or response timer, except while exchanging
	// HDLC image data: if the modem loses sync mid-image we just wait
	// for the carrier to drop.
	if s.phase != PhaseCECMRx {
		if s.timerIsT4 {
			s.startResponseTimer()
		} else {
			s.startCommandTimer()
		}
	}
	switch msg[2] & 0xFE {
	case protocol.FCFCSI & 0xFE:
		// CSI in (NSF) (CSI) DIS; CIG in (NSC) (CIG) DTC.
		s.decodeIdentTo(&s.farIdent, msg)
	case protocol.FCFNSF & 0xFE:
		if msg[2] == protocol.FCFNSF {
			s.country, s.vendor, s.model = protocol.DecodeT35(msg[3:])
			if s.country != "" {
				s.log.Debug("Far end origin", logger.String("country", s.country))
			}
			if s.vendor != "" {
				s.log.Debug("Far end vendor", logger.String("vendor", s.vendor))
			}
		}
		// NSC carries a command we do not act on.
	case protocol.FCFPWD & 0xFE:
		if msg[2] != protocol.FCFPWD {
			s.unexpectedFrame(msg)
			break
		}
		var pw string
		s.decodeIdentTo(&pw, msg)
		s.farPasswordOK = pw == s.farPasswordExpected
	case protocol.FCFSEP & 0xFE:
		if msg[2] != protocol.FCFSEP {
			s.unexpectedFrame(msg)
			break
		}
		s.decodeIdentTo(&s.sepAddress, msg)
	case protocol.FCFPSA & 0xFE:
		if msg[2] != protocol.FCFPSA {
			s.unexpectedFrame(msg)
			break
		}
		s.decodeIdentTo(&s.psaAddress, msg)
	case protocol.FCFTSI:
		s.decodeIdentTo(&s.farIdent, msg)
	case protocol.FCFSUB:
		s.decodeIdentTo(&s.farSubAddress, msg)
	case protocol.FCFSID:
		var sid string
		s.decodeIdentTo(&sid, msg)
	case protocol.FCFCIA & 0xFE, protocol.FCFISP & 0xFE, protocol.FCFCSA,
		protocol.FCFTSA, protocol.FCFIRA:
		if addr, err := protocol.DecodeURL(msg[3:]); err == nil {
			s.log.Debug("Far end internet address",
				logger.String("type", protocol.FrameTypeName(msg[2])),
				logger.String("address", addr))
		} else {
			s.unexpectedFrameLength(msg)
		}
	case protocol.FCFFCD:
		s.processRxFCD(msg)
	case protocol.FCFRCP & 0xFE:
		s.processRxRCP(msg)
	default:
		s.unexpectedNonFinalFrame(msg)
	}
}

func (s *Session) decodeIdentTo(dst *string, msg []byte) {
	ident, err := protocol.DecodeIdent(msg[2:])
	if err != nil {
		s.unexpectedFrameLength(msg)
		return
	}
	*dst = ident
	s.log.Debug("Far end identifier",
		logger.String("type", protocol.FrameTypeName(msg[2])),
		logger.String("value", ident))
}

// acceptFinalFrame dispatches a final frame to the handler for the
// current flow chart state.
func (s *Session) acceptFinalFrame(msg []byte) {
	// Any successful message from the far end cancels T0/T1.
	s.timerT0T1 = 0

	switch s.state {
	case StateAnswering:
		s.processStateAnswering(msg)
	case StateB:
		s.processStateB(msg)
	case StateC:
		s.processStateC(msg)
	case StateD:
		s.processStateD(msg)
	case StateDTCF:
		s.processStateDTCF(msg)
	case StateDPostTCF:
		s.processStateDPostTCF(msg)
	case StateFTCF:
		s.processStateFTCF(msg)
	case StateFCFR:
		s.processStateFCFR(msg)
	case StateFFTT:
		s.processStateFFTT(msg)
	case StateFDocNonECM:
		s.processStateFDocNonECM(msg)
	case StateFPostDocNonECM:
		s.processStateFPostDocNonECM(msg)
	case StateFDocECM, StateFPostDocECM:
		s.processStateFDocECM(msg)
	case StateFPostRCPMCF:
		s.processStateFPostRCPMCF(msg)
	case StateFPostRCPPPR:
		s.processStateFPostRCPPPR(msg)
	case StateFPostRCPRNR:
		s.processStateFPostRCPRNR(msg)
	case StateR:
		s.processStateR(msg)
	case StateT:
		s.processStateT(msg)
	case StateI:
		s.processStateI(msg)
	case StateII:
		s.processStateII(msg)
	case StateIIQ:
		s.processStateIIQ(msg)
	case StateIIIQMCF:
		s.processStateIIIQMCF(msg)
	case StateIIIQRTP:
		s.processStateIIIQRTP(msg)
	case StateIIIQRTN:
		s.processStateIIIQRTN(msg)
	case StateIV:
		s.processStateIV(msg)
	case StateIVPPSNull:
		s.processStateIVPPSNull(msg)
	case StateIVPPSQ:
		s.processStateIVPPSQ(msg)
	case StateIVPPSRNR:
		s.processStateIVPPSRNR(msg)
	case StateIVCTC:
		s.processStateIVCTC(msg)
	case StateIVEOR:
		s.processStateIVEOR(msg)
	case StateIVEORRNR:
		s.processStateIVEORRNR(msg)
	case StateCallFinished:
		// Anything arriving after the call is declared over is ignored.
	default:
		s.unexpectedFinalFrame(msg)
	}
}

// Out of context frames are logged and, where T.30 calls for it, draw a
// disconnect; they never crash the state machine.

func (s *Session) unexpectedFrame(msg []byte) {
	s.log.Debug("Unexpected frame",
		logger.String("type", protocol.FrameTypeName(msg[2])),
		logger.String("state", s.state.String()))
	switch s.state {
	case StateFDocECM, StateFDocNonECM:
		s.currentStatus = StatusInvalidCommandRx
	}
}

func (s *Session) unexpectedNonFinalFrame(msg []byte) {
	s.log.Debug("Unexpected non-final frame",
		logger.String("type", protocol.FrameTypeName(msg[2])),
		logger.String("state", s.state.String()))
	s.currentStatus = StatusUnexpected
}

func (s *Session) unexpectedFinalFrame(msg []byte) {
	s.log.Debug("Unexpected final frame",
		logger.String("type", protocol.FrameTypeName(msg[2])),
		logger.String("state", s.state.String()))
	s.currentStatus = StatusUnexpected
	s.sendDCN()
}

func (s *Session) unexpectedFrameLength(msg []byte) {
	s.log.Debug("Unexpected frame length",
		logger.String("type", protocol.FrameTypeName(msg[2])),
		logger.Int("len", len(msg)))
	s.currentStatus = StatusUnexpected
	s.sendDCN()
}
