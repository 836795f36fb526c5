package t30

import (
	"github.com/fxnode/fax-nexus/pkg/logger"
)

// TimerTick advances the timer base by a number of audio samples. Every
// running timer counts down together; crossing zero fires the timer's
// expiry action. The owner calls this from the same context as the
// other entry points, typically once per block of samples processed.
func (s *Session) TimerTick(samples int) {
	if s.timerT0T1 > 0 {
		s.timerT0T1 -= samples
		if s.timerT0T1 <= 0 {
			if s.farEndDetected {
				s.timerT1Expired()
			} else {
				s.timerT0Expired()
			}
		}
	}
	if s.timerT3 > 0 {
		s.timerT3 -= samples
		if s.timerT3 <= 0 {
			s.timerT3Expired()
		}
	}
	if s.timerT2T4 > 0 {
		s.timerT2T4 -= samples
		if s.timerT2T4 <= 0 {
			if s.timerIsT4 {
				s.timerT4Expired()
			} else {
				s.timerT2Expired()
			}
		}
	}
	if s.timerT5 > 0 {
		s.timerT5 -= samples
		if s.timerT5 <= 0 {
			s.timerT5Expired()
		}
	}
}

func (s *Session) timerT0Expired() {
	s.log.Debug("T0 expired", logger.String("state", s.state.String()))
	s.currentStatus = StatusT0Expired
	// Nobody answered. Just end the call.
	s.disconnect()
}

func (s *Session) timerT1Expired() {
	s.log.Debug("T1 expired", logger.String("state", s.state.String()))
	// We never managed to identify each other. Abandon the call.
	s.currentStatus = StatusT1Expired
	switch s.state {
	case StateT:
		s.disconnect()
	case StateR:
		// T.30 says the answering side sends DCN first, even though we
		// never successfully contacted the far end.
		s.sendDCN()
	}
}

func (s *Session) timerT2Expired() {
	s.log.Debug("T2 expired",
		logger.String("phase", s.phase.String()),
		logger.String("state", s.state.String()))
	switch s.state {
	case StateFDocECM, StateFDocNonECM:
		s.currentStatus = StatusT2ExpiredFaxRx
	case StateFPostDocECM, StateFPostDocNonECM:
		s.currentStatus = StatusT2ExpiredMPSRx
	case StateIVPPSRNR, StateIVEORRNR:
		s.currentStatus = StatusT2ExpiredRRRx
	case StateR:
		s.currentStatus = StatusT2ExpiredRx
	}
	// Restart the command search by re-announcing our capabilities.
	s.setPhase(PhaseBTx)
	s.startReceivingDocument()
}

func (s *Session) timerT3Expired() {
	s.log.Debug("T3 expired",
		logger.String("phase", s.phase.String()),
		logger.String("state", s.state.String()))
	s.currentStatus = StatusT3Expired
	s.disconnect()
}

func (s *Session) timerT4Expired() {
	// No response, or only a corrupt response, to a command.
	s.log.Debug("T4 expired",
		logger.String("phase", s.phase.String()),
		logger.String("state", s.state.String()),
		logger.Int("retries", s.retries))
	s.retries++
	if s.retries >= MaxMessageTries {
		switch s.state {
		case StateDPostTCF:
			s.currentStatus = StatusPhaseBDeadTx
		case StateIIQ, StateIVPPSNull, StateIVPPSQ:
			s.currentStatus = StatusPhaseDDeadTx
		default:
			s.currentStatus = StatusRetryDCN
		}
		s.sendDCN()
		return
	}
	s.repeatLastCommand()
}

func (s *Session) timerT5Expired() {
	// Give up waiting for the receiver to clear its busy condition.
	s.log.Debug("T5 expired",
		logger.String("phase", s.phase.String()),
		logger.String("state", s.state.String()))
	s.currentStatus = StatusT5Expired
	s.sendDCN()
}

// startResponseTimer arms T4 for the response to a command we just
// finished sending.
func (s *Session) startResponseTimer() {
	s.timerT2T4 = msToSamples(timerT4Millis)
	s.timerIsT4 = true
}

// startCommandTimer arms T2 for the next command search.
func (s *Session) startCommandTimer() {
	s.timerT2T4 = msToSamples(timerT2Millis)
	s.timerIsT4 = false
}

// armT3 starts the operator intervention timer on a procedural
// interrupt.
func (s *Session) armT3() {
	s.timerT3 = msToSamples(timerT3Millis)
}

// notifyPhaseDWithT3 reports an interrupt FCF to the phase D hook and
// arms T3 only when someone is listening, since without an operator
// hook there is nobody to answer the interrupt.
func (s *Session) notifyPhaseDWithT3(fcf byte) {
	if s.cb.PhaseD != nil {
		s.cb.PhaseD(fcf)
		s.armT3()
	}
}
