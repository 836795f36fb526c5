package t30

// State is a position in the T.30 flow charts. The names follow the
// chart labels: R and T are the pre-negotiation positions, D the DCS/TCF
// sequence, F the receiving side, I/II/III the non-ECM transmit path and
// IV the ECM transmit path.
type State int

const (
	StateAnswering State = iota + 1
	StateB
	StateC
	StateD
	StateDTCF
	StateDPostTCF
	StateFTCF
	StateFCFR
	StateFFTT
	StateFDocNonECM
	StateFPostDocNonECM
	StateFDocECM
	StateFPostDocECM
	StateFPostRCPMCF
	StateFPostRCPPPR
	StateFPostRCPRNR
	StateR
	StateT
	StateI
	StateII
	StateIIQ
	StateIIIQMCF
	StateIIIQRTP
	StateIIIQRTN
	StateIV
	StateIVPPSNull
	StateIVPPSQ
	StateIVPPSRNR
	StateIVCTC
	StateIVEOR
	StateIVEORRNR
	StateCallFinished
)

func (s State) String() string {
	switch s {
	case StateAnswering:
		return "ANSWERING"
	case StateB:
		return "B"
	case StateC:
		return "C"
	case StateD:
		return "D"
	case StateDTCF:
		return "D-TCF"
	case StateDPostTCF:
		return "D-POST-TCF"
	case StateFTCF:
		return "F-TCF"
	case StateFCFR:
		return "F-CFR"
	case StateFFTT:
		return "F-FTT"
	case StateFDocNonECM:
		return "F-DOC-NON-ECM"
	case StateFPostDocNonECM:
		return "F-POST-DOC-NON-ECM"
	case StateFDocECM:
		return "F-DOC-ECM"
	case StateFPostDocECM:
		return "F-POST-DOC-ECM"
	case StateFPostRCPMCF:
		return "F-POST-RCP-MCF"
	case StateFPostRCPPPR:
		return "F-POST-RCP-PPR"
	case StateFPostRCPRNR:
		return "F-POST-RCP-RNR"
	case StateR:
		return "R"
	case StateT:
		return "T"
	case StateI:
		return "I"
	case StateII:
		return "II"
	case StateIIQ:
		return "II-Q"
	case StateIIIQMCF:
		return "III-Q-MCF"
	case StateIIIQRTP:
		return "III-Q-RTP"
	case StateIIIQRTN:
		return "III-Q-RTN"
	case StateIV:
		return "IV"
	case StateIVPPSNull:
		return "IV-PPS-NULL"
	case StateIVPPSQ:
		return "IV-PPS-Q"
	case StateIVPPSRNR:
		return "IV-PPS-RNR"
	case StateIVCTC:
		return "IV-CTC"
	case StateIVEOR:
		return "IV-EOR"
	case StateIVEORRNR:
		return "IV-EOR-RNR"
	case StateCallFinished:
		return "CALL-FINISHED"
	default:
		return "unknown"
	}
}
