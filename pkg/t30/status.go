package t30

// Status is the session completion code reported through the phase E
// hook, and readable at any time through CurrentStatus.
type Status int

const (
	StatusOK Status = iota

	// Link problems
	StatusCEDTone     // the CED tone exceeded 5s
	StatusT0Expired   // timed out waiting for initial communication
	StatusT1Expired   // timed out waiting for the first message
	StatusT3Expired   // timed out waiting for procedural interrupt
	StatusHDLCCarrier // the HDLC carrier did not stop in a timely manner
	StatusCannotTrain // failed to train with any of the compatible modems
	StatusIncompatible
	StatusRxIncapable // far end is not able to receive
	StatusTxIncapable // far end is not able to transmit
	StatusResolutionNotSupported
	StatusSizeNotSupported
	StatusUnexpected // unexpected message received

	// Document problems
	StatusFileError
	StatusNoPage
	StatusBadTiff
	StatusBadTiffHeader
	StatusBadTag

	// Phase E values returned to a transmitter
	StatusBadDCSTx    // received bad response to DCS or training
	StatusBadPageTx   // received a DCN from remote after sending a page
	StatusECMPhaseDTx // invalid ECM response received from receiver
	StatusT5Expired   // timed out waiting for receiver ready (ECM mode)
	StatusGotDCNTx    // received a DCN while waiting for a DIS
	StatusInvalidResponseTx
	StatusNoDISTx      // received other than DIS while waiting for DIS
	StatusPhaseBDeadTx // received no response to DCS, training or TCF
	StatusPhaseDDeadTx // no response after sending a page

	// Phase E values returned to a receiver
	StatusECMPhaseDRx // invalid ECM response received from transmitter
	StatusGotDCSRx    // DCS received while waiting for DTC
	StatusInvalidCommandRx
	StatusNoCarrierRx
	StatusT2ExpiredDCNRx // T2 expired while waiting for DCN
	StatusT2ExpiredDRx   // T2 expired while waiting for phase D
	StatusT2ExpiredFaxRx // T2 expired while waiting for fax page
	StatusT2ExpiredMPSRx // T2 expired while waiting for next fax page
	StatusT2ExpiredRRRx  // T2 expired while waiting for RR command
	StatusT2ExpiredRx    // T2 expired while waiting for NSS, DCS or MCF
	StatusDCNWhyRx       // unexpected DCN while waiting for DCS or DIS
	StatusDCNDataRx      // unexpected DCN while waiting for image data
	StatusDCNFaxRx       // unexpected DCN while waiting for EOM, EOP or MPS
	StatusDCNPhaseDRx    // unexpected DCN after EOM or MPS sequence
	StatusDCNRRDRx       // unexpected DCN after RR/RNR sequence
	StatusDCNNoRTNRx     // unexpected DCN after requested retransmission

	StatusRetryDCN    // disconnected after permitted retries
	StatusCallDropped // the call dropped prematurely
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCEDTone:
		return "the CED tone exceeded 5s"
	case StatusT0Expired:
		return "timed out waiting for initial communication"
	case StatusT1Expired:
		return "timed out waiting for the first message"
	case StatusT3Expired:
		return "timed out waiting for procedural interrupt"
	case StatusHDLCCarrier:
		return "the HDLC carrier did not stop in a timely manner"
	case StatusCannotTrain:
		return "failed to train with any of the compatible modems"
	case StatusIncompatible:
		return "far end is not compatible"
	case StatusRxIncapable:
		return "far end is not able to receive"
	case StatusTxIncapable:
		return "far end is not able to transmit"
	case StatusResolutionNotSupported:
		return "far end cannot receive at the resolution of the image"
	case StatusSizeNotSupported:
		return "far end cannot receive at the size of image"
	case StatusUnexpected:
		return "unexpected message received"
	case StatusFileError:
		return "document cannot be opened"
	case StatusNoPage:
		return "document page not found"
	case StatusBadTiff:
		return "document format is not compatible"
	case StatusBadTiffHeader:
		return "bad document header"
	case StatusBadTag:
		return "incorrect document tags"
	case StatusBadDCSTx:
		return "received bad response to DCS or training"
	case StatusBadPageTx:
		return "received a DCN from remote after sending a page"
	case StatusECMPhaseDTx:
		return "invalid ECM response received from receiver"
	case StatusT5Expired:
		return "timed out waiting for receiver ready (ECM mode)"
	case StatusGotDCNTx:
		return "received a DCN while waiting for a DIS"
	case StatusInvalidResponseTx:
		return "invalid response after sending a page"
	case StatusNoDISTx:
		return "received other than DIS while waiting for DIS"
	case StatusPhaseBDeadTx:
		return "received no response to DCS, training or TCF"
	case StatusPhaseDDeadTx:
		return "no response after sending a page"
	case StatusECMPhaseDRx:
		return "invalid ECM response received from transmitter"
	case StatusGotDCSRx:
		return "DCS received while waiting for DTC"
	case StatusInvalidCommandRx:
		return "unexpected command after page received"
	case StatusNoCarrierRx:
		return "carrier lost during fax receive"
	case StatusT2ExpiredDCNRx:
		return "timer T2 expired while waiting for DCN"
	case StatusT2ExpiredDRx:
		return "timer T2 expired while waiting for phase D"
	case StatusT2ExpiredFaxRx:
		return "timer T2 expired while waiting for fax page"
	case StatusT2ExpiredMPSRx:
		return "timer T2 expired while waiting for next fax page"
	case StatusT2ExpiredRRRx:
		return "timer T2 expired while waiting for RR command"
	case StatusT2ExpiredRx:
		return "timer T2 expired while waiting for NSS, DCS or MCF"
	case StatusDCNWhyRx:
		return "unexpected DCN while waiting for DCS or DIS"
	case StatusDCNDataRx:
		return "unexpected DCN while waiting for image data"
	case StatusDCNFaxRx:
		return "unexpected DCN while waiting for EOM, EOP or MPS"
	case StatusDCNPhaseDRx:
		return "unexpected DCN after EOM or MPS sequence"
	case StatusDCNRRDRx:
		return "unexpected DCN after RR/RNR sequence"
	case StatusDCNNoRTNRx:
		return "unexpected DCN after requested retransmission"
	case StatusRetryDCN:
		return "disconnected after permitted retries"
	case StatusCallDropped:
		return "the call dropped prematurely"
	default:
		return "unknown status"
	}
}
