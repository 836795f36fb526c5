package t30

import (
	"fmt"
	"io"
	"strings"

	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/protocol"
)

// SampleRate is the audio sample rate the timer base counts in.
const SampleRate = 8000

// MaxMessageTries bounds command repetition before the session gives up
// and disconnects.
const MaxMessageTries = 3

// finalFlushMillis is the silence sent before disconnecting, so the far
// end sees the last message before the line drops.
const finalFlushMillis = 1000

func msToSamples(ms int) int {
	return ms * SampleRate / 1000
}

// Default timer values, milliseconds (T.30 5.x recommendations).
const (
	timerT0Millis = 60000
	timerT1Millis = 35000
	timerT2Millis = 7000
	timerT3Millis = 15000
	timerT4Millis = 3450
	timerT5Millis = 65000
)

// Callbacks is the environment a session drives. SendHDLC, SetRxType and
// SetTxType are required; the rest are optional notification hooks. All
// callbacks run synchronously on the session's calling goroutine and
// must not re-enter the session.
type Callbacks struct {
	// SendHDLC queues an outgoing HDLC frame. A nil frame asks the
	// transport to flush and expect the far end's response.
	SendHDLC func(frame []byte)
	// SetRxType selects the receive modem. shortTrain is nonzero to use
	// the short training sequence where one exists.
	SetRxType func(t ModemType, shortTrain int, useHDLC bool)
	// SetTxType selects the transmit modem. For ModemPause, shortTrain
	// carries the pause duration in milliseconds.
	SetTxType func(t ModemType, shortTrain int, useHDLC bool)
	// PhaseB is called with the FCF that completed phase B negotiation.
	PhaseB func(fcf byte)
	// PhaseD is called with each post-page command or response FCF.
	PhaseD func(fcf byte)
	// PhaseE is called once the call is over, with the final status.
	PhaseE func(status Status)
	// MoreDocuments is asked after the last page whether another
	// document follows (EOM rather than EOP).
	MoreDocuments func() bool
}

// Session is one T.30 endpoint: the state machines, timers, capability
// vectors and ECM buffer of a single fax call. A session is a passive
// object; the owner drives it from exactly one goroutine through the
// timer tick, the HDLC deliver and the non-ECM data entry points.
type Session struct {
	log          *logger.Logger
	cb           Callbacks
	callingParty bool

	// Local configuration
	caps                  protocol.Capabilities
	localIdent            string
	localSubAddress       string
	localPassword         string
	farPasswordExpected   string
	localNSF              []byte
	headerInfo            string
	ecmAllowed            bool
	crpEnabled            bool
	receiverNotReadyCount int
	outputEncoding        protocol.Compression
	forcedMinRowBits      int

	// Far end information
	farIdent      string
	farSubAddress string
	sepAddress    string
	psaAddress    string
	farPasswordOK bool
	country       string
	vendor        string
	model         string
	rxDCSTrace    string

	// Documents
	txSource ImageSource
	rxSink   ImageSink

	// Protocol state
	phase            Phase
	nextPhase        Phase
	state            State
	step             int
	currentStatus    Status
	disReceived      bool
	farEndDetected   bool
	rxSignalPresent  bool
	rxTrained        bool
	inMessage        bool
	shortTrain       bool
	retries          int
	nextTxStep       byte
	nextRxStep       byte
	pendingPPSFCF2   byte
	localInterruptPending bool

	// Negotiation state
	disDTC           protocol.CapabilityVector
	dcs              protocol.CapabilityVector
	currentFallback  int
	currentPermitted protocol.ModemSupport
	errorCorrecting  bool
	lineEncoding     protocol.Compression
	minScanCode      int
	xResolution      int
	yResolution      int
	imageWidth       int

	// Trainability test
	trainingCurrentZeros int
	trainingMostZeros    int
	trainingTestBits     int

	// Timers, in samples remaining; positive means running. T2 and T4
	// share one counter, discriminated by timerIsT4.
	timerT0T1 int
	timerT2T4 int
	timerT3   int
	timerT5   int
	timerIsT4 bool

	ecm ecmBuffer
}

// New creates a session acting as the calling or answering party. The
// default capabilities cover the basic modems; use the setters to widen
// them before the call starts.
func New(callingParty bool, cb Callbacks, log *logger.Logger) *Session {
	if log == nil {
		log = logger.New(logger.Config{Level: "error", Output: io.Discard})
	}
	s := &Session{
		log:          log,
		cb:           cb,
		callingParty: callingParty,
		caps: protocol.Capabilities{
			Modems:      protocol.SupportV27ter | protocol.SupportV29,
			Compression: protocol.SupportT41D | protocol.SupportT42D,
			Resolutions: protocol.SupportStandardResolution | protocol.SupportFineResolution |
				protocol.SupportSuperfineResolution | protocol.SupportR8Resolution,
			Sizes: protocol.SupportUSLetterLength | protocol.SupportUSLegalLength |
				protocol.SupportUnlimitedLength | protocol.Support215mmWidth,
		},
		outputEncoding:   protocol.CompressionT42D,
		forcedMinRowBits: -1,
	}
	s.Restart()
	return s
}

// Restart resets the session for a fresh call. The configured identity
// and capabilities are kept; all per-call state is cleared.
func (s *Session) Restart() {
	s.phase = PhaseIdle
	s.nextPhase = PhaseIdle
	s.currentFallback = 0
	s.rxSignalPresent = false
	s.rxTrained = false
	s.currentStatus = StatusOK
	s.ecm.pprCount = 0
	s.ecm.octetsPerFrame = 256
	s.ecm.frames = -1
	s.ecm.clearSlots()
	s.farEndDetected = false
	s.disReceived = false
	s.inMessage = false
	s.retries = 0
	s.timerT2T4 = 0
	s.timerT3 = 0
	s.timerT5 = 0

	s.disDTC = protocol.BuildDISDTC(s.caps)
	if s.callingParty {
		s.setState(StateT)
		s.setPhase(PhaseACNG)
	} else {
		s.setState(StateAnswering)
		s.setPhase(PhaseACED)
	}
	s.timerT0T1 = msToSamples(timerT0Millis)
}

// Terminate forces the session to phase E. If the call was not already
// closing, the status becomes CallDropped.
func (s *Session) Terminate() {
	if s.phase == PhaseCallFinished {
		return
	}
	switch s.state {
	case StateC:
		// We were sending the final disconnect; hussle things along.
		s.disconnect()
	case StateB:
		// Already in the final flush.
	default:
		s.currentStatus = StatusCallDropped
	}
	if s.cb.PhaseE != nil {
		s.cb.PhaseE(s.currentStatus)
	}
	s.setState(StateCallFinished)
	s.setPhase(PhaseCallFinished)
}

// CurrentStatus returns the session's completion code so far.
func (s *Session) CurrentStatus() Status {
	return s.currentStatus
}

// Phase returns the current call phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// State returns the current flow chart state.
func (s *Session) State() State {
	return s.state
}

// BitRate returns the image bit rate of the current fallback entry.
func (s *Session) BitRate() int {
	return fallbackLadder[s.currentFallback].BitRate
}

// ECMMode reports whether the call negotiated error correction mode.
func (s *Session) ECMMode() bool {
	return s.errorCorrecting
}

// FarIdent returns the identifier the far end supplied, if any.
func (s *Session) FarIdent() string {
	return s.farIdent
}

// FarSubAddress returns the subaddress the far end supplied, if any.
func (s *Session) FarSubAddress() string {
	return s.farSubAddress
}

// FarOrigin returns the country, vendor and model decoded from the far
// end's NSF, where recognised.
func (s *Session) FarOrigin() (country, vendor, model string) {
	return s.country, s.vendor, s.model
}

// FarPasswordOK reports whether the far end supplied the expected
// password.
func (s *Session) FarPasswordOK() bool {
	return s.farPasswordOK
}

// SelectivePollingAddress returns the SEP address the far end supplied,
// if any.
func (s *Session) SelectivePollingAddress() string {
	return s.sepAddress
}

// PolledSubAddress returns the PSA address the far end supplied, if
// any.
func (s *Session) PolledSubAddress() string {
	return s.psaAddress
}

// TransferStatistics reports progress of the current or completed call.
func (s *Session) TransferStatistics() TransferStats {
	var stats TransferStats
	if s.txSource != nil {
		stats = s.txSource.Stats()
	} else if s.rxSink != nil {
		stats = s.rxSink.Stats()
	}
	return stats
}

// Configuration setters. These are meant to be called between calls, not
// while a session is in progress.

// SetLocalIdent sets the up to 20 character station identifier sent in
// CSI/TSI/CIG frames.
func (s *Session) SetLocalIdent(ident string) error {
	if len(ident) > protocol.MaxIdentLength {
		return fmt.Errorf("identifier too long: %d characters", len(ident))
	}
	s.localIdent = ident
	return nil
}

// LocalIdent returns the configured station identifier.
func (s *Session) LocalIdent() string {
	return s.localIdent
}

// SetLocalSubAddress sets the subaddress sent with DCS.
func (s *Session) SetLocalSubAddress(sub string) error {
	if len(sub) > protocol.MaxIdentLength {
		return fmt.Errorf("subaddress too long: %d characters", len(sub))
	}
	s.localSubAddress = sub
	return nil
}

// SetLocalPassword sets the password sent with DCS.
func (s *Session) SetLocalPassword(pw string) error {
	if len(pw) > protocol.MaxIdentLength {
		return fmt.Errorf("password too long: %d characters", len(pw))
	}
	s.localPassword = pw
	return nil
}

// SetFarPassword sets the password expected from the far end.
func (s *Session) SetFarPassword(pw string) error {
	if len(pw) > protocol.MaxIdentLength {
		return fmt.Errorf("password too long: %d characters", len(pw))
	}
	s.farPasswordExpected = pw
	return nil
}

// SetLocalNSF sets the non-standard facilities payload sent ahead of
// DIS.
func (s *Session) SetLocalNSF(nsf []byte) error {
	if len(nsf) > protocol.MaxNSFLength {
		return fmt.Errorf("NSF too long: %d octets", len(nsf))
	}
	s.localNSF = append([]byte(nil), nsf...)
	return nil
}

// SetHeaderInfo sets the page header text the transmit codec stamps on
// each page. Empty means no header line.
func (s *Session) SetHeaderInfo(info string) error {
	if len(info) > 50 {
		return fmt.Errorf("header info too long: %d characters", len(info))
	}
	s.headerInfo = info
	return nil
}

// SetSupportedModems replaces the modem capability mask.
func (s *Session) SetSupportedModems(modems protocol.ModemSupport) {
	s.caps.Modems = modems
	s.disDTC = protocol.BuildDISDTC(s.caps)
}

// SetSupportedCompressions replaces the compression capability mask.
func (s *Session) SetSupportedCompressions(c protocol.CompressionSupport) {
	s.caps.Compression = c
	s.disDTC = protocol.BuildDISDTC(s.caps)
}

// SetSupportedResolutions replaces the resolution capability mask.
func (s *Session) SetSupportedResolutions(r protocol.ResolutionSupport) {
	s.caps.Resolutions = r
	s.disDTC = protocol.BuildDISDTC(s.caps)
}

// SetSupportedImageSizes replaces the paper size capability mask.
func (s *Session) SetSupportedImageSizes(sz protocol.SizeSupport) {
	s.caps.Sizes = sz
	s.disDTC = protocol.BuildDISDTC(s.caps)
}

// SetECMCapability enables or disables offering error correction mode.
func (s *Session) SetECMCapability(enabled bool) {
	s.ecmAllowed = enabled
	s.caps.ECM = enabled
	s.disDTC = protocol.BuildDISDTC(s.caps)
}

// SetIAFMode sets the Internet-aware fax behaviour flags.
func (s *Session) SetIAFMode(iaf protocol.IAFMode) {
	s.caps.IAF = iaf
	s.disDTC = protocol.BuildDISDTC(s.caps)
}

// SetCRPEnabled selects whether corrupt frames are answered with CRP.
func (s *Session) SetCRPEnabled(enabled bool) {
	s.crpEnabled = enabled
}

// SetReceiverNotReady makes the receiver answer the next count PPS
// frames with RNR before committing, for flow control testing and for
// genuinely slow paper paths.
func (s *Session) SetReceiverNotReady(count int) {
	s.receiverNotReadyCount = count
}

// SetRxEncoding selects the output encoding handed to the receive codec.
func (s *Session) SetRxEncoding(encoding protocol.Compression) {
	s.outputEncoding = encoding
}

// SetMinNonECMRowBits forces a per-row bit floor for non-ECM rows,
// overriding the negotiated minimum scan line time. Negative restores
// the negotiated value.
func (s *Session) SetMinNonECMRowBits(bits int) {
	s.forcedMinRowBits = bits
}

// SetTxDocument supplies the document to transmit. A session with a
// transmit document answers a DIS with DCS.
func (s *Session) SetTxDocument(src ImageSource) {
	s.txSource = src
}

// SetRxDocument supplies the sink receiving pages. A session with a
// receive sink advertises ready-to-receive in its DIS.
func (s *Session) SetRxDocument(sink ImageSink) {
	s.rxSink = sink
}

// LocalInterruptRequest raises or clears a local procedural interrupt.
// With the far end's interrupt outstanding (T3 running) the answer goes
// out immediately.
func (s *Session) LocalInterruptRequest(state bool) {
	if s.timerT3 > 0 {
		fcf := byte(protocol.FCFPIN)
		if state {
			fcf = protocol.FCFPIP
		}
		s.sendSimpleFrame(fcf)
	}
	s.localInterruptPending = state
}

// frame plumbing

func (s *Session) sendFrame(frame []byte) {
	s.log.Debug("Tx frame",
		logger.String("type", protocol.FrameTypeName(frame[2])),
		logger.Bool("final", frame[1]&protocol.FinalBit != 0),
		logger.Hex("data", frame))
	if s.cb.SendHDLC != nil {
		s.cb.SendHDLC(frame)
	}
}

func (s *Session) sendSimpleFrame(fcf byte) {
	s.sendFrame(protocol.SimpleFrame(fcf, s.disReceived))
}

// sendFlush signals the transport that the frame sequence is complete
// and a response is expected.
func (s *Session) sendFlush() {
	if s.cb.SendHDLC != nil {
		s.cb.SendHDLC(nil)
	}
}

func (s *Session) sendIdentFrame(fcf byte) bool {
	if s.localIdent == "" {
		return false
	}
	s.log.Debug("Sending ident", logger.String("ident", s.localIdent))
	s.sendFrame(protocol.IdentFrame(fcf, s.disReceived, s.localIdent))
	return true
}

func (s *Session) sendPasswordFrame() bool {
	if s.localPassword == "" {
		return false
	}
	s.sendFrame(protocol.IdentFrame(protocol.FCFPWD, s.disReceived, s.localPassword))
	return true
}

func (s *Session) sendSubAddressFrame() bool {
	if s.localSubAddress == "" {
		return false
	}
	s.sendFrame(protocol.IdentFrame(protocol.FCFSUB, s.disReceived, s.localSubAddress))
	return true
}

func (s *Session) sendNSFFrame() bool {
	if len(s.localNSF) == 0 {
		return false
	}
	s.sendFrame(protocol.NSFFrame(s.disReceived, s.localNSF))
	return true
}

func (s *Session) sendPPSFrame() byte {
	fcf2 := byte(protocol.FCFNull)
	if s.ecm.atPageEnd {
		fcf2 = s.nextTxStep
		if s.disReceived {
			fcf2 |= protocol.DISReceivedBit
		}
	}
	frame := protocol.PPSFrame(s.disReceived, fcf2, s.ecm.page, s.ecm.block, s.ecm.framesThisBurst)
	s.log.Debug("Sending PPS", logger.String("with", protocol.FrameTypeName(frame[3])))
	s.sendFrame(frame)
	return frame[3] & 0xFE
}

func (s *Session) sendDCN() {
	s.queuePhase(PhaseDTx)
	s.setState(StateC)
	s.sendSimpleFrame(protocol.FCFDCN)
}

// sendDISDTCSequence emits the optional NSF and CSI frames followed by
// the pruned DIS/DTC. The continuation runs step-wise from the front end
// send-complete events.
func (s *Session) sendDISDTCSequence() {
	s.disDTC.Prune()
	s.setState(StateR)
	if s.sendNSFFrame() {
		s.step = 0
		return
	}
	if s.sendIdentFrame(protocol.FCFCSI) {
		s.step = 1
		return
	}
	s.refreshDISDTC()
	s.sendFrame(s.disDTC.Bytes())
	s.step = 2
}

// sendDCSSequence emits the optional PWD, SUB and TSI frames followed by
// the pruned DCS, scheduling training after the messages.
func (s *Session) sendDCSSequence() {
	s.dcs.Prune()
	s.setState(StateD)
	if s.sendPasswordFrame() {
		s.step = 0
		return
	}
	if s.sendSubAddressFrame() {
		s.step = 1
		return
	}
	if s.sendIdentFrame(protocol.FCFTSI) {
		s.step = 2
		return
	}
	s.sendFrame(s.dcs.Bytes())
	s.step = 3
}

func (s *Session) refreshDISDTC() {
	protocol.RefreshDISDTC(&s.disDTC, s.disReceived, s.rxSink != nil, s.txSource != nil)
}

// disconnect tidies the documents up and runs the call down to phase E.
func (s *Session) disconnect() {
	s.log.Debug("Disconnecting")
	if s.rxSink != nil {
		_ = s.rxSink.Close()
	}
	if s.txSource != nil {
		_ = s.txSource.Close()
	}
	s.timerT0T1 = 0
	s.timerT2T4 = 0
	s.timerT3 = 0
	s.timerT5 = 0
	s.setPhase(PhaseE)
	s.setState(StateB)
}

// checkNextTxStep decides the post-page command for the page just sent:
// MPS while pages remain, EOM when another document follows, EOP
// otherwise; the PRI variants when a local interrupt is pending.
func (s *Session) checkNextTxStep() byte {
	if s.txSource.MorePages() {
		if s.localInterruptPending {
			return protocol.FCFPRIMPS
		}
		return protocol.FCFMPS
	}
	more := false
	if s.cb.MoreDocuments != nil {
		more = s.cb.MoreDocuments()
	}
	if more {
		if s.localInterruptPending {
			return protocol.FCFPRIEOM
		}
		return protocol.FCFEOM
	}
	if s.localInterruptPending {
		return protocol.FCFPRIEOP
	}
	return protocol.FCFEOP
}

// startSendingDocument prepares the transmit document against the
// received DIS and fills the first ECM partial page when in ECM mode.
func (s *Session) startSendingDocument(dis []byte, disLen int) bool {
	if s.txSource == nil {
		s.log.Debug("No document to send")
		return false
	}
	s.xResolution = s.txSource.XResolution()
	s.yResolution = s.txSource.YResolution()
	code, err := protocol.SelectMinScanCode(s.caps.IAF, dis, disLen, s.yResolution)
	if err != nil {
		s.currentStatus = StatusResolutionNotSupported
		return false
	}
	s.minScanCode = code
	minRowBits := fallbackLadder[s.currentFallback].BitRate * protocol.MinScanTimeMillis(code) / 1000
	if s.forcedMinRowBits >= 0 {
		minRowBits = s.forcedMinRowBits
	}
	s.txSource.SetMinRowBits(minRowBits)

	if err := s.txSource.StartPage(); err != nil {
		s.currentStatus = StatusFileError
		return false
	}
	s.imageWidth = s.txSource.Width()
	s.ecm.page = 0
	s.ecm.block = 0
	if s.errorCorrecting {
		if s.fillPartialECMPage() == 0 {
			s.log.Warn("No image data to send")
		}
	}
	return true
}

// restartSendingDocument rewinds the current page and re-runs the DCS
// sequence for fresh training.
func (s *Session) restartSendingDocument() {
	_ = s.txSource.RestartPage()
	s.retries = 0
	s.ecm.block = 0
	s.sendDCSSequence()
}

// startReceivingDocument re-announces our capabilities to solicit
// another document.
func (s *Session) startReceivingDocument() bool {
	if s.rxSink == nil {
		s.log.Debug("No document to receive")
		return false
	}
	s.queuePhase(PhaseBTx)
	s.disReceived = false
	s.ecm.page = 0
	s.ecm.block = 0
	s.sendDISDTCSequence()
	return true
}

// repeatLastCommand replays whatever the current state last put on the
// wire: on CRP, on T4 expiry under the retry limit, and when the far
// end plainly missed our response.
func (s *Session) repeatLastCommand() {
	switch s.state {
	case StateR:
		s.disReceived = false
		s.setPhase(PhaseBTx)
		s.sendDISDTCSequence()
	case StateIIIQMCF:
		s.setPhase(PhaseDTx)
		s.sendSimpleFrame(protocol.FCFMCF)
	case StateIIIQRTP:
		s.setPhase(PhaseDTx)
		s.sendSimpleFrame(protocol.FCFRTP)
	case StateIIIQRTN:
		s.setPhase(PhaseDTx)
		s.sendSimpleFrame(protocol.FCFRTN)
	case StateIIQ:
		s.setPhase(PhaseDTx)
		s.sendSimpleFrame(s.nextTxStep)
	case StateIVPPSNull, StateIVPPSQ:
		s.setPhase(PhaseDTx)
		s.sendPPSFrame()
	case StateIVPPSRNR, StateIVEORRNR:
		s.setPhase(PhaseDTx)
		s.sendSimpleFrame(protocol.FCFRNR)
	case StateD:
		s.setPhase(PhaseBTx)
		s.sendDCSSequence()
	case StateFFTT:
		s.setPhase(PhaseBTx)
		s.sendSimpleFrame(protocol.FCFFTT)
	case StateFCFR:
		s.setPhase(PhaseBTx)
		s.sendSimpleFrame(protocol.FCFCFR)
	case StateDPostTCF:
		// The whole training sequence has to go again.
		s.shortTrain = false
		s.setPhase(PhaseBTx)
		s.sendDCSSequence()
	case StateFPostRCPRNR:
		// Nothing useful to repeat.
	default:
		s.log.Debug("Repeat command with nothing to repeat",
			logger.String("phase", s.phase.String()),
			logger.String("state", s.state.String()))
	}
}

// setState records a flow chart transition and resets the per-state
// send step.
func (s *Session) setState(state State) {
	if s.state != state {
		s.log.Debug("State change",
			logger.String("from", s.state.String()),
			logger.String("to", state.String()))
		s.state = state
	}
	s.step = 0
}

// queuePhase switches phase now, or defers the switch until the receive
// signal drops if one is still present. This deferral is the only
// re-ordering the session ever performs.
func (s *Session) queuePhase(phase Phase) {
	if s.rxSignalPresent {
		s.nextPhase = phase
		return
	}
	s.setPhase(phase)
	s.nextPhase = PhaseIdle
}

// setPhase reconfigures the front end for a new call phase and arms the
// phase-owned timers. Transitions never send frames themselves.
func (s *Session) setPhase(phase Phase) {
	if phase == s.phase {
		return
	}
	s.log.Debug("Phase change",
		logger.String("from", s.phase.String()),
		logger.String("to", phase.String()))
	// We may be killing a receiver before it has declared the end of the
	// signal, in which case it never will.
	if s.phase != PhaseACED && s.phase != PhaseACNG {
		s.rxSignalPresent = false
	}
	s.rxTrained = false
	s.phase = phase
	switch phase {
	case PhaseACED:
		s.setRxType(ModemV21, 0, true)
		s.setTxType(ModemCED, 0, false)
	case PhaseACNG:
		s.setRxType(ModemV21, 0, true)
		s.setTxType(ModemCNG, 0, false)
	case PhaseBRx, PhaseDRx:
		s.setRxType(ModemV21, 0, true)
		s.setTxType(ModemNone, 0, false)
	case PhaseBTx, PhaseDTx:
		if !s.farEndDetected && s.timerT0T1 > 0 {
			s.timerT0T1 = msToSamples(timerT1Millis)
			s.farEndDetected = true
		}
		s.setRxType(ModemNone, 0, false)
		s.setTxType(ModemV21, 0, true)
	case PhaseCNonECMRx:
		s.timerT2T4 = msToSamples(timerT2Millis)
		s.timerIsT4 = false
		s.setRxType(fallbackLadder[s.currentFallback].Modem, boolToInt(s.shortTrain), false)
		s.setTxType(ModemNone, 0, false)
	case PhaseCNonECMTx:
		// Prime the training count for 1.5s of zeros at the current
		// rate. Harmless if this turns out not to be TCF.
		s.trainingTestBits = 3 * fallbackLadder[s.currentFallback].BitRate / 2
		s.setRxType(ModemNone, 0, false)
		s.setTxType(fallbackLadder[s.currentFallback].Modem, boolToInt(s.shortTrain), false)
	case PhaseCECMRx:
		s.timerT2T4 = msToSamples(timerT2Millis)
		s.timerIsT4 = false
		s.setRxType(fallbackLadder[s.currentFallback].Modem, boolToInt(s.shortTrain), true)
		s.setTxType(ModemNone, 0, false)
	case PhaseCECMTx:
		s.setRxType(ModemNone, 0, false)
		s.setTxType(fallbackLadder[s.currentFallback].Modem, boolToInt(s.shortTrain), true)
	case PhaseE:
		// A little silence before the end, so the buffers flush and the
		// far end sees our last message.
		s.trainingCurrentZeros = 0
		s.trainingMostZeros = 0
		s.setRxType(ModemNone, 0, false)
		s.setTxType(ModemPause, finalFlushMillis, false)
	case PhaseCallFinished:
		s.setRxType(ModemDone, 0, false)
		s.setTxType(ModemDone, 0, false)
	}
}

func (s *Session) setRxType(t ModemType, shortTrain int, useHDLC bool) {
	if s.cb.SetRxType != nil {
		s.cb.SetRxType(t, shortTrain, useHDLC)
	}
}

func (s *Session) setTxType(t ModemType, shortTrain int, useHDLC bool) {
	if s.cb.SetTxType != nil {
		s.cb.SetTxType(t, shortTrain, useHDLC)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rxDCSHex renders a received DCS payload for archival alongside the
// page, least significant bit first as transmitted.
func rxDCSHex(msg []byte) string {
	var b strings.Builder
	for i, octet := range msg[3:] {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", bitReverse8(octet))
	}
	return b.String()
}

func bitReverse8(x byte) byte {
	x = (x&0x55)<<1 | (x>>1)&0x55
	x = (x&0x33)<<2 | (x>>2)&0x33
	return x<<4 | x>>4
}
