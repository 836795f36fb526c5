package t30

import (
	"testing"

	"github.com/fxnode/fax-nexus/pkg/protocol"
)

// testFrontEnd records everything a session pushes at its environment,
// standing in for the modem layer.
type testFrontEnd struct {
	frames  [][]byte
	flushes int
	rxTypes []ModemType
	txTypes []ModemType
	phaseB  []byte
	phaseD  []byte
	phaseE  []Status
	moreDoc bool
}

func (fe *testFrontEnd) callbacks() Callbacks {
	return Callbacks{
		SendHDLC: func(frame []byte) {
			if frame == nil {
				fe.flushes++
				return
			}
			fe.frames = append(fe.frames, append([]byte(nil), frame...))
		},
		SetRxType: func(t ModemType, shortTrain int, useHDLC bool) {
			fe.rxTypes = append(fe.rxTypes, t)
		},
		SetTxType: func(t ModemType, shortTrain int, useHDLC bool) {
			fe.txTypes = append(fe.txTypes, t)
		},
		PhaseB: func(fcf byte) { fe.phaseB = append(fe.phaseB, fcf) },
		PhaseD: func(fcf byte) { fe.phaseD = append(fe.phaseD, fcf) },
		PhaseE: func(st Status) { fe.phaseE = append(fe.phaseE, st) },
		MoreDocuments: func() bool {
			return fe.moreDoc
		},
	}
}

// lastFrame returns the most recent frame of the given type, or nil.
func (fe *testFrontEnd) lastFrame(fcf byte) []byte {
	for i := len(fe.frames) - 1; i >= 0; i-- {
		if fe.frames[i][2]&0xFE == fcf&0xFE {
			return fe.frames[i]
		}
	}
	return nil
}

func (fe *testFrontEnd) countFrames(fcf byte) int {
	n := 0
	for _, f := range fe.frames {
		if f[2]&0xFE == fcf&0xFE {
			n++
		}
	}
	return n
}

// remoteDIS builds the answerer's DIS as the caller would receive it.
func remoteDIS(t *testing.T, caps protocol.Capabilities) []byte {
	t.Helper()
	v := protocol.BuildDISDTC(caps)
	protocol.RefreshDISDTC(&v, false, true, false)
	v.Prune()
	return append([]byte(nil), v.Bytes()...)
}

// drainSends pumps send-step-complete events until the session stops
// producing new output, bounded to keep a broken state machine from
// spinning the test forever.
func drainSends(s *Session, fe *testFrontEnd) {
	for i := 0; i < 64; i++ {
		frames := len(fe.frames)
		flushes := fe.flushes
		phase := s.Phase()
		state := s.State()
		s.FrontEndStatus(FrontEndSendStepComplete)
		if len(fe.frames) == frames && fe.flushes == flushes &&
			s.Phase() == phase && s.State() == state {
			return
		}
	}
}

func onePageSource(size int) *MemorySource {
	page := make([]byte, size)
	for i := range page {
		page[i] = byte(i)
	}
	return NewMemorySource([][]byte{page}, protocol.WidthR8A4, protocol.XResR8, protocol.YResStandard)
}

func TestCaller_FullHandshakeNonECMV29(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)
	s.SetTxDocument(onePageSource(4000))

	if s.State() != StateT || s.Phase() != PhaseACNG {
		t.Fatalf("Fresh caller should be in state T phase A-CNG, got %v %v", s.State(), s.Phase())
	}
	if s.timerT0T1 != msToSamples(60000) {
		t.Errorf("T0 should be armed at 60s, got %d samples", s.timerT0T1)
	}

	// The answerer identifies with a V.29-only DIS.
	dis := remoteDIS(t, protocol.Capabilities{
		Modems: protocol.SupportV29,
		Sizes:  protocol.Support215mmWidth,
	})
	s.HDLCAccept(dis, 0, true)

	dcs := fe.lastFrame(protocol.FCFDCS)
	if dcs == nil {
		t.Fatal("Caller should answer DIS with DCS")
	}
	if code := protocol.RateCode(protocol.PadFrame(dcs)); code != protocol.DISBit3 {
		t.Errorf("Expected DCS rate code 0x04 for V.29 9600, got 0x%02X", code)
	}
	if s.BitRate() != 9600 {
		t.Errorf("Expected 9600 bps, got %d", s.BitRate())
	}

	// DCS sequence drains, then the TCF goes out.
	drainSends(s, fe)
	if s.State() != StateDPostTCF {
		t.Fatalf("Expected D-POST-TCF after TCF, got %v", s.State())
	}
	if !s.timerIsT4 || s.timerT2T4 != msToSamples(3450) {
		t.Error("T4 should be armed waiting for the TCF verdict")
	}

	// The answerer confirms training.
	s.HDLCAccept(protocol.SimpleFrame(protocol.FCFCFR, true), 0, true)
	if s.State() != StateI {
		t.Fatalf("Expected state I after CFR, got %v", s.State())
	}

	// Pull the page through the non-ECM path.
	buf := make([]byte, 1024)
	total := 0
	for {
		n := s.NonECMGetChunk(buf)
		if n == 0 {
			break
		}
		total += n
	}
	if total != 4000 {
		t.Errorf("Expected 4000 page octets, got %d", total)
	}

	// Page sent; the post-page command should be EOP for a one page doc.
	drainSends(s, fe)
	if fe.lastFrame(protocol.FCFEOP) == nil {
		t.Fatal("Caller should send EOP after the only page")
	}
	if s.State() != StateIIQ {
		t.Fatalf("Expected II-Q, got %v", s.State())
	}

	// The answerer confirms the page; the caller disconnects.
	s.HDLCAccept(protocol.SimpleFrame(protocol.FCFMCF, false), 0, true)
	if fe.lastFrame(protocol.FCFDCN) == nil {
		t.Fatal("Caller should send DCN after MCF on EOP")
	}
	drainSends(s, fe)

	if s.Phase() != PhaseCallFinished {
		t.Errorf("Expected call finished, got %v", s.Phase())
	}
	if len(fe.phaseE) != 1 || fe.phaseE[0] != StatusOK {
		t.Errorf("Expected phase E with StatusOK, got %v", fe.phaseE)
	}
	if len(fe.phaseD) == 0 || fe.phaseD[len(fe.phaseD)-1] != protocol.FCFMCF {
		t.Errorf("Phase D hook should have seen MCF, got %v", fe.phaseD)
	}
}

func TestCaller_FallbackAfterFTT(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)
	s.SetTxDocument(onePageSource(4000))

	dis := remoteDIS(t, protocol.Capabilities{
		Modems: protocol.SupportV29,
		Sizes:  protocol.Support215mmWidth,
	})
	s.HDLCAccept(dis, 0, true)
	drainSends(s, fe)

	// Training fails; the ladder steps from V.29 9600 to V.29 7200.
	s.HDLCAccept(protocol.SimpleFrame(protocol.FCFFTT, true), 0, true)

	dcs := fe.lastFrame(protocol.FCFDCS)
	if code := protocol.RateCode(protocol.PadFrame(dcs)); code != protocol.DISBit4|protocol.DISBit3 {
		t.Errorf("Expected DCS rate code 0x0C for V.29 7200, got 0x%02X", code)
	}
	if s.BitRate() != 7200 {
		t.Errorf("Expected 7200 bps after fallback, got %d", s.BitRate())
	}

	// Second training attempt succeeds and the call completes cleanly.
	drainSends(s, fe)
	s.HDLCAccept(protocol.SimpleFrame(protocol.FCFCFR, true), 0, true)
	buf := make([]byte, 1024)
	for s.NonECMGetChunk(buf) > 0 {
	}
	drainSends(s, fe)
	s.HDLCAccept(protocol.SimpleFrame(protocol.FCFMCF, false), 0, true)
	drainSends(s, fe)

	if s.CurrentStatus() != StatusOK {
		t.Errorf("Status should stay OK through fallback, got %v", s.CurrentStatus())
	}
}

func TestCaller_FallbackExhaustion(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)
	s.SetTxDocument(onePageSource(1000))

	dis := remoteDIS(t, protocol.Capabilities{
		Modems: protocol.SupportV29,
		Sizes:  protocol.Support215mmWidth,
	})
	s.HDLCAccept(dis, 0, true)

	// Keep failing training until the ladder runs dry. Fallback must
	// never raise the bit rate on the way down.
	lastRate := s.BitRate()
	for i := 0; i < 10; i++ {
		drainSends(s, fe)
		s.HDLCAccept(protocol.SimpleFrame(protocol.FCFFTT, true), 0, true)
		if s.CurrentStatus() == StatusCannotTrain {
			break
		}
		if s.BitRate() > lastRate {
			t.Fatalf("Fallback raised the bit rate: %d -> %d", lastRate, s.BitRate())
		}
		lastRate = s.BitRate()
	}
	if s.CurrentStatus() != StatusCannotTrain {
		t.Fatalf("Expected CannotTrain after exhausting the ladder, got %v", s.CurrentStatus())
	}
	if fe.lastFrame(protocol.FCFDCN) == nil {
		t.Error("Exhausted fallback should end with DCN")
	}
}

func TestCaller_T4RetryBound(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)
	s.SetTxDocument(onePageSource(1000))

	dis := remoteDIS(t, protocol.Capabilities{
		Modems: protocol.SupportV29,
		Sizes:  protocol.Support215mmWidth,
	})
	s.HDLCAccept(dis, 0, true)
	drainSends(s, fe)
	if s.State() != StateDPostTCF {
		t.Fatalf("Expected D-POST-TCF, got %v", s.State())
	}

	dcsCount := fe.countFrames(protocol.FCFDCS)
	expiries := 0
	for s.CurrentStatus() == StatusOK {
		if s.timerT2T4 <= 0 || !s.timerIsT4 {
			t.Fatal("T4 should be running while waiting for the verdict")
		}
		s.TimerTick(s.timerT2T4)
		expiries++
		if expiries > MaxMessageTries {
			t.Fatal("Retry counter exceeded the bound without surfacing a status")
		}
		drainSends(s, fe)
	}
	if expiries != MaxMessageTries {
		t.Errorf("Expected status on expiry %d, got it on %d", MaxMessageTries, expiries)
	}
	if s.CurrentStatus() != StatusPhaseBDeadTx {
		t.Errorf("Expected PhaseBDeadTx, got %v", s.CurrentStatus())
	}
	if fe.lastFrame(protocol.FCFDCN) == nil {
		t.Error("Expected DCN after the retries ran out")
	}
	if fe.countFrames(protocol.FCFDCS) <= dcsCount {
		t.Error("Expected at least one DCS retransmission before giving up")
	}
}

func TestCaller_T0Expiry(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)

	s.TimerTick(msToSamples(60000))
	if s.CurrentStatus() != StatusT0Expired {
		t.Errorf("Expected T0Expired, got %v", s.CurrentStatus())
	}
	drainSends(s, fe)
	if len(fe.phaseE) != 1 || fe.phaseE[0] != StatusT0Expired {
		t.Errorf("Phase E should report T0Expired, got %v", fe.phaseE)
	}
}

func TestTimer_T2T4Exclusive(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)
	s.SetTxDocument(onePageSource(1000))

	// At no point can both T2 and T4 run: they share one counter. Walk
	// the handshake and observe the discriminator at each step.
	dis := remoteDIS(t, protocol.Capabilities{
		Modems: protocol.SupportV29,
		Sizes:  protocol.Support215mmWidth,
	})
	s.HDLCAccept(dis, 0, true)
	drainSends(s, fe)
	if !s.timerIsT4 {
		t.Error("Waiting for a TCF verdict should run T4, not T2")
	}
	s.HDLCAccept(protocol.SimpleFrame(protocol.FCFCFR, true), 0, true)
	if s.timerT2T4 != 0 {
		t.Error("A final frame should cancel the shared T2/T4 counter")
	}
}

func TestCaller_Terminate(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)

	s.Terminate()
	if s.Phase() != PhaseCallFinished {
		t.Errorf("Expected call finished, got %v", s.Phase())
	}
	if len(fe.phaseE) != 1 || fe.phaseE[0] != StatusCallDropped {
		t.Errorf("Expected CallDropped at phase E, got %v", fe.phaseE)
	}

	// Terminating again is a no-op.
	s.Terminate()
	if len(fe.phaseE) != 1 {
		t.Error("Second Terminate should not report phase E again")
	}
}

func TestSession_PhaseGating(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)
	s.SetTxDocument(onePageSource(1000))

	// With a receive signal present, a queued phase change must wait for
	// the carrier to drop.
	s.HDLCAccept(nil, SignalCarrierUp, true)
	if !s.rxSignalPresent {
		t.Fatal("Carrier up should set the receive signal indicator")
	}
	phase := s.Phase()
	s.queuePhase(PhaseBTx)
	if s.Phase() != phase {
		t.Fatal("Queued phase must not be installed while the signal is present")
	}
	if s.nextPhase != PhaseBTx {
		t.Fatal("Queued phase should be latched as pending")
	}
	s.HDLCAccept(nil, SignalCarrierDown, true)
	if s.Phase() != PhaseBTx {
		t.Error("Queued phase should install when the signal drops")
	}
	if s.nextPhase != PhaseIdle {
		t.Error("Pending phase should clear after installation")
	}
}

func TestSession_CorruptFrameCRP(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)
	s.SetCRPEnabled(true)

	s.HDLCAccept([]byte{0xFF, 0x13, 0x00}, 0, false)
	if fe.lastFrame(protocol.FCFCRP) == nil {
		t.Error("A corrupt frame should draw CRP when enabled")
	}

	fe.frames = nil
	s.SetCRPEnabled(false)
	s.HDLCAccept([]byte{0xFF, 0x13, 0x00}, 0, false)
	if len(fe.frames) != 0 {
		t.Error("A corrupt frame should draw nothing when CRP is disabled")
	}
}

func TestSession_FramingOKArmsT1AndStopsT2(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)

	// Seeing valid framing moves T0 to T1 and flags the far end.
	s.HDLCAccept(nil, SignalFramingOK, true)
	if !s.farEndDetected {
		t.Error("Framing OK should mark the far end as detected")
	}
	if s.timerT0T1 != msToSamples(35000) {
		t.Errorf("T1 should be armed at 35s, got %d samples", s.timerT0T1)
	}
	if s.Phase() != PhaseBRx {
		t.Errorf("Framing in phase A should advance to B-RX, got %v", s.Phase())
	}

	// A running T2 stops on a flag; T4 does not.
	s.startCommandTimer()
	s.HDLCAccept(nil, SignalFramingOK, true)
	if s.timerT2T4 != 0 {
		t.Error("T2 should stop on HDLC framing")
	}
	s.startResponseTimer()
	s.HDLCAccept(nil, SignalFramingOK, true)
	if s.timerT2T4 == 0 {
		t.Error("T4 must not stop on HDLC framing")
	}
}

func TestReceiver_MidCallDCN(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(false, fe.callbacks(), nil)
	sink := NewMemorySink(8 * 4000)
	s.SetRxDocument(sink)

	runReceiverToPostDoc(t, s, fe, sink)

	// The far end hangs up instead of sending a post-page command.
	s.HDLCAccept(protocol.SimpleFrame(protocol.FCFDCN, true), 0, true)
	if s.CurrentStatus() != StatusDCNFaxRx {
		t.Fatalf("Expected DCNFaxRx, got %v", s.CurrentStatus())
	}
	drainSends(s, fe)
	if len(fe.phaseE) != 1 || fe.phaseE[0] != StatusDCNFaxRx {
		t.Errorf("Phase E should report DCNFaxRx, got %v", fe.phaseE)
	}
}

func TestReceiver_PageQualityResponses(t *testing.T) {
	// The test page is 40000 octets at 1728 pixels per row: 185 rows.
	// 185 > 50*bad keeps a page good, 185 > 20*bad only retrains.
	tests := []struct {
		name    string
		badRows int
		want    byte
	}{
		{"clean page confirms", 0, protocol.FCFMCF},
		{"marginal page retrains", 5, protocol.FCFRTP},
		{"damaged page rejects", 100, protocol.FCFRTN},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := &testFrontEnd{}
			s := New(false, fe.callbacks(), nil)
			sink := NewMemorySink(8 * 40000)
			s.SetRxDocument(sink)
			runReceiverToPostDoc(t, s, fe, sink)
			sink.SetBadRows(tt.badRows)

			s.HDLCAccept(protocol.SimpleFrame(protocol.FCFMPS, true), 0, true)
			if fe.lastFrame(tt.want) == nil {
				t.Errorf("Expected %s in response to MPS", protocol.FrameTypeName(tt.want))
			}
		})
	}
}

// runReceiverToPostDoc drives an answering session through DIS, DCS,
// TCF and one non-ECM page, leaving it in F-POST-DOC-NON-ECM.
func runReceiverToPostDoc(t *testing.T, s *Session, fe *testFrontEnd, sink *MemorySink) {
	t.Helper()

	// CED done; the DIS sequence goes out.
	drainSends(s, fe)
	if fe.lastFrame(protocol.FCFDIS) == nil {
		t.Fatal("Answerer should send DIS")
	}

	// The caller commands V.29 9600, A4, standard resolution.
	dcs := buildTestDCS(t, protocol.DISBit3)
	s.HDLCAccept(dcs, 0, true)
	if s.State() != StateFTCF {
		t.Fatalf("Expected F-TCF after DCS, got %v", s.State())
	}

	// A clean 1.5s trainability burst at 9600.
	s.NonECMPutBit(SignalTrainingSucceeded)
	s.NonECMPutChunk(make([]byte, 1800))
	s.NonECMPutBit(SignalCarrierDown)
	if fe.lastFrame(protocol.FCFCFR) == nil {
		t.Fatal("A clean TCF should draw CFR")
	}
	drainSends(s, fe)
	if s.State() != StateFDocNonECM {
		t.Fatalf("Expected F-DOC-NON-ECM, got %v", s.State())
	}

	// One page of image data, sized to the sink's page bound.
	s.NonECMPutBit(SignalTrainingSucceeded)
	s.NonECMPutChunk(make([]byte, sink.ExpectedBits/8))
	if s.State() != StateFPostDocNonECM {
		t.Fatalf("Expected F-POST-DOC-NON-ECM after the page, got %v", s.State())
	}
	s.NonECMPutBit(SignalCarrierDown)
}

// buildTestDCS builds the caller's DCS as the answerer would see it.
func buildTestDCS(t *testing.T, rateCode byte) []byte {
	t.Helper()
	caps := protocol.Capabilities{
		Modems:      protocol.SupportV29 | protocol.SupportV27ter,
		Compression: protocol.SupportT41D,
		Resolutions: protocol.SupportStandardResolution,
		Sizes:       protocol.Support215mmWidth,
	}
	dis := protocol.BuildDISDTC(caps)
	protocol.RefreshDISDTC(&dis, false, true, false)
	dis.Prune()
	v, err := protocol.BuildDCS(caps, protocol.PadFrame(dis.Bytes()), protocol.DCSParams{
		RateCode:     rateCode,
		LineEncoding: protocol.CompressionT41D,
		MinScanCode:  protocol.MinScan0ms,
		XResolution:  protocol.XResR8,
		YResolution:  protocol.YResStandard,
		ImageWidth:   protocol.WidthR8A4,
		DISReceived:  true,
	})
	if err != nil {
		t.Fatalf("BuildDCS failed: %v", err)
	}
	v.Prune()
	return append([]byte(nil), v.Bytes()...)
}

func TestIdentifiersAcrossCall(t *testing.T) {
	fe := &testFrontEnd{}
	s := New(true, fe.callbacks(), nil)
	if err := s.SetLocalIdent("+1 555 0100"); err != nil {
		t.Fatal(err)
	}
	s.SetTxDocument(onePageSource(1000))

	dis := remoteDIS(t, protocol.Capabilities{
		Modems: protocol.SupportV29,
		Sizes:  protocol.Support215mmWidth,
	})
	s.HDLCAccept(dis, 0, true)
	drainSends(s, fe)

	tsi := fe.lastFrame(protocol.FCFTSI)
	if tsi == nil {
		t.Fatal("Caller with an ident should send TSI before DCS")
	}
	got, err := protocol.DecodeIdent(tsi[2:])
	if err != nil {
		t.Fatal(err)
	}
	if got != "+1 555 0100" {
		t.Errorf("TSI round trip mismatch: %q", got)
	}

	// The answerer's CSI populates the far ident.
	fe2 := &testFrontEnd{}
	r := New(false, fe2.callbacks(), nil)
	r.HDLCAccept(protocol.IdentFrame(protocol.FCFCSI, false, "STATION 42"), 0, true)
	if r.FarIdent() != "STATION 42" {
		t.Errorf("Expected far ident STATION 42, got %q", r.FarIdent())
	}
}

func TestSetterValidation(t *testing.T) {
	s := New(true, Callbacks{}, nil)
	if err := s.SetLocalIdent("123456789012345678901"); err == nil {
		t.Error("21 character ident should be rejected")
	}
	if err := s.SetLocalSubAddress("123456789012345678901"); err == nil {
		t.Error("21 character subaddress should be rejected")
	}
	if err := s.SetLocalNSF(make([]byte, 101)); err == nil {
		t.Error("101 octet NSF should be rejected")
	}
	if err := s.SetHeaderInfo(string(make([]byte, 51))); err == nil {
		t.Error("51 character header should be rejected")
	}
}
