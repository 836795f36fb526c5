package station

import (
	"fmt"

	"github.com/fxnode/fax-nexus/pkg/t30"
)

// Loopback wires two stations back to back, standing in for the pair of
// modem front ends and the phone line between them. It moves HDLC
// frames and non-ECM image data in both directions and reports transmit
// completion back to the sessions, so a complete T.30 call can run with
// no DSP at all. Used by the -loopback demo mode and the integration
// tests.
type Loopback struct {
	A *Station
	B *Station

	// MaxSteps bounds a run so a broken state machine cannot spin
	// forever. The default allows a multi-page ECM transfer.
	MaxSteps int
}

// NewLoopback connects two stations.
func NewLoopback(a, b *Station) *Loopback {
	return &Loopback{A: a, B: b, MaxSteps: 20000}
}

// Run pumps the line until both sessions finish the call or the step
// budget runs out.
func (l *Loopback) Run() error {
	l.A.StartCall()
	l.B.StartCall()
	steps := l.MaxSteps
	if steps <= 0 {
		steps = 20000
	}
	for i := 0; i < steps; i++ {
		moved := l.pump(l.A, l.B)
		moved = l.pump(l.B, l.A) || moved
		if l.A.Finished() && l.B.Finished() {
			return nil
		}
		if !moved {
			// Nothing in flight: give both sides another transmit step,
			// the way an idle front end keeps reporting completion.
			l.A.Session().FrontEndStatus(t30.FrontEndSendStepComplete)
			l.B.Session().FrontEndStatus(t30.FrontEndSendStepComplete)
		}
	}
	return fmt.Errorf("loopback did not converge: %s in %v/%v, %s in %v/%v",
		l.A.Name(), l.A.Session().Phase(), l.A.Session().State(),
		l.B.Name(), l.B.Session().Phase(), l.B.Session().State())
}

// pump moves one side's pending output to the other side.
func (l *Loopback) pump(from, to *Station) bool {
	moved := false

	// Deliver queued HDLC frames, once the receiver has finished its
	// own line turnaround. The sender gets one transmit-step completion
	// per frame, the way a real front end reports them out.
	frames, flushed := from.TakeOutgoing()
	if len(frames) > 0 {
		settle(to)
		for _, frame := range frames {
			to.Session().HDLCAccept(frame, 0, true)
		}
		for range frames {
			from.Session().FrontEndStatus(t30.FrontEndSendStepComplete)
		}
		moved = true
	}
	if flushed && from.Session().Phase() != t30.PhaseCNonECMTx {
		// The frame sequence is out; the sender turns the line around
		// and listens for the response. A flush left over from the HDLC
		// sequence is dropped once the sender is carrying non-ECM data:
		// pumpNonECM reports that completion itself.
		from.Session().FrontEndStatus(t30.FrontEndSendStepComplete)
		moved = true
	}

	switch from.Session().Phase() {
	case t30.PhaseCNonECMTx:
		// Carry a non-ECM burst (TCF or a page).
		moved = l.pumpNonECM(from, to) || moved
	case t30.PhaseCECMTx:
		// ECM image data travels as HDLC frames; keep the transmit
		// steps coming so the burst advances.
		from.Session().FrontEndStatus(t30.FrontEndSendStepComplete)
		moved = true
	}
	return moved
}

// pumpNonECM streams the sender's entire non-ECM burst to the receiver
// in one go: training, data, carrier drop, then transmit completion.
// The stream waits until the receiver's modem is actually listening.
func (l *Loopback) pumpNonECM(from, to *Station) bool {
	settle(to)
	if to.Session().Phase() != t30.PhaseCNonECMRx {
		return false
	}
	to.Session().NonECMPutBit(t30.SignalTrainingSucceeded)
	buf := make([]byte, 1024)
	for {
		n := from.Session().NonECMGetChunk(buf)
		if n == 0 {
			break
		}
		to.Session().NonECMPutChunk(buf[:n])
	}
	to.Session().NonECMPutBit(t30.SignalCarrierDown)
	from.Session().FrontEndStatus(t30.FrontEndSendComplete)
	return true
}

// settle lets a station finish any frame sequence it is mid-way
// through sending, stopping short of the image data phases, which the
// pump carries explicitly.
func settle(st *Station) {
	for i := 0; i < 4; i++ {
		switch st.Session().Phase() {
		case t30.PhaseCNonECMTx, t30.PhaseCECMTx, t30.PhaseCallFinished:
			return
		}
		st.Session().FrontEndStatus(t30.FrontEndSendStepComplete)
	}
}
