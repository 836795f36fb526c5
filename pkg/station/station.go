package station

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fxnode/fax-nexus/pkg/config"
	"github.com/fxnode/fax-nexus/pkg/journal"
	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/metrics"
	"github.com/fxnode/fax-nexus/pkg/monitor"
	"github.com/fxnode/fax-nexus/pkg/mqtt"
	"github.com/fxnode/fax-nexus/pkg/protocol"
	"github.com/fxnode/fax-nexus/pkg/t30"
)

// Options are the optional backends a station reports into. Any of them
// may be nil.
type Options struct {
	Journal *journal.CallRepository
	Metrics *metrics.Collector
	Events  *monitor.WebSocketHub
	MQTT    *mqtt.Publisher
}

// Station owns one T.30 session plus the glue between the session and
// the rest of the daemon: the outgoing frame queue the front end
// drains, modem selection tracking, and event fan-out to the journal,
// metrics, the monitor hub and MQTT.
type Station struct {
	name string
	mode string
	log  *logger.Logger
	opts Options

	session *t30.Session

	mu        sync.Mutex
	outgoing  [][]byte
	flushed   bool
	rxModem   t30.ModemType
	txModem   t30.ModemType
	rxUseHDLC bool
	txUseHDLC bool
	callStart time.Time
	pages     int
	finished  bool
	lastState t30.Status
}

// New builds a station from its configuration.
func New(name string, cfg config.StationConfig, log *logger.Logger, opts Options) (*Station, error) {
	mode := strings.ToUpper(cfg.Mode)
	if mode != "CALLER" && mode != "ANSWERER" {
		return nil, fmt.Errorf("station %s: invalid mode %q", name, cfg.Mode)
	}
	st := &Station{
		name: name,
		mode: mode,
		log:  log.WithComponent("station." + name),
		opts: opts,
	}
	st.session = t30.New(mode == "CALLER", st.callbacks(), st.log)

	if err := st.session.SetLocalIdent(cfg.Ident); err != nil {
		return nil, fmt.Errorf("station %s: %w", name, err)
	}
	if err := st.session.SetLocalSubAddress(cfg.SubAddress); err != nil {
		return nil, fmt.Errorf("station %s: %w", name, err)
	}
	if err := st.session.SetLocalPassword(cfg.Password); err != nil {
		return nil, fmt.Errorf("station %s: %w", name, err)
	}
	if err := st.session.SetHeaderInfo(cfg.HeaderInfo); err != nil {
		return nil, fmt.Errorf("station %s: %w", name, err)
	}

	modems, err := cfg.ModemSupport()
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", name, err)
	}
	st.session.SetSupportedModems(modems)
	st.session.SetECMCapability(cfg.ECM)
	st.session.SetCRPEnabled(cfg.CRPEnabled)
	st.session.SetReceiverNotReady(cfg.ReceiverNotReady)

	resolutions := protocol.SupportStandardResolution | protocol.SupportR8Resolution
	if cfg.Fine {
		resolutions |= protocol.SupportFineResolution
	}
	if cfg.Superfine {
		resolutions |= protocol.SupportSuperfineResolution
	}
	st.session.SetSupportedResolutions(resolutions)

	sizes := protocol.Support215mmWidth | protocol.SupportUnlimitedLength |
		protocol.SupportUSLetterLength | protocol.SupportUSLegalLength
	if cfg.WidePaper {
		sizes |= protocol.Support255mmWidth | protocol.Support303mmWidth
	}
	st.session.SetSupportedImageSizes(sizes)

	if cfg.ECM && cfg.T6Compression {
		st.session.SetSupportedCompressions(
			protocol.SupportT41D | protocol.SupportT42D | protocol.SupportT6)
	}

	st.callStart = time.Now()
	return st, nil
}

func (s *Station) callbacks() t30.Callbacks {
	return t30.Callbacks{
		SendHDLC: func(frame []byte) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if frame == nil {
				s.flushed = true
				return
			}
			s.outgoing = append(s.outgoing, append([]byte(nil), frame...))
			if s.opts.Metrics != nil {
				s.opts.Metrics.FrameSent()
			}
		},
		SetRxType: func(t t30.ModemType, shortTrain int, useHDLC bool) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.rxModem = t
			s.rxUseHDLC = useHDLC
		},
		SetTxType: func(t t30.ModemType, shortTrain int, useHDLC bool) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.txModem = t
			s.txUseHDLC = useHDLC
		},
		PhaseB: func(fcf byte) {
			s.log.Debug("Phase B", logger.String("fcf", protocol.FrameTypeName(fcf)))
			if s.opts.Events != nil {
				s.opts.Events.BroadcastPhaseChange(s.name, "B")
			}
		},
		PhaseD: s.phaseD,
		PhaseE: s.phaseE,
	}
}

func (s *Station) phaseD(fcf byte) {
	s.log.Debug("Phase D", logger.String("fcf", protocol.FrameTypeName(fcf)))
	if fcf != protocol.FCFMCF && fcf&0xFE != protocol.FCFMPS &&
		fcf&0xFE != protocol.FCFEOM && fcf&0xFE != protocol.FCFEOP {
		return
	}
	s.mu.Lock()
	s.pages++
	pages := s.pages
	s.mu.Unlock()
	if s.opts.Metrics != nil {
		if s.mode == "CALLER" {
			s.opts.Metrics.PageSent()
		} else {
			s.opts.Metrics.PageReceived()
		}
	}
	if s.opts.Events != nil {
		s.opts.Events.BroadcastPage(s.name, pages, "good")
	}
	if s.opts.MQTT != nil {
		_ = s.opts.MQTT.PublishPage(mqtt.PageEvent{
			Station:   s.name,
			Direction: s.direction(),
			Page:      pages,
			Quality:   "good",
			Timestamp: time.Now(),
		})
	}
}

func (s *Station) phaseE(status t30.Status) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.lastState = status
	pages := s.pages
	start := s.callStart
	s.mu.Unlock()

	ok := status == t30.StatusOK
	s.log.Info("Call finished",
		logger.String("status", status.String()),
		logger.Int("pages", pages))

	if s.opts.Metrics != nil {
		s.opts.Metrics.CallCompleted(s.name, ok)
	}
	if s.opts.Events != nil {
		s.opts.Events.BroadcastCallEnded(s.name, status.String(), ok, pages)
	}
	if s.opts.MQTT != nil {
		_ = s.opts.MQTT.PublishCallEnded(mqtt.CallEndedEvent{
			Station:   s.name,
			Direction: s.direction(),
			FarIdent:  s.session.FarIdent(),
			Pages:     pages,
			BitRate:   s.session.BitRate(),
			ECM:       s.session.ECMMode(),
			Status:    status.String(),
			OK:        ok,
			Timestamp: time.Now(),
		})
	}
	if s.opts.Journal != nil {
		err := s.opts.Journal.Create(&journal.CallRecord{
			Station:    s.name,
			Direction:  s.direction(),
			LocalIdent: s.session.LocalIdent(),
			FarIdent:   s.session.FarIdent(),
			BitRate:    s.session.BitRate(),
			ECM:        s.session.ECMMode(),
			Pages:      pages,
			Status:     status.String(),
			OK:         ok,
			StartTime:  start,
			EndTime:    time.Now(),
		})
		if err != nil {
			s.log.Error("Failed to journal call", logger.Error(err))
		}
	}
}

func (s *Station) direction() string {
	if s.mode == "CALLER" {
		return "send"
	}
	return "receive"
}

// Name returns the station name.
func (s *Station) Name() string {
	return s.name
}

// Mode returns CALLER or ANSWERER.
func (s *Station) Mode() string {
	return s.mode
}

// Session exposes the underlying T.30 session. The session is not
// thread safe; drive it from one goroutine only.
func (s *Station) Session() *t30.Session {
	return s.session
}

// StartCall marks the beginning of a call for journalling and events.
func (s *Station) StartCall() {
	s.mu.Lock()
	s.callStart = time.Now()
	s.pages = 0
	s.finished = false
	s.mu.Unlock()
	if s.opts.Metrics != nil {
		s.opts.Metrics.CallStarted(s.name)
	}
	if s.opts.Events != nil {
		s.opts.Events.BroadcastCallStarted(s.name, s.direction())
	}
	if s.opts.MQTT != nil {
		_ = s.opts.MQTT.PublishCallStarted(mqtt.CallStartedEvent{
			Station:   s.name,
			Direction: s.direction(),
			Timestamp: time.Now(),
		})
	}
}

// TakeOutgoing removes and returns the queued outgoing frames together
// with whether the session has flushed (completed a frame sequence and
// expects a response).
func (s *Station) TakeOutgoing() ([][]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.outgoing
	flushed := s.flushed
	s.outgoing = nil
	s.flushed = false
	return frames, flushed
}

// Modems returns the receive and transmit modem the session last
// selected.
func (s *Station) Modems() (rx, tx t30.ModemType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rxModem, s.txModem
}

// Finished reports whether the session reached the end of the call.
func (s *Station) Finished() bool {
	return s.session.Phase() == t30.PhaseCallFinished
}

// Status reports the station's live state for the monitor API.
func (s *Station) Status() monitor.StationStatus {
	return monitor.StationStatus{
		Name:     s.name,
		Mode:     s.mode,
		Phase:    s.session.Phase().String(),
		State:    s.session.State().String(),
		BitRate:  s.session.BitRate(),
		ECM:      s.session.ECMMode(),
		FarIdent: s.session.FarIdent(),
		InCall:   !s.Finished(),
	}
}
