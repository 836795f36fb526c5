package station

import (
	"testing"

	"github.com/fxnode/fax-nexus/pkg/config"
	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/metrics"
	"github.com/fxnode/fax-nexus/pkg/t30"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("x", config.StationConfig{Mode: "REPEATER"}, testLogger(), Options{}); err == nil {
		t.Error("Invalid mode should be rejected")
	}
	if _, err := New("x", config.StationConfig{Mode: "CALLER", Ident: "123456789012345678901"}, testLogger(), Options{}); err == nil {
		t.Error("Oversized ident should be rejected")
	}
	if _, err := New("x", config.StationConfig{Mode: "CALLER", Modems: []string{"v34"}}, testLogger(), Options{}); err == nil {
		t.Error("Unknown modem should be rejected")
	}
}

func TestStation_QueuesOutgoingFrames(t *testing.T) {
	st, err := New("a", config.StationConfig{Mode: "ANSWERER", Ident: "TEST"}, testLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Completing the answer tone makes the session emit its DIS
	// sequence into the queue.
	st.Session().FrontEndStatus(t30.FrontEndSendStepComplete)

	frames, _ := st.TakeOutgoing()
	if len(frames) == 0 {
		t.Fatal("Expected queued frames after the answer sequence starts")
	}
	// The queue drains on take.
	frames, flushed := st.TakeOutgoing()
	if len(frames) != 0 || flushed {
		t.Error("Second take should return nothing")
	}
}

func TestStation_TracksModems(t *testing.T) {
	st, err := New("a", config.StationConfig{Mode: "ANSWERER"}, testLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	rx, tx := st.Modems()
	// Fresh answerer listens on V.21 while playing CED.
	if rx != t30.ModemV21 {
		t.Errorf("Expected V.21 rx, got %v", rx)
	}
	if tx != t30.ModemCED {
		t.Errorf("Expected CED tx, got %v", tx)
	}
}

func TestStation_Status(t *testing.T) {
	st, err := New("office", config.StationConfig{Mode: "CALLER", Ident: "X", ECM: true}, testLogger(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	status := st.Status()
	if status.Name != "office" || status.Mode != "CALLER" {
		t.Errorf("Unexpected status %+v", status)
	}
	if !status.InCall {
		t.Error("A fresh station should report in-call until the session finishes")
	}
}

func TestStation_MetricsOnTerminate(t *testing.T) {
	collector := metrics.NewCollector()
	st, err := New("a", config.StationConfig{Mode: "CALLER"}, testLogger(), Options{Metrics: collector})
	if err != nil {
		t.Fatal(err)
	}
	st.StartCall()
	if collector.GetActiveCalls() != 1 {
		t.Fatal("StartCall should register an active call")
	}
	st.Session().Terminate()
	if collector.GetActiveCalls() != 0 {
		t.Error("Terminate should clear the active call")
	}
	if collector.GetCallsFailed() != 1 {
		t.Error("A dropped call should count as failed")
	}
}
