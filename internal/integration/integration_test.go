package integration

import (
	"testing"

	"github.com/fxnode/fax-nexus/pkg/config"
	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/metrics"
	"github.com/fxnode/fax-nexus/pkg/protocol"
	"github.com/fxnode/fax-nexus/pkg/station"
	"github.com/fxnode/fax-nexus/pkg/t30"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error"})
}

func makePages(count, size int) [][]byte {
	pages := make([][]byte, count)
	for p := range pages {
		page := make([]byte, size)
		for i := range page {
			page[i] = byte(p + i)
		}
		pages[p] = page
	}
	return pages
}

func buildPair(t *testing.T, callerCfg, answererCfg config.StationConfig, collector *metrics.Collector) (*station.Station, *station.Station) {
	t.Helper()
	opts := station.Options{Metrics: collector}
	caller, err := station.New("caller", callerCfg, testLogger(), opts)
	if err != nil {
		t.Fatal(err)
	}
	answerer, err := station.New("answerer", answererCfg, testLogger(), opts)
	if err != nil {
		t.Fatal(err)
	}
	return caller, answerer
}

func TestLoopback_NonECMMultiPage(t *testing.T) {
	collector := metrics.NewCollector()
	caller, answerer := buildPair(t,
		config.StationConfig{Enabled: true, Mode: "CALLER", Ident: "+1 555 0100"},
		config.StationConfig{Enabled: true, Mode: "ANSWERER", Ident: "+1 555 0199"},
		collector)

	const pageSize = 4000
	pages := makePages(2, pageSize)
	caller.Session().SetTxDocument(t30.NewMemorySource(pages, protocol.WidthR8A4, protocol.XResR8, protocol.YResStandard))
	sink := t30.NewMemorySink(8 * pageSize)
	answerer.Session().SetRxDocument(sink)

	if err := station.NewLoopback(caller, answerer).Run(); err != nil {
		t.Fatal(err)
	}

	if caller.Session().CurrentStatus() != t30.StatusOK {
		t.Errorf("Caller status: %v", caller.Session().CurrentStatus())
	}
	if answerer.Session().CurrentStatus() != t30.StatusOK {
		t.Errorf("Answerer status: %v", answerer.Session().CurrentStatus())
	}
	if len(sink.Pages) != 2 {
		t.Fatalf("Expected 2 received pages, got %d", len(sink.Pages))
	}
	for p, page := range sink.Pages {
		if len(page) != pageSize {
			t.Errorf("Page %d has %d octets, want %d", p, len(page), pageSize)
		}
		if page[0] != byte(p) || page[100] != byte(p+100) {
			t.Errorf("Page %d content corrupted", p)
		}
	}
	if answerer.Session().FarIdent() != "+1 555 0100" {
		t.Errorf("Answerer saw far ident %q", answerer.Session().FarIdent())
	}
	if caller.Session().FarIdent() != "+1 555 0199" {
		t.Errorf("Caller saw far ident %q", caller.Session().FarIdent())
	}
	if collector.GetCallsCompleted() != 2 {
		t.Errorf("Expected both stations to record success, got %d", collector.GetCallsCompleted())
	}
}

func TestLoopback_ECMTransfer(t *testing.T) {
	caller, answerer := buildPair(t,
		config.StationConfig{Enabled: true, Mode: "CALLER", Ident: "SEND", ECM: true, Modems: []string{"v17"}},
		config.StationConfig{Enabled: true, Mode: "ANSWERER", Ident: "RECV", ECM: true, Modems: []string{"v17"}},
		nil)

	const pageSize = 20000
	pages := makePages(1, pageSize)
	caller.Session().SetTxDocument(t30.NewMemorySource(pages, protocol.WidthR8A4, protocol.XResR8, protocol.YResStandard))
	sink := t30.NewMemorySink(0)
	answerer.Session().SetRxDocument(sink)

	if err := station.NewLoopback(caller, answerer).Run(); err != nil {
		t.Fatal(err)
	}

	if !caller.Session().ECMMode() || !answerer.Session().ECMMode() {
		t.Fatal("Both ends should be in ECM mode")
	}
	if caller.Session().BitRate() != 14400 {
		t.Errorf("V.17 ends should train at 14400, got %d", caller.Session().BitRate())
	}
	if caller.Session().CurrentStatus() != t30.StatusOK {
		t.Errorf("Caller status: %v", caller.Session().CurrentStatus())
	}
	if len(sink.Pages) != 1 {
		t.Fatalf("Expected 1 received page, got %d", len(sink.Pages))
	}
	// ECM frames are padded to the 256 octet frame size, so the
	// committed page is the original rounded up.
	got := sink.Pages[0]
	if len(got) < pageSize || len(got) > pageSize+256 {
		t.Fatalf("Expected ~%d octets, got %d", pageSize, len(got))
	}
	for i := 0; i < pageSize; i++ {
		if got[i] != byte(i) {
			t.Fatalf("ECM page corrupted at octet %d", i)
		}
	}
	for i := pageSize; i < len(got); i++ {
		if got[i] != 0 {
			t.Fatalf("ECM padding not zero at octet %d", i)
		}
	}
}

func TestLoopback_ReceiverNotReadyFlow(t *testing.T) {
	caller, answerer := buildPair(t,
		config.StationConfig{Enabled: true, Mode: "CALLER", Ident: "SEND", ECM: true},
		config.StationConfig{Enabled: true, Mode: "ANSWERER", Ident: "RECV", ECM: true, ReceiverNotReady: 2},
		nil)

	const pageSize = 2000
	caller.Session().SetTxDocument(t30.NewMemorySource(makePages(1, pageSize), protocol.WidthR8A4, protocol.XResR8, protocol.YResStandard))
	sink := t30.NewMemorySink(0)
	answerer.Session().SetRxDocument(sink)

	if err := station.NewLoopback(caller, answerer).Run(); err != nil {
		t.Fatal(err)
	}

	if caller.Session().CurrentStatus() != t30.StatusOK {
		t.Errorf("Caller status: %v", caller.Session().CurrentStatus())
	}
	if len(sink.Pages) != 1 {
		t.Errorf("Expected the page to arrive despite RNR, got %d pages", len(sink.Pages))
	}
}
