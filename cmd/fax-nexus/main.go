package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/fxnode/fax-nexus/pkg/config"
	"github.com/fxnode/fax-nexus/pkg/journal"
	"github.com/fxnode/fax-nexus/pkg/logger"
	"github.com/fxnode/fax-nexus/pkg/metrics"
	"github.com/fxnode/fax-nexus/pkg/monitor"
	"github.com/fxnode/fax-nexus/pkg/mqtt"
	"github.com/fxnode/fax-nexus/pkg/protocol"
	"github.com/fxnode/fax-nexus/pkg/station"
	"github.com/fxnode/fax-nexus/pkg/t30"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	loopback := flag.Bool("loopback", false, "Run the configured caller/answerer pair back to back and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fax-nexus %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	log := logger.New(logger.Config{
		Level:  "info",
		Format: "text",
	})

	log.Info("Starting fax-nexus",
		logger.String("version", version),
		logger.String("build_time", buildTime))

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error("Failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	if *validate {
		log.Info("Configuration is valid")
		os.Exit(0)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log.Info("Configuration loaded successfully",
		logger.String("config_file", *configFile))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	// Metrics
	collector := metrics.NewCollector()
	if cfg.Metrics.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metricsServer := metrics.NewPrometheusServer(
				metrics.PrometheusConfig{
					Enabled: cfg.Metrics.Enabled,
					Port:    cfg.Metrics.Port,
					Path:    cfg.Metrics.Path,
				},
				collector,
				log.WithComponent("metrics"),
			)
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Metrics server error", logger.Error(err))
			}
		}()
	}

	// Call journal
	var callRepo *journal.CallRepository
	if cfg.Journal.Enabled {
		db, err := journal.NewDB(journal.Config{Path: cfg.Journal.Path}, log.WithComponent("journal"))
		if err != nil {
			log.Error("Failed to open call journal", logger.Error(err))
			os.Exit(1)
		}
		defer db.Close()
		callRepo = journal.NewCallRepository(db.GetDB())
	}

	// MQTT events
	var mqttPublisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPublisher = mqtt.New(
			mqtt.Config{
				Enabled:     cfg.MQTT.Enabled,
				Broker:      cfg.MQTT.Broker,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				QoS:         cfg.MQTT.QoS,
				Retained:    cfg.MQTT.Retained,
			},
			log.WithComponent("mqtt"),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttPublisher.Start(ctx); err != nil && err != context.Canceled {
				log.Error("MQTT publisher error", logger.Error(err))
			}
		}()
	}

	// Stations
	stations := make(map[string]*station.Station)
	var monitorServer *monitor.Server
	opts := station.Options{
		Journal: callRepo,
		Metrics: collector,
		MQTT:    mqttPublisher,
	}

	statusProvider := func() []monitor.StationStatus {
		names := make([]string, 0, len(stations))
		for name := range stations {
			names = append(names, name)
		}
		sort.Strings(names)
		statuses := make([]monitor.StationStatus, 0, len(names))
		for _, name := range names {
			statuses = append(statuses, stations[name].Status())
		}
		return statuses
	}

	// Monitor server
	if cfg.Monitor.Enabled {
		api := monitor.NewAPI(log.WithComponent("api"), statusProvider, callRepo)
		monitorServer = monitor.NewServer(monitor.Config{
			Enabled: cfg.Monitor.Enabled,
			Host:    cfg.Monitor.Host,
			Port:    cfg.Monitor.Port,
		}, api, log.WithComponent("monitor"))
		opts.Events = monitorServer.GetHub()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitorServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Monitor server error", logger.Error(err))
			}
		}()
	}

	for name, stCfg := range cfg.Stations {
		if !stCfg.Enabled {
			continue
		}
		st, err := station.New(name, stCfg, log, opts)
		if err != nil {
			log.Error("Failed to build station", logger.String("station", name), logger.Error(err))
			os.Exit(1)
		}
		stations[name] = st
		log.Info("Station ready",
			logger.String("station", name),
			logger.String("mode", strings.ToUpper(stCfg.Mode)))
	}

	if *loopback {
		if err := runLoopback(stations, log); err != nil {
			log.Error("Loopback run failed", logger.Error(err))
			os.Exit(1)
		}
		cancel()
		wg.Wait()
		return
	}

	log.Info("fax-nexus running; stations await front end attachment")

	<-sigChan
	log.Info("Shutting down")
	for _, st := range stations {
		st.Session().Terminate()
	}
	cancel()
	wg.Wait()
}

// runLoopback wires the first configured caller to the first configured
// answerer and runs one complete call with a synthetic document.
func runLoopback(stations map[string]*station.Station, log *logger.Logger) error {
	var caller, answerer *station.Station
	names := make([]string, 0, len(stations))
	for name := range stations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := stations[name]
		switch st.Mode() {
		case "CALLER":
			if caller == nil {
				caller = st
			}
		case "ANSWERER":
			if answerer == nil {
				answerer = st
			}
		}
	}
	if caller == nil || answerer == nil {
		return fmt.Errorf("loopback needs one CALLER and one ANSWERER station")
	}

	// A two page synthetic document: enough to exercise MPS and EOP.
	const pageSize = 32 * 1024
	pages := make([][]byte, 2)
	for p := range pages {
		page := make([]byte, pageSize)
		for i := range page {
			page[i] = byte(i ^ p)
		}
		pages[p] = page
	}
	caller.Session().SetTxDocument(t30.NewMemorySource(
		pages, protocol.WidthR8A4, protocol.XResR8, protocol.YResStandard))
	sink := t30.NewMemorySink(8 * pageSize)
	answerer.Session().SetRxDocument(sink)

	log.Info("Running loopback call",
		logger.String("caller", caller.Name()),
		logger.String("answerer", answerer.Name()))

	if err := station.NewLoopback(caller, answerer).Run(); err != nil {
		return err
	}

	log.Info("Loopback call complete",
		logger.String("caller_status", caller.Session().CurrentStatus().String()),
		logger.String("answerer_status", answerer.Session().CurrentStatus().String()),
		logger.Int("pages_received", len(sink.Pages)))
	return nil
}
