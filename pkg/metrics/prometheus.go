package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fxnode/fax-nexus/pkg/logger"
)

// PrometheusConfig holds Prometheus server configuration
type PrometheusConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// PrometheusHandler handles Prometheus metrics HTTP requests
type PrometheusHandler struct {
	collector *Collector
}

// NewPrometheusHandler creates a new Prometheus handler
func NewPrometheusHandler(collector *Collector) *PrometheusHandler {
	return &PrometheusHandler{
		collector: collector,
	}
}

// ServeHTTP handles HTTP requests for metrics
func (h *PrometheusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	var output strings.Builder

	// Call metrics
	output.WriteString("# HELP fax_calls_started_total Total fax calls started\n")
	output.WriteString("# TYPE fax_calls_started_total counter\n")
	output.WriteString(fmt.Sprintf("fax_calls_started_total %d\n", h.collector.GetCallsStarted()))

	output.WriteString("# HELP fax_calls_completed_total Total fax calls completed successfully\n")
	output.WriteString("# TYPE fax_calls_completed_total counter\n")
	output.WriteString(fmt.Sprintf("fax_calls_completed_total %d\n", h.collector.GetCallsCompleted()))

	output.WriteString("# HELP fax_calls_failed_total Total fax calls that ended with an error status\n")
	output.WriteString("# TYPE fax_calls_failed_total counter\n")
	output.WriteString(fmt.Sprintf("fax_calls_failed_total %d\n", h.collector.GetCallsFailed()))

	output.WriteString("# HELP fax_calls_active Number of calls currently in progress\n")
	output.WriteString("# TYPE fax_calls_active gauge\n")
	output.WriteString(fmt.Sprintf("fax_calls_active %d\n", h.collector.GetActiveCalls()))

	// Frame metrics
	output.WriteString("# HELP fax_frames_received_total Total HDLC frames received\n")
	output.WriteString("# TYPE fax_frames_received_total counter\n")
	output.WriteString(fmt.Sprintf("fax_frames_received_total %d\n", h.collector.GetFramesReceived()))

	output.WriteString("# HELP fax_frames_sent_total Total HDLC frames sent\n")
	output.WriteString("# TYPE fax_frames_sent_total counter\n")
	output.WriteString(fmt.Sprintf("fax_frames_sent_total %d\n", h.collector.GetFramesSent()))

	// Page metrics
	output.WriteString("# HELP fax_pages_sent_total Total pages transmitted and confirmed\n")
	output.WriteString("# TYPE fax_pages_sent_total counter\n")
	output.WriteString(fmt.Sprintf("fax_pages_sent_total %d\n", h.collector.GetPagesSent()))

	output.WriteString("# HELP fax_pages_received_total Total pages received and confirmed\n")
	output.WriteString("# TYPE fax_pages_received_total counter\n")
	output.WriteString(fmt.Sprintf("fax_pages_received_total %d\n", h.collector.GetPagesReceived()))

	// Protocol events
	output.WriteString("# HELP fax_training_failures_total Total failed trainability tests\n")
	output.WriteString("# TYPE fax_training_failures_total counter\n")
	output.WriteString(fmt.Sprintf("fax_training_failures_total %d\n", h.collector.GetTrainingFailures()))

	output.WriteString("# HELP fax_fallback_steps_total Total modem fallback ladder steps\n")
	output.WriteString("# TYPE fax_fallback_steps_total counter\n")
	output.WriteString(fmt.Sprintf("fax_fallback_steps_total %d\n", h.collector.GetFallbackSteps()))

	output.WriteString("# HELP fax_ecm_retransmits_total Total ECM selective repeat bursts\n")
	output.WriteString("# TYPE fax_ecm_retransmits_total counter\n")
	output.WriteString(fmt.Sprintf("fax_ecm_retransmits_total %d\n", h.collector.GetECMRetransmits()))

	output.WriteString("# HELP fax_timer_expiries_total Total protocol timer expiries\n")
	output.WriteString("# TYPE fax_timer_expiries_total counter\n")
	output.WriteString(fmt.Sprintf("fax_timer_expiries_total %d\n", h.collector.GetTimerExpiries()))

	w.Write([]byte(output.String()))
}

// PrometheusServer is an HTTP server for Prometheus metrics
type PrometheusServer struct {
	config    PrometheusConfig
	collector *Collector
	log       *logger.Logger
	server    *http.Server
}

// NewPrometheusServer creates a new Prometheus metrics server
func NewPrometheusServer(config PrometheusConfig, collector *Collector, log *logger.Logger) *PrometheusServer {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &PrometheusServer{
		config:    config,
		collector: collector,
		log:       log.WithComponent("metrics"),
	}
}

// Start starts the Prometheus metrics server
func (s *PrometheusServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("Prometheus metrics server disabled")
		return nil
	}

	handler := NewPrometheusHandler(s.collector)
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, handler)

	// Use a listener to get the actual port (useful for testing with port 0)
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	s.server = &http.Server{
		Handler: mux,
	}

	s.log.Info("Starting Prometheus metrics server",
		logger.Int("port", actualPort),
		logger.String("path", s.config.Path))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down Prometheus metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown error: %w", err)
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Stop stops the Prometheus metrics server
func (s *PrometheusServer) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}
}
