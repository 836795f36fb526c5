package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fxnode/fax-nexus/pkg/logger"
)

// Config holds MQTT publisher configuration
type Config struct {
	Enabled     bool
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retained    bool
}

// Publisher handles MQTT event publishing
type Publisher struct {
	config Config
	log    *logger.Logger
}

// Event types for MQTT publishing

// CallStartedEvent represents the start of a fax call
type CallStartedEvent struct {
	Station   string    `json:"station"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// CallEndedEvent represents the end of a fax call
type CallEndedEvent struct {
	Station   string    `json:"station"`
	Direction string    `json:"direction"`
	FarIdent  string    `json:"far_ident"`
	Pages     int       `json:"pages"`
	BitRate   int       `json:"bit_rate"`
	ECM       bool      `json:"ecm"`
	Status    string    `json:"status"`
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// PageEvent represents a confirmed page transfer
type PageEvent struct {
	Station   string    `json:"station"`
	Direction string    `json:"direction"`
	Page      int       `json:"page"`
	Quality   string    `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a new MQTT publisher
func New(config Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}

	return &Publisher{
		config: config,
		log:    log.WithComponent("mqtt"),
	}
}

// Start starts the MQTT publisher
func (p *Publisher) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.log.Info("MQTT publisher disabled")
		return nil
	}

	p.log.Info("Starting MQTT publisher",
		logger.String("broker", p.config.Broker),
		logger.String("client_id", p.config.ClientID))

	// TODO: Implement actual MQTT connection when paho.mqtt library is added
	// For now, this is a no-op stub that allows the application to start
	p.log.Warn("MQTT connection not yet implemented - events will not be published")

	return nil
}

// Stop stops the MQTT publisher
func (p *Publisher) Stop() {
	if !p.config.Enabled {
		return
	}

	p.log.Info("Stopping MQTT publisher")
}

// PublishCallStarted publishes a call start event
func (p *Publisher) PublishCallStarted(event CallStartedEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("calls/started")
	return p.publish(topic, event)
}

// PublishCallEnded publishes a call end event
func (p *Publisher) PublishCallEnded(event CallEndedEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("calls/ended")
	return p.publish(topic, event)
}

// PublishPage publishes a page transfer event
func (p *Publisher) PublishPage(event PageEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("pages")
	return p.publish(topic, event)
}

// publish publishes an event to a topic
func (p *Publisher) publish(topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("Failed to serialize event",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}

	// TODO: Implement actual MQTT publish when paho.mqtt library is added
	p.log.Debug("Would publish MQTT event",
		logger.String("topic", topic),
		logger.Int("payload_size", len(payload)))

	return nil
}

// formatTopic formats a topic with the configured prefix
func (p *Publisher) formatTopic(suffix string) string {
	prefix := strings.TrimSuffix(p.config.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s/%s", prefix, suffix)
}
