package config

import (
	"fmt"
	"strings"

	"github.com/fxnode/fax-nexus/pkg/protocol"
)

// Validate checks the configuration for consistency
func (cfg *Config) Validate() error {
	// Validate monitor config
	if cfg.Monitor.Enabled {
		if cfg.Monitor.Port <= 0 || cfg.Monitor.Port > 65535 {
			return fmt.Errorf("monitor.port must be between 1 and 65535")
		}
	}

	// Validate metrics config
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535")
		}
	}

	// Validate MQTT config
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
	}

	// Validate stations
	for name, st := range cfg.Stations {
		if !st.Enabled {
			continue
		}

		mode := strings.ToUpper(st.Mode)
		if mode != "CALLER" && mode != "ANSWERER" {
			return fmt.Errorf("station %s: invalid mode %s (must be CALLER or ANSWERER)", name, st.Mode)
		}

		if len(st.Ident) > protocol.MaxIdentLength {
			return fmt.Errorf("station %s: ident exceeds %d characters", name, protocol.MaxIdentLength)
		}
		if len(st.SubAddress) > protocol.MaxIdentLength {
			return fmt.Errorf("station %s: sub_address exceeds %d characters", name, protocol.MaxIdentLength)
		}
		if len(st.Password) > protocol.MaxIdentLength {
			return fmt.Errorf("station %s: password exceeds %d characters", name, protocol.MaxIdentLength)
		}

		if _, err := st.ModemSupport(); err != nil {
			return fmt.Errorf("station %s: %w", name, err)
		}

		if st.ReceiverNotReady < 0 {
			return fmt.Errorf("station %s: receiver_not_ready cannot be negative", name)
		}
	}

	return nil
}

// ModemSupport converts the configured modem list into a capability
// mask. An empty list selects the basic V.27ter and V.29 modems.
func (st *StationConfig) ModemSupport() (protocol.ModemSupport, error) {
	if len(st.Modems) == 0 {
		return protocol.SupportV27ter | protocol.SupportV29, nil
	}
	var mask protocol.ModemSupport
	for _, m := range st.Modems {
		switch strings.ToLower(m) {
		case "v27ter":
			mask |= protocol.SupportV27ter
		case "v29":
			mask |= protocol.SupportV29
		case "v17":
			// V.17 is only valid combined with the others.
			mask |= protocol.SupportV17 | protocol.SupportV29 | protocol.SupportV27ter
		default:
			return 0, fmt.Errorf("unknown modem %q (must be v27ter, v29 or v17)", m)
		}
	}
	return mask, nil
}
