package config

import (
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return "config validation error [" + e.Field + "]: " + e.Message
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validatePeer(&cfg.Peer, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validatePeer(data *PeerData, result *ValidationResult) {
	if strings.TrimSpace(data.Name) == "" {
		result.AddError("peer.peer_name", "peer name is required")
	}

	if data.Port < 1 || data.Port > 65535 {
		result.AddError("peer.udp_port", "udp port must be between 1 and 65535")
	}

	if data.SpAtkUses < 0 {
		result.AddError("peer.sp_atk_uses", "sp_atk_uses must not be negative")
	}
	if data.SpDefUses < 0 {
		result.AddError("peer.sp_def_uses", "sp_def_uses must not be negative")
	}

	if data.ConnectAddr != "" && !strings.Contains(data.ConnectAddr, ":") {
		result.AddError("peer.connect_addr", "connect address must be ip:port")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	t := &data.Timers
	if t.RetransmitTickMS <= 0 {
		result.AddError("timers.retransmit_tick_ms", "retransmit tick must be positive")
	}
	if t.AckTimeoutMS <= 0 {
		result.AddError("timers.ack_timeout_ms", "ack timeout must be positive")
	}
	if t.MaxRetries < 1 {
		result.AddError("timers.max_retries", "max retries must be at least 1")
	}
	if t.AckTimeoutMS > 0 && t.RetransmitTickMS > t.AckTimeoutMS {
		result.AddWarning("timers.retransmit_tick_ms",
			"retransmit tick exceeds ack timeout; retransmits will be late")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "broker URL is required when MQTT is enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "MQTT port must be between 1 and 65535")
		}
	}

	if data.API.Enabled {
		if data.API.Port < 1 || data.API.Port > 65535 {
			result.AddError("api.port", "API port must be between 1 and 65535")
		}
	}

	if data.History.Enabled && strings.TrimSpace(data.History.Path) == "" {
		result.AddError("history.path", "history database path is required when history is enabled")
	}
}
