package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	if !result.IsValid() {
		t.Fatalf("default config must validate, got %v", result.Errors)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peer.Name = "  "
	cfg.Peer.Port = 0
	cfg.Peer.SpAtkUses = -1
	cfg.ApplicationData.Timers.MaxRetries = 0
	cfg.ApplicationData.MQTT.Enabled = true
	cfg.ApplicationData.MQTT.BrokerURL = ""

	result := Validate(cfg)
	if result.IsValid() {
		t.Fatal("expected validation errors")
	}

	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"peer.peer_name",
		"peer.udp_port",
		"peer.sp_atk_uses",
		"timers.max_retries",
		"mqtt.broker_url",
	} {
		if !fields[want] {
			t.Errorf("missing error for %s (got %v)", want, result.Errors)
		}
	}
}

func TestValidate_TickWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplicationData.Timers.RetransmitTickMS = 600
	cfg.ApplicationData.Timers.AckTimeoutMS = 500

	result := Validate(cfg)
	if !result.IsValid() {
		t.Fatalf("warning must not fail validation: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a slow-tick warning")
	}
}

func TestLoad_CreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Peer.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Peer.Port, DefaultPort)
	}
	if cfg.Path() != filepath.Join(dir, DefaultConfigFile) {
		t.Errorf("path = %s", cfg.Path())
	}

	// A second load reads the file written by the first.
	again, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Peer.Name != cfg.Peer.Name {
		t.Error("reloaded config differs")
	}
}
