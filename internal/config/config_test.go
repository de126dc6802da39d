package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Broker.QoS != 1 {
		t.Errorf("Broker.QoS = %d, want 1", cfg.Broker.QoS)
	}
	if cfg.Agent.ForwardDistanceMM != 200 {
		t.Errorf("Agent.ForwardDistanceMM = %v, want 200", cfg.Agent.ForwardDistanceMM)
	}
	if cfg.Agent.SafetyThresholdMM != 200 {
		t.Errorf("Agent.SafetyThresholdMM = %v, want 200", cfg.Agent.SafetyThresholdMM)
	}
	if cfg.Agent.StepReward != -1 || cfg.Agent.CollisionPenalty != -50 {
		t.Errorf("rewards = %d/%d, want -1/-50", cfg.Agent.StepReward, cfg.Agent.CollisionPenalty)
	}
	if cfg.Ranging.MaxWindowUs != 23530 {
		t.Errorf("Ranging.MaxWindowUs = %d, want 23530", cfg.Ranging.MaxWindowUs)
	}
	if cfg.Ranging.MinRangeMM != 20 || cfg.Ranging.MaxRangeMM != 4000 {
		t.Errorf("range = [%v, %v], want [20, 4000]", cfg.Ranging.MinRangeMM, cfg.Ranging.MaxRangeMM)
	}
	if cfg.Motion.LinearMMPerSec != 500 || cfg.Motion.AngularRadPerSec != 0.5 {
		t.Errorf("calibration = %v/%v, want 500/0.5", cfg.Motion.LinearMMPerSec, cfg.Motion.AngularRadPerSec)
	}
	if cfg.Watchdog.ExitCode != 3 {
		t.Errorf("Watchdog.ExitCode = %d, want 3", cfg.Watchdog.ExitCode)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default() should be valid, got %v", ValidationErrors(errs))
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"loop interval", cfg.Agent.LoopInterval(), 500 * time.Millisecond},
		{"ready poll", cfg.Agent.ReadyPoll(), 500 * time.Millisecond},
		{"handshake poll", cfg.Agent.HandshakePoll(), 50 * time.Millisecond},
		{"ranging timeout", cfg.Ranging.Timeout(), 30 * time.Millisecond},
		{"trigger pulse", cfg.Ranging.TriggerPulse(), 10 * time.Microsecond},
		{"connect timeout", cfg.Broker.ConnectTimeout(), 5 * time.Second},
		{"keep alive", cfg.Broker.KeepAlive(), 30 * time.Second},
		{"jwt ttl", cfg.Broker.JWT.TTL(), time.Hour},
		{"watchdog grace", cfg.Watchdog.Grace(), 250 * time.Millisecond},
		{"serial read timeout", cfg.Hardware.Serial.ReadTimeout(), 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), filepath.Join("/custom/config", "swarmbot"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
		if got, want := ConfigFile(), filepath.Join("/custom/config", "swarmbot", "config.yaml"); got != want {
			t.Errorf("ConfigFile() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		if got, want := ConfigDir(), filepath.Join(home, ".config", "swarmbot"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestLogDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/x")
	cfg := Default()
	if got, want := cfg.Logging.LogDir(), filepath.Join("/x", "swarmbot", "logs"); got != want {
		t.Errorf("LogDir() = %q, want %q", got, want)
	}
	cfg.Logging.Dir = "/var/log/swarmbot"
	if got := cfg.Logging.LogDir(); got != "/var/log/swarmbot" {
		t.Errorf("LogDir() = %q", got)
	}
}

func TestClientIDOrDefault(t *testing.T) {
	cfg := Default()
	if got := cfg.Broker.ClientIDOrDefault(); !strings.HasPrefix(got, "swarmbot-") {
		t.Errorf("ClientIDOrDefault() = %q, want swarmbot- prefix", got)
	}
	cfg.Broker.ClientID = "bot-7"
	if got := cfg.Broker.ClientIDOrDefault(); got != "bot-7" {
		t.Errorf("ClientIDOrDefault() = %q, want bot-7", got)
	}
}

func TestLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
broker:
  url: ssl://master.local:8883
agent:
  safety_threshold_mm: 250
simulation:
  policy: scripted
  script: [0, 1, 3]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Broker.URL != "ssl://master.local:8883" {
		t.Errorf("Broker.URL = %q", cfg.Broker.URL)
	}
	if cfg.Agent.SafetyThresholdMM != 250 {
		t.Errorf("SafetyThresholdMM = %v, want 250", cfg.Agent.SafetyThresholdMM)
	}
	if cfg.Agent.ForwardDistanceMM != 200 {
		t.Errorf("ForwardDistanceMM = %v, want default 200", cfg.Agent.ForwardDistanceMM)
	}
	if len(cfg.Simulation.Script) != 3 || cfg.Simulation.Script[2] != 3 {
		t.Errorf("Script = %v", cfg.Simulation.Script)
	}
}

func TestLoad_Invalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("ranging.min_range_mm", 5000)

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verrs ValidationErrors
	if !asValidationErrors(err, &verrs) || verrs[0].Field != "ranging.min_range_mm" {
		t.Errorf("unexpected error %v", err)
	}
}

func asValidationErrors(err error, target *ValidationErrors) bool {
	v, ok := err.(ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}

func TestDefaultRoundTripsThroughYAML(t *testing.T) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		t.Fatalf("yaml.Marshal failed: %v", err)
	}
	for _, key := range []string{"broker:", "safety_threshold_mm: 200", "max_window_us: 23530", "backend: periph"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("YAML missing %q:\n%s", key, data)
		}
	}

	var back Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("yaml.Unmarshal failed: %v", err)
	}
	if back.Agent.CollisionPenalty != -50 {
		t.Errorf("CollisionPenalty = %d after round trip", back.Agent.CollisionPenalty)
	}
}
