package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"omniclip/internal/pairing"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 17394 {
		t.Fatalf("expected default port 17394, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Fatalf("expected 500ms poll interval, got %v", cfg.PollInterval)
	}
	if cfg.PairingPolicy != pairing.PolicySingle {
		t.Fatalf("expected single pairing policy")
	}
	if cfg.DeviceName == "" {
		t.Fatalf("expected device name to default to hostname")
	}
	if cfg.ControlSecret == "" || !cfg.GeneratedSecret {
		t.Fatalf("expected generated control secret")
	}
	if !cfg.Discovery || !cfg.ApplyRemote {
		t.Fatalf("expected discovery and apply remote on by default")
	}
}

func TestLoadConfigFromEnv_HostnameFallback(t *testing.T) {
	orig := hostname
	hostname = func() (string, error) { return "", os.ErrNotExist }
	defer func() { hostname = orig }()

	cfg, err := LoadConfigFromEnv(mapEnv{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DeviceName != "omniclip" {
		t.Fatalf("expected fallback name, got %q", cfg.DeviceName)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{
		"OMNICLIP_DEVICE_NAME":              "desk",
		"OMNICLIP_PORT":                     "1234",
		"OMNICLIP_CONTROL_SECRET":           "s3cret",
		"OMNICLIP_CONTROL_ADDR":             "off",
		"OMNICLIP_POLL_INTERVAL_MS":         "250",
		"OMNICLIP_PAIRING_TTL_SECONDS":      "60",
		"OMNICLIP_PAIRING_POLICY":           "concurrent",
		"OMNICLIP_PAIR_ATTEMPTS_PER_MINUTE": "3",
		"OMNICLIP_DISCOVERY":                "false",
		"OMNICLIP_APPLY_REMOTE":             "0",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DeviceName != "desk" || cfg.Port != 1234 {
		t.Fatalf("unexpected name/port %q/%d", cfg.DeviceName, cfg.Port)
	}
	if cfg.ControlSecret != "s3cret" || cfg.GeneratedSecret {
		t.Fatalf("expected configured secret")
	}
	if cfg.ControlAddr != "" {
		t.Fatalf("expected control API disabled, got %q", cfg.ControlAddr)
	}
	if cfg.PollInterval != 250*time.Millisecond || cfg.PairingTTL != time.Minute {
		t.Fatalf("unexpected durations %v %v", cfg.PollInterval, cfg.PairingTTL)
	}
	if cfg.PairingPolicy != pairing.PolicyConcurrent || cfg.PairAttemptsPerMinute != 3 {
		t.Fatalf("unexpected pairing settings")
	}
	if cfg.Discovery || cfg.ApplyRemote {
		t.Fatalf("expected discovery and apply remote off")
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	for key, value := range map[string]string{
		"OMNICLIP_PORT":                 "70000",
		"OMNICLIP_POLL_INTERVAL_MS":     "0",
		"OMNICLIP_PAIRING_POLICY":       "many",
		"OMNICLIP_DISCOVERY":            "maybe",
		"OMNICLIP_TOKEN_EXPIRY_SECONDS": "-1",
	} {
		if _, err := LoadConfigFromEnv(mapEnv{key: value}); err == nil {
			t.Fatalf("expected error for %s=%s", key, value)
		}
	}
}

func TestLoadConfigFromEnv_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omniclip.toml")
	data := `
device_name = "from-file"
port = 0
pairing_policy = "concurrent"
discovery = false
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfigFromEnv(mapEnv{"OMNICLIP_CONFIG": path, "OMNICLIP_DEVICE_NAME": "from-env"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DeviceName != "from-env" {
		t.Fatalf("expected env to override file, got %q", cfg.DeviceName)
	}
	if cfg.Port != 0 {
		t.Fatalf("expected port 0 from file, got %d", cfg.Port)
	}
	if cfg.PairingPolicy != pairing.PolicyConcurrent || cfg.Discovery {
		t.Fatalf("expected file values to apply")
	}
	if cfg.ConfigFile != path {
		t.Fatalf("expected ConfigFile to be recorded")
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("colour = \"blue\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := Defaults()
	if err := LoadFile(path, &cfg); err == nil {
		t.Fatalf("expected error")
	}
}
