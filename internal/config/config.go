package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"omniclip/internal/pairing"
	"omniclip/internal/protocol"
)

type Config struct {
	DeviceName            string
	Port                  int
	AdvertiseHost         string
	ControlAddr           string
	ControlSecret         string
	GeneratedSecret       bool
	TokenExpiry           time.Duration
	GinMode               string
	PollInterval          time.Duration
	PairingTTL            time.Duration
	PairingPolicy         pairing.Policy
	PairAttemptsPerMinute int
	Discovery             bool
	ApplyRemote           bool
	LogLevel              string
	ConfigFile            string
}

// fileConfig mirrors Config for TOML. Pointers tell "unset" from zero.
type fileConfig struct {
	DeviceName            string `toml:"device_name"`
	Port                  int    `toml:"port"`
	AdvertiseHost         string `toml:"advertise_host"`
	ControlAddr           string `toml:"control_addr"`
	ControlSecret         string `toml:"control_secret"`
	TokenExpirySeconds    int    `toml:"token_expiry_seconds"`
	GinMode               string `toml:"gin_mode"`
	PollIntervalMS        int    `toml:"poll_interval_ms"`
	PairingTTLSeconds     int    `toml:"pairing_ttl_seconds"`
	PairingPolicy         string `toml:"pairing_policy"`
	PairAttemptsPerMinute int    `toml:"pair_attempts_per_minute"`
	Discovery             *bool  `toml:"discovery"`
	ApplyRemote           *bool  `toml:"apply_remote"`
	LogLevel              string `toml:"log_level"`
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

var hostname = os.Hostname

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func Defaults() Config {
	name, err := hostname()
	if err != nil || name == "" {
		name = "omniclip"
	}
	return Config{
		DeviceName:            name,
		Port:                  protocol.DefaultPort,
		ControlAddr:           "127.0.0.1:17395",
		TokenExpiry:           24 * time.Hour,
		GinMode:               "release",
		PollInterval:          protocol.DefaultPollInterval,
		PairingTTL:            5 * time.Minute,
		PairingPolicy:         pairing.PolicySingle,
		PairAttemptsPerMinute: 10,
		Discovery:             true,
		ApplyRemote:           true,
		LogLevel:              "info",
	}
}

// LoadConfigFromEnv starts from the defaults, applies the TOML file named by
// OMNICLIP_CONFIG if any, then applies environment overrides.
func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Defaults()

	if path := env.Getenv("OMNICLIP_CONFIG"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if raw := env.Getenv("OMNICLIP_DEVICE_NAME"); raw != "" {
		cfg.DeviceName = raw
	}

	if raw := env.Getenv("OMNICLIP_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid OMNICLIP_PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("OMNICLIP_ADVERTISE_HOST"); raw != "" {
		cfg.AdvertiseHost = raw
	}
	if raw := env.Getenv("OMNICLIP_CONTROL_ADDR"); raw != "" {
		cfg.ControlAddr = raw
	}
	if raw := env.Getenv("OMNICLIP_CONTROL_SECRET"); raw != "" {
		cfg.ControlSecret = raw
	}

	if raw := env.Getenv("OMNICLIP_TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid OMNICLIP_TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	if raw := env.Getenv("OMNICLIP_POLL_INTERVAL_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid OMNICLIP_POLL_INTERVAL_MS")
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	if raw := env.Getenv("OMNICLIP_PAIRING_TTL_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			return Config{}, fmt.Errorf("invalid OMNICLIP_PAIRING_TTL_SECONDS")
		}
		cfg.PairingTTL = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("OMNICLIP_PAIRING_POLICY"); raw != "" {
		policy, err := pairing.ParsePolicy(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OMNICLIP_PAIRING_POLICY")
		}
		cfg.PairingPolicy = policy
	}

	if raw := env.Getenv("OMNICLIP_PAIR_ATTEMPTS_PER_MINUTE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid OMNICLIP_PAIR_ATTEMPTS_PER_MINUTE")
		}
		cfg.PairAttemptsPerMinute = n
	}

	if raw := env.Getenv("OMNICLIP_DISCOVERY"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OMNICLIP_DISCOVERY")
		}
		cfg.Discovery = b
	}

	if raw := env.Getenv("OMNICLIP_APPLY_REMOTE"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OMNICLIP_APPLY_REMOTE")
		}
		cfg.ApplyRemote = b
	}

	if raw := env.Getenv("OMNICLIP_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	// "off" disables the control API
	if cfg.ControlAddr == "off" {
		cfg.ControlAddr = ""
	}

	if strings.TrimSpace(cfg.DeviceName) == "" {
		return Config{}, fmt.Errorf("OMNICLIP_DEVICE_NAME must not be empty")
	}

	if cfg.ControlSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		cfg.ControlSecret = secret
		cfg.GeneratedSecret = true
	}

	return cfg, nil
}

// LoadFile applies the values set in a TOML file on top of cfg.
func LoadFile(path string, cfg *Config) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("failed to load config file %s: unknown key %q", path, undecoded[0].String())
	}
	cfg.ConfigFile = path

	if fc.DeviceName != "" {
		cfg.DeviceName = fc.DeviceName
	}
	if md.IsDefined("port") {
		if fc.Port < 0 || fc.Port > 65535 {
			return fmt.Errorf("invalid port in %s", path)
		}
		cfg.Port = fc.Port
	}
	if fc.AdvertiseHost != "" {
		cfg.AdvertiseHost = fc.AdvertiseHost
	}
	if md.IsDefined("control_addr") {
		cfg.ControlAddr = fc.ControlAddr
	}
	if fc.ControlSecret != "" {
		cfg.ControlSecret = fc.ControlSecret
	}
	if fc.TokenExpirySeconds > 0 {
		cfg.TokenExpiry = time.Duration(fc.TokenExpirySeconds) * time.Second
	}
	if fc.GinMode != "" {
		cfg.GinMode = fc.GinMode
	}
	if fc.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(fc.PollIntervalMS) * time.Millisecond
	}
	if md.IsDefined("pairing_ttl_seconds") {
		cfg.PairingTTL = time.Duration(fc.PairingTTLSeconds) * time.Second
	}
	if fc.PairingPolicy != "" {
		policy, err := pairing.ParsePolicy(fc.PairingPolicy)
		if err != nil {
			return fmt.Errorf("invalid pairing_policy in %s: %w", path, err)
		}
		cfg.PairingPolicy = policy
	}
	if md.IsDefined("pair_attempts_per_minute") {
		cfg.PairAttemptsPerMinute = fc.PairAttemptsPerMinute
	}
	if fc.Discovery != nil {
		cfg.Discovery = *fc.Discovery
	}
	if fc.ApplyRemote != nil {
		cfg.ApplyRemote = *fc.ApplyRemote
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate control secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
