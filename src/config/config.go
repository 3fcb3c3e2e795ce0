package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvPathEnvVar        = "REGION_CAPTURE_ENV"
	DefaultHotkey        = "Ctrl+Shift+S"
	DefaultNativeHost    = "com.example.goscreenshot"
	DefaultSettleDelayMs = 100
	DefaultPortStart     = 49500
	DefaultPortEnd       = 49550
	SessionPolicyReset   = "reset"
	SessionPolicyReject  = "reject"
)

type LoadOptions struct {
	EnvPathOverride       string
	ManifestDirOverride   string
	SessionPolicyOverride string
}

type Config struct {
	EnableFileLogging bool
	Hotkey            string
	NativeHostName    string
	ManifestDir       string
	SessionPolicy     string
	SettleDelay       time.Duration
	DisplayIndex      int
	DeviceScale       float64
	// PortStart and PortEnd bound the loopback range used for single-instance
	// delegation. The resident binds PortStart.
	PortStart int
	PortEnd   int
	// EnvPath is the dotenv file that was applied, if any.
	EnvPath string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Load configuration from sources in priority order:
	// 1) explicit override path
	// 2) .env in the application (executable) directory
	// 3) REGION_CAPTURE_ENV as a path to a config file
	// Values already present in the environment win over the file.
	envPath := resolveEnvPath(opts.EnvPathOverride)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	cfg := &Config{
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		Hotkey:            getEnvWithDefault("HOTKEY", DefaultHotkey),
		NativeHostName:    getEnvWithDefault("NATIVE_HOST_NAME", DefaultNativeHost),
		ManifestDir:       strings.TrimSpace(os.Getenv("NATIVE_HOST_MANIFEST_DIR")),
		SessionPolicy:     resolveSessionPolicy(os.Getenv("SESSION_POLICY")),
		SettleDelay:       time.Duration(getEnvInt("SETTLE_DELAY_MS", DefaultSettleDelayMs, 0)) * time.Millisecond,
		DisplayIndex:      getEnvInt("DISPLAY_INDEX", 0, 0),
		DeviceScale:       getEnvFloat("DEVICE_SCALE", 1),
		PortStart:         getEnvInt("SINGLEINSTANCE_PORT_START", DefaultPortStart, 1),
		PortEnd:           getEnvInt("SINGLEINSTANCE_PORT_END", DefaultPortEnd, 1),
		EnvPath:           envPath,
	}
	if override := strings.TrimSpace(opts.ManifestDirOverride); override != "" {
		cfg.ManifestDir = override
	}
	if override := strings.TrimSpace(opts.SessionPolicyOverride); override != "" {
		cfg.SessionPolicy = resolveSessionPolicy(override)
	}

	return cfg, nil
}

func resolveEnvPath(override string) string {
	if override = strings.TrimSpace(override); override != "" {
		if _, err := os.Stat(override); err == nil {
			return override
		}
	}

	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of key, or def when unset, invalid or below min.
func getEnvInt(key string, def, min int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= min {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

func resolveSessionPolicy(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SessionPolicyReject:
		return SessionPolicyReject
	default:
		return SessionPolicyReset
	}
}
