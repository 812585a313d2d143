package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultPanelBase is the built-in panel API endpoint used when no base is
// configured or the configured one is malformed.
const DefaultPanelBase = "https://chatgptpanel.zeabur.app"

// DefaultCompanionEndpoint is the local companion service for session import.
const DefaultCompanionEndpoint = "http://127.0.0.1:8766"

// Config holds all configuration for the bind-card agent.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// HTTP control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Persistence
	DataDir  string
	BinsFile string

	// Logging
	LogLevel string
	LogFile  string

	// External services
	CompanionEndpoint string

	// Ordered page script URLs injected into each tab on load
	PageScripts []string

	// Browser launch (used only when nothing is serving the CDP port)
	LaunchBrowser bool
	ProfileDir    string
	StartURL      string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("ATM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("ATM_CDP_PORT", 9222),
		BindAddr:          getEnvOrDefault("ATM_BIND_ADDR", "127.0.0.1:8765"),
		PortCandidates:    getEnvListOrDefault("ATM_PORT_CANDIDATES", []string{"127.0.0.1:8765", "127.0.0.1:8767", "127.0.0.1:8768"}),
		PortAutoFallback:  getEnvBoolOrDefault("ATM_PORT_AUTO_FALLBACK", true),
		DataDir:           getEnvOrDefault("ATM_DATA_DIR", "./agent_data"),
		BinsFile:          getEnvOrDefault("ATM_BINS_FILE", ""),
		LogLevel:          getEnvOrDefault("ATM_LOG_LEVEL", "info"),
		LogFile:           getEnvOrDefault("ATM_LOG_FILE", "logs/agent.log"),
		CompanionEndpoint: getEnvOrDefault("ATM_COMPANION_ENDPOINT", DefaultCompanionEndpoint),
		PageScripts:       getEnvListOrDefault("ATM_PAGE_SCRIPTS", nil),
		LaunchBrowser:     getEnvBoolOrDefault("ATM_LAUNCH_BROWSER", false),
		ProfileDir:        getEnvOrDefault("ATM_PROFILE_DIR", "./browser_profile"),
		StartURL:          getEnvOrDefault("ATM_START_URL", "about:blank"),
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
