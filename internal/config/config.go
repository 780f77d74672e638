package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultBindAddr = "127.0.0.1:8190"
	defaultLogFile  = "logs/restriction_watcher.log"
)

// Config holds all configuration for the restriction watcher daemon.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Tab matching and behavior
	TabURLFilter  string
	TabScanMS     int
	EvalTimeoutMS int

	// Control API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Alert sinks
	PageDialog   bool
	NTFYEndpoint string
	HistorySize  int
	JournalDir   string

	// Browser launch
	LaunchBrowser      bool
	ProfileDir         string
	WindowsConfigPath  string
	BrowserWindowSize  string
	BrowserLogDir      string
	BrowserCrashDumps  string
	BrowserCrashReport bool

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:         getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:            getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:       getEnvOrDefault("WATCHER_TAB_URL_FILTER", "linkedin.com/jobs"),
		TabScanMS:          getEnvIntOrDefault("WATCHER_TAB_SCAN_MS", 2000),
		EvalTimeoutMS:      getEnvIntOrDefault("WATCHER_EVAL_TIMEOUT_MS", 5000),
		BindAddr:           getEnvOrDefault("WATCHER_BIND_ADDR", defaultBindAddr),
		PortCandidates:     getEnvListOrDefault("WATCHER_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback:   getEnvBoolOrDefault("WATCHER_PORT_AUTO_FALLBACK", true),
		PageDialog:         getEnvBoolOrDefault("WATCHER_PAGE_DIALOG", true),
		NTFYEndpoint:       strings.TrimSpace(os.Getenv("WATCHER_NTFY_ENDPOINT")),
		HistorySize:        getEnvIntOrDefault("WATCHER_HISTORY_SIZE", 100),
		JournalDir:         getEnvOrDefault("WATCHER_JOURNAL_DIR", "./data/alerts"),
		LaunchBrowser:      getEnvBoolOrDefault("WATCHER_LAUNCH_BROWSER", false),
		ProfileDir:         getEnvOrDefault("WATCHER_PROFILE_DIR", "./browser_profile"),
		WindowsConfigPath:  getEnvOrDefault("WATCHER_WINDOWS_CONFIG", "./config/windows.yaml"),
		BrowserWindowSize:  getEnvOrDefault("WATCHER_BROWSER_WINDOW_SIZE", "1280,900"),
		BrowserLogDir:      getEnvOrDefault("WATCHER_BROWSER_LOG_DIR", "./logs/browser"),
		BrowserCrashDumps:  getEnvOrDefault("WATCHER_BROWSER_CRASH_DIR", "./logs/crash"),
		BrowserCrashReport: getEnvBoolOrDefault("WATCHER_BROWSER_CRASH_REPORTER", false),
		LogLevel:           strings.ToLower(getEnvOrDefault("WATCHER_LOG_LEVEL", "info")),
		LogFile:            getEnvOrDefault("WATCHER_LOG_FILE", defaultLogFile),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.TabScanMS < 250 {
		cfg.TabScanMS = 250
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	if strings.EqualFold(cfg.JournalDir, "off") {
		cfg.JournalDir = ""
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("invalid CHROMIUM_CDP_PORT: %d", cfg.CDPPort)
	}

	return cfg, nil
}

// GetCDPURL returns the DevTools HTTP endpoint of the browser.
func (c *Config) GetCDPURL() string {
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

// getEnvListOrDefault splits a comma separated value, dropping blanks.
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
	return out
}
