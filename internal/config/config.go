// Package config loads the process-wide configuration for the store
// controller from ZINIAO_* environment variables. The result is an immutable
// value handed to every component constructor; nothing in the core reads the
// environment after Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// DefaultControlPort is the vendor client's loopback control-plane port when
// ZINIAO_SOCKET_PORT is unset.
const DefaultControlPort = 16851

// Account carries the vendor account credentials attached to every
// control-plane request.
type Account struct {
	Company  string
	Username string
	Password string
}

// Config is the full process configuration.
type Config struct {
	// ClientPath is the vendor client executable (Windows) or app bundle
	// (macOS).
	ClientPath string
	// DriverDir holds the pre-provisioned chromedriver binaries, named
	// chromedriver<major>[.exe].
	DriverDir string
	// ControlPort is the loopback port the vendor client listens on.
	ControlPort int
	// LogDir is where the running log is written.
	LogDir string
	Account Account
}

// Load reads configuration from the environment. Callers are expected to have
// loaded a .env file first (godotenv in the CLI).
func Load() (Config, error) {
	cfg := Config{
		ClientPath:  cleanEnv(os.Getenv("ZINIAO_CLIENT_PATH")),
		DriverDir:   cleanEnv(os.Getenv("ZINIAO_DRIVER_FOLDER_PATH")),
		ControlPort: DefaultControlPort,
		LogDir:      cleanEnv(os.Getenv("ZINIAO_LOG_DIR")),
		Account: Account{
			Company:  cleanEnv(os.Getenv("ZINIAO_COMPANY")),
			Username: cleanEnv(os.Getenv("ZINIAO_USERNAME")),
			Password: cleanEnv(os.Getenv("ZINIAO_PASSWORD")),
		},
	}

	if raw := cleanEnv(os.Getenv("ZINIAO_SOCKET_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ZINIAO_SOCKET_PORT %q: %w", raw, err)
		}
		cfg.ControlPort = port
	}

	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}

	// Windows installs are configured explicitly; elsewhere the vendor's
	// conventional locations apply.
	if runtime.GOOS != "windows" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		if cfg.DriverDir == "" {
			cfg.DriverDir = filepath.Join(home, "webdriver")
		}
		if cfg.ClientPath == "" {
			cfg.ClientPath = filepath.Join(home, "ziniao")
		}
	}

	return cfg, nil
}

// cleanEnv sanitizes a raw .env value: trims whitespace, cuts a trailing
// " #" inline comment, and strips surrounding quotes.
func cleanEnv(value string) string {
	s := strings.TrimSpace(value)
	if i := strings.Index(s, " #"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, `"`)
	s = strings.Trim(s, `'`)
	return s
}
