// Package process manages the vendor client as an OS process: terminating a
// stale instance, starting a fresh one in webdriver mode, and purging its
// on-disk profile cache.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/YueHua46/ziniao-webdriver-template/internal/config"
)

// ErrUnsupportedPlatform is returned on anything other than Windows or macOS;
// the vendor client only ships for those.
var ErrUnsupportedPlatform = errors.New("webdriver mode is only supported on windows and macos")

// startupSettle is how long the client needs after spawn before its control
// plane starts answering at all.
const startupSettle = 5 * time.Second

// Launcher starts and stops the vendor client executable.
type Launcher struct {
	clientPath string
	port       int
	log        zerolog.Logger
}

// NewLauncher creates a launcher from the process configuration.
func NewLauncher(cfg config.Config, log zerolog.Logger) *Launcher {
	return &Launcher{
		clientPath: cfg.ClientPath,
		port:       cfg.ControlPort,
		log:        log.With().Str("component", "process").Logger(),
	}
}

// CheckPlatform reports whether the current OS can run the vendor client.
func CheckPlatform() error {
	switch runtime.GOOS {
	case "windows", "darwin":
		return nil
	default:
		return ErrUnsupportedPlatform
	}
}

// Kill terminates a running vendor client, silently skipping when none is
// running. The process name differs between client generations: v5 ships as
// SuperBrowser, v6 as ziniao.
func (l *Launcher) Kill(version string) {
	switch runtime.GOOS {
	case "windows":
		name := "ziniao.exe"
		if version == "v5" {
			name = "SuperBrowser.exe"
		}
		if err := exec.Command("taskkill", "/f", "/t", "/im", name).Run(); err != nil {
			l.log.Info().Msg("vendor client not running, nothing to kill")
			return
		}
		l.log.Info().Str("process", name).Msg("terminated vendor client")
	case "darwin":
		if err := exec.Command("killall", "ziniao").Run(); err == nil {
			// Give the client a moment to let go of its control port.
			time.Sleep(3 * time.Second)
			l.log.Info().Msg("terminated vendor client")
		}
	}
}

// Start spawns the vendor client in webdriver mode on the configured control
// port and waits for it to settle. The control plane may still need more time;
// UpdateCore's retry loop absorbs that.
func (l *Launcher) Start(ctx context.Context) error {
	args := []string{
		"--run_type=web_driver",
		"--ipc_type=http",
		"--port=" + strconv.Itoa(l.port),
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, l.clientPath, args...)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", append([]string{"-a", l.clientPath, "--args"}, args...)...)
	default:
		return ErrUnsupportedPlatform
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start vendor client: %w", err)
	}
	l.log.Info().Str("client", l.clientPath).Int("port", l.port).Msg("vendor client starting")

	timer := time.NewTimer(startupSettle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PurgeCache removes the client's default profile cache. Only needed when
// disk space runs out with very many stores; fails while stores are running.
func (l *Launcher) PurgeCache() error {
	if runtime.GOOS != "windows" {
		return nil
	}
	return l.PurgeCacheAt(os.Getenv("LOCALAPPDATA"))
}

// PurgeCacheAt removes the profile cache under a custom root, for clients
// started with --enforce-cache-path.
func (l *Launcher) PurgeCacheAt(root string) error {
	if runtime.GOOS != "windows" || root == "" {
		return nil
	}
	cache := filepath.Join(root, "SuperBrowser")
	if _, err := os.Stat(cache); err != nil {
		return nil
	}
	l.log.Info().Str("path", cache).Msg("purging profile cache")
	return os.RemoveAll(cache)
}
