package driver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/YueHua46/ziniao-webdriver-template/internal/config"
	"github.com/YueHua46/ziniao-webdriver-template/pkg/models"
)

var (
	// ErrUnsupportedEngine means the session runs on a non-Chromium core.
	ErrUnsupportedEngine = errors.New("unsupported browser engine")
	// ErrDriverMissing means the matching driver binary was not provisioned.
	ErrDriverMissing = errors.New("driver binary not found")
)

// desktopUserAgent replaces the automation-flavored default UA on attached
// sessions.
const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36"

// stealthScript runs before any page script in headless sessions and hides
// the most common navigator-level automation tells.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.navigator.chrome = { runtime: {} };
Object.defineProperty(navigator, 'plugins', {get: () => [1,2,3,4,5]});
Object.defineProperty(navigator, 'languages', {get: () => ['zh-CN', 'en']});
`

// Attacher connects automation handles to store sessions reported by
// startBrowser.
type Attacher struct {
	driverDir string
	log       zerolog.Logger
}

// NewAttacher creates an attacher using the configured driver directory.
func NewAttacher(cfg config.Config, log zerolog.Logger) *Attacher {
	return &Attacher{
		driverDir: cfg.DriverDir,
		log:       log.With().Str("component", "driver").Logger(),
	}
}

// Attach connects to the session's debugging endpoint at
// 127.0.0.1:<debuggingPort> and returns a hardened handle. Only
// Chromium-family cores are supported. The vendor's webdriver mode expects a
// chromedriver matching the core's major version under the driver dir; a
// missing binary means provisioning was skipped and the attach is refused.
func (a *Attacher) Attach(res *models.StartResult, headless bool) (Handle, error) {
	if !res.CoreType.IsChromium() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, string(res.CoreType))
	}

	bin := BinaryPath(a.driverDir, res.CoreMajor())
	if _, err := os.Stat(bin); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDriverMissing, bin)
	}
	a.log.Info().Str("driver", bin).Int("port", res.DebuggingPort.Int()).Msg("attaching to session")

	wsURL, err := launcher.ResolveURL(fmt.Sprintf("127.0.0.1:%d", res.DebuggingPort.Int()))
	if err != nil {
		return nil, fmt.Errorf("resolve debugging endpoint: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(wsURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to debugging endpoint: %w", err)
	}

	page, err := sessionPage(browser)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("acquire session page: %w", err)
	}

	if err := (proto.NetworkSetUserAgentOverride{UserAgent: desktopUserAgent}).Call(page); err != nil {
		cancel()
		return nil, fmt.Errorf("override user agent: %w", err)
	}
	// Network event capture is best effort; old cores without the domain
	// still produce a usable session.
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		a.log.Warn().Err(err).Msg("network capture unavailable")
	}

	if headless {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             1920,
			Height:            1080,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page); err != nil {
			cancel()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
		if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: stealthScript}).Call(page); err != nil {
			cancel()
			return nil, fmt.Errorf("install stealth script: %w", err)
		}
	}

	return &rodHandle{browser: browser, page: page, cancel: cancel}, nil
}

// sessionPage picks the session's existing page, or opens a blank one when
// the browser came up without any.
func sessionPage(browser *rod.Browser) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, err
	}
	if len(pages) > 0 {
		return pages[0], nil
	}
	return browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}
