// Package ipgate validates that a store session's egress IP matches the
// identity the vendor assigned it, before the session is handed to scripts.
package ipgate

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/YueHua46/ziniao-webdriver-template/internal/driver"
)

const (
	// ipReportURL is the external page used by the headless strategy.
	ipReportURL = "https://ip.sb/"
	ipXPath     = `//td[@class='proto_address']/a`

	// successXPath is the "connection ok" marker on the vendor's own
	// detection page, used by the interactive strategy.
	successXPath = `//button[contains(@class, "styles_btn--success")]`

	headlessWait    = 10 * time.Second
	interactiveWait = 30 * time.Second
)

// ErrMissingExpectedIP flags a caller bug: the headless check requires the
// expected IP from the start response.
var ErrMissingExpectedIP = errors.New("expected IP must not be empty")

// Gate runs the IP validation strategies. Both strategies only observe and
// log; closing a failed session is the orchestrator's job.
type Gate struct {
	log zerolog.Logger
}

// NewGate creates an IP validation gate.
func NewGate(log zerolog.Logger) *Gate {
	return &Gate{log: log.With().Str("component", "ipgate").Logger()}
}

// CheckEgressIP is the headless strategy: load an external IP-reporting page
// and compare the rendered IP against expectedIP, exactly and
// case-sensitively. An empty expectedIP fails fast instead of reporting a
// false mismatch.
func (g *Gate) CheckEgressIP(h driver.Handle, expectedIP string) (bool, error) {
	if expectedIP == "" {
		return false, ErrMissingExpectedIP
	}
	if err := h.Navigate(ipReportURL); err != nil {
		g.log.Error().Err(err).Msg("cannot open IP report page")
		return false, nil
	}
	observed, err := h.ElementTextX(ipXPath, headlessWait)
	if err != nil {
		g.log.Error().Err(err).Msg("IP element did not render")
		return false, nil
	}
	g.log.Info().Str("observed", observed).Str("expected", expectedIP).Msg("egress IP check")
	return observed == expectedIP, nil
}

// ConfirmDetectionPage is the interactive strategy: open the vendor's own
// detection page and wait for its success marker. Anything short of the
// marker appearing in time counts as not validated.
func (g *Gate) ConfirmDetectionPage(h driver.Handle, url string) bool {
	if err := h.Navigate(url); err != nil {
		g.log.Error().Err(err).Str("url", url).Msg("cannot open detection page")
		return false
	}
	if err := h.WaitPresentX(successXPath, interactiveWait); err != nil {
		g.log.Warn().Err(err).Msg("detection success marker not found")
		return false
	}
	return true
}
