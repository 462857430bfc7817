// Package driver attaches a CDP automation handle to a running store browser
// through its per-session remote debugging port.
package driver

import (
	"context"
	"time"

	"github.com/go-rod/rod"
)

// Handle is the automation surface the orchestrator and the IP gate operate
// on. Implementations never panic across this boundary; every operation
// reports failure as an error.
type Handle interface {
	// Navigate points the session at a URL. It does not wait for the load to
	// finish; use WaitReady for that.
	Navigate(url string) error
	// WaitReady blocks until the current document finishes loading, up to
	// timeout.
	WaitReady(timeout time.Duration) error
	// ElementTextX waits up to timeout for the element at the XPath to exist
	// and returns its rendered text.
	ElementTextX(xpath string, timeout time.Duration) (string, error)
	// WaitPresentX waits up to timeout for the element at the XPath to exist.
	WaitPresentX(xpath string, timeout time.Duration) error
	// Quit releases the local automation connection. It never closes the
	// remote browser; that is the control plane's job via stopBrowser.
	Quit() error
}

type rodHandle struct {
	browser *rod.Browser
	page    *rod.Page
	cancel  context.CancelFunc
}

func (h *rodHandle) Navigate(url string) error {
	return h.page.Navigate(url)
}

func (h *rodHandle) WaitReady(timeout time.Duration) error {
	return h.page.Timeout(timeout).WaitLoad()
}

func (h *rodHandle) ElementTextX(xpath string, timeout time.Duration) (string, error) {
	el, err := h.page.Timeout(timeout).ElementX(xpath)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (h *rodHandle) WaitPresentX(xpath string, timeout time.Duration) error {
	_, err := h.page.Timeout(timeout).ElementX(xpath)
	return err
}

func (h *rodHandle) Quit() error {
	// Dropping the context tears down the websocket without touching the
	// browser process itself.
	h.cancel()
	return nil
}
