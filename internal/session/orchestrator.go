// Package session brings store browser sessions from "not running" to "ready
// for scripted use": start the browser through the control plane, attach an
// automation handle, validate the egress IP, and open the landing page. Any
// failure after the browser starts tears the session down before the failure
// is reported; a half-open session is never returned or leaked.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/YueHua46/ziniao-webdriver-template/internal/control"
	"github.com/YueHua46/ziniao-webdriver-template/internal/driver"
	"github.com/YueHua46/ziniao-webdriver-template/pkg/models"
)

// readyTimeout bounds the best-effort page readiness waits. Missing the
// deadline is logged, not fatal.
const readyTimeout = 30 * time.Second

// DefaultConcurrency is the batch worker pool size when none is configured.
const DefaultConcurrency = 5

var (
	// ErrEmptyProfileList means the vendor returned no profiles to search.
	ErrEmptyProfileList = errors.New("browser list is empty")
	// ErrProfileNotFound means no profile matched the requested store name.
	ErrProfileNotFound = errors.New("store profile not found")
	// ErrIPCheckFailed means the session came up but its egress IP did not
	// validate.
	ErrIPCheckFailed = errors.New("ip validation failed")
	// ErrDetectionPageUnavailable means the client is too old to serve an IP
	// detection page. Unlike every other failure it poisons the whole run,
	// not just one session; callers decide whether to terminate on it.
	ErrDetectionPageUnavailable = errors.New("ip detection page unavailable, upgrade the vendor client")
)

// Lifecycle is the control-plane surface the orchestrator drives.
type Lifecycle interface {
	StartBrowser(ctx context.Context, profileKey string, opts control.StartOptions) control.StartReply
	StopBrowser(ctx context.Context, storeID string) control.Reply
}

// Attacher connects an automation handle to a started session.
type Attacher interface {
	Attach(res *models.StartResult, headless bool) (driver.Handle, error)
}

// Validator runs the IP validation strategies.
type Validator interface {
	CheckEgressIP(h driver.Handle, expectedIP string) (bool, error)
	ConfirmDetectionPage(h driver.Handle, url string) bool
}

// StoreSession is a fully-ready store: browser open, driver attached, IP
// validated, landing page navigation attempted. The caller owns the driver
// handle from here and releases it through CloseStore.
type StoreSession struct {
	Driver    driver.Handle
	StoreID   string
	StoreName string
}

// Orchestrator combines the lifecycle controller, the driver attacher and the
// IP gate into the open-store state machine.
type Orchestrator struct {
	control     Lifecycle
	attacher    Attacher
	gate        Validator
	concurrency int
	log         zerolog.Logger
}

// NewOrchestrator creates an orchestrator. concurrency bounds the batch
// worker pool; values below 1 fall back to DefaultConcurrency.
func NewOrchestrator(ctl Lifecycle, att Attacher, gate Validator, concurrency int, log zerolog.Logger) *Orchestrator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		control:     ctl,
		attacher:    att,
		gate:        gate,
		concurrency: concurrency,
		log:         log.With().Str("component", "session").Logger(),
	}
}

// OpenStore opens the store whose profile name matches name
// (case-insensitive, exact). "not found" and "empty list" are distinct
// sentinel errors so callers can branch without re-deriving them from logs.
func (o *Orchestrator) OpenStore(ctx context.Context, name string, profiles []models.BrowserProfile, headless bool) (*StoreSession, error) {
	if len(profiles) == 0 {
		o.log.Warn().Msg("browser list is empty")
		return nil, ErrEmptyProfileList
	}
	for _, profile := range profiles {
		if strings.EqualFold(profile.BrowserName, name) {
			return o.openProfile(ctx, profile, headless)
		}
	}
	o.log.Warn().Str("store", name).Msg("store profile not found")
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// OpenStores opens every requested store concurrently under the configured
// worker pool and returns the sessions that came up ready, in completion
// order. One store's failure never cancels or blocks its siblings; each
// failure is logged per store. The returned error is non-nil only for the
// unrecoverable missing-detection-page condition, reported after all workers
// have finished.
func (o *Orchestrator) OpenStores(ctx context.Context, names []string, profiles []models.BrowserProfile, headless bool) ([]*StoreSession, error) {
	if len(profiles) == 0 {
		o.log.Warn().Msg("browser list is empty")
		return nil, nil
	}

	var selected []models.BrowserProfile
	for _, profile := range profiles {
		for _, name := range names {
			if strings.EqualFold(profile.BrowserName, name) {
				selected = append(selected, profile)
				break
			}
		}
	}

	outcomes := make([]*StoreSession, len(selected))
	failures := make([]error, len(selected))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, profile := range selected {
		i, profile := i, profile
		g.Go(func() error {
			sess, err := o.openProfile(ctx, profile, headless)
			if err != nil {
				o.log.Error().Err(err).Str("store", profile.BrowserName).Msg("store failed to open")
				failures[i] = err
				return nil
			}
			outcomes[i] = sess
			return nil
		})
	}
	// Workers never return errors; Wait is a pure join.
	_ = g.Wait()

	var ready []*StoreSession
	for _, sess := range outcomes {
		if sess != nil {
			ready = append(ready, sess)
		}
	}
	for _, err := range failures {
		if errors.Is(err, ErrDetectionPageUnavailable) {
			return ready, ErrDetectionPageUnavailable
		}
	}
	return ready, nil
}

// CloseStore releases a ready session: stopBrowser on the canonical store ID,
// then the local driver handle.
func (o *Orchestrator) CloseStore(ctx context.Context, sess *StoreSession) {
	o.log.Info().Str("store", sess.StoreName).Msg("closing store")
	o.control.StopBrowser(ctx, sess.StoreID)
	_ = sess.Driver.Quit()
}

// openProfile runs the single-session state machine. Failures before the
// browser starts need no cleanup; from the start response onward every
// failure path closes the remote session exactly once, using the canonical
// store ID from the response rather than the lookup key.
func (o *Orchestrator) openProfile(ctx context.Context, profile models.BrowserProfile, headless bool) (sess *StoreSession, err error) {
	log := o.log.With().Str("store", profile.BrowserName).Logger()
	log.Info().Msg("opening store")

	start := o.control.StartBrowser(ctx, profile.Key(), control.StartOptions{Headless: headless})
	if !start.OK() {
		log.Error().Stringer("outcome", start.Outcome).Int("status_code", start.StatusCode).Msg("startBrowser failed")
		return nil, fmt.Errorf("start browser for %q: %s", profile.BrowserName, start.Outcome)
	}
	res := start.Result
	storeID := res.StoreID()
	log.Info().Int("debugging_port", res.DebuggingPort.Int()).Str("core_version", res.Core()).Msg("browser started")

	handle, err := o.attacher.Attach(res, headless)
	if err != nil {
		log.Error().Err(err).Msg("driver attach failed")
		o.teardown(ctx, storeID, nil, log)
		return nil, fmt.Errorf("attach driver for %q: %w", profile.BrowserName, err)
	}

	// Automation libraries can fault in unexpected ways mid-session; nothing
	// past this boundary may leak a panic or an open session.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("unexpected automation fault")
			o.teardown(ctx, storeID, handle, log)
			sess, err = nil, fmt.Errorf("unexpected automation fault opening %q: %v", profile.BrowserName, r)
		}
	}()

	if werr := handle.WaitReady(readyTimeout); werr != nil {
		log.Warn().Err(werr).Msg("store page not ready in time, continuing")
	}

	if headless {
		match, cerr := o.gate.CheckEgressIP(handle, res.IP)
		if cerr != nil {
			o.teardown(ctx, storeID, handle, log)
			return nil, fmt.Errorf("ip check for %q: %w", profile.BrowserName, cerr)
		}
		if !match {
			log.Warn().Msg("egress IP mismatch")
			o.teardown(ctx, storeID, handle, log)
			return nil, fmt.Errorf("%w: %s", ErrIPCheckFailed, profile.BrowserName)
		}
	} else {
		if res.IPDetectionPage == "" {
			log.Error().Msg("no detection page in start response, upgrade the vendor client")
			o.teardown(ctx, storeID, handle, log)
			return nil, ErrDetectionPageUnavailable
		}
		if !o.gate.ConfirmDetectionPage(handle, res.IPDetectionPage) {
			log.Warn().Msg("detection page did not confirm")
			o.teardown(ctx, storeID, handle, log)
			return nil, fmt.Errorf("%w: %s", ErrIPCheckFailed, profile.BrowserName)
		}
	}

	log.Info().Msg("IP validated, opening launcher page")
	if nerr := handle.Navigate(res.LauncherPage); nerr != nil {
		log.Error().Err(nerr).Msg("launcher page navigation failed")
		o.teardown(ctx, storeID, handle, log)
		return nil, fmt.Errorf("open launcher page for %q: %w", profile.BrowserName, nerr)
	}
	if werr := handle.WaitReady(readyTimeout); werr != nil {
		log.Warn().Err(werr).Msg("launcher page not ready in time, continuing")
	}

	log.Info().Msg("store opened")
	return &StoreSession{Driver: handle, StoreID: storeID, StoreName: profile.BrowserName}, nil
}

// teardown closes the remote session and, when a driver is attached, the
// local handle. stopBrowser runs even when no local driver exists; the remote
// session is open either way.
func (o *Orchestrator) teardown(ctx context.Context, storeID string, h driver.Handle, log zerolog.Logger) {
	log.Info().Str("store_id", storeID).Msg("tearing down session")
	o.control.StopBrowser(ctx, storeID)
	if h != nil {
		_ = h.Quit()
	}
}
