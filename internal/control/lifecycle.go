package control

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/YueHua46/ziniao-webdriver-template/pkg/models"
)

// Vendor status codes.
const (
	statusOK          = 0
	statusAuthFailure = -10003
)

// Outcome classifies a lifecycle call result. Lifecycle calls never return
// errors for vendor or transport failures; they return one of these so the
// caller is forced to handle each kind.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeAuthFailure is the vendor's -10003: account login rejected.
	OutcomeAuthFailure
	// OutcomeVendorFailure is any other non-zero status code.
	OutcomeVendorFailure
	// OutcomeTransportFailure means the control plane did not answer at all.
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthFailure:
		return "auth-failure"
	case OutcomeVendorFailure:
		return "vendor-failure"
	case OutcomeTransportFailure:
		return "transport-failure"
	}
	return "unknown"
}

// Reply is the classified result of one lifecycle call, with the raw response
// body kept for logging and diagnostics.
type Reply struct {
	Outcome    Outcome
	StatusCode int
	Raw        json.RawMessage
}

// OK reports whether the call succeeded.
func (r Reply) OK() bool { return r.Outcome == OutcomeSuccess }

// StartReply is a Reply plus the decoded startBrowser result, non-nil only on
// success.
type StartReply struct {
	Reply
	Result *models.StartResult
}

// StartOptions are the caller-selectable startBrowser knobs.
type StartOptions struct {
	// ReadOnly asks for a webdriver read-only session.
	ReadOnly bool
	// Headless launches the browser without a window.
	Headless bool
	// CookieTypeSave selects the vendor cookie persistence mode.
	CookieTypeSave int
	// PrivacyMode selects the vendor privacy mode.
	PrivacyMode int
	// InjectJS is an opaque payload forwarded to the client as injectJsInfo.
	// It is only attached when its JSON-serialized form is longer than two
	// bytes, so empty strings and empty objects are never injected.
	InjectJS any
}

// Controller issues the control-plane lifecycle actions and interprets vendor
// status codes.
type Controller struct {
	sender        Sender
	retryInterval time.Duration
	log           zerolog.Logger
}

// NewController creates a lifecycle controller on the given transport.
func NewController(sender Sender, log zerolog.Logger) *Controller {
	return &Controller{
		sender:        sender,
		retryInterval: 2 * time.Second,
		log:           log.With().Str("component", "lifecycle").Logger(),
	}
}

// StartBrowser opens the browser for one profile. profileKey is either a
// numeric store ID or an OAuth-style token and is routed into the matching
// payload field. Vendor rejections and transport failures come back as a
// classified reply, never an error.
func (c *Controller) StartBrowser(ctx context.Context, profileKey string, opts StartOptions) StartReply {
	payload := map[string]any{
		"action":                  "startBrowser",
		"isWaitPluginUpdate":      0,
		"isHeadless":              boolToInt(opts.Headless),
		"isWebDriverReadOnlyMode": boolToInt(opts.ReadOnly),
		"cookieTypeLoad":          0,
		"cookieTypeSave":          opts.CookieTypeSave,
		"runMode":                 "1",
		"isLoadUserPlugin":        false,
		"pluginIdType":            1,
		"privacyMode":             opts.PrivacyMode,
	}
	if isNumeric(profileKey) {
		payload["browserId"] = profileKey
	} else {
		payload["browserOauth"] = profileKey
	}
	if opts.InjectJS != nil {
		if b, err := json.Marshal(opts.InjectJS); err == nil && len(b) > 2 {
			payload["injectJsInfo"] = string(b)
		}
	}

	raw, ok := c.sender.Do(ctx, payload)
	if !ok {
		c.log.Error().Msg("startBrowser got no response")
		return StartReply{Reply: transportReply()}
	}

	var res models.StartResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Error().Err(err).Str("body", string(raw)).Msg("startBrowser response undecodable")
		return StartReply{Reply: transportReply()}
	}

	reply := StartReply{Reply: c.classify("startBrowser", res.StatusCode, raw)}
	if reply.OK() {
		reply.Result = &res
	}
	return reply
}

// StopBrowser closes one store session. storeID must be the canonical
// identifier from the start response, not the caller-supplied lookup key.
func (c *Controller) StopBrowser(ctx context.Context, storeID string) Reply {
	payload := map[string]any{
		"action":       "stopBrowser",
		"duplicate":    0,
		"browserOauth": storeID,
	}

	raw, ok := c.sender.Do(ctx, payload)
	if !ok {
		c.log.Error().Str("store_id", storeID).Msg("stopBrowser got no response")
		return transportReply()
	}

	var res struct {
		StatusCode int `json:"statusCode"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Error().Err(err).Str("body", string(raw)).Msg("stopBrowser response undecodable")
		return transportReply()
	}
	return c.classify("stopBrowser", res.StatusCode, raw)
}

// ListBrowsers fetches the managed profile list in vendor order. Any failure
// yields an empty slice so callers can iterate unconditionally; the log entry
// tells the failure kinds apart.
func (c *Controller) ListBrowsers(ctx context.Context) []models.BrowserProfile {
	raw, ok := c.sender.Do(ctx, map[string]any{"action": "getBrowserList"})
	if !ok {
		c.log.Error().Msg("getBrowserList got no response")
		return nil
	}

	var res struct {
		StatusCode  int                     `json:"statusCode"`
		BrowserList []models.BrowserProfile `json:"browserList"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Error().Err(err).Str("body", string(raw)).Msg("getBrowserList response undecodable")
		return nil
	}
	if reply := c.classify("getBrowserList", res.StatusCode, raw); !reply.OK() {
		return nil
	}
	return res.BrowserList
}

// UpdateCore asks the client to download all browser cores, polling until the
// client reports completion or that it is too old to support the action. The
// client may still be starting up, so a missing response waits and retries.
// The loop has no bound of its own; callers cancel or deadline through ctx.
func (c *Controller) UpdateCore(ctx context.Context) error {
	for {
		raw, ok := c.sender.Do(ctx, map[string]any{"action": "updateCore"})
		if !ok {
			c.log.Info().Msg("waiting for client to come up")
			if err := sleepCtx(ctx, c.retryInterval); err != nil {
				return err
			}
			continue
		}

		var res struct {
			StatusCode *int `json:"statusCode"`
		}
		if err := json.Unmarshal(raw, &res); err != nil {
			c.log.Error().Err(err).Str("body", string(raw)).Msg("updateCore response undecodable")
			if err := sleepCtx(ctx, c.retryInterval); err != nil {
				return err
			}
			continue
		}

		switch {
		case res.StatusCode == nil || *res.StatusCode == statusAuthFailure:
			// Older clients answer -10003 or omit the code entirely.
			c.log.Info().Msg("client does not support updateCore, skipping")
			return nil
		case *res.StatusCode == statusOK:
			c.log.Info().Msg("core update complete")
			return nil
		default:
			c.log.Warn().RawJSON("response", raw).Msg("core update still in progress")
			if err := sleepCtx(ctx, c.retryInterval); err != nil {
				return err
			}
		}
	}
}

// Exit asks the vendor client to shut down. Fire and forget; the response is
// not interpreted.
func (c *Controller) Exit(ctx context.Context) {
	c.log.Info().Msg("requesting client exit")
	c.sender.Do(ctx, map[string]any{"action": "exit"})
}

// classify maps a vendor status code onto an Outcome and logs failures with
// the full response body.
func (c *Controller) classify(action string, code int, raw json.RawMessage) Reply {
	reply := Reply{StatusCode: code, Raw: raw}
	switch code {
	case statusOK:
		reply.Outcome = OutcomeSuccess
	case statusAuthFailure:
		reply.Outcome = OutcomeAuthFailure
		c.log.Error().Str("action", action).RawJSON("response", raw).Msg("account login rejected")
	default:
		reply.Outcome = OutcomeVendorFailure
		c.log.Error().Str("action", action).RawJSON("response", raw).Msg("vendor reported failure")
	}
	return reply
}

func transportReply() Reply {
	return Reply{Outcome: OutcomeTransportFailure, StatusCode: -1}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
