// Package control speaks the vendor client's loopback control plane: a JSON
// over HTTP POST request/response channel plus the session lifecycle actions
// built on top of it.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/YueHua46/ziniao-webdriver-template/internal/config"
)

// requestTimeout bounds a single control-plane round trip. startBrowser can
// legitimately take minutes while the client syncs a profile.
const requestTimeout = 120 * time.Second

// Sender is the transport the lifecycle controller runs on. Do reports
// ok=false for any transport-level failure (unreachable endpoint, timeout,
// non-JSON body); callers treat that as "control plane unreachable", distinct
// from a structured error response.
type Sender interface {
	Do(ctx context.Context, payload map[string]any) (json.RawMessage, bool)
}

// Client posts JSON payloads to the vendor control plane at
// http://127.0.0.1:<port>. Every outgoing payload is augmented with a fresh
// requestId and the configured account credentials.
type Client struct {
	url     string
	account config.Account
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a control-plane client from the process configuration.
func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		url:     fmt.Sprintf("http://127.0.0.1:%d", cfg.ControlPort),
		account: cfg.Account,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.With().Str("component", "control").Logger(),
	}
}

// Do sends one control-plane request and returns the raw JSON response body.
// Transport failures are logged and reported as ok=false, never as a panic or
// error value; the caller decides what an unreachable control plane means.
func (c *Client) Do(ctx context.Context, payload map[string]any) (json.RawMessage, bool) {
	body := make(map[string]any, len(payload)+4)
	maps.Copy(body, payload)
	body["requestId"] = uuid.NewString()
	body["company"] = c.account.Company
	body["username"] = c.account.Username
	body["password"] = c.account.Password

	buf, err := json.Marshal(body)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal control request")
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		c.log.Error().Err(err).Msg("build control request")
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error().Err(err).Msg("control plane unreachable")
		return nil, false
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Error().Err(err).Msg("read control response")
		return nil, false
	}
	if !json.Valid(raw) {
		c.log.Error().Str("body", string(raw)).Msg("control response is not JSON")
		return nil, false
	}

	return json.RawMessage(raw), true
}
