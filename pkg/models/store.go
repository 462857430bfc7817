package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexString decodes a JSON field that the vendor serializes either as a
// string or as a bare number (browserId shows up both ways across client
// versions).
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}
	return fmt.Errorf("cannot decode %s as string or number", string(b))
}

func (f FlexString) String() string { return string(f) }

// FlexInt decodes a JSON number that may arrive quoted.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = FlexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("cannot decode %s as int or string", string(b))
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("cannot parse %q as int: %w", s, err)
	}
	*f = FlexInt(v)
	return nil
}

func (f FlexInt) Int() int { return int(f) }

// CoreType identifies the browser engine backing a store session. The vendor
// reports Chromium either as the string "Chromium" or as the numeric
// sentinel 0.
type CoreType string

const CoreTypeChromium CoreType = "Chromium"

func (c *CoreType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = CoreType(s)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if n == 0 {
			*c = CoreTypeChromium
		} else {
			*c = CoreType(strconv.Itoa(n))
		}
		return nil
	}
	return fmt.Errorf("cannot decode %s as core type", string(b))
}

// IsChromium reports whether the engine is Chromium-family.
func (c CoreType) IsChromium() bool { return c == CoreTypeChromium }

// BrowserProfile is the vendor-side record for one managed store, as returned
// by getBrowserList. Only the fields this system consumes are decoded.
type BrowserProfile struct {
	BrowserOauth string     `json:"browserOauth"`
	BrowserID    FlexString `json:"browserId"`
	BrowserName  string     `json:"browserName"`
}

// Key returns the identifier used to start this profile: the OAuth token when
// present, otherwise the numeric store ID.
func (p BrowserProfile) Key() string {
	if p.BrowserOauth != "" {
		return p.BrowserOauth
	}
	return p.BrowserID.String()
}

// StartResult is the startBrowser response. Consumed once to attach a driver
// and validate IP; not persisted.
type StartResult struct {
	StatusCode      int        `json:"statusCode"`
	Msg             string     `json:"msg,omitempty"`
	BrowserOauth    string     `json:"browserOauth"`
	BrowserID       FlexString `json:"browserId"`
	DebuggingPort   FlexInt    `json:"debuggingPort"`
	CoreVersion     string     `json:"coreVersion"`
	CoreVersionAlt  string     `json:"core_version"`
	CoreType        CoreType   `json:"core_type"`
	IP              string     `json:"ip"`
	IPDetectionPage string     `json:"ipDetectionPage"`
	LauncherPage    string     `json:"launcherPage"`
}

// StoreID returns the canonical session identifier. stopBrowser must be
// called with this value, which may differ from the key used to start the
// session (the client substitutes a numeric ID for an OAuth token).
func (r *StartResult) StoreID() string {
	if r.BrowserOauth != "" {
		return r.BrowserOauth
	}
	return r.BrowserID.String()
}

// Core returns the engine version, whichever wire key the client used.
func (r *StartResult) Core() string {
	if r.CoreVersion != "" {
		return r.CoreVersion
	}
	return r.CoreVersionAlt
}

// CoreMajor returns the leading segment of the engine version, which selects
// the matching driver binary.
func (r *StartResult) CoreMajor() string {
	core := r.Core()
	if i := strings.IndexByte(core, '.'); i >= 0 {
		return core[:i]
	}
	return core
}
