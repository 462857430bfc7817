package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoreTypeAcceptsStringAndNumericSentinel(t *testing.T) {
	var res StartResult
	require.NoError(t, json.Unmarshal([]byte(`{"core_type": "Chromium"}`), &res))
	assert.True(t, res.CoreType.IsChromium())

	require.NoError(t, json.Unmarshal([]byte(`{"core_type": 0}`), &res))
	assert.True(t, res.CoreType.IsChromium())

	require.NoError(t, json.Unmarshal([]byte(`{"core_type": "WebKit"}`), &res))
	assert.False(t, res.CoreType.IsChromium())

	require.NoError(t, json.Unmarshal([]byte(`{"core_type": 2}`), &res))
	assert.False(t, res.CoreType.IsChromium())
}

func TestStartResultDecodesVendorResponse(t *testing.T) {
	raw := `{
		"statusCode": 0,
		"browserOauth": "oauth-abc",
		"browserId": 10086,
		"debuggingPort": "9321",
		"core_version": "114.0.5735.90",
		"core_type": "Chromium",
		"ip": "203.0.113.7",
		"ipDetectionPage": "https://check.example",
		"launcherPage": "https://launch.example"
	}`

	var res StartResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res))

	assert.Equal(t, "oauth-abc", res.StoreID())
	assert.Equal(t, "10086", res.BrowserID.String())
	assert.Equal(t, 9321, res.DebuggingPort.Int())
	assert.Equal(t, "114.0.5735.90", res.Core())
	assert.Equal(t, "114", res.CoreMajor())
}

func TestStoreIDFallsBackToBrowserID(t *testing.T) {
	res := StartResult{BrowserID: "10086"}
	assert.Equal(t, "10086", res.StoreID())

	res.BrowserOauth = "oauth-abc"
	assert.Equal(t, "oauth-abc", res.StoreID())
}

func TestCoreMajorWithoutDots(t *testing.T) {
	res := StartResult{CoreVersion: "114"}
	assert.Equal(t, "114", res.CoreMajor())
}

func TestProfileKeyPrefersOauth(t *testing.T) {
	p := BrowserProfile{BrowserOauth: "oauth-abc", BrowserID: "10086"}
	assert.Equal(t, "oauth-abc", p.Key())

	p = BrowserProfile{BrowserID: "10086"}
	assert.Equal(t, "10086", p.Key())
}
