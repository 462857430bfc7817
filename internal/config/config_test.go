package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanEnv(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  16851  ", "16851"},
		{`"quoted value"`, "quoted value"},
		{`'single quoted'`, "single quoted"},
		{"16851 # control port", "16851"},
		{`"C:\ziniao\client.exe" # windows path`, `C:\ziniao\client.exe`},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cleanEnv(tc.in), "input %q", tc.in)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ZINIAO_SOCKET_PORT", "17000")
	t.Setenv("ZINIAO_COMPANY", "acme")
	t.Setenv("ZINIAO_USERNAME", `"ops"`)
	t.Setenv("ZINIAO_PASSWORD", "secret # keep out of logs")
	t.Setenv("ZINIAO_DRIVER_FOLDER_PATH", "/opt/webdriver")
	t.Setenv("ZINIAO_CLIENT_PATH", "/opt/ziniao")
	t.Setenv("ZINIAO_LOG_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 17000, cfg.ControlPort)
	assert.Equal(t, "acme", cfg.Account.Company)
	assert.Equal(t, "ops", cfg.Account.Username)
	assert.Equal(t, "secret", cfg.Account.Password)
	assert.Equal(t, "/opt/webdriver", cfg.DriverDir)
	assert.Equal(t, "/opt/ziniao", cfg.ClientPath)
	assert.Equal(t, "./logs", cfg.LogDir)
}

func TestLoadDefaultPort(t *testing.T) {
	t.Setenv("ZINIAO_SOCKET_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultControlPort, cfg.ControlPort)
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("ZINIAO_SOCKET_PORT", "not-a-port")

	_, err := Load()
	assert.Error(t, err)
}
