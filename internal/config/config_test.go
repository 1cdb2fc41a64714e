package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultServerMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultServer()
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "/chsk", cfg.Path)
	require.Equal(t, 1000, cfg.RecvBufOrN)
	require.Equal(t, []string{AllowAllOrigins}, cfg.AllowedOrigins)
}

func TestAllowsOriginWildcard(t *testing.T) {
	cfg := DefaultServer()
	require.True(t, cfg.AllowsOrigin("https://anything.example"))
}

func TestAllowsOriginExplicitList(t *testing.T) {
	cfg := DefaultServer()
	cfg.AllowedOrigins = []string{"https://app.example"}
	require.True(t, cfg.AllowsOrigin("https://app.example"))
	require.False(t, cfg.AllowsOrigin("https://evil.example"))
}

func TestServerFromEnvOverridesDefaults(t *testing.T) {
	os.Setenv("CHSK_ADDR", ":9999")
	os.Setenv("CHSK_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	defer os.Unsetenv("CHSK_ADDR")
	defer os.Unsetenv("CHSK_ALLOWED_ORIGINS")

	cfg := ServerFromEnv()
	require.Equal(t, ":9999", cfg.Addr)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadServerMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadServer("/nonexistent/path/chsk.yaml")
	require.NoError(t, err)
	require.Equal(t, DefaultServer().Addr, cfg.Addr)
}

func TestLoadServerReadsYAMLFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "chsk-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("addr: \":1234\"\npath: \"/custom\"\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := LoadServer(f.Name())
	require.NoError(t, err)
	require.Equal(t, ":1234", cfg.Addr)
	require.Equal(t, "/custom", cfg.Path)
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultServer()
	require.Equal(t, int64(25000), cfg.WSKaliveDuration().Milliseconds())
	require.Equal(t, int64(20000), cfg.LPTimeoutDuration().Milliseconds())
}

func TestDefaultClientMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultClient()
	require.Equal(t, "auto", cfg.Type)
	require.Equal(t, "ws", cfg.Protocol)
	require.Equal(t, 8080, cfg.Port)
}
