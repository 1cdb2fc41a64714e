// Package config loads the server and client tunables named in spec.md
// §6, the way api/cmd/main.go loads its own configuration: environment
// variables first (container-friendly), with an optional on-disk YAML file
// read via gopkg.in/yaml.v3 for anything not set by env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AllowAllOrigins is the sentinel AllowedOrigins value meaning "accept any
// Origin", matching spec.md §6's allowed-origins = all.
const AllowAllOrigins = "*"

// Server holds every server-side tunable from spec.md §6. Injected
// functions (user-id-fn, csrf-token-fn, authorized?-fn, handshake-data-fn,
// packer) are not part of this struct — those are Go values wired directly
// by the caller of internal/server.New, not loaded from config files.
type Server struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`

	RecvBufOrN                      int      `yaml:"recv_buf_or_n"`
	WSKaliveMs                      int      `yaml:"ws_kalive_ms"`
	LPTimeoutMs                     int      `yaml:"lp_timeout_ms"`
	SendBufMsWS                     int      `yaml:"send_buf_ms_ws"`
	SendBufMsAjax                   int      `yaml:"send_buf_ms_ajax"`
	MsAllowReconnectBeforeCloseWS   int      `yaml:"ms_allow_reconnect_before_close_ws"`
	MsAllowReconnectBeforeCloseAjax int      `yaml:"ms_allow_reconnect_before_close_ajax"`
	AllowedOrigins                  []string `yaml:"allowed_origins"`
}

// DefaultServer returns spec.md §6's documented server defaults.
func DefaultServer() Server {
	return Server{
		Addr:                            ":8080",
		Path:                            "/chsk",
		RecvBufOrN:                      1000,
		WSKaliveMs:                      25000,
		LPTimeoutMs:                     20000,
		SendBufMsWS:                     30,
		SendBufMsAjax:                   100,
		MsAllowReconnectBeforeCloseWS:   2500,
		MsAllowReconnectBeforeCloseAjax: 5000,
		AllowedOrigins:                  []string{AllowAllOrigins},
	}
}

func (s Server) WSKaliveDuration() time.Duration { return time.Duration(s.WSKaliveMs) * time.Millisecond }
func (s Server) LPTimeoutDuration() time.Duration {
	return time.Duration(s.LPTimeoutMs) * time.Millisecond
}
func (s Server) SendBufWSDuration() time.Duration {
	return time.Duration(s.SendBufMsWS) * time.Millisecond
}
func (s Server) SendBufAjaxDuration() time.Duration {
	return time.Duration(s.SendBufMsAjax) * time.Millisecond
}
func (s Server) GraceWSDuration() time.Duration {
	return time.Duration(s.MsAllowReconnectBeforeCloseWS) * time.Millisecond
}
func (s Server) GraceAjaxDuration() time.Duration {
	return time.Duration(s.MsAllowReconnectBeforeCloseAjax) * time.Millisecond
}

// AllowsOrigin implements spec.md §4.F's origin check allow-set semantics.
func (s Server) AllowsOrigin(origin string) bool {
	for _, allowed := range s.AllowedOrigins {
		if allowed == AllowAllOrigins {
			return true
		}
		if allowed == origin {
			return true
		}
	}
	return false
}

// LoadServer reads defaults, overlays an optional YAML file at path (if it
// exists), then overlays environment variables, matching the teacher's
// env-wins layering in api/cmd/main.go.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}
	applyServerEnv(&cfg)
	return cfg, nil
}

func applyServerEnv(cfg *Server) {
	cfg.Addr = getEnv("CHSK_ADDR", cfg.Addr)
	cfg.Path = getEnv("CHSK_PATH", cfg.Path)
	cfg.RecvBufOrN = getEnvInt("CHSK_RECV_BUF_OR_N", cfg.RecvBufOrN)
	cfg.WSKaliveMs = getEnvInt("CHSK_WS_KALIVE_MS", cfg.WSKaliveMs)
	cfg.LPTimeoutMs = getEnvInt("CHSK_LP_TIMEOUT_MS", cfg.LPTimeoutMs)
	cfg.SendBufMsWS = getEnvInt("CHSK_SEND_BUF_MS_WS", cfg.SendBufMsWS)
	cfg.SendBufMsAjax = getEnvInt("CHSK_SEND_BUF_MS_AJAX", cfg.SendBufMsAjax)
	cfg.MsAllowReconnectBeforeCloseWS = getEnvInt("CHSK_GRACE_MS_WS", cfg.MsAllowReconnectBeforeCloseWS)
	cfg.MsAllowReconnectBeforeCloseAjax = getEnvInt("CHSK_GRACE_MS_AJAX", cfg.MsAllowReconnectBeforeCloseAjax)
	if v := os.Getenv("CHSK_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}
}

// ServerFromEnv builds a Server purely from environment variables over the
// documented defaults, for container deployments with no config file.
func ServerFromEnv() Server {
	cfg := DefaultServer()
	applyServerEnv(&cfg)
	return cfg
}

// Client holds every client-side tunable from spec.md §6.
type Client struct {
	Type     string `yaml:"type"` // auto, ws, ajax
	Protocol string `yaml:"protocol"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Path     string `yaml:"path"`
	ClientID string `yaml:"client_id"`

	RecvBufOrN            int `yaml:"recv_buf_or_n"`
	WSKaliveMs            int `yaml:"ws_kalive_ms"`
	WSKalivePingTimeoutMs int `yaml:"ws_kalive_ping_timeout_ms"`
}

// DefaultClient returns spec.md §6's documented client defaults.
func DefaultClient() Client {
	return Client{
		Type:                  "auto",
		Protocol:              "ws",
		Host:                  "localhost",
		Port:                  8080,
		Path:                  "/chsk",
		RecvBufOrN:            2048,
		WSKaliveMs:            20000,
		WSKalivePingTimeoutMs: 5000,
	}
}

func (c Client) WSKaliveDuration() time.Duration {
	return time.Duration(c.WSKaliveMs) * time.Millisecond
}
func (c Client) WSKalivePingTimeoutDuration() time.Duration {
	return time.Duration(c.WSKalivePingTimeoutMs) * time.Millisecond
}

// LoadClient reads defaults and overlays an optional YAML file at path.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
