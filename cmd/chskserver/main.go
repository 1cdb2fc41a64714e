// Command chskserver runs a standalone chsk server: the Ajax POST/GET and
// WebSocket handshake routes on gin, backed by the registry/fanout engine,
// with optional JWT authorization, Redis presence mirroring, and periodic
// housekeeping, wired the way api/cmd/main.go assembles its own services
// before handing them to gin and waiting on an OS signal for graceful
// shutdown.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chskio/chsk/internal/adapter"
	"github.com/chskio/chsk/internal/apperrors"
	"github.com/chskio/chsk/internal/authz"
	"github.com/chskio/chsk/internal/config"
	"github.com/chskio/chsk/internal/distregistry"
	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/fanout"
	"github.com/chskio/chsk/internal/housekeeping"
	"github.com/chskio/chsk/internal/logger"
	"github.com/chskio/chsk/internal/packer"
	"github.com/chskio/chsk/internal/registry"
	"github.com/chskio/chsk/internal/router"
	"github.com/chskio/chsk/internal/sanitize"
	"github.com/chskio/chsk/internal/server"
)

func main() {
	logger.Initialize(getEnv("CHSK_LOG_LEVEL", "info"), getEnv("CHSK_LOG_PRETTY", "false") == "true")

	cfg, err := config.LoadServer(os.Getenv("CHSK_CONFIG_FILE"))
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("chsk: failed to load server config")
	}

	reg := registry.New()
	fan := fanout.New(reg, packer.NewEnvelope(nil), fanout.Config{
		SendBufMsWS:   cfg.SendBufWSDuration(),
		SendBufMsAjax: cfg.SendBufAjaxDuration(),
		WSKaliveMs:    cfg.WSKaliveDuration(),
	})

	srv := server.New(cfg, adapter.NewGinAdapter(), reg, fan, packer.NewEnvelope(nil))

	if secret := os.Getenv("CHSK_JWT_SECRET"); secret != "" {
		authorizer := authz.NewJWTAuthorizer([]byte(secret), os.Getenv("CHSK_JWT_ISSUER"))
		srv.Authorized = authorizer.Authorized
		srv.UserID = authorizer.UserID
		logger.Log.Info().Msg("chsk: JWT authorization enabled")
	} else {
		logger.Log.Warn().Msg("chsk: CHSK_JWT_SECRET not set, all connections run as nil-uid and unauthorized checks are skipped")
	}

	srv.Sanitize = sanitize.NewScrubber().Sanitize

	var mirror *distregistry.Mirror
	if addr := os.Getenv("CHSK_REDIS_ADDR"); addr != "" {
		podName := getEnv("CHSK_POD_NAME", hostnameOrUnknown())
		m, err := distregistry.NewMirror(distregistry.Options{
			Addr:     addr,
			Password: os.Getenv("CHSK_REDIS_PASSWORD"),
			DB:       getEnvInt("CHSK_REDIS_DB", 0),
			PodName:  podName,
		})
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("chsk: failed to connect distributed presence mirror")
		}
		defer m.Close()
		mirror = m
		srv.Mirror = m
		logger.Log.Info().Str("pod", podName).Msg("chsk: distributed presence mirroring enabled")
	}

	hk := housekeeping.New(reg, mirror)
	if err := hk.Start(getEnv("CHSK_SNAPSHOT_CRON", "*/1 * * * *"), getEnv("CHSK_PRUNE_CRON", "*/5 * * * *")); err != nil {
		logger.Log.Fatal().Err(err).Msg("chsk: failed to start housekeeping scheduler")
	}
	defer hk.Stop()

	loop := router.New(srv.Recv(), echoHandler, router.Options{})
	go loop.Run()
	defer loop.Stop()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(apperrors.Recovery())
	engine.GET("/healthz", func(c *gin.Context) { writeSnapshot(c.Writer, reg) })
	engine.POST(cfg.Path, func(c *gin.Context) { srv.HandleSend(c.Writer, c.Request) })
	engine.GET(cfg.Path, func(c *gin.Context) { srv.HandleConnect(c.Writer, c.Request) })

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Log.Info().Str("addr", cfg.Addr).Str("path", cfg.Path).Msg("chsk: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("chsk: server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Log.Info().Str("signal", sig.String()).Msg("chsk: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("chsk: forced shutdown")
	}
}

// echoHandler is the default application handler: it logs every inbound
// event and replies ok to anything expecting a reply, as a starting point
// for a real application to replace.
func echoHandler(msg event.Msg) error {
	logger.Client().Debug().Str("event", msg.Event.ID).Str("uid", msg.UID).Msg("chsk: received event")
	if msg.Reply != nil {
		msg.Reply("chsk/dummy-cb-200")
	}
	return nil
}

func writeSnapshot(w http.ResponseWriter, reg *registry.Registry) {
	snap := reg.TakeSnapshot()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(snap)
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
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
