// Command chskclient is a minimal interactive demonstration of
// internal/client: it connects with the Auto transport, logs every state
// transition and received event, and sends one request-reply "ping" on a
// timer so the keep-alive and reconnect machinery can be watched end to
// end against a running chskserver.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/chskio/chsk/internal/client"
	"github.com/chskio/chsk/internal/event"
	"github.com/chskio/chsk/internal/logger"
	"github.com/chskio/chsk/internal/packer"
)

func main() {
	logger.Initialize(getEnv("CHSK_LOG_LEVEL", "info"), true)

	cfg := client.Config{
		Type:                  client.TypeAuto,
		Protocol:              getEnv("CHSK_PROTOCOL", "ws"),
		Host:                  getEnv("CHSK_HOST", "localhost"),
		Port:                  8080,
		Path:                  getEnv("CHSK_PATH", "/chsk"),
		ClientID:              fmt.Sprintf("chskclient-%d", os.Getpid()),
		RecvBufOrN:            2048,
		WSKaliveMs:            20 * time.Second,
		WSKalivePingTimeoutMs: 5 * time.Second,
		Envelope:              packer.NewEnvelope(nil),
	}

	conn := client.New(cfg)
	conn.Connect()
	defer conn.Close()

	go watchState(conn)
	go watchRecv(conn)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ev := event.Event{ID: "demo/ping", Data: time.Now().Unix()}
		ok := conn.Send(ev, func(value interface{}) {
			logger.Client().Info().Interface("reply", value).Msg("chsk: ping reply")
		}, 5*time.Second)
		if !ok {
			logger.Client().Warn().Msg("chsk: ping send failed, not connected")
		}
	}
}

func watchState(conn client.Conn) {
	for ev := range conn.StateCh() {
		logger.Client().Info().Str("event", ev.ID).Interface("data", ev.Data).Msg("chsk: state")
	}
}

func watchRecv(conn client.Conn) {
	for msg := range conn.RecvCh() {
		logger.Client().Info().Str("event", msg.Event.ID).Interface("data", msg.Event.Data).Msg("chsk: recv")
		if msg.Reply != nil {
			msg.Reply("chsk/dummy-cb-200")
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
