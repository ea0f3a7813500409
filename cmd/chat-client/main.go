// Command chat-client is a terminal front end for the chat sync core.
// It is a thin view wrapper: all synchronization state lives in the
// session controller; the TUI polls read-only snapshots and posts user
// actions.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mernchat/chat-client/internal/metrics"
	"github.com/mernchat/chat-client/internal/rest"
	"github.com/mernchat/chat-client/internal/session"
	"github.com/mernchat/chat-client/internal/ws"
)

func main() {
	apiURL := envString("API_URL", "http://localhost:4000")
	pushURL := envString("SERVER_URL", "ws://localhost:4000")
	metricsAddr := os.Getenv("METRICS_ADDR")
	retryDelay := envDuration("RECONNECT_DELAY", ws.DefaultRetryDelay)

	// The TUI owns the terminal; keep log output out of it.
	logPath := envString("LOG_FILE", "chat-client.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)

	log.Printf("chat-client starting")
	log.Printf("  api_url:      %s", apiURL)
	log.Printf("  server_url:   %s", pushURL)
	log.Printf("  retry_delay:  %s", retryDelay)
	if metricsAddr != "" {
		log.Printf("  metrics_addr: %s", metricsAddr)
	}

	restc, err := rest.NewClient(apiURL)
	if err != nil {
		log.Fatalf("failed to create REST client: %v", err)
	}

	ctrl := session.NewController(session.Config{
		PushURL: pushURL,
		REST:    restc,
		WS:      ws.Config{RetryDelay: retryDelay},
	})
	ctrl.Start(context.Background())
	defer ctrl.Stop()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Printf("metrics listener failed: %v", err)
			}
		}()
	}

	p := tea.NewProgram(newModel(ctrl), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("tui failed: %v", err)
	}
}

// envString returns the environment value or the default.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration returns the environment value parsed as a duration, or
// the default when unset or malformed.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
