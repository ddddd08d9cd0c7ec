package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/tallyhq/tally/internal/hub"
	"github.com/tallyhq/tally/internal/push"
	"github.com/tallyhq/tally/internal/server"
	"github.com/tallyhq/tally/internal/service"
	"github.com/tallyhq/tally/internal/storage/sqlite"
	"github.com/tallyhq/tally/pkg/logging"
)

const defaultPort = "8080"

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logging.Setup()

	dbPath := getEnv("DB_PATH", "./data/tally.db")

	store, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", dbPath)

	// Push delivery needs a VAPID key pair; without one the server still runs,
	// just without notifications.
	vapidPublic := os.Getenv("VAPID_PUBLIC_KEY")
	vapidPrivate := os.Getenv("VAPID_PRIVATE_KEY")
	subscriber := getEnv("VAPID_SUBSCRIBER", "mailto:admin@tally.local")

	var sender push.Sender
	if vapidPublic != "" && vapidPrivate != "" {
		sender = push.NewWebPush(subscriber, vapidPublic, vapidPrivate)
		slog.Info("Push notifications enabled", "subscriber", subscriber)
	} else {
		slog.Warn("VAPID keys not set, push notifications disabled")
	}

	h := hub.New(store, sender)

	srv := server.New(
		service.NewGroupService(store, h),
		service.NewPersonService(store, h),
		service.NewExpenseService(store, h),
		h,
		vapidPublic,
	)

	mux := srv.Routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	loggedHandler := loggingMiddleware(corsMiddleware(mux))

	// h2c lets HTTP/2 clients connect without TLS behind a local proxy.
	h2cHandler := h2c.NewHandler(loggedHandler, &http2.Server{})

	addr := ":" + getEnv("PORT", defaultPort)
	slog.Info("Server starting", "address", addr, "url", fmt.Sprintf("http://localhost%s", addr))
	if err := http.ListenAndServe(addr, h2cHandler); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		slog.Info("Request received",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		next.ServeHTTP(w, r)

		slog.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Client-Endpoint")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
