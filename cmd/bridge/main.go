// Bridge orchestration server — serves the agent HTTP API, runs the
// four-stage pipeline, and brokers pending actions to the UI client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/theredstring/redstring-bridge/pkg/api"
	"github.com/theredstring/redstring-bridge/pkg/bridge"
	"github.com/theredstring/redstring-bridge/pkg/config"
	"github.com/theredstring/redstring-bridge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.Production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// listenWithRecovery binds the port, killing a stale holder and retrying
// when the address is in use. Dev restarts frequently leave a previous
// bridge process holding the port.
func listenWithRecovery(port int, logger *slog.Logger) (net.Listener, error) {
	addr := fmt.Sprintf(":%d", port)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		logger.Warn("Port in use, attempting to reclaim",
			slog.Int("port", port), slog.Int("attempt", attempt+1))
		killPortHolder(port, logger)
		time.Sleep(500 * time.Millisecond)
	}
	return nil, lastErr
}

func killPortHolder(port int, logger *slog.Logger) {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		logger.Warn("Could not identify port holder", slog.Any("error", err))
		return
	}
	self := os.Getpid()
	for _, line := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(line)
		if err != nil || pid == self {
			continue
		}
		if proc, err := os.FindProcess(pid); err == nil {
			logger.Info("Terminating stale process holding port",
				slog.Int("pid", pid), slog.Int("port", port))
			_ = proc.Signal(syscall.SIGTERM)
		}
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.LoadFromEnv(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("Starting bridge",
		slog.String("version", version.Full()),
		slog.Int("port", cfg.Port),
		slog.Bool("production", cfg.Production))

	core := bridge.New(cfg, logger)
	core.Start(context.Background())

	server := api.NewServer(core, logger)
	httpServer := &http.Server{
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := listenWithRecovery(cfg.Port, logger)
	if err != nil {
		logger.Error("Failed to bind port", slog.Int("port", cfg.Port), slog.Any("error", err))
		os.Exit(1)
	}

	useTLS := cfg.TLS.Usable()
	if cfg.TLS.Enabled && !useTLS {
		logger.Warn("HTTPS requested but key/cert missing, falling back to HTTP",
			slog.String("keyPath", cfg.TLS.KeyPath),
			slog.String("certPath", cfg.TLS.CertPath))
	}

	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if useTLS {
			logger.Info("HTTPS server listening", slog.String("addr", ln.Addr().String()))
			serveErr = httpServer.ServeTLS(ln, cfg.TLS.CertPath, cfg.TLS.KeyPath)
		} else {
			logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
			serveErr = httpServer.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("HTTP server error", slog.Any("error", err))
		core.Stop()
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", slog.Any("error", err))
	}
	core.Stop()
	logger.Info("Bridge stopped")
}
