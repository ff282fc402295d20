package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/messaging/internal/api"
	"github.com/ignite/messaging/internal/app"
	"github.com/ignite/messaging/internal/auth"
	"github.com/ignite/messaging/internal/config"
	"github.com/ignite/messaging/internal/pkg/logger"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	cfgPath := "config/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	host, port := cfg.Server.GetHost(), cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open infrastructure: %v", err)
	}
	defer infra.Close()

	svc, err := app.NewServices(ctx, infra)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}

	resolver := auth.NewResolver(infra.Repo, cfg.Auth.AdminEmails)
	var (
		gate     auth.Gate
		sessions *auth.SessionGate
	)
	switch {
	case cfg.Auth.Enabled && cfg.Auth.GoogleClientID != "":
		sessions = auth.NewSessionGate(cfg.Auth, resolver)
		sessions.CleanupExpiredSessions(ctx, 15*time.Minute)
		gate = sessions
		logger.Info("google oauth enabled", "domain", cfg.Auth.AllowedDomain)
	case cfg.Server.DevMode:
		gate = auth.NewHeaderGate(resolver)
		logger.Warn("dev mode: trusting X-Auth-* headers")
	default:
		log.Fatal("no authentication configured: enable auth or set dev_mode")
	}

	var probes []api.Probe
	if infra.DB != nil {
		probes = append(probes, api.Probe{Name: "database", Critical: true, Slow: time.Second, Check: infra.DB.PingContext})
	}
	if infra.Redis != nil {
		rdb := infra.Redis
		probes = append(probes, api.Probe{Name: "redis", Slow: 500 * time.Millisecond, Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	handlers := &api.Handlers{
		Messages:       svc.Messages,
		Attachments:    svc.Attachments,
		Links:          svc.Links,
		Deletion:       svc.Deletion,
		Moderation:     svc.Moderation,
		Blocking:       svc.Blocking,
		Switch:         svc.Switch,
		Health:         api.NewHealthChecker(probes...),
		MaxUploadBytes: cfg.Messaging.MaxAttachmentBytes,
	}
	server := api.NewServer(cfg.Server, handlers, gate, sessions)

	addr := fmt.Sprintf("%s:%d", host, port)
	go func() {
		logger.Info("messaging server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err.Error())
	}
	cancel()
	svc.Notifier.Wait()
}
