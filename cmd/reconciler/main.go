// Command reconciler retries reclamation of blobs whose delete failed and
// were recorded in the orphan ledger. It runs one pass, or loops with
// -every.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/messaging/internal/app"
	"github.com/ignite/messaging/internal/config"
	"github.com/ignite/messaging/internal/pkg/logger"
)

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "config file")
	limit := flag.Int("limit", 500, "ledger entries per pass")
	every := flag.Duration("every", 0, "repeat interval; 0 runs once")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open infrastructure: %v", err)
	}
	defer infra.Close()
	if cfg.Storage.OrphanLedgerTable == "" {
		logger.Warn("orphan_ledger_table not set, nothing to reconcile")
		return
	}

	svc, err := app.NewServices(ctx, infra)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}

	for {
		rep, err := svc.Attachments.ReconcileOrphans(ctx, *limit)
		if err != nil {
			logger.Error("reconcile pass failed", "error", err.Error())
		} else {
			logger.Info("reconcile pass done",
				"checked", rep.Checked, "deleted", rep.Deleted,
				"still_referenced", rep.StillReferenced, "failed", rep.Failed)
		}
		if *every <= 0 {
			if err != nil {
				os.Exit(1)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*every):
		}
	}
}
