package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/possuite/possync/internal/auth"
	"github.com/possuite/possync/internal/config"
	"github.com/possuite/possync/internal/cursor"
	"github.com/possuite/possync/internal/identity"
	"github.com/possuite/possync/internal/logger"
	"github.com/possuite/possync/internal/model"
	"github.com/possuite/possync/internal/outbox"
	"github.com/possuite/possync/internal/resolver"
	"github.com/possuite/possync/internal/syncer"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewNamed("terminal")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// terminal-local database: one sqlite file per counter
	gdb, err := gorm.Open(sqlite.Open(cfg.Terminal.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("open terminal db: %v", err)
	}
	if err := gdb.AutoMigrate(
		&model.Party{}, &model.Account{}, &model.PartyLedger{}, &model.PartyBalance{},
		&model.InventoryItem{}, &model.SalesInvoice{},
		&model.OutboxRecord{}, &model.SyncCursor{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	var ident identity.Provider = identity.FileProvider{Path: cfg.Terminal.IDFile}
	if cfg.Terminal.ID != "" {
		ident = identity.Static(cfg.Terminal.ID)
	}
	terminalID, err := ident.TerminalID()
	if err != nil {
		log.Fatalf("terminal identity: %v", err)
	}

	ob := outbox.New(gdb, log)
	curs := cursor.NewStore(gdb, log)
	res := resolver.New(gdb, log)
	hub := syncer.NewHTTPHub(cfg.Terminal.HubURL, 15*time.Second)

	client := syncer.New(syncer.Config{
		TerminalID: terminalID,
		Interval:   time.Duration(cfg.Terminal.SyncIntervalSec) * time.Second,
		BackoffCap: time.Duration(cfg.Terminal.BackoffCapSec) * time.Second,
		BatchLimit: cfg.Terminal.BatchLimit,
	}, ob, curs, res, hub, auth.AllowAll{}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP nudges a cycle without waiting for the next tick, e.g. after an
	// operator restores connectivity
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			log.Info("sync nudge requested")
			client.Trigger()
		}
	}()

	log.Infof("terminal %s sync agent started", terminalID)
	client.RunLoop(ctx)
}
