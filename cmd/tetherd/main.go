package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tether/sync/internal/cipher"
	"tether/sync/internal/config"
	"tether/sync/internal/engine"
	"tether/sync/internal/notify"
	"tether/sync/internal/queue"
	"tether/sync/internal/resolver"
	"tether/sync/internal/storage"
	"tether/sync/internal/transport"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if cfg.PartyID == "" {
		log.Fatal("TETHER_PARTY_ID is required")
	}
	if cfg.Passphrase == "" {
		log.Fatal("TETHER_PASSPHRASE is required")
	}
	if cfg.RelayURL == "" {
		log.Fatal("TETHER_RELAY_URL is required")
	}

	box, err := cipher.NewSecretBox(cipher.KeyFromPassphrase(cfg.Passphrase))
	if err != nil {
		log.Fatalf("cipher setup failed: %v", err)
	}

	var store storage.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		log.Printf("Using PostgreSQL for sync state")
		store, err = storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
	} else {
		log.Printf("Using Redis for sync state")
		store, err = storage.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
	}
	defer store.Close()

	logger := log.New(os.Stderr, "[tetherd] ", log.LstdFlags)

	dialCtx, cancelDial := context.WithTimeout(ctx, 15*time.Second)
	trans, err := transport.DialWS(dialCtx, cfg.RelayURL, cfg.PartyID, logger)
	cancelDial()
	if err != nil {
		log.Fatalf("relay connection failed: %v", err)
	}
	defer trans.Close()

	var notifier notify.Notifier
	smtpNotifier := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		To:       splitList(cfg.SMTPTo),
	}, logger)
	if smtpNotifier.IsConfigured() {
		log.Printf("Using SMTP for notifications")
		notifier = smtpNotifier
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	eng, err := engine.New(engine.Config{
		SelfID:           cfg.PartyID,
		Strategy:         resolver.Strategy(cfg.Strategy),
		TickInterval:     cfg.TickInterval,
		DrainBatch:       cfg.DrainBatch,
		SweepInterval:    cfg.SweepInterval,
		HistoryRetention: cfg.HistoryRetention,
		HistoryLimit:     cfg.HistoryLimit,
		Queue: queue.Config{
			Capacity:             cfg.QueueCapacity,
			BaseRetryDelay:       cfg.BaseRetryDelay,
			MaxRetryDelay:        cfg.MaxRetryDelay,
			MaxAttempts:          cfg.MaxAttempts,
			EmergencyMaxAttempts: cfg.EmergencyMaxAttempts,
		},
	}, engine.Deps{
		Storage:   store,
		Transport: trans,
		Cipher:    box,
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("engine setup failed: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine start failed: %v", err)
	}
	log.Printf("Tether sync running as %s via %s", cfg.PartyID, cfg.RelayURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := eng.Stop(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
