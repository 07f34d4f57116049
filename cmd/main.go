package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"listing-dm/internal"
	"listing-dm/observability"
	"listing-dm/runtime"
	"listing-dm/runtime/workers"
	"listing-dm/search"
	"listing-dm/services"
	"listing-dm/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the daemon lifecycle, and
// centralizes error reporting, so every defer executes before the process
// exits and the wiring stays testable outside of main.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	observability.Register()

	// 2. Storage (BadgerDB + Bluge)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		log.Info("Closing Bluge index...")
		_ = blugeWriter.Close()
	}()

	// 3. Core wiring
	fanout := store.NewFanout()
	messageStore := store.NewBadgerStore(db, fanout, log, config.LocalUserID)
	profiles := store.NewProfileDirectory(db, log)
	listings := store.NewListingDirectory(db, log)
	index := search.NewIndex(log, blugeWriter)
	loop := runtime.NewLoop(log)

	svc, err := services.NewMessengerService(log, config.LocalUserID,
		messageStore, messageStore, profiles, listings, loop, index)
	if err != nil {
		return fmt.Errorf("messenger service failed to start: %w", err)
	}

	// 4. Supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		loop,
		workers.NewFeedPump(log, messageStore, messageStore, svc.Reconciler(), svc.OnTypingSignal),
		workers.NewTelemetryWorker(log),
		internal.NewOpsServer(log, db, config.Host, config.OpsPort),
	)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	log.Info("Messaging daemon started", "user", config.LocalUserID)

	// 6. Wait for Stop
	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	<-done
	log.Info("Program stopped cleanly")

	return nil
}
