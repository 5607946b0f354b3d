package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"tcp-chat/contract"
	"tcp-chat/domain/event"
	grpcserver "tcp-chat/infrastructure/grpc/server"
	"tcp-chat/internal"
	"tcp-chat/moderation"
	"tcp-chat/observability"
	"tcp-chat/repositories"
	"tcp-chat/runtime"
	"tcp-chat/runtime/workers"
	"tcp-chat/server"
	"tcp-chat/sink"
)

// Exit codes for the server.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a fatal listener error.
// Returning instead of exiting lets the deferred cleanups run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := observability.NewStats()
	events := make(chan event.DomainEvent, config.EventBufferSize)
	opts := []server.Option{
		server.WithStats(stats),
		server.WithEvents(events),
		server.WithIdleTimeout(config.IdleTimeout),
		server.WithWriteTimeout(config.WriteTimeout),
	}

	// 3. Optional moderation
	if config.CensoredDir != "" {
		moderator, err := newModerator(config, log)
		if err != nil {
			return exitConfig, err
		}
		opts = append(opts, server.WithContentFilter(moderator))
	}

	// 4. Optional transcript & search index
	var sinks []contract.EventSink
	if config.TranscriptPath != "" {
		db, err := badger.Open(badger.DefaultOptions(config.TranscriptPath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return exitRuntime, fmt.Errorf("database opening failed: %w", err)
		}
		defer func() {
			log.Info("Closing BadgerDB...")
			_ = db.Close()
		}()
		repository := repositories.NewTranscriptRepository(db, log, config.LimitMessages)

		var indexer sink.Indexer
		if config.IndexPath != "" {
			writer, err := bluge.OpenWriter(bluge.DefaultConfig(config.IndexPath))
			if err != nil {
				return exitRuntime, fmt.Errorf("index opening failed: %w", err)
			}
			defer func() {
				log.Info("Closing search index...")
				_ = writer.Close()
			}()
			indexer = repositories.NewTranscriptIndex(writer, log)
		}
		sinks = append(sinks, sink.NewTranscriptSink(repository, indexer, log))
	}

	// 5. Background workers
	sup := workers.NewSupervisor(log, config.RestartInterval).Add(
		workers.NewEventFanout(log, events, config.SinkTimeout, sinks...),
		workers.NewStatsWorker(log, stats, config.StatsInterval),
	)
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()
	defer func() {
		sup.Stop()
		<-supDone
	}()

	// 6. Chat listener
	listener, err := net.Listen("tcp", config.Address())
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", config.Address(), err)
	}

	// 7. Optional admin health endpoint, SERVING once the accept loop runs
	var health *grpcserver.HealthServer
	errChan := make(chan error, 2)
	if config.AdminPort > 0 {
		adminAddress := fmt.Sprintf("%s:%d", config.Host, config.AdminPort)
		adminListener, err := net.Listen("tcp", adminAddress)
		if err != nil {
			_ = listener.Close()
			return exitRuntime, fmt.Errorf("failed to listen on %s: %w", adminAddress, err)
		}
		health = grpcserver.NewHealthServer(log)
		go func() {
			if err := health.Serve(adminListener); err != nil {
				errChan <- fmt.Errorf("health server error: %w", err)
			}
		}()
		opts = append(opts, server.WithOnServing(func() { health.SetServing(true) }))
	}
	chat := server.NewServer(log, config.BufferSize, opts...)

	go func() {
		if err := chat.Serve(ctx, listener); err != nil {
			errChan <- fmt.Errorf("chat server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case runErr = <-errChan:
		log.Error("Server failure", "error", runErr)
	}

	// 9. Final Cleanup
	if health != nil {
		health.SetServing(false)
		health.Stop()
	}
	if err := chat.Shutdown(config.ShutdownTimeout); err != nil {
		log.Warn("Peers still running after shutdown timeout", "error", err)
	}
	if runErr != nil {
		return exitRuntime, runErr
	}
	log.Info("Program stopped cleanly")
	return exitOK, nil
}

func newModerator(config internal.Config, log *slog.Logger) (*moderation.Moderator, error) {
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	data, err := runtime.NewCensoredLoader(os.DirFS(config.CensoredDir)).LoadAll(".")
	if err != nil {
		return nil, fmt.Errorf("loading censored words from %s: %w", config.CensoredDir, err)
	}
	log.Info("Censored words loaded", "count", len(data.Words), "languages", data.Languages)
	return moderation.NewModerator(data.Words, char, log)
}
