package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/hashbench/internal/observability"
	"github.com/user/hashbench/internal/server"
	"github.com/user/hashbench/internal/store"
)

var (
	serveBind        string
	serveIndexBits   int
	serveDataDir     string
	serveNoSync      bool
	serveOtelEnabled bool
	serveOtelURL     string
	shutdownTimeout  = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reference hash sink server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveBind, "bind", "localhost:3427", "HTTP bind address")
	serveCmd.Flags().IntVar(&serveIndexBits, "index-bits", store.DefaultIndexBits, "Bucket index size in bits (1-24)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Persist records under this directory (pebble); empty for in-memory")
	serveCmd.Flags().BoolVar(&serveNoSync, "nosync", true, "Skip fsync on record writes (persistent mode)")
	serveCmd.Flags().BoolVar(&serveOtelEnabled, "otel", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().StringVar(&serveOtelURL, "otel-endpoint", "", "OTLP/HTTP endpoint (empty = stdout exporter)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	slog.Info("starting hash sink",
		"bind", serveBind,
		"index_bits", serveIndexBits,
		"data_dir", serveDataDir,
		"nosync", serveNoSync,
		"otel_enabled", serveOtelEnabled,
	)

	otelShutdown, err := observability.InitTracer(serveOtelEnabled, "hashbench-sink", serveOtelURL)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown error", "error", err)
		}
	}()

	cfg := store.Config{IndexBits: serveIndexBits}
	var st *store.Store
	if serveDataDir != "" {
		st, err = store.OpenPersistent(cfg, serveDataDir, serveNoSync)
	} else {
		st, err = store.New(cfg)
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("store close error", "error", err)
		}
	}()

	srv := server.New(st, serveBind)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case s := <-sig:
		slog.Info("shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
