package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/config"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/functions"
)

// runEmulatorCmd implements `gpw emulator`: the two token functions served
// over the configured store, for local development against the client.
func runEmulatorCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("emulator", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var addr, signingKey string
	cmd.StringVar(&addr, "addr", ":5001", "Listen address")
	cmd.StringVar(&signingKey, "signing-key", os.Getenv("GPW_EMULATOR_SIGNING_KEY"), "HS256 key for verifying ID tokens (empty accepts any bearer token)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: store: %v\n", err)
		return 1
	}
	defer closeStore()

	handler := functions.NewHandler(records)
	if signingKey != "" {
		handler.WithSigningKey([]byte(signingKey))
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	_, _ = fmt.Fprintf(stdout, "Serving token functions on %s (store: %s)\n", addr, cfg.Store)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return 0
}
