// ABOUTME: Local chat server for trying coven-chat without a backend
// ABOUTME: Usage: fake-chat-server [-addr 127.0.0.1:8080] [-secret S] [-token-for principal]

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
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/devserver"
	"github.com/2389/coven-chat/internal/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Listen address")
	secret := flag.String("secret", os.Getenv("COVEN_JWT_SECRET"), "HS256 secret; empty disables auth")
	tokenFor := flag.String("token-for", "", "Print a token for this principal and exit (requires -secret)")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -token-for")
	delay := flag.Duration("delay", 40*time.Millisecond, "Pause between streamed tokens")
	blocked := flag.String("moderate", "", "Messages containing this word are moderated")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	logger := logging.Setup(config.LoggingConfig{Level: *logLevel, Format: *logFormat}, os.Stderr)

	var verifier *auth.JWTVerifier
	if *secret != "" {
		v, err := auth.NewJWTVerifier([]byte(*secret))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		verifier = v
	}

	if *tokenFor != "" {
		if verifier == nil {
			fmt.Fprintln(os.Stderr, "Error: -token-for requires -secret")
			os.Exit(1)
		}
		token, err := verifier.Generate(*tokenFor, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := devserver.Config{
		Responder: devserver.EchoResponder(*delay, *blocked),
		Logger:    logger,
	}
	if verifier != nil {
		cfg.Verifier = verifier
	}

	if err := serve(ctx, *addr, devserver.New(cfg).Handler(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("fake chat server on http://%s\n", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
