// Command vaultd is a small development vault server implementing the
// AnonFS wire contract: JWT auth, per-user file listings, encrypted blob
// storage, and share grants. It is meant for local development and the
// end-to-end tests of the anonfs CLI, not for production use.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:8491", "listen address")
		dataDir = flag.String("data", "./vaultd-data", "blob storage directory")
		secret  = flag.String("secret", "", "JWT signing secret (hex); random when empty")
		verbose = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	key, err := signingKey(*secret)
	if err != nil {
		logger.Error("invalid signing secret", "error", err.Error())
		os.Exit(1)
	}

	store, err := newStore(*dataDir, key, logger)
	if err != nil {
		logger.Error("opening store", "error", err.Error())
		os.Exit(1)
	}

	srv := newServer(store, key, logger)

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("vaultd listening", slog.String("addr", *addr), slog.String("data", *dataDir))

	if err := httpSrv.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err.Error())
		os.Exit(1)
	}
}

// signingKey decodes the hex secret or generates a random 32-byte key.
// A random key means sessions do not survive restarts, which is fine
// for development.
func signingKey(secret string) ([]byte, error) {
	if secret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}

		return key, nil
	}

	key, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decoding secret: %w", err)
	}

	if len(key) < 16 {
		return nil, fmt.Errorf("secret too short: need at least 16 bytes, got %d", len(key))
	}

	return key, nil
}
