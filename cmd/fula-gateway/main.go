// Package main is the entry point for the Fula local gateway, an
// S3-compatible server storing object data in a content-addressed block store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/functionland/fula-gateway/internal/auth"
	"github.com/functionland/fula-gateway/internal/blockstore"
	"github.com/functionland/fula-gateway/internal/boxprops"
	"github.com/functionland/fula-gateway/internal/bucket"
	"github.com/functionland/fula-gateway/internal/config"
	"github.com/functionland/fula-gateway/internal/logging"
	"github.com/functionland/fula-gateway/internal/metrics"
	"github.com/functionland/fula-gateway/internal/multipart"
	"github.com/functionland/fula-gateway/internal/server"
)

// shutdownTimeout bounds how long in-flight requests may run after a signal.
const shutdownTimeout = 10 * time.Second

// sweepInterval is how often expired multipart uploads are reaped.
const sweepInterval = 10 * time.Minute

func main() {
	configPath := flag.String("config", "fula-gateway.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	ipfsAPI := flag.String("ipfs-url", "", "override Kubo RPC API URL (default: from config or http://127.0.0.1:5001)")
	registryPath := flag.String("registry-cid-path", "", "override registry pointer file path")
	boxPropsPath := flag.String("box-props-file", "", "override box properties file path")
	ownerID := flag.String("owner-id", "", "override hashed owner namespace")
	bearerSecret := flag.String("bearer-secret", "", "override bearer pairing secret")
	maxBodySize := flag.Int64("max-body-size", 0, "maximum request body size in bytes (default: from config or 5368709120)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	debug := flag.Bool("debug", false, "enable debug logging (shorthand for --log-level debug)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file and environment values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *ipfsAPI != "" {
		cfg.IPFS.APIURL = *ipfsAPI
	}
	if *registryPath != "" {
		cfg.Registry.PointerPath = *registryPath
	}
	if *boxPropsPath != "" {
		cfg.Auth.BoxPropsPath = *boxPropsPath
	}
	if *ownerID != "" {
		cfg.Auth.OwnerID = *ownerID
	}
	if *bearerSecret != "" {
		cfg.Auth.BearerSecret = *bearerSecret
	}
	if *maxBodySize != 0 {
		cfg.Server.MaxBodySize = *maxBodySize
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	secret, owner := resolveIdentity(cfg)
	verifier := auth.NewVerifier(secret, owner)
	if secret == "" {
		slog.Warn("no pairing secret configured, all requests accepted under the local namespace")
	}

	store := selectBlockStore(cfg)
	buckets := bucket.NewManager(store, cfg.Registry.PointerPath)

	// Every startup is recovery: the registry is rebuilt from the pointer
	// file. A pointer that names an unreadable registry is fatal, because
	// starting fresh would orphan every bucket it references.
	pointer, err := buckets.ReadPointerFile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read registry pointer: %v\n", err)
		os.Exit(1)
	}
	users, err := buckets.LoadRegistry(context.Background())
	if err != nil {
		if pointer != "" {
			fmt.Fprintf(os.Stderr, "registry %s unreadable, refusing to start to prevent data loss: %v\n", pointer, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "failed to initialize registry: %v\n", err)
		os.Exit(1)
	}
	slog.Info("registry loaded", "users", users, "pointer", cfg.Registry.PointerPath)

	uploads := multipart.NewManager()

	srv := server.New(cfg, store, buckets, uploads, verifier)

	// Background workers stop with the root context.
	rootCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go buckets.Watch(rootCtx, bucket.DefaultWatchInterval)
	go sweepUploads(rootCtx, uploads, time.Duration(cfg.Multipart.ExpirySeconds)*time.Second)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("fula gateway listening", "addr", addr, "persistent_store", store.Persistent())
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
		cancelWorkers()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		slog.Info("server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// resolveIdentity derives the pairing secret and owner namespace. Explicit
// config (flags, env, YAML) wins; the box properties file fills in whatever
// is left. Box props problems are warnings, never fatal: an unpaired device
// still serves the local namespace.
func resolveIdentity(cfg *config.Config) (secret, owner string) {
	secret = cfg.Auth.BearerSecret
	owner = cfg.Auth.OwnerID
	if secret != "" && owner != "" {
		return secret, owner
	}

	props, err := boxprops.Load(cfg.Auth.BoxPropsPath)
	if err != nil {
		slog.Warn("box properties unavailable", "path", cfg.Auth.BoxPropsPath, "error", err)
		return secret, owner
	}

	if secret == "" {
		secret = props.AutoPinPairingSecret
	}
	if owner == "" && props.AutoPinToken != "" {
		sub, err := auth.TokenSubject(props.AutoPinToken)
		if err != nil {
			slog.Warn("could not extract owner from box properties token", "error", err)
		} else {
			owner = auth.HashUserID(sub)
			slog.Info("owner namespace derived from box properties", "namespace", owner)
		}
	}
	return secret, owner
}

// selectBlockStore probes the configured Kubo node and falls back to the
// in-memory store when it is unreachable.
func selectBlockStore(cfg *config.Config) blockstore.BlockStore {
	ipfs := blockstore.NewIPFSStore(cfg.IPFS.APIURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ipfs.Ping(ctx); err != nil {
		slog.Warn("IPFS node unreachable, falling back to in-memory block store; data will not survive a restart",
			"api_url", cfg.IPFS.APIURL, "error", err)
		return blockstore.NewMemoryStore()
	}
	slog.Info("connected to IPFS node", "api_url", cfg.IPFS.APIURL)
	return ipfs
}

// sweepUploads periodically drops multipart uploads older than maxAge.
func sweepUploads(ctx context.Context, uploads *multipart.Manager, maxAge time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := uploads.Sweep(maxAge); n > 0 {
				slog.Info("swept expired multipart uploads", "count", n)
			}
		}
	}
}
