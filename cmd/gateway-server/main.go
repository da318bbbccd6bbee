// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Command gateway-server runs the privacy gateway: it terminates TLS
// WebSocket connections, drives each one through the engine's
// handshake and steady-state loop, and serves Prometheus metrics over
// a separate HTTP listener.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aeronyx/privacy-gateway/auth"
	"github.com/aeronyx/privacy-gateway/config"
	"github.com/aeronyx/privacy-gateway/engine"
	"github.com/aeronyx/privacy-gateway/gwcrypto"
	"github.com/aeronyx/privacy-gateway/internal/logger"
	"github.com/aeronyx/privacy-gateway/internal/metrics"
	"github.com/aeronyx/privacy-gateway/ippool"
	"github.com/aeronyx/privacy-gateway/router"
	"github.com/aeronyx/privacy-gateway/serverstate"
	"github.com/aeronyx/privacy-gateway/session"
	"github.com/aeronyx/privacy-gateway/transport"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "gateway-server",
	Short: "Privacy gateway CLI - runs and inspects the session gateway",
	Long: `gateway-server terminates TLS WebSocket connections, authenticates
clients with an Ed25519 challenge, leases an IP from a CIDR pool, and
drives each session through its steady-state data loop until it
disconnects or the server shuts down.`,
}

func main() {
	// Best-effort: a missing .env is the common case outside local dev.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory containing environment config files")
	rootCmd.AddCommand(runCmd, validateConfigCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway and block until it is signaled to stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runGateway(cfg)
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load configuration and report validation issues without starting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir, SkipValidation: true})
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		issues := config.Validate(cfg)
		if len(issues) == 0 {
			fmt.Println("configuration OK")
			return nil
		}
		for _, issue := range issues {
			fmt.Printf("[%s] %s: %s\n", issue.Level, issue.Field, issue.Message)
		}
		return nil
	},
}

func runGateway(cfg *config.Config) error {
	level := parseLevel(cfg.Logging.Level)
	log := logger.NewLogger(os.Stdout, level)
	logger.SetDefaultLogger(log)

	keys, err := serverKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("build key store: %w", err)
	}

	acl := auth.NewMemoryACL(cfg.Auth.ACLDefaultAllow)
	authenticator := auth.NewAuthenticator(cfg.Auth.ChallengeTTL, acl)
	defer authenticator.Close()

	pool, err := ippool.NewMemoryPool(cfg.IPPool.CIDR, cfg.IPPool.LeaseDuration)
	if err != nil {
		return fmt.Errorf("build ip pool: %w", err)
	}

	monitor := metrics.NewNetworkMonitor()
	tracker := serverstate.NewAtomicTracker()
	tracker.Set(serverstate.Starting)

	deps := engine.Deps{
		Keys:              keys,
		SessionKeys:       session.NewMemoryKeyStore(),
		IPPool:            pool,
		Router:            router.NewLoopbackRouter(monitor),
		Monitor:           monitor,
		Metrics:           metrics.NewGatewayMetrics(),
		State:             tracker,
		Authenticator:     authenticator,
		Registry:          session.NewRegistry(),
		HandshakeTimeout:  cfg.Handshake.Timeout,
		HeartbeatInterval: cfg.Handshake.HeartbeatInterval,
		RotationInterval:  cfg.Handshake.RotationInterval,
		RotationThreshold: cfg.Handshake.RotationThreshold,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSrv := startMetricsServer(cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", logger.Error(err))
		}
	}()

	tlsConfig, err := loadTLSConfig(cfg)
	if err != nil {
		return fmt.Errorf("load tls config: %w", err)
	}
	listener := transport.NewListener(cfg.Transport.ListenAddr, cfg.Transport.Path, tlsConfig)

	tracker.Set(serverstate.Running)
	logger.Info("gateway listening",
		logger.String("addr", cfg.Transport.ListenAddr),
		logger.String("path", cfg.Transport.Path),
		logger.String("ip_pool", cfg.IPPool.CIDR),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listener.Serve(func(remote net.Addr, conn *transport.Conn) {
			go func() {
				peerAddr := ""
				if remote != nil {
					peerAddr = remote.String()
				}
				if err := engine.Run(ctx, conn, peerAddr, deps); err != nil {
					logger.Warn("session ended", logger.String("peer", peerAddr), logger.Error(err))
				}
			}()
		})
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.ErrorMsg("listener stopped", logger.Error(err))
		}
	}

	tracker.Set(serverstate.Stopping)
	if err := listener.Close(); err != nil {
		logger.Warn("listener close", logger.Error(err))
	}
	return nil
}

func serverKeyStore(cfg *config.Config) (*gwcrypto.ServerKeyStore, error) {
	if cfg.Auth.ServerKeySeed != "" {
		return gwcrypto.NewServerKeyStoreFromSeed([]byte(cfg.Auth.ServerKeySeed))
	}
	return gwcrypto.NewServerKeyStore()
}

func loadTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if cfg.Transport.CertFile == "" || cfg.Transport.KeyFile == "" {
		return nil, fmt.Errorf("transport.cert_file and transport.key_file must both be set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.Transport.CertFile, cfg.Transport.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func startMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	srv := &http.Server{
		Addr:              cfg.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if !cfg.Metrics.Enabled {
			return
		}
		logger.Info("metrics listening", logger.String("addr", cfg.Metrics.ListenAddr), logger.String("path", cfg.Metrics.Path))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorMsg("metrics server error", logger.Error(err))
		}
	}()

	return srv
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
