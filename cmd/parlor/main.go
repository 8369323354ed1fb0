// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Command parlor bridges a single Matrix room to a browser-facing
// real-time interface: encrypted credential vault, session state
// machine, bounded history fan-out, and a small HTTP API with SSE and
// WebSocket live streams.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/parlor-chat/parlor/gateway"
	"github.com/parlor-chat/parlor/hub"
	"github.com/parlor-chat/parlor/lib/config"
	"github.com/parlor-chat/parlor/lib/secret"
	"github.com/parlor-chat/parlor/lib/version"
	"github.com/parlor-chat/parlor/messaging"
	"github.com/parlor-chat/parlor/session"
	"github.com/parlor-chat/parlor/vault"
	"github.com/parlor-chat/parlor/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("parlor", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to the YAML configuration file (default: $PARLOR_CONFIG)")
	passphraseFile := flagSet.String("passphrase-file", "", `unlock the vault at startup with the passphrase from this file ("-" for stdin)`)
	promptPassphrase := flagSet.Bool("prompt-passphrase", false, "prompt for the vault passphrase at startup")
	verbose := flagSet.BoolP("verbose", "v", false, "enable debug logging")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if *showVersion {
		version.Print("parlor")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if *configPath == "" {
		*configPath = os.Getenv("PARLOR_CONFIG")
	}
	if *configPath == "" {
		return fmt.Errorf("no configuration file: pass --config or set PARLOR_CONFIG")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	machine, err := session.NewMachine(session.Config{
		Client:       client,
		Room:         cfg.Room,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	credentialVault := vault.New(cfg.VaultPath, logger)
	eventHub := hub.New(hub.Options{
		HistoryLimit: cfg.HistoryLimit,
		QueueSize:    cfg.QueueSize,
		Logger:       logger,
	})
	sendGateway := gateway.New(machine, logger)

	server := web.NewServer(web.Config{
		Vault:      credentialVault,
		Machine:    machine,
		Hub:        eventHub,
		Gateway:    sendGateway,
		Username:   cfg.Username,
		AuthHeader: cfg.Web.AuthHeader,
		AuthValue:  cfg.Web.AuthValue,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *passphraseFile != "" || *promptPassphrase {
		if err := unlockAtBoot(ctx, *passphraseFile, credentialVault, machine, eventHub, logger); err != nil {
			return err
		}
	} else if !credentialVault.Exists() {
		logger.Info("vault is empty; waiting for first login through the web interface")
	}

	httpServer := &http.Server{
		Addr:              cfg.Web.ListenAddr(),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErrs:
		return fmt.Errorf("web server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("web server shutdown", "error", err)
	}
	if err := machine.Stop(shutdownCtx); err != nil {
		logger.Warn("session stop", "error", err)
	}
	return nil
}

// unlockAtBoot unlocks the vault with a passphrase from a file or an
// interactive prompt and starts the session immediately, instead of
// waiting for a login through the web interface. Requires a vault that
// has already been sealed.
func unlockAtBoot(ctx context.Context, passphraseFile string, credentialVault *vault.Vault, machine *session.Machine, eventHub *hub.Hub, logger *slog.Logger) error {
	if !credentialVault.Exists() {
		return fmt.Errorf("vault %s has no record yet: log in through the web interface first", credentialVault.Path())
	}

	var passphrase *secret.Buffer
	var err error
	if passphraseFile != "" {
		passphrase, err = secret.ReadFromPath(passphraseFile)
	} else {
		passphrase, err = readPassphrase()
	}
	if err != nil {
		return err
	}
	defer passphrase.Close()

	username, password, err := credentialVault.UnlockCredentials(passphrase)
	if err != nil {
		return err
	}
	defer password.Close()

	if err := machine.Start(ctx, username, password); err != nil {
		return err
	}
	go eventHub.Pump(machine.Events())
	logger.Info("session started from vault", "username", username)
	return nil
}

// readPassphrase prompts on the controlling terminal with echo off.
func readPassphrase() (*secret.Buffer, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("stdin is not a terminal: use --passphrase-file instead")
	}
	fmt.Fprint(os.Stderr, "Vault passphrase: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return secret.NewFromBytes(raw)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Print(`parlor - bridge a Matrix room to a browser-facing live interface

USAGE
    parlor --config <path> [flags]

FLAGS
`)
	fmt.Print(flagSet.FlagUsages())
	fmt.Print(`
The configuration file path may also come from the PARLOR_CONFIG
environment variable. Without --passphrase-file or
--prompt-passphrase, the session starts when someone unlocks the
vault through POST /api/login.
`)
}
