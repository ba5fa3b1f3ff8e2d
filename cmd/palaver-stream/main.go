// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

// palaver-stream tails a homeserver's streaming sync feed from the
// terminal. It opens one streaming sync connection and prints each
// delivered payload as a JSON line on stdout, for watching a live
// account or debugging a server's MSC2108 implementation.
//
// The access token comes from the PALAVER_TOKEN environment variable
// so it never appears in process listings.
//
//	PALAVER_TOKEN=syt-... palaver-stream --homeserver https://matrix.example.org
//
// On interrupt the stream is cancelled cleanly and the final cursor is
// printed to stderr; pass it back with --resume to continue where the
// previous run stopped.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/palaver-im/palaver/lib/ref"
	"github.com/palaver-im/palaver/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "palaver-stream: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var homeserverURL string
	var userIDFlag string
	var resumeFrom string
	var filter string
	var verbose bool

	flagSet := pflag.NewFlagSet("palaver-stream", pflag.ContinueOnError)
	flagSet.StringVar(&homeserverURL, "homeserver", "", "homeserver base URL (required)")
	flagSet.StringVar(&userIDFlag, "user", "", "user ID the token belongs to (optional; resolved via whoami when omitted)")
	flagSet.StringVar(&resumeFrom, "resume", "", "cursor from a previous run to resume from")
	flagSet.StringVar(&filter, "filter", "", "server-side filter ID or inline JSON filter")
	flagSet.BoolVar(&verbose, "verbose", false, "log connection lifecycle to stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if homeserverURL == "" {
		return fmt.Errorf("--homeserver is required")
	}
	accessToken := os.Getenv("PALAVER_TOKEN")
	if accessToken == "" {
		return fmt.Errorf("PALAVER_TOKEN environment variable is not set")
	}

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserverURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	var userID ref.UserID
	if userIDFlag != "" {
		userID, err = ref.ParseUserID(userIDFlag)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
	}
	session := client.SessionFromToken(userID, accessToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if userID.IsZero() {
		if _, err := session.WhoAmI(ctx); err != nil {
			return fmt.Errorf("verifying token: %w", err)
		}
	}

	supported, err := session.SupportsStreamingSync(ctx)
	if err != nil {
		return fmt.Errorf("probing streaming sync support: %w", err)
	}
	if !supported {
		return fmt.Errorf("homeserver %s does not support streaming sync", homeserverURL)
	}

	encoder := json.NewEncoder(os.Stdout)
	// The stream gets its own context: only Cancel tears it down, so
	// an interrupt is reported as a clean stop rather than a
	// connection error.
	stream, err := session.OpenStream(context.Background(), messaging.StreamOptions{
		ResumeFrom: resumeFrom,
		Filter:     filter,
	}, func(event messaging.StreamEvent) {
		if err := encoder.Encode(event.Payload); err != nil {
			logger.Error("writing payload to stdout", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}

	// First interrupt: restore default signal handling, then cancel
	// the stream and let it wind down. A second interrupt (or a wedged
	// connection during the wind-down) kills the process outright.
	go func() {
		<-ctx.Done()
		stop()
		stream.Cancel()
	}()

	joinErr := stream.Join(context.Background())
	if cursor := stream.Cursor(); cursor != "" {
		fmt.Fprintf(os.Stderr, "palaver-stream: stopped at cursor %s (pass --resume to continue)\n", cursor)
	}
	return joinErr
}
