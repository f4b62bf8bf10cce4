package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	mode := "tui"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		mode = args[0]
		args = args[1:]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var err error
	switch mode {
	case "tui":
		err = runTUIMode(ctx, args)
	case "mockapi":
		err = runMockAPIMode(ctx, args)
	case "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", mode)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: explorer [mode] [options]

Modes:
  tui       Run the terminal client (default)
  mockapi   Serve an in-memory fake of the explorer API

Run 'explorer <mode> -h' for mode-specific options.
`)
}

func runTUIMode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	opts := &TUIOptions{}
	fs.StringVar(&opts.ConfigPath, "config", "", "YAML config file; EXPLORER_* variables override it")
	fs.StringVar(&opts.LogPath, "log", "", "Write logs to this file instead of discarding them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return RunTUI(ctx, opts)
}

func runMockAPIMode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mockapi", flag.ExitOnError)
	opts := &MockAPIOptions{}
	fs.StringVar(&opts.ListenAddr, "listen", "127.0.0.1:8000", "Address to listen on")
	fs.StringVar(&opts.Secret, "secret", "", "Token signing secret; empty generates one")
	fs.DurationVar(&opts.TokenTTL, "ttl", 0, "Token lifetime (default 30m)")
	fs.StringVar(&opts.Users, "users", "", `Comma separated username:password pairs to seed, e.g. "alice:secret123"`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return RunMockAPI(ctx, opts)
}
