package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kardianos/explorer"
	"github.com/kardianos/explorer/internal/tui"
	"github.com/kardianos/explorer/xconfig"
	"github.com/kardianos/explorer/xtrace"
)

// TUIOptions configures the tui mode.
type TUIOptions struct {
	ConfigPath string
	LogPath    string
}

// RunTUI runs the terminal client until the user quits or ctx is cancelled.
func RunTUI(ctx context.Context, opts *TUIOptions) error {
	cfg, err := xconfig.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()

	var w io.Writer = io.Discard
	if opts.LogPath != "" {
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		w = f
	}
	log := explorer.NewLogger(w, level)
	slog.SetDefault(log)

	shutdown, err := xtrace.Setup(ctx, "explorer", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdown(context.Background())

	client, err := explorer.NewClient(ctx, explorer.ClientOpt{Config: cfg, Logger: log})
	if err != nil {
		return err
	}
	defer client.Close()

	model := tui.New(ctx, client)
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
