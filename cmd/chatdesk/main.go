package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"ChatDesk/internal/chatbot"
	"ChatDesk/internal/config"
	"ChatDesk/internal/journal"
	"ChatDesk/internal/session"
	"ChatDesk/internal/telemetry"
)

type flags struct {
	configPath  string
	model       string
	baseURL     string
	journalPath string
	debug       bool
	noTelemetry bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:           "chatdesk",
		Short:         "Chat with an OpenAI-compatible completion service from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to a TOML config file (default ~/.config/chatdesk/config.toml)")
	cmd.Flags().StringVar(&f.model, "model", "", "Model identifier (default "+config.DefaultModel+")")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Completion API base URL")
	cmd.Flags().StringVar(&f.journalPath, "journal", "", "Record the transcript to this SQLite file")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&f.noTelemetry, "no-telemetry", false, "Disable trace and metric export")

	return cmd
}

func run(cmd *cobra.Command, f *flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = f.model
	}
	if cmd.Flags().Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if cmd.Flags().Changed("journal") {
		cfg.JournalPath = f.journalPath
	}
	if f.debug {
		cfg.Debug = true
	}
	if f.noTelemetry {
		cfg.Telemetry = false
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	opts := []chatbot.Option{chatbot.WithLogger(logger)}

	if cfg.Telemetry {
		tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
		if err != nil {
			return errors.Wrap(err, "failed to initialize telemetry")
		}
		defer cleanup()
		opts = append(opts, chatbot.WithTracer(tracer), chatbot.WithMeter(meter))
	}

	store := session.NewStore()
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return errors.Wrap(err, "failed to open journal")
		}
		defer j.Close()
		j.Attach(store)
	}
	opts = append(opts, chatbot.WithStore(store))

	bot, err := chatbot.NewChatBot(cfg, opts...)
	if err != nil {
		return errors.Wrap(err, "failed to initialize chatbot")
	}

	return bot.Run(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
