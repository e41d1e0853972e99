package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/supportchat. args are the arguments
// after the program name; the first selects the mode.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	if err := LoadDotEnv(); err != nil {
		return err
	}

	var arg string
	if len(args) > 0 {
		arg = args[0]
	}
	mode, err := ParseMode(arg)
	if err != nil {
		return err
	}

	cfg := LoadConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {
	case ModeDevServer:
		log := NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
		a, err := New(ctx, cfg, log)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	default:
		// Logs go to stderr so they do not interleave with the transcript.
		log := NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		return RunClient(ctx, cfg, log, os.Stdin, os.Stdout)
	}
}
