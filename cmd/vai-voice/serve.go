package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
)

type serveDeps struct {
	loadConfig   func(path string) (config.Config, error)
	loadDotenv   func() error
	listen       func(*http.Server) error
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig: config.Load,
		loadDotenv: func() error {
			err := godotenv.Load()
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		},
		listen: (*http.Server).ListenAndServe,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

type serveOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newServeCommand(deps serveDeps) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice session server",
		Long: `Run the voice session server.

Configuration comes from VAI_VOICE_* environment variables layered over an
optional YAML file (--config or VAI_VOICE_CONFIG). A .env file in the working
directory is loaded first if present.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), opts, logger, deps)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML config file (default $"+config.FileEnv+")")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	return cmd
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
}

func runServe(ctx context.Context, opts serveOptions, logger *slog.Logger, deps serveDeps) error {
	if deps.loadConfig == nil || deps.listen == nil {
		return errors.New("missing serve dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if deps.loadDotenv != nil {
		if err := deps.loadDotenv(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	path := opts.configPath
	if path == "" {
		path = os.Getenv(config.FileEnv)
	}
	cfg, err := deps.loadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	httpSrv := a.gateway.HTTPServer()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	logger.Info("starting vai-voice",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"stt_provider", cfg.STTProvider,
		"tts_provider", cfg.TTSProvider,
		"version", version,
	)

	g, gctx := errgroup.WithContext(ctx)
	reapCtx, stopReaper := context.WithCancel(gctx)
	defer stopReaper()

	g.Go(func() error {
		if err := deps.listen(httpSrv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.sessions.ReapEvery(reapCtx, cfg.ReapInterval)
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
		}
		defer stopReaper()
		return a.shutdown(httpSrv)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("vai-voice stopped")
	return nil
}
