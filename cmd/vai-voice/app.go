package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/core/agent"
	"github.com/vango-go/vai-voice/pkg/core/contextwin"
	"github.com/vango-go/vai-voice/pkg/core/events"
	"github.com/vango-go/vai-voice/pkg/core/resilience"
	"github.com/vango-go/vai-voice/pkg/core/session"
	"github.com/vango-go/vai-voice/pkg/core/tasks"
	"github.com/vango-go/vai-voice/pkg/core/voice/stt"
	"github.com/vango-go/vai-voice/pkg/core/voice/tts"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-voice/pkg/gateway/server"
)

// finalWait bounds how long canceled sessions get to publish session_ended.
const finalWait = 5 * time.Second

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	guards   *resilience.Set
	emitter  *events.Emitter
	sessions *session.Manager
	gateway  *gatewayserver.Server
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}

	guards := resilience.NewSet(
		resilience.RetryPolicy{
			MaxRetries: cfg.RetryMax,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
		},
		resilience.BreakerConfig{
			ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
			FailureRate:         cfg.BreakerFailureRate,
			Window:              cfg.BreakerWindow,
			MinRequests:         cfg.BreakerMinRequests,
			Cooldown:            cfg.BreakerCooldown,
		},
		nil,
		logger,
	)
	emitter := events.NewEmitter(logger)

	transcriber, err := buildTranscriber(cfg, guards, logger)
	if err != nil {
		return nil, err
	}
	speaker, err := buildSpeaker(cfg, guards, logger)
	if err != nil {
		return nil, err
	}

	toolbox := tasks.NewToolbox()
	tasks.RegisterBuiltins(toolbox, cfg.ToolLatency)

	agents, err := buildAgents(ctx, cfg, toolbox)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(session.Config{
		ConfidenceThreshold: session.Threshold(cfg.ConfidenceThreshold),
		InactivityPrompt:    cfg.InactivityPrompt,
		InactivityTimeout:   cfg.InactivityTimeout,
		MaxDuration:         cfg.MaxSessionDuration,
		Retention:           cfg.SessionRetention,
		ContextWindow:       cfg.ContextMaxTurns,
		Tasks: tasks.Config{
			QueueDepth:    cfg.TaskQueueDepth,
			MaxConcurrent: cfg.TaskMaxConcurrent,
		},
	}, session.Dependencies{
		Logger:      logger,
		Emitter:     emitter,
		Context:     contextwin.NewManager(cfg.ContextMaxTurns, cfg.ContextMaxTokens),
		Agents:      agents,
		Toolbox:     toolbox,
		Guards:      guards,
		Transcriber: transcriber,
		Speaker:     speaker,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		guards:   guards,
		emitter:  emitter,
		sessions: sessions,
		gateway: gatewayserver.New(cfg, logger, gatewayserver.Deps{
			Sessions: sessions,
			Guards:   guards,
			Emitter:  emitter,
		}),
	}, nil
}

func buildTranscriber(cfg config.Config, guards *resilience.Set, logger *slog.Logger) (*stt.Transcriber, error) {
	var provider stt.Provider
	switch cfg.STTProvider {
	case config.STTLoopback:
		provider = stt.NewLoopback()
	case config.STTCartesia:
		provider = stt.NewCartesia(cfg.CartesiaAPIKey)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.STTProvider)
	}
	return stt.NewTranscriber(provider, guards.Get("stt"), stt.StreamOptions{
		Model:      cfg.STTModel,
		Language:   cfg.STTLanguage,
		Format:     cfg.STTStreamFormat(),
		SampleRate: cfg.STTSampleRate,
	}, logger), nil
}

// buildSpeaker returns nil for tts_provider=none; sessions then reply with
// text only.
func buildSpeaker(cfg config.Config, guards *resilience.Set, logger *slog.Logger) (*tts.Speaker, error) {
	var provider tts.Provider
	switch cfg.TTSProvider {
	case config.TTSNone:
		return nil, nil
	case config.TTSTone:
		provider = tts.NewTone()
	case config.TTSCartesia:
		provider = tts.NewCartesia(cfg.CartesiaAPIKey)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTSProvider)
	}
	return tts.NewSpeaker(provider, guards.Get("tts"), tts.Options{
		Voice:      cfg.TTSVoice,
		Language:   cfg.STTLanguage,
		SampleRate: cfg.TTSSampleRate,
	}, logger), nil
}

// buildAgents registers the scripted strategy, then the Gemini-backed one
// when a key is configured. The model strategy accepts every utterance, so
// it becomes the default in place of echo.
func buildAgents(ctx context.Context, cfg config.Config, toolbox *tasks.Toolbox) (*agent.Registry, error) {
	reg := agent.NewRegistry()

	script, err := agent.LoadScript(cfg.AgentRulesFile)
	if err != nil {
		return nil, fmt.Errorf("load agent rules: %w", err)
	}
	if err := reg.Register(agent.NewScripted(script)); err != nil {
		return nil, err
	}

	if cfg.GeminiAPIKey == "" {
		return reg, nil
	}
	gen, err := agent.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}
	model := agent.NewModel(agent.Profile{
		Name:         "gemini",
		Version:      "1",
		Purpose:      "general assistant; plans tool calls for requests the scripted rules do not cover",
		AllowedTools: toolbox.Names(),
	}, gen)
	if err := reg.Register(model); err != nil {
		return nil, err
	}
	if err := reg.SetDefault(model.Name()); err != nil {
		return nil, err
	}
	return reg, nil
}

// shutdown drains the process: refuse new sessions, warn live ones, stop the
// listener, give sessions the grace period to finish and end the rest.
func (a *app) shutdown(httpSrv *http.Server) error {
	a.sessions.Drain()
	warned := a.sessions.WarnAll(core.CodeSessionDraining, "server is shutting down; finish up or reconnect")
	a.logger.Info("draining", "active_sessions", a.sessions.Count(), "warned", warned)

	var errs error
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("shutdown http server: %w", err))
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGracePeriod)
	defer waitCancel()
	if a.sessions.Wait(waitCtx) {
		return errs
	}

	canceled := a.sessions.CancelAll()
	a.logger.Warn("grace period elapsed; ending remaining sessions", "canceled", canceled)
	finalCtx, finalCancel := context.WithTimeout(context.Background(), finalWait)
	defer finalCancel()
	if !a.sessions.Wait(finalCtx) {
		errs = multierr.Append(errs, fmt.Errorf("%d sessions did not stop", a.sessions.Count()))
	}
	return errs
}
