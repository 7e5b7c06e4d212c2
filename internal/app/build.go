// Package app assembles the IVR service from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/ivrsat/internal/ari"
	"github.com/antoniostano/ivrsat/internal/audio"
	"github.com/antoniostano/ivrsat/internal/config"
	"github.com/antoniostano/ivrsat/internal/httpapi"
	"github.com/antoniostano/ivrsat/internal/ivr"
	"github.com/antoniostano/ivrsat/internal/observability"
	"github.com/antoniostano/ivrsat/internal/promptcache"
	"github.com/antoniostano/ivrsat/internal/reliability"
	"github.com/antoniostano/ivrsat/internal/sat"
	"github.com/antoniostano/ivrsat/internal/session"
	"github.com/antoniostano/ivrsat/internal/speech"
	"github.com/antoniostano/ivrsat/internal/voiceapi"
)

type BuildResult struct {
	Config     config.Config
	Logger     *zap.Logger
	Registry   *prometheus.Registry
	Metrics    *observability.Metrics
	Sessions   *session.Store
	ARI        *ari.Client
	Media      *ari.MediaStore
	Facade     *speech.Facade
	Engine     *ivr.Engine
	Supervisor *ari.Supervisor
	API        *httpapi.Server

	// Cleanup releases external resources (the prompt cache pool).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VoiceAPIURL == "" {
		return nil, errors.New("VOICE_API_URL is required")
	}
	if cfg.SATURL == "" {
		return nil, errors.New("SAT_URL is required")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetricsWithRegistry(cfg.MetricsNamespace, reg)

	prompts, err := speech.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}

	ariClient, err := ari.NewClient(ari.ClientConfig{
		BaseURL:     cfg.ARIURL,
		Username:    cfg.ARIUsername,
		Password:    cfg.ARIPassword,
		Application: cfg.ARIApplication,
		InsecureTLS: cfg.ARIInsecureTLS,
		Timeout:     cfg.ARIRequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ari client init failed: %w", err)
	}
	media, err := ari.NewMediaStore(cfg.MediaDir, cfg.MediaPrefix, cfg.MediaTTL)
	if err != nil {
		return nil, fmt.Errorf("media store init failed: %w", err)
	}
	control := ari.NewController(ariClient, media, ari.RecordParams{
		Format:      cfg.RecordFormat,
		MaxDuration: cfg.RecordMaxDuration,
		MaxSilence:  cfg.RecordMaxSilence,
		Beep:        cfg.RecordBeep,
		IfExists:    cfg.RecordIfExists,
		TerminateOn: cfg.RecordTerminateOn,
	}, logger, metrics)

	voiceClient, err := voiceapi.New(cfg.VoiceAPIURL, cfg.VoiceAPITimeout)
	if err != nil {
		return nil, fmt.Errorf("voice api init failed: %w", err)
	}
	satClient, err := sat.New(sat.Config{
		BaseURL:      cfg.SATURL,
		ClientID:     cfg.SATClientID,
		ClientSecret: cfg.SATClientSecret,
		Username:     cfg.SATUsername,
		Password:     cfg.SATPassword,
		Realm:        cfg.SATRealm,
		ClientIP:     cfg.SATClientIP,
		Timeout:      cfg.SATTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sat client init failed: %w", err)
	}

	cache, err := promptcache.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("prompt cache init failed: %w", err)
	}

	facade, err := speech.NewFacade(voiceClient, satClient, cache, prompts, logger, metrics)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	sessions := session.NewStore(cfg.SessionExpiry)
	sessions.SetExpireHook(func(s *session.CallSession) {
		logger.Info("call session expired", zap.String("call_id", s.CallID), zap.String("phase", string(s.Phase)))
		metrics.CallEvent("expired")
		metrics.SetActiveCalls(sessions.Len())
	})

	engine, err := ivr.New(ivr.Config{
		Retry:       ivr.RetryPolicy{MaxAttempts: cfg.MaxRetries},
		SettleDelay: cfg.SettleDelay,
		Playback: audio.PlaybackPolicy{
			SafetyMargin: cfg.SafetyMargin,
			RetryPad:     cfg.RetryPad,
			MaxWait:      cfg.MaxPlaybackWait,
		},
		Exit: ari.Location{
			Context:   cfg.ContinueContext,
			Extension: cfg.ContinueExtension,
			Priority:  cfg.ContinuePriority,
		},
		Prompts: prompts.Engine(),
	}, ivr.Deps{
		Control: control,
		Facade:  facade,
		Store:   sessions,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	supervisor, err := ari.NewSupervisor(ari.SupervisorConfig{
		Dial:              ariClient.DialEvents,
		Handler:           engine,
		Backoff:           reliability.NewReconnectBackoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxAttempts, cfg.ReconnectCooldown),
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	api := httpapi.New(httpapi.Options{
		Sessions:       sessions,
		ARI:            ariClient,
		Connection:     supervisor,
		IVR:            facade,
		Metrics:        metrics,
		Gatherer:       reg,
		Logger:         logger,
		RequestTimeout: cfg.VoiceAPITimeout + cfg.SATTimeout,
	})

	return &BuildResult{
		Config:     cfg,
		Logger:     logger,
		Registry:   reg,
		Metrics:    metrics,
		Sessions:   sessions,
		ARI:        ariClient,
		Media:      media,
		Facade:     facade,
		Engine:     engine,
		Supervisor: supervisor,
		API:        api,
		Cleanup:    cache.Close,
	}, nil
}

// Run starts every long-lived component and blocks until ctx is cancelled or
// one of them fails, then shuts the HTTP server down within ShutdownTimeout.
func (b *BuildResult) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              b.Config.BindAddr,
		Handler:           b.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	b.Sessions.StartJanitor(gctx, b.Config.SessionSweepInterval)

	g.Go(func() error { return b.Engine.Run(gctx) })
	g.Go(func() error { return b.Supervisor.Run(gctx) })
	g.Go(func() error {
		return b.Media.Run(gctx, 0, func(n int, err error) {
			if err != nil {
				b.Logger.Warn("media prune failed", zap.Int("removed", n), zap.Error(err))
			} else if n > 0 {
				b.Logger.Debug("media pruned", zap.Int("removed", n))
			}
		})
	})
	g.Go(func() error {
		warmCtx, cancel := context.WithTimeout(gctx, b.Config.VoiceAPITimeout*2)
		defer cancel()
		n := b.Facade.Warm(warmCtx)
		b.Logger.Info("prompt cache warmed", zap.Int("prompts", n))
		return nil
	})
	g.Go(func() error {
		b.Logger.Info("server listening", zap.String("addr", b.Config.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.Config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			b.Logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		return nil
	})

	return g.Wait()
}
