package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/mindfriend/backend/internal/app"
	"github.com/zhouzirui/mindfriend/backend/internal/config"
	"github.com/zhouzirui/mindfriend/backend/internal/handler"
	"github.com/zhouzirui/mindfriend/backend/internal/logging"
	"github.com/zhouzirui/mindfriend/backend/internal/middleware"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	"github.com/zhouzirui/mindfriend/backend/internal/model/persona"
	"github.com/zhouzirui/mindfriend/backend/internal/service/ai"
	"github.com/zhouzirui/mindfriend/backend/internal/service/command"
	"github.com/zhouzirui/mindfriend/backend/internal/service/conversation"
	"github.com/zhouzirui/mindfriend/backend/internal/service/memory"
	moodservice "github.com/zhouzirui/mindfriend/backend/internal/service/mood"
	"github.com/zhouzirui/mindfriend/backend/internal/service/stats"
	"github.com/zhouzirui/mindfriend/backend/internal/transport/telegram"
)

var errGeneratorUnavailable = errors.New("reply generator is not configured")

// unavailableGenerator stands in when no Ark credentials are set, so commands
// keep working and chat messages get the apology.
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, []chat.Turn, string) (string, error) {
	return "", errGeneratorUnavailable
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	log.Logger = logger

	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file loaded, using process environment only")
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("mindfriend stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	p, err := app.LoadPersona(cfg.PersonaFile)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	st, err := app.OpenStore(ctx, cfg.Store, logging.Component(logger, "store"))
	if err != nil {
		return err
	}
	defer st.Close()

	mem, err := memory.New(memory.Config{
		MaxTurns:    cfg.Session.MaxTurns,
		MaxTokens:   cfg.Session.MaxTokens,
		MaxSessions: cfg.Session.MaxSessions,
	}, st, logger)
	if err != nil {
		return fmt.Errorf("session memory: %w", err)
	}

	var (
		generator conversation.Generator = unavailableGenerator{}
		breaker   interface{ BreakerState() string }
		chatModel model.BaseChatModel
	)
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, ai.Options{
			Persona:        p,
			MaxFailures:    uint32(cfg.Breaker.MaxFailures),
			BreakerTimeout: cfg.Breaker.Timeout,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("AI service unavailable, chat replies will fail until Ark is configured")
		} else {
			generator, breaker, chatModel = aiService, aiService, aiService.ChatModel()
			logger.Info().Str("model", cfg.AI.Model).Msg("AI service initialized")
		}
	} else {
		logger.Warn().Msg("Ark credentials not configured, skipping AI initialization")
	}

	var moods conversation.MoodInferrer
	if cfg.Mood.InferenceEnabled {
		var classifierModel model.BaseChatModel
		if cfg.Mood.LLMEnabled {
			classifierModel = chatModel
		}
		moodSvc, err := moodservice.NewService(ctx, classifierModel, moodservice.Config{LLMEnabled: cfg.Mood.LLMEnabled}, logger)
		if err != nil {
			return fmt.Errorf("mood inference: %w", err)
		}
		moods = moodSvc
		logger.Info().Bool("llm", moodSvc.LLMEnabled()).Msg("mood inference enabled")
	}

	conv := conversation.NewService(st, mem, generator, moods, conversation.Config{
		ReplyTimeout:      cfg.AI.ReplyTimeout,
		MoodTimeout:       cfg.Mood.Timeout,
		MinMoodConfidence: cfg.Mood.MinConfidence,
	}, logger)
	agg := stats.New(st)

	limiter, err := command.NewLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, cfg.Session.MaxSessions)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	commands := command.NewService(conv, st, agg, p, limiter, logger)

	router := handler.NewRouter(handler.Services{
		Persona:   p,
		Responder: commands,
		History:   st,
		Stats:     agg,
		Moods:     conv,
		Breaker:   breaker,
	}, middleware.NewRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return startServer(gctx, cfg.Server, router, p, logger)
	})

	if cfg.Telegram.Enabled() {
		bot, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.PollTimeout,
			SendRetries: cfg.Telegram.SendRetries,
		}, commands, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return bot.Run(gctx)
		})
	} else {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN not set, serving HTTP only")
	}

	return g.Wait()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, p persona.Persona, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Str("persona", p.Name).Msg("MindFriend backend listening")
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
