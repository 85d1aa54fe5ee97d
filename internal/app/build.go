package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/reysq/internal/brain"
	"github.com/ent0n29/reysq/internal/compaction"
	"github.com/ent0n29/reysq/internal/companion"
	"github.com/ent0n29/reysq/internal/config"
	"github.com/ent0n29/reysq/internal/discord"
	"github.com/ent0n29/reysq/internal/gate"
	"github.com/ent0n29/reysq/internal/httpapi"
	"github.com/ent0n29/reysq/internal/memory"
	"github.com/ent0n29/reysq/internal/observability"
	"github.com/ent0n29/reysq/internal/session"
	"github.com/ent0n29/reysq/internal/transport"
	"github.com/ent0n29/reysq/internal/whatsapp"
)

type VoiceInfo struct {
	Transcription string
	Synthesis     string
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Processor *companion.Processor
	Store     memory.Store
	Gate      *gate.Gate
	Router    *transport.Router
	Discord   *discord.Bot
	Metrics   *observability.Metrics
	Voice     VoiceInfo

	// Cleanup releases the memory store and channel connections.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, memory.StoreConfig{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	completer, err := brain.NewCompleter(brain.Config{
		Mode:          cfg.BrainMode,
		APIKey:        cfg.OpenAIAPIKey,
		BaseURL:       cfg.OpenAIBaseURL,
		Model:         cfg.OpenAIModel,
		FallbackModel: cfg.OpenAIFallbackModel,
		Temperature:   cfg.OpenAITemperature,
		Timeout:       cfg.CollaboratorTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("completer init failed: %w", err)
	}

	compactor, err := compaction.New(compaction.Policy{
		MaxTurns:         cfg.MemoryMaxTurns,
		Mode:             compaction.Mode(cfg.CompactionMode),
		KeepTurns:        cfg.CompactionKeepTurns,
		FailureMode:      compaction.FailureMode(cfg.CompactionFailureMode),
		SummaryMaxTokens: cfg.SummaryMaxTokens,
	}, completer, compaction.Options{
		Timeout:  cfg.CollaboratorTimeout,
		CacheTTL: cfg.SummaryCacheTTL,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("compaction policy: %w", err)
	}

	turnGate := gate.New(gate.Config{
		Cooldown:       cfg.GateCooldown,
		JunkUtterances: cfg.GateJunkUtterances,
		DedupeTTL:      cfg.GateDedupeTTL,
		DedupeSize:     cfg.GateDedupeSize,
	})

	router := transport.NewRouter()
	if cfg.WhatsAppEnabled() {
		router.Register(whatsapp.Channel, whatsapp.NewClient(whatsapp.ClientConfig{
			Token:         cfg.WhatsAppToken,
			PhoneNumberID: cfg.PhoneNumberID,
			BaseURL:       cfg.GraphAPIBaseURL,
			Version:       cfg.GraphAPIVersion,
			RatePerSec:    cfg.WhatsAppRatePerSec,
			Timeout:       cfg.CollaboratorTimeout,
		}))
	} else {
		logger.Warn("whatsapp delivery disabled: ACCESS_TOKEN or PHONE_NUMBER_ID missing")
	}

	var bot *discord.Bot
	if cfg.DiscordToken != "" {
		bot, err = discord.New(discord.Config{
			Token:     cfg.DiscordToken,
			AllowFrom: cfg.DiscordAllowFrom,
			Logger:    logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("discord init failed: %w", err)
		}
		router.Register(discord.Channel, bot)
	}

	voiceSetup := resolveVoiceProviders(cfg)
	locks := session.NewManager()

	processor, err := companion.NewProcessor(companion.Config{
		PersonaPrompt:        cfg.PersonaPrompt,
		WelcomeEnabled:       cfg.WelcomeEnabled,
		WelcomeMessage:       cfg.WelcomeMessage,
		FallbackReply:        cfg.FallbackReply,
		TranscriptionApology: cfg.TranscriptionApology,
		UnsupportedNotice:    cfg.UnsupportedNotice,
		ReplyMaxTokens:       cfg.ReplyMaxTokens,
		VoiceReplies:         cfg.VoiceReplies,
		CollaboratorTimeout:  cfg.CollaboratorTimeout,
	}, companion.Deps{
		Store:       store,
		Gate:        turnGate,
		Compactor:   compactor,
		Completer:   completer,
		Transcriber: voiceSetup.transcriber,
		Synthesizer: voiceSetup.synthesizer,
		Router:      router,
		Locks:       locks,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("processor init failed: %w", err)
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Processor: processor,
		Store:     store,
		Locks:     locks,
		Channels:  router.Channels(),
		Metrics:   metrics,
		Logger:    logger,
	})

	cleanup := func() error {
		var errs []error
		if bot != nil {
			errs = append(errs, bot.Stop())
		}
		errs = append(errs, store.Close())
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Processor: processor,
		Store:     store,
		Gate:      turnGate,
		Router:    router,
		Discord:   bot,
		Metrics:   metrics,
		Voice: VoiceInfo{
			Transcription: voiceSetup.sttDetail,
			Synthesis:     voiceSetup.ttsDetail,
		},
		Cleanup: cleanup,
	}, nil
}
