// karmad is the call runtime daemon: it answers Twilio and browser calls,
// runs the persona pipeline for each one, and serves the dashboard API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/karmalabs/karma/classifier"
	"github.com/karmalabs/karma/config"
	"github.com/karmalabs/karma/events"
	"github.com/karmalabs/karma/llm"
	"github.com/karmalabs/karma/logger"
	"github.com/karmalabs/karma/pipeline"
	"github.com/karmalabs/karma/registry"
	"github.com/karmalabs/karma/server"
	"github.com/karmalabs/karma/store"
	"github.com/karmalabs/karma/stt"
	"github.com/karmalabs/karma/tts"

	metrics "github.com/karmalabs/karma/metrics/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.For("karmad")

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Collaborators shared by every call session. Speech backends are
	// selected per concern by STT_PROVIDER / TTS_PROVIDER.
	sttService := newSTTService(cfg.Providers)
	ttsService := newTTSService(cfg.Providers)
	log.Info("speech providers selected",
		"stt", sttService.Name(), "tts", ttsService.Name())

	var llmOpts []llm.OpenRouterOption
	if cfg.Providers.LLMModel != "" {
		llmOpts = append(llmOpts, llm.WithOpenRouterModel(cfg.Providers.LLMModel))
	}
	generator := llm.NewOpenRouter(cfg.Providers.OpenRouterAPIKey, llmOpts...)

	detector := classifier.New(classifier.WithBaseURL(cfg.Providers.ClassifierURL))
	if !detector.Healthy(ctx) {
		log.Warn("voice classifier unreachable, calls will default to human",
			"url", cfg.Providers.ClassifierURL)
	}

	// Call record persistence.
	var callStore store.Store
	if cfg.Store.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Error("redis unreachable", "addr", cfg.Store.RedisAddr, "error", err)
			os.Exit(1)
		}
		callStore = store.NewRedisStore(client, store.WithTTL(cfg.Store.RecordTTL))
		log.Info("using redis call store", "addr", cfg.Store.RedisAddr)
	} else {
		callStore = store.NewMemoryStore()
		log.Info("using in-memory call store")
	}

	bus := events.NewBus()
	recorder := store.NewRecorder(callStore, bus)
	defer recorder.Close()

	listener := metrics.NewMetricsListener(bus)
	defer listener.Close()

	reg := registry.New()

	srv := server.New(server.Options{
		Addr:       cfg.Server.Addr,
		PublicHost: cfg.Server.PublicHost,
		Registry:   reg,
		Store:      callStore,
		Bus:        bus,
		Deps: pipeline.Deps{
			STT:        sttService,
			Generator:  generator,
			TTS:        ttsService,
			Classifier: detector,
			Bus:        bus,
		},
		PipelineConfig: pipeline.Config{
			Persona:                  cfg.Persona,
			HistoryTurns:             cfg.Pipeline.HistoryTurns,
			BargeInEnabled:           cfg.Pipeline.BargeInEnabled,
			RecordFullReplyOnBargeIn: cfg.Pipeline.RecordFullReplyOnBargeIn,
			MutedSkipGeneration:      cfg.Pipeline.MutedSkipGeneration,
			EchoCooldown:             cfg.Pipeline.EchoCooldown,
		},
	})

	log.Info("karmad starting", "addr", cfg.Server.Addr)
	if err := srv.Run(ctx); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("karmad stopped")
}

// newSTTService builds the transcriber named by the provider selection.
func newSTTService(p config.ProviderConfig) stt.Service {
	if p.STTProvider == config.ProviderCartesia {
		return stt.NewCartesia(p.CartesiaAPIKey)
	}
	return stt.NewSarvam(p.SarvamAPIKey)
}

// newTTSService builds the synthesizer named by the provider selection.
func newTTSService(p config.ProviderConfig) tts.StreamingService {
	if p.TTSProvider == config.ProviderCartesia {
		opts := []tts.CartesiaOption{tts.WithCartesiaModel(p.CartesiaTTSModel)}
		if p.CartesiaVoiceID != "" {
			opts = append(opts, tts.WithCartesiaVoice(p.CartesiaVoiceID))
		}
		return tts.NewCartesia(p.CartesiaAPIKey, opts...)
	}

	var opts []tts.SarvamOption
	if p.SarvamSpeaker != "" {
		opts = append(opts, tts.WithSarvamSpeaker(p.SarvamSpeaker))
	}
	return tts.NewSarvam(p.SarvamAPIKey, opts...)
}
