package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/Vovarama1992/go-utils/httputil"
	"github.com/Vovarama1992/go-utils/logger"

	"github.com/Vovarama1992/voxa/internal/ai"
	"github.com/Vovarama1992/voxa/internal/config"
	"github.com/Vovarama1992/voxa/internal/delivery"
	"github.com/Vovarama1992/voxa/internal/error_notificator"
	"github.com/Vovarama1992/voxa/internal/pipeline"
	"github.com/Vovarama1992/voxa/internal/speech"
	"github.com/Vovarama1992/voxa/internal/tts"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

func main() {

	// =========================================================================
	// ENV / LOGGER
	// =========================================================================

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	baseLogger, _ := zap.NewProduction()
	defer baseLogger.Sync()
	zl := logger.NewZapLogger(baseLogger.Sugar())

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}

	// =========================================================================
	// ERROR NOTIFICATION
	// =========================================================================

	var errInfra error_notificator.Notificator = error_notificator.NewLogInfra(baseLogger)
	if cfg.TelegramBotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatalf("failed to init telegram bot: %v", err)
		}
		errInfra = error_notificator.NewTelegramInfra(bot, cfg.TelegramAdminChatID)
	}
	errService := error_notificator.NewService(errInfra, baseLogger.Sugar())

	// =========================================================================
	// CLIENTS (STT / LLM / TTS)
	// =========================================================================

	var openAIClient *openai.Client
	if cfg.OpenAIAPIKey != "" {
		openAIClient = openai.NewClient(cfg.OpenAIAPIKey)
	}

	var sttClient speech.STTClient
	switch cfg.TranscribeBackend {
	case config.BackendOpenAI:
		sttClient = speech.NewOpenAIWhisper(openAIClient, cfg.WhisperModel)
	case config.BackendDeepgram:
		sttClient = speech.NewDeepgramClient(cfg.DeepgramAPIKey)
	default:
		whisper, err := speech.NewWhisperCpp(context.Background(), speech.WhisperOptions{
			Bin:      cfg.WhisperBin,
			FFmpeg:   cfg.FFmpegBin,
			Model:    cfg.WhisperModel,
			ModelDir: cfg.WhisperModelDir,
			Language: cfg.WhisperLanguage,
			TempDir:  cfg.TempDir,
		}, baseLogger.Named("whisper"))
		if err != nil {
			log.Fatalf("failed to load whisper model: %v", err)
		}
		defer whisper.Close()
		sttClient = whisper
	}

	var llm ai.Completer
	switch cfg.ImproveBackend {
	case config.BackendPerplexity:
		llm = ai.NewPerplexityClient(cfg.PerplexityAPIKey)
	default:
		llm = ai.NewOpenAIClient(openAIClient, cfg.OpenAIModel)
	}

	bridge := tts.NewBridge(tts.Options{
		Root:    cfg.IndexTTSDir,
		Python:  cfg.IndexTTSPython,
		FFmpeg:  cfg.FFmpegBin,
		Timeout: cfg.TTSTimeout,
	}, baseLogger)
	if err := bridge.Ready(); err != nil {
		zl.Log(logger.LogEntry{
			Level:   "warn",
			Message: "speech synthesis unavailable, responses will echo the uploaded audio",
			Service: "voxa",
			Error:   err,
		})
	}

	// =========================================================================
	// DOMAIN SERVICES
	// =========================================================================

	speechService := speech.NewService(sttClient)
	improver := ai.NewImprover(llm, cfg.ImproveTimeout)

	orchestrator := pipeline.NewOrchestrator(
		speechService,
		improver,
		bridge,
		errService,
		cfg.TempDir,
		baseLogger,
	)
	ffprobe := cfg.FFprobeBin
	orchestrator.Duration = func(ctx context.Context, path string) (float64, error) {
		return speech.AudioDuration(ctx, ffprobe, path)
	}

	// =========================================================================
	// HTTP ROUTER
	// =========================================================================

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", "X-Job-ID", "X-Passthrough"},
	}))

	handler := delivery.NewHandler(orchestrator, bridge, cfg.MaxUploadBytes, zl)
	delivery.RegisterRoutes(r, handler, cfg.RateLimitPerMin)

	r.With(httputil.RecoverMiddleware).Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("pong"))
	})

	// =========================================================================
	// START SERVER
	// =========================================================================

	addr := ":" + cfg.Port
	zl.Log(logger.LogEntry{
		Level:   "info",
		Message: "listening at " + addr,
		Service: "voxa",
	})

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
