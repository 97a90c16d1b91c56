package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transcription backends.
const (
	BackendLocal    = "local"
	BackendOpenAI   = "openai"
	BackendDeepgram = "deepgram"
)

// Improvement backends.
const (
	BackendPerplexity = "perplexity"
)

// Config is the runtime configuration of the service.
type Config struct {
	Port            string
	TempDir         string
	MaxUploadBytes  int64
	RateLimitPerMin int

	TranscribeBackend string
	WhisperModel      string
	WhisperBin        string
	WhisperModelDir   string
	WhisperLanguage   string
	DeepgramAPIKey    string

	ImproveBackend   string
	OpenAIAPIKey     string
	OpenAIModel      string
	PerplexityAPIKey string
	ImproveTimeout   time.Duration

	IndexTTSDir    string
	IndexTTSPython string
	TTSTimeout     time.Duration

	FFmpegBin  string
	FFprobeBin string

	TelegramBotToken    string
	TelegramAdminChatID int64
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function and validates it.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:              get("PORT", "8000"),
		TempDir:           get("TEMP_DIR", "temp"),
		TranscribeBackend: strings.ToLower(get("TRANSCRIBE_BACKEND", BackendLocal)),
		WhisperModel:      get("WHISPER_MODEL", "base"),
		WhisperBin:        get("WHISPER_BIN", "whisper-server"),
		WhisperModelDir:   get("WHISPER_MODEL_DIR", "models"),
		WhisperLanguage:   get("WHISPER_LANGUAGE", "auto"),
		DeepgramAPIKey:    get("DEEPGRAM_API_KEY", ""),
		ImproveBackend:    strings.ToLower(get("IMPROVE_BACKEND", BackendOpenAI)),
		OpenAIAPIKey:      get("OPENAI_API_KEY", ""),
		OpenAIModel:       get("OPENAI_MODEL", "gpt-4o-mini"),
		PerplexityAPIKey:  get("PERPLEXITY_API_KEY", ""),
		IndexTTSDir:       get("INDEXTTS_DIR", "index-tts"),
		FFmpegBin:         get("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:        get("FFPROBE_BIN", "ffprobe"),
		TelegramBotToken:  get("TELEGRAM_BOT_TOKEN", ""),
	}
	cfg.IndexTTSPython = get("INDEXTTS_PYTHON", DefaultPython(cfg.IndexTTSDir))

	maxMB, err := parseInt(get("MAX_UPLOAD_MB", "50"), "MAX_UPLOAD_MB")
	if err != nil {
		return Config{}, err
	}
	if maxMB <= 0 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", maxMB)
	}
	if maxMB > math.MaxInt64>>20 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_MB is too large, got %d", maxMB)
	}
	cfg.MaxUploadBytes = maxMB << 20

	limit, err := parseInt(get("RATE_LIMIT_PER_MIN", "30"), "RATE_LIMIT_PER_MIN")
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerMin = int(limit)

	if cfg.ImproveTimeout, err = parseDuration(get("IMPROVE_TIMEOUT", "120s"), "IMPROVE_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.TTSTimeout, err = parseDuration(get("TTS_TIMEOUT", "300s"), "TTS_TIMEOUT"); err != nil {
		return Config{}, err
	}

	if raw := get("TELEGRAM_ADMIN_CHAT_ID", ""); raw != "" {
		if cfg.TelegramAdminChatID, err = parseInt(raw, "TELEGRAM_ADMIN_CHAT_ID"); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultPython returns the interpreter path of the isolated environment under root.
func DefaultPython(root string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(root, ".venv", "Scripts", "python.exe")
	}
	return filepath.Join(root, ".venv", "bin", "python")
}

func (c Config) validate() error {
	switch c.TranscribeBackend {
	case BackendLocal:
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY not set (required by TRANSCRIBE_BACKEND=openai)")
		}
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY not set")
		}
	default:
		return fmt.Errorf("unknown TRANSCRIBE_BACKEND %q", c.TranscribeBackend)
	}

	switch c.ImproveBackend {
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY not set")
		}
	case BackendPerplexity:
		if c.PerplexityAPIKey == "" {
			return fmt.Errorf("PERPLEXITY_API_KEY not set")
		}
	default:
		return fmt.Errorf("unknown IMPROVE_BACKEND %q", c.ImproveBackend)
	}

	if c.TelegramBotToken != "" && c.TelegramAdminChatID == 0 {
		return fmt.Errorf("TELEGRAM_ADMIN_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func parseInt(raw, key string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func parseDuration(raw, key string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
