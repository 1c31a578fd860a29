package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string
	NatsURL     string
	NatsToken   string
	RedisURL    string

	EmbedCacheTTL time.Duration

	OllamaBaseURL  string
	OllamaModel    string
	EmbeddingModel string

	WhisperURL      string
	WhisperModel    string
	WhisperLanguage string

	TTSURL   string
	TTSVoice string

	ChunkSize    int
	ChunkOverlap int
	TopK         int

	MaxHistoryTurns int
	Temperature     float64
	MaxTokens       int

	AudioOutputDir  string
	IngestStatePath string
}

func Load() Config {
	return Config{
		Port:            envInt("PORT", 8000),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		EmbedCacheTTL:   envDuration("EMBED_CACHE_TTL", 24*time.Hour),
		OllamaBaseURL:   envStr("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:     envStr("OLLAMA_MODEL", "qwen3:1.7b"),
		EmbeddingModel:  envStr("EMBEDDING_MODEL", "all-minilm"),
		WhisperURL:      envStr("WHISPER_URL", "http://localhost:8001"),
		WhisperModel:    envStr("WHISPER_MODEL", "base"),
		WhisperLanguage: envStr("WHISPER_LANGUAGE", "en"),
		TTSURL:          envStr("TTS_URL", "http://localhost:8880"),
		TTSVoice:        envStr("TTS_VOICE", "af_heart"),
		ChunkSize:       envInt("RAG_CHUNK_SIZE", 500),
		ChunkOverlap:    envInt("RAG_CHUNK_OVERLAP", 50),
		TopK:            envInt("RAG_TOP_K", 3),
		MaxHistoryTurns: envInt("MAX_HISTORY_TURNS", 10),
		Temperature:     envFloat("LLM_TEMPERATURE", 0.7),
		MaxTokens:       envInt("LLM_MAX_TOKENS", 512),
		AudioOutputDir:  envStr("AUDIO_OUTPUT_DIR", "data/audio_output"),
		IngestStatePath: envStr("INGEST_STATE_PATH", "data/ingest-state.json"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
