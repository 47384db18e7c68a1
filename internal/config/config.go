package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Retrieval RetrievalConfig
	Documents DocumentsConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken enables bearer auth on the HTTP API when non-empty.
	APIToken string
}

type EngineConfig struct {
	Provider        string
	OllamaBaseURL   string
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	ChatModel       string
	EmbedModel      string
	Temperature     float64
	MaxTokens       int
	RateLimitPerMin int
}

type RetrievalConfig struct {
	// Embedder is one of ollama, openai, hugot or hash.
	Embedder            string
	HugotModelDir       string
	TopK                int
	SimilarityThreshold float64
	ChunkSize           int
	ChunkOverlap        int
	MetricYear          int
	Workers             int
}

type DocumentsConfig struct {
	FilingsDir string
	SeedFile   string
}

type StorageConfig struct {
	DataDir     string
	ArtifactDir string
}

type LogConfig struct {
	Level string
	Debug bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Engine: EngineConfig{
			Provider:        "ollama",
			OllamaBaseURL:   "http://localhost:11434",
			ChatModel:       "llama3.2",
			EmbedModel:      "nomic-embed-text",
			Temperature:     0,
			MaxTokens:       1024,
			RateLimitPerMin: 60,
		},
		Retrieval: RetrievalConfig{
			Embedder:            "ollama",
			TopK:                6,
			SimilarityThreshold: 0.6,
			ChunkSize:           1200,
			ChunkOverlap:        250,
			MetricYear:          2024,
			Workers:             4,
		},
		Documents: DocumentsConfig{
			FilingsDir: "data",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at ConfigFilePath,
// then a .env file in the working directory, then the process environment.
// Later sources win. Environment variables are FINRAG_* plus a few legacy
// names such as CHUNK_SIZE and LLM_MODEL.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()), ".env")
}

func loadWith(b ConfigBackend, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	dotenv, err := readDotenv(envFiles)
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg, func(name string) (string, bool) {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok && v != ""
	})

	if cfg.Storage.ArtifactDir == "" {
		cfg.Storage.ArtifactDir = filepath.Join(cfg.Storage.DataDir, "artifacts")
	}
	if cfg.Log.Debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// readDotenv merges the existing files among paths. The process
// environment is left untouched.
func readDotenv(paths []string) (map[string]string, error) {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil, nil
	}
	vals, err := godotenv.Read(existing...)
	if err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	return vals, nil
}
