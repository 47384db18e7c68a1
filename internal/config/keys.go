package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // legacy names consulted after env
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FINRAG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "FINRAG_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "engine.provider", typ: kString, env: "FINRAG_ENGINE_PROVIDER",
		aliases: []string{"LLM_PROVIDER"},
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "engine.ollama_base_url", typ: kString, env: "FINRAG_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OllamaBaseURL },
	},
	{
		key: "engine.openai_base_url", typ: kString, env: "FINRAG_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OpenAIBaseURL },
	},
	{
		key: "engine.openai_api_key", typ: kString, env: "FINRAG_OPENAI_API_KEY",
		aliases: []string{"OPENAI_API_KEY"},
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Engine.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OpenAIAPIKey },
	},
	{
		key: "engine.chat_model", typ: kString, env: "FINRAG_CHAT_MODEL",
		aliases: []string{"LLM_MODEL"},
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "FINRAG_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.temperature", typ: kFloat, env: "FINRAG_TEMPERATURE",
		aliases: []string{"LLM_TEMPERATURE"},
		apply:   func(cfg *Config, v any) { cfg.Engine.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.Temperature },
	},
	{
		key: "engine.max_tokens", typ: kInt, env: "FINRAG_MAX_TOKENS",
		aliases: []string{"LLM_MAX_TOKENS"},
		apply:   func(cfg *Config, v any) { cfg.Engine.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.MaxTokens },
	},
	{
		key: "engine.rate_limit_per_min", typ: kInt, env: "FINRAG_RATE_LIMIT_PER_MIN",
		aliases: []string{"RATE_LIMIT_PER_MIN"},
		apply:   func(cfg *Config, v any) { cfg.Engine.RateLimitPerMin = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.RateLimitPerMin },
	},
	{
		key: "retrieval.embedder", typ: kString, env: "FINRAG_EMBEDDER",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Embedder = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Embedder },
	},
	{
		key: "retrieval.hugot_model_dir", typ: kString, env: "FINRAG_HUGOT_MODEL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.HugotModelDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.HugotModelDir },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "FINRAG_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.similarity_threshold", typ: kFloat, env: "FINRAG_SIMILARITY_THRESHOLD",
		aliases: []string{"SIMILARITY_THRESHOLD"},
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.SimilarityThreshold },
	},
	{
		key: "retrieval.chunk_size", typ: kInt, env: "FINRAG_CHUNK_SIZE",
		aliases: []string{"CHUNK_SIZE"},
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkSize },
	},
	{
		key: "retrieval.chunk_overlap", typ: kInt, env: "FINRAG_CHUNK_OVERLAP",
		aliases: []string{"CHUNK_OVERLAP"},
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkOverlap },
	},
	{
		key: "retrieval.metric_year", typ: kInt, env: "FINRAG_METRIC_YEAR",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MetricYear = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MetricYear },
	},
	{
		key: "retrieval.workers", typ: kInt, env: "FINRAG_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.Workers },
	},
	{
		key: "documents.filings_dir", typ: kString, env: "FINRAG_FILINGS_DIR",
		aliases: []string{"DATA_DIR"},
		apply:   func(cfg *Config, v any) { cfg.Documents.FilingsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Documents.FilingsDir },
	},
	{
		key: "documents.seed_file", typ: kString, env: "FINRAG_SEED_FILE",
		apply:   func(cfg *Config, v any) { cfg.Documents.SeedFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Documents.SeedFile },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FINRAG_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.artifact_dir", typ: kString, env: "FINRAG_ARTIFACT_DIR",
		aliases: []string{"VECTOR_DB_DIR"},
		apply:   func(cfg *Config, v any) { cfg.Storage.ArtifactDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ArtifactDir },
	},
	{
		key: "log.level", typ: kString, env: "FINRAG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.debug", typ: kBool, env: "FINRAG_DEBUG",
		aliases: []string{"DEBUG"},
		apply:   func(cfg *Config, v any) { cfg.Log.Debug = v.(bool) },
		extract: func(cfg Config) any { return cfg.Log.Debug },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

// lookupEnv returns the first non-empty value among the key's variables.
func (s keySpec) lookupEnv(lookup func(string) (string, bool)) (name, raw string) {
	for _, n := range append([]string{s.env}, s.aliases...) {
		if v, ok := lookup(n); ok && v != "" {
			return n, v
		}
	}
	return "", ""
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name, raw := s.lookupEnv(lookup)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", name, raw, err)
			}
		}
	}
}
