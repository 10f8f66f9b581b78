// Package config loads and validates the psychrag configuration.
//
// Configuration precedence, highest wins:
//  1. Environment variables (PSYCHRAG_*)
//  2. Config file (psychrag.yaml)
//  3. Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPreset is the retrieval preset name stored in rag_config.
const DefaultPreset = "retrieval"

// Config is the complete psychrag configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Embedder  EmbedderConfig  `yaml:"embedder" json:"embedder"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Reranker  RerankerConfig  `yaml:"reranker" json:"reranker"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// StorageConfig configures persistence paths.
type StorageConfig struct {
	// DBPath is the SQLite metadata database path.
	DBPath string `yaml:"db_path" json:"db_path"`
	// IndexDir holds the lexical index and the dense index snapshot.
	IndexDir string `yaml:"index_dir" json:"index_dir"`
}

// RetrievalConfig is the RagConfig "retrieval" preset: every knob the
// query pipeline reads. A JSON copy is persisted in the rag_config
// table keyed by preset name so past queries can be interpreted
// against the settings they ran with.
type RetrievalConfig struct {
	// Dimensions is the embedding dimension D shared by all vectors.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// DenseLimit is the per-variant dense search limit.
	DenseLimit int `yaml:"dense_limit" json:"dense_limit"`

	// LexicalLimit is the per-query lexical search limit.
	LexicalLimit int `yaml:"lexical_limit" json:"lexical_limit"`

	// RRFConstant is the RRF smoothing parameter k.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// KFuse is how many fused candidates survive RRF.
	KFuse int `yaml:"k_fuse" json:"k_fuse"`

	// KRerank is how many candidates survive reranking.
	KRerank int `yaml:"k_rerank" json:"k_rerank"`

	// EntityBeta is the additive entity-overlap boost scale.
	EntityBeta float64 `yaml:"entity_beta" json:"entity_beta"`

	// IntentBeta is the additive intent-cue boost scale.
	IntentBeta float64 `yaml:"intent_beta" json:"intent_beta"`

	// GapThreshold is the max line gap for adjacent-chunk merging.
	GapThreshold int `yaml:"gap_threshold" json:"gap_threshold"`

	// CoverageThreshold is the parent-replacement coverage ratio.
	CoverageThreshold float64 `yaml:"coverage_threshold" json:"coverage_threshold"`

	// MinContentChars drops consolidated groups below this size.
	MinContentChars int `yaml:"min_content_chars" json:"min_content_chars"`

	// CoverageFloor drops groups strictly below this recomputed
	// coverage. 0 disables the filter.
	CoverageFloor float64 `yaml:"coverage_floor" json:"coverage_floor"`

	// TopN is the default number of context groups in prompts.
	TopN int `yaml:"top_n" json:"top_n"`

	// Per-call deadlines.
	EmbedTimeout    time.Duration `yaml:"embed_timeout" json:"embed_timeout"`
	DenseTimeout    time.Duration `yaml:"dense_timeout" json:"dense_timeout"`
	LexicalTimeout  time.Duration `yaml:"lexical_timeout" json:"lexical_timeout"`
	RerankTimeout   time.Duration `yaml:"rerank_timeout" json:"rerank_timeout"`
	GenerateTimeout time.Duration `yaml:"generate_timeout" json:"generate_timeout"`
}

// EmbedderConfig configures the embedding model endpoint.
type EmbedderConfig struct {
	Host      string `yaml:"host" json:"host"`
	Model     string `yaml:"model" json:"model"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// LLMConfig configures the generative model endpoint.
type LLMConfig struct {
	Host       string `yaml:"host" json:"host"`
	FullModel  string `yaml:"full_model" json:"full_model"`
	LightModel string `yaml:"light_model" json:"light_model"`
}

// RerankerConfig configures the cross-encoder scoring endpoint.
type RerankerConfig struct {
	URL   string `yaml:"url" json:"url"`
	Model string `yaml:"model" json:"model"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:   "psychrag.db",
			IndexDir: ".psychrag-index",
		},
		Retrieval: RetrievalConfig{
			Dimensions:        768,
			DenseLimit:        50,
			LexicalLimit:      50,
			RRFConstant:       60,
			KFuse:             30,
			KRerank:           15,
			EntityBeta:        0.1,
			IntentBeta:        0.05,
			GapThreshold:      7,
			CoverageThreshold: 0.5,
			MinContentChars:   350,
			CoverageFloor:     0.0,
			TopN:              5,
			EmbedTimeout:      30 * time.Second,
			DenseTimeout:      5 * time.Second,
			LexicalTimeout:    5 * time.Second,
			RerankTimeout:     60 * time.Second,
			GenerateTimeout:   120 * time.Second,
		},
		Embedder: EmbedderConfig{
			Host:      "http://localhost:11434",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			CacheSize: 1024,
		},
		LLM: LLMConfig{
			Host:       "http://localhost:11434",
			FullModel:  "llama3.1:8b",
			LightModel: "qwen3:0.6b",
		},
		Reranker: RerankerConfig{
			URL:   "",
			Model: "bge-reranker-base",
		},
		Server: ServerConfig{
			Addr: ":8085",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path (if non-empty), then applies
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from PSYCHRAG_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PSYCHRAG_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("PSYCHRAG_INDEX_DIR"); v != "" {
		c.Storage.IndexDir = v
	}
	if v := os.Getenv("PSYCHRAG_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PSYCHRAG_EMBEDDER_HOST"); v != "" {
		c.Embedder.Host = v
	}
	if v := os.Getenv("PSYCHRAG_EMBEDDER_MODEL"); v != "" {
		c.Embedder.Model = v
	}
	if v := os.Getenv("PSYCHRAG_LLM_HOST"); v != "" {
		c.LLM.Host = v
	}
	if v := os.Getenv("PSYCHRAG_LLM_FULL_MODEL"); v != "" {
		c.LLM.FullModel = v
	}
	if v := os.Getenv("PSYCHRAG_LLM_LIGHT_MODEL"); v != "" {
		c.LLM.LightModel = v
	}
	if v := os.Getenv("PSYCHRAG_RERANKER_URL"); v != "" {
		c.Reranker.URL = v
	}
	if v := os.Getenv("PSYCHRAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PSYCHRAG_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.Dimensions = n
		}
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	r := &c.Retrieval
	if r.Dimensions <= 0 {
		return fmt.Errorf("retrieval.dimensions must be positive, got %d", r.Dimensions)
	}
	if r.DenseLimit <= 0 || r.LexicalLimit <= 0 {
		return fmt.Errorf("retrieval limits must be positive")
	}
	if r.RRFConstant <= 0 {
		return fmt.Errorf("retrieval.rrf_constant must be positive, got %d", r.RRFConstant)
	}
	if r.KFuse <= 0 || r.KRerank <= 0 {
		return fmt.Errorf("retrieval.k_fuse and k_rerank must be positive")
	}
	if r.KRerank > r.KFuse {
		return fmt.Errorf("retrieval.k_rerank (%d) cannot exceed k_fuse (%d)", r.KRerank, r.KFuse)
	}
	if r.CoverageThreshold < 0 || r.CoverageThreshold > 1 {
		return fmt.Errorf("retrieval.coverage_threshold must be in [0,1], got %g", r.CoverageThreshold)
	}
	if r.GapThreshold < 0 {
		return fmt.Errorf("retrieval.gap_threshold must be non-negative, got %d", r.GapThreshold)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.IndexDir == "" {
		return fmt.Errorf("storage.index_dir is required")
	}
	return nil
}

// RetrievalJSON serializes the retrieval preset for the rag_config table.
func (c *Config) RetrievalJSON() (string, error) {
	data, err := json.Marshal(c.Retrieval)
	if err != nil {
		return "", fmt.Errorf("marshal retrieval preset: %w", err)
	}
	return string(data), nil
}

// RetrievalFromJSON decodes a persisted retrieval preset.
func RetrievalFromJSON(data string) (RetrievalConfig, error) {
	var r RetrievalConfig
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return r, fmt.Errorf("parse retrieval preset: %w", err)
	}
	return r, nil
}
