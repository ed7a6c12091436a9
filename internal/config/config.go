package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	LLM      LLM      `yaml:"llm"`
	Cost     Cost     `yaml:"cost"`
	Pipeline Pipeline `yaml:"pipeline"`
	Prompts  Prompts  `yaml:"prompts"`
	Outline  Outline  `yaml:"outline"`
	Output   Output   `yaml:"output"`
	Media    Media    `yaml:"media"`
	RAG      RAG      `yaml:"rag"`
	Storage  Storage  `yaml:"storage"`
	Progress Progress `yaml:"progress"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Tracing  Tracing  `yaml:"tracing"`

	// Secrets is filled from the environment only.
	Secrets Secrets `yaml:"-"`
}

type LLM struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	OllamaURL      string        `yaml:"ollama_url"`
	EmbeddingModel string        `yaml:"embedding_model"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`
}

type Cost struct {
	InputRate  float64 `yaml:"input_rate"`
	OutputRate float64 `yaml:"output_rate"`
	PerCallFee float64 `yaml:"per_call_fee"`
	Multiplier float64 `yaml:"multiplier"`
	Currency   string  `yaml:"currency"`
}

type Pipeline struct {
	Concurrency       int           `yaml:"concurrency"`
	InterItemDelay    time.Duration `yaml:"inter_item_delay"`
	DelayThreshold    int           `yaml:"delay_threshold"`
	BackgroundTimeout time.Duration `yaml:"background_timeout"`
}

type Prompts struct {
	// Dir holds optional <stage>.txt overrides for the embedded templates.
	Dir            string `yaml:"dir"`
	TargetLanguage string `yaml:"target_language"`
}

type Outline struct {
	ReferenceMaxChars int           `yaml:"reference_max_chars"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
}

type Output struct {
	DataDir       string `yaml:"data_dir"`
	DocumentsDir  string `yaml:"documents_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type Media struct {
	Speech Speech `yaml:"speech"`
	Image  Image  `yaml:"image"`
	Upload Upload `yaml:"upload"`
}

type Speech struct {
	BaseURL         string  `yaml:"base_url"`
	VoiceID         string  `yaml:"voice_id"`
	Model           string  `yaml:"model"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
}

type Image struct {
	// Provider is "openai" or "local".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Size     string `yaml:"size"`
}

type Upload struct {
	// Backend is "local" or "gcs".
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
	CDNBase string `yaml:"cdn_base"`
	Folder  string `yaml:"folder"`
}

type RAG struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

type Storage struct {
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`
}

type Progress struct {
	// Backend is "memory" or "redis".
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	Mode  string `yaml:"mode"`
}

type Tracing struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Secrets and deployment overrides read from the environment.
type Secrets struct {
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
	DataDir          string `env:"KURSIL_DATA_DIR"`
	RedisAddr        string `env:"KURSIL_REDIS_ADDR"`
	GCSBucket        string `env:"KURSIL_GCS_BUCKET"`
	LogLevel         string `env:"KURSIL_LOG_LEVEL"`
}

// ConfigDir returns the XDG config directory for kursil.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "kursil")
}

// DataDir returns the XDG data directory for kursil.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "kursil")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/kursil/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'kursil init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the embedded defaults with the environment applied.
func Default() (*Config, error) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		LLM: LLM{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			OpenAIBaseURL:  "https://api.openai.com",
			OllamaURL:      "http://localhost:11434",
			EmbeddingModel: "text-embedding-3-small",
			MaxTokens:      4096,
			Temperature:    0.7,
			Timeout:        120 * time.Second,
		},
		Cost: Cost{
			InputRate:  0.005,
			OutputRate: 0.015,
			PerCallFee: 0.008,
			Multiplier: 16500,
			Currency:   "IDR",
		},
		Pipeline: Pipeline{
			Concurrency:       1,
			InterItemDelay:    time.Second,
			DelayThreshold:    3,
			BackgroundTimeout: time.Hour,
		},
		Prompts: Prompts{TargetLanguage: "Indonesian"},
		Outline: Outline{
			ReferenceMaxChars: 4000,
			FetchTimeout:      15 * time.Second,
		},
		Media: Media{
			Speech: Speech{
				BaseURL:         "https://api.elevenlabs.io",
				VoiceID:         "21m00Tcm4TlvDq8ikWAM",
				Model:           "eleven_turbo_v2_5",
				Stability:       0.5,
				SimilarityBoost: 0.5,
			},
			Image: Image{Provider: "local", Model: "dall-e-3", Size: "1024x1024"},
			Upload: Upload{
				Backend: "local",
				Folder:  "kursil/webresources",
			},
		},
		RAG:      RAG{ChunkSize: 1000, ChunkOverlap: 20, TopK: 4},
		Storage:  Storage{BusyTimeoutMS: 5000},
		Progress: Progress{Backend: "memory", RedisAddr: "localhost:6379", TTL: 24 * time.Hour},
		Server:   Server{Host: "127.0.0.1", Port: 8000},
		Logging:  Logging{Level: "info", Mode: "dev"},
		Tracing:  Tracing{ServiceName: "kursil"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv loads .env (if present) and overlays environment variables.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	if err := env.Parse(&c.Secrets); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	if c.Secrets.DataDir != "" {
		c.Output.DataDir = c.Secrets.DataDir
	}
	if c.Secrets.RedisAddr != "" {
		c.Progress.RedisAddr = c.Secrets.RedisAddr
	}
	if c.Secrets.GCSBucket != "" {
		c.Media.Upload.Bucket = c.Secrets.GCSBucket
	}
	if c.Secrets.LogLevel != "" {
		c.Logging.Level = c.Secrets.LogLevel
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetDocumentsDir returns where exported documents are written.
func (c *Config) GetDocumentsDir() string {
	if c.Output.DocumentsDir != "" {
		return c.Output.DocumentsDir
	}
	return filepath.Join(c.GetDataDir(), "documents")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
