package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Database DatabaseConfig `yaml:"database"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "ollama"
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
	DBPath       string `yaml:"db_path"`
	Collection   string `yaml:"collection"`
}

type ScheduleConfig struct {
	StudentURL    string        `yaml:"student_url"`
	InstructorURL string        `yaml:"instructor_url"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultTopK         = 5
	defaultCollection   = "weblinks"
	defaultFetchTimeout = 20 * time.Second
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = defaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.Collection == "" {
		c.RAG.Collection = defaultCollection
	}
	if c.Schedule.FetchTimeout == 0 {
		c.Schedule.FetchTimeout = defaultFetchTimeout
	}
}
