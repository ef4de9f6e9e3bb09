package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir         string `json:"data_dir"`
	LogLevel        string `json:"log_level"`
	MaxConcurrent   int    `json:"max_concurrent"`
	MaxToolRounds   int    `json:"max_tool_rounds"`
	HistoryCapacity int    `json:"history_capacity"`
	PersonaFile     string `json:"persona_file"`
	GreetingsFile   string `json:"greetings_file"`
	Room            struct {
		ListenAddr string `json:"listen_addr"`
	} `json:"room"`
	LLM struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
	} `json:"llm"`
	News struct {
		APIKey  string `json:"api_key"`
		BaseURL string `json:"base_url"`
	} `json:"news"`
	Knowledge struct {
		Endpoint string `json:"endpoint"`
		Index    string `json:"index"`
		APIKey   string `json:"api_key"`
	} `json:"knowledge"`
	Database struct {
		Path string `json:"path"`
	} `json:"database"`
}

func Load(path string) (*Config, error) {
	// A local .env is optional; missing is fine.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".parley"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.MaxToolRounds = 5
	cfg.HistoryCapacity = 50
	cfg.PersonaFile = "persona.txt"
	cfg.Room.ListenAddr = ":8080"
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.News.BaseURL = "https://api.bing.microsoft.com/v7.0/news/search"
	cfg.Knowledge.Index = "knowledge"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if newsKey := os.Getenv("NEWS_API_KEY"); newsKey != "" {
		cfg.News.APIKey = newsKey
	}
	if knowledgeKey := os.Getenv("KNOWLEDGE_API_KEY"); knowledgeKey != "" {
		cfg.Knowledge.APIKey = knowledgeKey
	}
	if endpoint := os.Getenv("KNOWLEDGE_ENDPOINT"); endpoint != "" {
		cfg.Knowledge.Endpoint = endpoint
	}

	return cfg, nil
}

// Save writes the config atomically, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
