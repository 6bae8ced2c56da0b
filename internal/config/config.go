// Package config loads the gateway's JSON configuration file plus a
// companion env file of secrets, mirroring §6 of the specification.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type ServerConfig struct {
	Port              int           `json:"port"`
	Host              string        `json:"host"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
	MemoryThreshold   int64         `json:"memoryThreshold"`
	MaxRequestSize    int64         `json:"maxRequestSize"`
}

type RotationConfig struct {
	Strategy     string `json:"strategy"` // ROUND_ROBIN | QUOTA_EXHAUSTED | REQUEST_COUNT
	RequestCount int    `json:"requestCount"`
}

type APIConfig struct {
	URL         string `json:"url"`
	ModelsURL   string `json:"modelsUrl"`
	NoStreamURL string `json:"noStreamUrl"`
	Host        string `json:"host"`
	UserAgent   string `json:"userAgent"`
}

type DefaultsConfig struct {
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"topP"`
	TopK           int     `json:"topK"`
	MaxTokens      int     `json:"maxTokens"`
	ThinkingBudget int     `json:"thinkingBudget"`
}

type CacheConfig struct {
	ModelListTTL time.Duration `json:"modelListTTL"`
}

type OtherConfig struct {
	Timeout                 time.Duration `json:"timeout"`
	RetryTimes              int           `json:"retryTimes"`
	SkipProjectIDFetch      bool          `json:"skipProjectIdFetch"`
	UseContextSystemPrompt  bool          `json:"useContextSystemPrompt"`
	PassSignatureToClient   bool          `json:"passSignatureToClient"`
}

// Config is the JSON-file-backed document described in spec §6. Durations
// are authored in the JSON as milliseconds and converted at load time.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Rotation RotationConfig `json:"rotation"`
	API      APIConfig      `json:"api"`
	Defaults DefaultsConfig `json:"defaults"`
	Cache    CacheConfig    `json:"cache"`
	Other    OtherConfig    `json:"other"`

	// Secrets, sourced from the env file rather than the JSON document.
	APIKey            string
	AdminUsername     string
	AdminPassword     string
	JWTSecret         string
	Proxy             string
	SystemInstruction string
	ImageBaseURL      string
	EncryptionKey     string
	OAuthTokenURL     string
	OAuthClientID     string
	ProjectIDURL      string
	LogLevel          string
	DBPath            string
	AccountFilePath   string

	DataDir string
}

// rawConfig mirrors Config but with integer-millisecond duration fields,
// used only to unmarshal the JSON document before conversion.
type rawConfig struct {
	Server struct {
		Port              int   `json:"port"`
		Host              string `json:"host"`
		HeartbeatInterval int64 `json:"heartbeatInterval"`
		MemoryThreshold   int64 `json:"memoryThreshold"`
		MaxRequestSize    int64 `json:"maxRequestSize"`
	} `json:"server"`
	Rotation RotationConfig `json:"rotation"`
	API      APIConfig      `json:"api"`
	Defaults DefaultsConfig `json:"defaults"`
	Cache    struct {
		ModelListTTL int64 `json:"modelListTTL"`
	} `json:"cache"`
	Other struct {
		Timeout                int64 `json:"timeout"`
		RetryTimes             int   `json:"retryTimes"`
		SkipProjectIDFetch     bool  `json:"skipProjectIdFetch"`
		UseContextSystemPrompt *bool `json:"useContextSystemPrompt"`
		PassSignatureToClient  *bool `json:"passSignatureToClient"`
	} `json:"other"`
}

// Load reads the JSON config file at path (falling back to built-in
// defaults for any zero-valued section) and layers the env-file secrets
// described in spec §6 on top.
func Load(path, dataDir string) (*Config, error) {
	cfg := Default()
	cfg.DataDir = dataDir

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			var raw rawConfig
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			applyRaw(cfg, &raw)
		}
	}

	cfg.APIKey = os.Getenv("API_KEY")
	cfg.AdminUsername = envOr("ADMIN_USERNAME", "")
	cfg.AdminPassword = envOr("ADMIN_PASSWORD", "")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.Proxy = os.Getenv("PROXY")
	cfg.SystemInstruction = os.Getenv("SYSTEM_INSTRUCTION")
	cfg.ImageBaseURL = os.Getenv("IMAGE_BASE_URL")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	cfg.OAuthTokenURL = envOr("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token")
	cfg.OAuthClientID = os.Getenv("OAUTH_CLIENT_ID")
	cfg.ProjectIDURL = envOr("PROJECT_ID_URL", "https://antigravity.googleapis.com/v1/project")
	cfg.LogLevel = envOr("LOG_LEVEL", "info")
	cfg.DBPath = envOr("DB_PATH", dataDir+"/gateway.db")
	cfg.AccountFilePath = envOr("ACCOUNT_FILE", dataDir+"/accounts.json")

	return cfg, nil
}

func applyRaw(cfg *Config, raw *rawConfig) {
	if raw.Server.Port != 0 {
		cfg.Server.Port = raw.Server.Port
	}
	if raw.Server.Host != "" {
		cfg.Server.Host = raw.Server.Host
	}
	if raw.Server.HeartbeatInterval != 0 {
		cfg.Server.HeartbeatInterval = time.Duration(raw.Server.HeartbeatInterval) * time.Millisecond
	}
	if raw.Server.MemoryThreshold != 0 {
		cfg.Server.MemoryThreshold = raw.Server.MemoryThreshold
	}
	if raw.Server.MaxRequestSize != 0 {
		cfg.Server.MaxRequestSize = raw.Server.MaxRequestSize
	}
	if raw.Rotation.Strategy != "" {
		cfg.Rotation = raw.Rotation
	}
	if raw.API.URL != "" {
		cfg.API = raw.API
	}
	if raw.Defaults != (DefaultsConfig{}) {
		cfg.Defaults = raw.Defaults
	}
	if raw.Cache.ModelListTTL != 0 {
		cfg.Cache.ModelListTTL = time.Duration(raw.Cache.ModelListTTL) * time.Millisecond
	}
	if raw.Other.Timeout != 0 {
		cfg.Other.Timeout = time.Duration(raw.Other.Timeout) * time.Millisecond
	}
	if raw.Other.RetryTimes != 0 {
		cfg.Other.RetryTimes = raw.Other.RetryTimes
	}
	cfg.Other.SkipProjectIDFetch = raw.Other.SkipProjectIDFetch
	if raw.Other.UseContextSystemPrompt != nil {
		cfg.Other.UseContextSystemPrompt = *raw.Other.UseContextSystemPrompt
	}
	if raw.Other.PassSignatureToClient != nil {
		cfg.Other.PassSignatureToClient = *raw.Other.PassSignatureToClient
	}
}

// Default returns the built-in defaults used when the JSON config omits a
// section entirely.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			Host:              "0.0.0.0",
			HeartbeatInterval: 15 * time.Second,
			MemoryThreshold:   0,
			MaxRequestSize:    60 << 20,
		},
		Rotation: RotationConfig{Strategy: "ROUND_ROBIN", RequestCount: 5},
		API: APIConfig{
			URL:         "https://antigravity.googleapis.com/v1/generate:stream",
			ModelsURL:   "https://antigravity.googleapis.com/v1/models",
			NoStreamURL: "https://antigravity.googleapis.com/v1/generate",
			Host:        "antigravity.googleapis.com",
			UserAgent:   "antigravity",
		},
		Defaults: DefaultsConfig{
			Temperature:    1.0,
			TopP:           0.95,
			TopK:           64,
			MaxTokens:      8192,
			ThinkingBudget: 0,
		},
		Cache: CacheConfig{ModelListTTL: 5 * time.Minute},
		Other: OtherConfig{
			Timeout:                5 * time.Minute,
			RetryTimes:             3,
			SkipProjectIDFetch:     false,
			UseContextSystemPrompt: true,
			PassSignatureToClient:  true,
		},
	}
}

func (c *Config) Validate() error {
	if c.API.URL == "" {
		return errMissing("api.url")
	}
	if c.EncryptionKey == "" {
		return errMissing("ENCRYPTION_KEY")
	}
	return nil
}

type configError struct{ field string }

func (e *configError) Error() string { return "config: missing required field: " + e.field }
func errMissing(f string) error      { return &configError{field: f} }

func envOr(key, fallback string) string {
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
