// Package config loads ResearchBuddy settings from TOML.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Chat     ChatConfig     `toml:"chat"`
	Paths    PathsConfig    `toml:"paths"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

type ProviderConfig struct {
	BaseURL   string   `toml:"base_url"`
	ImagePath string   `toml:"image_path"`
	Timeout   Duration `toml:"timeout"`
	ImageSize string   `toml:"image_size"`
}

type ChatConfig struct {
	DefaultModel   string  `toml:"default_model"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	MaxTokensLimit int     `toml:"max_tokens_limit"`
	HistoryWindow  int     `toml:"history_window"`
}

type PathsConfig struct {
	DataDir  string `toml:"data_dir"`
	Database string `toml:"database"`
	Secrets  string `toml:"secrets"`
	Exports  string `toml:"exports"`
	LogFile  string `toml:"log_file"`
}

type ServerConfig struct {
	Addr       string  `toml:"addr"`
	AdminRate  float64 `toml:"admin_rate"`
	AdminBurst int     `toml:"admin_burst"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Console    bool   `toml:"console"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Duration decodes TOML strings like "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return ".researchbuddy"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "researchbuddy")
}

// DefaultPath is where Load looks when no -config flag is given.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.toml")
}

func Default() *Config {
	dataDir := configDir()
	return &Config{
		Provider: ProviderConfig{
			BaseURL:   "https://api.euron.one/api/v1/euri/alpha/",
			ImagePath: "images/generate",
			Timeout:   Duration{60 * time.Second},
			ImageSize: "512x512",
		},
		Chat: ChatConfig{
			DefaultModel:   "OpenAI GPT 4.1 Nano",
			Temperature:    0.7,
			MaxTokens:      1000,
			MaxTokensLimit: 3000,
			HistoryWindow:  10,
		},
		Paths: PathsConfig{
			DataDir:  dataDir,
			Database: filepath.Join(dataDir, "chat_logs.db"),
			Secrets:  filepath.Join(dataDir, "secrets.toml"),
			Exports:  filepath.Join(dataDir, "exports"),
			LogFile:  filepath.Join(dataDir, "researchbuddy.log"),
		},
		Server: ServerConfig{
			Addr:       "127.0.0.1:8080",
			AdminRate:  1,
			AdminBurst: 5,
		},
		Log: LogConfig{
			Level:      "info",
			Console:    false,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load overlays the file at path on top of Default. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	expandPaths(cfg)
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

func expandPaths(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	for _, p := range []*string{
		&cfg.Paths.DataDir,
		&cfg.Paths.Database,
		&cfg.Paths.Secrets,
		&cfg.Paths.Exports,
		&cfg.Paths.LogFile,
	} {
		if *p == "~" {
			*p = home
		} else if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}
}
