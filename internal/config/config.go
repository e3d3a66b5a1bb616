// Package config loads memopush settings from defaults, an optional YAML
// file, MEMOPUSH_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "MEMOPUSH_"

// Push bounds. Values outside are clamped back to the default with a
// warning rather than rejected.
const (
	MinActive = 1
	MaxActive = 50

	MinDueHours = 1
	MaxDueHours = 720

	DefaultActive   = 5
	DefaultDueHours = 24
)

// LLM configures the reasoning service.
type LLM struct {
	Key     string `koanf:"key"`
	URL     string `koanf:"url" validate:"omitempty,url"`
	Model   string `koanf:"model"`
	Timeout int    `koanf:"timeout" validate:"gte=0"`
}

// PushConfig bounds the scheduler.
type PushConfig struct {
	Cap       int     `koanf:"cap"`
	DueHours  int     `koanf:"due"`
	Threshold float64 `koanf:"threshold" validate:"gte=0,lte=7"`
	Debug     bool    `koanf:"debug"`
}

// Vault points at the notes repository to review.
type Vault struct {
	URL  string `koanf:"url"`
	Path string `koanf:"path"`
}

type Config struct {
	DB       string     `koanf:"db" validate:"required"`
	Listen   string     `koanf:"listen" validate:"required"`
	Language string     `koanf:"language" validate:"required"`
	Refresh  string     `koanf:"refresh" validate:"required"`
	LLM      LLM        `koanf:"llm"`
	Push     PushConfig `koanf:"push"`
	Vault    Vault      `koanf:"vault"`
}

func Default() Config {
	return Config{
		DB:       "memopush.db",
		Listen:   ":8799",
		Language: "en",
		Refresh:  "@every 1h",
		LLM: LLM{
			URL:     "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 60,
		},
		Push: PushConfig{
			Cap:       DefaultActive,
			DueHours:  DefaultDueHours,
			Threshold: 0,
		},
		Vault: Vault{
			Path: "vault",
		},
	}
}

// Load merges the configuration sources on top of Default. The file is
// optional; a missing path is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return cfg, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	// MEMOPUSH_PUSH_CAP=10 becomes push.cap.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, fmt.Errorf("read flags: %w", err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}

	cfg.clamp()
	return cfg, nil
}

// clamp pins out-of-range push settings to the nearest bound so a bad
// value can never stall or flood the scheduler. Zero means unset and
// falls back to the default.
func (c *Config) clamp() {
	if c.Push.Cap == 0 {
		c.Push.Cap = DefaultActive
	} else if c.Push.Cap < MinActive || c.Push.Cap > MaxActive {
		clamped := min(MaxActive, max(MinActive, c.Push.Cap))
		slog.Warn("push cap out of range, clamping",
			"value", c.Push.Cap, "clamped", clamped)
		c.Push.Cap = clamped
	}
	if c.Push.DueHours == 0 {
		c.Push.DueHours = DefaultDueHours
	} else if c.Push.DueHours < MinDueHours || c.Push.DueHours > MaxDueHours {
		clamped := min(MaxDueHours, max(MinDueHours, c.Push.DueHours))
		slog.Warn("push due window out of range, clamping",
			"hours", c.Push.DueHours, "clamped", clamped)
		c.Push.DueHours = clamped
	}
}
