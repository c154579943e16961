package build

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// Settings are the pipeline parameters taken from configuration.
type Settings struct {
	Engines        []string
	DefaultEngine  string
	EngineFallback bool
	BibCommand     string
	PassTimeout    time.Duration
	MaxTimeout     time.Duration
	BibTimeout     time.Duration
	LogTailBytes   int
	ExtraArgs      []string
	Env            map[string]string
}

// SettingsFromConfig extracts pipeline settings from a loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Engines:        slices.Clone(cfg.Build.Engines),
		DefaultEngine:  cfg.Build.DefaultEngine,
		EngineFallback: cfg.Build.EngineFallback,
		BibCommand:     cfg.Build.BibCommand,
		PassTimeout:    cfg.Build.PassTimeout,
		MaxTimeout:     cfg.Build.MaxTimeout,
		BibTimeout:     cfg.Build.BibTimeout,
		LogTailBytes:   cfg.Build.LogTailBytes,
		ExtraArgs:      slices.Clone(cfg.Toolchain.ExtraArgs),
		Env:            maps.Clone(cfg.Toolchain.Env),
	}
}

// SelectEngine maps a requested engine name onto a supported engine. An empty
// name selects the default. Unknown names are configuration errors unless
// EngineFallback is set.
func (s Settings) SelectEngine(requested string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(requested))
	if name == "" {
		return s.DefaultEngine, nil
	}
	if slices.Contains(s.Engines, name) {
		return name, nil
	}
	if s.EngineFallback {
		return s.DefaultEngine, nil
	}
	return "", errors.ConfigError(fmt.Sprintf("unsupported engine %q", requested)).
		WithContext("engine", requested).
		WithContext("supported", slices.Clone(s.Engines)).
		Build()
}

// passTimeout applies a per-request override bounded by MaxTimeout.
func (s Settings) passTimeout(override time.Duration) time.Duration {
	if override <= 0 {
		return s.PassTimeout
	}
	if s.MaxTimeout > 0 && override > s.MaxTimeout {
		return s.MaxTimeout
	}
	return override
}

// environ renders Env as sorted KEY=VALUE pairs.
func (s Settings) environ() []string {
	keys := slices.Sorted(maps.Keys(s.Env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}
