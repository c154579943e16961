package config

import (
	"fmt"
	"slices"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/foundation/normalization"
)

// engineNormalizer holds the engines the pipeline knows how to drive.
var engineNormalizer = normalization.NewNormalizer(map[string]string{
	"pdflatex": "pdflatex",
	"xelatex":  "xelatex",
	"lualatex": "lualatex",
}, "")

// KnownEngines returns the engines the build pipeline supports.
func KnownEngines() []string {
	return engineNormalizer.ValidKeys()
}

// ValidateConfig validates the complete configuration structure.
func ValidateConfig(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	for _, step := range []func() error{v.validateServer, v.validateBuild, v.validateWorkspace} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

type configurationValidator struct {
	config *Config
}

func (cv *configurationValidator) validateServer() error {
	s := cv.config.Server
	if s.Port < 1 || s.Port > 65535 {
		return invalid("server.port", s.Port, "must be between 1 and 65535")
	}
	return nil
}

func (cv *configurationValidator) validateBuild() error {
	b := cv.config.Build
	for _, e := range b.Engines {
		if _, err := engineNormalizer.NormalizeWithError(e); err != nil {
			return invalid("build.engines", e, err.Error())
		}
	}
	if !slices.Contains(b.Engines, b.DefaultEngine) {
		return invalid("build.default_engine", b.DefaultEngine, "must be one of build.engines")
	}
	if b.MaxTimeout < b.PassTimeout {
		return invalid("build.max_timeout", b.MaxTimeout.String(), "must not be shorter than build.pass_timeout")
	}
	return nil
}

func (cv *configurationValidator) validateWorkspace() error {
	w := cv.config.Workspace
	if w.MaxIdle > 0 && w.SweepInterval > w.MaxIdle {
		return invalid("workspace.sweep_interval", w.SweepInterval.String(), "must not exceed workspace.max_idle")
	}
	if w.MaxIdle < 0 {
		return invalid("workspace.max_idle", w.MaxIdle.String(), "must not be negative")
	}
	if cv.config.History.Retention < 0 {
		return invalid("history.retention", cv.config.History.Retention.String(), "must not be negative")
	}
	return nil
}

func invalid(field string, value any, reason string) error {
	return errors.ConfigError(fmt.Sprintf("invalid %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value).
		Build()
}
