package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

// envFiles are tried in order; godotenv.Load never overrides variables already set.
var envFiles = []string{".env", ".env.local"}

func loadEnvFiles() {
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "Note: %s could not be loaded: %v\n", path, err)
		}
	}
}

// LookupFunc matches os.LookupEnv so tests can supply a fixed environment.
type LookupFunc func(key string) (string, bool)

// ApplyEnvOverrides applies the deployment environment variables on top of file values.
//
//	PORT               server.port
//	LATEX_ENGINE       build.default_engine
//	BIBTEX_CMD         build.bib_command
//	COMPILE_TIMEOUT    build.pass_timeout (seconds)
//	AUTH_TOKEN         server.auth_token
//	MAX_REQUEST_SIZE   server.max_request_mb
//	PERSISTENT_STORAGE workspace.root
//	NATS_URL           notify.nats_url
func ApplyEnvOverrides(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return envError("PORT", v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := get("LATEX_ENGINE"); ok {
		cfg.Build.DefaultEngine = v
	}
	if v, ok := get("BIBTEX_CMD"); ok {
		cfg.Build.BibCommand = v
	}
	if v, ok := get("COMPILE_TIMEOUT"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return envError("COMPILE_TIMEOUT", v, err)
		}
		cfg.Build.PassTimeout = time.Duration(secs) * time.Second
	}
	if v, ok := get("AUTH_TOKEN"); ok {
		cfg.Server.AuthToken = v
	}
	if v, ok := get("MAX_REQUEST_SIZE"); ok {
		mb, err := strconv.Atoi(v)
		if err != nil {
			return envError("MAX_REQUEST_SIZE", v, err)
		}
		cfg.Server.MaxRequestMB = mb
	}
	if v, ok := get("PERSISTENT_STORAGE"); ok {
		cfg.Workspace.Root = v
	}
	if v, ok := get("NATS_URL"); ok {
		cfg.Notify.NATSURL = v
	}
	return nil
}

func envError(key, value string, cause error) error {
	return errors.WrapError(cause, errors.CategoryConfig, fmt.Sprintf("invalid %s value", key)).
		WithContext("variable", key).
		WithContext("value", value).
		Build()
}
