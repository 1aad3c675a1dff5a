package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// ConfigFilePath is the default INI config location. $HOME is expanded at load time.
const ConfigFilePath = "$HOME/.config/dify-relay/config.ini"

// Config keys (INI, [default] section) with environment fallbacks:
// DIFY_API_URL=https://api.dify.ai/v1
// DIFY_API_KEY=app-...            (required)
// DIFY_RESPONSE_MODE=blocking|streaming
// SLACK_CLIENT_ID=...
// SLACK_CLIENT_SECRET=...
// SLACK_SIGNING_SECRET=...
// API_ADDR=:8080
// [postgres] keys are read separately by the db package.
type AppConfig struct {
	DifyAPIURL         string
	DifyAPIKey         string
	DifyResponseMode   string
	SlackClientID      string
	SlackClientSecret  string
	SlackSigningSecret string
	APIAddr            string
}

// Load reads the INI file at ConfigFilePath (or CONFIG_FILE if set) and merges
// environment variables on top of missing keys. A missing file is not an error;
// env-only deployments are supported.
func Load() (*AppConfig, *ini.File, error) {
	path := os.ExpandEnv(ConfigFilePath)
	if v := strings.TrimSpace(os.Getenv("CONFIG_FILE")); v != "" {
		path = os.ExpandEnv(v)
	}
	cfg, err := ini.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		cfg = ini.Empty()
	}
	sec := cfg.Section("default")
	app := &AppConfig{
		DifyAPIURL:         firstNonEmpty(sec.Key("DIFY_API_URL").String(), os.Getenv("DIFY_API_URL"), "https://api.dify.ai/v1"),
		DifyAPIKey:         firstNonEmpty(sec.Key("DIFY_API_KEY").String(), os.Getenv("DIFY_API_KEY")),
		DifyResponseMode:   firstNonEmpty(sec.Key("DIFY_RESPONSE_MODE").String(), os.Getenv("DIFY_RESPONSE_MODE"), "blocking"),
		SlackClientID:      firstNonEmpty(sec.Key("SLACK_CLIENT_ID").String(), os.Getenv("SLACK_CLIENT_ID")),
		SlackClientSecret:  firstNonEmpty(sec.Key("SLACK_CLIENT_SECRET").String(), os.Getenv("SLACK_CLIENT_SECRET")),
		SlackSigningSecret: firstNonEmpty(sec.Key("SLACK_SIGNING_SECRET").String(), os.Getenv("SLACK_SIGNING_SECRET")),
		APIAddr:            firstNonEmpty(sec.Key("API_ADDR").String(), os.Getenv("API_ADDR"), ":8080"),
	}
	return app, cfg, nil
}

// Validate checks the keys the relay cannot run without.
func (a *AppConfig) Validate() error {
	if strings.TrimSpace(a.DifyAPIKey) == "" {
		return fmt.Errorf("config: DIFY_API_KEY missing")
	}
	if a.DifyResponseMode != "blocking" && a.DifyResponseMode != "streaming" {
		return fmt.Errorf("config: DIFY_RESPONSE_MODE must be blocking or streaming, got %q", a.DifyResponseMode)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
