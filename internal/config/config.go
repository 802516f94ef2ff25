// Package config loads and validates the JSON configuration file.
// Validation itself is the same on every load; the caller decides
// whether a failure is fatal (first load) or downgrades to skipping
// the reload (any later load).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/alexjbarnes/voipnow-mcp/internal/errors"
	"github.com/alexjbarnes/voipnow-mcp/internal/token"
)

// requiredKeys must all be present in the configuration file.
var requiredKeys = []string{"appId", "appSecret", "voipnowHost", "voipnowTokenFile"}

// optionalKeys may be present; anything else is rejected.
var optionalKeys = []string{"authTokenMCP", "logLevel", "insecure"}

// Config is a validated configuration document.
type Config struct {
	AppID     string
	AppSecret string
	Host      string
	TokenFile string // absolute path
	AuthToken string // bearer token for secure mode, may be a bcrypt hash
	LogLevel  string
	Insecure  bool
}

// Load reads, parses, and validates the configuration file. secure
// controls whether authTokenMCP is required.
func Load(path string, secure bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return Validate(raw, secure)
}

// Validate checks a raw configuration document and returns the typed
// configuration. Error messages name keys, never values: appSecret and
// authTokenMCP must not leak into logs.
func Validate(raw map[string]any, secure bool) (*Config, error) {
	var missing []string

	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingKeys, strings.Join(missing, ", "))
	}

	var extra []string

	for key := range raw {
		if !isAllowed(key) {
			extra = append(extra, key)
		}
	}

	if len(extra) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrExtraKeys, strings.Join(extra, ", "))
	}

	cfg := &Config{}

	var err error
	if cfg.AppID, err = stringValue(raw, "appId"); err != nil {
		return nil, err
	}

	if cfg.AppSecret, err = stringValue(raw, "appSecret"); err != nil {
		return nil, err
	}

	if cfg.Host, err = stringValue(raw, "voipnowHost"); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(cfg.Host, "http://") && !strings.HasPrefix(cfg.Host, "https://") {
		return nil, apperrors.ErrBadHostURL
	}

	tokenFile, err := stringValue(raw, "voipnowTokenFile")
	if err != nil {
		return nil, err
	}

	if tokenFile == "" {
		return nil, apperrors.ErrMissingTokenFile
	}

	if cfg.TokenFile, err = filepath.Abs(tokenFile); err != nil {
		return nil, fmt.Errorf("resolving voipnowTokenFile: %w", err)
	}

	if v, ok := raw["authTokenMCP"]; ok {
		s, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("authTokenMCP must be a string")
		}

		cfg.AuthToken = s
	}

	if secure && cfg.AuthToken == "" {
		return nil, apperrors.ErrMissingAuthToken
	}

	if v, ok := raw["logLevel"]; ok {
		s, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("logLevel must be a string")
		}

		cfg.LogLevel = s
	}

	// insecure accepts a JSON boolean or the string "true".
	if v, ok := raw["insecure"]; ok {
		cfg.Insecure = v == true || v == "true"
	}

	return cfg, nil
}

// Fingerprint returns the digest over the auth-relevant fields. A
// change in any of them invalidates the token on disk.
func (c *Config) Fingerprint() string {
	return token.Fingerprint(c.AppID, c.AppSecret, c.Host)
}

func isAllowed(key string) bool {
	for _, k := range requiredKeys {
		if key == k {
			return true
		}
	}

	for _, k := range optionalKeys {
		if key == k {
			return true
		}
	}

	return false
}

func stringValue(raw map[string]any, key string) (string, error) {
	s, ok := raw[key].(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}

	return s, nil
}
