package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"docqa/internal/models"
)

// CredentialSource is one place an API key may be found.
// Lookup returns ok=false when the source has no value.
type CredentialSource interface {
	Name() string
	Lookup() (value string, ok bool, err error)
}

// ResolveCredential returns the first non-empty value in source order.
func ResolveCredential(sources ...CredentialSource) (string, error) {
	var names []string
	for _, src := range sources {
		if src == nil {
			continue
		}
		names = append(names, src.Name())
		value, ok, err := src.Lookup()
		if err != nil {
			return "", fmt.Errorf("credential source %s: %w", src.Name(), err)
		}
		value = strings.TrimSpace(value)
		if ok && value != "" {
			log.Debug().Str("source", src.Name()).Msg("Resolved credential")
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", models.ErrMissingCredential, strings.Join(names, ", "))
}

// DefaultSources returns the non-interactive sources for cfg:
// config file, dotenv file, then the process environment.
func (c *Config) DefaultSources() []CredentialSource {
	return []CredentialSource{
		StaticSource{Label: "config", Value: firstNonEmpty(c.InferenceLLM.Key, c.EmbedLLM.Key)},
		DotenvSource{Path: c.Credential.Dotenv, Key: c.Credential.Env},
		EnvSource{Key: c.Credential.Env},
	}
}

type StaticSource struct {
	Label string
	Value string
}

func (s StaticSource) Name() string { return s.Label }

func (s StaticSource) Lookup() (string, bool, error) {
	return s.Value, s.Value != "", nil
}

type EnvSource struct {
	Key string
}

func (s EnvSource) Name() string { return "env:" + s.Key }

func (s EnvSource) Lookup() (string, bool, error) {
	if s.Key == "" {
		return "", false, nil
	}
	v, ok := os.LookupEnv(s.Key)
	return v, ok, nil
}

// DotenvSource reads Key from a .env file without touching the process environment.
type DotenvSource struct {
	Path string
	Key  string
}

func (s DotenvSource) Name() string { return "dotenv:" + s.Path }

func (s DotenvSource) Lookup() (string, bool, error) {
	if s.Path == "" || s.Key == "" {
		return "", false, nil
	}
	values, err := godotenv.Read(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	v, ok := values[s.Key]
	return v, ok, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
