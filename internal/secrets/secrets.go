// Package secrets fills {{secret:NAME}} placeholders in insert values so
// credentials stay out of sites.toml.
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Franzelswarnmps/R-AutoBuy/internal/config"
	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

// EnvPrefix prefixes environment variables that provide secrets.
// AUTOBUY_SECRET_EMAIL provides {{secret:EMAIL}}.
const EnvPrefix = "AUTOBUY_SECRET_"

var (
	placeholder = regexp.MustCompile(`\{\{\s*secret:([A-Za-z0-9_]+)\s*\}\}`)
	validName   = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Store resolves secret names. Environment variables win over the file.
type Store struct {
	values map[string]string
	getenv func(string) (string, bool)
}

// NewStore creates a store over fixed values plus the environment.
func NewStore(values map[string]string) *Store {
	if values == nil {
		values = map[string]string{}
	}
	return &Store{values: values, getenv: os.LookupEnv}
}

// Load reads a flat TOML file of NAME = "value" pairs. A missing file
// gives an environment-only store.
func Load(path string) (*Store, error) {
	values := map[string]string{}
	if path == "" {
		return NewStore(values), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			L_debug("secrets: no secrets file", "path", path)
			return NewStore(values), nil
		}
		return nil, fmt.Errorf("failed to stat secrets: %w", err)
	}
	if info.Mode().Perm()&0077 != 0 {
		L_warn("secrets: file is readable by others", "path", path, "mode", info.Mode().Perm().String())
	}

	if _, err := toml.DecodeFile(path, &values); err != nil {
		return nil, fmt.Errorf("failed to parse secrets %s: %w", path, err)
	}
	L_debug("secrets: loaded", "path", path, "count", len(values))
	return NewStore(values), nil
}

// Lookup returns the secret called name.
func (s *Store) Lookup(name string) (string, bool) {
	if v, ok := s.getenv(EnvPrefix + strings.ToUpper(name)); ok {
		return v, true
	}
	v, ok := s.values[name]
	return v, ok
}

// Expand replaces every placeholder in v. Unknown names are an error.
func (s *Store) Expand(v string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(v, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		val, ok := s.Lookup(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unknown secret %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Apply expands placeholders in every insert value of cfg, the captcha
// API key and the notification token.
func Apply(cfg *config.Config, s *Store) error {
	var errs []error
	if err := cfg.MapInsertValues(s.Expand); err != nil {
		errs = append(errs, err)
	}
	for _, field := range []struct {
		name string
		v    *string
	}{
		{"captcha api_key", &cfg.Captcha.APIKey},
		{"notify telegram_token", &cfg.Notify.TelegramToken},
	} {
		v, err := s.Expand(*field.v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
			continue
		}
		*field.v = v
	}
	return errors.Join(errs...)
}

// Set stores name = value in the secrets file at path, creating it with
// owner-only permissions.
func Set(path, name, value string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid secret name %q (letters, digits and _ only)", name)
	}

	values := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &values); err != nil {
			return fmt.Errorf("failed to parse secrets %s: %w", path, err)
		}
	}
	values[name] = value

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(values); err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}
	if err := config.AtomicWrite(path, buf.Bytes(), 0600); err != nil {
		return err
	}
	L_debug("secrets: stored", "path", path, "name", name)
	return nil
}
