package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"net/url"
	"os"
	"slices"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/courier/internal/core/validate"
)

// minAuthKeyLength is the shortest auth key accepted without a warning.
const minAuthKeyLength = 16

// ValidationWarning represents a non-fatal configuration issue. Item is the
// config field the warning is about, in the same form as validation errors.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Validate checks the configuration for values courier cannot run without.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.DataDir == "" {
		errs = errs.Append("data_dir", errors.New("data directory cannot be empty"))
	}
	if c.AppID == "" {
		errs = errs.Append("app_id", errors.New("cannot be empty"))
	}
	if c.ProviderID == "" {
		errs = errs.Append("provider_id", errors.New("cannot be empty"))
	}
	if c.AuthKey == "" {
		errs = errs.Append("auth_key", fmt.Errorf("must be set in the config file or %s", EnvAuthKey))
	}
	if c.NonceTTL < 0 {
		errs = errs.Append("nonce_ttl", errors.New("cannot be negative"))
	}
	if c.Identity.TokenTTL < 0 {
		errs = errs.Append("identity.token_ttl", errors.New("cannot be negative"))
	}
	if c.Outbox.MaxPending < 0 {
		errs = errs.Append("outbox.max_pending", errors.New("cannot be negative"))
	}

	return errs.ToError()
}

// ValidateDeep performs comprehensive validation of the configuration.
// Unlike Validate(), this checks file access, the identity provider URL and
// the listen address.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	if err := c.Validate(); err != nil {
		var fieldErrs criterio.FieldErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = errs.Append(fe.Field, fe.Err)
			}
		} else {
			errs = errs.Append("", err)
		}
	}

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil {
			if info.IsDir() {
				errs = errs.Append("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
			}
		} else if !os.IsNotExist(err) {
			errs = errs.Append("config_file", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if c.DataDir != "" {
		if info, err := os.Stat(c.DataDir); err == nil {
			if !info.IsDir() {
				errs = errs.Append("data_dir", fmt.Errorf("%s exists but is not a directory", c.DataDir))
			}
		} else if !os.IsNotExist(err) {
			errs = errs.Append("data_dir", fmt.Errorf("cannot access %s: %w", c.DataDir, err))
		}
	}

	if c.Identity.URL != "" {
		u, err := url.Parse(c.Identity.URL)
		switch {
		case err != nil:
			errs = errs.Append("identity.url", fmt.Errorf("invalid url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = errs.Append("identity.url", fmt.Errorf("unsupported scheme %q, use http or https", u.Scheme))
		case u.Host == "":
			errs = errs.Append("identity.url", errors.New("missing host"))
		}
	}

	if _, _, err := net.SplitHostPort(c.Identity.Listen); err != nil {
		errs = errs.Append("identity.listen", fmt.Errorf("invalid address %q: %w", c.Identity.Listen, err))
	}

	for identity, name := range c.DisplayNames {
		if name == "" {
			errs = errs.Append("display_names."+identity, errors.New("display name cannot be empty"))
		}
	}

	return errs.ToError()
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.AuthKey != "" && len(c.AuthKey) < minAuthKeyLength {
		warnings = append(warnings, ValidationWarning{
			Category: "Credentials",
			Item:     "auth_key",
			Message:  fmt.Sprintf("shorter than %d characters", minAuthKeyLength),
		})
	}

	if c.Identity.URL == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Identity",
			Item:     "identity.url",
			Message:  "not set; an embedded identity provider is used",
		})
	} else if u, err := url.Parse(c.Identity.URL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		warnings = append(warnings, ValidationWarning{
			Category: "Identity",
			Item:     "identity.url",
			Message:  "identity tokens are requested over plain http",
		})
	}

	for _, id := range slices.Sorted(maps.Keys(c.DisplayNames)) {
		if err := validate.Identity(id); err != nil {
			warnings = append(warnings, ValidationWarning{
				Category: "Display Names",
				Item:     "display_names." + id,
				Message:  fmt.Sprintf("never matches a participant: %v", err),
			})
		}
	}

	return warnings
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
