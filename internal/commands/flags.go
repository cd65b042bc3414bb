package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hay-kot/courier/internal/backend/local"
	"github.com/hay-kot/courier/internal/core/config"
	"github.com/hay-kot/courier/internal/core/validate"
	"github.com/hay-kot/courier/internal/courier"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	EnvFile    string

	// User is the identity commands act as.
	User string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Backend is the file-backed messaging service shared by all commands.
	Backend *local.Service

	// Service is the courier service for messaging operations
	Service *courier.Service
}

// Authenticate authenticates the service as the user given by --user.
func (f *Flags) Authenticate(ctx context.Context) error {
	if f.User == "" {
		return errors.New("no user set: pass --user or set COURIER_USER")
	}
	if err := validate.Identity(f.User); err != nil {
		return fmt.Errorf("--user: %w", err)
	}
	return f.Service.Authenticate(ctx, f.User)
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "courier", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "courier")
}
