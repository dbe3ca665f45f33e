package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvLogLevel      = "TASKMGR_LOG_LEVEL"
	EnvStatusAddr    = "TASKMGR_STATUS_ADDR"
	EnvStorageDriver = "TASKMGR_STORAGE_DRIVER"
	EnvStoragePath   = "TASKMGR_STORAGE_PATH"
	EnvAsync         = "TASKMGR_ASYNC"
)

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays the TASKMGR_* variables on cfg.
func ApplyEnv(cfg *Config) error {
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := lookup(EnvStatusAddr); ok {
		cfg.Status.Addr = v
		cfg.Status.Enabled = true
	}
	if v, ok := lookup(EnvStorageDriver); ok {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Driver = v
	}
	if v, ok := lookup(EnvStoragePath); ok {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Path = v
	}
	if v, ok := lookup(EnvAsync); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New(EnvAsync + ": " + err.Error())
		}
		cfg.Async.Enabled = b
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
