// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads and saves the payplan service configuration, a
// plain key = value file under the data directory.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store backend names.
const (
	StoreBolt   = "bolt"
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Config holds the service configuration.
type Config struct {
	DataDir    string
	Store      string
	MongoURI   string
	MongoDB    string
	RedisAddr  string
	ListenAddr string
	LogLevel   string
	Workers    int
}

// DefaultDataDir returns ~/.payplan, or .payplan when the home directory
// cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".payplan"
	}
	return filepath.Join(home, ".payplan")
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		DataDir:    DefaultDataDir(),
		Store:      StoreBolt,
		MongoDB:    "payplan",
		ListenAddr: ":8080",
		LogLevel:   "info",
		Workers:    4,
	}
}

// ConfigPath returns the config file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config")
}

// BoltPath returns the bbolt ledger file inside dataDir.
func BoltPath(dataDir string) string {
	return filepath.Join(dataDir, "ledger.db")
}

// PlanPath returns the plan JSON file inside dataDir.
func PlanPath(dataDir string) string {
	return filepath.Join(dataDir, "plan.json")
}

// LoadConfig reads path on top of DefaultConfig. Blank lines and lines
// starting with '#' are skipped; unknown keys are ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, ErrConfigNotFound
	}
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d: %q", err, lineNo, line)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("%w: line %d: %v", ErrInvalidConfigLine, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

// parseKeyValue splits a line on its first '='.
func parseKeyValue(line string) (string, string, error) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", ErrInvalidConfigLine
	}
	return strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value), nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "datadir":
		c.DataDir = value
	case "store":
		c.Store = strings.ToLower(value)
	case "mongouri":
		c.MongoURI = value
	case "mongodb":
		c.MongoDB = value
	case "redisaddr":
		c.RedisAddr = value
	case "listen":
		c.ListenAddr = value
	case "loglevel":
		c.LogLevel = value
	case "workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("workers: %w", err)
		}
		c.Workers = n
	}
	return nil
}

// SaveConfig writes cfg to path, creating parent directories as needed.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Payplan Configuration\n\n")
	fmt.Fprintf(&b, "datadir = %s\n", cfg.DataDir)
	fmt.Fprintf(&b, "store = %s\n", cfg.Store)
	fmt.Fprintf(&b, "mongouri = %s\n", cfg.MongoURI)
	fmt.Fprintf(&b, "mongodb = %s\n", cfg.MongoDB)
	fmt.Fprintf(&b, "redisaddr = %s\n", cfg.RedisAddr)
	fmt.Fprintf(&b, "listen = %s\n", cfg.ListenAddr)
	fmt.Fprintf(&b, "loglevel = %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "workers = %d\n", cfg.Workers)

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// envKeys maps environment variables to config keys.
var envKeys = []struct{ env, key string }{
	{"PAYPLAN_DATADIR", "datadir"},
	{"PAYPLAN_STORE", "store"},
	{"PAYPLAN_MONGO_URI", "mongouri"},
	{"PAYPLAN_MONGO_DB", "mongodb"},
	{"PAYPLAN_REDIS_ADDR", "redisaddr"},
	{"PAYPLAN_LISTEN", "listen"},
	{"PAYPLAN_LOG_LEVEL", "loglevel"},
	{"PAYPLAN_WORKERS", "workers"},
}

// ApplyEnv overrides cfg with any PAYPLAN_* environment variables that are
// set.
func ApplyEnv(cfg *Config) error {
	for _, ek := range envKeys {
		value, ok := os.LookupEnv(ek.env)
		if !ok {
			continue
		}
		if err := cfg.set(ek.key, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("config: %s: %w", ek.env, err)
		}
	}
	return nil
}
