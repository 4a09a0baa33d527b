// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the sheets configuration.
//
// Sources, lowest precedence first:
//
//  1. DefaultConfig
//  2. A YAML file (sheets.yaml)
//  3. A .env file, which only sets variables that are not already set
//  4. SHEETS_* environment variables
//
// The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSheets/services/sheets/delta"
)

// Environment variables that override the file.
const (
	EnvMode         = "SHEETS_MODE"
	EnvStoreBackend = "SHEETS_STORE_BACKEND"
	EnvStorePath    = "SHEETS_STORE_PATH"
	EnvStoreMemory  = "SHEETS_STORE_IN_MEMORY"
	EnvRedisAddr    = "SHEETS_REDIS_ADDR"
	EnvRedisPrefix  = "SHEETS_REDIS_PREFIX"
	EnvLogLevel     = "SHEETS_LOG_LEVEL"
	EnvLogJSON      = "SHEETS_LOG_JSON"
	EnvLogDir       = "SHEETS_LOG_DIR"
	EnvWindow       = "SHEETS_WINDOW"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete configuration.
type Config struct {
	// Mode is "immediate" or "batch".
	Mode string `yaml:"mode" validate:"oneof=immediate batch IMMEDIATE BATCH"`

	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`

	// Window is the default delta window: "", "A1:B2[,C3:D4]" or "WxH".
	Window string `yaml:"window" validate:"window"`
}

// StoreConfig selects and configures the store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory badger redis"`

	// Path is the BadgerDB directory. Required for badger unless InMemory.
	Path     string `yaml:"path" validate:"required_if=Backend badger InMemory false"`
	InMemory bool   `yaml:"in_memory"`

	// RedisAddr is "host:port" or a redis:// URL.
	RedisAddr   string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns an in-process memory setup logging at info.
func DefaultConfig() Config {
	return Config{
		Mode:  "immediate",
		Store: StoreConfig{Backend: BackendMemory, RedisPrefix: "sheets:"},
		Log:   LogConfig{Level: "info"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("window", validateWindow)
	return v
}

func validateWindow(fl validator.FieldLevel) bool {
	_, err := delta.ParseWindow(fl.Field().String())
	return err == nil
}

// Load reads the configuration.
//
// Description:
//
//	Starts from DefaultConfig, overlays path when non-empty, loads envFile
//	when non-empty (a missing envFile is ignored), applies SHEETS_*
//	variables and validates the result.
//
// Inputs:
//
//	path - YAML file. Empty means defaults only.
//	envFile - dotenv file, typically ".env".
//
// Outputs:
//
//	Config - The validated configuration.
//	error - Read, parse or ErrInvalidConfig failures.
func Load(path, envFile string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays SHEETS_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, name, v, err)
		}
		*dst = b
		return nil
	}

	str(EnvMode, &c.Mode)
	str(EnvStoreBackend, &c.Store.Backend)
	str(EnvStorePath, &c.Store.Path)
	str(EnvRedisAddr, &c.Store.RedisAddr)
	str(EnvRedisPrefix, &c.Store.RedisPrefix)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogDir, &c.Log.Dir)
	str(EnvWindow, &c.Window)
	if err := boolean(EnvStoreMemory, &c.Store.InMemory); err != nil {
		return err
	}
	return boolean(EnvLogJSON, &c.Log.JSON)
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, len(fieldErrs))
			for i, fe := range fieldErrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
