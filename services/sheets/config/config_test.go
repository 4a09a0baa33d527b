// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "sheets.yaml", `
mode: batch
store:
  backend: badger
  path: /tmp/sheets
log:
  level: debug
  json: true
window: A1:D20
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "batch", cfg.Mode)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "/tmp/sheets", cfg.Store.Path)
	assert.Equal(t, "sheets:", cfg.Store.RedisPrefix, "defaults survive partial files")
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "A1:D20", cfg.Window)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "bad.yaml", "mode: [unclosed"), "")
		assert.Error(t, err)
	})
	t.Run("missing env file is ignored", func(t *testing.T) {
		_, err := Load("", filepath.Join(t.TempDir(), ".env"))
		assert.NoError(t, err)
	})
}

func TestLoad_EnvFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	env := writeFile(t, ".env", "SHEETS_MODE=batch\nSHEETS_LOG_LEVEL=debug\n")
	t.Cleanup(func() { os.Unsetenv(EnvMode) })

	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, "batch", cfg.Mode)
	assert.Equal(t, "warn", cfg.Log.Level, "real environment wins over .env")
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		EnvStoreBackend: "redis",
		EnvRedisAddr:    "localhost:6379",
		EnvRedisPrefix:  "test:",
		EnvLogJSON:      "true",
		EnvStoreMemory:  "1",
		EnvWindow:       "300x50",
	}))
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "test:", cfg.Store.RedisPrefix)
	assert.True(t, cfg.Log.JSON)
	assert.True(t, cfg.Store.InMemory)
	assert.Equal(t, "300x50", cfg.Window)
	require.NoError(t, cfg.Validate())

	err = cfg.ApplyEnv(lookupFrom(map[string]string{EnvLogJSON: "maybe"}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"upper case mode", func(c *Config) { c.Mode = "BATCH" }, true},
		{"unknown mode", func(c *Config) { c.Mode = "lazy" }, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }, false},
		{"badger without path", func(c *Config) { c.Store.Backend = BackendBadger }, false},
		{"badger in memory", func(c *Config) {
			c.Store.Backend = BackendBadger
			c.Store.InMemory = true
		}, true},
		{"redis without addr", func(c *Config) { c.Store.Backend = BackendRedis }, false},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"empty level", func(c *Config) { c.Log.Level = "" }, true},
		{"overlapping window", func(c *Config) { c.Window = "A1:B2,B2:C3" }, false},
		{"pixel window", func(c *Config) { c.Window = "640x480" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = "A1:B2"
	data, err := cfg.Marshal()
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}
