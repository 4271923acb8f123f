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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no path is given and TRUTHWINDOW_CONFIG is unset.
const DefaultPath = "truthwindow.yaml"

// Load reads the configuration and applies environment overrides.
//
// # Description
//
// Resolution order for the file: path, then $TRUTHWINDOW_CONFIG, then
// DefaultPath. An explicitly named file must exist; a missing DefaultPath
// means "defaults only". Environment variables override file values.
//
// # Outputs
//
//   - TruthwindowConfig: Merged configuration with defaults applied.
//   - error: Non-nil if a named file is missing or any file fails to parse.
func Load(path string) (TruthwindowConfig, error) {
	cfg := DefaultConfig()

	explicit := true
	if path == "" {
		path = os.Getenv("TRUTHWINDOW_CONFIG")
	}
	if path == "" {
		path = DefaultPath
		explicit = false
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyConfigDefaults(&cfg)
	return cfg, nil
}

// WriteDefault creates path with DefaultConfig. Existing files are never
// overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create the config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnv overrides file values with any set environment variable.
func applyEnv(cfg *TruthwindowConfig) {
	s := &cfg.Server
	s.Port = getEnvInt("TRUTHWINDOW_PORT", s.Port)
	s.GinMode = getEnvString("GIN_MODE", s.GinMode)
	s.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.StoreBackend = getEnvString("STORE_BACKEND", s.StoreBackend)
	s.DataDir = getEnvString("DATA_DIR", s.DataDir)
	s.WeaviateURL = getEnvString("WEAVIATE_URL", s.WeaviateURL)
	s.TopK = getEnvInt("TOP_K", s.TopK)
	s.EmbeddingModel = getEnvString("EMBEDDING_MODEL", s.EmbeddingModel)
	s.EmbeddingDimensions = getEnvInt("EMBEDDING_DIMENSIONS", s.EmbeddingDimensions)
	s.LLMBackend = getEnvString("LLM_BACKEND", s.LLMBackend)
	s.OpenAIModel = getEnvString("OPENAI_MODEL", s.OpenAIModel)
	s.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", s.OpenAIBaseURL)
	s.OpenAIKeyFile = getEnvString("OPENAI_API_KEY_FILE", s.OpenAIKeyFile)
	s.OllamaURL = getEnvString("OLLAMA_URL", s.OllamaURL)
	s.OllamaModel = getEnvString("OLLAMA_MODEL", s.OllamaModel)
	s.APIKeys = getEnvList("API_KEYS", s.APIKeys)
	s.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", s.AllowedOrigins)
	s.CredentialsFile = getEnvString("CREDENTIALS_FILE", s.CredentialsFile)
	s.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", s.RateLimitPerMinute)
	s.RetentionDays = getEnvInt("RETENTION_DAYS", s.RetentionDays)
	s.RetentionInterval = getEnvDuration("RETENTION_INTERVAL", s.RetentionInterval)
	s.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", s.OTelEndpoint)
	s.TraceStdout = getEnvBool("TRACE_STDOUT", s.TraceStdout)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvString("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Dir = getEnvString("LOG_DIR", cfg.Logging.Dir)

	cfg.Backup.Bucket = getEnvString("GCS_BUCKET", cfg.Backup.Bucket)
	cfg.Backup.CredentialsFile = getEnvString("GCS_CREDENTIALS_FILE", cfg.Backup.CredentialsFile)
	cfg.Backup.Prefix = getEnvString("GCS_PREFIX", cfg.Backup.Prefix)
}

// applyConfigDefaults fills the CLI-only sections. Server defaults are
// applied by orchestrator.New.
func applyConfigDefaults(cfg *TruthwindowConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Backup.Prefix == "" {
		cfg.Backup.Prefix = "sessions"
	}
}

// =============================================================================
// Environment helpers
// =============================================================================

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "1h").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
