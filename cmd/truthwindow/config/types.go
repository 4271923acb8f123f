// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the truthwindow configuration file and applies
// environment overrides.
package config

import (
	"github.com/AleutianAI/truthwindow/services/orchestrator"
)

// TruthwindowConfig is the root of truthwindow.yaml.
//
//	server:
//	  port: 12210
//	  weaviate_url: http://weaviate:8080
//	  retention_days: 180
//	logging:
//	  level: info
//	backup:
//	  bucket: truthwindow-backups
type TruthwindowConfig struct {
	Server  orchestrator.Config `yaml:"server"`
	Logging LoggingConfig       `yaml:"logging"`
	Backup  BackupConfig        `yaml:"backup"`
}

// LoggingConfig configures pkg/logging for the CLI and server.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Default: info
	Level string `yaml:"level"`

	// Format is auto, text, or json. Default: auto
	Format string `yaml:"format"`

	// Dir enables a JSON log file per day in addition to the console.
	Dir string `yaml:"dir"`
}

// BackupConfig locates the Cloud Storage bucket for "admin backup".
type BackupConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`

	// Prefix is prepended to every object name. Default: sessions
	Prefix string `yaml:"prefix"`
}

// DefaultConfig returns the values written by "truthwindow config init".
func DefaultConfig() TruthwindowConfig {
	return TruthwindowConfig{
		Server: orchestrator.Config{
			Port:         12210,
			StoreBackend: orchestrator.StoreBackendBadger,
			DataDir:      "./data",
			TopK:         5,
			LLMBackend:   "openai",
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Backup:  BackupConfig{Prefix: "sessions"},
	}
}
