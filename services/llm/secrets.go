// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the locked-memory limit below which memguard may fail
// to allocate. Below it we still run but log a warning.
const MinMlockLimitKB = 64

// DefaultOpenAIKeySecret is where container secrets mount the OpenAI key.
const DefaultOpenAIKeySecret = "/run/secrets/openai_api_key"

var memguardInitOnce sync.Once

// ErrNoAPIKey is returned when neither the environment nor the secret file
// holds a key.
var ErrNoAPIKey = errors.New("api key not configured")

// LoadAPIKey reads an API key from envVar, falling back to secretPath, and
// seals it in an encrypted enclave. The plaintext copy is wiped.
//
// # Inputs
//
//   - envVar: Environment variable to check first.
//   - secretPath: File to read when envVar is empty. Empty skips the file.
//
// # Outputs
//
//   - *memguard.Enclave: Sealed key.
//   - error: ErrNoAPIKey if no source had a non-blank key.
func LoadAPIKey(envVar, secretPath string) (*memguard.Enclave, error) {
	initMemguard()

	key := strings.TrimSpace(os.Getenv(envVar))
	if key == "" && secretPath != "" {
		raw, err := os.ReadFile(secretPath)
		if err == nil {
			key = strings.TrimSpace(string(raw))
			memguard.WipeBytes(raw)
			if key != "" {
				slog.Info("Read API key from secret file", "path", secretPath)
			}
		}
	}
	if key == "" {
		return nil, fmt.Errorf("%w: set %s or mount %s", ErrNoAPIKey, envVar, secretPath)
	}
	return memguard.NewEnclave([]byte(key)), nil
}

// SealAPIKey seals an already-known key, for config files and tests.
func SealAPIKey(key string) *memguard.Enclave {
	initMemguard()
	return memguard.NewEnclave([]byte(key))
}

// withAPIKey opens enclave for the duration of fn.
func withAPIKey(enclave *memguard.Enclave, fn func(key string) error) error {
	if enclave == nil {
		return ErrNoAPIKey
	}
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("open api key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		ok, limitKB := checkMlockLimit()
		if !ok {
			slog.Warn("mlock limit is low; secure key storage may fail",
				"limit_kb", limitKB, "recommended_kb", MinMlockLimitKB)
		}
	})
}

func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}
