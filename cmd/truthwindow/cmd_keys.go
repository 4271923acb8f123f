// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

// minKeyBytes keeps generated keys at or above 128 bits.
const minKeyBytes = 16

// generateKey returns prefix followed by n random bytes in unpadded
// URL-safe base64, so keys survive headers, YAML, and shell quoting.
func generateKey(prefix string, n int) (string, error) {
	if n < minKeyBytes {
		return "", fmt.Errorf("key length must be at least %d bytes, got %d", minKeyBytes, n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func runKeysGenerate(cmd *cobra.Command, _ []string) error {
	if keyCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	for range keyCount {
		key, err := generateKey(keyPrefix, keyLength)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
	}
	return nil
}
