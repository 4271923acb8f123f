// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enforcement

import (
	"crypto/sha256"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestEmbeddedDataIntegrity(t *testing.T) {
	if len(SensitivityPatterns) < 30 {
		t.Fatal("embedded sensitivity patterns are missing or truncated")
	}

	var dump map[string]interface{}
	if err := yaml.Unmarshal(SensitivityPatterns, &dump); err != nil {
		t.Fatalf("Embedded data is not valid YAML: %v", err)
	}
	if _, ok := dump["classifications"]; !ok {
		t.Fatal("embedded YAML has no classifications key")
	}

	hash := sha256.Sum256(SensitivityPatterns)
	t.Logf("Current Policy Hash: %x", hash)
}
