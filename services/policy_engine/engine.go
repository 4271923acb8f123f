// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/AleutianAI/truthwindow/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// RedactionMarker replaces every sensitive match in redacted text.
const RedactionMarker = "[redacted]"

// PolicyEngine holds the compiled sensitivity rules and scans or redacts
// text against them. It is read-only after construction and safe for
// concurrent use.
type PolicyEngine struct {
	Classifiers []Classification

	// Fingerprint is the hex SHA-256 of the rule source, so a verify run
	// can state which rules it applied.
	Fingerprint string
}

// NewPolicyEngine loads the sensitivity patterns embedded in the binary.
//
// It unmarshals the YAML, compiles every regex and sorts classifications by
// descending priority. Returns an error if the YAML is malformed or a regex
// does not compile.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.SensitivityPatterns)
}

// NewPolicyEngineFromYAML builds an engine from caller-supplied rules.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	var rules ruleFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sensitivity patterns: %w", err)
	}
	if err := rules.compile(); err != nil {
		return nil, fmt.Errorf("invalid sensitivity patterns: %w", err)
	}

	sum := sha256.Sum256(data)
	return &PolicyEngine{
		Classifiers: rules.Classifications,
		Fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

// ScanText reports every pattern match in content, line by line, with the
// matched text and the rule that caught it.
func (e *PolicyEngine) ScanText(content string) []ScanFinding {
	var findings []ScanFinding
	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiled.FindString(line)
				if match != "" {
					finding := ScanFinding{
						LineNumber:         lineNum + 1,
						MatchedContent:     strings.TrimSpace(match),
						ClassificationName: classifier.Name,
						PatternId:          pattern.Id,
						PatternDescription: pattern.Description,
						Confidence:         pattern.Confidence,
					}
					findings = append(findings, finding)
				}
			}
		}
	}
	return findings
}

// Redact replaces every match in text with its classification's marker.
//
// # Description
//
// Classifications are applied in priority order, each pattern replacing all
// of its matches before the next runs, so a later pattern never sees text
// an earlier one already removed.
//
// # Outputs
//
//   - string: The redacted text. Equal to text when nothing matched.
//   - []ScanFinding: One entry per pattern that fired, carrying its first
//     match.
func (e *PolicyEngine) Redact(text string) (string, []ScanFinding) {
	var findings []ScanFinding
	for _, classifier := range e.Classifiers {
		for _, pattern := range classifier.Patterns {
			first := pattern.compiled.FindString(text)
			if first == "" {
				continue
			}
			text = pattern.compiled.ReplaceAllLiteralString(text, classifier.marker())
			findings = append(findings, ScanFinding{
				MatchedContent:     strings.TrimSpace(first),
				ClassificationName: classifier.Name,
				PatternId:          pattern.Id,
				PatternDescription: pattern.Description,
				Confidence:         pattern.Confidence,
			})
		}
	}
	return text, findings
}
