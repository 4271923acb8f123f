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
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// ConfidenceLevel grades how likely a match is a real sensitive value.
type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

func (c ConfidenceLevel) rank() int {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is as confident as min.
func (c ConfidenceLevel) AtLeast(min ConfidenceLevel) bool {
	return c.rank() >= min.rank()
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch level := ConfidenceLevel(s); level {
	case High, Medium, Low:
		*c = level
		return nil
	default:
		return fmt.Errorf("invalid confidence %q (want low, medium, or high)", s)
	}
}

// ruleFile is the layout of sensitivity_patterns.yaml.
type ruleFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Classification groups patterns that share a priority and a replacement.
type Classification struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Priority    int    `yaml:"priority"`

	// Marker replaces matches of this classification. Default: RedactionMarker
	Marker string `yaml:"marker"`

	Patterns []Pattern `yaml:"patterns"`
}

func (c Classification) marker() string {
	if c.Marker != "" {
		return c.Marker
	}
	return RedactionMarker
}

type Pattern struct {
	Id          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Regex       string          `yaml:"regex"`
	Confidence  ConfidenceLevel `yaml:"confidence"`
	compiled    *regexp.Regexp
}

// compile compiles every pattern and orders classifications from highest
// to lowest priority. Equal priorities keep file order.
func (f *ruleFile) compile() error {
	for i := range f.Classifications {
		class := &f.Classifications[i]
		if class.Name == "" {
			return fmt.Errorf("classification %d has no name", i)
		}
		for j := range class.Patterns {
			pattern := &class.Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("pattern %s in %s: %w", pattern.Id, class.Name, err)
			}
			pattern.compiled = re
		}
	}
	sort.SliceStable(f.Classifications, func(i, j int) bool {
		return f.Classifications[i].Priority > f.Classifications[j].Priority
	})
	return nil
}

// ScanFinding is one sensitive match. LineNumber is zero for findings
// produced by Redact.
type ScanFinding struct {
	LineNumber         int             `json:"line_number,omitempty"`
	MatchedContent     string          `json:"-"`
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
