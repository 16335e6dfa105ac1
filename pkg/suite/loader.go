// Copyright 2026 The osync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package suite

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultSuite []byte

// Default returns the built-in question set used when no suite file is given.
func Default() (*Suite, error) {
	return Parse(defaultSuite)
}

// Load reads and validates a suite file. Environment variables referenced as
// $VAR or ${VAR} are expanded before parsing.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite file %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("suite file %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates suite YAML.
func Parse(data []byte) (*Suite, error) {
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	var s Suite
	if err := yaml.Unmarshal([]byte(expanded), &s); err != nil {
		return nil, fmt.Errorf("parse suite YAML: %w", err)
	}
	if err := validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func validate(s *Suite) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.ContextLength < 0 {
		return fmt.Errorf("contextLength must be non-negative")
	}
	if s.NumPredict < 0 {
		return fmt.Errorf("numPredict must be non-negative")
	}
	if len(s.Categories) == 0 {
		return fmt.Errorf("categories must contain at least one category")
	}

	catIDs := make(map[string]bool, len(s.Categories))
	questionIDs := make(map[string]bool, s.Len())
	for i, c := range s.Categories {
		if c.ID == "" {
			return fmt.Errorf("categories[%d].id is required", i)
		}
		if catIDs[c.ID] {
			return fmt.Errorf("categories[%d].id %q is duplicated", i, c.ID)
		}
		catIDs[c.ID] = true
		if c.ContextLength < 0 {
			return fmt.Errorf("categories[%d].contextLength must be non-negative", i)
		}
		if len(c.Questions) == 0 {
			return fmt.Errorf("categories[%d] must contain at least one question", i)
		}
		for j, q := range c.Questions {
			if q.ID == "" {
				return fmt.Errorf("categories[%d].questions[%d].id is required", i, j)
			}
			if q.Prompt == "" {
				return fmt.Errorf("categories[%d].questions[%d].prompt is required", i, j)
			}
			if q.ContextLength < 0 {
				return fmt.Errorf("categories[%d].questions[%d].contextLength must be non-negative", i, j)
			}
			full := fmt.Sprintf("%s-%s", c.ID, q.ID)
			if questionIDs[full] {
				return fmt.Errorf("question id %q is duplicated", full)
			}
			questionIDs[full] = true
		}
	}
	return nil
}
