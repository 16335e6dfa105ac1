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

// Package suite defines the question set a benchmark run drives through each
// model variant, and the YAML loader for it.
package suite

import "fmt"

// Suite is the immutable input of a run: named, ordered categories of
// questions with optional per-level context overrides.
type Suite struct {
	Name string `yaml:"name"`

	// NumPredict is the default generation-token limit for every question.
	NumPredict int `yaml:"numPredict,omitempty"`

	// ContextLength is the suite-wide default context window. Categories and
	// questions may override it.
	ContextLength int `yaml:"contextLength,omitempty"`

	Categories []Category `yaml:"categories"`
}

// Category groups related questions and may override the context length for
// all of them.
type Category struct {
	ID            string     `yaml:"id"`
	Name          string     `yaml:"name,omitempty"`
	ContextLength int        `yaml:"contextLength,omitempty"`
	Questions     []Question `yaml:"questions"`
}

// DisplayName is the human-facing category name, falling back to the id.
func (c Category) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Question is one prompt. Its stable identifier is "{categoryId}-{id}".
type Question struct {
	ID            string `yaml:"id"`
	Prompt        string `yaml:"prompt"`
	ContextLength int    `yaml:"contextLength,omitempty"`
}

// Item is a question flattened with its resolved identity and effective
// context length, the unit the executor iterates over.
type Item struct {
	ID       string
	Category string
	Prompt   string

	// Context is the effective context length after applying the precedence
	// question over category over suite. Zero leaves the server default.
	Context int
}

// Items flattens the suite in declaration order. The order is stable across
// runs; resume depends on it.
func (s *Suite) Items() []Item {
	items := make([]Item, 0, s.Len())
	for _, c := range s.Categories {
		for _, q := range c.Questions {
			ctx := s.ContextLength
			if c.ContextLength > 0 {
				ctx = c.ContextLength
			}
			if q.ContextLength > 0 {
				ctx = q.ContextLength
			}
			items = append(items, Item{
				ID:       fmt.Sprintf("%s-%s", c.ID, q.ID),
				Category: c.DisplayName(),
				Prompt:   q.Prompt,
				Context:  ctx,
			})
		}
	}
	return items
}

// Len is the total number of questions across all categories.
func (s *Suite) Len() int {
	n := 0
	for _, c := range s.Categories {
		n += len(c.Questions)
	}
	return n
}
