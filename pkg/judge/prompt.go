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
package judge

import (
	"encoding/json"
	"strings"
)

// systemPrompt pins the judge to similarity, never correctness. A candidate
// that diverges from a wrong base answer must still score low.
const systemPrompt = `You are a similarity evaluator. You compare two responses to the same question and rate how similar RESPONSE B is to RESPONSE A in meaning, factual content and completeness. You never rate whether either response is correct, only how similar they are to each other. Identical meaning scores 100; unrelated content scores 1.`

// responseSchema is the JSON-schema hint sent as the chat "format" field.
var responseSchema = json.RawMessage(`{"type":"object","properties":{"score":{"type":"integer","minimum":1,"maximum":100},"reason":{"type":"string"}},"required":["score","reason"]}`)

// buildUserPrompt assembles the comparison request. The marker lines are
// load-bearing: answers may contain anything, including JSON and code fences,
// so the judge needs unambiguous delimiters.
func buildUserPrompt(question, baseAnswer, candidateAnswer string) string {
	var sb strings.Builder

	sb.WriteString("The following question was asked (context only, do not answer it):\n")
	sb.WriteString(question)
	sb.WriteString("\n\n--- RESPONSE A ---\n")
	sb.WriteString(baseAnswer)
	sb.WriteString("\n--- END RESPONSE A ---\n")
	sb.WriteString("\n--- RESPONSE B ---\n")
	sb.WriteString(candidateAnswer)
	sb.WriteString("\n--- END RESPONSE B ---\n\n")
	sb.WriteString(`Rate the similarity of RESPONSE B to RESPONSE A on a scale from 1 (completely different) to 100 (identical in meaning). Respond with a single JSON object: {"score": <integer 1-100>, "reason": "<one or two sentences>"}`)

	return sb.String()
}
