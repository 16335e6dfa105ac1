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
	"math"
	"regexp"
	"strconv"
	"strings"
)

// verdict is the raw outcome of parsing one judge reply, before
// normalization into a Judgment.
type verdict struct {
	score    float64
	hasScore bool
	reason   string
}

// parseVerdict runs the tolerant extraction pipeline over a judge reply.
// Small judge models produce imperfect JSON routinely: surrounding prose,
// truncated output, unquoted fields. The stages run in a fixed order and
// each later stage only fills what the earlier ones could not.
//
//  1. Strict JSON parse of the body, or of its outermost {...} block.
//  2. On parse failure, repair a truncated block by appending the missing
//     closers and parse again.
//  3. Score still missing: regex over the raw body.
//  4. Reason still missing: four reason regexes, most specific first.
func parseVerdict(body string) verdict {
	var v verdict

	obj, ok := decodeObject(body)
	if !ok {
		if repaired, did := repairTruncated(jsonTail(body)); did {
			obj, ok = decodeObject(repaired)
		}
	}
	if ok {
		v.score, v.hasScore = readScore(obj)
		v.reason = readReason(obj)
	}
	if !v.hasScore {
		v.score, v.hasScore = regexScore(body)
	}
	if v.reason == "" {
		v.reason = regexReason(body)
	}
	return v
}

// normalizeScore maps whatever number the judge produced into [1,100].
// Values in (0,1] are fractions and scale by 100; zero and negatives clamp
// to 1; everything above 100 clamps to 100.
func normalizeScore(score float64) int {
	if score <= 1.0 {
		score *= 100
	}
	n := int(math.Round(score))
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}

// decodeObject parses body, or its outermost {...} block, into a generic
// map. Numbers stay json.Number so integer scores survive exactly.
func decodeObject(body string) (map[string]any, bool) {
	for _, candidate := range []string{strings.TrimSpace(body), jsonBlock(body)} {
		if candidate == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(candidate))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

// jsonBlock extracts the outermost {...} region, for replies that wrap the
// JSON in prose.
func jsonBlock(body string) string {
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return body[start : end+1]
}

// jsonTail returns everything from the first "{" on, the candidate region
// for truncation repair.
func jsonTail(body string) string {
	if start := strings.Index(body, "{"); start >= 0 {
		return body[start:]
	}
	return ""
}

// repairTruncated closes a JSON fragment that was cut off mid-output. It
// scans tracking string and escape state, then appends the missing string
// terminator and bracket closers. Returns false when the fragment was
// already balanced, meaning truncation was not the problem.
func repairTruncated(fragment string) (string, bool) {
	if fragment == "" {
		return "", false
	}

	var closers []byte
	inString := false
	escaped := false
	for i := 0; i < len(fragment); i++ {
		c := fragment[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			closers = append(closers, '}')
		case '[':
			closers = append(closers, ']')
		case '}', ']':
			if len(closers) > 0 && closers[len(closers)-1] == c {
				closers = closers[:len(closers)-1]
			}
		}
	}

	if !inString && len(closers) == 0 {
		return fragment, false
	}

	repaired := fragment
	if inString {
		if escaped {
			// A trailing lone backslash would escape the terminator.
			repaired = repaired[:len(repaired)-1]
		}
		repaired += `"`
	} else {
		// A fragment cut between fields ends with a comma that would make
		// the repaired object invalid.
		repaired = strings.TrimRight(repaired, " \t\r\n")
		repaired = strings.TrimSuffix(repaired, ",")
	}
	for i := len(closers) - 1; i >= 0; i-- {
		repaired += string(closers[i])
	}
	return repaired, true
}

// readScore pulls the score from a parsed object, accepting the score and
// similarity key spellings case-insensitively, and numbers that arrive as
// JSON numbers or numeric strings.
func readScore(obj map[string]any) (float64, bool) {
	for _, key := range []string{"score", "similarity"} {
		for k, raw := range obj {
			if !strings.EqualFold(k, key) {
				continue
			}
			switch val := raw.(type) {
			case json.Number:
				if f, err := val.Float64(); err == nil {
					return f, true
				}
			case float64:
				return val, true
			case string:
				if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

// readReason pulls the free-text explanation, preferring reason over
// response over explanation.
func readReason(obj map[string]any) string {
	for _, key := range []string{"reason", "response", "explanation"} {
		for k, raw := range obj {
			if !strings.EqualFold(k, key) {
				continue
			}
			if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

var scoreRe = regexp.MustCompile(`(?i)["']?(?:score|similarity)["']?\s*:\s*(-?\d+(?:\.\d+)?)`)

// regexScore recovers a numeric score from a reply no JSON stage could
// parse.
func regexScore(body string) (float64, bool) {
	m := scoreRe.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Reason extraction fallbacks, most specific first: a proper JSON string
// with escapes, lenient single or double quoting, bare key-colon text, and
// finally an unterminated string running to the end of the reply.
var reasonRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)"(?:reason|response|explanation)"\s*:\s*"((?:[^"\\]|\\.)*)"`),
	regexp.MustCompile(`(?is)['"](?:reason|response|explanation)['"]\s*:\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`(?i)\b(?:reason|response|explanation)\b\s*:\s*([^"'{}\n][^{}\n]*)`),
	regexp.MustCompile(`(?i)['"]?(?:reason|response|explanation)['"]?\s*:\s*"([^"]+)$`),
}

func regexReason(body string) string {
	for i, re := range reasonRes {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		reason := strings.TrimSpace(m[1])
		if i == 0 {
			// The strict pattern captured JSON escapes; decode them.
			if unquoted, err := strconv.Unquote(`"` + m[1] + `"`); err == nil {
				reason = strings.TrimSpace(unquoted)
			}
		}
		reason = strings.TrimRight(reason, ",")
		reason = strings.TrimSpace(reason)
		if reason != "" {
			return reason
		}
	}
	return ""
}
