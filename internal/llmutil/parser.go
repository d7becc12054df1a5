// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Object is a JSON object found embedded in free text.
type Object struct {
	// Raw is the exact source text of the object.
	Raw string
	// Offset is the byte position of the opening brace in the source text.
	Offset int
	// Fields holds the decoded members. Numbers are kept as json.Number.
	Fields map[string]interface{}
}

// ExtractJSONObjects returns every well-formed JSON object embedded in response,
// in order of appearance. Surrounding prose, markdown fences, and nested braces
// are tolerated. A brace-delimited span that does not decode is logged and
// skipped, and scanning resumes just past its opening brace so an object nested
// inside the broken span can still be found.
func ExtractJSONObjects(response string, logger *zap.Logger) []Object {
	if logger == nil {
		logger = zap.NewNop()
	}

	var objects []Object
	pos := 0
	for pos < len(response) {
		rel := strings.IndexByte(response[pos:], '{')
		if rel < 0 {
			break
		}
		start := pos + rel

		end, ok := matchBrace(response, start)
		if !ok {
			logger.Debug("Unterminated brace span in model output.", zap.Int("offset", start))
			pos = start + 1
			continue
		}

		raw := response[start : end+1]
		fields, err := decodeObject(raw)
		if err != nil {
			logger.Warn("Skipping malformed action candidate.",
				zap.Int("offset", start),
				zap.String("candidate", truncateString(raw, 200)),
				zap.Error(err))
			pos = start + 1
			continue
		}

		objects = append(objects, Object{Raw: raw, Offset: start, Fields: fields})
		pos = end + 1
	}
	return objects
}

// matchBrace returns the index of the brace closing the one at start. Braces
// inside JSON string literals, including escaped quotes, do not count.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return -1, false
}

func decodeObject(raw string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("invalid JSON object: null")
	}
	return fields, nil
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for logging.
	return s[:maxLen] + "..."
}
