// Package frontmatter parses and serializes the structured header block
// at the top of markdown/MDX documents.
package frontmatter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Header holds the parsed front matter. Values are strings, float64
// numbers, bools, or []string arrays.
type Header map[string]any

const delimiter = "---"

// Decode splits raw text into a header and body. Input without a leading
// delimited block comes back untouched as the body with an empty header.
// Decode never fails; malformed header lines are skipped.
func Decode(raw string) (Header, string) {
	block, body, ok := splitBlock(raw)
	if !ok {
		return Header{}, raw
	}

	// Legacy documents carry a single JSON object between the delimiters
	// instead of key: value lines.
	if trimmed := strings.TrimSpace(block); strings.HasPrefix(trimmed, "{") {
		if header, err := decodeJSONBlock(trimmed); err == nil {
			return header, body
		}
	}

	header := Header{}
	for _, line := range strings.Split(block, "\n") {
		key, value, found := strings.Cut(line, ":")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}
		header[key] = coerce(strings.TrimSpace(value))
	}
	return header, body
}

// Encode renders a header and body back into raw document text. An empty
// header produces the body alone, with no delimiter block.
func Encode(header Header, body string) string {
	if len(header) == 0 {
		return body
	}

	keys := make([]string, 0, len(header))
	for key := range header {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(delimiter + "\n")
	for _, key := range keys {
		b.WriteString(key + ": " + formatValue(header[key]) + "\n")
	}
	b.WriteString(delimiter + "\n\n")
	b.WriteString(body)
	return b.String()
}

// splitBlock extracts the header block and the remaining body. The block
// must start at the very beginning of the input and be closed by a line
// containing only the delimiter.
func splitBlock(raw string) (block, body string, ok bool) {
	if !strings.HasPrefix(raw, delimiter+"\n") {
		return "", "", false
	}
	rest := raw[len(delimiter)+1:]

	if idx := strings.Index(rest, "\n"+delimiter+"\n"); idx >= 0 {
		block = rest[:idx]
		body = rest[idx+len(delimiter)+2:]
		// Encode emits a blank separator line after the closing delimiter.
		body = strings.TrimPrefix(body, "\n")
		return block, body, true
	}
	if strings.HasSuffix(rest, "\n"+delimiter) {
		return rest[:len(rest)-len(delimiter)-1], "", true
	}
	return "", "", false
}

func decodeJSONBlock(block string) (Header, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return nil, err
	}
	header := Header{}
	for key, value := range parsed {
		if items, isArray := value.([]any); isArray {
			strs := make([]string, 0, len(items))
			for _, item := range items {
				strs = append(strs, fmt.Sprintf("%v", item))
			}
			header[key] = strs
			continue
		}
		header[key] = value
	}
	return header, nil
}

// coerce applies the value rules in order: array, number, boolean, quoted
// string, plain string.
func coerce(value string) any {
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		inner := value[1 : len(value)-1]
		if strings.TrimSpace(inner) == "" {
			return []string{}
		}
		parts := strings.Split(inner, ",")
		items := make([]string, 0, len(parts))
		for _, part := range parts {
			items = append(items, strings.TrimSpace(part))
		}
		return items
	}
	if value != "" {
		if number, err := strconv.ParseFloat(value, 64); err == nil {
			return number
		}
	}
	if value == "true" {
		return true
	}
	if value == "false" {
		return false
	}
	if len(value) >= 2 {
		if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
			(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
			return value[1 : len(value)-1]
		}
	}
	return value
}

func formatValue(value any) string {
	switch v := value.(type) {
	case []string:
		return "[" + strings.Join(v, ", ") + "]"
	case string:
		if strings.ContainsAny(v, `:"`) {
			return `"` + v + `"`
		}
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
