package generator

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var ErrJSONNotFound = errors.New("JSON not found in response")

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\n?(.*?)```")

// ExtractJSON pulls a JSON value out of a model answer: the whole text, a
// fenced block, or the first balanced object or array in prose. Python style
// single quotes and True/False/None are repaired.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, ErrJSONNotFound
	}
	if raw, ok := asJSON(s); ok {
		return raw, nil
	}
	for _, m := range fencedJSON.FindAllStringSubmatch(s, -1) {
		if raw, ok := asJSON(strings.TrimSpace(m[1])); ok {
			return raw, nil
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end := balancedEnd(s, i)
		if end < 0 {
			continue
		}
		if raw, ok := asJSON(s[i:end]); ok {
			return raw, nil
		}
	}
	return nil, ErrJSONNotFound
}

func asJSON(s string) (json.RawMessage, bool) {
	if s == "" {
		return nil, false
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), true
	}
	if fixed := repairQuotes(s); json.Valid([]byte(fixed)) {
		return json.RawMessage(fixed), true
	}
	return nil, false
}

// balancedEnd returns the index just past the bracket closing s[start], or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

var pyLiterals = map[string]string{"True": "true", "False": "false", "None": "null"}

func repairQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			j := i + 1
			for ; j < len(s) && s[j] != '"'; j++ {
				if s[j] == '\\' {
					j++
				}
			}
			if j >= len(s) {
				b.WriteString(s[i:])
				return b.String()
			}
			b.WriteString(s[i : j+1])
			i = j
		case c == '\'':
			b.WriteByte('"')
			j := i + 1
			for ; j < len(s) && s[j] != '\''; j++ {
				switch s[j] {
				case '\\':
					if j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j++
						continue
					}
					b.WriteByte('\\')
					if j+1 < len(s) {
						j++
						b.WriteByte(s[j])
					}
				case '"':
					b.WriteString(`\"`)
				default:
					b.WriteByte(s[j])
				}
			}
			b.WriteByte('"')
			i = j
		case unicode.IsLetter(rune(c)):
			j := i
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || s[j] == '_') {
				j++
			}
			word := s[i:j]
			if lit, ok := pyLiterals[word]; ok {
				word = lit
			}
			b.WriteString(word)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
