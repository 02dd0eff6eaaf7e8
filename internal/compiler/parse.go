package compiler

import (
	"math"
	"strconv"
	"strings"

	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/program"
)

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// identLen returns the length of the identifier at the start of s.
func identLen(s string) int {
	if s == "" || !isIdentStart(s[0]) {
		return 0
	}
	n := 1
	for n < len(s) && isIdentPart(s[n]) {
		n++
	}
	return n
}

func digitsLen(s string) int {
	n := 0
	for n < len(s) && isDigit(s[n]) {
		n++
	}
	return n
}

// parsePath parses field paths such as user.name, items[0], items.0 and
// meta['content-type'].
func parsePath(s string) (program.Path, *verrors.ViewError) {
	if s == "" {
		return nil, malformed("field path expected", s)
	}
	if s[0] == '!' {
		return nil, malformed("negation is not supported, compare with == false instead", s)
	}

	var path program.Path
	var rest string
	if n := identLen(s); n > 0 {
		path = append(path, program.Segment{Key: s[:n]})
		rest = s[n:]
	} else if n := digitsLen(s); n > 0 {
		idx, err := strconv.Atoi(s[:n])
		if err != nil {
			return nil, malformed("index out of range", s)
		}
		path = append(path, program.Segment{Index: idx, IsIndex: true})
		rest = s[n:]
	} else {
		return nil, malformed("field path must start with an identifier", s)
	}

	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			if n := identLen(rest); n > 0 {
				path = append(path, program.Segment{Key: rest[:n]})
				rest = rest[n:]
				continue
			}
			if n := digitsLen(rest); n > 0 {
				idx, err := strconv.Atoi(rest[:n])
				if err != nil {
					return nil, malformed("index out of range", s)
				}
				path = append(path, program.Segment{Index: idx, IsIndex: true})
				rest = rest[n:]
				continue
			}
			return nil, malformed("field name expected after '.'", s)
		case '[':
			closing := strings.IndexByte(rest, ']')
			if len(rest) > 1 && (rest[1] == '\'' || rest[1] == '"') {
				closing = closingBracketAfterQuote(rest)
			}
			if closing < 0 {
				return nil, malformed("unterminated '['", s)
			}
			inner := strings.TrimSpace(rest[1:closing])
			rest = rest[closing+1:]
			if key, ok := unquote(inner); ok {
				path = append(path, program.Segment{Key: key})
				continue
			}
			if inner != "" && digitsLen(inner) == len(inner) {
				idx, err := strconv.Atoi(inner)
				if err != nil {
					return nil, malformed("index out of range", s)
				}
				path = append(path, program.Segment{Index: idx, IsIndex: true})
				continue
			}
			return nil, malformed("index must be a non-negative integer or a quoted key", s)
		default:
			return nil, malformed("unexpected "+strconv.Quote(rest[:1])+" in field path", s)
		}
	}
	return path, nil
}

// closingBracketAfterQuote finds the ']' that follows a quoted key starting
// at rest[1].
func closingBracketAfterQuote(rest string) int {
	q := rest[1]
	for i := 2; i < len(rest); i++ {
		switch rest[i] {
		case '\\':
			i++
		case q:
			j := i + 1
			for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t') {
				j++
			}
			if j < len(rest) && rest[j] == ']' {
				return j
			}
			return -1
		}
	}
	return -1
}

// parseLiteral parses a quoted string, integer, float, true, false or null.
func parseLiteral(tok string) (*program.Literal, *verrors.ViewError) {
	if tok == "" {
		return nil, malformed("literal expected", tok)
	}
	if s, ok := unquote(tok); ok {
		return &program.Literal{Kind: program.LiteralString, Text: s}, nil
	}
	switch tok {
	case "true", "false":
		return &program.Literal{Kind: program.LiteralBool, Text: tok}, nil
	case "null", "nil":
		return &program.Literal{Kind: program.LiteralNull}, nil
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return &program.Literal{Kind: program.LiteralInt, Text: strconv.FormatInt(i, 10)}, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return &program.Literal{Kind: program.LiteralFloat, Text: strconv.FormatFloat(f, 'g', -1, 64)}, nil
	}
	return nil, malformed("invalid literal "+strconv.Quote(tok), tok)
}
