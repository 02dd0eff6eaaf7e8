package filters

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
	"github.com/spf13/cast"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultDateFormat is the strftime layout used by date when no format is
// given.
const DefaultDateFormat = "%Y-%m-%d"

func builtins() []Filter {
	return []Filter{
		stringFilter("upper", func(s string) string { return cases.Upper(language.Und).String(s) }),
		stringFilter("lower", func(s string) string { return cases.Lower(language.Und).String(s) }),
		stringFilter("title", func(s string) string { return cases.Title(language.Und).String(s) }),
		stringFilter("trim", strings.TrimSpace),
		stringFilter("escape", EscapeHTML),
		stringFilter("urlencode", url.QueryEscape),
		stringFilter("nl2br", nl2br),
		stringFilter("strip_tags", stripTags),
		{Name: "json", MinArgs: 1, MaxArgs: 1, Fn: toJSON},
		{Name: "length", MinArgs: 1, MaxArgs: 1, Fn: length},
		{Name: "join", MinArgs: 2, MaxArgs: 2, Fn: join},
		{Name: "truncate", MinArgs: 2, MaxArgs: 2, Fn: truncate},
		{Name: "default", MinArgs: 2, MaxArgs: 2, Fn: defaultValue},
		{Name: "replace", MinArgs: 3, MaxArgs: 3, Fn: replace},
		{Name: "date", MinArgs: 1, MaxArgs: 2, Fn: date},
		{Name: "bytes", MinArgs: 1, MaxArgs: 1, Fn: humanBytes},
		{Name: "comma", MinArgs: 1, MaxArgs: 1, Fn: comma},
		{Name: "ordinal", MinArgs: 1, MaxArgs: 1, Fn: ordinal},
		{Name: "ago", MinArgs: 1, MaxArgs: 1, Fn: ago},
	}
}

// stringFilter adapts a one-argument string function.
func stringFilter(name string, fn func(string) string) Filter {
	return Filter{
		Name:    name,
		MinArgs: 1,
		MaxArgs: 1,
		Fn: func(args ...interface{}) (interface{}, error) {
			s, err := ToString(args[0])
			if err != nil {
				return nil, err
			}
			return fn(s), nil
		},
	}
}

// ToString converts a context value to its printed form. nil prints as the
// empty string.
func ToString(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case error:
		return t.Error(), nil
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func nl2br(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "<br />\n")
}

// stripTags drops every markup token and keeps text as written, entities
// included.
func stripTags(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Raw())
		}
	}
}

func toJSON(args ...interface{}) (interface{}, error) {
	data, err := json.Marshal(args[0])
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func length(args ...interface{}) (interface{}, error) {
	v := args[0]
	if s, ok := v.(string); ok {
		return utf8.RuneCountInString(s), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Chan:
		return rv.Len(), nil
	case reflect.Invalid:
		return 0, nil
	default:
		return nil, fmt.Errorf("length: unsupported type %T", v)
	}
}

func join(args ...interface{}) (interface{}, error) {
	sep, err := ToString(args[0])
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(args[1])
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("join: expected a list, got %T", args[1])
	}
	parts := make([]string, rv.Len())
	for i := range parts {
		if parts[i], err = ToString(rv.Index(i).Interface()); err != nil {
			return nil, err
		}
	}
	return strings.Join(parts, sep), nil
}

func truncate(args ...interface{}) (interface{}, error) {
	n, err := cast.ToIntE(args[0])
	if err != nil {
		return nil, fmt.Errorf("truncate: length: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("truncate: negative length %d", n)
	}
	s, err := ToString(args[1])
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s, nil
	}
	return string(runes[:n]) + "...", nil
}

func defaultValue(args ...interface{}) (interface{}, error) {
	if truth, ok := template.IsTrue(args[1]); ok && truth {
		return args[1], nil
	}
	return args[0], nil
}

func replace(args ...interface{}) (interface{}, error) {
	strs := make([]string, len(args))
	for i, a := range args {
		s, err := ToString(a)
		if err != nil {
			return nil, err
		}
		strs[i] = s
	}
	return strings.ReplaceAll(strs[2], strs[0], strs[1]), nil
}

func date(args ...interface{}) (interface{}, error) {
	format, value := DefaultDateFormat, args[len(args)-1]
	if len(args) == 2 {
		var err error
		if format, err = ToString(args[0]); err != nil {
			return nil, err
		}
	}
	t, err := toTime(value)
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}
	return strftime.Format(format, t), nil
}

func toTime(v interface{}) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	return cast.ToTimeE(v)
}

func humanBytes(args ...interface{}) (interface{}, error) {
	n, err := cast.ToUint64E(args[0])
	if err != nil {
		return nil, fmt.Errorf("bytes: %w", err)
	}
	return humanize.Bytes(n), nil
}

func comma(args ...interface{}) (interface{}, error) {
	n, err := cast.ToInt64E(args[0])
	if err != nil {
		return nil, fmt.Errorf("comma: %w", err)
	}
	return humanize.Comma(n), nil
}

func ordinal(args ...interface{}) (interface{}, error) {
	n, err := cast.ToIntE(args[0])
	if err != nil {
		return nil, fmt.Errorf("ordinal: %w", err)
	}
	return humanize.Ordinal(n), nil
}

func ago(args ...interface{}) (interface{}, error) {
	t, err := toTime(args[0])
	if err != nil {
		return nil, fmt.Errorf("ago: %w", err)
	}
	return humanize.Time(t), nil
}
