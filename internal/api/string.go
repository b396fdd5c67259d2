package api

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"kumascript/internal/execution"
)

// String is the kind of the string helper API. Case mapping follows the
// locale of the page being rendered.
func String(ec *execution.Context) execution.SubAPI {
	tag := language.Make(ec.EnvString("locale"))
	upper := cases.Upper(tag)
	lower := cases.Lower(tag)

	return execution.NewBaseAPI(ec, map[string]interface{}{
		"startsWith": strings.HasPrefix,
		"endsWith":   strings.HasSuffix,
		"contains":   strings.Contains,
		"trim":       strings.TrimSpace,
		"replace": func(s, old, replacement string) string {
			return strings.ReplaceAll(s, old, replacement)
		},
		"split": strings.Split,
		"join":  join,
		"isDigits": func(s string) bool {
			if s == "" {
				return false
			}
			for _, r := range s {
				if !unicode.IsDigit(r) {
					return false
				}
			}
			return true
		},
		"toUpperCase": func(s string) string { return upper.String(s) },
		"toLowerCase": func(s string) string { return lower.String(s) },
		"length":      utf8.RuneCountInString,
	})
}

func join(list []interface{}, sep string) string {
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, sep)
}
