// Package naming installs values under the case variants a lenient scripting
// dialect expects, so lookups at call sites can stay exact.
package naming

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Variants returns the distinct names a value is installed under: the name
// itself, its lower-cased form and its form with only the first character
// upper-cased.
func Variants(name string) []string {
	variants := []string{name}
	for _, v := range []string{strings.ToLower(name), UpperFirst(name)} {
		if !contains(variants, v) {
			variants = append(variants, v)
		}
	}
	return variants
}

// Install sets value on target under every variant of name.
func Install(target map[string]interface{}, name string, value interface{}) {
	for _, v := range Variants(name) {
		target[v] = value
	}
}

// InstallAll installs every entry of values on target.
func InstallAll(target map[string]interface{}, values map[string]interface{}) {
	for name, value := range values {
		Install(target, name, value)
	}
}

// UpperFirst upper-cases the first character of s and leaves the rest as is.
func UpperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
