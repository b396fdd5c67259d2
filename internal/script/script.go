// Package script compiles macro source into units the execution layer can
// run. Two kinds are supported: JavaScript, executed on goja, and Go
// text/template.
package script

import (
	"fmt"
	"path"
	"strings"

	"kumascript/internal/common/errors"
	"kumascript/internal/execution"
)

// Kind identifies a macro language
type Kind string

const (
	KindJS       Kind = "js"
	KindTemplate Kind = "tmpl"
)

// Extensions lists the file suffix of each kind, in lookup order.
var Extensions = []struct {
	Kind      Kind
	Extension string
}{
	{KindJS, ".js"},
	{KindTemplate, ".tmpl"},
}

// ParseKind maps a kind name or file extension to a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "js", "javascript", "ejs":
		return KindJS, nil
	case "tmpl", "template", "gotmpl":
		return KindTemplate, nil
	default:
		return "", errors.ValidationError(fmt.Sprintf("unknown macro kind %q", s))
	}
}

// KindFromPath infers the kind from a file name suffix
func KindFromPath(p string) (Kind, bool) {
	ext := path.Ext(p)
	if ext == "" {
		return "", false
	}
	kind, err := ParseKind(ext)
	return kind, err == nil
}

// Compile turns source into an executable unit named name
func Compile(name string, kind Kind, source string) (execution.Unit, error) {
	switch kind {
	case KindJS:
		return CompileJS(name, source)
	case KindTemplate:
		return CompileTemplate(name, source)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown macro kind %q", kind))
	}
}
