package script

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"text/template"
	"time"

	"kumascript/internal/common/errors"
	"kumascript/internal/execution"
)

// TemplateUnit is a compiled text/template macro. The namespace of the
// executing context is the template data.
type TemplateUnit struct {
	name string
	tmpl *template.Template
}

// locationPattern matches the position text/template reports in errors
var locationPattern = regexp.MustCompile(`template: [^:]+:(\d+)(?::(\d+))?`)

// CompileTemplate parses source with the macro functions declared
func CompileTemplate(name, source string) (*TemplateUnit, error) {
	tmpl, err := template.New(name).
		Option("missingkey=zero").
		Funcs(boundFuncs(context.Background(), nil)).
		Parse(source)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid template %s: %v", name, err))
	}
	return &TemplateUnit{name: name, tmpl: tmpl}, nil
}

// Name returns the macro name
func (u *TemplateUnit) Name() string {
	return u.name
}

// Execute renders the template with functions bound to ec
func (u *TemplateUnit) Execute(ctx context.Context, ec *execution.Context) (string, error) {
	tmpl, err := u.tmpl.Clone()
	if err != nil {
		return "", errors.InternalError("failed to clone template "+u.name, err)
	}
	tmpl.Funcs(boundFuncs(ctx, ec))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ec.Namespace()); err != nil {
		return "", errors.TemplateExecutionError(u.name, err, u.location(err))
	}
	return buf.String(), nil
}

func (u *TemplateUnit) location(err error) string {
	m := locationPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return ""
	}
	if m[2] == "" {
		return u.name + ":" + m[1]
	}
	return u.name + ":" + m[1] + ":" + m[2]
}

// boundFuncs returns the macro functions for one execution. With a nil ec
// the functions only serve to declare names at parse time. "template" is an
// action keyword in text/template, so nested calls go through "macro".
func boundFuncs(ctx context.Context, ec *execution.Context) template.FuncMap {
	return template.FuncMap{
		"macro": func(name string, args ...interface{}) string {
			return ec.Template(ctx, name, args)
		},
		"require": func(name string) map[string]interface{} {
			return ec.Require(ctx, name).Map()
		},
		"export": func(name string, value interface{}) string {
			ec.Exports().Set(name, value)
			return ""
		},
		"arg": func(i int) interface{} {
			return ec.Arg(i)
		},
		"args": func() []interface{} {
			return ec.Args()
		},
		"cacheFn": func(key string, ttlSeconds float64, name string, args ...interface{}) (interface{}, error) {
			ttl := time.Duration(ttlSeconds * float64(time.Second))
			value, err := ec.CacheFn(ctx, key, ttl, func(ctx context.Context) (interface{}, error) {
				output, err := ec.Render(ctx, name, args)
				if err != nil {
					return nil, err
				}
				return output, nil
			})
			if err != nil {
				// A macro failure shared from another rendering's flight is
				// recorded here too; the caller renders on with "".
				if errors.IsType(err, errors.ErrTypeTemplateLoad) || errors.IsType(err, errors.ErrTypeTemplateExecution) {
					ec.Sink().AddOnce(err)
					return "", nil
				}
				return nil, err
			}
			return value, nil
		},
	}
}
