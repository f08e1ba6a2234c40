package blocks

import (
	"fmt"
	"strings"
)

const (
	VarRootColl = "root_coll"
	VarFullname = "fullname"
	VarName     = "name"
)

// Vars are the placeholder values available to template expansion.
type Vars map[string]string

// ExpandTemplate replaces {placeholder} occurrences. "{{" and "}}" produce
// literal braces. An unknown placeholder is a ConfigError.
func ExpandTemplate(tmpl string, vars Vars) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", &ConfigError{Reason: fmt.Sprintf("unterminated placeholder in %q", tmpl)}
			}
			name := strings.TrimSpace(tmpl[i+1 : i+1+end])
			value, ok := vars[name]
			if !ok {
				return "", &ConfigError{Reason: fmt.Sprintf("undefined placeholder {%s} in %q", name, tmpl)}
			}
			b.WriteString(value)
			i += end + 1
		case c == '}':
			return "", &ConfigError{Reason: fmt.Sprintf("unmatched '}' in %q", tmpl)}
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// Expand renders every template of r against vars.
func (r Resolved) Expand(vars Vars) (map[string]string, error) {
	out := make(map[string]string, len(r.templates))
	for _, key := range r.TemplateNames() {
		value, err := ExpandTemplate(r.templates[key], vars)
		if err != nil {
			if cfgErr, ok := err.(*ConfigError); ok {
				cfgErr.Block = r.Block
				cfgErr.Reason = fmt.Sprintf("template %q: %s", key, cfgErr.Reason)
			}
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}
