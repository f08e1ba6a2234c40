package blocks

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

const (
	keyClassName     = "class_name"
	keyIncludes      = "includes"
	keyRescue        = "rescue"
	keyTemplates     = "templates"
	keyScripts       = "scripts"
	keySteps         = "steps"
	keyPrerequisites = "prerequisites"
	keyDataQuery     = "data_query"
	keyInputType     = "input_type"
	keyOutputType    = "output_type"
	keyRootColl      = "root_coll"
)

// Resolved is the merged, immutable view of one block. Accessors return copies.
type Resolved struct {
	Block         string
	ClassName     string
	Rescue        bool
	Includes      []string
	Scripts       []string
	Steps         []string
	Prerequisites []string
	DataQuery     string
	InputType     string
	OutputType    string
	RootColl      string

	templates map[string]string
	fields    Body
}

func newResolved(name string, includes []string, merged Body) (Resolved, error) {
	templates := map[string]string{}
	if raw, ok := merged[keyTemplates]; ok && raw != nil {
		m, ok := asMapping(raw)
		if !ok {
			return Resolved{}, &ConfigError{Block: name, Reason: "templates must be a mapping"}
		}
		for k, v := range m {
			templates[k] = fmt.Sprint(v)
		}
	}
	rescue, _ := merged[keyRescue].(bool)
	return Resolved{
		Block:         name,
		ClassName:     toString(merged[keyClassName]),
		Rescue:        rescue,
		Includes:      includes,
		Scripts:       toStrings(merged[keyScripts]),
		Steps:         toStrings(merged[keySteps]),
		Prerequisites: toStrings(merged[keyPrerequisites]),
		DataQuery:     toString(merged[keyDataQuery]),
		InputType:     toString(merged[keyInputType]),
		OutputType:    toString(merged[keyOutputType]),
		RootColl:      toString(merged[keyRootColl]),
		templates:     templates,
		fields:        merged,
	}, nil
}

// asMapping accepts nested mappings as yaml.v3 decodes them into Body as
// well as plain maps from NewDocument callers.
func asMapping(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Body:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

// Fields returns a copy of every merged key, including the recognized ones.
func (r Resolved) Fields() map[string]any {
	return maps.Clone(map[string]any(r.fields))
}

// Field returns a raw merged value.
func (r Resolved) Field(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// String returns a merged value rendered as a string, or "".
func (r Resolved) String(key string) string {
	return toString(r.fields[key])
}

// Strings returns a merged list value. A scalar becomes a one-element list.
func (r Resolved) Strings(key string) []string {
	return toStrings(r.fields[key])
}

// Bool returns a merged boolean value.
func (r Resolved) Bool(key string) bool {
	switch v := r.fields[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Int returns a merged integer value or fallback.
func (r Resolved) Int(key string, fallback int) int {
	switch v := r.fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// Templates returns the unexpanded template strings.
func (r Resolved) Templates() map[string]string {
	return maps.Clone(r.templates)
}

// TemplateNames lists template keys in sorted order.
func (r Resolved) TemplateNames() []string {
	return slices.Sorted(maps.Keys(r.templates))
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func toStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return slices.Clone(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, toString(item))
		}
		return out
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return []string{val}
	default:
		return []string{toString(val)}
	}
}
