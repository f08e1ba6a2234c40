package hierarchy

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Entity is one node of the campaign tree. Jobs are stored as entities at
// LevelJob so that every level shares identity, fullname, and status rules.
type Entity struct {
	ID       int64
	ParentID int64
	Level    Level
	Name     string
	Fullname string
	Status   Status
	// Active is false once the entity has been superseded; inactive entities
	// stay in the store for audit and are ignored by propagation.
	Active bool
	// Queued marks a READY workflow as eligible for the next launch.
	Queued bool

	ConfigID   int64
	Block      string
	Handler    string
	DataQuery  string
	Rescue     bool
	Attributes map[string]string

	ExternalID string
	Diagnostic string
	Generation int
	Revision   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveStatus is the status shown to operators: inactive entities read as SUPERSEDED.
func (e Entity) EffectiveStatus() Status {
	if !e.Active {
		return StatusSuperseded
	}
	return e.Status
}

// Attribute returns an expanded configuration attribute.
func (e Entity) Attribute(key string) string {
	return e.Attributes[key]
}

// Clone returns a copy that does not share the attribute map.
func (e Entity) Clone() Entity {
	out := e
	out.Attributes = maps.Clone(e.Attributes)
	return out
}

// ScriptKind classifies when a script block runs.
type ScriptKind string

const (
	ScriptAncillary ScriptKind = "ancillary"
	ScriptPrepare   ScriptKind = "prepare"
	ScriptCollect   ScriptKind = "collect"
	ScriptValidate  ScriptKind = "validate"
)

// ParseScriptKind accepts the short "ancil" spelling used in config documents.
func ParseScriptKind(value string) (ScriptKind, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "prepare":
		return ScriptPrepare, true
	case "ancil", "ancillary":
		return ScriptAncillary, true
	case "collect":
		return ScriptCollect, true
	case "validate":
		return ScriptValidate, true
	default:
		return "", false
	}
}

// RunsAtPrepare reports whether scripts of this kind run before partitioning.
func (k ScriptKind) RunsAtPrepare() bool {
	return k == ScriptAncillary || k == ScriptPrepare
}

// ScriptRun records one named auxiliary action attached to a non-leaf entity.
type ScriptRun struct {
	ID         int64
	EntityID   int64
	Name       string
	Block      string
	Handler    string
	Kind       ScriptKind
	Fake       bool
	Stamp      Status
	Status     Status
	Diagnostic string
	Revision   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateName rejects names that would break fullname addressing.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("entity name must not be empty")
	}
	if trimmed != name {
		return fmt.Errorf("entity name %q has surrounding whitespace", name)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("entity name %q must not contain '/'", name)
	}
	return nil
}

// JoinFullname derives a child's fullname from its parent's.
func JoinFullname(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// SplitFullname returns the names along a fullname path.
func SplitFullname(fullname string) []string {
	trimmed := strings.Trim(strings.TrimSpace(fullname), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// LevelOfFullname infers the level addressed by a fullname from its depth.
func LevelOfFullname(fullname string) (Level, error) {
	parts := SplitFullname(fullname)
	level := Level(len(parts))
	if !level.Valid() {
		return 0, fmt.Errorf("fullname %q does not address a known level", fullname)
	}
	for _, p := range parts {
		if err := ValidateName(p); err != nil {
			return 0, err
		}
	}
	return level, nil
}

// ParentFullname strips the last name from a fullname.
func ParentFullname(fullname string) string {
	idx := strings.LastIndex(fullname, "/")
	if idx < 0 {
		return ""
	}
	return fullname[:idx]
}

// Ancestor returns the fullname prefix at the requested level, e.g. the
// campaign fullname of a workflow.
func Ancestor(fullname string, level Level) (string, bool) {
	parts := SplitFullname(fullname)
	if !level.Valid() || len(parts) < level.Depth() {
		return "", false
	}
	return strings.Join(parts[:level.Depth()], "/"), true
}
