package hierarchy

import (
	"fmt"
	"strings"
)

// Level identifies a tier of the entity tree, top first.
type Level int

const (
	LevelProduction Level = iota + 1
	LevelCampaign
	LevelStep
	LevelGroup
	LevelWorkflow
	LevelJob
)

var levelNames = map[Level]string{
	LevelProduction: "production",
	LevelCampaign:   "campaign",
	LevelStep:       "step",
	LevelGroup:      "group",
	LevelWorkflow:   "workflow",
	LevelJob:        "job",
}

// AllLevels lists levels in hierarchy order.
func AllLevels() []Level {
	return []Level{LevelProduction, LevelCampaign, LevelStep, LevelGroup, LevelWorkflow, LevelJob}
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// Child returns the next level down, or 0 for jobs.
func (l Level) Child() Level {
	if l >= LevelJob || l < LevelProduction {
		return 0
	}
	return l + 1
}

// Parent returns the next level up, or 0 for productions.
func (l Level) Parent() Level {
	if l <= LevelProduction || l > LevelJob {
		return 0
	}
	return l - 1
}

// Depth is the number of names in a fullname at this level.
func (l Level) Depth() int {
	return int(l)
}

// ParseLevel converts a level name such as "group" into a Level.
func ParseLevel(value string) (Level, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for level, name := range levelNames {
		if name == normalized {
			return level, true
		}
	}
	return 0, false
}
