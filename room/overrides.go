package room

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/neurallink/core"
)

// Overrides is the on-disk shape of a room table file:
//
//	rooms:
//	  - id: library
//	    prompt: "..."
//	    requires_json: false
//	navigation:
//	  - keyword: "eik į biblioteką"
//	    room: library
//
// Rooms listed replace the prompt and flag of the matching built-in room.
// A non-empty navigation list replaces the whole keyword table.
type Overrides struct {
	Rooms      []RoomOverride   `yaml:"rooms"`
	Navigation []NavigationRule `yaml:"navigation"`
}

// RoomOverride replaces selected fields of a built-in room. A nil
// RequiresJSON keeps the built-in flag.
type RoomOverride struct {
	ID           string `yaml:"id"`
	Prompt       string `yaml:"prompt"`
	RequiresJSON *bool  `yaml:"requires_json"`
}

// LoadOverrides reads a YAML room table file.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room overrides: %w", err)
	}
	var ov Overrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parse room overrides %s: %w", path, err)
	}
	return &ov, nil
}

// Apply merges the overrides into opts. Room ids outside the fixed set are
// rejected with core.ErrUnknownRoom.
func (ov *Overrides) Apply(opts *Options) error {
	index := make(map[string]int, len(opts.Rooms))
	for i, rm := range opts.Rooms {
		index[normalize(rm.ID)] = i
	}
	for _, rm := range ov.Rooms {
		i, ok := index[normalize(rm.ID)]
		if !ok {
			return fmt.Errorf("%w %q in overrides", core.ErrUnknownRoom, rm.ID)
		}
		if rm.Prompt != "" {
			opts.Rooms[i].Prompt = rm.Prompt
		}
		if rm.RequiresJSON != nil {
			opts.Rooms[i].RequiresJSON = *rm.RequiresJSON
		}
	}
	if len(ov.Navigation) > 0 {
		opts.Navigation = append([]NavigationRule(nil), ov.Navigation...)
	}
	return nil
}
