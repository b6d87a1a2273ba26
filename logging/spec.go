package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Spec is a base level plus per-component overrides, written as
//
//	<base>[,<component>=<level>]...
//
// for example "warn,hypervisor=trace,manager=debug".
type Spec struct {
	BaseLevel  Level
	Components map[string]Level
}

// ParseSpec parses s. An empty string yields info with no overrides.
// A bare level is only accepted as the first element.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{
		BaseLevel:  LevelInfo,
		Components: make(map[string]Level),
	}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		component, levelStr, isOverride := strings.Cut(part, "=")
		if !isOverride {
			if i != 0 {
				return spec, fmt.Errorf("base level %q must be first in spec", part)
			}
			level, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.BaseLevel = level
			continue
		}

		component = strings.TrimSpace(component)
		if component == "" {
			return spec, fmt.Errorf("empty component name in %q", part)
		}
		level, err := ParseLevel(levelStr)
		if err != nil {
			return spec, fmt.Errorf("invalid level for component %q: %w", component, err)
		}
		spec.Components[component] = level
	}

	return spec, nil
}

// MergeComponents returns the spec string base followed by overrides
// for every component not already named in base. It lets the config
// file's [logging.components] table sit underneath a textual spec.
func MergeComponents(base string, components map[string]string) string {
	parsed, err := ParseSpec(base)
	if err != nil || len(components) == 0 {
		return base
	}
	var extra []string
	for _, name := range slices.Sorted(maps.Keys(components)) {
		if _, ok := parsed.Components[name]; ok {
			continue
		}
		extra = append(extra, name+"="+components[name])
	}
	if len(extra) == 0 {
		return base
	}
	if strings.TrimSpace(base) == "" {
		base = LevelInfo.String()
	}
	return base + "," + strings.Join(extra, ",")
}

// LevelFor returns the level of the first name with an override,
// most specific first, falling back to the base.
func (s *Spec) LevelFor(names ...string) Level {
	for _, name := range names {
		if level, ok := s.Components[name]; ok {
			return level
		}
	}
	return s.BaseLevel
}

// String renders the spec with components in sorted order so that the
// output is stable and round-trips through ParseSpec.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	for _, name := range slices.Sorted(maps.Keys(s.Components)) {
		parts = append(parts, fmt.Sprintf("%s=%s", name, s.Components[name]))
	}
	return strings.Join(parts, ",")
}
