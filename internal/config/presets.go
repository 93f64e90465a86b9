package config

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// CampaignPreset seeds a new campaign with a starting world. Presets are
// embedded YAML files; the name and aliases are matched case-insensitively.
type CampaignPreset struct {
	Name             string         `yaml:"name"`
	Aliases          []string       `yaml:"aliases"`
	Summary          string         `yaml:"summary"`
	DefaultPersona   string         `yaml:"default_persona"`
	State            map[string]any `yaml:"state"`
	Characters       map[string]any `yaml:"characters"`
	OpeningNarration string         `yaml:"opening_narration"`
}

var (
	presetsOnce   sync.Once
	presetsByKey  map[string]*CampaignPreset
	presetNames   []string
	presetLoadErr error
)

func loadPresets() {
	presetsByKey = make(map[string]*CampaignPreset)
	entries, err := fs.Glob(presetFS, "presets/*.yaml")
	if err != nil {
		presetLoadErr = fmt.Errorf("glob presets: %w", err)
		return
	}
	for _, path := range entries {
		data, err := presetFS.ReadFile(path)
		if err != nil {
			presetLoadErr = fmt.Errorf("read preset %s: %w", path, err)
			return
		}
		var preset CampaignPreset
		if err := yaml.Unmarshal(data, &preset); err != nil {
			presetLoadErr = fmt.Errorf("parse preset %s: %w", path, err)
			return
		}
		if preset.Name == "" {
			presetLoadErr = fmt.Errorf("preset %s has no name", path)
			return
		}
		key := strings.ToLower(strings.TrimSpace(preset.Name))
		presetsByKey[key] = &preset
		presetNames = append(presetNames, preset.Name)
		for _, alias := range preset.Aliases {
			presetsByKey[strings.ToLower(strings.TrimSpace(alias))] = &preset
		}
	}
	sort.Strings(presetNames)
}

// LookupPreset resolves a preset by name or alias.
func LookupPreset(name string) (*CampaignPreset, error) {
	presetsOnce.Do(loadPresets)
	if presetLoadErr != nil {
		return nil, presetLoadErr
	}
	preset, ok := presetsByKey[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	return preset, nil
}

// PresetNames lists the canonical preset names.
func PresetNames() []string {
	presetsOnce.Do(loadPresets)
	return presetNames
}
