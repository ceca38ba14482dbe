// internal/flatpak/manifest.go
package flatpak

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest holds the parts of a flatpak-builder manifest the runtime needs.
type Manifest struct {
	AppID        string        `json:"app-id" yaml:"app-id"`
	ID           string        `json:"id" yaml:"id"`
	Command      string        `json:"command" yaml:"command"`
	FinishArgs   []string      `json:"finish-args" yaml:"finish-args"`
	Modules      []Module      `json:"modules" yaml:"modules"`
	BuildOptions *BuildOptions `json:"build-options,omitempty" yaml:"build-options"`
}

// BuildOptions are the global build-options of a manifest.
type BuildOptions struct {
	CFlags   string            `json:"cflags,omitempty" yaml:"cflags"`
	CXXFlags string            `json:"cxxflags,omitempty" yaml:"cxxflags"`
	Env      map[string]string `json:"env,omitempty" yaml:"env"`
}

// Module is one entry of the modules array. Entries may be inline objects or
// paths to separate module files; Path is set for the latter.
type Module struct {
	Name string `json:"name,omitempty" yaml:"name"`
	Path string `json:"path,omitempty" yaml:"-"`
}

func (m *Module) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		*m = Module{Path: path, Name: moduleNameFromPath(path)}
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid module entry: %w", err)
	}
	*m = Module{Name: obj.Name}
	return nil
}

func (m *Module) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*m = Module{Path: node.Value, Name: moduleNameFromPath(node.Value)}
		return nil
	case yaml.MappingNode:
		var obj struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&obj); err != nil {
			return err
		}
		*m = Module{Name: obj.Name}
		return nil
	}
	return fmt.Errorf("invalid module entry at line %d", node.Line)
}

func moduleNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ApplicationID returns app-id, falling back to the newer id key.
func (m *Manifest) ApplicationID() string {
	if m.AppID != "" {
		return m.AppID
	}
	return m.ID
}

// ModuleNames returns the module names in manifest order.
func (m *Manifest) ModuleNames() []string {
	names := make([]string, 0, len(m.Modules))
	for _, mod := range m.Modules {
		names = append(names, mod.Name)
	}
	return names
}

// LoadManifest reads a JSON or YAML manifest. The format is chosen by file
// extension; unknown extensions are parsed as JSON.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes manifest data. ext selects the format (".json",
// ".yaml" or ".yml").
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	}
	if m.Modules == nil {
		return nil, errors.New("manifest has no modules")
	}
	return &m, nil
}
