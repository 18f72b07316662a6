package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ParamType is the declared kind of a workflow parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	// ParamBoolean accepts true/false and the strings "true"/"false".
	ParamBoolean ParamType = "boolean"
	// ParamImage is a filename string; the patch engine treats it as a
	// string, the upload flow treats it as a reference into the Comfy
	// input directory.
	ParamImage ParamType = "image"
)

func (p ParamType) valid() bool {
	switch p {
	case ParamString, ParamInteger, ParamNumber, ParamBoolean, ParamImage:
		return true
	}
	return false
}

// PatchTarget is the (node, field) coordinate a parameter value is written
// into. Field is a dot-separated path, e.g. "inputs.seed". The path is split
// once at manifest load time.
type PatchTarget struct {
	NodeID string `json:"node_id"`
	Field  string `json:"field"`

	segments []string
}

// Segments returns the pre-split field path.
func (p *PatchTarget) Segments() []string { return p.segments }

// ParamSpec is one parameter's full contract: type, constraints, default,
// and where it maps into the template.
type ParamSpec struct {
	Type     ParamType    `json:"type"`
	Required bool         `json:"required,omitempty"`
	Default  any          `json:"default,omitempty"`
	Min      *float64     `json:"min,omitempty"`
	Max      *float64     `json:"max,omitempty"`
	Choices  []any        `json:"choices,omitempty"`
	Patch    *PatchTarget `json:"patch"`

	// Label and Description are UI hints, not functional.
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// QualityChecks holds optional post-generation validation thresholds.
// The patch engine never looks at these; the harvest path does.
type QualityChecks struct {
	BlackThreshold *float64 `json:"black_threshold,omitempty"`
	WhiteThreshold *float64 `json:"white_threshold,omitempty"`
	Skip           bool     `json:"skip,omitempty"`
}

// Manifest describes one workflow: its identity, the template it patches,
// and the parameters it exposes. Unknown top-level or per-param keys are
// tolerated so peripheral features can extend manifests without breaking
// the core.
type Manifest struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Description  string                    `json:"description,omitempty"`
	Version      string                    `json:"version,omitempty"`
	TemplateFile string                    `json:"template_file"`
	Params       map[string]*ParamSpec     `json:"params"`
	Presets      map[string]map[string]any `json:"presets,omitempty"`
	Quality      *QualityChecks            `json:"quality_checks,omitempty"`
}

// ParseManifest decodes and validates a manifest document. The referenced
// template file is not loaded here; that is the registry's job, which keeps
// this independently testable with in-memory JSON.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ManifestError{Detail: "not valid JSON", Err: err}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Detail: "manifest not readable", Err: err}
	}
	m, err := ParseManifest(data)
	if err != nil {
		if me, ok := err.(*ManifestError); ok {
			me.Path = path
		}
		return nil, err
	}
	return m, nil
}

func (m *Manifest) validate() error {
	switch {
	case m.ID == "":
		return &ManifestError{Detail: "missing required field: id"}
	case m.Name == "":
		return &ManifestError{Detail: "missing required field: name"}
	case m.TemplateFile == "":
		return &ManifestError{Detail: "missing required field: template_file"}
	case m.Params == nil:
		return &ManifestError{Detail: "missing required field: params"}
	}

	// Two params writing to the same (node, field) would make the result
	// depend on application order; reject the manifest outright.
	targets := make(map[string]string, len(m.Params))

	for name, spec := range m.Params {
		if spec == nil {
			return &ManifestError{Detail: fmt.Sprintf("parameter %q is not an object", name)}
		}
		if spec.Type == "" {
			return &ManifestError{Detail: fmt.Sprintf("parameter %q missing required field: type", name)}
		}
		if !spec.Type.valid() {
			return &ManifestError{Detail: fmt.Sprintf("parameter %q has invalid type %q", name, spec.Type)}
		}
		if spec.Patch == nil {
			return &ManifestError{Detail: fmt.Sprintf("parameter %q missing required field: patch", name)}
		}
		if spec.Patch.NodeID == "" {
			return &ManifestError{Detail: fmt.Sprintf("parameter %q patch missing required field: node_id", name)}
		}
		if spec.Patch.Field == "" {
			return &ManifestError{Detail: fmt.Sprintf("parameter %q patch missing required field: field", name)}
		}

		segments := strings.Split(spec.Patch.Field, ".")
		for _, seg := range segments {
			if seg == "" {
				return &ManifestError{Detail: fmt.Sprintf(
					"parameter %q patch field %q has an empty path segment", name, spec.Patch.Field)}
			}
		}
		spec.Patch.segments = segments

		key := spec.Patch.NodeID + "\x00" + spec.Patch.Field
		if other, dup := targets[key]; dup {
			return &ManifestError{Detail: fmt.Sprintf(
				"parameters %q and %q both patch node %q field %q", other, name, spec.Patch.NodeID, spec.Patch.Field)}
		}
		targets[key] = name
	}

	return nil
}

// MergePreset overlays caller params on top of the named preset: preset
// values fill gaps, caller values always win. An empty name returns a copy
// of params unchanged.
func (m *Manifest) MergePreset(name string, params map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(params))
	if name != "" {
		preset, ok := m.Presets[name]
		if !ok {
			return nil, &PresetNotFoundError{Preset: name, WorkflowID: m.ID}
		}
		for k, v := range preset {
			merged[k] = v
		}
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged, nil
}
