// Package workflow implements the manifest-driven patching core of the
// cockpit: immutable generation-graph templates, the declarative parameter
// manifests that describe how to mutate them, and the registry that
// discovers and serves (manifest, template) pairs from disk.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
)

// Template is a ComfyUI API-format graph: node id -> node object. A node
// object always carries "class_type" and usually "inputs"; everything else
// (titles, metadata, link references like ["4", 0]) is opaque and forwarded
// to the generation backend verbatim.
//
// Templates served by the Registry are shared across callers and must never
// be mutated. Apply works on a deep copy.
type Template map[string]map[string]any

// ParseTemplate decodes a template document and checks its basic shape.
func ParseTemplate(data []byte) (Template, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &TemplateError{Detail: "template is not a JSON object", Err: err}
	}

	t := make(Template, len(raw))
	for nodeID, msg := range raw {
		var node map[string]any
		if err := json.Unmarshal(msg, &node); err != nil {
			return nil, &TemplateError{Detail: fmt.Sprintf("node %q is not an object", nodeID), Err: err}
		}
		classType, ok := node["class_type"].(string)
		if !ok || classType == "" {
			return nil, &TemplateError{Detail: fmt.Sprintf("node %q has no class_type", nodeID)}
		}
		t[nodeID] = node
	}
	return t, nil
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &TemplateError{Path: path, Detail: "template not readable", Err: err}
	}
	t, err := ParseTemplate(data)
	if err != nil {
		if te, ok := err.(*TemplateError); ok {
			te.Path = path
		}
		return nil, err
	}
	return t, nil
}

// Copy returns a deep, independent copy of the template. Patching the copy
// can never be observed through the original.
func (t Template) Copy() Template {
	out := make(Template, len(t))
	for id, node := range t {
		out[id] = copyObject(node)
	}
	return out
}

func copyObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyObject(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = copyValue(e)
		}
		return out
	default:
		// Scalars (string, float64, bool, nil) are immutable.
		return x
	}
}
