package workflow

import (
	"sort"
	"strconv"
	"strings"
)

// Apply produces a patched copy of template with the manifest's parameters
// substituted. The input template is never mutated; every call works on its
// own deep copy, so Apply is safe to call concurrently.
//
// Resolution order: manifest defaults first, then caller params on top.
// Caller keys that the manifest does not declare are ignored here — whether
// the surrounding job record preserves them is a boundary policy, not the
// engine's concern.
//
// Apply is all-or-nothing: if any parameter fails validation, no patched
// copy is returned.
func Apply(template Template, manifest *Manifest, params map[string]any) (Template, error) {
	resolved, err := resolveParams(manifest, params)
	if err != nil {
		return nil, err
	}

	patched := template.Copy()

	for _, name := range sortedKeys(resolved) {
		spec := manifest.Params[name]
		if err := applyOne(patched, name, spec.Patch, resolved[name]); err != nil {
			return nil, err
		}
	}

	return patched, nil
}

// resolveParams layers caller params over manifest defaults, then checks
// required presence, coerces types, and validates ranges and choices.
// Parameters are processed in name order so failures are deterministic.
func resolveParams(manifest *Manifest, params map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(manifest.Params))

	for name, spec := range manifest.Params {
		if spec.Default != nil {
			resolved[name] = spec.Default
		}
	}
	for name, value := range params {
		if _, declared := manifest.Params[name]; !declared {
			continue
		}
		if value == nil {
			// JSON null means "not provided".
			continue
		}
		resolved[name] = value
	}

	names := sortedKeys(manifest.Params)

	for _, name := range names {
		if manifest.Params[name].Required {
			if _, ok := resolved[name]; !ok {
				return nil, &MissingRequiredParamError{Param: name}
			}
		}
	}

	for _, name := range names {
		value, ok := resolved[name]
		if !ok {
			continue
		}
		spec := manifest.Params[name]

		coerced, err := coerce(name, value, spec.Type)
		if err != nil {
			return nil, err
		}

		if err := checkRange(name, coerced, spec); err != nil {
			return nil, err
		}
		if err := checkChoices(name, coerced, spec); err != nil {
			return nil, err
		}

		resolved[name] = coerced
	}

	return resolved, nil
}

func coerce(name string, value any, kind ParamType) (any, error) {
	fail := func() (any, error) {
		return nil, &TypeCoercionError{Param: name, Expected: kind, Got: value}
	}

	switch kind {
	case ParamInteger:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fail()
			}
			return int(n), nil
		default:
			return fail()
		}

	case ParamNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fail()
			}
			return f, nil
		default:
			return fail()
		}

	case ParamBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
			return fail()
		default:
			return fail()
		}

	case ParamString, ParamImage:
		switch v := value.(type) {
		case string:
			return v, nil
		case float64:
			return formatNumber(v), nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case bool:
			return strconv.FormatBool(v), nil
		default:
			// Objects and arrays do not silently stringify.
			return fail()
		}
	}

	return value, nil
}

func checkRange(name string, value any, spec *ParamSpec) error {
	if spec.Min == nil && spec.Max == nil {
		return nil
	}

	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case float64:
		f = v
	default:
		// min/max only apply to numeric types.
		return nil
	}

	if (spec.Min != nil && f < *spec.Min) || (spec.Max != nil && f > *spec.Max) {
		return &RangeError{Param: name, Value: f, Min: spec.Min, Max: spec.Max}
	}
	return nil
}

func checkChoices(name string, value any, spec *ParamSpec) error {
	if len(spec.Choices) == 0 {
		return nil
	}
	for _, choice := range spec.Choices {
		if valuesEqual(value, choice) {
			return nil
		}
	}
	return &InvalidChoiceError{Param: name, Value: value, Choices: spec.Choices}
}

// valuesEqual compares a coerced value against a raw JSON choice. Numeric
// values compare by magnitude so that an integer 512 matches the JSON
// number 512 decoded as float64.
func valuesEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// applyOne writes value into the copied template at the patch target,
// creating intermediate objects along the dot-path as needed. Only a
// structural conflict — an existing non-object where the path must
// descend — is an error.
func applyOne(patched Template, name string, target *PatchTarget, value any) error {
	node, ok := patched[target.NodeID]
	if !ok {
		return &UnknownNodeError{Param: name, NodeID: target.NodeID}
	}

	segments := target.Segments()
	current := node
	for i, seg := range segments[:len(segments)-1] {
		next, exists := current[seg]
		if !exists {
			created := map[string]any{}
			current[seg] = created
			current = created
			continue
		}
		obj, isObject := next.(map[string]any)
		if !isObject {
			return &InvalidFieldPathError{
				Param:  name,
				NodeID: target.NodeID,
				Field:  strings.Join(segments[:i+1], "."),
			}
		}
		current = obj
	}

	current[segments[len(segments)-1]] = value
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
