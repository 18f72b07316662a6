package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// TemplateError reports a template document that could not be loaded or does
// not have the node-id -> node-object shape.
type TemplateError struct {
	Path   string
	Detail string
	Err    error
}

func (e *TemplateError) Error() string {
	msg := "invalid template"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TemplateError) Unwrap() error { return e.Err }

// ManifestError reports a manifest that is structurally invalid. It is fatal
// to that single workflow's load only; the registry isolates it per id.
type ManifestError struct {
	Path   string
	Detail string
	Err    error
}

func (e *ManifestError) Error() string {
	msg := "invalid manifest"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ManifestError) Unwrap() error { return e.Err }

// MissingRequiredParamError is returned by Apply when a required parameter
// has neither a caller value nor a default.
type MissingRequiredParamError struct {
	Param string
}

func (e *MissingRequiredParamError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Param)
}

// TypeCoercionError is returned when a caller value cannot be coerced to the
// parameter's declared type.
type TypeCoercionError struct {
	Param    string
	Expected ParamType
	Got      any
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("parameter %q expects %s, got %T (%v)", e.Param, e.Expected, e.Got, e.Got)
}

// RangeError is returned when a numeric value falls outside the inclusive
// [min, max] bounds declared by the manifest.
type RangeError struct {
	Param string
	Value float64
	Min   *float64
	Max   *float64
}

func (e *RangeError) Error() string {
	bounds := make([]string, 0, 2)
	if e.Min != nil {
		bounds = append(bounds, "min "+formatNumber(*e.Min))
	}
	if e.Max != nil {
		bounds = append(bounds, "max "+formatNumber(*e.Max))
	}
	return fmt.Sprintf("parameter %q value %s out of range (%s)",
		e.Param, formatNumber(e.Value), strings.Join(bounds, ", "))
}

// InvalidChoiceError is returned when a value is not a member of the
// manifest's declared choices set.
type InvalidChoiceError struct {
	Param   string
	Value   any
	Choices []any
}

func (e *InvalidChoiceError) Error() string {
	return fmt.Sprintf("parameter %q value %v not in allowed choices %v", e.Param, e.Value, e.Choices)
}

// UnknownNodeError is returned when a patch targets a node id that does not
// exist in the template.
type UnknownNodeError struct {
	Param  string
	NodeID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("cannot patch parameter %q: node %q not found in template", e.Param, e.NodeID)
}

// InvalidFieldPathError is returned when an intermediate segment of a patch
// field path exists in the node but is not an object, so the patch cannot
// descend through it.
type InvalidFieldPathError struct {
	Param  string
	NodeID string
	Field  string
}

func (e *InvalidFieldPathError) Error() string {
	return fmt.Sprintf("cannot patch parameter %q: path %q in node %q is not an object",
		e.Param, e.Field, e.NodeID)
}

// PresetNotFoundError is returned when a caller names a preset the manifest
// does not define.
type PresetNotFoundError struct {
	Preset     string
	WorkflowID string
}

func (e *PresetNotFoundError) Error() string {
	return fmt.Sprintf("preset %q not found in workflow %q", e.Preset, e.WorkflowID)
}

// WorkflowNotFoundError is returned by the registry for unknown workflow ids.
type WorkflowNotFoundError struct {
	ID string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow not found: %s", e.ID)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
