package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func baseManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := ParseManifest([]byte(`{
		"id": "test_wf",
		"name": "Test Workflow",
		"template_file": "template_api.json",
		"params": {
			"text": {
				"type": "string",
				"required": true,
				"patch": {"node_id": "1", "field": "inputs.text"}
			},
			"seed": {
				"type": "integer",
				"default": 0,
				"patch": {"node_id": "1", "field": "inputs.seed"}
			}
		}
	}`))
	require.NoError(t, err)
	return m
}

func baseTemplate(t *testing.T) Template {
	t.Helper()
	tmpl, err := ParseTemplate([]byte(`{
		"1": {"class_type": "TestNode", "inputs": {"text": "default", "seed": 0}}
	}`))
	require.NoError(t, err)
	return tmpl
}

func TestApplyPatchesAndLeavesOriginalUntouched(t *testing.T) {
	tmpl := baseTemplate(t)
	m := baseManifest(t)

	patched, err := Apply(tmpl, m, map[string]any{"text": "hello"})
	require.NoError(t, err)

	inputs := patched["1"]["inputs"].(map[string]any)
	assert.Equal(t, "hello", inputs["text"])
	assert.Equal(t, 0, inputs["seed"], "default fills in when caller omits the param")

	// the source template must come back byte-for-byte unchanged
	orig := tmpl["1"]["inputs"].(map[string]any)
	assert.Equal(t, "default", orig["text"])
	assert.Equal(t, float64(0), orig["seed"])
}

func TestApplyMissingRequiredParam(t *testing.T) {
	patched, err := Apply(baseTemplate(t), baseManifest(t), map[string]any{})
	require.Nil(t, patched)

	var missing *MissingRequiredParamError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "text", missing.Param)
}

func TestApplyRangeViolation(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "w", "name": "w", "template_file": "t.json",
		"params": {
			"steps": {
				"type": "integer", "min": 1, "max": 150,
				"patch": {"node_id": "1", "field": "inputs.steps"}
			}
		}
	}`))
	require.NoError(t, err)

	tmpl, err := ParseTemplate([]byte(`{"1": {"class_type": "KSampler", "inputs": {}}}`))
	require.NoError(t, err)

	patched, err := Apply(tmpl, m, map[string]any{"steps": 151})
	require.Nil(t, patched)

	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, "steps", rangeErr.Param)
	assert.Equal(t, float64(151), rangeErr.Value)
	assert.Contains(t, rangeErr.Error(), "151")
	assert.Contains(t, rangeErr.Error(), "150")
}

func TestApplyBoundaryValuesAreInclusive(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "w", "name": "w", "template_file": "t.json",
		"params": {
			"cfg": {
				"type": "number", "min": 1, "max": 30,
				"patch": {"node_id": "1", "field": "inputs.cfg"}
			}
		}
	}`))
	require.NoError(t, err)
	tmpl := Template{"1": {"class_type": "KSampler", "inputs": map[string]any{}}}

	for _, v := range []float64{1, 30} {
		patched, err := Apply(tmpl, m, map[string]any{"cfg": v})
		require.NoError(t, err, "boundary value %v must pass", v)
		assert.Equal(t, v, patched["1"]["inputs"].(map[string]any)["cfg"])
	}
}

func TestApplyUnknownCallerParamsIgnored(t *testing.T) {
	patched, err := Apply(baseTemplate(t), baseManifest(t), map[string]any{
		"text":        "hi",
		"extraneous":  "ignored",
		"another_one": 42,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", patched["1"]["inputs"].(map[string]any)["text"])
}

func TestApplyNullMeansNotProvided(t *testing.T) {
	_, err := Apply(baseTemplate(t), baseManifest(t), map[string]any{"text": nil})
	var missing *MissingRequiredParamError
	require.ErrorAs(t, err, &missing)
}

func TestApplyUnknownNode(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "w", "name": "w", "template_file": "t.json",
		"params": {
			"text": {"type": "string", "default": "x",
				"patch": {"node_id": "99", "field": "inputs.text"}}
		}
	}`))
	require.NoError(t, err)

	_, err = Apply(baseTemplate(t), m, nil)
	var unknown *UnknownNodeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "99", unknown.NodeID)
	assert.Equal(t, "text", unknown.Param)
}

func TestApplyCreatesIntermediatePathObjects(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "w", "name": "w", "template_file": "t.json",
		"params": {
			"denoise": {"type": "number", "default": 0.5,
				"patch": {"node_id": "1", "field": "inputs.advanced.denoise"}}
		}
	}`))
	require.NoError(t, err)

	tmpl := Template{"1": {"class_type": "KSampler", "inputs": map[string]any{"seed": float64(0)}}}
	patched, err := Apply(tmpl, m, nil)
	require.NoError(t, err)

	advanced := patched["1"]["inputs"].(map[string]any)["advanced"].(map[string]any)
	assert.Equal(t, 0.5, advanced["denoise"])

	// the created object must not leak back into the source template
	_, exists := tmpl["1"]["inputs"].(map[string]any)["advanced"]
	assert.False(t, exists)
}

func TestApplyPathThroughNonObjectFails(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "w", "name": "w", "template_file": "t.json",
		"params": {
			"denoise": {"type": "number", "default": 0.5,
				"patch": {"node_id": "1", "field": "inputs.seed.sub"}}
		}
	}`))
	require.NoError(t, err)

	tmpl := Template{"1": {"class_type": "KSampler", "inputs": map[string]any{"seed": float64(0)}}}
	_, err = Apply(tmpl, m, nil)

	var pathErr *InvalidFieldPathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "1", pathErr.NodeID)
	assert.Equal(t, "inputs.seed", pathErr.Field)
}

func TestApplyInvalidChoice(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "w", "name": "w", "template_file": "t.json",
		"params": {
			"sampler": {"type": "string", "choices": ["euler", "dpmpp_2m"],
				"patch": {"node_id": "1", "field": "inputs.sampler_name"}}
		}
	}`))
	require.NoError(t, err)
	tmpl := Template{"1": {"class_type": "KSampler", "inputs": map[string]any{}}}

	_, err = Apply(tmpl, m, map[string]any{"sampler": "ddim"})
	var choiceErr *InvalidChoiceError
	require.ErrorAs(t, err, &choiceErr)
	assert.Equal(t, "sampler", choiceErr.Param)

	patched, err := Apply(tmpl, m, map[string]any{"sampler": "euler"})
	require.NoError(t, err)
	assert.Equal(t, "euler", patched["1"]["inputs"].(map[string]any)["sampler_name"])
}

func TestApplyNumericChoicesCompareByMagnitude(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "w", "name": "w", "template_file": "t.json",
		"params": {
			"width": {"type": "integer", "choices": [512, 768, 1024],
				"patch": {"node_id": "1", "field": "inputs.width"}}
		}
	}`))
	require.NoError(t, err)
	tmpl := Template{"1": {"class_type": "EmptyLatentImage", "inputs": map[string]any{}}}

	// coerced int must match the JSON choice decoded as float64
	patched, err := Apply(tmpl, m, map[string]any{"width": "768"})
	require.NoError(t, err)
	assert.Equal(t, 768, patched["1"]["inputs"].(map[string]any)["width"])
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		name    string
		kind    ParamType
		in      any
		want    any
		wantErr bool
	}{
		{"int from float64", ParamInteger, float64(42), 42, false},
		{"int truncates fraction", ParamInteger, float64(42.9), 42, false},
		{"int from string", ParamInteger, " 7 ", 7, false},
		{"int from garbage string", ParamInteger, "seven", nil, true},
		{"int from bool", ParamInteger, true, nil, true},
		{"number from int", ParamNumber, 3, float64(3), false},
		{"number from string", ParamNumber, "3.5", 3.5, false},
		{"number from garbage", ParamNumber, "pi", nil, true},
		{"bool passthrough", ParamBoolean, true, true, false},
		{"bool from string", ParamBoolean, "TRUE", true, false},
		{"bool from false string", ParamBoolean, "false", false, false},
		{"bool from yes", ParamBoolean, "yes", nil, true},
		{"bool from number", ParamBoolean, float64(1), nil, true},
		{"string passthrough", ParamString, "x", "x", false},
		{"string from number", ParamString, float64(1.5), "1.5", false},
		{"string from integral float", ParamString, float64(20), "20", false},
		{"string from bool", ParamString, true, "true", false},
		{"string from object", ParamString, map[string]any{}, nil, true},
		{"string from array", ParamString, []any{"a"}, nil, true},
		{"image is a string", ParamImage, "input.png", "input.png", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerce("p", tc.in, tc.kind)
			if tc.wantErr {
				var coercion *TypeCoercionError
				require.ErrorAs(t, err, &coercion)
				assert.Equal(t, "p", coercion.Param)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestApplyAllOrNothing(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": "w", "name": "w", "template_file": "t.json",
		"params": {
			"a_good": {"type": "string", "default": "ok",
				"patch": {"node_id": "1", "field": "inputs.a"}},
			"z_bad": {"type": "integer", "default": 5, "max": 3,
				"patch": {"node_id": "1", "field": "inputs.z"}}
		}
	}`))
	require.NoError(t, err)

	tmpl := Template{"1": {"class_type": "N", "inputs": map[string]any{}}}
	patched, err := Apply(tmpl, m, nil)
	require.Error(t, err)
	assert.Nil(t, patched, "a failed param returns no partially patched graph")
	assert.Empty(t, tmpl["1"]["inputs"].(map[string]any))
}

func TestApplyIsDeterministic(t *testing.T) {
	tmpl := baseTemplate(t)
	m := baseManifest(t)
	params := map[string]any{"text": "same", "seed": 99}

	first, err := Apply(tmpl, m, params)
	require.NoError(t, err)
	second, err := Apply(tmpl, m, params)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
