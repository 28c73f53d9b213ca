package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestGoldenScenarios(t *testing.T) {
	files, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_EndToEnd(t *testing.T) {
	result, err := Run(loadTestScenario(t, "end_to_end"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 2, result.Slots)
	assert.Len(t, result.FinalDigest, 64)
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "entity_deletion")
	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalTrace(s, first)
	require.NoError(t, err)
	b, err := MarshalTrace(s, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FailedExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: every expectation here is wrong
ticks:
  - send:
      - { op: put, entity: 1, component: 1, ts: 5, payload: "a" }
      - { op: put, entity: 1, component: 1, ts: 5, payload: "b" }
    expect:
      outcomes: [updated, updated]
      response:
        - { op: put, entity: 9, component: 9, ts: 9 }
assertions:
  - type: slot
    entity: 1
    component: 1
    payload: "b"
  - type: absent
    entity: 1
    component: 1
  - type: slot_count
    count: 3
  - type: host_applied
    count: 2
  - type: failure_count
    code: HOST_APPLY_FAILURE
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 7)
	assert.Contains(t, result.Errors[0], "outcomes [updated no_change]")
	assert.Contains(t, result.Errors[1], "response has 0 messages")
	assert.Contains(t, result.Errors[2], `payload "b"`)
}

func TestRun_HostPanicIsTraced(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: panic
description: a panicking host does not stop the batch
host:
  panic_entities: [2]
ticks:
  - send:
      - { op: put, entity: 2, component: 1, ts: 1, payload: "boom" }
      - { op: put, entity: 3, component: 1, ts: 1, payload: "fine" }
assertions:
  - type: host_applied
    count: 1
  - type: failure_count
    code: HOST_APPLY_FAILURE
    count: 1
  - type: slot_count
    count: 2
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var failures []TraceEvent
	for _, ev := range result.Trace {
		if ev.Kind == EventFailure {
			failures = append(failures, ev)
		}
	}
	require.Len(t, failures, 1)
	assert.Equal(t, "panic: host world exploded", failures[0].Error)
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing name", "description: d\nticks: [{get_state: true}]\n", "name is required"},
		{"missing description", "name: n\nticks: [{get_state: true}]\n", "description is required"},
		{"no ticks", "name: n\ndescription: d\n", "ticks list is required"},
		{"unknown field", "name: n\ndescription: d\ntick: []\n", "failed to parse YAML"},
		{"unknown op", "name: n\ndescription: d\nticks: [{send: [{op: upsert, entity: 1}]}]\n", `unknown op "upsert"`},
		{"bad trailer", "name: n\ndescription: d\nticks: [{trailer: zz}]\n", "trailer"},
		{"state with batch", "name: n\ndescription: d\nticks: [{get_state: true, send: [{op: put, entity: 1}]}]\n", "get_state tick"},
		{"bad outcome", "name: n\ndescription: d\nticks: [{expect: {outcomes: [maybe]}}]\n", `unknown outcome "maybe"`},
		{"bad assertion", "name: n\ndescription: d\nticks: [{get_state: true}]\nassertions: [{type: vibes}]\n", `unknown assertion type "vibes"`},
		{"failure without code", "name: n\ndescription: d\nticks: [{get_state: true}]\nassertions: [{type: failure_count}]\n", "code is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_DefaultSceneID(t *testing.T) {
	s, err := ParseScenario([]byte("name: n\ndescription: d\nticks: [{get_state: true}]\n"))
	require.NoError(t, err)
	assert.Equal(t, "scene-test", s.SceneID)
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "nested/c.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	single, err := FindScenarios(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = FindScenarios(filepath.Join(dir, "missing"))
	var nf *ScenarioNotFoundError
	assert.ErrorAs(t, err, &nf)
}
