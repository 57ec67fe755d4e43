package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenarioYAML = `name: nightly
description: "nightly push"
template: builtin:release
context:
  environment: nightly
  version: 3007.0
  trigger: push
assertions:
  - type: job_present
    job: test
  - type: param
    job: build-pkgs
    key: rc-build
    value: false
`

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(validScenarioYAML))
	require.NoError(t, err)

	assert.Equal(t, "nightly", s.Name)
	assert.Equal(t, "builtin:release", s.Template)
	assert.Equal(t, "nightly", s.Context.Environment)
	assert.Equal(t, "3007.0", s.Context.Version, "numeric-looking versions decode as text")
	assert.Equal(t, "push", s.Context.Trigger)
	require.Len(t, s.Assertions, 2)
	assert.Equal(t, false, s.Assertions[1].Value)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertion: []\n",
			want: "field assertion not found",
		},
		{
			name: "missing name",
			yaml: "description: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: job_present, job: a}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: job_present, job: a}]\n",
			want: "description is required",
		},
		{
			name: "missing template",
			yaml: "name: x\ndescription: d\ncontext: {version: '1', trigger: push}\nassertions: [{type: job_present, job: a}]\n",
			want: "template is required",
		},
		{
			name: "missing version",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {trigger: push}\nassertions: [{type: job_present, job: a}]\n",
			want: "context.version is required",
		},
		{
			name: "missing trigger",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1'}\nassertions: [{type: job_present, job: a}]\n",
			want: "context.trigger is required",
		},
		{
			name: "no assertions",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\n",
			want: "assertions list is required",
		},
		{
			name: "assertion without type",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{job: a}]\n",
			want: "assertions[0]: type is required",
		},
		{
			name: "unknown assertion type",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: trace_contains}]\n",
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "job_absent without job",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: job_absent}]\n",
			want: "job is required for job_absent",
		},
		{
			name: "param without key",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: param, job: a, value: 1}]\n",
			want: "key is required for param",
		},
		{
			name: "param without value",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: param, job: a, key: k}]\n",
			want: "value is required for param",
		},
		{
			name: "run_contains without text",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: run_contains, job: a}]\n",
			want: "text is required for run_contains",
		},
		{
			name: "uses without reference",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: uses, job: a}]\n",
			want: "uses is required for uses",
		},
		{
			name: "conclusion_equals without jobs",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: conclusion_equals}]\n",
			want: "jobs list is required",
		},
		{
			name: "error_code without code",
			yaml: "name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: error_code}]\n",
			want: "code is required for error_code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_EmptyNeedsAssertsRootJob(t *testing.T) {
	s, err := ParseScenario([]byte("name: x\ndescription: d\ntemplate: builtin:release\ncontext: {version: '1', trigger: push}\nassertions: [{type: needs, job: prepare-workflow}]\n"))
	require.NoError(t, err)
	assert.Empty(t, s.Assertions[0].Needs)
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioWithBasePath_ResolvesTemplateDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	body := "name: x\ndescription: d\ntemplate: ../templates/release\ncontext: {version: '1', trigger: push}\nassertions: [{type: job_present, job: a}]\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := LoadScenarioWithBasePath(path, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "../templates/release"), s.Template)

	s, err = LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "../templates/release", s.Template, "no base path leaves the reference alone")
}

func TestLoadScenarioWithBasePath_KeepsBuiltinAndAbsolute(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "templates", "release")

	for _, ref := range []string{"builtin:release", abs} {
		path := filepath.Join(dir, "s.yaml")
		body := "name: x\ndescription: d\ntemplate: " + ref + "\ncontext: {version: '1', trigger: push}\nassertions: [{type: job_present, job: a}]\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		s, err := LoadScenarioWithBasePath(path, dir)
		require.NoError(t, err)
		assert.Equal(t, ref, s.Template)
	}
}
