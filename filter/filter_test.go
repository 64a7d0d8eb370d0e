package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileAndRun(t *testing.T) {
	prog, err := Compile(`!Bot && AgeSeconds < 3600`)
	require.NoError(t, err)

	env := Env{
		Author:  Author{Id: "7", Nick: "alice", Bot: false, RoleIds: []string{"10"}},
		Message: Message{Id: "1", Content: "anyone up for a round? @Valorant", AgeSeconds: 60},
	}
	assert.True(t, Run(prog, env))

	env.Bot = true
	assert.False(t, Run(prog, env))

	env.Bot = false
	env.AgeSeconds = 7200
	assert.False(t, Run(prog, env))
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	_, err := Compile(`AgeSeconds + 1`)
	assert.Error(t, err)
}

func TestCompileRejectsUnknownField(t *testing.T) {
	_, err := Compile(`NoSuchField == "x"`)
	assert.Error(t, err)
}

func TestRunNilProgramAcceptsAll(t *testing.T) {
	assert.True(t, Run(nil, Env{}))
}

func TestRunMatchesRoleMentions(t *testing.T) {
	prog, err := Compile(`MentionsEveryone || "10" in MentionRoleIds`)
	require.NoError(t, err)

	assert.True(t, Run(prog, Env{Message: Message{MentionRoleIds: []string{"10", "11"}}}))
	assert.True(t, Run(prog, Env{Message: Message{MentionsEveryone: true}}))
	assert.False(t, Run(prog, Env{Message: Message{MentionRoleIds: []string{"12"}}}))
}
